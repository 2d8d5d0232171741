package models

import "slices"

// Post categories offered by the client.
const (
	CategoryInspiration   = "Inspiration"
	CategoryLearning      = "Learning & Development"
	CategoryEntertainment = "Entertainment"
	CategoryHealth        = "Health & Wellness"
)

var Categories = []string{CategoryInspiration, CategoryLearning, CategoryEntertainment, CategoryHealth}

func ValidCategory(c string) bool { return slices.Contains(Categories, c) }

// Post lives at users/{authorId}/posts/{id}. Likes and Bookmarks hold user
// ids with set semantics and are only changed through set mutations.
type Post struct {
	ID        string   `json:"id" bson:"id"`
	AuthorID  string   `json:"authorId" bson:"authorId"`
	Title     string   `json:"title" bson:"title"`
	Category  string   `json:"category" bson:"category"`
	Content   string   `json:"content" bson:"content"`
	ImageURL  string   `json:"imageUrl,omitempty" bson:"imageUrl,omitempty"`
	ThumbURL  string   `json:"thumbnailUrl,omitempty" bson:"thumbnailUrl,omitempty"`
	CreatedAt string   `json:"createdAt" bson:"createdAt"`
	UpdatedAt string   `json:"updatedAt,omitempty" bson:"updatedAt,omitempty"`
	Likes     []string `json:"likes" bson:"likes"`
	Bookmarks []string `json:"bookmarks" bson:"bookmarks"`
}

func (p Post) LikedBy(userID string) bool { return slices.Contains(p.Likes, userID) }

func (p Post) BookmarkedBy(userID string) bool { return slices.Contains(p.Bookmarks, userID) }

// LikeCount is |likes|; duplicates are never stored but are not counted twice either.
func (p Post) LikeCount() int { return distinct(p.Likes) }

func (p Post) BookmarkCount() int { return distinct(p.Bookmarks) }

func distinct(ids []string) int {
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		seen[id] = struct{}{}
	}
	return len(seen)
}

// FeedPost is a post annotated with its author's username, resolved at read time.
type FeedPost struct {
	Post
	Author        string `json:"author"`
	LikeCount     int    `json:"likeCount"`
	BookmarkCount int    `json:"bookmarkCount"`
}

func NewFeedPost(p Post, author string) FeedPost {
	return FeedPost{Post: p, Author: author, LikeCount: p.LikeCount(), BookmarkCount: p.BookmarkCount()}
}

// PostDraft is the author-supplied content of a new or edited post.
type PostDraft struct {
	Title     string
	Category  string
	Content   string
	Image     []byte
	ImageName string
}

// BookmarkEntry is the bookmarking user's snapshot of a post, stored at
// users/{userId}/bookmarks/{postId}.
type BookmarkEntry struct {
	PostID       string `json:"postId" bson:"postId"`
	AuthorID     string `json:"authorId" bson:"authorId"`
	Title        string `json:"title" bson:"title"`
	ImageURL     string `json:"imageUrl" bson:"imageUrl"`
	Category     string `json:"category" bson:"category"`
	Content      string `json:"content" bson:"content"`
	CreatedAt    string `json:"createdAt" bson:"createdAt"`
	Author       string `json:"author" bson:"author"`
	BookmarkedAt string `json:"bookmarkedAt" bson:"bookmarkedAt"`
}
