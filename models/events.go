package models

const (
	EventLike     = "like"
	EventBookmark = "bookmark"
)

// EngagementEvent is published after a like or bookmark toggle commits.
type EngagementEvent struct {
	Kind          string `json:"kind"`
	PostID        string `json:"postId"`
	AuthorID      string `json:"authorId"`
	ActorID       string `json:"actorId"`
	Active        bool   `json:"active"`
	LikeCount     int    `json:"likeCount"`
	BookmarkCount int    `json:"bookmarkCount"`
	At            int64  `json:"at"`
}
