// Package posts creates, edits and deletes posts under their author.
package posts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"wordcraft/blob"
	"wordcraft/docstore"
	"wordcraft/engagement"
	"wordcraft/models"
)

const (
	maxTitleLen   = 200
	maxContentLen = 20000
)

type Service struct {
	store docstore.Store
	blobs blob.Store
	names engagement.AuthorNames
	log   *zap.Logger
	now   func() time.Time
}

func NewService(store docstore.Store, blobs blob.Store, names engagement.AuthorNames, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{store: store, blobs: blobs, names: names, log: log, now: time.Now}
}

func validateDraft(d models.PostDraft) (models.PostDraft, error) {
	d.Title = strings.TrimSpace(d.Title)
	d.Category = strings.TrimSpace(d.Category)
	d.Content = strings.TrimSpace(d.Content)

	switch {
	case d.Title == "" || d.Category == "" || d.Content == "":
		return d, fmt.Errorf("%w: title, category and content are required", models.ErrInvalid)
	case !models.ValidCategory(d.Category):
		return d, fmt.Errorf("%w: unknown category %q", models.ErrInvalid, d.Category)
	case len(d.Title) > maxTitleLen:
		return d, fmt.Errorf("%w: title too long", models.ErrInvalid)
	case len(d.Content) > maxContentLen:
		return d, fmt.Errorf("%w: content too long", models.ErrInvalid)
	}
	return d, nil
}

func (s *Service) uploadImage(ctx context.Context, authorID string, d models.PostDraft, at time.Time) (blob.Handle, error) {
	if len(d.Image) == 0 {
		return "", nil
	}
	if s.blobs == nil {
		return "", errors.New("no blob store configured")
	}
	h, err := s.blobs.Upload(ctx, blob.PostImagePath(authorID, at.UnixMilli()), d.Image)
	if err != nil {
		return "", fmt.Errorf("upload image: %w", err)
	}
	return h, nil
}

func (s *Service) Create(ctx context.Context, authorID string, d models.PostDraft) (models.Post, error) {
	if !docstore.ValidID(authorID) {
		return models.Post{}, fmt.Errorf("%w: bad author id", models.ErrInvalid)
	}
	d, err := validateDraft(d)
	if err != nil {
		return models.Post{}, err
	}

	now := s.now().UTC()
	img, err := s.uploadImage(ctx, authorID, d, now)
	if err != nil {
		return models.Post{}, err
	}

	p := models.Post{
		ID:        uuid.NewString(),
		AuthorID:  authorID,
		Title:     d.Title,
		Category:  d.Category,
		Content:   d.Content,
		CreatedAt: now.Format(time.RFC3339),
		Likes:     []string{},
		Bookmarks: []string{},
	}
	if img != "" {
		p.ImageURL, p.ThumbURL = s.blobs.PublicURL(img), s.blobs.ThumbnailURL(img)
	}
	if err := s.store.Set(ctx, docstore.PostPath(authorID, p.ID), p); err != nil {
		return models.Post{}, fmt.Errorf("create post: %w", err)
	}
	s.log.Info("post created", zap.String("authorId", authorID), zap.String("postId", p.ID))
	return p, nil
}

func validRef(authorID, postID string) error {
	if !docstore.ValidID(authorID) || !docstore.ValidID(postID) {
		return fmt.Errorf("%w: bad post reference", models.ErrInvalid)
	}
	return nil
}

// Get returns the post annotated with its author's current username.
func (s *Service) Get(ctx context.Context, authorID, postID string) (models.FeedPost, error) {
	if err := validRef(authorID, postID); err != nil {
		return models.FeedPost{}, err
	}
	var p models.Post
	if err := s.store.Get(ctx, docstore.PostPath(authorID, postID), &p); err != nil {
		return models.FeedPost{}, fmt.Errorf("load post: %w", err)
	}
	p.ID, p.AuthorID = postID, authorID

	author := ""
	if s.names != nil {
		name, err := s.names.Username(ctx, authorID)
		if err != nil {
			s.log.Warn("author lookup failed", zap.String("authorId", authorID), zap.Error(err))
		}
		author = name
	}
	if author == "" {
		author = "Unknown Author"
	}
	return models.NewFeedPost(p, author), nil
}

func (s *Service) authorize(actingUserID, authorID string) error {
	if actingUserID == "" || actingUserID != authorID {
		return fmt.Errorf("%w: only the author can change this post", models.ErrForbidden)
	}
	return nil
}

// Edit replaces the author-editable fields and stamps updatedAt. Likes and
// bookmarks are untouched.
func (s *Service) Edit(ctx context.Context, actingUserID, authorID, postID string, d models.PostDraft) (models.Post, error) {
	if err := validRef(authorID, postID); err != nil {
		return models.Post{}, err
	}
	if err := s.authorize(actingUserID, authorID); err != nil {
		return models.Post{}, err
	}
	d, err := validateDraft(d)
	if err != nil {
		return models.Post{}, err
	}

	path := docstore.PostPath(authorID, postID)
	if ok, err := docstore.Exists(ctx, s.store, path); err != nil {
		return models.Post{}, fmt.Errorf("edit post: %w", err)
	} else if !ok {
		return models.Post{}, fmt.Errorf("edit post: %w", docstore.ErrNotFound)
	}

	now := s.now().UTC()
	fields := map[string]any{
		"title":     d.Title,
		"category":  d.Category,
		"content":   d.Content,
		"updatedAt": now.Format(time.RFC3339),
	}
	img, err := s.uploadImage(ctx, authorID, d, now)
	if err != nil {
		return models.Post{}, err
	}
	if img != "" {
		fields["imageUrl"] = s.blobs.PublicURL(img)
		fields["thumbnailUrl"] = s.blobs.ThumbnailURL(img)
	}

	if err := s.store.Update(ctx, path, fields); err != nil {
		return models.Post{}, fmt.Errorf("edit post: %w", err)
	}
	var p models.Post
	if err := s.store.Get(ctx, path, &p); err != nil {
		return models.Post{}, fmt.Errorf("edit post: reread: %w", err)
	}
	return p, nil
}

// Delete removes the post together with every bookmark index entry that
// points at it.
func (s *Service) Delete(ctx context.Context, actingUserID, authorID, postID string) error {
	if err := validRef(authorID, postID); err != nil {
		return err
	}
	if err := s.authorize(actingUserID, authorID); err != nil {
		return err
	}

	err := s.store.RunTransaction(ctx, func(ctx context.Context) error {
		return s.delete(ctx, authorID, postID)
	})
	if errors.Is(err, docstore.ErrNoTransactions) {
		// post first: entries left behind are dropped by bookmark read-repair
		err = s.delete(ctx, authorID, postID)
	}
	if err != nil {
		return fmt.Errorf("delete post: %w", err)
	}
	s.log.Info("post deleted", zap.String("authorId", authorID), zap.String("postId", postID))
	return nil
}

func (s *Service) delete(ctx context.Context, authorID, postID string) error {
	path := docstore.PostPath(authorID, postID)
	var p models.Post
	if err := s.store.Get(ctx, path, &p); err != nil {
		return err
	}
	if err := s.store.Delete(ctx, path); err != nil {
		return err
	}
	for _, userID := range p.Bookmarks {
		if !docstore.ValidID(userID) {
			continue
		}
		if err := s.store.Delete(ctx, docstore.BookmarkPath(userID, postID)); err != nil {
			return err
		}
	}
	return nil
}
