// Package engagement implements likes and bookmarks on posts and keeps each
// user's bookmark index in step with the posts' bookmark sets.
//
// A user U has an entry at users/U/bookmarks/P exactly when U is a member of
// P.bookmarks. Both writes of a bookmark toggle run in one store transaction;
// on backends without transactions the second write is compensated by undoing
// the first, and Bookmarks/Reconcile repair whatever is left.
package engagement

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"slices"
	"time"

	"go.uber.org/zap"

	"wordcraft/docstore"
	"wordcraft/models"
	"wordcraft/retry"
)

// ErrInconsistent is returned when a non-transactional bookmark toggle failed
// halfway and the compensating write failed too.
var ErrInconsistent = errors.New("bookmark index out of sync")

const (
	fieldLikes     = "likes"
	fieldBookmarks = "bookmarks"

	defaultTitle    = "Untitled Post"
	defaultCategory = "Uncategorized"
	defaultAuthor   = "Unknown Author"
)

// PostRef addresses a post under its author.
type PostRef struct {
	AuthorID string
	PostID   string
}

func (r PostRef) path() docstore.Path { return docstore.PostPath(r.AuthorID, r.PostID) }

type LikeState struct {
	Liked     bool `json:"liked"`
	LikeCount int  `json:"likeCount"`
}

type BookmarkState struct {
	Bookmarked    bool `json:"bookmarked"`
	BookmarkCount int  `json:"bookmarkCount"`
}

// State is a viewer's engagement with one post. Counts always come from the
// stored sets.
type State struct {
	Liked         bool `json:"liked"`
	Bookmarked    bool `json:"bookmarked"`
	LikeCount     int  `json:"likeCount"`
	BookmarkCount int  `json:"bookmarkCount"`
}

// Report summarizes a Reconcile run.
type Report struct {
	Removed  int `json:"removed"`
	Restored int `json:"restored"`
}

// AuthorNames resolves a user id to the display name stored in snapshots.
type AuthorNames interface {
	Username(ctx context.Context, userID string) (string, error)
}

// Publisher receives an event after every committed toggle.
type Publisher interface {
	Publish(ctx context.Context, ev models.EngagementEvent) error
}

// PostSource enumerates every post; the feed aggregator satisfies it.
type PostSource interface {
	Posts(ctx context.Context) iter.Seq2[models.FeedPost, error]
}

type Service struct {
	store  docstore.Store
	log    *zap.Logger
	names  AuthorNames
	events Publisher
	posts  PostSource
	policy retry.Policy
	now    func() time.Time
}

type Option func(*Service)

func WithAuthorNames(n AuthorNames) Option { return func(s *Service) { s.names = n } }

func WithPublisher(p Publisher) Option { return func(s *Service) { s.events = p } }

func WithPostSource(src PostSource) Option { return func(s *Service) { s.posts = src } }

func WithRetryPolicy(p retry.Policy) Option { return func(s *Service) { s.policy = p } }

func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

func NewService(store docstore.Store, log *zap.Logger, opts ...Option) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Service{
		store:  store,
		log:    log,
		policy: retry.DefaultPolicy(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func validate(ref PostRef, userID string) error {
	if !docstore.ValidID(ref.AuthorID) || !docstore.ValidID(ref.PostID) {
		return fmt.Errorf("%w: bad post reference", models.ErrInvalid)
	}
	if !docstore.ValidID(userID) {
		return fmt.Errorf("%w: bad user id", models.ErrInvalid)
	}
	return nil
}

func (s *Service) retry(ctx context.Context, fn func(ctx context.Context) error) error {
	return retry.Do(ctx, s.policy, fn)
}

func (s *Service) loadPost(ctx context.Context, ref PostRef) (models.Post, error) {
	var p models.Post
	err := s.retry(ctx, func(ctx context.Context) error {
		p = models.Post{}
		return s.store.Get(ctx, ref.path(), &p)
	})
	if err != nil {
		return models.Post{}, err
	}
	if p.ID == "" {
		p.ID = ref.PostID
	}
	if p.AuthorID == "" {
		p.AuthorID = ref.AuthorID
	}
	return p, nil
}

// ToggleLike adds the user to the post's likes when absent and removes them
// otherwise. The returned count is read back from the stored set.
func (s *Service) ToggleLike(ctx context.Context, ref PostRef, userID string) (LikeState, error) {
	if err := validate(ref, userID); err != nil {
		return LikeState{}, err
	}
	post, err := s.loadPost(ctx, ref)
	if err != nil {
		return LikeState{}, fmt.Errorf("toggle like: %w", err)
	}

	path := ref.path()
	like := !post.LikedBy(userID)
	err = s.retry(ctx, func(ctx context.Context) error {
		if like {
			return s.store.AddToSet(ctx, path, fieldLikes, userID)
		}
		return s.store.RemoveFromSet(ctx, path, fieldLikes, userID)
	})
	if err != nil {
		return LikeState{}, fmt.Errorf("toggle like: %w", err)
	}

	post, err = s.loadPost(ctx, ref)
	if err != nil {
		return LikeState{}, fmt.Errorf("toggle like: reread: %w", err)
	}
	st := LikeState{Liked: post.LikedBy(userID), LikeCount: post.LikeCount()}
	s.publish(ctx, models.EventLike, post, userID, st.Liked)
	return st, nil
}

// ToggleBookmark flips the user's membership in the post's bookmarks and
// creates or deletes the matching index entry.
func (s *Service) ToggleBookmark(ctx context.Context, ref PostRef, userID string) (BookmarkState, error) {
	if err := validate(ref, userID); err != nil {
		return BookmarkState{}, err
	}
	author := s.authorName(ctx, ref.AuthorID)

	var post models.Post
	err := s.retry(ctx, func(ctx context.Context) error {
		return s.store.RunTransaction(ctx, func(ctx context.Context) error {
			var err error
			post, err = s.toggleBookmarkTx(ctx, ref, userID, author)
			return err
		})
	})
	if errors.Is(err, docstore.ErrNoTransactions) {
		post, err = s.toggleBookmarkCompensated(ctx, ref, userID, author)
	}
	if err != nil {
		return BookmarkState{}, fmt.Errorf("toggle bookmark: %w", err)
	}
	if post.ID == "" {
		post.ID, post.AuthorID = ref.PostID, ref.AuthorID
	}

	st := BookmarkState{Bookmarked: post.BookmarkedBy(userID), BookmarkCount: post.BookmarkCount()}
	s.publish(ctx, models.EventBookmark, post, userID, st.Bookmarked)
	return st, nil
}

func (s *Service) toggleBookmarkTx(ctx context.Context, ref PostRef, userID, author string) (models.Post, error) {
	var post models.Post
	if err := s.store.Get(ctx, ref.path(), &post); err != nil {
		return post, err
	}
	entry := docstore.BookmarkPath(userID, ref.PostID)

	if !post.BookmarkedBy(userID) {
		if err := s.store.AddToSet(ctx, ref.path(), fieldBookmarks, userID); err != nil {
			return post, err
		}
		if err := s.store.Set(ctx, entry, s.snapshot(ref, post, author)); err != nil {
			return post, err
		}
	} else {
		if err := s.store.RemoveFromSet(ctx, ref.path(), fieldBookmarks, userID); err != nil {
			return post, err
		}
		if err := s.store.Delete(ctx, entry); err != nil {
			return post, err
		}
	}

	post = models.Post{}
	err := s.store.Get(ctx, ref.path(), &post)
	return post, err
}

func (s *Service) toggleBookmarkCompensated(ctx context.Context, ref PostRef, userID, author string) (models.Post, error) {
	post, err := s.loadPost(ctx, ref)
	if err != nil {
		return post, err
	}
	path := ref.path()
	entry := docstore.BookmarkPath(userID, ref.PostID)

	if !post.BookmarkedBy(userID) {
		if err := s.retry(ctx, func(ctx context.Context) error {
			return s.store.AddToSet(ctx, path, fieldBookmarks, userID)
		}); err != nil {
			return post, err
		}
		snap := s.snapshot(ref, post, author)
		if err := s.retry(ctx, func(ctx context.Context) error {
			return s.store.Set(ctx, entry, snap)
		}); err != nil {
			return post, s.compensate(ctx, "bookmark", ref, userID, err, func(ctx context.Context) error {
				return s.store.RemoveFromSet(ctx, path, fieldBookmarks, userID)
			})
		}
	} else {
		if err := s.retry(ctx, func(ctx context.Context) error {
			return s.store.RemoveFromSet(ctx, path, fieldBookmarks, userID)
		}); err != nil {
			return post, err
		}
		if err := s.retry(ctx, func(ctx context.Context) error {
			return s.store.Delete(ctx, entry)
		}); err != nil {
			return post, s.compensate(ctx, "unbookmark", ref, userID, err, func(ctx context.Context) error {
				return s.store.AddToSet(ctx, path, fieldBookmarks, userID)
			})
		}
	}
	return s.loadPost(ctx, ref)
}

// compensate undoes the first half of a failed dual write. The undo runs even
// when ctx has been cancelled.
func (s *Service) compensate(ctx context.Context, op string, ref PostRef, userID string, cause error, undo func(ctx context.Context) error) error {
	ctx = context.WithoutCancel(ctx)
	if err := s.retry(ctx, undo); err != nil {
		s.log.Error("bookmark index left out of sync",
			zap.String("op", op),
			zap.String("userId", userID),
			zap.String("authorId", ref.AuthorID),
			zap.String("postId", ref.PostID),
			zap.NamedError("cause", cause),
			zap.Error(err),
		)
		return fmt.Errorf("%w: %s %s/%s for %s: %w", ErrInconsistent, op, ref.AuthorID, ref.PostID, userID, cause)
	}
	s.log.Warn("bookmark write compensated",
		zap.String("op", op),
		zap.String("userId", userID),
		zap.String("postId", ref.PostID),
		zap.Error(cause),
	)
	return cause
}

// UnbookmarkFromIndex removes a post from the user's bookmark list: the index
// entry is deleted first, then the user leaves the post's bookmarks. A post
// that no longer exists is not an error.
func (s *Service) UnbookmarkFromIndex(ctx context.Context, postID, postAuthorID, userID string) error {
	ref := PostRef{AuthorID: postAuthorID, PostID: postID}
	if err := validate(ref, userID); err != nil {
		return err
	}
	entry := docstore.BookmarkPath(userID, postID)

	err := s.retry(ctx, func(ctx context.Context) error {
		return s.store.RunTransaction(ctx, func(ctx context.Context) error {
			if err := s.store.Delete(ctx, entry); err != nil {
				return err
			}
			return ignoreNotFound(s.store.RemoveFromSet(ctx, ref.path(), fieldBookmarks, userID))
		})
	})
	if errors.Is(err, docstore.ErrNoTransactions) {
		err = s.unbookmarkCompensated(ctx, ref, userID)
	}
	if err != nil {
		return fmt.Errorf("unbookmark: %w", err)
	}

	if post, err := s.loadPost(ctx, ref); err == nil {
		s.publish(ctx, models.EventBookmark, post, userID, false)
	}
	return nil
}

func (s *Service) unbookmarkCompensated(ctx context.Context, ref PostRef, userID string) error {
	entry := docstore.BookmarkPath(userID, ref.PostID)

	var saved models.BookmarkEntry
	found := true
	err := s.retry(ctx, func(ctx context.Context) error {
		return s.store.Get(ctx, entry, &saved)
	})
	switch {
	case errors.Is(err, docstore.ErrNotFound):
		found = false
	case err != nil:
		return err
	}

	if err := s.retry(ctx, func(ctx context.Context) error {
		return s.store.Delete(ctx, entry)
	}); err != nil {
		return err
	}
	err = s.retry(ctx, func(ctx context.Context) error {
		return ignoreNotFound(s.store.RemoveFromSet(ctx, ref.path(), fieldBookmarks, userID))
	})
	if err == nil {
		return nil
	}
	if !found {
		return err
	}
	return s.compensate(ctx, "unbookmark-index", ref, userID, err, func(ctx context.Context) error {
		return s.store.Set(ctx, entry, saved)
	})
}

// State reports the viewer's flags and both counts for a post. An empty
// userID yields counts only.
func (s *Service) State(ctx context.Context, ref PostRef, userID string) (State, error) {
	if !docstore.ValidID(ref.AuthorID) || !docstore.ValidID(ref.PostID) {
		return State{}, fmt.Errorf("%w: bad post reference", models.ErrInvalid)
	}
	post, err := s.loadPost(ctx, ref)
	if err != nil {
		return State{}, fmt.Errorf("engagement state: %w", err)
	}
	return StateOf(post, userID), nil
}

// StateOf derives the engagement state from a post already in hand.
func StateOf(p models.Post, userID string) State {
	st := State{LikeCount: p.LikeCount(), BookmarkCount: p.BookmarkCount()}
	if userID != "" {
		st.Liked = p.LikedBy(userID)
		st.Bookmarked = p.BookmarkedBy(userID)
	}
	return st
}

// Bookmarks lists the user's bookmark index, newest first. Entries whose post
// is gone or no longer lists the user are deleted and left out.
func (s *Service) Bookmarks(ctx context.Context, userID string) ([]models.BookmarkEntry, error) {
	entries, _, err := s.repairIndex(ctx, userID)
	if err != nil {
		return nil, err
	}
	slices.SortStableFunc(entries, func(a, b models.BookmarkEntry) int {
		return compareDesc(a.BookmarkedAt, b.BookmarkedAt)
	})
	return entries, nil
}

// repairIndex returns the valid entries and the number of dangling ones removed.
func (s *Service) repairIndex(ctx context.Context, userID string) ([]models.BookmarkEntry, int, error) {
	if !docstore.ValidID(userID) {
		return nil, 0, fmt.Errorf("%w: bad user id", models.ErrInvalid)
	}

	var docs []docstore.Doc
	err := s.retry(ctx, func(ctx context.Context) error {
		var err error
		docs, err = s.store.List(ctx, docstore.BookmarksOf(userID), 0)
		return err
	})
	if err != nil {
		return nil, 0, fmt.Errorf("list bookmarks: %w", err)
	}

	entries := make([]models.BookmarkEntry, 0, len(docs))
	removed := 0
	for _, d := range docs {
		var e models.BookmarkEntry
		if err := d.Decode(&e); err != nil {
			return nil, removed, fmt.Errorf("decode bookmark %s: %w", d.Path, err)
		}
		if e.PostID == "" {
			e.PostID = d.ID
		}

		ok, err := s.entryValid(ctx, e, userID)
		if err != nil {
			return nil, removed, err
		}
		if ok {
			entries = append(entries, e)
			continue
		}

		if err := s.retry(ctx, func(ctx context.Context) error {
			return s.store.Delete(ctx, d.Path)
		}); err != nil {
			return nil, removed, fmt.Errorf("drop dangling bookmark %s: %w", d.Path, err)
		}
		removed++
		s.log.Info("dropped dangling bookmark",
			zap.String("userId", userID),
			zap.String("authorId", e.AuthorID),
			zap.String("postId", e.PostID),
		)
	}
	return entries, removed, nil
}

func (s *Service) entryValid(ctx context.Context, e models.BookmarkEntry, userID string) (bool, error) {
	ref := PostRef{AuthorID: e.AuthorID, PostID: e.PostID}
	if !docstore.ValidID(ref.AuthorID) || !docstore.ValidID(ref.PostID) {
		return false, nil
	}
	post, err := s.loadPost(ctx, ref)
	switch {
	case errors.Is(err, docstore.ErrNotFound):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("check bookmark %s: %w", e.PostID, err)
	}
	return post.BookmarkedBy(userID), nil
}

// Reconcile repairs the user's index in both directions: dangling entries
// are removed and every post whose bookmarks contain the user gets an entry.
func (s *Service) Reconcile(ctx context.Context, userID string) (Report, error) {
	if s.posts == nil {
		return Report{}, errors.New("reconcile: no post source configured")
	}
	entries, removed, err := s.repairIndex(ctx, userID)
	if err != nil {
		return Report{}, fmt.Errorf("reconcile: %w", err)
	}
	rep := Report{Removed: removed}

	have := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		have[e.PostID] = struct{}{}
	}

	for fp, err := range s.posts.Posts(ctx) {
		if err != nil {
			return rep, fmt.Errorf("reconcile: scan posts: %w", err)
		}
		if !fp.BookmarkedBy(userID) {
			continue
		}
		if _, ok := have[fp.ID]; ok {
			continue
		}
		ref := PostRef{AuthorID: fp.AuthorID, PostID: fp.ID}
		if !docstore.ValidID(ref.AuthorID) || !docstore.ValidID(ref.PostID) {
			continue
		}
		author := fp.Author
		if author == "" {
			author = s.authorName(ctx, ref.AuthorID)
		}
		snap := s.snapshot(ref, fp.Post, author)
		if err := s.retry(ctx, func(ctx context.Context) error {
			return s.store.Set(ctx, docstore.BookmarkPath(userID, ref.PostID), snap)
		}); err != nil {
			return rep, fmt.Errorf("reconcile: restore %s: %w", ref.PostID, err)
		}
		have[fp.ID] = struct{}{}
		rep.Restored++
	}

	if rep.Removed > 0 || rep.Restored > 0 {
		s.log.Info("bookmark index reconciled",
			zap.String("userId", userID),
			zap.Int("removed", rep.Removed),
			zap.Int("restored", rep.Restored),
		)
	}
	return rep, nil
}

func (s *Service) snapshot(ref PostRef, p models.Post, author string) models.BookmarkEntry {
	now := s.now().UTC().Format(time.RFC3339)
	e := models.BookmarkEntry{
		PostID:       ref.PostID,
		AuthorID:     ref.AuthorID,
		Title:        p.Title,
		ImageURL:     p.ImageURL,
		Category:     p.Category,
		Content:      p.Content,
		CreatedAt:    p.CreatedAt,
		Author:       author,
		BookmarkedAt: now,
	}
	if e.Title == "" {
		e.Title = defaultTitle
	}
	if e.Category == "" {
		e.Category = defaultCategory
	}
	if e.Author == "" {
		e.Author = defaultAuthor
	}
	if e.CreatedAt == "" {
		e.CreatedAt = now
	}
	return e
}

func (s *Service) authorName(ctx context.Context, userID string) string {
	if s.names == nil {
		return ""
	}
	name, err := s.names.Username(ctx, userID)
	if err != nil {
		s.log.Warn("author name lookup failed", zap.String("userId", userID), zap.Error(err))
		return ""
	}
	return name
}

func (s *Service) publish(ctx context.Context, kind string, p models.Post, actorID string, active bool) {
	if s.events == nil {
		return
	}
	ev := models.EngagementEvent{
		Kind:          kind,
		PostID:        p.ID,
		AuthorID:      p.AuthorID,
		ActorID:       actorID,
		Active:        active,
		LikeCount:     p.LikeCount(),
		BookmarkCount: p.BookmarkCount(),
		At:            s.now().UnixMilli(),
	}
	if err := s.events.Publish(ctx, ev); err != nil {
		s.log.Warn("publish engagement event", zap.String("postId", p.ID), zap.Error(err))
	}
}

func ignoreNotFound(err error) error {
	if errors.Is(err, docstore.ErrNotFound) {
		return nil
	}
	return err
}

// compareDesc orders RFC 3339 timestamps newest first; they sort lexically.
func compareDesc(a, b string) int {
	switch {
	case a > b:
		return -1
	case a < b:
		return 1
	default:
		return 0
	}
}
