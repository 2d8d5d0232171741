// Package feed gathers posts from every user's posts sub-collection and
// shapes them into the home feed.
package feed

import (
	"context"
	"fmt"
	"iter"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"wordcraft/docstore"
	"wordcraft/models"
	"wordcraft/retry"
)

const unknownAuthor = "Unknown Author"

type Options struct {
	// Concurrency bounds the parallel per-user reads of ListAllPosts.
	Concurrency int
	// MaxUsers caps how many users one aggregation scans; 0 means all.
	MaxUsers int
	// PageMax caps Query.Limit.
	PageMax int
	Retry   retry.Policy
}

// Aggregator holds no state between calls; every read goes to the store.
type Aggregator struct {
	store docstore.Store
	log   *zap.Logger
	opts  Options
}

func New(store docstore.Store, log *zap.Logger, opts Options) *Aggregator {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 8
	}
	if opts.PageMax < 1 {
		opts.PageMax = 50
	}
	if opts.Retry.Attempts == 0 {
		opts.Retry = retry.DefaultPolicy()
	}
	return &Aggregator{store: store, log: log, opts: opts}
}

func (a *Aggregator) list(ctx context.Context, collection docstore.Path, limit int) ([]docstore.Doc, error) {
	var docs []docstore.Doc
	err := retry.Do(ctx, a.opts.Retry, func(ctx context.Context) error {
		var err error
		docs, err = a.store.List(ctx, collection, limit)
		return err
	})
	return docs, err
}

func (a *Aggregator) users(ctx context.Context) ([]models.User, error) {
	docs, err := a.list(ctx, docstore.Users(), a.opts.MaxUsers)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	users := make([]models.User, 0, len(docs))
	for _, d := range docs {
		var u models.User
		if err := d.Decode(&u); err != nil {
			return nil, fmt.Errorf("decode user %s: %w", d.ID, err)
		}
		u.ID = d.ID
		users = append(users, u)
	}
	return users, nil
}

// postsOf reads one user's posts and stamps them with the user's current name.
func (a *Aggregator) postsOf(ctx context.Context, u models.User) ([]models.FeedPost, error) {
	docs, err := a.list(ctx, docstore.PostsOf(u.ID), 0)
	if err != nil {
		return nil, fmt.Errorf("list posts of %s: %w", u.ID, err)
	}
	author := u.Username
	if author == "" {
		author = unknownAuthor
	}

	posts := make([]models.FeedPost, 0, len(docs))
	for _, d := range docs {
		var p models.Post
		if err := d.Decode(&p); err != nil {
			a.log.Warn("skipping undecodable post", zap.String("path", d.Path.String()), zap.Error(err))
			continue
		}
		p.ID = d.ID
		p.AuthorID = u.ID
		posts = append(posts, models.NewFeedPost(p, author))
	}
	return posts, nil
}

// Posts yields every post lazily, one user at a time. Ranging again starts a
// fresh scan.
func (a *Aggregator) Posts(ctx context.Context) iter.Seq2[models.FeedPost, error] {
	return func(yield func(models.FeedPost, error) bool) {
		users, err := a.users(ctx)
		if err != nil {
			yield(models.FeedPost{}, err)
			return
		}
		for _, u := range users {
			if err := ctx.Err(); err != nil {
				yield(models.FeedPost{}, err)
				return
			}
			posts, err := a.postsOf(ctx, u)
			if err != nil {
				yield(models.FeedPost{}, err)
				return
			}
			for _, p := range posts {
				if !yield(p, nil) {
					return
				}
			}
		}
	}
}

// ListAllPosts reads all users' posts concurrently. Results keep the user
// listing order.
func (a *Aggregator) ListAllPosts(ctx context.Context) ([]models.FeedPost, error) {
	users, err := a.users(ctx)
	if err != nil {
		return nil, err
	}

	perUser := make([][]models.FeedPost, len(users))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.opts.Concurrency)
	for i, u := range users {
		g.Go(func() error {
			posts, err := a.postsOf(gctx, u)
			if err != nil {
				return err
			}
			perUser[i] = posts
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var all []models.FeedPost
	for _, posts := range perUser {
		all = append(all, posts...)
	}
	return all, nil
}

type Query struct {
	Category string
	Search   string
	Offset   int
	Limit    int
}

type Page struct {
	Posts []models.FeedPost `json:"posts"`
	Total int               `json:"total"`
}

// Home aggregates, filters, sorts newest first and cuts one page.
func (a *Aggregator) Home(ctx context.Context, q Query) (Page, error) {
	all, err := a.ListAllPosts(ctx)
	if err != nil {
		return Page{}, err
	}
	matched := SortByRecency(Filter(all, q.Category, q.Search))

	limit := q.Limit
	if limit <= 0 || limit > a.opts.PageMax {
		limit = a.opts.PageMax
	}
	start := min(max(q.Offset, 0), len(matched))
	end := min(start+limit, len(matched))

	page := make([]models.FeedPost, end-start)
	copy(page, matched[start:end])
	return Page{Posts: page, Total: len(matched)}, nil
}
