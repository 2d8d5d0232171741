// Package storetest holds the behavior every docstore.Store backend must share.
package storetest

import (
	"context"
	"errors"
	"sync"
	"testing"

	"wordcraft/docstore"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type record struct {
	ID    string   `json:"id" bson:"id"`
	Title string   `json:"title" bson:"title"`
	Likes []string `json:"likes" bson:"likes"`
}

// Run exercises s. transactional says whether RunTransaction is expected to work.
func Run(t *testing.T, s docstore.Store, transactional bool) {
	ctx := context.Background()

	t.Run("GetMissing", func(t *testing.T) {
		var r record
		err := s.Get(ctx, docstore.PostPath("nobody", "nothing"), &r)
		require.ErrorIs(t, err, docstore.ErrNotFound)
	})

	t.Run("SetGetUpdate", func(t *testing.T) {
		p := docstore.PostPath("u1", "p1")
		require.NoError(t, s.Set(ctx, p, record{ID: "p1", Title: "first", Likes: []string{}}))
		require.NoError(t, s.Update(ctx, p, map[string]any{"title": "second"}))

		var got record
		require.NoError(t, s.Get(ctx, p, &got))
		assert.Equal(t, "second", got.Title)
		assert.Empty(t, got.Likes)
	})

	t.Run("UpdateMissing", func(t *testing.T) {
		err := s.Update(ctx, docstore.PostPath("u1", "ghost"), map[string]any{"title": "x"})
		require.ErrorIs(t, err, docstore.ErrNotFound)
	})

	t.Run("SetSemantics", func(t *testing.T) {
		p := docstore.PostPath("u1", "sets")
		require.NoError(t, s.Set(ctx, p, record{ID: "sets", Likes: []string{}}))

		require.NoError(t, s.AddToSet(ctx, p, "likes", "a"))
		require.NoError(t, s.AddToSet(ctx, p, "likes", "a"))
		require.NoError(t, s.AddToSet(ctx, p, "likes", "b"))

		var got record
		require.NoError(t, s.Get(ctx, p, &got))
		assert.ElementsMatch(t, []string{"a", "b"}, got.Likes)

		require.NoError(t, s.RemoveFromSet(ctx, p, "likes", "a"))
		require.NoError(t, s.RemoveFromSet(ctx, p, "likes", "a"))
		require.NoError(t, s.Get(ctx, p, &got))
		assert.Equal(t, []string{"b"}, got.Likes)
	})

	t.Run("SetMutationOnMissingDocument", func(t *testing.T) {
		err := s.AddToSet(ctx, docstore.PostPath("u1", "ghost"), "likes", "a")
		require.ErrorIs(t, err, docstore.ErrNotFound)
	})

	t.Run("ConcurrentAddToSet", func(t *testing.T) {
		p := docstore.PostPath("u1", "concurrent")
		require.NoError(t, s.Set(ctx, p, record{ID: "concurrent", Likes: []string{}}))

		users := []string{"a", "b", "c", "d", "e", "f", "g", "h"}
		var wg sync.WaitGroup
		for _, u := range users {
			for range 3 {
				wg.Add(1)
				go func(u string) {
					defer wg.Done()
					assert.NoError(t, s.AddToSet(ctx, p, "likes", u))
				}(u)
			}
		}
		wg.Wait()

		var got record
		require.NoError(t, s.Get(ctx, p, &got))
		assert.ElementsMatch(t, users, got.Likes)
	})

	t.Run("DeleteIsIdempotent", func(t *testing.T) {
		p := docstore.BookmarkPath("u2", "p1")
		require.NoError(t, s.Set(ctx, p, record{ID: "p1"}))
		require.NoError(t, s.Delete(ctx, p))
		require.NoError(t, s.Delete(ctx, p))

		ok, err := docstore.Exists(ctx, s, p)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("ListCollection", func(t *testing.T) {
		for _, id := range []string{"b", "a", "c"} {
			require.NoError(t, s.Set(ctx, docstore.PostPath("lister", id), record{ID: id}))
		}
		require.NoError(t, s.Set(ctx, docstore.BookmarkPath("lister", "x"), record{ID: "x"}))

		docs, err := s.List(ctx, docstore.PostsOf("lister"), 0)
		require.NoError(t, err)
		require.Len(t, docs, 3)

		var ids []string
		for _, d := range docs {
			var r record
			require.NoError(t, d.Decode(&r))
			assert.Equal(t, d.ID, r.ID)
			ids = append(ids, d.ID)
		}
		assert.Equal(t, []string{"a", "b", "c"}, ids)

		limited, err := s.List(ctx, docstore.PostsOf("lister"), 2)
		require.NoError(t, err)
		assert.Len(t, limited, 2)
	})

	if !transactional {
		t.Run("NoTransactions", func(t *testing.T) {
			err := s.RunTransaction(ctx, func(context.Context) error { return nil })
			require.ErrorIs(t, err, docstore.ErrNoTransactions)
		})
		return
	}

	t.Run("TransactionCommits", func(t *testing.T) {
		post := docstore.PostPath("tx", "p1")
		mark := docstore.BookmarkPath("reader", "p1")
		require.NoError(t, s.Set(ctx, post, record{ID: "p1", Likes: []string{}}))

		err := s.RunTransaction(ctx, func(ctx context.Context) error {
			if err := s.AddToSet(ctx, post, "likes", "reader"); err != nil {
				return err
			}
			return s.Set(ctx, mark, record{ID: "p1"})
		})
		require.NoError(t, err)

		ok, err := docstore.Exists(ctx, s, mark)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("TransactionRollsBack", func(t *testing.T) {
		post := docstore.PostPath("tx", "p2")
		mark := docstore.BookmarkPath("reader", "p2")
		require.NoError(t, s.Set(ctx, post, record{ID: "p2", Likes: []string{}}))

		boom := errors.New("boom")
		err := s.RunTransaction(ctx, func(ctx context.Context) error {
			if err := s.AddToSet(ctx, post, "likes", "reader"); err != nil {
				return err
			}
			if err := s.Set(ctx, mark, record{ID: "p2"}); err != nil {
				return err
			}
			return boom
		})
		require.ErrorIs(t, err, boom)

		var got record
		require.NoError(t, s.Get(ctx, post, &got))
		assert.Empty(t, got.Likes)

		ok, err := docstore.Exists(ctx, s, mark)
		require.NoError(t, err)
		assert.False(t, ok)
	})
}
