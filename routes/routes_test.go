package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/crypto/bcrypt"

	"wordcraft/auth"
	"wordcraft/blob"
	"wordcraft/docstore/sqlitedoc"
	"wordcraft/engagement"
	"wordcraft/feed"
	"wordcraft/middleware"
	"wordcraft/models"
	"wordcraft/posts"
	"wordcraft/profile"
	"wordcraft/rdx"
)

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	ctx := context.Background()
	log := zaptest.NewLogger(t)

	store, err := sqlitedoc.Open(ctx, filepath.Join(t.TempDir(), "routes.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close(ctx) })

	secret := []byte("routes-secret")
	cache := rdx.NewLocal()
	names := profile.NewDirectory(store, cache, log)
	blobDir := t.TempDir()
	blobs := blob.NewLocal(blobDir, "http://cdn.test", log)
	agg := feed.New(store, log, feed.Options{})

	authSvc := auth.NewService(store, secret, time.Hour, log,
		auth.WithRevoker(cache), auth.WithNameCache(names), auth.WithHashCost(bcrypt.MinCost))
	eng := engagement.NewService(store, log, engagement.WithAuthorNames(names), engagement.WithPostSource(agg))

	router := New(Deps{
		Auth:               middleware.NewAuth(secret, cache),
		AuthHandlers:       auth.NewHandlers(authSvc, log),
		ProfileHandlers:    profile.NewHandlers(profile.NewService(store, blobs, names, log), log),
		FeedHandlers:       feed.NewHandlers(agg, log),
		PostHandlers:       posts.NewHandlers(posts.NewService(store, blobs, names, log), log),
		EngagementHandlers: engagement.NewHandlers(eng, log),
		BlobDir:            blobDir,
	})
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

type client struct {
	t     *testing.T
	base  string
	token string
}

func (c *client) do(method, path string, body any, out any) int {
	c.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(c.t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, c.base+path, &buf)
	require.NoError(c.t, err)
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(c.t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(c.t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func signUp(t *testing.T, base, email, username string) *client {
	c := &client{t: t, base: base}
	require.Equal(t, http.StatusCreated, c.do(http.MethodPost, "/api/auth/register",
		auth.Registration{Email: email, Password: "password1", Username: username}, nil))
	var tok auth.Token
	require.Equal(t, http.StatusOK, c.do(http.MethodPost, "/api/auth/login",
		map[string]string{"email": email, "password": "password1"}, &tok))
	c.token = tok.Token
	return c
}

func TestHealth(t *testing.T) {
	srv := newServer(t)
	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestEngagementFlow(t *testing.T) {
	srv := newServer(t)
	alice := signUp(t, srv.URL, "alice@example.com", "alice")
	bob := signUp(t, srv.URL, "bob@example.com", "bob")

	var post models.Post
	require.Equal(t, http.StatusCreated, alice.do(http.MethodPost, "/api/posts", map[string]string{
		"title": "Daily walk", "category": models.CategoryHealth, "content": "Thirty minutes.",
	}, &post))
	postPath := "/api/posts/" + post.AuthorID + "/" + post.ID

	var liked engagement.LikeState
	require.Equal(t, http.StatusOK, bob.do(http.MethodPost, postPath+"/like", nil, &liked))
	assert.Equal(t, engagement.LikeState{Liked: true, LikeCount: 1}, liked)

	var marked engagement.BookmarkState
	require.Equal(t, http.StatusOK, bob.do(http.MethodPost, postPath+"/bookmark", nil, &marked))
	assert.Equal(t, engagement.BookmarkState{Bookmarked: true, BookmarkCount: 1}, marked)

	var list struct {
		Bookmarks []models.BookmarkEntry `json:"bookmarks"`
	}
	require.Equal(t, http.StatusOK, bob.do(http.MethodGet, "/api/bookmarks", nil, &list))
	require.Len(t, list.Bookmarks, 1)
	assert.Equal(t, "alice", list.Bookmarks[0].Author)
	assert.Equal(t, "Daily walk", list.Bookmarks[0].Title)

	var view posts.PostView
	require.Equal(t, http.StatusOK, bob.do(http.MethodGet, postPath, nil, &view))
	assert.True(t, view.Liked)
	assert.True(t, view.Bookmarked)

	var feedPage struct {
		Data  []models.FeedPost `json:"data"`
		Total int               `json:"total"`
	}
	anon := &client{t: t, base: srv.URL}
	require.Equal(t, http.StatusOK, anon.do(http.MethodGet, "/api/feed?category="+"Health%20%26%20Wellness", nil, &feedPage))
	require.Equal(t, 1, feedPage.Total)
	assert.Equal(t, 1, feedPage.Data[0].LikeCount)

	require.Equal(t, http.StatusOK, bob.do(http.MethodDelete, "/api/bookmarks/"+post.AuthorID+"/"+post.ID, nil, nil))
	require.Equal(t, http.StatusOK, bob.do(http.MethodGet, "/api/bookmarks", nil, &list))
	assert.Empty(t, list.Bookmarks)

	assert.Equal(t, http.StatusForbidden, bob.do(http.MethodDelete, postPath, nil, nil))
	assert.Equal(t, http.StatusOK, alice.do(http.MethodDelete, postPath, nil, nil))
	assert.Equal(t, http.StatusNotFound, bob.do(http.MethodPost, postPath+"/like", nil, nil))
}

func TestProtectedRoutesNeedToken(t *testing.T) {
	srv := newServer(t)
	anon := &client{t: t, base: srv.URL}
	assert.Equal(t, http.StatusUnauthorized, anon.do(http.MethodGet, "/api/bookmarks", nil, nil))
	assert.Equal(t, http.StatusUnauthorized, anon.do(http.MethodGet, "/api/profile", nil, nil))
	assert.Equal(t, http.StatusUnauthorized, anon.do(http.MethodPost, "/api/posts", map[string]string{}, nil))
}

func TestLogoutInvalidatesToken(t *testing.T) {
	srv := newServer(t)
	alice := signUp(t, srv.URL, "alice@example.com", "alice")

	var u models.User
	require.Equal(t, http.StatusOK, alice.do(http.MethodGet, "/api/profile", nil, &u))
	assert.Equal(t, "alice", u.Username)

	require.Equal(t, http.StatusOK, alice.do(http.MethodPost, "/api/auth/logout", nil, nil))
	assert.Equal(t, http.StatusUnauthorized, alice.do(http.MethodGet, "/api/profile", nil, nil))
}
