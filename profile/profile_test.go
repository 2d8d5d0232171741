package profile

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wordcraft/blob"
	"wordcraft/docstore"
	"wordcraft/docstore/sqlitedoc"
	"wordcraft/middleware"
	"wordcraft/models"
	"wordcraft/rdx"
)

type fixture struct {
	store *sqlitedoc.Store
	cache *rdx.Cache
	names *Directory
	svc   *Service
}

func setup(t *testing.T) fixture {
	t.Helper()
	ctx := context.Background()
	s, err := sqlitedoc.Open(ctx, filepath.Join(t.TempDir(), "profile.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close(ctx) })

	cache := rdx.NewLocal()
	names := NewDirectory(s, cache, nil)
	blobs := blob.NewLocal(t.TempDir(), "http://cdn.test", nil)

	require.NoError(t, s.Set(ctx, docstore.UserPath("u1"), models.User{
		ID: "u1", Username: "ada", Email: "ada@example.com", CreatedAt: "2024-01-01T00:00:00Z",
	}))
	require.NoError(t, s.Set(ctx, docstore.CredentialPath("ada@example.com"), models.Credential{
		UserID: "u1", Email: "ada@example.com", PasswordHash: "hash",
	}))
	return fixture{store: s, cache: cache, names: names, svc: NewService(s, blobs, names, nil)}
}

func TestDirectoryReadsThroughCache(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	name, err := f.names.Username(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "ada", name)

	cached, ok, err := f.cache.Username(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "ada", cached)

	name, err = f.names.Username(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, name)
}

func TestEditUpdatesFieldsAndCache(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	u, err := f.svc.Edit(ctx, "u1", models.ProfileUpdate{Username: " Ada L ", Phone: "555-0100", Gender: "female"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "Ada L", u.Username)
	assert.Equal(t, "555-0100", u.Phone)
	assert.Equal(t, "ada@example.com", u.Email)

	name, err := f.names.Username(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "Ada L", name)
}

func TestEditEmailMovesCredential(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	u, err := f.svc.Edit(ctx, "u1", models.ProfileUpdate{Email: "Ada@New.Example"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "ada@new.example", u.Email)

	var cred models.Credential
	require.NoError(t, f.store.Get(ctx, docstore.CredentialPath("ada@new.example"), &cred))
	assert.Equal(t, "u1", cred.UserID)
	assert.Equal(t, "hash", cred.PasswordHash)

	old, err := docstore.Exists(ctx, f.store, docstore.CredentialPath("ada@example.com"))
	require.NoError(t, err)
	assert.False(t, old)
}

func TestEditEmailConflict(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	require.NoError(t, f.store.Set(ctx, docstore.CredentialPath("taken@example.com"), models.Credential{UserID: "u2"}))

	_, err := f.svc.Edit(ctx, "u1", models.ProfileUpdate{Email: "taken@example.com", Phone: "1"}, nil)
	require.ErrorIs(t, err, models.ErrConflict)

	u, err := f.svc.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, u.Phone, "rolled back with the failed email move")
}

func TestEditRejectsBadEmail(t *testing.T) {
	f := setup(t)
	_, err := f.svc.Edit(context.Background(), "u1", models.ProfileUpdate{Email: "not-an-email"}, nil)
	require.ErrorIs(t, err, models.ErrInvalid)
}

func pngBytes(t *testing.T) []byte {
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 8, 8))))
	return buf.Bytes()
}

func TestEditProfileHandlerWithPicture(t *testing.T) {
	f := setup(t)
	h := NewHandlers(f.svc, nil)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("dob", "1990-12-10"))
	fw, err := mw.CreateFormFile("picture", "me.png")
	require.NoError(t, err)
	_, err = fw.Write(pngBytes(t))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	r := httptest.NewRequest(http.MethodPut, "/api/profile", &body)
	r.Header.Set("Content-Type", mw.FormDataContentType())
	r = r.WithContext(middleware.WithSession(r.Context(), middleware.Session{UserID: "u1"}))
	rec := httptest.NewRecorder()
	h.EditProfile(rec, r, nil)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var u models.User
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &u))
	assert.Equal(t, "1990-12-10", u.DOB)
	assert.Equal(t, "http://cdn.test/static/profilePictures/u1.jpg", u.ProfilePictureURL)
	assert.Equal(t, "http://cdn.test/static/thumbs/profilePictures/u1.jpg", u.ProfileThumbURL)
}

func TestGetProfileRequiresSession(t *testing.T) {
	f := setup(t)
	rec := httptest.NewRecorder()
	NewHandlers(f.svc, nil).GetProfile(rec, httptest.NewRequest(http.MethodGet, "/api/profile", nil), nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
