package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/crypto/bcrypt"

	"wordcraft/docstore"
	"wordcraft/docstore/sqlitedoc"
	"wordcraft/middleware"
	"wordcraft/models"
	"wordcraft/rdx"
)

var secret = []byte("test-secret")

type outbox struct {
	mu     sync.Mutex
	tokens map[string]string
}

func (o *outbox) SendPasswordReset(_ context.Context, email, token string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.tokens[email] = token
	return nil
}

func (o *outbox) token(email string) string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.tokens[email]
}

type fixture struct {
	store *sqlitedoc.Store
	cache *rdx.Cache
	mail  *outbox
	svc   *Service
	mw    *middleware.Auth
}

type cacheNames struct{ c *rdx.Cache }

func (n cacheNames) Remember(ctx context.Context, userID, username string) {
	_ = n.c.SetUsername(ctx, userID, username)
}

func setup(t *testing.T) fixture {
	t.Helper()
	ctx := context.Background()
	s, err := sqlitedoc.Open(ctx, filepath.Join(t.TempDir(), "auth.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close(ctx) })

	cache := rdx.NewLocal()
	mail := &outbox{tokens: map[string]string{}}
	svc := NewService(s, secret, time.Hour, zaptest.NewLogger(t),
		WithRevoker(cache), WithNameCache(cacheNames{cache}), WithMailer(mail), WithHashCost(bcrypt.MinCost))
	return fixture{store: s, cache: cache, mail: mail, svc: svc, mw: middleware.NewAuth(secret, cache)}
}

func register(t *testing.T, f fixture) models.User {
	t.Helper()
	u, err := f.svc.Register(context.Background(), Registration{
		Email: " Ada@Example.com ", Password: "hunter22", Username: "ada", Gender: "female",
	})
	require.NoError(t, err)
	return u
}

func TestRegisterCreatesUserAndCredential(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	u := register(t, f)

	assert.Equal(t, "ada@example.com", u.Email)
	assert.Empty(t, u.ProfilePictureURL)
	assert.NotEmpty(t, u.CreatedAt)

	var stored models.User
	require.NoError(t, f.store.Get(ctx, docstore.UserPath(u.ID), &stored))
	assert.Equal(t, "ada", stored.Username)

	var cred models.Credential
	require.NoError(t, f.store.Get(ctx, docstore.CredentialPath("ada@example.com"), &cred))
	assert.Equal(t, u.ID, cred.UserID)
	assert.NotEqual(t, "hunter22", cred.PasswordHash)

	name, ok, err := f.cache.Username(ctx, u.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "ada", name)
}

func TestRegisterRejects(t *testing.T) {
	f := setup(t)
	register(t, f)

	cases := map[string]struct {
		in   Registration
		kind error
	}{
		"duplicate email": {Registration{Email: "ada@example.com", Password: "secret1", Username: "x"}, models.ErrConflict},
		"bad email":       {Registration{Email: "ada", Password: "secret1", Username: "x"}, models.ErrInvalid},
		"short password":  {Registration{Email: "b@example.com", Password: "123", Username: "x"}, models.ErrInvalid},
		"no username":     {Registration{Email: "b@example.com", Password: "secret1"}, models.ErrInvalid},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.svc.Register(context.Background(), tc.in)
			require.ErrorIs(t, err, tc.kind)
		})
	}
}

func TestLoginIssuesValidToken(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	u := register(t, f)

	tok, err := f.svc.Login(ctx, "ADA@example.com", "hunter22")
	require.NoError(t, err)
	assert.Equal(t, u.ID, tok.UserID)
	assert.Equal(t, "ada", tok.Username)

	sess, err := f.mw.ValidateJWT(ctx, tok.Token)
	require.NoError(t, err)
	assert.Equal(t, u.ID, sess.UserID)
	assert.NotEmpty(t, sess.TokenID)

	_, err = f.svc.Login(ctx, "ada@example.com", "wrong-password")
	require.ErrorIs(t, err, models.ErrUnauthorized)
	_, err = f.svc.Login(ctx, "nobody@example.com", "hunter22")
	require.ErrorIs(t, err, models.ErrUnauthorized)
}

func TestLogoutRevokesToken(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	register(t, f)

	tok, err := f.svc.Login(ctx, "ada@example.com", "hunter22")
	require.NoError(t, err)
	sess, err := f.mw.ValidateJWT(ctx, tok.Token)
	require.NoError(t, err)

	require.NoError(t, f.svc.Logout(ctx, sess))
	_, err = f.mw.ValidateJWT(ctx, tok.Token)
	require.Error(t, err)

	other, err := f.svc.Login(ctx, "ada@example.com", "hunter22")
	require.NoError(t, err)
	_, err = f.mw.ValidateJWT(ctx, other.Token)
	require.NoError(t, err, "a fresh sign-in is unaffected")
}

func TestPasswordReset(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	register(t, f)

	require.NoError(t, f.svc.RequestPasswordReset(ctx, "ada@example.com"))
	token := f.mail.token("ada@example.com")
	require.NotEmpty(t, token)

	require.ErrorIs(t, f.svc.ResetPassword(ctx, "not-the-token", "newpass1"), models.ErrInvalid)
	require.NoError(t, f.svc.ResetPassword(ctx, token, "newpass1"))
	require.ErrorIs(t, f.svc.ResetPassword(ctx, token, "newpass2"), models.ErrInvalid, "tokens are single use")

	_, err := f.svc.Login(ctx, "ada@example.com", "hunter22")
	require.ErrorIs(t, err, models.ErrUnauthorized)
	_, err = f.svc.Login(ctx, "ada@example.com", "newpass1")
	require.NoError(t, err)
}

func TestPasswordResetExpires(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	register(t, f)

	require.NoError(t, f.svc.RequestPasswordReset(ctx, "ada@example.com"))
	token := f.mail.token("ada@example.com")

	f.svc.now = func() time.Time { return time.Now().Add(2 * resetTokenTTL) }
	require.ErrorIs(t, f.svc.ResetPassword(ctx, token, "newpass1"), models.ErrInvalid)

	ok, err := docstore.Exists(ctx, f.store, docstore.PasswordResetPath(hashToken(token)))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPasswordResetUnknownEmail(t *testing.T) {
	f := setup(t)
	require.NoError(t, f.svc.RequestPasswordReset(context.Background(), "ghost@example.com"))
	assert.Empty(t, f.mail.token("ghost@example.com"))
}

func TestHandlersRoundTrip(t *testing.T) {
	f := setup(t)
	h := NewHandlers(f.svc, nil)

	post := func(handle func(http.ResponseWriter, *http.Request), body string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		handle(rec, httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString(body)))
		return rec
	}
	rec := post(func(w http.ResponseWriter, r *http.Request) { h.Register(w, r, nil) },
		`{"email":"grace@example.com","password":"cobol60","username":"grace"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = post(func(w http.ResponseWriter, r *http.Request) { h.Register(w, r, nil) },
		`{"email":"grace@example.com","password":"cobol60","username":"grace"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = post(func(w http.ResponseWriter, r *http.Request) { h.Login(w, r, nil) },
		`{"email":"grace@example.com","password":"cobol60"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var tok Token
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tok))
	assert.NotEmpty(t, tok.Token)

	rec = post(func(w http.ResponseWriter, r *http.Request) { h.Login(w, r, nil) }, `{"email":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = post(func(w http.ResponseWriter, r *http.Request) { h.Logout(w, r, nil) }, ``)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = post(func(w http.ResponseWriter, r *http.Request) { h.ForgotPassword(w, r, nil) }, `{"email":"grace@example.com"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, f.mail.token("grace@example.com"))
}
