package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/julienschmidt/httprouter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var secret = []byte("test-secret")

type revokedSet map[string]bool

func (r revokedSet) IsRevoked(_ context.Context, id string) (bool, error) { return r[id], nil }

func sign(t *testing.T, key []byte, userID, jti string, ttl time.Duration) string {
	t.Helper()
	claims := Claims{
		Username: "ada",
		UserID:   userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
	require.NoError(t, err)
	return s
}

func echoSession(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	sess, ok := SessionFrom(r.Context())
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	w.Write([]byte(sess.UserID))
}

func serve(h httprouter.Handle, token string) *httptest.ResponseRecorder {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	if token != "" {
		r.Header.Set("Authorization", token)
	}
	rec := httptest.NewRecorder()
	h(rec, r, nil)
	return rec
}

func TestAuthenticate(t *testing.T) {
	auth := NewAuth(secret, revokedSet{"gone": true})
	h := auth.Authenticate(echoSession)

	cases := []struct {
		name  string
		token string
		code  int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"no bearer prefix", sign(t, secret, "u1", "a", time.Hour), http.StatusUnauthorized},
		{"wrong key", "Bearer " + sign(t, []byte("other"), "u1", "a", time.Hour), http.StatusUnauthorized},
		{"expired", "Bearer " + sign(t, secret, "u1", "a", -time.Minute), http.StatusUnauthorized},
		{"revoked", "Bearer " + sign(t, secret, "u1", "gone", time.Hour), http.StatusUnauthorized},
		{"valid", "Bearer " + sign(t, secret, "u1", "a", time.Hour), http.StatusOK},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			rec := serve(h, c.token)
			assert.Equal(t, c.code, rec.Code)
			if c.code == http.StatusOK {
				assert.Equal(t, "u1", rec.Body.String())
			}
		})
	}
}

func TestOptionalAuthPassesAnonymous(t *testing.T) {
	auth := NewAuth(secret, nil)
	h := auth.OptionalAuth(echoSession)

	assert.Equal(t, http.StatusNoContent, serve(h, "").Code)
	assert.Equal(t, http.StatusNoContent, serve(h, "Bearer junk").Code)

	rec := serve(h, "Bearer "+sign(t, secret, "u2", "b", time.Hour))
	assert.Equal(t, "u2", rec.Body.String())
}

func TestSessionFromEmptyContext(t *testing.T) {
	_, ok := SessionFrom(context.Background())
	assert.False(t, ok)
}
