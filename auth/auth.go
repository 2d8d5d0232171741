// Package auth signs users up and in, and issues the session tokens the
// middleware validates.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"wordcraft/docstore"
	"wordcraft/middleware"
	"wordcraft/models"
)

const (
	minPasswordLen = 6
	resetTokenTTL  = time.Hour
)

var errBadCredentials = fmt.Errorf("%w: invalid email or password", models.ErrUnauthorized)

// Revoker remembers logged out token ids until they would have expired.
type Revoker interface {
	RevokeToken(ctx context.Context, tokenID string, ttl time.Duration) error
}

// NameCache is told about new usernames.
type NameCache interface {
	Remember(ctx context.Context, userID, username string)
}

type Option func(*Service)

func WithRevoker(r Revoker) Option { return func(s *Service) { s.revoker = r } }

func WithNameCache(c NameCache) Option { return func(s *Service) { s.names = c } }

func WithMailer(m Mailer) Option { return func(s *Service) { s.mailer = m } }

// WithHashCost overrides bcrypt.DefaultCost.
func WithHashCost(cost int) Option { return func(s *Service) { s.cost = cost } }

type Service struct {
	store    docstore.Store
	secret   []byte
	tokenTTL time.Duration
	revoker  Revoker
	names    NameCache
	mailer   Mailer
	cost     int
	log      *zap.Logger
	now      func() time.Time
}

func NewService(store docstore.Store, secret []byte, tokenTTL time.Duration, log *zap.Logger, opts ...Option) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Service{
		store:    store,
		secret:   secret,
		tokenTTL: tokenTTL,
		cost:     bcrypt.DefaultCost,
		log:      log,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.mailer == nil {
		s.mailer = LogMailer{Log: log}
	}
	return s
}

type Registration struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Username string `json:"username"`
	Phone    string `json:"phone"`
	DOB      string `json:"dob"`
	Gender   string `json:"gender"`
}

// Token is a signed session token and the user it was issued to.
type Token struct {
	Token     string    `json:"token"`
	UserID    string    `json:"userId"`
	Username  string    `json:"username"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func (s *Service) Register(ctx context.Context, in Registration) (models.User, error) {
	email := models.NormalizeEmail(in.Email)
	username := strings.TrimSpace(in.Username)
	switch {
	case !models.ValidEmail(email):
		return models.User{}, fmt.Errorf("%w: invalid email", models.ErrInvalid)
	case len(in.Password) < minPasswordLen:
		return models.User{}, fmt.Errorf("%w: password must be at least %d characters", models.ErrInvalid, minPasswordLen)
	case username == "":
		return models.User{}, fmt.Errorf("%w: username is required", models.ErrInvalid)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.cost)
	if err != nil {
		return models.User{}, fmt.Errorf("hash password: %w", err)
	}

	u := models.User{
		ID:        uuid.NewString(),
		Username:  username,
		Email:     email,
		Phone:     strings.TrimSpace(in.Phone),
		DOB:       strings.TrimSpace(in.DOB),
		Gender:    strings.TrimSpace(in.Gender),
		CreatedAt: s.now().UTC().Format(time.RFC3339),
	}
	cred := models.Credential{UserID: u.ID, Email: email, PasswordHash: string(hash)}

	create := func(ctx context.Context) error {
		taken, err := docstore.Exists(ctx, s.store, docstore.CredentialPath(email))
		if err != nil {
			return err
		}
		if taken {
			return fmt.Errorf("%w: email already registered", models.ErrConflict)
		}
		if err := s.store.Set(ctx, docstore.UserPath(u.ID), u); err != nil {
			return err
		}
		return s.store.Set(ctx, docstore.CredentialPath(email), cred)
	}
	err = s.store.RunTransaction(ctx, create)
	if errors.Is(err, docstore.ErrNoTransactions) {
		err = create(ctx)
	}
	if err != nil {
		return models.User{}, fmt.Errorf("register: %w", err)
	}

	if s.names != nil {
		s.names.Remember(ctx, u.ID, u.Username)
	}
	s.log.Info("user registered", zap.String("userId", u.ID))
	return u, nil
}

func (s *Service) Login(ctx context.Context, email, password string) (Token, error) {
	email = models.NormalizeEmail(email)
	if !models.ValidEmail(email) || password == "" {
		return Token{}, errBadCredentials
	}

	var cred models.Credential
	err := s.store.Get(ctx, docstore.CredentialPath(email), &cred)
	if errors.Is(err, docstore.ErrNotFound) {
		return Token{}, errBadCredentials
	}
	if err != nil {
		return Token{}, fmt.Errorf("login: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(cred.PasswordHash), []byte(password)); err != nil {
		return Token{}, errBadCredentials
	}
	if !docstore.ValidID(cred.UserID) {
		return Token{}, fmt.Errorf("login: credential for %s has no user", email)
	}

	var u models.User
	if err := s.store.Get(ctx, docstore.UserPath(cred.UserID), &u); err != nil {
		return Token{}, fmt.Errorf("login: load user: %w", err)
	}
	u.ID = cred.UserID
	return s.issue(u)
}

func (s *Service) issue(u models.User) (Token, error) {
	now := s.now()
	exp := now.Add(s.tokenTTL)
	claims := &middleware.Claims{
		Username: u.Username,
		UserID:   u.ID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return Token{}, fmt.Errorf("sign token: %w", err)
	}
	return Token{Token: signed, UserID: u.ID, Username: u.Username, ExpiresAt: exp.UTC()}, nil
}

// Logout revokes the session's token for the rest of its lifetime.
func (s *Service) Logout(ctx context.Context, sess middleware.Session) error {
	if s.revoker == nil || sess.TokenID == "" {
		return nil
	}
	ttl := sess.ExpiresAt.Sub(s.now())
	if sess.ExpiresAt.IsZero() {
		ttl = s.tokenTTL
	}
	if ttl <= 0 {
		return nil
	}
	if err := s.revoker.RevokeToken(ctx, sess.TokenID, ttl); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	return nil
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func newResetToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// RequestPasswordReset mails a reset token to a registered address. Unknown
// addresses succeed silently.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) error {
	email = models.NormalizeEmail(email)
	if !models.ValidEmail(email) {
		return fmt.Errorf("%w: invalid email", models.ErrInvalid)
	}

	var cred models.Credential
	err := s.store.Get(ctx, docstore.CredentialPath(email), &cred)
	if errors.Is(err, docstore.ErrNotFound) {
		s.log.Info("password reset for unknown email")
		return nil
	}
	if err != nil {
		return fmt.Errorf("password reset: %w", err)
	}

	token, err := newResetToken()
	if err != nil {
		return fmt.Errorf("password reset: %w", err)
	}
	reset := models.PasswordReset{
		UserID:    cred.UserID,
		Email:     email,
		ExpiresAt: s.now().Add(resetTokenTTL).UTC().Format(time.RFC3339),
	}
	if err := s.store.Set(ctx, docstore.PasswordResetPath(hashToken(token)), reset); err != nil {
		return fmt.Errorf("password reset: %w", err)
	}
	if err := s.mailer.SendPasswordReset(ctx, email, token); err != nil {
		return fmt.Errorf("password reset: send: %w", err)
	}
	return nil
}

// ResetPassword consumes a reset token and replaces the password hash.
func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) error {
	if len(newPassword) < minPasswordLen {
		return fmt.Errorf("%w: password must be at least %d characters", models.ErrInvalid, minPasswordLen)
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return fmt.Errorf("%w: invalid or expired reset token", models.ErrInvalid)
	}
	path := docstore.PasswordResetPath(hashToken(token))

	var reset models.PasswordReset
	err := s.store.Get(ctx, path, &reset)
	if errors.Is(err, docstore.ErrNotFound) {
		return fmt.Errorf("%w: invalid or expired reset token", models.ErrInvalid)
	}
	if err != nil {
		return fmt.Errorf("reset password: %w", err)
	}
	exp, err := time.Parse(time.RFC3339, reset.ExpiresAt)
	if err != nil || !s.now().Before(exp) || !models.ValidEmail(reset.Email) {
		if err := s.store.Delete(ctx, path); err != nil {
			s.log.Warn("expired reset token not deleted", zap.Error(err))
		}
		return fmt.Errorf("%w: invalid or expired reset token", models.ErrInvalid)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), s.cost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	apply := func(ctx context.Context) error {
		if err := s.store.Update(ctx, docstore.CredentialPath(reset.Email), map[string]any{"passwordHash": string(hash)}); err != nil {
			return err
		}
		return s.store.Delete(ctx, path)
	}
	err = s.store.RunTransaction(ctx, apply)
	if errors.Is(err, docstore.ErrNoTransactions) {
		err = apply(ctx)
	}
	if err != nil {
		return fmt.Errorf("reset password: %w", err)
	}
	s.log.Info("password reset", zap.String("userId", reset.UserID))
	return nil
}
