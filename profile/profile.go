// Package profile reads and edits the signed-in user's profile.
package profile

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"wordcraft/blob"
	"wordcraft/docstore"
	"wordcraft/models"
)

type Service struct {
	store docstore.Store
	blobs blob.Store
	names *Directory
	log   *zap.Logger
}

func NewService(store docstore.Store, blobs blob.Store, names *Directory, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{store: store, blobs: blobs, names: names, log: log}
}

func (s *Service) Get(ctx context.Context, userID string) (models.User, error) {
	if !docstore.ValidID(userID) {
		return models.User{}, fmt.Errorf("%w: bad user id", models.ErrInvalid)
	}
	var u models.User
	if err := s.store.Get(ctx, docstore.UserPath(userID), &u); err != nil {
		return models.User{}, fmt.Errorf("load profile: %w", err)
	}
	u.ID = userID
	return u, nil
}

// Edit applies the non-empty fields of upd and, when picture is given,
// replaces the profile picture. A new email moves the sign-in credential.
func (s *Service) Edit(ctx context.Context, userID string, upd models.ProfileUpdate, picture []byte) (models.User, error) {
	current, err := s.Get(ctx, userID)
	if err != nil {
		return models.User{}, err
	}

	fields := map[string]any{}
	if v := strings.TrimSpace(upd.Username); v != "" && v != current.Username {
		fields["username"] = v
	}
	if v := strings.TrimSpace(upd.Phone); v != "" {
		fields["phone"] = v
	}
	if v := strings.TrimSpace(upd.DOB); v != "" {
		fields["dob"] = v
	}
	if v := strings.TrimSpace(upd.Gender); v != "" {
		fields["gender"] = v
	}

	newEmail := ""
	if upd.Email != "" {
		newEmail = models.NormalizeEmail(upd.Email)
		if !models.ValidEmail(newEmail) {
			return models.User{}, fmt.Errorf("%w: invalid email", models.ErrInvalid)
		}
		if newEmail == current.Email {
			newEmail = ""
		} else {
			fields["email"] = newEmail
		}
	}

	if len(picture) > 0 {
		if s.blobs == nil {
			return models.User{}, errors.New("edit profile: no blob store configured")
		}
		h, err := s.blobs.Upload(ctx, blob.ProfilePicturePath(userID), picture)
		if err != nil {
			return models.User{}, fmt.Errorf("upload profile picture: %w", err)
		}
		fields["profilePictureUrl"] = s.blobs.PublicURL(h)
		fields["profileThumbnailUrl"] = s.blobs.ThumbnailURL(h)
	}

	if len(fields) == 0 {
		return current, nil
	}

	err = s.store.RunTransaction(ctx, func(ctx context.Context) error {
		return s.apply(ctx, current, newEmail, fields)
	})
	if errors.Is(err, docstore.ErrNoTransactions) {
		err = s.apply(ctx, current, newEmail, fields)
	}
	if err != nil {
		return models.User{}, fmt.Errorf("edit profile: %w", err)
	}

	if name, ok := fields["username"].(string); ok && s.names != nil {
		s.names.Remember(ctx, userID, name)
	}
	return s.Get(ctx, userID)
}

func (s *Service) apply(ctx context.Context, current models.User, newEmail string, fields map[string]any) error {
	if newEmail != "" {
		if err := s.moveCredential(ctx, current, newEmail); err != nil {
			return err
		}
	}
	return s.store.Update(ctx, docstore.UserPath(current.ID), fields)
}

func (s *Service) moveCredential(ctx context.Context, u models.User, newEmail string) error {
	taken, err := docstore.Exists(ctx, s.store, docstore.CredentialPath(newEmail))
	if err != nil {
		return err
	}
	if taken {
		return fmt.Errorf("%w: email already in use", models.ErrConflict)
	}
	if u.Email == "" || !docstore.ValidID(u.Email) {
		return nil
	}

	var cred models.Credential
	err = s.store.Get(ctx, docstore.CredentialPath(u.Email), &cred)
	if errors.Is(err, docstore.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	cred.Email = newEmail
	if err := s.store.Set(ctx, docstore.CredentialPath(newEmail), cred); err != nil {
		return err
	}
	return s.store.Delete(ctx, docstore.CredentialPath(u.Email))
}
