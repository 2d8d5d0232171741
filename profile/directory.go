package profile

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"wordcraft/docstore"
	"wordcraft/models"
	"wordcraft/rdx"
)

// Directory resolves user ids to usernames, reading through the redis
// "users" hash.
type Directory struct {
	store docstore.Store
	cache *rdx.Cache
	log   *zap.Logger
}

func NewDirectory(store docstore.Store, cache *rdx.Cache, log *zap.Logger) *Directory {
	if log == nil {
		log = zap.NewNop()
	}
	return &Directory{store: store, cache: cache, log: log}
}

// Username returns "" without error for unknown users.
func (d *Directory) Username(ctx context.Context, userID string) (string, error) {
	if !docstore.ValidID(userID) {
		return "", nil
	}
	if d.cache != nil {
		name, ok, err := d.cache.Username(ctx, userID)
		if err != nil {
			d.log.Warn("username cache read failed", zap.String("userId", userID), zap.Error(err))
		} else if ok {
			return name, nil
		}
	}

	var u models.User
	err := d.store.Get(ctx, docstore.UserPath(userID), &u)
	if errors.Is(err, docstore.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("load user %s: %w", userID, err)
	}
	d.Remember(ctx, userID, u.Username)
	return u.Username, nil
}

// Remember refreshes the cached name after a sign-up or profile edit.
func (d *Directory) Remember(ctx context.Context, userID, username string) {
	if d.cache == nil || username == "" {
		return
	}
	if err := d.cache.SetUsername(ctx, userID, username); err != nil {
		d.log.Warn("username cache write failed", zap.String("userId", userID), zap.Error(err))
	}
}
