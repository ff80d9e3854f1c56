// Package profiles resolves user display data for message authors and presence events.
package profiles

import (
	"context"
	"time"

	"github.com/hashicorp/go-hclog"
	lru "github.com/hashicorp/golang-lru"
	"github.com/tcriess/stride-chat/errs"
	"github.com/tcriess/stride-chat/persistence"
	"github.com/tcriess/stride-chat/types"
)

const defaultCacheSize = 1024

// Directory fronts the user table with an ARC cache. Entries are replaced on
// every write through the directory; writes made elsewhere show up once the
// entry is evicted or invalidated.
type Directory struct {
	users  persistence.Users
	cache  *lru.ARCCache
	logger hclog.Logger
}

func NewDirectory(users persistence.Users, size int, logger hclog.Logger) (*Directory, error) {
	if size <= 0 {
		size = defaultCacheSize
	}
	cache, err := lru.NewARC(size)
	if err != nil {
		return nil, err
	}
	return &Directory{users: users, cache: cache, logger: logger.Named("profiles")}, nil
}

// User returns the stored profile; unknown users get an empty profile carrying only the id.
func (d *Directory) User(ctx context.Context, userId string) (*types.User, error) {
	if v, ok := d.cache.Get(userId); ok {
		return v.(*types.User), nil
	}
	user, err := d.users.GetUser(ctx, userId)
	if errs.IsNotFound(err) {
		user = &types.User{Id: userId, Tags: types.JSONStringMap{}}
	} else if err != nil {
		return nil, err
	}
	d.cache.Add(userId, user)
	return user, nil
}

// Snapshot is the author data copied into a message at send time.
func (d *Directory) Snapshot(ctx context.Context, userId string) (types.AuthorSnapshot, error) {
	user, err := d.User(ctx, userId)
	if err != nil {
		return types.AuthorSnapshot{}, err
	}
	return user.Snapshot(), nil
}

// Store writes the profile and refreshes the cache.
func (d *Directory) Store(ctx context.Context, user *types.User) error {
	user.UpdatedAt = time.Now().UTC()
	if err := d.users.StoreUser(ctx, user); err != nil {
		d.cache.Remove(user.Id)
		return err
	}
	d.cache.Add(user.Id, user)
	return nil
}

// Touch records that the user was seen online.
func (d *Directory) Touch(ctx context.Context, userId string) {
	user, err := d.User(ctx, userId)
	if err != nil {
		d.logger.Warn("could not load user", "user", userId, "error", err)
		return
	}
	updated := *user
	updated.LastOnline = time.Now().UTC()
	if err := d.Store(ctx, &updated); err != nil {
		d.logger.Warn("could not store user", "user", userId, "error", err)
	}
}

func (d *Directory) Invalidate(userId string) {
	d.cache.Remove(userId)
}
