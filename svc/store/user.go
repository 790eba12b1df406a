package store

import (
	"context"
	"strings"

	"github.com/pkg/errors"

	"snipbin/metrics"
	"snipbin/pkg/domain"
	"snipbin/svc/db"
	"snipbin/svc/util"
)

// Users translates verified external identity assertions into local
// principals. It is the only place a new local user id is minted. The
// profile is trusted as-is: cryptographic validation of the assertion
// happened upstream in the OAuth exchange.
type Users struct {
	db *db.SQLite
}

func NewUsers(sqlDB *db.SQLite) *Users {
	if sqlDB == nil {
		panic("user store: nil database")
	}
	return &Users{db: sqlDB}
}

// Upsert returns the local user for an external identity, creating the
// row on first login and refreshing cached profile fields plus
// last_login on every subsequent one.
func (u *Users) Upsert(ctx context.Context, profile domain.ExternalProfile) (*domain.User, error) {
	if strings.TrimSpace(profile.ExternalID) == "" {
		return nil, domain.ErrInvalidRequest
	}
	user, err := u.db.UpsertUser(ctx, profile)
	if err != nil {
		return nil, errors.Wrap(err, "upsert user")
	}
	metrics.UserLogins.Inc()
	util.Debug().Int64("user_id", user.ID).Str("login", user.Login).Msg("user upserted")
	return user, nil
}

// Get fetches a user by local id.
func (u *Users) Get(ctx context.Context, id int64) (*domain.User, error) {
	user, err := u.db.GetUser(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return nil, domain.ErrUserNotFound
		}
		return nil, errors.Wrap(err, "get user")
	}
	return user, nil
}
