package identity

import (
	"context"
	"time"
)

// Store is the persistence contract for user accounts.
//
// Error contract:
//   - CreateUser returns ConflictError on username/email collisions.
//   - Lookups return NotFoundError for missing rows.
//   - Validation failures are OpError with Kind ErrInvalidInput.
type Store interface {
	// CreateUser registers a new account and returns the stored row.
	CreateUser(ctx context.Context, in CreateUserInput) (User, error)

	// UserByID loads one account.
	UserByID(ctx context.Context, id int64) (User, error)

	// UserByUsername loads one account by normalized username (login path).
	UserByUsername(ctx context.Context, username string) (User, error)

	// UsersByIDs batch-loads accounts; missing ids are simply absent from
	// the result, not an error.
	UsersByIDs(ctx context.Context, ids []int64) (map[int64]User, error)

	// UpdateProfile applies a partial profile update and returns the
	// updated row.
	UpdateProfile(ctx context.Context, in UpdateProfileInput) (User, error)

	// SetOnlineStatus flips the presence flag and stamps last_seen_at.
	SetOnlineStatus(ctx context.Context, userID int64, online bool, now time.Time) (User, error)

	// Close releases store resources. Pool-backed stores do not own their
	// pool and treat this as a no-op.
	Close() error
}
