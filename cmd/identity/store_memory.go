package identity

import (
	"context"
	"strings"
	"sync"
	"time"
)

// InMemoryStore implements Store in process memory. It mirrors the Postgres
// contract closely enough for handler tests: case-insensitive uniqueness,
// same error kinds, same partial-update semantics.
type InMemoryStore struct {
	mu     sync.Mutex
	nextID int64
	users  map[int64]*User
}

// NewInMemoryStore constructs an empty in-memory identity store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		nextID: 1,
		users:  make(map[int64]*User),
	}
}

// Close closes the store (noop for in-memory).
func (s *InMemoryStore) Close() error { return nil }

// CreateUser registers a new account.
func (s *InMemoryStore) CreateUser(ctx context.Context, in CreateUserInput) (User, error) {
	const op = "identity.CreateUser"

	if err := ctx.Err(); err != nil {
		return User{}, err
	}

	username := strings.TrimSpace(in.Username)
	email := strings.TrimSpace(in.Email)
	if err := validateRegistration(op, username, email, in.Password); err != nil {
		return User{}, err
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	pwHash, err := HashPassword(in.Password, DefaultArgon2idParams())
	if err != nil {
		return User{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	usernameNorm := NormalizeUsername(username)
	emailNorm := NormalizeEmail(email)
	for _, u := range s.users {
		if NormalizeUsername(u.Username) == usernameNorm {
			return User{}, ConflictError{Op: op, Field: "username"}
		}
		if NormalizeEmail(u.Email) == emailNorm {
			return User{}, ConflictError{Op: op, Field: "email"}
		}
	}

	u := &User{
		ID:           s.nextID,
		Username:     username,
		Email:        email,
		PasswordHash: pwHash,
		DisplayName:  in.DisplayName,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	s.nextID++
	s.users[u.ID] = u
	return *u, nil
}

// UserByID loads one account.
func (s *InMemoryStore) UserByID(ctx context.Context, id int64) (User, error) {
	if err := ctx.Err(); err != nil {
		return User{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u := s.users[id]
	if u == nil {
		return User{}, NotFoundError{Op: "identity.UserByID", Resource: "user"}
	}
	return *u, nil
}

// UserByUsername loads one account by normalized username.
func (s *InMemoryStore) UserByUsername(ctx context.Context, username string) (User, error) {
	if err := ctx.Err(); err != nil {
		return User{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	norm := NormalizeUsername(username)
	for _, u := range s.users {
		if NormalizeUsername(u.Username) == norm {
			return *u, nil
		}
	}
	return User{}, NotFoundError{Op: "identity.UserByUsername", Resource: "user"}
}

// UsersByIDs batch-loads accounts; missing ids are absent from the result.
func (s *InMemoryStore) UsersByIDs(ctx context.Context, ids []int64) (map[int64]User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[int64]User, len(ids))
	for _, id := range ids {
		if u := s.users[id]; u != nil {
			out[id] = *u
		}
	}
	return out, nil
}

// UpdateProfile applies a partial profile update.
func (s *InMemoryStore) UpdateProfile(ctx context.Context, in UpdateProfileInput) (User, error) {
	const op = "identity.UpdateProfile"

	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	if in.UserID <= 0 {
		return User{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "missing user id"}
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u := s.users[in.UserID]
	if u == nil {
		return User{}, NotFoundError{Op: op, Resource: "user"}
	}
	if in.DisplayName != nil {
		u.DisplayName = in.DisplayName
	}
	if in.AvatarURL != nil {
		u.AvatarURL = in.AvatarURL
	}
	u.UpdatedAt = now
	return *u, nil
}

// SetOnlineStatus flips presence and stamps last_seen_at.
func (s *InMemoryStore) SetOnlineStatus(ctx context.Context, userID int64, online bool, now time.Time) (User, error) {
	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u := s.users[userID]
	if u == nil {
		return User{}, NotFoundError{Op: "identity.SetOnlineStatus", Resource: "user"}
	}
	u.IsOnline = online
	u.LastSeenAt = &now
	u.UpdatedAt = now
	return *u, nil
}
