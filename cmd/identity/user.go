package identity

import "time"

// User is the account row. PasswordHash is the PHC-encoded Argon2id hash;
// API layers must never serialize it.
type User struct {
	ID           int64
	Username     string
	Email        string
	PasswordHash string

	DisplayName *string
	AvatarURL   *string

	IsOnline   bool
	LastSeenAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// CreateUserInput carries registration data. Username and Email are
// normalized case-insensitively before uniqueness checks; Password is
// hashed inside CreateUser.
type CreateUserInput struct {
	Username    string
	Email       string
	Password    string
	DisplayName *string
	Now         time.Time
}

// UpdateProfileInput is a partial profile update; nil fields stay unchanged.
type UpdateProfileInput struct {
	UserID      int64
	DisplayName *string
	AvatarURL   *string
	Now         time.Time
}
