package token

import "errors"

var (
	// ErrSecretMissing reports an empty signing secret.
	ErrSecretMissing = errors.New("token: signing secret is missing")

	// ErrSecretTooShort reports a signing secret below the minimum byte length.
	ErrSecretTooShort = errors.New("token: signing secret is too short")

	// ErrInvalidToken reports a token that failed parsing, signature
	// verification, or time-based claims. Callers get one indistinguishable
	// failure to avoid oracle behavior.
	ErrInvalidToken = errors.New("token: invalid or expired token")
)
