package token

import (
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// MinSecretBytes is the minimum HS256 secret length.
	MinSecretBytes = 32

	// DefaultTTL is the access-token lifetime when Config.TTL is zero.
	DefaultTTL = 30 * time.Minute

	maxTTL = 24 * time.Hour
)

// Config configures a Manager.
type Config struct {
	// Secret is the HS256 signing key. Must be at least MinSecretBytes long.
	Secret []byte

	// TTL is the access-token lifetime. Zero means DefaultTTL; values above
	// 24h are clamped.
	TTL time.Duration

	// Issuer is stamped into and required from the iss claim when non-empty.
	Issuer string
}

// Manager issues and verifies HS256 access tokens.
type Manager struct {
	secret []byte
	ttl    time.Duration
	issuer string
}

// NewManager validates cfg and constructs a Manager.
func NewManager(cfg Config) (*Manager, error) {
	if len(cfg.Secret) == 0 {
		return nil, ErrSecretMissing
	}
	if len(cfg.Secret) < MinSecretBytes {
		return nil, ErrSecretTooShort
	}

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if ttl > maxTTL {
		ttl = maxTTL
	}

	return &Manager{
		secret: cfg.Secret,
		ttl:    ttl,
		issuer: cfg.Issuer,
	}, nil
}

// Issue mints a signed access token for userID and returns it with its
// expiry time.
func (m *Manager) Issue(userID int64, now time.Time) (string, time.Time, error) {
	if now.IsZero() {
		now = time.Now().UTC()
	}
	expiresAt := now.Add(m.ttl)

	claims := jwt.RegisteredClaims{
		Subject:   strconv.FormatInt(userID, 10),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}
	if m.issuer != "" {
		claims.Issuer = m.issuer
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// Verify parses and validates an access token and returns the embedded
// user id. Any failure maps to ErrInvalidToken.
func (m *Manager) Verify(tokenString string, now time.Time) (int64, error) {
	if now.IsZero() {
		now = time.Now().UTC()
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(func() time.Time { return now }),
		jwt.WithExpirationRequired(),
	}
	if m.issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.issuer))
	}

	var claims jwt.RegisteredClaims
	parsed, err := jwt.ParseWithClaims(tokenString, &claims, func(*jwt.Token) (any, error) {
		return m.secret, nil
	}, opts...)
	if err != nil || !parsed.Valid {
		return 0, ErrInvalidToken
	}

	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || userID <= 0 {
		return 0, ErrInvalidToken
	}
	return userID, nil
}
