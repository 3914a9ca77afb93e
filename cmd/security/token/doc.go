// Package token issues and verifies the stateless access tokens used by the
// HTTP API.
//
// It is the single source of truth for access-token behavior.
//
// Design goals:
// - HS256 JWTs with a numeric subject (the user id) and a bounded lifetime.
// - Verification pins the signing method; "none" and asymmetric algs are rejected.
// - A minimum secret size is enforced at construction, not at call sites.
package token
