// Package identity owns user accounts: registration, credential
// verification, profile data, and presence flags.
//
// The package is storage-backed (PostgreSQL in production, in-memory for
// tests and local runs) and exposes a narrow Store interface so callers
// never touch SQL. Passwords are hashed with Argon2id in PHC string form;
// plaintext never leaves CreateUser / VerifyPassword.
package identity
