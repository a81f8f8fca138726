// Package credential registers client identities and authenticates their
// shared secrets.
//
// Secrets are never stored. Hasher derives a 32 byte PBKDF2-HMAC-SHA256 key
// from each secret using a random 16 byte salt (kept as hex) and
// DefaultIterations rounds, and Verify compares in constant time:
//
//	h := credential.NewHasher(0)
//	key, salt, _ := h.Hash("s3cret", "")
//	h.Verify("s3cret", key, salt) // true
//
// Service layers registration, rotation and authentication over a
// store.CredentialStore. Authenticate returns auth.ErrInvalidCredential for
// both unknown identities and wrong secrets, and performs a full derivation
// in either case.
package credential
