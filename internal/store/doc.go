// Package store provides credential and audit persistence for the gateway.
//
// # Architecture
//
// Two narrow interfaces cover the gateway's durable state:
//
//   - CredentialStore: registered identities with their PBKDF2 material
//   - AuditStore: an append-only log of credential and token actions
//
// SQLiteStore implements both on modernc.org/sqlite. MemoryStore implements
// both in process and is used when database.path is empty, and in tests.
//
// Conversations are not persisted. They live in memory in the
// conversation package.
//
// # SQLite Configuration
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA busy_timeout=5000;
//
// # Error Handling
//
//   - ErrNotFound: the identity is not registered
//   - ErrExists: the identity is already registered
//
// All methods accept context.Context for cancellation support.
package store
