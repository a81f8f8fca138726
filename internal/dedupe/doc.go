// Package dedupe provides a bounded, expiring set of keys. The gateway uses
// it for the token revocation denylist and to reject replayed request ids on
// a session stream.
package dedupe
