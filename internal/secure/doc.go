// Package secure provides memory-safe handling of session tokens.
//
// This package wraps the memguard library so that a token issued by the
// secret backend is only ever held encrypted in memory:
//
//   - Encrypted at rest in memory (XSalsa20Poly1305)
//   - Protected from swapping via mlock
//   - Dropped when the owning session is disposed
//
// Tokens are never written to disk. A TokenCache lives exactly as long as the
// session that owns it.
//
// # Usage
//
//	cache := secure.NewTokenCache()
//	cache.Set("hvs.xxx", true, time.Hour, time.Now())
//	id, ok := cache.ID()
//	defer cache.Clear()
//
// It does NOT protect against:
//
//   - Attackers with root access to the running process
//   - Hardware-level attacks (cold boot, DMA)
//   - The plaintext copy handed to the backend HTTP client
package secure
