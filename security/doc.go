// Package security provides secret hashing, encryption at rest, rate limiting,
// audit logging and secure header management for the engine.
//
// # Rate Limiting
//
// RateLimiter provides per-identifier token buckets (golang.org/x/time/rate) with LRU
// eviction once MaxEntries identifiers are tracked, plus a background sweep of idle
// entries. The engine uses it to throttle failure audit logs per client and IP, and the
// HTTP adapter uses a second instance to limit token endpoint requests per client IP.
//
//	limiter := security.NewRateLimiter(10, 20, logger)
//	defer limiter.Stop()
//
//	if !limiter.Allow(clientIP) {
//	    return http.StatusTooManyRequests
//	}
//
// # Secrets
//
// Client secrets and user passwords are stored as bcrypt hashes. CompareSecret always
// performs a bcrypt comparison, even for unknown clients, so response timing does not
// reveal whether a client exists.
//
// # Encryption at rest
//
// Encryptor seals storage payloads with AES-256-GCM. The Redis backend uses it for
// token and code records when a key is configured.
package security
