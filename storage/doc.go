// Package storage defines the contract for persisting OAuth clients, users, tokens and
// authorization codes. The engine only ever holds a Store; backends live in subpackages.
//
// Implementations are provided in subpackages:
//   - storage/memory: in-memory storage for development, tests and single instances
//   - storage/redis: Redis storage (go-redis) with optional encryption at rest
//   - storage/postgres: PostgreSQL storage (pgx)
//   - storage/cache: a decorator caching client lookups in front of any Store
//
// storage/storagetest holds the conformance suite every backend runs in its tests.
//
// Optional capabilities (UserStore, ClientUserResolver, ScopeValidator, ScopeVerifier,
// ImplicitTokenSaver) are discovered by type assertion on the Store value.
package storage
