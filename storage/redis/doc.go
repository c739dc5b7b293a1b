// Package redis provides a Redis storage backend built on github.com/redis/go-redis/v9.
//
// It is suitable for deployments that run several engine instances against shared state.
// Records are stored as JSON, optionally sealed with security.Encryptor, and carry a TTL
// of their expiry plus a clock skew grace period so Redis purges them on its own.
//
// # Key Schema
//
// All keys use a configurable prefix (default "oauth2:"):
//
//	{prefix}client:{clientID}    -> JSON(client)
//	{prefix}user:{username}      -> JSON(user + password hash)
//	{prefix}access:{token}       -> JSON(token)
//	{prefix}refresh:{token}      -> JSON(token)
//	{prefix}code:{code}          -> JSON(authorization code)
//
// # Atomic Operations
//
// Authorization codes are consumed with GETDEL, so exactly one of several concurrent
// callers observes the code. Refresh token rotation runs as a Lua script that deletes
// the old refresh key and writes the new token only if the delete removed something.
package redis
