// Package postgres provides a PostgreSQL storage backend built on pgx/v5.
//
// Call EnsureSchema once at startup to create the tables. Expired rows are not
// removed automatically; run Cleanup periodically (the oauth2d binary does this).
//
// Authorization codes are consumed with DELETE ... RETURNING. Refresh token rotation
// deletes the old refresh row and writes the new token in one transaction, and fails
// with storage.ErrTokenNotFound when the delete affected nothing.
package postgres
