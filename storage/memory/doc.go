// Package memory provides an in-memory implementation of storage.Store.
//
// It also implements storage.UserStore and storage.ClientUserResolver, which makes it
// the backend of choice for tests, development and single-instance deployments.
// All operations are guarded by a single sync.RWMutex; authorization code consumption
// and refresh token rotation are check-and-delete under the write lock.
//
// A background goroutine purges expired records. Expiry is also enforced by the
// engine itself, so a record that outlives its expiry until the next sweep is never
// accepted.
//
//	store := memory.New()
//	defer store.Stop()
//
//	_ = store.SaveClient(ctx, &storage.Client{ID: "app", ...})
//	srv, _ := server.New(store, server.DefaultConfig(), logger)
package memory
