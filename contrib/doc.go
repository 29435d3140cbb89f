// Package contrib provides tooling and utilities around the gqlcache
// client that are not part of the core library.
//
// Note that this package is outside of the backward compatibility guarantees
// provided by the core module. Changes to this package may introduce breaking
// changes without following semantic versioning.
//
// [github.com/surrealdb/gqlcache.go/contrib/selgen] compiles GraphQL
// documents against a schema into the selection artifacts the store reads
// and writes with, and ships the selgen command. The
// [github.com/surrealdb/gqlcache.go/contrib/rews] package offers a
// reconnecting websocket connection whose subscriptions survive reconnects.
// [github.com/surrealdb/gqlcache.go/contrib/testenv] starts a fake GraphQL
// server and builds environments against it for tests and examples.
package contrib
