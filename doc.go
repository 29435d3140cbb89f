// Package gqlcache is a normalized client cache for GraphQL APIs.
//
// # Environment
//
// An [Environment] ties together a [store.Store] holding normalized records
// and a [connection.Connection] that executes GraphQL requests. There is no
// global instance: every operation takes the Environment it runs against, so
// tests can create as many isolated stores as they need.
//
// Use [FromConfig] to build an Environment from a [Config], or
// [NewEnvironment] to wire one from parts.
//
// # Reading
//
// Screens describe the data they need with a [selection.Operation] or
// fragment selections, usually loaded from artifacts generated by
// [github.com/surrealdb/gqlcache.go/contrib/selgen]. [Environment.FetchQuery]
// executes a query and writes the response into the store.
// [Environment.Subscribe] reads a selection and calls back whenever a later
// write changes one of the fields that read visited.
//
// # Writing
//
// [Environment.CommitMutation] applies an optimistic response before the
// mutation is sent, and rolls it back when the mutation fails.
// [Paginator] loads following pages of a @connection field and merges their
// edges in fetch order.
//
// For websocket endpoints that must survive network failures, consider
// [github.com/surrealdb/gqlcache.go/contrib/rews], which reconnects and
// restarts open subscriptions.
//
// # Cancellation
//
// Requests run to completion even when the caller's context is canceled, so
// their data still reaches the store. Only the completion callbacks are
// skipped.
package gqlcache
