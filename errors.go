package gqlcache

import (
	"errors"

	"github.com/surrealdb/gqlcache.go/pkg/constants"
)

var (
	// ErrNoSubscriber is returned by RequestSubscription when the transport cannot stream.
	ErrNoSubscriber = errors.New("connection does not support subscriptions")
	// ErrUnknownConnection is returned by NewPaginator when the operation has no
	// field with the requested @connection key.
	ErrUnknownConnection = errors.New("no @connection with this key")
	// ErrNotMutation is returned by CommitMutation for queries and subscriptions.
	ErrNotMutation = errors.New("operation is not a mutation")
	// ErrNotSubscription is returned by RequestSubscription for queries and mutations.
	ErrNotSubscription = errors.New("operation is not a subscription")
)

// Re-exported failure kinds so callers can match them without importing pkg/constants.
var (
	ErrNetworkUnavailable = constants.ErrNetworkUnavailable
	ErrTimeout            = constants.ErrTimeout
	ErrServerError        = constants.ErrServerError
	ErrMalformedResponse  = constants.ErrMalformedResponse
	ErrConfiguration      = constants.ErrConfiguration
	ErrStaleGeneration    = constants.ErrStaleGeneration
)
