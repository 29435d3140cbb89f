package constants

import "errors"

// Failure kinds surfaced by the network executor.
// Check them with errors.Is.
var (
	ErrNetworkUnavailable = errors.New("network unavailable")
	ErrTimeout            = errors.New("timeout")
	ErrServerError        = errors.New("server returned errors")
	ErrMalformedResponse  = errors.New("malformed response")
)

var (
	// ErrConfiguration is wrapped by schema registry misuse. It is fatal at startup.
	ErrConfiguration = errors.New("configuration error")
	// ErrStaleGeneration marks a pagination result discarded because a refetch superseded it.
	ErrStaleGeneration = errors.New("stale pagination generation")
)

var (
	ErrIDInUse            = errors.New("id already in use")
	ErrNoBaseURL          = errors.New("base url not set")
	ErrNoMarshaler        = errors.New("marshaler is not set")
	ErrNoUnmarshaler      = errors.New("unmarshaler is not set")
	ErrNotConnected       = errors.New("connection is not established")
	ErrMethodNotAvailable = errors.New("method not available on this connection")
	ErrUnsupportedScheme  = errors.New("unsupported endpoint url scheme")
	// ErrSubscriptionOverflow ends a websocket operation whose consumer fell
	// behind the connection's read loop.
	ErrSubscriptionOverflow = errors.New("subscription buffer overflowed")
)
