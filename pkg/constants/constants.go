package constants

import "time"

const (
	// RequestIDLength size of id sent on WS request
	RequestIDLength = 16
	// CloseMessageCode identifier the message id for a close request
	CloseMessageCode = 1000
	// DefaultWSTimeout is the default timeout for receiving a response after a request was written.
	DefaultWSTimeout = 30 * time.Second
	// DefaultHTTPTimeout is the default timeout of the HTTP client used by HTTPConnection.
	DefaultHTTPTimeout = 10 * time.Second
	// DefaultConnectionInitTimeout bounds the graphql-transport-ws connection_init/ack handshake.
	DefaultConnectionInitTimeout = 10 * time.Second
	// GraphQLTransportWSProtocol is the websocket sub-protocol spoken by WebSocketConnection.
	GraphQLTransportWSProtocol = "graphql-transport-ws"
	// DefaultGraphQLPath is appended to the base URL when the endpoint URL has no path.
	DefaultGraphQLPath = "/graphql"
)

var (
	WebsocketScheme       = "ws"
	WebsocketSecureScheme = "wss"
	HTTPScheme            = "http"
	HTTPSecureScheme      = "https"
)
