// Package rews provides an auto-reconnecting graphql-transport-ws connection.
//
// Connection wraps connection.WebSocketConnection and adds:
//   - Automatic reconnection when the websocket is lost
//   - Subscription streams that survive reconnects
//
// Basic usage:
//
//	conn := rews.New(
//	    func(ctx context.Context) (*connection.WebSocketConnection, error) {
//	        return connection.NewWebSocketConnection(params), nil
//	    },
//	    5*time.Second, // reconnection check interval
//	    log,
//	)
//	if err := conn.Connect(ctx); err != nil {
//	    // The initial connection is not retried.
//	}
//
//	env := gqlcache.NewEnvironment(conn, gqlcache.WithLogger(log))
//
// Requests executed while the websocket is down fail with
// constants.ErrNetworkUnavailable, so wrapping the Connection in
// connection.Retrying covers the gap until the next reconnect.
//
// A subscription stream started through Connection does not see the network
// failure. It pauses until the subscription has been restarted on the new
// websocket and then continues on the same channel. Events the server
// published in between are not replayed.
package rews
