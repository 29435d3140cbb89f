package rews

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/surrealdb/gqlcache.go/pkg/connection"
	"github.com/surrealdb/gqlcache.go/pkg/constants"
	"github.com/surrealdb/gqlcache.go/pkg/logger"
)

type State int

const (
	StateUnknown State = iota
	StateDisconnected
	StateConnecting
	StateConnected
	StateClosing
	StateClosed
)

func (state State) String() string {
	switch state {
	case StateUnknown:
		return "Unknown"
	case StateDisconnected:
		return "Disconnected"
	case StateConnecting:
		return "Connecting"
	case StateConnected:
		return "Connected"
	case StateClosing:
		return "Closing"
	case StateClosed:
		return "Closed"
	default:
		return "InvalidState"
	}
}

func (s State) validateTransitionTo(newState State) error {
	switch s {
	case StateDisconnected:
		switch newState {
		case StateConnecting, StateDisconnected, StateClosing:
			return nil
		}
	case StateConnecting:
		switch newState {
		case StateConnected, StateDisconnected:
			return nil
		}
	case StateConnected:
		switch newState {
		// Connected to Connecting happens when the connection is lost
		// after it was established.
		case StateConnecting, StateClosing, StateDisconnected:
			return nil
		}
	case StateClosing:
		if newState == StateClosed {
			return nil
		}
	}

	return fmt.Errorf("invalid state transition from %v to %v", s, newState)
}

// Connection is a graphql-transport-ws connection that reconnects when the
// underlying websocket is lost. Subscriptions started through it survive
// reconnects: their streams pause while the connection is down and resume
// once the subscription is restarted on the new websocket.
type Connection struct {
	// NewFunc creates an unconnected websocket connection. It is called for
	// the initial connection and for every reconnect.
	NewFunc func(context.Context) (*connection.WebSocketConnection, error)

	// CheckInterval is how often the connection is checked and, when lost,
	// reconnected. Default is 5 seconds.
	CheckInterval time.Duration

	// connCloseCh is closed to stop the reconnection loop.
	connCloseCh chan int
	// reconnLoopCloseCh is closed by the reconnection loop when it returns.
	reconnLoopCloseCh chan int
	loopStarted       atomic.Bool
	loopOnce          sync.Once
	stopOnce          sync.Once

	logger logger.Logger

	state   State
	stateMu sync.Mutex

	// current is the live websocket. connected is closed and replaced every
	// time current changes, waking routes waiting to resubscribe.
	current   *connection.WebSocketConnection
	connected chan struct{}
	connMu    sync.RWMutex

	routes *router
}

var (
	_ connection.Connection = (*Connection)(nil)
	_ connection.Subscriber = (*Connection)(nil)
)

// New creates a reconnecting connection. Nothing is dialed until Connect.
func New(
	newConn func(context.Context) (*connection.WebSocketConnection, error),
	checkInterval time.Duration,
	log logger.Logger,
) *Connection {
	log = logger.OrNop(log)
	return &Connection{
		NewFunc:           newConn,
		CheckInterval:     checkInterval,
		connCloseCh:       make(chan int),
		reconnLoopCloseCh: make(chan int),
		logger:            log,
		state:             StateDisconnected,
		connected:         make(chan struct{}),
		routes:            newRouter(log),
	}
}

func (c *Connection) transitionTo(newState State) error {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()

	if err := c.state.validateTransitionTo(newState); err != nil {
		return err
	}

	c.state = newState
	c.logger.Debug("rews.Connection state transitioned", "new_state", newState)

	return nil
}

// State returns the current state of the connection.
func (c *Connection) State() State {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.state
}

// IsClosed returns true once Close was called. A closed Connection cannot
// be reconnected.
func (c *Connection) IsClosed() bool {
	return c.State() == StateClosed
}

// Connect establishes the websocket connection and starts the reconnection
// loop.
//
// A failed initial connection is returned to the caller and is not retried:
// it usually means a wrong endpoint or rejected credentials.
func (c *Connection) Connect(ctx context.Context) error {
	if err := c.transitionTo(StateConnecting); err != nil {
		return err
	}

	conn, err := c.NewFunc(ctx)
	if err != nil {
		c.disconnected()
		return fmt.Errorf("rews.Connection failed to create a new connection: %w", err)
	}

	if err := conn.Connect(ctx); err != nil {
		c.disconnected()
		return fmt.Errorf("rews.Connection failed to connect: %w", err)
	}

	c.setCurrent(conn)

	c.loopOnce.Do(func() {
		c.logger.Debug("rews.Connection is starting reconnection loop")
		c.loopStarted.Store(true)
		go c.reconnectionLoop()
	})

	if err := c.transitionTo(StateConnected); err != nil {
		panic(fmt.Sprintf("BUG: rews.Connection failed to transition to connected state: %v", err))
	}

	return nil
}

func (c *Connection) disconnected() {
	if err := c.transitionTo(StateDisconnected); err != nil {
		c.logger.Error("BUG: rews.Connection failed to transition to disconnected state", "error", err)
	}
}

func (c *Connection) setCurrent(conn *connection.WebSocketConnection) {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	c.current = conn
	close(c.connected)
	c.connected = make(chan struct{})
}

// conn returns the live websocket, which may be nil or lost, and a channel
// closed when it is replaced.
func (c *Connection) conn() (*connection.WebSocketConnection, <-chan struct{}) {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.current, c.connected
}

// Execute runs req on the live websocket. While the connection is down it
// fails with a network error like any other lost connection.
func (c *Connection) Execute(ctx context.Context, req *connection.Request) (*connection.Response, error) {
	conn, _ := c.conn()
	if conn == nil {
		return nil, constants.ErrNotConnected
	}
	return conn.Execute(ctx, req)
}

// Subscribe starts req on the live websocket. The returned stream is
// restarted on every new websocket until the server completes it, it ends
// with an error, ctx is done, or it is closed.
func (c *Connection) Subscribe(ctx context.Context, req *connection.Request) (*connection.Stream, error) {
	conn, _ := c.conn()
	if conn == nil {
		return nil, constants.ErrNotConnected
	}
	up, err := conn.Subscribe(ctx, req)
	if err != nil {
		return nil, err
	}
	return c.routes.add(ctx, c, req, up, conn), nil
}

// Subscriptions returns how many subscription streams are open.
func (c *Connection) Subscriptions() int {
	return c.routes.len()
}

func (c *Connection) reconnect(ctx context.Context) error {
	if err := c.Connect(ctx); err != nil {
		c.logger.Error("rews.Connection failed to reconnect", "error", err)
		return fmt.Errorf("rews.Connection failed to reconnect: %w", err)
	}
	c.logger.Info("rews.Connection reconnected", "subscriptions", c.routes.len())
	return nil
}

// Close stops the reconnection loop, ends every subscription stream and
// closes the websocket.
//
// Once Close returns the reconnection loop has stopped. The websocket itself
// is closed best-effort within ctx.
func (c *Connection) Close(ctx context.Context) error {
	c.stopOnce.Do(func() {
		close(c.connCloseCh)
		if c.loopStarted.Load() {
			<-c.reconnLoopCloseCh
		}
	})

	if err := c.transitionTo(StateClosing); err != nil {
		return fmt.Errorf("rews.Connection is already closing or closed: %w", err)
	}

	defer func() {
		if err := c.transitionTo(StateClosed); err != nil {
			c.logger.Error("BUG: rews.Connection failed to transition to closed state", "error", err)
		}
	}()

	c.routes.stopAll()

	conn, _ := c.conn()
	if conn == nil || conn.IsClosed() {
		return nil
	}
	return conn.Close(ctx)
}

func (c *Connection) reconnectionLoop() {
	checkInterval := 5 * time.Second
	if c.CheckInterval > 0 {
		checkInterval = c.CheckInterval
	}

	defer close(c.reconnLoopCloseCh)

	for {
		select {
		case <-c.connCloseCh:
			return
		case <-time.After(checkInterval):
		}

		conn, _ := c.conn()
		if conn != nil && !conn.IsClosed() {
			continue
		}

		c.logger.Info("rews.Connection is attempting to reconnect")
		ctx, cancel := context.WithTimeout(context.Background(), checkInterval*4)
		// Failures are logged and retried on the next tick.
		_ = c.reconnect(ctx)
		cancel()
	}
}
