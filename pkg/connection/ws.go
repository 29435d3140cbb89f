package connection

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"
	gorilla "github.com/gorilla/websocket"
	"github.com/surrealdb/gqlcache.go/internal/rand"
	"github.com/surrealdb/gqlcache.go/pkg/constants"
)

// graphql-transport-ws message types.
const (
	msgConnectionInit = "connection_init"
	msgConnectionAck  = "connection_ack"
	msgPing           = "ping"
	msgPong           = "pong"
	msgSubscribe      = "subscribe"
	msgNext           = "next"
	msgError          = "error"
	msgComplete       = "complete"
)

type wsMessage struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// DefaultDialer is the gorilla dialer used by WebSocketConnection. It
// negotiates the graphql-transport-ws subprotocol.
var DefaultDialer = &gorilla.Dialer{
	Proxy:            gorilla.DefaultDialer.Proxy,
	HandshakeTimeout: gorilla.DefaultDialer.HandshakeTimeout,
	Subprotocols:     []string{constants.GraphQLTransportWSProtocol},
}

const subscriptionBuffer = 64

type WebSocketConnection struct {
	BaseConnection

	Conn     *gorilla.Conn
	connLock sync.Mutex
	// Timeout bounds Execute from the moment the request is written. Zero
	// leaves the deadline to the caller's context.
	Timeout time.Duration
	// InitTimeout bounds the wait for connection_ack.
	InitTimeout time.Duration

	header      http.Header
	initPayload map[string]any

	done       chan struct{}
	doneOnce   sync.Once
	closeError error
	errLock    sync.RWMutex
}

func NewWebSocketConnection(p NewConnectionParams) *WebSocketConnection {
	return &WebSocketConnection{
		BaseConnection: newBaseConnection(p),
		Timeout:        constants.DefaultWSTimeout,
		InitTimeout:    constants.DefaultConnectionInitTimeout,
		header:         make(http.Header),
		done:           make(chan struct{}),
	}
}

func (ws *WebSocketConnection) SetTimeout(timeout time.Duration) *WebSocketConnection {
	ws.Timeout = timeout
	return ws
}

// SetHeader adds a header to the websocket handshake request.
func (ws *WebSocketConnection) SetHeader(key, value string) *WebSocketConnection {
	ws.header.Set(key, value)
	return ws
}

// SetInitPayload sets the payload of the connection_init message, typically
// credentials.
func (ws *WebSocketConnection) SetInitPayload(payload map[string]any) *WebSocketConnection {
	ws.initPayload = payload
	return ws
}

// Connect dials the endpoint and completes the connection_init handshake.
func (ws *WebSocketConnection) Connect(ctx context.Context) error {
	if err := ws.preConnectionChecks(); err != nil {
		return err
	}

	conn, res, err := DefaultDialer.DialContext(ctx, ws.endpoint, ws.header)
	if err != nil {
		return transportError(err)
	}
	defer res.Body.Close()

	if conn.Subprotocol() != constants.GraphQLTransportWSProtocol {
		_ = conn.Close()
		return fmt.Errorf("%w: server did not accept %s", constants.ErrConfiguration, constants.GraphQLTransportWSProtocol)
	}
	ws.Conn = conn

	if err := ws.handshake(ctx); err != nil {
		_ = conn.Close()
		return err
	}

	go ws.initialize()
	return nil
}

func (ws *WebSocketConnection) handshake(ctx context.Context) error {
	init := wsMessage{Type: msgConnectionInit}
	if ws.initPayload != nil {
		payload, err := ws.marshaler.Marshal(ws.initPayload)
		if err != nil {
			return fmt.Errorf("encoding connection_init payload: %w", err)
		}
		init.Payload = payload
	}
	if err := ws.write(init); err != nil {
		return transportError(err)
	}

	deadline := time.Now().Add(ws.InitTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := ws.Conn.SetReadDeadline(deadline); err != nil {
		return transportError(err)
	}
	defer func() { _ = ws.Conn.SetReadDeadline(time.Time{}) }()

	for {
		_, data, err := ws.Conn.ReadMessage()
		if err != nil {
			return transportError(err)
		}
		var msg wsMessage
		if err := ws.unmarshaler.Unmarshal(data, &msg); err != nil {
			return malformedError("decoding handshake message: %v", err)
		}
		switch msg.Type {
		case msgConnectionAck:
			return nil
		case msgPing:
			if err := ws.write(wsMessage{Type: msgPong}); err != nil {
				return transportError(err)
			}
		default:
			return malformedError("unexpected %q before connection_ack", msg.Type)
		}
	}
}

// Close closes the connection and stops listening for incoming messages.
//
// The close message is written best-effort; if ctx is done first the
// connection is closed anyway.
func (ws *WebSocketConnection) Close(ctx context.Context) error {
	if ws.Conn == nil {
		return constants.ErrNotConnected
	}
	ws.shutdown(net.ErrClosed)

	writeErr := make(chan error, 1)
	go func() {
		ws.connLock.Lock()
		defer ws.connLock.Unlock()
		writeErr <- ws.Conn.WriteMessage(gorilla.CloseMessage, gorilla.FormatCloseMessage(constants.CloseMessageCode, ""))
	}()

	select {
	case err := <-writeErr:
		if err != nil {
			ws.logger.Error("failed to write close message", "error", err)
		}
	case <-ctx.Done():
	}

	return ws.Conn.Close()
}

// Done is closed once the connection is closed or lost.
func (ws *WebSocketConnection) Done() <-chan struct{} {
	return ws.done
}

// IsClosed reports whether the connection was closed or lost. A connection
// that never connected is not closed.
func (ws *WebSocketConnection) IsClosed() bool {
	select {
	case <-ws.done:
		return true
	default:
		return false
	}
}

func (ws *WebSocketConnection) shutdown(cause error) {
	ws.doneOnce.Do(func() {
		ws.errLock.Lock()
		ws.closeError = cause
		ws.errLock.Unlock()
		close(ws.done)
	})
}

func (ws *WebSocketConnection) closeErr() error {
	ws.errLock.RLock()
	defer ws.errLock.RUnlock()
	return ws.closeError
}

// Execute runs a query or mutation as a single-result subscription.
func (ws *WebSocketConnection) Execute(ctx context.Context, req *Request) (*Response, error) {
	start := time.Now()
	res, err := ws.execute(ctx, req)
	ws.metrics.ObserveRequest(string(req.Kind), Outcome(err), time.Since(start))
	return res, err
}

func (ws *WebSocketConnection) execute(ctx context.Context, req *Request) (*Response, error) {
	if ws.Conn == nil {
		return nil, constants.ErrNotConnected
	}
	if ws.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, ws.Timeout)
		defer cancel()
	}

	id, ch, err := ws.start(ctx, req, 2)
	if err != nil {
		return nil, err
	}
	defer ws.removeResponseChannel(id)

	select {
	case <-ctx.Done():
		ws.complete(id)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, timeoutError(ctx.Err())
		}
		return nil, ctx.Err()
	case <-ws.done:
		return nil, networkError(ws.closeErr())
	case msg, ok := <-ch:
		if !ok {
			return nil, constants.ErrSubscriptionOverflow
		}
		switch msg.Type {
		case msgNext:
			return ws.decodeResponse(msg.Payload)
		case msgError:
			return ws.decodeErrors(msg.Payload)
		default:
			return nil, malformedError("operation %s completed without a result", id)
		}
	}
}

// Subscribe starts a GraphQL subscription. Every next message becomes an
// event; an error message ends the stream with a *ServerError event.
func (ws *WebSocketConnection) Subscribe(ctx context.Context, req *Request) (*Stream, error) {
	if ws.Conn == nil {
		return nil, constants.ErrNotConnected
	}
	id, ch, err := ws.start(ctx, req, subscriptionBuffer)
	if err != nil {
		return nil, err
	}

	events := make(chan Event, subscriptionBuffer)
	stop := make(chan struct{})
	stream := &Stream{C: events, close: func() { close(stop) }}

	go func() {
		defer close(events)
		defer ws.removeResponseChannel(id)

		emit := func(ev Event) bool {
			select {
			case events <- ev:
				return true
			case <-stop:
				return false
			case <-ctx.Done():
				return false
			}
		}

		for {
			select {
			case <-stop:
				ws.complete(id)
				return
			case <-ctx.Done():
				ws.complete(id)
				return
			case <-ws.done:
				emit(Event{Err: networkError(ws.closeErr())})
				return
			case msg, ok := <-ch:
				if !ok {
					ws.complete(id)
					emit(Event{Err: constants.ErrSubscriptionOverflow})
					return
				}
				switch msg.Type {
				case msgNext:
					res, err := ws.decodeResponse(msg.Payload)
					if !emit(Event{Response: res, Err: err}) {
						ws.complete(id)
						return
					}
				case msgError:
					res, err := ws.decodeErrors(msg.Payload)
					emit(Event{Response: res, Err: err})
					return
				case msgComplete:
					return
				}
			}
		}
	}()

	return stream, nil
}

func (ws *WebSocketConnection) start(ctx context.Context, req *Request, buffer int) (string, chan wsMessage, error) {
	select {
	case <-ws.done:
		return "", nil, networkError(ws.closeErr())
	case <-ctx.Done():
		return "", nil, ctx.Err()
	default:
	}

	payload, err := ws.marshaler.Marshal(req)
	if err != nil {
		return "", nil, fmt.Errorf("encoding request: %w", err)
	}

	id := rand.NewRequestID(constants.RequestIDLength)
	ch, err := ws.createResponseChannel(id, buffer)
	if err != nil {
		return "", nil, err
	}
	if err := ws.write(wsMessage{ID: id, Type: msgSubscribe, Payload: payload}); err != nil {
		ws.removeResponseChannel(id)
		return "", nil, transportError(err)
	}
	return id, ch, nil
}

func (ws *WebSocketConnection) complete(id string) {
	select {
	case <-ws.done:
		return
	default:
	}
	if err := ws.write(wsMessage{ID: id, Type: msgComplete}); err != nil {
		ws.logger.Debug("failed to send complete", "id", id, "error", err)
	}
}

func (ws *WebSocketConnection) decodeErrors(payload []byte) (*Response, error) {
	var errs []GraphQLError
	if err := ws.unmarshaler.Unmarshal(payload, &errs); err != nil {
		return nil, malformedError("decoding error payload: %v", err)
	}
	res := &Response{Errors: errs}
	return res, &ServerError{Errors: errs}
}

func (ws *WebSocketConnection) write(msg wsMessage) error {
	data, err := ws.marshaler.Marshal(msg)
	if err != nil {
		return err
	}

	ws.connLock.Lock()
	defer ws.connLock.Unlock()
	return ws.Conn.WriteMessage(gorilla.TextMessage, data)
}

func (ws *WebSocketConnection) initialize() {
	for {
		select {
		case <-ws.done:
			return
		default:
			_, data, err := ws.Conn.ReadMessage()
			if err != nil {
				if ws.handleError(err) {
					return
				}
				continue
			}
			ws.handleMessage(data)
		}
	}
}

func (ws *WebSocketConnection) handleError(err error) bool {
	switch {
	case errors.Is(err, net.ErrClosed):
		ws.shutdown(net.ErrClosed)
		return true
	case gorilla.IsCloseError(err, gorilla.CloseNormalClosure, gorilla.CloseGoingAway):
		ws.shutdown(io.EOF)
		return true
	case gorilla.IsUnexpectedCloseError(err):
		ws.shutdown(io.ErrClosedPipe)
		return true
	}

	// gorilla fails every read after a read error.
	ws.logger.Error("websocket read failed", "error", err)
	ws.shutdown(err)
	return true
}

func (ws *WebSocketConnection) handleMessage(data []byte) {
	var msg wsMessage
	if err := ws.unmarshaler.Unmarshal(data, &msg); err != nil {
		ws.logger.Error("undecodable websocket message", "error", err)
		return
	}

	switch msg.Type {
	case msgPing:
		if err := ws.write(wsMessage{Type: msgPong}); err != nil {
			ws.logger.Debug("failed to answer ping", "error", err)
		}
		return
	case msgPong, msgConnectionAck:
		return
	}

	ch, ok := ws.getResponseChannel(msg.ID)
	if !ok {
		ws.logger.Debug("message for unknown operation", "id", msg.ID, "type", msg.Type)
		return
	}
	// The read loop never waits for a consumer. An operation whose buffer is
	// full is dropped and its channel closed.
	select {
	case ch <- msg:
	default:
		ws.removeResponseChannel(msg.ID)
		close(ch)
		ws.logger.Warn("operation fell behind, ending it", "id", msg.ID, "type", msg.Type)
	}
}

// Pending lists the ids of operations still waiting for messages.
func (ws *WebSocketConnection) Pending() []string {
	return ws.responseChannelIDs()
}
