// Package fakegql provides a fake GraphQL server for tests.
// It answers POST requests on /graphql and speaks graphql-transport-ws on
// the same path when the request is a websocket upgrade.
//
// Responses are configured with stubs matched by operation name and,
// optionally, by variables. Stubs and global settings can inject failures
// such as delays, error statuses, undecodable bodies and dropped connections.
//
// The HTTP side is routed with chi and the websocket side runs on gws.
package fakegql

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/lxzan/gws"
	"github.com/surrealdb/gqlcache.go/internal/rand"
	"github.com/surrealdb/gqlcache.go/pkg/connection"
	"github.com/surrealdb/gqlcache.go/pkg/constants"
)

// Path is the route the server answers on.
const Path = constants.DefaultGraphQLPath

// FailureType is the kind of failure injected while handling a request.
type FailureType string

const (
	FailureNone FailureType = "none"
	// FailureRequestDelay sleeps before the request is answered.
	FailureRequestDelay FailureType = "request_delay"
	// FailureStatus answers HTTP requests with StatusCode and an empty body.
	FailureStatus FailureType = "status"
	// FailureInvalidResponse answers with a body that is not JSON.
	FailureInvalidResponse FailureType = "invalid_response"
	// FailureDropConnection closes the underlying network connection.
	FailureDropConnection FailureType = "drop_connection"
)

type FailureConfig struct {
	Type FailureType
	// Probability of triggering this failure (0.0 to 1.0)
	Probability float64
	MinDelay    time.Duration
	MaxDelay    time.Duration
	// StatusCode is the HTTP status for FailureStatus.
	StatusCode int
	// Times limits how often the failure triggers. Zero means unlimited.
	Times int

	triggered int
}

// RequestMatcher selects the requests a stub answers.
type RequestMatcher struct {
	OperationName string
	// Matcher optionally narrows the match on the request variables.
	Matcher func(vars map[string]any) bool
}

// StubResponse is a canned answer for matching requests.
type StubResponse struct {
	Matcher RequestMatcher
	Data    map[string]any
	Errors  []connection.GraphQLError
	// Events are streamed to websocket subscriptions in order. A subscription
	// is completed after the last event unless KeepOpen is set, in which case
	// Publish can push more.
	Events   []map[string]any
	KeepOpen bool
	Failures []FailureConfig
}

// Server is a fake GraphQL endpoint with stub responses and failure injection.
type Server struct {
	addr       string
	listener   net.Listener
	httpServer *http.Server
	router     chi.Router
	upgrader   *gws.Upgrader

	mu             sync.RWMutex
	stubResponses  []*StubResponse
	globalFailures []*FailureConfig
	requests       []connection.Request
	subscriptions  map[string]*subscription
	connections    map[*gws.Conn]bool
}

type subscription struct {
	id            string
	operationName string
	socket        *gws.Conn
}

type message struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewServer creates a fake server. Use "127.0.0.1:0" to bind to a random
// available port.
func NewServer(addr string) *Server {
	s := &Server{
		addr:          addr,
		subscriptions: make(map[string]*subscription),
		connections:   make(map[*gws.Conn]bool),
	}
	s.upgrader = gws.NewUpgrader(&handler{server: s}, &gws.ServerOption{
		SubProtocols: []string{constants.GraphQLTransportWSProtocol},
	})

	r := chi.NewRouter()
	r.Post(Path, s.serveHTTP)
	r.Get(Path, s.serveWebSocket)
	s.router = r
	return s
}

// AddStubResponse adds a stub. Stubs are matched in the order they were added.
func (s *Server) AddStubResponse(stub StubResponse) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stubResponses = append(s.stubResponses, &stub)
}

// SetGlobalFailures sets failures checked for every request before the
// failures of the matched stub.
func (s *Server) SetGlobalFailures(failures []FailureConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.globalFailures = make([]*FailureConfig, len(failures))
	for i := range failures {
		f := failures[i]
		s.globalFailures[i] = &f
	}
}

// Reset removes all stubs, failures and recorded requests.
func (s *Server) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stubResponses = nil
	s.globalFailures = nil
	s.requests = nil
}

// Requests returns the requests received so far, in arrival order.
func (s *Server) Requests() []connection.Request {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]connection.Request, len(s.requests))
	copy(out, s.requests)
	return out
}

// RequestCount counts received requests for operationName.
func (s *Server) RequestCount(operationName string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, r := range s.requests {
		if r.OperationName == operationName {
			n++
		}
	}
	return n
}

func (s *Server) Start() error {
	var lc net.ListenConfig
	listener, err := lc.Listen(context.Background(), "tcp", s.addr)
	if err != nil {
		return err
	}
	s.listener = listener
	s.httpServer = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("Server error: %v", err)
		}
	}()
	return nil
}

// Stop closes the listener and every open connection.
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}
	s.mu.Lock()
	for socket := range s.connections {
		socket.NetConn().Close()
	}
	s.subscriptions = make(map[string]*subscription)
	s.mu.Unlock()
	return s.httpServer.Close()
}

// DropConnections closes every open websocket without a close frame, as a
// network failure would, and returns how many were dropped. The server keeps
// accepting new connections.
func (s *Server) DropConnections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.connections)
	for socket := range s.connections {
		socket.NetConn().Close()
	}
	s.subscriptions = make(map[string]*subscription)
	return n
}

// Address returns the address the server is listening on.
func (s *Server) Address() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// URL is the HTTP endpoint.
func (s *Server) URL() string {
	return "http://" + s.Address() + Path
}

// WebSocketURL is the graphql-transport-ws endpoint.
func (s *Server) WebSocketURL() string {
	return "ws://" + s.Address() + Path
}

// Publish pushes data to every open subscription of operationName and
// returns how many received it.
func (s *Server) Publish(operationName string, data map[string]any) int {
	s.mu.RLock()
	var targets []*subscription
	for _, sub := range s.subscriptions {
		if sub.operationName == operationName {
			targets = append(targets, sub)
		}
	}
	s.mu.RUnlock()

	for _, sub := range targets {
		writeNext(sub.socket, sub.id, &connection.Response{Data: data})
	}
	return len(targets)
}

// ActiveSubscriptions counts subscriptions the client has not completed.
func (s *Server) ActiveSubscriptions() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subscriptions)
}

func (s *Server) record(req connection.Request) *StubResponse {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	for _, stub := range s.stubResponses {
		if stub.Matcher.OperationName != req.OperationName {
			continue
		}
		if stub.Matcher.Matcher == nil || stub.Matcher.Matcher(req.Variables) {
			return stub
		}
	}
	return nil
}

// failures picks the failures that trigger for this request.
func (s *Server) failures(stub *StubResponse) []FailureConfig {
	s.mu.Lock()
	defer s.mu.Unlock()

	candidates := append([]*FailureConfig(nil), s.globalFailures...)
	if stub != nil {
		for i := range stub.Failures {
			candidates = append(candidates, &stub.Failures[i])
		}
	}

	var out []FailureConfig
	for _, f := range candidates {
		if f.Times > 0 && f.triggered >= f.Times {
			continue
		}
		if !shouldTriggerFailure(f.Probability) {
			continue
		}
		f.triggered++
		out = append(out, *f)
	}
	return out
}

func (s *Server) serveHTTP(w http.ResponseWriter, r *http.Request) {
	var req connection.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, &connection.Response{
			Errors: []connection.GraphQLError{{Message: "invalid request body"}},
		})
		return
	}

	stub := s.record(req)
	for _, f := range s.failures(stub) {
		switch f.Type {
		case FailureRequestDelay:
			time.Sleep(randomDuration(f.MinDelay, f.MaxDelay))
		case FailureStatus:
			w.WriteHeader(f.StatusCode)
			return
		case FailureInvalidResponse:
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("<html>not graphql</html>"))
			return
		case FailureDropConnection:
			if hj, ok := w.(http.Hijacker); ok {
				if conn, _, err := hj.Hijack(); err == nil {
					conn.Close()
				}
			}
			return
		}
	}

	writeJSON(w, http.StatusOK, stubResult(stub, req))
}

func (s *Server) serveWebSocket(w http.ResponseWriter, r *http.Request) {
	socket, err := s.upgrader.Upgrade(w, r)
	if err != nil {
		return
	}
	go socket.ReadLoop()
}

func stubResult(stub *StubResponse, req connection.Request) *connection.Response {
	if stub == nil {
		return &connection.Response{
			Errors: []connection.GraphQLError{{Message: fmt.Sprintf("no stub for operation %q", req.OperationName)}},
		}
	}
	return &connection.Response{Data: stub.Data, Errors: stub.Errors}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/graphql-response+json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Error writing response: %v", err)
	}
}

type handler struct {
	server *Server
}

func (h *handler) OnOpen(socket *gws.Conn) {
	h.server.mu.Lock()
	defer h.server.mu.Unlock()
	h.server.connections[socket] = true
}

func (h *handler) OnClose(socket *gws.Conn, _ error) {
	h.server.mu.Lock()
	defer h.server.mu.Unlock()
	delete(h.server.connections, socket)
	for id, sub := range h.server.subscriptions {
		if sub.socket == socket {
			delete(h.server.subscriptions, id)
		}
	}
}

func (h *handler) OnPing(socket *gws.Conn, payload []byte) {
	if err := socket.WritePong(payload); err != nil {
		log.Printf("Error writing Pong: %v", err)
	}
}

func (h *handler) OnPong(*gws.Conn, []byte) {}

func (h *handler) OnMessage(socket *gws.Conn, msg *gws.Message) {
	defer msg.Close()

	var m message
	if err := json.Unmarshal(msg.Bytes(), &m); err != nil {
		socket.WriteClose(4400, []byte("invalid message"))
		return
	}

	switch m.Type {
	case "connection_init":
		write(socket, message{Type: "connection_ack"})
	case "ping":
		write(socket, message{Type: "pong"})
	case "complete":
		h.server.mu.Lock()
		delete(h.server.subscriptions, m.ID)
		h.server.mu.Unlock()
	case "subscribe":
		h.subscribe(socket, m)
	}
}

func (h *handler) subscribe(socket *gws.Conn, m message) {
	var req connection.Request
	if err := json.Unmarshal(m.Payload, &req); err != nil {
		writeErrors(socket, m.ID, []connection.GraphQLError{{Message: "invalid subscribe payload"}})
		return
	}

	stub := h.server.record(req)
	for _, f := range h.server.failures(stub) {
		switch f.Type {
		case FailureRequestDelay:
			time.Sleep(randomDuration(f.MinDelay, f.MaxDelay))
		case FailureInvalidResponse:
			_ = socket.WriteMessage(gws.OpcodeText, []byte(`{"id":"`+m.ID+`","type":"next","payload":"garbage"}`))
			return
		case FailureDropConnection, FailureStatus:
			socket.NetConn().Close()
			return
		}
	}

	if stub == nil || (stub.Data == nil && len(stub.Events) == 0 && len(stub.Errors) > 0) {
		writeErrors(socket, m.ID, stubResult(stub, req).Errors)
		return
	}

	if stub.KeepOpen {
		h.server.mu.Lock()
		h.server.subscriptions[m.ID] = &subscription{id: m.ID, operationName: req.OperationName, socket: socket}
		h.server.mu.Unlock()
	} else if len(stub.Events) == 0 {
		writeNext(socket, m.ID, stubResult(stub, req))
		write(socket, message{ID: m.ID, Type: "complete"})
		return
	}
	for _, data := range stub.Events {
		writeNext(socket, m.ID, &connection.Response{Data: data})
	}
	if !stub.KeepOpen {
		write(socket, message{ID: m.ID, Type: "complete"})
	}
}

func writeNext(socket *gws.Conn, id string, res *connection.Response) {
	payload, err := json.Marshal(res)
	if err != nil {
		log.Printf("Error marshaling response: %v", err)
		return
	}
	write(socket, message{ID: id, Type: "next", Payload: payload})
}

func writeErrors(socket *gws.Conn, id string, errs []connection.GraphQLError) {
	payload, err := json.Marshal(errs)
	if err != nil {
		log.Printf("Error marshaling errors: %v", err)
		return
	}
	write(socket, message{ID: id, Type: "error", Payload: payload})
}

func write(socket *gws.Conn, m message) {
	data, err := json.Marshal(m)
	if err != nil {
		log.Printf("Error marshaling message: %v", err)
		return
	}
	if err := socket.WriteMessage(gws.OpcodeText, data); err != nil && !strings.Contains(err.Error(), "closed") {
		log.Printf("Error writing message: %v", err)
	}
}

func shouldTriggerFailure(probability float64) bool {
	if probability <= 0 {
		return false
	}
	if probability >= 1 {
		return true
	}
	return rand.Float64() < probability
}

func randomDuration(dMin, dMax time.Duration) time.Duration {
	if dMin >= dMax {
		return dMin
	}
	return dMin + time.Duration(rand.Float64()*float64(dMax-dMin))
}

// SimpleStubResponse answers operationName with data.
func SimpleStubResponse(operationName string, data map[string]any) StubResponse {
	return StubResponse{
		Matcher: RequestMatcher{OperationName: operationName},
		Data:    data,
	}
}

// ErrorStubResponse answers operationName with a single GraphQL error and no data.
func ErrorStubResponse(operationName, message string) StubResponse {
	return StubResponse{
		Matcher: RequestMatcher{OperationName: operationName},
		Errors:  []connection.GraphQLError{{Message: message}},
	}
}
