// Package connection is the network executor: it sends GraphQL requests over
// HTTP or a graphql-transport-ws websocket and returns typed failures.
package connection

import (
	"context"
	"fmt"
	"sync"

	"github.com/buger/jsonparser"
	"github.com/surrealdb/gqlcache.go/internal/codec"
	"github.com/surrealdb/gqlcache.go/pkg/constants"
	"github.com/surrealdb/gqlcache.go/pkg/logger"
	"github.com/surrealdb/gqlcache.go/pkg/metrics"
)

// Connection executes one GraphQL request and waits for its single response.
//
// A response with GraphQL errors is returned together with a *ServerError;
// Response.Data then holds the partial data. Every other failure is an *Error.
type Connection interface {
	Execute(ctx context.Context, req *Request) (*Response, error)
	Close(ctx context.Context) error
}

// Subscriber is implemented by transports that stream results of GraphQL subscriptions.
type Subscriber interface {
	Subscribe(ctx context.Context, req *Request) (*Stream, error)
}

// Event is one result of a subscription stream.
type Event struct {
	Response *Response
	Err      error
}

// Stream delivers subscription events on C until the server completes the
// subscription, an error occurs, or Close is called. C is closed afterwards.
type Stream struct {
	C     <-chan Event
	close func()
	once  sync.Once
}

// NewStream wraps c. closeFn is called once by Close; it must make the
// producer stop and close c.
func NewStream(c <-chan Event, closeFn func()) *Stream {
	return &Stream{C: c, close: closeFn}
}

func (s *Stream) Close() {
	s.once.Do(s.close)
}

var errSubscriptionsUnsupported = fmt.Errorf("%w: subscriptions", constants.ErrMethodNotAvailable)

type NewConnectionParams struct {
	Marshaler   codec.Marshaler
	Unmarshaler codec.Unmarshaler
	// Endpoint is the full URL of the GraphQL endpoint.
	Endpoint string
	Logger   logger.Logger
	Metrics  *metrics.Collector
}

type BaseConnection struct {
	endpoint    string
	marshaler   codec.Marshaler
	unmarshaler codec.Unmarshaler
	logger      logger.Logger
	metrics     *metrics.Collector

	responseChannels     map[string]chan wsMessage
	responseChannelsLock sync.RWMutex
}

func newBaseConnection(p NewConnectionParams) BaseConnection {
	return BaseConnection{
		endpoint:         p.Endpoint,
		marshaler:        p.Marshaler,
		unmarshaler:      p.Unmarshaler,
		logger:           logger.OrNop(p.Logger),
		metrics:          p.Metrics,
		responseChannels: make(map[string]chan wsMessage),
	}
}

func (bc *BaseConnection) createResponseChannel(id string, size int) (chan wsMessage, error) {
	bc.responseChannelsLock.Lock()
	defer bc.responseChannelsLock.Unlock()

	if _, ok := bc.responseChannels[id]; ok {
		return nil, fmt.Errorf("%w: %v", constants.ErrIDInUse, id)
	}

	ch := make(chan wsMessage, size)
	bc.responseChannels[id] = ch

	return ch, nil
}

func (bc *BaseConnection) getResponseChannel(id string) (chan wsMessage, bool) {
	bc.responseChannelsLock.RLock()
	defer bc.responseChannelsLock.RUnlock()
	ch, ok := bc.responseChannels[id]
	return ch, ok
}

func (bc *BaseConnection) removeResponseChannel(id string) {
	bc.responseChannelsLock.Lock()
	defer bc.responseChannelsLock.Unlock()
	delete(bc.responseChannels, id)
}

func (bc *BaseConnection) responseChannelIDs() []string {
	bc.responseChannelsLock.RLock()
	defer bc.responseChannelsLock.RUnlock()
	ids := make([]string, 0, len(bc.responseChannels))
	for id := range bc.responseChannels {
		ids = append(ids, id)
	}
	return ids
}

func (bc *BaseConnection) preConnectionChecks() error {
	if bc.endpoint == "" {
		return constants.ErrNoBaseURL
	}

	if bc.marshaler == nil {
		return constants.ErrNoMarshaler
	}

	if bc.unmarshaler == nil {
		return constants.ErrNoUnmarshaler
	}

	return nil
}

// decodeResponse classifies a response body. jsonparser checks the shape
// before the body is decoded in full.
func (bc *BaseConnection) decodeResponse(body []byte) (*Response, error) {
	if len(body) == 0 {
		return nil, malformedError("empty response body")
	}

	_, dataType, _, _ := jsonparser.Get(body, "data")
	_, errorsType, _, _ := jsonparser.Get(body, "errors")

	switch {
	case dataType == jsonparser.NotExist && errorsType == jsonparser.NotExist:
		return nil, malformedError("response has neither data nor errors")
	case dataType != jsonparser.NotExist && dataType != jsonparser.Object && dataType != jsonparser.Null:
		return nil, malformedError("data is a %s, not an object", dataType)
	case errorsType != jsonparser.NotExist && errorsType != jsonparser.Array && errorsType != jsonparser.Null:
		return nil, malformedError("errors is a %s, not a list", errorsType)
	}

	var res Response
	if err := bc.unmarshaler.Unmarshal(body, &res); err != nil {
		return nil, malformedError("decoding response: %v", err)
	}
	if len(res.Errors) > 0 {
		return &res, &ServerError{Data: res.Data, Errors: res.Errors}
	}
	if res.Data == nil {
		return nil, malformedError("response data is null without errors")
	}
	return &res, nil
}
