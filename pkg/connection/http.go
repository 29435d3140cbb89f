package connection

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/buger/jsonparser"
	"github.com/sony/gobreaker"
	"github.com/surrealdb/gqlcache.go/pkg/constants"
)

// HTTPConnection posts GraphQL requests as JSON.
type HTTPConnection struct {
	BaseConnection

	httpClient *http.Client
	header     http.Header
	breaker    *gobreaker.CircuitBreaker
}

func NewHTTPConnection(p NewConnectionParams) *HTTPConnection {
	return &HTTPConnection{
		BaseConnection: newBaseConnection(p),
		httpClient: &http.Client{
			Timeout: constants.DefaultHTTPTimeout,
		},
		header: make(http.Header),
	}
}

func (h *HTTPConnection) SetTimeout(timeout time.Duration) *HTTPConnection {
	h.httpClient.Timeout = timeout
	return h
}

func (h *HTTPConnection) SetHTTPClient(client *http.Client) *HTTPConnection {
	h.httpClient = client
	return h
}

// SetHeader adds a header sent with every request, such as Authorization.
func (h *HTTPConnection) SetHeader(key, value string) *HTTPConnection {
	h.header.Set(key, value)
	return h
}

// BreakerSettings configures the circuit breaker guarding the endpoint.
type BreakerSettings struct {
	Name string
	// MaxFailures is the number of consecutive network failures that opens the breaker.
	MaxFailures uint32
	// OpenTimeout is how long the breaker stays open before letting a trial request through.
	OpenTimeout time.Duration
}

// SetBreaker guards requests with a circuit breaker. Only network failures and
// timeouts count against it. While open, requests fail fast with
// constants.ErrNetworkUnavailable.
func (h *HTTPConnection) SetBreaker(s BreakerSettings) *HTTPConnection {
	maxFailures := s.MaxFailures
	if maxFailures == 0 {
		maxFailures = 5
	}
	h.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    s.Name,
		Timeout: s.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !Retryable(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			h.logger.Warn("circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
		},
	})
	return h
}

// BreakerState returns the breaker state, or closed when no breaker is set.
func (h *HTTPConnection) BreakerState() gobreaker.State {
	if h.breaker == nil {
		return gobreaker.StateClosed
	}
	return h.breaker.State()
}

func (h *HTTPConnection) Close(context.Context) error {
	h.httpClient.CloseIdleConnections()
	return nil
}

func (h *HTTPConnection) Execute(ctx context.Context, req *Request) (*Response, error) {
	if err := h.preConnectionChecks(); err != nil {
		return nil, err
	}

	start := time.Now()
	res, err := h.execute(ctx, req)
	h.metrics.ObserveRequest(string(req.Kind), Outcome(err), time.Since(start))
	if err != nil && !errors.Is(err, constants.ErrServerError) {
		h.logger.Debug("graphql request failed", "operation", req.OperationName, "error", err)
	}
	return res, err
}

func (h *HTTPConnection) execute(ctx context.Context, req *Request) (*Response, error) {
	body, err := h.marshaler.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	var respBody []byte
	if h.breaker == nil {
		respBody, err = h.post(ctx, body)
	} else {
		var v any
		v, err = h.breaker.Execute(func() (any, error) {
			return h.post(ctx, body)
		})
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			err = networkError(err)
		}
		respBody, _ = v.([]byte)
	}
	if err != nil {
		return nil, err
	}

	return h.decodeResponse(respBody)
}

// hasResponseData reports whether body is a GraphQL response with a data object.
func hasResponseData(body []byte) bool {
	_, dataType, _, err := jsonparser.Get(body, "data")
	return err == nil && dataType == jsonparser.Object
}

// post returns the body of a response worth decoding. Transport failures and
// statuses that signal an unavailable server are returned as *Error.
func (h *HTTPConnection) post(ctx context.Context, body []byte) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", constants.ErrConfiguration, err)
	}
	httpReq.Header.Set("Accept", "application/graphql-response+json, application/json")
	httpReq.Header.Set("Content-Type", "application/json")
	for k, vs := range h.header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}

	resp, err := h.httpClient.Do(httpReq)
	if err != nil {
		return nil, transportError(err)
	}
	defer func(Body io.ReadCloser) {
		if err := Body.Close(); err != nil {
			h.logger.Debug("closing response body", "error", err)
		}
	}(resp.Body)

	respBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, transportError(err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return respBytes, nil
	case resp.StatusCode >= 500 && hasResponseData(respBytes):
		// Partial data is decoded like a 200 with errors.
		return respBytes, nil
	case resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode == http.StatusGatewayTimeout:
		return nil, timeoutError(fmt.Errorf("http status %d", resp.StatusCode))
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, networkError(fmt.Errorf("http status %d", resp.StatusCode))
	default:
		// GraphQL servers answer validation failures with 4xx and an errors list.
		return respBytes, nil
	}
}
