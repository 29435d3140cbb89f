package connection

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/suite"
	"github.com/surrealdb/gqlcache.go/internal/codec"
	"github.com/surrealdb/gqlcache.go/pkg/constants"
)

type RoundTripFunc func(req *http.Request) *http.Response

func (f RoundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req), nil
}

// NewTestClient returns *http.Client with Transport replaced to avoid making real calls
func NewTestClient(fn RoundTripFunc) *http.Client {
	return &http.Client{
		Transport: fn,
	}
}

func respond(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(bytes.NewReader([]byte(body))),
		Header:     make(http.Header),
	}
}

type HTTPTestSuite struct {
	suite.Suite
}

func TestHTTPTestSuite(t *testing.T) {
	suite.Run(t, new(HTTPTestSuite))
}

func (s *HTTPTestSuite) newConnection(fn RoundTripFunc) *HTTPConnection {
	c := codec.NewJSON()
	conn := NewHTTPConnection(NewConnectionParams{
		Endpoint:    "http://test.graphql/graphql",
		Marshaler:   c,
		Unmarshaler: c,
	})
	conn.SetHTTPClient(NewTestClient(fn))
	return conn
}

func (s *HTTPTestSuite) execute(conn *HTTPConnection) (*Response, error) {
	return conn.Execute(context.Background(), &Request{Query: "{ viewer { id } }", OperationName: "Viewer"})
}

func (s *HTTPTestSuite) TestRequestShape() {
	conn := s.newConnection(func(req *http.Request) *http.Response {
		s.Equal(http.MethodPost, req.Method)
		s.Equal("http://test.graphql/graphql", req.URL.String())
		s.Equal("application/json", req.Header.Get("Content-Type"))
		s.Equal("Bearer t", req.Header.Get("Authorization"))

		body, err := io.ReadAll(req.Body)
		s.Require().NoError(err)
		s.JSONEq(`{"query":"{ viewer { id } }","operationName":"Viewer","variables":{"n":1}}`, string(body))
		return respond(http.StatusOK, `{"data":{"viewer":{"id":"u1"}}}`)
	})
	conn.SetHeader("Authorization", "Bearer t")

	res, err := conn.Execute(context.Background(), &Request{
		Query:         "{ viewer { id } }",
		OperationName: "Viewer",
		Variables:     map[string]any{"n": 1},
	})
	s.Require().NoError(err)
	s.Equal(map[string]any{"id": "u1"}, res.Data["viewer"])
}

func (s *HTTPTestSuite) TestServerErrorWithPartialData() {
	conn := s.newConnection(func(*http.Request) *http.Response {
		return respond(http.StatusOK, `{
			"data": {"viewer": {"id": "u1", "avatar": null}},
			"errors": [{"message": "avatar failed", "path": ["viewer", "avatar"], "extensions": {"invalidatesSubtree": true}}]
		}`)
	})

	res, err := s.execute(conn)
	s.Require().ErrorIs(err, constants.ErrServerError)
	s.False(Retryable(err))

	var serverErr *ServerError
	s.Require().ErrorAs(err, &serverErr)
	s.True(serverErr.HasData())
	s.Equal([][]any{{"viewer", "avatar"}}, serverErr.InvalidatedPaths())
	s.Require().NotNil(res)
	s.Equal("u1", res.Data["viewer"].(map[string]any)["id"])
	s.Contains(err.Error(), "avatar failed (at viewer.avatar)")
}

func (s *HTTPTestSuite) TestValidationErrorOn4xx() {
	conn := s.newConnection(func(*http.Request) *http.Response {
		return respond(http.StatusBadRequest, `{"errors":[{"message":"Cannot query field \"nope\""}]}`)
	})

	_, err := s.execute(conn)
	s.ErrorIs(err, constants.ErrServerError)

	var serverErr *ServerError
	s.Require().ErrorAs(err, &serverErr)
	s.False(serverErr.HasData())
}

func (s *HTTPTestSuite) TestStatusClassification() {
	cases := []struct {
		status int
		kind   error
	}{
		{http.StatusServiceUnavailable, constants.ErrNetworkUnavailable},
		{http.StatusBadGateway, constants.ErrNetworkUnavailable},
		{http.StatusTooManyRequests, constants.ErrNetworkUnavailable},
		{http.StatusGatewayTimeout, constants.ErrTimeout},
		{http.StatusRequestTimeout, constants.ErrTimeout},
	}
	for _, tc := range cases {
		conn := s.newConnection(func(*http.Request) *http.Response {
			return respond(tc.status, "")
		})
		_, err := s.execute(conn)
		s.ErrorIs(err, tc.kind, "status %d", tc.status)
		s.True(Retryable(err), "status %d", tc.status)
	}
}

func (s *HTTPTestSuite) TestPartialDataOn5xx() {
	conn := s.newConnection(func(*http.Request) *http.Response {
		return respond(http.StatusInternalServerError, `{
			"data": {"viewer": {"id": "u1", "avatar": null}},
			"errors": [{"message": "avatar failed", "path": ["viewer", "avatar"]}]
		}`)
	})

	res, err := s.execute(conn)
	s.Require().ErrorIs(err, constants.ErrServerError)
	s.False(Retryable(err))

	var serverErr *ServerError
	s.Require().ErrorAs(err, &serverErr)
	s.True(serverErr.HasData())
	s.Require().NotNil(res)
	s.Equal("u1", res.Data["viewer"].(map[string]any)["id"])

	for _, body := range []string{`{"data":null,"errors":[{"message":"down"}]}`, `<html>bad gateway</html>`} {
		conn := s.newConnection(func(*http.Request) *http.Response {
			return respond(http.StatusBadGateway, body)
		})
		_, err := s.execute(conn)
		s.ErrorIs(err, constants.ErrNetworkUnavailable, body)
	}
}

func (s *HTTPTestSuite) TestMalformedResponses() {
	bodies := []string{
		``,
		`<html>oops</html>`,
		`{"result": 1}`,
		`{"data": [1, 2]}`,
		`{"data": null}`,
		`{"data": {}, "errors": "bad"}`,
	}
	for _, body := range bodies {
		conn := s.newConnection(func(*http.Request) *http.Response {
			return respond(http.StatusOK, body)
		})
		_, err := s.execute(conn)
		s.ErrorIs(err, constants.ErrMalformedResponse, "body %q", body)
		s.False(Retryable(err), "body %q", body)
	}
}

type blockingTransport struct{}

func (blockingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	<-req.Context().Done()
	return nil, req.Context().Err()
}

func (s *HTTPTestSuite) TestTransportTimeout() {
	conn := s.newConnection(nil)
	conn.SetHTTPClient(&http.Client{Transport: blockingTransport{}})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := conn.Execute(ctx, &Request{Query: "{ a }"})
	s.ErrorIs(err, constants.ErrTimeout)
	s.True(Retryable(err))
}

func (s *HTTPTestSuite) TestMissingEndpoint() {
	conn := NewHTTPConnection(NewConnectionParams{Marshaler: codec.NewJSON(), Unmarshaler: codec.NewJSON()})
	_, err := conn.Execute(context.Background(), &Request{Query: "{ a }"})
	s.ErrorIs(err, constants.ErrNoBaseURL)
}

func (s *HTTPTestSuite) TestBreakerOpensOnNetworkFailures() {
	var calls atomic.Int32
	conn := s.newConnection(func(*http.Request) *http.Response {
		calls.Add(1)
		return respond(http.StatusServiceUnavailable, "")
	})
	conn.SetBreaker(BreakerSettings{Name: "test", MaxFailures: 2, OpenTimeout: time.Minute})

	for i := 0; i < 2; i++ {
		_, err := s.execute(conn)
		s.ErrorIs(err, constants.ErrNetworkUnavailable)
	}
	s.Equal(gobreaker.StateOpen, conn.BreakerState())

	_, err := s.execute(conn)
	s.ErrorIs(err, constants.ErrNetworkUnavailable)
	s.ErrorIs(err, gobreaker.ErrOpenState)
	s.Equal(int32(2), calls.Load())
}

func (s *HTTPTestSuite) TestBreakerIgnoresServerErrors() {
	conn := s.newConnection(func(*http.Request) *http.Response {
		return respond(http.StatusOK, `{"errors":[{"message":"denied"}]}`)
	})
	conn.SetBreaker(BreakerSettings{Name: "test", MaxFailures: 1, OpenTimeout: time.Minute})

	for i := 0; i < 3; i++ {
		_, err := s.execute(conn)
		s.ErrorIs(err, constants.ErrServerError)
	}
	s.Equal(gobreaker.StateClosed, conn.BreakerState())
}
