package connection

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"time"

	"github.com/surrealdb/gqlcache.go/internal/codec"
	"github.com/surrealdb/gqlcache.go/pkg/constants"
	"github.com/surrealdb/gqlcache.go/pkg/logger"
	"github.com/surrealdb/gqlcache.go/pkg/metrics"
)

// Config describes how to reach a GraphQL endpoint.
type Config struct {
	URL         url.URL
	Marshaler   codec.Marshaler
	Unmarshaler codec.Unmarshaler
	Logger      logger.Logger
	Metrics     *metrics.Collector

	// Timeout bounds a single request. Zero keeps the transport default.
	Timeout time.Duration
	// Header is sent with every HTTP request and with the websocket upgrade.
	Header map[string]string
	// Breaker guards HTTP endpoints when MaxFailures is set.
	Breaker BreakerSettings
}

// NewConfig creates a Config for the endpoint at u, such as
// "https://api.example.com/graphql" or "wss://api.example.com/graphql".
// A URL without a path gets constants.DefaultGraphQLPath.
func NewConfig(u *url.URL) *Config {
	c := codec.NewJSON()
	endpoint := *u
	if endpoint.Path == "" || endpoint.Path == "/" {
		endpoint.Path = constants.DefaultGraphQLPath
	}
	return &Config{
		URL:         endpoint,
		Marshaler:   c,
		Unmarshaler: c,
		Logger:      logger.New(slog.NewTextHandler(os.Stdout, nil)),
	}
}

func (c *Config) params() NewConnectionParams {
	return NewConnectionParams{
		Marshaler:   c.Marshaler,
		Unmarshaler: c.Unmarshaler,
		Endpoint:    c.URL.String(),
		Logger:      c.Logger,
		Metrics:     c.Metrics,
	}
}

// New creates the transport matching the URL scheme. Websocket connections
// are connected before New returns.
func New(ctx context.Context, c *Config) (Connection, error) {
	switch c.URL.Scheme {
	case constants.HTTPScheme, constants.HTTPSecureScheme:
		conn := NewHTTPConnection(c.params())
		if c.Timeout > 0 {
			conn.SetTimeout(c.Timeout)
		}
		for k, v := range c.Header {
			conn.SetHeader(k, v)
		}
		if c.Breaker.MaxFailures > 0 {
			conn.SetBreaker(c.Breaker)
		}
		return conn, nil
	case constants.WebsocketScheme, constants.WebsocketSecureScheme:
		conn := NewWebSocketConnection(c.params())
		if c.Timeout > 0 {
			conn.SetTimeout(c.Timeout)
		}
		for k, v := range c.Header {
			conn.SetHeader(k, v)
		}
		if err := conn.Connect(ctx); err != nil {
			return nil, err
		}
		return conn, nil
	default:
		return nil, fmt.Errorf("%w: %q", constants.ErrUnsupportedScheme, c.URL.Scheme)
	}
}
