// Package testenv starts a fake GraphQL server and builds environments
// against it, for tests and runnable examples of this module.
//
// The transport is chosen by environment variables so the same tests can run
// over HTTP, a plain websocket or a reconnecting websocket.
package testenv

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"testing"
	"time"

	gqlcache "github.com/surrealdb/gqlcache.go"
	"github.com/surrealdb/gqlcache.go/contrib/rews"
	"github.com/surrealdb/gqlcache.go/internal/codec"
	"github.com/surrealdb/gqlcache.go/internal/fakegql"
	"github.com/surrealdb/gqlcache.go/pkg/connection"
	"github.com/surrealdb/gqlcache.go/pkg/logger"
)

const (
	// EnvTransport selects the transport: "http" (the default) or "ws".
	EnvTransport = "GQLCACHE_TRANSPORT"

	// EnvReconnectionCheckInterval enables the reconnecting websocket when
	// set to a positive duration and the transport is "ws".
	EnvReconnectionCheckInterval = "GQLCACHE_RECONNECTION_CHECK_INTERVAL"
)

// Env is a running fake server and an environment connected to it.
type Env struct {
	Server      *fakegql.Server
	Environment *gqlcache.Environment
}

// Transport returns the transport selected by EnvTransport.
func Transport() string {
	return gqlcache.GetEnvOrDefault(EnvTransport, "http")
}

func reconnectInterval() (time.Duration, error) {
	v := os.Getenv(EnvReconnectionCheckInterval)
	if v == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %s", EnvReconnectionCheckInterval, v)
	}
	return d, nil
}

// Start starts a fake server on a random port. stubs are added before it
// starts accepting requests.
func Start(stubs ...fakegql.StubResponse) (*fakegql.Server, error) {
	server := fakegql.NewServer("127.0.0.1:0")
	for _, stub := range stubs {
		server.AddStubResponse(stub)
	}
	if err := server.Start(); err != nil {
		return nil, fmt.Errorf("starting fake server: %w", err)
	}
	return server, nil
}

// NewConnection connects to server with the selected transport.
func NewConnection(ctx context.Context, server *fakegql.Server, log logger.Logger) (connection.Connection, error) {
	interval, err := reconnectInterval()
	if err != nil {
		return nil, err
	}

	switch Transport() {
	case "http":
		u, err := url.Parse(server.URL())
		if err != nil {
			return nil, err
		}
		conf := connection.NewConfig(u)
		conf.Logger = log
		return connection.New(ctx, conf)
	case "ws":
		if interval > 0 {
			c := codec.NewJSON()
			conn := rews.New(func(context.Context) (*connection.WebSocketConnection, error) {
				return connection.NewWebSocketConnection(connection.NewConnectionParams{
					Marshaler:   c,
					Unmarshaler: c,
					Endpoint:    server.WebSocketURL(),
					Logger:      log,
				}), nil
			}, interval, log)
			if err := conn.Connect(ctx); err != nil {
				return nil, err
			}
			return conn, nil
		}
		u, err := url.Parse(server.WebSocketURL())
		if err != nil {
			return nil, err
		}
		conf := connection.NewConfig(u)
		conf.Logger = log
		return connection.New(ctx, conf)
	default:
		return nil, fmt.Errorf("invalid %s: %s", EnvTransport, Transport())
	}
}

// New starts a fake server with stubs and an environment connected to it.
// Both are stopped when the test ends.
func New(tb testing.TB, stubs []fakegql.StubResponse, opts ...gqlcache.Option) *Env {
	tb.Helper()
	env, err := Open(context.Background(), stubs, opts...)
	if err != nil {
		tb.Fatalf("testenv: %v", err)
	}
	tb.Cleanup(func() {
		if err := env.Close(context.Background()); err != nil {
			tb.Logf("testenv: closing: %v", err)
		}
	})
	return env
}

// MustOpen is Open for runnable examples. It panics on failure.
func MustOpen(stubs []fakegql.StubResponse, opts ...gqlcache.Option) *Env {
	env, err := Open(context.Background(), stubs, opts...)
	if err != nil {
		panic(fmt.Sprintf("testenv: %v", err))
	}
	return env
}

// Open starts a fake server with stubs and an environment connected to it.
// The caller closes both with Close.
func Open(ctx context.Context, stubs []fakegql.StubResponse, opts ...gqlcache.Option) (*Env, error) {
	server, err := Start(stubs...)
	if err != nil {
		return nil, err
	}
	conn, err := NewConnection(ctx, server, logger.Nop())
	if err != nil {
		_ = server.Stop()
		return nil, fmt.Errorf("connecting to fake server: %w", err)
	}
	return &Env{
		Server:      server,
		Environment: gqlcache.NewEnvironment(conn, opts...),
	}, nil
}

// Close closes the environment and stops the server.
func (e *Env) Close(ctx context.Context) error {
	err := e.Environment.Close(ctx)
	if stopErr := e.Server.Stop(); err == nil {
		err = stopErr
	}
	return err
}
