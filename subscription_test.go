package gqlcache

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/surrealdb/gqlcache.go/internal/fakegql"
	"github.com/surrealdb/gqlcache.go/pkg/connection"
	"github.com/surrealdb/gqlcache.go/pkg/logger"
	"github.com/surrealdb/gqlcache.go/pkg/models"
	sel "github.com/surrealdb/gqlcache.go/pkg/selection"
)

func artworkAddedSubscription() *sel.Operation {
	return &sel.Operation{
		Name: "ArtworkAdded",
		Kind: sel.Subscription,
		Text: `subscription ArtworkAdded { artworkAdded { id title } }`,
		Selections: []sel.Node{
			sel.Link("artworkAdded", sel.Field("id"), sel.Field("title")),
		},
	}
}

func newWebSocketEnvironment(t *testing.T) (*Environment, *fakegql.Server) {
	t.Helper()
	server := fakegql.NewServer("127.0.0.1:0")
	require.NoError(t, server.Start())

	u, err := url.Parse(server.WebSocketURL())
	require.NoError(t, err)
	cfg := connection.NewConfig(u)
	cfg.Logger = logger.Nop()
	cfg.Timeout = 2 * time.Second
	conn, err := connection.New(context.Background(), cfg)
	require.NoError(t, err)

	env := NewEnvironment(conn, WithLogger(logger.Nop()))
	t.Cleanup(func() {
		_ = env.Close(context.Background())
		_ = server.Stop()
	})
	return env, server
}

func TestRequestSubscriptionWritesEvents(t *testing.T) {
	env, server := newWebSocketEnvironment(t)
	server.AddStubResponse(fakegql.StubResponse{
		Matcher: fakegql.RequestMatcher{OperationName: "ArtworkAdded"},
		Events: []map[string]any{
			{"artworkAdded": map[string]any{"id": "aw1", "title": "First"}},
			{"artworkAdded": map[string]any{"id": "aw2", "title": "Second"}},
		},
	})

	next := make(chan map[string]any, 2)
	completed := make(chan struct{})
	_, err := env.RequestSubscription(context.Background(), SubscriptionConfig{
		Operation:   artworkAddedSubscription(),
		OnNext:      func(data map[string]any) { next <- data },
		OnError:     func(err error) { t.Errorf("unexpected error: %v", err) },
		OnCompleted: func() { close(completed) },
	})
	require.NoError(t, err)

	select {
	case <-completed:
	case <-time.After(2 * time.Second):
		t.Fatal("subscription did not complete")
	}
	require.Len(t, next, 2)
	assert.Equal(t, "aw1", (<-next)["artworkAdded"].(map[string]any)["id"])

	for id, title := range map[string]string{"aw1": "First", "aw2": "Second"} {
		rec, ok := env.Store().Get(models.DataID(id))
		require.True(t, ok, id)
		assert.Equal(t, title, rec.Fields["title"])
	}
}

func TestRequestSubscriptionPublishAndStop(t *testing.T) {
	env, server := newWebSocketEnvironment(t)
	server.AddStubResponse(fakegql.StubResponse{
		Matcher:  fakegql.RequestMatcher{OperationName: "ArtworkAdded"},
		KeepOpen: true,
	})

	next := make(chan map[string]any, 4)
	stop, err := env.RequestSubscription(context.Background(), SubscriptionConfig{
		Operation: artworkAddedSubscription(),
		OnNext:    func(data map[string]any) { next <- data },
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return server.ActiveSubscriptions() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, server.Publish("ArtworkAdded", map[string]any{
		"artworkAdded": map[string]any{"id": "aw7", "title": "Live"},
	}))

	select {
	case <-next:
	case <-time.After(2 * time.Second):
		t.Fatal("published event was not delivered")
	}
	rec, ok := env.Store().Get("aw7")
	require.True(t, ok)
	assert.Equal(t, "Live", rec.Fields["title"])

	stop()
	require.Eventually(t, func() bool { return server.ActiveSubscriptions() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestRequestSubscriptionNeedsSubscriber(t *testing.T) {
	env, _ := newTestEnvironment(t)
	_, err := env.RequestSubscription(context.Background(), SubscriptionConfig{Operation: artworkAddedSubscription()})
	assert.ErrorIs(t, err, ErrNoSubscriber)

	_, err = env.RequestSubscription(context.Background(), SubscriptionConfig{Operation: artistQuery()})
	assert.ErrorIs(t, err, ErrNotSubscription)
}
