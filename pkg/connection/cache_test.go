package connection

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/surrealdb/gqlcache.go/pkg/metrics"
	"github.com/surrealdb/gqlcache.go/pkg/selection"
)

func TestCachingServesRepeatedQueries(t *testing.T) {
	conn := (&scriptedConnection{}).
		push(okResponse(map[string]any{"viewer": map[string]any{"id": "u1"}}), nil).
		push(okResponse(map[string]any{"viewer": map[string]any{"id": "u2"}}), nil)
	m := metrics.NewCollector("test")
	c := NewCaching(conn, time.Minute, 10, m)
	ctx := context.Background()
	req := &Request{Query: "{ viewer { id } }", Variables: map[string]any{"a": 1, "b": 2}, Kind: selection.Query}

	first, err := c.Execute(ctx, req)
	require.NoError(t, err)
	first.Data["viewer"].(map[string]any)["id"] = "mutated"

	second, err := c.Execute(ctx, &Request{Query: req.Query, Variables: map[string]any{"b": 2, "a": 1}, Kind: selection.Query})
	require.NoError(t, err)
	assert.Equal(t, "u1", second.Data["viewer"].(map[string]any)["id"])
	assert.Equal(t, 1, conn.callCount())
	assert.Equal(t, 1, c.Len())

	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheHits))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheMisses))
}

func TestCachingSkipCacheRefreshesEntry(t *testing.T) {
	conn := (&scriptedConnection{}).
		push(okResponse(map[string]any{"n": 1.0}), nil).
		push(okResponse(map[string]any{"n": 2.0}), nil)
	c := NewCaching(conn, time.Minute, 0, nil)
	ctx := context.Background()

	_, err := c.Execute(ctx, &Request{Query: "q", Kind: selection.Query})
	require.NoError(t, err)

	fresh, err := c.Execute(ctx, &Request{Query: "q", Kind: selection.Query, SkipCache: true})
	require.NoError(t, err)
	assert.Equal(t, 2.0, fresh.Data["n"])
	assert.Equal(t, 2, conn.callCount())

	cached, err := c.Execute(ctx, &Request{Query: "q", Kind: selection.Query})
	require.NoError(t, err)
	assert.Equal(t, 2.0, cached.Data["n"], "the refreshed response replaced the cached one")
	assert.Equal(t, 2, conn.callCount())
}

func TestCachingKeysOnVariables(t *testing.T) {
	conn := (&scriptedConnection{}).
		push(okResponse(map[string]any{"n": 1.0}), nil).
		push(okResponse(map[string]any{"n": 2.0}), nil)
	c := NewCaching(conn, time.Minute, 0, nil)
	ctx := context.Background()

	a, err := c.Execute(ctx, &Request{Query: "q", Variables: map[string]any{"id": "a"}})
	require.NoError(t, err)
	b, err := c.Execute(ctx, &Request{Query: "q", Variables: map[string]any{"id": "b"}})
	require.NoError(t, err)
	assert.Equal(t, 1.0, a.Data["n"])
	assert.Equal(t, 2.0, b.Data["n"])
	assert.Equal(t, 2, conn.callCount())
}

func TestCachingSkipsFailures(t *testing.T) {
	serverErr := &ServerError{Errors: []GraphQLError{{Message: "boom"}}}
	conn := (&scriptedConnection{}).
		push(&Response{Errors: serverErr.Errors}, serverErr).
		push(okResponse(map[string]any{"ok": true}), nil)
	c := NewCaching(conn, time.Minute, 0, nil)
	ctx := context.Background()

	_, err := c.Execute(ctx, &Request{Query: "q"})
	require.Error(t, err)
	assert.Equal(t, 0, c.Len())

	res, err := c.Execute(ctx, &Request{Query: "q"})
	require.NoError(t, err)
	assert.Equal(t, true, res.Data["ok"])
}

func TestCachingMutationClearsCache(t *testing.T) {
	conn := (&scriptedConnection{}).
		push(okResponse(map[string]any{"n": 1.0}), nil).
		push(okResponse(map[string]any{"done": true}), nil).
		push(okResponse(map[string]any{"n": 2.0}), nil)
	c := NewCaching(conn, time.Minute, 0, nil)
	ctx := context.Background()

	_, err := c.Execute(ctx, &Request{Query: "q", Kind: selection.Query})
	require.NoError(t, err)
	_, err = c.Execute(ctx, &Request{Query: "m", Kind: selection.Mutation})
	require.NoError(t, err)
	assert.Equal(t, 0, c.Len())

	res, err := c.Execute(ctx, &Request{Query: "q", Kind: selection.Query})
	require.NoError(t, err)
	assert.Equal(t, 2.0, res.Data["n"])
	assert.Equal(t, 3, conn.callCount())
}

func TestCachingExpires(t *testing.T) {
	conn := (&scriptedConnection{}).
		push(okResponse(map[string]any{"n": 1.0}), nil).
		push(okResponse(map[string]any{"n": 2.0}), nil)
	c := NewCaching(conn, 10*time.Millisecond, 0, nil)
	ctx := context.Background()

	_, err := c.Execute(ctx, &Request{Query: "q"})
	require.NoError(t, err)
	time.Sleep(30 * time.Millisecond)

	res, err := c.Execute(ctx, &Request{Query: "q"})
	require.NoError(t, err)
	assert.Equal(t, 2.0, res.Data["n"])
}

func TestCachingInvalidate(t *testing.T) {
	conn := (&scriptedConnection{}).push(okResponse(map[string]any{"n": 1.0}), nil)
	c := NewCaching(conn, time.Minute, 0, nil)

	_, err := c.Execute(context.Background(), &Request{Query: "q"})
	require.NoError(t, err)
	require.Equal(t, 1, c.Len())
	c.Invalidate()
	assert.Equal(t, 0, c.Len())
}
