package gqlcache

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/surrealdb/gqlcache.go/pkg/connection"
	"github.com/surrealdb/gqlcache.go/pkg/constants"
	"github.com/surrealdb/gqlcache.go/pkg/models"
)

func TestFetchQueryRoundTrip(t *testing.T) {
	env, conn := newTestEnvironment(t)
	conn.push(artistPayload(page(0, 3, true)), nil)

	snap, err := env.FetchQuery(context.Background(), artistQuery(), map[string]any{"id": "a1", "count": 3})
	require.NoError(t, err)
	assert.False(t, snap.IsMissingData)
	assert.Equal(t, models.RootID, snap.Root)

	artist := snap.Data["artist"].(map[string]any)
	assert.Equal(t, "a1", artist["id"])
	assert.Equal(t, "Banksy", artist["name"])
	assert.Equal(t, []string{"aw0", "aw1", "aw2"}, edgeNodeIDs(t, snap.Data))

	req := conn.sent()[0]
	assert.Equal(t, "ArtistQuery", req.OperationName)
	assert.Equal(t, artistQuery().Text, req.Query)
	assert.Equal(t, 3, req.Variables["count"])

	rec, ok := env.Store().Get("a1")
	require.True(t, ok)
	assert.Equal(t, "Banksy", rec.Fields["name"])
}

func TestLookupBeforeAndAfterFetch(t *testing.T) {
	env, conn := newTestEnvironment(t)
	vars := map[string]any{"id": "a1"}

	snap := env.Lookup(artistQuery(), vars)
	assert.True(t, snap.IsMissingData)
	assert.Equal(t, 0, conn.requestCount())

	conn.push(artistPayload(page(0, 2, false)), nil)
	_, err := env.FetchQuery(context.Background(), artistQuery(), vars)
	require.NoError(t, err)

	snap = env.Lookup(artistQuery(), vars)
	assert.False(t, snap.IsMissingData)
	assert.Equal(t, []string{"aw0", "aw1"}, edgeNodeIDs(t, snap.Data))
	assert.Equal(t, 1, conn.requestCount())
}

func TestFetchQueryPartialData(t *testing.T) {
	env, conn := newTestEnvironment(t)
	env.Store().Write("a1", "Artist", map[string]any{"id": "a1", "name": "Stale name"})

	serverErr := &connection.ServerError{
		Data: artistPayload(page(0, 1, false)),
		Errors: []connection.GraphQLError{{
			Message:    "name resolver failed",
			Path:       []any{"artist", "name"},
			Extensions: map[string]any{connection.InvalidatesSubtreeExtension: true},
		}},
	}
	conn.push(nil, serverErr)

	snap, err := env.FetchQuery(context.Background(), artistQuery(), map[string]any{"id": "a1"})
	require.Error(t, err)
	assert.ErrorIs(t, err, constants.ErrServerError)

	require.NotNil(t, snap.Data)
	assert.True(t, snap.IsMissingData)
	artist := snap.Data["artist"].(map[string]any)
	assert.Equal(t, models.Missing, artist["name"])
	assert.Equal(t, []string{"aw0"}, edgeNodeIDs(t, snap.Data))
}

func TestFetchQueryFailureLeavesStore(t *testing.T) {
	env, conn := newTestEnvironment(t)
	conn.push(artistPayload(page(0, 2, true)), nil)
	_, err := env.FetchQuery(context.Background(), artistQuery(), map[string]any{"id": "a1"})
	require.NoError(t, err)
	before := env.Store().Len()

	conn.push(nil, networkDown)
	snap, err := env.FetchQuery(context.Background(), artistQuery(), map[string]any{"id": "a1"})
	assert.ErrorIs(t, err, constants.ErrNetworkUnavailable)
	assert.Nil(t, snap.Data)
	assert.Equal(t, before, env.Store().Len())

	snap = env.Lookup(artistQuery(), map[string]any{"id": "a1"})
	assert.Equal(t, []string{"aw0", "aw1"}, edgeNodeIDs(t, snap.Data))
}

func TestFetchQueryRefreshReplacesEdges(t *testing.T) {
	env, conn := newTestEnvironment(t)
	conn.push(artistPayload(page(0, 3, true)), nil)
	conn.push(artistPayload(page(10, 2, true)), nil)

	_, err := env.FetchQuery(context.Background(), artistQuery(), map[string]any{"id": "a1"})
	require.NoError(t, err)
	snap, err := env.FetchQuery(context.Background(), artistQuery(), map[string]any{"id": "a1"})
	require.NoError(t, err)

	assert.Equal(t, []string{"aw10", "aw11"}, edgeNodeIDs(t, snap.Data))
}
