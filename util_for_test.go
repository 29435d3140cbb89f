package gqlcache

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/surrealdb/gqlcache.go/pkg/connection"
	"github.com/surrealdb/gqlcache.go/pkg/constants"
	sel "github.com/surrealdb/gqlcache.go/pkg/selection"
)

// scriptedConnection answers requests from a queue of canned results.
// Requests arriving while the queue is empty wait until the test answers
// them through next.
type scriptedConnection struct {
	mu       sync.Mutex
	queue    []reply
	requests []*connection.Request
	pending  chan *call
}

type reply struct {
	res *connection.Response
	err error
}

type call struct {
	req   *connection.Request
	reply chan reply
}

func newScriptedConnection() *scriptedConnection {
	return &scriptedConnection{pending: make(chan *call, 16)}
}

// push queues a result for the next request.
func (c *scriptedConnection) push(data map[string]any, err error) *scriptedConnection {
	c.mu.Lock()
	defer c.mu.Unlock()
	var res *connection.Response
	if data != nil {
		res = &connection.Response{Data: data}
	}
	c.queue = append(c.queue, reply{res: res, err: err})
	return c
}

func (c *scriptedConnection) Execute(_ context.Context, req *connection.Request) (*connection.Response, error) {
	c.mu.Lock()
	c.requests = append(c.requests, req)
	if len(c.queue) > 0 {
		r := c.queue[0]
		c.queue = c.queue[1:]
		c.mu.Unlock()
		return r.res, r.err
	}
	c.mu.Unlock()

	cl := &call{req: req, reply: make(chan reply, 1)}
	c.pending <- cl
	r := <-cl.reply
	return r.res, r.err
}

func (c *scriptedConnection) Close(context.Context) error {
	return nil
}

// next waits for a request nobody has answered yet.
func (c *scriptedConnection) next(t *testing.T) *call {
	t.Helper()
	select {
	case cl := <-c.pending:
		return cl
	case <-time.After(2 * time.Second):
		t.Fatal("no request was sent")
		return nil
	}
}

func (c *scriptedConnection) requestCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.requests)
}

func (c *scriptedConnection) sent() []*connection.Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*connection.Request(nil), c.requests...)
}

func (cl *call) respond(data map[string]any) {
	cl.reply <- reply{res: &connection.Response{Data: data}}
}

func (cl *call) fail(err error) {
	cl.reply <- reply{err: err}
}

var networkDown = &connection.Error{Kind: constants.ErrNetworkUnavailable, Err: fmt.Errorf("connection refused")}

func newTestEnvironment(t *testing.T, opts ...Option) (*Environment, *scriptedConnection) {
	t.Helper()
	conn := newScriptedConnection()
	env := NewEnvironment(conn, opts...)
	t.Cleanup(func() {
		require.NoError(t, env.Close(context.Background()))
	})
	return env, conn
}

func artworksConnection() *sel.LinkedField {
	return sel.Link("artworks",
		sel.Plural("edges",
			sel.Field("cursor"),
			sel.Link("node", sel.Field("id"), sel.Field("title")),
		),
		sel.Link("pageInfo", sel.Field("endCursor"), sel.Field("hasNextPage")),
	).WithArgs(sel.Arg("first", sel.Var("count")), sel.Arg("after", sel.Var("cursor"))).
		WithConnection("Artist_artworks")
}

func artistQuery() *sel.Operation {
	return &sel.Operation{
		Name: "ArtistQuery",
		Kind: sel.Query,
		Text: `query ArtistQuery($id: ID!, $count: Int!, $cursor: String) { artist(id: $id) { id name artworks(first: $count, after: $cursor) @connection(key: "Artist_artworks") { edges { cursor node { id title } } pageInfo { endCursor hasNextPage } } } }`,
		Variables: []sel.VariableDefinition{
			{Name: "id"},
			{Name: "count", Default: 25.0},
			{Name: "cursor"},
		},
		Selections: []sel.Node{
			sel.Link("artist",
				sel.Field("id"),
				sel.Field("name"),
				artworksConnection(),
			).WithArgs(sel.Arg("id", sel.Var("id"))),
		},
	}
}

func followMutation() *sel.Operation {
	return &sel.Operation{
		Name: "FollowArtist",
		Kind: sel.Mutation,
		Text: `mutation FollowArtist($id: ID!) { followArtist(id: $id) { artist { id isFollowed } } }`,
		Variables: []sel.VariableDefinition{
			{Name: "id"},
		},
		Selections: []sel.Node{
			sel.Link("followArtist",
				sel.Link("artist", sel.Field("id"), sel.Field("isFollowed")),
			).WithArgs(sel.Arg("id", sel.Var("id"))),
		},
	}
}

func artistFields() []sel.Node {
	return []sel.Node{sel.Field("id"), sel.Field("name"), sel.Field("isFollowed")}
}

func page(from, n int, hasNext bool) map[string]any {
	edges := make([]any, 0, n)
	for i := from; i < from+n; i++ {
		edges = append(edges, map[string]any{
			"cursor": fmt.Sprintf("c%d", i),
			"node":   map[string]any{"id": fmt.Sprintf("aw%d", i), "title": fmt.Sprintf("Artwork %d", i)},
		})
	}
	var end any
	if n > 0 {
		end = fmt.Sprintf("c%d", from+n-1)
	}
	return map[string]any{
		"edges":    edges,
		"pageInfo": map[string]any{"endCursor": end, "hasNextPage": hasNext},
	}
}

func artistPayload(artworks map[string]any) map[string]any {
	return map[string]any{
		"artist": map[string]any{
			"id":       "a1",
			"name":     "Banksy",
			"artworks": artworks,
		},
	}
}

// edgeNodeIDs returns the node ids of the artworks connection in a snapshot.
func edgeNodeIDs(t *testing.T, data map[string]any) []string {
	t.Helper()
	artist, ok := data["artist"].(map[string]any)
	require.True(t, ok, "artist missing from %v", data)
	artworks, ok := artist["artworks"].(map[string]any)
	require.True(t, ok, "artworks missing from %v", artist)
	edges, ok := artworks["edges"].([]any)
	require.True(t, ok)
	ids := make([]string, 0, len(edges))
	for _, e := range edges {
		node := e.(map[string]any)["node"].(map[string]any)
		ids = append(ids, node["id"].(string))
	}
	return ids
}
