package store

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/surrealdb/gqlcache.go/pkg/models"
	"github.com/surrealdb/gqlcache.go/pkg/schema"
	sel "github.com/surrealdb/gqlcache.go/pkg/selection"
)

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

func artistQuery() []sel.Node {
	return []sel.Node{
		sel.Link("artist",
			sel.Field("id"),
			sel.Field("name"),
			sel.Link("image", sel.Field("url")).WithArgs(sel.Arg("version", "medium")),
			sel.Plural("related", sel.Field("id"), sel.Field("name")),
			artworksConnection(),
		).WithArgs(sel.Arg("id", "a1")),
	}
}

func page(from, n int, hasNext bool) map[string]any {
	edges := make([]any, 0, n)
	for i := from; i < from+n; i++ {
		edges = append(edges, map[string]any{
			"cursor": fmt.Sprintf("c%d", i),
			"node":   map[string]any{"id": fmt.Sprintf("aw%d", i), "title": fmt.Sprintf("Artwork %d", i)},
		})
	}
	end := any(nil)
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
			"id":    "a1",
			"name":  "Banksy",
			"image": map[string]any{"url": "https://img/m.jpg"},
			"related": []any{
				map[string]any{"id": "a2", "name": "Kaws"},
				nil,
			},
			"artworks": artworks,
		},
	}
}

func commit(t *testing.T, s *Store, data map[string]any, vars map[string]any, mode MergeMode) {
	t.Helper()
	_, err := s.Update(func(tx *Tx) error {
		for _, p := range Normalize(tx, models.RootID, "Query", artistQuery(), vars, data) {
			MergeConnection(tx, p, mode)
		}
		return nil
	})
	require.NoError(t, err)
}

func TestNormalizeThenReadRoundTrips(t *testing.T) {
	s := New()
	data := artistPayload(page(0, 3, true))
	vars := map[string]any{"count": 3}
	commit(t, s, data, vars, Replace)

	snap := s.Read(models.RootID, artistQuery(), vars)
	assert.False(t, snap.IsMissingData)
	assert.Equal(t, data, snap.Data)

	r, ok := s.Get("a1")
	require.True(t, ok)
	assert.Equal(t, models.Ref{ID: `client:a1:image(version:"medium")`}, r.Fields[`image(version:"medium")`])
	assert.Equal(t, models.RefList{"a2", ""}, r.Fields["related"])

	root, _ := s.Get(models.RootID)
	assert.Equal(t, "Query", root.Typename)
	assert.Equal(t, models.Ref{ID: "a1"}, root.Fields[`artist(id:"a1")`])
}

func TestNormalizeMergesSharedRecords(t *testing.T) {
	s := New()
	commit(t, s, artistPayload(page(0, 1, false)), map[string]any{"count": 1}, Replace)

	_, err := s.Update(func(tx *Tx) error {
		Normalize(tx, models.RootID, "Query", []sel.Node{
			sel.Link("artist", sel.Field("id"), sel.Field("name")).WithArgs(sel.Arg("id", "a2")),
		}, nil, map[string]any{"artist": map[string]any{"id": "a2", "name": "KAWS"}})
		return nil
	})
	require.NoError(t, err)

	related := s.Read(models.RootID, artistQuery(), map[string]any{"count": 1}).
		Data["artist"].(map[string]any)["related"].([]any)
	assert.Equal(t, map[string]any{"id": "a2", "name": "KAWS"}, related[0])
}

func TestPaginationAppendsPagesInOrder(t *testing.T) {
	s := New()
	commit(t, s, artistPayload(page(0, 25, true)), map[string]any{"count": 25}, Replace)
	commit(t, s, artistPayload(page(25, 25, true)), map[string]any{"count": 25, "cursor": "c24"}, Append)
	commit(t, s, artistPayload(page(50, 10, false)), map[string]any{"count": 25, "cursor": "c49"}, Append)

	handleKey := artworksConnection().HandleKey(nil)
	info := s.Connection("a1", handleKey)
	assert.True(t, info.Exists)
	assert.Equal(t, 60, info.Edges)
	assert.False(t, info.HasNextPage)
	assert.Equal(t, "c59", info.EndCursor)

	nodes := s.Edges("a1", handleKey)
	require.Len(t, nodes, 60)
	for i, id := range nodes {
		assert.Equal(t, models.DataID(fmt.Sprintf("aw%d", i)), id)
	}

	artworks := s.Read(models.RootID, artistQuery(), map[string]any{"count": 25}).
		Data["artist"].(map[string]any)["artworks"].(map[string]any)
	assert.Len(t, artworks["edges"], 60)
	assert.Equal(t, map[string]any{"endCursor": "c59", "hasNextPage": false}, artworks["pageInfo"])
}

func TestSameCursorReplacesEdgeInPlace(t *testing.T) {
	s := New()
	commit(t, s, artistPayload(page(0, 3, true)), map[string]any{"count": 3}, Replace)

	second := page(3, 1, false)
	second["edges"] = append([]any{map[string]any{
		"cursor": "c1",
		"node":   map[string]any{"id": "replacement", "title": "R"},
	}}, second["edges"].([]any)...)
	commit(t, s, artistPayload(second), map[string]any{"count": 3, "cursor": "c2"}, Append)

	nodes := s.Edges("a1", artworksConnection().HandleKey(nil))
	assert.Equal(t, []models.DataID{"aw0", "replacement", "aw2", "aw3"}, nodes)
}

func TestReplaceDiscardsEdgesAndPageInfo(t *testing.T) {
	s := New()
	commit(t, s, artistPayload(page(0, 5, true)), map[string]any{"count": 5}, Replace)
	commit(t, s, artistPayload(page(100, 2, false)), map[string]any{"count": 5}, Replace)

	handleKey := artworksConnection().HandleKey(nil)
	assert.Equal(t, []models.DataID{"aw100", "aw101"}, s.Edges("a1", handleKey))
	info := s.Connection("a1", handleKey)
	assert.Equal(t, "c101", info.EndCursor)
	assert.False(t, info.HasNextPage)
}

func TestNullConnectionClearsHandle(t *testing.T) {
	s := New()
	commit(t, s, artistPayload(page(0, 2, true)), map[string]any{"count": 2}, Replace)
	cleared := artistPayload(nil)
	cleared["artist"].(map[string]any)["artworks"] = nil
	commit(t, s, cleared, map[string]any{"count": 2}, Replace)

	artist := s.Read(models.RootID, artistQuery(), map[string]any{"count": 2}).Data["artist"].(map[string]any)
	assert.Nil(t, artist["artworks"])
	assert.False(t, s.Connection("a1", artworksConnection().HandleKey(nil)).Exists)
}

func TestNullPageKeepsAppendedEdges(t *testing.T) {
	s := New()
	commit(t, s, artistPayload(page(0, 2, true)), map[string]any{"count": 2}, Replace)
	null := artistPayload(nil)
	null["artist"].(map[string]any)["artworks"] = nil
	commit(t, s, null, map[string]any{"count": 2, "cursor": "c1"}, Append)

	handleKey := artworksConnection().HandleKey(nil)
	assert.Equal(t, []models.DataID{"aw0", "aw1"}, s.Edges("a1", handleKey))
	info := s.Connection("a1", handleKey)
	assert.True(t, info.HasNextPage)
	assert.Equal(t, "c1", info.EndCursor)
}

func TestPartialDataIsNormalizedAndInvalidatedSubtreesUnset(t *testing.T) {
	s := New()
	commit(t, s, artistPayload(page(0, 1, false)), map[string]any{"count": 1}, Replace)

	partial := artistPayload(page(0, 1, false))
	artist := partial["artist"].(map[string]any)
	artist["name"] = "Banksy (updated)"
	artist["related"] = nil
	require.True(t, Prune(partial, []any{"artist", "image"}))
	assert.False(t, Prune(partial, []any{"artist", "nope", "deeper"}))
	assert.False(t, Prune(partial, nil))

	commit(t, s, partial, map[string]any{"count": 1}, Replace)

	snap := s.Read(models.RootID, artistQuery(), map[string]any{"count": 1})
	got := snap.Data["artist"].(map[string]any)
	assert.Equal(t, "Banksy (updated)", got["name"])
	assert.Nil(t, got["related"], "null at an error path is still written")
	assert.True(t, models.IsMissing(got["image"]), "invalidated subtrees read as missing")
	assert.True(t, snap.IsMissingData)
}

func TestPruneListElementUnsetsWholeList(t *testing.T) {
	s := New()
	data := artistPayload(page(0, 1, false))
	require.True(t, Prune(data, []any{"artist", "related", 0.0}))
	commit(t, s, data, map[string]any{"count": 1}, Replace)

	r, _ := s.Get("a1")
	_, ok := r.Fields["related"]
	assert.False(t, ok)
}

func TestNormalizeWithAbstractTypes(t *testing.T) {
	reg, err := schema.ParseSDL(`
interface Node { id: ID! }
type Artist implements Node { id: ID! name: String }
type Artwork implements Node { id: ID! title: String }
type Query { node(id: ID!): Node }
`)
	require.NoError(t, err)
	s := New(WithSchema(reg))

	sels := []sel.Node{
		sel.Link("node",
			sel.Field("__typename"),
			sel.Field("id"),
			sel.On("Artist", sel.Field("name")),
			sel.On("Artwork", sel.Field("title")),
		).WithArgs(sel.Arg("id", sel.Var("id"))).OfType("Node"),
	}
	data := map[string]any{"node": map[string]any{"__typename": "Artwork", "id": "aw1", "title": "Girl with Balloon"}}
	_, err = s.Update(func(tx *Tx) error {
		Normalize(tx, models.RootID, "Query", sels, map[string]any{"id": "aw1"}, data)
		return nil
	})
	require.NoError(t, err)

	r, ok := s.Get("aw1")
	require.True(t, ok)
	assert.Equal(t, "Artwork", r.Typename)
	assert.Equal(t, "Girl with Balloon", r.Fields["title"])

	snap := s.Read(models.RootID, sels, map[string]any{"id": "aw1"})
	assert.Equal(t, data, snap.Data)
}

func TestMalformedShapeIsSkipped(t *testing.T) {
	s := New()
	_, err := s.Update(func(tx *Tx) error {
		Normalize(tx, models.RootID, "Query", []sel.Node{sel.Link("viewer", sel.Field("id"))}, nil,
			map[string]any{"viewer": "not an object"})
		return nil
	})
	require.NoError(t, err)
	root, _ := s.Get(models.RootID)
	_, ok := root.Fields["viewer"]
	assert.False(t, ok)
}
