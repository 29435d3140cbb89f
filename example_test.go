package gqlcache_test

import (
	"context"
	"fmt"
	"time"

	gqlcache "github.com/surrealdb/gqlcache.go"
	"github.com/surrealdb/gqlcache.go/contrib/selgen"
	"github.com/surrealdb/gqlcache.go/contrib/testenv"
	"github.com/surrealdb/gqlcache.go/internal/fakegql"
	"github.com/surrealdb/gqlcache.go/pkg/schema"
	"github.com/surrealdb/gqlcache.go/pkg/selection"
)

const exampleSDL = `
type Query {
  artist(id: ID!): Artist
}

type Mutation {
  followArtist(id: ID!): FollowArtistPayload
}

type FollowArtistPayload {
  artist: Artist
}

type Artist {
  id: ID!
  name: String
  isFollowed: Boolean!
  artworks(first: Int, after: String): ArtworkConnection
}

type Artwork {
  id: ID!
  title: String
}

type ArtworkConnection {
  edges: [ArtworkEdge]
  pageInfo: PageInfo!
}

type ArtworkEdge {
  cursor: String!
  node: Artwork
}

type PageInfo {
  endCursor: String
  hasNextPage: Boolean!
}
`

const exampleDocument = `
query ArtistQuery($id: ID!, $count: Int = 2, $cursor: String) {
  artist(id: $id) {
    id
    name
    isFollowed
    artworks(first: $count, after: $cursor) @connection(key: "Artist_artworks") {
      edges {
        cursor
        node { id title }
      }
      pageInfo { endCursor hasNextPage }
    }
  }
}

mutation FollowArtist($id: ID!) {
  followArtist(id: $id) {
    artist { id isFollowed }
  }
}
`

func mustCompile() map[string]*selection.Operation {
	reg, err := schema.ParseSDL(exampleSDL)
	if err != nil {
		panic(err)
	}
	artifacts, err := selgen.Compile(reg, selgen.Source{Name: "example.graphql", Body: exampleDocument})
	if err != nil {
		panic(err)
	}
	ops := make(map[string]*selection.Operation, len(artifacts))
	for _, a := range artifacts {
		ops[a.Operation.Name] = a.Operation
	}
	return ops
}

func exampleArtist(followed bool, edges []any, endCursor any, hasNext bool) map[string]any {
	return map[string]any{
		"artist": map[string]any{
			"id":         "a1",
			"name":       "Banksy",
			"isFollowed": followed,
			"artworks": map[string]any{
				"edges":    edges,
				"pageInfo": map[string]any{"endCursor": endCursor, "hasNextPage": hasNext},
			},
		},
	}
}

func exampleEdge(n int) any {
	return map[string]any{
		"cursor": fmt.Sprintf("c%d", n),
		"node":   map[string]any{"id": fmt.Sprintf("aw%d", n), "title": fmt.Sprintf("Artwork %d", n)},
	}
}

func titles(data map[string]any) []any {
	artworks := data["artist"].(map[string]any)["artworks"].(map[string]any)
	var out []any
	for _, e := range artworks["edges"].([]any) {
		out = append(out, e.(map[string]any)["node"].(map[string]any)["title"])
	}
	return out
}

func ExampleEnvironment_FetchQuery() {
	ops := mustCompile()
	env := testenv.MustOpen([]fakegql.StubResponse{
		fakegql.SimpleStubResponse("ArtistQuery", exampleArtist(false, []any{exampleEdge(0)}, "c0", false)),
	})
	defer env.Close(context.Background())

	vars := map[string]any{"id": "a1"}
	fmt.Println("cached before fetch:", !env.Environment.Lookup(ops["ArtistQuery"], vars).IsMissingData)

	snap, err := env.Environment.FetchQuery(context.Background(), ops["ArtistQuery"], vars)
	if err != nil {
		panic(err)
	}
	fmt.Println(snap.Data["artist"].(map[string]any)["name"], titles(snap.Data))
	fmt.Println("cached after fetch:", !env.Environment.Lookup(ops["ArtistQuery"], vars).IsMissingData)

	// Output:
	// cached before fetch: false
	// Banksy [Artwork 0]
	// cached after fetch: true
}

func ExampleEnvironment_NewPaginator() {
	ops := mustCompile()
	firstPage := func(vars map[string]any) bool { return vars["cursor"] == nil }
	secondPage := func(vars map[string]any) bool { return vars["cursor"] == "c1" }
	env := testenv.MustOpen([]fakegql.StubResponse{
		{
			Matcher: fakegql.RequestMatcher{OperationName: "ArtistQuery", Matcher: firstPage},
			Data:    exampleArtist(false, []any{exampleEdge(0), exampleEdge(1)}, "c1", true),
		},
		{
			Matcher: fakegql.RequestMatcher{OperationName: "ArtistQuery", Matcher: secondPage},
			Data:    exampleArtist(false, []any{exampleEdge(2)}, "c2", false),
		},
	})
	defer env.Close(context.Background())

	p, err := env.Environment.NewPaginator(gqlcache.PaginationConfig{
		Operation:     ops["ArtistQuery"],
		Variables:     map[string]any{"id": "a1"},
		ConnectionKey: "Artist_artworks",
	})
	if err != nil {
		panic(err)
	}

	p.Refetch(context.Background(), 2, nil, nil)
	p.Wait()
	fmt.Println(titles(p.Snapshot().Data), "has more:", p.HasMore())

	p.LoadMore(context.Background(), 2, func(err error) {
		if err != nil {
			panic(err)
		}
	})
	p.Wait()
	fmt.Println(titles(p.Snapshot().Data), "has more:", p.HasMore())
	fmt.Println("load more after the last page:", p.LoadMore(context.Background(), 2, nil))

	// Output:
	// [Artwork 0 Artwork 1] has more: true
	// [Artwork 0 Artwork 1 Artwork 2] has more: false
	// load more after the last page: false
}

func ExampleEnvironment_CommitMutation() {
	ops := mustCompile()
	follow := fakegql.ErrorStubResponse("FollowArtist", "artist is not followable")
	follow.Failures = []fakegql.FailureConfig{
		{Type: fakegql.FailureRequestDelay, Probability: 1, MinDelay: 50 * time.Millisecond},
	}
	env := testenv.MustOpen([]fakegql.StubResponse{
		fakegql.SimpleStubResponse("ArtistQuery", exampleArtist(false, []any{}, nil, false)),
		follow,
	})
	defer env.Close(context.Background())

	vars := map[string]any{"id": "a1"}
	if _, err := env.Environment.FetchQuery(context.Background(), ops["ArtistQuery"], vars); err != nil {
		panic(err)
	}
	followed := func() any {
		return env.Environment.Lookup(ops["ArtistQuery"], vars).Data["artist"].(map[string]any)["isFollowed"]
	}

	failed := make(chan error, 1)
	m, err := env.Environment.CommitMutation(context.Background(), gqlcache.MutationConfig{
		Operation: ops["FollowArtist"],
		Variables: vars,
		OptimisticResponse: map[string]any{
			"followArtist": map[string]any{"artist": map[string]any{"id": "a1", "isFollowed": true}},
		},
		OnError: func(err error) { failed <- err },
	})
	if err != nil {
		panic(err)
	}
	fmt.Println("optimistic:", followed())

	fmt.Println("failed:", <-failed)
	<-m.Done()
	fmt.Println(m.State(), "followed:", followed())

	// Output:
	// optimistic: true
	// failed: server returned errors: artist is not followable
	// rolled back followed: false
}
