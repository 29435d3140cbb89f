// Package selgen compiles GraphQL documents into the selection artifacts the
// store reads and writes with.
//
// Operations and fragments are checked against the schema, fragments are
// resolved across documents, and the client-only @connection directive is
// removed from the text sent to the server. Every operation becomes one
// JSON file that selection.LoadArtifact reads at runtime.
//
// The selgen command in cmd/selgen wraps Do.
package selgen
