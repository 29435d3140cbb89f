package connection

import (
	"fmt"
	"strings"

	"github.com/surrealdb/gqlcache.go/pkg/selection"
)

// Request is a GraphQL request as sent over the wire.
type Request struct {
	Query         string         `json:"query"`
	Variables     map[string]any `json:"variables,omitempty"`
	OperationName string         `json:"operationName,omitempty"`
	// Kind is not sent. It lets executors treat queries, mutations and
	// subscriptions differently.
	Kind selection.OperationKind `json:"-"`
	// SkipCache makes a response cache fetch from the network and store the
	// fresh response. It is not sent.
	SkipCache bool `json:"-"`
}

// NewRequest builds the wire request for op.
func NewRequest(op *selection.Operation, vars map[string]any) *Request {
	return &Request{
		Query:         op.Text,
		Variables:     vars,
		OperationName: op.Name,
		Kind:          op.Kind,
	}
}

// Response is a GraphQL response. Data may be partially populated when Errors is not empty.
type Response struct {
	Data       map[string]any `json:"data"`
	Errors     []GraphQLError `json:"errors,omitempty"`
	Extensions map[string]any `json:"extensions,omitempty"`
}

type Location struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

// GraphQLError is one entry of a response's errors list.
type GraphQLError struct {
	Message    string         `json:"message"`
	Path       []any          `json:"path,omitempty"`
	Locations  []Location     `json:"locations,omitempty"`
	Extensions map[string]any `json:"extensions,omitempty"`
}

// InvalidatesSubtreeExtension marks an error whose path holds data that must
// not be written to the store.
const InvalidatesSubtreeExtension = "invalidatesSubtree"

func (e GraphQLError) InvalidatesSubtree() bool {
	v, _ := e.Extensions[InvalidatesSubtreeExtension].(bool)
	return v && len(e.Path) > 0
}

func (e GraphQLError) Error() string {
	if len(e.Path) == 0 {
		return e.Message
	}
	parts := make([]string, len(e.Path))
	for i, p := range e.Path {
		parts[i] = fmt.Sprint(p)
	}
	return fmt.Sprintf("%s (at %s)", e.Message, strings.Join(parts, "."))
}
