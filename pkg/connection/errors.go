package connection

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/surrealdb/gqlcache.go/pkg/constants"
	"github.com/surrealdb/gqlcache.go/pkg/metrics"
)

// Error is a failed request. Kind is one of constants.ErrNetworkUnavailable,
// constants.ErrTimeout or constants.ErrMalformedResponse; errors.Is matches
// both Kind and the underlying cause.
type Error struct {
	Kind error
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func networkError(err error) error {
	return &Error{Kind: constants.ErrNetworkUnavailable, Err: err}
}

func timeoutError(err error) error {
	return &Error{Kind: constants.ErrTimeout, Err: err}
}

func malformedError(format string, args ...any) error {
	return &Error{Kind: constants.ErrMalformedResponse, Err: fmt.Errorf(format, args...)}
}

// transportError classifies an error from the transport layer.
func transportError(err error) error {
	var typed *Error
	if errors.As(err, &typed) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return timeoutError(err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return timeoutError(err)
	}
	return networkError(err)
}

// ServerError is a response carrying GraphQL errors. Data holds whatever the
// server could resolve and may be nil.
type ServerError struct {
	Data   map[string]any
	Errors []GraphQLError
}

func (e *ServerError) Error() string {
	msgs := make([]string, len(e.Errors))
	for i, ge := range e.Errors {
		msgs[i] = ge.Error()
	}
	return fmt.Sprintf("%s: %s", constants.ErrServerError, strings.Join(msgs, "; "))
}

func (e *ServerError) Unwrap() error {
	return constants.ErrServerError
}

// HasData reports whether the server sent partial data along with the errors.
func (e *ServerError) HasData() bool {
	return e.Data != nil
}

// InvalidatedPaths lists the paths of errors flagged with invalidatesSubtree.
func (e *ServerError) InvalidatedPaths() [][]any {
	var paths [][]any
	for _, ge := range e.Errors {
		if ge.InvalidatesSubtree() {
			paths = append(paths, ge.Path)
		}
	}
	return paths
}

// Retryable reports whether err is worth retrying: the network was
// unavailable or the request timed out.
func Retryable(err error) bool {
	return errors.Is(err, constants.ErrNetworkUnavailable) || errors.Is(err, constants.ErrTimeout)
}

// Outcome maps a request result to a metrics outcome label.
func Outcome(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeOK
	case errors.Is(err, constants.ErrServerError):
		return metrics.OutcomeServerError
	case errors.Is(err, constants.ErrTimeout):
		return metrics.OutcomeTimeout
	case errors.Is(err, constants.ErrMalformedResponse):
		return metrics.OutcomeMalformed
	default:
		return metrics.OutcomeNetwork
	}
}
