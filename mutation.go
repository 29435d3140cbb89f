package gqlcache

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gofrs/uuid"
	"github.com/surrealdb/gqlcache.go/pkg/connection"
	"github.com/surrealdb/gqlcache.go/pkg/models"
	"github.com/surrealdb/gqlcache.go/pkg/selection"
	"github.com/surrealdb/gqlcache.go/pkg/store"
)

// MutationState is where a mutation is in its lifecycle.
type MutationState int

const (
	MutationPending MutationState = iota
	MutationCommitted
	MutationRolledBack
)

func (s MutationState) String() string {
	switch s {
	case MutationPending:
		return "pending"
	case MutationCommitted:
		return "committed"
	case MutationRolledBack:
		return "rolled back"
	default:
		return fmt.Sprintf("MutationState(%d)", int(s))
	}
}

// MutationConfig describes one mutation commit.
type MutationConfig struct {
	Operation *selection.Operation
	Variables map[string]any

	// OptimisticResponse is normalized through the mutation selection before
	// the request is sent, as if the server had answered with it.
	OptimisticResponse map[string]any
	// OptimisticUpdater runs in the same update as OptimisticResponse.
	OptimisticUpdater func(tx *store.Tx) error
	// Updater runs in the update that writes the server response.
	Updater func(tx *store.Tx, data map[string]any) error

	// OnCompleted receives the response data. errs is set when the server
	// returned data together with errors.
	OnCompleted func(data map[string]any, errs []connection.GraphQLError)
	OnError     func(err error)
}

// PendingMutation is a mutation in flight: the optimistic patch applied to
// the store, the patch that undoes it, and how the mutation ended.
type PendingMutation struct {
	ID uuid.UUID

	mu      sync.Mutex
	forward models.Patch
	inverse models.Patch
	state   MutationState
	err     error
	done    chan struct{}
}

func (m *PendingMutation) State() MutationState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Optimistic returns the optimistic patch and its inverse. Both are empty
// when the mutation had no optimistic update.
func (m *PendingMutation) Optimistic() (forward, inverse models.Patch) {
	return m.forward, m.inverse
}

// Err is the failure that rolled the mutation back.
func (m *PendingMutation) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

// Done is closed once the mutation is committed or rolled back.
func (m *PendingMutation) Done() <-chan struct{} {
	return m.done
}

func (m *PendingMutation) finish(state MutationState, err error) {
	m.mu.Lock()
	m.state = state
	m.err = err
	m.mu.Unlock()
	close(m.done)
}

// CommitMutation applies the optimistic update synchronously, then sends the
// mutation. On success the server payload overwrites the optimistic values
// field by field and OnCompleted is called. On failure the optimistic update
// is undone and OnError is called.
//
// A response with GraphQL errors always undoes the optimistic update. Its
// partial data is then written in the same store update and OnCompleted
// receives it with the errors, unless every root field is null: that is a
// failure.
//
// Commits touching the same fields are not serialized; the last applied patch
// wins. Callbacks are skipped once ctx is done, but the store is still updated.
func (e *Environment) CommitMutation(ctx context.Context, cfg MutationConfig) (*PendingMutation, error) {
	op := cfg.Operation
	if op == nil || op.Kind != selection.Mutation {
		return nil, ErrNotMutation
	}
	id, err := uuid.NewV4()
	if err != nil {
		return nil, err
	}
	vars := op.VariablesWith(cfg.Variables)
	m := &PendingMutation{ID: id, done: make(chan struct{})}

	if cfg.OptimisticResponse != nil || cfg.OptimisticUpdater != nil {
		change, err := e.store.Update(func(tx *store.Tx) error {
			if cfg.OptimisticResponse != nil {
				data := models.CloneValue(cfg.OptimisticResponse).(map[string]any)
				payloads := store.Normalize(tx, models.RootID, e.rootType(op.Kind), op.Selections, vars, data)
				for _, p := range payloads {
					store.MergeConnection(tx, p, defaultMergeMode(p))
				}
			}
			if cfg.OptimisticUpdater != nil {
				return cfg.OptimisticUpdater(tx)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("optimistic update: %w", err)
		}
		m.forward, m.inverse = change.Forward, change.Inverse
	}

	req := connection.NewRequest(op, vars)
	e.async(func() {
		res, execErr := e.conn.Execute(context.WithoutCancel(ctx), req)
		fail := func(err error) {
			e.rollback(m, err)
			if ctx.Err() == nil && cfg.OnError != nil {
				cfg.OnError(err)
			}
		}

		var revert func(*store.Tx)
		var serverErr *connection.ServerError
		if errors.As(execErr, &serverErr) {
			if !resolved(op.Selections, serverErr.Data) {
				fail(execErr)
				return
			}
			if !m.inverse.Empty() {
				revert = func(tx *store.Tx) { tx.ApplyPatch(m.inverse) }
			}
		}

		_, err := e.commitResponse(op, vars, res, execErr, defaultMergeMode, revert, cfg.Updater)
		if err != nil && !hasData(err) {
			fail(err)
			return
		}

		m.finish(MutationCommitted, nil)
		if ctx.Err() != nil || cfg.OnCompleted == nil {
			return
		}
		cfg.OnCompleted(completion(res, err))
	})
	return m, nil
}

func (e *Environment) rollback(m *PendingMutation, cause error) {
	if !m.inverse.Empty() {
		e.store.ApplyPatch(m.inverse)
		e.metrics.RolledBack()
	}
	e.logger.Debug("mutation rolled back", "mutation", m.ID.String(), "error", cause)
	m.finish(MutationRolledBack, cause)
}

// resolved reports whether data holds a non-null value for any root field of
// selections.
func resolved(selections []selection.Node, data map[string]any) bool {
	for _, node := range selections {
		switch f := node.(type) {
		case *selection.ScalarField:
			if f.Name != models.TypenameKey && present(data[f.ResponseKey()]) {
				return true
			}
		case *selection.LinkedField:
			if present(data[f.ResponseKey()]) {
				return true
			}
		case *selection.InlineFragment:
			if resolved(f.Selections, data) {
				return true
			}
		case *selection.FragmentSpread:
			if f.Fragment != nil && resolved(f.Fragment.Selections, data) {
				return true
			}
		}
	}
	return false
}

func present(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case map[string]any:
		return x != nil
	default:
		return true
	}
}

// completion returns what OnCompleted receives: the response data and the
// errors that came with it.
func completion(res *connection.Response, err error) (map[string]any, []connection.GraphQLError) {
	var serverErr *connection.ServerError
	if errors.As(err, &serverErr) {
		return serverErr.Data, serverErr.Errors
	}
	if res == nil {
		return nil, nil
	}
	return res.Data, res.Errors
}
