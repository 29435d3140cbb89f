package gqlcache

import (
	"context"
	"errors"

	"github.com/surrealdb/gqlcache.go/pkg/connection"
	"github.com/surrealdb/gqlcache.go/pkg/models"
	"github.com/surrealdb/gqlcache.go/pkg/resolver"
	"github.com/surrealdb/gqlcache.go/pkg/selection"
	"github.com/surrealdb/gqlcache.go/pkg/store"
)

// mergeModeFunc picks how a @connection page found in a response is merged.
type mergeModeFunc func(store.ConnectionPayload) store.MergeMode

// defaultMergeMode appends pages requested with an after cursor and replaces
// the edges of first pages.
func defaultMergeMode(p store.ConnectionPayload) store.MergeMode {
	if after, ok := p.Args["after"]; ok && after != nil {
		return store.Append
	}
	return store.Replace
}

// FetchQuery executes op and writes the response into the store, then reads
// op back from the store.
//
// A *connection.ServerError is returned together with the snapshot when the
// server sent partial data. The request is not canceled with ctx.
func (e *Environment) FetchQuery(ctx context.Context, op *selection.Operation, vars map[string]any) (resolver.Snapshot, error) {
	vars = op.VariablesWith(vars)
	res, err := e.conn.Execute(context.WithoutCancel(ctx), connection.NewRequest(op, vars))
	if _, err := e.commitResponse(op, vars, res, err, defaultMergeMode, nil, nil); err != nil && !hasData(err) {
		return resolver.Snapshot{}, err
	}
	return e.store.Read(models.RootID, op.Selections, vars), err
}

// Lookup reads op from the store without a request.
func (e *Environment) Lookup(op *selection.Operation, vars map[string]any) resolver.Snapshot {
	return e.store.Read(models.RootID, op.Selections, op.VariablesWith(vars))
}

// commitResponse writes a response into the store in one update. Errors
// flagged with invalidatesSubtree remove their path from the data first. When
// execErr carries no usable data the store is left untouched and execErr is
// returned. before runs in the same update ahead of normalization, updater
// after it; either may be nil.
func (e *Environment) commitResponse(op *selection.Operation, vars map[string]any, res *connection.Response, execErr error, mode mergeModeFunc, before func(*store.Tx), updater func(*store.Tx, map[string]any) error) (*models.Change, error) {
	data, err := responseData(res, execErr)
	if data == nil {
		return nil, err
	}

	change, uerr := e.store.Update(func(tx *store.Tx) error {
		if before != nil {
			before(tx)
		}
		payloads := store.Normalize(tx, models.RootID, e.rootType(op.Kind), op.Selections, vars, data)
		for _, p := range payloads {
			store.MergeConnection(tx, p, mode(p))
		}
		if updater != nil {
			return updater(tx, data)
		}
		return nil
	})
	if uerr != nil {
		return nil, uerr
	}
	return change, err
}

// responseData returns the data worth normalizing, with invalidated subtrees
// pruned.
func responseData(res *connection.Response, execErr error) (map[string]any, error) {
	if execErr == nil {
		if res == nil {
			return nil, nil
		}
		return res.Data, nil
	}

	var serverErr *connection.ServerError
	if !errors.As(execErr, &serverErr) || !serverErr.HasData() {
		return nil, execErr
	}
	data := serverErr.Data
	if res != nil && res.Data != nil {
		data = res.Data
	}
	for _, path := range serverErr.InvalidatedPaths() {
		store.Prune(data, path)
	}
	return data, execErr
}

// hasData reports whether err is a server error that came with partial data.
func hasData(err error) bool {
	var serverErr *connection.ServerError
	return errors.As(err, &serverErr) && serverErr.HasData()
}
