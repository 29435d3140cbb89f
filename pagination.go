package gqlcache

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/surrealdb/gqlcache.go/pkg/connection"
	"github.com/surrealdb/gqlcache.go/pkg/constants"
	"github.com/surrealdb/gqlcache.go/pkg/models"
	"github.com/surrealdb/gqlcache.go/pkg/resolver"
	"github.com/surrealdb/gqlcache.go/pkg/selection"
	"github.com/surrealdb/gqlcache.go/pkg/store"
)

// PaginationConfig describes a paginated @connection field of a query.
type PaginationConfig struct {
	// Operation is the query selecting the connection. It is re-executed for
	// every page with the count and cursor variables set.
	Operation *selection.Operation
	Variables map[string]any
	// ConnectionKey is the key of the field's @connection directive.
	ConnectionKey string
	// CountVariable names the page size variable. Defaults to "count".
	CountVariable string
	// CursorVariable names the after cursor variable. Defaults to "cursor".
	CursorVariable string
}

type paginationState int

const (
	paginationIdle paginationState = iota
	paginationFetching
)

// Paginator loads pages of one connection. Its identity is the record
// holding the connection and the connection's handle key.
//
// At most one page is fetched at a time. Refetch starts a new generation:
// pages requested by earlier generations are dropped when they arrive.
type Paginator struct {
	env  *Environment
	op   *selection.Operation
	path []*selection.LinkedField

	countVar  string
	cursorVar string

	mu         sync.Mutex
	state      paginationState
	generation uint64
	vars       map[string]any

	// commitMu orders the generation check before each write against later commits.
	commitMu sync.Mutex
	wg       sync.WaitGroup
}

// NewPaginator creates a paginator for the connection cfg.ConnectionKey of cfg.Operation.
func (e *Environment) NewPaginator(cfg PaginationConfig) (*Paginator, error) {
	if cfg.Operation == nil || cfg.Operation.Kind != selection.Query {
		return nil, fmt.Errorf("%w: pagination needs a query", constants.ErrConfiguration)
	}
	path, ok := selection.FindConnection(cfg.Operation.Selections, cfg.ConnectionKey)
	if !ok {
		return nil, fmt.Errorf("%w: %q in %s", ErrUnknownConnection, cfg.ConnectionKey, cfg.Operation.Name)
	}
	p := &Paginator{
		env:       e,
		op:        cfg.Operation,
		path:      path,
		countVar:  cfg.CountVariable,
		cursorVar: cfg.CursorVariable,
		vars:      cfg.Operation.VariablesWith(cfg.Variables),
	}
	if p.countVar == "" {
		p.countVar = "count"
	}
	if p.cursorVar == "" {
		p.cursorVar = "cursor"
	}
	return p, nil
}

// HasMore reports whether the server said another page follows the last one loaded.
func (p *Paginator) HasMore() bool {
	return p.info().HasNextPage
}

// IsLoading reports whether a page is being fetched.
func (p *Paginator) IsLoading() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state == paginationFetching
}

// Identity returns the record holding the connection and its handle key.
// The record is empty until the parent has been loaded.
func (p *Paginator) Identity() (models.DataID, string) {
	p.mu.Lock()
	vars := p.vars
	p.mu.Unlock()
	return p.identity(vars)
}

// Snapshot reads the paginated query from the store.
func (p *Paginator) Snapshot() resolver.Snapshot {
	p.mu.Lock()
	vars := p.vars
	p.mu.Unlock()
	return p.env.store.Read(models.RootID, p.op.Selections, vars)
}

// LoadMore fetches the page after the current end cursor and appends its
// edges. It returns false without sending a request when a page is already
// being fetched or no further page exists. cb receives the outcome unless ctx
// is done by then; it may be nil.
func (p *Paginator) LoadMore(ctx context.Context, pageSize int, cb func(error)) bool {
	p.mu.Lock()
	if p.state == paginationFetching {
		p.mu.Unlock()
		return false
	}
	info := p.infoWith(p.vars)
	if !info.HasNextPage {
		p.mu.Unlock()
		return false
	}
	p.state = paginationFetching
	gen := p.generation
	vars := withVars(p.vars, map[string]any{p.countVar: pageSize, p.cursorVar: info.EndCursor})
	p.mu.Unlock()

	p.fetch(ctx, gen, vars, store.Append, false, cb)
	return true
}

// Refetch discards the loaded edges and fetches a first page with vars
// merged over the current variables, bypassing any response cache. A page
// still in flight from before is dropped when it arrives.
func (p *Paginator) Refetch(ctx context.Context, pageSize int, vars map[string]any, cb func(error)) {
	p.mu.Lock()
	p.generation++
	gen := p.generation
	p.vars = withVars(p.vars, vars)
	p.state = paginationFetching
	vars = withVars(p.vars, map[string]any{p.countVar: pageSize, p.cursorVar: nil})
	p.mu.Unlock()

	p.fetch(ctx, gen, vars, store.Replace, true, cb)
}

// Wait blocks until every page requested so far has been handled.
func (p *Paginator) Wait() {
	p.wg.Wait()
}

func (p *Paginator) fetch(ctx context.Context, gen uint64, vars map[string]any, mode store.MergeMode, skipCache bool, cb func(error)) {
	p.wg.Add(1)
	p.env.async(func() {
		defer p.wg.Done()

		req := connection.NewRequest(p.op, vars)
		req.SkipCache = skipCache
		res, execErr := p.env.conn.Execute(context.WithoutCancel(ctx), req)
		err := p.commit(gen, vars, res, execErr, mode)

		if err == constants.ErrStaleGeneration {
			p.env.logger.Debug("dropped stale page", "operation", p.op.Name, "generation", gen, "error", err)
			p.env.metrics.StalePageDropped()
			return
		}

		p.mu.Lock()
		if gen == p.generation {
			p.state = paginationIdle
		}
		p.mu.Unlock()

		if cb != nil && ctx.Err() == nil {
			cb(err)
		}
	})
}

// commit writes a page unless a refetch superseded its generation. A failed
// page leaves the store untouched, including a page whose partial data has an
// error on the connection or on a field leading to it.
func (p *Paginator) commit(gen uint64, vars map[string]any, res *connection.Response, execErr error, mode store.MergeMode) error {
	p.commitMu.Lock()
	defer p.commitMu.Unlock()

	p.mu.Lock()
	stale := gen != p.generation
	p.mu.Unlock()
	if stale {
		return constants.ErrStaleGeneration
	}
	if execErr != nil && (!hasData(execErr) || p.pathFailed(execErr)) {
		return execErr
	}

	target := p.path[len(p.path)-1]
	_, err := p.env.commitResponse(p.op, vars, res, execErr, func(payload store.ConnectionPayload) store.MergeMode {
		if payload.Field == target {
			return mode
		}
		return defaultMergeMode(payload)
	}, nil, nil)
	return err
}

// pathFailed reports whether err is a server error at the connection field
// or at one of the fields leading to it.
func (p *Paginator) pathFailed(err error) bool {
	var serverErr *connection.ServerError
	if !errors.As(err, &serverErr) {
		return false
	}
	for _, ge := range serverErr.Errors {
		if coversPath(ge.Path, p.path) {
			return true
		}
	}
	return false
}

// coversPath reports whether path addresses one of fields or a prefix of them.
func coversPath(path []any, fields []*selection.LinkedField) bool {
	if len(path) == 0 || len(path) > len(fields) {
		return false
	}
	for i, seg := range path {
		if key, ok := seg.(string); !ok || key != fields[i].ResponseKey() {
			return false
		}
	}
	return true
}

func (p *Paginator) info() store.ConnectionInfo {
	p.mu.Lock()
	vars := p.vars
	p.mu.Unlock()
	return p.infoWith(vars)
}

func (p *Paginator) infoWith(vars map[string]any) store.ConnectionInfo {
	parent, handleKey := p.identity(vars)
	if parent == "" {
		return store.ConnectionInfo{}
	}
	return p.env.store.Connection(parent, handleKey)
}

// identity follows the fields leading to the connection from the root record.
func (p *Paginator) identity(vars map[string]any) (models.DataID, string) {
	target := p.path[len(p.path)-1]
	parent := models.RootID
	found := true
	p.env.store.View(func(src resolver.RecordSource) {
		for _, f := range p.path[:len(p.path)-1] {
			rec, ok := src.Get(parent)
			if !ok {
				found = false
				return
			}
			next, ok := rec.GetRef(f.StorageKey(vars))
			if !ok {
				found = false
				return
			}
			parent = next
		}
	})
	if !found {
		return "", target.HandleKey(vars)
	}
	return parent, target.HandleKey(vars)
}

func withVars(base, extra map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}
