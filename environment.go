package gqlcache

import (
	"context"
	"sync"

	"github.com/surrealdb/gqlcache.go/pkg/connection"
	"github.com/surrealdb/gqlcache.go/pkg/logger"
	"github.com/surrealdb/gqlcache.go/pkg/metrics"
	"github.com/surrealdb/gqlcache.go/pkg/models"
	"github.com/surrealdb/gqlcache.go/pkg/resolver"
	"github.com/surrealdb/gqlcache.go/pkg/schema"
	"github.com/surrealdb/gqlcache.go/pkg/selection"
	"github.com/surrealdb/gqlcache.go/pkg/store"
)

// Environment is the store and the connection every operation runs against.
type Environment struct {
	store   *store.Store
	conn    connection.Connection
	logger  logger.Logger
	metrics *metrics.Collector

	// ctx ends subscriptions when the environment is closed.
	ctx      context.Context
	cancel   context.CancelFunc
	inflight sync.WaitGroup
	streams  sync.WaitGroup

	// closeLog releases a log file opened by FromConfig.
	closeLog func() error
}

type options struct {
	store   *store.Store
	schema  *schema.Registry
	logger  logger.Logger
	metrics *metrics.Collector
}

type Option func(*options)

// WithStore makes the environment use s instead of creating a store.
func WithStore(s *store.Store) Option {
	return func(o *options) { o.store = s }
}

// WithSchema enables non-null warnings and abstract type matching in the store.
func WithSchema(reg *schema.Registry) Option {
	return func(o *options) { o.schema = reg }
}

func WithLogger(l logger.Logger) Option {
	return func(o *options) { o.logger = l }
}

func WithMetrics(m *metrics.Collector) Option {
	return func(o *options) { o.metrics = m }
}

// NewEnvironment creates an environment executing requests on conn.
func NewEnvironment(conn connection.Connection, opts ...Option) *Environment {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	l := logger.OrNop(o.logger)
	s := o.store
	if s == nil {
		s = store.New(
			store.WithSchema(o.schema),
			store.WithLogger(l),
			store.WithMetrics(o.metrics),
		)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Environment{
		store:   s,
		conn:    conn,
		logger:  l,
		metrics: o.metrics,
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (e *Environment) Store() *store.Store {
	return e.store
}

func (e *Environment) Connection() connection.Connection {
	return e.conn
}

func (e *Environment) Logger() logger.Logger {
	return e.logger
}

func (e *Environment) Metrics() *metrics.Collector {
	return e.metrics
}

// Subscribe reads selections from root and calls onChange whenever a later
// write changes the result. Call the returned function to stop; it does not
// cancel requests already in flight.
func (e *Environment) Subscribe(root models.DataID, selections []selection.Node, vars map[string]any, onChange func(resolver.Snapshot)) (resolver.Snapshot, func()) {
	return e.store.Subscribe(root, selections, vars, onChange)
}

// Wait blocks until every request started by CommitMutation and Paginator
// has been written to the store.
func (e *Environment) Wait() {
	e.inflight.Wait()
}

// Close ends open subscriptions and waits for requests in flight, then
// closes the connection.
func (e *Environment) Close(ctx context.Context) error {
	e.cancel()
	e.streams.Wait()
	e.Wait()
	err := e.conn.Close(ctx)
	if e.closeLog != nil {
		if lerr := e.closeLog(); err == nil {
			err = lerr
		}
	}
	return err
}

// async runs fn on its own goroutine, tracked by Wait.
func (e *Environment) async(fn func()) {
	e.inflight.Add(1)
	go func() {
		defer e.inflight.Done()
		fn()
	}()
}

func (e *Environment) rootType(kind selection.OperationKind) string {
	if reg := e.store.Schema(); reg != nil {
		if t := reg.RootType(string(kind)); t != "" {
			return t
		}
	}
	switch kind {
	case selection.Mutation:
		return "Mutation"
	case selection.Subscription:
		return "Subscription"
	default:
		return "Query"
	}
}
