// Package store is the normalized record store: one flat map of records keyed
// by id, updated atomically and observed through fine-grained subscriptions.
package store

import (
	"sync"

	"github.com/surrealdb/gqlcache.go/pkg/logger"
	"github.com/surrealdb/gqlcache.go/pkg/metrics"
	"github.com/surrealdb/gqlcache.go/pkg/models"
	"github.com/surrealdb/gqlcache.go/pkg/resolver"
	"github.com/surrealdb/gqlcache.go/pkg/schema"
	"github.com/surrealdb/gqlcache.go/pkg/selection"
)

type Option func(*Store)

// WithSchema lets reads match inline fragments on abstract types and warn
// about dangling non-null references.
func WithSchema(reg *schema.Registry) Option {
	return func(s *Store) { s.schema = reg }
}

func WithLogger(l logger.Logger) Option {
	return func(s *Store) { s.logger = logger.OrNop(l) }
}

func WithMetrics(c *metrics.Collector) Option {
	return func(s *Store) { s.metrics = c }
}

// Store is safe for concurrent use. Writes are serialized, reads share a read
// lock, and subscriber callbacks run with no lock held.
type Store struct {
	mu      sync.RWMutex
	records map[models.DataID]*models.Record

	schema  *schema.Registry
	logger  logger.Logger
	metrics *metrics.Collector

	subs *subscriptions
}

func New(opts ...Option) *Store {
	s := &Store{
		records: make(map[models.DataID]*models.Record),
		logger:  logger.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.subs = newSubscriptions(s)
	return s
}

func (s *Store) Schema() *schema.Registry {
	return s.schema
}

// Update runs fn as one atomic batch. Readers observe either none or all of
// its writes. When fn fails or panics every write it made is undone and the
// error is returned or the panic propagated. The returned change holds the
// applied patch and its inverse.
func (s *Store) Update(fn func(tx *Tx) error) (*models.Change, error) {
	change, changed, size, err := s.apply(fn)
	if err != nil {
		return nil, err
	}
	if len(changed) > 0 {
		s.metrics.StoreCommitted(size)
		s.subs.publish(changed)
	}
	return change, nil
}

func (s *Store) apply(fn func(tx *Tx) error) (*models.Change, map[resolver.FieldKey]struct{}, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := newTx(s)
	committed := false
	defer func() {
		if !committed {
			tx.rollback()
		}
	}()

	if err := fn(tx); err != nil {
		return nil, nil, 0, err
	}
	change, changed := tx.commit()
	committed = true
	return change, changed, len(s.records), nil
}

// Write merges fields into the record id, creating it if needed. Each field
// key is overwritten as a whole: last write wins, values are never deep merged.
func (s *Store) Write(id models.DataID, typename string, fields map[string]any) *models.Change {
	change, _ := s.Update(func(tx *Tx) error {
		tx.Write(id, typename, fields)
		return nil
	})
	return change
}

// Delete removes a record. References to it are left in place and read as missing.
func (s *Store) Delete(id models.DataID) *models.Change {
	change, _ := s.Update(func(tx *Tx) error {
		tx.Delete(id)
		return nil
	})
	return change
}

// ApplyPatch applies p atomically and returns the resulting change.
func (s *Store) ApplyPatch(p models.Patch) *models.Change {
	change, _ := s.Update(func(tx *Tx) error {
		tx.ApplyPatch(p)
		return nil
	})
	return change
}

// Get returns a copy of the record.
func (s *Store) Get(id models.DataID) (*models.Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[id]
	if !ok {
		return nil, false
	}
	return r.Clone(), true
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Read denormalizes selections starting at root. It has no side effects.
func (s *Store) Read(root models.DataID, selections []selection.Node, vars map[string]any) resolver.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read(root, selections, vars)
}

// View runs fn against a consistent view of the store. fn must not retain
// the source or the records it returns.
func (s *Store) View(fn func(src resolver.RecordSource)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn(source(s.records))
}

func (s *Store) read(root models.DataID, selections []selection.Node, vars map[string]any) resolver.Snapshot {
	return resolver.Read(source(s.records), root, selections, vars, resolver.Options{
		Schema: s.schema,
		Logger: s.logger,
	})
}

type source map[models.DataID]*models.Record

func (src source) Get(id models.DataID) (*models.Record, bool) {
	r, ok := src[id]
	return r, ok
}
