package store

import (
	"reflect"
	"sync"
	"sync/atomic"

	"github.com/surrealdb/gqlcache.go/pkg/models"
	"github.com/surrealdb/gqlcache.go/pkg/resolver"
	"github.com/surrealdb/gqlcache.go/pkg/selection"
)

type subscription struct {
	root       models.DataID
	selections []selection.Node
	vars       map[string]any
	callback   func(resolver.Snapshot)
	closed     atomic.Bool

	// last is only touched by the goroutine draining the publish queue.
	last resolver.Snapshot
}

// subscriptions delivers change notifications. Changes are queued and drained
// by one goroutine at a time, so callbacks are never concurrent and may write
// to the store themselves.
type subscriptions struct {
	s *Store

	mu      sync.Mutex
	subs    map[uint64]*subscription
	nextID  uint64
	pending map[resolver.FieldKey]struct{}
	drain   bool
}

func newSubscriptions(s *Store) *subscriptions {
	return &subscriptions{
		s:    s,
		subs: make(map[uint64]*subscription),
	}
}

// Subscribe reads selections from root and calls onChange every time a later
// update changes the result. Updates touching none of the fields the last read
// depended on are not delivered.
func (s *Store) Subscribe(root models.DataID, selections []selection.Node, vars map[string]any, onChange func(resolver.Snapshot)) (resolver.Snapshot, func()) {
	sub := &subscription{
		root:       root,
		selections: selections,
		vars:       vars,
		callback:   onChange,
	}

	// Registering under the read lock means an update either happened before
	// the initial read or will be published to this subscription.
	s.mu.RLock()
	sub.last = s.read(root, selections, vars)
	id := s.subs.add(sub)
	s.mu.RUnlock()

	var once sync.Once
	return sub.last, func() {
		once.Do(func() {
			sub.closed.Store(true)
			s.subs.remove(id)
		})
	}
}

func (ss *subscriptions) add(sub *subscription) uint64 {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	ss.nextID++
	ss.subs[ss.nextID] = sub
	return ss.nextID
}

func (ss *subscriptions) remove(id uint64) {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	delete(ss.subs, id)
}

func (ss *subscriptions) Len() int {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	return len(ss.subs)
}

func (ss *subscriptions) publish(changed map[resolver.FieldKey]struct{}) {
	ss.mu.Lock()
	if ss.pending == nil {
		ss.pending = make(map[resolver.FieldKey]struct{}, len(changed))
	}
	for k := range changed {
		ss.pending[k] = struct{}{}
	}
	if ss.drain {
		ss.mu.Unlock()
		return
	}
	ss.drain = true
	ss.mu.Unlock()

	for {
		ss.mu.Lock()
		batch := ss.pending
		ss.pending = nil
		if len(batch) == 0 {
			ss.drain = false
			ss.mu.Unlock()
			return
		}
		targets := make([]*subscription, 0, len(ss.subs))
		for _, sub := range ss.subs {
			targets = append(targets, sub)
		}
		ss.mu.Unlock()

		for _, sub := range targets {
			ss.notify(sub, batch)
		}
	}
}

func (ss *subscriptions) notify(sub *subscription, changed map[resolver.FieldKey]struct{}) {
	if sub.closed.Load() || !intersects(sub.last.Seen, changed) {
		return
	}
	next := ss.s.Read(sub.root, sub.selections, sub.vars)
	prev := sub.last
	sub.last = next
	if next.IsMissingData == prev.IsMissingData && reflect.DeepEqual(next.Data, prev.Data) {
		return
	}
	if sub.closed.Load() {
		return
	}
	ss.s.metrics.Notified()
	sub.callback(next)
}

func intersects(seen resolver.Seen, changed map[resolver.FieldKey]struct{}) bool {
	if len(seen) < len(changed) {
		for k := range seen {
			if _, ok := changed[k]; ok {
				return true
			}
		}
		return false
	}
	for k := range changed {
		if _, ok := seen[k]; ok {
			return true
		}
	}
	return false
}

// Subscribers returns the number of live subscriptions.
func (s *Store) Subscribers() int {
	return s.subs.Len()
}
