package rews

import (
	"context"
	"errors"
	"sync"

	"github.com/gofrs/uuid"
	"github.com/surrealdb/gqlcache.go/pkg/connection"
	"github.com/surrealdb/gqlcache.go/pkg/constants"
	"github.com/surrealdb/gqlcache.go/pkg/logger"
)

// router keeps the subscription streams handed out by a Connection. Each
// route owns a stable output channel and forwards events from whichever
// upstream stream currently serves it.
type router struct {
	routes   map[string]*route
	routesMu sync.RWMutex

	logger logger.Logger
}

type route struct {
	// Immutable fields, set once on creation.
	id  string
	ctx context.Context
	req *connection.Request
	out chan connection.Event

	owner  *Connection
	router *router

	stopCh    chan struct{}
	stopOnce  sync.Once
	stoppedCh chan struct{}
}

func newRouter(log logger.Logger) *router {
	return &router{
		routes: make(map[string]*route),
		logger: log,
	}
}

// add registers a route fed by up, which was started on conn, and returns
// the stable stream for it.
func (r *router) add(
	ctx context.Context,
	owner *Connection,
	req *connection.Request,
	up *connection.Stream,
	conn *connection.WebSocketConnection,
) *connection.Stream {
	rt := &route{
		id:        uuid.Must(uuid.NewV4()).String(),
		ctx:       ctx,
		req:       req,
		out:       make(chan connection.Event, cap(up.C)),
		owner:     owner,
		router:    r,
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}

	r.routesMu.Lock()
	r.routes[rt.id] = rt
	r.routesMu.Unlock()

	r.logger.Debug("rews: subscription routed", "route", rt.id, "operation", req.OperationName)
	go rt.run(up, conn)

	return connection.NewStream(rt.out, rt.stop)
}

func (r *router) remove(id string) {
	r.routesMu.Lock()
	defer r.routesMu.Unlock()
	delete(r.routes, id)
}

func (r *router) len() int {
	r.routesMu.RLock()
	defer r.routesMu.RUnlock()
	return len(r.routes)
}

// stopAll stops every route and waits for their goroutines to return.
func (r *router) stopAll() {
	r.routesMu.RLock()
	routes := make([]*route, 0, len(r.routes))
	for _, rt := range r.routes {
		routes = append(routes, rt)
	}
	r.routesMu.RUnlock()

	for _, rt := range routes {
		rt.stop()
		<-rt.stoppedCh
	}
}

func (rt *route) stop() {
	rt.stopOnce.Do(func() { close(rt.stopCh) })
}

func (rt *route) run(up *connection.Stream, conn *connection.WebSocketConnection) {
	defer close(rt.stoppedCh)
	defer close(rt.out)
	defer rt.router.remove(rt.id)

	for up != nil {
		if !rt.forward(up) {
			return
		}
		rt.router.logger.Debug("rews: subscription lost its connection", "route", rt.id)
		up, conn = rt.resubscribe(conn)
	}
}

// forward copies events from up to the output channel. It returns true when
// up ended because its connection was lost.
func (rt *route) forward(up *connection.Stream) bool {
	defer up.Close()

	for {
		select {
		case <-rt.stopCh:
			return false
		case <-rt.ctx.Done():
			return false
		case ev, ok := <-up.C:
			if !ok {
				return false
			}
			if errors.Is(ev.Err, constants.ErrNetworkUnavailable) {
				return true
			}
			select {
			case rt.out <- ev:
			case <-rt.stopCh:
				return false
			case <-rt.ctx.Done():
				return false
			}
		}
	}
}

// resubscribe waits for a live connection other than lost and restarts the
// subscription on it. It returns nil when the route was stopped first.
func (rt *route) resubscribe(lost *connection.WebSocketConnection) (*connection.Stream, *connection.WebSocketConnection) {
	for {
		conn, replaced := rt.owner.conn()
		if conn != nil && conn != lost && !conn.IsClosed() {
			up, err := conn.Subscribe(rt.ctx, rt.req)
			if err == nil {
				rt.router.logger.Debug("rews: subscription restored", "route", rt.id)
				return up, conn
			}
			rt.router.logger.Warn("rews: failed to restore subscription", "route", rt.id, "error", err)
			lost = conn
		}

		select {
		case <-replaced:
		case <-rt.stopCh:
			return nil, nil
		case <-rt.ctx.Done():
			return nil, nil
		}
	}
}
