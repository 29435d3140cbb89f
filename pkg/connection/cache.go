package connection

import (
	"context"
	"time"

	"github.com/goccy/go-json"
	"github.com/jellydator/ttlcache/v3"
	"github.com/surrealdb/gqlcache.go/pkg/metrics"
	"github.com/surrealdb/gqlcache.go/pkg/models"
	"github.com/surrealdb/gqlcache.go/pkg/selection"
)

// Caching serves repeated queries from a response cache keyed by document
// and variables. Only complete, error-free query responses are cached. Any
// mutation clears the cache. Requests with SkipCache always reach the
// network and refresh their entry.
type Caching struct {
	Connection
	cache   *ttlcache.Cache[string, *Response]
	metrics *metrics.Collector
}

func NewCaching(conn Connection, ttl time.Duration, capacity uint64, m *metrics.Collector) *Caching {
	opts := []ttlcache.Option[string, *Response]{
		ttlcache.WithTTL[string, *Response](ttl),
		ttlcache.WithDisableTouchOnHit[string, *Response](),
	}
	if capacity > 0 {
		opts = append(opts, ttlcache.WithCapacity[string, *Response](capacity))
	}
	return &Caching{
		Connection: conn,
		cache:      ttlcache.New[string, *Response](opts...),
		metrics:    m,
	}
}

func (c *Caching) Execute(ctx context.Context, req *Request) (*Response, error) {
	switch req.Kind {
	case selection.Mutation:
		c.cache.DeleteAll()
		return c.Connection.Execute(ctx, req)
	case selection.Subscription:
		return c.Connection.Execute(ctx, req)
	}

	key, err := cacheKey(req)
	if err != nil {
		return c.Connection.Execute(ctx, req)
	}
	if !req.SkipCache {
		if item := c.cache.Get(key); item != nil {
			c.metrics.CacheLookup(true)
			c.metrics.ObserveRequest(string(req.Kind), metrics.OutcomeCacheHit, 0)
			return cloneResponse(item.Value()), nil
		}
		c.metrics.CacheLookup(false)
	}

	res, err := c.Connection.Execute(ctx, req)
	if err == nil && res != nil {
		c.cache.Set(key, cloneResponse(res), ttlcache.DefaultTTL)
	}
	return res, err
}

// Invalidate drops every cached response.
func (c *Caching) Invalidate() {
	c.cache.DeleteAll()
}

func (c *Caching) Len() int {
	return c.cache.Len()
}

func (c *Caching) Subscribe(ctx context.Context, req *Request) (*Stream, error) {
	sub, ok := c.Connection.(Subscriber)
	if !ok {
		return nil, errSubscriptionsUnsupported
	}
	return sub.Subscribe(ctx, req)
}

func cacheKey(req *Request) (string, error) {
	vars, err := json.Marshal(req.Variables)
	if err != nil {
		return "", err
	}
	return req.OperationName + "\x00" + req.Query + "\x00" + string(vars), nil
}

func cloneResponse(res *Response) *Response {
	out := &Response{Errors: res.Errors}
	if res.Data != nil {
		out.Data = models.CloneValue(res.Data).(map[string]any)
	}
	if res.Extensions != nil {
		out.Extensions = models.CloneValue(res.Extensions).(map[string]any)
	}
	return out
}
