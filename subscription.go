package gqlcache

import (
	"context"

	"github.com/surrealdb/gqlcache.go/pkg/connection"
	"github.com/surrealdb/gqlcache.go/pkg/selection"
	"github.com/surrealdb/gqlcache.go/pkg/store"
)

// SubscriptionConfig describes a GraphQL subscription request.
type SubscriptionConfig struct {
	Operation *selection.Operation
	Variables map[string]any
	// Updater runs in the update that writes each payload.
	Updater func(tx *store.Tx, data map[string]any) error
	// OnNext is called after a payload has been written to the store.
	OnNext func(data map[string]any)
	// OnError is called once when the stream fails. The subscription ends.
	OnError func(err error)
	// OnCompleted is called when the server ends the subscription.
	OnCompleted func()
}

// RequestSubscription starts a GraphQL subscription and writes every payload
// into the store. It ends when ctx is done, the returned function is called,
// or the server completes it.
func (e *Environment) RequestSubscription(ctx context.Context, cfg SubscriptionConfig) (func(), error) {
	op := cfg.Operation
	if op == nil || op.Kind != selection.Subscription {
		return nil, ErrNotSubscription
	}
	sub, ok := e.conn.(connection.Subscriber)
	if !ok {
		return nil, ErrNoSubscriber
	}

	vars := op.VariablesWith(cfg.Variables)
	ctx, cancel := context.WithCancel(ctx)
	stopOnClose := context.AfterFunc(e.ctx, cancel)
	stream, err := sub.Subscribe(ctx, connection.NewRequest(op, vars))
	if err != nil {
		stopOnClose()
		cancel()
		return nil, err
	}

	e.streams.Add(1)
	go func() {
		defer e.streams.Done()
		defer stopOnClose()
		defer cancel()
		for ev := range stream.C {
			_, err := e.commitResponse(op, vars, ev.Response, ev.Err, defaultMergeMode, nil, cfg.Updater)
			if err != nil && !hasData(err) {
				if ctx.Err() == nil && cfg.OnError != nil {
					cfg.OnError(err)
				}
				stream.Close()
				return
			}
			if ctx.Err() == nil && cfg.OnNext != nil && ev.Response != nil {
				cfg.OnNext(ev.Response.Data)
			}
		}
		if ctx.Err() == nil && cfg.OnCompleted != nil {
			cfg.OnCompleted()
		}
	}()

	return func() {
		cancel()
		stream.Close()
	}, nil
}
