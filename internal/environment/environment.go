package environment

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/hanpama/gqlenv/internal/eventbus"
	"github.com/hanpama/gqlenv/internal/events"
	"github.com/hanpama/gqlenv/internal/language"
	"github.com/hanpama/gqlenv/internal/reqid"
	"github.com/hanpama/gqlenv/internal/store"
	"github.com/hanpama/gqlenv/internal/transport"
)

var (
	// ErrDisposed is returned by every operation on a discarded environment.
	ErrDisposed = errors.New("environment: disposed")

	// ErrNotCached is returned for StoreOnly executions the store cannot
	// answer, and for StoreOnly mutations.
	ErrNotCached = errors.New("environment: data not in store")
)

// Result is the outcome of an execution. Errors holds GraphQL errors that
// came with the response; Data then holds whatever part was resolved.
type Result struct {
	Data   map[string]any
	Errors transport.GraphQLErrors
	Source events.Source
}

// Environment binds one record store to one transport for its lifetime.
// The store is never replaced; a new session gets a new Environment.
type Environment struct {
	id        string
	store     *store.Store
	transport transport.Sender
	opts      *Options

	inflight singleflight.Group

	// life scopes network calls; Dispose cancels it.
	life     context.Context
	cancel   context.CancelFunc
	disposed atomic.Bool
}

func New(t transport.Sender, opts ...Option) *Environment {
	o := &Options{}
	for _, f := range opts {
		f(o)
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Documents == nil {
		o.Documents = language.NewCache(0)
	}
	id := uuid.NewString()
	o.Logger = o.Logger.With(zap.String("environment", id))
	life, cancel := context.WithCancel(context.Background())
	return &Environment{
		id:        id,
		store:     store.New(),
		transport: t,
		opts:      o,
		life:      life,
		cancel:    cancel,
	}
}

func (e *Environment) ID() string { return e.id }

func (e *Environment) Disposed() bool { return e.disposed.Load() }

// Dispose discards the environment. In-flight requests are aborted and
// their responses are never committed.
func (e *Environment) Dispose() {
	if e.disposed.Swap(true) {
		return
	}
	e.cancel()
	n := e.store.Len()
	eventbus.Publish(context.Background(), e.opts.Bus, events.EnvironmentDisposed{EnvironmentID: e.id, Records: n})
	e.opts.Logger.Debug("environment disposed", zap.Int("records", n))
}

// Record returns a copy of a stored record.
func (e *Environment) Record(id string) (store.Record, bool) {
	return e.store.Get(id)
}

func (e *Environment) RecordCount() int { return e.store.Len() }

type prepared struct {
	sel store.Selector
	op  *language.OperationDefinition
	key string
}

func (e *Environment) prepare(d Descriptor) (*prepared, error) {
	doc, err := e.opts.Documents.Parse(d.Query)
	if err != nil {
		return nil, fmt.Errorf("environment: parse: %w", err)
	}
	op, err := language.SelectOperation(doc, d.OperationName)
	if err != nil {
		return nil, err
	}
	key, err := d.Key()
	if err != nil {
		return nil, err
	}
	return &prepared{sel: store.OperationSelector(doc, op, d.Variables), op: op, key: key}, nil
}

// Lookup answers d from the store alone. ok is false when the store is
// missing any selected field.
func (e *Environment) Lookup(d Descriptor) (*Result, bool) {
	if e.disposed.Load() {
		return nil, false
	}
	p, err := e.prepare(d)
	if err != nil || p.op.Operation != language.Query {
		return nil, false
	}
	data, complete := e.store.Read(p.sel)
	if !complete {
		return nil, false
	}
	return &Result{Data: data, Source: events.SourceStore}, true
}

// Execute runs d. Unless the policy forbids it, a query the store can fully
// answer is served without a request. Concurrent executions of the same
// descriptor share one request. When Execute returns successfully the store
// already holds the response.
//
// If ctx ends first, Execute returns ctx.Err() but the request keeps
// running and its response is still committed.
func (e *Environment) Execute(ctx context.Context, d Descriptor, opts ...ExecOption) (res *Result, err error) {
	var eo execOptions
	for _, f := range opts {
		f(&eo)
	}
	if e.disposed.Load() {
		return nil, ErrDisposed
	}
	p, err := e.prepare(d)
	if err != nil {
		return nil, err
	}

	ctx, rid := reqid.Ensure(ctx)
	opType := string(p.op.Operation)
	start := time.Now()
	eventbus.Publish(ctx, e.opts.Bus, events.ExecuteStart{EnvironmentID: e.id, OperationName: p.op.Name, OperationType: opType})
	defer func() {
		fin := events.ExecuteFinish{
			EnvironmentID: e.id,
			OperationName: p.op.Name,
			OperationType: opType,
			Err:           err,
			Duration:      time.Since(start),
		}
		if res != nil {
			fin.Source = res.Source
			fin.Errors = len(res.Errors)
		}
		eventbus.Publish(ctx, e.opts.Bus, fin)
	}()

	isQuery := p.op.Operation == language.Query
	if isQuery && eo.policy != NetworkOnly {
		if data, complete := e.store.Read(p.sel); complete {
			return &Result{Data: data, Source: events.SourceStore}, nil
		}
		if eo.policy == StoreOnly {
			return nil, ErrNotCached
		}
	}

	if !isQuery {
		if eo.policy == StoreOnly {
			return nil, ErrNotCached
		}
		// Identical mutations are distinct requests.
		resp, err := e.fetch(rid, d, p)
		if err != nil {
			return nil, err
		}
		return e.result(p, resp, events.SourceNetwork), nil
	}

	ch := e.inflight.DoChan(p.key, func() (any, error) {
		resp, err := e.fetch(rid, d, p)
		if err != nil {
			return nil, err
		}
		return &flight{resp: resp}, nil
	})
	select {
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		fl := r.Val.(*flight)
		src := events.SourceDeduplicated
		if fl.claimed.CompareAndSwap(false, true) {
			src = events.SourceNetwork
		}
		return e.result(p, fl.resp, src), nil
	case <-ctx.Done():
		e.opts.Logger.Debug("caller gave up on request", zap.String("request_id", rid), zap.Error(ctx.Err()))
		return nil, ctx.Err()
	}
}

// flight is the shared outcome of one request. The first caller to take it
// reports the network as its source, the rest report deduplication, so a
// leader that gave up does not leave the request uncounted.
type flight struct {
	resp    *transport.Response
	claimed atomic.Bool
}

// fetch sends one request and commits its data. It runs under the
// environment's lifetime, not the caller's context.
func (e *Environment) fetch(rid string, d Descriptor, p *prepared) (*transport.Response, error) {
	ctx := reqid.WithID(e.life, rid)
	resp, err := e.transport.Send(ctx, transport.Request{
		Query:         d.Query,
		OperationName: d.OperationName,
		Variables:     d.Variables,
	})
	if e.disposed.Load() {
		return nil, ErrDisposed
	}
	if err != nil {
		e.opts.Logger.Warn("graphql request failed", zap.String("request_id", rid), zap.String("operation", p.op.Name), zap.Error(err))
		return nil, err
	}
	if err := e.store.Apply(p.sel, resp.Data); err != nil {
		return nil, fmt.Errorf("environment: normalize response: %w", err)
	}
	if len(resp.Errors) > 0 {
		e.opts.Logger.Info("graphql response carried errors", zap.String("request_id", rid), zap.String("operation", p.op.Name), zap.Error(resp.Err()))
	}
	return resp, nil
}

func (e *Environment) result(p *prepared, resp *transport.Response, src events.Source) *Result {
	res := &Result{Errors: resp.Errors, Source: src}
	if resp.Data != nil {
		res.Data, _ = e.store.Read(p.sel)
	}
	return res
}

// Load starts executing d and returns immediately. The future is already
// resolved when the store can answer d.
func (e *Environment) Load(ctx context.Context, d Descriptor, opts ...ExecOption) *Future {
	var eo execOptions
	for _, f := range opts {
		f(&eo)
	}
	if eo.policy != NetworkOnly {
		if res, ok := e.Lookup(d); ok {
			return resolvedFuture(res)
		}
	}
	f := newFuture()
	go func() {
		res, err := e.Execute(ctx, d, opts...)
		f.settle(res, err)
	}()
	return f
}
