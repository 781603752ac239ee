package session

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/hanpama/gqlenv/internal/environment"
	"github.com/hanpama/gqlenv/internal/eventbus"
	"github.com/hanpama/gqlenv/internal/events"
	"github.com/hanpama/gqlenv/internal/store"
)

// IdentityQuery asks the server who the current credentials belong to.
const IdentityQuery = `query SessionQuery { me { id email } }`

// ErrSuperseded is returned by Refresh when the environment was replaced
// while the identity query was in flight. Its result is dropped.
var ErrSuperseded = errors.New("session: environment replaced during refresh")

// Factory builds a new environment whose transport carries creds. creds is
// nil for anonymous sessions.
type Factory func(creds oauth2.TokenSource) *environment.Environment

type Options struct {
	Logger *zap.Logger
	Bus    *eventbus.Bus
}

type Option func(*Options)

func WithLogger(l *zap.Logger) Option     { return func(o *Options) { o.Logger = l } }
func WithEventBus(b *eventbus.Bus) Option { return func(o *Options) { o.Bus = b } }

// Controller owns the current environment and the authentication state
// derived from it. Every change of credentials replaces the environment, so
// records fetched for one user are never readable by the next.
type Controller struct {
	factory Factory
	opts    *Options

	mu       sync.Mutex
	creds    oauth2.TokenSource
	env      *environment.Environment
	state    State
	identity *Identity

	// Transitions are queued under mu and delivered without it, in order,
	// by whichever goroutine is draining. A listener that starts another
	// transition only appends to the queue.
	notifyMu  sync.Mutex
	queue     []transition
	draining  bool
	listeners *eventbus.Bus
}

func New(factory Factory, opts ...Option) *Controller {
	o := &Options{}
	for _, f := range opts {
		f(o)
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	c := &Controller{
		factory:   factory,
		opts:      o,
		env:       factory(nil),
		state:     Unauthenticated,
		listeners: eventbus.New(),
	}
	return c
}

// Snapshot returns the current authentication view.
func (c *Controller) Snapshot() Auth {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() Auth {
	var id *Identity
	if c.identity != nil {
		cp := *c.identity
		id = &cp
	}
	return Auth{
		State:         c.state,
		Authenticated: c.state == Authenticated,
		Identity:      id,
		EnvironmentID: c.env.ID(),
		reset:         c.ResetEnvironment,
	}
}

// Subscribe registers fn to be called after every state transition.
// Listeners run one at a time in transition order. They may call back into
// the controller, including Auth.ResetEnvironment.
func (c *Controller) Subscribe(fn func(Auth)) (unsubscribe func()) {
	return eventbus.Subscribe(c.listeners, func(_ context.Context, a Auth) { fn(a) })
}

type transition struct {
	from, to State
	snap     Auth
}

// transitionLocked moves to next and returns a function delivering the
// change. The caller must invoke it after releasing c.mu.
func (c *Controller) transitionLocked(next State, identity *Identity) func() {
	from := c.state
	c.state = next
	c.identity = identity
	snap := c.snapshotLocked()
	c.opts.Logger.Info("session transition",
		zap.Stringer("from", from),
		zap.Stringer("to", next),
		zap.String("environment", snap.EnvironmentID))
	c.notifyMu.Lock()
	c.queue = append(c.queue, transition{from: from, to: next, snap: snap})
	c.notifyMu.Unlock()
	return c.drain
}

// drain delivers queued transitions until the queue is empty. It returns
// at once when another call is already draining, including a listener
// running inside that call.
func (c *Controller) drain() {
	c.notifyMu.Lock()
	if c.draining {
		c.notifyMu.Unlock()
		return
	}
	c.draining = true
	for len(c.queue) > 0 {
		t := c.queue[0]
		c.queue = c.queue[1:]
		c.notifyMu.Unlock()

		ctx := context.Background()
		eventbus.Publish(ctx, c.opts.Bus, events.SessionTransition{From: t.from.String(), To: t.to.String(), EnvironmentID: t.snap.EnvironmentID})
		eventbus.Publish(ctx, c.listeners, t.snap)

		c.notifyMu.Lock()
	}
	c.draining = false
	c.notifyMu.Unlock()
}

// Refresh runs the identity query against the current environment.
// A non-null "me" authenticates the session; anything else, including a
// failed request, leaves it unauthenticated. Request failures are returned
// but never abort the state machine.
func (c *Controller) Refresh(ctx context.Context) (Auth, error) {
	c.mu.Lock()
	env := c.env
	notify := c.transitionLocked(Authenticating, nil)
	c.mu.Unlock()
	notify()

	res, err := env.Execute(ctx, environment.Query(IdentityQuery, nil), environment.Refetch())

	c.mu.Lock()
	if c.env != env {
		snap := c.snapshotLocked()
		c.mu.Unlock()
		return snap, ErrSuperseded
	}
	identity := identityFrom(res)
	next := Unauthenticated
	if identity != nil {
		next = Authenticated
	}
	if err != nil {
		c.opts.Logger.Warn("identity query failed", zap.Error(err))
	}
	notify = c.transitionLocked(next, identity)
	snap := c.snapshotLocked()
	c.mu.Unlock()
	notify()
	return snap, err
}

func identityFrom(res *environment.Result) *Identity {
	if res == nil {
		return nil
	}
	me, ok := res.Data["me"].(map[string]any)
	if !ok {
		return nil
	}
	email, _ := me["email"].(string)
	return &Identity{ID: store.IDString(me["id"]), Email: email}
}

// Login binds creds to a fresh environment and resolves the identity.
func (c *Controller) Login(ctx context.Context, creds oauth2.TokenSource) (Auth, error) {
	c.mu.Lock()
	c.creds = creds
	notify := c.resetLocked()
	c.mu.Unlock()
	notify()
	return c.Refresh(ctx)
}

// Logout drops the credentials and resets the environment.
func (c *Controller) Logout() {
	c.mu.Lock()
	c.creds = nil
	notify := c.resetLocked()
	c.mu.Unlock()
	notify()
}

// ResetEnvironment replaces the environment, keeping the current
// credentials, and returns to Unauthenticated. Call Refresh to resolve the
// identity again.
func (c *Controller) ResetEnvironment() {
	c.mu.Lock()
	notify := c.resetLocked()
	c.mu.Unlock()
	notify()
}

func (c *Controller) resetLocked() func() {
	old := c.env
	c.env = c.factory(c.creds)
	old.Dispose()
	return c.transitionLocked(Unauthenticated, nil)
}

func (c *Controller) current() *environment.Environment {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.env
}

// ExecuteQuery runs d on the current environment.
func (c *Controller) ExecuteQuery(ctx context.Context, d environment.Descriptor, opts ...environment.ExecOption) (*environment.Result, error) {
	return c.current().Execute(ctx, d, opts...)
}

// Load starts d on the current environment without blocking.
func (c *Controller) Load(ctx context.Context, d environment.Descriptor, opts ...environment.ExecOption) *environment.Future {
	return c.current().Load(ctx, d, opts...)
}

// Lookup reads d from the current environment's store.
func (c *Controller) Lookup(d environment.Descriptor) (*environment.Result, bool) {
	return c.current().Lookup(d)
}

// Close disposes the current environment. The controller is unusable after.
func (c *Controller) Close() {
	c.current().Dispose()
}
