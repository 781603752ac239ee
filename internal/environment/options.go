package environment

import (
	"go.uber.org/zap"

	"github.com/hanpama/gqlenv/internal/eventbus"
	"github.com/hanpama/gqlenv/internal/language"
)

type Options struct {
	Logger *zap.Logger
	Bus    *eventbus.Bus
	// Documents caches parsed query documents. It may be shared between
	// environments since it holds no response data.
	Documents *language.Cache
}

type Option func(*Options)

func WithLogger(l *zap.Logger) Option            { return func(o *Options) { o.Logger = l } }
func WithEventBus(b *eventbus.Bus) Option        { return func(o *Options) { o.Bus = b } }
func WithDocumentCache(c *language.Cache) Option { return func(o *Options) { o.Documents = c } }

// FetchPolicy decides whether Execute may answer from the store.
type FetchPolicy int

const (
	// StoreOrNetwork answers from the store when it holds every selected
	// field, and goes to the network otherwise.
	StoreOrNetwork FetchPolicy = iota
	// NetworkOnly always sends a request. Used for refetching.
	NetworkOnly
	// StoreOnly never sends a request.
	StoreOnly
)

type execOptions struct {
	policy FetchPolicy
}

type ExecOption func(*execOptions)

func WithFetchPolicy(p FetchPolicy) ExecOption { return func(o *execOptions) { o.policy = p } }

// Refetch forces a network request.
func Refetch() ExecOption { return WithFetchPolicy(NetworkOnly) }
