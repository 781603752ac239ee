package transport

import (
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/hanpama/gqlenv/internal/eventbus"
)

// Options configures the HTTP transport.
//
// Defaults:
// - HTTPClient:       http.DefaultClient
// - Timeout:          10s (used only if the context has no deadline)
// - MaxResponseBytes: 8 MiB
//
// TokenSource, when set, is consulted on every request and its token is
// attached as the Authorization header. This is the only place credentials
// enter a request.
type Options struct {
	HTTPClient       *http.Client
	Timeout          time.Duration
	MaxResponseBytes int64
	TokenSource      oauth2.TokenSource
	Headers          http.Header
	Logger           *zap.Logger
	Bus              *eventbus.Bus
}

// Option mutates Options
type Option func(*Options)

func defaultOptions() *Options {
	return &Options{
		HTTPClient:       http.DefaultClient,
		Timeout:          10 * time.Second,
		MaxResponseBytes: 8 << 20,
		Headers:          http.Header{},
		Logger:           zap.NewNop(),
	}
}

func WithHTTPClient(c *http.Client) Option         { return func(o *Options) { o.HTTPClient = c } }
func WithTimeout(d time.Duration) Option           { return func(o *Options) { o.Timeout = d } }
func WithMaxResponseBytes(n int64) Option          { return func(o *Options) { o.MaxResponseBytes = n } }
func WithTokenSource(ts oauth2.TokenSource) Option { return func(o *Options) { o.TokenSource = ts } }
func WithLogger(l *zap.Logger) Option              { return func(o *Options) { o.Logger = l } }
func WithEventBus(b *eventbus.Bus) Option          { return func(o *Options) { o.Bus = b } }
func WithHeader(name, value string) Option {
	return func(o *Options) { o.Headers.Add(name, value) }
}
