package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/hanpama/gqlenv/internal/config"
	"github.com/hanpama/gqlenv/internal/environment"
	"github.com/hanpama/gqlenv/internal/eventbus"
	"github.com/hanpama/gqlenv/internal/language"
	"github.com/hanpama/gqlenv/internal/metrics"
	"github.com/hanpama/gqlenv/internal/otel"
	"github.com/hanpama/gqlenv/internal/session"
	"github.com/hanpama/gqlenv/internal/transport"
)

// app is the context object every command works through. It is built once
// per invocation and owns everything it starts.
type app struct {
	cfg        config.Config
	logger     *zap.Logger
	bus        *eventbus.Bus
	controller *session.Controller
	closers    []func(context.Context) error
}

func newLogger(cfg config.Log) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
	}
	if cfg.Level != "" {
		lvl, err := zap.ParseAtomicLevel(cfg.Level)
		if err != nil {
			return nil, err
		}
		zc.Level = lvl
	}
	return zc.Build()
}

func newApp(cfg config.Config) (*app, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger, err := newLogger(cfg.Log)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger, bus: eventbus.New()}

	shutdown, err := otel.Setup(a.bus, cfg.Telemetry.Endpoint, cfg.Telemetry.Service)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, shutdown)

	collector := metrics.NewCollector("gqlenv")
	detach := collector.Attach(a.bus)
	a.closers = append(a.closers, func(context.Context) error { detach(); return nil })
	if cfg.Metrics.Addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", collector.Handler())
		srv := &http.Server{Addr: cfg.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server stopped", zap.Error(err))
			}
		}()
		a.closers = append(a.closers, srv.Shutdown)
	}

	docs := language.NewCache(cfg.DocumentCacheSize)
	factory := func(creds oauth2.TokenSource) *environment.Environment {
		topts := []transport.Option{
			transport.WithTimeout(cfg.Timeout),
			transport.WithMaxResponseBytes(cfg.MaxResponseBytes),
			transport.WithLogger(logger),
			transport.WithEventBus(a.bus),
		}
		for k, v := range cfg.Headers {
			topts = append(topts, transport.WithHeader(k, v))
		}
		if creds != nil {
			topts = append(topts, transport.WithTokenSource(creds))
		}
		return environment.New(transport.New(cfg.Endpoint, topts...),
			environment.WithLogger(logger),
			environment.WithEventBus(a.bus),
			environment.WithDocumentCache(docs))
	}
	a.controller = session.New(factory, session.WithLogger(logger), session.WithEventBus(a.bus))
	a.closers = append(a.closers, func(context.Context) error { a.controller.Close(); return nil })
	return a, nil
}

// start resolves the session the way the application does on launch: log
// in when a token is configured, otherwise ask the server who we are.
func (a *app) start(ctx context.Context) (session.Auth, error) {
	if a.cfg.Token != "" {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: a.cfg.Token, TokenType: "Bearer"})
		return a.controller.Login(ctx, ts)
	}
	return a.controller.Refresh(ctx)
}

func (a *app) Close(ctx context.Context) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			a.logger.Warn("shutdown", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}
