// Package app wires every core component into one process and owns its
// lifecycle, grounded directly on eidos-chain/internal/app.App: ordered
// initXxx staging in NewApp, a Run() that starts background tasks and the
// listener and blocks on SIGINT/SIGTERM, and a shutdown() that stops both
// tickers, drains the HTTP server, then closes the KV store.
package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/eidos-exchange/eidos/eidos-rpc-router/internal/config"
	"github.com/eidos-exchange/eidos/eidos-rpc-router/internal/executor"
	"github.com/eidos-exchange/eidos/eidos-rpc-router/internal/health"
	"github.com/eidos-exchange/eidos/eidos-rpc-router/internal/httpapi"
	"github.com/eidos-exchange/eidos/eidos-rpc-router/internal/kvstore"
	"github.com/eidos-exchange/eidos/eidos-rpc-router/internal/logger"
	"github.com/eidos-exchange/eidos/eidos-rpc-router/internal/readapi"
	"github.com/eidos-exchange/eidos/eidos-rpc-router/internal/registry"
	"github.com/eidos-exchange/eidos/eidos-rpc-router/internal/selector"
	"github.com/eidos-exchange/eidos/eidos-rpc-router/internal/session"
)

const shutdownForwardBound = 30 * time.Second

type App struct {
	cfg *config.Config

	kv            *kvstore.Client
	healthChecker *health.Checker
	loader        *registry.Loader
	selector      *selector.Selector
	sessions      *session.Store
	executor      *executor.Executor
	readAPI       *readapi.API

	httpServer *http.Server
}

func NewApp(cfg *config.Config) (*App, error) {
	a := &App{cfg: cfg}

	if err := a.initKVStore(); err != nil {
		return nil, fmt.Errorf("failed to init kvstore: %w", err)
	}
	a.initHealthChecker()
	a.initLoader()
	a.initSelector()
	a.initSessionStore()
	a.initExecutor()
	a.initReadAPI()
	a.initHTTP()

	return a, nil
}

func (a *App) initKVStore() error {
	kv, err := kvstore.NewClient(&a.cfg.KVStore)
	if err != nil {
		return err
	}
	a.kv = kv
	return nil
}

func (a *App) initHealthChecker() {
	a.healthChecker = health.NewChecker(
		a.kv,
		a.cfg.Router.HealthCheckInterval(),
		a.cfg.Router.HealthTTL(),
		a.cfg.Router.MaxFailCount,
	)
}

func (a *App) initLoader() {
	a.loader = registry.NewLoader(
		a.kv,
		a.healthChecker,
		a.cfg.Router.ChainConfigPath,
		a.cfg.Router.ConfigRefreshInterval(),
		a.cfg.Router.ConfigTTL(),
		a.cfg.Router.HealthTTL(),
	)
}

func (a *App) initSelector() {
	a.selector = selector.New(a.loader, a.healthChecker, a.loader, a.cfg.Router.MaxFailCount)
}

func (a *App) initSessionStore() {
	a.sessions = session.New(a.kv, a.selector, a.cfg.Router.SessionTTL())
}

func (a *App) initExecutor() {
	a.executor = executor.New(a.sessions, a.healthChecker)
}

func (a *App) initReadAPI() {
	a.readAPI = readapi.New(a.loader, a.healthChecker, a.sessions, a.cfg.Router.MaxFailCount)
}

func (a *App) initHTTP() {
	handler := httpapi.NewHandler(a.selector, a.executor, a.readAPI, a.kv)
	router := httpapi.NewRouter(handler)
	a.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", a.cfg.Service.HTTPPort),
		Handler: router,
	}
}

// Run starts the background tickers and the HTTP listener, then blocks
// until SIGINT/SIGTERM, at which point it performs an ordered shutdown.
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a.healthChecker.Start(ctx)
	a.loader.Start(ctx)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("rpc router listening", zap.String("addr", a.httpServer.Addr))
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
	case err := <-errCh:
		logger.Error("http server error", zap.Error(err))
	}

	return a.shutdown()
}

func (a *App) shutdown() error {
	logger.Info("shutting down")

	a.loader.Stop()
	a.healthChecker.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownForwardBound)
	defer cancel()
	if err := a.httpServer.Shutdown(ctx); err != nil {
		logger.Error("http server shutdown error", zap.Error(err))
	}

	if err := a.kv.Close(); err != nil {
		logger.Error("kvstore close error", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return nil
}
