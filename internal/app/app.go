// Package app is the composition root (expansion of SPEC_FULL.md §9): it
// wires the registry, balancer factory, health checker, dispatcher,
// CONNECT handler and listener together, and owns the process lifecycle
// (Start/Stop) the way the teacher's internal/app/app.go owns its server
// lifecycle.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/EvgeniiDev/proxy-load-balancer-sub000/internal/balancer"
	"github.com/EvgeniiDev/proxy-load-balancer-sub000/internal/config"
	"github.com/EvgeniiDev/proxy-load-balancer-sub000/internal/connectproxy"
	"github.com/EvgeniiDev/proxy-load-balancer-sub000/internal/dispatcher"
	"github.com/EvgeniiDev/proxy-load-balancer-sub000/internal/domain"
	"github.com/EvgeniiDev/proxy-load-balancer-sub000/internal/health"
	"github.com/EvgeniiDev/proxy-load-balancer-sub000/internal/listener"
	"github.com/EvgeniiDev/proxy-load-balancer-sub000/internal/logger"
	"github.com/EvgeniiDev/proxy-load-balancer-sub000/internal/registry"
	"github.com/EvgeniiDev/proxy-load-balancer-sub000/internal/router"
	"github.com/EvgeniiDev/proxy-load-balancer-sub000/internal/statsreport"
)

const shutdownTimeout = 5 * time.Second

// Application owns every long-lived collaborator and the two listeners
// (proxy traffic, admin surface). It holds no upward references: the
// stats reporter and logger only ever read the registry's snapshot/event
// APIs, so nothing here depends on them.
type Application struct {
	cfg    *config.Config
	logger *logger.StyledLogger

	registry   *registry.Registry
	checker    *health.Checker
	dispatcher *dispatcher.Dispatcher
	connect    *connectproxy.Handler
	listener   *listener.Listener
	stats      *statsreport.Reporter

	adminServer *http.Server

	startTime time.Time

	wg sync.WaitGroup
}

// New builds every collaborator from cfg but starts nothing.
func New(cfg *config.Config, slogger *slog.Logger, styled *logger.StyledLogger, startTime time.Time) *Application {
	selector := balancer.NewFactory(slogger).Create(cfg.LoadBalancingAlgorithm)

	reg := registry.New(selector, registry.Config{
		MaxRetries:          cfg.MaxRetries,
		OverloadBackoffBase: cfg.OverloadBackoffBase(),
		MaxSessionPoolSize:  cfg.SessionPoolSize,
		NewClient:           dispatcher.NewClientFactory(cfg.SocksConnectTimeout(), cfg.ConnectionTimeout()),
	})
	reg.UpdateProxies(descriptorsFromConfig(cfg))

	checker := health.NewChecker(reg, health.DialProber, slogger, cfg.HealthCheckInterval(), cfg.RestCheckInterval())
	disp := dispatcher.New(reg, slogger)
	connect := connectproxy.New(reg, disp, cfg.SSLCert, cfg.SSLKey, cfg.SocksConnectTimeout(), slogger)
	lst := listener.New(fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port), cfg.WorkerPoolSize, disp, connect, slogger)
	reporter := statsreport.New(reg, styled, cfg.ConsoleStatsInterval(), startTime, cfg.Engineering.ShowNerdStats)

	routes := router.NewRouteRegistry(styled)
	routes.Register("/internal/health", reporter.HandleHealth, "liveness + optional runtime stats")
	routes.Register("/internal/stats", reporter.HandleStats, "JSON aggregate proxy snapshot")
	mux := http.NewServeMux()
	routes.WireUp(mux)

	return &Application{
		cfg:        cfg,
		logger:     styled,
		registry:   reg,
		checker:    checker,
		dispatcher: disp,
		connect:    connect,
		listener:   lst,
		stats:      reporter,
		adminServer: &http.Server{
			Addr:    adminAddr(cfg),
			Handler: mux,
		},
		startTime: startTime,
	}
}

func descriptorsFromConfig(cfg *config.Config) []domain.Descriptor {
	descriptors := make([]domain.Descriptor, 0, len(cfg.Proxies))
	for _, p := range cfg.Proxies {
		descriptors = append(descriptors, domain.Descriptor{
			Host:     p.Host,
			Port:     p.Port,
			Username: p.Username,
			Password: p.Password,
		})
	}
	return descriptors
}

func adminAddr(cfg *config.Config) string {
	return fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port+1)
}

// Start launches the health checker, stats reporter, admin server and
// proxy listener. It binds the admin listener itself and returns that
// bind error; the proxy listener binds and serves in a background
// goroutine, which logs a bind failure instead of returning it. Both
// servers run in goroutines tracked by Stop's WaitGroup.
func (a *Application) Start(ctx context.Context) error {
	a.checker.Start(ctx)
	a.stats.Start(ctx)

	ln, err := net.Listen("tcp", a.adminServer.Addr)
	if err != nil {
		return fmt.Errorf("bind admin listener: %w", err)
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.adminServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			a.logger.Error("admin server stopped", "error", err)
		}
	}()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.listener.ListenAndServe(ctx); err != nil && ctx.Err() == nil {
			a.logger.Error("proxy listener stopped", "error", err)
		}
	}()

	a.logger.InfoWithProxy("proxy listening", fmt.Sprintf("%s:%d", a.cfg.Server.Host, a.cfg.Server.Port))
	return nil
}

// Reload replaces the registry's descriptor set from a hot-reloaded
// config, preserving existing proxies' state/stats/pool per
// registry.UpdateProxies.
func (a *Application) Reload(cfg *config.Config) {
	a.cfg = cfg
	a.registry.UpdateProxies(descriptorsFromConfig(cfg))
}

// Stop stops the health checker and shuts down the admin server, then
// waits up to shutdownTimeout for the background servers to return. The
// proxy listener returns only once the context passed to Start is
// cancelled.
func (a *Application) Stop() {
	a.checker.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.adminServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("admin server shutdown", "error", err)
	}

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(shutdownTimeout):
		a.logger.Warn("shutdown timed out waiting for listeners")
	}
}
