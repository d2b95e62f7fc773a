package app

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/EvgeniiDev/proxy-load-balancer-sub000/internal/config"
	"github.com/EvgeniiDev/proxy-load-balancer-sub000/internal/logger"
	"github.com/EvgeniiDev/proxy-load-balancer-sub000/theme"
)

func testConfig(t *testing.T, port int) *config.Config {
	t.Helper()
	cfg := &config.Config{
		Server:                  config.ServerConfig{Host: "127.0.0.1", Port: port},
		Proxies:                 []config.ProxyConfig{{Host: "127.0.0.1", Port: 1080}},
		LoadBalancingAlgorithm:  "random",
		ConnectionTimeoutSecs:   2,
		MaxRetries:              3,
		HealthCheckIntervalSecs: 60,
		RestCheckIntervalSecs:   10,
		OverloadBackoffBaseSecs: 30,
		SSLCert:                 "cert.pem",
		SSLKey:                  "key.pem",
		ConsoleStatsIntervalSecs: 1,
		SessionPoolSize:         5,
		WorkerPoolSize:          10,
		RawTunnelIdleTimeoutSecs: 5,
	}
	return cfg
}

func TestNew_WiresEveryCollaborator(t *testing.T) {
	cfg := testConfig(t, 18080)
	slogger := slog.New(slog.NewTextHandler(io.Discard, nil))
	styled := logger.NewStyledLogger(slogger, theme.GetTheme("default"))

	a := New(cfg, slogger, styled, time.Now())

	if a.registry == nil || a.checker == nil || a.dispatcher == nil || a.connect == nil || a.listener == nil || a.stats == nil {
		t.Fatal("expected every collaborator to be wired")
	}
	if got := len(a.registry.AllKeys()); got != 1 {
		t.Errorf("expected 1 descriptor loaded from config, got %d", got)
	}
}

func TestStartStop_BindsAndShutsDownCleanly(t *testing.T) {
	cfg := testConfig(t, 18081)
	slogger := slog.New(slog.NewTextHandler(io.Discard, nil))
	styled := logger.NewStyledLogger(slogger, theme.GetTheme("default"))
	a := New(cfg, slogger, styled, time.Now())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	resp, err := http.Get("http://" + a.adminServer.Addr + "/internal/health")
	if err != nil {
		t.Fatalf("GET /internal/health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}

	a.Stop()
}

func TestReload_ReplacesDescriptorSet(t *testing.T) {
	cfg := testConfig(t, 18082)
	slogger := slog.New(slog.NewTextHandler(io.Discard, nil))
	styled := logger.NewStyledLogger(slogger, theme.GetTheme("default"))
	a := New(cfg, slogger, styled, time.Now())

	reloaded := testConfig(t, 18082)
	reloaded.Proxies = append(reloaded.Proxies, config.ProxyConfig{Host: "127.0.0.1", Port: 1081})
	a.Reload(reloaded)

	if got := len(a.registry.AllKeys()); got != 2 {
		t.Errorf("expected 2 descriptors after reload, got %d", got)
	}
}
