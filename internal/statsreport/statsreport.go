// Package statsreport implements the periodic console stats reporter and
// the /internal/health, /internal/stats admin endpoints (expansion of
// SPEC_FULL.md §6), grounded on the teacher's pterm table console output
// (internal/router/registry.go's logRoutesTable) and pkg/nerdstats for
// runtime figures.
package statsreport

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/pterm/pterm"

	"github.com/EvgeniiDev/proxy-load-balancer-sub000/internal/domain"
	"github.com/EvgeniiDev/proxy-load-balancer-sub000/internal/logger"
	"github.com/EvgeniiDev/proxy-load-balancer-sub000/internal/registry"
	"github.com/EvgeniiDev/proxy-load-balancer-sub000/pkg/eventbus"
	"github.com/EvgeniiDev/proxy-load-balancer-sub000/pkg/format"
	"github.com/EvgeniiDev/proxy-load-balancer-sub000/pkg/nerdstats"
)

// Source is the view of *registry.Registry the reporter needs: a
// read-only aggregate snapshot for the polling table/endpoints, plus
// the state-change event stream the reporter logs transitions from.
type Source interface {
	Snapshot() domain.AggregateSnapshot
	Events() *eventbus.EventBus[registry.StateChangeEvent]
}

// Reporter prints a periodic console stats table, logs every proxy
// state transition as it happens, and serves the /internal/health and
// /internal/stats admin endpoints. It holds no upward references into
// the registry beyond Source, per SPEC_FULL.md §9's composition-root
// note.
type Reporter struct {
	registry      Source
	logger        *logger.StyledLogger
	interval      time.Duration
	startTime     time.Time
	showNerdStats bool
}

func New(reg Source, styled *logger.StyledLogger, interval time.Duration, startTime time.Time, showNerdStats bool) *Reporter {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Reporter{
		registry:      reg,
		logger:        styled,
		interval:      interval,
		startTime:     startTime,
		showNerdStats: showNerdStats,
	}
}

// Start runs the periodic console reporter loop and the state-change
// event subscriber until ctx is cancelled.
func (r *Reporter) Start(ctx context.Context) {
	go r.run(ctx)
	go r.watchTransitions(ctx)
}

// watchTransitions logs every proxy state transition as the registry
// publishes it, independent of the polling loop's fixed interval.
func (r *Reporter) watchTransitions(ctx context.Context) {
	events, cancel := r.registry.Events().Subscribe(ctx)
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			r.logger.Info("proxy state changed", "proxy", ev.Key, "from", ev.From.String(), "to", ev.To.String())
		}
	}
}

func (r *Reporter) run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.printTable(r.registry.Snapshot())
		}
	}
}

func (r *Reporter) printTable(snap domain.AggregateSnapshot) {
	tableData := [][]string{
		{"PROXY", "STATE", "REQUESTS", "SUCCESS %", "POOLED"},
	}
	for _, p := range snap.Proxies {
		tableData = append(tableData, []string{
			p.Key,
			p.State.String(),
			pterm.Sprintf("%d", p.Requests),
			format.Percentage(p.SuccessRate() * 100),
			pterm.Sprintf("%d", p.SessionsPooled),
		})
	}
	r.logger.InfoWithCount("proxy pool snapshot", len(snap.Proxies))
	tableString, _ := pterm.DefaultTable.WithHasHeader().WithData(tableData).Srender()
	pterm.Println(tableString)
}

// HandleStats serves the JSON aggregate proxy snapshot.
func (r *Reporter) HandleStats(w http.ResponseWriter, req *http.Request) {
	snap := r.registry.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(snap)
}

// healthResponse is the /internal/health JSON body.
type healthResponse struct {
	Status        string         `json:"status"`
	UptimeSeconds float64        `json:"uptime_seconds"`
	Proxies       int            `json:"proxies"`
	Available     int            `json:"available"`
	NerdStats     map[string]any `json:"nerd_stats,omitempty"`
}

// HandleHealth serves process liveness and, when enabled, a runtime
// memory/goroutine snapshot via pkg/nerdstats.
func (r *Reporter) HandleHealth(w http.ResponseWriter, req *http.Request) {
	snap := r.registry.Snapshot()
	available := 0
	for _, p := range snap.Proxies {
		if p.State == domain.Available {
			available++
		}
	}

	resp := healthResponse{
		Status:        "ok",
		UptimeSeconds: time.Since(r.startTime).Seconds(),
		Proxies:       len(snap.Proxies),
		Available:     available,
	}

	if r.showNerdStats {
		stats := nerdstats.Snapshot(r.startTime)
		resp.NerdStats = map[string]any{
			"heap_alloc":       format.Bytes(stats.HeapAlloc),
			"goroutines":       stats.NumGoroutines,
			"goroutine_health": stats.GetGoroutineHealthStatus(),
			"memory_pressure":  stats.GetMemoryPressure(),
			"avg_gc_pause":     nerdstats.CalculateAverageGCPause(stats),
		}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}
