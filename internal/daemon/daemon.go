// Package daemon runs the idler on a fixed schedule.
package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/yairfalse/nightshift/internal/emitter"
	"github.com/yairfalse/nightshift/pkg/resource"
)

// Runner executes one idling run.
type Runner interface {
	Run(ctx context.Context, prefixes []string) (*resource.Report, error)
}

// Config holds daemon configuration
type Config struct {
	Interval       time.Duration
	RegionPrefixes []string
	// Timeout bounds every run. Zero means no bound.
	Timeout    time.Duration
	RunOnStart bool
}

// Daemon runs the idler on every tick until its context ends.
type Daemon struct {
	interval   time.Duration
	prefixes   []string
	timeout    time.Duration
	runOnStart bool

	runner  Runner
	emitter emitter.Emitter
	metrics *DaemonMetrics

	startTime time.Time
	runCount  atomic.Int64
	started   atomic.Bool

	mu      sync.RWMutex
	lastRun *resource.Report
	lastErr error
}

// NewDaemon creates a new daemon instance. emit and metrics may be nil.
func NewDaemon(config Config, runner Runner, emit emitter.Emitter, metrics *DaemonMetrics) (*Daemon, error) {
	if config.Interval <= 0 {
		return nil, fmt.Errorf("daemon: interval must be positive (got %v)", config.Interval)
	}
	if runner == nil {
		return nil, errors.New("daemon: runner is required")
	}
	return &Daemon{
		interval:   config.Interval,
		prefixes:   config.RegionPrefixes,
		timeout:    config.Timeout,
		runOnStart: config.RunOnStart,
		runner:     runner,
		emitter:    emit,
		metrics:    metrics,
		startTime:  time.Now(),
	}, nil
}

// Start begins the daemon's run loop. It returns nil once ctx is done.
// Ticks that arrive while a run is in progress are dropped.
func (d *Daemon) Start(ctx context.Context) error {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	d.started.Store(true)
	log.Info().
		Dur("interval", d.interval).
		Strs("region_prefixes", d.prefixes).
		Bool("run_on_start", d.runOnStart).
		Msg("daemon started")

	if d.runOnStart {
		d.RunOnce(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			log.Info().Int64("runs", d.runCount.Load()).Msg("daemon stopped")
			return nil
		case <-ticker.C:
			d.RunOnce(ctx)
		}
	}
}

// RunOnce performs one run and emits its report.
func (d *Daemon) RunOnce(ctx context.Context) *resource.Report {
	d.runCount.Add(1)
	start := time.Now()

	runCtx := ctx
	if d.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	rep, err := d.run(runCtx)
	status := "success"
	if err != nil {
		status = "failure"
		log.Error().Err(err).Msg("scheduled run failed")
		rep = &resource.Report{StartedAt: start.UTC(), Failure: err.Error()}
	} else if ctx.Err() == nil && runCtx.Err() != nil {
		status = "timeout"
	}

	d.mu.Lock()
	d.lastRun = rep
	d.lastErr = err
	d.mu.Unlock()

	if d.metrics != nil {
		d.metrics.RecordRun(ctx, status, time.Since(start).Seconds())
	}

	if d.emitter != nil {
		if err := d.emitter.Emit(context.WithoutCancel(ctx), rep); err != nil {
			log.Warn().Err(err).Msg("notification failed")
		}
	}

	return rep
}

func (d *Daemon) run(ctx context.Context) (rep *resource.Report, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	rep, err = d.runner.Run(ctx, d.prefixes)
	if err == nil && rep == nil {
		err = errors.New("runner returned no report")
	}
	return rep, err
}

// HealthStatus represents daemon health
type HealthStatus struct {
	Status    string    `json:"status"`
	Uptime    int64     `json:"uptime"`
	Runs      int64     `json:"runs"`
	LastRunID string    `json:"lastRunId,omitempty"`
	LastRunAt time.Time `json:"lastRunAt,omitempty"`
	LastError string    `json:"lastError,omitempty"`
}

// Health returns daemon health status. A failed last run degrades the status.
func (d *Daemon) Health() HealthStatus {
	h := HealthStatus{
		Status: "healthy",
		Uptime: int64(time.Since(d.startTime).Seconds()),
		Runs:   d.runCount.Load(),
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.lastRun != nil {
		h.LastRunID = d.lastRun.RunID
		h.LastRunAt = d.lastRun.StartedAt
	}
	if d.lastErr != nil {
		h.Status = "degraded"
		h.LastError = d.lastErr.Error()
	}
	return h
}

// LastReport returns the report of the most recent run, or nil.
func (d *Daemon) LastReport() *resource.Report {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.lastRun
}

// RunCount returns total runs started
func (d *Daemon) RunCount() int64 {
	return d.runCount.Load()
}

// Handler serves /health, /-/healthy and /-/ready.
func (d *Daemon) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(d.Health())
	})
	mux.HandleFunc("/-/healthy", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	mux.HandleFunc("/-/ready", func(w http.ResponseWriter, _ *http.Request) {
		if !d.started.Load() {
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready\n"))
	})
	return mux
}
