// Package metrics exposes Prometheus counters and gauges for the
// supervisor's task lifecycle, grounded on ChuLiYu-raft-recovery's
// "Metrics HTTP service (if enabled)" pattern in internal/cli/cli.go
// (prometheus/client_golang + promhttp, started on a config flag).
package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry bundles the counters and gauges the pool and its managers report
// through.
type Registry struct {
	Launches  *prometheus.CounterVec
	Retries   *prometheus.CounterVec
	Failures  *prometheus.CounterVec
	Teardowns *prometheus.CounterVec
	Active    *prometheus.GaugeVec

	reg    *prometheus.Registry
	server *http.Server
}

// New builds a Registry with a fresh prometheus.Registry (not the global
// default, so multiple supervised scripts in one process don't collide).
func New() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		Launches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "eirenewatch_task_launches_total",
			Help: "Number of task launch attempts, by slot.",
		}, []string{"entry_id"}),
		Retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "eirenewatch_task_retries_total",
			Help: "Number of retried launch attempts, by slot.",
		}, []string{"entry_id"}),
		Failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "eirenewatch_task_failures_total",
			Help: "Number of launches that exhausted retries, by slot.",
		}, []string{"entry_id"}),
		Teardowns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "eirenewatch_manager_teardowns_total",
			Help: "Number of manager teardowns performed, by slot.",
		}, []string{"entry_id"}),
		Active: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "eirenewatch_active_tasks",
			Help: "Whether a slot currently has an in-flight task (0 or 1).",
		}, []string{"entry_id"}),
		reg: reg,
	}

	reg.MustRegister(r.Launches, r.Retries, r.Failures, r.Teardowns, r.Active)
	return r
}

// RecordLaunch increments the launch counter for entryID.
func (r *Registry) RecordLaunch(entryID string) {
	r.Launches.WithLabelValues(entryID).Inc()
}

// RecordRetry increments the retry counter for entryID.
func (r *Registry) RecordRetry(entryID string) {
	r.Retries.WithLabelValues(entryID).Inc()
}

// RecordFailure increments the failure counter for entryID.
func (r *Registry) RecordFailure(entryID string) {
	r.Failures.WithLabelValues(entryID).Inc()
}

// RecordTeardown increments the teardown counter for entryID.
func (r *Registry) RecordTeardown(entryID string) {
	r.Teardowns.WithLabelValues(entryID).Inc()
}

// SetActive sets the active-task gauge for entryID to 1 or 0.
func (r *Registry) SetActive(entryID string, active bool) {
	v := 0.0
	if active {
		v = 1
	}
	r.Active.WithLabelValues(entryID).Set(v)
}

// Serve starts an HTTP server exposing the registry at path on addr. It
// returns immediately; call Shutdown to stop it.
func (r *Registry) Serve(addr, path string) error {
	mux := http.NewServeMux()
	mux.Handle(path, promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{}))

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	r.server = &http.Server{Handler: mux}
	go func() {
		_ = r.server.Serve(ln)
	}()
	return nil
}

// Shutdown stops the metrics HTTP server, if one was started.
func (r *Registry) Shutdown(ctx context.Context) error {
	if r.server == nil {
		return nil
	}
	err := r.server.Shutdown(ctx)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
