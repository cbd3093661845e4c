// Package daemon runs the background loops of the seccompd service.
package daemon

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/sec_comp/internal/domain"
)

// MonitorConfig holds process monitor configuration.
type MonitorConfig struct {
	ReapInterval    time.Duration // How often tracked pids are checked for liveness
	SummaryInterval time.Duration // How often registry totals are logged
}

// DefaultMonitorConfig returns default monitor configuration.
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		ReapInterval:    5 * time.Second,
		SummaryInterval: 5 * time.Minute,
	}
}

// ProcessMonitor reaps registry entries of processes that exited without
// a death notification from the host.
type ProcessMonitor struct {
	config  MonitorConfig
	manager domain.ComponentManager
	procs   domain.ProcessManager
	reaped  prometheus.Counter
	logger  *zap.Logger
}

// NewProcessMonitor creates a process monitor. reaped may be nil.
func NewProcessMonitor(
	config MonitorConfig,
	manager domain.ComponentManager,
	procs domain.ProcessManager,
	reaped prometheus.Counter,
	logger *zap.Logger,
) *ProcessMonitor {
	return &ProcessMonitor{
		config:  config,
		manager: manager,
		procs:   procs,
		reaped:  reaped,
		logger:  logger,
	}
}

// Run starts the monitor loop.
// This blocks until context is canceled.
func (m *ProcessMonitor) Run(ctx context.Context) error {
	m.logger.Info("process monitor started",
		zap.Duration("reap_interval", m.config.ReapInterval))

	reapTicker := time.NewTicker(m.config.ReapInterval)
	summaryTicker := time.NewTicker(m.config.SummaryInterval)
	defer func() {
		reapTicker.Stop()
		summaryTicker.Stop()
	}()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("process monitor stopping")
			return ctx.Err()

		case <-reapTicker.C:
			m.Reap()

		case <-summaryTicker.C:
			m.logSummary()
		}
	}
}

// Reap notifies the manager of every tracked pid that is no longer running
// and returns how many were reaped.
func (m *ProcessMonitor) Reap() int {
	var n int
	for _, pid := range m.manager.TrackedPIDs() {
		if m.procs.IsRunning(int(pid)) {
			continue
		}
		m.logger.Info("reaping exited process", zap.Int32("pid", pid))
		m.manager.NotifyProcessDied(pid, false)
		if m.reaped != nil {
			m.reaped.Inc()
		}
		n++
	}
	return n
}

func (m *ProcessMonitor) logSummary() {
	snap := m.manager.Snapshot()
	var components int
	for _, p := range snap {
		components += len(p.Entities)
	}
	m.logger.Info("registry summary",
		zap.Int("processes", len(snap)),
		zap.Int("components", components),
		zap.Bool("idle", m.manager.IsIdle()))
}
