package activity

import (
	"context"
	"time"

	"github.com/drover-io/drover/pkg/module"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Compile-time interface guard.
var _ module.Module = (*Module)(nil)

// Module runs the activity service and its idle watcher inside the Drover
// module lifecycle.
type Module struct {
	logger  *zap.Logger
	service *Service
	watcher *Watcher

	watcherCfg WatcherConfig
}

// NewModule creates the activity module.
func NewModule() *Module {
	return &Module{}
}

// Info implements module.Module.
func (m *Module) Info() module.Info {
	return module.Info{
		Name:        "activity",
		Version:     "0.1.0",
		Description: "Session-scoped activity log with idle shutdown",
		Required:    true,
	}
}

// Init implements module.Module. Config keys: watch_interval,
// idle_threshold, min_uptime.
func (m *Module) Init(ctx context.Context, deps module.Dependencies) error {
	m.logger = deps.Logger

	store, err := NewStore(ctx, deps.Store)
	if err != nil {
		return err
	}

	metrics := NewMetrics(prometheus.DefaultRegisterer)
	m.service = NewService(store, deps.Bus, deps.Logger, time.Now, metrics)

	m.watcherCfg = WatcherConfig{
		Interval:      deps.Config.GetDuration("watch_interval"),
		IdleThreshold: deps.Config.GetDuration("idle_threshold"),
		MinUptime:     deps.Config.GetDuration("min_uptime"),
	}
	m.watcher = NewWatcher(m.service, deps.Logger.Named("watcher"), m.watcherCfg)
	return nil
}

// Start implements module.Module.
func (m *Module) Start(ctx context.Context) error {
	m.watcher.Start(ctx)
	return nil
}

// Stop implements module.Module.
func (m *Module) Stop(_ context.Context) error {
	m.watcher.Stop()
	m.service.Stop()
	return nil
}

// Service returns the activity service for injection into consumers.
func (m *Module) Service() *Service {
	return m.service
}

// Watcher returns the idle watcher.
func (m *Module) Watcher() *Watcher {
	return m.watcher
}
