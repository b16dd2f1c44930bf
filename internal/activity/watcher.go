package activity

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Watcher defaults.
const (
	DefaultWatchInterval = 300 * time.Second
	DefaultIdleThreshold = 300 * time.Second
	DefaultMinUptime     = 30 * time.Second
)

// WatcherState is the lifecycle state of the idle watcher.
type WatcherState int

const (
	WatcherStopped WatcherState = iota
	WatcherRunning
)

func (s WatcherState) String() string {
	if s == WatcherRunning {
		return "running"
	}
	return "stopped"
}

// Watcher periodically checks the activity service and stops it once it
// has been idle long enough with no open connections. After stopping the
// service (or finding it already stopped) the watcher stops itself.
type Watcher struct {
	service *Service
	logger  *zap.Logger

	interval      time.Duration
	idleThreshold time.Duration
	minUptime     time.Duration
	clock         func() time.Time

	mu     sync.Mutex
	state  WatcherState
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// WatcherConfig tunes the watcher. Zero values fall back to defaults.
type WatcherConfig struct {
	Interval      time.Duration
	IdleThreshold time.Duration
	MinUptime     time.Duration
	Clock         func() time.Time
}

// NewWatcher creates a stopped watcher for the given service.
func NewWatcher(service *Service, logger *zap.Logger, cfg WatcherConfig) *Watcher {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultWatchInterval
	}
	if cfg.IdleThreshold <= 0 {
		cfg.IdleThreshold = DefaultIdleThreshold
	}
	if cfg.MinUptime <= 0 {
		cfg.MinUptime = DefaultMinUptime
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{
		service:       service,
		logger:        logger,
		interval:      cfg.Interval,
		idleThreshold: cfg.IdleThreshold,
		minUptime:     cfg.MinUptime,
		clock:         cfg.Clock,
	}
}

// State returns the watcher's current state.
func (w *Watcher) State() WatcherState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Start launches the check loop. Starting a running watcher is a no-op.
func (w *Watcher) Start(ctx context.Context) {
	w.mu.Lock()
	if w.state == WatcherRunning {
		w.mu.Unlock()
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.state = WatcherRunning
	w.mu.Unlock()

	w.wg.Add(1)
	go w.loop(runCtx)

	w.logger.Info("idle watcher started",
		zap.Duration("interval", w.interval),
		zap.Duration("idle_threshold", w.idleThreshold),
		zap.Duration("min_uptime", w.minUptime),
	)
}

// Stop halts the loop. An in-flight check is allowed to finish; Stop
// returns after the loop goroutine has exited. Idempotent.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if w.state != WatcherRunning {
		w.mu.Unlock()
		return
	}
	w.cancel()
	w.mu.Unlock()

	w.wg.Wait()

	w.mu.Lock()
	w.state = WatcherStopped
	w.mu.Unlock()
}

func (w *Watcher) loop(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if w.check() {
				w.mu.Lock()
				w.state = WatcherStopped
				w.cancel()
				w.mu.Unlock()
				return
			}
		}
	}
}

// check runs one idle evaluation and reports whether the watcher should
// stop. A panic inside the check is recovered so a single bad evaluation
// cannot kill the loop.
func (w *Watcher) check() (done bool) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("idle check panicked", zap.Any("panic", r))
			done = false
		}
	}()

	if !w.service.Running() {
		w.logger.Info("service already stopped, idle watcher exiting")
		return true
	}

	uptime := w.service.Uptime()
	idle := w.clock().Sub(w.service.LastActivity())
	conns := w.service.OpenConnections()

	if uptime < w.minUptime || conns > 0 || idle < w.idleThreshold {
		w.logger.Debug("idle check passed",
			zap.Duration("uptime", uptime),
			zap.Duration("idle", idle),
			zap.Int("open_connections", conns),
		)
		return false
	}

	w.logger.Info("idle threshold reached, stopping activity service",
		zap.Duration("idle", idle),
		zap.Duration("uptime", uptime),
	)
	w.service.Stop()
	return true
}
