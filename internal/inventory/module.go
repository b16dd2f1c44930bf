// Package inventory parses the Drover host inventory and resolves effective
// per-host connection configuration from layered variable scopes.
package inventory

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/drover-io/drover/pkg/module"
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// TopicReloaded is published on the bus after the inventory file has been
// reparsed following an on-disk change. The payload is the file path.
const TopicReloaded = "inventory.reloaded"

// Compile-time interface guard.
var _ module.Module = (*Module)(nil)

// Module wraps the inventory behind the Drover module lifecycle, with
// optional hot reload of the inventory file.
type Module struct {
	logger *zap.Logger
	bus    module.EventBus

	path  string
	watch bool

	mu  sync.RWMutex
	inv *Inventory

	cancel  context.CancelFunc
	watcher *fsnotify.Watcher
	wg      sync.WaitGroup
}

// NewModule creates the inventory module.
func NewModule() *Module {
	return &Module{}
}

// Info implements module.Module.
func (m *Module) Info() module.Info {
	return module.Info{
		Name:        "inventory",
		Version:     "0.1.0",
		Description: "Host inventory parsing and per-host configuration resolution",
		Required:    true,
	}
}

// Init loads the inventory file named by the module's "path" config key.
// An empty path leaves the module with an empty inventory; local-only
// resolution stays available regardless.
func (m *Module) Init(_ context.Context, deps module.Dependencies) error {
	m.logger = deps.Logger
	m.bus = deps.Bus
	m.path = deps.Config.GetString("path")
	m.watch = deps.Config.GetBool("watch")

	m.inv = Empty()
	if m.path == "" {
		m.logger.Info("no inventory file configured, local-only resolution")
		return nil
	}

	if err := m.load(); err != nil {
		return err
	}
	m.logger.Info("inventory loaded", zap.String("path", m.path))
	return nil
}

// Start begins watching the inventory file for changes when configured.
func (m *Module) Start(ctx context.Context) error {
	if !m.watch || m.path == "" {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create inventory watcher: %w", err)
	}
	if err := watcher.Add(m.path); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %q: %w", m.path, err)
	}
	m.watcher = watcher

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		for {
			select {
			case <-runCtx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !ev.Op.Has(fsnotify.Write) && !ev.Op.Has(fsnotify.Create) {
					continue
				}
				if err := m.load(); err != nil {
					m.logger.Warn("inventory reload failed, keeping previous inventory",
						zap.String("path", m.path),
						zap.Error(err),
					)
					continue
				}
				m.logger.Info("inventory reloaded", zap.String("path", m.path))
				m.bus.PublishAsync(runCtx, module.Event{
					Topic:     TopicReloaded,
					Source:    "inventory",
					Timestamp: time.Now().UTC(),
					Payload:   m.path,
				})
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				m.logger.Warn("inventory watcher error", zap.Error(err))
			}
		}
	}()

	m.logger.Info("watching inventory file", zap.String("path", m.path))
	return nil
}

// Stop terminates the file watcher.
func (m *Module) Stop(_ context.Context) error {
	if m.cancel != nil {
		m.cancel()
	}
	if m.watcher != nil {
		m.watcher.Close()
	}
	m.wg.Wait()
	return nil
}

// Current returns the most recently loaded inventory. Never nil.
func (m *Module) Current() *Inventory {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.inv
}

// ConfigsForGroup resolves every host in the named group. An unknown
// group yields an empty slice.
func (m *Module) ConfigsForGroup(group string) ([]HostConfig, error) {
	inv := m.Current()
	hosts := inv.Hosts(group)
	configs := make([]HostConfig, 0, len(hosts))
	for _, h := range hosts {
		cfg, err := inv.Resolve(h.Name, []string{group})
		if err != nil {
			return nil, err
		}
		configs = append(configs, cfg)
	}
	return configs, nil
}

// Empty returns an inventory with no groups, hosts, or variables.
func Empty() *Inventory {
	return &Inventory{
		groups:   make(map[string]*Group),
		global:   make(map[string]string),
		hostVars: make(map[string]map[string]string),
	}
}

func (m *Module) load() error {
	f, err := os.Open(m.path)
	if err != nil {
		return fmt.Errorf("open inventory %q: %w", m.path, err)
	}
	defer f.Close()

	inv, err := Parse(f)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.inv = inv
	m.mu.Unlock()
	return nil
}
