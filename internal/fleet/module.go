package fleet

import (
	"context"
	"fmt"

	"github.com/drover-io/drover/internal/activity"
	"github.com/drover-io/drover/internal/exec"
	"github.com/drover-io/drover/internal/inventory"
	"github.com/drover-io/drover/pkg/module"
	"go.uber.org/zap"
)

// Compile-time interface guard.
var _ module.Module = (*Module)(nil)

// Module composes the inventory, exec, and activity modules into the
// fleet execution pool.
type Module struct {
	logger    *zap.Logger
	pool      *Pool
	inventory *inventory.Module
	workers   int
}

// NewModule creates the fleet module.
func NewModule() *Module {
	return &Module{}
}

// Info implements module.Module.
func (m *Module) Info() module.Info {
	return module.Info{
		Name:         "fleet",
		Version:      "0.1.0",
		Description:  "Bounded-concurrency command fan-out across the fleet",
		Dependencies: []string{"inventory", "exec", "activity"},
		Required:     true,
	}
}

// Init implements module.Module. Config keys: workers, dial_rate.
func (m *Module) Init(_ context.Context, deps module.Dependencies) error {
	m.logger = deps.Logger
	m.workers = deps.Config.GetInt("workers")
	if m.workers <= 0 {
		m.workers = DefaultWorkers
	}

	inv, ok := resolveAs[*inventory.Module](deps.Modules, "inventory")
	if !ok {
		return fmt.Errorf("fleet requires the inventory module")
	}
	execMod, ok := resolveAs[*exec.Module](deps.Modules, "exec")
	if !ok {
		return fmt.Errorf("fleet requires the exec module")
	}
	actMod, ok := resolveAs[*activity.Module](deps.Modules, "activity")
	if !ok {
		return fmt.Errorf("fleet requires the activity module")
	}

	m.inventory = inv
	dialRate := 0.0
	if deps.Config.IsSet("dial_rate") {
		dialRate = float64(deps.Config.GetInt("dial_rate"))
	}
	m.pool = NewPool(execMod, actMod.Service(), deps.Logger, dialRate)
	return nil
}

// Start implements module.Module.
func (m *Module) Start(_ context.Context) error { return nil }

// Stop implements module.Module.
func (m *Module) Stop(_ context.Context) error { return nil }

// Pool returns the execution pool.
func (m *Module) Pool() *Pool {
	return m.pool
}

// RunGroup resolves every host of an inventory group and runs command on
// each through the pool.
func (m *Module) RunGroup(ctx context.Context, group, command string, opts Options) ([]HostResult, error) {
	configs, err := m.inventory.ConfigsForGroup(group)
	if err != nil {
		return nil, err
	}
	if opts.Workers <= 0 {
		opts.Workers = m.workers
	}
	return m.pool.Run(ctx, configs, command, opts), nil
}

// RunLocal runs command on the local machine through the pool, without
// any inventory.
func (m *Module) RunLocal(ctx context.Context, command string, opts Options) HostResult {
	results := m.pool.Run(ctx, []inventory.HostConfig{inventory.ResolveLocal()}, command, opts)
	return results[0]
}

func resolveAs[T any](r module.Resolver, name string) (T, bool) {
	var zero T
	if r == nil {
		return zero, false
	}
	mod, ok := r.Resolve(name)
	if !ok {
		return zero, false
	}
	typed, ok := mod.(T)
	if !ok {
		return zero, false
	}
	return typed, true
}
