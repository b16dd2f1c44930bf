package exec

import (
	"context"
	"time"

	"github.com/drover-io/drover/internal/inventory"
	"github.com/drover-io/drover/pkg/module"
	"go.uber.org/zap"
)

// Compile-time interface guard.
var _ module.Module = (*Module)(nil)

// Module wires runner construction into the Drover module lifecycle.
type Module struct {
	logger  *zap.Logger
	timeout time.Duration
}

// NewModule creates the exec module.
func NewModule() *Module {
	return &Module{}
}

// Info implements module.Module.
func (m *Module) Info() module.Info {
	return module.Info{
		Name:        "exec",
		Version:     "0.1.0",
		Description: "Local and SSH command execution",
		Required:    true,
	}
}

// Init implements module.Module. The "timeout" config key bounds each
// command invocation.
func (m *Module) Init(_ context.Context, deps module.Dependencies) error {
	m.logger = deps.Logger
	m.timeout = deps.Config.GetDuration("timeout")
	if m.timeout <= 0 {
		m.timeout = DefaultTimeout
	}
	return nil
}

// Start implements module.Module.
func (m *Module) Start(_ context.Context) error { return nil }

// Stop implements module.Module.
func (m *Module) Stop(_ context.Context) error { return nil }

// RunnerFor returns the runner matching a resolved host configuration:
// a LocalRunner when the host is marked local, an SSHRunner otherwise.
func (m *Module) RunnerFor(cfg inventory.HostConfig) Runner {
	if cfg.Local {
		return NewLocalRunner(m.timeout, m.logger.Named("local"))
	}
	return NewSSHRunner(Target{
		Name:       cfg.Name,
		Host:       cfg.Host,
		User:       cfg.User,
		Port:       cfg.Port,
		PrivateKey: cfg.PrivateKey,
		Local:      cfg.Local,
	}, m.timeout, m.logger.Named("ssh"))
}
