// Package fleet fans a command out to a set of resolved hosts through a
// bounded worker pool and records the outcome in the activity log.
package fleet

import (
	"context"
	"fmt"

	"github.com/drover-io/drover/internal/activity"
	"github.com/drover-io/drover/internal/exec"
	"github.com/drover-io/drover/internal/inventory"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// DefaultWorkers bounds fleet concurrency when no worker count is given.
const DefaultWorkers = 8

// RunnerProvider builds a runner for one resolved host. Implemented by
// the exec module.
type RunnerProvider interface {
	RunnerFor(cfg inventory.HostConfig) exec.Runner
}

// HostResult is the outcome of one host's task.
type HostResult struct {
	Host    string
	Result  exec.Result
	Err     error
	Skipped bool
}

// Options tunes one fleet run.
type Options struct {
	Workers    int  // concurrent tasks, DefaultWorkers when zero
	Privileged bool // run through privilege escalation
	Probe      bool // ICMP preflight, skip unreachable hosts
	Stream     bool // record output lines in the activity log as they arrive
}

// Pool executes commands across hosts. One task per host, no intra-host
// parallelism, no cross-host ordering guarantees.
type Pool struct {
	provider RunnerProvider
	activity *activity.Service
	logger   *zap.Logger
	limiter  *rate.Limiter

	// probe is swapped in tests.
	probe func(ctx context.Context, host string) bool
}

// NewPool creates a pool. dialRate caps new connections per second; zero
// or negative means unthrottled. The activity service may be nil.
func NewPool(provider RunnerProvider, svc *activity.Service, logger *zap.Logger, dialRate float64) *Pool {
	if logger == nil {
		logger = zap.NewNop()
	}
	limit := rate.Inf
	if dialRate > 0 {
		limit = rate.Limit(dialRate)
	}
	return &Pool{
		provider: provider,
		activity: svc,
		logger:   logger,
		limiter:  rate.NewLimiter(limit, 1),
		probe:    icmpProbe,
	}
}

// Run executes command on every host, at most Options.Workers at a time.
// Results are returned in input order. Failures never abort the run:
// unreachable hosts are skipped, missing credentials and non-zero exits
// are reported per host.
func (p *Pool) Run(ctx context.Context, configs []inventory.HostConfig, command string, opts Options) []HostResult {
	workers := opts.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}

	var sessionID string
	if p.activity != nil {
		sess, err := p.activity.CreateSession(ctx, command)
		if err != nil {
			p.logger.Warn("running without activity session", zap.Error(err))
		} else {
			sessionID = sess.ID
		}
	}

	results := make([]HostResult, len(configs))
	sem := make(chan struct{}, workers)

	for i, cfg := range configs {
		select {
		case <-ctx.Done():
			results[i] = HostResult{Host: cfg.Name, Err: ctx.Err(), Skipped: true}
			continue
		case sem <- struct{}{}:
		}

		go func(i int, cfg inventory.HostConfig) {
			defer func() { <-sem }()
			results[i] = p.runHost(ctx, cfg, command, sessionID, opts)
		}(i, cfg)
	}

	// Wait for all workers to finish.
	for i := 0; i < workers; i++ {
		sem <- struct{}{}
	}
	return results
}

func (p *Pool) runHost(ctx context.Context, cfg inventory.HostConfig, command, sessionID string, opts Options) HostResult {
	if opts.Probe && !cfg.Local {
		if !p.probe(ctx, cfg.Host) {
			p.log(ctx, sessionID, cfg.Name, "probe", "warn", "host unreachable, skipping")
			return HostResult{Host: cfg.Name, Skipped: true, Err: fmt.Errorf("host %s unreachable", cfg.Host)}
		}
	}

	if !cfg.Local {
		if err := p.limiter.Wait(ctx); err != nil {
			return HostResult{Host: cfg.Name, Err: err, Skipped: true}
		}
	}

	runner := p.provider.RunnerFor(cfg)

	var stream exec.StreamHandler
	if opts.Stream && sessionID != "" {
		stream = exec.StreamFunc{
			Stdout: func(line string) { p.log(ctx, sessionID, cfg.Name, "stdout", "info", line) },
			Stderr: func(line string) { p.log(ctx, sessionID, cfg.Name, "stderr", "warn", line) },
		}
	}

	var res exec.Result
	var err error
	if opts.Privileged {
		res, err = runner.RunPrivilegedStream(ctx, command, stream)
		if err != nil {
			p.log(ctx, sessionID, cfg.Name, "command", "error", err.Error())
			return HostResult{Host: cfg.Name, Err: err}
		}
	} else {
		res = runner.RunStream(ctx, command, stream)
	}

	level := "info"
	if !res.Success() {
		level = "error"
	}
	p.log(ctx, sessionID, cfg.Name, "command", level,
		fmt.Sprintf("exit %d via %s", res.ExitCode, runner.ID()))

	return HostResult{Host: cfg.Name, Result: res}
}

func (p *Pool) log(ctx context.Context, sessionID, actor, label, level, message string) {
	if p.activity == nil || sessionID == "" {
		return
	}
	p.activity.Log(ctx, sessionID, actor, label, level, message)
}
