package exec

import (
	"context"
	"errors"
	"fmt"
	"os"
	osexec "os/exec"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Compile-time interface guard.
var _ Runner = (*LocalRunner)(nil)

// LocalRunner executes commands on the machine Drover itself runs on, via
// `sh -c` child processes.
type LocalRunner struct {
	timeout time.Duration
	logger  *zap.Logger

	// lookupEnv is swapped in tests to control credential presence.
	lookupEnv func(string) (string, bool)
}

// NewLocalRunner creates a local runner. A zero timeout means
// DefaultTimeout.
func NewLocalRunner(timeout time.Duration, logger *zap.Logger) *LocalRunner {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LocalRunner{
		timeout:   timeout,
		logger:    logger,
		lookupEnv: os.LookupEnv,
	}
}

// ID implements Runner.
func (r *LocalRunner) ID() string {
	return "local"
}

// Run implements Runner.
func (r *LocalRunner) Run(ctx context.Context, command string) Result {
	return r.RunStream(ctx, command, nil)
}

// RunStream implements Runner.
func (r *LocalRunner) RunStream(ctx context.Context, command string, stream StreamHandler) Result {
	return r.exec(ctx, []string{"sh", "-c", command}, "", stream)
}

// RunPrivileged implements Runner.
func (r *LocalRunner) RunPrivileged(ctx context.Context, command string) (Result, error) {
	return r.RunPrivilegedStream(ctx, command, nil)
}

// RunPrivilegedStream implements Runner.
func (r *LocalRunner) RunPrivilegedStream(ctx context.Context, command string, stream StreamHandler) (Result, error) {
	pass, ok := r.lookupEnv(BecomePassEnv)
	if !ok || pass == "" {
		return Result{}, ErrCredentialMissing
	}
	argv := []string{"sudo", "-S", "-p", "", "sh", "-c", command}
	return r.exec(ctx, argv, pass+"\n", stream), nil
}

func (r *LocalRunner) exec(ctx context.Context, argv []string, stdin string, stream StreamHandler) Result {
	runCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cmd := osexec.CommandContext(runCtx, argv[0], argv[1:]...)
	// Grandchildren can inherit the pipes; force-close them shortly after
	// a timeout kill so the readers cannot block on an orphaned writer.
	cmd.WaitDelay = 2 * time.Second
	if stdin != "" {
		cmd.Stdin = strings.NewReader(stdin)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return failure(SpawnExitCode, err.Error())
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return failure(SpawnExitCode, err.Error())
	}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return failure(SpawnExitCode, err.Error())
	}

	outC, errC := drainStreams(stdout, stderr, stream)
	waitErr := cmd.Wait()

	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		r.logger.Warn("local command timed out",
			zap.Duration("timeout", r.timeout),
		)
		return Result{
			Stdout:   outC.String(),
			Stderr:   appendLine(errC.String(), fmt.Sprintf("command timed out after %s", r.timeout)),
			ExitCode: TimeoutExitCode,
		}
	}

	res := Result{Stdout: outC.String(), Stderr: errC.String()}
	switch e := waitErr.(type) {
	case nil:
	case *osexec.ExitError:
		res.ExitCode = e.ExitCode()
	default:
		res.ExitCode = SpawnExitCode
		res.Stderr = appendLine(res.Stderr, waitErr.Error())
	}

	r.logger.Debug("local command finished",
		zap.Int("exit_code", res.ExitCode),
		zap.Duration("elapsed", time.Since(start)),
	)
	return res
}

func appendLine(s, line string) string {
	if s == "" {
		return line
	}
	return s + "\n" + line
}
