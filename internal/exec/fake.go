package exec

import (
	"context"
	"strings"
	"sync"
)

// Compile-time interface guard.
var _ Runner = (*FakeRunner)(nil)

// FakeRunner is an in-memory Runner for tests and embedders. Responses
// are scripted per command; unscripted commands succeed with empty
// output. It records every command it was asked to run.
type FakeRunner struct {
	// Responses maps a command line to its scripted result.
	Responses map[string]Result
	// Default is returned for commands with no scripted response.
	Default Result
	// CredentialPresent controls the privileged variants.
	CredentialPresent bool

	mu    sync.Mutex
	calls []string
}

// NewFakeRunner creates a fake with the escalation credential present.
func NewFakeRunner() *FakeRunner {
	return &FakeRunner{
		Responses:         make(map[string]Result),
		CredentialPresent: true,
	}
}

// ID implements Runner.
func (f *FakeRunner) ID() string {
	return "fake"
}

// Calls returns the commands run so far, in order.
func (f *FakeRunner) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	copy(out, f.calls)
	return out
}

// Run implements Runner.
func (f *FakeRunner) Run(ctx context.Context, command string) Result {
	return f.RunStream(ctx, command, nil)
}

// RunStream implements Runner.
func (f *FakeRunner) RunStream(_ context.Context, command string, stream StreamHandler) Result {
	f.mu.Lock()
	f.calls = append(f.calls, command)
	res, ok := f.Responses[command]
	f.mu.Unlock()
	if !ok {
		res = f.Default
	}

	if stream != nil {
		for _, line := range splitLines(res.Stdout) {
			stream.OnStdoutLine(line)
		}
		for _, line := range splitLines(res.Stderr) {
			stream.OnStderrLine(line)
		}
	}
	return res
}

// RunPrivileged implements Runner.
func (f *FakeRunner) RunPrivileged(ctx context.Context, command string) (Result, error) {
	return f.RunPrivilegedStream(ctx, command, nil)
}

// RunPrivilegedStream implements Runner.
func (f *FakeRunner) RunPrivilegedStream(ctx context.Context, command string, stream StreamHandler) (Result, error) {
	if !f.CredentialPresent {
		return Result{}, ErrCredentialMissing
	}
	return f.RunStream(ctx, command, stream), nil
}

func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}
