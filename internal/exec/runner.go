// Package exec runs shell commands on local and remote targets behind a
// single Runner contract, capturing output and streaming it line by line.
package exec

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Exit codes synthesized for failures that never produced a process exit
// status. 124 mirrors timeout(1), 127 the shell's command-not-found, 255
// the ssh client's connection-failure convention.
const (
	TimeoutExitCode   = 124
	SpawnExitCode     = 127
	TransportExitCode = 255
)

// BecomePassEnv names the environment variable holding the privilege
// escalation credential.
const BecomePassEnv = "DROVER_BECOME_PASS"

// DefaultTimeout bounds a single command invocation unless the runner is
// configured otherwise.
const DefaultTimeout = 300 * time.Second

// ErrCredentialMissing is returned by the privileged variants when no
// escalation credential is present in the environment. It is the only
// error the Runner interface surfaces; every other failure becomes a
// non-success Result.
var ErrCredentialMissing = errors.New("privilege escalation credential not set (" + BecomePassEnv + ")")

// StreamHandler receives command output line by line as it is produced.
// Lines of one stream arrive in order; no ordering holds across streams.
// Callbacks run synchronously on the reader goroutines, so handlers must
// not block.
type StreamHandler interface {
	OnStdoutLine(line string)
	OnStderrLine(line string)
}

// Runner executes shell commands on one target. Execution failures of any
// kind (spawn, transport, timeout, non-zero exit) are reported through the
// Result; the privileged variants additionally fail fast with
// ErrCredentialMissing before anything runs.
type Runner interface {
	Run(ctx context.Context, command string) Result
	RunStream(ctx context.Context, command string, stream StreamHandler) Result
	RunPrivileged(ctx context.Context, command string) (Result, error)
	RunPrivilegedStream(ctx context.Context, command string, stream StreamHandler) (Result, error)
	ID() string
}

// Target identifies one machine a runner executes against.
type Target struct {
	Name       string
	Host       string
	User       string
	Port       int
	PrivateKey string
	Local      bool
}

// Addr returns the host:port dial address.
func (t Target) Addr() string {
	return fmt.Sprintf("%s:%d", t.Host, t.Port)
}

// StreamFunc adapts two plain functions into a StreamHandler. Either may
// be nil.
type StreamFunc struct {
	Stdout func(line string)
	Stderr func(line string)
}

func (s StreamFunc) OnStdoutLine(line string) {
	if s.Stdout != nil {
		s.Stdout(line)
	}
}

func (s StreamFunc) OnStderrLine(line string) {
	if s.Stderr != nil {
		s.Stderr(line)
	}
}
