package exec

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/user"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
)

const sshDialTimeout = 10 * time.Second

// Compile-time interface guard.
var _ Runner = (*SSHRunner)(nil)

// SSHRunner executes commands on a remote target. Each invocation opens
// one connection and one session and tears both down afterwards; there is
// no pooling.
type SSHRunner struct {
	target  Target
	timeout time.Duration
	logger  *zap.Logger

	// dial is replaced in tests to point at an in-process server.
	dial      func(network, addr string, config *ssh.ClientConfig) (*ssh.Client, error)
	lookupEnv func(string) (string, bool)
}

// NewSSHRunner creates a runner for one remote target. A zero timeout
// means DefaultTimeout.
func NewSSHRunner(target Target, timeout time.Duration, logger *zap.Logger) *SSHRunner {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SSHRunner{
		target:    target,
		timeout:   timeout,
		logger:    logger,
		dial:      ssh.Dial,
		lookupEnv: os.LookupEnv,
	}
}

// ID implements Runner.
func (r *SSHRunner) ID() string {
	return "ssh:" + r.target.Addr()
}

// Run implements Runner.
func (r *SSHRunner) Run(ctx context.Context, command string) Result {
	return r.RunStream(ctx, command, nil)
}

// RunStream implements Runner.
func (r *SSHRunner) RunStream(ctx context.Context, command string, stream StreamHandler) Result {
	return r.exec(ctx, command, "", stream)
}

// RunPrivileged implements Runner.
func (r *SSHRunner) RunPrivileged(ctx context.Context, command string) (Result, error) {
	return r.RunPrivilegedStream(ctx, command, nil)
}

// RunPrivilegedStream implements Runner.
func (r *SSHRunner) RunPrivilegedStream(ctx context.Context, command string, stream StreamHandler) (Result, error) {
	pass, ok := r.lookupEnv(BecomePassEnv)
	if !ok || pass == "" {
		return Result{}, ErrCredentialMissing
	}
	wrapped := "sudo -S -p '' sh -c " + shQuote(command)
	return r.exec(ctx, wrapped, pass+"\n", stream), nil
}

func (r *SSHRunner) exec(ctx context.Context, command, stdin string, stream StreamHandler) Result {
	runCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	client, err := r.connect()
	if err != nil {
		return failure(TransportExitCode, err.Error())
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return failure(TransportExitCode, fmt.Sprintf("open session: %v", err))
	}
	defer session.Close()

	if stdin != "" {
		session.Stdin = strings.NewReader(stdin)
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		return failure(TransportExitCode, err.Error())
	}
	stderr, err := session.StderrPipe()
	if err != nil {
		return failure(TransportExitCode, err.Error())
	}

	if err := session.Start(command); err != nil {
		return failure(TransportExitCode, fmt.Sprintf("start command: %v", err))
	}

	var outC, errC *lineCollector
	waitCh := make(chan error, 1)
	go func() {
		outC, errC = drainStreams(stdout, stderr, stream)
		waitCh <- session.Wait()
	}()

	select {
	case <-runCtx.Done():
		// Tearing down the connection unblocks the readers and Wait.
		client.Close()
		<-waitCh
		r.logger.Warn("remote command timed out",
			zap.String("target", r.target.Addr()),
			zap.Duration("timeout", r.timeout),
		)
		return Result{
			Stdout:   outC.String(),
			Stderr:   appendLine(errC.String(), fmt.Sprintf("command timed out after %s", r.timeout)),
			ExitCode: TimeoutExitCode,
		}
	case waitErr := <-waitCh:
		res := Result{Stdout: outC.String(), Stderr: errC.String()}
		var exitErr *ssh.ExitError
		switch {
		case waitErr == nil:
		case errors.As(waitErr, &exitErr):
			res.ExitCode = exitErr.ExitStatus()
		default:
			res.ExitCode = TransportExitCode
			res.Stderr = appendLine(res.Stderr, waitErr.Error())
		}
		return res
	}
}

// connect dials the target with key file, default key, and agent auth, in
// that order of preference.
func (r *SSHRunner) connect() (*ssh.Client, error) {
	var methods []ssh.AuthMethod

	if r.target.PrivateKey != "" {
		signer, err := loadSigner(r.target.PrivateKey)
		if err != nil {
			return nil, err
		}
		methods = append(methods, ssh.PublicKeys(signer))
	} else {
		for _, name := range []string{"id_ed25519", "id_rsa"} {
			if signer, err := defaultSigner(name); err == nil {
				methods = append(methods, ssh.PublicKeys(signer))
			}
		}
	}

	if sock := os.Getenv("SSH_AUTH_SOCK"); sock != "" {
		if conn, err := net.Dial("unix", sock); err == nil {
			methods = append(methods, ssh.PublicKeysCallback(agent.NewClient(conn).Signers))
		}
	}

	if len(methods) == 0 {
		return nil, fmt.Errorf("host %s: no SSH authentication methods available", r.target.Host)
	}

	cfg := &ssh.ClientConfig{
		User:            r.target.User,
		Auth:            methods,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), //nolint:gosec // host key pinning is a deployment concern
		Timeout:         sshDialTimeout,
	}

	client, err := r.dial("tcp", r.target.Addr(), cfg)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", r.target.Addr(), err)
	}
	return client, nil
}

func loadSigner(path string) (ssh.Signer, error) {
	key, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read SSH key %q: %w", path, err)
	}
	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("parse SSH key %q: %w", path, err)
	}
	return signer, nil
}

func defaultSigner(name string) (ssh.Signer, error) {
	usr, err := user.Current()
	if err != nil {
		return nil, err
	}
	return loadSigner(filepath.Join(usr.HomeDir, ".ssh", name))
}

// shQuote wraps s in single quotes for safe embedding in a remote shell
// command line.
func shQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
