package exec

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"
)

// --- Test SSH Server ---

// scriptedExec describes what the test server does with one exec request.
type scriptedExec struct {
	stdout string
	stderr string
	exit   uint32
	delay  time.Duration
}

type testSSHServer struct {
	addr string

	mu       sync.Mutex
	commands []string
	script   map[string]scriptedExec
}

func (s *testSSHServer) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.commands))
	copy(out, s.commands)
	return out
}

// generateTestHostKey generates an ed25519 host key for the test SSH server.
func generateTestHostKey(t *testing.T) ssh.Signer {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate ed25519 key: %v", err)
	}

	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatalf("create signer: %v", err)
	}
	return signer
}

// writeTestClientKey writes a throwaway ed25519 private key to disk so the
// runner has an auth method to offer. The server accepts any client.
func writeTestClientKey(t *testing.T) string {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate client key: %v", err)
	}
	block, err := ssh.MarshalPrivateKey(priv, "")
	if err != nil {
		t.Fatalf("marshal client key: %v", err)
	}
	path := filepath.Join(t.TempDir(), "id_ed25519")
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0o600); err != nil {
		t.Fatalf("write client key: %v", err)
	}
	return path
}

// newTestSSHServer starts an in-process SSH server that answers exec
// requests from its script. Unscripted commands exit 0 with no output.
func newTestSSHServer(t *testing.T, script map[string]scriptedExec) *testSSHServer {
	t.Helper()

	config := &ssh.ServerConfig{NoClientAuth: true}
	config.AddHostKey(generateTestHostKey(t))

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	srv := &testSSHServer{addr: listener.Addr().String(), script: script}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			go srv.handleConn(conn, config)
		}
	}()
	t.Cleanup(func() {
		listener.Close()
		<-done
	})

	return srv
}

func (s *testSSHServer) handleConn(conn net.Conn, config *ssh.ServerConfig) {
	defer conn.Close()

	sshConn, chans, reqs, err := ssh.NewServerConn(conn, config)
	if err != nil {
		return
	}
	defer sshConn.Close()

	go ssh.DiscardRequests(reqs)

	for newChannel := range chans {
		if newChannel.ChannelType() != "session" {
			newChannel.Reject(ssh.UnknownChannelType, "unknown channel type")
			continue
		}

		channel, requests, err := newChannel.Accept()
		if err != nil {
			return
		}

		go func() {
			for req := range requests {
				if req.Type != "exec" {
					if req.WantReply {
						req.Reply(false, nil)
					}
					continue
				}

				var payload struct{ Command string }
				if err := ssh.Unmarshal(req.Payload, &payload); err != nil {
					req.Reply(false, nil)
					continue
				}
				req.Reply(true, nil)

				s.mu.Lock()
				s.commands = append(s.commands, payload.Command)
				exec := s.script[payload.Command]
				s.mu.Unlock()

				go func() {
					if exec.delay > 0 {
						time.Sleep(exec.delay)
					}
					if exec.stdout != "" {
						fmt.Fprint(channel, exec.stdout)
					}
					if exec.stderr != "" {
						fmt.Fprint(channel.Stderr(), exec.stderr)
					}
					status := ssh.Marshal(struct{ Status uint32 }{exec.exit})
					channel.SendRequest("exit-status", false, status)
					channel.Close()
				}()
			}
		}()
	}
}

// --- SSHRunner Tests ---

func newTestSSHRunner(t *testing.T, srv *testSSHServer, timeout time.Duration) *SSHRunner {
	t.Helper()
	host, portStr, err := net.SplitHostPort(srv.addr)
	if err != nil {
		t.Fatalf("split addr: %v", err)
	}
	var port int
	fmt.Sscanf(portStr, "%d", &port)

	return NewSSHRunner(Target{
		Name:       "test-host",
		Host:       host,
		User:       "tester",
		Port:       port,
		PrivateKey: writeTestClientKey(t),
	}, timeout, zap.NewNop())
}

func TestSSHRunner_CapturesOutputAndExitCode(t *testing.T) {
	srv := newTestSSHServer(t, map[string]scriptedExec{
		"uptime": {stdout: "up 5 days\n", stderr: "warning: clock skew\n", exit: 0},
	})
	r := newTestSSHRunner(t, srv, 5*time.Second)

	res := r.Run(context.Background(), "uptime")
	if !res.Success() {
		t.Fatalf("exit code = %d, want 0 (stderr: %q)", res.ExitCode, res.Stderr)
	}
	if res.Stdout != "up 5 days" {
		t.Errorf("stdout = %q, want %q", res.Stdout, "up 5 days")
	}
	if res.Stderr != "warning: clock skew" {
		t.Errorf("stderr = %q, want %q", res.Stderr, "warning: clock skew")
	}
}

func TestSSHRunner_NonZeroExit(t *testing.T) {
	srv := newTestSSHServer(t, map[string]scriptedExec{
		"false": {exit: 7},
	})
	r := newTestSSHRunner(t, srv, 5*time.Second)

	res := r.Run(context.Background(), "false")
	if res.ExitCode != 7 {
		t.Errorf("exit code = %d, want 7", res.ExitCode)
	}
	if res.Success() {
		t.Error("Success() = true for non-zero exit")
	}
}

func TestSSHRunner_StreamsLinesInOrder(t *testing.T) {
	srv := newTestSSHServer(t, map[string]scriptedExec{
		"list": {stdout: "one\ntwo\nthree\n"},
	})
	r := newTestSSHRunner(t, srv, 5*time.Second)

	var mu sync.Mutex
	var lines []string
	res := r.RunStream(context.Background(), "list", StreamFunc{
		Stdout: func(line string) {
			mu.Lock()
			lines = append(lines, line)
			mu.Unlock()
		},
	})

	if !res.Success() {
		t.Fatalf("exit code = %d, want 0", res.ExitCode)
	}
	want := []string{"one", "two", "three"}
	mu.Lock()
	defer mu.Unlock()
	if len(lines) != len(want) {
		t.Fatalf("streamed %d lines, want %d", len(lines), len(want))
	}
	for i, line := range want {
		if lines[i] != line {
			t.Errorf("line[%d] = %q, want %q", i, lines[i], line)
		}
	}
}

func TestSSHRunner_DialFailureIsResult(t *testing.T) {
	// A listener that is immediately closed yields a dead port.
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := l.Addr().String()
	l.Close()

	host, portStr, _ := net.SplitHostPort(addr)
	var port int
	fmt.Sscanf(portStr, "%d", &port)

	r := NewSSHRunner(Target{
		Host: host, User: "tester", Port: port,
		PrivateKey: writeTestClientKey(t),
	}, time.Second, zap.NewNop())

	res := r.Run(context.Background(), "uptime")
	if res.ExitCode != TransportExitCode {
		t.Errorf("exit code = %d, want %d", res.ExitCode, TransportExitCode)
	}
	if res.Stderr == "" {
		t.Error("expected a transport failure message in stderr")
	}
}

func TestSSHRunner_PrivilegedRequiresCredential(t *testing.T) {
	srv := newTestSSHServer(t, nil)
	r := newTestSSHRunner(t, srv, 5*time.Second)
	r.lookupEnv = func(string) (string, bool) { return "", false }

	_, err := r.RunPrivileged(context.Background(), "whoami")
	if !errors.Is(err, ErrCredentialMissing) {
		t.Errorf("err = %v, want ErrCredentialMissing", err)
	}
	if got := srv.Commands(); len(got) != 0 {
		t.Errorf("server saw %d commands, want 0", len(got))
	}
}

func TestSSHRunner_PrivilegedWrapsCommandInSudo(t *testing.T) {
	srv := newTestSSHServer(t, nil)
	r := newTestSSHRunner(t, srv, 5*time.Second)
	r.lookupEnv = func(string) (string, bool) { return "hunter2", true }

	res, err := r.RunPrivileged(context.Background(), "systemctl restart nginx")
	if err != nil {
		t.Fatalf("RunPrivileged: %v", err)
	}
	if !res.Success() {
		t.Fatalf("exit code = %d, want 0", res.ExitCode)
	}

	cmds := srv.Commands()
	if len(cmds) != 1 {
		t.Fatalf("server saw %d commands, want 1", len(cmds))
	}
	if !strings.HasPrefix(cmds[0], "sudo -S -p '' sh -c ") {
		t.Errorf("command = %q, want sudo -S prefix", cmds[0])
	}
	if !strings.Contains(cmds[0], "systemctl restart nginx") {
		t.Errorf("command = %q, want wrapped original command", cmds[0])
	}
}

func TestSSHRunner_TimeoutYieldsSentinelExit(t *testing.T) {
	srv := newTestSSHServer(t, map[string]scriptedExec{
		"slow": {stdout: "partial\n", delay: 10 * time.Second},
	})
	r := newTestSSHRunner(t, srv, 500*time.Millisecond)

	start := time.Now()
	res := r.Run(context.Background(), "slow")
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("timeout took %s, should be near 500ms", elapsed)
	}
	if res.ExitCode != TimeoutExitCode {
		t.Errorf("exit code = %d, want %d", res.ExitCode, TimeoutExitCode)
	}
	if !strings.Contains(res.Stderr, "timed out") {
		t.Errorf("stderr = %q, want timeout message", res.Stderr)
	}
}

func TestShQuote(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"echo hi", "'echo hi'"},
		{"echo 'quoted'", `'echo '\''quoted'\'''`},
	}
	for _, tt := range tests {
		if got := shQuote(tt.in); got != tt.want {
			t.Errorf("shQuote(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
