package fleet

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/drover-io/drover/internal/activity"
	"github.com/drover-io/drover/internal/exec"
	"github.com/drover-io/drover/internal/inventory"
	"github.com/drover-io/drover/internal/store"
	"github.com/drover-io/drover/pkg/module"
	"go.uber.org/zap"
)

type fakeProvider struct {
	mu       sync.Mutex
	runners  map[string]exec.Runner
	fallback func(cfg inventory.HostConfig) exec.Runner
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{runners: make(map[string]exec.Runner)}
}

func (p *fakeProvider) RunnerFor(cfg inventory.HostConfig) exec.Runner {
	p.mu.Lock()
	defer p.mu.Unlock()
	if r, ok := p.runners[cfg.Name]; ok {
		return r
	}
	if p.fallback != nil {
		return p.fallback(cfg)
	}
	r := exec.NewFakeRunner()
	p.runners[cfg.Name] = r
	return r
}

// capturingBus records published events.
type capturingBus struct {
	mu     sync.Mutex
	events []module.Event
}

func (b *capturingBus) Publish(_ context.Context, e module.Event) error {
	b.mu.Lock()
	b.events = append(b.events, e)
	b.mu.Unlock()
	return nil
}

func (b *capturingBus) sessionID() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, e := range b.events {
		if e.Topic == activity.TopicSessionCreated {
			return e.Payload.(string)
		}
	}
	return ""
}

func hostConfigs(names ...string) []inventory.HostConfig {
	configs := make([]inventory.HostConfig, 0, len(names))
	for _, n := range names {
		configs = append(configs, inventory.HostConfig{Name: n, Host: n, User: "tester", Port: 22, Local: true})
	}
	return configs
}

func newTestActivity(t *testing.T, bus module.Publisher) *activity.Service {
	t.Helper()
	db, err := store.New(filepath.Join(t.TempDir(), "fleet.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	as, err := activity.NewStore(context.Background(), db)
	if err != nil {
		t.Fatalf("activity store: %v", err)
	}
	return activity.NewService(as, bus, zap.NewNop(), nil, nil)
}

func TestPool_RunsCommandOnEveryHost(t *testing.T) {
	provider := newFakeProvider()
	pool := NewPool(provider, nil, zap.NewNop(), 0)

	configs := hostConfigs("h1", "h2", "h3")
	results := pool.Run(context.Background(), configs, "uptime", Options{})

	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	for i, res := range results {
		if res.Host != configs[i].Name {
			t.Errorf("result[%d].Host = %q, want %q (input order)", i, res.Host, configs[i].Name)
		}
		if res.Err != nil || res.Skipped {
			t.Errorf("result[%d] = %+v, want clean run", i, res)
		}
	}

	for _, name := range []string{"h1", "h2", "h3"} {
		r := provider.runners[name].(*exec.FakeRunner)
		calls := r.Calls()
		if len(calls) != 1 || calls[0] != "uptime" {
			t.Errorf("runner %s calls = %v, want [uptime]", name, calls)
		}
	}
}

func TestPool_RecordsResultsInActivityLog(t *testing.T) {
	bus := &capturingBus{}
	svc := newTestActivity(t, bus)
	provider := newFakeProvider()
	pool := NewPool(provider, svc, zap.NewNop(), 0)

	pool.Run(context.Background(), hostConfigs("h1", "h2"), "uptime", Options{})

	sessID := bus.sessionID()
	if sessID == "" {
		t.Fatal("no session created for the run")
	}

	actors, err := svc.DistinctActors(context.Background(), sessID)
	if err != nil {
		t.Fatalf("DistinctActors: %v", err)
	}
	if len(actors) != 2 {
		t.Errorf("actors = %v, want one per host", actors)
	}
}

func TestPool_StreamedLinesLandInActivityLog(t *testing.T) {
	bus := &capturingBus{}
	svc := newTestActivity(t, bus)

	provider := newFakeProvider()
	fake := exec.NewFakeRunner()
	fake.Responses["cat /etc/hostname"] = exec.Result{Stdout: "web-1\nweb-1.internal"}
	provider.runners["h1"] = fake

	pool := NewPool(provider, svc, zap.NewNop(), 0)
	pool.Run(context.Background(), hostConfigs("h1"), "cat /etc/hostname", Options{Stream: true})

	entries, err := svc.EntriesBySession(context.Background(), bus.sessionID())
	if err != nil {
		t.Fatalf("EntriesBySession: %v", err)
	}

	var stdoutLines []string
	for _, e := range entries {
		if e.Label == "stdout" {
			stdoutLines = append(stdoutLines, e.Message)
		}
	}
	if len(stdoutLines) != 2 || stdoutLines[0] != "web-1" {
		t.Errorf("stdout entries = %v, want the streamed lines in order", stdoutLines)
	}
}

func TestPool_PrivilegedWithoutCredential(t *testing.T) {
	provider := newFakeProvider()
	fake := exec.NewFakeRunner()
	fake.CredentialPresent = false
	provider.runners["h1"] = fake

	pool := NewPool(provider, nil, zap.NewNop(), 0)
	results := pool.Run(context.Background(), hostConfigs("h1"), "reboot", Options{Privileged: true})

	if !errors.Is(results[0].Err, exec.ErrCredentialMissing) {
		t.Errorf("err = %v, want ErrCredentialMissing", results[0].Err)
	}
}

func TestPool_ProbeSkipsUnreachableHosts(t *testing.T) {
	provider := newFakeProvider()
	pool := NewPool(provider, nil, zap.NewNop(), 0)
	pool.probe = func(_ context.Context, host string) bool {
		return host != "dead"
	}

	configs := []inventory.HostConfig{
		{Name: "alive", Host: "alive", Port: 22},
		{Name: "dead", Host: "dead", Port: 22},
	}
	results := pool.Run(context.Background(), configs, "uptime", Options{Probe: true})

	if results[0].Skipped {
		t.Error("reachable host was skipped")
	}
	if !results[1].Skipped || results[1].Err == nil {
		t.Errorf("unreachable host result = %+v, want skipped with error", results[1])
	}
}

// blockingRunner counts how many invocations overlap.
type blockingRunner struct {
	exec.FakeRunner
	mu      sync.Mutex
	active  int
	maxSeen int
}

func (b *blockingRunner) RunStream(ctx context.Context, command string, stream exec.StreamHandler) exec.Result {
	b.mu.Lock()
	b.active++
	if b.active > b.maxSeen {
		b.maxSeen = b.active
	}
	b.mu.Unlock()

	time.Sleep(20 * time.Millisecond)

	b.mu.Lock()
	b.active--
	b.mu.Unlock()
	return exec.Result{}
}

func (b *blockingRunner) Run(ctx context.Context, command string) exec.Result {
	return b.RunStream(ctx, command, nil)
}

func TestPool_ConcurrencyIsBounded(t *testing.T) {
	shared := &blockingRunner{}
	provider := newFakeProvider()
	provider.fallback = func(inventory.HostConfig) exec.Runner { return shared }

	pool := NewPool(provider, nil, zap.NewNop(), 0)
	pool.Run(context.Background(), hostConfigs("a", "b", "c", "d", "e", "f"), "sleep", Options{Workers: 2})

	shared.mu.Lock()
	defer shared.mu.Unlock()
	if shared.maxSeen > 2 {
		t.Errorf("observed %d concurrent tasks, want at most 2", shared.maxSeen)
	}
	if shared.maxSeen == 0 {
		t.Error("no tasks ran")
	}
}
