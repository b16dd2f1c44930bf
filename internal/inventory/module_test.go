package inventory

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/drover-io/drover/internal/config"
	"github.com/drover-io/drover/internal/event"
	"github.com/drover-io/drover/pkg/module"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func writeInventoryFile(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "inventory.ini")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write inventory: %v", err)
	}
	return path
}

func moduleDeps(t *testing.T, settings map[string]any) module.Dependencies {
	t.Helper()
	v := viper.New()
	for k, val := range settings {
		v.Set(k, val)
	}
	return module.Dependencies{
		Config: config.New(v),
		Logger: zap.NewNop(),
		Bus:    event.NewBus(zap.NewNop()),
	}
}

func TestModule_InitLoadsInventory(t *testing.T) {
	path := writeInventoryFile(t, t.TempDir(), "[web]\nh1\nh2\n")

	m := NewModule()
	if err := m.Init(context.Background(), moduleDeps(t, map[string]any{"path": path})); err != nil {
		t.Fatalf("Init: %v", err)
	}

	configs, err := m.ConfigsForGroup("web")
	if err != nil {
		t.Fatalf("ConfigsForGroup: %v", err)
	}
	if len(configs) != 2 {
		t.Fatalf("got %d configs, want 2", len(configs))
	}
}

func TestModule_InitWithoutPathIsLocalOnly(t *testing.T) {
	m := NewModule()
	if err := m.Init(context.Background(), moduleDeps(t, nil)); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if got := m.Current().Hosts("web"); len(got) != 0 {
		t.Errorf("empty inventory returned %d hosts", len(got))
	}
}

func TestModule_InitMissingFileFails(t *testing.T) {
	m := NewModule()
	err := m.Init(context.Background(), moduleDeps(t, map[string]any{"path": "/no/such/inventory.ini"}))
	if err == nil {
		t.Error("expected error for missing inventory file")
	}
}

func TestModule_WatchReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := writeInventoryFile(t, dir, "[web]\nh1\n")

	m := NewModule()
	deps := moduleDeps(t, map[string]any{"path": path, "watch": true})
	if err := m.Init(context.Background(), deps); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer m.Stop(context.Background())

	if err := os.WriteFile(path, []byte("[web]\nh1\nh2\n"), 0o644); err != nil {
		t.Fatalf("rewrite inventory: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if len(m.Current().Hosts("web")) == 2 {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("inventory was not reloaded within 5s of file change")
}
