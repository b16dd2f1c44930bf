package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/drover-io/drover/internal/activity"
	"github.com/drover-io/drover/internal/config"
	"github.com/drover-io/drover/internal/event"
	"github.com/drover-io/drover/internal/exec"
	"github.com/drover-io/drover/internal/fleet"
	"github.com/drover-io/drover/internal/inventory"
	"github.com/drover-io/drover/internal/registry"
	"github.com/drover-io/drover/internal/store"
	"github.com/drover-io/drover/internal/version"
	"github.com/drover-io/drover/pkg/module"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func main() {
	// Subcommand dispatch (before flag.Parse).
	if len(os.Args) > 1 && os.Args[1] == "version" {
		fmt.Println(version.Info())
		return
	}

	configPath := flag.String("config", "", "path to configuration file")
	showVersion := flag.Bool("version", false, "print version information and exit")
	group := flag.String("group", "", "inventory group to run against")
	command := flag.String("run", "", "command to run across the fleet (empty: stay resident)")
	local := flag.Bool("local", false, "run the command on the local machine only")
	privileged := flag.Bool("privileged", false, "run the command through privilege escalation")
	stream := flag.Bool("stream", false, "record output lines in the activity log as they arrive")
	probe := flag.Bool("probe", false, "skip hosts that fail an ICMP preflight")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.Info())
		os.Exit(0)
	}

	// Load configuration (before logger, so log level/format can be configured).
	viperCfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	cfg := config.New(viperCfg)

	logger, err := config.NewLogger(viperCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("drover starting", zap.String("version", version.Short()))

	if f := viperCfg.ConfigFileUsed(); f != "" {
		logger.Info("configuration loaded", zap.String("source", f))
	} else {
		logger.Warn("no configuration file found, using defaults")
	}

	// Open database
	dbPath := viperCfg.GetString("database.path")
	if dbPath == "" {
		dbPath = "drover.db"
	}
	db, err := store.New(dbPath)
	if err != nil {
		logger.Fatal("failed to open database", zap.Error(err))
	}
	defer db.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := db.CheckVersion(ctx, version.Version); err != nil {
		logger.Fatal("database version check failed", zap.Error(err))
	}
	logger.Info("database initialized", zap.String("path", dbPath))

	// Shared services
	bus := event.NewBus(logger.Named("event"))
	reg := registry.New(logger.Named("registry"))

	// Register all modules (compile-time composition)
	modules := []module.Module{
		inventory.NewModule(),
		exec.NewModule(),
		activity.NewModule(),
		fleet.NewModule(),
	}
	for _, m := range modules {
		if err := reg.Register(m); err != nil {
			logger.Fatal("failed to register module", zap.Error(err))
		}
	}
	if err := reg.Validate(); err != nil {
		logger.Fatal("module validation failed", zap.Error(err))
	}

	if err := reg.InitAll(ctx, func(name string) module.Dependencies {
		return module.Dependencies{
			Config:  cfg.Sub("modules." + name),
			Logger:  logger.Named(name),
			Store:   db,
			Bus:     bus,
			Modules: reg,
		}
	}); err != nil {
		logger.Fatal("failed to initialize modules", zap.Error(err))
	}

	if err := reg.StartAll(ctx); err != nil {
		logger.Fatal("failed to start modules", zap.Error(err))
	}
	defer reg.StopAll(context.Background())

	// Optional metrics endpoint.
	if addr := viperCfg.GetString("metrics.listen_addr"); addr != "" {
		mux := http.NewServeMux()
		mux.Handle("GET /metrics", promhttp.Handler())
		srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			logger.Info("metrics listener started", zap.String("addr", addr))
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics listener failed", zap.Error(err))
			}
		}()
		defer srv.Shutdown(context.Background()) //nolint:errcheck
	}

	fleetMod, _ := reg.Get("fleet")
	pool := fleetMod.(*fleet.Module)

	// One-shot mode: run the command and exit. Stop modules explicitly
	// since os.Exit skips the deferred cleanup.
	if *command != "" {
		opts := fleet.Options{Privileged: *privileged, Stream: *stream, Probe: *probe}
		code := runOnce(ctx, pool, logger, *group, *command, *local, opts)
		reg.StopAll(context.Background())
		db.Close()
		_ = logger.Sync()
		os.Exit(code)
	}

	// Resident mode: wait for a signal or for the idle watcher to stop
	// the activity service.
	stopped := make(chan struct{})
	unsubscribe := bus.Subscribe(activity.TopicStopped, func(context.Context, module.Event) {
		close(stopped)
	})
	defer unsubscribe()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	select {
	case s := <-sig:
		logger.Info("shutting down", zap.String("signal", s.String()))
	case <-stopped:
		logger.Info("idle shutdown")
	}
}

// runOnce executes command on the selected targets and returns the
// process exit code: the command's own exit code for a single target,
// otherwise 0 only if every host succeeded.
func runOnce(ctx context.Context, pool *fleet.Module, logger *zap.Logger, group, command string, local bool, opts fleet.Options) int {
	if local {
		res := pool.RunLocal(ctx, command, opts)
		printResult(res)
		return res.Result.ExitCode
	}

	if group == "" {
		logger.Error("either -local or -group is required with -run")
		return 2
	}

	results, err := pool.RunGroup(ctx, group, command, opts)
	if err != nil {
		logger.Error("fleet run failed", zap.Error(err))
		return 1
	}
	if len(results) == 0 {
		logger.Warn("group matched no hosts", zap.String("group", group))
		return 0
	}

	code := 0
	for _, res := range results {
		printResult(res)
		if res.Err != nil || !res.Result.Success() {
			code = 1
		}
	}
	return code
}

func printResult(res fleet.HostResult) {
	switch {
	case res.Skipped:
		fmt.Printf("%s: skipped (%v)\n", res.Host, res.Err)
	case res.Err != nil:
		fmt.Printf("%s: error: %v\n", res.Host, res.Err)
	default:
		fmt.Printf("%s: exit %d\n", res.Host, res.Result.ExitCode)
		if res.Result.Stdout != "" {
			fmt.Println(res.Result.Stdout)
		}
		if res.Result.Stderr != "" {
			fmt.Fprintln(os.Stderr, res.Result.Stderr)
		}
	}
}
