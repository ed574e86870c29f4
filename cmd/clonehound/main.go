package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/clonehoundhq/clonehound/internal/api"
	"github.com/clonehoundhq/clonehound/internal/cache"
	"github.com/clonehoundhq/clonehound/internal/config"
	"github.com/clonehoundhq/clonehound/internal/events"
	"github.com/clonehoundhq/clonehound/internal/metrics"
	"github.com/clonehoundhq/clonehound/internal/model"
	"github.com/clonehoundhq/clonehound/internal/pattern"
	"github.com/clonehoundhq/clonehound/internal/queue"
	"github.com/clonehoundhq/clonehound/internal/registry"
	"github.com/clonehoundhq/clonehound/internal/report"
	"github.com/clonehoundhq/clonehound/internal/scan"
	"github.com/clonehoundhq/clonehound/internal/scheduler"
	"github.com/clonehoundhq/clonehound/internal/selector"
	"github.com/clonehoundhq/clonehound/internal/similarity"
	"github.com/clonehoundhq/clonehound/internal/storage"
	"github.com/joho/godotenv"
)

func main() {
	// A .env in the working directory supplies API_TOKEN and friends during
	// development; absence is not an error.
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		runServe(os.Args[2:])
	case "scan":
		runScan(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`clonehound - code duplication detection daemon

Usage:
  clonehound <command> [options]

Commands:
  serve    Start the daemon (scheduler + workers + HTTP API)
  scan     Run one scan in the foreground and print the summary

Options:
  -config string   Path to config file (default "config.yaml")

Examples:
  clonehound serve -config config.yaml
  clonehound scan billing
  clonehound scan -reports ./services/billing`)
}

func runServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "path to config file")
	fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		log.Fatalf("failed to create data dir: %v", err)
	}

	reg := registry.New(cfg.RegistryPath, nil)
	if err := reg.Load(); err != nil {
		log.Fatalf("failed to load registry: %v", err)
	}

	store := storage.New(cfg.DataDir)

	bus := events.NewBus()
	defer bus.Close()

	c, err := openCache(cfg, reg)
	if err != nil {
		log.Fatalf("failed to open cache: %v", err)
	}

	reports, err := report.New(store, cfg.Report, nil)
	if err != nil {
		log.Fatalf("failed to configure reports: %v", err)
	}

	orc := scan.New(scan.Deps{
		Registry: reg,
		Cache:    c,
		Matcher:  pattern.New(cfg.Matcher.Binary, cfg.Matcher.RulesDir, cfg.Matcher.Timeout, cfg.Matcher.Excludes, nil),
		Engine:   similarity.New(similarity.ConfigFromEnv()),
		Bus:      bus,
	})

	sc := reg.ScanConfig()
	q := queue.New(scan.NewJobRunner(orc, reports), bus, store, queue.Options{
		Workers:     sc.MaxConcurrentScans,
		JobTimeout:  time.Duration(sc.ScanTimeoutSeconds) * time.Second,
		MaxAttempts: sc.RetryAttempts,
		RetryDelay:  time.Duration(sc.RetryDelayMs) * time.Millisecond,
	})
	q.Start()
	defer q.Stop()

	metrics.Register(q, bus)

	sched := scheduler.New(q, reg, selector.New(reg), cfg.RunOnStartup, nil)
	if err := sched.Start(); err != nil {
		log.Fatalf("failed to start scheduler: %v", err)
	}
	defer sched.Stop()

	watchCtx, stopWatch := context.WithCancel(context.Background())
	defer stopWatch()
	if cfg.WatchRegistry {
		if err := reg.Watch(watchCtx, func() {
			if err := sched.Reschedule(); err != nil {
				log.Printf("reschedule after registry reload: %v", err)
			}
		}); err != nil {
			log.Fatalf("failed to watch registry: %v", err)
		}
	}

	if cfg.NATS.URL != "" {
		bridge, err := events.NewBridge(bus, cfg.NATS.URL, nil)
		if err != nil {
			log.Fatalf("failed to connect event bridge: %v", err)
		}
		defer bridge.Close()
	}

	srv := api.New(cfg, reg, q, c, bus, nil)

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		// No WriteTimeout: /api/events holds its connection open.
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		log.Printf("clonehound listening on %s", cfg.ListenAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-done
	log.Println("shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = server.Shutdown(ctx)
}

func runScan(args []string) {
	fs := flag.NewFlagSet("scan", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "path to config file")
	jsonOut := fs.Bool("json", false, "print the full scan result as JSON")
	writeReports := fs.Bool("reports", false, "write the configured report artifacts")
	fs.Parse(args)

	arg := fs.Arg(0)
	if arg == "" {
		fmt.Fprintln(os.Stderr, "Usage: clonehound scan [options] <repository|group|path>")
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	reg := registry.New(cfg.RegistryPath, nil)
	if err := reg.Load(); err != nil {
		// Ad-hoc path scans work without a registry; named targets will
		// fail resolution below.
		log.Printf("registry unavailable: %v", err)
	}

	target, err := resolveScanTarget(reg, arg)
	if err != nil {
		log.Fatalf("%v", err)
	}

	bus := events.NewBus()
	defer bus.Close()

	c, err := openCache(cfg, reg)
	if err != nil {
		log.Fatalf("failed to open cache: %v", err)
	}

	orc := scan.New(scan.Deps{
		Registry: reg,
		Cache:    c,
		Matcher:  pattern.New(cfg.Matcher.Binary, cfg.Matcher.RulesDir, cfg.Matcher.Timeout, cfg.Matcher.Excludes, nil),
		Engine:   similarity.New(similarity.ConfigFromEnv()),
		Bus:      bus,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	progress := func(stage string, percent int, message string) {
		log.Printf("[%3d%%] %s: %s", percent, stage, message)
	}

	var result *model.ScanResult
	if target.kind == model.ScanKindInter {
		result, err = orc.ScanGroup(ctx, target.group, progress)
	} else {
		result, err = orc.ScanRepository(ctx, target.repo, progress)
	}
	if err != nil {
		log.Fatalf("scan failed: %v", err)
	}

	if *writeReports {
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			log.Fatalf("failed to create data dir: %v", err)
		}
		reports, err := report.New(storage.New(cfg.DataDir), cfg.Report, nil)
		if err != nil {
			log.Fatalf("failed to configure reports: %v", err)
		}
		paths, err := reports.Render(ctx, result)
		if err != nil {
			log.Fatalf("failed to write reports: %v", err)
		}
		for _, p := range paths {
			fmt.Fprintln(os.Stderr, "wrote", p)
		}
	}

	if *jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			log.Fatalf("encode result: %v", err)
		}
		return
	}
	fmt.Println(result.ExecutiveSummary)
}

// scanTarget is the resolved form of the scan subcommand's argument.
type scanTarget struct {
	kind  model.ScanKind
	repo  registry.Repository
	group registry.RepositoryGroup
}

// resolveScanTarget maps the CLI argument to work: a registered repository,
// a registered group, or a directory scanned ad hoc under its base name.
func resolveScanTarget(reg *registry.Registry, arg string) (scanTarget, error) {
	if repo, ok := reg.GetByName(arg); ok {
		return scanTarget{kind: model.ScanKindIntra, repo: repo}, nil
	}
	if group, ok := reg.GetGroup(arg); ok {
		return scanTarget{kind: model.ScanKindInter, group: group}, nil
	}

	info, err := os.Stat(arg)
	if err != nil || !info.IsDir() {
		return scanTarget{}, fmt.Errorf("%q is not a registered repository, a group, or a directory", arg)
	}
	abs, err := filepath.Abs(arg)
	if err != nil {
		return scanTarget{}, err
	}
	return scanTarget{
		kind: model.ScanKindIntra,
		repo: registry.Repository{Name: filepath.Base(abs), Path: abs},
	}, nil
}

// openCache picks the backing store: Redis when configured, process memory
// otherwise. TTL and the enabled flag come from the registry document so
// operators tune caching where they tune scanning.
func openCache(cfg *config.Config, reg *registry.Registry) (*cache.Cache, error) {
	cc := reg.CacheConfig()
	ttl := time.Duration(cc.TTLSeconds) * time.Second
	if cfg.Redis.Addr == "" {
		return cache.New(cache.NewMemoryStore(), ttl, cc.Enabled), nil
	}
	store, err := cache.NewRedisStore(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		return nil, fmt.Errorf("redis at %s: %w", cfg.Redis.Addr, err)
	}
	return cache.New(store, ttl, cc.Enabled), nil
}
