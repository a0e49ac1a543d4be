package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/asheshgoplani/linkdeck/internal/account"
	"github.com/asheshgoplani/linkdeck/internal/config"
	"github.com/asheshgoplani/linkdeck/internal/events"
	"github.com/asheshgoplani/linkdeck/internal/isolation"
	"github.com/asheshgoplani/linkdeck/internal/logging"
	"github.com/asheshgoplani/linkdeck/internal/session"
	"github.com/asheshgoplani/linkdeck/internal/statedb"
	"github.com/asheshgoplani/linkdeck/internal/web"
)

const (
	primaryElectionTimeout = 30 * time.Second
	shutdownTimeout        = 15 * time.Second
)

type serveOptions struct {
	configPath string
	listen     string
	token      string
	push       bool
	foreground bool
}

func parseServeFlags(args []string) (serveOptions, error) {
	var opts serveOptions
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.StringVar(&opts.configPath, "config", "", "Config file (default: $LINKDECK_HOME/config.toml)")
	fs.StringVar(&opts.listen, "listen", "", "Listen address, overrides [web] listen_addr")
	fs.StringVar(&opts.token, "token", "", "Bearer token for API access, overrides [web] token")
	fs.BoolVar(&opts.push, "push", false, "Enable web push notifications, overrides [push] enabled")
	fs.BoolVar(&opts.foreground, "foreground", false, "Mirror logs to stderr")
	fs.Usage = func() {
		fmt.Println("Usage: linkdeck serve [options]")
		fmt.Println()
		fmt.Println("Run the account daemon and its HTTP API.")
		fmt.Println()
		fmt.Println("Options:")
		fs.PrintDefaults()
		fmt.Println()
		fmt.Println("Examples:")
		fmt.Println("  linkdeck serve")
		fmt.Println("  linkdeck serve --listen 127.0.0.1:9000 --token s3cret")
		fmt.Println("  linkdeck serve --push --foreground")
	}
	if err := fs.Parse(normalizeArgs(fs, args)); err != nil {
		return opts, err
	}
	if fs.NArg() > 0 {
		return opts, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	return opts, nil
}

func handleServe(args []string) int {
	opts, err := parseServeFlags(args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 2
	}
	if err := runServe(opts); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func runServe(opts serveOptions) error {
	dataDir, err := config.Dir()
	if err != nil {
		return err
	}
	cfgPath := opts.configPath
	if cfgPath == "" {
		cfgPath = filepath.Join(dataDir, config.FileName)
	}
	cfg, cfgErr := config.Load(cfgPath)
	if opts.listen != "" {
		cfg.Web.ListenAddr = opts.listen
	}
	if opts.token != "" {
		cfg.Web.Token = opts.token
	}
	if opts.push {
		cfg.Push.Enabled = true
	}

	logCfg := cfg.LoggingConfig(dataDir)
	if opts.foreground {
		logCfg.Stderr = os.Stderr
	}
	logging.Init(logCfg)
	defer logging.Shutdown()
	log := logging.ForComponent(logging.CompCLI)
	if cfgErr != nil {
		log.Warn("config_load_failed", slog.String("path", cfgPath), slog.String("error", cfgErr.Error()))
	}

	db, _, err := openState()
	if err != nil {
		return fmt.Errorf("open state: %w", err)
	}
	defer db.Close()

	if err := db.CleanDeadInstances(primaryElectionTimeout); err != nil {
		log.Warn("stale_instances_cleanup_failed", slog.String("error", err.Error()))
	}
	_ = db.RegisterInstance(false)
	isPrimary, err := db.ElectPrimary(primaryElectionTimeout)
	if err != nil {
		_ = db.UnregisterInstance()
		return fmt.Errorf("primary election: %w", err)
	}
	if !isPrimary {
		alive, _ := db.AliveInstanceCount()
		_ = db.UnregisterInstance()
		return fmt.Errorf("another linkdeck daemon is already running for %s (%d live instances)", dataDir, alive)
	}
	if n, err := db.AccountCount(context.Background()); err == nil {
		log.Info("state_opened", slog.String("data_dir", dataDir), slog.Int("accounts", n))
	}
	defer func() {
		_ = db.ResignPrimary()
		_ = db.UnregisterInstance()
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hub := web.NewHub()
	sinks := events.MultiSink{hub}
	var push *web.PushNotifier
	if cfg.Push.Enabled {
		keys, generated, err := web.EnsureVAPIDKeys(db, cfg.Push.Subject)
		if err != nil {
			return fmt.Errorf("prepare web push keys: %w", err)
		}
		log.Info("push_keys_ready", slog.Bool("generated", generated))
		push, err = web.NewPushNotifier(db, keys)
		if err != nil {
			return err
		}
		push.Start(ctx)
		sinks = append(sinks, push)
	}

	manager := account.NewManager(cfg.AccountConfig(), account.Deps{
		Factory:  session.NewRodFactory(cfg.RuntimeConfig()),
		Resolver: isolation.NewResolver(cfg.ProfilesDir(dataDir)),
		Store:    statedb.NewAccountStore(db),
		Sink:     sinks,
	})
	if n, err := manager.Restore(ctx); err != nil {
		log.Error("restore_failed", slog.String("error", err.Error()))
	} else {
		log.Info("daemon_restored", slog.Int("accounts", n))
	}

	manager.StartMaintenance(ctx, cfg.MaintenanceInterval(), cfg.ErrorRetention(), func(r account.MaintenanceResult) {
		log.Debug("maintenance_complete",
			slog.Int("pruned_errors", r.PrunedErrors),
			slog.Int("touched_accounts", r.TouchedAccounts),
			slog.Duration("duration", r.Duration))
	})

	if _, err := config.Watch(ctx, cfgPath, func(c *config.Config) {
		manager.ApplySettings(c.AccountConfig())
		logging.SetLevel(c.Logs.Level)
	}); err != nil {
		log.Warn("config_watch_unavailable", slog.String("error", err.Error()))
	}

	go dumpOnSignal(ctx, dataDir, log)

	srv := web.NewServer(web.Config{
		ListenAddr: cfg.Web.ListenAddr,
		Token:      cfg.Web.Token,
		Accounts:   manager,
		Hub:        hub,
		Push:       push,
	})
	log.Info("daemon_started",
		slog.Int("pid", os.Getpid()),
		slog.String("listen", cfg.Web.ListenAddr),
		slog.Bool("push", push != nil))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.Start)
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn("web_shutdown_failed", slog.String("error", err.Error()))
		}
		return manager.Shutdown(shutdownCtx)
	})
	err = g.Wait()
	stop()
	if push != nil {
		<-push.Done()
	}
	log.Info("daemon_stopped")
	return err
}

// dumpOnSignal writes the log ring buffer to a file on every SIGUSR1.
func dumpOnSignal(ctx context.Context, dir string, log *slog.Logger) {
	usr1 := make(chan os.Signal, 1)
	signal.Notify(usr1, syscall.SIGUSR1)
	defer signal.Stop(usr1)
	for {
		select {
		case <-ctx.Done():
			return
		case <-usr1:
			path := filepath.Join(dir, fmt.Sprintf("crash-dump-%d.jsonl", time.Now().Unix()))
			if err := logging.DumpRingBuffer(path); err != nil {
				log.Error("crash_dump_failed", slog.String("error", err.Error()))
			} else {
				log.Info("crash_dump_written", slog.String("path", path))
			}
		}
	}
}
