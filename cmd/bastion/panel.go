package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/bastionhq/bastion/pkg/api"
	"github.com/bastionhq/bastion/pkg/backend"
	"github.com/bastionhq/bastion/pkg/backup"
	"github.com/bastionhq/bastion/pkg/config"
	"github.com/bastionhq/bastion/pkg/console"
	"github.com/bastionhq/bastion/pkg/events"
	"github.com/bastionhq/bastion/pkg/log"
	"github.com/bastionhq/bastion/pkg/metrics"
	"github.com/bastionhq/bastion/pkg/placement"
	"github.com/bastionhq/bastion/pkg/registry"
	"github.com/bastionhq/bastion/pkg/runtime"
	"github.com/bastionhq/bastion/pkg/scheduler"
	"github.com/bastionhq/bastion/pkg/storage"
	"github.com/bastionhq/bastion/pkg/tokens"
)

var panelConfigPath string

var panelCmd = &cobra.Command{
	Use:   "panel",
	Short: "Run the control plane",
	Long: `Starts the Bastion control plane: the HTTP API, the daemon
socket endpoint, the console relay, the placement engine, and the
schedule runner.`,
	RunE: runPanel,
}

func init() {
	panelCmd.Flags().StringVarP(&panelConfigPath, "config", "c", "", "Path to config file (YAML)")
}

func runPanel(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(panelConfigPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log.Init(log.Config{
		Level:      log.Level(cfg.Log.Level),
		JSONOutput: cfg.Log.JSON,
	})
	logger := log.WithComponent("panel")
	metrics.SetVersion(Version)
	logger.Info().
		Str("version", Version).
		Str("listen", cfg.Listen).
		Str("backend", cfg.Backend.Mode).
		Msg("Starting Bastion panel")

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}

	store, err := storage.NewBoltStore(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer store.Close()
	metrics.RegisterComponent("store", true, "store open")

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	reg := registry.NewRegistry(store, broker, registry.Config{
		AuthTimeout:  cfg.Registry.AuthTimeout.Std(),
		PingInterval: cfg.Registry.PingInterval.Std(),
	})
	reg.Start()
	defer reg.Stop()

	var exec backend.Backend
	switch cfg.Backend.Mode {
	case config.ModeLocal:
		rt, err := runtime.NewContainerdRuntime(cfg.Backend.ContainerdSocket)
		if err != nil {
			return fmt.Errorf("failed to connect to containerd: %w", err)
		}
		defer rt.Close()
		exec = backend.NewLocal(rt, cfg.Backend.DataRoot, cfg.Backend.BackupRoot)
	default:
		remote := backend.NewRemote(store, reg)
		reg.AddServerSink(remote)
		exec = remote
	}

	relay := console.NewRelay(store, exec, console.OwnerAuthorizer{}, broker, console.Config{
		PollInterval: cfg.Console.PollInterval.Std(),
	})
	relay.Start()
	defer relay.Stop()

	backups := backup.NewService(store, exec, broker)

	sched := scheduler.NewScheduler(store, exec, backups, broker, scheduler.Config{
		TickInterval: cfg.Scheduler.TickInterval.Std(),
	})
	if err := sched.Start(); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	defer sched.Stop()

	tokenMgr := tokens.NewManager()
	janitorStop := make(chan struct{})
	tokenMgr.StartJanitor(time.Minute, janitorStop)
	defer close(janitorStop)

	server := api.NewServer(api.Deps{
		Store:     store,
		Registry:  reg,
		Relay:     relay,
		Exec:      exec,
		Placer:    placement.NewEngine(store),
		Scheduler: sched,
		Backups:   backups,
		Tokens:    tokenMgr,
		Broker:    broker,
		TokenTTL:  cfg.Tokens.TTL.Std(),
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(cfg.Listen)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("Shutting down")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("api server failed: %w", err)
		}
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Warn().Err(err).Msg("API shutdown did not complete cleanly")
	}

	logger.Info().Msg("Panel stopped")
	return nil
}
