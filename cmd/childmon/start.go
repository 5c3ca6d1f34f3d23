package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/child_mon/internal/api"
	"github.com/eliteGoblin/focusd/child_mon/internal/config"
	"github.com/eliteGoblin/focusd/child_mon/internal/daemon"
	"github.com/eliteGoblin/focusd/child_mon/internal/infra"
	redisstore "github.com/eliteGoblin/focusd/child_mon/internal/store/redis"
	"github.com/eliteGoblin/focusd/child_mon/internal/systemd"
	"github.com/eliteGoblin/focusd/child_mon/internal/usage"
	"github.com/eliteGoblin/focusd/child_mon/internal/usecase"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Run the enforcement agent in the foreground",
	Long: `Runs the agent until SIGINT or SIGTERM. The agent follows the linked
child's app controls and remote blocks, samples app usage, and serves the
local status API. Meant to run as a systemd Type=notify service.`,
	RunE: runStart,
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger := createLogger(cfg.Logging)
	defer func() { _ = logger.Sync() }()

	execMode := infra.DetectExecMode()
	logger.Info("execution mode",
		zap.String("mode", execMode.Mode.String()),
		zap.String("data_dir", execMode.ResolveDataDir(cfg.Agent.DataDir)))
	if cfg.Blocker.SuspendMode && !execMode.IsRoot {
		logger.Warn("suspend mode needs root, blocked apps will be killed instead")
	}

	state, err := openState(cfg)
	if err != nil {
		return err
	}
	defer state.Close()

	deviceID, err := state.DeviceID()
	if err != nil {
		return fmt.Errorf("failed to read device id: %w", err)
	}

	store, err := redisstore.Open(cfg.Redis, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	pm := infra.NewProcessManager()
	blocker := infra.NewProcessBlocker(pm, blockerConfig(cfg), systemd.Supervised, logger)

	tracker, err := usage.NewTracker(pm, store.Usage(deviceID), usage.Config{
		SampleInterval:  config.Duration(cfg.Usage.SampleInterval),
		TrackedPackages: cfg.Usage.TrackedPackages,
		Timezone:        cfg.Usage.Timezone,
	}, logger)
	if err != nil {
		return err
	}

	session := usecase.NewSession(
		store.Controls(),
		tracker,
		store.RemoteStatus(),
		blocker,
		usecase.SessionConfig{
			ConfirmTimeout: config.Duration(cfg.Agent.ConfirmTimeout),
			LedgerSize:     cfg.Agent.LedgerSize,
		},
		logger,
	)
	permissions := usecase.NewPermissionChecker(blocker, logger)

	var server *api.Server
	if cfg.API.Enabled {
		server = api.NewServer(cfg.API.BindAddress, api.Sources{
			Session:     session,
			Permissions: permissions,
			Usage:       tracker,
			Suspended:   blocker,
			DeviceID:    deviceID,
			Version:     Version,
		}, logger)

		ln, err := systemd.APIListener()
		if err != nil {
			logger.Warn("socket activation unavailable", zap.Error(err))
		} else if ln != nil {
			server.SetListener(ln)
		}
		if err := server.Start(); err != nil {
			return err
		}
	}

	agentConfig := daemon.AgentConfig{
		HeartbeatInterval:       config.Duration(cfg.Agent.HeartbeatInterval),
		PermissionCheckInterval: config.Duration(cfg.Agent.PermissionCheckInterval),
		SweepInterval:           config.Duration(cfg.Blocker.SweepInterval),
		Version:                 Version,
	}
	if server != nil {
		agentConfig.APIAddress = server.Addr()
	}
	// The watchdog must be pinged at least twice per timeout.
	if wd := systemd.WatchdogInterval(); wd > 0 && agentConfig.HeartbeatInterval > wd/2 {
		agentConfig.HeartbeatInterval = wd / 2
	}

	agent := daemon.NewAgent(
		agentConfig,
		session,
		tracker,
		blocker,
		permissions,
		store.Devices(),
		state,
		daemon.Notifier{
			Ready:    systemd.NotifyReady,
			Watchdog: systemd.NotifyWatchdog,
			Stopping: systemd.NotifyStopping,
		},
		logger,
	)

	// Set up graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("received shutdown signal")
		cancel()
	}()

	runErr := agent.Run(ctx)
	session.Wait()

	if server != nil {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer stopCancel()
		if err := server.Stop(stopCtx); err != nil {
			logger.Warn("api server shutdown failed", zap.Error(err))
		}
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		logger.Error("agent stopped", zap.Error(runErr))
		return runErr
	}
	return nil
}
