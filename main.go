package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"supervibing/internal/automation"
	"supervibing/internal/config"
	"supervibing/internal/panes"
	"supervibing/internal/sessionlog"
	"supervibing/internal/singleinstance"
	"supervibing/internal/workspace"
	"supervibing/internal/wsserver"
)

func main() {
	setupLogging()

	lock, err := singleinstance.TryLock(singleinstance.DefaultMutexName())
	if err != nil {
		if errors.Is(err, singleinstance.ErrAlreadyRunning) {
			slog.Error("[main] another instance is already running")
		} else {
			slog.Error("[main] failed to acquire single-instance lock", "error", err)
		}
		os.Exit(1)
	}
	defer lock.Release()

	cfgPath := config.DefaultPath()
	cfg, err := config.EnsureFile(cfgPath)
	if err != nil {
		slog.Warn("[main] failed to load config, continuing with defaults", "path", cfgPath, "error", err)
	}

	hub := wsserver.NewHub(wsserver.HubOptions{})
	applyLogLevel(cfg.LogLevel, hub)
	workspaces := workspace.New()
	hub.SetSyncWorkspacesHandler(func(raw json.RawMessage) {
		var snapshots []workspace.Snapshot
		if err := json.Unmarshal(raw, &snapshots); err != nil {
			slog.Warn("[main] failed to parse sync-workspaces payload", "error", err)
			return
		}
		workspaces.Sync(snapshots)
	})

	paneRegistry := panes.New(func(ev panes.OutputEvent) bool {
		hub.BroadcastPaneEvent(wsserver.PaneEvent{
			PaneID:  ev.PaneID,
			Kind:    ev.Kind,
			Payload: ev.Payload,
		})
		return hub.HasActiveConnection()
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := hub.Start(ctx); err != nil {
		slog.Error("[main] failed to start websocket hub", "error", err)
		os.Exit(1)
	}
	slog.Info("[main] websocket hub listening", "url", hub.URL())

	bridge, err := automation.NewBridge(automation.Config{
		Bind:            bindOrEnv(cfg.AutomationBind),
		Token:           tokenOrEnv(cfg.AutomationToken),
		QueueDepthCap:   cfg.QueueDepthCap,
		JobRetentionCap: cfg.JobRetentionCap,
	}, hub, paneRegistry, workspaces)
	if err != nil {
		slog.Error("[main] failed to bind automation bridge", "error", err)
		os.Exit(1)
	}
	bridge.Start(ctx)
	slog.Info("[main] automation bridge listening", "bind", bridge.Bind())

	<-ctx.Done()
	slog.Info("[main] shutting down")

	bridge.Stop()
	if err := hub.Stop(); err != nil {
		slog.Warn("[main] websocket hub shutdown error", "error", err)
	}
}

// bindOrEnv lets SUPERVIBING_AUTOMATION_BIND override the persisted config
// value.
func bindOrEnv(configured string) string {
	if v := strings.TrimSpace(os.Getenv("SUPERVIBING_AUTOMATION_BIND")); v != "" {
		return v
	}
	return configured
}

func tokenOrEnv(configured string) string {
	if v, ok := os.LookupEnv("SUPERVIBING_AUTOMATION_TOKEN"); ok {
		return v
	}
	return configured
}

func setupLogging() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})))
}

// applyLogLevel rebuilds the default logger at the configured level, and tees
// every warning-or-above record to the connected UI over hub as a log-event
// frame so operational failures surface there without a dedicated viewer.
func applyLogLevel(level string, hub *wsserver.Hub) {
	if v := strings.TrimSpace(os.Getenv("SUPERVIBING_LOG_LEVEL")); v != "" {
		level = v
	}
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	base := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	tee := sessionlog.NewTeeHandler(base, slog.LevelWarn, func(ts time.Time, recordLevel slog.Level, msg string, group string) {
		hub.BroadcastLogEvent(wsserver.LogEvent{
			TimeMs:    ts.UnixMilli(),
			Level:     recordLevel.String(),
			Message:   msg,
			Component: group,
		})
	})
	slog.SetDefault(slog.New(tee))
}
