package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mandymgr/claude-code-coordination-sub007/pkg/config"
	"github.com/mandymgr/claude-code-coordination-sub007/pkg/health"
	"github.com/mandymgr/claude-code-coordination-sub007/pkg/runtime"
	"github.com/mandymgr/claude-code-coordination-sub007/pkg/telemetry"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "", "path to yaml configuration file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("selfheald", version)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fatal(err)
	}

	logger := telemetry.ConfigureSlog(os.Stderr, cfg.Log.Level, cfg.Log.Format)

	shutdown, err := telemetry.InitWithConfig("selfheald", version, telemetry.Config{
		Exporter:     cfg.Telemetry.Exporter,
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure: cfg.Telemetry.OTLPInsecure,
	})
	if err != nil {
		fatal(err)
	}
	defer func() {
		if err := shutdown.WithTimeout(5 * time.Second); err != nil {
			logger.Warn("telemetry shutdown", "error", err)
		}
	}()

	metrics, err := telemetry.NewEngineMetrics()
	if err != nil {
		fatal(err)
	}

	rt, err := runtime.New(cfg, health.NewLocalSource(), shellExecutor{logger: logger},
		runtime.WithLogger(logger),
		runtime.WithMetrics(metrics),
	)
	if err != nil {
		fatal(err)
	}

	if *configPath != "" {
		watcher, err := config.NewWatcher(*configPath, 10*time.Second, logger)
		if err != nil {
			fatal(err)
		}
		watcher.OnChange(rt.ApplyConfig)
		watcher.Start(ctx)
		defer watcher.Stop()
	}

	rt.Start()
	logger.Info("selfheald started",
		slog.String("version", version),
		slog.Duration("monitor_interval", cfg.Monitor.Interval),
	)

	<-ctx.Done()
	logger.Info("shutting down")
	rt.Stop()
}

// shellExecutor runs catalog operations as shell commands. The operation
// resolves through the "command" param; operations without one are logged
// and treated as successful no-ops so catalogs can be dry-run.
type shellExecutor struct {
	logger *slog.Logger
}

func (s shellExecutor) Execute(ctx context.Context, operation string, params map[string]any) (any, error) {
	command, _ := params["command"].(string)
	if strings.TrimSpace(command) == "" {
		s.logger.Info("operation has no command, skipping",
			slog.String("operation", operation),
		)
		return nil, nil
	}

	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", command)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return string(output), fmt.Errorf("operation %s: %w", operation, err)
	}
	return string(output), nil
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "selfheald:", err)
	os.Exit(1)
}
