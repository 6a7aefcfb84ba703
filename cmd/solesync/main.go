package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/strideworks/solesync/internal/api"
	"github.com/strideworks/solesync/internal/cli"
	"github.com/strideworks/solesync/internal/config"
	"github.com/strideworks/solesync/internal/manager"
)

var (
	version   = "0.1.0"
	buildTime = "dev"
)

// App holds the daemon's runtime components
type App struct {
	Config    *config.Config
	Logger    *slog.Logger
	Manager   *manager.Manager
	APIServer *api.Server
	runCtx    context.Context
	runCancel context.CancelFunc
}

func main() {
	os.Exit(run())
}

func run() int {
	args := os.Args[1:]

	// The first non-flag argument selects a subcommand; everything after
	// it belongs to that subcommand.
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		subCmd, rest := args[0], args[1:]
		switch subCmd {
		case "init":
			return cli.InitCommand(rest)
		case "status":
			return cli.StatusCommand(rest)
		case "replay":
			return cli.ReplayCommand(rest)
		case "version":
			printVersion()
			return 0
		case "help":
			if len(rest) > 0 {
				cli.PrintCommandHelp("solesync", rest[0])
			} else {
				cli.PrintHelp("solesync")
			}
			return 0
		case "start":
			args = rest
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", subCmd)
			fmt.Fprintf(os.Stderr, "Available commands: %s\n", strings.Join(cli.CommandNames(), ", "))
			return 1
		}
	}

	// No subcommand (or explicit start) - run the daemon
	fs := flag.NewFlagSet("solesync", flag.ExitOnError)
	configPath := fs.String("config", "solesync.json", "Path to config file")
	showVersion := fs.Bool("version", false, "Show version")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	if *showVersion {
		printVersion()
		return 0
	}

	app, err := setup(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Setup failed: %v\n", err)
		return 1
	}

	if err := startServices(app); err != nil {
		app.Logger.Error("failed to start services", "error", err)
		return 1
	}

	printBanner(app)

	waitForShutdown(app)
	return 0
}

func printVersion() {
	fmt.Printf("SoleSync v%s (built %s)\n", version, buildTime)
	fmt.Println("Offline-first sync daemon for the SoleTrack running log")
}

// setup initializes all daemon components
func setup(configPath string) (*App, error) {
	app := &App{}

	// Setup logger (initially at Info level)
	app.Logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	app.Logger.Info("starting solesync",
		"version", version,
		"config", configPath,
	)

	cfg, err := loadConfig(configPath, app.Logger)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	app.Config = cfg

	// Recreate logger with config's log level
	app.Logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Server.LogLevel),
	}))

	mgr, err := manager.Build(cfg, app.Logger)
	if err != nil {
		return nil, fmt.Errorf("build manager: %w", err)
	}
	app.Manager = mgr

	app.APIServer = api.NewServer(cfg.Server.Port, mgr, app.Logger)

	return app, nil
}

// loadConfig loads configuration from file or creates default
func loadConfig(path string, logger *slog.Logger) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logger.Info("no config found, creating default")
			cfg = config.DefaultConfig()
			if err := cfg.Save(path); err != nil {
				return nil, fmt.Errorf("save default config: %w", err)
			}
			logger.Info("default config created", "path", path)
			return cfg, nil
		}
		return nil, err
	}
	return cfg, nil
}

// parseLogLevel converts string log level to slog.Level
func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// startServices starts the manager and the API server
func startServices(app *App) error {
	app.runCtx, app.runCancel = context.WithCancel(context.Background())

	if err := app.Manager.Start(app.runCtx); err != nil {
		return fmt.Errorf("start manager: %w", err)
	}

	// Start API server in background
	go func() {
		if err := app.APIServer.Start(app.runCtx); err != nil {
			app.Logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// printBanner displays the startup banner
func printBanner(app *App) {
	st := app.Manager.QueueStatus()

	fmt.Println()
	fmt.Printf("  👟 SoleSync v%s\n", version)
	fmt.Println("  Offline-first sync for your running log.")
	fmt.Println()
	fmt.Printf("  🌐 API: http://localhost:%d\n", app.Config.Server.Port)
	fmt.Printf("  🔄 Backend: %s\n", app.Config.Backend.URL)
	fmt.Printf("  📦 Queue: %d operation(s) restored\n", st.Total)
	fmt.Println()
}

// waitForShutdown waits for termination signal and performs graceful shutdown
func waitForShutdown(app *App) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, getShutdownSignals()...)

	for {
		sig := <-sigCh

		// Handle platform-specific signals (SIGHUP on Unix)
		if handlePlatformSignal(sig, app.Logger) {
			continue
		}

		// SIGINT or SIGTERM - proceed to shutdown
		app.Logger.Info("shutdown signal received", "signal", sig)
		break
	}

	if app.runCancel != nil {
		app.runCancel()
	}

	app.Manager.Cleanup()
	app.Logger.Info("solesync stopped")
}
