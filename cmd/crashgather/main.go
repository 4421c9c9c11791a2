// main.go - Crash telemetry gathering tool
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"crashgather/internal/config"
	"crashgather/internal/database"
	"crashgather/internal/logging"
	"crashgather/internal/socorro"

	"log/slog"
)

// App bundles the shared dependencies every command needs.
type App struct {
	Cfg       *config.Config
	Logger    *slog.Logger
	DBManager *database.DBManager
	Client    *socorro.Client
	DataDir   string
}

// Command defines the interface for all command implementations
type Command interface {
	// Name returns the command name
	Name() string
	// Description returns the command description
	Description() string
	// Execute runs the command with the given app and args
	Execute(ctx context.Context, app *App, args []string) error
}

// The set of available commands
var commands = []Command{
	&ByTypeCommand{},
	&CategoriesCommand{},
	&DailyCommand{},
	&AllCommand{},
	&ServeCommand{},
	&StatusCommand{},
	&HelpCommand{},
}

func main() {
	flag.Parse()

	// Set up signal handling
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sig := <-sigChan
		log.Printf("Received signal: %v, finishing up...", sig)
		cancel()
	}()

	cmdName, args := parseArgs()

	cmd := findCommand(cmdName)
	if cmd == nil {
		showUsageAndExit()
	}

	app, err := newApp()
	if err != nil {
		log.Fatalf("Failed to initialize: %v", err)
	}

	if err := cmd.Execute(ctx, app, args); err != nil {
		app.Logger.Error("Command failed",
			slog.String("command", cmd.Name()), slog.Any("error", err))
		os.Exit(1)
	}
}

// newApp wires configuration, logging, storage, and the API client.
// Failing to resolve a data directory is the one fatal configuration
// fault; everything later degrades per day or per pair.
func newApp() (*App, error) {
	cfg := config.GetConfig()
	logger := logging.NewLogger(cfg)

	dataDir, err := cfg.ResolveDataDir()
	if err != nil {
		return nil, err
	}

	if err := database.EnsureStorageDir(cfg); err != nil {
		return nil, fmt.Errorf("storage dir: %w", err)
	}
	dbManager := database.NewDBManager(cfg, logger)
	if err := dbManager.Init(); err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := dbManager.MigrateDatabase(); err != nil {
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	return &App{
		Cfg:       cfg,
		Logger:    logger,
		DBManager: dbManager,
		Client:    socorro.NewClient(cfg, logger),
		DataDir:   dataDir,
	}, nil
}

// parseArgs extracts the command name and its arguments
func parseArgs() (string, []string) {
	args := flag.Args()
	if len(args) == 0 {
		return "", nil
	}
	return args[0], args[1:]
}

// findCommand looks up a command by name
func findCommand(name string) Command {
	for _, cmd := range commands {
		if cmd.Name() == name {
			return cmd
		}
	}
	return nil
}

func showUsageAndExit() {
	fmt.Println("Usage: crashgather <command> [arguments]")
	fmt.Println()
	fmt.Println("Commands:")
	for _, cmd := range commands {
		fmt.Printf("  %-12s %s\n", cmd.Name(), cmd.Description())
	}
	fmt.Println()
	fmt.Println("Gather commands accept forced days (YYYY-MM-DD) as arguments to")
	fmt.Println("recompute days that are already recorded.")
	os.Exit(1)
}
