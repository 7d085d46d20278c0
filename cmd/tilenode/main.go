package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/udisondev/tilegrid/internal/config"
	"github.com/udisondev/tilegrid/internal/db"
	"github.com/udisondev/tilegrid/internal/transport"
)

const ConfigPath = "config/tilenode.yaml"

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("shutting down", "signal", sig)
		cancel()
	}()

	if err := run(ctx); err != nil {
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfgPath := ConfigPath
	if p := os.Getenv("TILEGRID_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.LoadNode(cfgPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Ranks are usually assigned by the launcher, not the config file.
	if r := os.Getenv("TILEGRID_RANK"); r != "" {
		rank, err := strconv.Atoi(r)
		if err != nil {
			return fmt.Errorf("parsing TILEGRID_RANK %q: %w", r, err)
		}
		cfg.Rank = rank
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	})))

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	slog.Info("tilegrid node starting",
		"rank", cfg.Rank,
		"world_size", cfg.WorldSize,
		"grid", fmt.Sprintf("%dx%d", cfg.Grid.Nx, cfg.Grid.Ny),
		"policy", cfg.Grid.Policy,
		"log_level", cfg.LogLevel,
	)

	var store ownerStore
	if cfg.Database.Enabled && cfg.Rank == 0 {
		database, err := db.New(ctx, cfg.Database.DSN())
		if err != nil {
			return fmt.Errorf("connecting to database: %w", err)
		}
		defer database.Close()
		slog.Info("database connected")

		if err := db.RunMigrations(ctx, cfg.Database.DSN()); err != nil {
			return fmt.Errorf("running migrations: %w", err)
		}
		slog.Info("database migrations applied")

		store = db.NewOwnerMapRepository(database.Pool())
	}

	opts := transport.Options{
		CipherKey:    []byte(cfg.Transport.CipherKey),
		DialTimeout:  cfg.Transport.DialTimeout,
		DialRetry:    cfg.Transport.DialRetry,
		MaxFrameSize: cfg.Transport.MaxFrameSize,
	}
	network, err := transport.NewNetwork(cfg.Rank, cfg.Peers, opts)
	if err != nil {
		return fmt.Errorf("creating transport: %w", err)
	}
	defer network.Close()

	if err := network.Start(ctx); err != nil {
		return fmt.Errorf("starting transport: %w", err)
	}

	summary, err := runRank(ctx, cfg, network, store)
	if err != nil {
		return err
	}

	slog.Info("tilegrid node finished",
		"rank", cfg.Rank,
		"map_version", summary.MapVersion,
		"local_tiles", summary.Local,
		"boundary_tiles", summary.Boundary,
		"virtual_tiles", summary.Virtual,
	)
	return nil
}

// parseLogLevel converts string log level to slog.Level.
// Defaults to Info if invalid or empty.
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
