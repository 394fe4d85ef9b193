package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/Netflix/go-env"
	"github.com/blugelabs/bluge"
	"github.com/dgraph-io/badger/v4"
	"github.com/joho/godotenv"

	"modmail/domain"
	"modmail/gateway"
	"modmail/internal"
	"modmail/observability"
	"modmail/repositories"
	"modmail/runtime"
	"modmail/runtime/workers"
	"modmail/services"
)

// Exit codes to provide meaningful status to the operating system or service manager (e.g., systemd).
const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

func main() {
	// The main function acts as a thin wrapper.
	// Its only responsibility is to call run() and handle the OS exit code.
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Modmail terminated with error: %v\n", err)
	}
	os.Exit(code)
}

// run initializes all components, manages the engine lifecycle, and centralizes error reporting.
// This pattern is preferred over calling os.Exit or panic directly because:
// 1. It ensures all 'defer' statements (like database cleanup) are executed before the program exits.
// 2. It improves testability by decoupling the initialization logic from the main entry point.
func run() (int, error) {
	// 1. Configuration & Logger
	_ = godotenv.Load()

	var config internal.Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return exitConfig, fmt.Errorf("config error: %w", err)
	}
	if err := config.Validate(); err != nil {
		return exitConfig, err
	}

	logger := internal.LoggerFromString(config.LogLevel)

	ctx := context.Background()

	// 2. Database (BadgerDB)
	db, err := badger.Open(buildBadgerOpts(config, logger, ctx))
	if err != nil {
		return exitRuntime, fmt.Errorf("database opening failed: %w", err)
	}
	defer func() {
		// Defer ensures the database lock is released and buffers are flushed before the function returns.
		logger.Info("Closing BadgerDB...")
		_ = db.Close()
	}()

	blugeWriter, err := bluge.OpenWriter(bluge.DefaultConfig(config.BlugeFilepath))
	if err != nil {
		return exitRuntime, fmt.Errorf("failed to open bluge writer: %w", err)
	}
	defer func() {
		logger.Info("Closing Bluge...")
		_ = blugeWriter.Close()
	}()

	// 3. Repositories & Metrics
	threadRepository := repositories.NewThreadRepository(db, logger)
	logRepository, err := repositories.NewLogRepository(db, blugeWriter, logger, config.LimitLogEntries)
	if err != nil {
		return exitRuntime, fmt.Errorf("log repository init failed: %w", err)
	}
	defer logRepository.Release()
	guildConfigRepository := repositories.NewGuildConfigRepository(db, logger)
	metrics := observability.NewMetrics()

	// 4. Gateway & Engine
	// The in-memory gateway stands in for the chat transport; a platform
	// adapter implementing contract.Gateway plugs in here unchanged.
	chatGateway := gateway.NewInMemory()
	authorizer := gateway.AllowAll{}

	guild := domain.GuildID(config.GuildID)
	registry := runtime.NewThreadRegistry(threadRepository, chatGateway, logger)
	deletions := make(chan domain.ChannelDeletion, config.JanitorBufferSize)
	relay := runtime.NewRelayEngine(
		logger, chatGateway, authorizer, registry, logRepository, guildConfigRepository, metrics,
		runtime.RelayConfig{
			GuildName:    config.GuildName,
			SelfIdentity: config.SelfIdentity,
			DeleteGrace:  config.DeleteGraceDelay,
		},
		deletions,
	)

	service := services.NewModmailService(relay, logRepository, guildConfigRepository, guild)
	if _, found, err := service.StaffRole(guild); err != nil {
		return exitRuntime, fmt.Errorf("staff role lookup failed: %w", err)
	} else if !found {
		logger.Warn("No staff role configured, staff commands are open to everyone", "guild", guild)
	}

	// 5. Context & Signals
	// NotifyContext captures OS signals and cancels the context to trigger a shutdown.
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 6. Supervision
	sweeper := workers.NewIdleSweeper(
		logger, guild, config.InactivityWindow, config.SweepInterval,
		registry, relay, chatGateway, metrics,
	)
	janitor := workers.NewChannelJanitor(logger, chatGateway, deletions)
	telemetry := workers.NewTelemetryWorker(logger, metrics, config.MetricInterval)

	sup := workers.NewSupervisor(logger)
	sup.Add(sweeper, janitor, telemetry)

	logger.Info("Modmail engine started", "guild", config.GuildName)
	sup.Run(ctx)

	logger.Info("Program stopped cleanly")
	return exitOK, nil
}

func buildBadgerOpts(config internal.Config, logger *slog.Logger, ctx context.Context) badger.Options {
	options := badger.DefaultOptions(config.BadgerFilepath)

	if logger.Enabled(ctx, slog.LevelDebug) {
		options = options.WithLoggingLevel(badger.DEBUG).
			WithBypassLockGuard(true)
	} else {
		options = options.WithLoggingLevel(badger.INFO)
	}

	return options
}
