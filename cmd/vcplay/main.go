// Command vcplay is a Discord bot that plays uploaded audio files in voice
// channels.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/vcplay/internal/app"
	"github.com/MrWong99/vcplay/internal/config"
	discordbot "github.com/MrWong99/vcplay/internal/discord"
	"github.com/MrWong99/vcplay/internal/discord/commands"
	"github.com/MrWong99/vcplay/internal/health"
	"github.com/MrWong99/vcplay/internal/observe"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	envPath := flag.String("env", ".env", "path to an optional .env file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	if err := config.LoadDotEnv(*envPath); err != nil {
		fmt.Fprintf(os.Stderr, "vcplay: %v\n", err)
		return 1
	}

	cfg, watchFile, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "vcplay: %v\n", err)
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logLevel := new(slog.LevelVar)
	logLevel.Set(app.SlogLevel(cfg.Server.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	slog.Info("vcplay starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
		"guild_id", cfg.Discord.GuildID,
	)

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(context.Background(), observe.ProviderConfig{
		ServiceVersion: version,
		GuildID:        cfg.Discord.GuildID,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Discord bot ───────────────────────────────────────────────────────────
	bot, err := discordbot.New(ctx, discordbot.Config{
		Token:         cfg.Discord.Token,
		GuildID:       cfg.Discord.GuildID,
		ApplicationID: cfg.Discord.ApplicationID,
	})
	if err != nil {
		slog.Error("failed to create Discord bot", "err", err)
		return 1
	}

	application, err := app.New(cfg, bot.Platform(), bot,
		app.WithMetrics(observe.DefaultMetrics()),
		app.WithLogLevel(logLevel),
		app.WithChecker(health.Ready("discord", bot.Ready)),
	)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		_ = bot.Close()
		return 1
	}

	commands.NewVoiceCommands(bot.Router(), application.Dispatcher(), commands.VoiceConfig{
		CommandTimeout: cfg.Discord.CommandTimeout,
		AckAfter:       cfg.Discord.AckAfter,
		BaseContext:    ctx,
	})

	// ── Config hot reload ─────────────────────────────────────────────────────
	if watchFile {
		watcher, err := config.NewWatcher(*configPath, func(_, next *config.Config) {
			application.Reload(next)
		})
		if err != nil {
			slog.Warn("config watcher disabled", "err", err)
		} else {
			defer watcher.Stop()
		}
	}

	// ── Run ───────────────────────────────────────────────────────────────────
	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error { return bot.Run(egCtx) })
	eg.Go(func() error { return application.Run(egCtx) })

	slog.Info("vcplay ready, press Ctrl+C to shut down")

	exitCode := 0
	if err := eg.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		exitCode = 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")

	// Leave voice channels before the gateway goes away.
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		exitCode = 1
	}
	if err := bot.Close(); err != nil {
		slog.Warn("discord bot close error", "err", err)
	}
	if err := otelShutdown(shutdownCtx); err != nil {
		slog.Warn("telemetry shutdown error", "err", err)
	}

	slog.Info("goodbye")
	return exitCode
}

// loadConfig reads path, falling back to environment variables alone when
// the file does not exist. watch reports whether the file can be watched.
func loadConfig(path string) (cfg *config.Config, watch bool, err error) {
	cfg, err = config.Load(path)
	if err == nil {
		return cfg, true, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, false, err
	}
	cfg, err = config.LoadFromReader(strings.NewReader(""))
	if err != nil {
		return nil, false, fmt.Errorf("config file %q not found and environment incomplete (copy configs/example.yaml to get started): %w", path, err)
	}
	return cfg, false, nil
}
