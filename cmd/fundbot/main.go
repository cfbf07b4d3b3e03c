// Command fundbot is the entry point for the funding bot. It loads
// configuration, validates it, wires dependencies, sets up signal handling,
// and starts the application in the configured mode.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/alanyoungcy/fundingbot/internal/app"
	"github.com/alanyoungcy/fundingbot/internal/config"
	"github.com/alanyoungcy/fundingbot/internal/crypto"
)

func main() {
	configPath := flag.String("config", "config.toml", "path to configuration file")
	encrypt := flag.Bool("encrypt-secret", false, "read an API secret from stdin, encrypt it with FUNDBOT_EXCHANGE_SECRET_PASSWORD and exit")
	out := flag.String("out", "secret.enc.json", "output path for -encrypt-secret")
	flag.Parse()

	if *encrypt {
		if err := encryptSecret(*out); err != nil {
			fmt.Fprintf(os.Stderr, "encrypt-secret: %v\n", err)
			os.Exit(1)
		}
		fmt.Fprintf(os.Stderr, "encrypted secret written to %s\n", *out)
		return
	}

	logger := newLogger("info")
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config",
			slog.String("path", *configPath),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	logger = newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("funding bot starting",
		slog.String("mode", cfg.Mode),
		slog.String("config", *configPath),
		slog.Any("settings", config.RedactedConfig(cfg)),
	)

	application := app.New(cfg, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err = application.Run(ctx)
	stop()
	application.Close()

	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("application exited with error", slog.String("error", err.Error()))
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
	logger.Info("funding bot stopped")
}

func newLogger(level string) *slog.Logger {
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
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

// encryptSecret reads one line from stdin and writes the encrypted blob to
// path with owner-only permissions.
func encryptSecret(path string) error {
	_ = godotenv.Load()
	password := os.Getenv("FUNDBOT_EXCHANGE_SECRET_PASSWORD")
	if password == "" {
		return errors.New("FUNDBOT_EXCHANGE_SECRET_PASSWORD must be set")
	}

	fmt.Fprint(os.Stderr, "API secret: ")
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return fmt.Errorf("read secret: %w", err)
	}

	blob, err := crypto.EncryptSecret(strings.TrimSpace(line), password)
	if err != nil {
		return err
	}
	return os.WriteFile(path, blob, 0o600)
}
