// Command escrowbot is the backend entry point for the escrow service. It
// loads configuration, validates it, wires dependencies, sets up signal
// handling, and starts the application in the configured mode.
//
// Two maintenance subcommands run instead of the service:
//
//	escrowbot token -account 42      print a bearer token for an account
//	escrowbot seal -out jwt.sealed   encrypt the JWT secret for server.jwt_sealed_path
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alanyoungcy/escrowbot/internal/app"
	"github.com/alanyoungcy/escrowbot/internal/auth"
	"github.com/alanyoungcy/escrowbot/internal/config"
	"github.com/alanyoungcy/escrowbot/internal/crypto"
)

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "token":
			exit(runToken(os.Args[2:]))
		case "seal":
			exit(runSeal(os.Args[2:]))
		}
	}

	configPath := flag.String("config", "config.toml", "path to configuration file")
	flag.Parse()

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

	logger.Info("escrowbot starting",
		slog.String("mode", cfg.Mode),
		slog.String("config", *configPath),
	)
	logger.Debug("effective configuration", slog.Any("config", config.RedactedConfig(cfg)))

	application := app.New(cfg, logger)
	defer application.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx); err != nil {
		// context.Canceled is expected on clean shutdown.
		if errors.Is(err, context.Canceled) {
			logger.Info("application shut down gracefully")
		} else {
			logger.Error("application exited with error",
				slog.String("error", err.Error()),
			)
			fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
			os.Exit(1)
		}
	}

	logger.Info("escrowbot stopped")
}

func newLogger(level string) *slog.Logger {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: l}))
}

func exit(err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "escrowbot: %v\n", err)
		os.Exit(1)
	}
	os.Exit(0)
}

// runToken prints a bearer token signed with the configured JWT secret.
func runToken(args []string) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	configPath := fs.String("config", "config.toml", "path to configuration file")
	account := fs.Int64("account", 0, "account id to issue the token for")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *account <= 0 {
		return errors.New("token: -account must be a positive id")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	secret, err := crypto.LoadSecret(crypto.SecretConfig{
		Raw:        cfg.Server.JWTSecret,
		SealedPath: cfg.Server.JWTSealedPath,
		Password:   cfg.Server.JWTSealPassword,
	})
	if err != nil {
		return fmt.Errorf("token: %w", err)
	}
	tokens, err := auth.NewTokens([]byte(secret), cfg.Server.TokenTTL.Duration)
	if err != nil {
		return fmt.Errorf("token: %w", err)
	}
	raw, expires, err := tokens.Issue(*account)
	if err != nil {
		return fmt.Errorf("token: %w", err)
	}
	fmt.Fprintf(os.Stderr, "expires %s\n", expires.Format("2006-01-02 15:04:05Z07:00"))
	fmt.Println(raw)
	return nil
}

// runSeal encrypts a secret with a password and writes the sealed blob.
// Both values are read from the environment so they stay out of shell history.
func runSeal(args []string) error {
	fs := flag.NewFlagSet("seal", flag.ContinueOnError)
	out := fs.String("out", "jwt.sealed", "file to write the sealed secret to")
	secretEnv := fs.String("secret-env", "ESCROWBOT_SERVER_JWT_SECRET", "environment variable holding the secret")
	passwordEnv := fs.String("password-env", "ESCROWBOT_SERVER_JWT_SEAL_PASSWORD", "environment variable holding the password")
	if err := fs.Parse(args); err != nil {
		return err
	}

	secret, password := os.Getenv(*secretEnv), os.Getenv(*passwordEnv)
	if secret == "" || password == "" {
		return fmt.Errorf("seal: %s and %s must both be set", *secretEnv, *passwordEnv)
	}
	sealed, err := crypto.SealSecret(secret, password)
	if err != nil {
		return fmt.Errorf("seal: %w", err)
	}
	if err := os.WriteFile(*out, sealed, 0o600); err != nil {
		return fmt.Errorf("seal: %w", err)
	}
	fmt.Fprintf(os.Stderr, "sealed secret written to %s\n", *out)
	return nil
}
