// Command supportagent runs the TikTok and LinkedIn customer support and
// sales agent.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	// .env is read first so it can set LOG_LEVEL.
	envErr := godotenv.Load()
	initializeLogger(os.Getenv("LOG_LEVEL"))
	if envErr != nil {
		slog.Debug("failed to load .env file", "error", envErr)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	root := newRootCmd(loadEnvironmentConfig())
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

// initializeLogger installs a text handler at the given level. Unknown or
// empty levels fall back to debug.
func initializeLogger(level string) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: parseLogLevel(level)}))
	slog.SetDefault(logger)
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelDebug
	}
}
