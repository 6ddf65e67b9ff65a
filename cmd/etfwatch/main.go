// Command etfwatch records daily ETF holdings snapshots and reports how
// positions changed.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"etfwatch/internal/cli"
	apperrors "etfwatch/internal/errors"
)

func main() {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cli.NewRootCmd(logger).ExecuteContext(ctx); err != nil {
		logger.Error().Err(err).Msg("etfwatch failed")
		stop()
		os.Exit(exitCode(err))
	}
}

// exitCode maps errors to process exit codes.
func exitCode(err error) int {
	switch {
	case apperrors.Is(err, apperrors.ErrConfigInvalid):
		return 2
	case apperrors.Is(err, apperrors.ErrLocked):
		return 3
	default:
		return 1
	}
}
