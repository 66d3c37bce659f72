package collector

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
)

// SetupSignalHandler returns a context cancelled on the first SIGTERM or SIGINT.
// A second signal exits the process immediately.
func SetupSignalHandler(parent context.Context, logger zerolog.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	go func() {
		select {
		case sig := <-sigCh:
			logger.Warn().Str("signal", sig.String()).Msg("received signal, stopping after the current step")
			cancel()
		case <-ctx.Done():
			signal.Stop(sigCh)
			return
		}

		sig := <-sigCh
		logger.Error().Str("signal", sig.String()).Msg("received second signal, forcing exit")
		os.Exit(1)
	}()

	return ctx, cancel
}
