package signals

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/endorses/tlsniff/internal/pkg/constants"
	"github.com/endorses/tlsniff/internal/pkg/logger"
)

// SetupHandler cancels the provided context on SIGINT, SIGTERM or SIGHUP.
// The returned cleanup function stops signal delivery.
func SetupHandler(ctx context.Context, cancel context.CancelFunc) (cleanup func()) {
	sigCh := make(chan os.Signal, constants.SignalChannelBuffer)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	done := make(chan struct{})
	go func() {
		defer close(done)
		select {
		case sig := <-sigCh:
			logger.Info("Received signal, stopping decode", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
	}()

	return func() {
		signal.Stop(sigCh)
		cancel()
		<-done
	}
}

// OnStatsRequest calls report every time SIGUSR1 arrives until ctx is done.
// The returned cleanup function waits for the watcher to exit.
func OnStatsRequest(ctx context.Context, report func()) (cleanup func()) {
	sigCh := make(chan os.Signal, constants.SignalChannelBuffer)
	signal.Notify(sigCh, syscall.SIGUSR1)

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-sigCh:
				logger.Debug("Statistics requested")
				report()
			case <-ctx.Done():
				return
			}
		}
	}()

	return func() {
		signal.Stop(sigCh)
		cancel()
		<-done
	}
}
