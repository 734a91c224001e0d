package control

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/cuemby/warden/pkg/log"
)

// WatchSignals registers the daemon's signal set and returns a stop
// function that unregisters them. Handlers only set Flags fields, never
// do the work a signal requests, matching original_source's reset-then-
// install-handlers bootstrap step and spec.md §4.8's "signals set flags
// only (no work in handler)" rule; SIGPIPE is consumed (ignored) so a
// child writing to a closed pipe never kills the daemon.
func WatchSignals(flags *Flags) (stop func()) {
	logger := log.WithComponent("control")
	ch := make(chan os.Signal, 1)
	signal.Notify(ch,
		syscall.SIGTERM,
		syscall.SIGINT,
		syscall.SIGHUP,
		syscall.SIGUSR1,
		syscall.SIGPIPE,
	)

	done := make(chan struct{})
	go func() {
		for {
			select {
			case sig, ok := <-ch:
				if !ok {
					return
				}
				switch sig {
				case syscall.SIGTERM, syscall.SIGINT:
					logger.Info().Str("signal", sig.String()).Msg("graceful shutdown requested")
					flags.Stop()
				case syscall.SIGHUP:
					logger.Info().Msg("reload requested")
					flags.Reload()
				case syscall.SIGUSR1:
					logger.Info().Msg("wakeup requested")
					flags.Wakeup()
				case syscall.SIGPIPE:
					// ignored
				}
			case <-done:
				return
			}
		}
	}()

	return func() {
		signal.Stop(ch)
		close(done)
	}
}
