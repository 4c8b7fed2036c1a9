// Package interrupt turns SIGINT and SIGTERM into a call to a stop function.
package interrupt

import (
	"errors"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/atomic"

	"github.com/mescon/cadence/internal/logger"
)

var (
	// ErrAlreadyInstalled is returned when a handler is already active.
	ErrAlreadyInstalled = errors.New("interrupt: handler already installed")
	// ErrNilStop is returned when Install is given no stop function.
	ErrNilStop = errors.New("interrupt: nil stop function")
)

var installed = atomic.NewBool(false)

// Install calls stop whenever the process receives SIGINT or SIGTERM.
// stop must not block; it may run more than once. Only one handler can be
// installed at a time; release uninstalls it and may be called repeatedly.
func Install(stop func()) (release func(), err error) {
	if stop == nil {
		return nil, ErrNilStop
	}
	if !installed.CompareAndSwap(false, true) {
		return nil, ErrAlreadyInstalled
	}

	sigCh := make(chan os.Signal, 1)
	done := make(chan struct{})
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		for {
			select {
			case sig := <-sigCh:
				logger.Infof("Received signal %v, stopping after the current tick...", sig)
				stop()
			case <-done:
				return
			}
		}
	}()

	released := atomic.NewBool(false)
	return func() {
		if !released.CompareAndSwap(false, true) {
			return
		}
		signal.Stop(sigCh)
		close(done)
		installed.Store(false)
	}, nil
}
