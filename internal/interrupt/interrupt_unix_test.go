//go:build unix

package interrupt

import (
	"syscall"
	"testing"
	"time"

	"go.uber.org/atomic"
)

func TestInstall_SignalCallsStop(t *testing.T) {
	for _, sig := range []syscall.Signal{syscall.SIGINT, syscall.SIGTERM} {
		t.Run(sig.String(), func(t *testing.T) {
			calls := atomic.NewInt32(0)
			release, err := Install(func() { calls.Inc() })
			if err != nil {
				t.Fatalf("Install failed: %v", err)
			}
			defer release()

			if err := syscall.Kill(syscall.Getpid(), sig); err != nil {
				t.Fatalf("kill: %v", err)
			}

			deadline := time.Now().Add(2 * time.Second)
			for calls.Load() == 0 && time.Now().Before(deadline) {
				time.Sleep(5 * time.Millisecond)
			}
			if calls.Load() != 1 {
				t.Errorf("stop called %d times, want 1", calls.Load())
			}
		})
	}
}

func TestInstall_RepeatedSignalsAreHarmless(t *testing.T) {
	calls := atomic.NewInt32(0)
	release, err := Install(func() { calls.Inc() })
	if err != nil {
		t.Fatalf("Install failed: %v", err)
	}
	defer release()

	for i := 0; i < 3; i++ {
		if err := syscall.Kill(syscall.Getpid(), syscall.SIGINT); err != nil {
			t.Fatalf("kill: %v", err)
		}
		time.Sleep(20 * time.Millisecond)
	}

	deadline := time.Now().Add(2 * time.Second)
	for calls.Load() < 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if calls.Load() < 1 {
		t.Error("stop was never called")
	}
}
