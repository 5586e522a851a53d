// Package shutdown turns termination signals into a single cleanup call.
package shutdown

import (
	"os"
	"os/signal"
	"sync"
)

// OnSignal runs fn on its own goroutine for the first termination signal
// received. The returned stop detaches the handler; it is safe to call
// more than once.
func OnSignal(fn func(os.Signal)) (stop func()) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, signals...)
	done := make(chan struct{})
	go func() {
		select {
		case sig := <-ch:
			fn(sig)
		case <-done:
		}
	}()
	var once sync.Once
	return func() {
		once.Do(func() {
			signal.Stop(ch)
			close(done)
		})
	}
}
