// Package shutdown turns termination signals into a callback.
package shutdown

import (
	"os"
	"os/signal"
	"sync"
)

// OnSignal runs fn once, on its own goroutine, when the process is asked to
// terminate. The returned stop function stops watching; fn will not run
// after it returns.
func OnSignal(fn func()) (stop func()) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, signals...)
	done := make(chan struct{})
	go func() {
		select {
		case <-ch:
			fn()
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
