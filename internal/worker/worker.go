// Package worker provides background worker tasks.
//
// Adapted from katzenpost's core/worker package: every long-running
// component in gapmesh (the BLE transport, the Nostr relay connections,
// the router's work queue, the rekey and announce timers) embeds a
// Worker instead of managing its own goroutine bookkeeping.
package worker

import "sync"

// Worker is a set of managed background goroutines.
type Worker struct {
	sync.WaitGroup
	initOnce sync.Once

	haltCh   chan interface{}
	haltOnce sync.Once
}

// Go executes fn in a new goroutine. Multiple goroutines may be started
// under the same Worker. It is fn's responsibility to monitor the channel
// returned by HaltCh and to return promptly once it is closed.
func (w *Worker) Go(fn func()) {
	w.initOnce.Do(w.init)
	w.Add(1)
	go func() {
		defer w.Done()
		fn()
	}()
}

// Halt signals all goroutines started under the Worker to terminate, and
// waits till all of them have returned. Safe to call more than once.
func (w *Worker) Halt() {
	w.initOnce.Do(w.init)
	w.haltOnce.Do(func() { close(w.haltCh) })
	w.Wait()
}

// HaltCh returns the channel that is closed when Halt is called.
func (w *Worker) HaltCh() <-chan interface{} {
	w.initOnce.Do(w.init)
	return w.haltCh
}

func (w *Worker) init() {
	w.haltCh = make(chan interface{})
}
