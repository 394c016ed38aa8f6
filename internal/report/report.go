// Package report is the user-facing error channel. Autonomous work (token
// renewal, background refreshes) never returns errors to a caller; it reports
// a message here instead.
package report

import (
	"context"
	"sync"

	"github.com/systmms/vaultenv/internal/metrics"
)

// DefaultQueueSize is the maximum number of messages an Async reporter buffers.
const DefaultQueueSize = 100

// Reporter receives user-facing error messages. Implementations must be safe
// for concurrent use and must not block for long.
type Reporter interface {
	Report(message string)
}

// Func adapts a function to the Reporter interface.
type Func func(message string)

// Report calls f(message).
func (f Func) Report(message string) {
	f(message)
}

// Discard drops every message.
var Discard Reporter = Func(func(string) {})

// Async delivers messages to a sink on a background goroutine through a
// bounded queue. Report never blocks: when the queue is full the message is
// dropped and counted.
type Async struct {
	sink    Reporter
	queue   chan string
	wg      sync.WaitGroup
	mu      sync.RWMutex
	running bool
	done    chan struct{}

	droppedCount int64
	droppedMu    sync.Mutex
}

// NewAsync creates an Async reporter. If queueSize is 0, DefaultQueueSize is
// used.
func NewAsync(sink Reporter, queueSize int) *Async {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Async{
		sink:  sink,
		queue: make(chan string, queueSize),
		done:  make(chan struct{}),
	}
}

// Start begins the background delivery goroutine.
func (a *Async) Start(ctx context.Context) {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return
	}
	a.running = true
	a.wg.Add(1)
	a.mu.Unlock()

	go a.worker(ctx)
}

// Stop shuts down delivery after flushing queued messages.
func (a *Async) Stop() {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		// The worker may still be draining after a cancelled context.
		a.wg.Wait()
		return
	}
	a.running = false
	a.mu.Unlock()

	close(a.done)
	a.wg.Wait()
}

// Report queues a message. Messages sent before Start or after Stop are
// delivered synchronously so nothing is silently lost.
func (a *Async) Report(message string) {
	a.mu.RLock()
	if !a.running {
		a.mu.RUnlock()
		a.sink.Report(message)
		return
	}
	// The send happens under the read lock so that Stop cannot drain the
	// queue between the running check and the send.
	defer a.mu.RUnlock()

	select {
	case a.queue <- message:
	default:
		a.droppedMu.Lock()
		a.droppedCount++
		a.droppedMu.Unlock()

		metrics.IncrementDroppedReports()
	}
}

// DroppedCount returns the number of messages dropped due to queue overflow.
func (a *Async) DroppedCount() int64 {
	a.droppedMu.Lock()
	defer a.droppedMu.Unlock()
	return a.droppedCount
}

func (a *Async) worker(ctx context.Context) {
	defer a.wg.Done()

	for {
		select {
		case <-ctx.Done():
			a.mu.Lock()
			a.running = false
			a.mu.Unlock()
			a.drain()
			return
		case <-a.done:
			a.drain()
			return
		case message := <-a.queue:
			a.sink.Report(message)
		}
	}
}

func (a *Async) drain() {
	for {
		select {
		case message := <-a.queue:
			a.sink.Report(message)
		default:
			return
		}
	}
}

// Recorder keeps every message in memory. Used by tests and by commands that
// print collected errors at exit.
type Recorder struct {
	mu       sync.Mutex
	messages []string
}

// Report implements Reporter.
func (r *Recorder) Report(message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, message)
}

// Messages returns a copy of the recorded messages.
func (r *Recorder) Messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.messages...)
}

// Len returns the number of recorded messages.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.messages)
}
