// Package frame provides per-refresh callback scheduling, the Go stand-in
// for a display's animation-frame requests.
package frame

import (
	"sync"
	"time"
)

// Callback runs once for the frame it was requested for.
type Callback func(now time.Time)

// Handle identifies a pending request. The zero Handle is never issued.
type Handle uint64

// Scheduler queues one-shot callbacks for the next frame.
type Scheduler interface {
	Request(cb Callback) Handle
	Cancel(h Handle)
}

// queue is the pending-callback table shared by both schedulers.
type queue struct {
	mu      sync.Mutex
	next    Handle
	pending map[Handle]Callback
	order   []Handle
}

func (q *queue) request(cb Callback) Handle {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.pending == nil {
		q.pending = make(map[Handle]Callback)
	}
	q.next++
	q.pending[q.next] = cb
	q.order = append(q.order, q.next)
	return q.next
}

func (q *queue) cancel(h Handle) {
	q.mu.Lock()
	delete(q.pending, h)
	q.mu.Unlock()
}

// drain takes every callback requested so far. Callbacks requested while the
// batch runs are left for the next frame.
func (q *queue) drain() []Callback {
	q.mu.Lock()
	defer q.mu.Unlock()
	var batch []Callback
	for _, h := range q.order {
		if cb, ok := q.pending[h]; ok {
			batch = append(batch, cb)
			delete(q.pending, h)
		}
	}
	q.order = q.order[:0]
	return batch
}

func (q *queue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Ticker fires pending callbacks at a fixed refresh rate from a single
// goroutine, so callbacks never overlap.
type Ticker struct {
	queue
	interval time.Duration
	stop     chan struct{}
	done     chan struct{}
	once     sync.Once
}

// DefaultFPS matches a typical display refresh.
const DefaultFPS = 60

// NewTicker starts a ticker at fps frames per second (DefaultFPS when fps <= 0)
func NewTicker(fps int) *Ticker {
	if fps <= 0 {
		fps = DefaultFPS
	}
	t := &Ticker{
		interval: time.Second / time.Duration(fps),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go t.run()
	return t
}

// Request schedules cb for the next frame
func (t *Ticker) Request(cb Callback) Handle { return t.request(cb) }

// Cancel drops a pending callback
func (t *Ticker) Cancel(h Handle) { t.cancel(h) }

// Interval returns the frame period
func (t *Ticker) Interval() time.Duration {
	return t.interval
}

func (t *Ticker) run() {
	defer close(t.done)
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-t.stop:
			return
		case now := <-ticker.C:
			for _, cb := range t.drain() {
				cb(now)
			}
		}
	}
}

// Close stops the ticker and waits for an in-flight frame to finish.
// Pending callbacks are dropped.
func (t *Ticker) Close() {
	t.once.Do(func() {
		close(t.stop)
	})
	<-t.done
}

// Manual runs frames only when stepped. Used for tests and offline driving.
type Manual struct {
	queue
}

// NewManual creates a scheduler that only runs on Step
func NewManual() *Manual {
	return &Manual{}
}

// Request schedules cb for the next Step
func (m *Manual) Request(cb Callback) Handle { return m.request(cb) }

// Cancel drops a pending callback
func (m *Manual) Cancel(h Handle) { m.cancel(h) }

// Step runs one frame at now and returns how many callbacks fired.
func (m *Manual) Step(now time.Time) int {
	batch := m.drain()
	for _, cb := range batch {
		cb(now)
	}
	return len(batch)
}

// Pending reports how many callbacks are waiting for the next frame.
func (m *Manual) Pending() int {
	return m.len()
}
