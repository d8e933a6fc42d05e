package remote

import (
	"sync"
)

// Feed delivers snapshots to one subscriber on its own goroutine.
// Snapshots published faster than the subscriber consumes them are
// coalesced: only the latest is delivered. Store implementations use it
// to give every subscription the same delivery guarantees.
type Feed struct {
	fn SnapshotFunc

	mu      sync.Mutex
	latest  []Document
	has     bool
	stopped bool

	wake chan struct{}
	done chan struct{}
	wg   sync.WaitGroup

	// onStop is run once after delivery has stopped.
	onStop func()

	stopOnce sync.Once
}

// NewFeed starts a delivery goroutine for fn. onStop may be nil.
func NewFeed(fn SnapshotFunc, onStop func()) *Feed {
	f := &Feed{
		fn:     fn,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
		onStop: onStop,
	}
	f.wg.Add(1)
	go f.run()
	return f
}

// Publish queues docs for delivery, replacing any undelivered snapshot.
func (f *Feed) Publish(docs []Document) {
	f.mu.Lock()
	if f.stopped {
		f.mu.Unlock()
		return
	}
	f.latest = docs
	f.has = true
	f.mu.Unlock()

	select {
	case f.wake <- struct{}{}:
	default:
	}
}

// Unsubscribe stops delivery and waits for an in-flight callback to return.
func (f *Feed) Unsubscribe() {
	f.stopOnce.Do(func() {
		f.mu.Lock()
		f.stopped = true
		f.latest = nil
		f.mu.Unlock()

		close(f.done)
		f.wg.Wait()

		if f.onStop != nil {
			f.onStop()
		}
	})
}

// Stopped reports whether Unsubscribe has been called.
func (f *Feed) Stopped() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopped
}

func (f *Feed) run() {
	defer f.wg.Done()

	for {
		select {
		case <-f.done:
			return
		case <-f.wake:
			f.mu.Lock()
			if f.stopped || !f.has {
				f.mu.Unlock()
				continue
			}
			docs := f.latest
			f.latest, f.has = nil, false
			f.mu.Unlock()

			f.fn(docs)
		}
	}
}
