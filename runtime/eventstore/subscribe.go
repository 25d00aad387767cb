package eventstore

import (
	"context"
	"fmt"
)

// Subscription is a live, catch-up-then-tail view of a task's event log.
// Events returns a channel that yields events in version order, each
// exactly once, and closes after the terminal event is delivered or the
// subscribing context is canceled. The queue backing Events is unbounded:
// a slow consumer never blocks Append (spec §9's reference-design
// trade-off — production deployments should bound and drop slow
// subscribers instead).
type Subscription struct {
	events chan StoredEvent
	cancel context.CancelFunc

	mu     chanMutex
	buf    []StoredEvent
	closed bool
}

// chanMutex is a minimal mutex built on a buffered channel semaphore,
// avoiding sync.Cond's broadcast-to-all-waiters semantics for what is
// always a single-producer-many / single-consumer-one queue.
type chanMutex struct {
	sem chan struct{}
}

func newChanMutex() chanMutex {
	c := chanMutex{sem: make(chan struct{}, 1)}
	c.sem <- struct{}{}
	return c
}

func (c *chanMutex) lock()   { <-c.sem }
func (c *chanMutex) unlock() { c.sem <- struct{}{} }

// Events returns the channel of delivered events.
func (s *Subscription) Events() <-chan StoredEvent { return s.events }

// Close unregisters the subscription and stops event delivery. It is safe
// to call multiple times.
func (s *Subscription) Close() { s.cancel() }

func newSubscription(ctx context.Context) (*Subscription, context.Context) {
	subCtx, cancel := context.WithCancel(ctx)
	s := &Subscription{
		events: make(chan StoredEvent),
		cancel: cancel,
		mu:     newChanMutex(),
	}
	return s, subCtx
}

// push enqueues a live event for delivery. Never blocks the caller
// (Append), since it only appends to an in-memory slice under a
// try-free semaphore.
func (s *Subscription) push(e StoredEvent) {
	s.mu.lock()
	s.buf = append(s.buf, e)
	s.mu.unlock()
}

// markTerminal records that no further events will be pushed once the
// buffered backlog drains.
func (s *Subscription) markTerminal() {
	s.mu.lock()
	s.closed = true
	s.mu.unlock()
}

// drainPending atomically takes and clears whatever has accumulated in
// buf since registration, for merging against the catch-up read.
func (s *Subscription) drainPending() []StoredEvent {
	s.mu.lock()
	pending := s.buf
	s.buf = nil
	s.mu.unlock()
	return pending
}

// prepend re-inserts merged (deduplicated, ordered) events ahead of
// whatever has accumulated in buf since drainPending was called.
func (s *Subscription) prepend(merged []StoredEvent, terminal bool) {
	s.mu.lock()
	s.buf = append(append([]StoredEvent{}, merged...), s.buf...)
	if terminal {
		s.closed = true
	}
	s.mu.unlock()
}

// pump drains buffered events into the Events channel in order, exiting
// when the subscribing context is canceled or the backlog is drained past
// a terminal marker.
func (s *Subscription) pump(ctx context.Context, notify <-chan struct{}) {
	defer close(s.events)
	for {
		s.mu.lock()
		var item StoredEvent
		have := false
		if len(s.buf) > 0 {
			item = s.buf[0]
			s.buf = s.buf[1:]
			have = true
		}
		done := !have && s.closed
		s.mu.unlock()

		if done {
			return
		}
		if !have {
			select {
			case <-ctx.Done():
				return
			case <-notify:
				continue
			}
		}

		select {
		case s.events <- item:
		case <-ctx.Done():
			return
		}
	}
}

// notify fans out a freshly committed event to every subscriber
// registered on the task. Called synchronously from within Append's
// critical section, so notify calls across appends on the same task are
// strictly ordered by version.
func (tr *taskRecord) notify(e StoredEvent) {
	tr.subMu.Lock()
	defer tr.subMu.Unlock()
	final := e.Event.StatusUpdate != nil && e.Event.StatusUpdate.Final
	for sub, wake := range tr.subNotify {
		sub.push(e)
		if final {
			sub.markTerminal()
		}
		select {
		case wake <- struct{}{}:
		default:
		}
	}
}

func (tr *taskRecord) register(sub *Subscription) chan struct{} {
	tr.subMu.Lock()
	defer tr.subMu.Unlock()
	ch := make(chan struct{}, 1)
	tr.subNotify[sub] = ch
	return ch
}

func (tr *taskRecord) unregister(sub *Subscription) {
	tr.subMu.Lock()
	defer tr.subMu.Unlock()
	delete(tr.subNotify, sub)
}

// Subscribe implements Store. It registers the live channel before
// reading catch-up events, then merges whatever arrived live during that
// window against the catch-up read, discarding anything already covered
// by version — the three-step protocol spec §4.2.3 requires.
func (m *MemoryStore) Subscribe(ctx context.Context, taskID string, afterVersion int64) (*Subscription, error) {
	tr := m.recordFor(taskID)

	sub, subCtx := newSubscription(ctx)
	notify := tr.register(sub)

	catchUp, err := m.Read(ctx, taskID, afterVersion)
	if err != nil {
		tr.unregister(sub)
		sub.cancel()
		return nil, fmt.Errorf("subscribe %s: %w", taskID, err)
	}

	maxSeen := afterVersion
	terminal := false
	for _, e := range catchUp {
		if e.Version > maxSeen {
			maxSeen = e.Version
		}
		if su := e.Event.StatusUpdate; su != nil && su.Final {
			terminal = true
		}
	}

	pending := sub.drainPending()
	merged := make([]StoredEvent, 0, len(catchUp)+len(pending))
	merged = append(merged, catchUp...)
	for _, e := range pending {
		if e.Version > maxSeen {
			merged = append(merged, e)
			if su := e.Event.StatusUpdate; su != nil && su.Final {
				terminal = true
			}
		}
	}
	sub.prepend(merged, terminal)

	go func() {
		defer tr.unregister(sub)
		sub.pump(subCtx, notify)
	}()

	return sub, nil
}
