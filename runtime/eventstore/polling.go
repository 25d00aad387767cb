package eventstore

import (
	"context"
	"time"
)

// DefaultPollInterval is how often NewPollingSubscription checks a durable
// backend for new events.
const DefaultPollInterval = 100 * time.Millisecond

// NewPollingSubscription adapts a backend's Read method into a live
// Subscription by polling for new events at interval. MemoryStore's
// Subscribe pushes events synchronously from inside Append's critical
// section; filestore and boltstore have no equivalent in-process fan-out,
// so they drive this poll loop instead. The three-step catch-up/dedup
// protocol still holds: the first read establishes the catch-up set and the
// highest version seen, and only events past that version are delivered
// from the poll loop.
func NewPollingSubscription(ctx context.Context, afterVersion int64, read func(ctx context.Context, afterVersion int64) ([]StoredEvent, error), interval time.Duration) (*Subscription, error) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	sub, subCtx := newSubscription(ctx)
	notify := make(chan struct{}, 1)

	catchUp, err := read(ctx, afterVersion)
	if err != nil {
		sub.cancel()
		return nil, err
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
	sub.prepend(catchUp, terminal)

	go sub.pump(subCtx, notify)
	if !terminal {
		go pollForNewEvents(subCtx, sub, read, maxSeen, interval, notify)
	}

	return sub, nil
}

func pollForNewEvents(
	ctx context.Context,
	sub *Subscription,
	read func(context.Context, int64) ([]StoredEvent, error),
	afterVersion int64,
	interval time.Duration,
	notify chan<- struct{},
) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	last := afterVersion
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			events, err := read(ctx, last)
			if err != nil {
				return
			}
			terminal := false
			for _, e := range events {
				if e.Version > last {
					last = e.Version
				}
				sub.push(e)
				if su := e.Event.StatusUpdate; su != nil && su.Final {
					terminal = true
				}
			}
			if terminal {
				sub.markTerminal()
			}
			select {
			case notify <- struct{}{}:
			default:
			}
			if terminal {
				return
			}
		}
	}
}
