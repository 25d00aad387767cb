package taskmanager

import (
	"context"
	"errors"
	"sync"

	"goa.design/a2a-engine/runtime/wire"
)

// DefaultQueueCapacity is the default bound on an EventQueue's buffer.
const DefaultQueueCapacity = 64

// errQueueClosed is returned by EnqueueXxx calls made after Complete.
var errQueueClosed = errors.New("taskmanager: event queue is closed")

// EventQueue is the bounded single-writer, single-reader channel a handler uses to
// emit events for a task it is executing. The handler is the only writer;
// the Manager is the only reader, draining the queue and appending each
// event to the Event Store in order. Enqueue calls are non-blocking unless
// the buffer is full, at which point they apply backpressure to the
// handler (or return early if the caller's context is canceled first).
type EventQueue struct {
	taskID    string
	contextID string

	ch        chan wire.Event
	closeOnce sync.Once

	mu     sync.Mutex
	closed bool
}

func newEventQueue(taskID, contextID string, capacity int) *EventQueue {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	return &EventQueue{
		taskID:    taskID,
		contextID: contextID,
		ch:        make(chan wire.Event, capacity),
	}
}

// EnqueueTask enqueues a TaskSnapshot event, replacing the task projection
// wholesale.
func (q *EventQueue) EnqueueTask(ctx context.Context, task *wire.Task) error {
	return q.send(ctx, wire.Event{TaskSnapshot: task})
}

// EnqueueStatus enqueues a StatusUpdate event. final must be true only when
// status.State is terminal.
func (q *EventQueue) EnqueueStatus(ctx context.Context, status wire.TaskStatus, final bool) error {
	return q.send(ctx, wire.Event{StatusUpdate: &wire.StatusUpdate{
		TaskID:    q.taskID,
		ContextID: q.contextID,
		Status:    status,
		Final:     final,
	}})
}

// EnqueueArtifact enqueues an ArtifactUpdate event.
func (q *EventQueue) EnqueueArtifact(ctx context.Context, artifact wire.Artifact, appendParts, lastChunk bool) error {
	return q.send(ctx, wire.Event{ArtifactUpdate: &wire.ArtifactUpdate{
		TaskID:    q.taskID,
		ContextID: q.contextID,
		Artifact:  artifact,
		Append:    appendParts,
		LastChunk: lastChunk,
	}})
}

// EnqueueMessage enqueues a standalone Message event.
func (q *EventQueue) EnqueueMessage(ctx context.Context, msg *wire.Message) error {
	return q.send(ctx, wire.Event{Message: msg})
}

// Complete signals end-of-output, closing the write side. The Manager
// drains whatever remains buffered and then stops reading. Safe to call
// more than once, and safe to call concurrently with in-flight send calls
// (for example, a handler's Cancel emitting a status from another
// goroutine while Execute is returning) — send and Complete share a mutex
// so a send either completes before the channel closes or is told the
// queue is already closed, never racing the close itself.
func (q *EventQueue) Complete() {
	q.closeOnce.Do(func() {
		q.mu.Lock()
		q.closed = true
		close(q.ch)
		q.mu.Unlock()
	})
}

func (q *EventQueue) send(ctx context.Context, e wire.Event) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return errQueueClosed
	}
	select {
	case q.ch <- e:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// events returns the read side of the queue for the Manager's drain loop.
func (q *EventQueue) events() <-chan wire.Event { return q.ch }
