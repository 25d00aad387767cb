package taskmanager

import (
	"context"

	"goa.design/a2a-engine/runtime/wire"
)

// Context carries the information a Handler needs to execute or cancel a
// single task run.
type Context struct {
	// TaskID identifies the task being run.
	TaskID string
	// ContextID groups this task with others in the same conversation.
	ContextID string
	// UserMessage is the message that triggered this run.
	UserMessage *wire.Message
	// PriorTaskSnapshot is the task's projection before this run, set only
	// when IsContinuation is true.
	PriorTaskSnapshot *wire.Task
	// IsContinuation reports whether this run continues an existing task
	// (UserMessage.TaskID was set) rather than starting a new one.
	IsContinuation bool
}

// Handler is the agent's execution contract. Execute runs a single task to
// completion (or until canceled), emitting events through queue and
// calling queue.Complete() when done. Cancel is a distinct entry point
// invoked when the task is asked to stop early; it should make a best
// effort to reach a terminal state quickly and emit a final StatusUpdate
// through the same queue.
type Handler interface {
	Execute(ctx context.Context, taskCtx *Context, queue *EventQueue) error
	Cancel(ctx context.Context, taskCtx *Context, queue *EventQueue) error
}
