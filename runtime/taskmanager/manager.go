// Package taskmanager drives the agent handler, enforces the task
// lifecycle, and translates handler-emitted events into Event Store
// appends. It sits between the Dispatcher and the Event Store: the
// Dispatcher calls SendMessage/SendMessageStream/CancelTask/
// SubscribeToTask, and the Manager owns the single in-process authority on
// which tasks are currently running.
package taskmanager

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"goa.design/a2a-engine/runtime/eventstore"
	"goa.design/a2a-engine/runtime/telemetry"
	"goa.design/a2a-engine/runtime/wire"
)

// DefaultGraceWindow is how long CancelTask and inbound-context
// cancellation wait for the handler to reach a terminal state on its own
// before the Manager forces one.
const DefaultGraceWindow = 5 * time.Second

// SendMessageRequest is the input to SendMessage and SendMessageStream.
type SendMessageRequest struct {
	// Message is the inbound user message. If Message.TaskID is set, the
	// request continues that task; otherwise a new task is created.
	Message *wire.Message
}

type (
	// Manager orchestrates task runs against a Handler and an
	// eventstore.Store.
	Manager struct {
		store       eventstore.Store
		handler     Handler
		queueCap    int
		graceWindow time.Duration
		logger      telemetry.Logger
		metrics     telemetry.Metrics
		tracer      telemetry.Tracer

		mu      sync.Mutex
		running map[string]*runningTask
	}

	// Option configures a Manager.
	Option func(*Manager)

	runningTask struct {
		taskCtx *Context
		queue   *EventQueue
		cancel  context.CancelFunc
	}
)

// WithQueueCapacity overrides the default Agent Event Queue capacity.
func WithQueueCapacity(n int) Option {
	return func(m *Manager) { m.queueCap = n }
}

// WithGraceWindow overrides the default force-cancel grace window.
func WithGraceWindow(d time.Duration) Option {
	return func(m *Manager) { m.graceWindow = d }
}

// WithLogger overrides the default no-op Logger.
func WithLogger(l telemetry.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithMetrics overrides the default no-op Metrics.
func WithMetrics(metrics telemetry.Metrics) Option {
	return func(m *Manager) { m.metrics = metrics }
}

// WithTracer overrides the default no-op Tracer.
func WithTracer(t telemetry.Tracer) Option {
	return func(m *Manager) { m.tracer = t }
}

// New constructs a Manager driving handler against store.
func New(store eventstore.Store, handler Handler, opts ...Option) *Manager {
	m := &Manager{
		store:       store,
		handler:     handler,
		queueCap:    DefaultQueueCapacity,
		graceWindow: DefaultGraceWindow,
		logger:      telemetry.NewNoopLogger(),
		metrics:     telemetry.NewNoopMetrics(),
		tracer:      telemetry.NewNoopTracer(),
		running:     make(map[string]*runningTask),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SendMessage runs req's message to completion and returns the final
// SendMessageResponse: a Task payload in the common case, or a Message
// payload when the handler produced exactly one Message and no
// TaskSnapshot of its own.
func (m *Manager) SendMessage(ctx context.Context, req SendMessageRequest) (*wire.SendMessageResponse, error) {
	taskCtx, err := m.prepare(ctx, req)
	if err != nil {
		return nil, err
	}

	queue := newEventQueue(taskCtx.TaskID, taskCtx.ContextID, m.queueCap)
	stats := m.run(ctx, taskCtx, queue)
	if stats.handlerErr != nil {
		return nil, fmt.Errorf("taskmanager: handler failed: %w", stats.handlerErr)
	}

	if stats.messageOnly {
		return &wire.SendMessageResponse{Message: stats.lastMessage}, nil
	}

	task, err := m.store.GetTask(ctx, taskCtx.TaskID)
	if err != nil {
		return nil, fmt.Errorf("taskmanager: load final projection: %w", err)
	}
	return &wire.SendMessageResponse{Task: task}, nil
}

// SendMessageStream prepares req's task the same way SendMessage does,
// starts the handler run asynchronously, and returns a live Event Store
// subscription from version -1 so the caller observes every event the run
// produces, including the ones emitted before the subscription call
// returns.
func (m *Manager) SendMessageStream(ctx context.Context, req SendMessageRequest) (*eventstore.Subscription, error) {
	taskCtx, err := m.prepare(ctx, req)
	if err != nil {
		return nil, err
	}

	sub, err := m.store.Subscribe(ctx, taskCtx.TaskID, -1)
	if err != nil {
		return nil, fmt.Errorf("taskmanager: subscribe: %w", err)
	}

	queue := newEventQueue(taskCtx.TaskID, taskCtx.ContextID, m.queueCap)
	go m.run(context.WithoutCancel(ctx), taskCtx, queue)

	return sub, nil
}

// SubscribeToTask returns a full-replay-then-tail subscription for an
// already-existing task.
func (m *Manager) SubscribeToTask(ctx context.Context, taskID string) (*eventstore.Subscription, error) {
	exists, err := m.store.Exists(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	return m.store.Subscribe(ctx, taskID, -1)
}

// GetTask returns taskId's current projection.
func (m *Manager) GetTask(ctx context.Context, taskID string) (*wire.Task, error) {
	task, err := m.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	return task, nil
}

// ListTasks delegates to the Event Store's List.
func (m *Manager) ListTasks(ctx context.Context, filter eventstore.ListFilter) (eventstore.ListResult, error) {
	return m.store.List(ctx, filter)
}

// CancelTask loads taskId's projection, fails ErrTaskNotCancelable if it is
// already terminal, invokes the handler's Cancel entry point (if the task
// is running in this process), and waits up to the grace window for a
// terminal event before forcing one.
func (m *Manager) CancelTask(ctx context.Context, taskID string) (*wire.Task, error) {
	task, err := m.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	if task.Status.State.Terminal() {
		return nil, ErrTaskNotCancelable
	}

	m.mu.Lock()
	rt, ok := m.running[taskID]
	m.mu.Unlock()

	if ok {
		rt.cancel()
		handlerDone := make(chan struct{})
		go func() {
			defer close(handlerDone)
			_ = m.handler.Cancel(context.WithoutCancel(ctx), rt.taskCtx, rt.queue)
		}()
		select {
		case <-handlerDone:
		case <-time.After(m.graceWindow):
		}
	}

	return m.awaitTerminalOrForce(ctx, taskID, task.ContextID)
}

// prepare implements sendMessage orchestration steps 1-2: load-or-create
// the task, establish its Context, and append the event that records the
// inbound message.
func (m *Manager) prepare(ctx context.Context, req SendMessageRequest) (*Context, error) {
	if err := wire.ValidateMessage(req.Message); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	if req.Message.TaskID != "" {
		prior, err := m.store.GetTask(ctx, req.Message.TaskID)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, req.Message.TaskID)
		}
		if prior.Status.State.Terminal() {
			return nil, fmt.Errorf("%w: task %s is already terminal", ErrTaskTerminal, prior.ID)
		}

		msg := *req.Message
		msg.ContextID = prior.ContextID
		if _, err := m.store.Append(ctx, prior.ID, wire.Event{Message: &msg}, nil); err != nil {
			return nil, fmt.Errorf("taskmanager: append continuation message: %w", err)
		}

		return &Context{
			TaskID:            prior.ID,
			ContextID:         prior.ContextID,
			UserMessage:       &msg,
			PriorTaskSnapshot: prior,
			IsContinuation:    true,
		}, nil
	}

	taskID := uuid.New().String()
	contextID := req.Message.ContextID
	if contextID == "" {
		contextID = uuid.New().String()
	}

	msg := *req.Message
	msg.TaskID = taskID
	msg.ContextID = contextID

	initial := &wire.Task{
		ID:        taskID,
		ContextID: contextID,
		Status:    wire.TaskStatus{State: wire.TaskStateSubmitted, Timestamp: rfc3339Now()},
		History:   []*wire.Message{&msg},
	}
	if _, err := m.store.Append(ctx, taskID, wire.Event{TaskSnapshot: initial}, nil); err != nil {
		return nil, fmt.Errorf("taskmanager: append initial snapshot: %w", err)
	}

	return &Context{
		TaskID:         taskID,
		ContextID:      contextID,
		UserMessage:    &msg,
		IsContinuation: false,
	}, nil
}

// runStats summarizes what a run produced, enough to shape SendMessage's
// response per the exactly-one-of rule, plus any error the handler raised
// so the caller boundary can surface it alongside the stored FAILED event.
type runStats struct {
	messageOnly bool
	lastMessage *wire.Message
	handlerErr  error
}

// run drives one handler execution end to end: register it as running,
// drain its queue into the store, wait for completion or caller
// cancellation, and append a FAILED status if the handler errors or
// panics.
func (m *Manager) run(parentCtx context.Context, taskCtx *Context, queue *EventQueue) runStats {
	spanCtx, span := m.tracer.Start(parentCtx, telemetry.SpanRun())
	defer span.End()

	runCtx, cancel := context.WithCancel(spanCtx)
	defer cancel()

	m.mu.Lock()
	m.running[taskCtx.TaskID] = &runningTask{taskCtx: taskCtx, queue: queue, cancel: cancel}
	m.metrics.RecordGauge(telemetry.MetricActiveTasks, float64(len(m.running)))
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		delete(m.running, taskCtx.TaskID)
		m.metrics.RecordGauge(telemetry.MetricActiveTasks, float64(len(m.running)))
		m.mu.Unlock()
	}()

	drainDone := make(chan runStats, 1)
	go func() {
		drainDone <- m.drainQueue(context.WithoutCancel(parentCtx), taskCtx, queue)
	}()

	handlerDone := make(chan error, 1)
	go func() {
		var runErr error
		func() {
			defer func() {
				if r := recover(); r != nil {
					runErr = fmt.Errorf("handler panic: %v", r)
				}
			}()
			runErr = m.handler.Execute(runCtx, taskCtx, queue)
		}()
		handlerDone <- runErr
	}()

	var handlerErr error
	select {
	case handlerErr = <-handlerDone:
	case <-parentCtx.Done():
		handlerErr = m.forceCancelOnContextDone(parentCtx, taskCtx, queue, handlerDone)
	}

	queue.Complete()
	stats := <-drainDone

	if handlerErr != nil {
		m.logger.Error(parentCtx, "taskmanager: handler failed", "taskId", taskCtx.TaskID, "error", handlerErr.Error())
		m.metrics.IncCounter(telemetry.MetricHandlerErrors, 1, "taskId", taskCtx.TaskID)
		m.appendFailure(taskCtx, handlerErr)
	}
	stats.handlerErr = handlerErr
	return stats
}

// drainQueue is the Agent Event Queue's sole reader: it appends every
// event the handler emits, in order, and tracks whether the run produced
// exactly one Message and no TaskSnapshot.
func (m *Manager) drainQueue(ctx context.Context, taskCtx *Context, queue *EventQueue) runStats {
	var stats runStats
	snapshotCount := 0
	messageCount := 0

	for e := range queue.events() {
		if _, err := m.store.Append(ctx, taskCtx.TaskID, e, nil); err != nil {
			m.logger.Error(ctx, "taskmanager: append failed", "taskId", taskCtx.TaskID, "error", err.Error())
			continue
		}
		kind := e.Case()
		m.metrics.IncCounter(telemetry.MetricEventsAppended, 1, "kind", kind.String())
		switch kind {
		case wire.EventKindMessage:
			messageCount++
			stats.lastMessage = e.Message
		case wire.EventKindTaskSnapshot:
			snapshotCount++
		}
	}

	stats.messageOnly = snapshotCount == 0 && messageCount == 1
	return stats
}

// forceCancelOnContextDone implements the lifecycle rule that a canceled
// caller context invokes the handler's cancel entry point and forces a
// CANCELED terminal event if the handler does not reach one within the
// grace window.
func (m *Manager) forceCancelOnContextDone(parentCtx context.Context, taskCtx *Context, queue *EventQueue, handlerDone <-chan error) error {
	detached := context.WithoutCancel(parentCtx)
	go func() { _ = m.handler.Cancel(detached, taskCtx, queue) }()

	select {
	case err := <-handlerDone:
		return err
	case <-time.After(m.graceWindow):
		m.forceTerminal(taskCtx, wire.TaskStateCanceled)
		return parentCtx.Err()
	}
}

// appendFailure records a handler error as a terminal FAILED status. It
// tolerates the task already being terminal (the handler may have reached
// one on its own just before erroring).
func (m *Manager) appendFailure(taskCtx *Context, err error) {
	text := err.Error()
	status := wire.TaskStatus{
		State:     wire.TaskStateFailed,
		Timestamp: rfc3339Now(),
		Message: &wire.Message{
			Role:      wire.RoleAgent,
			MessageID: uuid.New().String(),
			TaskID:    taskCtx.TaskID,
			ContextID: taskCtx.ContextID,
			Parts:     []*wire.Part{{Text: &text}},
		},
	}
	event := wire.Event{StatusUpdate: &wire.StatusUpdate{
		TaskID:    taskCtx.TaskID,
		ContextID: taskCtx.ContextID,
		Status:    status,
		Final:     true,
	}}
	_, _ = m.store.Append(context.Background(), taskCtx.TaskID, event, nil)
}

// forceTerminal appends a terminal StatusUpdate directly, ignoring
// ErrTerminal (a race where the task reached it independently).
func (m *Manager) forceTerminal(taskCtx *Context, state wire.TaskState) {
	event := wire.Event{StatusUpdate: &wire.StatusUpdate{
		TaskID:    taskCtx.TaskID,
		ContextID: taskCtx.ContextID,
		Status:    wire.TaskStatus{State: state, Timestamp: rfc3339Now()},
		Final:     true,
	}}
	_, _ = m.store.Append(context.Background(), taskCtx.TaskID, event, nil)
}

// awaitTerminalOrForce subscribes to the remainder of taskId's log and
// waits up to the grace window for a terminal event, forcing CANCELED if
// none arrives.
func (m *Manager) awaitTerminalOrForce(ctx context.Context, taskID, contextID string) (*wire.Task, error) {
	version, err := m.store.LatestVersion(ctx, taskID)
	if err != nil {
		return nil, err
	}

	sub, err := m.store.Subscribe(ctx, taskID, version-1)
	if err != nil {
		return nil, err
	}
	defer sub.Close()

	deadline := time.After(m.graceWindow)
	for {
		select {
		case e, ok := <-sub.Events():
			if !ok {
				return m.store.GetTask(ctx, taskID)
			}
			if su := e.Event.StatusUpdate; su != nil && su.Final {
				return m.store.GetTask(ctx, taskID)
			}
		case <-deadline:
			m.forceTerminal(&Context{TaskID: taskID, ContextID: contextID}, wire.TaskStateCanceled)
			return m.store.GetTask(ctx, taskID)
		}
	}
}

func rfc3339Now() string {
	return time.Now().UTC().Format(time.RFC3339)
}
