package telemetry

// Metric names emitted by the engine. Tag conventions: "kind" for an
// event's wire.EventKind, "code" for a dispatcher error code, "method" for
// a JSON-RPC method name.
const (
	// MetricEventsAppended counts handler-emitted events the task manager
	// appended to the Event Store, tagged by kind. Events the manager
	// appends on its own (initial snapshot, continuation message, FAILED or
	// forced CANCELED status) are not counted.
	MetricEventsAppended = "a2a.eventstore.events_appended"
	// MetricHandlerErrors counts task runs that ended in a handler error
	// or panic.
	MetricHandlerErrors = "a2a.taskmanager.handler_errors"
	// MetricActiveTasks gauges the number of task runs currently in
	// flight within one Manager.
	MetricActiveTasks = "a2a.taskmanager.active_tasks"
	// MetricDispatchErrors counts Dispatch calls that returned a
	// JSON-RPC error, tagged by method and code.
	MetricDispatchErrors = "a2a.dispatcher.errors"
)

// SpanDispatch names the span wrapping one Dispatch call for method.
func SpanDispatch(method string) string { return "a2a.dispatcher.dispatch." + method }

// SpanRun names the span wrapping one task manager run.
func SpanRun() string { return "a2a.taskmanager.run" }
