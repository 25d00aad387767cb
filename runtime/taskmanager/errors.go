package taskmanager

import "errors"

var (
	// ErrTaskNotFound is returned when an operation addresses a task that
	// does not exist.
	ErrTaskNotFound = errors.New("taskmanager: task not found")
	// ErrTaskNotCancelable is returned by CancelTask when the task's
	// projected state is already terminal.
	ErrTaskNotCancelable = errors.New("taskmanager: task is not cancelable")
	// ErrInvalidRequest is returned when a sendMessage request fails
	// structural validation (a malformed message) or otherwise violates the
	// orchestration's preconditions.
	ErrInvalidRequest = errors.New("taskmanager: invalid request")
	// ErrTaskTerminal is returned when a sendMessage request attempts to
	// continue a task whose projection is already terminal. Distinct from
	// ErrInvalidRequest so the dispatcher can map it to INVALID_REQUEST
	// (-32600) rather than INVALID_PARAMS (-32602): the params are
	// well-formed, the request is simply inapplicable to the task's state.
	ErrTaskTerminal = errors.New("taskmanager: task is already terminal")
)
