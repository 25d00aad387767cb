// Package eventstore implements the A2A engine's append-only, per-task
// event log: optimistic-concurrency append, catch-up-then-tail
// subscription, a materialized projection cache, and indexed listing. The
// reference implementation is in-memory; runtime/eventstore/filestore and
// runtime/eventstore/boltstore provide durable backends behind the same
// Store interface.
package eventstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"goa.design/a2a-engine/runtime/wire"
)

var (
	// ErrConcurrencyConflict is returned by Append when expectedVersion does
	// not match the log's next slot.
	ErrConcurrencyConflict = errors.New("eventstore: concurrency conflict")
	// ErrTerminal is returned by Append when the task's projected state is
	// already terminal.
	ErrTerminal = errors.New("eventstore: task is in a terminal state")
	// ErrContextMismatch is returned when an event's contextId does not
	// match the task's established contextId.
	ErrContextMismatch = errors.New("eventstore: event contextId does not match task contextId")
	// ErrInvalidEvent is returned when an event fails a structural
	// invariant (for example, final=true with a non-terminal state).
	ErrInvalidEvent = errors.New("eventstore: invalid event")
	// ErrNotFound is returned by operations addressing a task that does
	// not exist.
	ErrNotFound = errors.New("eventstore: task not found")
	// ErrInvalidPageToken is returned by List for a malformed page token.
	ErrInvalidPageToken = errors.New("eventstore: invalid page token")
	// ErrInvalidPageSize is returned by List for a negative page size. A
	// zero page size is not rejected; it selects the default of 50.
	ErrInvalidPageSize = errors.New("eventstore: page size must not be negative")
	// ErrInvalidHistoryLength is returned by List for a negative history length.
	ErrInvalidHistoryLength = errors.New("eventstore: history length must not be negative")
)

// StoredEvent pairs a wire.Event with its zero-based version within a
// task's log.
type StoredEvent struct {
	// Version is the zero-based index of this event within the task's log.
	Version int64
	// Event is the event payload.
	Event wire.Event
}

// Store is the per-task append-only event log, projection cache, and
// subscriber fan-out. Implementations must give each task independent
// single-writer progress (a sharded or per-task mutex, never a global
// lock) and must never lose or duplicate a live event across concurrent
// subscribers.
type Store interface {
	// Append appends event to taskId's log. If expectedVersion is
	// non-nil and does not equal the log's current length, Append fails
	// with ErrConcurrencyConflict and makes no change. Append fails with
	// ErrTerminal if the task's projected state is already terminal.
	Append(ctx context.Context, taskID string, event wire.Event, expectedVersion *int64) (int64, error)

	// Read returns the events strictly after fromVersion, in order, up to
	// the current tip. It is finite and does not block.
	Read(ctx context.Context, taskID string, fromVersion int64) ([]StoredEvent, error)

	// Subscribe registers a live subscription for taskId beginning after
	// afterVersion (afterVersion = -1 replays the full log). The returned
	// Subscription first yields catch-up events from disk, then tails live
	// appends, de-duplicated by version. The subscription closes after
	// delivering a terminal event or when ctx is canceled.
	Subscribe(ctx context.Context, taskID string, afterVersion int64) (*Subscription, error)

	// Exists reports whether taskId has at least one event.
	Exists(ctx context.Context, taskID string) (bool, error)

	// LatestVersion returns the index of the next slot to be written, or
	// -1 if the task does not exist.
	LatestVersion(ctx context.Context, taskID string) (int64, error)

	// GetTask returns the materialized projection for taskId, or
	// ErrNotFound.
	GetTask(ctx context.Context, taskID string) (*wire.Task, error)

	// List returns tasks matching filter, paginated.
	List(ctx context.Context, filter ListFilter) (ListResult, error)
}

type (
	// ListFilter parameterizes List.
	ListFilter struct {
		// ContextID restricts results to a single context, using the
		// context index when set.
		ContextID string
		// Status restricts results to a single task state.
		Status wire.TaskState
		// HasStatus reports whether Status should be applied.
		HasStatus bool
		// StatusTimestampAfter restricts results to tasks whose status
		// timestamp (RFC3339) sorts after this value.
		StatusTimestampAfter string
		// PageSize caps the number of tasks returned; default 50 when zero.
		PageSize int
		// PageToken resumes a previous listing; empty starts from the top.
		PageToken string
		// HistoryLength controls how much history to include per task:
		// nil means full history, 0 drops it, k>0 keeps the last k
		// messages. Negative is rejected with ErrInvalidHistoryLength.
		HistoryLength *int
		// IncludeArtifacts includes each task's artifacts when true.
		IncludeArtifacts bool
	}

	// ListResult is the paginated result of List.
	ListResult struct {
		// Tasks is the page of matching tasks, most recently updated first.
		Tasks []*wire.Task
		// NextPageToken resumes after this page; empty when exhausted.
		NextPageToken string
		// TotalSize is the total number of tasks matching the filter,
		// independent of pagination.
		TotalSize int
		// PageSize is the effective page size applied.
		PageSize int
	}
)

// taskRecord holds the per-task mutable state: event log, projection, and
// subscriber registry. Append holds mu for the whole critical section
// described in spec §4.2.1; readers take a lock-free snapshot of events
// and projection via atomic pointers, so Read/GetTask/LatestVersion never
// contend with a concurrent Append on an unrelated task and observe a
// single consistent snapshot on their own task.
type taskRecord struct {
	mu sync.Mutex // serializes Append only; readers never take this lock

	events     atomic.Pointer[[]StoredEvent]
	projection atomic.Pointer[wire.Task]

	subMu     sync.Mutex
	subNotify map[*Subscription]chan struct{}
}

func newTaskRecord() *taskRecord {
	tr := &taskRecord{subNotify: make(map[*Subscription]chan struct{})}
	empty := []StoredEvent{}
	tr.events.Store(&empty)
	return tr
}

func (tr *taskRecord) snapshotEvents() []StoredEvent {
	return *tr.events.Load()
}

func (tr *taskRecord) snapshotProjection() *wire.Task {
	return tr.projection.Load()
}

// MemoryStore is the in-memory reference implementation of Store.
type MemoryStore struct {
	mu      sync.RWMutex // protects tasks and contextIndex membership only
	tasks   map[string]*taskRecord
	byCtx   map[string]map[string]struct{}
}

// NewMemoryStore constructs an empty in-memory Store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tasks: make(map[string]*taskRecord),
		byCtx: make(map[string]map[string]struct{}),
	}
}

func (m *MemoryStore) recordFor(taskID string) *taskRecord {
	m.mu.RLock()
	tr, ok := m.tasks[taskID]
	m.mu.RUnlock()
	if ok {
		return tr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	tr, ok = m.tasks[taskID]
	if ok {
		return tr
	}
	tr = newTaskRecord()
	m.tasks[taskID] = tr
	return tr
}

func (m *MemoryStore) indexContext(taskID, contextID string) {
	if contextID == "" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.byCtx[contextID]
	if !ok {
		set = make(map[string]struct{})
		m.byCtx[contextID] = set
	}
	set[taskID] = struct{}{}
}

// Append implements Store.
func (m *MemoryStore) Append(_ context.Context, taskID string, event wire.Event, expectedVersion *int64) (int64, error) {
	if event.Case() == wire.EventKindInvalid {
		return 0, fmt.Errorf("%w: exactly one event variant must be set", ErrInvalidEvent)
	}

	tr := m.recordFor(taskID)
	tr.mu.Lock()
	defer tr.mu.Unlock()

	events := tr.snapshotEvents()
	current := int64(len(events))
	if expectedVersion != nil && *expectedVersion != current {
		return 0, ErrConcurrencyConflict
	}

	projection := tr.snapshotProjection()
	if projection != nil && projection.Status.State.Terminal() {
		return 0, ErrTerminal
	}

	eventCtx, hasCtx := eventContextID(event)
	if projection != nil && projection.ContextID != "" && hasCtx && eventCtx != projection.ContextID {
		return 0, ErrContextMismatch
	}

	if su := event.StatusUpdate; su != nil && su.Final && !su.Status.State.Terminal() {
		return 0, fmt.Errorf("%w: final status update must carry a terminal state", ErrInvalidEvent)
	}

	next, err := Apply(projection, event)
	if err != nil {
		return 0, err
	}

	newEvents := append(append([]StoredEvent{}, events...), StoredEvent{Version: current, Event: event})
	tr.events.Store(&newEvents)
	tr.projection.Store(next)

	if projection == nil && next != nil && next.ContextID != "" {
		m.indexContext(taskID, next.ContextID)
	}

	tr.notify(StoredEvent{Version: current, Event: event})
	return current, nil
}

// Read implements Store.
func (m *MemoryStore) Read(_ context.Context, taskID string, fromVersion int64) ([]StoredEvent, error) {
	m.mu.RLock()
	tr, ok := m.tasks[taskID]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, taskID)
	}
	events := tr.snapshotEvents()
	out := make([]StoredEvent, 0, len(events))
	for _, e := range events {
		if e.Version > fromVersion {
			out = append(out, e)
		}
	}
	return out, nil
}

// Exists implements Store. A task that has been registered for
// subscription (Subscribe auto-vivifies an empty record so a caller can
// subscribe ahead of the first append) but never appended to does not
// count as existing.
func (m *MemoryStore) Exists(_ context.Context, taskID string) (bool, error) {
	m.mu.RLock()
	tr, ok := m.tasks[taskID]
	m.mu.RUnlock()
	if !ok {
		return false, nil
	}
	return len(tr.snapshotEvents()) > 0, nil
}

// LatestVersion implements Store.
func (m *MemoryStore) LatestVersion(_ context.Context, taskID string) (int64, error) {
	m.mu.RLock()
	tr, ok := m.tasks[taskID]
	m.mu.RUnlock()
	if !ok {
		return -1, nil
	}
	n := int64(len(tr.snapshotEvents()))
	if n == 0 {
		return -1, nil
	}
	return n, nil
}

// GetTask implements Store.
func (m *MemoryStore) GetTask(_ context.Context, taskID string) (*wire.Task, error) {
	m.mu.RLock()
	tr, ok := m.tasks[taskID]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, taskID)
	}
	proj := tr.snapshotProjection()
	if proj == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, taskID)
	}
	return cloneTask(proj), nil
}

// List implements Store.
func (m *MemoryStore) List(_ context.Context, filter ListFilter) (ListResult, error) {
	pageSize := filter.PageSize
	if pageSize == 0 {
		pageSize = 50
	}
	if pageSize < 0 {
		return ListResult{}, ErrInvalidPageSize
	}
	if filter.HistoryLength != nil && *filter.HistoryLength < 0 {
		return ListResult{}, ErrInvalidHistoryLength
	}
	offset := 0
	if filter.PageToken != "" {
		n, err := parsePageToken(filter.PageToken)
		if err != nil {
			return ListResult{}, ErrInvalidPageToken
		}
		offset = n
	}

	candidates := m.candidateIDs(filter.ContextID)

	m.mu.RLock()
	var matched []*wire.Task
	for _, id := range candidates {
		tr, ok := m.tasks[id]
		if !ok {
			continue
		}
		proj := tr.snapshotProjection()
		if proj == nil {
			continue
		}
		if filter.HasStatus && proj.Status.State != filter.Status {
			continue
		}
		if filter.StatusTimestampAfter != "" && proj.Status.Timestamp <= filter.StatusTimestampAfter {
			continue
		}
		matched = append(matched, cloneTask(proj))
	}
	m.mu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool {
		ti, tj := matched[i].Status.Timestamp, matched[j].Status.Timestamp
		if ti == "" && tj == "" {
			return matched[i].ID < matched[j].ID
		}
		if ti == "" {
			return false
		}
		if tj == "" {
			return true
		}
		if ti != tj {
			return ti > tj
		}
		return matched[i].ID < matched[j].ID
	})

	total := len(matched)
	end := offset + pageSize
	if end > total {
		end = total
	}
	var page []*wire.Task
	if offset < total {
		page = matched[offset:end]
	}
	for _, t := range page {
		applyHistoryAndArtifacts(t, filter.HistoryLength, filter.IncludeArtifacts)
	}

	next := ""
	if end < total {
		next = formatPageToken(end)
	}

	return ListResult{
		Tasks:         page,
		NextPageToken: next,
		TotalSize:     total,
		PageSize:      pageSize,
	}, nil
}

// candidateIDs resolves the most selective index available: the context
// index when ContextID is set, otherwise a full scan of all known tasks.
// Tasks lacking a contextId are never included by a contextId-scoped
// search (spec Open Question, resolved: excluded).
func (m *MemoryStore) candidateIDs(contextID string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if contextID != "" {
		set := m.byCtx[contextID]
		ids := make([]string, 0, len(set))
		for id := range set {
			ids = append(ids, id)
		}
		return ids
	}
	ids := make([]string, 0, len(m.tasks))
	for id := range m.tasks {
		ids = append(ids, id)
	}
	return ids
}

func parsePageToken(tok string) (int, error) {
	var n int
	if _, err := fmt.Sscanf(tok, "%d", &n); err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, ErrInvalidPageToken
	}
	return n, nil
}

func formatPageToken(n int) string {
	return fmt.Sprintf("%d", n)
}

func applyHistoryAndArtifacts(t *wire.Task, historyLength *int, includeArtifacts bool) {
	if historyLength != nil {
		k := *historyLength
		if k == 0 {
			t.History = nil
		} else if k < len(t.History) {
			t.History = append([]*wire.Message{}, t.History[len(t.History)-k:]...)
		}
	}
	if !includeArtifacts {
		t.Artifacts = nil
	}
}

// eventContextID extracts the contextId carried by whichever variant of
// event is set.
func eventContextID(event wire.Event) (string, bool) {
	switch {
	case event.TaskSnapshot != nil:
		return event.TaskSnapshot.ContextID, event.TaskSnapshot.ContextID != ""
	case event.StatusUpdate != nil:
		return event.StatusUpdate.ContextID, event.StatusUpdate.ContextID != ""
	case event.ArtifactUpdate != nil:
		return event.ArtifactUpdate.ContextID, event.ArtifactUpdate.ContextID != ""
	case event.Message != nil:
		return event.Message.ContextID, event.Message.ContextID != ""
	default:
		return "", false
	}
}

func cloneTask(t *wire.Task) *wire.Task {
	if t == nil {
		return nil
	}
	cp := *t
	cp.History = append([]*wire.Message{}, t.History...)
	cp.Artifacts = append([]*wire.Artifact{}, t.Artifacts...)
	if t.Metadata != nil {
		cp.Metadata = make(map[string]any, len(t.Metadata))
		for k, v := range t.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}
