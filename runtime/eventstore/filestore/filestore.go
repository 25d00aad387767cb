// Package filestore is a durable eventstore.Store backend using the
// literal on-disk layout spec.md describes: one append-only JSON-lines
// file per task's event log, one atomically-replaced JSON file per task's
// materialized projection, and one plain-text index file per context
// listing its member task ids. It is useful wherever a single embedded
// bolt file is undesirable, for example external tooling that tails the
// .jsonl log directly.
package filestore

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"goa.design/a2a-engine/runtime/eventstore"
	"goa.design/a2a-engine/runtime/wire"
)

// Store is the filesystem-backed eventstore.Store implementation.
type Store struct {
	baseDir string

	mu    sync.Mutex
	tasks map[string]*taskMeta
}

// taskMeta caches a task's event count and contextID so Append does not
// need to re-scan its log file on every call; the per-task mu serializes
// Append's read-check-write critical section exactly as the in-memory
// store's per-task mutex does.
type taskMeta struct {
	mu        sync.Mutex
	count     int64
	contextID string
}

type fileLine struct {
	Version int64     `json:"version"`
	Event   wire.Event `json:"event"`
}

// New constructs a Store rooted at baseDir, creating the events/,
// projections/, and indexes/ subdirectories if they do not exist.
func New(baseDir string) (*Store, error) {
	for _, sub := range []string{"events", "projections", "indexes"} {
		if err := os.MkdirAll(filepath.Join(baseDir, sub), 0o755); err != nil {
			return nil, fmt.Errorf("filestore: create %s: %w", sub, err)
		}
	}
	return &Store{baseDir: baseDir, tasks: make(map[string]*taskMeta)}, nil
}

func (s *Store) eventsPath(taskID string) string {
	return filepath.Join(s.baseDir, "events", taskID+".jsonl")
}

func (s *Store) projPath(taskID string) string {
	return filepath.Join(s.baseDir, "projections", taskID+".json")
}

func (s *Store) contextIndexPath(contextID string) string {
	return filepath.Join(s.baseDir, "indexes", "context_"+contextID+".idx")
}

// metaFor returns the cached taskMeta for taskID, populating it from disk
// on first access.
func (s *Store) metaFor(taskID string) *taskMeta {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.tasks[taskID]; ok {
		return m
	}
	m := &taskMeta{}
	if proj, err := s.readProjection(taskID); err == nil && proj != nil {
		m.contextID = proj.ContextID
	}
	if n, err := s.countEvents(taskID); err == nil {
		m.count = n
	}
	s.tasks[taskID] = m
	return m
}

func (s *Store) countEvents(taskID string) (int64, error) {
	f, err := os.Open(s.eventsPath(taskID))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	defer f.Close()

	var n int64
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		n++
	}
	return n, scanner.Err()
}

func (s *Store) readProjection(taskID string) (*wire.Task, error) {
	data, err := os.ReadFile(s.projPath(taskID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var t wire.Task
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("filestore: decode projection %s: %w", taskID, err)
	}
	return &t, nil
}

// writeProjectionAtomic writes t to a temp file in the same directory and
// renames it into place, so a reader never observes a partially-written
// projection.
func (s *Store) writeProjectionAtomic(taskID string, t *wire.Task) error {
	data, err := json.Marshal(t)
	if err != nil {
		return err
	}
	final := s.projPath(taskID)
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, final)
}

func (s *Store) appendEventLine(taskID string, version int64, event wire.Event) error {
	f, err := os.OpenFile(s.eventsPath(taskID), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	line, err := json.Marshal(fileLine{Version: version, Event: event})
	if err != nil {
		return err
	}
	_, err = f.Write(append(line, '\n'))
	return err
}

func (s *Store) appendContextIndex(contextID, taskID string) error {
	f, err := os.OpenFile(s.contextIndexPath(contextID), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteString(taskID + "\n")
	return err
}

func (s *Store) contextTaskIDs(contextID string) ([]string, error) {
	data, err := os.ReadFile(s.contextIndexPath(contextID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	seen := make(map[string]struct{}, len(lines))
	var ids []string
	for _, l := range lines {
		if l == "" {
			continue
		}
		if _, ok := seen[l]; ok {
			continue
		}
		seen[l] = struct{}{}
		ids = append(ids, l)
	}
	return ids, nil
}

func (s *Store) allTaskIDs() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.baseDir, "projections"))
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasSuffix(name, ".json") && !strings.HasSuffix(name, ".tmp") {
			ids = append(ids, strings.TrimSuffix(name, ".json"))
		}
	}
	return ids, nil
}

// Append implements eventstore.Store.
func (s *Store) Append(_ context.Context, taskID string, event wire.Event, expectedVersion *int64) (int64, error) {
	if event.Case() == wire.EventKindInvalid {
		return 0, fmt.Errorf("%w: exactly one event variant must be set", eventstore.ErrInvalidEvent)
	}

	meta := s.metaFor(taskID)
	meta.mu.Lock()
	defer meta.mu.Unlock()

	current := meta.count
	if expectedVersion != nil && *expectedVersion != current {
		return 0, eventstore.ErrConcurrencyConflict
	}

	proj, err := s.readProjection(taskID)
	if err != nil {
		return 0, err
	}
	if proj != nil && proj.Status.State.Terminal() {
		return 0, eventstore.ErrTerminal
	}

	eventCtx, hasCtx := eventstore.EventContextID(event)
	if proj != nil && proj.ContextID != "" && hasCtx && eventCtx != proj.ContextID {
		return 0, eventstore.ErrContextMismatch
	}
	if su := event.StatusUpdate; su != nil && su.Final && !su.Status.State.Terminal() {
		return 0, fmt.Errorf("%w: final status update must carry a terminal state", eventstore.ErrInvalidEvent)
	}

	next, err := eventstore.Apply(proj, event)
	if err != nil {
		return 0, err
	}

	if err := s.appendEventLine(taskID, current, event); err != nil {
		return 0, fmt.Errorf("filestore: append event: %w", err)
	}
	if err := s.writeProjectionAtomic(taskID, next); err != nil {
		return 0, fmt.Errorf("filestore: write projection: %w", err)
	}
	if proj == nil && next != nil && next.ContextID != "" {
		if err := s.appendContextIndex(next.ContextID, taskID); err != nil {
			return 0, fmt.Errorf("filestore: index context: %w", err)
		}
	}

	meta.count++
	if next != nil {
		meta.contextID = next.ContextID
	}
	return current, nil
}

// Read implements eventstore.Store.
func (s *Store) Read(_ context.Context, taskID string, fromVersion int64) ([]eventstore.StoredEvent, error) {
	f, err := os.Open(s.eventsPath(taskID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var out []eventstore.StoredEvent
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		var line fileLine
		if err := json.Unmarshal(scanner.Bytes(), &line); err != nil {
			return nil, fmt.Errorf("filestore: decode event line: %w", err)
		}
		if line.Version > fromVersion {
			out = append(out, eventstore.StoredEvent{Version: line.Version, Event: line.Event})
		}
	}
	return out, scanner.Err()
}

// Subscribe implements eventstore.Store by polling Read, since plain files
// give this backend no in-process fan-out signal the way MemoryStore's
// taskRecord does.
func (s *Store) Subscribe(ctx context.Context, taskID string, afterVersion int64) (*eventstore.Subscription, error) {
	return eventstore.NewPollingSubscription(ctx, afterVersion, func(ctx context.Context, after int64) ([]eventstore.StoredEvent, error) {
		return s.Read(ctx, taskID, after)
	}, eventstore.DefaultPollInterval)
}

// Exists implements eventstore.Store.
func (s *Store) Exists(_ context.Context, taskID string) (bool, error) {
	return s.metaFor(taskID).count > 0, nil
}

// LatestVersion implements eventstore.Store.
func (s *Store) LatestVersion(_ context.Context, taskID string) (int64, error) {
	n := s.metaFor(taskID).count
	if n == 0 {
		return -1, nil
	}
	return n, nil
}

// GetTask implements eventstore.Store.
func (s *Store) GetTask(_ context.Context, taskID string) (*wire.Task, error) {
	proj, err := s.readProjection(taskID)
	if err != nil {
		return nil, err
	}
	if proj == nil {
		return nil, fmt.Errorf("%w: %s", eventstore.ErrNotFound, taskID)
	}
	return eventstore.CloneTask(proj), nil
}

// List implements eventstore.Store.
func (s *Store) List(_ context.Context, filter eventstore.ListFilter) (eventstore.ListResult, error) {
	pageSize := filter.PageSize
	if pageSize == 0 {
		pageSize = 50
	}
	if pageSize < 0 {
		return eventstore.ListResult{}, eventstore.ErrInvalidPageSize
	}
	if filter.HistoryLength != nil && *filter.HistoryLength < 0 {
		return eventstore.ListResult{}, eventstore.ErrInvalidHistoryLength
	}
	offset := 0
	if filter.PageToken != "" {
		n, err := eventstore.ParsePageToken(filter.PageToken)
		if err != nil {
			return eventstore.ListResult{}, eventstore.ErrInvalidPageToken
		}
		offset = n
	}

	var candidates []string
	var err error
	if filter.ContextID != "" {
		candidates, err = s.contextTaskIDs(filter.ContextID)
	} else {
		candidates, err = s.allTaskIDs()
	}
	if err != nil {
		return eventstore.ListResult{}, fmt.Errorf("filestore: list candidates: %w", err)
	}

	var matched []*wire.Task
	for _, id := range candidates {
		proj, err := s.readProjection(id)
		if err != nil || proj == nil {
			continue
		}
		if filter.HasStatus && proj.Status.State != filter.Status {
			continue
		}
		if filter.StatusTimestampAfter != "" && proj.Status.Timestamp <= filter.StatusTimestampAfter {
			continue
		}
		matched = append(matched, eventstore.CloneTask(proj))
	}

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
		eventstore.ApplyHistoryAndArtifacts(t, filter.HistoryLength, filter.IncludeArtifacts)
	}

	next := ""
	if end < total {
		next = eventstore.FormatPageToken(end)
	}

	return eventstore.ListResult{
		Tasks:         page,
		NextPageToken: next,
		TotalSize:     total,
		PageSize:      pageSize,
	}, nil
}
