// Package boltstore is an embedded, durable eventstore.Store backend using
// go.etcd.io/bbolt. Events live in one nested bucket per task (keyed by
// big-endian version number), the latest projection per task lives in a
// shared projections bucket, and context membership lives in a shared
// contexts bucket — the same three-part event/projection/index layout
// spec.md describes for the file-backed reference, inside one database
// file instead of three directory trees.
package boltstore

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	bolt "go.etcd.io/bbolt"

	"goa.design/a2a-engine/runtime/eventstore"
	"goa.design/a2a-engine/runtime/wire"
)

var (
	bucketEvents      = []byte("events")
	bucketProjections = []byte("projections")
	bucketContexts    = []byte("contexts")
)

// Store is the bbolt-backed eventstore.Store implementation.
type Store struct {
	db *bolt.DB

	mu    sync.Mutex
	tasks map[string]*sync.Mutex
}

// New opens (creating if absent) a bbolt database at path and prepares its
// top-level buckets.
func New(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("boltstore: open %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketEvents, bucketProjections, bucketContexts} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("boltstore: init buckets: %w", err)
	}
	return &Store{db: db, tasks: make(map[string]*sync.Mutex)}, nil
}

// Close releases the underlying database file.
func (s *Store) Close() error { return s.db.Close() }

// taskLock returns the per-task mutex serializing the read of "current
// version" with the transaction that appends it. bbolt's single writer is
// process-wide, not per-task, so without this a burst of appends across
// unrelated tasks would serialize on bbolt's writer lock one at a time in
// submission order; the mutex only changes which task's transaction goes
// first, not whether they can run concurrently with bbolt, so it costs
// nothing beyond what bbolt already imposes while keeping the version-check
// race-free per task.
func (s *Store) taskLock(taskID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.tasks[taskID]
	if !ok {
		l = &sync.Mutex{}
		s.tasks[taskID] = l
	}
	return l
}

func versionKey(v int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(v))
	return b
}

func decodeVersionKey(b []byte) int64 {
	return int64(binary.BigEndian.Uint64(b))
}

type storedLine struct {
	Event wire.Event `json:"event"`
}

// Append implements eventstore.Store.
func (s *Store) Append(_ context.Context, taskID string, event wire.Event, expectedVersion *int64) (int64, error) {
	if event.Case() == wire.EventKindInvalid {
		return 0, fmt.Errorf("%w: exactly one event variant must be set", eventstore.ErrInvalidEvent)
	}

	lock := s.taskLock(taskID)
	lock.Lock()
	defer lock.Unlock()

	var assigned int64
	err := s.db.Update(func(tx *bolt.Tx) error {
		taskEvents, err := tx.Bucket(bucketEvents).CreateBucketIfNotExists([]byte(taskID))
		if err != nil {
			return err
		}
		current := int64(taskEvents.Stats().KeyN)

		if expectedVersion != nil && *expectedVersion != current {
			return eventstore.ErrConcurrencyConflict
		}

		proj, err := readProjection(tx, taskID)
		if err != nil {
			return err
		}
		if proj != nil && proj.Status.State.Terminal() {
			return eventstore.ErrTerminal
		}

		eventCtx, hasCtx := eventstore.EventContextID(event)
		if proj != nil && proj.ContextID != "" && hasCtx && eventCtx != proj.ContextID {
			return eventstore.ErrContextMismatch
		}
		if su := event.StatusUpdate; su != nil && su.Final && !su.Status.State.Terminal() {
			return fmt.Errorf("%w: final status update must carry a terminal state", eventstore.ErrInvalidEvent)
		}

		next, err := eventstore.Apply(proj, event)
		if err != nil {
			return err
		}

		data, err := json.Marshal(storedLine{Event: event})
		if err != nil {
			return err
		}
		if err := taskEvents.Put(versionKey(current), data); err != nil {
			return err
		}
		if err := writeProjection(tx, taskID, next); err != nil {
			return err
		}
		if proj == nil && next != nil && next.ContextID != "" {
			if err := indexContext(tx, next.ContextID, taskID); err != nil {
				return err
			}
		}

		assigned = current
		return nil
	})
	if err != nil {
		return 0, err
	}
	return assigned, nil
}

// Read implements eventstore.Store.
func (s *Store) Read(_ context.Context, taskID string, fromVersion int64) ([]eventstore.StoredEvent, error) {
	var out []eventstore.StoredEvent
	err := s.db.View(func(tx *bolt.Tx) error {
		taskEvents := tx.Bucket(bucketEvents).Bucket([]byte(taskID))
		if taskEvents == nil {
			return nil
		}
		c := taskEvents.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			version := decodeVersionKey(k)
			if version <= fromVersion {
				continue
			}
			var line storedLine
			if err := json.Unmarshal(v, &line); err != nil {
				return fmt.Errorf("boltstore: decode event %s@%d: %w", taskID, version, err)
			}
			out = append(out, eventstore.StoredEvent{Version: version, Event: line.Event})
		}
		return nil
	})
	return out, err
}

// Subscribe implements eventstore.Store by polling Read: bbolt has no
// native change-notification mechanism, so this backend drives the same
// poll loop as filestore.
func (s *Store) Subscribe(ctx context.Context, taskID string, afterVersion int64) (*eventstore.Subscription, error) {
	return eventstore.NewPollingSubscription(ctx, afterVersion, func(ctx context.Context, after int64) ([]eventstore.StoredEvent, error) {
		return s.Read(ctx, taskID, after)
	}, eventstore.DefaultPollInterval)
}

// Exists implements eventstore.Store.
func (s *Store) Exists(_ context.Context, taskID string) (bool, error) {
	var exists bool
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEvents).Bucket([]byte(taskID))
		exists = b != nil && b.Stats().KeyN > 0
		return nil
	})
	return exists, err
}

// LatestVersion implements eventstore.Store.
func (s *Store) LatestVersion(_ context.Context, taskID string) (int64, error) {
	var n int64
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEvents).Bucket([]byte(taskID))
		if b != nil {
			n = int64(b.Stats().KeyN)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return -1, nil
	}
	return n, nil
}

// GetTask implements eventstore.Store.
func (s *Store) GetTask(_ context.Context, taskID string) (*wire.Task, error) {
	var task *wire.Task
	err := s.db.View(func(tx *bolt.Tx) error {
		proj, err := readProjection(tx, taskID)
		if err != nil {
			return err
		}
		task = proj
		return nil
	})
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, fmt.Errorf("%w: %s", eventstore.ErrNotFound, taskID)
	}
	return eventstore.CloneTask(task), nil
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

	var matched []*wire.Task
	err := s.db.View(func(tx *bolt.Tx) error {
		candidates, err := candidateIDs(tx, filter.ContextID)
		if err != nil {
			return err
		}
		for _, id := range candidates {
			proj, err := readProjection(tx, id)
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
		return nil
	})
	if err != nil {
		return eventstore.ListResult{}, err
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

func readProjection(tx *bolt.Tx, taskID string) (*wire.Task, error) {
	data := tx.Bucket(bucketProjections).Get([]byte(taskID))
	if data == nil {
		return nil, nil
	}
	var t wire.Task
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("boltstore: decode projection %s: %w", taskID, err)
	}
	return &t, nil
}

func writeProjection(tx *bolt.Tx, taskID string, t *wire.Task) error {
	data, err := json.Marshal(t)
	if err != nil {
		return err
	}
	return tx.Bucket(bucketProjections).Put([]byte(taskID), data)
}

// indexContext appends taskID to contextID's sorted, deduplicated member
// list, stored as a newline-joined string under the contexts bucket.
func indexContext(tx *bolt.Tx, contextID, taskID string) error {
	b := tx.Bucket(bucketContexts)
	existing := b.Get([]byte(contextID))
	ids := map[string]struct{}{}
	if existing != nil {
		for _, id := range strings.Split(string(existing), "\n") {
			if id != "" {
				ids[id] = struct{}{}
			}
		}
	}
	ids[taskID] = struct{}{}
	sorted := make([]string, 0, len(ids))
	for id := range ids {
		sorted = append(sorted, id)
	}
	sort.Strings(sorted)
	return b.Put([]byte(contextID), []byte(strings.Join(sorted, "\n")))
}

func candidateIDs(tx *bolt.Tx, contextID string) ([]string, error) {
	if contextID != "" {
		data := tx.Bucket(bucketContexts).Get([]byte(contextID))
		if data == nil {
			return nil, nil
		}
		return strings.Split(string(data), "\n"), nil
	}
	var ids []string
	err := tx.Bucket(bucketProjections).ForEach(func(k, _ []byte) error {
		ids = append(ids, string(k))
		return nil
	})
	return ids, err
}
