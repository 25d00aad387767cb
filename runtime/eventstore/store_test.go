package eventstore

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"

	"goa.design/a2a-engine/runtime/wire"
)

func snapshotEvent(id, ctx string) wire.Event {
	return wire.Event{TaskSnapshot: &wire.Task{ID: id, ContextID: ctx, Status: wire.TaskStatus{State: wire.TaskStateSubmitted}}}
}

func statusEvent(id, ctx string, state wire.TaskState, final bool) wire.Event {
	return wire.Event{StatusUpdate: &wire.StatusUpdate{TaskID: id, ContextID: ctx, Status: wire.TaskStatus{State: state}, Final: final}}
}

func TestAppendAssignsSequentialVersions(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	v0, err := s.Append(ctx, "t1", snapshotEvent("t1", "c1"), nil)
	require.NoError(t, err)
	require.Equal(t, int64(0), v0)

	v1, err := s.Append(ctx, "t1", statusEvent("t1", "c1", wire.TaskStateWorking, false), nil)
	require.NoError(t, err)
	require.Equal(t, int64(1), v1)
}

func TestAppendRejectsConcurrencyConflict(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	_, err := s.Append(ctx, "t1", snapshotEvent("t1", "c1"), nil)
	require.NoError(t, err)

	bad := int64(5)
	_, err = s.Append(ctx, "t1", statusEvent("t1", "c1", wire.TaskStateWorking, false), &bad)
	require.ErrorIs(t, err, ErrConcurrencyConflict)
}

func TestAppendRejectsAfterTerminal(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	_, err := s.Append(ctx, "t1", snapshotEvent("t1", "c1"), nil)
	require.NoError(t, err)
	_, err = s.Append(ctx, "t1", statusEvent("t1", "c1", wire.TaskStateCompleted, true), nil)
	require.NoError(t, err)

	_, err = s.Append(ctx, "t1", statusEvent("t1", "c1", wire.TaskStateWorking, false), nil)
	require.ErrorIs(t, err, ErrTerminal)
}

func TestAppendRejectsNonTerminalFinal(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	_, err := s.Append(ctx, "t1", snapshotEvent("t1", "c1"), nil)
	require.NoError(t, err)
	_, err = s.Append(ctx, "t1", statusEvent("t1", "c1", wire.TaskStateWorking, true), nil)
	require.ErrorIs(t, err, ErrInvalidEvent)
}

func TestAppendRejectsContextMismatch(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	_, err := s.Append(ctx, "t1", snapshotEvent("t1", "c1"), nil)
	require.NoError(t, err)
	_, err = s.Append(ctx, "t1", statusEvent("t1", "other-ctx", wire.TaskStateWorking, false), nil)
	require.ErrorIs(t, err, ErrContextMismatch)
}

func TestReplayMatchesProjection(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	_, _ = s.Append(ctx, "t1", snapshotEvent("t1", "c1"), nil)
	_, _ = s.Append(ctx, "t1", statusEvent("t1", "c1", wire.TaskStateCompleted, true), nil)

	events, err := s.Read(ctx, "t1", -1)
	require.NoError(t, err)

	var replayed *wire.Task
	for _, e := range events {
		var err error
		replayed, err = Apply(replayed, e.Event)
		require.NoError(t, err)
	}

	live, err := s.GetTask(ctx, "t1")
	require.NoError(t, err)
	require.Equal(t, live.Status.State, replayed.Status.State)
}

func TestSubscribeCatchUpThenTail(t *testing.T) {
	s := NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, _ = s.Append(ctx, "t1", snapshotEvent("t1", "c1"), nil)
	_, _ = s.Append(ctx, "t1", statusEvent("t1", "c1", wire.TaskStateWorking, false), nil)

	sub, err := s.Subscribe(ctx, "t1", -1)
	require.NoError(t, err)

	var got []StoredEvent
	go func() {
		_, _ = s.Append(ctx, "t1", statusEvent("t1", "c1", wire.TaskStateCompleted, true), nil)
	}()

	timeout := time.After(2 * time.Second)
loop:
	for {
		select {
		case e, ok := <-sub.Events():
			if !ok {
				break loop
			}
			got = append(got, e)
		case <-timeout:
			t.Fatal("timed out waiting for subscription to close")
		}
	}

	require.Len(t, got, 3)
	require.Equal(t, int64(0), got[0].Version)
	require.Equal(t, int64(1), got[1].Version)
	require.Equal(t, int64(2), got[2].Version)
}

func TestSubscribeRegisteredBeforeTaskCreated(t *testing.T) {
	s := NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub, err := s.Subscribe(ctx, "t1", -1)
	require.NoError(t, err)

	go func() {
		_, _ = s.Append(ctx, "t1", snapshotEvent("t1", "c1"), nil)
		_, _ = s.Append(ctx, "t1", statusEvent("t1", "c1", wire.TaskStateCompleted, true), nil)
	}()

	var got []StoredEvent
	timeout := time.After(2 * time.Second)
loop:
	for {
		select {
		case e, ok := <-sub.Events():
			if !ok {
				break loop
			}
			got = append(got, e)
		case <-timeout:
			t.Fatal("timed out")
		}
	}
	require.Len(t, got, 2)
}

func TestListFiltersByContextAndPaginates(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		id := fmt.Sprintf("c-task-%d", i)
		_, _ = s.Append(ctx, id, snapshotEvent(id, "C"), nil)
		_, _ = s.Append(ctx, id, statusEvent(id, "C", wire.TaskStateCompleted, true), nil)
	}
	for i := 0; i < 2; i++ {
		id := fmt.Sprintf("other-task-%d", i)
		_, _ = s.Append(ctx, id, snapshotEvent(id, "C2"), nil)
	}

	res, err := s.List(ctx, ListFilter{ContextID: "C", PageSize: 2})
	require.NoError(t, err)
	require.Len(t, res.Tasks, 2)
	require.Equal(t, 3, res.TotalSize)
	require.NotEmpty(t, res.NextPageToken)

	res2, err := s.List(ctx, ListFilter{ContextID: "C", PageSize: 2, PageToken: res.NextPageToken})
	require.NoError(t, err)
	require.Len(t, res2.Tasks, 1)
	require.Empty(t, res2.NextPageToken)
}

func TestListRejectsInvalidPageSizeAndHistoryLength(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	_, err := s.List(ctx, ListFilter{PageSize: -1})
	require.ErrorIs(t, err, ErrInvalidPageSize)

	neg := -1
	_, err = s.List(ctx, ListFilter{HistoryLength: &neg})
	require.ErrorIs(t, err, ErrInvalidHistoryLength)
}

// TestVersionsSequentialProperty checks across arbitrary status-update
// sequences that appending a snapshot plus n status updates and reading the
// log back yields versions 0..n with no gaps or repeats.
func TestVersionsSequentialProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	properties := gopter.NewProperties(parameters)

	properties.Property("versions are sequential with no gaps or repeats", prop.ForAll(
		func(n int) bool {
			s := NewMemoryStore()
			ctx := context.Background()
			taskID := "prop-task"
			if _, err := s.Append(ctx, taskID, snapshotEvent(taskID, "c1"), nil); err != nil {
				return false
			}
			for i := 0; i < n; i++ {
				if _, err := s.Append(ctx, taskID, statusEvent(taskID, "c1", wire.TaskStateWorking, false), nil); err != nil {
					return false
				}
			}
			events, err := s.Read(ctx, taskID, -1)
			if err != nil {
				return false
			}
			for i, e := range events {
				if e.Version != int64(i) {
					return false
				}
			}
			return len(events) == n+1
		},
		gen.IntRange(0, 20),
	))

	properties.TestingRun(t)
}
