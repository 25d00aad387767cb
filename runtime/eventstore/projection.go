package eventstore

import (
	"fmt"

	"goa.design/a2a-engine/runtime/wire"
)

// Apply is the pure projection reducer: it folds a single event onto an
// existing task snapshot (nil for a brand-new task) and returns the
// resulting snapshot. Replaying a task's full event log from nil must
// reproduce exactly the projection held by the store.
func Apply(task *wire.Task, event wire.Event) (*wire.Task, error) {
	switch event.Case() {
	case wire.EventKindTaskSnapshot:
		return cloneTask(event.TaskSnapshot), nil

	case wire.EventKindStatusUpdate:
		if task == nil {
			return nil, fmt.Errorf("%w: statusUpdate for unknown task", ErrInvalidEvent)
		}
		su := event.StatusUpdate
		next := cloneTask(task)
		next.Status = su.Status
		return next, nil

	case wire.EventKindArtifactUpdate:
		if task == nil {
			return nil, fmt.Errorf("%w: artifactUpdate for unknown task", ErrInvalidEvent)
		}
		au := event.ArtifactUpdate
		next := cloneTask(task)
		next.Artifacts = applyArtifact(next.Artifacts, au)
		return next, nil

	case wire.EventKindMessage:
		if task == nil {
			// A standalone Message with no prior task is a direct-message
			// result; there is no task projection to fold it onto.
			return nil, nil
		}
		msg := event.Message
		next := cloneTask(task)
		if msg.TaskID == next.ID {
			next.History = append(next.History, msg)
		}
		return next, nil

	default:
		return nil, fmt.Errorf("%w: no event variant set", ErrInvalidEvent)
	}
}

// applyArtifact folds an ArtifactUpdate onto the artifact list: replacing
// (or inserting) the artifact with a matching ArtifactID when Append is
// false, or concatenating parts onto the existing artifact when Append is
// true. LastChunk carries no projection effect.
func applyArtifact(artifacts []*wire.Artifact, au *wire.ArtifactUpdate) []*wire.Artifact {
	idx := -1
	for i, a := range artifacts {
		if a.ArtifactID == au.Artifact.ArtifactID {
			idx = i
			break
		}
	}

	if !au.Append {
		replacement := au.Artifact
		if idx >= 0 {
			out := append([]*wire.Artifact{}, artifacts...)
			out[idx] = &replacement
			return out
		}
		return append(append([]*wire.Artifact{}, artifacts...), &replacement)
	}

	if idx < 0 {
		replacement := au.Artifact
		return append(append([]*wire.Artifact{}, artifacts...), &replacement)
	}

	out := append([]*wire.Artifact{}, artifacts...)
	existing := *out[idx]
	existing.Parts = append(append([]*wire.Part{}, existing.Parts...), au.Artifact.Parts...)
	out[idx] = &existing
	return out
}
