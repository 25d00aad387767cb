package eventstore

import "goa.design/a2a-engine/runtime/wire"

// CloneTask returns a deep copy of t sufficient to protect a stored
// projection from caller mutation. Exported so filestore and boltstore can
// share the exact copy semantics MemoryStore uses.
func CloneTask(t *wire.Task) *wire.Task { return cloneTask(t) }

// EventContextID extracts the contextId carried by whichever variant of
// event is set, for backends enforcing the same context-consistency rule
// MemoryStore.Append applies.
func EventContextID(event wire.Event) (string, bool) { return eventContextID(event) }

// ApplyHistoryAndArtifacts trims t's History per historyLength (nil=keep
// all, 0=drop, k>0=last k) and clears Artifacts unless includeArtifacts,
// per the List contract every backend must honor identically.
func ApplyHistoryAndArtifacts(t *wire.Task, historyLength *int, includeArtifacts bool) {
	applyHistoryAndArtifacts(t, historyLength, includeArtifacts)
}

// ParsePageToken and FormatPageToken give every backend the same page
// token encoding MemoryStore uses (a plain base offset).
func ParsePageToken(tok string) (int, error) { return parsePageToken(tok) }

// FormatPageToken encodes offset n as a page token.
func FormatPageToken(n int) string { return formatPageToken(n) }
