package wire

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestTaskRoundTrip verifies that Task marshals and unmarshals without loss.
func TestTaskRoundTrip(t *testing.T) {
	orig := &Task{
		ID:        "task-1",
		ContextID: "ctx-1",
		Status: TaskStatus{
			State:     TaskStateCompleted,
			Timestamp: "2025-01-01T00:00:00Z",
		},
		Metadata: map[string]any{"k": "v"},
	}

	b, err := json.Marshal(orig)
	require.NoError(t, err)

	var decoded Task
	require.NoError(t, json.Unmarshal(b, &decoded))
	require.Equal(t, orig.ID, decoded.ID)
	require.Equal(t, orig.Status.State, decoded.Status.State)
}

func TestPartCaseTextOnly(t *testing.T) {
	text := "hi"
	p := &Part{Text: &text}
	require.Equal(t, PartCaseText, p.Case())
}

func TestPartCaseZeroFieldsInvalid(t *testing.T) {
	p := &Part{}
	require.Equal(t, PartCaseInvalid, p.Case())
}

func TestPartCaseTwoFieldsInvalid(t *testing.T) {
	text := "hi"
	p := &Part{Text: &text, Data: json.RawMessage(`{"a":1}`)}
	require.Equal(t, PartCaseInvalid, p.Case())
}

func TestDecodePartRejectsInvalidUnion(t *testing.T) {
	_, err := DecodePart([]byte(`{}`))
	require.Error(t, err)
	var decErr *DecodeError
	require.ErrorAs(t, err, &decErr)
}

func TestDecodePartAcceptsSingleField(t *testing.T) {
	p, err := DecodePart([]byte(`{"text":"hello"}`))
	require.NoError(t, err)
	require.Equal(t, PartCaseText, p.Case())
}

func TestValidateMessageRejectsEmptyParts(t *testing.T) {
	m := &Message{Role: RoleUser, MessageID: "m1"}
	err := ValidateMessage(m)
	require.Error(t, err)
}

func TestValidateMessageAcceptsWellFormed(t *testing.T) {
	text := "hi"
	m := &Message{Role: RoleUser, MessageID: "m1", Parts: []*Part{{Text: &text}}}
	require.NoError(t, ValidateMessage(m))
}

func TestEventCaseRequiresExactlyOne(t *testing.T) {
	e := &Event{}
	require.Equal(t, EventKindInvalid, e.Case())

	e2 := &Event{StatusUpdate: &StatusUpdate{TaskID: "t1", Status: TaskStatus{State: TaskStateWorking}}}
	require.Equal(t, EventKindStatusUpdate, e2.Case())
}

func TestStreamResponseCase(t *testing.T) {
	r := &StreamResponse{StatusUpdate: &StatusUpdate{TaskID: "t1"}}
	require.Equal(t, EventKindStatusUpdate, r.Case())

	invalid := &StreamResponse{}
	require.Equal(t, EventKindInvalid, invalid.Case())
}

func TestSecuritySchemeCaseSingleFlavor(t *testing.T) {
	s := &SecurityScheme{HTTP: &HTTPSecurityScheme{Scheme: "bearer", BearerFormat: "JWT"}}
	require.Equal(t, SecuritySchemeCaseHTTP, s.Case())
}

func TestSecuritySchemeCaseZeroFieldsInvalid(t *testing.T) {
	s := &SecurityScheme{}
	require.Equal(t, SecuritySchemeCaseInvalid, s.Case())
}

func TestSecuritySchemeCaseTwoFieldsInvalid(t *testing.T) {
	s := &SecurityScheme{
		APIKey: &APIKeySecurityScheme{Name: "X-Api-Key", In: "header"},
		HTTP:   &HTTPSecurityScheme{Scheme: "basic"},
	}
	require.Equal(t, SecuritySchemeCaseInvalid, s.Case())
}

func TestDecodeSecuritySchemeRejectsInvalidUnion(t *testing.T) {
	_, err := DecodeSecurityScheme([]byte(`{}`))
	require.Error(t, err)
	var decErr *DecodeError
	require.ErrorAs(t, err, &decErr)
}

func TestDecodeSecuritySchemeAcceptsSingleFlavor(t *testing.T) {
	s, err := DecodeSecurityScheme([]byte(`{"oauth2":{"tokenUrl":"https://example.com/token"}}`))
	require.NoError(t, err)
	require.Equal(t, SecuritySchemeCaseOAuth2, s.Case())
}

func TestTaskStateTerminal(t *testing.T) {
	require.True(t, TaskStateCompleted.Terminal())
	require.True(t, TaskStateFailed.Terminal())
	require.False(t, TaskStateWorking.Terminal())
	require.False(t, TaskStateInputRequired.Terminal())
}
