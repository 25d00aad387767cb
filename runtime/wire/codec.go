package wire

import (
	"encoding/json"
	"fmt"
)

// DecodeError wraps a wire decoding failure. Callers map it to a protocol
// error code: PARSE_ERROR for malformed top-level JSON, INVALID_PARAMS for
// a structurally valid but semantically invalid payload (for example, a
// Part with zero or more than one content field set).
type DecodeError struct {
	// Field names the offending field or union, when known.
	Field string
	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *DecodeError) Error() string {
	if e.Field == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Err.Error())
}

// Unwrap returns the underlying error.
func (e *DecodeError) Unwrap() error { return e.Err }

// DecodePart decodes and validates a Part from JSON, rejecting values with
// zero or more than one content field set.
func DecodePart(data []byte) (*Part, error) {
	var p Part
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, &DecodeError{Field: "part", Err: err}
	}
	if p.Case() == PartCaseInvalid {
		return nil, &DecodeError{Field: "part", Err: fmt.Errorf("exactly one of text, data, fileUrl, fileBytes must be set")}
	}
	return &p, nil
}

// ValidatePart reports a DecodeError if p does not have exactly one content
// field set. It is used after json.Unmarshal has already populated p as
// part of a larger structure (e.g. a Message's Parts slice).
func ValidatePart(p *Part) error {
	if p == nil {
		return &DecodeError{Field: "part", Err: fmt.Errorf("part is required")}
	}
	if p.Case() == PartCaseInvalid {
		return &DecodeError{Field: "part", Err: fmt.Errorf("exactly one of text, data, fileUrl, fileBytes must be set")}
	}
	return nil
}

// ValidateMessage validates that a Message carries a non-empty, well-formed
// part list. An empty Parts slice is rejected per the dispatcher's
// INVALID_PARAMS rule for empty parts arrays.
func ValidateMessage(m *Message) error {
	if m == nil {
		return &DecodeError{Field: "message", Err: fmt.Errorf("message is required")}
	}
	if m.MessageID == "" {
		return &DecodeError{Field: "message.messageId", Err: fmt.Errorf("messageId is required")}
	}
	if len(m.Parts) == 0 {
		return &DecodeError{Field: "message.parts", Err: fmt.Errorf("parts must not be empty")}
	}
	for i, p := range m.Parts {
		if err := ValidatePart(p); err != nil {
			return &DecodeError{Field: fmt.Sprintf("message.parts[%d]", i), Err: err}
		}
	}
	return nil
}

// DecodeSecurityScheme decodes and validates a SecurityScheme from JSON,
// rejecting values with zero or more than one flavor field set.
func DecodeSecurityScheme(data []byte) (*SecurityScheme, error) {
	var s SecurityScheme
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, &DecodeError{Field: "securityScheme", Err: err}
	}
	if err := ValidateSecurityScheme(&s); err != nil {
		return nil, err
	}
	return &s, nil
}

// ValidateSecurityScheme reports a DecodeError if s does not have exactly
// one flavor field set.
func ValidateSecurityScheme(s *SecurityScheme) error {
	if s == nil {
		return &DecodeError{Field: "securityScheme", Err: fmt.Errorf("securityScheme is required")}
	}
	if s.Case() == SecuritySchemeCaseInvalid {
		return &DecodeError{Field: "securityScheme", Err: fmt.Errorf("exactly one of apiKey, http, oauth2, openIdConnect, mutualTls must be set")}
	}
	return nil
}

// DecodeEvent decodes and validates an Event from JSON.
func DecodeEvent(data []byte) (*Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, &DecodeError{Field: "event", Err: err}
	}
	if e.Case() == EventKindInvalid {
		return nil, &DecodeError{Field: "event", Err: fmt.Errorf("exactly one of taskSnapshot, statusUpdate, artifactUpdate, message must be set")}
	}
	return &e, nil
}

// Encode marshals any wire value to compact JSON.
func Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}
