// Package wire defines the A2A protocol wire types and their JSON codec.
// Field names use camelCase JSON tags to conform to the A2A protocol
// specification. Enums are serialized SCREAMING_SNAKE with a type prefix;
// polymorphic values are represented as a struct of mutually-exclusive
// optional fields with a Case method, rather than a discriminated union,
// so the wire shape stays presence-based as the protocol requires.
//
//nolint:tagliatelle // A2A protocol specification requires camelCase JSON field names
package wire

import "encoding/json"

// TaskState is the canonical lifecycle state of a task.
type TaskState string

// Task lifecycle states. Terminal states are Completed, Canceled, Failed,
// and Rejected; InputRequired and AuthRequired are pausable but not
// terminal.
const (
	TaskStateSubmitted     TaskState = "TASK_STATE_SUBMITTED"
	TaskStateWorking       TaskState = "TASK_STATE_WORKING"
	TaskStateInputRequired TaskState = "TASK_STATE_INPUT_REQUIRED"
	TaskStateAuthRequired  TaskState = "TASK_STATE_AUTH_REQUIRED"
	TaskStateCompleted     TaskState = "TASK_STATE_COMPLETED"
	TaskStateCanceled      TaskState = "TASK_STATE_CANCELED"
	TaskStateFailed        TaskState = "TASK_STATE_FAILED"
	TaskStateRejected      TaskState = "TASK_STATE_REJECTED"
)

// Terminal reports whether the state accepts no further events.
func (s TaskState) Terminal() bool {
	switch s {
	case TaskStateCompleted, TaskStateCanceled, TaskStateFailed, TaskStateRejected:
		return true
	default:
		return false
	}
}

// Valid reports whether s is one of the known task states.
func (s TaskState) Valid() bool {
	switch s {
	case TaskStateSubmitted, TaskStateWorking, TaskStateInputRequired,
		TaskStateAuthRequired, TaskStateCompleted, TaskStateCanceled,
		TaskStateFailed, TaskStateRejected:
		return true
	default:
		return false
	}
}

// Role identifies the author of a Message.
type Role string

// Message roles.
const (
	RoleUser  Role = "ROLE_USER"
	RoleAgent Role = "ROLE_AGENT"
)

type (
	// Task is the denormalized snapshot of an A2A task: the projection
	// maintained by the event store and returned by GetTask/ListTasks.
	Task struct {
		// ID is the globally unique task identifier.
		ID string `json:"id"`
		// ContextID groups related tasks in a conversation.
		ContextID string `json:"contextId"`
		// Status is the most recent status snapshot.
		Status TaskStatus `json:"status"`
		// History is the ordered list of messages exchanged for this task.
		History []*Message `json:"history,omitempty"`
		// Artifacts are the task's accumulated output artifacts.
		Artifacts []*Artifact `json:"artifacts,omitempty"`
		// Metadata holds opaque caller- or agent-supplied task metadata.
		Metadata map[string]any `json:"metadata,omitempty"`
	}

	// TaskStatus is a task's state at a point in time.
	TaskStatus struct {
		// State is the canonical lifecycle state.
		State TaskState `json:"state"`
		// Timestamp is an RFC3339 timestamp for this status, when known.
		Timestamp string `json:"timestamp,omitempty"`
		// Message is an optional agent message attached to this status.
		Message *Message `json:"message,omitempty"`
	}

	// Message is a single message in a task conversation.
	Message struct {
		// Role identifies the message author.
		Role Role `json:"role"`
		// MessageID is a caller- or server-assigned unique message identifier.
		MessageID string `json:"messageId"`
		// Parts are the ordered content parts making up the message.
		Parts []*Part `json:"parts"`
		// TaskID is the task this message belongs to, when applicable.
		TaskID string `json:"taskId,omitempty"`
		// ContextID is the context this message belongs to, when applicable.
		ContextID string `json:"contextId,omitempty"`
		// ReferenceTaskIDs lists other tasks this message references.
		ReferenceTaskIDs []string `json:"referenceTaskIds,omitempty"`
		// Metadata holds opaque message metadata.
		Metadata map[string]any `json:"metadata,omitempty"`
	}

	// Part is a single content part of a Message or Artifact. Exactly one
	// of Text, Data, FileURL, or FileBytes must be set; Case reports which.
	Part struct {
		// Text holds plain-text content.
		Text *string `json:"text,omitempty"`
		// Data holds a structured JSON payload.
		Data json.RawMessage `json:"data,omitempty"`
		// FileURL references remote or local file content by URL.
		FileURL *FileURLContent `json:"fileUrl,omitempty"`
		// FileBytes carries raw file content inline.
		FileBytes *FileBytesContent `json:"fileBytes,omitempty"`
	}

	// FileURLContent is the file-url flavor of a Part.
	FileURLContent struct {
		// URL is the file location.
		URL string `json:"url"`
		// MediaType is the file's MIME type.
		MediaType string `json:"mediaType"`
		// Filename is an optional display filename.
		Filename string `json:"filename,omitempty"`
	}

	// FileBytesContent is the file-bytes flavor of a Part.
	FileBytesContent struct {
		// Bytes holds the raw file content (base64 on the wire via encoding/json).
		Bytes []byte `json:"bytes"`
		// MediaType is the file's MIME type.
		MediaType string `json:"mediaType"`
		// Filename is an optional display filename.
		Filename string `json:"filename,omitempty"`
	}

	// Artifact is a durable task output composed of parts.
	Artifact struct {
		// ArtifactID uniquely identifies the artifact within its task.
		ArtifactID string `json:"artifactId"`
		// Name is an optional display name.
		Name string `json:"name,omitempty"`
		// Description is an optional human-readable description.
		Description string `json:"description,omitempty"`
		// Parts are the content parts making up the artifact.
		Parts []*Part `json:"parts"`
		// Metadata holds opaque artifact metadata.
		Metadata map[string]any `json:"metadata,omitempty"`
	}

	// SecurityScheme advertises how a caller authenticates to an agent.
	// Exactly one of APIKey, HTTP, OAuth2, OpenIDConnect, or MutualTLS must
	// be set; Case reports which.
	SecurityScheme struct {
		// APIKey is the apiKey flavor.
		APIKey *APIKeySecurityScheme `json:"apiKey,omitempty"`
		// HTTP is the http flavor (e.g. Basic, Bearer).
		HTTP *HTTPSecurityScheme `json:"http,omitempty"`
		// OAuth2 is the oauth2 flavor.
		OAuth2 *OAuth2SecurityScheme `json:"oauth2,omitempty"`
		// OpenIDConnect is the openIdConnect flavor.
		OpenIDConnect *OpenIDConnectSecurityScheme `json:"openIdConnect,omitempty"`
		// MutualTLS is the mutualTLS flavor.
		MutualTLS *MutualTLSSecurityScheme `json:"mutualTls,omitempty"`
	}

	// APIKeySecurityScheme describes an API key carried in a header, query
	// parameter, or cookie.
	APIKeySecurityScheme struct {
		// Name is the parameter, header, or cookie name carrying the key.
		Name string `json:"name"`
		// In is the location of the key: "header", "query", or "cookie".
		In string `json:"in"`
	}

	// HTTPSecurityScheme describes an HTTP authentication scheme per RFC 7235.
	HTTPSecurityScheme struct {
		// Scheme is the HTTP auth scheme name (e.g. "basic", "bearer").
		Scheme string `json:"scheme"`
		// BearerFormat hints at the bearer token format (e.g. "JWT").
		BearerFormat string `json:"bearerFormat,omitempty"`
	}

	// OAuth2SecurityScheme describes an OAuth2 configuration. Flows is kept
	// as a direct field set rather than its own nested union since only
	// the authorization-code flow is currently advertised.
	OAuth2SecurityScheme struct {
		// AuthorizationURL is the authorization endpoint.
		AuthorizationURL string `json:"authorizationUrl,omitempty"`
		// TokenURL is the token endpoint.
		TokenURL string `json:"tokenUrl,omitempty"`
		// RefreshURL is the token refresh endpoint, when supported.
		RefreshURL string `json:"refreshUrl,omitempty"`
		// Scopes maps scope name to a human-readable description.
		Scopes map[string]string `json:"scopes,omitempty"`
	}

	// OpenIDConnectSecurityScheme describes an OpenID Connect discovery
	// endpoint.
	OpenIDConnectSecurityScheme struct {
		// OpenIDConnectURL is the OIDC discovery document URL.
		OpenIDConnectURL string `json:"openIdConnectUrl"`
	}

	// MutualTLSSecurityScheme marks mutual TLS authentication. It carries
	// no fields of its own; its presence in SecurityScheme is the signal.
	MutualTLSSecurityScheme struct{}
)

// PartCase identifies which variant of a Part is populated.
type PartCase int

// Part variants.
const (
	PartCaseInvalid PartCase = iota
	PartCaseText
	PartCaseData
	PartCaseFileURL
	PartCaseFileBytes
)

// Case reports which field of p is set, or PartCaseInvalid when zero or
// more than one is set.
func (p *Part) Case() PartCase {
	n := 0
	c := PartCaseInvalid
	if p.Text != nil {
		n++
		c = PartCaseText
	}
	if len(p.Data) > 0 {
		n++
		c = PartCaseData
	}
	if p.FileURL != nil {
		n++
		c = PartCaseFileURL
	}
	if p.FileBytes != nil {
		n++
		c = PartCaseFileBytes
	}
	if n != 1 {
		return PartCaseInvalid
	}
	return c
}

// SecuritySchemeCase identifies which flavor of a SecurityScheme is
// populated.
type SecuritySchemeCase int

// SecurityScheme variants.
const (
	SecuritySchemeCaseInvalid SecuritySchemeCase = iota
	SecuritySchemeCaseAPIKey
	SecuritySchemeCaseHTTP
	SecuritySchemeCaseOAuth2
	SecuritySchemeCaseOpenIDConnect
	SecuritySchemeCaseMutualTLS
)

// Case reports which field of s is set, or SecuritySchemeCaseInvalid when
// zero or more than one is set.
func (s *SecurityScheme) Case() SecuritySchemeCase {
	n := 0
	c := SecuritySchemeCaseInvalid
	if s.APIKey != nil {
		n++
		c = SecuritySchemeCaseAPIKey
	}
	if s.HTTP != nil {
		n++
		c = SecuritySchemeCaseHTTP
	}
	if s.OAuth2 != nil {
		n++
		c = SecuritySchemeCaseOAuth2
	}
	if s.OpenIDConnect != nil {
		n++
		c = SecuritySchemeCaseOpenIDConnect
	}
	if s.MutualTLS != nil {
		n++
		c = SecuritySchemeCaseMutualTLS
	}
	if n != 1 {
		return SecuritySchemeCaseInvalid
	}
	return c
}
