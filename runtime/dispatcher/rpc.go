package dispatcher

import (
	"encoding/json"
	"fmt"
)

// Request is a JSON-RPC 2.0 request envelope.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response is a JSON-RPC 2.0 response envelope. Exactly one of Result or
// Error is set once validation succeeds.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  any             `json:"result,omitempty"`
	Error   *ErrorObject    `json:"error,omitempty"`
}

// validateEnvelope enforces the well-formedness rules: jsonrpc must be
// "2.0", method must be non-empty, id (when present) must decode as a
// string, number, or null, and params (when present) must be a JSON
// object.
func validateEnvelope(req *Request) *ErrorObject {
	if req.JSONRPC != "2.0" {
		return newError(CodeInvalidRequest, `jsonrpc must be "2.0"`)
	}
	if req.Method == "" {
		return newError(CodeInvalidRequest, "method must not be empty")
	}
	if len(req.ID) > 0 {
		var s string
		var n json.Number
		var null any
		if json.Unmarshal(req.ID, &s) != nil &&
			json.Unmarshal(req.ID, &n) != nil &&
			!(json.Unmarshal(req.ID, &null) == nil && null == nil) {
			return newError(CodeInvalidRequest, "id must be a string, number, or null")
		}
	}
	if len(req.Params) > 0 {
		trimmed := jsonTrimLeadingSpace(req.Params)
		if len(trimmed) == 0 || trimmed[0] != '{' {
			return newError(CodeInvalidRequest, "params must be an object")
		}
	}
	return nil
}

func jsonTrimLeadingSpace(b []byte) []byte {
	i := 0
	for i < len(b) {
		switch b[i] {
		case ' ', '\t', '\n', '\r':
			i++
			continue
		}
		break
	}
	return b[i:]
}

func errorResponse(id json.RawMessage, e *ErrorObject) *Response {
	return &Response{JSONRPC: "2.0", ID: id, Error: e}
}

func successResponse(id json.RawMessage, result any) *Response {
	return &Response{JSONRPC: "2.0", ID: id, Result: result}
}

// asErrorObject converts any error into a dispatcher ErrorObject,
// defaulting to INTERNAL_ERROR when it does not already carry a code.
func asErrorObject(err error) *ErrorObject {
	if err == nil {
		return nil
	}
	var eo *ErrorObject
	if e, ok := err.(*ErrorObject); ok {
		eo = e
	} else {
		eo = newError(CodeInternalError, fmt.Sprintf("internal error: %v", err))
	}
	return eo
}
