package protocol

import (
	"errors"
	"fmt"
	"strings"

	"github.com/bytedance/sonic"
)

// Frame type tags carried in the "type" field of every frame.
const (
	TypeFetch       = "RP_FETCH"
	TypeFetchResult = "RP_FETCH_RESULT"
	TypeSessionID   = "SANDBOX_SESSION_ID"
	TypeSandboxData = "SANDBOX_DATA"
)

var (
	ErrMalformed   = errors.New("malformed frame")
	ErrMissingID   = errors.New("frame has no correlation id")
	ErrResultShape = errors.New("result frame must carry either status or error")
)

// Init mirrors the optional request options of a fetch call.
type Init struct {
	Method  string            `json:"method,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    *string           `json:"body,omitempty"`
}

// Input is the request half of a fetch call.
type Input struct {
	URL  string `json:"url"`
	Init *Init  `json:"init,omitempty"`
}

// FetchRequest travels sandbox -> host.
type FetchRequest struct {
	Type  string `json:"type"`
	ID    string `json:"id"`
	Input Input  `json:"input"`
}

// Method returns the upper-cased request method, GET when unset.
func (r *FetchRequest) Method() string {
	if r.Input.Init == nil || r.Input.Init.Method == "" {
		return "GET"
	}
	return strings.ToUpper(r.Input.Init.Method)
}

// Headers returns the request headers, never nil.
func (r *FetchRequest) Headers() map[string]string {
	if r.Input.Init == nil || r.Input.Init.Headers == nil {
		return map[string]string{}
	}
	return r.Input.Init.Headers
}

// Body returns the request body and whether one was sent.
func (r *FetchRequest) Body() (string, bool) {
	if r.Input.Init == nil || r.Input.Init.Body == nil {
		return "", false
	}
	return *r.Input.Init.Body, true
}

// FetchResult travels host -> sandbox. Exactly one of the success fields
// (Status, Headers, Body) or Error is present.
type FetchResult struct {
	Type    string            `json:"type"`
	ID      string            `json:"id"`
	Status  *int              `json:"status,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    *string           `json:"body,omitempty"`
	Error   *string           `json:"error,omitempty"`
}

type successFrame struct {
	Type    string            `json:"type"`
	ID      string            `json:"id"`
	Status  int               `json:"status"`
	Headers map[string]string `json:"headers"`
	Body    string            `json:"body"`
}

type failureFrame struct {
	Type  string `json:"type"`
	ID    string `json:"id"`
	Error string `json:"error"`
}

// MarshalJSON writes exactly one of the two result shapes. An empty header
// map or body still appears on the success shape.
func (r FetchResult) MarshalJSON() ([]byte, error) {
	if r.Error != nil {
		return sonic.Marshal(failureFrame{Type: r.Type, ID: r.ID, Error: *r.Error})
	}
	out := successFrame{Type: r.Type, ID: r.ID, Headers: r.Headers}
	if r.Status != nil {
		out.Status = *r.Status
	}
	if r.Body != nil {
		out.Body = *r.Body
	}
	if out.Headers == nil {
		out.Headers = map[string]string{}
	}
	return sonic.Marshal(out)
}

// NewResult builds a success result frame.
func NewResult(id string, status int, headers map[string]string, body string) *FetchResult {
	if headers == nil {
		headers = map[string]string{}
	}
	return &FetchResult{
		Type:    TypeFetchResult,
		ID:      id,
		Status:  &status,
		Headers: headers,
		Body:    &body,
	}
}

// NewFailure builds a failure result frame.
func NewFailure(id string, reason string) *FetchResult {
	if reason == "" {
		reason = "relay failed"
	}
	return &FetchResult{
		Type:  TypeFetchResult,
		ID:    id,
		Error: &reason,
	}
}

// Failed reports whether the frame carries an error.
func (r *FetchResult) Failed() bool {
	return r.Error != nil
}

// Validate enforces the either-or shape.
func (r *FetchResult) Validate() error {
	if r.ID == "" {
		return ErrMissingID
	}
	hasSuccess := r.Status != nil
	hasError := r.Error != nil
	if hasSuccess == hasError {
		return ErrResultShape
	}
	if hasError && (r.Headers != nil || r.Body != nil) {
		return ErrResultShape
	}
	return nil
}

// SessionNotification announces the session id of a freshly created run.
type SessionNotification struct {
	Type    string `json:"type"`
	Payload string `json:"payload"`
}

// NewSessionNotification builds a SANDBOX_SESSION_ID frame.
func NewSessionNotification(sessionID string) *SessionNotification {
	return &SessionNotification{Type: TypeSessionID, Payload: sessionID}
}

// ============================================================================
// Codec
// ============================================================================

type envelope struct {
	Type string `json:"type"`
}

// Encode serialises any frame.
func Encode(frame any) ([]byte, error) {
	data, err := sonic.Marshal(frame)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	return data, nil
}

// Peek returns the type tag of a raw frame. Non-object payloads return
// ErrMalformed.
func Peek(data []byte) (string, error) {
	var env envelope
	if err := sonic.Unmarshal(data, &env); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return env.Type, nil
}

// DecodeRequest parses an RP_FETCH frame.
func DecodeRequest(data []byte) (*FetchRequest, error) {
	var req FetchRequest
	if err := sonic.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if req.Type != TypeFetch {
		return nil, fmt.Errorf("%w: type %q", ErrMalformed, req.Type)
	}
	if req.ID == "" {
		return nil, ErrMissingID
	}
	if req.Input.URL == "" {
		return nil, fmt.Errorf("%w: empty url", ErrMalformed)
	}
	return &req, nil
}

// DecodeResult parses and validates an RP_FETCH_RESULT frame.
func DecodeResult(data []byte) (*FetchResult, error) {
	var res FetchResult
	if err := sonic.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if res.Type != TypeFetchResult {
		return nil, fmt.Errorf("%w: type %q", ErrMalformed, res.Type)
	}
	if err := res.Validate(); err != nil {
		return nil, err
	}
	return &res, nil
}
