package graph

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// The lookups spo makes fail in one of these ways. Match with errors.Is.
var (
	// ErrAccessDenied covers 401 and 403: the token is not accepted, or the
	// app lacks consent for the site.
	ErrAccessDenied = errors.New("graph: access denied")
	// ErrNotFound covers 404 and 410.
	ErrNotFound = errors.New("graph: not found")
	// ErrThrottled is returned once retries for 429 or 509 run out.
	ErrThrottled = errors.New("graph: throttled")
	ErrServerError = errors.New("graph: server error")
)

// StatusError is a non-2xx answer to a GET, with Graph's error code and
// message when the body carried them.
type StatusError struct {
	Path       string
	StatusCode int
	Code       string
	Message    string
	RequestID  string

	kind error
}

func (e *StatusError) Error() string {
	var b strings.Builder

	fmt.Fprintf(&b, "graph: GET %s: HTTP %d", e.Path, e.StatusCode)

	if e.Code != "" {
		b.WriteString(" " + e.Code)
	}

	if e.Message != "" {
		b.WriteString(": " + e.Message)
	}

	if e.RequestID != "" {
		fmt.Fprintf(&b, " (request-id %s)", e.RequestID)
	}

	return b.String()
}

func (e *StatusError) Unwrap() error {
	return e.kind
}

// graphErrorBody is the {"error":{...}} envelope Graph puts on failures.
type graphErrorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// newStatusError builds the error for resp. A body that is not Graph's
// envelope becomes the message as is.
func newStatusError(path string, resp *http.Response, body []byte) *StatusError {
	e := &StatusError{
		Path:       path,
		StatusCode: resp.StatusCode,
		RequestID:  resp.Header.Get("request-id"),
		kind:       statusKind(resp.StatusCode),
	}

	var env graphErrorBody
	if err := json.Unmarshal(body, &env); err == nil && env.Error.Code != "" {
		e.Code = env.Error.Code
		e.Message = env.Error.Message
	} else {
		e.Message = strings.TrimSpace(string(body))
	}

	return e
}

// statusKind maps a status code to its sentinel, or nil for codes the
// caller has no reason to tell apart.
func statusKind(code int) error {
	switch {
	case code == http.StatusUnauthorized, code == http.StatusForbidden:
		return ErrAccessDenied
	case code == http.StatusNotFound, code == http.StatusGone:
		return ErrNotFound
	case code == http.StatusTooManyRequests, code == statusBandwidthExceeded:
		return ErrThrottled
	case code >= http.StatusInternalServerError:
		return ErrServerError
	default:
		return nil
	}
}
