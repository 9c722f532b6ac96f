package panel

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrNoAllocation is returned when a node has no unassigned allocation left
var ErrNoAllocation = errors.New("no unassigned allocation available")

// TransientError is a failure whose outcome may change on retry: network
// errors, timeouts, 429 and 5xx responses. For a create it also means the
// server may or may not exist.
type TransientError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *TransientError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("panel %s: transient failure (status %d)", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("panel %s: transient failure: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError is a 4xx rejection that will not succeed on retry.
// Detail is the panel's own message and is safe to show to users.
type PermanentError struct {
	Op         string
	StatusCode int
	Code       string
	Detail     string
}

func (e *PermanentError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("panel %s: rejected (status %d)", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("panel %s: rejected (status %d): %s", e.Op, e.StatusCode, e.Detail)
}

// NotFoundError is a 404 from the panel
type NotFoundError struct {
	Op     string
	Detail string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("panel %s: not found", e.Op)
}

// IsTransient reports whether err is a retryable panel failure
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IsNotFound reports whether err is a panel 404
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// SafeDetail returns a message from err that may be shown to end users.
// Only panel rejections carry one.
func SafeDetail(err error) (string, bool) {
	var pe *PermanentError
	if errors.As(err, &pe) && pe.Detail != "" {
		return pe.Detail, true
	}
	return "", false
}

type errorBody struct {
	Errors []struct {
		Code   string `json:"code"`
		Status string `json:"status"`
		Detail string `json:"detail"`
	} `json:"errors"`
}

// parseErrorBody extracts the code and joined details of a panel error body
func parseErrorBody(body []byte) (code, detail string) {
	var eb errorBody
	if err := json.Unmarshal(body, &eb); err != nil || len(eb.Errors) == 0 {
		return "", ""
	}

	details := make([]string, 0, len(eb.Errors))
	for _, e := range eb.Errors {
		if e.Detail != "" {
			details = append(details, e.Detail)
		}
	}

	return eb.Errors[0].Code, strings.Join(details, "; ")
}
