package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrServiceUnavailable is returned without a network attempt when the
// circuit breaker denies a call, and by probes that report the prediction
// service as down. Failures of this kind are transient and consume a retry.
var ErrServiceUnavailable = errors.New("prediction service unavailable")

// ErrPrecondition marks permanent input problems (missing recording, missing
// baby, missing birth date). These are never retried.
var ErrPrecondition = errors.New("precondition failed")

// ErrRetriesExhausted is returned when a manual trigger is rejected because
// the recording already spent its retry budget.
var ErrRetriesExhausted = errors.New("analysis retries exhausted")

type HTTPError struct {
	StatusCode int
	Message    string
	Body       string
}

func (e *HTTPError) Error() string {
	if e == nil {
		return "http error"
	}
	msg := strings.TrimSpace(e.Message)
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	if msg == "" {
		msg = "http error"
	}
	return fmt.Sprintf("http error: status=%d message=%s", e.StatusCode, msg)
}

func parseHTTPError(status int, raw []byte) error {
	body := strings.TrimSpace(string(raw))

	var env struct {
		Error  string `json:"error"`
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(raw, &env); err == nil {
		msg := strings.TrimSpace(env.Error)
		if msg == "" {
			msg = strings.TrimSpace(env.Detail)
		}
		if msg != "" {
			return &HTTPError{StatusCode: status, Message: msg, Body: body}
		}
	}
	return &HTTPError{StatusCode: status, Body: body}
}
