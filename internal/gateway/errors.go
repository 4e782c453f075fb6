package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Kind discriminates gateway failures.
type Kind string

const (
	KindAuth       Kind = "auth"
	KindForbidden  Kind = "forbidden"
	KindValidation Kind = "validation"
	KindLimit      Kind = "limit"
	KindNetwork    Kind = "network"
	KindNotFound   Kind = "notFound"
	KindConflict   Kind = "conflict"
	KindServer     Kind = "server"
)

// Error is the single error type returned by Client.
type Error struct {
	Kind    Kind
	Status  int
	Message string
	// MessageCount is set for KindLimit: the guest message count reported by the gateway.
	MessageCount int
	Err          error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("gateway %s (%d): %s", e.Kind, e.Status, e.Message)
	}
	return fmt.Sprintf("gateway %s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Unauthorized reports whether the gateway rejected the bearer token.
func (e *Error) Unauthorized() bool {
	return e.Status == http.StatusUnauthorized
}

// KindOf returns the Kind of err, or KindNetwork for errors that did not come from Client.
func KindOf(err error) Kind {
	var gwErr *Error
	if errors.As(err, &gwErr) {
		return gwErr.Kind
	}
	return KindNetwork
}

// IsUnauthorized reports whether err is an HTTP 401 from the gateway.
func IsUnauthorized(err error) bool {
	var gwErr *Error
	return errors.As(err, &gwErr) && gwErr.Unauthorized()
}

// LimitCount returns the reported guest message count if err is a limit error.
func LimitCount(err error) (int, bool) {
	var gwErr *Error
	if errors.As(err, &gwErr) && gwErr.Kind == KindLimit {
		return gwErr.MessageCount, true
	}
	return 0, false
}

// errorBody is the error envelope written by the gateway.
type errorBody struct {
	Error        string `json:"error"`
	Message      string `json:"message"`
	LimitReached bool   `json:"limitReached"`
	MessageCount int    `json:"messageCount"`
}

func networkError(op string, err error) *Error {
	return &Error{Kind: KindNetwork, Message: op + ": " + err.Error(), Err: err}
}

// errorFromResponse classifies a non-2xx response.
func errorFromResponse(status int, body []byte) *Error {
	var eb errorBody
	_ = json.Unmarshal(body, &eb)

	msg := eb.Error
	if msg == "" {
		msg = eb.Message
	}
	if msg == "" {
		msg = strings.TrimSpace(string(body))
	}
	if msg == "" {
		msg = http.StatusText(status)
	}

	e := &Error{Status: status, Message: msg}
	switch {
	case status == http.StatusForbidden && eb.LimitReached:
		e.Kind = KindLimit
		e.MessageCount = eb.MessageCount
	case status == http.StatusUnauthorized:
		e.Kind = KindAuth
	case status == http.StatusForbidden:
		e.Kind = KindForbidden
	case status == http.StatusNotFound:
		e.Kind = KindNotFound
	case status == http.StatusConflict:
		e.Kind = KindConflict
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		e.Kind = KindValidation
	default:
		e.Kind = KindServer
	}
	return e
}
