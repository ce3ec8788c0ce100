package errors

import (
	"fmt"
	"net/http"
)

// Error is the API error type carrying an HTTP status alongside the message.
type Error struct {
	Message string `json:"message"`
	Status  int    `json:"status"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%d: %s", e.Status, e.Message)
}

// New creates a new Error with the given message and status code.
func New(message string, status int) *Error {
	return &Error{
		Message: message,
		Status:  status,
	}
}

var (
	// ErrAuthentication covers a missing or invalid credential. Fatal only
	// to the connection attempt that carried it.
	ErrAuthentication = New("authentication failed", http.StatusUnauthorized)
	// ErrPersistence covers a failed store write. The operation is reported
	// failed and no push is attempted.
	ErrPersistence = New("unable to persist notification", http.StatusInternalServerError)
	// ErrNotFound covers a user-scoped lookup that matched no row.
	ErrNotFound = New("not found", http.StatusNotFound)
	// ErrBadRequest covers malformed input.
	ErrBadRequest = New("bad request", http.StatusBadRequest)
	// ErrInternalServerError is the fallback error.
	ErrInternalServerError = New("internal server error", http.StatusInternalServerError)
)
