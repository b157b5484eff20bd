package kp

import "net/http"

// Error is an error with the HTTP status and the public error code it maps to.
type Error struct {
	Message    string
	StatusCode int
	Err        error
}

func NewError(statusCode int, message string, err error) *Error {
	return &Error{Message: message, StatusCode: statusCode, Err: err}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Json() map[string]string {
	return map[string]string{"error": e.Message}
}

func (e *Error) Status() int {
	if e.StatusCode == 0 {
		return http.StatusInternalServerError
	}
	return e.StatusCode
}
