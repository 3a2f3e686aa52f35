package controllers

import "net/http"

// HandlerError is an error returned from a rest route handler or a
// middleware.
type HandlerError struct {
	Code          int    `json:"-"`
	Message       string `json:"error"`
	ClientMessage string `json:"-"`
}

func (hErr *HandlerError) Error() string {
	return hErr.Message
}

// NewHandlerError returns a HandlerError with the given code and message.
func NewHandlerError(code int, message string) *HandlerError {
	return &HandlerError{
		Code:          code,
		Message:       message,
		ClientMessage: message,
	}
}

// NewInternalServerHandlerError returns a HandlerError with the given
// message, and the http.StatusInternalServerError status text as client
// message.
func NewInternalServerHandlerError(message string) *HandlerError {
	return &HandlerError{
		Code:          http.StatusInternalServerError,
		Message:       message,
		ClientMessage: http.StatusText(http.StatusInternalServerError),
	}
}
