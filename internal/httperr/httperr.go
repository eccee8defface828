// Package httperr carries HTTP status codes across module boundaries as
// error values. Any layer may tag an error with a status; the transport
// layer detects the tag with errors.As and turns it into the literal
// response instead of rendering it in-page.
package httperr

import "fmt"

// Error is an error bound to the HTTP status the response must use.
type Error struct {
	Status int
	Msg    string
}

// New builds a status-carrying error.
func New(status int, format string, args ...any) *Error {
	return &Error{Status: status, Msg: fmt.Sprintf(format, args...)}
}

func (e *Error) Error() string { return e.Msg }
