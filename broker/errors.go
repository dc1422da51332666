package broker

import (
	"errors"
	"fmt"

	"github.com/go-stomp/stomp/v3/frame"

	"github.com/eleven-am/pondchat/stomp"
)

const (
	StatusBadRequest          = 400
	StatusUnauthorized        = 401
	StatusNotFound            = 404
	StatusConflict            = 409
	StatusInternalServerError = 500
	StatusServiceUnavailable  = 503
	StatusGatewayTimeout      = 504
)

// Error is a broker failure reported to the client in an ERROR frame.
type Error struct {
	Destination string
	Message     string
	Code        int
	Temporary   bool
	Details     string
	cause       error
}

func (e *Error) Error() string {
	if e.Destination != "" {
		return fmt.Sprintf("%s on %s (code: %d)", e.Message, e.Destination, e.Code)
	}
	return fmt.Sprintf("%s (code: %d)", e.Message, e.Code)
}

func (e *Error) Unwrap() error {
	return e.cause
}

func (e *Error) withCause(err error) *Error {
	e.cause = err
	return e
}

func (e *Error) withDetails(details string) *Error {
	e.Details = details
	return e
}

func (e *Error) withDestination(destination string) *Error {
	e.Destination = destination
	return e
}

func wrap(err error, message string) *Error {
	if err == nil {
		return nil
	}

	var e *Error
	if errors.As(err, &e) {
		return &Error{
			Destination: e.Destination,
			Message:     fmt.Sprintf("%s: %s", message, e.Message),
			Code:        e.Code,
			Temporary:   e.Temporary,
			Details:     e.Details,
			cause:       e.cause,
		}
	}
	return &Error{
		Message: fmt.Sprintf("%s: %s", message, err),
		Code:    StatusInternalServerError,
		cause:   err,
	}
}

func wrapF(err error, format string, args ...interface{}) *Error {
	if err == nil {
		return nil
	}
	return wrap(err, fmt.Sprintf(format, args...))
}

func badRequest(destination, message string) *Error {
	return &Error{Message: message, Code: StatusBadRequest, Destination: destination}
}

func notFound(destination, message string) *Error {
	return &Error{Message: message, Code: StatusNotFound, Destination: destination}
}

func conflict(destination, message string) *Error {
	return &Error{Message: message, Code: StatusConflict, Destination: destination}
}

func unauthorized(message string) *Error {
	return &Error{Message: message, Code: StatusUnauthorized}
}

func internal(destination, message string) *Error {
	return &Error{Message: message, Code: StatusInternalServerError, Destination: destination}
}

func unavailable(destination, message string) *Error {
	return &Error{Message: message, Code: StatusServiceUnavailable, Destination: destination, Temporary: true}
}

func timeout(destination, message string) *Error {
	return &Error{Message: message, Code: StatusGatewayTimeout, Destination: destination, Temporary: true}
}

// errorFrame renders err as a STOMP ERROR frame. Broker errors keep their
// message in the header and details or cause in the body.
func errorFrame(err error) *frame.Frame {
	if err == nil {
		return nil
	}

	var e *Error
	if errors.As(err, &e) {
		detail := e.Details
		if detail == "" && e.cause != nil {
			detail = e.cause.Error()
		}
		f := stomp.NewError(e.Message, detail)
		if e.Destination != "" {
			f.Header.Set(frame.Destination, e.Destination)
		}
		return f
	}
	return stomp.NewError(err.Error(), "")
}
