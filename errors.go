package tombflow

import (
	"context"
	"errors"
	"fmt"
)

// Code is a stable symbolic identifier carried by every StreamError.
type Code string

const (
	CodeLocked          Code = "ERR_STREAM_LOCKED"
	CodeClosed          Code = "ERR_STREAM_CLOSED"
	CodeErrored         Code = "ERR_STREAM_ERRORED"
	CodeCanceled        Code = "ERR_STREAM_CANCELED"
	CodeDataClone       Code = "ERR_DATA_CLONE"
	CodeChannelClosed   Code = "ERR_CHANNEL_CLOSED"
	CodeInvalidSize     Code = "ERR_INVALID_CHUNK_SIZE"
	CodeInvalidEnvelope Code = "ERR_ENVELOPE_INVALID"
)

// StreamError is the error type surfaced by streams, pipes and transfers.
// Two StreamErrors match with errors.Is when their codes are equal.
type StreamError struct {
	Code Code
	Msg  string
	Err  error
}

func (e *StreamError) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = string(e.Code)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *StreamError) Unwrap() error {
	return e.Err
}

// Is reports whether target is a StreamError with the same code.
func (e *StreamError) Is(target error) bool {
	t, ok := target.(*StreamError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// Sentinels for errors.Is comparisons.
var (
	ErrLocked          = &StreamError{Code: CodeLocked, Msg: "stream is locked"}
	ErrClosed          = &StreamError{Code: CodeClosed, Msg: "stream is closed"}
	ErrErrored         = &StreamError{Code: CodeErrored, Msg: "stream is errored"}
	ErrCanceled        = &StreamError{Code: CodeCanceled, Msg: "stream was canceled"}
	ErrDataClone       = &StreamError{Code: CodeDataClone, Msg: "value could not be cloned"}
	ErrChannelClosed   = &StreamError{Code: CodeChannelClosed, Msg: "channel closed"}
	ErrInvalidSize     = &StreamError{Code: CodeInvalidSize, Msg: "invalid chunk size"}
	ErrInvalidEnvelope = &StreamError{Code: CodeInvalidEnvelope, Msg: "invalid transfer envelope"}
)

// NewError builds a StreamError with the given code, message and cause.
func NewError(code Code, msg string, cause error) *StreamError {
	return &StreamError{Code: code, Msg: msg, Err: cause}
}

// erroredError is returned by operations started after a stream errored.
func erroredError(cause error) error {
	return &StreamError{Code: CodeErrored, Msg: "stream is errored", Err: cause}
}

// CodeOf returns the code of the outermost StreamError in err's chain,
// or "" when there is none.
func CodeOf(err error) Code {
	var se *StreamError
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}

// HasCode reports whether any StreamError in err's chain carries code.
func HasCode(err error, code Code) bool {
	return errors.Is(err, &StreamError{Code: code})
}

// IsProtocolError reports caller misuse: a locked or closed stream.
func IsProtocolError(err error) bool {
	switch CodeOf(err) {
	case CodeLocked, CodeClosed:
		return true
	}
	return false
}

// IsChannelError reports a failure crossing an isolation boundary.
func IsChannelError(err error) bool {
	return HasCode(err, CodeDataClone) || HasCode(err, CodeChannelClosed)
}

// IsCancellation reports an expected consumer-initiated teardown.
func IsCancellation(err error) bool {
	return HasCode(err, CodeCanceled) || errors.Is(err, context.Canceled)
}
