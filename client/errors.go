package client

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"syscall"

	"github.com/luma/taskq/protocol"
)

type Kind int

const (
	// KindTransport covers dial, read and write failures.
	KindTransport Kind = iota + 1

	// KindFraming covers replies that could not be decoded.
	KindFraming

	// KindApplication is a non-success status reported by the server.
	KindApplication
)

func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindFraming:
		return "framing"
	case KindApplication:
		return "application"
	default:
		return "unknown"
	}
}

var (
	ErrNotConnected = errors.New("Not connected and no address to reconnect to")
)

// Error is returned by every failing client call and retained as the
// client's last error.
//
// Transport and application errors share Code and Message: for transport
// errors Code is the system errno when there is one, for application errors
// it is the status the server replied with. Callers branch on Code, see
// IsTimeout and IsNotFound.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("taskq %s error: %s", e.Kind, e.Message)
	}

	return fmt.Sprintf("taskq %s error %s: %s", e.Kind, e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// EOF reports whether the error is the peer closing the stream.
func (e *Error) EOF() bool {
	return e.Kind == KindTransport && isEndOfStream(e.Err)
}

func applicationError(reply protocol.Reply) *Error {
	return &Error{
		Kind:    KindApplication,
		Code:    reply.Code(),
		Message: reply.Message(),
	}
}

func transportError(err error) *Error {
	e := &Error{Kind: KindTransport, Message: err.Error(), Err: err}

	var errno syscall.Errno
	if errors.As(err, &errno) {
		e.Code = strconv.Itoa(int(errno))
	}

	if isEndOfStream(err) {
		e.Message = io.EOF.Error()
	}

	return e
}

func framingError(err error) *Error {
	return &Error{Kind: KindFraming, Message: err.Error(), Err: err}
}

// classify sorts an error from the read or write path into transport or
// framing.
func classify(err error) *Error {
	switch {
	case errors.Is(err, protocol.ErrInvalidLength),
		errors.Is(err, protocol.ErrBulkTooLarge),
		errors.Is(err, protocol.ErrTooManyElements),
		errors.Is(err, protocol.ErrShortReply):
		return framingError(err)

	default:
		return transportError(err)
	}
}

func isEndOfStream(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE)
}

// CodeOf returns the code of a client error, or "" if err is not one.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}

	return ""
}

// IsTimeout reports whether the server gave up waiting, e.g. in GetReturn.
func IsTimeout(err error) bool {
	return isApplicationCode(err, protocol.CodeTimeout)
}

// IsNotFound reports whether the server did not know the job or queue, or had
// nothing to hand out.
func IsNotFound(err error) bool {
	return isApplicationCode(err, protocol.CodeNotFound) ||
		isApplicationCode(err, protocol.CodeFailed)
}

func IsApplication(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == KindApplication
}

func isApplicationCode(err error, code string) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == KindApplication && e.Code == code
}
