package plist

import (
	"errors"
	"fmt"

	"github.com/danderson/plist/fragments"
	"github.com/danderson/plist/transport"
	"golang.org/x/sys/unix"
)

var (
	// ErrFormatUnsupported is returned when a value cannot be
	// represented in the requested format, or when internalizing a
	// format other than XML.
	ErrFormatUnsupported = fragments.ErrUnsupported
	// ErrNoSpace is returned when externalized output would exceed
	// [Options.MaxOutput].
	ErrNoSpace = fragments.ErrNoSpace
	// ErrMalformed matches every [SyntaxError].
	ErrMalformed = fragments.ErrMalformed
	// ErrTooLarge is returned when an untrusted length is at or
	// above the configured ceiling.
	ErrTooLarge = transport.ErrTooLarge
	// ErrEmptyRef is returned when receiving a zero-length
	// reference.
	ErrEmptyRef = transport.ErrEmptyRef
	// ErrBadMapping is returned when a document arrives in a file
	// that is not a sealed memory file large enough to hold it.
	ErrBadMapping = transport.ErrBadMapping
)

// SyntaxError is the error returned when internalizing malformed
// text.
type SyntaxError = fragments.SyntaxError

// TypeError is the error returned when a well-formed document holds
// a value of a different kind than the caller asked for.
type TypeError struct {
	// Want is the kind the caller asked for.
	Want Kind
	// Got is the kind of the internalized value.
	Got Kind
}

func (e TypeError) Error() string {
	return fmt.Sprintf("got %s value, want %s", e.Got, e.Want)
}

// checkKind returns a TypeError if v is not of kind want.
func checkKind(v Value, want Kind) error {
	if !Is(v, want) {
		return TypeError{want, v.Kind()}
	}
	return nil
}

// ErrUnknownCommand is returned by a [Client] call to a command that
// the service does not handle.
var ErrUnknownCommand = errors.New("unknown command")

// CallError is the error returned by a [Client] when the service
// fails a request.
//
// Failures cross the boundary as an errno value, so the detail of
// the service's error is lost. CallError matches the package's
// sentinel errors with [errors.Is] where the errno allows, for
// example a CallError with Errno E2BIG matches [ErrTooLarge].
type CallError struct {
	// Cmd is the command that failed.
	Cmd uint32
	// Errno is the status returned by the service.
	Errno unix.Errno
}

func (e CallError) Error() string {
	return fmt.Sprintf("command %d failed: %v", e.Cmd, e.Errno)
}

func (e CallError) Unwrap() error {
	return e.Errno
}

func (e CallError) Is(target error) bool {
	switch e.Errno {
	case unix.E2BIG:
		return target == ErrTooLarge
	case unix.EBADMSG:
		return target == ErrMalformed || target == ErrEmptyRef
	case unix.ENOTSUP:
		return target == ErrFormatUnsupported
	case unix.ENOMEM:
		return target == ErrNoSpace
	case unix.ENOTTY:
		return target == ErrUnknownCommand
	case unix.EBADF:
		return target == ErrBadMapping
	}
	return false
}

// errnoFor returns the status with which a service reports err to
// its client.
func errnoFor(err error) unix.Errno {
	var (
		callErr CallError
		errno   unix.Errno
		typeErr TypeError
	)
	switch {
	case errors.As(err, &callErr):
		return callErr.Errno
	case errors.As(err, &errno):
		return errno
	case errors.Is(err, ErrTooLarge):
		return unix.E2BIG
	case errors.Is(err, ErrBadMapping):
		return unix.EBADF
	case errors.Is(err, ErrEmptyRef), errors.Is(err, ErrMalformed):
		return unix.EBADMSG
	case errors.Is(err, ErrFormatUnsupported):
		return unix.ENOTSUP
	case errors.Is(err, ErrNoSpace):
		return unix.ENOMEM
	case errors.Is(err, ErrUnknownCommand):
		return unix.ENOTTY
	case errors.As(err, &typeErr):
		return unix.EINVAL
	}
	return unix.EIO
}
