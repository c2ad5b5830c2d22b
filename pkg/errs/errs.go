// Package errs defines the error kinds shared by every haven subsystem.
//
// Every failing operation reports exactly one Kind so callers can branch
// on the class of failure without string matching. Errors wrap freely
// with the standard library; KindOf walks the chain and returns the
// first kind it finds.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies an error.
type Kind uint8

const (
	Other              Kind = iota // unclassified
	HandleInvalid                  // handle freed, stale or foreign
	HandleTypeMismatch             // handle resolves to a different object type
	VersionConflict                // expected version does not match current
	PermissionDenied               // requester lacks an allowed permission
	CryptoError                    // decryption or signature verification failed
	DecodeError                    // malformed token or serialized payload
	AlreadyExists                  // record or entry already present
	NotFound                       // record, entry or container absent
	NetworkError                   // transport or consensus failure
	AllocationError                // local resource exhaustion
)

func (k Kind) String() string {
	switch k {
	case HandleInvalid:
		return "handle invalid"
	case HandleTypeMismatch:
		return "handle type mismatch"
	case VersionConflict:
		return "version conflict"
	case PermissionDenied:
		return "permission denied"
	case CryptoError:
		return "crypto error"
	case DecodeError:
		return "decode error"
	case AlreadyExists:
		return "already exists"
	case NotFound:
		return "not found"
	case NetworkError:
		return "network error"
	case AllocationError:
		return "allocation error"
	default:
		return "error"
	}
}

// Error carries the operation that failed, its kind and an optional cause.
type Error struct {
	Op   string
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Err == nil:
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	case e.Op == "":
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// E builds an Error. Args may be a string (the op), a Kind, and/or an
// error cause, in any order; later values of the same type win.
func E(args ...interface{}) error {
	e := &Error{}
	for _, arg := range args {
		switch a := arg.(type) {
		case string:
			e.Op = a
		case Kind:
			e.Kind = a
		case error:
			e.Err = a
		}
	}
	return e
}

// Errorf builds an Error with a formatted cause.
func Errorf(op string, kind Kind, format string, args ...interface{}) error {
	return &Error{Op: op, Kind: kind, Err: fmt.Errorf(format, args...)}
}

// KindOf reports the kind of err, or Other if the chain carries none.
func KindOf(err error) Kind {
	var e *Error
	for errors.As(err, &e) {
		if e.Kind != Other {
			return e.Kind
		}
		err = e.Err
		if err == nil {
			break
		}
	}
	return Other
}

// Is reports whether the error chain carries the given kind.
func Is(kind Kind, err error) bool {
	return KindOf(err) == kind
}
