// Package kerrors defines the closed error taxonomy shared by the
// allocator, VSpace, and file-system layers. Kinds are not Go error
// types in their own right; they are wrapped by github.com/pkg/errors
// at the point they're raised so internal call sites keep a stack
// trace, and collapsed to a small stable integer at the syscall
// boundary (see Collapse).
package kerrors

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind is the closed set of error kinds from the spec's error taxonomy.
type Kind int

const (
	_ Kind = iota
	OutOfMemory
	CacheExhausted
	CacheFull
	CantGrowFurther
	AlreadyMapped
	NotMapped
	InvalidFile
	AlreadyPresent
	PermissionError
	NotSupported
	ProcessNotEnoughMemory
	ReplicaNotSet
	InternalError
)

func (k Kind) String() string {
	switch k {
	case OutOfMemory:
		return "OutOfMemory"
	case CacheExhausted:
		return "CacheExhausted"
	case CacheFull:
		return "CacheFull"
	case CantGrowFurther:
		return "CantGrowFurther"
	case AlreadyMapped:
		return "AlreadyMapped"
	case NotMapped:
		return "NotMapped"
	case InvalidFile:
		return "InvalidFile"
	case AlreadyPresent:
		return "AlreadyPresent"
	case PermissionError:
		return "PermissionError"
	case NotSupported:
		return "NotSupported"
	case ProcessNotEnoughMemory:
		return "ProcessError::NotEnoughMemory"
	case ReplicaNotSet:
		return "ReplicaNotSet"
	case InternalError:
		return "InternalError"
	default:
		return "UnknownError"
	}
}

// KError is a kinded error, optionally carrying a count (used only by
// CantGrowFurther) and wrapping an underlying cause via pkg/errors so
// a stack trace survives to the log line that reports it.
type KError struct {
	Kind  Kind
	Count int
	cause error
}

func (e *KError) Error() string {
	if e.Kind == CantGrowFurther {
		return fmt.Sprintf("%s{count: %d}", e.Kind, e.Count)
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.cause)
	}
	return e.Kind.String()
}

func (e *KError) Unwrap() error { return e.cause }

// New constructs a bare KError of the given kind, stack-annotated.
func New(kind Kind) error {
	return errors.WithStack(&KError{Kind: kind})
}

// Wrap constructs a KError of the given kind wrapping cause, preserving
// cause's stack if it already carries one.
func Wrap(kind Kind, cause error) error {
	return errors.WithStack(&KError{Kind: kind, cause: cause})
}

// CantGrow constructs the CantGrowFurther{count} variant.
func CantGrow(count int) error {
	return errors.WithStack(&KError{Kind: CantGrowFurther, Count: count})
}

// As reports whether err (or something it wraps) is a *KError, and
// returns its Kind.
func As(err error) (Kind, bool) {
	var ke *KError
	if errors.As(err, &ke) {
		return ke.Kind, true
	}
	return 0, false
}

// Is reports whether err's kind equals kind.
func Is(err error, kind Kind) bool {
	k, ok := As(err)
	return ok && k == kind
}

// Collapse implements the §7 syscall-boundary rule: InvalidFile,
// PermissionError, AlreadyPresent, NotSupported, NotMapped and
// AlreadyMapped surface with their own stable kind; every other kind,
// and any error that is not a KError, collapses to InternalError so
// kernel state never leaks across the boundary.
func Collapse(err error) error {
	if err == nil {
		return nil
	}
	k, ok := As(err)
	if !ok {
		return New(InternalError)
	}
	switch k {
	case InvalidFile, PermissionError, AlreadyPresent, NotSupported, NotMapped, AlreadyMapped:
		return err
	default:
		return New(InternalError)
	}
}
