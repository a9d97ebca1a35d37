package errors

import (
	"fmt"
	"strings"
	"syscall"
)

// Phase indicates where in processing the error occurred
type Phase string

const (
	PhaseReserve Phase = "reserve" // address space reservation
	PhaseGrow    Phase = "grow"    // linear memory growth
	PhaseProtect Phase = "protect" // page protection changes
	PhaseRelease Phase = "release" // decommit and unmap
	PhaseProbe   Phase = "probe"   // residency queries
	PhaseLoad    Phase = "load"    // module loading
	PhaseRuntime Phase = "runtime" // runtime operations
	PhaseStorage Phase = "storage" // counted map storage
	PhaseConfig  Phase = "config"  // configuration parsing
)

// Kind categorizes the error
type Kind string

const (
	KindSizeOverflow      Kind = "size_overflow"
	KindReservationFailed Kind = "reservation_failed"
	KindGrowthDenied      Kind = "growth_denied"
	KindProtocolViolation Kind = "protocol_violation"
	KindUnsupported       Kind = "unsupported"
	KindInvalidInput      Kind = "invalid_input"
	KindNotFound          Kind = "not_found"
	KindClosed            Kind = "closed"
	KindInstantiation     Kind = "instantiation"
	KindStorage           Kind = "storage"
)

// Error is the structured error type used throughout the module
type Error struct {
	Value  any
	Cause  error
	Phase  Phase
	Kind   Kind
	Op     string
	Detail string
	Addr   uintptr
	Size   uint64
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if e.Op != "" {
		b.WriteString(": ")
		b.WriteString(e.Op)
		if e.Addr != 0 || e.Size != 0 {
			fmt.Fprintf(&b, " %#x+%#x", e.Addr, e.Size)
		}
	}

	if e.Detail != "" {
		if e.Op != "" {
			b.WriteString(" - ")
		} else {
			b.WriteString(": ")
		}
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Phase == t.Phase && e.Kind == t.Kind
	}
	return false
}

// IsKind reports whether any *Error in err's chain has the given kind.
func IsKind(err error, kind Kind) bool {
	for err != nil {
		if e, ok := err.(*Error); ok && e.Kind == kind {
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// Errno returns the OS error code carried by the cause chain, or 0.
func (e *Error) Errno() syscall.Errno {
	var cause error = e
	for cause != nil {
		if errno, ok := cause.(syscall.Errno); ok {
			return errno
		}
		u, ok := cause.(interface{ Unwrap() error })
		if !ok {
			return 0
		}
		cause = u.Unwrap()
	}
	return 0
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Op sets the OS operation and the range it was applied to
func (b *Builder) Op(op string, addr uintptr, size uint64) *Builder {
	b.err.Op = op
	b.err.Addr = addr
	b.err.Size = size
	return b
}

// Value sets the offending value
func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Convenience constructors for common error patterns

// SizeOverflow creates an error for byte arithmetic that does not fit its type
func SizeOverflow(phase Phase, what string, value any) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindSizeOverflow,
		Detail: fmt.Sprintf("%s overflows (%v)", what, value),
		Value:  value,
	}
}

// ReservationFailed creates an error for an address space reservation the OS refused
func ReservationFailed(size uint64, cause error) *Error {
	return &Error{
		Phase:  PhaseReserve,
		Kind:   KindReservationFailed,
		Op:     "mmap",
		Size:   size,
		Detail: fmt.Sprintf("cannot reserve %d bytes", size),
		Cause:  cause,
	}
}

// GrowthDenied creates an error describing why a grow request was refused
func GrowthDenied(current, delta uint32, reason string) *Error {
	return &Error{
		Phase:  PhaseGrow,
		Kind:   KindGrowthDenied,
		Detail: fmt.Sprintf("grow %d by %d pages: %s", current, delta, reason),
		Value:  delta,
	}
}

// ProtocolViolation creates an error for an OS operation that contradicts
// an earlier successful one
func ProtocolViolation(phase Phase, op string, addr uintptr, size uint64, cause error) *Error {
	return &Error{
		Phase: phase,
		Kind:  KindProtocolViolation,
		Op:    op,
		Addr:  addr,
		Size:  size,
		Cause: cause,
	}
}

// Unsupported creates an unsupported operation error
func Unsupported(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindUnsupported,
		Detail: what,
	}
}

// Closed creates an error for use after release
func Closed(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindClosed,
		Detail: fmt.Sprintf("%s already closed", what),
	}
}

// NotFound creates a not-found error
func NotFound(phase Phase, what, name string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotFound,
		Detail: fmt.Sprintf("%s %q not found", what, name),
	}
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: detail,
	}
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}

// Instantiation creates an instantiation error
func Instantiation(cause error) *Error {
	return &Error{
		Phase:  PhaseRuntime,
		Kind:   KindInstantiation,
		Detail: "instantiate module",
		Cause:  cause,
	}
}

// Load creates a module loading error
func Load(detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindInvalidInput,
		Detail: detail,
		Cause:  cause,
	}
}

// Storage creates a storage error
func Storage(detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseStorage,
		Kind:   KindStorage,
		Detail: detail,
		Cause:  cause,
	}
}
