// Package vmerrors implements the error taxonomy described by the JIT's
// error handling design: resolution failures during compilation,
// bytecode-level runtime faults, verifier-level internal-bug assertions,
// foreign-call link failures, and class-initializer failures.
//
// Every error type wraps an optional cause and is usable with
// errors.Is/errors.As.
package vmerrors

import "fmt"

// ProtocolError is the common base: a message plus an optional wrapped
// cause. The specialized taxonomy types below all embed it.
type ProtocolError struct {
	Message string
	Cause   error
}

func (e *ProtocolError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *ProtocolError) Unwrap() error {
	return e.Cause
}

// IsProtocolError checks if an error is a protocol error
func IsProtocolError(err error) bool {
	_, ok := err.(*ProtocolError)
	return ok
}

// WrapProtocolError wraps an existing error as a protocol error
func WrapProtocolError(err error, message string) *ProtocolError {
	return &ProtocolError{Message: message, Cause: err}
}

// ProtocolErrorf creates a new protocol error with formatted message
func ProtocolErrorf(format string, args ...interface{}) *ProtocolError {
	return &ProtocolError{Message: fmt.Sprintf(format, args...)}
}

// CompileError is raised when compilation cannot resolve a constant-pool
// entry (class, field, or method). Per §7, the in-flight compilation is
// abandoned and no partial code is published; the pending exception
// propagates to the caller of the method stub.
type CompileError struct {
	*ProtocolError
	PoolIndex int
}

func NewCompileError(poolIndex int, format string, args ...interface{}) *CompileError {
	return &CompileError{
		ProtocolError: ProtocolErrorf(format, args...),
		PoolIndex:     poolIndex,
	}
}

// ThrownException models a bytecode-level fault raised from emitted
// code — null dereference, array-index-out-of-bounds, arithmetic
// (division by zero), checkcast/class-cast, out-of-memory, or an
// explicit athrow. Runtime helpers record the exception object on the
// thread; when it is still pending after compiled code returns,
// Processor.Invoke reports it by returning one of these.
type ThrownException struct {
	*ProtocolError
	ClassName string
}

func NewThrownException(className, format string, args ...interface{}) *ThrownException {
	return &ThrownException{
		ProtocolError: ProtocolErrorf(format, args...),
		ClassName:     className,
	}
}

// Well-known exception class names, used both by runtime helpers raising
// ThrownException and by handler-table catch-type resolution.
const (
	ClassNullPointerException            = "java/lang/NullPointerException"
	ClassArrayIndexOutOfBoundsException  = "java/lang/ArrayIndexOutOfBoundsException"
	ClassArithmeticException             = "java/lang/ArithmeticException"
	ClassClassCastException              = "java/lang/ClassCastException"
	ClassOutOfMemoryError                = "java/lang/OutOfMemoryError"
	ClassThrowable                       = "java/lang/Throwable"
)

// VerifierError marks a condition the spec treats as a VM-internal bug
// rather than a guest-observable fault: an unknown opcode, or a branch to
// a bytecode IP that was never emitted. These are assertion failures —
// callers should treat them as unrecoverable for the method being
// compiled.
type VerifierError struct {
	*ProtocolError
}

func NewVerifierError(format string, args ...interface{}) *VerifierError {
	return &VerifierError{ProtocolError: ProtocolErrorf(format, args...)}
}

// LinkError is returned by the native invoker when a foreign symbol
// cannot be resolved, surfaced to guest code as an UnsatisfiedLinkError
// via the unwinder.
type LinkError struct {
	*ProtocolError
	Symbol string
}

func NewLinkError(symbol string) *LinkError {
	return &LinkError{
		ProtocolError: ProtocolErrorf("unsatisfied link error: %s", symbol),
		Symbol:        symbol,
	}
}

// InitializerError wraps a class initializer's thrown exception per the
// ExceptionInInitializerError semantics of §7. The class is left in a
// re-initializable state: the caller must clear the class's
// init-in-progress bit after constructing this error.
type InitializerError struct {
	*ProtocolError
	ClassName string
}

func NewInitializerError(className string, cause error) *InitializerError {
	return &InitializerError{
		ProtocolError: WrapProtocolError(cause, fmt.Sprintf("exception in initializer for %s", className)),
		ClassName:     className,
	}
}
