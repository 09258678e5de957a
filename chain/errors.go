package chain

import "fmt"

// ErrorKind enumerates the resolver/verifier error taxonomy of spec.md §7.
type ErrorKind string

const (
	ErrInvalidCodeHash       ErrorKind = "InvalidCodeHash"
	ErrMultipleMatches       ErrorKind = "MultipleMatches"
	ErrDuplicateCellDeps     ErrorKind = "DuplicateCellDeps"
	ErrExceededMaximumCycles ErrorKind = "ExceededMaximumCycles"
	ErrValidationFailure     ErrorKind = "ValidationFailure"
	ErrVMInternalError       ErrorKind = "VMInternalError"
	ErrIoError               ErrorKind = "IoError"
)

// Role locates the script group a given error was reported against.
type Role struct {
	// Kind is one of "Inputs", "Outputs", "CellDep".
	Kind  string
	Index int
	// Script is "Lock" or "Type"; empty for resolver errors with no group yet.
	Script string
}

func (r Role) String() string {
	if r.Script == "" {
		return fmt.Sprintf("%s[%d]", r.Kind, r.Index)
	}
	return fmt.Sprintf("%s[%d].%s", r.Kind, r.Index, r.Script)
}

// Error is the typed error carried through resolution and verification; it
// always names the role of the script group or cell-dep that triggered it.
type Error struct {
	Kind    ErrorKind
	Role    Role
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Role)
	}
	return fmt.Sprintf("%s: %s: %s", e.Kind, e.Role, e.Message)
}

func newErr(kind ErrorKind, role Role, format string, args ...any) *Error {
	return &Error{Kind: kind, Role: role, Message: fmt.Sprintf(format, args...)}
}

// NotFound is returned by a DataLoader when it cannot serve a requested
// cell, cell data, or header. Callers treat it as a resolution error, not a
// script failure (spec.md §4.1).
type NotFound struct {
	What string
}

func (e *NotFound) Error() string { return fmt.Sprintf("not found: %s", e.What) }
