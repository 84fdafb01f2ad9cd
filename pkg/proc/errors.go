package proc

import "errors"

// Lifecycle errors. These are recoverable conditions reported to the
// caller; invariant violations panic instead.
var (
	// ErrNoProc is returned when the process table has no free slot.
	ErrNoProc = errors.New("no free process slot")
	// ErrNoChildren is returned by Wait when the caller has no children.
	ErrNoChildren = errors.New("no children")
	// ErrNoSuchProcess is returned when no live process has the pid.
	ErrNoSuchProcess = errors.New("no such pid")
)

// Administrative errors. Each maps to one distinct failure code of the
// monopolize/priority operations; none of them disturbs process state.
var (
	// ErrPriorityRange is returned for a priority outside [0, 10].
	ErrPriorityRange = errors.New("priority out of range")
	// ErrWrongSecret is returned when the monopolize secret does not match.
	ErrWrongSecret = errors.New("wrong monopolize secret")
	// ErrAlreadyMonopolized is returned when the target already holds
	// exclusive-access privilege.
	ErrAlreadyMonopolized = errors.New("process already monopolized")
	// ErrSelfMonopoly is returned when a process targets itself.
	ErrSelfMonopoly = errors.New("cannot monopolize self")
)
