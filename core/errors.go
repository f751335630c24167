package core

import (
	"errors"
	"fmt"
)

// Error kinds. Every failure produced while building a scenario unwraps to
// exactly one of these.
var (
	ErrConfiguration         = errors.New("configuration error")
	ErrAddressSpaceExhausted = errors.New("address space exhausted")
	ErrAddressRangeExceeded  = errors.New("address range exceeded")
	ErrScenarioTiming        = errors.New("scenario timing error")
	ErrUnknownEntity         = errors.New("unknown entity")
)

// BuildError identifies the offending entity of a failed build step.
type BuildError struct {
	Kind   error  // one of the Err* kinds above
	Entity string // segment, node, role or subnet identifier
	Detail string
	Err    error // optional cause
}

func (e *BuildError) Error() string {
	msg := e.Kind.Error()
	if e.Entity != "" {
		msg += fmt.Sprintf(": %q", e.Entity)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As.
func (e *BuildError) Unwrap() []error {
	out := []error{e.Kind}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

// Errorf builds a BuildError of the given kind for entity.
func Errorf(kind error, entity, format string, args ...any) *BuildError {
	return &BuildError{Kind: kind, Entity: entity, Detail: fmt.Sprintf(format, args...)}
}

// Wrap builds a BuildError of the given kind around cause.
func Wrap(kind error, entity string, cause error) *BuildError {
	return &BuildError{Kind: kind, Entity: entity, Err: cause}
}

// UnknownEntity reports a reference to a node or segment that was never created.
func UnknownEntity(what, id string) *BuildError {
	return &BuildError{Kind: ErrUnknownEntity, Entity: id, Detail: what + " does not exist"}
}

// EntityOf returns the offending entity recorded in err, if any.
func EntityOf(err error) string {
	var be *BuildError
	if errors.As(err, &be) {
		return be.Entity
	}
	return ""
}
