// Package failure classifies engine errors into the kinds callers branch on.
package failure

import (
	"errors"

	"github.com/rotisserie/eris"
)

// Kind identifies a class of failure.
type Kind int

const (
	// Unknown is returned by KindOf for errors that carry no kind.
	Unknown Kind = iota
	// InvalidParameter marks an unsupported mode/limit-unit combination or bad input.
	InvalidParameter
	// NoReachableNodes marks a search that reached nothing within budget.
	NoReachableNodes
	// NoReachableEdges marks a search whose reachable nodes share no edge.
	NoReachableEdges
	// DataLoad marks missing or malformed graph or reference data.
	DataLoad
	// UnknownCategory marks a category absent from the rule table.
	UnknownCategory
)

// String returns the snake_case name of the kind.
func (k Kind) String() string {
	switch k {
	case InvalidParameter:
		return "invalid_parameter"
	case NoReachableNodes:
		return "no_reachable_nodes"
	case NoReachableEdges:
		return "no_reachable_edges"
	case DataLoad:
		return "data_load"
	case UnknownCategory:
		return "unknown_category"
	default:
		return "unknown"
	}
}

// MarshalText renders the kind as its name in JSON.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Error wraps an underlying error with its Kind.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a kinded error from a message.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Err: eris.New(msg)}
}

// Newf creates a kinded error from a format string.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Err: eris.Errorf(format, args...)}
}

// Wrap attaches a kind to an existing error. Returns nil for a nil error.
func Wrap(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or Unknown.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return Unknown
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
