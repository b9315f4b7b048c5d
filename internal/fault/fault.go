// Package fault defines the error kinds that terminate a wet/dry decision request.
// Each kind has a sentinel usable with errors.Is; *Error attaches the failing
// operation and the offending input.
package fault

import (
	"errors"
	"fmt"
)

// Kind is a stable label for a failure class. Used as a metric label and in API errors.
type Kind string

const (
	KindInvalidInput     Kind = "invalid_input"
	KindInvalidRange     Kind = "invalid_range"
	KindZeroDivision     Kind = "zero_division"
	KindUnclassifiedSoil Kind = "unclassified_soil"
	KindLookupFailure    Kind = "lookup_failure"
	KindDataUnavailable  Kind = "data_unavailable"
	KindUnknown          Kind = "unknown"
)

var (
	ErrInvalidInput     = errors.New("invalid input")
	ErrInvalidRange     = errors.New("invalid date range")
	ErrZeroDivision     = errors.New("zero division")
	ErrUnclassifiedSoil = errors.New("unclassified soil")
	ErrLookupFailure    = errors.New("lookup failure")
	ErrDataUnavailable  = errors.New("data unavailable")
)

var sentinels = map[Kind]error{
	KindInvalidInput:     ErrInvalidInput,
	KindInvalidRange:     ErrInvalidRange,
	KindZeroDivision:     ErrZeroDivision,
	KindUnclassifiedSoil: ErrUnclassifiedSoil,
	KindLookupFailure:    ErrLookupFailure,
	KindDataUnavailable:  ErrDataUnavailable,
}

// Error is a classified failure. Input is a human-readable rendering of the value,
// date or coordinate that caused it.
type Error struct {
	Kind  Kind
	Op    string
	Input string
	Err   error
}

// New returns an *Error of the given kind. err may be nil.
func New(kind Kind, op, input string, err error) *Error {
	return &Error{Kind: kind, Op: op, Input: input, Err: err}
}

// Newf is New with a formatted input description.
func Newf(kind Kind, op string, err error, format string, args ...any) *Error {
	return New(kind, op, fmt.Sprintf(format, args...), err)
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if s, ok := sentinels[e.Kind]; ok {
		msg = s.Error()
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Input != "" {
		msg += " (" + e.Input + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the kind sentinel and the underlying cause.
func (e *Error) Unwrap() []error {
	out := make([]error, 0, 2)
	if s, ok := sentinels[e.Kind]; ok {
		out = append(out, s)
	}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

// KindOf returns the Kind of the first *Error in err's chain, falling back to
// sentinel matching. Returns KindUnknown for unclassified errors and "" for nil.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	for kind, s := range sentinels {
		if errors.Is(err, s) {
			return kind
		}
	}
	return KindUnknown
}
