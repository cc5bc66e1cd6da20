package common

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies pipeline failures. Every error leaving a pipeline stage
// carries exactly one kind.
type Kind string

const (
	KindUnresolvableIntent Kind = "UnresolvableIntent"
	KindAmbiguousReference Kind = "AmbiguousReference"
	KindSchemaViolation    Kind = "SchemaViolation"
	KindResultTooLarge     Kind = "ResultTooLarge"
	KindStoreUnavailable   Kind = "StoreUnavailable"
	KindInsufficientData   Kind = "InsufficientData"
	KindSynthesisFailed    Kind = "SynthesisFailed"
	KindTimeout            Kind = "Timeout"
	KindOverloaded         Kind = "Overloaded"
)

// Sentinel errors for errors.Is checks. *Error matches the sentinel of its kind.
var (
	ErrUnresolvableIntent = &Error{Kind: KindUnresolvableIntent}
	ErrAmbiguousReference = &Error{Kind: KindAmbiguousReference}
	ErrSchemaViolation    = &Error{Kind: KindSchemaViolation}
	ErrResultTooLarge     = &Error{Kind: KindResultTooLarge}
	ErrStoreUnavailable   = &Error{Kind: KindStoreUnavailable}
	ErrInsufficientData   = &Error{Kind: KindInsufficientData}
	ErrSynthesisFailed    = &Error{Kind: KindSynthesisFailed}
	ErrTimeout            = &Error{Kind: KindTimeout}
	ErrOverloaded         = &Error{Kind: KindOverloaded}
)

// ErrNotFound is returned by stores when an entity id does not exist.
var ErrNotFound = errors.New("not found")

// Error is the typed pipeline error.
//
// Details carries kind specific values, for example the missing categories of
// an InsufficientData error or the candidate ids of an AmbiguousReference.
type Error struct {
	Kind    Kind
	Message string
	Details []string
	Cause   error
}

// NewError creates a typed error.
func NewError(kind Kind, message string, cause error, details ...string) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause, Details: details}
}

// Errorf creates a typed error with a formatted message.
func Errorf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if len(e.Details) > 0 {
		b.WriteString(" [")
		b.WriteString(strings.Join(e.Details, ", "))
		b.WriteString("]")
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches any *Error of the same kind, so sentinel comparisons work for
// errors carrying messages and causes.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the kind of the first *Error in the chain.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// UserMessage renders an error for the presentation layer. Clarification
// kinds ask the user to rephrase, everything else is a plain failure naming
// the kind. Causes are never included.
func UserMessage(err error) string {
	var e *Error
	if !errors.As(err, &e) {
		return "The request failed."
	}

	switch e.Kind {
	case KindUnresolvableIntent:
		return "I could not tell what you are asking about. Could you mention warehouses, zones, managers, infrastructure, risk events or markets?"
	case KindAmbiguousReference:
		msg := "Your question matches more than one entity"
		if len(e.Details) > 0 {
			msg += " (" + strings.Join(e.Details, ", ") + ")"
		}
		return msg + ". Could you specify which one you mean?"
	case KindInsufficientData:
		return "Risk score is degraded: no data for " + strings.Join(e.Details, ", ") + "."
	default:
		if e.Message != "" {
			return fmt.Sprintf("The request failed (%s): %s", e.Kind, e.Message)
		}
		return fmt.Sprintf("The request failed (%s).", e.Kind)
	}
}

// IsClarification reports whether the error asks the user to rephrase.
func IsClarification(err error) bool {
	return errors.Is(err, ErrUnresolvableIntent) || errors.Is(err, ErrAmbiguousReference)
}
