package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies metamodel and registration failures.
type ErrorKind string

// Error taxonomy.
const (
	KindInvalidDefinition        ErrorKind = "InvalidDefinition"
	KindDuplicateAssignment      ErrorKind = "DuplicateAssignment"
	KindInUse                    ErrorKind = "InUse"
	KindUnknownTerm              ErrorKind = "UnknownTerm"
	KindUnknownMaterial          ErrorKind = "UnknownMaterial"
	KindValueTooLong             ErrorKind = "ValueTooLong"
	KindTypeMismatch             ErrorKind = "TypeMismatch"
	KindMissingMandatoryProperty ErrorKind = "MissingMandatoryProperty"
	KindDuplicateCode            ErrorKind = "DuplicateCode"
	KindInvalidCodeFormat        ErrorKind = "InvalidCodeFormat"
	KindUnknownReference         ErrorKind = "UnknownReference"
	KindCommitConflict           ErrorKind = "CommitConflict"
	KindNotFound                 ErrorKind = "NotFound"
)

type kindError ErrorKind

func (k kindError) Error() string { return string(k) }

// Sentinels for errors.Is matching by kind.
var (
	ErrInvalidDefinition        error = kindError(KindInvalidDefinition)
	ErrDuplicateAssignment      error = kindError(KindDuplicateAssignment)
	ErrInUse                    error = kindError(KindInUse)
	ErrUnknownTerm              error = kindError(KindUnknownTerm)
	ErrUnknownMaterial          error = kindError(KindUnknownMaterial)
	ErrValueTooLong             error = kindError(KindValueTooLong)
	ErrTypeMismatch             error = kindError(KindTypeMismatch)
	ErrMissingMandatoryProperty error = kindError(KindMissingMandatoryProperty)
	ErrDuplicateCode            error = kindError(KindDuplicateCode)
	ErrInvalidCodeFormat        error = kindError(KindInvalidCodeFormat)
	ErrUnknownReference         error = kindError(KindUnknownReference)
	ErrCommitConflict           error = kindError(KindCommitConflict)
	ErrNotFound                 error = kindError(KindNotFound)
)

// Error carries the failure kind plus enough context to render a message:
// the entity kind, its position in the batch list and the offending field.
type Error struct {
	Kind     ErrorKind
	Entity   EntityKind
	Position int
	// MaterialType qualifies Position for material registrations, which are grouped by type.
	MaterialType string
	Field        string
	Message      string
	Err          error
}

// NewError builds an error without batch context.
func NewError(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Position: -1, Message: fmt.Sprintf(format, args...)}
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Entity != "" {
		b.WriteString(": ")
		b.WriteString(strings.ToLower(string(e.Entity)))
		if e.MaterialType != "" {
			fmt.Fprintf(&b, " [%s]", e.MaterialType)
		}
		if e.Position >= 0 {
			fmt.Fprintf(&b, " #%d", e.Position)
		}
	}
	if e.Field != "" {
		fmt.Fprintf(&b, " field %s", e.Field)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap exposes the underlying cause.
func (e *Error) Unwrap() error { return e.Err }

// Is matches kind sentinels.
func (e *Error) Is(target error) bool {
	k, ok := target.(kindError)
	return ok && ErrorKind(k) == e.Kind
}

// At returns a copy positioned on a batch entity.
func (e *Error) At(entity EntityKind, position int) *Error {
	cp := *e
	cp.Entity = entity
	cp.Position = position
	return &cp
}

// WithField returns a copy naming the offending field.
func (e *Error) WithField(field string) *Error {
	cp := *e
	cp.Field = field
	return &cp
}

// KindOf extracts the error kind, or "" when err is not a domain error.
func KindOf(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}

// ErrStaleExpectedVersion is wrapped by the CommitConflict raised when an
// update names an expected version the stored entity has already moved past.
var ErrStaleExpectedVersion = errors.New("expected version is stale")

// IsRetryable reports whether a caller may resubmit the batch with the same
// registration id. Only commit conflicts qualify, and not those caused by a
// stale expected version, since resubmitting the same batch fails the same way.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrCommitConflict) && !errors.Is(err, ErrStaleExpectedVersion)
}
