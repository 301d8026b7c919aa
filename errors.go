package entkv

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound is returned when a retrieval addresses a non-existent identity.
	ErrNotFound = errors.New("entity not found")

	// ErrNoInverse is returned when inversion is requested on a relationship
	// that declares no inverse name.
	ErrNoInverse = errors.New("relationship declares no inverse")

	// ErrReadOnlyResult is returned by mutation entry points of QueryResult.
	ErrReadOnlyResult = errors.New("query result is read-only")
)

// EntityError reports a structural problem with an entity type or one of its
// relationships: a missing identity field, a mistyped relationship field, an
// inverse name that does not resolve on the target, and the like.
type EntityError struct {
	Entity       string
	Relationship string
	Msg          string
	Err          error
}

func entityErrf(entity, rel string, err error, format string, args ...any) error {
	return &EntityError{entity, rel, fmt.Sprintf(format, args...), err}
}

func (e *EntityError) Unwrap() error {
	return e.Err
}

func (e *EntityError) Error() string {
	var buf strings.Builder
	buf.WriteString(e.Entity)
	if e.Relationship != "" {
		buf.WriteByte('.')
		buf.WriteString(e.Relationship)
	}
	if e.Msg != "" {
		buf.WriteString(": ")
		buf.WriteString(e.Msg)
		if e.Err != nil {
			buf.WriteString(": ")
			buf.WriteString(e.Err.Error())
		}
	} else if e.Err != nil {
		buf.WriteString(": ")
		buf.WriteString(e.Err.Error())
	}
	return buf.String()
}
