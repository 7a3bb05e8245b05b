package storage

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrEntityNotExist is returned when an operation targets an id the
	// storage does not hold.
	ErrEntityNotExist = errors.New("entity does not exist")

	// ErrEntityAlreadyExists is returned when a creation targets an id that is
	// already present.
	ErrEntityAlreadyExists = errors.New("entity already exists")

	// ErrInvalidPropertyName is returned by backends that reject property
	// names starting with ReservedPrefix.
	ErrInvalidPropertyName = errors.New("invalid property name")

	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New("access to closed storage")

	// ErrMalformedID is returned when a serialized identifier cannot be parsed.
	ErrMalformedID = errors.New("malformed identifier")
)

// ReservedPrefix marks property names that belong to the storage layer itself.
const ReservedPrefix = "__kg."

// EntityError reports which entity an operation failed on. It unwraps to one
// of the sentinel errors above so callers can use errors.Is.
type EntityError struct {
	Op   string       // operation that failed, e.g. "add node"
	ID   fmt.Stringer // NodeID or EdgeID
	Name string       // offending property name, if any
	Err  error
}

func (e *EntityError) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Err.Error())
	if e.Name != "" {
		fmt.Fprintf(&b, " %q", e.Name)
	}
	if e.ID != nil {
		fmt.Fprintf(&b, " (%s)", e.ID)
	}
	return b.String()
}

func (e *EntityError) Unwrap() error { return e.Err }

// NotExist builds an ErrEntityNotExist failure for id.
func NotExist(op string, id fmt.Stringer) error {
	return &EntityError{Op: op, ID: id, Err: ErrEntityNotExist}
}

// AlreadyExists builds an ErrEntityAlreadyExists failure for id.
func AlreadyExists(op string, id fmt.Stringer) error {
	return &EntityError{Op: op, ID: id, Err: ErrEntityAlreadyExists}
}

// InvalidPropertyName builds an ErrInvalidPropertyName failure.
func InvalidPropertyName(op string, id fmt.Stringer, name string) error {
	return &EntityError{Op: op, ID: id, Name: name, Err: ErrInvalidPropertyName}
}

// ValidateNodeID rejects node ids that have no serialized form: the empty
// string. Backends call it before accepting a new node.
func ValidateNodeID(op string, id NodeID) error {
	if id == "" {
		return &EntityError{Op: op, ID: id, Err: fmt.Errorf("%w: node id must be non-empty", ErrMalformedID)}
	}
	return nil
}

// ValidateEdgeID rejects edge ids whose endpoints are not valid node ids.
func ValidateEdgeID(op string, id EdgeID) error {
	if id.Src == "" || id.Dst == "" {
		return &EntityError{Op: op, ID: id, Err: fmt.Errorf("%w: edge endpoints must be non-empty", ErrMalformedID)}
	}
	return nil
}

// ValidatePropertyNames rejects reserved or empty property names.
func ValidatePropertyNames(op string, id fmt.Stringer, props Properties) error {
	for name := range props {
		if name == "" || strings.HasPrefix(name, ReservedPrefix) {
			return InvalidPropertyName(op, id, name)
		}
	}
	return nil
}
