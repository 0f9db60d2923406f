// Package errors holds the error type shared by the store and its callers.
//
// Every error the store returns on purpose is an [*Error] carrying a [Kind],
// so callers can branch with the standard library:
//
//	if errors.Is(err, sublerrs.Conflict) { ... }
package errors

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Kind classifies an error so callers (crawlers, schedulers, API handlers)
// can decide locally whether to skip, retry or report it.
type Kind string

const (
	// Conflict is a uniqueness violation: subscribing twice, a duplicate tag
	// term, a duplicate composite item key.
	Conflict Kind = "duplicate key violation"
	// NotFound is a reference to a record that does not exist.
	NotFound Kind = "not found"
	// InvalidPolicy is a channel expiration policy missing its expiration time.
	InvalidPolicy Kind = "invalid policy configuration"
	// Invalid is a malformed argument rejected at the boundary.
	Invalid Kind = "invalid argument"
	// InvalidState is a lifecycle transition that isn't allowed from the
	// record's current state.
	InvalidState Kind = "invalid state transition"
	// Forbidden is an attempt to combine records owned by different users.
	Forbidden Kind = "forbidden"
	// Internal is anything else, usually the database.
	Internal Kind = "internal error"
)

func (k Kind) Error() string {
	return string(k)
}

// Error represents a universal error type for the store.
type Error struct {
	Kind    Kind
	Err     error // The error this wraps
	Details []Detail
}

type Detail struct {
	Field string `json:"field"`
	Error string `json:"error"`
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	if len(e.Details) == 0 {
		return fmt.Sprintf("%s: %s", e.Kind, e.Err)
	}

	return fmt.Sprintf("%s: %s, details: %v", e.Kind, e.Err, e.Details)
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *Error) Unwrap() []error {
	errs := []error{e.Kind}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}

	return errs
}

type transport struct {
	Message string   `json:"message"`
	Kind    string   `json:"kind"`
	Details []Detail `json:"details"`
}

func (s *Error) MarshalJSON() ([]byte, error) {
	msg := string(s.Kind)
	if s.Err != nil {
		msg = s.Err.Error()
	}

	return json.Marshal(transport{
		Message: msg,
		Kind:    string(s.Kind),
		Details: s.Details,
	})
}

func (s *Error) UnmarshalJSON(byts []byte) error {
	t := transport{}
	if err := json.Unmarshal(byts, &t); err != nil {
		return err
	}

	s.Err = errors.New(t.Message)
	s.Kind = Kind(t.Kind)
	s.Details = t.Details
	return nil
}

// E builds an *Error from its arguments: a Kind sets the kind, a string or
// error sets the cause, Details are appended. The kind defaults to Internal.
func E(args ...any) *Error {
	ret := &Error{
		Kind:    Internal,
		Err:     nil,
		Details: nil,
	}

	for _, arg := range args {
		switch arg := arg.(type) {
		case Kind:
			ret.Kind = arg
		case string:
			ret.Err = errors.New(arg)
		case error:
			ret.Err = arg
		case Detail:
			ret.Details = append(ret.Details, arg)
		case []Detail:
			ret.Details = append(ret.Details, arg...)
		}
	}

	return ret
}

// Is reports whether err, or anything it wraps, has the given kind.
func Is(err error, k Kind) bool {
	return errors.Is(err, k)
}
