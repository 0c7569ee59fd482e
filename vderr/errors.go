// Package vderr provides the taxonomized error type shared by every layer of
// vdirsync: storages, the DAV client, discovery, and the sync engine each
// wrap underlying errors with a Kind so callers can branch on category
// instead of matching strings.
package vderr

import (
	"errors"
	"fmt"
)

// Kind categorizes an error into the taxonomy every storage and the DAV
// client agree on.
type Kind string

const (
	DoesNotExist       Kind = "does_not_exist"
	NotACollection     Kind = "not_a_collection"
	NotAStorage        Kind = "not_a_storage"
	AccessDenied       Kind = "access_denied"
	Io                 Kind = "io"
	InvalidData        Kind = "invalid_data"
	InvalidInput       Kind = "invalid_input"
	ReadOnly           Kind = "read_only"
	CollectionNotEmpty Kind = "collection_not_empty"
	Unsupported        Kind = "unsupported"
	Uncategorised      Kind = "uncategorised"

	// DAV-specific.
	BadStatusCode  Kind = "bad_status_code"
	MissingLocation Kind = "missing_location"
	Xml            Kind = "xml"

	// Bootstrap-specific.
	InvalidURL   Kind = "invalid_url"
	DNSError     Kind = "dns_error"
	NotAvailable Kind = "not_available"
	TxtError     Kind = "txt_error"
)

// Error is the wrapped error carrying a Kind plus structured metadata. It
// mirrors the teacher's ErrorWithSuggestion shape (Err + Unwrap) but carries
// a taxonomy Kind instead of a human suggestion string, since this module's
// caller is another program, not an interactive CLI.
type Error struct {
	Kind Kind
	// Detail is a short machine-oriented qualifier, e.g. a field name for
	// Xml/MissingData, or a status code for BadStatusCode.
	Detail string
	Err    error
}

func (e *Error) Error() string {
	if e.Err == nil {
		if e.Detail != "" {
			return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
		}
		return string(e.Kind)
	}
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an *Error of the given kind wrapping err. err may be nil.
func New(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// Newf builds an *Error of the given kind with a Detail string.
func Newf(kind Kind, detail string, args ...interface{}) *Error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(detail, args...)}
}

// Wrapf builds an *Error of the given kind wrapping err, with a Detail.
func Wrapf(kind Kind, err error, detail string, args ...interface{}) *Error {
	return &Error{Kind: kind, Err: err, Detail: fmt.Sprintf(detail, args...)}
}

// Is reports whether err (or any error in its chain) is a *Error of the
// given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// MissingData returns the Xml-kind error used when a required text node
// (href, etag, status) is absent from a multi-status response.
func MissingData(field string) *Error {
	return &Error{Kind: Xml, Detail: fmt.Sprintf("missing_data(%s)", field)}
}

// StatusCode returns the BadStatusCode-kind error for a non-success,
// non-207 HTTP response.
func StatusCode(code int) *Error {
	return &Error{Kind: BadStatusCode, Detail: fmt.Sprintf("%d", code)}
}
