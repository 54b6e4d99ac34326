package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// Kind classifies a failure so callers can branch on it without parsing messages
type Kind string

const (
	KindAlreadyExists    Kind = "already_exists"
	KindNotFound         Kind = "not_found"
	KindInvalidEncoding  Kind = "invalid_encoding"
	KindInvalidArgument  Kind = "invalid_argument"
	KindIO               Kind = "io_error"
	KindDecode           Kind = "decode_error"
	KindDecryption       Kind = "decryption_error"
	KindNoActiveTable    Kind = "no_active_table"
	KindNoActiveDatabase Kind = "no_active_database"
)

// Sentinels, one per kind. Every *Error matches its kind's sentinel with errors.Is.
var (
	ErrAlreadyExists    = stderrors.New("already exists")
	ErrNotFound         = stderrors.New("not found")
	ErrInvalidEncoding  = stderrors.New("invalid encoding")
	ErrInvalidArgument  = stderrors.New("invalid argument")
	ErrIO               = stderrors.New("i/o error")
	ErrDecode           = stderrors.New("decode error")
	ErrDecryption       = stderrors.New("decryption error")
	ErrNoActiveTable    = stderrors.New("no active table")
	ErrNoActiveDatabase = stderrors.New("no active database")
)

var sentinels = map[Kind]error{
	KindAlreadyExists:    ErrAlreadyExists,
	KindNotFound:         ErrNotFound,
	KindInvalidEncoding:  ErrInvalidEncoding,
	KindInvalidArgument:  ErrInvalidArgument,
	KindIO:               ErrIO,
	KindDecode:           ErrDecode,
	KindDecryption:       ErrDecryption,
	KindNoActiveTable:    ErrNoActiveTable,
	KindNoActiveDatabase: ErrNoActiveDatabase,
}

// Error is the typed result every storage and engine operation fails with
type Error struct {
	Op      string // operation, e.g. "create_table", "load"
	Kind    Kind
	Subject string // database, table, record id or path the failure is about
	Reason  string // human-readable explanation (optional)
	Err     error  // underlying cause (may be nil)
}

func (e *Error) Error() string {
	var parts []string

	if e.Op != "" {
		parts = append(parts, e.Op)
	}

	head := string(e.Kind)
	if sentinel, ok := sentinels[e.Kind]; ok {
		head = sentinel.Error()
	}
	if e.Subject != "" {
		head = fmt.Sprintf("%s %q", head, e.Subject)
	}
	parts = append(parts, head)

	if e.Reason != "" {
		parts = append(parts, e.Reason)
	}
	if e.Err != nil {
		parts = append(parts, e.Err.Error())
	}

	return strings.Join(parts, ": ")
}

// Unwrap exposes both the kind sentinel and the cause to errors.Is / errors.As
func (e *Error) Unwrap() []error {
	var errs []error
	if sentinel, ok := sentinels[e.Kind]; ok {
		errs = append(errs, sentinel)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// New builds an *Error of the given kind
func New(op string, kind Kind, subject string, cause error) *Error {
	return &Error{Op: op, Kind: kind, Subject: subject, Err: cause}
}

// KindOf returns the kind of the first *Error in err's chain, or "" if there is none
func KindOf(err error) Kind {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func NewAlreadyExists(op, subject string) *Error {
	return &Error{Op: op, Kind: KindAlreadyExists, Subject: subject}
}

func NewNotFound(op, subject string, cause error) *Error {
	return &Error{Op: op, Kind: KindNotFound, Subject: subject, Err: cause}
}

func NewInvalidEncoding(op, encoding string) *Error {
	return &Error{
		Op:      op,
		Kind:    KindInvalidEncoding,
		Subject: encoding,
		Reason:  "please provide a valid common encoding format",
	}
}

func NewInvalidArgument(op, subject, reason string) *Error {
	return &Error{Op: op, Kind: KindInvalidArgument, Subject: subject, Reason: reason}
}

func NewIO(op, path string, cause error) *Error {
	return &Error{Op: op, Kind: KindIO, Subject: path, Err: cause}
}

func NewDecode(op, subject string, cause error) *Error {
	return &Error{Op: op, Kind: KindDecode, Subject: subject, Err: cause}
}

func NewDecryption(op, subject string, cause error) *Error {
	return &Error{Op: op, Kind: KindDecryption, Subject: subject, Err: cause}
}

func NewNoActiveTable(op string) *Error {
	return &Error{Op: op, Kind: KindNoActiveTable}
}

func NewNoActiveDatabase(op string) *Error {
	return &Error{Op: op, Kind: KindNoActiveDatabase, Reason: "create or load a database first"}
}
