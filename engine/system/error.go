package system

import (
	"errors"
	"fmt"
)

// Kind distinguishes infrastructure failures from caller logic failures.
type Kind int

const (
	// KindDatabase covers begin, commit, rollback, connection and migration
	// failures.
	KindDatabase Kind = iota + 1
	// KindTransaction carries the caller's own error, produced only after the
	// transaction was rolled back successfully.
	KindTransaction
)

func (k Kind) String() string {
	switch k {
	case KindDatabase:
		return "Database"
	case KindTransaction:
		return "Transaction"
	default:
		return "Unknown"
	}
}

// Error is the failure type of Run. E is the caller's domain error type.
type Error[E error] struct {
	kind Kind
	db   error
	tx   E
}

// FromDatabase wraps a driver or infrastructure error.
func FromDatabase[E error](err error) *Error[E] {
	return &Error[E]{kind: KindDatabase, db: err}
}

func fromTransaction[E error](err E) *Error[E] {
	return &Error[E]{kind: KindTransaction, tx: err}
}

func (e *Error[E]) Kind() Kind {
	return e.kind
}

// Database returns the infrastructure cause, or nil for KindTransaction.
func (e *Error[E]) Database() error {
	if e.kind != KindDatabase {
		return nil
	}
	return e.db
}

// Transaction returns the caller's error when the kind is KindTransaction.
func (e *Error[E]) Transaction() (E, bool) {
	if e.kind != KindTransaction {
		var zero E
		return zero, false
	}
	return e.tx, true
}

func (e *Error[E]) Error() string {
	if e.kind == KindTransaction {
		return "transaction error: " + e.tx.Error()
	}
	return "database error: " + errorString(e.db)
}

func (e *Error[E]) Unwrap() error {
	if e.kind == KindTransaction {
		return e.tx
	}
	return e.db
}

// Format keeps the caller's payload out of the verbose verbs, which end up
// in debug logs: %+v and %#v print "Transaction" without the wrapped error.
func (e *Error[E]) Format(f fmt.State, verb rune) {
	switch {
	case verb == 'v' && (f.Flag('+') || f.Flag('#')):
		if e.kind == KindTransaction {
			fmt.Fprint(f, "Transaction")
			return
		}
		fmt.Fprintf(f, "Database(%s)", errorString(e.db))
	case verb == 'q':
		fmt.Fprintf(f, "%q", e.Error())
	default:
		fmt.Fprint(f, e.Error())
	}
}

func (e *Error[E]) errorKind() Kind {
	return e.kind
}

type kinded interface {
	errorKind() Kind
}

// KindOf reports the kind of the first Error in err's chain, whatever its
// domain type.
func KindOf(err error) (Kind, bool) {
	var k kinded
	if errors.As(err, &k) {
		return k.errorKind(), true
	}
	return 0, false
}

// IsDatabase reports whether err carries an infrastructure failure.
func IsDatabase(err error) bool {
	kind, ok := KindOf(err)
	return ok && kind == KindDatabase
}

func errorString(err error) string {
	if err == nil {
		return "<nil>"
	}
	return err.Error()
}
