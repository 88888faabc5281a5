package postgres

import (
	"errors"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
)

// IsSerializationFailure reports whether err is a serialization failure or
// a detected deadlock. Both are safe for the caller to retry.
func IsSerializationFailure(err error) bool {
	return hasCode(err, pgerrcode.SerializationFailure, pgerrcode.DeadlockDetected)
}

// IsUniqueViolation reports whether err violates a unique constraint.
func IsUniqueViolation(err error) bool {
	return hasCode(err, pgerrcode.UniqueViolation)
}

// IsForeignKeyViolation reports whether err references a missing parent row.
func IsForeignKeyViolation(err error) bool {
	return hasCode(err, pgerrcode.ForeignKeyViolation)
}

func hasCode(err error, codes ...string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	for _, code := range codes {
		if pgErr.Code == code {
			return true
		}
	}
	return false
}
