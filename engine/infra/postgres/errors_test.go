package postgres

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestErrorClassification(t *testing.T) {
	t.Run("Should detect serialization failures through wrapping", func(t *testing.T) {
		err := fmt.Errorf("commit: %w", &pgconn.PgError{Code: pgerrcode.SerializationFailure})
		assert.True(t, IsSerializationFailure(err))
		assert.False(t, IsUniqueViolation(err))
	})
	t.Run("Should treat deadlocks as serialization failures", func(t *testing.T) {
		assert.True(t, IsSerializationFailure(&pgconn.PgError{Code: pgerrcode.DeadlockDetected}))
	})
	t.Run("Should detect unique and foreign key violations", func(t *testing.T) {
		assert.True(t, IsUniqueViolation(&pgconn.PgError{Code: pgerrcode.UniqueViolation}))
		assert.True(t, IsForeignKeyViolation(&pgconn.PgError{Code: pgerrcode.ForeignKeyViolation}))
	})
	t.Run("Should ignore non driver errors", func(t *testing.T) {
		assert.False(t, IsSerializationFailure(errors.New("boom")))
		assert.False(t, IsUniqueViolation(nil))
	})
}
