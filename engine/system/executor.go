package system

import (
	"context"
	"reflect"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/trustification/trustify/pkg/logger"
)

// Run opens a transaction, passes its Context to logic and commits when logic
// returns a nil (or zero-valued) E. Otherwise the transaction is rolled back
// and the returned error is an *Error[E] of KindTransaction. Begin, commit
// and rollback failures, and any failure raised while logic issued SQL
// through the Context, are reported as KindDatabase; a failed rollback wins
// over the caller's error. If logic panics the transaction is rolled back before the
// panic continues.
//
// logic must not keep the Context, or any facade taken from it, after
// returning; calls made through them afterwards fail with ErrContextClosed.
func Run[T any, E error](ctx context.Context, s *System, logic func(ctx context.Context, tc *Context) (T, E)) (T, error) {
	var zero T
	if s == nil || s.closed.Load() {
		return zero, FromDatabase[E](ErrSystemClosed)
	}
	log := logger.FromContext(ctx).With("component", "transaction")
	started := time.Now()
	lc := newLifecycle()
	lc.to(StateOpening)
	tx, err := s.pool.BeginTx(ctx, s.txOptions)
	if err != nil {
		lc.to(StateFailed)
		s.finish(ctx, log, lc, outcomeBeginFailed, started, err)
		return zero, FromDatabase[E](err)
	}
	lc.to(StateOpen)
	scope := newContext(tx)
	returned := false
	defer func() {
		scope.close()
		if returned {
			return
		}
		lc.to(StateRollingBack)
		if err := s.rollback(ctx, tx); err != nil {
			lc.to(StateFailed)
			log.Error("Rollback after panic failed", "error", err)
		} else {
			lc.to(StateRolledBack)
		}
		s.finish(ctx, log, lc, outcomePanicked, started, nil)
	}()

	value, logicErr := logic(ctx, scope)
	scope.close()
	returned = true

	if isNilError(logicErr) {
		lc.to(StateCommitting)
		if err := tx.Commit(ctx); err != nil {
			lc.to(StateFailed)
			s.finish(ctx, log, lc, outcomeCommitFailed, started, err)
			return zero, FromDatabase[E](err)
		}
		lc.to(StateCommitted)
		s.finish(ctx, log, lc, outcomeCommitted, started, nil)
		return value, nil
	}

	lc.to(StateRollingBack)
	if err := s.rollback(ctx, tx); err != nil {
		lc.to(StateFailed)
		s.finish(ctx, log, lc, outcomeRollbackFailed, started, err)
		return zero, FromDatabase[E](err)
	}
	lc.to(StateRolledBack)
	if cause := error(logicErr); isDatabaseFailure(cause) {
		s.finish(ctx, log, lc, outcomeRolledBack, started, cause)
		return zero, FromDatabase[E](cause)
	}
	s.finish(ctx, log, lc, outcomeRolledBack, started, nil)
	return zero, fromTransaction(logicErr)
}

// Transaction is Run for logic that only reports an error.
func (s *System) Transaction(ctx context.Context, fn func(ctx context.Context, tc *Context) error) error {
	_, err := Run(ctx, s, func(ctx context.Context, tc *Context) (struct{}, error) {
		return struct{}{}, fn(ctx, tc)
	})
	return err
}

// rollback runs detached from the caller's cancellation so an abandoned
// request still releases its locks.
func (s *System) rollback(ctx context.Context, tx pgx.Tx) error {
	rbCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.rollbackTimeout)
	defer cancel()
	return tx.Rollback(rbCtx)
}

func (s *System) finish(ctx context.Context, log logger.Logger, lc *lifecycle, outcome string, started time.Time, err error) {
	s.metrics.record(ctx, outcome, started)
	keyvals := []any{
		"state", lc.current().String(),
		"outcome", outcome,
		"duration", time.Since(started),
	}
	if err != nil {
		keyvals = append(keyvals, "error", err)
	}
	log.Debug("Transaction finished", keyvals...)
}

// isNilError reports whether e means success: a nil interface, a typed nil,
// or the zero value of a non-nillable E such as a struct with a value
// receiver.
func isNilError[E error](e E) bool {
	var boxed error = e
	if boxed == nil {
		return true
	}
	v := reflect.ValueOf(boxed)
	switch v.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		return v.IsNil()
	default:
		return v.IsZero()
	}
}
