package system

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/trustification/trustify/engine/infra/postgres"
	"github.com/trustification/trustify/engine/packages"
	"github.com/trustification/trustify/engine/sbom"
	"github.com/trustification/trustify/engine/vex"
	"github.com/trustification/trustify/engine/vulnerability"
)

// ErrContextClosed is returned by facade calls made after the transaction
// that handed out the Context has finished.
var ErrContextClosed = errors.New("system: transaction context used after the transaction ended")

// Context gives transactional logic access to the sub-system facades. It is
// only valid while the logic passed to Run is executing; a zero Context is
// always closed.
type Context struct {
	scope *scopedQuerier
}

func newContext(tx postgres.Querier) *Context {
	return &Context{scope: &scopedQuerier{tx: tx}}
}

func (c *Context) querier() postgres.Querier {
	if c == nil || c.scope == nil {
		return &scopedQuerier{}
	}
	return c.scope
}

func (c *Context) close() {
	if c != nil && c.scope != nil {
		c.scope.closed.Store(true)
	}
}

func (c *Context) Vulnerabilities() *vulnerability.Facade {
	return vulnerability.New(c.querier())
}

func (c *Context) Packages() *packages.Facade {
	return packages.New(c.querier())
}

func (c *Context) SBOMs() *sbom.Facade {
	return sbom.New(c.querier())
}

func (c *Context) Vex() *vex.Facade {
	return vex.New(c.querier())
}

// scopedQuerier forwards to the transaction until closed.
type scopedQuerier struct {
	tx     postgres.Querier
	closed atomic.Bool
}

func (s *scopedQuerier) usable() bool {
	return s.tx != nil && !s.closed.Load()
}

func (s *scopedQuerier) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if !s.usable() {
		return pgconn.CommandTag{}, ErrContextClosed
	}
	tag, err := s.tx.Exec(ctx, sql, args...)
	return tag, markSQL(err)
}

func (s *scopedQuerier) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	if !s.usable() {
		return nil, ErrContextClosed
	}
	rows, err := s.tx.Query(ctx, sql, args...)
	if err != nil {
		return nil, markSQL(err)
	}
	return sqlRows{Rows: rows}, nil
}

func (s *scopedQuerier) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if !s.usable() {
		return errRow{err: ErrContextClosed}
	}
	return sqlRow{row: s.tx.QueryRow(ctx, sql, args...)}
}

// sqlError marks a failure the driver reported while a Context issued SQL.
// It stays transparent to errors.Is and errors.As.
type sqlError struct {
	err error
}

func (e *sqlError) Error() string { return e.err.Error() }
func (e *sqlError) Unwrap() error { return e.err }

// markSQL tags driver failures. An empty result is an outcome, not a
// failure, so pgx.ErrNoRows passes through untouched.
func markSQL(err error) error {
	if err == nil || errors.Is(err, pgx.ErrNoRows) {
		return err
	}
	return &sqlError{err: err}
}

type sqlRow struct {
	row pgx.Row
}

func (r sqlRow) Scan(dest ...any) error {
	return markSQL(r.row.Scan(dest...))
}

type sqlRows struct {
	pgx.Rows
}

func (r sqlRows) Err() error {
	return markSQL(r.Rows.Err())
}

func (r sqlRows) Scan(dest ...any) error {
	return markSQL(r.Rows.Scan(dest...))
}

func (r sqlRows) Values() ([]any, error) {
	values, err := r.Rows.Values()
	return values, markSQL(err)
}

// isDatabaseFailure reports whether err came from issuing SQL rather than
// from the caller's own logic.
func isDatabaseFailure(err error) bool {
	if err == nil {
		return false
	}
	var (
		marked  *sqlError
		pgErr   *pgconn.PgError
		connErr *pgconn.ConnectError
	)
	switch {
	case errors.As(err, &marked), errors.As(err, &pgErr), errors.As(err, &connErr):
		return true
	case errors.Is(err, ErrContextClosed), errors.Is(err, pgx.ErrTxClosed):
		return true
	default:
		return false
	}
}

type errRow struct {
	err error
}

func (r errRow) Scan(...any) error {
	return r.err
}
