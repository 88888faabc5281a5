// Package vex stores exploitability statements linking a vulnerability to
// a concrete package.
package vex

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/trustification/trustify/engine/infra/postgres"
	"github.com/trustification/trustify/engine/packages"
	"github.com/trustification/trustify/engine/vulnerability"
)

var (
	ErrInvalidStatus = errors.New("invalid vex status")
	ErrNotFound      = errors.New("vex record not found")
)

type Status string

const (
	StatusNotAffected        Status = "not_affected"
	StatusAffected           Status = "affected"
	StatusFixed              Status = "fixed"
	StatusUnderInvestigation Status = "under_investigation"
)

func (s Status) Valid() bool {
	switch s {
	case StatusNotAffected, StatusAffected, StatusFixed, StatusUnderInvestigation:
		return true
	}
	return false
}

// Record is the input to Create.
type Record struct {
	Vulnerability string `json:"vulnerability"`
	PURL          string `json:"purl"`
	Status        Status `json:"status"`
	Justification string `json:"justification,omitempty"`
}

// Statement is a stored VEX record joined with its identifiers.
type Statement struct {
	ID                 uuid.UUID `db:"id"                   json:"id"`
	Vulnerability      string    `db:"vulnerability"        json:"vulnerability"`
	QualifiedPackageID int64     `db:"qualified_package_id" json:"qualified_package_id"`
	Status             Status    `db:"status"               json:"status"`
	Justification      string    `db:"justification"        json:"justification,omitempty"`
	CreatedAt          time.Time `db:"created_at"           json:"created_at"`
}

const statementColumns = "r.id, v.identifier AS vulnerability, r.qualified_package_id, " +
	"r.status, r.justification, r.created_at"

type Facade struct {
	q               postgres.Querier
	vulnerabilities *vulnerability.Facade
	packages        *packages.Facade
}

func New(q postgres.Querier) *Facade {
	return &Facade{
		q:               q,
		vulnerabilities: vulnerability.New(q),
		packages:        packages.New(q),
	}
}

// Create ingests the referenced vulnerability and package, then stores the
// statement under a fresh identifier.
func (f *Facade) Create(ctx context.Context, rec *Record) (*Statement, error) {
	if rec == nil {
		return nil, fmt.Errorf("%w: record is required", ErrInvalidStatus)
	}
	if !rec.Status.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, rec.Status)
	}
	vuln, err := f.vulnerabilities.Ingest(ctx, rec.Vulnerability, nil)
	if err != nil {
		return nil, err
	}
	pkg, err := f.packages.Ingest(ctx, rec.PURL)
	if err != nil {
		return nil, err
	}
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generating vex id: %w", err)
	}
	query, args, err := squirrel.Insert("vex_record").
		Columns("id", "vulnerability_id", "qualified_package_id", "status", "justification").
		Values(id, vuln.ID, pkg.ID, string(rec.Status), rec.Justification).
		Suffix("RETURNING created_at").
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building vex insert: %w", err)
	}
	var createdAt time.Time
	if err := f.q.QueryRow(ctx, query, args...).Scan(&createdAt); err != nil {
		return nil, fmt.Errorf("inserting vex record: %w", err)
	}
	return &Statement{
		ID:                 id,
		Vulnerability:      vuln.Identifier,
		QualifiedPackageID: pkg.ID,
		Status:             rec.Status,
		Justification:      rec.Justification,
		CreatedAt:          createdAt,
	}, nil
}

func (f *Facade) Get(ctx context.Context, id uuid.UUID) (*Statement, error) {
	query, args, err := squirrel.Select(statementColumns).
		From("vex_record r").
		Join("vulnerability v ON v.id = r.vulnerability_id").
		Where(squirrel.Eq{"r.id": id}).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building vex query: %w", err)
	}
	var st Statement
	if err := pgxscan.Get(ctx, f.q, &st, query, args...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scanning vex record: %w", err)
	}
	return &st, nil
}

// ListByVulnerability returns every statement about one vulnerability,
// oldest first.
func (f *Facade) ListByVulnerability(ctx context.Context, identifier string) ([]Statement, error) {
	id, err := vulnerability.NormalizeIdentifier(identifier)
	if err != nil {
		return nil, err
	}
	query, args, err := squirrel.Select(statementColumns).
		From("vex_record r").
		Join("vulnerability v ON v.id = r.vulnerability_id").
		Where(squirrel.Eq{"v.identifier": id}).
		OrderBy("r.created_at", "r.id").
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building vex list: %w", err)
	}
	out := make([]Statement, 0)
	if err := pgxscan.Select(ctx, f.q, &out, query, args...); err != nil {
		return nil, fmt.Errorf("scanning vex records: %w", err)
	}
	return out, nil
}
