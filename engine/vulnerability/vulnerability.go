// Package vulnerability records advisories by their public identifier.
package vulnerability

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"
	"github.com/trustification/trustify/engine/infra/postgres"
)

var (
	ErrInvalidIdentifier = errors.New("invalid vulnerability identifier")
	ErrNotFound          = errors.New("vulnerability not found")
)

var (
	cvePattern  = regexp.MustCompile(`(?i)^CVE-\d{4}-\d{4,}$`)
	ghsaPattern = regexp.MustCompile(`(?i)^GHSA(-[0-9a-z]{4}){3}$`)
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

var columns = []string{"id", "identifier", "title", "published", "created_at"}

type Vulnerability struct {
	ID         int64      `db:"id"         json:"id"`
	Identifier string     `db:"identifier" json:"identifier"`
	Title      *string    `db:"title"      json:"title,omitempty"`
	Published  *time.Time `db:"published"  json:"published,omitempty"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
}

// IngestOptions carries optional advisory metadata. Empty fields keep
// whatever was stored before.
type IngestOptions struct {
	Title     string     `json:"title,omitempty"`
	Published *time.Time `json:"published,omitempty"`
}

type ListFilter struct {
	Limit  uint64
	Offset uint64
}

type Facade struct {
	q postgres.Querier
}

func New(q postgres.Querier) *Facade {
	return &Facade{q: q}
}

// NormalizeIdentifier validates a CVE or GHSA identifier and returns its
// canonical spelling.
func NormalizeIdentifier(identifier string) (string, error) {
	id := strings.TrimSpace(identifier)
	switch {
	case cvePattern.MatchString(id):
		return strings.ToUpper(id), nil
	case ghsaPattern.MatchString(id):
		return "GHSA" + strings.ToLower(id[len("GHSA"):]), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidIdentifier, identifier)
	}
}

// Ingest inserts the vulnerability or updates its metadata.
func (f *Facade) Ingest(ctx context.Context, identifier string, opts *IngestOptions) (*Vulnerability, error) {
	id, err := NormalizeIdentifier(identifier)
	if err != nil {
		return nil, err
	}
	var title *string
	var published *time.Time
	if opts != nil {
		if opts.Title != "" {
			title = &opts.Title
		}
		published = opts.Published
	}
	query, args, err := squirrel.Insert("vulnerability").
		Columns("identifier", "title", "published").
		Values(id, title, published).
		Suffix("ON CONFLICT (identifier) DO UPDATE SET "+
			"title = COALESCE(EXCLUDED.title, vulnerability.title), "+
			"published = COALESCE(EXCLUDED.published, vulnerability.published) "+
			"RETURNING "+strings.Join(columns, ", ")).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building vulnerability upsert: %w", err)
	}
	var v Vulnerability
	if err := pgxscan.Get(ctx, f.q, &v, query, args...); err != nil {
		return nil, fmt.Errorf("upserting vulnerability: %w", err)
	}
	return &v, nil
}

func (f *Facade) Get(ctx context.Context, identifier string) (*Vulnerability, error) {
	id, err := NormalizeIdentifier(identifier)
	if err != nil {
		return nil, err
	}
	query, args, err := squirrel.Select(columns...).
		From("vulnerability").
		Where(squirrel.Eq{"identifier": id}).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building vulnerability query: %w", err)
	}
	var v Vulnerability
	if err := pgxscan.Get(ctx, f.q, &v, query, args...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scanning vulnerability: %w", err)
	}
	return &v, nil
}

// List returns vulnerabilities, most recently published first.
func (f *Facade) List(ctx context.Context, filter *ListFilter) ([]Vulnerability, error) {
	limit := uint64(defaultListLimit)
	var offset uint64
	if filter != nil {
		if filter.Limit > 0 {
			limit = min(filter.Limit, maxListLimit)
		}
		offset = filter.Offset
	}
	query, args, err := squirrel.Select(columns...).
		From("vulnerability").
		OrderBy("published DESC NULLS LAST", "id DESC").
		Limit(limit).
		Offset(offset).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building vulnerability list: %w", err)
	}
	out := make([]Vulnerability, 0)
	if err := pgxscan.Select(ctx, f.q, &out, query, args...); err != nil {
		return nil, fmt.Errorf("scanning vulnerabilities: %w", err)
	}
	return out, nil
}
