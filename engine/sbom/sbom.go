// Package sbom tracks ingested SBOM documents and the packages they describe.
package sbom

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
	"github.com/trustification/trustify/engine/packages"
)

var (
	ErrInvalidDigest   = errors.New("invalid sha256 digest")
	ErrInvalidLocation = errors.New("sbom location is required")
	ErrNotFound        = errors.New("sbom not found")
)

var digestPattern = regexp.MustCompile(`^[0-9a-f]{64}$`)

type SBOM struct {
	ID        int64     `db:"id"         json:"id"`
	Location  string    `db:"location"   json:"location"`
	SHA256    string    `db:"sha256"     json:"sha256"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

type Facade struct {
	q        postgres.Querier
	packages *packages.Facade
}

func New(q postgres.Querier) *Facade {
	return &Facade{q: q, packages: packages.New(q)}
}

// Ingest records an SBOM by location. Re-ingesting a location replaces the
// stored digest.
func (f *Facade) Ingest(ctx context.Context, location, sha256 string) (*SBOM, error) {
	location = strings.TrimSpace(location)
	if location == "" {
		return nil, ErrInvalidLocation
	}
	digest := strings.ToLower(strings.TrimSpace(sha256))
	if !digestPattern.MatchString(digest) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidDigest, sha256)
	}
	query, args, err := squirrel.Insert("sbom").
		Columns("location", "sha256").
		Values(location, digest).
		Suffix("ON CONFLICT (location) DO UPDATE SET sha256 = EXCLUDED.sha256 RETURNING id, location, sha256, created_at").
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building sbom upsert: %w", err)
	}
	var doc SBOM
	if err := pgxscan.Get(ctx, f.q, &doc, query, args...); err != nil {
		return nil, fmt.Errorf("upserting sbom: %w", err)
	}
	return &doc, nil
}

func (f *Facade) Get(ctx context.Context, location string) (*SBOM, error) {
	query, args, err := squirrel.Select("id", "location", "sha256", "created_at").
		From("sbom").
		Where(squirrel.Eq{"location": strings.TrimSpace(location)}).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building sbom query: %w", err)
	}
	var doc SBOM
	if err := pgxscan.Get(ctx, f.q, &doc, query, args...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scanning sbom: %w", err)
	}
	return &doc, nil
}

// AddDescribedPackage ingests purl and links it to the SBOM.
func (f *Facade) AddDescribedPackage(ctx context.Context, sbomID int64, purl string) (*packages.QualifiedPackage, error) {
	pkg, err := f.packages.Ingest(ctx, purl)
	if err != nil {
		return nil, err
	}
	query, args, err := squirrel.Insert("sbom_describes_package").
		Columns("sbom_id", "qualified_package_id").
		Values(sbomID, pkg.ID).
		Suffix("ON CONFLICT DO NOTHING").
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building describes insert: %w", err)
	}
	if _, err := f.q.Exec(ctx, query, args...); err != nil {
		if postgres.IsForeignKeyViolation(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("linking described package: %w", err)
	}
	return pkg, nil
}

// DescribedPackages lists the packages an SBOM describes.
func (f *Facade) DescribedPackages(ctx context.Context, sbomID int64) ([]packages.QualifiedPackage, error) {
	query, args, err := squirrel.Select(
		"qp.id", "p.id AS package_id", "pv.id AS package_version_id",
		"p.type", "p.namespace", "p.name", "pv.version", "qp.qualifiers",
	).
		From("sbom_describes_package d").
		Join("qualified_package qp ON qp.id = d.qualified_package_id").
		Join("package_version pv ON pv.id = qp.package_version_id").
		Join("package p ON p.id = pv.package_id").
		Where(squirrel.Eq{"d.sbom_id": sbomID}).
		OrderBy("qp.id").
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building described packages query: %w", err)
	}
	out := make([]packages.QualifiedPackage, 0)
	if err := pgxscan.Select(ctx, f.q, &out, query, args...); err != nil {
		return nil, fmt.Errorf("scanning described packages: %w", err)
	}
	return out, nil
}
