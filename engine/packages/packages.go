// Package packages ingests and resolves Package URLs inside a transaction.
package packages

import (
	"context"
	"errors"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"
	"github.com/package-url/packageurl-go"
	"github.com/trustification/trustify/engine/infra/postgres"
)

var (
	ErrInvalidPurl    = errors.New("invalid package url")
	ErrMissingVersion = errors.New("package url has no version")
	ErrNotFound       = errors.New("package not found")
)

// Package is a versionless package identity.
type Package struct {
	ID        int64  `db:"id"        json:"id"`
	Type      string `db:"type"      json:"type"`
	Namespace string `db:"namespace" json:"namespace,omitempty"`
	Name      string `db:"name"      json:"name"`
}

// QualifiedPackage is one concrete artifact: a package at a version with
// its qualifiers.
type QualifiedPackage struct {
	ID         int64             `db:"id"                 json:"id"`
	PackageID  int64             `db:"package_id"         json:"package_id"`
	VersionID  int64             `db:"package_version_id" json:"package_version_id"`
	Type       string            `db:"type"               json:"type"`
	Namespace  string            `db:"namespace"          json:"namespace,omitempty"`
	Name       string            `db:"name"               json:"name"`
	Version    string            `db:"version"            json:"version"`
	Qualifiers map[string]string `db:"qualifiers"         json:"qualifiers,omitempty"`
}

// PURL renders the canonical Package URL.
func (q *QualifiedPackage) PURL() string {
	p := packageurl.NewPackageURL(
		q.Type,
		q.Namespace,
		q.Name,
		q.Version,
		packageurl.QualifiersFromMap(q.Qualifiers),
		"",
	)
	return p.ToString()
}

// Version is a known version of a package.
type Version struct {
	ID      int64  `db:"id"      json:"id"`
	Version string `db:"version" json:"version"`
}

const (
	qualifiedColumns = "qp.id, p.id AS package_id, pv.id AS package_version_id, " +
		"p.type, p.namespace, p.name, pv.version, qp.qualifiers"
	qualifiedFrom = "qualified_package qp " +
		"JOIN package_version pv ON pv.id = qp.package_version_id " +
		"JOIN package p ON p.id = pv.package_id"
)

// Facade runs package operations on the querier it was built with.
type Facade struct {
	q postgres.Querier
}

func New(q postgres.Querier) *Facade {
	return &Facade{q: q}
}

// Parse validates a Package URL. The version is optional.
func Parse(purl string) (packageurl.PackageURL, error) {
	p, err := packageurl.FromString(purl)
	if err != nil {
		return packageurl.PackageURL{}, fmt.Errorf("%w: %s", ErrInvalidPurl, err.Error())
	}
	return p, nil
}

func parseVersioned(purl string) (packageurl.PackageURL, error) {
	p, err := Parse(purl)
	if err != nil {
		return p, err
	}
	if p.Version == "" {
		return p, fmt.Errorf("%w: %s", ErrMissingVersion, purl)
	}
	return p, nil
}

// Ingest records the package, version and qualifier set named by purl and
// returns the qualified package. Existing rows are reused.
func (f *Facade) Ingest(ctx context.Context, purl string) (*QualifiedPackage, error) {
	p, err := parseVersioned(purl)
	if err != nil {
		return nil, err
	}
	packageID, err := f.upsertPackage(ctx, p)
	if err != nil {
		return nil, err
	}
	versionID, err := f.upsertVersion(ctx, packageID, p.Version)
	if err != nil {
		return nil, err
	}
	qualifiers := qualifierMap(p)
	query, args, err := squirrel.Insert("qualified_package").
		Columns("package_version_id", "qualifiers").
		Values(versionID, qualifiers).
		Suffix("ON CONFLICT (package_version_id, qualifiers) DO UPDATE SET qualifiers = EXCLUDED.qualifiers RETURNING id").
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building qualified package upsert: %w", err)
	}
	var id int64
	if err := f.q.QueryRow(ctx, query, args...).Scan(&id); err != nil {
		return nil, fmt.Errorf("upserting qualified package: %w", err)
	}
	return &QualifiedPackage{
		ID:         id,
		PackageID:  packageID,
		VersionID:  versionID,
		Type:       p.Type,
		Namespace:  p.Namespace,
		Name:       p.Name,
		Version:    p.Version,
		Qualifiers: qualifiers,
	}, nil
}

func (f *Facade) upsertPackage(ctx context.Context, p packageurl.PackageURL) (int64, error) {
	query, args, err := squirrel.Insert("package").
		Columns("type", "namespace", "name").
		Values(p.Type, p.Namespace, p.Name).
		Suffix("ON CONFLICT (type, namespace, name) DO UPDATE SET name = EXCLUDED.name RETURNING id").
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("building package upsert: %w", err)
	}
	var id int64
	if err := f.q.QueryRow(ctx, query, args...).Scan(&id); err != nil {
		return 0, fmt.Errorf("upserting package: %w", err)
	}
	return id, nil
}

func (f *Facade) upsertVersion(ctx context.Context, packageID int64, version string) (int64, error) {
	query, args, err := squirrel.Insert("package_version").
		Columns("package_id", "version").
		Values(packageID, version).
		Suffix("ON CONFLICT (package_id, version) DO UPDATE SET version = EXCLUDED.version RETURNING id").
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("building package version upsert: %w", err)
	}
	var id int64
	if err := f.q.QueryRow(ctx, query, args...).Scan(&id); err != nil {
		return 0, fmt.Errorf("upserting package version: %w", err)
	}
	return id, nil
}

// Get resolves a fully qualified Package URL.
func (f *Facade) Get(ctx context.Context, purl string) (*QualifiedPackage, error) {
	p, err := parseVersioned(purl)
	if err != nil {
		return nil, err
	}
	query, args, err := squirrel.Select(qualifiedColumns).
		From(qualifiedFrom).
		Where(squirrel.Eq{
			"p.type":      p.Type,
			"p.namespace": p.Namespace,
			"p.name":      p.Name,
			"pv.version":  p.Version,
		}).
		Where("qp.qualifiers = ?::jsonb", qualifierMap(p)).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building package query: %w", err)
	}
	return f.getOne(ctx, query, args...)
}

// GetByID loads a qualified package by its identifier.
func (f *Facade) GetByID(ctx context.Context, id int64) (*QualifiedPackage, error) {
	query, args, err := squirrel.Select(qualifiedColumns).
		From(qualifiedFrom).
		Where(squirrel.Eq{"qp.id": id}).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building package query: %w", err)
	}
	return f.getOne(ctx, query, args...)
}

func (f *Facade) getOne(ctx context.Context, query string, args ...any) (*QualifiedPackage, error) {
	var pkg QualifiedPackage
	if err := pgxscan.Get(ctx, f.q, &pkg, query, args...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scanning package: %w", err)
	}
	return &pkg, nil
}

// Versions lists the known versions of the package named by purl in
// ingestion order, not version order. Any version or qualifiers in purl are
// ignored.
func (f *Facade) Versions(ctx context.Context, purl string) ([]Version, error) {
	p, err := Parse(purl)
	if err != nil {
		return nil, err
	}
	query, args, err := squirrel.Select("pv.id", "pv.version").
		From("package_version pv").
		Join("package p ON p.id = pv.package_id").
		Where(squirrel.Eq{"p.type": p.Type, "p.namespace": p.Namespace, "p.name": p.Name}).
		OrderBy("pv.id").
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building versions query: %w", err)
	}
	versions := make([]Version, 0)
	if err := pgxscan.Select(ctx, f.q, &versions, query, args...); err != nil {
		return nil, fmt.Errorf("scanning versions: %w", err)
	}
	return versions, nil
}

func qualifierMap(p packageurl.PackageURL) map[string]string {
	m := p.Qualifiers.Map()
	if m == nil {
		return map[string]string{}
	}
	return m
}
