package sbom_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trustification/trustify/engine/sbom"
)

var digest = strings.Repeat("ab", 32)

func expectPackageIngest(mock pgxmock.PgxPoolIface) {
	mock.ExpectQuery(`INSERT INTO package \(`).
		WithArgs("npm", "", "left-pad").
		WillReturnRows(mock.NewRows([]string{"id"}).AddRow(int64(1)))
	mock.ExpectQuery(`INSERT INTO package_version \(`).
		WithArgs(int64(1), "1.3.0").
		WillReturnRows(mock.NewRows([]string{"id"}).AddRow(int64(2)))
	mock.ExpectQuery(`INSERT INTO qualified_package \(`).
		WithArgs(int64(2), map[string]string{}).
		WillReturnRows(mock.NewRows([]string{"id"}).AddRow(int64(3)))
}

func TestFacade_Ingest(t *testing.T) {
	t.Run("Should store the lower-cased digest", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()
		now := time.Now()
		mock.ExpectQuery(`INSERT INTO sbom \(location,sha256\) VALUES \(\$1,\$2\) ON CONFLICT \(location\)`).
			WithArgs("https://example.com/sbom.json", digest).
			WillReturnRows(mock.NewRows([]string{"id", "location", "sha256", "created_at"}).
				AddRow(int64(5), "https://example.com/sbom.json", digest, now))
		doc, err := sbom.New(mock).Ingest(context.Background(), " https://example.com/sbom.json ", strings.ToUpper(digest))
		require.NoError(t, err)
		assert.Equal(t, int64(5), doc.ID)
		assert.Equal(t, digest, doc.SHA256)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
	t.Run("Should reject malformed digests", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()
		_, err = sbom.New(mock).Ingest(context.Background(), "file.json", "abc")
		assert.ErrorIs(t, err, sbom.ErrInvalidDigest)
		_, err = sbom.New(mock).Ingest(context.Background(), " ", digest)
		assert.ErrorIs(t, err, sbom.ErrInvalidLocation)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestFacade_Get(t *testing.T) {
	t.Run("Should map missing rows to ErrNotFound", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()
		mock.ExpectQuery(`FROM sbom WHERE location = \$1`).
			WithArgs("missing.json").
			WillReturnError(pgx.ErrNoRows)
		_, err = sbom.New(mock).Get(context.Background(), "missing.json")
		assert.ErrorIs(t, err, sbom.ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestFacade_AddDescribedPackage(t *testing.T) {
	t.Run("Should ingest the package and link it", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()
		expectPackageIngest(mock)
		mock.ExpectExec(`INSERT INTO sbom_describes_package \(sbom_id,qualified_package_id\) VALUES \(\$1,\$2\) ON CONFLICT DO NOTHING`).
			WithArgs(int64(5), int64(3)).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		pkg, err := sbom.New(mock).AddDescribedPackage(context.Background(), 5, "pkg:npm/left-pad@1.3.0")
		require.NoError(t, err)
		assert.Equal(t, int64(3), pkg.ID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
	t.Run("Should report an unknown sbom as not found", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()
		expectPackageIngest(mock)
		mock.ExpectExec(`INSERT INTO sbom_describes_package`).
			WithArgs(int64(404), int64(3)).
			WillReturnError(&pgconn.PgError{Code: pgerrcode.ForeignKeyViolation})
		_, err = sbom.New(mock).AddDescribedPackage(context.Background(), 404, "pkg:npm/left-pad@1.3.0")
		assert.ErrorIs(t, err, sbom.ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestFacade_DescribedPackages(t *testing.T) {
	t.Run("Should list linked packages", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()
		mock.ExpectQuery(`FROM sbom_describes_package d JOIN qualified_package qp`).
			WithArgs(int64(5)).
			WillReturnRows(mock.NewRows([]string{
				"id", "package_id", "package_version_id", "type", "namespace", "name", "version", "qualifiers",
			}).AddRow(int64(3), int64(1), int64(2), "npm", "", "left-pad", "1.3.0", map[string]string{}))
		list, err := sbom.New(mock).DescribedPackages(context.Background(), 5)
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, "pkg:npm/left-pad@1.3.0", list[0].PURL())
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
