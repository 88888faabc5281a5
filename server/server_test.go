package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trustification/trustify/engine/infra/monitoring"
	"github.com/trustification/trustify/engine/system"
	"github.com/trustification/trustify/pkg/config"
)

var serializable = pgx.TxOptions{IsoLevel: pgx.Serializable}

func newTestServer(t *testing.T, mon *monitoring.Service) (*Server, pgxmock.PgxPoolIface) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	sys := system.NewFromPool(context.Background(), mock)
	return NewServer(nil, sys, mon), mock
}

func do(t *testing.T, s *Server, method, path, body string) (*httptest.ResponseRecorder, ErrorInformation) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	var info ErrorInformation
	if w.Code >= http.StatusBadRequest {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &info))
	}
	return w, info
}

func TestCreatePackage(t *testing.T) {
	t.Run("Should return 201 with the canonical purl", func(t *testing.T) {
		s, mock := newTestServer(t, nil)
		mock.ExpectBeginTx(serializable)
		mock.ExpectQuery(`INSERT INTO package \(`).
			WithArgs("npm", "", "left-pad").
			WillReturnRows(mock.NewRows([]string{"id"}).AddRow(int64(1)))
		mock.ExpectQuery(`INSERT INTO package_version \(`).
			WithArgs(int64(1), "1.3.0").
			WillReturnRows(mock.NewRows([]string{"id"}).AddRow(int64(2)))
		mock.ExpectQuery(`INSERT INTO qualified_package \(`).
			WithArgs(int64(2), map[string]string{}).
			WillReturnRows(mock.NewRows([]string{"id"}).AddRow(int64(3)))
		mock.ExpectCommit()
		w, _ := do(t, s, http.MethodPost, "/api/v1/packages", `{"purl":"pkg:npm/left-pad@1.3.0"}`)
		require.Equal(t, http.StatusCreated, w.Code)
		var body map[string]any
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, "pkg:npm/left-pad@1.3.0", body["purl"])
		assert.EqualValues(t, 3, body["id"])
		assert.NotEmpty(t, w.Header().Get(requestIDHeader))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
	t.Run("Should map purl syntax errors to 400 after rolling back", func(t *testing.T) {
		s, mock := newTestServer(t, nil)
		mock.ExpectBeginTx(serializable)
		mock.ExpectRollback()
		w, info := do(t, s, http.MethodPost, "/api/v1/packages", `{"purl":"left-pad"}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "InvalidPurlSyntax", info.Type)
		assert.True(t, strings.HasPrefix(info.Message, "invalid package url"), info.Message)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
	t.Run("Should map a serialization failure inside the transaction to a system error", func(t *testing.T) {
		s, mock := newTestServer(t, nil)
		mock.ExpectBeginTx(serializable)
		mock.ExpectQuery(`INSERT INTO package \(`).
			WithArgs("npm", "", "left-pad").
			WillReturnError(&pgconn.PgError{Code: pgerrcode.SerializationFailure, Message: "could not serialize access"})
		mock.ExpectRollback()
		w, info := do(t, s, http.MethodPost, "/api/v1/packages", `{"purl":"pkg:npm/left-pad@1.3.0"}`)
		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.Equal(t, "System", info.Type)
		assert.True(t, strings.HasPrefix(info.Message, "database error: "), info.Message)
		assert.Contains(t, info.Message, "SQLSTATE 40001")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
	t.Run("Should map database failures to a generic 500", func(t *testing.T) {
		s, mock := newTestServer(t, nil)
		mock.ExpectBeginTx(serializable).WillReturnError(errors.New("pool exhausted"))
		w, info := do(t, s, http.MethodPost, "/api/v1/packages", `{"purl":"pkg:npm/left-pad@1.3.0"}`)
		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.Equal(t, "System", info.Type)
		assert.Equal(t, "database error: pool exhausted", info.Message)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
	t.Run("Should reject a body without purl", func(t *testing.T) {
		s, mock := newTestServer(t, nil)
		w, info := do(t, s, http.MethodPost, "/api/v1/packages", `{}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "BadRequest", info.Type)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestGetVulnerability(t *testing.T) {
	t.Run("Should return 404 for unknown identifiers", func(t *testing.T) {
		s, mock := newTestServer(t, nil)
		mock.ExpectBeginTx(serializable)
		mock.ExpectQuery(`FROM vulnerability WHERE identifier = \$1`).
			WithArgs("CVE-2024-0001").
			WillReturnError(pgx.ErrNoRows)
		mock.ExpectRollback()
		w, info := do(t, s, http.MethodGet, "/api/v1/vulnerabilities/CVE-2024-0001", "")
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Equal(t, "NotFound", info.Type)
		assert.Equal(t, "vulnerability not found", info.Message)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
	t.Run("Should return the stored vulnerability", func(t *testing.T) {
		s, mock := newTestServer(t, nil)
		var noTitle *string
		var noDate *time.Time
		mock.ExpectBeginTx(serializable)
		mock.ExpectQuery(`FROM vulnerability WHERE identifier = \$1`).
			WithArgs("CVE-2024-0001").
			WillReturnRows(mock.NewRows([]string{"id", "identifier", "title", "published", "created_at"}).
				AddRow(int64(1), "CVE-2024-0001", noTitle, noDate, time.Now()))
		mock.ExpectCommit()
		w, _ := do(t, s, http.MethodGet, "/api/v1/vulnerabilities/cve-2024-0001", "")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"identifier":"CVE-2024-0001"`)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestCreateSBOM(t *testing.T) {
	t.Run("Should roll back the document when a described purl is invalid", func(t *testing.T) {
		s, mock := newTestServer(t, nil)
		digest := strings.Repeat("0f", 32)
		mock.ExpectBeginTx(serializable)
		mock.ExpectQuery(`INSERT INTO sbom \(`).
			WithArgs("sbom.json", digest).
			WillReturnRows(mock.NewRows([]string{"id", "location", "sha256", "created_at"}).
				AddRow(int64(1), "sbom.json", digest, time.Now()))
		mock.ExpectRollback()
		w, info := do(t, s, http.MethodPost, "/api/v1/sboms",
			`{"location":"sbom.json","sha256":"`+digest+`","describes":["not a purl"]}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "InvalidPurlSyntax", info.Type)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestGetVex(t *testing.T) {
	t.Run("Should reject malformed ids without a transaction", func(t *testing.T) {
		s, mock := newTestServer(t, nil)
		w, info := do(t, s, http.MethodGet, "/api/v1/vex/not-a-uuid", "")
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "BadRequest", info.Type)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestHealth(t *testing.T) {
	t.Run("Should report ok when the database answers", func(t *testing.T) {
		s, mock := newTestServer(t, nil)
		mock.ExpectPing()
		w, _ := do(t, s, http.MethodGet, "/healthz", "")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
	t.Run("Should report unavailable when the ping fails", func(t *testing.T) {
		s, mock := newTestServer(t, nil)
		mock.ExpectPing().WillReturnError(errors.New("down"))
		w, info := do(t, s, http.MethodGet, "/healthz", "")
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.Equal(t, "System", info.Type)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestMetricsRoute(t *testing.T) {
	t.Run("Should expose the exporter when monitoring is enabled", func(t *testing.T) {
		mon, err := monitoring.NewService(context.Background(), &config.MonitoringConfig{Enabled: true, Path: "/metrics"})
		require.NoError(t, err)
		defer func() { _ = mon.Shutdown(context.Background()) }()
		s, mock := newTestServer(t, mon)
		mock.ExpectPing()
		do(t, s, http.MethodGet, "/healthz", "")
		w, _ := do(t, s, http.MethodGet, "/metrics", "")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "trustify_http_requests_total")
	})
}

func TestClassify(t *testing.T) {
	t.Run("Should treat unknown errors as internal", func(t *testing.T) {
		status, info := classify(errors.New("surprise"))
		assert.Equal(t, http.StatusInternalServerError, status)
		assert.Equal(t, "Internal", info.Type)
	})
	t.Run("Should prefer the database kind over wrapped domain errors", func(t *testing.T) {
		status, info := classify(system.FromDatabase[error](errors.New("conn reset")))
		assert.Equal(t, http.StatusInternalServerError, status)
		assert.Equal(t, "System", info.Type)
	})
}
