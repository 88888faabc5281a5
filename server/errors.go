package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/trustification/trustify/engine/packages"
	"github.com/trustification/trustify/engine/sbom"
	"github.com/trustification/trustify/engine/system"
	"github.com/trustification/trustify/engine/vex"
	"github.com/trustification/trustify/engine/vulnerability"
	"github.com/trustification/trustify/pkg/logger"
)

// ErrorInformation is the body of every error response.
type ErrorInformation struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type badRequestError struct {
	err error
}

func (e *badRequestError) Error() string { return e.err.Error() }
func (e *badRequestError) Unwrap() error { return e.err }

func badRequest(err error) error {
	return &badRequestError{err: err}
}

var domainErrors = []struct {
	target error
	status int
	kind   string
}{
	{packages.ErrInvalidPurl, http.StatusBadRequest, "InvalidPurlSyntax"},
	{packages.ErrMissingVersion, http.StatusBadRequest, "MissingVersion"},
	{vulnerability.ErrInvalidIdentifier, http.StatusBadRequest, "InvalidIdentifier"},
	{sbom.ErrInvalidDigest, http.StatusBadRequest, "InvalidDigest"},
	{sbom.ErrInvalidLocation, http.StatusBadRequest, "InvalidLocation"},
	{vex.ErrInvalidStatus, http.StatusBadRequest, "InvalidStatus"},
	{packages.ErrNotFound, http.StatusNotFound, "NotFound"},
	{vulnerability.ErrNotFound, http.StatusNotFound, "NotFound"},
	{sbom.ErrNotFound, http.StatusNotFound, "NotFound"},
	{vex.ErrNotFound, http.StatusNotFound, "NotFound"},
}

// classify maps an error onto a status code and response type. Database
// failures are always reported as a generic system error.
func classify(err error) (int, ErrorInformation) {
	if system.IsDatabase(err) {
		return http.StatusInternalServerError, ErrorInformation{Type: "System", Message: err.Error()}
	}
	message := domainMessage(err)
	var br *badRequestError
	if errors.As(err, &br) {
		return http.StatusBadRequest, ErrorInformation{Type: "BadRequest", Message: message}
	}
	for _, d := range domainErrors {
		if errors.Is(err, d.target) {
			return d.status, ErrorInformation{Type: d.kind, Message: message}
		}
	}
	return http.StatusInternalServerError, ErrorInformation{Type: "Internal", Message: message}
}

// domainMessage strips the transaction wrapper so clients see the domain
// error alone.
func domainMessage(err error) string {
	var txErr *system.Error[error]
	if errors.As(err, &txErr) {
		if inner, ok := txErr.Transaction(); ok {
			return inner.Error()
		}
	}
	return err.Error()
}

func respondError(c *gin.Context, err error) {
	status, info := classify(err)
	if status >= http.StatusInternalServerError {
		logger.FromContext(c.Request.Context()).Error("Request failed", "error", err, "type", info.Type)
	}
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, info)
}
