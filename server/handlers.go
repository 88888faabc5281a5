package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/trustification/trustify/engine/packages"
	"github.com/trustification/trustify/engine/sbom"
	"github.com/trustification/trustify/engine/system"
	"github.com/trustification/trustify/engine/vex"
	"github.com/trustification/trustify/engine/vulnerability"
)

type handlers struct {
	system *system.System
}

type packageView struct {
	*packages.QualifiedPackage
	PURL string `json:"purl"`
}

func viewPackage(p *packages.QualifiedPackage) packageView {
	return packageView{QualifiedPackage: p, PURL: p.PURL()}
}

func viewPackages(list []packages.QualifiedPackage) []packageView {
	out := make([]packageView, 0, len(list))
	for i := range list {
		out = append(out, viewPackage(&list[i]))
	}
	return out
}

type createPackageRequest struct {
	PURL string `json:"purl" binding:"required"`
}

type createVexRequest struct {
	Vulnerability string `json:"vulnerability" binding:"required"`
	PURL          string `json:"purl"          binding:"required"`
	Status        string `json:"status"        binding:"required"`
	Justification string `json:"justification"`
}

type createSBOMRequest struct {
	Location  string   `json:"location"  binding:"required"`
	SHA256    string   `json:"sha256"    binding:"required"`
	Describes []string `json:"describes"`
}

type sbomView struct {
	*sbom.SBOM
	Describes []packageView `json:"describes"`
}

func requiredQuery(c *gin.Context, key string) (string, error) {
	v := c.Query(key)
	if v == "" {
		return "", badRequest(errors.New("missing query parameter: " + key))
	}
	return v, nil
}

func (h *handlers) health(c *gin.Context) {
	if err := h.system.HealthCheck(c.Request.Context()); err != nil {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, ErrorInformation{Type: "System", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *handlers) createPackage(c *gin.Context) {
	var req createPackageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, badRequest(err))
		return
	}
	pkg, err := system.Run(c.Request.Context(), h.system,
		func(ctx context.Context, tc *system.Context) (*packages.QualifiedPackage, error) {
			return tc.Packages().Ingest(ctx, req.PURL)
		})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, viewPackage(pkg))
}

func (h *handlers) getPackage(c *gin.Context) {
	purl, err := requiredQuery(c, "purl")
	if err != nil {
		respondError(c, err)
		return
	}
	pkg, err := system.Run(c.Request.Context(), h.system,
		func(ctx context.Context, tc *system.Context) (*packages.QualifiedPackage, error) {
			return tc.Packages().Get(ctx, purl)
		})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, viewPackage(pkg))
}

func (h *handlers) packageVersions(c *gin.Context) {
	purl, err := requiredQuery(c, "purl")
	if err != nil {
		respondError(c, err)
		return
	}
	versions, err := system.Run(c.Request.Context(), h.system,
		func(ctx context.Context, tc *system.Context) ([]packages.Version, error) {
			return tc.Packages().Versions(ctx, purl)
		})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, versions)
}

func (h *handlers) listVulnerabilities(c *gin.Context) {
	filter := &vulnerability.ListFilter{}
	for key, dst := range map[string]*uint64{"limit": &filter.Limit, "offset": &filter.Offset} {
		raw := c.Query(key)
		if raw == "" {
			continue
		}
		n, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			respondError(c, badRequest(errors.New("invalid "+key+": "+raw)))
			return
		}
		*dst = n
	}
	list, err := system.Run(c.Request.Context(), h.system,
		func(ctx context.Context, tc *system.Context) ([]vulnerability.Vulnerability, error) {
			return tc.Vulnerabilities().List(ctx, filter)
		})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *handlers) putVulnerability(c *gin.Context) {
	var opts vulnerability.IngestOptions
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&opts); err != nil {
			respondError(c, badRequest(err))
			return
		}
	}
	identifier := c.Param("identifier")
	v, err := system.Run(c.Request.Context(), h.system,
		func(ctx context.Context, tc *system.Context) (*vulnerability.Vulnerability, error) {
			return tc.Vulnerabilities().Ingest(ctx, identifier, &opts)
		})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

func (h *handlers) getVulnerability(c *gin.Context) {
	identifier := c.Param("identifier")
	v, err := system.Run(c.Request.Context(), h.system,
		func(ctx context.Context, tc *system.Context) (*vulnerability.Vulnerability, error) {
			return tc.Vulnerabilities().Get(ctx, identifier)
		})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

func (h *handlers) vulnerabilityVex(c *gin.Context) {
	identifier := c.Param("identifier")
	list, err := system.Run(c.Request.Context(), h.system,
		func(ctx context.Context, tc *system.Context) ([]vex.Statement, error) {
			return tc.Vex().ListByVulnerability(ctx, identifier)
		})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *handlers) createVex(c *gin.Context) {
	var req createVexRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, badRequest(err))
		return
	}
	rec := &vex.Record{
		Vulnerability: req.Vulnerability,
		PURL:          req.PURL,
		Status:        vex.Status(req.Status),
		Justification: req.Justification,
	}
	st, err := system.Run(c.Request.Context(), h.system,
		func(ctx context.Context, tc *system.Context) (*vex.Statement, error) {
			return tc.Vex().Create(ctx, rec)
		})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, st)
}

func (h *handlers) getVex(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, badRequest(err))
		return
	}
	st, err := system.Run(c.Request.Context(), h.system,
		func(ctx context.Context, tc *system.Context) (*vex.Statement, error) {
			return tc.Vex().Get(ctx, id)
		})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

// createSBOM records the document and every described package in one
// transaction; a bad purl leaves nothing behind.
func (h *handlers) createSBOM(c *gin.Context) {
	var req createSBOMRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, badRequest(err))
		return
	}
	view, err := system.Run(c.Request.Context(), h.system,
		func(ctx context.Context, tc *system.Context) (*sbomView, error) {
			docs := tc.SBOMs()
			doc, err := docs.Ingest(ctx, req.Location, req.SHA256)
			if err != nil {
				return nil, err
			}
			described := make([]packageView, 0, len(req.Describes))
			for _, purl := range req.Describes {
				pkg, err := docs.AddDescribedPackage(ctx, doc.ID, purl)
				if err != nil {
					return nil, err
				}
				described = append(described, viewPackage(pkg))
			}
			return &sbomView{SBOM: doc, Describes: described}, nil
		})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, view)
}

func (h *handlers) getSBOM(c *gin.Context) {
	location, err := requiredQuery(c, "location")
	if err != nil {
		respondError(c, err)
		return
	}
	view, err := system.Run(c.Request.Context(), h.system,
		func(ctx context.Context, tc *system.Context) (*sbomView, error) {
			docs := tc.SBOMs()
			doc, err := docs.Get(ctx, location)
			if err != nil {
				return nil, err
			}
			described, err := docs.DescribedPackages(ctx, doc.ID)
			if err != nil {
				return nil, err
			}
			return &sbomView{SBOM: doc, Describes: viewPackages(described)}, nil
		})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}
