package server

import "github.com/gin-gonic/gin"

// registerRoutes mounts the API on group.
func registerRoutes(group *gin.RouterGroup, h *handlers) {
	pkgs := group.Group("/packages")
	pkgs.POST("", h.createPackage)
	pkgs.GET("", h.getPackage)
	pkgs.GET("/versions", h.packageVersions)

	vulns := group.Group("/vulnerabilities")
	vulns.GET("", h.listVulnerabilities)
	vulns.PUT("/:identifier", h.putVulnerability)
	vulns.GET("/:identifier", h.getVulnerability)
	vulns.GET("/:identifier/vex", h.vulnerabilityVex)

	vexGroup := group.Group("/vex")
	vexGroup.POST("", h.createVex)
	vexGroup.GET("/:id", h.getVex)

	sboms := group.Group("/sboms")
	sboms.POST("", h.createSBOM)
	sboms.GET("", h.getSBOM)
}
