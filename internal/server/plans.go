package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// ListPlans exposes the current plan catalog. The catalog hot-reloads from
// disk, so this always reflects the latest file.
func (s *Server) ListPlans(c *gin.Context) {
	catalog := s.plans.Get()
	c.JSON(http.StatusOK, gin.H{
		"default_plan": catalog.DefaultPlan,
		"plans":        catalog.Plans,
	})
}
