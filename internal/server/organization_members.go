package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	organizationdomain "github.com/smallbiznis/atrium/internal/organization/domain"
	"github.com/smallbiznis/atrium/pkg/db/pagination"
)

type updateMemberRoleRequest struct {
	Role string `json:"role"`
}

func (s *Server) ListOrganizationMembers(c *gin.Context) {
	userID, ok := s.userIDFromSession(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var page pagination.Pagination
	if err := c.ShouldBindQuery(&page); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	members, info, err := s.organizationSvc.ListMembers(c.Request.Context(), userID, c.Param("id"), page)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": members, "page_info": info})
}

func (s *Server) UpdateOrganizationMemberRole(c *gin.Context) {
	userID, ok := s.userIDFromSession(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req updateMemberRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	role := strings.ToUpper(strings.TrimSpace(req.Role))
	if !organizationdomain.ValidRole(role) {
		AbortWithError(c, organizationdomain.ErrInvalidRole)
		return
	}

	if err := s.organizationSvc.UpdateMemberRole(c.Request.Context(), userID, c.Param("id"), c.Param("memberId"), role); err != nil {
		AbortWithError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// RemoveOrganizationMember handles both admin removal and self-leave, so
// there is no role gate on the route; the service decides.
func (s *Server) RemoveOrganizationMember(c *gin.Context) {
	userID, ok := s.userIDFromSession(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	if err := s.organizationSvc.RemoveMember(c.Request.Context(), userID, c.Param("id"), c.Param("memberId")); err != nil {
		AbortWithError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}
