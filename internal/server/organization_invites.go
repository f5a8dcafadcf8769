package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	organizationdomain "github.com/smallbiznis/atrium/internal/organization/domain"
	"github.com/smallbiznis/atrium/pkg/db/pagination"
)

type inviteMembersRequest struct {
	Invites []inviteMemberItem `json:"invites"`
}

type inviteMemberItem struct {
	Email string `json:"email"`
	Role  string `json:"role"`
}

func (s *Server) InviteOrganizationMembers(c *gin.Context) {
	userID, ok := s.userIDFromSession(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req inviteMembersRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if len(req.Invites) == 0 {
		AbortWithError(c, newValidationError("invites", "required", "at least one invite is required"))
		return
	}

	invites := make([]organizationdomain.InviteRequest, 0, len(req.Invites))
	for _, item := range req.Invites {
		invites = append(invites, organizationdomain.InviteRequest{
			Email: strings.TrimSpace(item.Email),
			Role:  strings.ToUpper(strings.TrimSpace(item.Role)),
		})
	}

	created, err := s.organizationSvc.InviteMembers(c.Request.Context(), userID, c.Param("id"), invites)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": created})
}

func (s *Server) ListOrganizationInvites(c *gin.Context) {
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

	invites, info, err := s.organizationSvc.ListInvites(c.Request.Context(), userID, c.Param("id"), page)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": invites, "page_info": info})
}

func (s *Server) RevokeOrganizationInvite(c *gin.Context) {
	userID, ok := s.userIDFromSession(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	if err := s.organizationSvc.RevokeInvite(c.Request.Context(), userID, c.Param("id"), c.Param("inviteId")); err != nil {
		AbortWithError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// AcceptInvite joins the caller to the inviting organization. The invite
// email must match the authenticated account.
func (s *Server) AcceptInvite(c *gin.Context) {
	userID, ok := s.userIDFromSession(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	code := strings.TrimSpace(c.Param("code"))
	if code == "" {
		AbortWithError(c, organizationdomain.ErrInviteNotFound)
		return
	}

	user, err := s.authsvc.GetUser(c.Request.Context(), userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	org, err := s.organizationSvc.AcceptInvite(c.Request.Context(), userID, user.Email, code)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, org)
}
