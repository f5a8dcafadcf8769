package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	authdomain "github.com/smallbiznis/atrium/internal/auth/domain"
)

func (s *Server) ListUserOrgs(c *gin.Context) {
	userID, ok := s.userIDFromSession(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	orgs, err := s.organizationSvc.ListOrganizationsByUser(c.Request.Context(), userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"orgs": orgs})
}

// UseOrg switches the session's active organization. Membership is checked
// before the switch is persisted.
func (s *Server) UseOrg(c *gin.Context) {
	sess, ok := s.sessionFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	rawOrgID := strings.TrimSpace(c.Param("orgId"))
	parsed, err := snowflake.ParseString(rawOrgID)
	if err != nil || parsed == 0 {
		AbortWithError(c, newValidationError("org_id", "invalid_org_id", "invalid org id"))
		return
	}

	if _, err := s.organizationSvc.MemberRole(c.Request.Context(), parsed, sess.UserID); err != nil {
		AbortWithError(c, ErrForbidden)
		return
	}

	activeOrgID := int64(parsed)
	if err := s.authsvc.UpdateSessionActiveOrg(c.Request.Context(), sess.ID, &activeOrgID); err != nil {
		AbortWithError(c, err)
		return
	}

	sess.ActiveOrgID = &activeOrgID
	c.JSON(http.StatusOK, sessionViewFromSession(sess))
}

func sessionViewFromSession(sess *authdomain.Session) *authdomain.SessionView {
	metadata := map[string]any{
		"user_id": sess.UserID.String(),
	}
	if sess.ActiveOrgID != nil {
		metadata["active_org_id"] = snowflake.ID(*sess.ActiveOrgID).String()
	}
	return &authdomain.SessionView{Metadata: metadata}
}
