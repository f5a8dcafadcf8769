package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

type completeStepRequest struct {
	Step string `json:"step"`
	Skip bool   `json:"skip"`
}

func (s *Server) GetOnboarding(c *gin.Context) {
	userID, ok := s.userIDFromSession(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	progress, err := s.onboardingSvc.Get(c.Request.Context(), userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, progress)
}

func (s *Server) CompleteOnboardingStep(c *gin.Context) {
	userID, ok := s.userIDFromSession(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req completeStepRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	step := strings.TrimSpace(req.Step)
	if step == "" {
		AbortWithError(c, newValidationError("step", "required", "step is required"))
		return
	}

	var err error
	var progress any
	if req.Skip {
		progress, err = s.onboardingSvc.SkipStep(c.Request.Context(), userID, step)
	} else {
		progress, err = s.onboardingSvc.CompleteStep(c.Request.Context(), userID, step)
	}
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, progress)
}
