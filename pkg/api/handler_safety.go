package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/planloom/planloom/pkg/models"
)

// safetyCheckRequest is the body of the safety check endpoints. Checks is
// optional; the pipeline's default set runs when it is empty.
type safetyCheckRequest struct {
	Text   string   `json:"text" binding:"required"`
	Checks []string `json:"checks"`
	LoopID string   `json:"loop_id"`
}

// checkPromptHandler handles POST /api/v1/safety/check-prompt.
func (s *Server) checkPromptHandler(c *gin.Context) {
	req, checks, ok := bindSafetyCheck(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, s.pipeline.CheckPrompt(req.Text, checks, req.LoopID))
}

// checkOutputHandler handles POST /api/v1/safety/check-output.
func (s *Server) checkOutputHandler(c *gin.Context) {
	req, checks, ok := bindSafetyCheck(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, s.pipeline.CheckOutput(req.Text, checks, req.LoopID))
}

func bindSafetyCheck(c *gin.Context) (*safetyCheckRequest, []models.FindingKind, bool) {
	var req safetyCheckRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "text is required"})
		return nil, nil, false
	}

	var checks []models.FindingKind
	for _, raw := range req.Checks {
		kind := models.FindingKind(raw)
		if !kind.IsValid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown check: " + raw})
			return nil, nil, false
		}
		checks = append(checks, kind)
	}
	return &req, checks, true
}
