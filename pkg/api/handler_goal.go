package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/planloom/planloom/pkg/models"
)

// createGoalRequest is the body of POST /api/v1/goals. Subtasks is optional;
// when omitted the engine's decomposer plans the goal.
type createGoalRequest struct {
	GoalID      string               `json:"goal_id"`
	Description string               `json:"description" binding:"required"`
	Subtasks    []models.SubtaskSpec `json:"subtasks"`
}

// createGoalHandler handles POST /api/v1/goals. The goal is processed in the
// background; the response carries the ID to poll.
func (s *Server) createGoalHandler(c *gin.Context) {
	var req createGoalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "description is required"})
		return
	}
	if req.GoalID == "" {
		req.GoalID = uuid.NewString()
	}

	go s.runDetached(req.GoalID, func(ctx context.Context) (*models.GoalResult, error) {
		if len(req.Subtasks) > 0 {
			return s.orch.ProcessGoalWithPlan(ctx, req.GoalID, req.Description, req.Subtasks)
		}
		return s.orch.ProcessGoal(ctx, req.GoalID, req.Description)
	})

	c.JSON(http.StatusAccepted, gin.H{
		"goal_id": req.GoalID,
		"status":  "accepted",
	})
}

// listGoalsHandler handles GET /api/v1/goals.
func (s *Server) listGoalsHandler(c *gin.Context) {
	goals, err := s.store.ListGoals(c.Request.Context())
	if err != nil {
		abortWithStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"goals": goals, "total": len(goals)})
}

// getGoalHandler handles GET /api/v1/goals/:id. The response carries the
// goal plus its tasks.
func (s *Server) getGoalHandler(c *gin.Context) {
	goal, err := s.store.GetGoal(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortWithStoreError(c, err)
		return
	}
	tasks, err := s.store.GoalTasks(c.Request.Context(), goal.GoalID)
	if err != nil {
		abortWithStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"goal": goal, "tasks": tasks})
}

// goalProgressHandler handles GET /api/v1/goals/:id/progress.
func (s *Server) goalProgressHandler(c *gin.Context) {
	goalID := c.Param("id")
	goal, err := s.store.GetGoal(c.Request.Context(), goalID)
	if err != nil {
		abortWithStoreError(c, err)
		return
	}
	tasks, err := s.store.GoalTasks(c.Request.Context(), goalID)
	if err != nil {
		abortWithStoreError(c, err)
		return
	}

	progress := &models.GoalProgress{
		GoalID:     goalID,
		Status:     goal.Status,
		Counts:     make(map[models.TaskStatus]int),
		TotalTasks: len(tasks),
	}
	for _, task := range tasks {
		progress.Counts[task.Status]++
	}
	if len(tasks) > 0 {
		progress.CompletionPercent = float64(progress.Counts[models.TaskStatusCompleted]) / float64(len(tasks)) * 100
	}
	c.JSON(http.StatusOK, progress)
}

// goalEventsHandler handles GET /api/v1/goals/:id/events. after_seq resumes
// a replay from a checkpoint.
func (s *Server) goalEventsHandler(c *gin.Context) {
	goalID := c.Param("id")
	if _, err := s.store.GetGoal(c.Request.Context(), goalID); err != nil {
		abortWithStoreError(c, err)
		return
	}

	var afterSeq int64
	if v := c.Query("after_seq"); v != "" {
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil || parsed < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid after_seq: must be a non-negative integer"})
			return
		}
		afterSeq = parsed
	}

	replayed, err := s.orch.ReplayHistory(c.Request.Context(), goalID, afterSeq)
	if err != nil {
		abortWithStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": replayed, "total": len(replayed)})
}

// goalPrioritiesHandler handles GET /api/v1/goals/:id/priorities.
func (s *Server) goalPrioritiesHandler(c *gin.Context) {
	goalID := c.Param("id")
	if _, err := s.store.GetGoal(c.Request.Context(), goalID); err != nil {
		abortWithStoreError(c, err)
		return
	}
	ranked, err := s.orch.PrioritizeTasks(c.Request.Context(), goalID)
	if err != nil {
		abortWithStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tasks": ranked, "total": len(ranked)})
}

// resumeGoalHandler handles POST /api/v1/goals/:id/resume.
func (s *Server) resumeGoalHandler(c *gin.Context) {
	goalID := c.Param("id")
	if _, err := s.store.GetGoal(c.Request.Context(), goalID); err != nil {
		abortWithStoreError(c, err)
		return
	}

	go s.runDetached(goalID, func(ctx context.Context) (*models.GoalResult, error) {
		return s.orch.ResumeGoal(ctx, goalID)
	})

	c.JSON(http.StatusAccepted, gin.H{
		"goal_id": goalID,
		"status":  "resuming",
	})
}

// runDetached drives a goal outside the request lifetime and logs the
// outcome.
func (s *Server) runDetached(goalID string, run func(ctx context.Context) (*models.GoalResult, error)) {
	result, err := run(context.Background())
	if err != nil {
		s.logger.Error("Goal processing failed", "goal_id", goalID, "error", err)
		return
	}
	s.logger.Info("Goal processing finished", "goal_id", goalID, "status", result.Status)
}
