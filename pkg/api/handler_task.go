package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// getTaskHandler handles GET /api/v1/tasks/:id. The response is a snapshot
// of the task plus its live assignment when an attempt is in flight.
func (s *Server) getTaskHandler(c *gin.Context) {
	snapshot, err := s.orch.MonitorTask(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortWithStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, snapshot)
}

// killTaskRequest is the optional body of POST /api/v1/tasks/:id/kill.
type killTaskRequest struct {
	Reason string `json:"reason"`
}

// killTaskHandler handles POST /api/v1/tasks/:id/kill. Killing a completed
// task is rejected; an in-flight attempt is cancelled and its result dropped.
func (s *Server) killTaskHandler(c *gin.Context) {
	var req killTaskRequest
	// The body is optional; a missing or empty one means no reason given.
	_ = c.ShouldBindJSON(&req)

	taskID := c.Param("id")
	if err := s.orch.KillTask(c.Request.Context(), taskID, req.Reason); err != nil {
		abortWithStoreError(c, err)
		return
	}

	task, err := s.store.GetTask(c.Request.Context(), taskID)
	if err != nil {
		abortWithStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

// restartTaskHandler handles POST /api/v1/tasks/:id/restart. The task is
// re-queued with a fresh retry budget; resume the goal to dispatch it.
func (s *Server) restartTaskHandler(c *gin.Context) {
	task, err := s.store.RestartTask(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortWithStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}
