package api

import (
	"bufio"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/meshrun/meshrun/pkg/models"
	"github.com/meshrun/meshrun/pkg/orchestrator"
)

// startRequest is the JSON body for POST /clusters. Input seeds the
// cluster's ISSUE_OPENED message; InputSource records where it came
// from ("issue", "file", or "text") and defaults to "text" when Input
// is set but InputSource is left blank.
type startRequest struct {
	Template     string         `json:"template" binding:"required"`
	Name         string         `json:"name,omitempty"`
	Params       map[string]any `json:"params,omitempty"`
	WorkDir      string         `json:"work_dir,omitempty"`
	WorktreePath string         `json:"worktree_path,omitempty"`
	Input        string         `json:"input,omitempty"`
	InputSource  string         `json:"input_source,omitempty"`
}

func (s *Server) handleStart(c *gin.Context) {
	var req startRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	cluster, err := s.orch.Start(c.Request.Context(), req.Template, orchestrator.StartOptions{
		Name:         req.Name,
		Params:       req.Params,
		WorkDir:      req.WorkDir,
		WorktreePath: req.WorktreePath,
		Input:        req.Input,
		InputSource:  models.InputSource(req.InputSource),
	})
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, cluster)
}

func (s *Server) handleList(c *gin.Context) {
	c.JSON(http.StatusOK, s.orch.List())
}

func (s *Server) handleStatus(c *gin.Context) {
	status, err := s.orch.Status(c.Param("id"))
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, status)
}

func (s *Server) handleLogs(c *gin.Context) {
	follow, _ := strconv.ParseBool(c.Query("follow"))

	msgs, err := s.orch.Logs(c.Request.Context(), c.Param("id"), follow)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	c.Status(http.StatusOK)
	c.Header("Content-Type", "application/x-ndjson")
	flusher, canFlush := c.Writer.(http.Flusher)

	w := bufio.NewWriter(c.Writer)
	enc := json.NewEncoder(w)
	for msg := range msgs {
		if err := enc.Encode(msg); err != nil {
			return
		}
		w.Flush()
		if canFlush {
			flusher.Flush()
		}
	}
}

func (s *Server) handleStop(c *gin.Context) {
	if err := s.orch.Stop(c.Request.Context(), c.Param("id")); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleKill(c *gin.Context) {
	if err := s.orch.Kill(c.Request.Context(), c.Param("id")); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

type resumeRequest struct {
	Template string         `json:"template,omitempty"`
	Params   map[string]any `json:"params,omitempty"`
}

func (s *Server) handleResume(c *gin.Context) {
	var req resumeRequest
	_ = c.ShouldBindJSON(&req)

	cluster, err := s.orch.Resume(c.Request.Context(), c.Param("id"), req.Template, orchestrator.StartOptions{Params: req.Params})
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, cluster)
}

func (s *Server) handlePurge(c *gin.Context) {
	if err := s.orch.Purge(c.Param("id")); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}
