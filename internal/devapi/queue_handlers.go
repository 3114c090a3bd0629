package devapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Asgard-Solutions/ironstag-sub000/internal/outbox"
)

// handleEnqueue resolves the local image through the media store, so a
// submission can never be queued for an asset that does not exist.
func (s *Server) handleEnqueue(c *gin.Context) {
	var req struct {
		LocalImageID string `json:"local_image_id"`
		Notes        string `json:"notes"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBadRequest(c, "invalid JSON body")
		return
	}
	if req.LocalImageID == "" {
		writeBadRequest(c, "local_image_id is required")
		return
	}

	ctx := c.Request.Context()
	path, err := s.deps.Media.Path(ctx, req.LocalImageID)
	if err != nil {
		writeError(c, err)
		return
	}

	sub, err := s.deps.Queue.Enqueue(ctx, outbox.Submission{
		LocalImageID: req.LocalImageID,
		ImagePath:    path,
		Notes:        req.Notes,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, sub)
}

func (s *Server) handleListSubmissions(c *gin.Context) {
	pending, err := s.deps.Queue.Pending(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	if pending == nil {
		pending = []outbox.Submission{}
	}
	c.JSON(http.StatusOK, gin.H{
		"submissions": pending,
		"count":       len(pending),
	})
}

// handleCancelSubmission is idempotent like media deletion: cancelling
// an unknown or already-delivered submission reports cancelled=false.
func (s *Server) handleCancelSubmission(c *gin.Context) {
	cancelled, err := s.deps.Queue.Cancel(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cancelled": cancelled})
}

func (s *Server) handleQueueStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Queue.Status())
}

// handleTriggerSync runs one drain pass inline and reports its result.
// A pass already in flight returns a zero result immediately.
func (s *Server) handleTriggerSync(c *gin.Context) {
	res, err := s.deps.Queue.Sync(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}
