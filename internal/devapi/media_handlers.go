package devapi

import (
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
)

// contentTypes maps stored extensions to response content types.
var contentTypes = map[string]string{
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"png":  "image/png",
	"gif":  "image/gif",
	"webp": "image/webp",
	"heic": "image/heic",
}

func contentTypeFor(path string) string {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	if ct, ok := contentTypes[ext]; ok {
		return ct
	}
	return "application/octet-stream"
}

// handleSaveMedia accepts either a multipart form with an "image" field
// or a raw body with the original name in X-Filename.
func (s *Server) handleSaveMedia(c *gin.Context) {
	ctx := c.Request.Context()

	if strings.HasPrefix(c.ContentType(), "multipart/") {
		file, header, err := c.Request.FormFile("image")
		if err != nil {
			writeBadRequest(c, `multipart form needs an "image" file field`)
			return
		}
		defer file.Close()

		asset, err := s.deps.Media.Save(ctx, file, header.Filename)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusCreated, asset)
		return
	}

	asset, err := s.deps.Media.Save(ctx, c.Request.Body, c.GetHeader("X-Filename"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, asset)
}

func (s *Server) handleMediaStats(c *gin.Context) {
	stats, err := s.deps.Media.Stats(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (s *Server) handleGetMedia(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")

	data, err := s.deps.Media.Get(ctx, id)
	if err != nil {
		writeError(c, err)
		return
	}
	path, err := s.deps.Media.Path(ctx, id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.Data(http.StatusOK, contentTypeFor(path), data)
}

func (s *Server) handleMediaPath(c *gin.Context) {
	path, err := s.deps.Media.Path(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"path": path})
}

// handleDeleteMedia is idempotent: deleting an unknown asset reports
// removed=false rather than an error.
func (s *Server) handleDeleteMedia(c *gin.Context) {
	removed, err := s.deps.Media.Delete(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": removed})
}

func (s *Server) handleCleanup(c *gin.Context) {
	var req struct {
		MaxAgeDays *int `json:"max_age_days"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			writeBadRequest(c, "invalid JSON body")
			return
		}
	}
	if req.MaxAgeDays != nil && *req.MaxAgeDays <= 0 {
		writeBadRequest(c, "max_age_days must be positive")
		return
	}

	deleted, err := s.deps.Media.Cleanup(c.Request.Context(), req.MaxAgeDays)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": deleted})
}

func (s *Server) handlePurge(c *gin.Context) {
	deleted, err := s.deps.Media.ClearAll(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": deleted})
}
