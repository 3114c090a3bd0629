package devapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	stagerrors "github.com/Asgard-Solutions/ironstag-sub000/internal/errors"
)

// writeError maps a store or queue error onto an HTTP status. Anything
// unclassified is a 500; handlers reject bad input with 400 before the
// stores ever see it.
func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case stagerrors.IsNotFound(err):
		status = http.StatusNotFound
	case stagerrors.IsPayloadTooLarge(err):
		status = http.StatusRequestEntityTooLarge
	case stagerrors.IsStorageUnavailable(err):
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func writeBadRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}
