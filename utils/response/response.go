package response

import (
	"errors"
	"net/http"

	"registrar/services"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// Error sends a standardized error response
func Error(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"error": message})
}

// Success sends a standardized success response
func Success(c *gin.Context, status int, data interface{}) {
	c.JSON(status, gin.H{"data": data})
}

// ValidationError sends a response for validation errors
func ValidationError(c *gin.Context, errors map[string]string) {
	c.JSON(http.StatusBadRequest, gin.H{"errors": errors})
}

// StatusFor maps a coordinator error kind to its HTTP status
func StatusFor(kind services.ErrorKind) int {
	switch kind {
	case services.KindValidation:
		return http.StatusBadRequest
	case services.KindCapacity, services.KindConflict:
		return http.StatusConflict
	case services.KindTemporal:
		return http.StatusGone
	case services.KindRateLimit:
		return http.StatusTooManyRequests
	case services.KindNotFound:
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

// CoordinatorError sends a typed coordinator error with its code and metadata.
// Anything else is logged and answered with a generic 500.
func CoordinatorError(c *gin.Context, log logrus.FieldLogger, err error) {
	var cerr *services.Error
	if errors.As(err, &cerr) {
		body := gin.H{"error": cerr.Message, "code": cerr.Code}
		if len(cerr.Metadata) > 0 {
			body["details"] = cerr.Metadata
		}
		c.JSON(StatusFor(cerr.Kind), body)
		return
	}

	log.WithError(err).WithField("path", c.FullPath()).Error("Request failed")
	Error(c, http.StatusInternalServerError, "Internal server error")
}
