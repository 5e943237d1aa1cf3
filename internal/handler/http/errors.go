package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/neohum/quick-share/internal/service"
)

// HandleServiceError 把 service 层错误映射为 HTTP 状态码和 {"error": msg}
func HandleServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrRoomNotFound):
		ErrorResponse(c, http.StatusNotFound, "Room not found or expired")
	case errors.Is(err, service.ErrFileNotFound):
		ErrorResponse(c, http.StatusNotFound, "File not found")
	case errors.Is(err, service.ErrEmptyRoom):
		ErrorResponse(c, http.StatusNotFound, "No files to download")
	case errors.Is(err, service.ErrInvalidRoomCode), errors.Is(err, service.ErrMissingUpload):
		ErrorResponse(c, http.StatusBadRequest, err.Error())
	default:
		logrus.WithError(err).WithField("path", c.FullPath()).Error("Unhandled internal server error")
		ErrorResponse(c, http.StatusInternalServerError, "An unexpected error occurred")
	}
}
