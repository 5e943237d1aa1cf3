package http

import (
	"errors"
	"mime"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/neohum/quick-share/internal/domain"
	"github.com/neohum/quick-share/internal/service"
)

// FileHandler 处理房间内文件的上传、列表、下载、删除和打开通知
type FileHandler struct {
	fileService    *service.FileService
	maxUploadBytes int64
}

// NewFileHandler 创建 FileHandler 实例。maxUploadBytes <= 0 表示不限制。
func NewFileHandler(fileService *service.FileService, maxUploadBytes int64) *FileHandler {
	if fileService == nil {
		panic("FileService cannot be nil for FileHandler")
	}
	return &FileHandler{fileService: fileService, maxUploadBytes: maxUploadBytes}
}

// UploadResponse 上传成功的响应
type UploadResponse struct {
	Message string      `json:"message"`
	File    domain.File `json:"file"`
}

// OpenFileRequest 打开通知请求
type OpenFileRequest struct {
	UserID string `json:"userId"`
}

// Upload 处理 POST /api/rooms/:code/files (multipart: file, userName, socketId)
func (h *FileHandler) Upload(c *gin.Context) {
	code := c.Param("code")
	if h.maxUploadBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes)
	}

	fh, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			ErrorResponse(c, http.StatusRequestEntityTooLarge, "File is too large")
			return
		}
		HandleServiceError(c, service.ErrMissingUpload)
		return
	}
	src, err := fh.Open()
	if err != nil {
		logrus.WithError(err).WithField("room_code", code).Error("Handler.Upload: Failed to open multipart file")
		ErrorResponse(c, http.StatusInternalServerError, "Failed to read upload")
		return
	}
	defer src.Close()

	file, err := h.fileService.AddFile(c.Request.Context(), code, service.Upload{
		Content:    src,
		Filename:   fh.Filename,
		Mimetype:   fh.Header.Get("Content-Type"),
		UserName:   c.PostForm("userName"),
		UploaderID: c.PostForm("socketId"),
	})
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, UploadResponse{
		Message: "File uploaded successfully",
		File:    *file,
	})
}

// ListFiles 处理 GET /api/rooms/:code/files
func (h *FileHandler) ListFiles(c *gin.Context) {
	files, err := h.fileService.ListFiles(c.Request.Context(), c.Param("code"))
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	if files == nil {
		files = []domain.File{}
	}
	SuccessResponse(c, http.StatusOK, gin.H{"files": files})
}

// Download 处理 GET /api/rooms/:code/files/download/:fileId，附件名为原始文件名
func (h *FileHandler) Download(c *gin.Context) {
	dl, err := h.fileService.DownloadFile(c.Request.Context(), c.Param("code"), c.Param("fileId"))
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	defer dl.Content.Close()

	disposition := mime.FormatMediaType("attachment", map[string]string{"filename": dl.File.OriginalName})
	if disposition == "" {
		disposition = "attachment"
	}
	c.Header("Content-Disposition", disposition)
	if dl.File.Mimetype != "" {
		c.Header("Content-Type", dl.File.Mimetype)
	}
	http.ServeContent(c.Writer, c.Request, dl.File.OriginalName, dl.ModTime, dl.Content)
}

// Delete 处理 DELETE /api/rooms/:code/files/:fileId
func (h *FileHandler) Delete(c *gin.Context) {
	if err := h.fileService.RemoveFile(c.Request.Context(), c.Param("code"), c.Param("fileId")); err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, gin.H{"success": true, "message": "File deleted successfully"})
}

// Open 处理 POST /api/rooms/:code/files/:fileId/open
func (h *FileHandler) Open(c *gin.Context) {
	var req OpenFileRequest
	// body 可选
	_ = c.ShouldBindJSON(&req)

	if err := h.fileService.OpenFile(c.Request.Context(), c.Param("code"), c.Param("fileId"), req.UserID); err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, gin.H{"success": true, "message": "Open event broadcast"})
}

// DownloadAll 处理 GET /api/rooms/:code/files/download-all
func (h *FileHandler) DownloadAll(c *gin.Context) {
	files, err := h.fileService.ListForBulkDownload(c.Request.Context(), c.Param("code"))
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, gin.H{"success": true, "files": files})
}

// RegisterRoutes 在 /api 分组下注册房间和文件路由
func RegisterRoutes(api gin.IRouter, rooms *RoomHandler, files *FileHandler) {
	roomRoutes := api.Group("/rooms")
	{
		roomRoutes.POST("", rooms.CreateRoom)
		roomRoutes.POST("/:code", rooms.JoinRoom)
		roomRoutes.GET("/:code/status", rooms.RoomStatus)

		roomRoutes.POST("/:code/files", files.Upload)
		roomRoutes.GET("/:code/files", files.ListFiles)
		roomRoutes.GET("/:code/files/download-all", files.DownloadAll)
		roomRoutes.GET("/:code/files/download/:fileId", files.Download)
		roomRoutes.DELETE("/:code/files/:fileId", files.Delete)
		roomRoutes.POST("/:code/files/:fileId/open", files.Open)
	}
}
