package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/neohum/quick-share/internal/service"
)

// RoomHandler 封装了与房间管理相关的 HTTP 处理逻辑
type RoomHandler struct {
	roomService *service.RoomService
}

// NewRoomHandler 创建 RoomHandler 实例
func NewRoomHandler(roomService *service.RoomService) *RoomHandler {
	if roomService == nil {
		panic("RoomService cannot be nil for RoomHandler")
	}
	return &RoomHandler{roomService: roomService}
}

// CreateRoomRequest 创建房间请求，roomCode 可选
type CreateRoomRequest struct {
	RoomCode RoomCodeParam `json:"roomCode"`
}

// RoomCodeParam 接受字符串或数字形式的房间码，如 "123456" 或 123456
type RoomCodeParam string

func (p *RoomCodeParam) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*p = RoomCodeParam(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("roomCode must be a string or number: %w", err)
	}
	*p = RoomCodeParam(n.String())
	return nil
}

// RoomResponse 创建/加入房间的响应
type RoomResponse struct {
	RoomCode  string `json:"roomCode"`
	ExpiresIn int64  `json:"expiresIn"` // 秒
	Joined    bool   `json:"joined"`
	Message   string `json:"message"`
}

// RoomStatusResponse 房间状态响应
type RoomStatusResponse struct {
	Active    bool   `json:"active"`
	ExpiresIn int64  `json:"expiresIn,omitempty"`
	Message   string `json:"message"`
}

// CreateRoom 处理 POST /api/rooms。
// 请求的房间码仍然存活时视为加入。
func (h *RoomHandler) CreateRoom(c *gin.Context) {
	var req CreateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		ErrorResponse(c, http.StatusBadRequest, "Invalid request body")
		return
	}

	result, err := h.roomService.CreateOrJoinRoom(c.Request.Context(), string(req.RoomCode))
	if err != nil {
		logrus.WithError(err).Error("Handler.CreateRoom: Failed to create room via service")
		HandleServiceError(c, err)
		return
	}

	message := "Room created"
	if result.Joined {
		message = "Joined room successfully"
	}
	SuccessResponse(c, http.StatusOK, RoomResponse{
		RoomCode:  result.Code,
		ExpiresIn: int64(result.ExpiresIn.Seconds()),
		Joined:    result.Joined,
		Message:   message,
	})
}

// JoinRoom 处理 POST /api/rooms/:code
func (h *RoomHandler) JoinRoom(c *gin.Context) {
	code := c.Param("code")
	result, err := h.roomService.JoinRoom(c.Request.Context(), code)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, RoomResponse{
		RoomCode:  result.Code,
		ExpiresIn: int64(result.ExpiresIn.Seconds()),
		Joined:    true,
		Message:   "Joined room successfully",
	})
}

// RoomStatus 处理 GET /api/rooms/:code/status
func (h *RoomHandler) RoomStatus(c *gin.Context) {
	code := c.Param("code")
	expiresIn, err := h.roomService.RoomStatus(c.Request.Context(), code)
	if err != nil {
		if errors.Is(err, service.ErrRoomNotFound) {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{
				"active": false,
				"error":  "Room not found or expired",
			})
			return
		}
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, RoomStatusResponse{
		Active:    true,
		ExpiresIn: int64(expiresIn.Seconds()),
		Message:   "Room is active",
	})
}
