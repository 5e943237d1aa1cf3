package domain

import "encoding/json"

// 实时通道事件名
const (
	EventJoinRoom     = "joinRoom"
	EventJoinedRoom   = "joinedRoom"
	EventFileUploaded = "fileUploaded"
	EventFileDeleted  = "fileDeleted"
	EventOpenDocument = "openDocument"
	EventPing         = "ping"
	EventPong         = "pong"
	EventError        = "error"
)

// DeleteReasonExpired 过期清理时 fileDeleted 事件携带的原因
const DeleteReasonExpired = "expired"

// Event 是 WebSocket 上收发的消息信封
type Event struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// FileUploadedPayload fileUploaded 事件内容
type FileUploadedPayload struct {
	File       File   `json:"file"`
	Message    string `json:"message"`
	UploaderID string `json:"uploaderId,omitempty"`
}

// FileDeletedPayload fileDeleted 事件内容
type FileDeletedPayload struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
	Reason   string `json:"reason,omitempty"`
}

// OpenDocumentPayload openDocument 事件内容
type OpenDocumentPayload struct {
	UserID           string `json:"userId"`
	ID               string `json:"id"`
	Filename         string `json:"filename"`
	OriginalName     string `json:"originalName"`
	DocumentType     string `json:"documentType"`
	IsOfficeDocument bool   `json:"isOfficeDocument"`
}

// JoinRoomPayload 客户端发来的 joinRoom 内容
type JoinRoomPayload struct {
	RoomCode string `json:"roomCode"`
	UserName string `json:"userName"`
}

// JoinedRoomPayload joinedRoom 回执
type JoinedRoomPayload struct {
	RoomCode string `json:"roomCode"`
	UserName string `json:"userName"`
	ClientID string `json:"clientId"`
}

// EncodeEvent 将事件名和内容序列化为信封
func EncodeEvent(name string, payload interface{}) ([]byte, error) {
	var data json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		data = b
	}
	return json.Marshal(Event{Event: name, Data: data})
}
