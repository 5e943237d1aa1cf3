package domain

import (
	"regexp"
	"time"
)

// roomCodePattern 房间码必须是 6 位数字
var roomCodePattern = regexp.MustCompile(`^\d{6}$`)

// Room 表示一个有时限的文件共享房间。
// 房间是否存活以存储层的 TTL 为准，ExpiresAt 仅用于展示。
type Room struct {
	Code      string    `json:"code"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
	Active    bool      `json:"active"`
	Files     []File    `json:"files,omitempty"` // 最新上传在前
}

// NewRoom 创建一个新的活跃房间
func NewRoom(code string, now time.Time, window time.Duration) *Room {
	return &Room{
		Code:      code,
		CreatedAt: now,
		ExpiresAt: now.Add(window),
		Active:    true,
	}
}

// ValidRoomCode 检查房间码格式
func ValidRoomCode(code string) bool {
	return roomCodePattern.MatchString(code)
}

// FindFile 按 ID 查找文件，返回下标，找不到返回 -1
func (r *Room) FindFile(id string) int {
	for i := range r.Files {
		if r.Files[i].ID == id {
			return i
		}
	}
	return -1
}

// CloneFiles 返回文件列表的副本，避免调用方修改缓存中的切片
func (r *Room) CloneFiles() []File {
	out := make([]File, len(r.Files))
	copy(out, r.Files)
	return out
}
