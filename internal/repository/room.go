package repository

import (
	"context"
	"time"

	"github.com/neohum/quick-share/internal/domain"
)

// RoomStore 定义了房间元数据和文件列表在带 TTL 的持久存储中的操作，通常由 Redis 实现。
// 它是房间是否存活的唯一事实来源。
type RoomStore interface {
	// === Room Metadata ===

	// RoomTTL 返回房间元数据 key 的剩余时间。
	// key 不存在时 exists 为 false；key 存在但没有过期时间时 ttl 为 0。
	RoomTTL(ctx context.Context, code string) (ttl time.Duration, exists bool, err error)

	// GetRoom 读取房间元数据。不存在时返回 ErrRoomNotFound。
	GetRoom(ctx context.Context, code string) (*domain.Room, error)

	// CreateRoom 仅当 key 不存在时写入房间元数据并设置 TTL。
	// key 已存在时返回 ErrDuplicateEntry。
	CreateRoom(ctx context.Context, room *domain.Room, ttl time.Duration) error

	// === File List ===

	// ListFiles 读取房间的完整文件列表（存储顺序）。
	// 无法解析的条目会被丢弃，不视为错误。
	ListFiles(ctx context.Context, code string) ([]domain.File, error)

	// PushFile 将文件记录压入列表头部，并把列表 TTL 刷新为 ttl。
	PushFile(ctx context.Context, code string, file domain.File, ttl time.Duration) error

	// RemoveFile 从列表中删除与该记录序列化内容一致的所有条目，返回删除数量。
	RemoveFile(ctx context.Context, code string, file domain.File) (int64, error)
}
