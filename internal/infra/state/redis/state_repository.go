package redisstate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"github.com/neohum/quick-share/internal/domain"
	"github.com/neohum/quick-share/internal/repository"
)

// ttlKeyMissing 是 Redis TTL 命令对不存在 key 的返回值 (-2)
const ttlKeyMissing = time.Duration(-2)

// RedisStateRepository 是 RoomStore 接口的 Redis 实现
type RedisStateRepository struct {
	client    *redis.Client
	keyPrefix string
}

var _ repository.RoomStore = (*RedisStateRepository)(nil)

// NewRedisStateRepository 创建 RedisStateRepository 实例
func NewRedisStateRepository(client *redis.Client, keyPrefix string) *RedisStateRepository {
	if client == nil {
		panic("redis client cannot be nil for RedisStateRepository")
	}
	return &RedisStateRepository{
		client:    client,
		keyPrefix: keyPrefix,
	}
}

// --- Key Generation Helpers ---
func (r *RedisStateRepository) roomInfoKey(code string) string {
	return fmt.Sprintf("%sroom:%s:info", r.keyPrefix, code)
}

func (r *RedisStateRepository) roomFilesKey(code string) string {
	return fmt.Sprintf("%sroom:%s:files", r.keyPrefix, code)
}

// --- RoomStore Interface Implementation ---

// RoomTTL 查询房间元数据 key 的剩余 TTL
func (r *RedisStateRepository) RoomTTL(ctx context.Context, code string) (time.Duration, bool, error) {
	key := r.roomInfoKey(code)
	ttl, err := r.client.TTL(ctx, key).Result()
	if err != nil {
		return 0, false, fmt.Errorf("redis: failed to get ttl for room %s from %s: %w", code, key, err)
	}
	if ttl == ttlKeyMissing {
		return 0, false, nil
	}
	if ttl < 0 {
		// -1: key 没有设置过期时间
		return 0, true, nil
	}
	return ttl, true, nil
}

// GetRoom 读取房间元数据
func (r *RedisStateRepository) GetRoom(ctx context.Context, code string) (*domain.Room, error) {
	key := r.roomInfoKey(code)
	roomStr, err := r.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, repository.ErrRoomNotFound
		}
		return nil, fmt.Errorf("redis: failed to get room %s from %s: %w", code, key, err)
	}
	var room domain.Room
	if err := json.Unmarshal([]byte(roomStr), &room); err != nil {
		return nil, fmt.Errorf("redis: failed to unmarshal room %s from %s: %w", code, key, err)
	}
	room.Files = nil // 文件列表存放在独立的 key 中
	if room.Code == "" {
		room.Code = code
	}
	return &room, nil
}

// CreateRoom 使用 SET NX 写入房间元数据
func (r *RedisStateRepository) CreateRoom(ctx context.Context, room *domain.Room, ttl time.Duration) error {
	key := r.roomInfoKey(room.Code)
	meta := *room
	meta.Files = nil
	roomBytes, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("redis: failed to marshal room %s: %w", room.Code, err)
	}
	ok, err := r.client.SetNX(ctx, key, string(roomBytes), ttl).Result()
	if err != nil {
		return fmt.Errorf("redis: failed to create room %s on key %s: %w", room.Code, key, err)
	}
	if !ok {
		return repository.ErrDuplicateEntry
	}
	return nil
}

// ListFiles 读取房间的文件列表，跳过无法解析的条目
func (r *RedisStateRepository) ListFiles(ctx context.Context, code string) ([]domain.File, error) {
	key := r.roomFilesKey(code)
	fileStrs, err := r.client.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: failed to list files for room %s from %s: %w", code, key, err)
	}
	files := make([]domain.File, 0, len(fileStrs))
	for _, fileStr := range fileStrs {
		var file domain.File
		if err := json.Unmarshal([]byte(fileStr), &file); err != nil {
			logrus.WithFields(logrus.Fields{
				"room_code": code,
				"key":       key,
			}).WithError(err).Warn("redis: dropping corrupt file entry")
			continue
		}
		files = append(files, file.WithRaw(fileStr))
	}
	return files, nil
}

// PushFile 在同一事务中 LPUSH 文件记录并刷新列表 TTL
func (r *RedisStateRepository) PushFile(ctx context.Context, code string, file domain.File, ttl time.Duration) error {
	key := r.roomFilesKey(code)
	fileBytes, err := json.Marshal(file)
	if err != nil {
		return fmt.Errorf("redis: failed to marshal file %s: %w", file.ID, err)
	}
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, key, string(fileBytes))
		pipe.Expire(ctx, key, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis: failed to push file %s for room %s on key %s: %w", file.ID, code, key, err)
	}
	return nil
}

// RemoveFile 按原始序列化内容 LREM，没有原文时重新序列化
func (r *RedisStateRepository) RemoveFile(ctx context.Context, code string, file domain.File) (int64, error) {
	key := r.roomFilesKey(code)
	value := file.Raw()
	if value == "" {
		fileBytes, err := json.Marshal(file)
		if err != nil {
			return 0, fmt.Errorf("redis: failed to marshal file %s: %w", file.ID, err)
		}
		value = string(fileBytes)
	}
	removed, err := r.client.LRem(ctx, key, 0, value).Result()
	if err != nil {
		return 0, fmt.Errorf("redis: failed to remove file %s for room %s on key %s: %w", file.ID, code, key, err)
	}
	return removed, nil
}
