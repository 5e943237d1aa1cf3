package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/neohum/quick-share/internal/cache"
	"github.com/neohum/quick-share/internal/domain"
	"github.com/neohum/quick-share/internal/repository"
)

// DefaultRoomWindow 房间和文件的默认存活时间
const DefaultRoomWindow = time.Hour

// RoomResult 是创建/加入房间的结果
type RoomResult struct {
	Code      string
	ExpiresIn time.Duration
	Joined    bool // true 表示加入了已存在的房间
}

// RoomService 负责房间生命周期：解析房间是否存活、在缓存和存储之间做对账。
// 所有读取房间的路径都经过 ResolveRoom。
type RoomService struct {
	store  repository.RoomStore
	cache  *cache.RoomCache
	window time.Duration
	now    func() time.Time
}

// NewRoomService 创建 RoomService 实例。
func NewRoomService(store repository.RoomStore, roomCache *cache.RoomCache, window time.Duration) *RoomService {
	if store == nil {
		panic("RoomStore cannot be nil for RoomService")
	}
	if roomCache == nil {
		panic("RoomCache cannot be nil for RoomService")
	}
	if window <= 0 {
		window = DefaultRoomWindow
	}
	return &RoomService{
		store:  store,
		cache:  roomCache,
		window: window,
		now:    time.Now,
	}
}

// Window 返回房间存活窗口
func (s *RoomService) Window() time.Duration { return s.window }

// ResolveRoom 判断房间是否存活并同步缓存。
//   - 存储中 key 不存在：清除缓存条目，返回 ErrRoomNotFound
//   - 缓存命中：直接返回
//   - 缓存未命中：从存储读取元数据和文件列表并回填缓存
//
// 返回的剩余时间为 TTL，TTL 不可用时为默认窗口。
func (s *RoomService) ResolveRoom(ctx context.Context, code string) (*cache.Entry, time.Duration, error) {
	if !domain.ValidRoomCode(code) {
		return nil, 0, ErrInvalidRoomCode
	}
	logCtx := logrus.WithFields(logrus.Fields{"room_code": code, "operation": "ResolveRoom"})

	ttl, exists, err := s.store.RoomTTL(ctx, code)
	if err != nil {
		logCtx.WithError(err).Error("Failed to read room ttl")
		return nil, 0, backendError("resolve room", err)
	}
	if !exists {
		if s.cache.Remove(code) {
			logCtx.Info("Room expired in store, purged stale cache entry")
		}
		return nil, 0, ErrRoomNotFound
	}
	expiresIn := ttl
	if expiresIn <= 0 {
		expiresIn = s.window
	}

	if entry, ok := s.cache.Get(code); ok {
		return entry, expiresIn, nil
	}

	room, err := s.store.GetRoom(ctx, code)
	if err != nil {
		if errors.Is(err, repository.ErrRoomNotFound) {
			s.cache.Remove(code)
			return nil, 0, ErrRoomNotFound
		}
		logCtx.WithError(err).Error("Failed to read room metadata")
		return nil, 0, backendError("resolve room", err)
	}
	files, err := s.store.ListFiles(ctx, code)
	if err != nil {
		logCtx.WithError(err).Error("Failed to read room file list")
		return nil, 0, backendError("resolve room", err)
	}
	room.Files = domain.DedupeByFilename(files)

	entry := s.cache.Load(room)
	logCtx.WithField("files", len(room.Files)).Info("Room cache rebuilt from store")
	return entry, expiresIn, nil
}

// RoomStatus 返回房间剩余时间；房间不存在时返回 ErrRoomNotFound
func (s *RoomService) RoomStatus(ctx context.Context, code string) (time.Duration, error) {
	_, expiresIn, err := s.ResolveRoom(ctx, code)
	return expiresIn, err
}

// JoinRoom 加入已存在的房间
func (s *RoomService) JoinRoom(ctx context.Context, code string) (*RoomResult, error) {
	_, expiresIn, err := s.ResolveRoom(ctx, code)
	if err != nil {
		return nil, err
	}
	return &RoomResult{Code: code, ExpiresIn: expiresIn, Joined: true}, nil
}

// CreateOrJoinRoom 创建新房间，或在请求的房间码仍然存活时加入它。
// 请求的房间码格式不对时忽略它，生成随机房间码。
func (s *RoomService) CreateOrJoinRoom(ctx context.Context, requested string) (*RoomResult, error) {
	logCtx := logrus.WithField("requested_code", requested)

	if domain.ValidRoomCode(requested) {
		result, err := s.JoinRoom(ctx, requested)
		if err == nil {
			logCtx.Info("Requested room is live, joined instead of creating")
			return result, nil
		}
		if !errors.Is(err, ErrRoomNotFound) {
			return nil, err
		}
		result, err = s.createRoom(ctx, requested)
		if errors.Is(err, repository.ErrDuplicateEntry) {
			// 并发创建了同一个房间码，当作加入
			return s.JoinRoom(ctx, requested)
		}
		return result, err
	}

	const maxAttempts = 10
	for attempt := 0; attempt < maxAttempts; attempt++ {
		code, err := randomRoomCode()
		if err != nil {
			logCtx.WithError(err).Error("Failed to generate room code")
			return nil, ErrInternalServer
		}
		result, err := s.createRoom(ctx, code)
		if err == nil {
			return result, nil
		}
		if !errors.Is(err, repository.ErrDuplicateEntry) {
			return nil, err
		}
		logrus.WithField("room_code", code).Warnf("Generated room code already live, retrying (attempt %d)...", attempt+1)
	}
	logrus.Errorf("Failed to generate a unique room code after %d attempts", maxAttempts)
	return nil, fmt.Errorf("failed to generate a unique room code after %d attempts: %w", maxAttempts, ErrInternalServer)
}

// Invalidate 显式清除某个房间的缓存，下次读取时会从存储重建
func (s *RoomService) Invalidate(code string) {
	s.cache.Remove(code)
}

// createRoom 写入房间元数据 (SET NX + TTL) 并填充缓存
func (s *RoomService) createRoom(ctx context.Context, code string) (*RoomResult, error) {
	logCtx := logrus.WithField("room_code", code)
	room := domain.NewRoom(code, s.now(), s.window)

	if err := s.store.CreateRoom(ctx, room, s.window); err != nil {
		if errors.Is(err, repository.ErrDuplicateEntry) {
			return nil, err
		}
		logCtx.WithError(err).Error("Failed to save new room to store")
		return nil, backendError("create room", err)
	}
	// 之前的同码房间可能还残留在缓存中
	s.cache.Remove(code)
	s.cache.Load(room)

	logCtx.Info("Room created successfully")
	return &RoomResult{Code: code, ExpiresIn: s.window}, nil
}
