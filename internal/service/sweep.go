package service

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"

	"github.com/neohum/quick-share/internal/cache"
	"github.com/neohum/quick-share/internal/domain"
	"github.com/neohum/quick-share/internal/repository"
)

var (
	sweepRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "qs_sweep_runs_total",
		Help: "Sweep runs by kind.",
	}, []string{"kind"})

	sweepFilesExpiredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "qs_sweep_files_expired_total",
		Help: "File records removed by the expiry sweep.",
	})

	sweepBlobsPurgedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "qs_sweep_blobs_purged_total",
		Help: "Blobs removed by the content purge.",
	})

	sweepErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "qs_sweep_errors_total",
		Help: "Best-effort cleanup steps that failed during a sweep.",
	}, []string{"kind"})

	sweepDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "qs_sweep_duration_seconds",
		Help:    "Sweep duration in seconds.",
		Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
	}, []string{"kind"})
)

// SweepResult 是一次过期清理的结果
type SweepResult struct {
	RoomsScanned   int
	RetiredScanned int // 已被缓存淘汰、仍在等待文件过期的房间
	FilesExpired   int
	Errors         int
	Duration       time.Duration
}

// PurgeResult 是一次内容清空的结果
type PurgeResult struct {
	Removed  int
	Kept     int
	Errors   int
	Duration time.Duration
}

// SweepService 执行两种后台清理：
//  1. 过期清理：移除缓存房间中已过期的文件记录及其内容
//  2. 内容清空：删除内容存储工作目录中的 blob
type SweepService struct {
	cache     *cache.RoomCache
	store     repository.RoomStore
	content   repository.ContentStore
	publisher EventPublisher
	keepLive  bool // 为 true 时内容清空保留缓存 (含已淘汰) 房间仍引用的 blob

	mu sync.Mutex // 同一时刻只运行一个清理
}

// NewSweepService 创建 SweepService 实例
func NewSweepService(roomCache *cache.RoomCache, store repository.RoomStore, content repository.ContentStore, publisher EventPublisher, keepLive bool) *SweepService {
	if roomCache == nil || store == nil || content == nil {
		panic("SweepService requires cache, store and content store")
	}
	if publisher == nil {
		publisher = noopPublisher{}
	}
	return &SweepService{
		cache:     roomCache,
		store:     store,
		content:   content,
		publisher: publisher,
		keepLive:  keepLive,
	}
}

// RunExpirySweep 遍历所有缓存房间以及已被缓存淘汰但仍有文件的房间，移除 expiresAt 已过的文件。
// 对每个过期文件：删除 blob (尽力而为) → 删除存储记录 (尽力而为) → 广播 fileDeleted(reason=expired)。
func (s *SweepService) RunExpirySweep(ctx context.Context, now time.Time) *SweepResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	result := &SweepResult{}
	logCtx := logrus.WithFields(logrus.Fields{"component": "sweep", "kind": "expiry"})

	// 房间被淘汰后又从存储重建时，同一文件可能同时出现在新旧两个条目中
	seen := make(map[string]bool)
	for _, entry := range s.cache.Entries() {
		result.RoomsScanned++
		s.sweepEntry(ctx, entry, now, seen, result, logCtx)
	}

	// 淘汰的条目只保留还有未过期文件的
	var retained []*cache.Entry
	for _, entry := range s.cache.TakeRetired() {
		result.RetiredScanned++
		if s.sweepEntry(ctx, entry, now, seen, result, logCtx) > 0 {
			retained = append(retained, entry)
		}
	}
	s.cache.Retain(retained...)

	result.Duration = time.Since(start)
	sweepRunsTotal.WithLabelValues("expiry").Inc()
	sweepFilesExpiredTotal.Add(float64(result.FilesExpired))
	sweepErrorsTotal.WithLabelValues("expiry").Add(float64(result.Errors))
	sweepDurationSeconds.WithLabelValues("expiry").Observe(result.Duration.Seconds())

	entryLog := logCtx.WithFields(logrus.Fields{
		"rooms":    result.RoomsScanned,
		"retired":  result.RetiredScanned,
		"expired":  result.FilesExpired,
		"errors":   result.Errors,
		"duration": result.Duration,
	})
	if result.FilesExpired > 0 || result.Errors > 0 {
		entryLog.Info("Expiry sweep finished")
	} else {
		entryLog.Debug("Expiry sweep finished")
	}
	return result
}

// sweepEntry 清理一个房间中的过期文件，返回剩余文件数。
// seen 中已处理过的文件只从条目中移除，不再重复删除和广播。
func (s *SweepService) sweepEntry(ctx context.Context, entry *cache.Entry, now time.Time, seen map[string]bool, result *SweepResult, logCtx *logrus.Entry) int {
	code := entry.Code()
	var expired []domain.File
	remaining := 0
	entry.Update(func(room *domain.Room) {
		kept := room.Files[:0:0]
		for _, f := range room.Files {
			if f.Expired(now) {
				key := code + "/" + f.ID
				if !seen[key] {
					seen[key] = true
					expired = append(expired, f)
				}
				continue
			}
			kept = append(kept, f)
		}
		remaining = len(kept)
		room.Files = kept

		for _, f := range expired {
			fileLog := logCtx.WithFields(logrus.Fields{"room_code": code, "file_id": f.ID})
			if err := s.content.Delete(ctx, f.Path); err != nil {
				result.Errors++
				fileLog.WithError(err).Warn("Failed to delete expired blob")
			}
			if _, err := s.store.RemoveFile(ctx, code, f); err != nil {
				result.Errors++
				fileLog.WithError(err).Warn("Failed to remove expired file record from store")
			}
		}
	})

	for _, f := range expired {
		s.publisher.Publish(code, domain.EventFileDeleted, domain.FileDeletedPayload{
			ID:       f.ID,
			Filename: f.Filename,
			Reason:   domain.DeleteReasonExpired,
		})
	}
	result.FilesExpired += len(expired)
	return remaining
}

// PurgeContent 清空内容存储工作目录。
// keepLive 为 false 时不考虑任何房间状态，所有 blob 都会被删除。
func (s *SweepService) PurgeContent(ctx context.Context) *PurgeResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	result := &PurgeResult{}
	logCtx := logrus.WithFields(logrus.Fields{"component": "sweep", "kind": "purge", "keep_live": s.keepLive})

	var keep map[string]bool
	if s.keepLive {
		keep = make(map[string]bool)
		entries := append(s.cache.Entries(), s.cache.Retired()...)
		for _, entry := range entries {
			room := entry.Snapshot()
			for _, f := range room.Files {
				keep[f.Path] = true
			}
		}
		result.Kept = len(keep)
	}

	removed, err := s.content.Purge(ctx, keep)
	result.Removed = removed
	if err != nil {
		result.Errors++
		logCtx.WithError(err).Warn("Content purge finished with errors")
	}

	result.Duration = time.Since(start)
	sweepRunsTotal.WithLabelValues("purge").Inc()
	sweepBlobsPurgedTotal.Add(float64(removed))
	sweepErrorsTotal.WithLabelValues("purge").Add(float64(result.Errors))
	sweepDurationSeconds.WithLabelValues("purge").Observe(result.Duration.Seconds())

	logCtx.WithFields(logrus.Fields{
		"removed":  result.Removed,
		"kept":     result.Kept,
		"duration": result.Duration,
	}).Info("Content purge finished")
	return result
}
