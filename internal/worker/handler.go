package worker

import (
	"context"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/neohum/quick-share/internal/service"
)

// SweepHandler 处理周期性的过期清理和内容清空任务
type SweepHandler struct {
	sweeper *service.SweepService
	now     func() time.Time
}

// NewSweepHandler 创建 Handler 实例
func NewSweepHandler(sweeper *service.SweepService) *SweepHandler {
	if sweeper == nil {
		panic("SweepService cannot be nil for SweepHandler")
	}
	return &SweepHandler{sweeper: sweeper, now: time.Now}
}

func taskLogger(ctx context.Context, t *asynq.Task) *logrus.Entry {
	taskID := ""
	if rw := t.ResultWriter(); rw != nil {
		taskID = rw.TaskID()
	}
	queue, _ := asynq.GetQueueName(ctx)
	return logrus.WithFields(logrus.Fields{
		"task_id":   taskID,
		"task_type": t.Type(),
		"queue":     queue,
	})
}

// ProcessExpirySweep 实现 asynq.HandlerFunc
func (h *SweepHandler) ProcessExpirySweep(ctx context.Context, t *asynq.Task) error {
	logCtx := taskLogger(ctx, t)
	logCtx.Debug("Processing expiry sweep task...")

	res := h.sweeper.RunExpirySweep(ctx, h.now())
	logCtx.WithFields(logrus.Fields{
		"rooms":   res.RoomsScanned,
		"expired": res.FilesExpired,
		"errors":  res.Errors,
	}).Debug("Expiry sweep task processed")
	// 单个文件的清理失败只记录，不让任务失败
	return nil
}

// ProcessContentPurge 实现 asynq.HandlerFunc
func (h *SweepHandler) ProcessContentPurge(ctx context.Context, t *asynq.Task) error {
	logCtx := taskLogger(ctx, t)
	logCtx.Info("Processing content purge task...")

	res := h.sweeper.PurgeContent(ctx)
	logCtx.WithFields(logrus.Fields{
		"removed": res.Removed,
		"kept":    res.Kept,
		"errors":  res.Errors,
	}).Info("Content purge task processed")
	return nil
}
