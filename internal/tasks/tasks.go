package tasks

import (
	"time"

	"github.com/hibiken/asynq"
)

// 定义任务类型常量
const (
	TypeExpirySweep  = "room:expiry_sweep"  // 清理缓存房间中过期的文件
	TypeContentPurge = "room:content_purge" // 清空内容存储工作目录
)

// 清理任务不重试，下一个周期会再次执行
const sweepTimeout = 5 * time.Minute

// InstanceQueuePrefix 是所有进程清理队列的公共前缀
const InstanceQueuePrefix = "sweep:"

// InstanceQueue 返回某个进程专用的队列名。
// 过期清理扫描的是进程内缓存，所以任务必须由调度它的进程自己消费。
func InstanceQueue(instanceID string) string {
	return InstanceQueuePrefix + instanceID
}

// NewExpirySweepTask 创建过期清理任务
func NewExpirySweepTask(queue string) *asynq.Task {
	return asynq.NewTask(TypeExpirySweep, nil,
		asynq.Queue(queue),
		asynq.MaxRetry(0),
		asynq.Timeout(sweepTimeout),
	)
}

// NewContentPurgeTask 创建内容清空任务
func NewContentPurgeTask(queue string) *asynq.Task {
	return asynq.NewTask(TypeContentPurge, nil,
		asynq.Queue(queue),
		asynq.MaxRetry(0),
		asynq.Timeout(sweepTimeout),
	)
}
