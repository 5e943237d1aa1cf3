package worker

import (
	"errors"
	"strings"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
)

// QueueInspector 是 *asynq.Inspector 中清理队列用到的部分
type QueueInspector interface {
	Queues() ([]string, error)
	Servers() ([]*asynq.ServerInfo, error)
	DeleteQueue(queue string, force bool) error
}

// PruneStaleQueues 删除以 prefix 开头、且没有任何存活 Worker 消费的队列，own 除外。
// 进程退出后留在这些队列里的清理任务永远不会被执行。返回删除的队列数。
func PruneStaleQueues(inspector QueueInspector, prefix, own string) (int, error) {
	queues, err := inspector.Queues()
	if err != nil {
		return 0, err
	}
	servers, err := inspector.Servers()
	if err != nil {
		return 0, err
	}
	served := map[string]bool{own: true}
	for _, srv := range servers {
		for q := range srv.Queues {
			served[q] = true
		}
	}

	pruned := 0
	for _, q := range queues {
		if !strings.HasPrefix(q, prefix) || served[q] {
			continue
		}
		if err := inspector.DeleteQueue(q, true); err != nil && !errors.Is(err, asynq.ErrQueueNotFound) {
			logrus.WithError(err).WithField("queue", q).Warn("Failed to delete stale sweep queue")
			continue
		}
		logrus.WithField("queue", q).Info("Deleted stale sweep queue")
		pruned++
	}
	return pruned, nil
}
