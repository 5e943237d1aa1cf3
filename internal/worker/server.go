package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/neohum/quick-share/internal/tasks"
)

// WorkerServer 封装了 Asynq Worker Server 的启动和关闭逻辑
type WorkerServer struct {
	server  *asynq.Server
	log     *logrus.Entry
	handler *SweepHandler
}

// NewWorkerServer 创建一个新的 WorkerServer 实例，只消费 queue 中的任务
func NewWorkerServer(redisOpt asynq.RedisClientOpt, queue string, handler *SweepHandler, logger *logrus.Logger) *WorkerServer {
	if handler == nil {
		panic("SweepHandler cannot be nil for WorkerServer")
	}
	logEntry := logger.WithFields(logrus.Fields{"component": "worker_server", "queue": queue})

	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: 1, // 清理任务之间本来就是串行的
			Queues:      map[string]int{queue: 1},
			Logger:      logEntry,
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				retryCount, _ := asynq.GetRetryCount(ctx)
				maxRetry, _ := asynq.GetMaxRetry(ctx)
				taskLogger(ctx, task).WithFields(logrus.Fields{
					"retries":   retryCount,
					"max_retry": maxRetry,
				}).Errorf("Task failed: %v", err)
			}),
		},
	)

	return &WorkerServer{
		server:  server,
		log:     logEntry,
		handler: handler,
	}
}

// Mux 返回注册了所有任务处理器的 ServeMux
func (ws *WorkerServer) Mux() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(tasks.TypeExpirySweep, ws.handler.ProcessExpirySweep)
	mux.HandleFunc(tasks.TypeContentPurge, ws.handler.ProcessContentPurge)
	return mux
}

// Start 启动 Worker Server 的处理循环，不阻塞
func (ws *WorkerServer) Start() error {
	ws.log.Info("Worker server starting...")
	if err := ws.server.Start(ws.Mux()); err != nil {
		if errors.Is(err, asynq.ErrServerClosed) {
			ws.log.Info("Worker server already stopped.")
			return nil
		}
		return fmt.Errorf("could not start worker server: %w", err)
	}
	return nil
}

// Shutdown 优雅地关闭 Worker Server
func (ws *WorkerServer) Shutdown() {
	ws.log.Info("Shutting down worker server...")
	ws.server.Shutdown()
	ws.log.Info("Worker server shut down complete.")
}
