package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/neohum/quick-share/internal/cache"
	httpHandler "github.com/neohum/quick-share/internal/handler/http"
	wsHandler "github.com/neohum/quick-share/internal/handler/websocket"
	"github.com/neohum/quick-share/internal/hub"
	"github.com/neohum/quick-share/internal/infra/content/disk"
	"github.com/neohum/quick-share/internal/infra/setup"
	redisstate "github.com/neohum/quick-share/internal/infra/state/redis"
	"github.com/neohum/quick-share/internal/middleware"
	"github.com/neohum/quick-share/internal/service"
	"github.com/neohum/quick-share/internal/tasks"
	"github.com/neohum/quick-share/internal/worker"
)

// App 结构体包含应用的所有组件和配置
type App struct {
	Config       *Config
	Log          *logrus.Logger
	RedisClient  *redis.Client
	Hub          *hub.Hub
	Relay        *hub.RedisRelay // EVENT_RELAY=redis 时非空
	Sweeper      *service.SweepService
	WorkerServer *worker.WorkerServer
	Scheduler    *asynq.Scheduler
	HttpServer   *http.Server

	redisClientOpt asynq.RedisClientOpt
	queue          string // 本进程的清理任务队列
	cancel         context.CancelFunc
}

// NewLogger 按配置初始化全局 logrus，各个包都通过它记录日志
func NewLogger(cfg *Config) *logrus.Logger {
	log := logrus.StandardLogger()
	if cfg.AppEnv == "production" {
		log.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, ForceColors: true})
	}
	logLevel, _ := logrus.ParseLevel(cfg.LogLevel) // cfg.LogLevel 已被 LoadConfig 验证
	log.SetLevel(logLevel)
	log.SetOutput(os.Stdout)
	return log
}

// NewApp 创建并初始化应用的所有组件
func NewApp() (*App, error) {
	// 1. 加载配置
	cfg, err := LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return nil, err
	}

	// 2. 初始化 Logger
	log := NewLogger(cfg)
	log.Infof("Logger initialized (Level: %s, Format: %T)", log.GetLevel().String(), log.Formatter)

	// 3. 初始化基础设施
	log.Info("Initializing infrastructure...")
	redisClient, err := setup.InitRedis(context.Background(), cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return nil, fmt.Errorf("failed to init Redis: %w", err)
	}
	contentStore, err := disk.NewContentStore(cfg.UploadDir)
	if err != nil {
		_ = redisClient.Close()
		return nil, fmt.Errorf("failed to init content store: %w", err)
	}
	log.WithField("dir", contentStore.Dir()).Info("Content store initialized")

	redisClientOpt := asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}

	// 4. 初始化 Repositories 和缓存
	stateRepo := redisstate.NewRedisStateRepository(redisClient, cfg.KeyPrefix)
	roomCache := cache.NewRoomCache(cfg.CacheMaxRooms, cfg.RoomTTL)

	// 5. 初始化 Hub (Services 通过它广播)
	roomService := service.NewRoomService(stateRepo, roomCache, cfg.RoomTTL)
	hubInstance := hub.NewHub(func(ctx context.Context, code string) error {
		_, err := roomService.JoinRoom(ctx, code)
		return err
	}, cfg.WSMessagesPerSecond)

	var relay *hub.RedisRelay
	if cfg.EventRelay == EventRelayRedis {
		relay = hub.NewRedisRelay(redisClient, cfg.KeyPrefix)
		hubInstance.SetRelay(relay)
		log.WithField("channel", relay.Channel()).Info("Redis event relay enabled")
	}

	// 6. 初始化 Services
	fileService := service.NewFileService(roomService, stateRepo, contentStore, hubInstance)
	sweeper := service.NewSweepService(roomCache, stateRepo, contentStore, hubInstance, cfg.PurgeKeepLive)
	log.Info("Services initialized")

	// 7. 初始化 Worker Server 和 Scheduler
	queue := tasks.InstanceQueue(cfg.InstanceID)
	workerServer := worker.NewWorkerServer(redisClientOpt, queue, worker.NewSweepHandler(sweeper), log)
	scheduler := asynq.NewScheduler(redisClientOpt, &asynq.SchedulerOpts{
		Logger: log.WithField("component", "scheduler"),
	})

	// 8. 初始化 Gin Engine 和路由
	if cfg.AppEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}
	router := NewRouter(cfg, log, redisClient,
		httpHandler.NewRoomHandler(roomService),
		httpHandler.NewFileHandler(fileService, cfg.MaxUploadBytes),
		wsHandler.NewWebSocketHandler(hubInstance, cfg.CORSAllowedOrigin),
	)

	httpServer := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	app := &App{
		Config:       cfg,
		Log:          log,
		RedisClient:  redisClient,
		Hub:          hubInstance,
		Relay:        relay,
		Sweeper:      sweeper,
		WorkerServer: workerServer,
		Scheduler:    scheduler,
		HttpServer:   httpServer,

		redisClientOpt: redisClientOpt,
		queue:          queue,
	}
	log.Info("Application assembled successfully")
	return app, nil
}

// NewRouter 组装 Gin 路由：中间件、/api、/ws、/ping、/metrics
func NewRouter(cfg *Config, log *logrus.Logger, redisClient *redis.Client, rooms *httpHandler.RoomHandler, files *httpHandler.FileHandler, ws *wsHandler.WebSocketHandler) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware(log))
	router.Use(middleware.Metrics())
	router.Use(cors.New(corsConfig(cfg.CORSAllowedOrigin)))

	api := router.Group("/api")
	api.Use(middleware.RateLimit(redisClient, cfg.KeyPrefix, cfg.RateLimitMax, cfg.RateLimitWindow))
	httpHandler.RegisterRoutes(api, rooms, files)

	router.GET("/ws", ws.HandleConnection)
	router.GET("/ping", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"message": "pong"}) })
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return router
}

// corsConfig 下载响应需要暴露 Content-Disposition，前端才能拿到原始文件名
func corsConfig(allowedOrigin string) cors.Config {
	c := cors.Config{
		AllowMethods:  []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization", "X-Requested-With"},
		ExposeHeaders: []string{"Content-Disposition", "Content-Length", "Content-Type"},
		MaxAge:        12 * time.Hour,
	}
	if allowedOrigin == "" || allowedOrigin == "*" {
		c.AllowAllOrigins = true
		return c
	}
	for _, o := range strings.Split(allowedOrigin, ",") {
		if o = strings.TrimSpace(o); o != "" {
			c.AllowOrigins = append(c.AllowOrigins, o)
		}
	}
	c.AllowCredentials = true
	return c
}

// Start 启动应用的所有后台 Goroutine 和 HTTP 服务器
func (a *App) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	go a.Hub.Run()
	a.Log.Info("Hub routine started")

	if a.Relay != nil {
		go func() {
			if err := a.Relay.Run(ctx, a.Hub.Deliver, nil); err != nil {
				a.Log.WithError(err).Error("Event relay stopped with error")
			}
		}()
	}

	// 启动时先做一次过期清理
	a.Sweeper.RunExpirySweep(ctx, time.Now())

	if err := a.WorkerServer.Start(); err != nil {
		return err
	}
	a.Log.Info("Asynq worker server started")
	a.pruneStaleQueues()

	if err := a.registerPeriodicTasks(); err != nil {
		return err
	}

	go func() {
		a.Log.Infof("HTTP server starting to listen on %s", a.HttpServer.Addr)
		if err := a.HttpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Log.Fatalf("Failed to start HTTP server: %v", err)
		}
		a.Log.Info("HTTP server stopped listening.")
	}()
	return nil
}

// pruneStaleQueues 删除已退出进程留下的清理队列，失败只记录日志
func (a *App) pruneStaleQueues() {
	inspector := asynq.NewInspector(a.redisClientOpt)
	defer inspector.Close()
	pruned, err := worker.PruneStaleQueues(inspector, tasks.InstanceQueuePrefix, a.queue)
	if err != nil {
		a.Log.WithError(err).Warn("Could not prune stale sweep queues")
		return
	}
	if pruned > 0 {
		a.Log.Infof("Pruned %d stale sweep queue(s)", pruned)
	}
}

func (a *App) registerPeriodicTasks() error {
	sweepSchedule := "@every " + a.Config.SweepInterval.String()
	entryID, err := a.Scheduler.Register(sweepSchedule, tasks.NewExpirySweepTask(a.queue))
	if err != nil {
		return fmt.Errorf("could not register expiry sweep task: %w", err)
	}
	a.Log.Infof("Expiry sweep task registered with schedule '%s' (EntryID: %s)", sweepSchedule, entryID)

	entryID, err = a.Scheduler.Register(a.Config.PurgeSchedule, tasks.NewContentPurgeTask(a.queue))
	if err != nil {
		return fmt.Errorf("could not register content purge task: %w", err)
	}
	a.Log.Infof("Content purge task registered with schedule '%s' (EntryID: %s, keep_live: %t)",
		a.Config.PurgeSchedule, entryID, a.Config.PurgeKeepLive)

	if err := a.Scheduler.Start(); err != nil {
		return fmt.Errorf("could not start scheduler: %w", err)
	}
	a.Log.Info("Asynq scheduler started")
	return nil
}

// Shutdown 优雅地关闭应用
func (a *App) Shutdown() {
	a.Log.Info("Shutting down application...")

	// 1. 先停止接收新请求
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.HttpServer.Shutdown(ctx); err != nil {
		a.Log.Errorf("Error shutting down HTTP server: %v", err)
	} else {
		a.Log.Info("HTTP server shut down gracefully.")
	}

	// 2. 停止调度和 Worker
	if a.Scheduler != nil {
		a.Scheduler.Shutdown()
		a.Log.Info("Asynq scheduler stopped.")
	}
	if a.WorkerServer != nil {
		a.WorkerServer.Shutdown()
	}

	// 3. 停止 Relay 和 Hub
	if a.cancel != nil {
		a.cancel()
	}
	if a.Hub != nil {
		a.Hub.Stop()
	}

	// 4. 关闭 Redis 连接
	if a.RedisClient != nil {
		if err := a.RedisClient.Close(); err != nil {
			a.Log.Errorf("Error closing Redis connection: %v", err)
		} else {
			a.Log.Info("Redis connection closed.")
		}
	}

	a.Log.Info("Application shutdown complete.")
}

// LoggerMiddleware 创建一个 Gin 中间件用于记录请求日志
func LoggerMiddleware(log *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()
		c.Next()
		latency := time.Since(startTime)
		statusCode := c.Writer.Status()
		path := c.Request.URL.Path
		if c.Request.URL.RawQuery != "" {
			path = path + "?" + c.Request.URL.RawQuery
		}
		errorMessage := c.Errors.ByType(gin.ErrorTypePrivate).String()

		entry := log.WithFields(logrus.Fields{
			"status_code": statusCode,
			"latency_ms":  latency.Milliseconds(),
			"client_ip":   c.ClientIP(),
			"method":      c.Request.Method,
			"path":        path,
		})

		switch {
		case errorMessage != "":
			entry.Error(errorMessage)
		case statusCode >= 500:
			entry.Error("Server error")
		case statusCode >= 400:
			entry.Warn("Client error")
		default:
			entry.Info("Request handled")
		}
	}
}
