package bootstrap

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// 事件分发方式
const (
	EventRelayLocal = "local"
	EventRelayRedis = "redis"
)

// Config 结构体用于存储从环境变量或 .env 文件加载的配置
type Config struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	KeyPrefix     string // Redis Key 前缀

	ServerPort string
	LogLevel   string
	AppEnv     string // development / production

	UploadDir      string
	MaxUploadBytes int64
	RoomTTL        time.Duration
	CacheMaxRooms  int

	SweepInterval time.Duration
	PurgeSchedule string // asynq cron 表达式
	PurgeKeepLive bool

	CORSAllowedOrigin string
	RateLimitMax      int
	RateLimitWindow   time.Duration

	EventRelay          string
	WSMessagesPerSecond float64

	InstanceID string // 清理任务队列名的一部分，重启后保持不变
}

// LoadConfig 从环境变量加载配置。无法解析的值回退到默认值并记录警告。
func LoadConfig() (*Config, error) {
	// 优先加载 .env 文件 (如果存在)
	_ = godotenv.Load()

	cfg := &Config{
		RedisAddr:           envString("REDIS_ADDR", "localhost:6379"),
		RedisPassword:       os.Getenv("REDIS_PASSWORD"),
		RedisDB:             envInt("REDIS_DB", 0),
		KeyPrefix:           envString("REDIS_KEY_PREFIX", "qs:"),
		ServerPort:          envString("SERVER_PORT", "3001"),
		LogLevel:            envString("LOG_LEVEL", "info"),
		AppEnv:              envString("APP_ENV", "development"),
		UploadDir:           envString("UPLOAD_DIR", "uploads"),
		MaxUploadBytes:      int64(envInt("MAX_UPLOAD_BYTES", 100<<20)),
		RoomTTL:             envDuration("ROOM_TTL", time.Hour),
		CacheMaxRooms:       envInt("CACHE_MAX_ROOMS", 10000),
		SweepInterval:       envDuration("SWEEP_INTERVAL", time.Minute),
		PurgeSchedule:       envString("PURGE_SCHEDULE", "@daily"),
		PurgeKeepLive:       envBool("PURGE_KEEP_LIVE", false),
		CORSAllowedOrigin:   envString("CORS_ALLOWED_ORIGIN", "*"),
		RateLimitMax:        envInt("RATE_LIMIT_MAX", 100),
		RateLimitWindow:     envDuration("RATE_LIMIT_WINDOW", time.Second),
		EventRelay:          strings.ToLower(envString("EVENT_RELAY", EventRelayLocal)),
		WSMessagesPerSecond: envFloat("WS_MESSAGES_PER_SECOND", 10),
	}

	cfg.InstanceID = envString("INSTANCE_ID", defaultInstanceID(cfg.ServerPort))

	if _, err := logrus.ParseLevel(cfg.LogLevel); err != nil {
		logrus.Warnf("Invalid LOG_LEVEL '%s', using default 'info'", cfg.LogLevel)
		cfg.LogLevel = "info"
	}
	if cfg.RoomTTL <= 0 {
		return nil, fmt.Errorf("ROOM_TTL must be positive, got %s", cfg.RoomTTL)
	}
	if cfg.SweepInterval <= 0 {
		return nil, fmt.Errorf("SWEEP_INTERVAL must be positive, got %s", cfg.SweepInterval)
	}
	if cfg.RateLimitMax <= 0 || cfg.RateLimitWindow <= 0 {
		return nil, fmt.Errorf("RATE_LIMIT_MAX and RATE_LIMIT_WINDOW must be positive")
	}
	if cfg.EventRelay != EventRelayLocal && cfg.EventRelay != EventRelayRedis {
		return nil, fmt.Errorf("EVENT_RELAY must be %q or %q, got %q", EventRelayLocal, EventRelayRedis, cfg.EventRelay)
	}
	return cfg, nil
}

// defaultInstanceID 为 "{主机名}:{端口}"，同一主机上的多个进程也不会冲突
func defaultInstanceID(port string) string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "localhost"
	}
	return host + ":" + port
}

func envString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		logrus.Warnf("Invalid %s '%s', using default %d", key, v, def)
		return def
	}
	return n
}

func envFloat(key string, def float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		logrus.Warnf("Invalid %s '%s', using default %g", key, v, def)
		return def
	}
	return f
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		logrus.Warnf("Invalid %s '%s', using default %t", key, v, def)
		return def
	}
	return b
}

func envDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		logrus.Warnf("Invalid %s '%s', using default %s", key, v, def)
		return def
	}
	return d
}
