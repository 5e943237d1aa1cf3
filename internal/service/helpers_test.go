package service_test

import (
	"context"
	"io"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/neohum/quick-share/internal/cache"
	"github.com/neohum/quick-share/internal/infra/content/disk"
	redisstate "github.com/neohum/quick-share/internal/infra/state/redis"
	"github.com/neohum/quick-share/internal/repository"
	"github.com/neohum/quick-share/internal/service"
)

const testWindow = time.Hour

// publishedEvent 记录一次 Publish 调用
type publishedEvent struct {
	Room    string
	Event   string
	Payload interface{}
}

// recordingPublisher 记录所有广播，用于断言
type recordingPublisher struct {
	mu     sync.Mutex
	events []publishedEvent
}

func (p *recordingPublisher) Publish(roomCode, event string, payload interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, publishedEvent{Room: roomCode, Event: event, Payload: payload})
}

func (p *recordingPublisher) Events(name string) []publishedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []publishedEvent
	for _, e := range p.events {
		if e.Event == name {
			out = append(out, e)
		}
	}
	return out
}

// testEnv 把真实的 Redis 存储 (miniredis)、磁盘内容存储和缓存组装起来
type testEnv struct {
	mr        *miniredis.Miniredis
	store     *redisstate.RedisStateRepository
	content   *disk.ContentStore
	cache     *cache.RoomCache
	publisher *recordingPublisher
	rooms     *service.RoomService
	files     *service.FileService
	sweeper   *service.SweepService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWithWindow(t, testWindow)
}

// newTestEnvWithWindow 和 bootstrap 一样，缓存过期时间等于房间窗口
func newTestEnvWithWindow(t *testing.T, window time.Duration) *testEnv {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	content, err := disk.NewContentStore(t.TempDir())
	require.NoError(t, err)

	env := &testEnv{
		mr:        mr,
		store:     redisstate.NewRedisStateRepository(client, "qs:"),
		content:   content,
		cache:     cache.NewRoomCache(100, window),
		publisher: &recordingPublisher{},
	}
	env.rooms = service.NewRoomService(env.store, env.cache, window)
	env.files = service.NewFileService(env.rooms, env.store, env.content, env.publisher)
	env.sweeper = service.NewSweepService(env.cache, env.store, env.content, env.publisher, false)
	return env
}

func (e *testEnv) createRoom(t *testing.T) string {
	t.Helper()
	res, err := e.rooms.CreateOrJoinRoom(context.Background(), "")
	require.NoError(t, err)
	return res.Code
}

// MockContentStore 是 repository.ContentStore 的 testify mock
type MockContentStore struct {
	mock.Mock
}

var _ repository.ContentStore = (*MockContentStore)(nil)

func (m *MockContentStore) Save(ctx context.Context, r io.Reader, storageName, declaredMime string) (*repository.SavedBlob, error) {
	args := m.Called(ctx, r, storageName, declaredMime)
	blob, _ := args.Get(0).(*repository.SavedBlob)
	return blob, args.Error(1)
}

func (m *MockContentStore) Open(ctx context.Context, path string) (*os.File, time.Time, error) {
	args := m.Called(ctx, path)
	f, _ := args.Get(0).(*os.File)
	return f, args.Get(1).(time.Time), args.Error(2)
}

func (m *MockContentStore) Delete(ctx context.Context, path string) error {
	return m.Called(ctx, path).Error(0)
}

func (m *MockContentStore) Purge(ctx context.Context, keep map[string]bool) (int, error) {
	args := m.Called(ctx, keep)
	return args.Int(0), args.Error(1)
}
