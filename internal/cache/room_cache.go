// Package cache 是进程内的房间缓存，作为持久存储前的读穿透层。
// 缓存中的任何内容都可以随时从存储中重建。
package cache

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/neohum/quick-share/internal/domain"
)

var (
	cacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "qs_room_cache_hits_total",
		Help: "Room cache hits.",
	})
	cacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "qs_room_cache_misses_total",
		Help: "Room cache misses.",
	})
	cacheRetiredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "qs_room_cache_retired_total",
		Help: "Room entries evicted from the cache and handed to the expiry sweep.",
	})
)

// Entry 是一个缓存中的房间。对房间状态的读写都必须经过它的锁，
// 同一房间的修改因此被串行化。
type Entry struct {
	mu   sync.Mutex
	code string
	room *domain.Room
}

// Code 返回房间码
func (e *Entry) Code() string { return e.code }

// Update 在持有房间锁的情况下执行 fn
func (e *Entry) Update(fn func(room *domain.Room)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(e.room)
}

// Snapshot 返回房间的副本
func (e *Entry) Snapshot() domain.Room {
	e.mu.Lock()
	defer e.mu.Unlock()
	room := *e.room
	room.Files = e.room.CloneFiles()
	return room
}

// RoomCache 按房间码保存房间状态，带容量上限和过期时间。
// 被淘汰 (过期、超出容量或显式移除) 的条目进入 retired 列表，
// 其中的文件仍要等过期清理按各自的 expiresAt 处理。
type RoomCache struct {
	mu  sync.Mutex // 保证 Load 的检查和写入是原子的
	lru *expirable.LRU[string, *Entry]

	retiredMu sync.Mutex
	retired   []*Entry
}

// NewRoomCache 创建缓存。maxRooms 为 0 表示不限制数量。
func NewRoomCache(maxRooms int, ttl time.Duration) *RoomCache {
	c := &RoomCache{}
	c.lru = expirable.NewLRU[string, *Entry](maxRooms, c.retire, ttl)
	return c
}

// retire 是 LRU 的淘汰回调，调用时持有 LRU 的锁，这里不能再碰 Entry 的锁
func (c *RoomCache) retire(_ string, e *Entry) {
	c.retiredMu.Lock()
	c.retired = append(c.retired, e)
	c.retiredMu.Unlock()
	cacheRetiredTotal.Inc()
}

// TakeRetired 取出并清空已淘汰的条目
func (c *RoomCache) TakeRetired() []*Entry {
	c.retiredMu.Lock()
	defer c.retiredMu.Unlock()
	out := c.retired
	c.retired = nil
	return out
}

// Retain 把仍有未过期文件的已淘汰条目放回 retired 列表
func (c *RoomCache) Retain(entries ...*Entry) {
	if len(entries) == 0 {
		return
	}
	c.retiredMu.Lock()
	c.retired = append(c.retired, entries...)
	c.retiredMu.Unlock()
}

// Retired 返回已淘汰条目的副本，不清空列表
func (c *RoomCache) Retired() []*Entry {
	c.retiredMu.Lock()
	defer c.retiredMu.Unlock()
	return append([]*Entry(nil), c.retired...)
}

// Get 按房间码读取
func (c *RoomCache) Get(code string) (*Entry, bool) {
	e, ok := c.lru.Get(code)
	if ok {
		cacheHitsTotal.Inc()
		return e, true
	}
	cacheMissesTotal.Inc()
	return nil, false
}

// Load 返回已有条目；不存在时用 room 新建条目
func (c *RoomCache) Load(room *domain.Room) *Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.lru.Peek(room.Code); ok {
		return e
	}
	e := &Entry{code: room.Code, room: room}
	c.lru.Add(room.Code, e)
	return e
}

// Remove 使某个房间的缓存失效
func (c *RoomCache) Remove(code string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Remove(code)
}

// Entries 返回当前所有未过期的条目
func (c *RoomCache) Entries() []*Entry {
	return c.lru.Values()
}

// Len 返回缓存房间数
func (c *RoomCache) Len() int {
	return c.lru.Len()
}
