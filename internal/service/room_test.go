package service_test

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neohum/quick-share/internal/service"
)

func TestRoomService_CreateRandomRoom(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	res, err := env.rooms.CreateOrJoinRoom(ctx, "")
	require.NoError(t, err)
	assert.Regexp(t, `^\d{6}$`, res.Code)
	assert.False(t, res.Joined)
	assert.Equal(t, testWindow, res.ExpiresIn)

	expiresIn, err := env.rooms.RoomStatus(ctx, res.Code)
	require.NoError(t, err)
	assert.InDelta(t, testWindow.Seconds(), expiresIn.Seconds(), 2)
	assert.True(t, env.mr.Exists("qs:room:"+res.Code+":info"))
}

func TestRoomService_RequestedCodeIsUsedWhenNotLive(t *testing.T) {
	env := newTestEnv(t)

	res, err := env.rooms.CreateOrJoinRoom(context.Background(), "424242")
	require.NoError(t, err)
	assert.Equal(t, "424242", res.Code)
	assert.False(t, res.Joined)
}

func TestRoomService_MalformedRequestedCodeGetsRandomCode(t *testing.T) {
	env := newTestEnv(t)

	res, err := env.rooms.CreateOrJoinRoom(context.Background(), "12ab")
	require.NoError(t, err)
	assert.Regexp(t, `^\d{6}$`, res.Code)
	assert.NotEqual(t, "12ab", res.Code)
}

func TestRoomService_CreateWithLiveCodeJoins(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	code := env.createRoom(t)
	infoBefore, err := env.mr.Get("qs:room:" + code + ":info")
	require.NoError(t, err)

	res, err := env.rooms.CreateOrJoinRoom(ctx, code)
	require.NoError(t, err)
	assert.Equal(t, code, res.Code)
	assert.True(t, res.Joined)

	infoAfter, err := env.mr.Get("qs:room:" + code + ":info")
	require.NoError(t, err)
	assert.Equal(t, infoBefore, infoAfter, "joining must not rewrite room metadata")

	var infoKeys int
	for _, k := range env.mr.Keys() {
		if k == "qs:room:"+code+":info" {
			infoKeys++
		}
	}
	assert.Equal(t, 1, infoKeys)
}

func TestRoomService_ExpiredRoomIsAbsentAndCachePurged(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	code := env.createRoom(t)
	require.Equal(t, 1, env.cache.Len())

	env.mr.FastForward(testWindow + time.Second)

	_, _, err := env.rooms.ResolveRoom(ctx, code)
	assert.ErrorIs(t, err, service.ErrRoomNotFound)
	assert.Equal(t, 0, env.cache.Len(), "stale cache entry should be purged")

	_, err = env.rooms.JoinRoom(ctx, code)
	assert.ErrorIs(t, err, service.ErrRoomNotFound)
}

func TestRoomService_ExpiredCodeCanBeRecreated(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	code := env.createRoom(t)
	env.mr.FastForward(testWindow + time.Second)

	res, err := env.rooms.CreateOrJoinRoom(ctx, code)
	require.NoError(t, err)
	assert.Equal(t, code, res.Code)
	assert.False(t, res.Joined)
}

func TestRoomService_ResolveRejectsMalformedCode(t *testing.T) {
	env := newTestEnv(t)

	for _, code := range []string{"", "12345", "1234567", "abcdef"} {
		_, _, err := env.rooms.ResolveRoom(context.Background(), code)
		assert.ErrorIs(t, err, service.ErrInvalidRoomCode, "code %q", code)
	}
}

func TestRoomService_UnknownRoomNotFound(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.rooms.RoomStatus(context.Background(), "999999")
	assert.ErrorIs(t, err, service.ErrRoomNotFound)
}

func TestRoomService_RebuildsCacheFromStore(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	code := env.createRoom(t)

	added, err := env.files.AddFile(ctx, code, service.Upload{
		Content:  bytes.NewReader([]byte("hello")),
		Filename: "hello.txt",
		Mimetype: "text/plain",
	})
	require.NoError(t, err)

	env.rooms.Invalidate(code)
	require.Equal(t, 0, env.cache.Len())

	entry, _, err := env.rooms.ResolveRoom(ctx, code)
	require.NoError(t, err)
	room := entry.Snapshot()
	require.Len(t, room.Files, 1)
	assert.Equal(t, added.ID, room.Files[0].ID)

	// 重建后仍可按 id 删除
	require.NoError(t, env.files.RemoveFile(ctx, code, added.ID))
	assert.Equal(t, 0, listLen(t, env, code))
}

func TestRoomService_BackendUnavailable(t *testing.T) {
	env := newTestEnv(t)
	env.mr.Close()

	_, _, err := env.rooms.ResolveRoom(context.Background(), "123456")
	assert.ErrorIs(t, err, service.ErrBackendUnavailable)

	_, err = env.rooms.CreateOrJoinRoom(context.Background(), "")
	assert.ErrorIs(t, err, service.ErrBackendUnavailable)
}

func listLen(t *testing.T, env *testEnv, code string) int {
	t.Helper()
	items, err := env.mr.List("qs:room:" + code + ":files")
	if err != nil {
		return 0
	}
	return len(items)
}
