package service_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/charmap"

	"github.com/neohum/quick-share/internal/cache"
	"github.com/neohum/quick-share/internal/domain"
	"github.com/neohum/quick-share/internal/repository"
	"github.com/neohum/quick-share/internal/service"
)

var pdfBytes = []byte("%PDF-1.4\n1 0 obj\n<< /Type /Catalog >>\nendobj\ntrailer\n%%EOF\n")

func upload(t *testing.T, env *testEnv, code, name string, content []byte) *domain.File {
	t.Helper()
	f, err := env.files.AddFile(context.Background(), code, service.Upload{
		Content:  bytes.NewReader(content),
		Filename: name,
		UserName: "tester",
	})
	require.NoError(t, err)
	return f
}

// 完整流程：创建 → 加入 → 上传韩文文件名 → 列表 → 删除 → 空房间批量下载
func TestFileService_RoomScenario(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	created, err := env.rooms.CreateOrJoinRoom(ctx, "")
	require.NoError(t, err)
	code := created.Code

	joined, err := env.rooms.CreateOrJoinRoom(ctx, code)
	require.NoError(t, err)
	assert.Equal(t, code, joined.Code)
	assert.True(t, joined.Joined)

	// 浏览器按 latin1 解码了 UTF-8 文件名
	mangled, err := charmap.ISO8859_1.NewDecoder().String("보고서.pdf")
	require.NoError(t, err)
	require.NotEqual(t, "보고서.pdf", mangled)

	file, err := env.files.AddFile(ctx, code, service.Upload{
		Content:    bytes.NewReader(pdfBytes),
		Filename:   mangled,
		UploaderID: "client-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "보고서.pdf", file.OriginalName)
	assert.Contains(t, file.Filename, "보고서.pdf")
	assert.Equal(t, "application/pdf", file.Mimetype)
	assert.Equal(t, int64(len(pdfBytes)), file.Size)
	assert.Equal(t, domain.DefaultUserName, file.UserName)
	assert.WithinDuration(t, file.UploadedAt.Add(testWindow), file.ExpiresAt, time.Millisecond)

	uploaded := env.publisher.Events(domain.EventFileUploaded)
	require.Len(t, uploaded, 1)
	assert.Equal(t, code, uploaded[0].Room)
	payload := uploaded[0].Payload.(domain.FileUploadedPayload)
	assert.Equal(t, file.ID, payload.File.ID)
	assert.Equal(t, "client-1", payload.UploaderID)

	files, err := env.files.ListFiles(ctx, code)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, file.ID, files[0].ID)

	require.NoError(t, env.files.RemoveFile(ctx, code, file.ID))
	deleted := env.publisher.Events(domain.EventFileDeleted)
	require.Len(t, deleted, 1)
	assert.Equal(t, domain.FileDeletedPayload{ID: file.ID, Filename: file.Filename}, deleted[0].Payload)

	files, err = env.files.ListFiles(ctx, code)
	require.NoError(t, err)
	assert.Empty(t, files)

	_, err = env.files.ListForBulkDownload(ctx, code)
	assert.ErrorIs(t, err, service.ErrEmptyRoom)
}

func TestFileService_AddFilePrependsMostRecent(t *testing.T) {
	env := newTestEnv(t)
	code := env.createRoom(t)

	first := upload(t, env, code, "a.txt", []byte("a"))
	second := upload(t, env, code, "b.txt", []byte("b"))

	files, err := env.files.ListFiles(context.Background(), code)
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, second.ID, files[0].ID)
	assert.Equal(t, first.ID, files[1].ID)
	assert.Equal(t, "tester", files[0].UserName)

	assert.Equal(t, testWindow, env.mr.TTL("qs:room:"+code+":files"))
}

func TestFileService_AddFileMissingUpload(t *testing.T) {
	env := newTestEnv(t)
	code := env.createRoom(t)

	_, err := env.files.AddFile(context.Background(), code, service.Upload{Filename: "x.txt"})
	assert.ErrorIs(t, err, service.ErrMissingUpload)
}

func TestFileService_AddFileUnknownRoomLeavesNoBlob(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.files.AddFile(context.Background(), "111111", service.Upload{
		Content:  bytes.NewReader([]byte("orphan")),
		Filename: "orphan.txt",
	})
	assert.ErrorIs(t, err, service.ErrRoomNotFound)

	entries, err := os.ReadDir(env.content.Dir())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestFileService_ListFilesDedupesByStorageName(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	code := env.createRoom(t)

	now := time.Now()
	older := domain.File{ID: "older", Filename: "1-2-same.txt", OriginalName: "same.txt", Size: 3, UploadedAt: now}
	newer := domain.File{ID: "newer", Filename: "1-2-same.txt", OriginalName: "same.txt", Size: 5, UploadedAt: now}
	require.NoError(t, env.store.PushFile(ctx, code, older, testWindow))
	require.NoError(t, env.store.PushFile(ctx, code, newer, testWindow))

	files, err := env.files.ListFiles(ctx, code)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "newer", files[0].ID)

	entry, ok := env.cache.Get(code)
	require.True(t, ok)
	assert.Len(t, entry.Snapshot().Files, 1, "deduplicated list is written back to the cache")
}

func TestFileService_ListFilesDropsCorruptEntries(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	code := env.createRoom(t)
	good := upload(t, env, code, "good.txt", []byte("ok"))

	_, err := env.mr.Lpush("qs:room:"+code+":files", "{not json")
	require.NoError(t, err)

	files, err := env.files.ListFiles(ctx, code)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, good.ID, files[0].ID)
}

func TestFileService_RemoveFileTwiceIsNotFound(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	code := env.createRoom(t)
	file := upload(t, env, code, "gone.txt", []byte("bye"))

	require.NoError(t, env.files.RemoveFile(ctx, code, file.ID))
	assert.NoFileExists(t, file.Path)
	assert.Equal(t, 0, listLen(t, env, code))

	err := env.files.RemoveFile(ctx, code, file.ID)
	assert.ErrorIs(t, err, service.ErrFileNotFound)
}

func TestFileService_RemoveFileUnknownRoom(t *testing.T) {
	env := newTestEnv(t)

	err := env.files.RemoveFile(context.Background(), "222222", "whatever")
	assert.ErrorIs(t, err, service.ErrRoomNotFound)
}

func TestFileService_RemoveFileBlobDeleteIsBestEffort(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	code := env.createRoom(t)

	content := new(MockContentStore)
	content.On("Save", mock.Anything, mock.Anything, mock.AnythingOfType("string"), "").
		Return(&repository.SavedBlob{Filename: "1-1-doc.txt", Path: "/blobs/1-1-doc.txt", Size: 3, Mimetype: "text/plain"}, nil).
		Once()
	content.On("Delete", mock.Anything, "/blobs/1-1-doc.txt").
		Return(errors.New("disk on fire")).
		Once()

	files := service.NewFileService(env.rooms, env.store, content, env.publisher)
	file, err := files.AddFile(ctx, code, service.Upload{Content: bytes.NewReader([]byte("doc")), Filename: "doc.txt"})
	require.NoError(t, err)

	require.NoError(t, files.RemoveFile(ctx, code, file.ID))
	assert.Equal(t, 0, listLen(t, env, code))
	assert.Len(t, env.publisher.Events(domain.EventFileDeleted), 1)
	content.AssertExpectations(t)
}

func TestFileService_OpenFileBroadcastsDocumentHint(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	code := env.createRoom(t)
	file := upload(t, env, code, "plan.docx", []byte("PK fake docx"))

	require.NoError(t, env.files.OpenFile(ctx, code, file.ID, "viewer-7"))

	opened := env.publisher.Events(domain.EventOpenDocument)
	require.Len(t, opened, 1)
	payload := opened[0].Payload.(domain.OpenDocumentPayload)
	assert.Equal(t, "viewer-7", payload.UserID)
	assert.Equal(t, file.ID, payload.ID)
	assert.Equal(t, "plan.docx", payload.OriginalName)
	assert.Equal(t, domain.DocumentOffice, payload.DocumentType)
	assert.True(t, payload.IsOfficeDocument)

	err := env.files.OpenFile(ctx, code, "nope", "viewer-7")
	assert.ErrorIs(t, err, service.ErrFileNotFound)
}

func TestFileService_ListForBulkDownload(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.files.ListForBulkDownload(ctx, "333333")
	assert.ErrorIs(t, err, service.ErrRoomNotFound)

	code := env.createRoom(t)
	_, err = env.files.ListForBulkDownload(ctx, code)
	assert.ErrorIs(t, err, service.ErrEmptyRoom)

	file := upload(t, env, code, "one.txt", []byte("1"))
	summaries, err := env.files.ListForBulkDownload(ctx, code)
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, file.Summary(), summaries[0])
}

func TestFileService_DownloadFile(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	code := env.createRoom(t)
	file := upload(t, env, code, "data.bin", []byte("payload"))

	dl, err := env.files.DownloadFile(ctx, code, file.ID)
	require.NoError(t, err)
	defer dl.Content.Close()
	body, err := io.ReadAll(dl.Content)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(body))
	assert.Equal(t, "data.bin", dl.File.OriginalName)

	_, err = env.files.DownloadFile(ctx, code, "missing")
	assert.ErrorIs(t, err, service.ErrFileNotFound)
}

func TestFileService_DownloadFileWithTamperedBlobIsNotFound(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	code := env.createRoom(t)
	file := upload(t, env, code, "vanish.txt", []byte("now you see me"))

	require.NoError(t, os.Remove(file.Path))

	dl, err := env.files.DownloadFile(ctx, code, file.ID)
	assert.ErrorIs(t, err, service.ErrFileNotFound)
	assert.Nil(t, dl)
}

func TestFileService_ConcurrentUploadsAreAllRecorded(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	code := env.createRoom(t)

	const n = 20
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			_, err := env.files.AddFile(ctx, code, service.Upload{
				Content:  bytes.NewReader([]byte("x")),
				Filename: "same.txt",
			})
			errs <- err
		}()
	}
	for i := 0; i < n; i++ {
		require.NoError(t, <-errs)
	}

	entry, ok := env.cache.Get(code)
	require.True(t, ok)
	assert.Len(t, entry.Snapshot().Files, n)

	files, err := env.files.ListFiles(ctx, code)
	require.NoError(t, err)
	assert.Len(t, files, n)
}

func TestNewFileService_PanicsWithoutDependencies(t *testing.T) {
	env := newTestEnv(t)
	assert.Panics(t, func() { service.NewFileService(nil, env.store, env.content, nil) })
	assert.Panics(t, func() { service.NewRoomService(nil, cache.NewRoomCache(1, time.Minute), time.Hour) })
}

func TestFileService_AddFileWithLongKoreanName(t *testing.T) {
	env := newTestEnv(t)
	code := env.createRoom(t)
	name := strings.Repeat("보", 80) + ".pdf"

	f := upload(t, env, code, name, pdfBytes)
	assert.Equal(t, name, f.OriginalName)
	assert.Less(t, len(filepath.Base(f.Path)), 255)
	assert.True(t, strings.HasSuffix(f.Filename, ".pdf"))
	assert.FileExists(t, f.Path)
}
