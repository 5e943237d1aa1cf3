package service

import (
	"context"
	"errors"
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/neohum/quick-share/internal/domain"
	"github.com/neohum/quick-share/internal/repository"
)

// Upload 是一次文件上传的输入
type Upload struct {
	Content    io.Reader
	Filename   string // 客户端提供的原始文件名，可能是 latin1 乱码
	Mimetype   string
	UserName   string
	UploaderID string // 上传者的实时连接 ID，可为空
}

// Download 是下载单个文件时返回的内容句柄，调用方负责关闭 Content
type Download struct {
	File    domain.File
	Content *os.File
	ModTime time.Time
}

// FileService 负责房间内文件的增删查，并把变化写穿到持久存储、广播给房间订阅者。
type FileService struct {
	rooms     *RoomService
	store     repository.RoomStore
	content   repository.ContentStore
	publisher EventPublisher
	now       func() time.Time
}

// NewFileService 创建 FileService 实例
func NewFileService(rooms *RoomService, store repository.RoomStore, content repository.ContentStore, publisher EventPublisher) *FileService {
	if rooms == nil {
		panic("RoomService cannot be nil for FileService")
	}
	if store == nil {
		panic("RoomStore cannot be nil for FileService")
	}
	if content == nil {
		panic("ContentStore cannot be nil for FileService")
	}
	if publisher == nil {
		publisher = noopPublisher{}
	}
	return &FileService{
		rooms:     rooms,
		store:     store,
		content:   content,
		publisher: publisher,
		now:       time.Now,
	}
}

// AddFile 保存上传内容并在房间中登记文件记录。
// 房间不存在或登记失败时，已写入的 blob 会被删除。
func (s *FileService) AddFile(ctx context.Context, code string, up Upload) (*domain.File, error) {
	if up.Content == nil {
		return nil, ErrMissingUpload
	}
	logCtx := logrus.WithFields(logrus.Fields{"room_code": code, "operation": "AddFile"})

	now := s.now()
	originalName := DecodeFilename(up.Filename)
	storageName, err := newStorageName(now, originalName)
	if err != nil {
		return nil, ErrInternalServer
	}
	blob, err := s.content.Save(ctx, up.Content, storageName, up.Mimetype)
	if err != nil {
		logCtx.WithError(err).Error("Failed to write upload to content store")
		return nil, backendError("save upload", err)
	}

	entry, _, err := s.rooms.ResolveRoom(ctx, code)
	if err != nil {
		s.discardBlob(ctx, logCtx, blob.Path)
		return nil, err
	}

	id, err := newFileID(now)
	if err != nil {
		s.discardBlob(ctx, logCtx, blob.Path)
		return nil, ErrInternalServer
	}
	userName := up.UserName
	if userName == "" {
		userName = domain.DefaultUserName
	}
	file := domain.File{
		ID:           id,
		OriginalName: originalName,
		Filename:     blob.Filename,
		Path:         blob.Path,
		Size:         blob.Size,
		Mimetype:     blob.Mimetype,
		UploadedAt:   now,
		ExpiresAt:    now.Add(s.rooms.Window()),
		UserName:     userName,
	}
	logCtx = logCtx.WithField("file_id", file.ID)

	entry.Update(func(room *domain.Room) {
		err = s.store.PushFile(ctx, code, file, s.rooms.Window())
		if err != nil {
			return
		}
		room.Files = append([]domain.File{file}, room.Files...)
	})
	if err != nil {
		logCtx.WithError(err).Error("Failed to push file record to store")
		s.discardBlob(ctx, logCtx, blob.Path)
		return nil, backendError("add file", err)
	}

	s.publisher.Publish(code, domain.EventFileUploaded, domain.FileUploadedPayload{
		File:       file,
		Message:    "A new file was uploaded.",
		UploaderID: up.UploaderID,
	})
	logCtx.WithFields(logrus.Fields{"size": file.Size, "mimetype": file.Mimetype}).Info("File uploaded")
	return &file, nil
}

// ListFiles 从存储读取完整文件列表，去重后写回缓存。
// 这里是文件列表在缓存和存储之间漂移被修复的唯一位置。
func (s *FileService) ListFiles(ctx context.Context, code string) ([]domain.File, error) {
	entry, _, err := s.rooms.ResolveRoom(ctx, code)
	if err != nil {
		return nil, err
	}
	files, err := s.store.ListFiles(ctx, code)
	if err != nil {
		logrus.WithField("room_code", code).WithError(err).Error("Failed to list files from store")
		return nil, backendError("list files", err)
	}
	files = domain.DedupeByFilename(files)

	var out []domain.File
	entry.Update(func(room *domain.Room) {
		room.Files = files
		out = room.CloneFiles()
	})
	return out, nil
}

// RemoveFile 删除一个文件：blob (尽力而为) → 缓存 → 存储列表，然后广播 fileDeleted
func (s *FileService) RemoveFile(ctx context.Context, code, fileID string) error {
	entry, _, err := s.rooms.ResolveRoom(ctx, code)
	if err != nil {
		return err
	}
	logCtx := logrus.WithFields(logrus.Fields{"room_code": code, "file_id": fileID, "operation": "RemoveFile"})

	var (
		file     domain.File
		found    bool
		storeErr error
	)
	entry.Update(func(room *domain.Room) {
		idx := room.FindFile(fileID)
		if idx < 0 {
			return
		}
		found = true
		file = room.Files[idx]

		if err := s.content.Delete(ctx, file.Path); err != nil {
			logCtx.WithError(err).Warn("Failed to delete blob, continuing")
		}
		room.Files = append(room.Files[:idx:idx], room.Files[idx+1:]...)
		_, storeErr = s.store.RemoveFile(ctx, code, file)
	})
	if !found {
		return ErrFileNotFound
	}
	if storeErr != nil {
		logCtx.WithError(storeErr).Error("Failed to remove file record from store")
		return backendError("remove file", storeErr)
	}

	s.publisher.Publish(code, domain.EventFileDeleted, domain.FileDeletedPayload{
		ID:       file.ID,
		Filename: file.Filename,
	})
	logCtx.Info("File deleted")
	return nil
}

// OpenFile 仅广播 openDocument 事件，不修改状态
func (s *FileService) OpenFile(ctx context.Context, code, fileID, requesterID string) error {
	file, err := s.findFile(ctx, code, fileID)
	if err != nil {
		return err
	}
	docType := domain.DocumentTypeOf(file)
	s.publisher.Publish(code, domain.EventOpenDocument, domain.OpenDocumentPayload{
		UserID:           requesterID,
		ID:               file.ID,
		Filename:         file.Filename,
		OriginalName:     file.OriginalName,
		DocumentType:     docType,
		IsOfficeDocument: docType == domain.DocumentOffice,
	})
	return nil
}

// ListForBulkDownload 返回批量下载用的文件摘要；房间没有文件时返回 ErrEmptyRoom
func (s *FileService) ListForBulkDownload(ctx context.Context, code string) ([]domain.FileSummary, error) {
	entry, _, err := s.rooms.ResolveRoom(ctx, code)
	if err != nil {
		return nil, err
	}
	room := entry.Snapshot()
	if len(room.Files) == 0 {
		return nil, ErrEmptyRoom
	}
	out := make([]domain.FileSummary, 0, len(room.Files))
	for _, f := range room.Files {
		out = append(out, f.Summary())
	}
	return out, nil
}

// DownloadFile 打开文件内容。记录或 blob 不存在时返回 ErrFileNotFound。
func (s *FileService) DownloadFile(ctx context.Context, code, fileID string) (*Download, error) {
	file, err := s.findFile(ctx, code, fileID)
	if err != nil {
		return nil, err
	}
	f, modTime, err := s.content.Open(ctx, file.Path)
	if err != nil {
		if errors.Is(err, repository.ErrBlobNotFound) {
			logrus.WithFields(logrus.Fields{"room_code": code, "file_id": fileID, "path": file.Path}).
				Warn("Blob missing from content store")
			return nil, ErrFileNotFound
		}
		return nil, backendError("open file", err)
	}
	return &Download{File: file, Content: f, ModTime: modTime}, nil
}

func (s *FileService) findFile(ctx context.Context, code, fileID string) (domain.File, error) {
	entry, _, err := s.rooms.ResolveRoom(ctx, code)
	if err != nil {
		return domain.File{}, err
	}
	room := entry.Snapshot()
	idx := room.FindFile(fileID)
	if idx < 0 {
		return domain.File{}, ErrFileNotFound
	}
	return room.Files[idx], nil
}

func (s *FileService) discardBlob(ctx context.Context, logCtx *logrus.Entry, path string) {
	if err := s.content.Delete(ctx, path); err != nil {
		logCtx.WithError(err).WithField("path", path).Warn("Failed to discard orphan blob")
	}
}
