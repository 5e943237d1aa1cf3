package repository

import (
	"context"
	"io"
	"os"
	"time"
)

// SavedBlob 是写入内容存储后的结果
type SavedBlob struct {
	Filename string // 存储层唯一文件名
	Path     string // 完整路径，写入文件记录
	Size     int64
	Mimetype string // 上传方声明或嗅探得到的 MIME 类型
}

// ContentStore 定义了上传文件原始字节的存储操作（文件系统类介质）。
type ContentStore interface {
	// Save 写入一个新的 blob，storageName 由调用方生成并保证唯一。
	// declaredMime 为空或为 application/octet-stream 时由实现嗅探。
	Save(ctx context.Context, r io.Reader, storageName, declaredMime string) (*SavedBlob, error)

	// Open 打开 blob 用于读取。不存在时返回 ErrBlobNotFound。
	Open(ctx context.Context, path string) (*os.File, time.Time, error)

	// Delete 删除 blob，已不存在时不返回错误。
	Delete(ctx context.Context, path string) error

	// Purge 删除工作目录中除 keep 之外的所有 blob，返回删除数量。
	Purge(ctx context.Context, keep map[string]bool) (int, error)
}
