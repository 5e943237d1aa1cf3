// Package disk 在本地文件系统上保存上传文件的原始字节。
package disk

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/sirupsen/logrus"

	"github.com/neohum/quick-share/internal/repository"
)

const tmpSuffix = ".tmp"

// ContentStore 是 repository.ContentStore 的磁盘实现
type ContentStore struct {
	dir string
}

var _ repository.ContentStore = (*ContentStore)(nil)

// NewContentStore 创建 ContentStore，目录不存在时自动创建
func NewContentStore(dir string) (*ContentStore, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("disk: failed to create upload dir %s: %w", dir, err)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("disk: failed to resolve upload dir %s: %w", dir, err)
	}
	return &ContentStore{dir: abs}, nil
}

// Dir 返回工作目录
func (s *ContentStore) Dir() string { return s.dir }

// Save 先写临时文件，fsync 后原子 rename
func (s *ContentStore) Save(ctx context.Context, r io.Reader, storageName, declaredMime string) (*repository.SavedBlob, error) {
	if storageName == "" || storageName != filepath.Base(storageName) {
		return nil, fmt.Errorf("disk: invalid storage name %q", storageName)
	}
	fullPath := filepath.Join(s.dir, storageName)
	tmpPath := fullPath + tmpSuffix

	f, err := os.Create(tmpPath)
	if err != nil {
		return nil, fmt.Errorf("disk: failed to create temp file %s: %w", tmpPath, err)
	}
	size, err := io.Copy(f, r)
	if err != nil {
		f.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("disk: failed to write %s: %w", tmpPath, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("disk: failed to sync %s: %w", tmpPath, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("disk: failed to close %s: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, fullPath); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("disk: failed to rename %s: %w", tmpPath, err)
	}

	mt := declaredMime
	if mt == "" || mt == "application/octet-stream" {
		if detected, err := mimetype.DetectFile(fullPath); err == nil {
			mt = detected.String()
		} else {
			logrus.WithField("path", fullPath).WithError(err).Debug("disk: mime detection failed")
			mt = "application/octet-stream"
		}
	}

	return &repository.SavedBlob{
		Filename: storageName,
		Path:     fullPath,
		Size:     size,
		Mimetype: mt,
	}, nil
}

// Open 打开 blob，路径必须位于工作目录内
func (s *ContentStore) Open(ctx context.Context, path string) (*os.File, time.Time, error) {
	if !s.inside(path) {
		return nil, time.Time{}, repository.ErrBlobNotFound
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, time.Time{}, repository.ErrBlobNotFound
		}
		return nil, time.Time{}, fmt.Errorf("disk: failed to open %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, time.Time{}, fmt.Errorf("disk: failed to stat %s: %w", path, err)
	}
	if info.IsDir() {
		f.Close()
		return nil, time.Time{}, repository.ErrBlobNotFound
	}
	return f, info.ModTime(), nil
}

// Delete 删除 blob，文件不存在时视为成功
func (s *ContentStore) Delete(ctx context.Context, path string) error {
	if !s.inside(path) {
		return fmt.Errorf("disk: refusing to delete %s outside %s", path, s.dir)
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("disk: failed to delete %s: %w", path, err)
	}
	return nil
}

// Purge 删除工作目录中的所有普通文件，keep 中的路径除外
func (s *ContentStore) Purge(ctx context.Context, keep map[string]bool) (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("disk: failed to read %s: %w", s.dir, err)
	}
	removed := 0
	var errs []error
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		if !entry.Type().IsRegular() {
			continue
		}
		path := filepath.Join(s.dir, entry.Name())
		if keep[path] {
			continue
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	return removed, errors.Join(errs...)
}

func (s *ContentStore) inside(path string) bool {
	rel, err := filepath.Rel(s.dir, filepath.Clean(path))
	if err != nil {
		return false
	}
	return rel != "." && !strings.HasPrefix(rel, "..") && !filepath.IsAbs(rel)
}
