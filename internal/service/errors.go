package service

import (
	"errors"
	"fmt"
)

var (
	ErrRoomNotFound       = errors.New("room not found")
	ErrFileNotFound       = errors.New("file not found")
	ErrInvalidRoomCode    = errors.New("room code must be 6 digits")
	ErrMissingUpload      = errors.New("no file was uploaded")
	ErrEmptyRoom          = errors.New("no files to download")
	ErrBackendUnavailable = errors.New("storage backend unavailable")
	ErrInternalServer     = errors.New("internal server error")
)

// backendError 将存储层错误包装为 ErrBackendUnavailable，保留原始错误链
func backendError(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrBackendUnavailable, err)
}
