package domain

import (
	"path/filepath"
	"strings"
	"time"
)

// DefaultUserName 上传者未填写名字时使用
const DefaultUserName = "anonymous"

// File 是房间内一个上传文件的记录。
type File struct {
	ID           string    `json:"id"`
	OriginalName string    `json:"originalName"`
	Filename     string    `json:"filename"` // 存储层唯一文件名
	Path         string    `json:"path"`
	Size         int64     `json:"size"`
	Mimetype     string    `json:"mimetype"`
	UploadedAt   time.Time `json:"uploadedAt"`
	ExpiresAt    time.Time `json:"expiresAt"`
	UserName     string    `json:"userName"`

	// raw 是该记录在存储列表中的原始序列化内容，删除时按原文 LREM
	raw string
}

// Raw 返回记录在存储中的原始 JSON（可能为空）
func (f File) Raw() string { return f.raw }

// WithRaw 返回带有原始序列化内容的副本
func (f File) WithRaw(raw string) File {
	f.raw = raw
	return f
}

// Expired 判断文件在 now 时刻是否已过期
func (f File) Expired(now time.Time) bool {
	return !f.ExpiresAt.IsZero() && !now.Before(f.ExpiresAt)
}

// Summary 转换为批量下载使用的摘要
func (f File) Summary() FileSummary {
	userName := f.UserName
	if userName == "" {
		userName = DefaultUserName
	}
	return FileSummary{
		ID:           f.ID,
		OriginalName: f.OriginalName,
		Filename:     f.Filename,
		Size:         f.Size,
		Mimetype:     f.Mimetype,
		UserName:     userName,
	}
}

// FileSummary 是批量下载列表中的一项
type FileSummary struct {
	ID           string `json:"id"`
	OriginalName string `json:"originalName"`
	Filename     string `json:"filename"`
	Size         int64  `json:"size"`
	Mimetype     string `json:"mimetype"`
	UserName     string `json:"userName"`
}

// DedupeByFilename 按存储文件名去重，保留第一次出现的记录
func DedupeByFilename(files []File) []File {
	seen := make(map[string]struct{}, len(files))
	out := make([]File, 0, len(files))
	for _, f := range files {
		if _, ok := seen[f.Filename]; ok {
			continue
		}
		seen[f.Filename] = struct{}{}
		out = append(out, f)
	}
	return out
}

// 文档类型提示
const (
	DocumentOffice = "office"
	DocumentPDF    = "pdf"
	DocumentImage  = "image"
	DocumentVideo  = "video"
	DocumentAudio  = "audio"
	DocumentText   = "text"
	DocumentOther  = "other"
)

var officeExtensions = map[string]bool{
	".doc": true, ".docx": true, ".xls": true, ".xlsx": true,
	".ppt": true, ".pptx": true, ".odt": true, ".ods": true,
	".odp": true, ".hwp": true, ".hwpx": true, ".rtf": true,
}

// DocumentTypeOf 根据扩展名和 MIME 类型给出文档类型提示
func DocumentTypeOf(f File) string {
	ext := strings.ToLower(filepath.Ext(f.OriginalName))
	if officeExtensions[ext] {
		return DocumentOffice
	}
	mt := strings.ToLower(f.Mimetype)
	switch {
	case ext == ".pdf" || mt == "application/pdf":
		return DocumentPDF
	case strings.HasPrefix(mt, "image/"):
		return DocumentImage
	case strings.HasPrefix(mt, "video/"):
		return DocumentVideo
	case strings.HasPrefix(mt, "audio/"):
		return DocumentAudio
	case strings.HasPrefix(mt, "text/"):
		return DocumentText
	}
	return DocumentOther
}
