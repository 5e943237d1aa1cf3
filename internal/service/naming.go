package service

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

const base36Alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// 存储文件名中原始文件名部分的字节上限。
// 前缀最多 24 字节，内容存储写入时再加 ".tmp"，总长远小于 255 字节。
const (
	maxStoredNameBytes = 180
	maxExtBytes        = 32
)

// randomInt 返回 [0, max) 内的随机数
func randomInt(max int64) (int64, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(max))
	if err != nil {
		return 0, fmt.Errorf("failed to generate random number: %w", err)
	}
	return n.Int64(), nil
}

// randomRoomCode 生成 100000-999999 之间的房间码
func randomRoomCode() (string, error) {
	n, err := randomInt(900000)
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(100000+n, 10), nil
}

// newFileID 由创建时间 (base36) 加 5 位随机字符组成
func newFileID(now time.Time) (string, error) {
	var sb strings.Builder
	sb.WriteString(strconv.FormatInt(now.UnixMilli(), 36))
	for i := 0; i < 5; i++ {
		n, err := randomInt(int64(len(base36Alphabet)))
		if err != nil {
			return "", err
		}
		sb.WriteByte(base36Alphabet[n])
	}
	return sb.String(), nil
}

// newStorageName 生成 "{毫秒时间戳}-{随机数}-{原始文件名}" 形式的存储文件名。
// 原始文件名过长时截断，记录中的 originalName 不受影响。
func newStorageName(now time.Time, originalName string) (string, error) {
	n, err := randomInt(1_000_000_000)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d-%d-%s", now.UnixMilli(), n, truncateFilename(originalName, maxStoredNameBytes)), nil
}

// truncateFilename 按 UTF-8 字符边界把文件名截到 max 字节以内，保留扩展名
func truncateFilename(name string, max int) string {
	if len(name) <= max {
		return name
	}
	ext := filepath.Ext(name)
	if len(ext) > maxExtBytes || len(ext) >= max || ext == name {
		ext = ""
	}
	base := strings.TrimSuffix(name, ext)
	for len(base) > max-len(ext) {
		_, size := utf8.DecodeLastRuneInString(base)
		base = base[:len(base)-size]
	}
	return base + ext
}

// DecodeFilename 修复被按单字节 (latin1) 解码的 UTF-8 文件名，并去掉路径部分。
// 只有所有字符都在 U+00FF 以内、且按 latin1 还原后是合法 UTF-8 时才转换。
func DecodeFilename(name string) string {
	name = sanitizeFilename(name)
	hasHigh := false
	for _, r := range name {
		if r > 0xFF {
			return name
		}
		if r >= 0x80 {
			hasHigh = true
		}
	}
	if !hasHigh {
		return name
	}
	raw, err := charmap.ISO8859_1.NewEncoder().String(name)
	if err != nil || !utf8.ValidString(raw) {
		return name
	}
	return raw
}

func sanitizeFilename(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = filepath.Base("/" + name)
	name = strings.TrimSpace(name)
	if name == "/" || name == "." || name == ".." || name == "" {
		return "file"
	}
	return name
}
