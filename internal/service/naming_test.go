package service_test

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/charmap"

	"github.com/neohum/quick-share/internal/service"
)

func TestDecodeFilename(t *testing.T) {
	mangled := func(s string) string {
		out, err := charmap.ISO8859_1.NewDecoder().String(s)
		require.NoError(t, err)
		return out
	}

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"ascii unchanged", "report.pdf", "report.pdf"},
		{"utf8 unchanged", "보고서.pdf", "보고서.pdf"},
		{"latin1 mojibake repaired", mangled("보고서.pdf"), "보고서.pdf"},
		{"japanese mojibake repaired", mangled("資料.xlsx"), "資料.xlsx"},
		{"genuine latin1 kept", "café.txt", "café.txt"},
		{"unix path stripped", "../../etc/passwd", "passwd"},
		{"windows path stripped", `C:\Users\me\notes.txt`, "notes.txt"},
		{"empty becomes file", "", "file"},
		{"dot becomes file", ".", "file"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, service.DecodeFilename(tt.in))
		})
	}
}

func TestTruncateFilename(t *testing.T) {
	long := strings.Repeat("보", 80) + ".pdf" // 244 字节

	got := service.TruncateFilename(long, 180)
	assert.LessOrEqual(t, len(got), 180)
	assert.True(t, utf8.ValidString(got))
	assert.True(t, strings.HasSuffix(got, ".pdf"))
	assert.True(t, strings.HasPrefix(long, strings.TrimSuffix(got, ".pdf")))

	assert.Equal(t, "short.txt", service.TruncateFilename("short.txt", 180))

	// 扩展名过长时不保留
	odd := "a." + strings.Repeat("x", 100)
	got = service.TruncateFilename(odd, 40)
	assert.Len(t, got, 40)
	assert.Equal(t, odd[:40], got)
}
