// Package payload 生成上传测速所用的确定性请求体
package payload

import (
	"errors"
	"io"
)

const (
	// Prefix 是每个上传请求体的固定开头
	Prefix = "content1="
	// Alphabet 是前缀之后循环填充的字符表
	Alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"
)

var errNegativeOffset = errors.New("payload: negative offset")

// Source 是长度固定、内容只取决于偏移量的字节流。
// 不会在内存里生成完整的请求体。
type Source struct {
	size int64
	off  int64
}

// New 创建一个总长度为 size 字节的 Source
func New(size int64) *Source {
	if size < 0 {
		size = 0
	}
	return &Source{size: size}
}

// Len 返回总字节数
func (s *Source) Len() int64 { return s.size }

// ByteAt 返回偏移 off 处的字节
func ByteAt(off int64) byte {
	if off < int64(len(Prefix)) {
		return Prefix[off]
	}
	return Alphabet[(off-int64(len(Prefix)))%int64(len(Alphabet))]
}

func (s *Source) Read(p []byte) (int, error) {
	n, err := s.ReadAt(p, s.off)
	s.off += int64(n)
	return n, err
}

// ReadAt 实现 io.ReaderAt
func (s *Source) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, errNegativeOffset
	}
	if off >= s.size {
		return 0, io.EOF
	}
	n := len(p)
	if remain := s.size - off; int64(n) > remain {
		n = int(remain)
	}
	for i := 0; i < n; i++ {
		p[i] = ByteAt(off + int64(i))
	}
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// Seek 实现 io.Seeker，允许 http 客户端在重发时回绕请求体
func (s *Source) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = s.off + offset
	case io.SeekEnd:
		abs = s.size + offset
	default:
		return 0, errors.New("payload: invalid whence")
	}
	if abs < 0 {
		return 0, errNegativeOffset
	}
	s.off = abs
	return abs, nil
}
