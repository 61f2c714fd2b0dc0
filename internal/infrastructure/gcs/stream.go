package gcs

import (
	"fmt"
	"hash"
	"hash/crc32"
	"io"
	"sync"
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// ErrChecksumMismatch 表示读取内容与对象 CRC32C 不一致。
type ErrChecksumMismatch struct {
	Object   string
	Expected uint32
	Actual   uint32
}

func (e *ErrChecksumMismatch) Error() string {
	return fmt.Sprintf("gcs: crc32c mismatch for %s: expected %08x, got %08x", e.Object, e.Expected, e.Actual)
}

// Stream 是可释放的对象读流，Close 幂等。
type Stream struct {
	name   string
	src    io.ReadCloser
	size   int64
	verify bool
	want   uint32
	hash   hash.Hash32

	closeOnce sync.Once
	closeErr  error
}

func newStream(name string, src io.ReadCloser, size int64, want uint32, verify bool) *Stream {
	s := &Stream{name: name, src: src, size: size, verify: verify, want: want}
	if verify {
		s.hash = crc32.New(castagnoli)
	}
	return s
}

// NewStream 用任意 ReadCloser 构造 Stream，便于测试与本地数据源。
func NewStream(name string, src io.ReadCloser, size int64) *Stream {
	return newStream(name, src, size, 0, false)
}

// Name 返回对象名。
func (s *Stream) Name() string { return s.name }

// Size 返回对象大小，未知时为 -1。
func (s *Stream) Size() int64 { return s.size }

// Read 实现 io.Reader；开启校验时在 EOF 处比对 CRC32C。
func (s *Stream) Read(p []byte) (int, error) {
	n, err := s.src.Read(p)
	if s.verify && n > 0 {
		_, _ = s.hash.Write(p[:n])
	}
	if err == io.EOF && s.verify {
		if got := s.hash.Sum32(); got != s.want {
			return n, &ErrChecksumMismatch{Object: s.name, Expected: s.want, Actual: got}
		}
	}
	return n, err
}

// Close 释放底层连接，多次调用只生效一次。
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.src.Close()
	})
	return s.closeErr
}
