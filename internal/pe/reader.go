// Package pe provides read-only access to Portable Executable images: the
// file offset / RVA / VA coordinate spaces, the section table, data
// directories decoded by pluggable content providers, and the resource tree.
package pe

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"os"

	"github.com/edsrzf/mmap-go"
	"github.com/pkg/errors"
	"golang.org/x/exp/constraints"
	"golang.org/x/sync/semaphore"
)

// Source is the single byte source shared by an image and every value
// derived from it. Seek and read are not atomic, so each read holds the
// source exclusively.
type Source struct {
	rs     io.ReadSeeker
	size   int64
	sem    *semaphore.Weighted
	closer func() error
}

// NewSource wraps a seekable reader. The size is taken by seeking to the end.
func NewSource(rs io.ReadSeeker) (*Source, error) {
	size, err := rs.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, errors.Wrap(err, "获取数据源大小失败")
	}
	return &Source{
		rs:   rs,
		size: size,
		sem:  semaphore.NewWeighted(1),
	}, nil
}

// openSource maps the file at path read-only.
func openSource(path string) (*Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "打开PE文件失败")
	}
	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errors.Wrap(err, "获取文件信息失败")
	}
	if stat.Size() < minHeaderSize {
		f.Close()
		return nil, errors.Wrapf(ErrTruncatedInput, "文件大小 %d 字节小于最小PE头", stat.Size())
	}
	m, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, errors.Wrap(err, "映射PE文件失败")
	}
	src, err := NewSource(bytes.NewReader(m))
	if err != nil {
		m.Unmap()
		f.Close()
		return nil, err
	}
	src.closer = func() error {
		if err := m.Unmap(); err != nil {
			f.Close()
			return err
		}
		return f.Close()
	}
	return src, nil
}

// Size returns the total size of the source in bytes.
func (s *Source) Size() int64 {
	return s.size
}

// Close releases the underlying mapping, if the source owns one.
func (s *Source) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer()
}

// ReadAt implements io.ReaderAt. A short read yields ErrTruncatedInput.
func (s *Source) ReadAt(p []byte, off int64) (int, error) {
	// Acquire with a background context never fails.
	_ = s.sem.Acquire(context.Background(), 1)
	defer s.sem.Release(1)
	return s.readLocked(p, off)
}

// ReadContext reads n bytes at off. The calling goroutine waits for the
// read without holding up other work and returns ctx.Err() if the context
// is done first, discarding whatever was read.
func (s *Source) ReadContext(ctx context.Context, off int64, n int) ([]byte, error) {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	type result struct {
		b   []byte
		err error
	}
	done := make(chan result, 1)
	go func() {
		defer s.sem.Release(1)
		b := make([]byte, n)
		_, err := s.readLocked(b, off)
		done <- result{b, err}
	}()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-done:
		if r.err != nil {
			return nil, r.err
		}
		return r.b, nil
	}
}

// Bytes reads n bytes at off.
func (s *Source) Bytes(off int64, n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := s.ReadAt(b, off); err != nil {
		return nil, err
	}
	return b, nil
}

func (s *Source) readLocked(p []byte, off int64) (int, error) {
	if off < 0 || off+int64(len(p)) > s.size {
		return 0, errors.Wrapf(ErrTruncatedInput, "读取 0x%X+%d 超出数据源大小 %d", off, len(p), s.size)
	}
	if _, err := s.rs.Seek(off, io.SeekStart); err != nil {
		return 0, errors.Wrapf(err, "定位偏移 0x%X 失败", off)
	}
	n, err := io.ReadFull(s.rs, p)
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return n, errors.Wrapf(ErrTruncatedInput, "偏移 0x%X 处仅读取 %d/%d 字节", off, n, len(p))
		}
		return n, err
	}
	return n, nil
}

// readStruct decodes a fixed-layout little-endian record at off.
func readStruct[T any, O constraints.Integer](r io.ReaderAt, off O) (*T, error) {
	var t T
	size := binary.Size(t)
	sr := io.NewSectionReader(r, int64(off), int64(size))
	if err := binary.Read(sr, binary.LittleEndian, &t); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, errors.Wrapf(ErrTruncatedInput, "偏移 0x%X 处的 %d 字节结构", int64(off), size)
		}
		return nil, err
	}
	return &t, nil
}

// maxCString bounds names read from string tables.
const maxCString = 256

// readCString reads a NUL-terminated string of at most maxCString bytes.
// A string cut short by the end of input is returned as is.
func readCString(r io.ReaderAt, offset int64) (string, error) {
	size := int64(maxCString)
	if sr, ok := r.(interface{ Size() int64 }); ok {
		size = min(size, sr.Size()-offset)
	}
	if size <= 0 {
		return "", errors.Wrapf(ErrTruncatedInput, "字符串偏移 0x%X 超出数据源", offset)
	}
	buf := make([]byte, size)
	n, err := r.ReadAt(buf, offset)
	if n == 0 && err != nil {
		return "", err
	}
	buf = buf[:n]
	if i := bytes.IndexByte(buf, 0); i >= 0 {
		buf = buf[:i]
	}
	return string(buf), nil
}
