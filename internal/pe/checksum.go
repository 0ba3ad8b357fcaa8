package pe

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// ChecksumInfo is the result of VerifyChecksum.
type ChecksumInfo struct {
	Stored   uint32 `json:"stored" yaml:"stored"`
	Computed uint32 `json:"computed" yaml:"computed"`
	Valid    bool   `json:"valid" yaml:"valid"`
}

// VerifyChecksum computes the image checksum and compares it with the one
// stored in the optional header. A stored value of zero means the image
// is not checksummed and is always reported valid.
func (img *Image) VerifyChecksum() (*ChecksumInfo, error) {
	dos, err := img.src.Bytes(0x3c, 4)
	if err != nil {
		return nil, err
	}
	// CheckSum sits 64 bytes into the optional header for both layouts.
	field := int64(binary.LittleEndian.Uint32(dos)) + 4 + 20 + 64

	computed, err := CalculatePEChecksum(img.src, img.src.Size(), field)
	if err != nil {
		return nil, errors.Wrap(err, "计算校验和失败")
	}
	return &ChecksumInfo{
		Stored:   img.checksum,
		Computed: computed,
		Valid:    img.checksum == 0 || img.checksum == computed,
	}, nil
}

const checksumChunk = 64 << 10

// CalculatePEChecksum returns the ones' complement sum of the 16-bit words
// of the first size bytes of r, skipping the four bytes at checksumOffset,
// plus size. An odd trailing byte is padded with zero.
func CalculatePEChecksum(r io.ReaderAt, size int64, checksumOffset int64) (uint32, error) {
	buf := make([]byte, checksumChunk)
	var sum uint32
	for base := int64(0); base < size; base += checksumChunk {
		n := int(min(checksumChunk, size-base))
		if _, err := r.ReadAt(buf[:n], base); err != nil && !errors.Is(err, io.EOF) {
			return 0, errors.Wrapf(err, "读取偏移 0x%X 失败", base)
		}
		if n%2 == 1 {
			buf[n] = 0
			n++
		}
		for i := 0; i < n; i += 2 {
			if p := base + int64(i); p >= checksumOffset && p < checksumOffset+4 {
				continue
			}
			sum += uint32(binary.LittleEndian.Uint16(buf[i:]))
			sum = sum&0xFFFF + sum>>16
		}
	}
	return sum + uint32(size), nil
}
