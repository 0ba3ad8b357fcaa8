package resources

import (
	"bytes"
	"encoding/binary"
	"image"

	"github.com/pkg/errors"
	"golang.org/x/image/bmp"

	"github.com/ko4life-net/pe/internal/pe"
)

const (
	bitmapFileHeaderSize = 14
	bitmapCoreHeaderSize = 12
	bitmapInfoHeaderSize = 40

	biBitfields      = 3
	biAlphaBitfields = 6
)

// BitmapResource decodes RT_BITMAP resources, which store a DIB without
// its BITMAPFILEHEADER.
type BitmapResource struct {
	res *Resource
}

// Resource returns the wrapped resource.
func (b *BitmapResource) Resource() *Resource {
	return b.res
}

// Bitmap returns the resource in lang as a complete .bmp file.
func (b *BitmapResource) Bitmap(lang uint32) ([]byte, error) {
	dib, err := b.res.Bytes(lang)
	if err != nil {
		return nil, err
	}
	return BitmapFile(dib)
}

// Config returns the dimensions and colour model of the bitmap in lang.
func (b *BitmapResource) Config(lang uint32) (image.Config, error) {
	file, err := b.Bitmap(lang)
	if err != nil {
		return image.Config{}, err
	}
	cfg, err := bmp.DecodeConfig(bytes.NewReader(file))
	if err != nil {
		return image.Config{}, errors.Wrap(err, "解析位图头失败")
	}
	return cfg, nil
}

// Image decodes the bitmap in lang.
func (b *BitmapResource) Image(lang uint32) (image.Image, error) {
	file, err := b.Bitmap(lang)
	if err != nil {
		return nil, err
	}
	img, err := bmp.Decode(bytes.NewReader(file))
	if err != nil {
		return nil, errors.Wrap(err, "解码位图失败")
	}
	return img, nil
}

// BitmapFile prefixes a DIB with the BITMAPFILEHEADER that points past its
// header, colour masks and palette.
func BitmapFile(dib []byte) ([]byte, error) {
	if len(dib) < 4 {
		return nil, errors.Wrapf(pe.ErrTruncatedInput, "位图只有 %d 字节", len(dib))
	}
	le := binary.LittleEndian
	hdrSize := le.Uint32(dib)

	var bitCount, entrySize, colors uint32
	var masks uint32
	switch {
	case hdrSize == bitmapCoreHeaderSize:
		if len(dib) < bitmapCoreHeaderSize {
			return nil, errors.Wrap(pe.ErrTruncatedInput, "BITMAPCOREHEADER 不完整")
		}
		bitCount = uint32(le.Uint16(dib[10:]))
		entrySize = 3
	case hdrSize >= bitmapInfoHeaderSize:
		if len(dib) < bitmapInfoHeaderSize {
			return nil, errors.Wrap(pe.ErrTruncatedInput, "BITMAPINFOHEADER 不完整")
		}
		bitCount = uint32(le.Uint16(dib[14:]))
		colors = le.Uint32(dib[32:])
		entrySize = 4
		if hdrSize == bitmapInfoHeaderSize {
			switch le.Uint32(dib[16:]) {
			case biBitfields:
				masks = 12
			case biAlphaBitfields:
				masks = 16
			}
		}
	default:
		return nil, pe.NewFormatError("未知的位图头大小 %d", hdrSize)
	}
	if colors == 0 && bitCount <= 8 {
		colors = 1 << bitCount
	}

	offBits := bitmapFileHeaderSize + hdrSize + masks + colors*entrySize
	out := make([]byte, bitmapFileHeaderSize+len(dib))
	out[0], out[1] = 'B', 'M'
	le.PutUint32(out[2:], uint32(len(out)))
	le.PutUint32(out[10:], offBits)
	copy(out[bitmapFileHeaderSize:], dib)
	return out, nil
}
