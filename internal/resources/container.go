package resources

import (
	"encoding/binary"

	"github.com/pkg/errors"
	"github.com/valyala/bytebufferpool"

	"github.com/ko4life-net/pe/internal/pe"
)

const (
	containerEntrySize = 16
	cursorHotspotSize  = 4
)

// ICONDIRENTRY / CURSORDIRENTRY as stored in .ico and .cur files. Field1
// and Field2 hold planes and bit count for icons, the hotspot for cursors.
type containerDirEntry struct {
	Width      uint8
	Height     uint8
	ColorCount uint8
	Reserved   uint8
	Field1     uint16
	Field2     uint16
	BytesInRes uint32
	Offset     uint32
}

type containerImage struct {
	width  uint8
	height uint8
	colors uint8
	field1 uint16
	field2 uint16
	data   []byte
}

// writeContainer lays out a header, one directory record per image and
// the image payloads in order. The first payload starts right after the
// directory at 6+16N; each following one starts where the previous ended.
func writeContainer(kind GroupKind, images []containerImage) ([]byte, error) {
	if len(images) > 0xFFFF {
		return nil, pe.NewFormatError("%s 容器最多 65535 个图像，实际 %d", kind, len(images))
	}
	bb := bytebufferpool.Get()
	defer bytebufferpool.Put(bb)

	le := binary.LittleEndian
	hdr := groupHeader{ResType: uint16(kind), ResCount: uint16(len(images))}
	if err := binary.Write(bb, le, &hdr); err != nil {
		return nil, err
	}
	offset := uint64(groupHeaderSize + containerEntrySize*len(images))
	for _, img := range images {
		if offset > 0xFFFFFFFF {
			return nil, pe.NewFormatError("%s 容器超过 4GB", kind)
		}
		rec := containerDirEntry{
			Width:      img.width,
			Height:     img.height,
			ColorCount: img.colors,
			Field1:     img.field1,
			Field2:     img.field2,
			BytesInRes: uint32(len(img.data)),
			Offset:     uint32(offset),
		}
		if err := binary.Write(bb, le, &rec); err != nil {
			return nil, err
		}
		offset += uint64(len(img.data))
	}
	for _, img := range images {
		if _, err := bb.Write(img.data); err != nil {
			return nil, err
		}
	}

	out := make([]byte, bb.Len())
	copy(out, bb.B)
	return out, nil
}

// ContainerEntry is one image of a parsed .ico or .cur file.
type ContainerEntry struct {
	Width      uint8
	Height     uint8
	ColorCount uint8
	Reserved   uint8
	// Planes for icons, horizontal hotspot for cursors.
	PlanesOrHotspotX uint16
	// Bit count for icons, vertical hotspot for cursors.
	BitCountOrHotspotY uint16
	Size               uint32
	Offset             uint32
	Data               []byte
}

// Container is a parsed .ico or .cur file.
type Container struct {
	Kind    GroupKind
	Entries []ContainerEntry
}

// ParseContainer reads a .ico or .cur file. Every image must lie within
// data.
func ParseContainer(data []byte) (*Container, error) {
	if len(data) < groupHeaderSize {
		return nil, errors.Wrapf(pe.ErrTruncatedInput, "容器只有 %d 字节", len(data))
	}
	le := binary.LittleEndian
	if le.Uint16(data[0:]) != 0 {
		return nil, pe.NewFormatError("容器头保留字段为 %d", le.Uint16(data[0:]))
	}
	kind := GroupKind(le.Uint16(data[2:]))
	if kind != GroupIcon && kind != GroupCursor {
		return nil, pe.NewFormatError("未知的容器类型 %d", uint16(kind))
	}
	count := int(le.Uint16(data[4:]))
	if len(data) < groupHeaderSize+count*containerEntrySize {
		return nil, errors.Wrapf(pe.ErrTruncatedInput, "容器目录需要 %d 个条目", count)
	}

	c := &Container{Kind: kind, Entries: make([]ContainerEntry, 0, count)}
	for i := 0; i < count; i++ {
		b := data[groupHeaderSize+i*containerEntrySize:]
		e := ContainerEntry{
			Width:              b[0],
			Height:             b[1],
			ColorCount:         b[2],
			Reserved:           b[3],
			PlanesOrHotspotX:   le.Uint16(b[4:]),
			BitCountOrHotspotY: le.Uint16(b[6:]),
			Size:               le.Uint32(b[8:]),
			Offset:             le.Uint32(b[12:]),
		}
		end := uint64(e.Offset) + uint64(e.Size)
		if end > uint64(len(data)) {
			return nil, errors.Wrapf(pe.ErrTruncatedInput, "第 %d 个图像 0x%X+%d 超出容器", i, e.Offset, e.Size)
		}
		e.Data = data[e.Offset:end]
		c.Entries = append(c.Entries, e)
	}
	return c, nil
}
