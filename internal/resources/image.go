package resources

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/pkg/errors"

	"github.com/ko4life-net/pe/internal/pe"
)

var pngSignature = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}

// IsPNG reports whether data starts with the PNG signature. Vista-style
// icons store large images as PNG instead of a DIB.
func IsPNG(data []byte) bool {
	return len(data) >= len(pngSignature) && bytes.Equal(data[:len(pngSignature)], pngSignature)
}

// IsPNGReader reports whether the next bytes of r are the PNG signature.
func IsPNGReader(r io.Reader) bool {
	buf := make([]byte, len(pngSignature))
	if _, err := io.ReadFull(r, buf); err != nil {
		return false
	}
	return IsPNG(buf)
}

// Cursor is a single RT_CURSOR image.
type Cursor struct {
	HotspotX uint16
	HotspotY uint16
	// Data is the DIB or PNG image without the hotspot prefix.
	Data []byte
}

// IsPNG reports whether the image is stored as PNG.
func (c *Cursor) IsPNG() bool {
	return IsPNG(c.Data)
}

// CursorResource decodes RT_CURSOR resources.
type CursorResource struct {
	res *Resource
}

// Resource returns the wrapped resource.
func (c *CursorResource) Resource() *Resource {
	return c.res
}

// Cursor decodes the image stored in lang.
func (c *CursorResource) Cursor(lang uint32) (*Cursor, error) {
	data, err := c.res.Bytes(lang)
	if err != nil {
		return nil, err
	}
	if len(data) < cursorHotspotSize {
		return nil, errors.Wrapf(pe.ErrTruncatedInput, "光标 %s 只有 %d 字节", c.res.ID, len(data))
	}
	return &Cursor{
		HotspotX: binary.LittleEndian.Uint16(data[0:]),
		HotspotY: binary.LittleEndian.Uint16(data[2:]),
		Data:     data[cursorHotspotSize:],
	}, nil
}

// Icon is a single RT_ICON image.
type Icon struct {
	Data []byte
}

// IsPNG reports whether the image is stored as PNG.
func (i *Icon) IsPNG() bool {
	return IsPNG(i.Data)
}

// IconResource decodes RT_ICON resources.
type IconResource struct {
	res *Resource
}

// Resource returns the wrapped resource.
func (c *IconResource) Resource() *Resource {
	return c.res
}

// Icon reads the image stored in lang.
func (c *IconResource) Icon(lang uint32) (*Icon, error) {
	data, err := c.res.Bytes(lang)
	if err != nil {
		return nil, err
	}
	return &Icon{Data: data}, nil
}
