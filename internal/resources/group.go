package resources

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/pkg/errors"

	"github.com/ko4life-net/pe/internal/pe"
)

// GroupKind is the type tag of a group header, shared with the .ico and
// .cur container headers.
type GroupKind uint16

// Group kinds.
const (
	GroupIcon   GroupKind = 1
	GroupCursor GroupKind = 2
)

func (k GroupKind) String() string {
	switch k {
	case GroupIcon:
		return "icon"
	case GroupCursor:
		return "cursor"
	default:
		return fmt.Sprintf("GroupKind(%d)", uint16(k))
	}
}

// member returns the type of the resources a group of this kind references.
func (k GroupKind) member() Type {
	if k == GroupCursor {
		return RT_CURSOR
	}
	return RT_ICON
}

// NEWHEADER structure.
type groupHeader struct {
	Reserved uint16
	ResType  uint16
	ResCount uint16
}

// CURSORDIR followed by the RESDIR tail.
type cursorResDir struct {
	Width      uint16
	Height     uint16
	Planes     uint16
	BitCount   uint16
	BytesInRes uint32
	CursorID   uint16
}

// GRPICONDIRENTRY structure.
type iconResDir struct {
	Width      uint8
	Height     uint8
	ColorCount uint8
	Reserved   uint8
	Planes     uint16
	BitCount   uint16
	BytesInRes uint32
	IconID     uint16
}

const (
	groupHeaderSize = 6
	groupEntrySize  = 14
)

// GroupEntry describes one image of a cursor or icon group. ID is the id
// of the RT_CURSOR or RT_ICON resource holding the image.
type GroupEntry struct {
	Width      uint16
	Height     uint16
	ColorCount uint8
	Planes     uint16
	BitCount   uint16
	BytesInRes uint32
	ID         uint16
}

func (e GroupEntry) String() string {
	return fmt.Sprintf("%dx%d %d-bit, ID: %d", e.Width, e.Height, e.BitCount, e.ID)
}

// ParseGroup decodes the entries of a group resource. The header's type
// tag must equal kind, otherwise a *pe.FormatError is returned.
func ParseGroup(data []byte, kind GroupKind) ([]GroupEntry, error) {
	if len(data) < groupHeaderSize {
		return nil, errors.Wrapf(pe.ErrTruncatedInput, "%s 组资源只有 %d 字节", kind, len(data))
	}
	le := binary.LittleEndian
	hdr := groupHeader{
		Reserved: le.Uint16(data[0:]),
		ResType:  le.Uint16(data[2:]),
		ResCount: le.Uint16(data[4:]),
	}
	if GroupKind(hdr.ResType) != kind {
		return nil, pe.NewFormatError("不是%s组资源: 类型标记为 %d", kind, hdr.ResType)
	}
	if hdr.Reserved != 0 {
		return nil, pe.NewFormatError("%s组资源头保留字段为 %d，应为 0", kind, hdr.Reserved)
	}
	need := groupHeaderSize + int(hdr.ResCount)*groupEntrySize
	if len(data) < need {
		return nil, errors.Wrapf(pe.ErrTruncatedInput, "%s 组资源需要 %d 字节，只有 %d 字节", kind, need, len(data))
	}

	entries := make([]GroupEntry, 0, hdr.ResCount)
	for i := 0; i < int(hdr.ResCount); i++ {
		b := data[groupHeaderSize+i*groupEntrySize:]
		if kind == GroupCursor {
			d := cursorResDir{
				Width:      le.Uint16(b[0:]),
				Height:     le.Uint16(b[2:]),
				Planes:     le.Uint16(b[4:]),
				BitCount:   le.Uint16(b[6:]),
				BytesInRes: le.Uint32(b[8:]),
				CursorID:   le.Uint16(b[12:]),
			}
			entries = append(entries, GroupEntry{
				Width:      d.Width,
				Height:     d.Height,
				Planes:     d.Planes,
				BitCount:   d.BitCount,
				BytesInRes: d.BytesInRes,
				ID:         d.CursorID,
			})
			continue
		}
		d := iconResDir{
			Width:      b[0],
			Height:     b[1],
			ColorCount: b[2],
			Reserved:   b[3],
			Planes:     le.Uint16(b[4:]),
			BitCount:   le.Uint16(b[6:]),
			BytesInRes: le.Uint32(b[8:]),
			IconID:     le.Uint16(b[12:]),
		}
		entries = append(entries, GroupEntry{
			Width:      uint16(d.Width),
			Height:     uint16(d.Height),
			ColorCount: d.ColorCount,
			Planes:     d.Planes,
			BitCount:   d.BitCount,
			BytesInRes: d.BytesInRes,
			ID:         d.IconID,
		})
	}
	return entries, nil
}

// Group is a decoded cursor or icon group in one language. Entries keep
// the order of the group resource.
type Group struct {
	kind    GroupKind
	res     *Resource
	lang    uint16
	entries []GroupEntry
}

func loadGroup(res *Resource, lang uint32, kind GroupKind) (*Group, error) {
	l, err := res.Language(lang)
	if err != nil {
		return nil, err
	}
	data, err := res.Bytes(uint32(l))
	if err != nil {
		return nil, err
	}
	entries, err := ParseGroup(data, kind)
	if err != nil {
		return nil, errors.Wrapf(err, "资源 %s", res.ID)
	}
	return &Group{kind: kind, res: res, lang: l, entries: entries}, nil
}

// Kind returns whether the group holds cursors or icons.
func (g *Group) Kind() GroupKind {
	return g.kind
}

// Resource returns the group resource.
func (g *Group) Resource() *Resource {
	return g.res
}

// Language returns the language the group was read in.
func (g *Group) Language() uint16 {
	return g.lang
}

// Len returns the number of entries.
func (g *Group) Len() int {
	return len(g.entries)
}

// At returns the entry at index i.
func (g *Group) At(i int) (GroupEntry, error) {
	if i < 0 || i >= len(g.entries) {
		return GroupEntry{}, errors.Wrapf(pe.ErrIndexOutOfRange, "组条目索引 %d", i)
	}
	return g.entries[i], nil
}

// Entries returns a copy of the entries in group order.
func (g *Group) Entries() []GroupEntry {
	out := make([]GroupEntry, len(g.entries))
	copy(out, g.entries)
	return out
}

// Container rebuilds a standalone .cur or .ico file from the group and the
// images it references in the same language. Cursor images lose their
// 4-byte hotspot prefix, which moves into the directory record.
func (g *Group) Container() ([]byte, error) {
	images := make([]containerImage, 0, len(g.entries))
	for _, e := range g.entries {
		data, err := g.res.sibling(g.kind.member(), e.ID, g.lang)
		if err != nil {
			return nil, err
		}
		img := containerImage{
			width:  clampByte(e.Width),
			height: clampByte(e.Height),
		}
		if g.kind == GroupCursor {
			if len(data) < cursorHotspotSize {
				return nil, errors.Wrapf(pe.ErrTruncatedInput, "光标 #%d 只有 %d 字节", e.ID, len(data))
			}
			img.colors = clampByte(e.BitCount)
			img.field1 = binary.LittleEndian.Uint16(data[0:])
			img.field2 = binary.LittleEndian.Uint16(data[2:])
			img.data = data[cursorHotspotSize:]
		} else {
			img.colors = e.ColorCount
			img.field1 = e.Planes
			img.field2 = e.BitCount
			img.data = data
		}
		images = append(images, img)
	}
	return writeContainer(g.kind, images)
}

// SaveFormat selects how a group is written out.
type SaveFormat int

const (
	// SaveRaw writes the group resource bytes as stored.
	SaveRaw SaveFormat = iota
	// SaveContainer writes a standalone .cur or .ico file.
	SaveContainer
)

func (f SaveFormat) String() string {
	if f == SaveRaw {
		return "raw"
	}
	return "container"
}

func saveGroup(w io.Writer, res *Resource, lang uint32, kind GroupKind, format SaveFormat) error {
	if format == SaveRaw {
		return res.Save(w, lang)
	}
	g, err := loadGroup(res, lang, kind)
	if err != nil {
		return err
	}
	b, err := g.Container()
	if err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}

// CursorGroupResource decodes RT_GROUP_CURSOR resources.
type CursorGroupResource struct {
	res *Resource
}

// NewCursorGroup wraps res as a cursor group.
func NewCursorGroup(res *Resource) *CursorGroupResource {
	return &CursorGroupResource{res: res}
}

// Resource returns the wrapped resource.
func (c *CursorGroupResource) Resource() *Resource {
	return c.res
}

// Group decodes the group stored in lang.
func (c *CursorGroupResource) Group(lang uint32) (*Group, error) {
	return loadGroup(c.res, lang, GroupCursor)
}

// Save writes the group in lang to w.
func (c *CursorGroupResource) Save(w io.Writer, lang uint32, format SaveFormat) error {
	return saveGroup(w, c.res, lang, GroupCursor, format)
}

// IconGroupResource decodes RT_GROUP_ICON resources.
type IconGroupResource struct {
	res *Resource
}

// NewIconGroup wraps res as an icon group.
func NewIconGroup(res *Resource) *IconGroupResource {
	return &IconGroupResource{res: res}
}

// Resource returns the wrapped resource.
func (c *IconGroupResource) Resource() *Resource {
	return c.res
}

// Group decodes the group stored in lang.
func (c *IconGroupResource) Group(lang uint32) (*Group, error) {
	return loadGroup(c.res, lang, GroupIcon)
}

// Save writes the group in lang to w.
func (c *IconGroupResource) Save(w io.Writer, lang uint32, format SaveFormat) error {
	return saveGroup(w, c.res, lang, GroupIcon, format)
}

// clampByte narrows a dimension to the one-byte container field. Values
// that do not fit are written as 0, which readers take as 256.
func clampByte(v uint16) uint8 {
	if v > 0xFF {
		return 0
	}
	return uint8(v)
}
