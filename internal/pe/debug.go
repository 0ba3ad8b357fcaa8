package pe

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// DebugType is the type of a debug directory entry.
type DebugType uint32

// Debug directory entry types.
const (
	DebugTypeUnknown DebugType = iota
	DebugTypeCOFF
	DebugTypeCodeView
	DebugTypeFPO
	DebugTypeMisc
	DebugTypeException
	DebugTypeFixup
	DebugTypeOMAPToSrc
	DebugTypeOMAPFromSrc
	DebugTypeBorland
	DebugTypeReserved10
	DebugTypeCLSID
	DebugTypeVCFeature
	DebugTypePOGO
	DebugTypeILTCG
	DebugTypeMPX
	DebugTypeRepro
)

var debugTypeNames = map[DebugType]string{
	DebugTypeUnknown:     "UNKNOWN",
	DebugTypeCOFF:        "COFF",
	DebugTypeCodeView:    "CODEVIEW",
	DebugTypeFPO:         "FPO",
	DebugTypeMisc:        "MISC",
	DebugTypeException:   "EXCEPTION",
	DebugTypeFixup:       "FIXUP",
	DebugTypeOMAPToSrc:   "OMAP_TO_SRC",
	DebugTypeOMAPFromSrc: "OMAP_FROM_SRC",
	DebugTypeBorland:     "BORLAND",
	DebugTypeReserved10:  "RESERVED10",
	DebugTypeCLSID:       "CLSID",
	DebugTypeVCFeature:   "VC_FEATURE",
	DebugTypePOGO:        "POGO",
	DebugTypeILTCG:       "ILTCG",
	DebugTypeMPX:         "MPX",
	DebugTypeRepro:       "REPRO",
}

func (t DebugType) String() string {
	if s, ok := debugTypeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("UNKNOWN(%d)", uint32(t))
}

// IMAGE_DEBUG_DIRECTORY structure.
type debugDirectory struct {
	Characteristics  uint32
	TimeDateStamp    uint32
	MajorVersion     uint16
	MinorVersion     uint16
	Type             uint32
	SizeOfData       uint32
	AddressOfRawData uint32
	PointerToRawData uint32
}

const debugDirectorySize = 28

// DebugEntry is one debug directory entry.
type DebugEntry struct {
	Characteristics  uint32
	TimeDateStamp    time.Time
	MajorVersion     uint16
	MinorVersion     uint16
	Type             DebugType
	SizeOfData       uint32
	AddressOfRawData uint32
	PointerToRawData uint32

	img *Image
}

// Location returns the coordinates of the entry's data, which is recorded
// by file offset.
func (e *DebugEntry) Location() Location {
	return e.img.calc.LocateOffset(uint64(e.PointerToRawData), e.SizeOfData)
}

// Bytes reads the entry's data.
func (e *DebugEntry) Bytes() ([]byte, error) {
	if e.PointerToRawData == 0 || e.SizeOfData == 0 {
		return nil, errors.Wrapf(ErrNotPresent, "%s 调试数据", e.Type)
	}
	return e.img.src.Bytes(int64(e.PointerToRawData), int(e.SizeOfData))
}

// CodeView decodes an RSDS CodeView record.
func (e *DebugEntry) CodeView() (*CodeViewInfo, error) {
	if e.Type != DebugTypeCodeView {
		return nil, errors.Wrapf(ErrNotPresent, "%s 条目不是 CodeView", e.Type)
	}
	b, err := e.Bytes()
	if err != nil {
		return nil, err
	}
	return parseCodeView(b)
}

// CodeViewInfo identifies the PDB matching an image.
type CodeViewInfo struct {
	GUID    uuid.UUID
	Age     uint32
	PDBPath string
}

const rsdsSignature = 0x53445352 // "RSDS"

func parseCodeView(b []byte) (*CodeViewInfo, error) {
	if len(b) < 24 {
		return nil, errors.Wrapf(ErrTruncatedInput, "CodeView 记录仅有 %d 字节", len(b))
	}
	if sig := binary.LittleEndian.Uint32(b); sig != rsdsSignature {
		return nil, NewFormatError("不支持的 CodeView 签名 0x%08X", sig)
	}
	var g uuid.UUID
	// GUID fields are little-endian on disk; uuid.UUID is big-endian.
	binary.BigEndian.PutUint32(g[0:4], binary.LittleEndian.Uint32(b[4:8]))
	binary.BigEndian.PutUint16(g[4:6], binary.LittleEndian.Uint16(b[8:10]))
	binary.BigEndian.PutUint16(g[6:8], binary.LittleEndian.Uint16(b[10:12]))
	copy(g[8:16], b[12:20])

	path := b[24:]
	if i := bytes.IndexByte(path, 0); i >= 0 {
		path = path[:i]
	}
	return &CodeViewInfo{
		GUID:    g,
		Age:     binary.LittleEndian.Uint32(b[20:24]),
		PDBPath: string(path),
	}, nil
}

// Identifier returns the symbol server key: GUID without dashes followed
// by the age, in upper-case hex.
func (c *CodeViewInfo) Identifier() string {
	return strings.ToUpper(strings.ReplaceAll(c.GUID.String(), "-", "")) + fmt.Sprintf("%X", c.Age)
}

// DebugContent is the decoded debug directory.
type DebugContent struct {
	DataContent
	entries []DebugEntry
}

func newDebugContent(img *Image, dir DataDirectory, sec *Section) (Content, error) {
	loc, err := img.calc.Locate(dir.VirtualAddress, dir.Size)
	if err != nil {
		return nil, err
	}
	count := int(dir.Size / debugDirectorySize)
	c := &DebugContent{
		DataContent: newDataContent(img, dir, loc),
		entries:     make([]DebugEntry, 0, count),
	}
	for i := 0; i < count; i++ {
		raw, err := readStruct[debugDirectory](img.src, int64(loc.FileOffset)+int64(i*debugDirectorySize))
		if err != nil {
			return nil, errors.Wrapf(err, "读取第 %d 个调试目录项失败", i)
		}
		c.entries = append(c.entries, DebugEntry{
			Characteristics:  raw.Characteristics,
			TimeDateStamp:    time.Unix(int64(raw.TimeDateStamp), 0).UTC(),
			MajorVersion:     raw.MajorVersion,
			MinorVersion:     raw.MinorVersion,
			Type:             DebugType(raw.Type),
			SizeOfData:       raw.SizeOfData,
			AddressOfRawData: raw.AddressOfRawData,
			PointerToRawData: raw.PointerToRawData,
			img:              img,
		})
	}
	return c, nil
}

// Entries returns the debug entries in directory order.
func (c *DebugContent) Entries() []DebugEntry {
	out := make([]DebugEntry, len(c.entries))
	copy(out, c.entries)
	return out
}

// CodeView decodes the first CodeView entry.
func (c *DebugContent) CodeView() (*CodeViewInfo, error) {
	for i := range c.entries {
		if c.entries[i].Type == DebugTypeCodeView {
			return c.entries[i].CodeView()
		}
	}
	return nil, errors.Wrap(ErrNotPresent, "没有 CodeView 调试条目")
}
