package pe

import (
	"fmt"

	"github.com/pkg/errors"
)

// RelocationType is the high nibble of a base relocation entry.
type RelocationType uint16

// Base relocation types.
const (
	IMAGE_REL_BASED_ABSOLUTE       RelocationType = 0
	IMAGE_REL_BASED_HIGH           RelocationType = 1
	IMAGE_REL_BASED_LOW            RelocationType = 2
	IMAGE_REL_BASED_HIGHLOW        RelocationType = 3
	IMAGE_REL_BASED_HIGHADJ        RelocationType = 4
	IMAGE_REL_BASED_ARM_MOV32      RelocationType = 5
	IMAGE_REL_BASED_THUMB_MOV32    RelocationType = 7
	IMAGE_REL_BASED_MIPS_JMPADDR16 RelocationType = 9
	IMAGE_REL_BASED_DIR64          RelocationType = 10
)

var relocationNames = map[RelocationType]string{
	IMAGE_REL_BASED_ABSOLUTE:       "ABSOLUTE",
	IMAGE_REL_BASED_HIGH:           "HIGH",
	IMAGE_REL_BASED_LOW:            "LOW",
	IMAGE_REL_BASED_HIGHLOW:        "HIGHLOW",
	IMAGE_REL_BASED_HIGHADJ:        "HIGHADJ",
	IMAGE_REL_BASED_ARM_MOV32:      "ARM_MOV32",
	IMAGE_REL_BASED_THUMB_MOV32:    "THUMB_MOV32",
	IMAGE_REL_BASED_MIPS_JMPADDR16: "MIPS_JMPADDR16",
	IMAGE_REL_BASED_DIR64:          "DIR64",
}

func (t RelocationType) String() string {
	if name, ok := relocationNames[t]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN(%d)", uint16(t))
}

// Relocation is one fixup.
type Relocation struct {
	Type RelocationType
	RVA  uint32
}

// RelocationBlock is an IMAGE_BASE_RELOCATION block and its fixups for one
// page.
type RelocationBlock struct {
	VirtualAddress uint32
	SizeOfBlock    uint32
	Entries        []Relocation
}

type baseRelocation struct {
	VirtualAddress uint32
	SizeOfBlock    uint32
}

// maxRelocationBlock bounds SizeOfBlock: a page holds at most 4096 two-byte
// entries after the 8-byte header.
const maxRelocationBlock = 8 + 2*4096

// RelocationContent is the decoded base relocation directory.
type RelocationContent struct {
	DataContent
	blocks []RelocationBlock
}

func newRelocationContent(img *Image, dir DataDirectory, sec *Section) (Content, error) {
	loc, err := img.calc.Locate(dir.VirtualAddress, dir.Size)
	if err != nil {
		return nil, err
	}
	c := &RelocationContent{DataContent: newDataContent(img, dir, loc)}

	start := int64(loc.FileOffset)
	end := start + int64(dir.Size)
	for off := start; off+8 <= end; {
		hdr, err := readStruct[baseRelocation](img.src, off)
		if err != nil {
			return nil, errors.Wrap(err, "读取重定位块失败")
		}
		size := int64(hdr.SizeOfBlock)
		if size < 8 || size > maxRelocationBlock || off+size > end {
			break
		}
		raw, err := img.src.Bytes(off+8, int(size-8))
		if err != nil {
			return nil, errors.Wrap(err, "读取重定位项失败")
		}
		block := RelocationBlock{
			VirtualAddress: hdr.VirtualAddress,
			SizeOfBlock:    hdr.SizeOfBlock,
			Entries:        make([]Relocation, 0, len(raw)/2),
		}
		for i := 0; i+2 <= len(raw); i += 2 {
			v := uint16(raw[i]) | uint16(raw[i+1])<<8
			block.Entries = append(block.Entries, Relocation{
				Type: RelocationType(v >> 12),
				RVA:  hdr.VirtualAddress + uint32(v&0x0FFF),
			})
		}
		c.blocks = append(c.blocks, block)
		off += size
	}
	return c, nil
}

// Blocks returns the relocation blocks in directory order.
func (c *RelocationContent) Blocks() []RelocationBlock {
	out := make([]RelocationBlock, len(c.blocks))
	copy(out, c.blocks)
	return out
}

// TotalEntries returns the number of fixups across all blocks.
func (c *RelocationContent) TotalEntries() int {
	n := 0
	for _, b := range c.blocks {
		n += len(b.Entries)
	}
	return n
}
