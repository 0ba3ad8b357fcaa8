package pe

import (
	"fmt"

	"github.com/pkg/errors"
)

// Location places a region of the image in all three coordinate spaces.
// VA is always ImageBase + RVA. FileOffset is meaningful only when Section
// is set or the region was located by file offset.
type Location struct {
	FileOffset  uint64
	RVA         uint32
	VA          uint64
	Size        uint32
	AlignedSize uint32
	Section     *SectionHeader
}

// HasFileOffset reports whether FileOffset points at real file bytes.
func (l Location) HasFileOffset() bool {
	return l.Section != nil || (l.RVA == 0 && l.FileOffset != 0)
}

func (l Location) String() string {
	name := "-"
	if l.Section != nil {
		name = l.Section.Name
	}
	return fmt.Sprintf("offset=0x%X rva=0x%X va=0x%X size=%d section=%s", l.FileOffset, l.RVA, l.VA, l.Size, name)
}

// Calculator translates between file offsets, RVAs and VAs. It holds only
// the image base and a snapshot of the section table.
type Calculator struct {
	imageBase        uint64
	sectionAlignment uint32
	sections         []SectionHeader
}

// NewCalculator builds a calculator over the given section table.
func NewCalculator(imageBase uint64, sectionAlignment uint32, sections []SectionHeader) *Calculator {
	hdrs := make([]SectionHeader, len(sections))
	copy(hdrs, sections)
	return &Calculator{
		imageBase:        imageBase,
		sectionAlignment: sectionAlignment,
		sections:         hdrs,
	}
}

// ImageBase returns the preferred load address.
func (c *Calculator) ImageBase() uint64 {
	return c.imageBase
}

// RVAToSection returns the first section, in table order, whose
// [VirtualAddress, VirtualAddress+SizeOfRawData) range holds rva.
func (c *Calculator) RVAToSection(rva uint32) (*SectionHeader, bool) {
	for i := range c.sections {
		if c.sections[i].Contains(rva) {
			hdr := c.sections[i]
			return &hdr, true
		}
	}
	return nil, false
}

// RVAToOffset converts rva to a file offset. rva must lie inside hdr.
func (c *Calculator) RVAToOffset(hdr *SectionHeader, rva uint32) uint64 {
	return uint64(rva-hdr.VirtualAddress) + uint64(hdr.PointerToRawData)
}

// OffsetToRVA converts a file offset inside hdr's raw data to an RVA.
func (c *Calculator) OffsetToRVA(hdr *SectionHeader, offset uint64) uint32 {
	return uint32(offset-uint64(hdr.PointerToRawData)) + hdr.VirtualAddress
}

// OffsetToSection returns the first section whose raw data holds offset.
func (c *Calculator) OffsetToSection(offset uint64) (*SectionHeader, bool) {
	for i := range c.sections {
		if c.sections[i].ContainsOffset(offset) {
			hdr := c.sections[i]
			return &hdr, true
		}
	}
	return nil, false
}

// RVAToVA converts an RVA to a VA.
func (c *Calculator) RVAToVA(rva uint32) uint64 {
	return c.imageBase + uint64(rva)
}

// VAToRVA converts a VA to an RVA. It fails for addresses below the image
// base or beyond the 32-bit RVA space.
func (c *Calculator) VAToRVA(va uint64) (uint32, bool) {
	if va < c.imageBase || va-c.imageBase > 0xFFFFFFFF {
		return 0, false
	}
	return uint32(va - c.imageBase), true
}

// Locate places [rva, rva+size) in all coordinate spaces.
func (c *Calculator) Locate(rva, size uint32) (Location, error) {
	hdr, ok := c.RVAToSection(rva)
	if !ok {
		return Location{}, errors.Wrapf(ErrUnresolvedDirectory, "RVA 0x%X 不在任何节区内", rva)
	}
	return Location{
		FileOffset:  c.RVAToOffset(hdr, rva),
		RVA:         rva,
		VA:          c.RVAToVA(rva),
		Size:        size,
		AlignedSize: size,
		Section:     hdr,
	}, nil
}

// LocateOffset places a region known only by file offset. Regions outside
// every section, such as the overlay, get a zero RVA.
func (c *Calculator) LocateOffset(offset uint64, size uint32) Location {
	loc := Location{
		FileOffset:  offset,
		Size:        size,
		AlignedSize: size,
	}
	if hdr, ok := c.OffsetToSection(offset); ok {
		loc.RVA = c.OffsetToRVA(hdr, offset)
		loc.Section = hdr
	}
	loc.VA = c.RVAToVA(loc.RVA)
	return loc
}

// sectionLocation places a whole section.
func (c *Calculator) sectionLocation(hdr SectionHeader) Location {
	h := hdr
	return Location{
		FileOffset:  uint64(hdr.PointerToRawData),
		RVA:         hdr.VirtualAddress,
		VA:          c.RVAToVA(hdr.VirtualAddress),
		Size:        hdr.SizeOfRawData,
		AlignedSize: alignUp(hdr.VirtualSize, c.sectionAlignment),
		Section:     &h,
	}
}
