// Package petest builds small synthetic PE images for tests.
package petest

import (
	"bytes"
	"debug/pe"
	"encoding/binary"
)

const (
	lfanew        = 0x40
	fileAlignment = 0x200
	sectAlignment = 0x1000
)

// Section describes one section of a synthetic image.
type Section struct {
	Name           string
	VirtualAddress uint32
	VirtualSize    uint32
	Data           []byte
	// Offset overrides PointerToRawData when non-zero.
	Offset uint32
	// RawSize overrides SizeOfRawData when non-zero.
	RawSize         uint32
	Characteristics uint32
}

// Builder assembles a PE image from headers, sections and an overlay.
type Builder struct {
	Is64        bool
	ImageBase   uint64
	Machine     uint16
	Subsystem   uint16
	EntryPoint  uint32
	CheckSum    uint32
	Sections    []Section
	Directories [16]pe.DataDirectory
	Overlay     []byte
}

// New returns a PE32+ builder with the given image base.
func New(imageBase uint64) *Builder {
	return &Builder{
		Is64:      true,
		ImageBase: imageBase,
		Machine:   pe.IMAGE_FILE_MACHINE_AMD64,
		Subsystem: pe.IMAGE_SUBSYSTEM_WINDOWS_GUI,
	}
}

// New32 returns a PE32 builder with the given image base.
func New32(imageBase uint32) *Builder {
	return &Builder{
		ImageBase: uint64(imageBase),
		Machine:   pe.IMAGE_FILE_MACHINE_I386,
		Subsystem: pe.IMAGE_SUBSYSTEM_WINDOWS_CUI,
	}
}

// AddSection appends a section.
func (b *Builder) AddSection(s Section) *Builder {
	b.Sections = append(b.Sections, s)
	return b
}

// SetDirectory sets data directory slot idx.
func (b *Builder) SetDirectory(idx int, va, size uint32) *Builder {
	b.Directories[idx] = pe.DataDirectory{VirtualAddress: va, Size: size}
	return b
}

func (b *Builder) optionalHeaderSize() int {
	if b.Is64 {
		return 240
	}
	return 224
}

// HeadersSize returns the aligned size of the header region.
func (b *Builder) HeadersSize() uint32 {
	end := lfanew + 4 + 20 + b.optionalHeaderSize() + 40*len(b.Sections)
	return align(uint32(end), fileAlignment)
}

// SectionOffset returns PointerToRawData of section i.
func (b *Builder) SectionOffset(i int) uint32 {
	off := b.HeadersSize()
	for j := 0; j <= i; j++ {
		s := b.Sections[j]
		if s.Offset != 0 {
			off = s.Offset
		}
		if j == i {
			return off
		}
		off = align(off+b.rawSize(j), fileAlignment)
	}
	return off
}

func (b *Builder) rawSize(i int) uint32 {
	s := b.Sections[i]
	if s.RawSize != 0 {
		return s.RawSize
	}
	return align(uint32(len(s.Data)), fileAlignment)
}

// OverlayOffset returns the file offset of the overlay.
func (b *Builder) OverlayOffset() uint32 {
	end := b.HeadersSize()
	for i := range b.Sections {
		if e := b.SectionOffset(i) + b.rawSize(i); e > end {
			end = e
		}
	}
	return align(end, 8)
}

// Bytes lays the image out.
func (b *Builder) Bytes() []byte {
	var hdr bytes.Buffer

	dos := make([]byte, lfanew)
	dos[0], dos[1] = 'M', 'Z'
	binary.LittleEndian.PutUint32(dos[0x3c:], lfanew)
	hdr.Write(dos)
	hdr.Write([]byte{'P', 'E', 0, 0})

	characteristics := uint16(pe.IMAGE_FILE_EXECUTABLE_IMAGE)
	if !b.Is64 {
		characteristics |= pe.IMAGE_FILE_32BIT_MACHINE
	}
	fh := pe.FileHeader{
		Machine:              b.Machine,
		NumberOfSections:     uint16(len(b.Sections)),
		SizeOfOptionalHeader: uint16(b.optionalHeaderSize()),
		Characteristics:      characteristics,
	}
	binary.Write(&hdr, binary.LittleEndian, &fh)

	sizeOfImage := align(b.HeadersSize(), sectAlignment)
	for _, s := range b.Sections {
		if e := align(s.VirtualAddress+max(s.VirtualSize, uint32(len(s.Data))), sectAlignment); e > sizeOfImage {
			sizeOfImage = e
		}
	}

	if b.Is64 {
		oh := pe.OptionalHeader64{
			Magic:                 0x20b,
			AddressOfEntryPoint:   b.EntryPoint,
			ImageBase:             b.ImageBase,
			SectionAlignment:      sectAlignment,
			FileAlignment:         fileAlignment,
			MajorSubsystemVersion: 6,
			SizeOfImage:           sizeOfImage,
			SizeOfHeaders:         b.HeadersSize(),
			CheckSum:              b.CheckSum,
			Subsystem:             b.Subsystem,
			NumberOfRvaAndSizes:   16,
			DataDirectory:         b.Directories,
		}
		binary.Write(&hdr, binary.LittleEndian, &oh)
	} else {
		oh := pe.OptionalHeader32{
			Magic:                 0x10b,
			AddressOfEntryPoint:   b.EntryPoint,
			ImageBase:             uint32(b.ImageBase),
			SectionAlignment:      sectAlignment,
			FileAlignment:         fileAlignment,
			MajorSubsystemVersion: 6,
			SizeOfImage:           sizeOfImage,
			SizeOfHeaders:         b.HeadersSize(),
			CheckSum:              b.CheckSum,
			Subsystem:             b.Subsystem,
			NumberOfRvaAndSizes:   16,
			DataDirectory:         b.Directories,
		}
		binary.Write(&hdr, binary.LittleEndian, &oh)
	}

	for i, s := range b.Sections {
		var name [8]uint8
		copy(name[:], s.Name)
		vsize := s.VirtualSize
		if vsize == 0 {
			vsize = uint32(len(s.Data))
		}
		sh := pe.SectionHeader32{
			Name:             name,
			VirtualSize:      vsize,
			VirtualAddress:   s.VirtualAddress,
			SizeOfRawData:    b.rawSize(i),
			PointerToRawData: b.SectionOffset(i),
			Characteristics:  s.Characteristics,
		}
		binary.Write(&hdr, binary.LittleEndian, &sh)
	}

	size := b.OverlayOffset() + uint32(len(b.Overlay))
	out := make([]byte, size)
	copy(out, hdr.Bytes())
	for i, s := range b.Sections {
		copy(out[b.SectionOffset(i):], s.Data)
	}
	copy(out[b.OverlayOffset():], b.Overlay)
	return out
}

func align(v, a uint32) uint32 {
	return (v + a - 1) &^ (a - 1)
}
