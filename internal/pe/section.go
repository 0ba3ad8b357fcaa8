package pe

import (
	"context"
	"debug/pe"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/exp/constraints"
)

// SectionHeader is a value snapshot of one section table entry.
type SectionHeader struct {
	Index            int
	Name             string
	VirtualAddress   uint32
	VirtualSize      uint32
	PointerToRawData uint32
	SizeOfRawData    uint32
	Characteristics  uint32
}

// Contains reports whether rva lies in [VirtualAddress, VirtualAddress+SizeOfRawData).
func (h SectionHeader) Contains(rva uint32) bool {
	return rva >= h.VirtualAddress && uint64(rva) < uint64(h.VirtualAddress)+uint64(h.SizeOfRawData)
}

// ContainsOffset reports whether the file offset lies in the section's raw data.
func (h SectionHeader) ContainsOffset(offset uint64) bool {
	start := uint64(h.PointerToRawData)
	return offset >= start && offset < start+uint64(h.SizeOfRawData)
}

// Fits reports whether the whole directory range lies inside the section.
func (h SectionHeader) Fits(dir DataDirectory) bool {
	if dir.IsFileOffset() {
		start := uint64(dir.VirtualAddress)
		return h.ContainsOffset(start) && start+uint64(dir.Size) <= uint64(h.PointerToRawData)+uint64(h.SizeOfRawData)
	}
	return dir.VirtualAddress >= h.VirtualAddress &&
		uint64(dir.VirtualAddress)+uint64(dir.Size) <= uint64(h.VirtualAddress)+uint64(h.SizeOfRawData)
}

// Permissions returns the memory permissions in "RWX" form.
func (h SectionHeader) Permissions() string {
	return getSectionPermissions(h.Characteristics)
}

func getSectionPermissions(c uint32) string {
	var perms [3]rune
	perms[0] = '-'
	perms[1] = '-'
	perms[2] = '-'

	if c&pe.IMAGE_SCN_MEM_READ != 0 {
		perms[0] = 'R'
	}
	if c&pe.IMAGE_SCN_MEM_WRITE != 0 {
		perms[1] = 'W'
	}
	if c&pe.IMAGE_SCN_MEM_EXECUTE != 0 {
		perms[2] = 'X'
	}

	return string(perms[:])
}

// Section is a section header plus the decoded directory content that
// falls inside it. Sections are snapshots; every lookup builds a new one.
type Section struct {
	SectionHeader
	img      *Image
	loc      Location
	contents []Content
}

// Location returns the section's coordinates.
func (s *Section) Location() Location {
	return s.loc
}

// Contents returns the attached content in directory order.
func (s *Section) Contents() []Content {
	out := make([]Content, len(s.contents))
	copy(out, s.contents)
	return out
}

// Content returns the attached content for kind.
func (s *Section) Content(kind DirectoryKind) (Content, bool) {
	for _, c := range s.contents {
		if c.Kind() == kind {
			return c, true
		}
	}
	return nil, false
}

// Bytes reads the section's raw data.
func (s *Section) Bytes() ([]byte, error) {
	return s.img.src.Bytes(int64(s.PointerToRawData), int(s.SizeOfRawData))
}

// BytesContext reads the section's raw data, honouring ctx.
func (s *Section) BytesContext(ctx context.Context) ([]byte, error) {
	return s.img.src.ReadContext(ctx, int64(s.PointerToRawData), int(s.SizeOfRawData))
}

// Entropy returns the Shannon entropy of the section's raw data.
func (s *Section) Entropy() (float64, error) {
	if s.SizeOfRawData == 0 {
		return 0, nil
	}
	data, err := s.Bytes()
	if err != nil {
		return 0, err
	}
	return CalculateEntropy(data), nil
}

// Sections is the ordered section table of an image.
type Sections struct {
	img     *Image
	headers []SectionHeader
}

// Len returns the number of sections.
func (s *Sections) Len() int {
	return len(s.headers)
}

// Headers returns a copy of the section headers.
func (s *Sections) Headers() []SectionHeader {
	out := make([]SectionHeader, len(s.headers))
	copy(out, s.headers)
	return out
}

// At materializes the section at index i.
func (s *Sections) At(i int) (*Section, error) {
	if i < 0 || i >= len(s.headers) {
		return nil, errors.Wrapf(ErrIndexOutOfRange, "节区索引 %d", i)
	}
	return s.img.materialize(s.headers[i]), nil
}

// ByName materializes the first section with the given name, compared
// case-insensitively.
func (s *Sections) ByName(name string) (*Section, bool) {
	for _, hdr := range s.headers {
		if strings.EqualFold(hdr.Name, name) {
			return s.img.materialize(hdr), true
		}
	}
	return nil, false
}

// RVAToSection materializes the section holding rva.
func (s *Sections) RVAToSection(rva uint32) (*Section, bool) {
	hdr, ok := s.img.calc.RVAToSection(rva)
	if !ok {
		return nil, false
	}
	return s.img.materialize(*hdr), true
}

// All materializes every section in table order.
func (s *Sections) All() []*Section {
	out := make([]*Section, 0, len(s.headers))
	for _, hdr := range s.headers {
		out = append(out, s.img.materialize(hdr))
	}
	return out
}

// bare builds a section without attached content.
func (img *Image) bare(hdr SectionHeader) *Section {
	return &Section{
		SectionHeader: hdr,
		img:           img,
		loc:           img.calc.sectionLocation(hdr),
	}
}

// materialize builds a section and attaches content for every present
// directory that fits inside it. A provider failure only drops that
// directory.
func (img *Image) materialize(hdr SectionHeader) *Section {
	sec := img.bare(hdr)
	for _, dir := range img.dirs {
		if dir.IsNullOrEmpty() {
			continue
		}
		if !hdr.Fits(dir) {
			if hdr.Contains(dir.VirtualAddress) && !dir.IsFileOffset() {
				log.WithFields(log.Fields{
					"kind":    dir.Kind,
					"rva":     dir.VirtualAddress,
					"size":    dir.Size,
					"section": hdr.Name,
				}).Debug("数据目录超出节区范围，跳过")
			}
			continue
		}
		p, ok := img.registry.Lookup(dir.Kind)
		if !ok {
			continue
		}
		c, err := p.Create(img, dir, sec)
		if err != nil {
			log.WithFields(log.Fields{
				"kind":    dir.Kind,
				"section": hdr.Name,
			}).WithError(err).Warn("解析数据目录失败")
			continue
		}
		sec.contents = append(sec.contents, c)
	}
	return sec
}

// alignUp rounds v up to a multiple of align.
func alignUp[V constraints.Unsigned](v, align V) V {
	if align == 0 {
		return v
	}
	return ((v + align - 1) / align) * align
}

// SectionCharacteristics groups common section characteristic combinations.
type SectionCharacteristics struct {
	Code              uint32 // Executable code section.
	InitializedData   uint32 // Initialized data section.
	UninitializedData uint32 // Uninitialized data section.
	ReadOnly          uint32 // Read-only section.
	ReadWrite         uint32 // Read-write section.
	ReadExecute       uint32 // Read-execute section.
	ReadWriteExecute  uint32 // Read-write-execute section.
}

// CommonCharacteristics provides commonly used section characteristics.
var CommonCharacteristics = SectionCharacteristics{
	Code:              pe.IMAGE_SCN_CNT_CODE | pe.IMAGE_SCN_MEM_READ | pe.IMAGE_SCN_MEM_EXECUTE,
	InitializedData:   pe.IMAGE_SCN_CNT_INITIALIZED_DATA | pe.IMAGE_SCN_MEM_READ,
	UninitializedData: pe.IMAGE_SCN_CNT_UNINITIALIZED_DATA | pe.IMAGE_SCN_MEM_READ | pe.IMAGE_SCN_MEM_WRITE,
	ReadOnly:          pe.IMAGE_SCN_CNT_INITIALIZED_DATA | pe.IMAGE_SCN_MEM_READ,
	ReadWrite:         pe.IMAGE_SCN_CNT_INITIALIZED_DATA | pe.IMAGE_SCN_MEM_READ | pe.IMAGE_SCN_MEM_WRITE,
	ReadExecute:       pe.IMAGE_SCN_CNT_CODE | pe.IMAGE_SCN_MEM_READ | pe.IMAGE_SCN_MEM_EXECUTE,
	ReadWriteExecute:  pe.IMAGE_SCN_CNT_INITIALIZED_DATA | pe.IMAGE_SCN_MEM_READ | pe.IMAGE_SCN_MEM_WRITE | pe.IMAGE_SCN_MEM_EXECUTE,
}
