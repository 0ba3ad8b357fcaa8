package pe

import (
	"github.com/pkg/errors"
)

// CodeCave is a run of one fill byte inside a section's raw data.
type CodeCave struct {
	Section  string `json:"section" yaml:"section"`
	Offset   uint32 `json:"offset" yaml:"offset"`
	RVA      uint32 `json:"rva" yaml:"rva"`
	Size     uint32 `json:"size" yaml:"size"`
	FillByte byte   `json:"fill_byte" yaml:"fill_byte"`
}

// caveFill reports whether b is a byte compilers and linkers pad with.
func caveFill(b byte) bool {
	return b == 0x00 || b == 0xCC
}

// FindCodeCaves searches every section for runs of at least minSize fill bytes.
func (img *Image) FindCodeCaves(minSize uint32) ([]CodeCave, error) {
	var caves []CodeCave
	for _, hdr := range img.headers {
		found, err := img.bare(hdr).CodeCaves(minSize)
		if err != nil {
			return nil, errors.Wrapf(err, "扫描节区 %s 失败", hdr.Name)
		}
		caves = append(caves, found...)
	}
	return caves, nil
}

// CodeCaves returns the runs of a single 0x00 or 0xCC byte at least
// minSize long in the section's raw data.
func (s *Section) CodeCaves(minSize uint32) ([]CodeCave, error) {
	if s.SizeOfRawData == 0 {
		return nil, nil
	}
	data, err := s.Bytes()
	if err != nil {
		return nil, err
	}

	var caves []CodeCave
	for i := 0; i < len(data); {
		fill := data[i]
		if !caveFill(fill) {
			i++
			continue
		}
		j := i + 1
		for j < len(data) && data[j] == fill {
			j++
		}
		if uint32(j-i) >= minSize {
			caves = append(caves, CodeCave{
				Section:  s.Name,
				Offset:   s.PointerToRawData + uint32(i),
				RVA:      s.VirtualAddress + uint32(i),
				Size:     uint32(j - i),
				FillByte: fill,
			})
		}
		i = j
	}
	return caves, nil
}
