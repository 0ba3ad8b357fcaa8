package pe

import (
	"encoding/binary"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// ExportDirectory represents the PE export directory table.
type ExportDirectory struct {
	Characteristics       uint32
	TimeDateStamp         uint32
	MajorVersion          uint16
	MinorVersion          uint16
	Name                  uint32
	Base                  uint32
	NumberOfFunctions     uint32
	NumberOfNames         uint32
	AddressOfFunctions    uint32
	AddressOfNames        uint32
	AddressOfNameOrdinals uint32
}

// Export is one exported function.
type Export struct {
	Name    string
	Ordinal uint32
	RVA     uint32
	// Forwarder is set when RVA points back into the export directory.
	Forwarder string
}

// ExportContent is the decoded export directory.
type ExportContent struct {
	DataContent
	Directory ExportDirectory
	DLLName   string
	exports   []Export
}

func newExportContent(img *Image, dir DataDirectory, sec *Section) (Content, error) {
	loc, err := img.calc.Locate(dir.VirtualAddress, dir.Size)
	if err != nil {
		return nil, err
	}
	ed, err := readStruct[ExportDirectory](img.src, loc.FileOffset)
	if err != nil {
		return nil, errors.Wrap(err, "读取导出目录失败")
	}
	c := &ExportContent{
		DataContent: newDataContent(img, dir, loc),
		Directory:   *ed,
	}
	if off, err := img.offsetOf(ed.Name); err == nil {
		c.DLLName, _ = readCString(img.src, off)
	}

	if ed.NumberOfFunctions == 0 {
		return c, nil
	}
	if ed.NumberOfFunctions > 0x10000 || ed.NumberOfNames > ed.NumberOfFunctions {
		return nil, NewFormatError("导出表函数数量异常: %d/%d", ed.NumberOfNames, ed.NumberOfFunctions)
	}

	functions, err := readUint32Array(img, ed.AddressOfFunctions, ed.NumberOfFunctions)
	if err != nil {
		return nil, errors.Wrap(err, "读取导出地址表失败")
	}
	names := map[uint32]string{}
	if ed.NumberOfNames > 0 {
		namePointers, err := readUint32Array(img, ed.AddressOfNames, ed.NumberOfNames)
		if err != nil {
			return nil, errors.Wrap(err, "读取导出名称指针失败")
		}
		ordOff, err := img.offsetOf(ed.AddressOfNameOrdinals)
		if err != nil {
			return nil, errors.Wrap(err, "无法定位导出序号表")
		}
		ords, err := img.src.Bytes(ordOff, int(ed.NumberOfNames)*2)
		if err != nil {
			return nil, errors.Wrap(err, "读取导出序号表失败")
		}
		for i, nameRVA := range namePointers {
			nameOffset, err := img.offsetOf(nameRVA)
			if err != nil {
				continue
			}
			name, err := readCString(img.src, nameOffset)
			if err != nil {
				continue
			}
			names[uint32(binary.LittleEndian.Uint16(ords[i*2:]))] = name
		}
	}

	for i, rva := range functions {
		if rva == 0 {
			continue
		}
		exp := Export{
			Name:    names[uint32(i)],
			Ordinal: ed.Base + uint32(i),
			RVA:     rva,
		}
		if rva >= dir.VirtualAddress && uint64(rva) < uint64(dir.VirtualAddress)+uint64(dir.Size) {
			if off, err := img.offsetOf(rva); err == nil {
				exp.Forwarder, _ = readCString(img.src, off)
			}
		}
		c.exports = append(c.exports, exp)
	}
	log.WithField("count", len(c.exports)).Debug("已解析导出表")
	return c, nil
}

// Exports returns the exported functions in ordinal order.
func (c *ExportContent) Exports() []Export {
	out := make([]Export, len(c.exports))
	copy(out, c.exports)
	return out
}

// Names returns the names of the named exports.
func (c *ExportContent) Names() []string {
	var names []string
	for _, e := range c.exports {
		if e.Name != "" {
			names = append(names, e.Name)
		}
	}
	return names
}

func readUint32Array(img *Image, rva, count uint32) ([]uint32, error) {
	off, err := img.offsetOf(rva)
	if err != nil {
		return nil, err
	}
	b, err := img.src.Bytes(off, int(count)*4)
	if err != nil {
		return nil, err
	}
	out := make([]uint32, count)
	for i := range out {
		out[i] = binary.LittleEndian.Uint32(b[i*4:])
	}
	return out, nil
}
