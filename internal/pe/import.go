package pe

import (
	"encoding/binary"
	"fmt"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// ImportDescriptor is an IMAGE_IMPORT_DESCRIPTOR.
type ImportDescriptor struct {
	OriginalFirstThunk uint32
	TimeDateStamp      uint32
	ForwarderChain     uint32
	Name               uint32
	FirstThunk         uint32
}

const importDescriptorSize = 20

// ImportFunction represents an imported function.
type ImportFunction struct {
	Name        string
	Ordinal     uint16
	IsByOrdinal bool
	Hint        uint16
}

func (f ImportFunction) String() string {
	if f.IsByOrdinal {
		return fmt.Sprintf("Ordinal_%d", f.Ordinal)
	}
	return f.Name
}

// ImportInfo contains information about imported DLL and functions.
type ImportInfo struct {
	Descriptor ImportDescriptor
	DLL        string
	Functions  []ImportFunction
}

// ImportContent is the decoded import directory.
type ImportContent struct {
	DataContent
	imports []ImportInfo
}

// Limits for malformed tables.
const (
	maxImportDescriptors = 4096
	maxImportThunks      = 10000
)

func newImportContent(img *Image, dir DataDirectory, sec *Section) (Content, error) {
	loc, err := img.calc.Locate(dir.VirtualAddress, dir.Size)
	if err != nil {
		return nil, err
	}
	c := &ImportContent{DataContent: newDataContent(img, dir, loc)}

	offset := int64(loc.FileOffset)
	for i := 0; i < maxImportDescriptors; i++ {
		desc, err := readStruct[ImportDescriptor](img.src, offset)
		if err != nil {
			return nil, errors.Wrap(err, "读取导入描述符失败")
		}
		// Null descriptor marks end.
		if desc.OriginalFirstThunk == 0 && desc.Name == 0 && desc.FirstThunk == 0 {
			break
		}
		offset += importDescriptorSize

		info := ImportInfo{Descriptor: *desc}
		nameOff, err := img.offsetOf(desc.Name)
		if err != nil {
			log.WithError(err).Debug("导入DLL名称不在任何节区内")
			continue
		}
		if info.DLL, err = readCString(img.src, nameOff); err != nil {
			continue
		}

		// Prefer the INT; fall back to the IAT for binders that drop it.
		thunks := desc.OriginalFirstThunk
		if thunks == 0 {
			thunks = desc.FirstThunk
		}
		info.Functions, err = c.readThunks(thunks)
		if err != nil {
			log.WithError(err).WithField("dll", info.DLL).Debug("读取导入函数失败")
		}
		c.imports = append(c.imports, info)
	}
	return c, nil
}

func (c *ImportContent) readThunks(rva uint32) ([]ImportFunction, error) {
	offset, err := c.img.offsetOf(rva)
	if err != nil {
		return nil, err
	}
	ptrSize := int64(4)
	ordinalFlag := uint64(0x80000000)
	if c.img.is64 {
		ptrSize = 8
		ordinalFlag = 0x8000000000000000
	}

	var functions []ImportFunction
	for len(functions) < maxImportThunks {
		b, err := c.img.src.Bytes(offset, int(ptrSize))
		if err != nil {
			return functions, err
		}
		var thunk uint64
		if ptrSize == 8 {
			thunk = binary.LittleEndian.Uint64(b)
		} else {
			thunk = uint64(binary.LittleEndian.Uint32(b))
		}
		if thunk == 0 {
			break
		}
		functions = append(functions, c.parseImportFunction(thunk, ordinalFlag))
		offset += ptrSize
	}
	return functions, nil
}

// parseImportFunction parses function information from thunk data.
func (c *ImportContent) parseImportFunction(thunkData, ordinalFlag uint64) ImportFunction {
	var fn ImportFunction

	if thunkData&ordinalFlag != 0 {
		fn.IsByOrdinal = true
		fn.Ordinal = uint16(thunkData & 0xFFFF)
		return fn
	}

	nameOffset, err := c.img.offsetOf(uint32(thunkData))
	if err != nil {
		return fn
	}
	if hint, err := c.img.src.Bytes(nameOffset, 2); err == nil {
		fn.Hint = binary.LittleEndian.Uint16(hint)
	}
	if name, err := readCString(c.img.src, nameOffset+2); err == nil {
		fn.Name = name
	}
	return fn
}

// Imports returns the imported DLLs in descriptor order.
func (c *ImportContent) Imports() []ImportInfo {
	out := make([]ImportInfo, len(c.imports))
	copy(out, c.imports)
	return out
}
