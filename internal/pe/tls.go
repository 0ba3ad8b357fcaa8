package pe

import (
	"encoding/binary"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// IMAGE_TLS_DIRECTORY32 structure.
type tlsDirectory32 struct {
	StartAddressOfRawData uint32
	EndAddressOfRawData   uint32
	AddressOfIndex        uint32
	AddressOfCallBacks    uint32
	SizeOfZeroFill        uint32
	Characteristics       uint32
}

// IMAGE_TLS_DIRECTORY64 structure.
type tlsDirectory64 struct {
	StartAddressOfRawData uint64
	EndAddressOfRawData   uint64
	AddressOfIndex        uint64
	AddressOfCallBacks    uint64
	SizeOfZeroFill        uint32
	Characteristics       uint32
}

// maxTLSCallbacks bounds the null-terminated callback array.
const maxTLSCallbacks = 100

// TLSContent is the decoded TLS directory. Exactly one of the 32-bit and
// 64-bit layouts is set, chosen by the image bitness.
type TLSContent struct {
	DataContent
	dir32 *tlsDirectory32
	dir64 *tlsDirectory64
}

func newTLSContent(img *Image, dir DataDirectory, sec *Section) (Content, error) {
	loc, err := img.calc.Locate(dir.VirtualAddress, dir.Size)
	if err != nil {
		return nil, err
	}
	c := &TLSContent{DataContent: newDataContent(img, dir, loc)}
	if img.is64 {
		c.dir64, err = readStruct[tlsDirectory64](img.src, loc.FileOffset)
	} else {
		c.dir32, err = readStruct[tlsDirectory32](img.src, loc.FileOffset)
	}
	if err != nil {
		return nil, errors.Wrap(err, "读取TLS目录失败")
	}
	return c, nil
}

// Is64 reports whether the directory uses the 64-bit layout.
func (c *TLSContent) Is64() bool {
	return c.dir64 != nil
}

// StartAddressOfRawData returns the VA of the TLS template start.
func (c *TLSContent) StartAddressOfRawData() uint64 {
	if c.dir64 != nil {
		return c.dir64.StartAddressOfRawData
	}
	return uint64(c.dir32.StartAddressOfRawData)
}

// EndAddressOfRawData returns the VA of the TLS template end.
func (c *TLSContent) EndAddressOfRawData() uint64 {
	if c.dir64 != nil {
		return c.dir64.EndAddressOfRawData
	}
	return uint64(c.dir32.EndAddressOfRawData)
}

// AddressOfIndex returns the VA of the TLS index slot.
func (c *TLSContent) AddressOfIndex() uint64 {
	if c.dir64 != nil {
		return c.dir64.AddressOfIndex
	}
	return uint64(c.dir32.AddressOfIndex)
}

// AddressOfCallBacks returns the VA of the callback array.
func (c *TLSContent) AddressOfCallBacks() uint64 {
	if c.dir64 != nil {
		return c.dir64.AddressOfCallBacks
	}
	return uint64(c.dir32.AddressOfCallBacks)
}

// SizeOfZeroFill returns the size of the zero-filled tail.
func (c *TLSContent) SizeOfZeroFill() uint32 {
	if c.dir64 != nil {
		return c.dir64.SizeOfZeroFill
	}
	return c.dir32.SizeOfZeroFill
}

// Characteristics returns the TLS characteristics field.
func (c *TLSContent) Characteristics() uint32 {
	if c.dir64 != nil {
		return c.dir64.Characteristics
	}
	return c.dir32.Characteristics
}

// Callbacks reads the null-terminated callback VA array. An array that
// is not backed by file data yields no callbacks.
func (c *TLSContent) Callbacks() ([]uint64, error) {
	va := c.AddressOfCallBacks()
	if va == 0 {
		return nil, nil
	}
	rva, ok := c.img.calc.VAToRVA(va)
	if !ok {
		return nil, errors.Wrapf(ErrUnresolvedDirectory, "TLS回调数组 VA 0x%X 低于映像基址", va)
	}
	offset, err := c.img.offsetOf(rva)
	if err != nil {
		return nil, err
	}

	ptrSize := 4
	if c.Is64() {
		ptrSize = 8
	}
	var callbacks []uint64
	for i := 0; i < maxTLSCallbacks; i++ { // Max 100 callbacks to prevent infinite loop
		b, err := c.img.src.Bytes(offset+int64(i*ptrSize), ptrSize)
		if err != nil {
			log.WithError(err).Debug("TLS回调数组被截断")
			break
		}
		var callback uint64
		if ptrSize == 8 {
			callback = binary.LittleEndian.Uint64(b)
		} else {
			callback = uint64(binary.LittleEndian.Uint32(b))
		}
		if callback == 0 {
			break
		}
		callbacks = append(callbacks, callback)
	}
	return callbacks, nil
}
