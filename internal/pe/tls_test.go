package pe

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ko4life-net/pe/internal/pe/petest"
)

func TestTLS32(t *testing.T) {
	le := binary.LittleEndian
	data := make([]byte, 0x200)
	le.PutUint32(data[0:], 0x402180)  // start of template
	le.PutUint32(data[4:], 0x402190)  // end of template
	le.PutUint32(data[8:], 0x402200)  // index
	le.PutUint32(data[12:], 0x402100) // callbacks
	le.PutUint32(data[16:], 0x20)
	le.PutUint32(data[0x100:], 0x401000)
	le.PutUint32(data[0x104:], 0x401010)

	b := petest.New32(0x400000)
	b.AddSection(petest.Section{Name: ".text", VirtualAddress: 0x1000, Data: make([]byte, 0x100), Characteristics: CommonCharacteristics.Code})
	b.AddSection(petest.Section{Name: ".tls", VirtualAddress: 0x2000, Data: data, Characteristics: CommonCharacteristics.ReadWrite})
	b.SetDirectory(int(DirTLS), 0x2000, 24)

	img, err := NewBytes(b.Bytes())
	require.NoError(t, err)
	tls, err := img.TLS()
	require.NoError(t, err)

	assert.False(t, tls.Is64())
	assert.Equal(t, uint64(0x402180), tls.StartAddressOfRawData())
	assert.Equal(t, uint64(0x402190), tls.EndAddressOfRawData())
	assert.Equal(t, uint64(0x402200), tls.AddressOfIndex())
	assert.Equal(t, uint32(0x20), tls.SizeOfZeroFill())

	callbacks, err := tls.Callbacks()
	require.NoError(t, err)
	assert.Equal(t, []uint64{0x401000, 0x401010}, callbacks)
}

func TestTLS64(t *testing.T) {
	le := binary.LittleEndian
	data := make([]byte, 0x200)
	le.PutUint64(data[0:], 0x140002180)
	le.PutUint64(data[8:], 0x140002190)
	le.PutUint64(data[16:], 0x140002200)
	le.PutUint64(data[24:], 0x140002100)
	le.PutUint32(data[36:], 0x00100000)
	le.PutUint64(data[0x100:], 0x140001000)

	b := petest.New(0x140000000)
	b.AddSection(petest.Section{Name: ".text", VirtualAddress: 0x1000, Data: make([]byte, 0x100), Characteristics: CommonCharacteristics.Code})
	b.AddSection(petest.Section{Name: ".tls", VirtualAddress: 0x2000, Data: data, Characteristics: CommonCharacteristics.ReadWrite})
	b.SetDirectory(int(DirTLS), 0x2000, 40)

	img, err := NewBytes(b.Bytes())
	require.NoError(t, err)
	tls, err := img.TLS()
	require.NoError(t, err)

	assert.True(t, tls.Is64())
	assert.Equal(t, uint64(0x140002100), tls.AddressOfCallBacks())
	assert.Equal(t, uint32(0x00100000), tls.Characteristics())

	callbacks, err := tls.Callbacks()
	require.NoError(t, err)
	assert.Equal(t, []uint64{0x140001000}, callbacks)
}

func TestTLSNoCallbacks(t *testing.T) {
	b := petest.New(0x140000000)
	b.AddSection(petest.Section{Name: ".tls", VirtualAddress: 0x1000, Data: make([]byte, 0x40), Characteristics: CommonCharacteristics.ReadWrite})
	b.SetDirectory(int(DirTLS), 0x1000, 40)

	img, err := NewBytes(b.Bytes())
	require.NoError(t, err)
	tls, err := img.TLS()
	require.NoError(t, err)

	callbacks, err := tls.Callbacks()
	require.NoError(t, err)
	assert.Empty(t, callbacks)
}
