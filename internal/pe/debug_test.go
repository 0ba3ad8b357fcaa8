package pe

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ko4life-net/pe/internal/pe/petest"
)

func TestDebugCodeView(t *testing.T) {
	b := petest.New(0x140000000)
	b.AddSection(petest.Section{Name: ".text", VirtualAddress: 0x1000, Data: make([]byte, 0x100), Characteristics: CommonCharacteristics.Code})
	rdata := make([]byte, 0x200)
	b.AddSection(petest.Section{Name: ".rdata", VirtualAddress: 0x2000, Data: rdata, Characteristics: CommonCharacteristics.ReadOnly})
	b.SetDirectory(int(DirDebug), 0x2000, 2*debugDirectorySize)

	le := binary.LittleEndian
	cv := []byte{
		'R', 'S', 'D', 'S',
		0x78, 0x56, 0x34, 0x12, 0xBC, 0x9A, 0xF0, 0xDE,
		0x11, 0x22, 0x33, 0x44, 0x55, 0x66, 0x77, 0x88,
		2, 0, 0, 0,
	}
	cv = append(cv, "C:\\build\\app.pdb\x00"...)
	copy(rdata[0x80:], cv)

	// The first entry is a repro marker without data.
	le.PutUint32(rdata[4:], 0x60000000)
	le.PutUint32(rdata[12:], uint32(DebugTypeRepro))
	// The second entry points at the CodeView record.
	e := rdata[debugDirectorySize:]
	le.PutUint32(e[4:], 0x60000000)
	le.PutUint32(e[12:], uint32(DebugTypeCodeView))
	le.PutUint32(e[16:], uint32(len(cv)))
	le.PutUint32(e[20:], 0x2080)
	le.PutUint32(e[24:], b.SectionOffset(1)+0x80)

	img, err := NewBytes(b.Bytes())
	require.NoError(t, err)
	dc, err := img.Debug()
	require.NoError(t, err)

	entries := dc.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, DebugTypeRepro, entries[0].Type)
	assert.Equal(t, "REPRO", entries[0].Type.String())
	assert.Equal(t, int64(0x60000000), entries[0].TimeDateStamp.Unix())
	_, err = entries[0].Bytes()
	assert.ErrorIs(t, err, ErrNotPresent)
	_, err = entries[0].CodeView()
	assert.ErrorIs(t, err, ErrNotPresent)

	loc := entries[1].Location()
	assert.Equal(t, uint32(0x2080), loc.RVA)

	info, err := dc.CodeView()
	require.NoError(t, err)
	assert.Equal(t, "12345678-9abc-def0-1122-334455667788", info.GUID.String())
	assert.Equal(t, uint32(2), info.Age)
	assert.Equal(t, `C:\build\app.pdb`, info.PDBPath)
	assert.Equal(t, "123456789ABCDEF011223344556677882", info.Identifier())
}

func TestParseCodeViewRejectsOtherSignatures(t *testing.T) {
	nb10 := make([]byte, 32)
	copy(nb10, "NB10")
	_, err := parseCodeView(nb10)
	require.ErrorIs(t, err, ErrFormatMismatch)

	_, err = parseCodeView([]byte("RSDS"))
	require.ErrorIs(t, err, ErrTruncatedInput)
}

func TestDebugTypeString(t *testing.T) {
	assert.Equal(t, "CODEVIEW", DebugTypeCodeView.String())
	assert.Equal(t, "UNKNOWN(99)", DebugType(99).String())
}
