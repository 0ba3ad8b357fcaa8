package resources

import (
	"bytes"
	"encoding/binary"
	"testing"
	"unicode/utf16"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ko4life-net/pe/internal/pe"
	"github.com/ko4life-net/pe/internal/pe/petest"
)

func utf16z(s string) []byte {
	u := utf16.Encode([]rune(s))
	b := make([]byte, 2*len(u)+2)
	for i, c := range u {
		binary.LittleEndian.PutUint16(b[2*i:], c)
	}
	return b
}

func pad4(b *bytes.Buffer) {
	for b.Len()%4 != 0 {
		b.WriteByte(0)
	}
}

// versionNode encodes one VS_VERSIONINFO block. A text value is given as a
// string, a binary value as bytes.
func versionNode(key string, value interface{}, children ...[]byte) []byte {
	var b bytes.Buffer
	b.Write(make([]byte, 6))
	b.Write(utf16z(key))
	pad4(&b)
	var valueLength, typ uint16
	switch v := value.(type) {
	case string:
		enc := utf16z(v)
		b.Write(enc)
		valueLength, typ = uint16(len(enc)/2), 1
	case []byte:
		b.Write(v)
		valueLength = uint16(len(v))
	}
	for _, c := range children {
		pad4(&b)
		b.Write(c)
	}
	out := b.Bytes()
	le := binary.LittleEndian
	le.PutUint16(out[0:], uint16(len(out)))
	le.PutUint16(out[2:], valueLength)
	le.PutUint16(out[4:], typ)
	return out
}

func fixedInfo(fileMS, fileLS uint32) []byte {
	b := make([]byte, fixedFileInfoSize)
	le := binary.LittleEndian
	le.PutUint32(b[0:], fixedFileInfoSignature)
	le.PutUint32(b[4:], 0x00010000)
	le.PutUint32(b[8:], fileMS)
	le.PutUint32(b[12:], fileLS)
	le.PutUint32(b[16:], fileMS)
	le.PutUint32(b[20:], fileLS)
	return b
}

func sampleVersionInfo() []byte {
	return versionNode("VS_VERSION_INFO", fixedInfo(0x00020001, 0x00040003),
		versionNode("StringFileInfo", nil,
			versionNode("040904B0", nil,
				versionNode("CompanyName", "Acme"),
				versionNode("FileVersion", "1.2.3.4"),
				versionNode("ProductName", "Widget"),
			),
		),
		versionNode("VarFileInfo", nil,
			versionNode("Translation", []byte{0x09, 0x04, 0xB0, 0x04}),
		),
	)
}

func TestParseVersionInfo(t *testing.T) {
	info, err := ParseVersionInfo(sampleVersionInfo())
	require.NoError(t, err)

	require.NotNil(t, info.Fixed)
	assert.Equal(t, "2.1.4.3", info.Fixed.FileVersion())
	assert.Equal(t, "1.2.3.4", info.FileVersion)
	// No ProductVersion string: the fixed info fills it in.
	assert.Equal(t, "2.1.4.3", info.ProductVersion)
	assert.Equal(t, "Acme", info.CompanyName)
	assert.Equal(t, "Widget", info.ProductName)

	require.Len(t, info.StringTables, 1)
	assert.Equal(t, "040904B0", info.StringTables[0].Key)
	assert.Len(t, info.StringTables[0].Values, 3)
	assert.Equal(t, []Translation{{Language: 0x0409, CodePage: 0x04B0}}, info.Translations)
}

func TestParseVersionInfoRejectsMalformed(t *testing.T) {
	_, err := ParseVersionInfo(versionNode("NOT_VERSION", fixedInfo(0, 0)))
	assert.ErrorIs(t, err, pe.ErrFormatMismatch)

	badSig := fixedInfo(0, 0)
	badSig[0] = 0
	_, err = ParseVersionInfo(versionNode("VS_VERSION_INFO", badSig))
	assert.ErrorIs(t, err, pe.ErrFormatMismatch)

	data := sampleVersionInfo()
	_, err = ParseVersionInfo(data[:len(data)-8])
	assert.ErrorIs(t, err, pe.ErrTruncatedInput)

	_, err = ParseVersionInfo([]byte{1, 2})
	assert.ErrorIs(t, err, pe.ErrTruncatedInput)
}

func TestVersionResource(t *testing.T) {
	rc := resourceContent(t, []petest.Resource{
		{Type: uint16(RT_VERSION), ID: 1, Lang: langEnUS, Data: sampleVersionInfo()},
	})
	res, ok := Lookup(rc, RT_VERSION.ID(), pe.IntResource(1))
	require.True(t, ok)

	info, err := NewVersion(res).Info(LanguageDefault)
	require.NoError(t, err)
	assert.Equal(t, "Acme", info.CompanyName)
}
