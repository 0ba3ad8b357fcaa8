package pe

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ko4life-net/pe/internal/pe/petest"
)

func TestCalculateEntropy(t *testing.T) {
	uniform := make([]byte, 256)
	for i := range uniform {
		uniform[i] = byte(i)
	}

	assert.Zero(t, CalculateEntropy(nil))
	assert.Zero(t, CalculateEntropy(bytes.Repeat([]byte{0xCC}, 64)))
	assert.InDelta(t, 1.0, CalculateEntropy([]byte{0, 1, 0, 1}), 1e-9)
	assert.InDelta(t, 3.0, CalculateEntropy([]byte{0, 1, 2, 3, 4, 5, 6, 7}), 1e-9)
	assert.InDelta(t, 8.0, CalculateEntropy(uniform), 1e-9)

	text := CalculateEntropy([]byte("Hello World! This is a test string."))
	assert.Greater(t, text, 3.5)
	assert.Less(t, text, 5.0)
}

func TestEntropyLevel(t *testing.T) {
	assert.Equal(t, "正常", EntropyLevel(4.2))
	assert.Equal(t, "中 (可能压缩)", EntropyLevel(EntropyCompressed))
	assert.Equal(t, "高 (可能加壳/加密)", EntropyLevel(7.9))
}

func TestSectionEntropy(t *testing.T) {
	data := make([]byte, 0x200)
	for i := range data {
		data[i] = byte(i)
	}
	b := petest.New(0x400000)
	b.AddSection(petest.Section{Name: ".text", VirtualAddress: 0x1000, Data: data, Characteristics: CommonCharacteristics.Code})
	b.AddSection(petest.Section{Name: ".bss", VirtualAddress: 0x2000, VirtualSize: 0x100, Characteristics: CommonCharacteristics.ReadWrite})
	img, err := NewBytes(b.Bytes())
	require.NoError(t, err)

	text, ok := img.Sections().ByName(".text")
	require.True(t, ok)
	e, err := text.Entropy()
	require.NoError(t, err)
	assert.InDelta(t, 8.0, e, 1e-9)

	bss, ok := img.Sections().ByName(".bss")
	require.True(t, ok)
	e, err = bss.Entropy()
	require.NoError(t, err)
	assert.Zero(t, e)
}
