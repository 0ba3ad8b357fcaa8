package pe

import (
	"debug/pe"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ko4life-net/pe/internal/pe/petest"
)

func TestGetSectionPermissions(t *testing.T) {
	tests := []struct {
		char uint32
		want string
	}{
		{pe.IMAGE_SCN_MEM_READ, "R--"},
		{pe.IMAGE_SCN_MEM_READ | pe.IMAGE_SCN_MEM_WRITE, "RW-"},
		{pe.IMAGE_SCN_MEM_READ | pe.IMAGE_SCN_MEM_EXECUTE, "R-X"},
		{pe.IMAGE_SCN_MEM_READ | pe.IMAGE_SCN_MEM_WRITE | pe.IMAGE_SCN_MEM_EXECUTE, "RWX"},
		{pe.IMAGE_SCN_MEM_WRITE | pe.IMAGE_SCN_MEM_EXECUTE, "-WX"},
		{0, "---"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, getSectionPermissions(tt.char), "characteristics 0x%08X", tt.char)
	}
}

func TestGetSubsystem(t *testing.T) {
	assert.Equal(t, "Windows GUI", getSubsystem(pe.IMAGE_SUBSYSTEM_WINDOWS_GUI))
	assert.Equal(t, "Windows 控制台", getSubsystem(pe.IMAGE_SUBSYSTEM_WINDOWS_CUI))
	assert.Equal(t, "Native", getSubsystem(pe.IMAGE_SUBSYSTEM_NATIVE))
	assert.Equal(t, "未知 (0xFF)", getSubsystem(0xFF))
}

func TestAnalyze(t *testing.T) {
	img := directoriesImage(t)
	info, err := Analyze(img)
	require.NoError(t, err)

	assert.Equal(t, "x64 (64位)", info.Architecture)
	assert.Equal(t, "Windows GUI", info.Subsystem)
	assert.Equal(t, uint64(0x140000000), info.ImageBase)
	require.NotNil(t, info.Checksum)
	assert.True(t, info.Checksum.Valid)

	require.Len(t, info.Sections, 4)
	assert.Equal(t, ".idata", info.Sections[2].Name)
	assert.Equal(t, "RW-", info.Sections[2].Permissions)
	assert.Equal(t, []string{"Import"}, info.Sections[2].Contents)

	require.Len(t, info.Imports, 1)
	assert.Equal(t, "user32.dll", info.Imports[0].DLL)
	assert.Equal(t, []string{"Alpha", "Gamma"}, info.Exports)
	assert.Len(t, info.Directories, NumDirectories)
}

func TestAnalyze32(t *testing.T) {
	b := petest.New32(0x400000)
	b.AddSection(petest.Section{Name: ".text", VirtualAddress: 0x1000, Data: make([]byte, 0x40), Characteristics: CommonCharacteristics.Code})
	img, err := NewBytes(b.Bytes())
	require.NoError(t, err)

	info, err := Analyze(img)
	require.NoError(t, err)
	assert.Equal(t, "x86 (32位)", info.Architecture)
	assert.Equal(t, "Windows 控制台", info.Subsystem)
	assert.Empty(t, info.Imports)
	assert.Empty(t, info.Exports)
	assert.Empty(t, info.Certificates)
}

func TestFindCodeCaves(t *testing.T) {
	data := make([]byte, 0x200)
	copy(data[0:], []byte{0x90, 0x90, 0x90, 0x90, 0x90, 0x90, 0x90, 0x90, 0x90, 0x90, 0x90, 0x90, 0x90, 0x90, 0x90, 0x90})
	for i := 16; i < 56; i++ {
		data[i] = 0xCC
	}
	// 56..96 stays zero.
	for i := 96; i < 104; i++ {
		data[i] = 0x90
	}
	for i := 104; i < 0x200; i++ {
		data[i] = 0x55
	}
	data[0x1F0] = 0

	b := petest.New(0x140000000)
	b.AddSection(petest.Section{Name: ".text", VirtualAddress: 0x1000, Data: data, Characteristics: CommonCharacteristics.Code})
	img, err := NewBytes(b.Bytes())
	require.NoError(t, err)

	caves, err := img.FindCodeCaves(32)
	require.NoError(t, err)
	off := b.SectionOffset(0)
	assert.Equal(t, []CodeCave{
		{Section: ".text", Offset: off + 16, RVA: 0x1010, Size: 40, FillByte: 0xCC},
		{Section: ".text", Offset: off + 56, RVA: 0x1038, Size: 40, FillByte: 0x00},
	}, caves)

	caves, err = img.FindCodeCaves(64)
	require.NoError(t, err)
	assert.Empty(t, caves)
}
