package pe

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ko4life-net/pe/internal/pe/petest"
)

// importingImage builds an image whose import table names dlls.
func importingImage(dlls ...string) []byte {
	le := binary.LittleEndian
	idata := make([]byte, 0x400)
	const thunks = 0x3300
	for i, dll := range dlls {
		desc := idata[i*importDescriptorSize:]
		name := uint32(0x3100 + i*0x20)
		le.PutUint32(desc[0:], thunks)
		le.PutUint32(desc[12:], name)
		le.PutUint32(desc[16:], thunks)
		copy(idata[name-0x3000:], dll+"\x00")
	}
	b := petest.New(0x140000000)
	b.AddSection(petest.Section{Name: ".text", VirtualAddress: 0x1000, Data: make([]byte, 0x100), Characteristics: CommonCharacteristics.Code})
	b.AddSection(petest.Section{Name: ".idata", VirtualAddress: 0x3000, Data: idata, Characteristics: CommonCharacteristics.ReadWrite})
	b.SetDirectory(int(DirImport), 0x3000, uint32(len(dlls)+1)*importDescriptorSize)
	return b.Bytes()
}

func TestAnalyzeDependencies(t *testing.T) {
	dir := t.TempDir()
	write := func(name string, data []byte) string {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, data, 0o644))
		return p
	}
	app := write("app.exe", importingImage("Helper.DLL", "KERNEL32.dll", "missing.dll"))
	write("helper.dll", importingImage("core.dll"))
	write("core.dll", importingImage("helper.dll"))

	a, err := AnalyzeDependencies(app, 5, []string{})
	require.NoError(t, err)

	root := a.Root
	assert.Equal(t, "app.exe", root.Name)
	require.Len(t, root.Dependencies, 3)

	helper := root.Dependencies[0]
	assert.Equal(t, "helper.dll", helper.Name)
	assert.True(t, helper.Found)
	assert.Equal(t, filepath.Join(dir, "helper.dll"), helper.Path)
	require.Len(t, helper.Dependencies, 1)
	core := helper.Dependencies[0]
	assert.Equal(t, "core.dll", core.Name)
	require.Len(t, core.Dependencies, 1)
	assert.True(t, core.Dependencies[0].Cycle)
	assert.Empty(t, core.Dependencies[0].Dependencies)

	kernel := root.Dependencies[1]
	assert.True(t, kernel.System)
	assert.Equal(t, SystemPath, kernel.Path)

	missing := root.Dependencies[2]
	assert.False(t, missing.Found)

	assert.Equal(t, []string{"missing.dll"}, a.Missing)
	assert.True(t, a.Cycles)
	assert.Equal(t, 3, a.MaxDepth)
	assert.Equal(t, SystemPath, a.AllDeps["kernel32.dll"])
	assert.Len(t, a.AllDeps, 4)
}

func TestAnalyzeDependenciesDepthLimit(t *testing.T) {
	dir := t.TempDir()
	app := filepath.Join(dir, "app.exe")
	require.NoError(t, os.WriteFile(app, importingImage("helper.dll"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "helper.dll"), importingImage("core.dll"), 0o644))

	a, err := AnalyzeDependencies(app, 1, []string{})
	require.NoError(t, err)
	require.Len(t, a.Root.Dependencies, 1)
	assert.True(t, a.Root.Dependencies[0].Found)
	assert.Empty(t, a.Root.Dependencies[0].Dependencies)
	assert.Equal(t, 1, a.MaxDepth)
}

func TestAnalyzeDependenciesNoImports(t *testing.T) {
	b := petest.New(0x400000)
	b.AddSection(petest.Section{Name: ".text", VirtualAddress: 0x1000, Data: make([]byte, 0x10), Characteristics: CommonCharacteristics.Code})
	p := filepath.Join(t.TempDir(), "plain.exe")
	require.NoError(t, os.WriteFile(p, b.Bytes(), 0o644))

	a, err := AnalyzeDependencies(p, 3, nil)
	require.NoError(t, err)
	assert.Empty(t, a.Root.Dependencies)
	assert.Empty(t, a.Missing)
}

func TestIsSystemDLL(t *testing.T) {
	assert.True(t, IsSystemDLL("KERNEL32.DLL"))
	assert.True(t, IsSystemDLL("api-ms-win-crt-runtime-l1-1-0.dll"))
	assert.False(t, IsSystemDLL("helper.dll"))
}
