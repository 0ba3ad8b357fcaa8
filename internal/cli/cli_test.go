package cli

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ko4life-net/pe/internal/pe"
	"github.com/ko4life-net/pe/internal/pe/petest"
	"github.com/ko4life-net/pe/internal/resources"
)

const imageBase = 0x140000000

// cursorResources returns a cursor group 100 with one 32x32 cursor.
func cursorResources() []petest.Resource {
	le := binary.LittleEndian
	dib := make([]byte, 48)
	le.PutUint32(dib[0:], 40)
	le.PutUint16(dib[12:], 1)
	le.PutUint16(dib[14:], 1)

	cursor := make([]byte, 4, 4+len(dib))
	le.PutUint16(cursor[0:], 7)
	le.PutUint16(cursor[2:], 9)
	cursor = append(cursor, dib...)

	group := make([]byte, 6+14)
	le.PutUint16(group[2:], 2)
	le.PutUint16(group[4:], 1)
	le.PutUint16(group[6:], 32)
	le.PutUint16(group[8:], 64)
	le.PutUint16(group[10:], 1)
	le.PutUint16(group[12:], 1)
	le.PutUint32(group[14:], uint32(len(cursor)))
	le.PutUint16(group[18:], 1)

	return []petest.Resource{
		{Type: uint16(resources.RT_GROUP_CURSOR), ID: 100, Lang: 0x0409, Data: group},
		{Type: uint16(resources.RT_CURSOR), ID: 1, Lang: 0x0409, Data: cursor},
		{Type: uint16(resources.RT_RCDATA), Name: "CONFIG", Lang: 0x0409, Data: []byte("key=value")},
	}
}

func writeImage(t *testing.T) (string, *petest.Builder) {
	t.Helper()
	b := petest.New(imageBase)
	b.AddSection(petest.Section{Name: ".text", VirtualAddress: 0x1000, Data: bytes.Repeat([]byte{0x90}, 0x100), Characteristics: 0x60000020})
	b.WithResources(0x2000, cursorResources())
	path := filepath.Join(t.TempDir(), "sample.exe")
	require.NoError(t, os.WriteFile(path, b.Bytes(), 0o600))
	return path, b
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := NewRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestLocateCommand(t *testing.T) {
	path, b := writeImage(t)

	out, err := run(t, "locate", path, "0x1010", "-o", "json")
	require.NoError(t, err)
	var views []locationView
	require.NoError(t, json.Unmarshal([]byte(out), &views))
	require.Len(t, views, 1)
	assert.Equal(t, uint64(b.SectionOffset(0))+0x10, views[0].Offset)
	assert.Equal(t, uint64(imageBase+0x1010), views[0].VA)
	assert.Equal(t, ".text", views[0].Section)

	out, err = run(t, "locate", path, "--from", "va", "0x140002004", "-o", "json")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &views))
	assert.Equal(t, uint32(0x2004), views[0].RVA)
	assert.Equal(t, ".rsrc", views[0].Section)

	_, err = run(t, "locate", path, "0x9000")
	assert.Error(t, err)
	_, err = run(t, "locate", path, "--from", "file", "0x10")
	assert.Error(t, err)
}

func TestDirsCommand(t *testing.T) {
	path, _ := writeImage(t)

	out, err := run(t, "dirs", path, "-o", "json")
	require.NoError(t, err)
	var dirs []struct {
		Kind    string `json:"kind"`
		Section string `json:"section"`
		Status  string `json:"status"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &dirs))
	require.Len(t, dirs, 16)
	assert.Equal(t, "Resource", dirs[2].Kind)
	assert.Equal(t, ".rsrc", dirs[2].Section)
	assert.Equal(t, "decoded", dirs[2].Status)
	assert.Equal(t, "absent", dirs[0].Status)
}

func TestResourcesCommand(t *testing.T) {
	path, _ := writeImage(t)

	out, err := run(t, "resources", path, "-o", "json")
	require.NoError(t, err)
	var views []resourceView
	require.NoError(t, json.Unmarshal([]byte(out), &views))
	require.Len(t, views, 3)

	byType := make(map[string]resourceView)
	for _, v := range views {
		byType[v.Type] = v
	}
	assert.Equal(t, "*resources.CursorGroupResource", byType["RT_GROUP_CURSOR"].Decoder)
	assert.Equal(t, "CONFIG", byType["RT_RCDATA"].Name)
	assert.Empty(t, byType["RT_RCDATA"].Decoder)
	assert.Equal(t, uint16(0x0409), byType["RT_CURSOR"].Language)

	out, err = run(t, "resources", path)
	require.NoError(t, err)
	assert.Contains(t, out, "CursorGroupResource")
}

func TestExtractCommand(t *testing.T) {
	path, _ := writeImage(t)
	dir := filepath.Join(t.TempDir(), "out")

	out, err := run(t, "extract", path, "--extract.dir", dir, "--extract.workers", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "已导出 3 个资源")

	data, err := os.ReadFile(filepath.Join(dir, "RT_GROUP_CURSOR_100_0409.cur"))
	require.NoError(t, err)
	c, err := resources.ParseContainer(data)
	require.NoError(t, err)
	require.Len(t, c.Entries, 1)
	assert.Equal(t, uint16(7), c.Entries[0].PlanesOrHotspotX)
	assert.Equal(t, uint32(6+16), c.Entries[0].Offset)

	raw, err := os.ReadFile(filepath.Join(dir, "RT_RCDATA_CONFIG_0409.bin"))
	require.NoError(t, err)
	assert.Equal(t, "key=value", string(raw))

	// A language the image does not carry extracts nothing.
	out, err = run(t, "extract", path, "--extract.dir", dir, "--resources.language", "0x0419")
	require.NoError(t, err)
	assert.Contains(t, out, "已导出 0 个资源")
}

func TestSysoCommand(t *testing.T) {
	path, _ := writeImage(t)
	output := filepath.Join(t.TempDir(), "rsrc_windows_amd64.syso")

	_, err := run(t, "syso", path, "-O", output, "--arch", "amd64")
	require.NoError(t, err)
	data, err := os.ReadFile(output)
	require.NoError(t, err)
	assert.Equal(t, uint16(0x8664), binary.LittleEndian.Uint16(data))
}

func TestInfoCommand(t *testing.T) {
	path, _ := writeImage(t)

	out, err := run(t, "info", path, "--explain", "--caves")
	require.NoError(t, err)
	assert.Contains(t, out, "【节区信息】(共 2 个)")
	assert.Contains(t, out, DescribeField("entry_point"))
	assert.Contains(t, out, "【Code Caves】")

	out, err = run(t, "info", path, "-o", "yaml")
	require.NoError(t, err)
	assert.Contains(t, out, "file_path: "+path)
}

func TestFieldsCommand(t *testing.T) {
	out, err := run(t, "fields")
	require.NoError(t, err)
	for _, name := range FieldNames() {
		assert.Contains(t, out, name)
	}
	assert.Equal(t, "无说明", DescribeField("no_such_field"))
}

func TestMissingFile(t *testing.T) {
	_, err := run(t, "sections", filepath.Join(t.TempDir(), "missing.exe"))
	assert.Error(t, err)
}

func TestDepsCommand(t *testing.T) {
	path, _ := writeImage(t)

	out, err := run(t, "deps", path, "--search", t.TempDir(), "-o", "json")
	require.NoError(t, err)
	var a struct {
		Root struct {
			Name  string `json:"name"`
			Found bool   `json:"found"`
		} `json:"root"`
		Missing []string `json:"missing"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &a))
	assert.Equal(t, "sample.exe", a.Root.Name)
	assert.True(t, a.Root.Found)
	assert.Empty(t, a.Missing)

	out, err = run(t, "deps", path, "--search", t.TempDir())
	require.NoError(t, err)
	assert.Contains(t, out, "sample.exe")
	assert.Contains(t, out, "总计依赖: 0 个")
}

func TestDumpCommand(t *testing.T) {
	path, _ := writeImage(t)

	out, err := run(t, "dump", path, "--section", ".text", "--size", "16")
	require.NoError(t, err)
	assert.Contains(t, out, "节区: .text")
	assert.Contains(t, out, "90 90 90 90 90 90 90 90  90 90 90 90 90 90 90 90")
	assert.NotContains(t, out, "00000010")

	out, err = run(t, "dump", path, "--dir", "resource")
	require.NoError(t, err)
	assert.Contains(t, out, "RVA: 0x00002000")

	out, err = run(t, "dump", path, "--rva", "0x10F8", "--size", "0")
	require.NoError(t, err)
	assert.Contains(t, out, "00000000  90 90 90 90 90 90 90 90")

	_, err = run(t, "dump", path)
	assert.Error(t, err)
	_, err = run(t, "dump", path, "--dir", "Export")
	assert.True(t, errors.Is(err, pe.ErrNotPresent))
}

func TestRelocsCommand(t *testing.T) {
	path, _ := writeImage(t)
	_, err := run(t, "relocs", path)
	assert.True(t, errors.Is(err, pe.ErrNotPresent))

	reloc := make([]byte, 16)
	binary.LittleEndian.PutUint32(reloc[0:], 0x1000)
	binary.LittleEndian.PutUint32(reloc[4:], 16)
	binary.LittleEndian.PutUint16(reloc[8:], 0xA008)
	binary.LittleEndian.PutUint16(reloc[10:], 0xA010)
	binary.LittleEndian.PutUint16(reloc[12:], 0xA018)
	b := petest.New(imageBase)
	b.AddSection(petest.Section{Name: ".text", VirtualAddress: 0x1000, Data: make([]byte, 0x40), Characteristics: 0x60000020})
	b.AddSection(petest.Section{Name: ".reloc", VirtualAddress: 0x2000, Data: reloc, Characteristics: 0x42000040})
	b.SetDirectory(int(pe.DirBaseReloc), 0x2000, uint32(len(reloc)))
	path = filepath.Join(t.TempDir(), "reloc.dll")
	require.NoError(t, os.WriteFile(path, b.Bytes(), 0o600))

	out, err := run(t, "relocs", path, "-o", "json")
	require.NoError(t, err)
	var views []relocationBlockView
	require.NoError(t, json.Unmarshal([]byte(out), &views))
	require.Len(t, views, 1)
	assert.Equal(t, ".text", views[0].Section)
	assert.Equal(t, 4, views[0].Count)
	assert.Equal(t, map[string]int{"DIR64": 3, "ABSOLUTE": 1}, views[0].Types)
}
