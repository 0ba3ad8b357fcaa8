package pe

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ko4life-net/pe/internal/pe/petest"
)

const rsrcRVA = 0x3000

func resourceImage(t *testing.T, resources []petest.Resource, options ...Option) *Image {
	t.Helper()
	data, _ := resourceBytes(resources)
	img, err := NewBytes(data, options...)
	require.NoError(t, err)
	return img
}

// resourceBytes returns the image and the file offset of its .rsrc section.
func resourceBytes(resources []petest.Resource) ([]byte, uint32) {
	b := petest.New(0x140000000)
	b.AddSection(petest.Section{Name: ".text", VirtualAddress: 0x1000, Data: make([]byte, 0x100), Characteristics: CommonCharacteristics.Code})
	b.WithResources(rsrcRVA, resources)
	return b.Bytes(), b.SectionOffset(1)
}

func TestResourceTreeWalk(t *testing.T) {
	img := resourceImage(t, []petest.Resource{
		{Type: 3, ID: 1, Lang: 1033, Data: []byte("icon-1")},
		{Type: 3, ID: 2, Lang: 1033, Data: []byte("icon-2")},
		{Type: 14, ID: 101, Lang: 1033, Data: []byte("group")},
		{TypeName: "PNG", Name: "LOGO", Lang: 0, Data: []byte("\x89PNG")},
	})

	rc, err := img.Resources()
	require.NoError(t, err)
	assert.Equal(t, DirResource, rc.Kind())
	assert.Equal(t, uint32(rsrcRVA), rc.Location().RVA)

	assert.Equal(t, []ResourceID{NamedResource("PNG"), IntResource(3), IntResource(14)}, rc.Types())
	assert.Len(t, rc.Entries(IntResource(3)), 2)

	var visited []string
	err = rc.Walk(func(typ, name ResourceID, data *ResourceDataEntry) error {
		b, err := data.Bytes()
		if err != nil {
			return err
		}
		visited = append(visited, typ.String()+"/"+name.String()+"="+string(b))
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{
		`"PNG"/"LOGO"=` + "\x89PNG",
		"#3/#1=icon-1",
		"#3/#2=icon-2",
		"#14/#101=group",
	}, visited)

	entry, ok := rc.Find(NamedResource("png"), NamedResource("logo"), LanguageNeutral)
	require.True(t, ok)
	loc, ok := entry.Location()
	require.True(t, ok)
	assert.Equal(t, img.ImageBase()+uint64(loc.RVA), loc.VA)

	rsrc, ok := img.Sections().ByName(".rsrc")
	require.True(t, ok)
	c, ok := rsrc.Content(DirResource)
	require.True(t, ok)
	assert.IsType(t, &ResourceContent{}, c)
}

func TestResourceLanguages(t *testing.T) {
	img := resourceImage(t, []petest.Resource{
		{Type: 6, ID: 1, Lang: 1049, Data: []byte("ru")},
		{Type: 6, ID: 1, Lang: 1033, Data: []byte("en")},
		{Type: 6, ID: 2, Lang: 1033, Data: []byte("en")},
		{Type: 6, ID: 2, Lang: LanguageNeutral, Data: []byte("neutral")},
	})
	rc, err := img.Resources()
	require.NoError(t, err)

	assert.Equal(t, []uint16{1033, 1049}, rc.Languages(IntResource(6), IntResource(1)))

	lang, ok := rc.DefaultLanguage(IntResource(6), IntResource(1))
	require.True(t, ok)
	assert.Equal(t, uint16(1033), lang)

	entry, ok := rc.FindDefault(IntResource(6), IntResource(2))
	require.True(t, ok)
	assert.Equal(t, LanguageNeutral, entry.Language)
	b, err := entry.Bytes()
	require.NoError(t, err)
	assert.Equal(t, "neutral", string(b))

	_, ok = rc.Find(IntResource(6), IntResource(1), 2052)
	assert.False(t, ok)
	_, ok = rc.DefaultLanguage(IntResource(6), IntResource(9))
	assert.False(t, ok)
}

func TestResourceEmptyType(t *testing.T) {
	img := resourceImage(t, []petest.Resource{
		{Type: 12, TypeOnly: true},
		{Type: 1, ID: 1, Data: []byte{1}},
	})
	rc, err := img.Resources()
	require.NoError(t, err)

	entries := rc.Entries(IntResource(12))
	assert.NotNil(t, entries)
	assert.Empty(t, entries)
	assert.Empty(t, rc.Entries(IntResource(99)))
}

func TestResourceTooManyEntries(t *testing.T) {
	img := resourceImage(t, []petest.Resource{
		{Type: 1, ID: 1, Data: []byte{1}},
		{Type: 2, ID: 1, Data: []byte{2}},
	}, WithMaxResourceEntries(1))

	_, err := img.Resources()
	require.ErrorIs(t, err, ErrFormatMismatch)
}

// One resource lays out as: root dir at 0, name dir at 24, language dir at
// 48 and the data entry at 72.
func TestResourceMalformedLinks(t *testing.T) {
	one := []petest.Resource{{Type: 3, ID: 1, Lang: 1033, Data: []byte("x")}}
	le := binary.LittleEndian

	t.Run("self loop", func(t *testing.T) {
		data, rsrc := resourceBytes(one)
		le.PutUint32(data[rsrc+24+16+4:], 24|0x80000000)
		img, err := NewBytes(data)
		require.NoError(t, err)
		rc, err := img.Resources()
		require.NoError(t, err)
		assert.Empty(t, rc.Entries(IntResource(3)))
	})

	t.Run("subdirectory at language level", func(t *testing.T) {
		data, rsrc := resourceBytes(one)
		le.PutUint32(data[rsrc+48+16+4:], 24|0x80000000)
		img, err := NewBytes(data)
		require.NoError(t, err)
		rc, err := img.Resources()
		require.NoError(t, err)
		assert.Len(t, rc.Entries(IntResource(3)), 1)
		assert.Empty(t, rc.Languages(IntResource(3), IntResource(1)))
	})

	// Two instances lay out their language directories at 56 and 80.
	t.Run("shared language directory", func(t *testing.T) {
		two := []petest.Resource{
			{Type: 3, ID: 1, Lang: 1033, Data: []byte("x")},
			{Type: 3, ID: 2, Lang: 1033, Data: []byte("y")},
		}
		data, rsrc := resourceBytes(two)
		le.PutUint32(data[rsrc+24+16+8+4:], 56|0x80000000)
		img, err := NewBytes(data)
		require.NoError(t, err)
		rc, err := img.Resources()
		require.NoError(t, err)
		assert.Len(t, rc.Entries(IntResource(3)), 2)
		assert.Equal(t, []uint16{1033}, rc.Languages(IntResource(3), IntResource(1)))
		assert.Equal(t, []uint16{1033}, rc.Languages(IntResource(3), IntResource(2)))
		entry, ok := rc.Find(IntResource(3), IntResource(2), 1033)
		require.True(t, ok)
		b, err := entry.Bytes()
		require.NoError(t, err)
		assert.Equal(t, []byte("x"), b)
	})

	t.Run("zero offset", func(t *testing.T) {
		data, rsrc := resourceBytes(one)
		le.PutUint32(data[rsrc+16+4:], 0|0x80000000)
		img, err := NewBytes(data)
		require.NoError(t, err)
		rc, err := img.Resources()
		require.NoError(t, err)
		assert.Empty(t, rc.Types())
	})

	t.Run("data outside sections", func(t *testing.T) {
		data, rsrc := resourceBytes(one)
		le.PutUint32(data[rsrc+72:], 0x9000)
		img, err := NewBytes(data)
		require.NoError(t, err)
		rc, err := img.Resources()
		require.NoError(t, err)
		entry, ok := rc.Find(IntResource(3), IntResource(1), 1033)
		require.True(t, ok)
		_, ok = entry.Location()
		assert.False(t, ok)
		_, err = entry.Bytes()
		assert.ErrorIs(t, err, ErrUnresolvedDirectory)
	})
}
