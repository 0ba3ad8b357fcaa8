package resources

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ko4life-net/pe/internal/pe"
	"github.com/ko4life-net/pe/internal/pe/petest"
)

func TestSyso(t *testing.T) {
	cursors := sampleCursors()
	res := []petest.Resource{
		{Type: uint16(RT_GROUP_CURSOR), ID: 100, Lang: langEnUS, Data: groupBytes(GroupCursor, cursors)},
		{Type: uint16(RT_VERSION), ID: 1, Lang: langEnUS, Data: sampleVersionInfo()},
	}
	for _, c := range cursors {
		res = append(res, petest.Resource{Type: uint16(RT_CURSOR), ID: c.id, Lang: langEnUS, Data: cursorBytes(c)})
	}
	rc := resourceContent(t, res)

	g, err := cursorGroup(t, rc).Group(LanguageDefault)
	require.NoError(t, err)

	var s Syso
	require.NoError(t, s.AddGroup(g))
	// Three cursor images plus the group directory.
	assert.Equal(t, 4, s.Count())

	ver, ok := Lookup(rc, RT_VERSION.ID(), pe.IntResource(1))
	require.True(t, ok)
	require.NoError(t, s.AddRaw(ver, LanguageDefault))
	assert.Equal(t, 5, s.Count())

	var buf bytes.Buffer
	require.NoError(t, s.Write(&buf, SysoAMD64))
	require.Greater(t, buf.Len(), 20)
	assert.Equal(t, uint16(0x8664), binary.LittleEndian.Uint16(buf.Bytes()))
	assert.True(t, bytes.Contains(buf.Bytes(), sampleVersionInfo()))
}

func TestSysoMissingLanguage(t *testing.T) {
	rc := resourceContent(t, []petest.Resource{
		{Type: uint16(RT_RCDATA), ID: 3, Lang: langEnUS, Data: []byte("data")},
	})
	res, ok := Lookup(rc, RT_RCDATA.ID(), pe.IntResource(3))
	require.True(t, ok)

	var s Syso
	err := s.AddRaw(res, 0x0419)
	assert.ErrorIs(t, err, pe.ErrNotPresent)
	assert.Zero(t, s.Count())
}
