package pe

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stubProvider(kind DirectoryKind, calls *int) ContentProvider {
	return NewProvider(kind, func(img *Image, dir DataDirectory, sec *Section) (Content, error) {
		*calls++
		loc, err := img.LocateDirectory(dir.Kind)
		if err != nil {
			return nil, err
		}
		c := newDataContent(img, dir, loc)
		return &c, nil
	})
}

func TestRegistryRegister(t *testing.T) {
	var first, second int
	p1 := stubProvider(DirLoadConfig, &first)
	p2 := stubProvider(DirLoadConfig, &second)

	r := NewRegistry()
	require.NoError(t, r.Register(p1, false))

	err := r.Register(p2, false)
	require.ErrorIs(t, err, ErrDuplicateProvider)
	got, ok := r.Lookup(DirLoadConfig)
	require.True(t, ok)
	assert.Same(t, p1, got)

	require.NoError(t, r.Register(p2, true))
	got, ok = r.Lookup(DirLoadConfig)
	require.True(t, ok)
	assert.Same(t, p2, got)
}

func TestRegistryUnregister(t *testing.T) {
	var calls int
	p1 := stubProvider(DirException, &calls)
	p2 := stubProvider(DirException, &calls)

	r := NewRegistry(p1)
	assert.False(t, r.UnregisterProvider(p2), "only the held instance can be removed")
	assert.True(t, r.UnregisterProvider(p1))
	_, ok := r.Lookup(DirException)
	assert.False(t, ok)

	require.NoError(t, r.Register(p2, false))
	assert.True(t, r.Unregister(DirException))
	assert.False(t, r.Unregister(DirException))
}

// tableProvider is a value type with a slice field, so it is not comparable.
type tableProvider struct {
	kinds []DirectoryKind
}

func (p tableProvider) Kind() DirectoryKind { return p.kinds[0] }

func (p tableProvider) Create(img *Image, dir DataDirectory, sec *Section) (Content, error) {
	return nil, ErrNoProvider
}

func TestRegistryUnregisterUncomparable(t *testing.T) {
	p := tableProvider{kinds: []DirectoryKind{DirException}}
	r := NewRegistry(p)

	assert.NotPanics(t, func() {
		assert.False(t, r.UnregisterProvider(p))
	})
	assert.NotPanics(t, func() {
		var calls int
		assert.False(t, r.UnregisterProvider(stubProvider(DirException, &calls)))
	})
	_, ok := r.Lookup(DirException)
	assert.True(t, ok)
	assert.True(t, r.Unregister(DirException))
}

func TestDefaultProviders(t *testing.T) {
	r := NewRegistry(DefaultProviders()...)
	assert.Equal(t, []DirectoryKind{
		DirExport,
		DirImport,
		DirResource,
		DirSecurity,
		DirBaseReloc,
		DirDebug,
		DirTLS,
	}, r.Kinds())
}
