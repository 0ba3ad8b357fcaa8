package resources

import (
	"sort"
	"sync"

	"github.com/pkg/errors"

	"github.com/ko4life-net/pe/internal/pe"
)

// Decoder is a resource wrapped by the structured decoder registered for
// its type.
type Decoder interface {
	Resource() *Resource
}

// Factory wraps a resource in a structured decoder.
type Factory func(res *Resource) Decoder

// Registry maps numeric resource types to decoder factories. It is safe
// for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	factories map[Type]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[Type]Factory)}
}

// Register adds a factory for typ. It reports false, leaving the registry
// untouched, if typ already has one.
func (r *Registry) Register(typ Type, f Factory) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.factories[typ]; ok {
		return false
	}
	r.factories[typ] = f
	return true
}

// Unregister removes the factory for typ.
func (r *Registry) Unregister(typ Type) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.factories[typ]; !ok {
		return false
	}
	delete(r.factories, typ)
	return true
}

// Types returns the registered types, ascending.
func (r *Registry) Types() []Type {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]Type, 0, len(r.factories))
	for t := range r.factories {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// New wraps res in the decoder registered for its type. Named types and
// types without a factory report false.
func (r *Registry) New(res *Resource) (Decoder, bool) {
	if res.Type.IsNamed() {
		return nil, false
	}
	r.mu.RLock()
	f, ok := r.factories[Type(res.Type.ID)]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return f(res), true
}

// RegisterGraphics registers the bitmap, cursor, cursor group, icon and
// icon group decoders. When strict is set, a type that is already
// registered fails the call; otherwise the existing factory is kept.
func (r *Registry) RegisterGraphics(strict bool) error {
	graphics := []struct {
		typ Type
		f   Factory
	}{
		{RT_BITMAP, func(res *Resource) Decoder { return &BitmapResource{res: res} }},
		{RT_GROUP_CURSOR, func(res *Resource) Decoder { return &CursorGroupResource{res: res} }},
		{RT_CURSOR, func(res *Resource) Decoder { return &CursorResource{res: res} }},
		{RT_GROUP_ICON, func(res *Resource) Decoder { return &IconGroupResource{res: res} }},
		{RT_ICON, func(res *Resource) Decoder { return &IconResource{res: res} }},
	}
	for _, g := range graphics {
		if !r.Register(g.typ, g.f) && strict {
			return errors.Wrapf(pe.ErrDuplicateProvider, "无法注册 %s 解码器", g.typ)
		}
	}
	return nil
}

var defaultRegistry = NewRegistry()

// Register adds a factory to the default registry.
func Register(typ Type, f Factory) bool {
	return defaultRegistry.Register(typ, f)
}

// Unregister removes a factory from the default registry.
func Unregister(typ Type) bool {
	return defaultRegistry.Unregister(typ)
}

// New wraps res using the default registry.
func New(res *Resource) (Decoder, bool) {
	return defaultRegistry.New(res)
}

// RegisterGraphics registers the graphic decoders in the default registry.
func RegisterGraphics(strict bool) error {
	return defaultRegistry.RegisterGraphics(strict)
}

// RegisterVersion registers the version info decoder in the default registry.
func RegisterVersion() bool {
	return Register(RT_VERSION, func(res *Resource) Decoder { return &VersionResource{res: res} })
}
