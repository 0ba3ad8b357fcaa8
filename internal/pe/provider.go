package pe

import (
	"reflect"
	"sort"
	"sync"

	"github.com/pkg/errors"
)

// ContentProvider decodes the bytes of one kind of data directory. sec is
// the hosting section, or nil for regions outside every section.
// Only comparable implementations can be removed with UnregisterProvider.
type ContentProvider interface {
	Kind() DirectoryKind
	Create(img *Image, dir DataDirectory, sec *Section) (Content, error)
}

// ProviderFunc is the factory signature wrapped by NewProvider.
type ProviderFunc func(img *Image, dir DataDirectory, sec *Section) (Content, error)

type funcProvider struct {
	kind DirectoryKind
	fn   ProviderFunc
}

// NewProvider builds a ContentProvider for kind from a factory function.
func NewProvider(kind DirectoryKind, fn ProviderFunc) ContentProvider {
	return &funcProvider{kind: kind, fn: fn}
}

func (p *funcProvider) Kind() DirectoryKind { return p.kind }

func (p *funcProvider) Create(img *Image, dir DataDirectory, sec *Section) (Content, error) {
	return p.fn(img, dir, sec)
}

// DefaultProviders returns the built-in providers, one per decoded kind.
func DefaultProviders() []ContentProvider {
	return []ContentProvider{
		NewProvider(DirExport, newExportContent),
		NewProvider(DirImport, newImportContent),
		NewProvider(DirResource, newResourceContent),
		NewProvider(DirSecurity, newSecurityContent),
		NewProvider(DirBaseReloc, newRelocationContent),
		NewProvider(DirDebug, newDebugContent),
		NewProvider(DirTLS, newTLSContent),
	}
}

// Registry maps directory kinds to content providers. It is safe for
// concurrent use.
type Registry struct {
	mu        sync.RWMutex
	providers map[DirectoryKind]ContentProvider
}

// NewRegistry returns a registry holding providers. Later entries replace
// earlier ones of the same kind.
func NewRegistry(providers ...ContentProvider) *Registry {
	r := &Registry{providers: make(map[DirectoryKind]ContentProvider, len(providers))}
	for _, p := range providers {
		r.providers[p.Kind()] = p
	}
	return r
}

// Register adds p. If a provider already owns p's kind the registry is left
// untouched and ErrDuplicateProvider is returned, unless allowReplace is set.
func (r *Registry) Register(p ContentProvider, allowReplace bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.providers[p.Kind()]; ok && !allowReplace {
		return errors.Wrapf(ErrDuplicateProvider, "%s", p.Kind())
	}
	r.providers[p.Kind()] = p
	return nil
}

// Unregister removes the provider for kind. It reports whether one was held.
func (r *Registry) Unregister(kind DirectoryKind) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.providers[kind]; !ok {
		return false
	}
	delete(r.providers, kind)
	return true
}

// UnregisterProvider removes p only if it is the provider currently held
// for its kind. Providers of uncomparable types are never matched.
func (r *Registry) UnregisterProvider(p ContentProvider) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.providers[p.Kind()]
	if !ok || !isComparable(cur) || !isComparable(p) || cur != p {
		return false
	}
	delete(r.providers, p.Kind())
	return true
}

func isComparable(p ContentProvider) bool {
	return reflect.TypeOf(p).Comparable()
}

// Lookup returns the provider for kind.
func (r *Registry) Lookup(kind DirectoryKind) (ContentProvider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[kind]
	return p, ok
}

// Kinds returns the registered kinds in slot order.
func (r *Registry) Kinds() []DirectoryKind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]DirectoryKind, 0, len(r.providers))
	for k := range r.providers {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}
