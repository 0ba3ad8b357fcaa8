package resources

import (
	"context"
	"io"

	"github.com/pkg/errors"

	"github.com/ko4life-net/pe/internal/pe"
)

// LanguageDefault selects the default language of a resource: the lowest
// numeric language id stored for it, so a language-neutral entry wins
// whenever one exists.
const LanguageDefault = ^uint32(0)

// Resource is one resource instance: a type and an id, stored in one or
// more languages.
type Resource struct {
	Type    pe.ResourceID
	ID      pe.ResourceID
	content *pe.ResourceContent
}

// Lookup returns the resource with the given type and id.
func Lookup(rc *pe.ResourceContent, typ, id pe.ResourceID) (*Resource, bool) {
	if len(rc.Languages(typ, id)) == 0 {
		return nil, false
	}
	return &Resource{Type: typ, ID: id, content: rc}, true
}

// All returns every resource instance in directory order.
func All(rc *pe.ResourceContent) []*Resource {
	var out []*Resource
	for _, typ := range rc.Types() {
		out = append(out, OfType(rc, typ)...)
	}
	return out
}

// OfType returns the instances of one resource type in directory order.
// A type without instances yields an empty slice.
func OfType(rc *pe.ResourceContent, typ pe.ResourceID) []*Resource {
	entries := rc.Entries(typ)
	out := make([]*Resource, 0, len(entries))
	for _, e := range entries {
		if e.Directory == nil {
			continue
		}
		out = append(out, &Resource{Type: typ, ID: e.ID, content: rc})
	}
	return out
}

// Content returns the resource tree the resource belongs to.
func (r *Resource) Content() *pe.ResourceContent {
	return r.content
}

// Languages returns the language ids the resource is stored in, ascending.
func (r *Resource) Languages() []uint16 {
	return r.content.Languages(r.Type, r.ID)
}

// Language resolves lang, mapping LanguageDefault to a concrete id. A
// language the resource is not stored in yields ErrNotPresent.
func (r *Resource) Language(lang uint32) (uint16, error) {
	if lang == LanguageDefault {
		l, ok := r.content.DefaultLanguage(r.Type, r.ID)
		if !ok {
			return 0, errors.Wrapf(pe.ErrNotPresent, "资源 %s/%s 没有任何语言", TypeName(r.Type), r.ID)
		}
		return l, nil
	}
	if lang > 0xFFFF {
		return 0, errors.Wrapf(pe.ErrNotPresent, "语言ID 0x%X 无效", lang)
	}
	if _, ok := r.content.Find(r.Type, r.ID, uint16(lang)); !ok {
		return 0, errors.Wrapf(pe.ErrNotPresent, "资源 %s/%s 没有语言 0x%04X", TypeName(r.Type), r.ID, lang)
	}
	return uint16(lang), nil
}

// Entry returns the data entry for lang.
func (r *Resource) Entry(lang uint32) (*pe.ResourceDataEntry, error) {
	l, err := r.Language(lang)
	if err != nil {
		return nil, err
	}
	e, _ := r.content.Find(r.Type, r.ID, l)
	return e, nil
}

// Bytes reads the resource data stored for lang.
func (r *Resource) Bytes(lang uint32) ([]byte, error) {
	e, err := r.Entry(lang)
	if err != nil {
		return nil, err
	}
	return e.Bytes()
}

// BytesContext reads the resource data stored for lang, honouring ctx.
func (r *Resource) BytesContext(ctx context.Context, lang uint32) ([]byte, error) {
	e, err := r.Entry(lang)
	if err != nil {
		return nil, err
	}
	return e.BytesContext(ctx)
}

// Save writes the resource data stored for lang to w unchanged.
func (r *Resource) Save(w io.Writer, lang uint32) error {
	b, err := r.Bytes(lang)
	if err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}

// sibling reads resource id of type typ in exactly lang.
func (r *Resource) sibling(typ Type, id uint16, lang uint16) ([]byte, error) {
	e, ok := r.content.Find(typ.ID(), pe.IntResource(id), lang)
	if !ok {
		return nil, errors.Wrapf(pe.ErrMissingReferencedResource, "%s #%d 语言 0x%04X", typ, id, lang)
	}
	return e.Bytes()
}
