package pe

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/text/encoding/unicode"
)

// Resource tree levels.
const (
	LevelType     = 1
	LevelName     = 2
	LevelLanguage = 3
)

// LanguageNeutral is the language id of language-neutral resources.
const LanguageNeutral uint16 = 0

const (
	resourceDirectorySize = 16
	resourceEntrySize     = 8
	subdirFlag            = 0x80000000
	nameFlag              = 0x80000000
)

// IMAGE_RESOURCE_DIRECTORY structure.
type resourceDirectory struct {
	Characteristics      uint32
	TimeDateStamp        uint32
	MajorVersion         uint16
	MinorVersion         uint16
	NumberOfNamedEntries uint16
	NumberOfIdEntries    uint16
}

// IMAGE_RESOURCE_DIRECTORY_ENTRY structure.
type resourceDirectoryEntry struct {
	NameOrID                uint32
	OffsetToDataOrDirectory uint32
}

// IMAGE_RESOURCE_DATA_ENTRY structure.
type resourceDataEntry struct {
	OffsetToData uint32
	Size         uint32
	CodePage     uint32
	Reserved     uint32
}

// ResourceID identifies a resource type, instance or language, either by
// number or by name.
type ResourceID struct {
	Name string
	ID   uint16
}

// IntResource returns a numeric resource id.
func IntResource(id uint16) ResourceID {
	return ResourceID{ID: id}
}

// NamedResource returns a string resource id.
func NamedResource(name string) ResourceID {
	return ResourceID{Name: name}
}

// IsNamed reports whether the id is a string name.
func (r ResourceID) IsNamed() bool {
	return r.Name != ""
}

// Equal compares ids. Names compare case-insensitively.
func (r ResourceID) Equal(o ResourceID) bool {
	if r.IsNamed() || o.IsNamed() {
		return strings.EqualFold(r.Name, o.Name)
	}
	return r.ID == o.ID
}

func (r ResourceID) String() string {
	if r.IsNamed() {
		return fmt.Sprintf("%q", r.Name)
	}
	return fmt.Sprintf("#%d", r.ID)
}

// ResourceDirectory is one node of the resource tree.
type ResourceDirectory struct {
	Characteristics      uint32
	TimeDateStamp        uint32
	MajorVersion         uint16
	MinorVersion         uint16
	NumberOfNamedEntries uint16
	NumberOfIDEntries    uint16
	// Level is 1 for types, 2 for names and 3 for languages.
	Level int
	// Offset is relative to the start of the resource directory.
	Offset  uint32
	Entries []ResourceDirectoryEntry
}

// Find returns the entry with the given id.
func (d *ResourceDirectory) Find(id ResourceID) (*ResourceDirectoryEntry, bool) {
	for i := range d.Entries {
		if d.Entries[i].ID.Equal(id) {
			return &d.Entries[i], true
		}
	}
	return nil, false
}

// ResourceDirectoryEntry points either to a nested directory or, at the
// language level, to a data entry.
type ResourceDirectoryEntry struct {
	ID        ResourceID
	Directory *ResourceDirectory
	Data      *ResourceDataEntry
}

// IsDir reports whether the entry points to a nested directory.
func (e ResourceDirectoryEntry) IsDir() bool {
	return e.Directory != nil
}

// ResourceDataEntry locates the bytes of one resource in one language.
type ResourceDataEntry struct {
	// OffsetToData is an RVA.
	OffsetToData uint32
	Size         uint32
	CodePage     uint32
	Reserved     uint32
	Language     uint16

	img     *Image
	loc     Location
	located bool
}

// Location returns the coordinates of the data. ok is false when the data
// RVA is not backed by any section.
func (e *ResourceDataEntry) Location() (loc Location, ok bool) {
	return e.loc, e.located
}

// Bytes reads the resource data.
func (e *ResourceDataEntry) Bytes() ([]byte, error) {
	if !e.located {
		return nil, errors.Wrapf(ErrUnresolvedDirectory, "资源数据 RVA 0x%X", e.OffsetToData)
	}
	return e.img.src.Bytes(int64(e.loc.FileOffset), int(e.Size))
}

// BytesContext reads the resource data, honouring ctx.
func (e *ResourceDataEntry) BytesContext(ctx context.Context) ([]byte, error) {
	if !e.located {
		return nil, errors.Wrapf(ErrUnresolvedDirectory, "资源数据 RVA 0x%X", e.OffsetToData)
	}
	return e.img.src.ReadContext(ctx, int64(e.loc.FileOffset), int(e.Size))
}

// ResourceContent is the decoded resource directory tree.
type ResourceContent struct {
	DataContent
	root *ResourceDirectory
}

func newResourceContent(img *Image, dir DataDirectory, sec *Section) (Content, error) {
	loc, err := img.calc.Locate(dir.VirtualAddress, dir.Size)
	if err != nil {
		return nil, err
	}
	w := &resourceWalker{
		img:        img,
		root:       int64(loc.FileOffset),
		maxEntries: img.opts.maxResourceEntries,
		onPath:     make(map[uint32]struct{}),
	}
	root, err := w.directory(0, LevelType)
	if err != nil {
		return nil, errors.Wrap(err, "读取资源根目录失败")
	}
	return &ResourceContent{
		DataContent: newDataContent(img, dir, loc),
		root:        root,
	}, nil
}

// Root returns the type-level directory.
func (c *ResourceContent) Root() *ResourceDirectory {
	return c.root
}

// Types returns the resource types in directory order.
func (c *ResourceContent) Types() []ResourceID {
	ids := make([]ResourceID, 0, len(c.root.Entries))
	for _, e := range c.root.Entries {
		ids = append(ids, e.ID)
	}
	return ids
}

// Type returns the name-level directory of a resource type.
func (c *ResourceContent) Type(typ ResourceID) (*ResourceDirectory, bool) {
	e, ok := c.root.Find(typ)
	if !ok || e.Directory == nil {
		return nil, false
	}
	return e.Directory, true
}

// Entries returns the instances of a resource type. A missing or empty
// type yields an empty slice.
func (c *ResourceContent) Entries(typ ResourceID) []ResourceDirectoryEntry {
	d, ok := c.Type(typ)
	if !ok {
		return []ResourceDirectoryEntry{}
	}
	out := make([]ResourceDirectoryEntry, len(d.Entries))
	copy(out, d.Entries)
	return out
}

func (c *ResourceContent) languageDir(typ, name ResourceID) (*ResourceDirectory, bool) {
	d, ok := c.Type(typ)
	if !ok {
		return nil, false
	}
	e, ok := d.Find(name)
	if !ok || e.Directory == nil {
		return nil, false
	}
	return e.Directory, true
}

// Languages returns the language ids present for one resource, ascending.
func (c *ResourceContent) Languages(typ, name ResourceID) []uint16 {
	d, ok := c.languageDir(typ, name)
	if !ok {
		return nil
	}
	langs := make([]uint16, 0, len(d.Entries))
	for _, e := range d.Entries {
		if e.Data != nil {
			langs = append(langs, e.Data.Language)
		}
	}
	sort.Slice(langs, func(i, j int) bool { return langs[i] < langs[j] })
	return langs
}

// DefaultLanguage returns the language used when none is requested: the
// lowest numeric language id present, so LanguageNeutral wins when it exists.
func (c *ResourceContent) DefaultLanguage(typ, name ResourceID) (uint16, bool) {
	langs := c.Languages(typ, name)
	if len(langs) == 0 {
		return 0, false
	}
	return langs[0], true
}

// Find returns the data entry of one resource in one language. A missing
// language is reported with ok == false.
func (c *ResourceContent) Find(typ, name ResourceID, lang uint16) (*ResourceDataEntry, bool) {
	d, ok := c.languageDir(typ, name)
	if !ok {
		return nil, false
	}
	for _, e := range d.Entries {
		if e.Data != nil && e.Data.Language == lang {
			return e.Data, true
		}
	}
	return nil, false
}

// FindDefault returns the data entry in the default language.
func (c *ResourceContent) FindDefault(typ, name ResourceID) (*ResourceDataEntry, bool) {
	lang, ok := c.DefaultLanguage(typ, name)
	if !ok {
		return nil, false
	}
	return c.Find(typ, name, lang)
}

// Walk calls fn for every data entry, depth-first in directory order.
// Walking stops at the first error fn returns.
func (c *ResourceContent) Walk(fn func(typ, name ResourceID, data *ResourceDataEntry) error) error {
	for _, t := range c.root.Entries {
		if t.Directory == nil {
			continue
		}
		for _, n := range t.Directory.Entries {
			if n.Directory == nil {
				continue
			}
			for _, l := range n.Directory.Entries {
				if l.Data == nil {
					continue
				}
				if err := fn(t.ID, n.ID, l.Data); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// resourceWalker reads the resource tree depth-first. Offsets are relative
// to root, the file offset of the type-level directory.
type resourceWalker struct {
	img        *Image
	root       int64
	maxEntries int
	// onPath holds the directories between root and the one being read.
	onPath map[uint32]struct{}
}

func (w *resourceWalker) directory(off uint32, level int) (*ResourceDirectory, error) {
	w.onPath[off] = struct{}{}
	defer delete(w.onPath, off)

	raw, err := readStruct[resourceDirectory](w.img.src, w.root+int64(off))
	if err != nil {
		return nil, err
	}
	total := int(raw.NumberOfNamedEntries) + int(raw.NumberOfIdEntries)
	if total > w.maxEntries {
		return nil, NewFormatError("资源目录 0x%X 有 %d 个条目，超过上限 %d", off, total, w.maxEntries)
	}

	dir := &ResourceDirectory{
		Characteristics:      raw.Characteristics,
		TimeDateStamp:        raw.TimeDateStamp,
		MajorVersion:         raw.MajorVersion,
		MinorVersion:         raw.MinorVersion,
		NumberOfNamedEntries: raw.NumberOfNamedEntries,
		NumberOfIDEntries:    raw.NumberOfIdEntries,
		Level:                level,
		Offset:               off,
		Entries:              make([]ResourceDirectoryEntry, 0, total),
	}

	for i := 0; i < total; i++ {
		entryOff := w.root + int64(off) + resourceDirectorySize + int64(i)*resourceEntrySize
		entry, err := readStruct[resourceDirectoryEntry](w.img.src, entryOff)
		if err != nil {
			log.WithError(err).WithField("level", level).Warn("资源目录条目被截断")
			break
		}
		id, err := w.identifier(entry.NameOrID)
		if err != nil {
			log.WithError(err).WithField("level", level).Warn("读取资源名称失败")
			continue
		}

		target := entry.OffsetToDataOrDirectory &^ subdirFlag
		if target == 0 {
			continue
		}
		fields := log.Fields{"level": level, "id": id, "offset": target}

		if entry.OffsetToDataOrDirectory&subdirFlag != 0 {
			if level >= LevelLanguage {
				log.WithFields(fields).Debug("语言级条目指向子目录，忽略")
				continue
			}
			if _, loop := w.onPath[target]; loop {
				log.WithFields(fields).Warn("资源目录存在循环引用")
				continue
			}
			sub, err := w.directory(target, level+1)
			if err != nil {
				log.WithFields(fields).WithError(err).Warn("读取资源子目录失败")
				continue
			}
			dir.Entries = append(dir.Entries, ResourceDirectoryEntry{ID: id, Directory: sub})
			continue
		}

		if level < LevelLanguage {
			log.WithFields(fields).Debug("非语言级条目指向数据，忽略")
			continue
		}
		data, err := w.data(target, id.ID)
		if err != nil {
			log.WithFields(fields).WithError(err).Warn("读取资源数据条目失败")
			continue
		}
		dir.Entries = append(dir.Entries, ResourceDirectoryEntry{ID: id, Data: data})
	}

	return dir, nil
}

func (w *resourceWalker) identifier(v uint32) (ResourceID, error) {
	if v&nameFlag == 0 {
		return IntResource(uint16(v)), nil
	}
	off := w.root + int64(v&^nameFlag)
	head, err := w.img.src.Bytes(off, 2)
	if err != nil {
		return ResourceID{}, err
	}
	n := int(head[0]) | int(head[1])<<8
	raw, err := w.img.src.Bytes(off+2, n*2)
	if err != nil {
		return ResourceID{}, err
	}
	name, err := decodeUTF16(raw)
	if err != nil {
		return ResourceID{}, err
	}
	return NamedResource(name), nil
}

func (w *resourceWalker) data(off uint32, lang uint16) (*ResourceDataEntry, error) {
	raw, err := readStruct[resourceDataEntry](w.img.src, w.root+int64(off))
	if err != nil {
		return nil, err
	}
	entry := &ResourceDataEntry{
		OffsetToData: raw.OffsetToData,
		Size:         raw.Size,
		CodePage:     raw.CodePage,
		Reserved:     raw.Reserved,
		Language:     lang,
		img:          w.img,
	}
	loc, err := w.img.calc.Locate(raw.OffsetToData, raw.Size)
	if err != nil {
		log.WithField("rva", raw.OffsetToData).Debug("资源数据不在任何节区内")
		return entry, nil
	}
	entry.loc = loc
	entry.located = true
	return entry, nil
}

// decodeUTF16 decodes UTF-16LE bytes.
func decodeUTF16(b []byte) (string, error) {
	out, err := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewDecoder().Bytes(b)
	if err != nil {
		return "", errors.Wrap(err, "解码UTF-16失败")
	}
	return string(out), nil
}
