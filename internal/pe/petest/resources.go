package petest

import (
	"encoding/binary"
	"sort"
	"unicode/utf16"
)

// Resource is one leaf of a synthetic resource tree. Named types and
// instances are used when TypeName or Name is set.
type Resource struct {
	Type     uint16
	TypeName string
	ID       uint16
	Name     string
	Lang     uint16
	Data     []byte
	// TypeOnly adds the type directory without any instance.
	TypeOnly bool
}

type resNode struct {
	id       uint16
	name     string
	children []*resNode
	leaf     *Resource

	offset     uint32
	nameOffset uint32
	dataOffset uint32
}

func (n *resNode) child(name string, id uint16) *resNode {
	for _, c := range n.children {
		if c.name == name && c.id == id {
			return c
		}
	}
	c := &resNode{id: id, name: name}
	n.children = append(n.children, c)
	return c
}

func (n *resNode) sort() {
	sort.SliceStable(n.children, func(i, j int) bool {
		a, b := n.children[i], n.children[j]
		if (a.name != "") != (b.name != "") {
			return a.name != ""
		}
		if a.name != "" {
			return a.name < b.name
		}
		return a.id < b.id
	})
	for _, c := range n.children {
		c.sort()
	}
}

func (n *resNode) isDir() bool {
	return n.leaf == nil
}

// BuildResources lays out a resource section whose first byte is at rva.
// Directory tables come first, then data entries, names and payloads.
func BuildResources(rva uint32, resources []Resource) []byte {
	root := &resNode{}
	for i := range resources {
		r := &resources[i]
		t := root.child(r.TypeName, r.Type)
		if r.TypeOnly {
			continue
		}
		n := t.child(r.Name, r.ID)
		l := n.child("", r.Lang)
		l.leaf = r
	}
	root.sort()

	var dirs []*resNode
	queue := []*resNode{root}
	for len(queue) > 0 {
		d := queue[0]
		queue = queue[1:]
		dirs = append(dirs, d)
		for _, c := range d.children {
			if c.isDir() {
				queue = append(queue, c)
			}
		}
	}

	off := uint32(0)
	for _, d := range dirs {
		d.offset = off
		off += 16 + 8*uint32(len(d.children))
	}
	var leaves []*resNode
	for _, d := range dirs {
		for _, c := range d.children {
			if !c.isDir() {
				c.offset = off
				off += 16
				leaves = append(leaves, c)
			}
		}
	}
	for _, d := range dirs {
		for _, c := range d.children {
			if c.name != "" {
				c.nameOffset = off
				off += 2 + 2*uint32(len(utf16.Encode([]rune(c.name))))
			}
		}
	}
	off = align(off, 8)
	for _, l := range leaves {
		l.dataOffset = off
		off = align(off+uint32(len(l.leaf.Data)), 8)
	}

	buf := make([]byte, off)
	le := binary.LittleEndian
	for _, d := range dirs {
		var named, ids uint16
		for _, c := range d.children {
			if c.name != "" {
				named++
			} else {
				ids++
			}
		}
		le.PutUint16(buf[d.offset+12:], named)
		le.PutUint16(buf[d.offset+14:], ids)
		for i, c := range d.children {
			e := d.offset + 16 + 8*uint32(i)
			if c.name != "" {
				le.PutUint32(buf[e:], c.nameOffset|0x80000000)
				u := utf16.Encode([]rune(c.name))
				le.PutUint16(buf[c.nameOffset:], uint16(len(u)))
				for k, v := range u {
					le.PutUint16(buf[c.nameOffset+2+2*uint32(k):], v)
				}
			} else {
				le.PutUint32(buf[e:], uint32(c.id))
			}
			if c.isDir() {
				le.PutUint32(buf[e+4:], c.offset|0x80000000)
			} else {
				le.PutUint32(buf[e+4:], c.offset)
			}
		}
	}
	for _, l := range leaves {
		le.PutUint32(buf[l.offset:], rva+l.dataOffset)
		le.PutUint32(buf[l.offset+4:], uint32(len(l.leaf.Data)))
		copy(buf[l.dataOffset:], l.leaf.Data)
	}
	return buf
}

// WithResources adds a .rsrc section at rva holding resources and points
// the resource directory at it.
func (b *Builder) WithResources(rva uint32, resources []Resource) *Builder {
	data := BuildResources(rva, resources)
	b.AddSection(Section{
		Name:            ".rsrc",
		VirtualAddress:  rva,
		Data:            data,
		Characteristics: 0x40000040, // initialized data, readable
	})
	return b.SetDirectory(2, rva, uint32(len(data)))
}
