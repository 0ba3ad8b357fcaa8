package resources

import (
	"bytes"
	"io"

	"github.com/pkg/errors"
	"github.com/tc-hib/winres"

	"github.com/ko4life-net/pe/internal/pe"
)

// SysoArch is the target architecture of a .syso object.
type SysoArch = winres.Arch

// Supported .syso architectures.
const (
	SysoAMD64 = winres.ArchAMD64
	SysoI386  = winres.ArchI386
	SysoARM64 = winres.ArchARM64
)

// Syso collects reconstructed cursors and icons into a COFF object that
// the Go linker embeds when it sits next to a package as a .syso file.
type Syso struct {
	rs winres.ResourceSet
}

// AddGroup rebuilds the container of g and adds it under the group's own
// resource id and language.
func (s *Syso) AddGroup(g *Group) error {
	data, err := g.Container()
	if err != nil {
		return err
	}
	id := identifier(g.Resource().ID)
	switch g.Kind() {
	case GroupCursor:
		cur, err := winres.LoadCUR(bytes.NewReader(data))
		if err != nil {
			return errors.Wrap(err, "加载光标容器失败")
		}
		return s.rs.SetCursorTranslation(id, g.Language(), cur)
	default:
		icon, err := winres.LoadICO(bytes.NewReader(data))
		if err != nil {
			return errors.Wrap(err, "加载图标容器失败")
		}
		return s.rs.SetIconTranslation(id, g.Language(), icon)
	}
}

// AddRaw adds the bytes of res in lang unchanged under its type and id.
func (s *Syso) AddRaw(res *Resource, lang uint32) error {
	l, err := res.Language(lang)
	if err != nil {
		return err
	}
	data, err := res.Bytes(uint32(l))
	if err != nil {
		return err
	}
	return s.rs.Set(identifier(res.Type), identifier(res.ID), l, data)
}

// Count returns the number of resources collected.
func (s *Syso) Count() int {
	return s.rs.Count()
}

// Write writes the object for arch.
func (s *Syso) Write(w io.Writer, arch SysoArch) error {
	return s.rs.WriteObject(w, arch)
}

func identifier(id pe.ResourceID) winres.Identifier {
	if id.IsNamed() {
		return winres.Name(id.Name)
	}
	return winres.ID(id.ID)
}
