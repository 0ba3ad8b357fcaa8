// Package resources decodes structured payloads stored in the resource
// tree of a PE image: cursor and icon groups with their .cur/.ico
// reconstruction, single cursor and icon images, bitmaps and version info.
package resources

import (
	"fmt"

	"github.com/ko4life-net/pe/internal/pe"
)

// Type is a numeric resource type id.
type Type uint16

// Predefined resource types (Windows SDK naming convention).
//
//nolint:revive // ALL_CAPS matches Windows SDK naming
const (
	RT_CURSOR       Type = 1
	RT_BITMAP       Type = 2
	RT_ICON         Type = 3
	RT_MENU         Type = 4
	RT_DIALOG       Type = 5
	RT_STRING       Type = 6
	RT_FONTDIR      Type = 7
	RT_FONT         Type = 8
	RT_ACCELERATOR  Type = 9
	RT_RCDATA       Type = 10
	RT_MESSAGETABLE Type = 11
	RT_GROUP_CURSOR Type = 12
	RT_GROUP_ICON   Type = 14
	RT_VERSION      Type = 16
	RT_DLGINCLUDE   Type = 17
	RT_PLUGPLAY     Type = 19
	RT_VXD          Type = 20
	RT_ANICURSOR    Type = 21
	RT_ANIICON      Type = 22
	RT_HTML         Type = 23
	RT_MANIFEST     Type = 24
)

var typeNames = map[Type]string{
	RT_CURSOR:       "RT_CURSOR",
	RT_BITMAP:       "RT_BITMAP",
	RT_ICON:         "RT_ICON",
	RT_MENU:         "RT_MENU",
	RT_DIALOG:       "RT_DIALOG",
	RT_STRING:       "RT_STRING",
	RT_FONTDIR:      "RT_FONTDIR",
	RT_FONT:         "RT_FONT",
	RT_ACCELERATOR:  "RT_ACCELERATOR",
	RT_RCDATA:       "RT_RCDATA",
	RT_MESSAGETABLE: "RT_MESSAGETABLE",
	RT_GROUP_CURSOR: "RT_GROUP_CURSOR",
	RT_GROUP_ICON:   "RT_GROUP_ICON",
	RT_VERSION:      "RT_VERSION",
	RT_DLGINCLUDE:   "RT_DLGINCLUDE",
	RT_PLUGPLAY:     "RT_PLUGPLAY",
	RT_VXD:          "RT_VXD",
	RT_ANICURSOR:    "RT_ANICURSOR",
	RT_ANIICON:      "RT_ANIICON",
	RT_HTML:         "RT_HTML",
	RT_MANIFEST:     "RT_MANIFEST",
}

func (t Type) String() string {
	if s, ok := typeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("RT_%d", uint16(t))
}

// ID returns the resource tree identifier of the type.
func (t Type) ID() pe.ResourceID {
	return pe.IntResource(uint16(t))
}

// TypeName describes a level-one identifier: the predefined name for
// numeric types, the string itself for custom ones.
func TypeName(id pe.ResourceID) string {
	if id.IsNamed() {
		return id.Name
	}
	return Type(id.ID).String()
}
