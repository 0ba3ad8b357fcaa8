package resources

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/text/encoding/unicode"

	"github.com/ko4life-net/pe/internal/pe"
)

const fixedFileInfoSignature = 0xFEEF04BD

// VS_FIXEDFILEINFO structure.
type FixedFileInfo struct {
	Signature        uint32
	StrucVersion     uint32
	FileVersionMS    uint32
	FileVersionLS    uint32
	ProductVersionMS uint32
	ProductVersionLS uint32
	FileFlagsMask    uint32
	FileFlags        uint32
	FileOS           uint32
	FileType         uint32
	FileSubtype      uint32
	FileDateMS       uint32
	FileDateLS       uint32
}

const fixedFileInfoSize = 52

// FileVersion formats the binary file version as a.b.c.d.
func (f *FixedFileInfo) FileVersion() string {
	return formatVersion(f.FileVersionMS, f.FileVersionLS)
}

// ProductVersion formats the binary product version as a.b.c.d.
func (f *FixedFileInfo) ProductVersion() string {
	return formatVersion(f.ProductVersionMS, f.ProductVersionLS)
}

func formatVersion(ms, ls uint32) string {
	return fmt.Sprintf("%d.%d.%d.%d", ms>>16, ms&0xFFFF, ls>>16, ls&0xFFFF)
}

// StringTable is one StringFileInfo table. Key is the language and code
// page in hex, for example "040904B0".
type StringTable struct {
	Key    string            `json:"key" yaml:"key"`
	Values map[string]string `json:"values" yaml:"values"`
}

// Translation is one language / code page pair of VarFileInfo.
type Translation struct {
	Language uint16 `json:"language" yaml:"language"`
	CodePage uint16 `json:"code_page" yaml:"code_page"`
}

// VersionInfo contains version information from RT_VERSION resource.
type VersionInfo struct {
	Fixed            *FixedFileInfo `json:"fixed,omitempty" yaml:"fixed,omitempty"`
	FileVersion      string         `json:"file_version" yaml:"file_version"`
	ProductVersion   string         `json:"product_version" yaml:"product_version"`
	CompanyName      string         `json:"company_name,omitempty" yaml:"company_name,omitempty"`
	ProductName      string         `json:"product_name,omitempty" yaml:"product_name,omitempty"`
	FileDescription  string         `json:"file_description,omitempty" yaml:"file_description,omitempty"`
	InternalName     string         `json:"internal_name,omitempty" yaml:"internal_name,omitempty"`
	OriginalFilename string         `json:"original_filename,omitempty" yaml:"original_filename,omitempty"`
	LegalCopyright   string         `json:"legal_copyright,omitempty" yaml:"legal_copyright,omitempty"`
	StringTables     []StringTable  `json:"string_tables,omitempty" yaml:"string_tables,omitempty"`
	Translations     []Translation  `json:"translations,omitempty" yaml:"translations,omitempty"`
}

// VersionResource decodes RT_VERSION resources.
type VersionResource struct {
	res *Resource
}

// NewVersion wraps res as a version resource.
func NewVersion(res *Resource) *VersionResource {
	return &VersionResource{res: res}
}

// Resource returns the wrapped resource.
func (v *VersionResource) Resource() *Resource {
	return v.res
}

// Info decodes the version info stored in lang.
func (v *VersionResource) Info(lang uint32) (*VersionInfo, error) {
	data, err := v.res.Bytes(lang)
	if err != nil {
		return nil, err
	}
	return ParseVersionInfo(data)
}

// versionBlock is one node of the VS_VERSIONINFO tree.
type versionBlock struct {
	key      string
	value    []byte
	text     bool
	children []versionBlock
}

// ParseVersionInfo decodes a VS_VERSIONINFO tree.
func ParseVersionInfo(data []byte) (*VersionInfo, error) {
	root, _, err := parseVersionBlock(data, 0)
	if err != nil {
		return nil, err
	}
	if root.key != "VS_VERSION_INFO" {
		return nil, pe.NewFormatError("版本资源根键为 %q", root.key)
	}

	info := &VersionInfo{}
	if len(root.value) >= fixedFileInfoSize {
		le := binary.LittleEndian
		var f FixedFileInfo
		fields := []*uint32{
			&f.Signature, &f.StrucVersion, &f.FileVersionMS, &f.FileVersionLS,
			&f.ProductVersionMS, &f.ProductVersionLS, &f.FileFlagsMask, &f.FileFlags,
			&f.FileOS, &f.FileType, &f.FileSubtype, &f.FileDateMS, &f.FileDateLS,
		}
		for i, p := range fields {
			*p = le.Uint32(root.value[i*4:])
		}
		if f.Signature != fixedFileInfoSignature {
			return nil, pe.NewFormatError("VS_FIXEDFILEINFO 签名为 0x%08X", f.Signature)
		}
		info.Fixed = &f
	}

	for _, child := range root.children {
		switch child.key {
		case "StringFileInfo":
			for _, table := range child.children {
				st := StringTable{Key: table.key, Values: make(map[string]string, len(table.children))}
				for _, s := range table.children {
					st.Values[s.key] = versionText(s)
				}
				info.StringTables = append(info.StringTables, st)
			}
		case "VarFileInfo":
			for _, v := range child.children {
				if v.key != "Translation" {
					continue
				}
				for i := 0; i+4 <= len(v.value); i += 4 {
					info.Translations = append(info.Translations, Translation{
						Language: binary.LittleEndian.Uint16(v.value[i:]),
						CodePage: binary.LittleEndian.Uint16(v.value[i+2:]),
					})
				}
			}
		}
	}

	if len(info.StringTables) > 0 {
		values := info.StringTables[0].Values
		info.CompanyName = values["CompanyName"]
		info.FileDescription = values["FileDescription"]
		info.FileVersion = values["FileVersion"]
		info.InternalName = values["InternalName"]
		info.LegalCopyright = values["LegalCopyright"]
		info.OriginalFilename = values["OriginalFilename"]
		info.ProductName = values["ProductName"]
		info.ProductVersion = values["ProductVersion"]
	}
	// Fallback: binary versions when the string table has none.
	if info.Fixed != nil {
		if info.FileVersion == "" {
			info.FileVersion = info.Fixed.FileVersion()
		}
		if info.ProductVersion == "" {
			info.ProductVersion = info.Fixed.ProductVersion()
		}
	}
	return info, nil
}

// parseVersionBlock reads the block at off and returns it with its end.
func parseVersionBlock(data []byte, off int) (versionBlock, int, error) {
	var blk versionBlock
	if off+6 > len(data) {
		return blk, 0, errors.Wrapf(pe.ErrTruncatedInput, "版本块 0x%X 头不完整", off)
	}
	le := binary.LittleEndian
	length := int(le.Uint16(data[off:]))
	valueLength := int(le.Uint16(data[off+2:]))
	blk.text = le.Uint16(data[off+4:]) == 1
	if length < 6 || off+length > len(data) {
		return blk, 0, errors.Wrapf(pe.ErrTruncatedInput, "版本块 0x%X 长度 %d 无效", off, length)
	}
	end := off + length

	pos := off + 6
	keyEnd := pos
	for keyEnd+1 < end && (data[keyEnd] != 0 || data[keyEnd+1] != 0) {
		keyEnd += 2
	}
	key, err := decodeUTF16(data[pos:keyEnd])
	if err != nil {
		return blk, 0, err
	}
	blk.key = key
	pos = align4(keyEnd + 2)

	size := valueLength
	if blk.text {
		size *= 2
	}
	if pos+size > end {
		size = max(end-pos, 0)
	}
	if size > 0 {
		blk.value = data[pos : pos+size]
	}
	pos = align4(pos + size)

	for pos+6 <= end {
		child, next, err := parseVersionBlock(data, pos)
		if err != nil {
			return blk, 0, err
		}
		blk.children = append(blk.children, child)
		pos = align4(next)
	}
	return blk, end, nil
}

func versionText(b versionBlock) string {
	s, err := decodeUTF16(b.value)
	if err != nil {
		return ""
	}
	return strings.TrimRight(s, "\x00")
}

func align4(v int) int {
	return (v + 3) &^ 3
}

// decodeUTF16 decodes UTF-16LE bytes.
func decodeUTF16(b []byte) (string, error) {
	out, err := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewDecoder().Bytes(b)
	if err != nil {
		return "", errors.Wrap(err, "解码UTF-16失败")
	}
	return string(out), nil
}
