package pe

import (
	"bytes"
	"debug/pe"
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Smallest header region read before any directory resolution.
const minHeaderSize = 96

// maxAllowedResourceEntries caps the entry count of one resource directory.
const maxAllowedResourceEntries = 4096

// Option configures an Image.
type Option func(o *opts)

type opts struct {
	registry           *Registry
	maxResourceEntries int
}

// WithRegistry makes the image decode directories with r instead of a
// registry built from DefaultProviders.
func WithRegistry(r *Registry) Option {
	return func(o *opts) {
		o.registry = r
	}
}

// WithMaxResourceEntries caps the number of entries read per resource directory.
func WithMaxResourceEntries(n int) Option {
	return func(o *opts) {
		o.maxResourceEntries = n
	}
}

// Image is an open PE image. It owns the byte source; every Location,
// Section and Content derived from it refers back to that source.
type Image struct {
	src       *Source
	file      *pe.File
	path      string
	is64      bool
	imageBase uint64
	fileAlign uint32
	checksum  uint32
	dirs      [NumDirectories]DataDirectory
	headers   []SectionHeader
	calc      *Calculator
	registry  *Registry
	opts      opts
}

// Open maps the file at path and parses its headers.
func Open(path string, options ...Option) (*Image, error) {
	src, err := openSource(path)
	if err != nil {
		return nil, err
	}
	img, err := newImage(src, options...)
	if err != nil {
		src.Close()
		return nil, err
	}
	img.path = path
	return img, nil
}

// New parses the headers of the image held by rs.
func New(rs io.ReadSeeker, options ...Option) (*Image, error) {
	src, err := NewSource(rs)
	if err != nil {
		return nil, err
	}
	return newImage(src, options...)
}

// NewBytes parses the headers of an in-memory image.
func NewBytes(data []byte, options ...Option) (*Image, error) {
	return New(bytes.NewReader(data), options...)
}

func newImage(src *Source, options ...Option) (*Image, error) {
	o := opts{maxResourceEntries: maxAllowedResourceEntries}
	for _, opt := range options {
		opt(&o)
	}
	if o.registry == nil {
		o.registry = NewRegistry(DefaultProviders()...)
	}

	if err := checkHeaders(src); err != nil {
		return nil, err
	}
	f, err := pe.NewFile(src)
	if err != nil {
		return nil, errors.Wrap(err, "解析PE头失败")
	}

	img := &Image{
		src:      src,
		file:     f,
		registry: o.registry,
		opts:     o,
	}

	var (
		sectionAlign uint32
		dirs         []pe.DataDirectory
	)
	switch oh := f.OptionalHeader.(type) {
	case *pe.OptionalHeader32:
		img.imageBase = uint64(oh.ImageBase)
		img.fileAlign = oh.FileAlignment
		img.checksum = oh.CheckSum
		sectionAlign = oh.SectionAlignment
		dirs = oh.DataDirectory[:min(int(oh.NumberOfRvaAndSizes), NumDirectories)]
	case *pe.OptionalHeader64:
		img.is64 = true
		img.imageBase = oh.ImageBase
		img.fileAlign = oh.FileAlignment
		img.checksum = oh.CheckSum
		sectionAlign = oh.SectionAlignment
		dirs = oh.DataDirectory[:min(int(oh.NumberOfRvaAndSizes), NumDirectories)]
	default:
		return nil, errors.Wrap(ErrInvalidBinary, "缺少可选头")
	}

	for i := range img.dirs {
		img.dirs[i].Kind = DirectoryKind(i)
		if i < len(dirs) {
			img.dirs[i].VirtualAddress = dirs[i].VirtualAddress
			img.dirs[i].Size = dirs[i].Size
		}
	}

	img.headers = make([]SectionHeader, 0, len(f.Sections))
	for i, s := range f.Sections {
		img.headers = append(img.headers, SectionHeader{
			Index:            i,
			Name:             s.Name,
			VirtualAddress:   s.VirtualAddress,
			VirtualSize:      s.VirtualSize,
			PointerToRawData: s.Offset,
			SizeOfRawData:    s.Size,
			Characteristics:  s.Characteristics,
		})
	}
	img.calc = NewCalculator(img.imageBase, sectionAlign, img.headers)

	log.WithFields(log.Fields{
		"sections":  len(img.headers),
		"imagebase": img.imageBase,
		"pe32+":     img.is64,
	}).Debug("已解析PE头")

	return img, nil
}

// checkHeaders fails fast when the fixed header region is missing or short.
func checkHeaders(src *Source) error {
	size := src.Size()
	if size < minHeaderSize {
		return errors.Wrapf(ErrTruncatedInput, "文件大小 %d 字节小于最小PE头", size)
	}
	dos, err := src.Bytes(0, 0x40)
	if err != nil {
		return err
	}
	if dos[0] != 'M' || dos[1] != 'Z' {
		return NewFormatError("缺少MZ签名")
	}
	lfanew := int64(binary.LittleEndian.Uint32(dos[0x3c:]))
	if lfanew+4+20 > size {
		return errors.Wrapf(ErrTruncatedInput, "NT头位于 0x%X，超出文件大小 %d", lfanew, size)
	}
	sig, err := src.Bytes(lfanew, 4)
	if err != nil {
		return err
	}
	if !bytes.Equal(sig, []byte{'P', 'E', 0, 0}) {
		return NewFormatError("无效的PE签名 % X", sig)
	}
	fh, err := readStruct[pe.FileHeader](src, lfanew+4)
	if err != nil {
		return err
	}
	if fh.SizeOfOptionalHeader == 0 {
		return errors.Wrap(ErrInvalidBinary, "缺少可选头")
	}
	end := lfanew + 4 + 20 + int64(fh.SizeOfOptionalHeader) + 40*int64(fh.NumberOfSections)
	if end > size {
		return errors.Wrapf(ErrTruncatedInput, "头部需要 %d 字节，文件只有 %d 字节", end, size)
	}
	return nil
}

// Close releases the byte source.
func (img *Image) Close() error {
	return img.src.Close()
}

// Path returns the path the image was opened from, if any.
func (img *Image) Path() string {
	return img.path
}

// Source returns the image's byte source.
func (img *Image) Source() *Source {
	return img.src
}

// File returns the debug/pe view of the headers.
func (img *Image) File() *pe.File {
	return img.file
}

// Is64 reports whether the image is PE32+.
func (img *Image) Is64() bool {
	return img.is64
}

// ImageBase returns the preferred load address.
func (img *Image) ImageBase() uint64 {
	return img.imageBase
}

// FileAlignment returns the optional header file alignment.
func (img *Image) FileAlignment() uint32 {
	return img.fileAlign
}

// Calculator returns the coordinate calculator.
func (img *Image) Calculator() *Calculator {
	return img.calc
}

// Registry returns the content provider registry used by the image.
func (img *Image) Registry() *Registry {
	return img.registry
}

// Sections returns the section table.
func (img *Image) Sections() *Sections {
	return &Sections{img: img, headers: img.headers}
}

// DataDirectories returns all sixteen directory slots in order.
func (img *Image) DataDirectories() []DataDirectory {
	out := make([]DataDirectory, NumDirectories)
	copy(out, img.dirs[:])
	return out
}

// DataDirectory returns the slot for kind.
func (img *Image) DataDirectory(kind DirectoryKind) DataDirectory {
	if int(kind) >= NumDirectories {
		return DataDirectory{Kind: kind}
	}
	return img.dirs[kind]
}

// LocateDirectory places the directory for kind. It returns ErrNotPresent
// for empty slots and ErrUnresolvedDirectory when no section backs it.
func (img *Image) LocateDirectory(kind DirectoryKind) (Location, error) {
	dir := img.DataDirectory(kind)
	if dir.IsNullOrEmpty() {
		return Location{}, errors.Wrapf(ErrNotPresent, "%s 目录", kind)
	}
	if dir.IsFileOffset() {
		off := uint64(dir.VirtualAddress)
		if off+uint64(dir.Size) > uint64(img.src.Size()) {
			return Location{}, errors.Wrapf(ErrTruncatedInput, "%s 目录 0x%X+%d 超出文件", kind, off, dir.Size)
		}
		return img.calc.LocateOffset(off, dir.Size), nil
	}
	hdr, ok := img.calc.RVAToSection(dir.VirtualAddress)
	if !ok {
		return Location{}, errors.Wrapf(ErrUnresolvedDirectory, "%s 目录 RVA 0x%X", kind, dir.VirtualAddress)
	}
	if !hdr.Fits(dir) {
		return Location{}, errors.Wrapf(ErrUnresolvedDirectory, "%s 目录超出节区 %s 范围", kind, hdr.Name)
	}
	return img.calc.Locate(dir.VirtualAddress, dir.Size)
}

// DirectoryData returns untyped access to the bytes of any present, backed
// directory, whether or not a provider decodes it.
func (img *Image) DirectoryData(kind DirectoryKind) (*DataContent, error) {
	loc, err := img.LocateDirectory(kind)
	if err != nil {
		return nil, err
	}
	c := newDataContent(img, img.DataDirectory(kind), loc)
	return &c, nil
}

// Resolve decodes the directory for kind with its registered provider.
func (img *Image) Resolve(kind DirectoryKind) (Content, error) {
	loc, err := img.LocateDirectory(kind)
	if err != nil {
		return nil, err
	}
	p, ok := img.registry.Lookup(kind)
	if !ok {
		return nil, errors.Wrapf(ErrNoProvider, "%s 目录", kind)
	}
	var sec *Section
	if loc.Section != nil {
		sec = img.bare(*loc.Section)
	}
	return p.Create(img, img.DataDirectory(kind), sec)
}

func resolveAs[T Content](img *Image, kind DirectoryKind) (T, error) {
	var zero T
	c, err := img.Resolve(kind)
	if err != nil {
		return zero, err
	}
	t, ok := c.(T)
	if !ok {
		return zero, errors.Errorf("%s 目录的内容类型为 %T", kind, c)
	}
	return t, nil
}

// Resources decodes the resource directory.
func (img *Image) Resources() (*ResourceContent, error) {
	return resolveAs[*ResourceContent](img, DirResource)
}

// Debug decodes the debug directory.
func (img *Image) Debug() (*DebugContent, error) {
	return resolveAs[*DebugContent](img, DirDebug)
}

// TLS decodes the thread-local storage directory.
func (img *Image) TLS() (*TLSContent, error) {
	return resolveAs[*TLSContent](img, DirTLS)
}

// Exports decodes the export directory.
func (img *Image) Exports() (*ExportContent, error) {
	return resolveAs[*ExportContent](img, DirExport)
}

// Imports decodes the import directory.
func (img *Image) Imports() (*ImportContent, error) {
	return resolveAs[*ImportContent](img, DirImport)
}

// Relocations decodes the base relocation directory.
func (img *Image) Relocations() (*RelocationContent, error) {
	return resolveAs[*RelocationContent](img, DirBaseReloc)
}

// Security decodes the certificate table.
func (img *Image) Security() (*SecurityContent, error) {
	return resolveAs[*SecurityContent](img, DirSecurity)
}

// ReadRVA reads size bytes starting at rva. The whole range must lie in
// the raw data of one section.
func (img *Image) ReadRVA(rva, size uint32) ([]byte, error) {
	hdr, ok := img.calc.RVAToSection(rva)
	if !ok || !hdr.Fits(DataDirectory{VirtualAddress: rva, Size: size}) {
		return nil, errors.Wrapf(ErrUnresolvedDirectory, "RVA 0x%X 起的 %d 字节不在同一节内", rva, size)
	}
	loc, err := img.calc.Locate(rva, size)
	if err != nil {
		return nil, err
	}
	return img.src.Bytes(int64(loc.FileOffset), int(size))
}

// offsetOf converts rva to a file offset.
func (img *Image) offsetOf(rva uint32) (int64, error) {
	hdr, ok := img.calc.RVAToSection(rva)
	if !ok {
		return 0, errors.Wrapf(ErrUnresolvedDirectory, "RVA 0x%X 不在任何节区内", rva)
	}
	return int64(img.calc.RVAToOffset(hdr, rva)), nil
}
