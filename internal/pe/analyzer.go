package pe

import (
	"debug/pe"
	"fmt"

	log "github.com/sirupsen/logrus"
)

// Info is a summary of an image for reporting.
type Info struct {
	FilePath     string            `json:"file_path" yaml:"file_path"`
	FileSize     int64             `json:"file_size" yaml:"file_size"`
	Architecture string            `json:"architecture" yaml:"architecture"`
	Subsystem    string            `json:"subsystem" yaml:"subsystem"`
	EntryPoint   uint64            `json:"entry_point" yaml:"entry_point"`
	ImageBase    uint64            `json:"image_base" yaml:"image_base"`
	Checksum     *ChecksumInfo     `json:"checksum,omitempty" yaml:"checksum,omitempty"`
	Certificates []CertificateInfo `json:"certificates,omitempty" yaml:"certificates,omitempty"`
	Sections     []SectionInfo     `json:"sections" yaml:"sections"`
	Directories  []DirectoryInfo   `json:"directories" yaml:"directories"`
	Imports      []ImportInfo      `json:"imports,omitempty" yaml:"imports,omitempty"`
	Exports      []string          `json:"exports,omitempty" yaml:"exports,omitempty"`
}

// SectionInfo contains information about a PE section.
type SectionInfo struct {
	Name            string   `json:"name" yaml:"name"`
	VirtualAddress  uint32   `json:"virtual_address" yaml:"virtual_address"`
	VirtualSize     uint32   `json:"virtual_size" yaml:"virtual_size"`
	Offset          uint32   `json:"offset" yaml:"offset"`
	Size            uint32   `json:"size" yaml:"size"`
	Characteristics uint32   `json:"characteristics" yaml:"characteristics"`
	Permissions     string   `json:"permissions" yaml:"permissions"`
	Entropy         float64  `json:"entropy" yaml:"entropy"`
	Contents        []string `json:"contents,omitempty" yaml:"contents,omitempty"`
}

// DirectoryInfo describes one data directory slot and how it resolved.
type DirectoryInfo struct {
	Kind    string `json:"kind" yaml:"kind"`
	RVA     uint32 `json:"rva" yaml:"rva"`
	Size    uint32 `json:"size" yaml:"size"`
	Section string `json:"section,omitempty" yaml:"section,omitempty"`
	Status  string `json:"status" yaml:"status"`
}

// Directory resolution states.
const (
	DirectoryAbsent     = "absent"
	DirectoryUnresolved = "unresolved"
	DirectoryRaw        = "raw"
	DirectoryDecoded    = "decoded"
	DirectoryFailed     = "failed"
)

// Analyze summarizes the image. Failures of optional parts are logged
// and leave the corresponding field empty.
func Analyze(img *Image) (*Info, error) {
	f := img.File()
	info := &Info{
		FilePath:     img.Path(),
		FileSize:     img.Source().Size(),
		Architecture: getArchitecture(f.Machine),
		ImageBase:    img.ImageBase(),
	}

	switch opt := f.OptionalHeader.(type) {
	case *pe.OptionalHeader32:
		info.EntryPoint = uint64(opt.AddressOfEntryPoint)
		info.Subsystem = getSubsystem(opt.Subsystem)
	case *pe.OptionalHeader64:
		info.EntryPoint = uint64(opt.AddressOfEntryPoint)
		info.Subsystem = getSubsystem(opt.Subsystem)
	}

	for _, sec := range img.Sections().All() {
		entropy, err := sec.Entropy()
		if err != nil {
			log.WithError(err).WithField("section", sec.Name).Debug("计算熵失败")
		}
		si := SectionInfo{
			Name:            sec.Name,
			VirtualAddress:  sec.VirtualAddress,
			VirtualSize:     sec.VirtualSize,
			Offset:          sec.PointerToRawData,
			Size:            sec.SizeOfRawData,
			Characteristics: sec.Characteristics,
			Permissions:     sec.Permissions(),
			Entropy:         entropy,
		}
		for _, c := range sec.Contents() {
			si.Contents = append(si.Contents, c.Kind().String())
		}
		info.Sections = append(info.Sections, si)
	}

	info.Directories = DescribeDirectories(img)

	if checksum, err := img.VerifyChecksum(); err == nil {
		info.Checksum = checksum
	} else {
		log.WithError(err).Debug("校验和验证失败")
	}
	if imports, err := img.Imports(); err == nil {
		info.Imports = imports.Imports()
	} else if !IsAbsent(err) {
		log.WithError(err).Warn("解析导入表失败")
	}
	if exports, err := img.Exports(); err == nil {
		info.Exports = exports.Names()
	} else if !IsAbsent(err) {
		log.WithError(err).Warn("解析导出表失败")
	}
	if security, err := img.Security(); err == nil {
		if certs, err := security.Signers(); err == nil {
			info.Certificates = certs
		} else {
			log.WithError(err).Warn("解析签名失败")
		}
	} else if !IsAbsent(err) {
		log.WithError(err).Warn("读取证书表失败")
	}

	return info, nil
}

// DescribeDirectories reports how every data directory slot resolves.
func DescribeDirectories(img *Image) []DirectoryInfo {
	out := make([]DirectoryInfo, 0, NumDirectories)
	for _, dir := range img.DataDirectories() {
		di := DirectoryInfo{Kind: dir.Kind.String(), RVA: dir.VirtualAddress, Size: dir.Size}
		loc, err := img.LocateDirectory(dir.Kind)
		switch {
		case err != nil && dir.IsNullOrEmpty():
			di.Status = DirectoryAbsent
		case err != nil:
			di.Status = DirectoryUnresolved
		default:
			if loc.Section != nil {
				di.Section = loc.Section.Name
			}
			di.Status = DirectoryRaw
			if _, ok := img.Registry().Lookup(dir.Kind); ok {
				if _, err := img.Resolve(dir.Kind); err != nil {
					di.Status = DirectoryFailed
				} else {
					di.Status = DirectoryDecoded
				}
			}
		}
		out = append(out, di)
	}
	return out
}

func getArchitecture(machine uint16) string {
	switch machine {
	case pe.IMAGE_FILE_MACHINE_I386:
		return "x86 (32位)"
	case pe.IMAGE_FILE_MACHINE_AMD64:
		return "x64 (64位)"
	case pe.IMAGE_FILE_MACHINE_ARM:
		return "ARM"
	case pe.IMAGE_FILE_MACHINE_ARM64:
		return "ARM64"
	default:
		return fmt.Sprintf("未知 (0x%X)", machine)
	}
}

func getSubsystem(subsystem uint16) string {
	switch subsystem {
	case pe.IMAGE_SUBSYSTEM_WINDOWS_GUI:
		return "Windows GUI"
	case pe.IMAGE_SUBSYSTEM_WINDOWS_CUI:
		return "Windows 控制台"
	case pe.IMAGE_SUBSYSTEM_NATIVE:
		return "Native"
	default:
		return fmt.Sprintf("未知 (0x%X)", subsystem)
	}
}
