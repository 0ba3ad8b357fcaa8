package pe

import (
	"fmt"
	"strings"
)

// DirectoryKind identifies one of the fixed optional header data directory slots.
type DirectoryKind uint8

// Data directory slots in optional header order.
const (
	DirExport DirectoryKind = iota
	DirImport
	DirResource
	DirException
	DirSecurity
	DirBaseReloc
	DirDebug
	DirArchitecture
	DirGlobalPtr
	DirTLS
	DirLoadConfig
	DirBoundImport
	DirIAT
	DirDelayImport
	DirCLRRuntime
	DirReserved
)

// NumDirectories is the number of data directory slots.
const NumDirectories = 16

var directoryNames = [NumDirectories]string{
	"Export",
	"Import",
	"Resource",
	"Exception",
	"Security",
	"BaseReloc",
	"Debug",
	"Architecture",
	"GlobalPtr",
	"TLS",
	"LoadConfig",
	"BoundImport",
	"IAT",
	"DelayImport",
	"CLRRuntime",
	"Reserved",
}

func (k DirectoryKind) String() string {
	if int(k) < len(directoryNames) {
		return directoryNames[k]
	}
	return fmt.Sprintf("Directory(%d)", uint8(k))
}

// ParseDirectoryKind returns the kind named name, ignoring case.
func ParseDirectoryKind(name string) (DirectoryKind, bool) {
	for i, n := range directoryNames {
		if strings.EqualFold(n, name) {
			return DirectoryKind(i), true
		}
	}
	return 0, false
}

// DataDirectory is one (RVA, size) slot of the optional header.
type DataDirectory struct {
	Kind           DirectoryKind
	VirtualAddress uint32
	Size           uint32
}

// IsNullOrEmpty reports whether the directory is absent.
func (d DataDirectory) IsNullOrEmpty() bool {
	return d.VirtualAddress == 0 || d.Size == 0
}

// IsFileOffset reports whether VirtualAddress holds a file offset rather
// than an RVA. Only the certificate table is stored this way.
func (d DataDirectory) IsFileOffset() bool {
	return d.Kind == DirSecurity
}

func (d DataDirectory) String() string {
	return fmt.Sprintf("%s(0x%08X, %d)", d.Kind, d.VirtualAddress, d.Size)
}
