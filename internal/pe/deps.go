package pe

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	log "github.com/sirupsen/logrus"
)

// DependencyNode is one module in a dependency tree.
type DependencyNode struct {
	Name         string            `json:"name" yaml:"name"`
	Path         string            `json:"path,omitempty" yaml:"path,omitempty"`
	Found        bool              `json:"found" yaml:"found"`
	System       bool              `json:"system,omitempty" yaml:"system,omitempty"`
	Cycle        bool              `json:"cycle,omitempty" yaml:"cycle,omitempty"`
	Depth        int               `json:"depth" yaml:"depth"`
	Dependencies []*DependencyNode `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
}

// DependencyAnalysis is the result of AnalyzeDependencies.
type DependencyAnalysis struct {
	Root     *DependencyNode   `json:"root" yaml:"root"`
	AllDeps  map[string]string `json:"all" yaml:"all"`
	Missing  []string          `json:"missing" yaml:"missing"`
	MaxDepth int               `json:"max_depth" yaml:"max_depth"`
	Cycles   bool              `json:"cycles" yaml:"cycles"`
}

// SystemPath marks a system DLL in DependencyAnalysis.AllDeps.
const SystemPath = "<system>"

// systemDLLs are not searched for or recursed into.
var systemDLLs = map[string]bool{
	"kernel32.dll": true,
	"ntdll.dll":    true,
	"user32.dll":   true,
	"gdi32.dll":    true,
	"advapi32.dll": true,
	"ws2_32.dll":   true,
	"msvcrt.dll":   true,
	"shell32.dll":  true,
	"ole32.dll":    true,
	"oleaut32.dll": true,
	"comctl32.dll": true,
	"comdlg32.dll": true,
	"shlwapi.dll":  true,
	"wininet.dll":  true,
	"rpcrt4.dll":   true,
	"crypt32.dll":  true,
	"version.dll":  true,
	"winspool.drv": true,
	"secur32.dll":  true,
	"userenv.dll":  true,
	"psapi.dll":    true,
	"iphlpapi.dll": true,
	"bcrypt.dll":   true,
	"setupapi.dll": true,
	"wintrust.dll": true,
	"imagehlp.dll": true,
	"dbghelp.dll":  true,
	"imm32.dll":    true,
	"uxtheme.dll":  true,
	"dwmapi.dll":   true,
}

// IsSystemDLL reports whether name is a well-known system DLL or API set.
func IsSystemDLL(name string) bool {
	n := strings.ToLower(name)
	return systemDLLs[n] || strings.HasPrefix(n, "api-ms-win-") || strings.HasPrefix(n, "ext-ms-")
}

// DefaultSearchPath returns the directories searched after the directory of
// the importing module: the Windows system directories, the working
// directory, PATH and the Wine prefix of the current user.
func DefaultSearchPath() []string {
	dirs := []string{
		`C:\Windows\System32`,
		`C:\Windows\SysWOW64`,
		`C:\Windows`,
		".",
	}
	dirs = append(dirs, filepath.SplitList(os.Getenv("PATH"))...)
	if home, err := os.UserHomeDir(); err == nil {
		dirs = append(dirs,
			filepath.Join(home, ".wine", "drive_c", "windows", "system32"),
			filepath.Join(home, ".wine", "drive_c", "windows", "syswow64"))
	}
	return dirs
}

type dependencyWalker struct {
	searchPath []string
	maxDepth   int
	options    []Option
	visiting   map[string]bool
	analysis   *DependencyAnalysis
}

// AnalyzeDependencies resolves the imported DLLs of the image at path,
// recursing into each DLL found in the directory of its importer or in
// searchPath, up to maxDepth levels. A nil searchPath means
// DefaultSearchPath.
func AnalyzeDependencies(path string, maxDepth int, searchPath []string, options ...Option) (*DependencyAnalysis, error) {
	if searchPath == nil {
		searchPath = DefaultSearchPath()
	}
	w := &dependencyWalker{
		searchPath: searchPath,
		maxDepth:   maxDepth,
		options:    options,
		visiting:   make(map[string]bool),
		analysis:   &DependencyAnalysis{AllDeps: make(map[string]string)},
	}
	imports, err := w.importedDLLs(path)
	if err != nil {
		return nil, err
	}
	root := &DependencyNode{Name: filepath.Base(path), Path: path, Found: true}
	w.visiting[strings.ToLower(root.Name)] = true
	w.expand(root, filepath.Dir(path), imports)
	w.analysis.Root = root
	sort.Strings(w.analysis.Missing)
	return w.analysis, nil
}

// importedDLLs returns the lower-cased DLL names imported by the image at
// path, sorted and without duplicates.
func (w *dependencyWalker) importedDLLs(path string) ([]string, error) {
	img, err := Open(path, w.options...)
	if err != nil {
		return nil, err
	}
	defer img.Close()

	ic, err := img.Imports()
	if IsAbsent(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var names []string
	for _, imp := range ic.Imports() {
		n := strings.ToLower(imp.DLL)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		names = append(names, n)
	}
	sort.Strings(names)
	return names, nil
}

func (w *dependencyWalker) expand(node *DependencyNode, baseDir string, imports []string) {
	if node.Depth > w.analysis.MaxDepth {
		w.analysis.MaxDepth = node.Depth
	}
	for _, name := range imports {
		child := &DependencyNode{Name: name, Depth: node.Depth + 1}
		node.Dependencies = append(node.Dependencies, child)
		if child.Depth > w.analysis.MaxDepth {
			w.analysis.MaxDepth = child.Depth
		}

		if IsSystemDLL(name) {
			child.Found, child.System, child.Path = true, true, SystemPath
			w.analysis.AllDeps[name] = SystemPath
			continue
		}
		child.Path = w.find(name, baseDir)
		if child.Path == "" {
			if _, ok := w.analysis.AllDeps[name]; !ok {
				w.analysis.Missing = append(w.analysis.Missing, name)
				w.analysis.AllDeps[name] = ""
			}
			continue
		}
		child.Found = true
		w.analysis.AllDeps[name] = child.Path

		if w.visiting[name] {
			child.Cycle = true
			w.analysis.Cycles = true
			continue
		}
		if child.Depth >= w.maxDepth {
			continue
		}
		sub, err := w.importedDLLs(child.Path)
		if err != nil {
			log.WithError(err).WithField("dll", child.Path).Debug("无法解析依赖DLL")
			continue
		}
		w.visiting[name] = true
		w.expand(child, filepath.Dir(child.Path), sub)
		w.visiting[name] = false
	}
}

// find looks for name in baseDir and then in the search path.
func (w *dependencyWalker) find(name, baseDir string) string {
	if !strings.Contains(name, ".") {
		name += ".dll"
	}
	for _, dir := range append([]string{baseDir}, w.searchPath...) {
		if dir == "" {
			continue
		}
		p := filepath.Join(dir, name)
		if fi, err := os.Stat(p); err == nil && !fi.IsDir() {
			return p
		}
	}
	return ""
}
