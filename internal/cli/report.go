package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/ko4life-net/pe/internal/pe"
)

// Reporter formats and prints PE analysis results.
type Reporter struct {
	w              io.Writer
	info           *pe.Info
	caves          []pe.CodeCave
	verbose        bool
	suspiciousOnly bool
	explain        bool
}

// NewReporter creates a new reporter writing info to w.
func NewReporter(w io.Writer, info *pe.Info) *Reporter {
	return &Reporter{w: w, info: info}
}

// SetVerbose enables verbose mode (show all functions).
func (r *Reporter) SetVerbose(verbose bool) {
	r.verbose = verbose
}

// SetSuspiciousOnly enables suspicious-only mode (show RWX sections only).
func (r *Reporter) SetSuspiciousOnly(suspicious bool) {
	r.suspiciousOnly = suspicious
}

// SetExplain appends field descriptions to the basic information.
func (r *Reporter) SetExplain(explain bool) {
	r.explain = explain
}

// SetCodeCaves adds a code cave section to the report.
func (r *Reporter) SetCodeCaves(caves []pe.CodeCave) {
	r.caves = caves
}

// Print outputs the complete analysis report.
func (r *Reporter) Print() {
	r.printHeader()
	r.printBasicInfo()
	r.printSections()
	r.printDirectories()
	r.printCertificates()
	r.printImports()
	r.printExports()
	if r.caves != nil {
		r.printCodeCaves()
	}
}

func (r *Reporter) printHeader() {
	cyan := color.New(color.FgCyan, color.Bold)
	cyan.Fprintln(r.w, "\n╔════════════════════════════════════════╗")
	cyan.Fprintln(r.w, "║          pescope 分析报告              ║")
	cyan.Fprintln(r.w, "╚════════════════════════════════════════╝")
}

func (r *Reporter) title(format string, args ...interface{}) {
	yellow := color.New(color.FgYellow, color.Bold)
	yellow.Fprintf(r.w, "\n"+format+"\n", args...)
}

func (r *Reporter) field(key, label, value string) {
	fmt.Fprintf(r.w, "  %-20s: %s", label, value)
	if r.explain {
		gray := color.New(color.FgHiBlack)
		gray.Fprintf(r.w, "  (%s)", DescribeField(key))
	}
	fmt.Fprintln(r.w)
}

func (r *Reporter) printBasicInfo() {
	r.title("【基本信息】")

	r.field("file_path", "文件路径", r.info.FilePath)
	r.field("file_size", "文件大小", humanize.IBytes(uint64(r.info.FileSize)))
	r.field("architecture", "架构", r.info.Architecture)
	r.field("subsystem", "子系统", r.info.Subsystem)
	r.field("entry_point", "入口点", fmt.Sprintf("0x%X", r.info.EntryPoint))
	r.field("image_base", "镜像基址", fmt.Sprintf("0x%X", r.info.ImageBase))

	if r.info.Checksum == nil {
		return
	}
	var status string
	switch c := r.info.Checksum; {
	case c.Stored == 0:
		status = color.New(color.FgHiBlack).Sprint("未设置")
	case c.Valid:
		status = color.New(color.FgGreen).Sprintf("✓ 有效 (0x%08X)", c.Stored)
	default:
		status = color.New(color.FgRed, color.Bold).Sprintf("✗ 无效 (存储: 0x%08X, 计算: 0x%08X)", c.Stored, c.Computed)
	}
	r.field("checksum", "校验和", status)
}

func (r *Reporter) printSections() {
	sections := r.info.Sections

	// Filter suspicious sections if flag is set
	if r.suspiciousOnly {
		var suspicious []pe.SectionInfo
		for _, s := range sections {
			if s.Permissions == "RWX" {
				suspicious = append(suspicious, s)
			}
		}
		sections = suspicious
	}

	if r.suspiciousOnly {
		r.title("【可疑节区】(共 %d 个)", len(sections))
	} else {
		r.title("【节区信息】(共 %d 个)", len(sections))
	}

	if len(sections) == 0 {
		if r.suspiciousOnly {
			fmt.Fprintln(r.w, "  未发现可疑节区")
		} else {
			fmt.Fprintln(r.w, "  未发现节区")
		}
		return
	}

	t := newTable(r.w, table.Row{"名称", "虚拟地址", "虚拟大小", "原始大小", "权限", "熵", "内容"})
	for _, section := range sections {
		// Highlight dangerous permissions (RWX)
		perms := section.Permissions
		if perms == "RWX" {
			perms = color.New(color.FgRed, color.Bold).Sprint(perms)
		} else if strings.Contains(perms, "X") {
			perms = color.New(color.FgYellow).Sprint(perms)
		}
		t.AppendRow(table.Row{
			section.Name,
			fmt.Sprintf("0x%08X", section.VirtualAddress),
			humanize.IBytes(uint64(section.VirtualSize)),
			humanize.IBytes(uint64(section.Size)),
			perms,
			fmt.Sprintf("%.2f", section.Entropy),
			strings.Join(section.Contents, ", "),
		})
	}
	t.Render()
}

func (r *Reporter) printDirectories() {
	var present []pe.DirectoryInfo
	for _, d := range r.info.Directories {
		if d.Status != pe.DirectoryAbsent {
			present = append(present, d)
		}
	}
	r.title("【数据目录】(共 %d 个)", len(present))
	if len(present) == 0 {
		fmt.Fprintln(r.w, "  未发现数据目录")
		return
	}
	t := newTable(r.w, table.Row{"目录", "RVA", "大小", "节区", "状态"})
	for _, d := range present {
		t.AppendRow(table.Row{d.Kind, fmt.Sprintf("0x%08X", d.RVA), humanize.IBytes(uint64(d.Size)), d.Section, statusColor(d.Status)})
	}
	t.Render()
}

func statusColor(status string) string {
	switch status {
	case pe.DirectoryDecoded:
		return color.New(color.FgGreen).Sprint(status)
	case pe.DirectoryFailed, pe.DirectoryUnresolved:
		return color.New(color.FgRed).Sprint(status)
	default:
		return status
	}
}

func (r *Reporter) printCertificates() {
	if len(r.info.Certificates) == 0 {
		return
	}
	r.title("【数字签名】(共 %d 个证书)", len(r.info.Certificates))
	for i, c := range r.info.Certificates {
		mark := ""
		if c.Signer {
			mark = color.New(color.FgCyan).Sprint(" [签名者]")
		}
		validity := color.New(color.FgGreen).Sprint("有效期内")
		if !c.IsValid {
			validity = color.New(color.FgRed).Sprint("已过期或未生效")
		}
		fmt.Fprintf(r.w, "  %3d. %s%s\n", i+1, c.Subject, mark)
		fmt.Fprintf(r.w, "       颁发者: %s\n", c.Issuer)
		fmt.Fprintf(r.w, "       有效期: %s - %s (%s)\n",
			c.NotBefore.Format("2006-01-02"), c.NotAfter.Format("2006-01-02"), validity)
	}
}

func (r *Reporter) printImports() {
	r.title("【导入表】(共 %d 个DLL)", len(r.info.Imports))

	if len(r.info.Imports) == 0 {
		fmt.Fprintln(r.w, "  未发现导入")
		return
	}

	green := color.New(color.FgGreen)
	gray := color.New(color.FgHiBlack)
	for i, imp := range r.info.Imports {
		funcCount := len(imp.Functions)
		green.Fprintf(r.w, "  %3d. %s (%d 个函数)\n", i+1, imp.DLL, funcCount)

		maxDisplay := 10
		if r.verbose {
			maxDisplay = funcCount // Show all in verbose mode
		}
		displayCount := min(funcCount, maxDisplay)
		for j := 0; j < displayCount; j++ {
			fmt.Fprintf(r.w, "       - %s\n", imp.Functions[j])
		}
		if funcCount > maxDisplay {
			gray.Fprintf(r.w, "       ... (还有 %d 个函数)\n", funcCount-maxDisplay)
		}
	}
}

func (r *Reporter) printExports() {
	r.title("【导出表】(共 %d 个函数)", len(r.info.Exports))

	if len(r.info.Exports) == 0 {
		fmt.Fprintln(r.w, "  未发现导出")
		return
	}

	maxDisplay := 20
	if r.verbose {
		maxDisplay = len(r.info.Exports) // Show all in verbose mode
	}
	displayCount := min(len(r.info.Exports), maxDisplay)

	green := color.New(color.FgGreen)
	for i := 0; i < displayCount; i++ {
		green.Fprintf(r.w, "  %3d. %s\n", i+1, r.info.Exports[i])
	}
	if len(r.info.Exports) > maxDisplay {
		gray := color.New(color.FgHiBlack)
		gray.Fprintf(r.w, "  ... (还有 %d 个函数)\n", len(r.info.Exports)-maxDisplay)
	}
}

func (r *Reporter) printCodeCaves() {
	r.title("【Code Caves】(共 %d 个)", len(r.caves))
	if len(r.caves) == 0 {
		fmt.Fprintln(r.w, "  未发现 Code Cave")
		return
	}
	t := newTable(r.w, table.Row{"节区", "文件偏移", "RVA", "大小", "填充"})
	for _, c := range r.caves {
		t.AppendRow(table.Row{c.Section, fmt.Sprintf("0x%08X", c.Offset), fmt.Sprintf("0x%08X", c.RVA), humanize.IBytes(uint64(c.Size)), fmt.Sprintf("0x%02X", c.FillByte)})
	}
	t.Render()
}
