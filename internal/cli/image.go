package cli

import (
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/ko4life-net/pe/internal/pe"
)

func (a *app) infoCommand() *cobra.Command {
	var (
		verbose, suspiciousOnly, explain, caves bool
		minCaveSize                             uint32
	)
	cmd := &cobra.Command{
		Use:   "info <file>",
		Short: "显示 PE 文件概要：头部、节区、数据目录、签名、导入与导出",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			img, err := a.open(args[0])
			if err != nil {
				return err
			}
			defer img.Close()

			info, err := pe.Analyze(img)
			if err != nil {
				return err
			}
			var found []pe.CodeCave
			if caves {
				if found, err = img.FindCodeCaves(minCaveSize); err != nil {
					return err
				}
				if found == nil {
					found = []pe.CodeCave{}
				}
			}

			out := cmd.OutOrStdout()
			return emit(out, a.cfg.Output, info, func() {
				r := NewReporter(out, info)
				r.SetVerbose(verbose)
				r.SetSuspiciousOnly(suspiciousOnly)
				r.SetExplain(explain)
				r.SetCodeCaves(found)
				r.Print()
			})
		},
	}
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "详细模式：显示所有导入/导出函数")
	cmd.Flags().BoolVarP(&suspiciousOnly, "suspicious", "s", false, "仅显示可疑节区（RWX权限）")
	cmd.Flags().BoolVar(&explain, "explain", false, "显示字段说明")
	cmd.Flags().BoolVar(&caves, "caves", false, "检测Code Caves（未使用的填充区域）")
	cmd.Flags().Uint32Var(&minCaveSize, "min-cave-size", 32, "Code Cave最小大小（字节）")
	return cmd
}

type sectionView struct {
	Name        string   `json:"name" yaml:"name"`
	Offset      uint64   `json:"offset" yaml:"offset"`
	RVA         uint32   `json:"rva" yaml:"rva"`
	VA          uint64   `json:"va" yaml:"va"`
	VirtualSize uint32   `json:"virtual_size" yaml:"virtual_size"`
	RawSize     uint32   `json:"size" yaml:"size"`
	AlignedSize uint32   `json:"aligned_size" yaml:"aligned_size"`
	Permissions string   `json:"permissions" yaml:"permissions"`
	Entropy     float64  `json:"entropy" yaml:"entropy"`
	Contents    []string `json:"contents,omitempty" yaml:"contents,omitempty"`
}

func (a *app) sectionsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sections <file>",
		Short: "列出节区及其在三种坐标空间中的位置",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			img, err := a.open(args[0])
			if err != nil {
				return err
			}
			defer img.Close()

			var views []sectionView
			for _, sec := range img.Sections().All() {
				loc := sec.Location()
				entropy, err := sec.Entropy()
				if err != nil {
					return err
				}
				v := sectionView{
					Name:        sec.Name,
					Offset:      loc.FileOffset,
					RVA:         loc.RVA,
					VA:          loc.VA,
					VirtualSize: sec.VirtualSize,
					RawSize:     sec.SizeOfRawData,
					AlignedSize: loc.AlignedSize,
					Permissions: sec.Permissions(),
					Entropy:     entropy,
				}
				for _, c := range sec.Contents() {
					v.Contents = append(v.Contents, c.Kind().String())
				}
				views = append(views, v)
			}

			out := cmd.OutOrStdout()
			return emit(out, a.cfg.Output, views, func() {
				t := newTable(out, table.Row{"名称", "文件偏移", "RVA", "VA", "原始大小", "对齐大小", "权限", "熵", "内容"})
				for _, v := range views {
					t.AppendRow(table.Row{
						v.Name,
						fmt.Sprintf("0x%08X", v.Offset),
						fmt.Sprintf("0x%08X", v.RVA),
						fmt.Sprintf("0x%X", v.VA),
						humanize.IBytes(uint64(v.RawSize)),
						humanize.IBytes(uint64(v.AlignedSize)),
						v.Permissions,
						fmt.Sprintf("%.2f %s", v.Entropy, pe.EntropyLevel(v.Entropy)),
						strings.Join(v.Contents, ", "),
					})
				}
				t.Render()
			})
		},
	}
}

func (a *app) dirsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "dirs <file>",
		Short: "列出 16 个数据目录槽位及其解析状态",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			img, err := a.open(args[0])
			if err != nil {
				return err
			}
			defer img.Close()

			dirs := pe.DescribeDirectories(img)
			out := cmd.OutOrStdout()
			return emit(out, a.cfg.Output, dirs, func() {
				t := newTable(out, table.Row{"#", "目录", "RVA", "大小", "节区", "状态"})
				for i, d := range dirs {
					t.AppendRow(table.Row{i, d.Kind, fmt.Sprintf("0x%08X", d.RVA), d.Size, d.Section, statusColor(d.Status)})
				}
				t.Render()
			})
		},
	}
}

type locationView struct {
	Offset  uint64 `json:"offset" yaml:"offset"`
	RVA     uint32 `json:"rva" yaml:"rva"`
	VA      uint64 `json:"va" yaml:"va"`
	Section string `json:"section,omitempty" yaml:"section,omitempty"`
	InFile  bool   `json:"in_file" yaml:"in_file"`
}

func newLocationView(loc pe.Location) locationView {
	v := locationView{Offset: loc.FileOffset, RVA: loc.RVA, VA: loc.VA, InFile: loc.HasFileOffset()}
	if loc.Section != nil {
		v.Section = loc.Section.Name
	}
	return v
}

// locate converts value from the coordinate space named by from.
func locate(calc *pe.Calculator, from string, value uint64) (pe.Location, error) {
	switch from {
	case "rva":
		if value > 0xFFFFFFFF {
			return pe.Location{}, fmt.Errorf("RVA 0x%X 超出 32 位范围", value)
		}
		return calc.Locate(uint32(value), 0)
	case "va":
		rva, ok := calc.VAToRVA(value)
		if !ok {
			return pe.Location{}, errors.Wrapf(pe.ErrUnresolvedDirectory, "VA 0x%X 不在镜像范围内", value)
		}
		return calc.Locate(rva, 0)
	case "offset":
		return calc.LocateOffset(value, 0), nil
	default:
		return pe.Location{}, fmt.Errorf("未知的坐标空间 %q (rva|va|offset)", from)
	}
}

func (a *app) locateCommand() *cobra.Command {
	var from string
	cmd := &cobra.Command{
		Use:   "locate <file> <address>...",
		Short: "在文件偏移、RVA 与 VA 之间换算地址",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			img, err := a.open(args[0])
			if err != nil {
				return err
			}
			defer img.Close()

			var views []locationView
			for _, arg := range args[1:] {
				value, err := strconv.ParseUint(arg, 0, 64)
				if err != nil {
					return fmt.Errorf("无效的地址 %q", arg)
				}
				loc, err := locate(img.Calculator(), from, value)
				if err != nil {
					return err
				}
				views = append(views, newLocationView(loc))
			}

			out := cmd.OutOrStdout()
			return emit(out, a.cfg.Output, views, func() {
				t := newTable(out, table.Row{"文件偏移", "RVA", "VA", "节区"})
				for _, v := range views {
					offset := fmt.Sprintf("0x%08X", v.Offset)
					if !v.InFile {
						offset = "-"
					}
					t.AppendRow(table.Row{offset, fmt.Sprintf("0x%08X", v.RVA), fmt.Sprintf("0x%X", v.VA), v.Section})
				}
				t.Render()
			})
		},
	}
	cmd.Flags().StringVar(&from, "from", "rva", "输入地址的坐标空间 (rva|va|offset)")
	return cmd
}

type debugView struct {
	Type      string       `json:"type" yaml:"type"`
	Timestamp time.Time    `json:"timestamp" yaml:"timestamp"`
	Version   string       `json:"version" yaml:"version"`
	Size      uint32       `json:"size" yaml:"size"`
	Location  locationView `json:"location" yaml:"location"`
}

type codeViewView struct {
	GUID       string `json:"guid" yaml:"guid"`
	Age        uint32 `json:"age" yaml:"age"`
	PDB        string `json:"pdb" yaml:"pdb"`
	Identifier string `json:"symbol_server_id" yaml:"symbol_server_id"`
}

func (a *app) debugCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "debug <file>",
		Short: "显示调试目录条目与 CodeView (PDB) 信息",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			img, err := a.open(args[0])
			if err != nil {
				return err
			}
			defer img.Close()

			dbg, err := img.Debug()
			if err != nil {
				return err
			}
			report := struct {
				Entries  []debugView   `json:"entries" yaml:"entries"`
				CodeView *codeViewView `json:"codeview,omitempty" yaml:"codeview,omitempty"`
			}{}
			for _, e := range dbg.Entries() {
				report.Entries = append(report.Entries, debugView{
					Type:      e.Type.String(),
					Timestamp: e.TimeDateStamp,
					Version:   fmt.Sprintf("%d.%d", e.MajorVersion, e.MinorVersion),
					Size:      e.SizeOfData,
					Location:  newLocationView(e.Location()),
				})
			}
			if cv, err := dbg.CodeView(); err == nil {
				report.CodeView = &codeViewView{
					GUID:       cv.GUID.String(),
					Age:        cv.Age,
					PDB:        cv.PDBPath,
					Identifier: cv.Identifier(),
				}
			} else if !pe.IsAbsent(err) {
				return err
			}

			out := cmd.OutOrStdout()
			return emit(out, a.cfg.Output, report, func() {
				t := newTable(out, table.Row{"类型", "时间戳", "版本", "大小", "文件偏移", "RVA"})
				for _, e := range report.Entries {
					t.AppendRow(table.Row{e.Type, e.Timestamp.UTC().Format(time.RFC3339), e.Version, e.Size,
						fmt.Sprintf("0x%08X", e.Location.Offset), fmt.Sprintf("0x%08X", e.Location.RVA)})
				}
				t.Render()
				if cv := report.CodeView; cv != nil {
					fmt.Fprintf(out, "PDB: %s\nGUID: %s  Age: %d\n符号服务器标识: %s\n", cv.PDB, cv.GUID, cv.Age, cv.Identifier)
				}
			})
		},
	}
}

type tlsView struct {
	StartAddressOfRawData uint64   `json:"start_address_of_raw_data" yaml:"start_address_of_raw_data"`
	EndAddressOfRawData   uint64   `json:"end_address_of_raw_data" yaml:"end_address_of_raw_data"`
	AddressOfIndex        uint64   `json:"address_of_index" yaml:"address_of_index"`
	AddressOfCallBacks    uint64   `json:"address_of_callbacks" yaml:"address_of_callbacks"`
	SizeOfZeroFill        uint32   `json:"size_of_zero_fill" yaml:"size_of_zero_fill"`
	Characteristics       uint32   `json:"characteristics" yaml:"characteristics"`
	Callbacks             []uint64 `json:"callbacks" yaml:"callbacks"`
}

func (a *app) tlsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "tls <file>",
		Short: "显示 TLS 目录与回调函数",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			img, err := a.open(args[0])
			if err != nil {
				return err
			}
			defer img.Close()

			tls, err := img.TLS()
			if err != nil {
				return err
			}
			callbacks, err := tls.Callbacks()
			if err != nil {
				return err
			}
			v := tlsView{
				StartAddressOfRawData: tls.StartAddressOfRawData(),
				EndAddressOfRawData:   tls.EndAddressOfRawData(),
				AddressOfIndex:        tls.AddressOfIndex(),
				AddressOfCallBacks:    tls.AddressOfCallBacks(),
				SizeOfZeroFill:        tls.SizeOfZeroFill(),
				Characteristics:       tls.Characteristics(),
				Callbacks:             callbacks,
			}

			out := cmd.OutOrStdout()
			return emit(out, a.cfg.Output, v, func() {
				t := newTable(out, table.Row{"字段", "值"})
				t.AppendRow(table.Row{"StartAddressOfRawData", fmt.Sprintf("0x%X", v.StartAddressOfRawData)})
				t.AppendRow(table.Row{"EndAddressOfRawData", fmt.Sprintf("0x%X", v.EndAddressOfRawData)})
				t.AppendRow(table.Row{"AddressOfIndex", fmt.Sprintf("0x%X", v.AddressOfIndex)})
				t.AppendRow(table.Row{"AddressOfCallBacks", fmt.Sprintf("0x%X", v.AddressOfCallBacks)})
				t.AppendRow(table.Row{"SizeOfZeroFill", v.SizeOfZeroFill})
				t.AppendRow(table.Row{"Characteristics", fmt.Sprintf("0x%08X", v.Characteristics)})
				for i, cb := range v.Callbacks {
					t.AppendRow(table.Row{fmt.Sprintf("Callback[%d]", i), fmt.Sprintf("0x%X", cb)})
				}
				t.Render()
			})
		},
	}
}

func fieldsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "fields",
		Short: "列出报告字段说明",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			t := newTable(cmd.OutOrStdout(), table.Row{"字段", "说明"})
			for _, name := range FieldNames() {
				t.AppendRow(table.Row{name, DescribeField(name)})
			}
			t.Render()
			return nil
		},
	}
}

func (a *app) dumpCommand() *cobra.Command {
	var (
		section, dir string
		rva          uint32
		size         uint32
	)
	cmd := &cobra.Command{
		Use:   "dump <file>",
		Short: "以十六进制转储节区、数据目录或任意 RVA 处的字节",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			set := 0
			for _, name := range []string{"section", "dir", "rva"} {
				if cmd.Flags().Changed(name) {
					set++
				}
			}
			if set != 1 {
				return errors.New("必须且只能指定 --section、--dir 或 --rva 之一")
			}

			img, err := a.open(args[0])
			if err != nil {
				return err
			}
			defer img.Close()

			var (
				loc  pe.Location
				data []byte
			)
			switch {
			case section != "":
				s, ok := img.Sections().ByName(section)
				if !ok {
					return errors.Wrapf(pe.ErrNotPresent, "节区 %s", section)
				}
				loc = s.Location()
				data, err = s.Bytes()
			case dir != "":
				kind, ok := pe.ParseDirectoryKind(dir)
				if !ok {
					return errors.Errorf("未知的数据目录 %q", dir)
				}
				var dc *pe.DataContent
				if dc, err = img.DirectoryData(kind); err == nil {
					loc = dc.Location()
					data, err = dc.Bytes()
				}
			default:
				if loc, err = img.Calculator().Locate(rva, 0); err != nil {
					break
				}
				// Stop at the end of the section's raw data.
				n := loc.Section.VirtualAddress + loc.Section.SizeOfRawData - rva
				if size > 0 && size < n {
					n = size
				}
				loc.Size = n
				data, err = img.ReadRVA(rva, n)
			}
			if err != nil {
				return err
			}
			if size > 0 && uint32(len(data)) > size {
				data = data[:size]
			}

			out := cmd.OutOrStdout()
			v := newLocationView(loc)
			fmt.Fprintf(out, "RVA: 0x%08X  文件偏移: 0x%08X  节区: %s  大小: %s\n\n",
				v.RVA, v.Offset, v.Section, humanize.IBytes(uint64(loc.Size)))
			fmt.Fprint(out, hex.Dump(data))
			return nil
		},
	}
	cmd.Flags().StringVar(&section, "section", "", "按名称转储节区")
	cmd.Flags().StringVar(&dir, "dir", "", "按名称转储数据目录 (如 Resource、Import)")
	cmd.Flags().Uint32Var(&rva, "rva", 0, "从该 RVA 开始转储")
	cmd.Flags().Uint32Var(&size, "size", 512, "最多转储的字节数，0 表示全部")
	return cmd
}

type relocationBlockView struct {
	Page    uint32         `json:"page" yaml:"page"`
	Section string         `json:"section,omitempty" yaml:"section,omitempty"`
	Count   int            `json:"count" yaml:"count"`
	Types   map[string]int `json:"types" yaml:"types"`
}

func (a *app) relocsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "relocs <file>",
		Short: "按页列出基址重定位块",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			img, err := a.open(args[0])
			if err != nil {
				return err
			}
			defer img.Close()

			rc, err := img.Relocations()
			if err != nil {
				return err
			}
			var views []relocationBlockView
			for _, b := range rc.Blocks() {
				v := relocationBlockView{Page: b.VirtualAddress, Count: len(b.Entries), Types: make(map[string]int)}
				if hdr, ok := img.Calculator().RVAToSection(b.VirtualAddress); ok {
					v.Section = hdr.Name
				}
				for _, e := range b.Entries {
					v.Types[e.Type.String()]++
				}
				views = append(views, v)
			}

			out := cmd.OutOrStdout()
			return emit(out, a.cfg.Output, views, func() {
				t := newTable(out, table.Row{"页 RVA", "节区", "项数", "类型"})
				for _, v := range views {
					types := make([]string, 0, len(v.Types))
					for name, n := range v.Types {
						types = append(types, fmt.Sprintf("%s×%d", name, n))
					}
					sort.Strings(types)
					t.AppendRow(table.Row{fmt.Sprintf("0x%08X", v.Page), v.Section, v.Count, strings.Join(types, ", ")})
				}
				t.Render()
				fmt.Fprintf(out, "共 %d 个重定位项\n", rc.TotalEntries())
			})
		},
	}
}
