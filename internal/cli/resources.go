package cli

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ko4life-net/pe/internal/pe"
	"github.com/ko4life-net/pe/internal/resources"
)

type resourceView struct {
	Type     string       `json:"type" yaml:"type"`
	Name     string       `json:"name" yaml:"name"`
	Language uint16       `json:"language" yaml:"language"`
	CodePage uint32       `json:"code_page" yaml:"code_page"`
	Size     uint32       `json:"size" yaml:"size"`
	Decoder  string       `json:"decoder,omitempty" yaml:"decoder,omitempty"`
	Location locationView `json:"location" yaml:"location"`
}

func (a *app) resourcesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "resources <file>",
		Short: "遍历资源树，列出每个资源的类型、名称、语言与位置",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			img, err := a.open(args[0])
			if err != nil {
				return err
			}
			defer img.Close()

			rc, err := img.Resources()
			if err != nil {
				return err
			}
			var views []resourceView
			err = rc.Walk(func(typ, name pe.ResourceID, data *pe.ResourceDataEntry) error {
				v := resourceView{
					Type:     resources.TypeName(typ),
					Name:     idText(name),
					Language: data.Language,
					CodePage: data.CodePage,
					Size:     data.Size,
				}
				if loc, ok := data.Location(); ok {
					v.Location = newLocationView(loc)
				}
				if res, ok := resources.Lookup(rc, typ, name); ok {
					if dec, ok := a.registry.New(res); ok {
						v.Decoder = fmt.Sprintf("%T", dec)
					}
				}
				views = append(views, v)
				return nil
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			return emit(out, a.cfg.Output, views, func() {
				t := newTable(out, table.Row{"类型", "名称", "语言", "代码页", "大小", "RVA", "文件偏移", "解码器"})
				for _, v := range views {
					offset := "-"
					if v.Location.InFile {
						offset = fmt.Sprintf("0x%08X", v.Location.Offset)
					}
					t.AppendRow(table.Row{v.Type, v.Name, fmt.Sprintf("0x%04X", v.Language), v.CodePage,
						humanize.IBytes(uint64(v.Size)), fmt.Sprintf("0x%08X", v.Location.RVA), offset, strings.TrimPrefix(v.Decoder, "*resources.")})
				}
				t.Render()
			})
		},
	}
}

func (a *app) versionInfoCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "verinfo <file>",
		Short: "解码 RT_VERSION 版本信息",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			img, err := a.open(args[0])
			if err != nil {
				return err
			}
			defer img.Close()

			rc, err := img.Resources()
			if err != nil {
				return err
			}
			versions := resources.OfType(rc, resources.RT_VERSION.ID())
			if len(versions) == 0 {
				return errors.Wrap(pe.ErrNotPresent, "没有版本信息资源")
			}
			info, err := resources.NewVersion(versions[0]).Info(a.cfg.Resources.Language)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			return emit(out, a.cfg.Output, info, func() {
				t := newTable(out, table.Row{"字段", "值"})
				t.AppendRow(table.Row{"FileVersion", info.FileVersion})
				t.AppendRow(table.Row{"ProductVersion", info.ProductVersion})
				for _, st := range info.StringTables {
					for _, key := range sortedKeys(st.Values) {
						t.AppendRow(table.Row{st.Key + "/" + key, st.Values[key]})
					}
				}
				for _, tr := range info.Translations {
					t.AppendRow(table.Row{"Translation", fmt.Sprintf("0x%04X 0x%04X", tr.Language, tr.CodePage)})
				}
				t.Render()
			})
		},
	}
}

// extractJob is one file written by the extract command.
type extractJob struct {
	res  *resources.Resource
	lang uint16
	ext  string
	data func(ctx context.Context) ([]byte, error)
}

// extractJobs plans the files for every resource stored in lang.
func (a *app) extractJobs(rc *pe.ResourceContent, lang uint32, raw bool) []extractJob {
	var jobs []extractJob
	for _, res := range resources.All(rc) {
		l, err := res.Language(lang)
		if err != nil {
			log.WithError(err).WithField("resource", res.ID.String()).Debug("跳过资源")
			continue
		}
		job := extractJob{res: res, lang: l, ext: ".bin", data: func(ctx context.Context) ([]byte, error) {
			return res.BytesContext(ctx, uint32(l))
		}}
		dec, ok := a.registry.New(res)
		switch d := dec.(type) {
		case *resources.CursorGroupResource:
			if !raw {
				job.ext = ".cur"
				job.data = groupData(func() (*resources.Group, error) { return d.Group(uint32(l)) })
			}
		case *resources.IconGroupResource:
			if !raw {
				job.ext = ".ico"
				job.data = groupData(func() (*resources.Group, error) { return d.Group(uint32(l)) })
			}
		case *resources.BitmapResource:
			job.ext = ".bmp"
			job.data = func(context.Context) ([]byte, error) { return d.Bitmap(uint32(l)) }
		default:
			if ok {
				log.WithField("decoder", fmt.Sprintf("%T", d)).Trace("按原始数据导出")
			}
		}
		jobs = append(jobs, job)
	}
	return jobs
}

func groupData(load func() (*resources.Group, error)) func(context.Context) ([]byte, error) {
	return func(context.Context) ([]byte, error) {
		g, err := load()
		if err != nil {
			return nil, err
		}
		return g.Container()
	}
}

// idText renders a name or a bare decimal id.
func idText(id pe.ResourceID) string {
	if id.IsNamed() {
		return id.Name
	}
	return strconv.Itoa(int(id.ID))
}

// fileName builds a file name from the type, id and language.
func fileName(res *resources.Resource, lang uint16, ext string) string {
	clean := func(s string) string {
		return strings.Map(func(r rune) rune {
			if r < 0x20 || strings.ContainsRune(`<>:"/\|?*`, r) {
				return '_'
			}
			return r
		}, s)
	}
	return fmt.Sprintf("%s_%s_%04X%s", clean(resources.TypeName(res.Type)), clean(idText(res.ID)), lang, ext)
}

func (a *app) extractCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "extract <file>",
		Short: "导出资源：光标/图标组重建为 .cur/.ico，位图补全为 .bmp，其余按原始数据导出",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			img, err := a.open(args[0])
			if err != nil {
				return err
			}
			defer img.Close()

			rc, err := img.Resources()
			if err != nil {
				return err
			}
			dir := a.cfg.Extract.Dir
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return errors.Wrapf(err, "无法创建导出目录 %s", dir)
			}

			jobs := a.extractJobs(rc, a.cfg.Resources.Language, a.cfg.Extract.Raw)
			var written, failed atomic.Int32
			g, ctx := errgroup.WithContext(cmd.Context())
			g.SetLimit(a.cfg.Extract.Workers)
			for _, job := range jobs {
				g.Go(func() error {
					data, err := job.data(ctx)
					if err != nil {
						if errors.Is(err, context.Canceled) {
							return err
						}
						failed.Add(1)
						log.WithError(err).WithField("resource", fileName(job.res, job.lang, "")).Warn("导出资源失败")
						return nil
					}
					path := filepath.Join(dir, fileName(job.res, job.lang, job.ext))
					if err := os.WriteFile(path, data, 0o644); err != nil {
						return errors.Wrapf(err, "写入 %s 失败", path)
					}
					written.Add(1)
					return nil
				})
			}
			if err := g.Wait(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "已导出 %d 个资源到 %s，失败 %d 个\n", written.Load(), dir, failed.Load())
			return nil
		},
	}
}

func (a *app) sysoCommand() *cobra.Command {
	var (
		output string
		arch   string
	)
	cmd := &cobra.Command{
		Use:   "syso <file>",
		Short: "把光标/图标组、版本信息与清单打包为 Go 链接器可用的 .syso 对象",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			img, err := a.open(args[0])
			if err != nil {
				return err
			}
			defer img.Close()

			rc, err := img.Resources()
			if err != nil {
				return err
			}
			lang := a.cfg.Resources.Language
			var s resources.Syso
			for _, res := range resources.All(rc) {
				if res.Type.IsNamed() {
					continue
				}
				switch resources.Type(res.Type.ID) {
				case resources.RT_GROUP_CURSOR:
					err = addGroup(&s, func() (*resources.Group, error) { return resources.NewCursorGroup(res).Group(lang) })
				case resources.RT_GROUP_ICON:
					err = addGroup(&s, func() (*resources.Group, error) { return resources.NewIconGroup(res).Group(lang) })
				case resources.RT_VERSION, resources.RT_MANIFEST:
					err = s.AddRaw(res, lang)
				default:
					continue
				}
				if pe.IsAbsent(err) {
					log.WithError(err).WithField("resource", res.ID.String()).Debug("跳过资源")
					continue
				}
				if err != nil {
					return err
				}
			}
			if s.Count() == 0 {
				return errors.Wrap(pe.ErrNotPresent, "没有可打包的资源")
			}

			var buf bytes.Buffer
			if err := s.Write(&buf, resources.SysoArch(arch)); err != nil {
				return errors.Wrap(err, "生成 .syso 失败")
			}
			if err := os.WriteFile(output, buf.Bytes(), 0o644); err != nil {
				return errors.Wrapf(err, "写入 %s 失败", output)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "已写入 %s (%d 个资源, %s)\n", output, s.Count(), humanize.IBytes(uint64(buf.Len())))
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "O", "rsrc.syso", "输出文件")
	cmd.Flags().StringVar(&arch, "arch", string(resources.SysoAMD64), "目标架构 (386|amd64|arm64)")
	return cmd
}

func addGroup(s *resources.Syso, load func() (*resources.Group, error)) error {
	g, err := load()
	if err != nil {
		return err
	}
	return s.AddGroup(g)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
