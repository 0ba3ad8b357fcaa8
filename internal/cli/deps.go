package cli

import (
	"fmt"
	"io"
	"sort"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/list"
	"github.com/spf13/cobra"

	"github.com/ko4life-net/pe/internal/pe"
)

func (a *app) depsCommand() *cobra.Command {
	var (
		maxDepth int
		search   []string
	)
	cmd := &cobra.Command{
		Use:   "deps <file>",
		Short: "递归解析导入的 DLL，输出依赖树与缺失依赖",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var searchPath []string
			if cmd.Flags().Changed("search") {
				searchPath = search
			}
			analysis, err := pe.AnalyzeDependencies(args[0], maxDepth, searchPath,
				pe.WithMaxResourceEntries(a.cfg.Resources.MaxEntries))
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			return emit(out, a.cfg.Output, analysis, func() {
				printDependencies(out, analysis)
			})
		},
	}
	cmd.Flags().IntVar(&maxDepth, "max-depth", 3, "最大递归深度")
	cmd.Flags().StringSliceVar(&search, "search", nil, "DLL 搜索目录（替换默认的系统目录与 PATH）")
	return cmd
}

func printDependencies(w io.Writer, a *pe.DependencyAnalysis) {
	l := list.NewWriter()
	l.SetOutputMirror(w)
	l.SetStyle(list.StyleConnectedLight)
	var walk func(n *pe.DependencyNode)
	walk = func(n *pe.DependencyNode) {
		l.AppendItem(dependencyLabel(n))
		if len(n.Dependencies) == 0 {
			return
		}
		l.Indent()
		for _, child := range n.Dependencies {
			walk(child)
		}
		l.UnIndent()
	}
	walk(a.Root)
	l.Render()

	fmt.Fprintf(w, "\n总计依赖: %d 个  最大深度: %d  循环依赖: %v\n", len(a.AllDeps), a.MaxDepth, a.Cycles)
	if len(a.Missing) > 0 {
		red := color.New(color.FgRed)
		red.Fprintf(w, "缺失依赖: %d 个\n", len(a.Missing))
		for _, dll := range a.Missing {
			fmt.Fprintf(w, "  - %s\n", dll)
		}
	}

	names := make([]string, 0, len(a.AllDeps))
	for name, path := range a.AllDeps {
		if path != "" && path != pe.SystemPath {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(w, "  ✓ %s → %s\n", name, a.AllDeps[name])
	}
}

func dependencyLabel(n *pe.DependencyNode) string {
	switch {
	case n.Cycle:
		return n.Name + color.New(color.FgYellow).Sprint(" (循环)")
	case n.System:
		return n.Name + color.New(color.FgHiBlack).Sprint(" (系统)")
	case !n.Found:
		return n.Name + color.New(color.FgRed).Sprint(" (未找到)")
	default:
		return n.Name
	}
}
