// Package cli implements the pescope command line.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/ko4life-net/pe/internal/config"
	"github.com/ko4life-net/pe/internal/log"
	"github.com/ko4life-net/pe/internal/pe"
	"github.com/ko4life-net/pe/internal/resources"
)

type app struct {
	cfg      *config.Config
	registry *resources.Registry
}

// NewRootCommand builds the pescope command tree.
func NewRootCommand() *cobra.Command {
	a := &app{
		cfg:      config.New(),
		registry: resources.NewRegistry(),
	}
	root := &cobra.Command{
		Use:   "pescope",
		Short: "只读 PE 文件分析工具",
		Long: `pescope 解析 Windows PE 文件：在文件偏移、RVA 与 VA 之间换算坐标，
将数据目录映射到所在节区并解码，遍历资源树并把光标/图标组重建为 .cur/.ico 文件。`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := a.cfg.Init(); err != nil {
				return err
			}
			if err := log.InitFromConfig(a.cfg.Log); err != nil {
				return err
			}
			if err := a.registry.RegisterGraphics(false); err != nil {
				return err
			}
			a.registry.Register(resources.RT_VERSION, func(res *resources.Resource) resources.Decoder {
				return resources.NewVersion(res)
			})
			return nil
		},
	}
	a.cfg.MustViperize(root)

	root.AddCommand(
		a.infoCommand(),
		a.sectionsCommand(),
		a.dirsCommand(),
		a.locateCommand(),
		a.debugCommand(),
		a.tlsCommand(),
		a.resourcesCommand(),
		a.versionInfoCommand(),
		a.extractCommand(),
		a.sysoCommand(),
		a.depsCommand(),
		a.dumpCommand(),
		a.relocsCommand(),
		fieldsCommand(),
	)
	return root
}

func (a *app) open(path string) (*pe.Image, error) {
	return pe.Open(path, pe.WithMaxResourceEntries(a.cfg.Resources.MaxEntries))
}
