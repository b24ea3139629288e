/*
 Licensed under the Apache License, Version 2.0 (the "License");
 you may not use this file except in compliance with the License.
 You may obtain a copy of the License at

     https://www.apache.org/licenses/LICENSE-2.0

 Unless required by applicable law or agreed to in writing, software
 distributed under the License is distributed on an "AS IS" BASIS,
 WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 See the License for the specific language governing permissions and
 limitations under the License.
*/

package catalog

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	pkgcatalog "github.com/openponylogger/go-opl/pkg/catalog"
	"github.com/openponylogger/go-opl/pkg/config"
	"github.com/openponylogger/go-opl/pkg/report"
)

const (
	ForceOptionName   = "force"
	WorkersOptionName = "workers"
)

func NewCommand(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Manage the local session catalog",
	}
	cmd.AddCommand(NewIndexCommand(cfg))
	cmd.AddCommand(NewListCommand(cfg))
	cmd.AddCommand(NewRemoveCommand(cfg))
	return cmd
}

func open(cfg *config.Config) (*pkgcatalog.Catalog, error) {
	return pkgcatalog.Open(cfg.CatalogPath())
}

func NewIndexCommand(cfg *config.Config) *cobra.Command {
	var force bool
	var workers int
	cmd := &cobra.Command{
		Use:   "index [DIR]",
		Short: "Decode and catalog every session file in a directory",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := cfg.ServerConfig.DataDir
			if len(args) > 0 {
				dir = args[0]
			}
			if workers == 0 {
				workers = cfg.CatalogConfig.Workers
			}
			c, err := open(cfg)
			if err != nil {
				return err
			}
			defer c.Close()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			stats, err := c.Index(ctx, dir, pkgcatalog.IndexOptions{
				Workers:  workers,
				Analyzer: report.OptionsFromConfig(cfg.AnalyzerConfig),
				Force:    force,
			})
			cmd.Printf("Scanned %d files: %d indexed, %d unchanged, %d failed\n",
				stats.Scanned, stats.Indexed, stats.Unchanged, stats.Failed)
			return err
		},
	}
	cmd.Flags().BoolVar(&force, ForceOptionName, false, "Reanalyze files that did not change")
	cmd.Flags().IntVar(&workers, WorkersOptionName, 0, fmt.Sprintf("Files decoded at once. E.g. %d", config.DefaultCatalogWorkers))
	return cmd
}

func NewListCommand(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List cataloged sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := open(cfg)
			if err != nil {
				return err
			}
			defer c.Close()
			entries, err := c.List()
			if err != nil {
				return err
			}
			pkgcatalog.Render(cmd.OutOrStdout(), entries)
			return nil
		},
	}
	return cmd
}

func NewRemoveCommand(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remove NAME...",
		Short: "Remove sessions from the catalog. Files are left in place",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := open(cfg)
			if err != nil {
				return err
			}
			defer c.Close()
			for _, name := range args {
				if err := c.Delete(name); err != nil {
					return err
				}
			}
			return nil
		},
	}
	return cmd
}
