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

package remote

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/openponylogger/go-opl/pkg/catalog"
	"github.com/openponylogger/go-opl/pkg/command"
	"github.com/openponylogger/go-opl/pkg/config"
	"github.com/openponylogger/go-opl/pkg/report"
)

const (
	AddressOptionName        = "address"
	PortOptionName           = "port"
	ForceOptionName          = "force"
	JSONOptionName           = "json"
	OutputOptionName         = "output"
	DropBeforeSyncOptionName = "drop-before-sync"
	PatchJumpsOptionName     = "patch-jumps"
)

// NewCommand groups the commands talking to a running API server
func NewCommand(cfg *config.Config) *cobra.Command {
	var address string
	var port int
	cmd := &cobra.Command{
		Use:   "remote",
		Short: "Work with sessions on a running API server",
	}
	cmd.PersistentPreRunE = func(c *cobra.Command, args []string) error {
		// cobra runs only the closest persistent hook
		if root := c.Root(); root != cmd && root.PersistentPreRunE != nil {
			if err := root.PersistentPreRunE(c, args); err != nil {
				return err
			}
		}
		if address != "" {
			cfg.ServerConfig.Address = address
		}
		if port != 0 {
			cfg.ServerConfig.Port = port
		}
		return nil
	}
	cmd.PersistentFlags().StringVar(&address, AddressOptionName, "", fmt.Sprintf("API server address. E.g. %s", config.DefaultServerAddress))
	cmd.PersistentFlags().IntVar(&port, PortOptionName, 0, fmt.Sprintf("API server port. E.g. %d", config.DefaultServerPort))
	cmd.AddCommand(newListCommand(cfg))
	cmd.AddCommand(newScanCommand(cfg))
	cmd.AddCommand(newReportCommand(cfg))
	cmd.AddCommand(newCsvCommand(cfg))
	cmd.AddCommand(newUploadCommand(cfg))
	return cmd
}

func newListCommand(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List sessions cataloged by the server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := command.NewApiClient(cfg).Sessions()
			if err != nil {
				return err
			}
			catalog.Render(cmd.OutOrStdout(), entries)
			return nil
		},
	}
	return cmd
}

func newScanCommand(cfg *config.Config) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Ask the server to index its data directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := command.NewApiClient(cfg).Scan(force)
			if err != nil {
				return err
			}
			cmd.Printf("Scanned %d files: %d indexed, %d unchanged, %d failed\n",
				result.Scanned, result.Indexed, result.Unchanged, result.Failed)
			if result.Error != "" {
				return fmt.Errorf("%s", result.Error)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, ForceOptionName, false, "Reanalyze files that did not change")
	return cmd
}

func newReportCommand(cfg *config.Config) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "report NAME",
		Short: "Show the integrity report of a server session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := command.NewApiClient(cfg).Report(args[0])
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(r)
			}
			report.Render(cmd.OutOrStdout(), r, report.DefaultSections())
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, JSONOptionName, false, "Print the raw report")
	return cmd
}

func newCsvCommand(cfg *config.Config) *cobra.Command {
	var output string
	var filters report.Filters
	cmd := &cobra.Command{
		Use:   "csv NAME",
		Short: "Download a server session as CSV",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			w := cmd.OutOrStdout()
			if output != "" {
				f, err := os.Create(output)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}
			return command.NewApiClient(cfg).Export(args[0], filters, w)
		},
	}
	cmd.Flags().StringVarP(&output, OutputOptionName, "o", "", "Output file. Default is standard output")
	cmd.Flags().BoolVar(&filters.DropBeforeSync, DropBeforeSyncOptionName, false, "Drop samples recorded before the clock was set")
	cmd.Flags().DurationVar(&filters.PatchJumps, PatchJumpsOptionName, time.Duration(0), "Close time jumps longer than this. E.g. 60s")
	return cmd
}

func newUploadCommand(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "upload NAME",
		Short: "Ask the server to upload a session to Traccar",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			stats, err := command.NewApiClient(cfg).Upload(args[0])
			if err != nil {
				return err
			}
			cmd.Printf("Sent %d of %d positions, %d failed, %d without clock\n",
				stats.Sent, stats.Total, stats.Failed, stats.Skipped)
			return nil
		},
	}
	return cmd
}
