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

package serve

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/openponylogger/go-opl/pkg/catalog"
	"github.com/openponylogger/go-opl/pkg/config"
	"github.com/openponylogger/go-opl/pkg/log"
	"github.com/openponylogger/go-opl/pkg/report"
	"github.com/openponylogger/go-opl/pkg/srv"
)

const (
	AddressOptionName = "address"
	PortOptionName    = "port"
	DataDirOptionName = "data-dir"
	ScanOptionName    = "scan"
)

func NewServeCommand(cfg *config.Config) *cobra.Command {
	var address, dataDir string
	var port int
	var scan bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the session API server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			serverConfig := cfg.ServerConfig
			if address != "" {
				serverConfig.Address = address
			}
			if port != 0 {
				serverConfig.Port = port
			}
			if dataDir != "" {
				serverConfig.DataDir = dataDir
			}

			c, err := catalog.Open(cfg.CatalogPath())
			if err != nil {
				return err
			}
			defer c.Close()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if scan {
				_, err := c.Index(ctx, serverConfig.DataDir, catalog.IndexOptions{
					Workers:  cfg.CatalogConfig.Workers,
					Analyzer: report.OptionsFromConfig(cfg.AnalyzerConfig),
				})
				if err != nil {
					log.Warning("Initial scan: %s", err)
				}
			}
			server, err := srv.NewApiServer(ctx, cfg, c)
			if err != nil {
				return err
			}
			log.Info("Serving sessions from %s on %s:%d", serverConfig.DataDir, serverConfig.Address, serverConfig.Port)
			return server.Run()
		},
	}
	cmd.Flags().StringVar(&address, AddressOptionName, "", fmt.Sprintf("Address to bind. E.g. %s", config.DefaultServerAddress))
	cmd.Flags().IntVar(&port, PortOptionName, 0, fmt.Sprintf("Port number to bind. E.g. %d", config.DefaultServerPort))
	cmd.Flags().StringVar(&dataDir, DataDirOptionName, "", "Directory holding session files")
	cmd.Flags().BoolVar(&scan, ScanOptionName, false, "Index the data directory before serving")
	return cmd
}
