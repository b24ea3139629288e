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

package session

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/openponylogger/go-opl/pkg/catalog"
	"github.com/openponylogger/go-opl/pkg/command"
	"github.com/openponylogger/go-opl/pkg/config"
	"github.com/openponylogger/go-opl/pkg/log"
	"github.com/openponylogger/go-opl/pkg/report"
)

const (
	ServerOptionName   = "server"
	PortOptionName     = "port"
	DeviceIDOptionName = "device-id"
	HTTPSOptionName    = "https"
	RealtimeOptionName = "realtime"
	SpeedupOptionName  = "speedup"
	CheckOptionName    = "check"
)

// recordUpload notes the upload in the local catalog. The catalog is optional
// here so failures are only logged.
func recordUpload(cfg *config.Config, r *report.Report, upload func(c *catalog.Catalog) error) {
	c, err := catalog.Open(cfg.CatalogPath())
	if err != nil {
		log.Debug("Catalog %s not available: %s", cfg.CatalogPath(), err)
		return
	}
	defer c.Close()
	if err := upload(c); err != nil {
		log.Warning("Upload of %s not recorded in catalog: %s", r.Name, err)
	}
}

func NewTraccarCommand(cfg *config.Config) *cobra.Command {
	var server, deviceID string
	var port int
	var https, realtime, check bool
	var speedup float64
	cmd := &cobra.Command{
		Use:   "traccar FILE",
		Short: "Upload session GPS fixes to a Traccar server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			traccarConfig := *cfg.TraccarConfig
			if server != "" {
				traccarConfig.Server = server
			}
			if port != 0 {
				traccarConfig.Port = port
			}
			if deviceID != "" {
				traccarConfig.DeviceID = deviceID
			}
			if cmd.Flags().Changed(HTTPSOptionName) {
				traccarConfig.HTTPS = https
			}
			if cmd.Flags().Changed(RealtimeOptionName) {
				traccarConfig.Realtime = realtime
			}
			if speedup > 0 {
				traccarConfig.Speedup = speedup
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			client := command.NewTraccarClient(&traccarConfig)
			if err := client.TestConnection(ctx); err != nil {
				return fmt.Errorf("Traccar server %s is not reachable: %w", client.URL, err)
			}
			cmd.Printf("Connected to %s as %s\n", client.URL, client.DeviceID)
			if check {
				return nil
			}

			s, r, err := analyze(args[0], report.OptionsFromConfig(cfg.AnalyzerConfig))
			if err != nil {
				return err
			}
			if r.Header == nil {
				report.Verify(cmd.ErrOrStderr(), r)
				return ErrVerify{Failed: 1, Total: 1}
			}
			stats, err := client.Upload(ctx, s.Samples(), command.UploadOptionsFromConfig(&traccarConfig))
			cmd.Printf("Sent %d of %d positions, %d failed, %d without clock, in %s\n",
				stats.Sent, stats.Total, stats.Failed, stats.Skipped, stats.Elapsed.Round(time.Millisecond))
			if stats.Sent > 0 {
				recordUpload(cfg, r, func(c *catalog.Catalog) error {
					return c.RecordUpload(s, report.OptionsFromConfig(cfg.AnalyzerConfig), stats.Sent, time.Now())
				})
			}
			return err
		},
	}
	cmd.Flags().StringVar(&server, ServerOptionName, "", fmt.Sprintf("Traccar server host. E.g. %s", config.DefaultTraccarServer))
	cmd.Flags().IntVar(&port, PortOptionName, 0, fmt.Sprintf("OsmAnd protocol port. E.g. %d", config.DefaultTraccarPort))
	cmd.Flags().StringVar(&deviceID, DeviceIDOptionName, "", fmt.Sprintf("Device identifier. E.g. %s", config.DefaultTraccarDeviceID))
	cmd.Flags().BoolVar(&https, HTTPSOptionName, false, "Use HTTPS")
	cmd.Flags().BoolVar(&realtime, RealtimeOptionName, false, "Replay positions with their recorded spacing")
	cmd.Flags().Float64Var(&speedup, SpeedupOptionName, 0, "Playback speed multiplier for realtime mode")
	cmd.Flags().BoolVar(&check, CheckOptionName, false, "Only test the connection")
	return cmd
}
