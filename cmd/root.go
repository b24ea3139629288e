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

package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/openponylogger/go-opl/cmd/catalog"
	"github.com/openponylogger/go-opl/cmd/completion"
	"github.com/openponylogger/go-opl/cmd/config"
	"github.com/openponylogger/go-opl/cmd/remote"
	"github.com/openponylogger/go-opl/cmd/serve"
	"github.com/openponylogger/go-opl/cmd/session"
	pkgconfig "github.com/openponylogger/go-opl/pkg/config"
	"github.com/openponylogger/go-opl/pkg/log"
)

const (
	LogLevelOptionName = "log-level"
	ConfigOptionName   = "config"
)

// NewRootCommand builds the command tree. The config file is read once flags
// are parsed, so every subcommand sees the same loaded config.
func NewRootCommand(out io.Writer) *cobra.Command {
	var logLevel, configPath string
	cfg := pkgconfig.NewDefaultConfig()
	cmd := &cobra.Command{
		Use:           "go-opl",
		Short:         "Tool to inspect, export and upload OpenPonyLogger sessions",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if configPath != "" {
				cfg.SetPath(configPath)
			}
			if err := cfg.Load(); err != nil {
				return err
			}
			if logLevel != "" {
				cfg.LogLevel = logLevel
			}
			log.Init(cmd.ErrOrStderr(), cfg.LogLevel)
			return nil
		},
	}
	cmd.SetOut(out)
	cmd.AddCommand(session.NewInfoCommand(cfg))
	cmd.AddCommand(session.NewCsvCommand(cfg))
	cmd.AddCommand(session.NewTraccarCommand(cfg))
	cmd.AddCommand(session.NewDiagnoseCommand())
	cmd.AddCommand(session.NewRecordCommand(cfg))
	cmd.AddCommand(catalog.NewCommand(cfg))
	cmd.AddCommand(serve.NewServeCommand(cfg))
	cmd.AddCommand(remote.NewCommand(cfg))
	cmd.AddCommand(config.NewCommand(cfg))
	cmd.AddCommand(completion.NewCommand())
	cmd.PersistentFlags().StringVar(&logLevel, LogLevelOptionName, "", fmt.Sprintf("Log level. %s", log.HelpLevels))
	cmd.PersistentFlags().StringVar(&configPath, ConfigOptionName, "", fmt.Sprintf("Config file. Default %s", pkgconfig.DefaultConfigPath()))
	return cmd
}
