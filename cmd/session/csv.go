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
	"bufio"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/openponylogger/go-opl/pkg/config"
	"github.com/openponylogger/go-opl/pkg/log"
	"github.com/openponylogger/go-opl/pkg/report"
)

const (
	OutputOptionName         = "output"
	DropBeforeSyncOptionName = "drop-before-sync"
	PatchJumpsOptionName     = "patch-jumps"
)

// csvPath returns the default export path next to the session file
func csvPath(path string) string {
	return strings.TrimSuffix(path, ".opl") + ".csv"
}

func NewCsvCommand(cfg *config.Config) *cobra.Command {
	var output string
	var filters report.Filters
	cmd := &cobra.Command{
		Use:   "csv FILE",
		Short: "Export session samples to CSV",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			s, r, err := analyze(path, report.OptionsFromConfig(cfg.AnalyzerConfig))
			if err != nil {
				return err
			}
			if r.Header == nil {
				report.Verify(cmd.ErrOrStderr(), r)
				return ErrVerify{Failed: 1, Total: 1}
			}
			if output == "" {
				output = csvPath(path)
			}
			f, err := os.Create(output)
			if err != nil {
				return err
			}
			defer f.Close()
			w := bufio.NewWriter(f)
			n, err := report.ExportCSV(w, s, filters)
			if err != nil {
				return err
			}
			if err := w.Flush(); err != nil {
				return err
			}
			for _, d := range filters.Describe() {
				log.Info("Filter: %s", d)
			}
			cmd.Printf("Exported %d samples to %s\n", n, output)
			return f.Close()
		},
	}
	cmd.Flags().StringVarP(&output, OutputOptionName, "o", "", "Output file. Default is the session file with .csv extension")
	cmd.Flags().BoolVar(&filters.DropBeforeSync, DropBeforeSyncOptionName, false, "Drop samples recorded before the clock was set")
	cmd.Flags().DurationVar(&filters.PatchJumps, PatchJumpsOptionName, time.Duration(0), "Close time jumps longer than this. E.g. 60s")
	return cmd
}
