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
	"github.com/spf13/cobra"

	"github.com/openponylogger/go-opl/pkg/config"
	"github.com/openponylogger/go-opl/pkg/log"
	"github.com/openponylogger/go-opl/pkg/reader"
	"github.com/openponylogger/go-opl/pkg/report"
)

const (
	BriefOptionName       = "brief"
	VerifyOptionName      = "verify"
	DetailedOptionName    = "detailed"
	NoSessionOptionName   = "no-session"
	NoHardwareOptionName  = "no-hardware"
	NoSummaryOptionName   = "no-summary"
	NoIntegrityOptionName = "no-integrity"
)

// analyze decodes path and builds its report. Only an unreadable file is an error,
// a broken header still yields a report carrying the fatal issue.
func analyze(path string, opts report.Options) (*reader.Session, *report.Report, error) {
	s, err := reader.ReadFile(path)
	if s == nil {
		return nil, nil, err
	}
	if err != nil {
		log.Debug("Session %s: %s", path, err)
	}
	return s, report.Analyze(s, opts), nil
}

func NewInfoCommand(cfg *config.Config) *cobra.Command {
	var brief, verify, detailed bool
	var noSession, noHardware, noSummary, noIntegrity bool
	cmd := &cobra.Command{
		Use:   "info FILE...",
		Short: "Show session details and integrity report",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			opts := report.OptionsFromConfig(cfg.AnalyzerConfig)
			sections := report.Sections{
				Session:   !noSession,
				Hardware:  !noHardware,
				Summary:   !noSummary,
				Integrity: !noIntegrity,
				Detailed:  detailed,
			}
			if brief {
				report.BriefHeader(out)
			}
			failed := 0
			for _, path := range args {
				_, r, err := analyze(path, opts)
				if err != nil {
					log.Error("%s: %s", path, err)
					failed++
					continue
				}
				switch {
				case verify:
					if !report.Verify(out, r) {
						failed++
					}
				case brief:
					report.Brief(out, r)
				default:
					report.Render(out, r, sections)
				}
			}
			if verify && failed == 0 {
				cmd.Printf("%d sessions OK\n", len(args))
			}
			if failed > 0 {
				return ErrVerify{Failed: failed, Total: len(args)}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&brief, BriefOptionName, false, "Print one line per session")
	cmd.Flags().BoolVar(&verify, VerifyOptionName, false, "Print problems only and fail when a session has any")
	cmd.Flags().BoolVar(&detailed, DetailedOptionName, false, "Also list time jumps and data blocks")
	cmd.Flags().BoolVar(&noSession, NoSessionOptionName, false, "Hide the session header")
	cmd.Flags().BoolVar(&noHardware, NoHardwareOptionName, false, "Hide the hardware configuration")
	cmd.Flags().BoolVar(&noSummary, NoSummaryOptionName, false, "Hide the data summary")
	cmd.Flags().BoolVar(&noIntegrity, NoIntegrityOptionName, false, "Hide the integrity check")
	return cmd
}
