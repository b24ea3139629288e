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
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/openponylogger/go-opl/pkg/config"
	"github.com/openponylogger/go-opl/pkg/export"
	"github.com/openponylogger/go-opl/pkg/layers"
	"github.com/openponylogger/go-opl/pkg/log"
	"github.com/openponylogger/go-opl/pkg/writer"
)

const (
	DirOptionName     = "dir"
	FormatOptionName  = "format"
	NameOptionName    = "name"
	DriverOptionName  = "driver"
	VehicleOptionName = "vehicle"
)

func readCsv(path string) ([]layers.Sample, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var samples []layers.Sample
	r := export.NewReader(f)
	for {
		s, err := r.Read()
		if err == io.EOF {
			return samples, nil
		}
		if err != nil {
			return nil, errors.Wrap(err, path)
		}
		samples = append(samples, s)
	}
}

// NewRecordCommand replays a companion CSV export through the session recorder
func NewRecordCommand(cfg *config.Config) *cobra.Command {
	var dir, format, output string
	var meta writer.Metadata
	cmd := &cobra.Command{
		Use:   "record CSVFILE",
		Short: "Record samples from a CSV export into a new session file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			writerConfig := *cfg.WriterConfig
			if dir != "" {
				writerConfig.Dir = dir
			}
			if format != "" {
				writerConfig.Format = format
			}
			samples, err := readCsv(args[0])
			if err != nil {
				return err
			}
			if len(samples) == 0 {
				return fmt.Errorf("No samples in %s", args[0])
			}
			if meta.SessionName == "" {
				meta.SessionName = filepath.Base(args[0])
			}
			meta.StartUS = samples[0].TimestampUS

			storage := writer.NewFileStorage(writerConfig.Dir)
			if err := storage.Available(); err != nil {
				return err
			}
			name := output
			if name == "" {
				name, err = writer.NextSessionName(writerConfig.Dir, writer.Extension(writerConfig.Format))
				if err != nil {
					return err
				}
			}
			rec, err := writer.NewRecorder(writerConfig.Format, storage, name, meta, nil, writer.OptionsFromConfig(&writerConfig))
			if err != nil {
				return err
			}
			for i, s := range samples {
				if err := rec.Record(s); err != nil {
					rec.Close()
					return errors.Wrapf(err, "sample %d", i)
				}
			}
			if err := rec.Close(); err != nil {
				return err
			}
			log.Info("Session recorded: file: %s samples: %d", name, len(samples))
			cmd.Printf("Recorded %d samples to %s\n", len(samples), filepath.Join(writerConfig.Dir, name))
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, DirOptionName, "", fmt.Sprintf("Session directory. E.g. %s", config.DefaultWriterDir))
	cmd.Flags().StringVar(&format, FormatOptionName, "", fmt.Sprintf("Session format: %s or %s", writer.FormatBinary, writer.FormatCSV))
	cmd.Flags().StringVarP(&output, OutputOptionName, "o", "", "Session file name. Default is the next free session_NNNNN name")
	cmd.Flags().StringVar(&meta.SessionName, NameOptionName, "", "Session name. Default is the CSV file name")
	cmd.Flags().StringVar(&meta.DriverName, DriverOptionName, "", "Driver name")
	cmd.Flags().StringVar(&meta.VehicleID, VehicleOptionName, "", "Vehicle identifier")
	return cmd
}
