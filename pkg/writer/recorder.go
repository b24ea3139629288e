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

package writer

import (
	"bufio"
	"fmt"
	"strings"
	"time"

	"go.uber.org/multierr"

	"github.com/openponylogger/go-opl/pkg/export"
	"github.com/openponylogger/go-opl/pkg/layers"
	"github.com/openponylogger/go-opl/pkg/log"
)

const (
	FormatBinary = "binary"
	FormatCSV    = "csv"
)

// Recorder is the contract shared by the binary and CSV session writers.
// The format is picked once when the session starts.
type Recorder interface {
	Record(s layers.Sample) error
	Flush() error
	Close() error
}

// Extension returns the file extension used for the format
func Extension(format string) string {
	if format == FormatCSV {
		return "csv"
	}
	return "opl"
}

// NewRecorder opens a session in the requested format
func NewRecorder(format string, storage Storage, name string, meta Metadata, manifest *layers.HardwareManifest, opts Options) (Recorder, error) {
	switch strings.ToLower(format) {
	case FormatBinary, "":
		w, err := Open(storage, name, meta, manifest, opts)
		if err != nil {
			return nil, err
		}
		return w, nil
	case FormatCSV:
		w, err := OpenCsv(storage, name, meta, manifest, opts)
		if err != nil {
			return nil, err
		}
		return w, nil
	}
	return nil, fmt.Errorf("Unknown session format %q. Must be one of: %s, %s", format, FormatBinary, FormatCSV)
}

// CsvWriter writes the companion CSV format directly. Rows are buffered and
// synced with the same count and interval thresholds as binary blocks.
type CsvWriter struct {
	file     File
	buffered *bufio.Writer
	csv      *export.Writer
	opts     Options
	pending  int
	last     time.Time
	closed   bool
}

var _ Recorder = &CsvWriter{}

func OpenCsv(storage Storage, name string, meta Metadata, manifest *layers.HardwareManifest, opts Options) (*CsvWriter, error) {
	opts.setDefaults()
	meta.setDefaults(opts)
	file, err := storage.Create(name)
	if err != nil {
		return nil, err
	}
	w := &CsvWriter{
		file:     file,
		buffered: bufio.NewWriter(file),
		opts:     opts,
		last:     opts.Clock.Now(),
	}
	w.csv = export.NewWriter(w.buffered)

	header := &layers.SessionHeader{
		FormatVersion:   layers.Version{Major: layers.FormatVersionMajor, Minor: layers.FormatVersionMinor},
		HardwareVersion: layers.Version{Major: layers.HardwareVersionMajor, Minor: layers.HardwareVersionMinor},
		TimestampUS:     meta.StartUS,
		SessionID:       meta.SessionID,
		SessionName:     meta.SessionName,
		DriverName:      meta.DriverName,
		VehicleID:       meta.VehicleID,
		Weather:         meta.Weather,
	}
	header.SetTemperature(meta.Temperature)
	err = export.WriteComments(w.buffered, header, manifest, nil)
	if err == nil {
		err = w.csv.WriteHeader()
	}
	if err == nil {
		err = w.sync()
	}
	if err != nil {
		return nil, multierr.Combine(err, file.Close(), storage.Remove(name))
	}
	log.Info("CSV session %s started: file: %s", meta.SessionID, name)
	return w, nil
}

func (w *CsvWriter) Record(s layers.Sample) error {
	if w.closed {
		return ErrClosed
	}
	if !s.Type.Known() {
		return fmt.Errorf("Unable to record sample type 0x%02x", uint8(s.Type))
	}
	s.Sanitize()
	if s.TimestampUS == 0 {
		s.TimestampUS = w.opts.TimeSource.NowUS()
	}
	if err := w.csv.WriteSample(&s); err != nil {
		return err
	}
	w.pending++
	due := w.pending >= w.opts.MaxSamples ||
		(w.opts.FlushInterval > 0 && w.opts.Clock.Since(w.last) >= w.opts.FlushInterval) ||
		(s.Type == layers.SampleAccel && s.Vector != nil && w.opts.GForceThreshold > 0 && s.Vector.Magnitude() > w.opts.GForceThreshold)
	if due {
		return w.sync()
	}
	return nil
}

func (w *CsvWriter) sync() error {
	if err := w.csv.Flush(); err != nil {
		return err
	}
	if err := w.buffered.Flush(); err != nil {
		return err
	}
	if err := w.file.Sync(); err != nil {
		return err
	}
	w.pending = 0
	w.last = w.opts.Clock.Now()
	return nil
}

func (w *CsvWriter) Flush() error {
	if w.closed {
		return ErrClosed
	}
	return w.sync()
}

func (w *CsvWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	return multierr.Combine(w.sync(), w.file.Close())
}
