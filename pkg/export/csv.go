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

// Package export holds the companion CSV schema shared by the on-device CSV
// recorder and the desktop exporter.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/openponylogger/go-opl/pkg/layers"
)

// Columns is the fixed header row of every export
var Columns = []string{"timestamp_us", "type", "gx", "gy", "gz", "lat", "lon", "alt", "speed", "heading", "hdop", "satellites"}

const (
	colTimestamp = iota
	colType
	colX
	colY
	colZ
	colLat
	colLon
	colAlt
	colSpeed
	colHeading
	colHDOP
	colSatellites
)

const (
	Title           = "OpenPonyLogger Session Export"
	dateLayout      = "2006-01-02 15:04:05 MST"
	monotonicFormat = "device uptime %.3fs (clock not set)"
)

func formatFloat(v float64, prec int) string {
	return strconv.FormatFloat(v, 'f', prec, 64)
}

// Row renders a sample into the fixed column layout. Columns that do not apply stay empty.
func Row(s *layers.Sample) []string {
	row := make([]string, len(Columns))
	row[colTimestamp] = strconv.FormatUint(s.TimestampUS, 10)
	row[colType] = s.Type.String()
	switch {
	case s.Vector != nil:
		row[colX] = formatFloat(float64(s.Vector.X), 6)
		row[colY] = formatFloat(float64(s.Vector.Y), 6)
		row[colZ] = formatFloat(float64(s.Vector.Z), 6)
	case s.Fix != nil:
		row[colLat] = formatFloat(s.Fix.Latitude, 8)
		row[colLon] = formatFloat(s.Fix.Longitude, 8)
		row[colAlt] = formatFloat(float64(s.Fix.Altitude), 2)
		row[colSpeed] = formatFloat(float64(s.Fix.Speed), 2)
		row[colHeading] = formatFloat(float64(s.Fix.Heading), 2)
		row[colHDOP] = formatFloat(float64(s.Fix.HDOP), 2)
		row[colSatellites] = strconv.Itoa(int(s.Fix.Satellites))
	case s.Type == layers.SampleGPSSatellites:
		sats := make([]string, 0, len(s.Satellites))
		for _, sat := range s.Satellites {
			sats = append(sats, fmt.Sprintf("%d:%d", sat.ID, sat.SNR))
		}
		row[colSatellites] = strings.Join(sats, ";")
	}
	return row
}

// FormatDate renders a session start timestamp for the comment header
func FormatDate(us uint64) string {
	if us < layers.Epoch2000US {
		return fmt.Sprintf(monotonicFormat, float64(us)/1e6)
	}
	return time.UnixMicro(int64(us)).UTC().Format(dateLayout)
}

// WriteComments writes the provenance block that precedes the column header
func WriteComments(w io.Writer, h *layers.SessionHeader, m *layers.HardwareManifest, filters []string) error {
	lines := []string{"# " + Title}
	if h != nil {
		lines = append(lines,
			"# Session: "+h.SessionName,
			"# Session ID: "+h.SessionID.String(),
			"# Driver: "+h.DriverName,
			"# Vehicle: "+h.VehicleID,
			"# Date: "+FormatDate(h.TimestampUS),
			fmt.Sprintf("# Weather: %s, %.1f°C", h.Weather, h.Temperature()),
			"# Format: v"+h.FormatVersion.String(),
			"# Hardware: v"+h.HardwareVersion.String(),
		)
	} else {
		lines = append(lines, "# Session header missing")
	}
	if m != nil && len(m.Items) > 0 {
		lines = append(lines, "# Hardware configuration:")
		for _, item := range m.Items {
			lines = append(lines, "#   "+item.String())
		}
	}
	if len(filters) > 0 {
		lines = append(lines, "# Filters: "+strings.Join(filters, ", "))
	}
	lines = append(lines, "#")
	_, err := io.WriteString(w, strings.Join(lines, "\n")+"\n")
	return err
}

// Writer streams sample rows after the comment block
type Writer struct {
	*csv.Writer
}

func NewWriter(w io.Writer) *Writer {
	return &Writer{Writer: csv.NewWriter(w)}
}

func (w *Writer) WriteHeader() error {
	return w.Write(Columns)
}

func (w *Writer) WriteSample(s *layers.Sample) error {
	return w.Write(Row(s))
}

// Flush pushes buffered rows to the underlying writer and reports any write error
func (w *Writer) Flush() error {
	w.Writer.Flush()
	return w.Error()
}
