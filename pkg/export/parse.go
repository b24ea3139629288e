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

package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/openponylogger/go-opl/pkg/layers"
)

// ErrRow describes a companion CSV row that can not be turned into a sample
type ErrRow struct {
	Line   int
	Reason string
}

func (e ErrRow) Error() string {
	return fmt.Sprintf("Line %d: %s", e.Line, e.Reason)
}

// Reader reads samples back from a companion CSV file. The comment block and the
// column header are skipped. OBD and event rows keep no values and are
// returned with empty readings.
type Reader struct {
	r *csv.Reader
}

func NewReader(in io.Reader) *Reader {
	r := csv.NewReader(in)
	r.Comment = '#'
	r.FieldsPerRecord = len(Columns)
	return &Reader{r: r}
}

// Read returns the next sample or io.EOF
func (r *Reader) Read() (layers.Sample, error) {
	for {
		row, err := r.r.Read()
		if err != nil {
			return layers.Sample{}, err
		}
		if row[colTimestamp] == Columns[colTimestamp] {
			continue
		}
		line, _ := r.r.FieldPos(0)
		s, err := ParseRow(row)
		if err != nil {
			return layers.Sample{}, ErrRow{Line: line, Reason: err.Error()}
		}
		return s, nil
	}
}

type fieldParser struct {
	row []string
	err error
}

func (p *fieldParser) float(col, bits int) float64 {
	if p.err != nil || p.row[col] == "" {
		return 0
	}
	v, err := strconv.ParseFloat(p.row[col], bits)
	if err != nil {
		p.err = errors.Wrapf(err, "column %s", Columns[col])
	}
	return v
}

func (p *fieldParser) vector() *layers.Vector3 {
	return &layers.Vector3{
		X: float32(p.float(colX, 32)),
		Y: float32(p.float(colY, 32)),
		Z: float32(p.float(colZ, 32)),
	}
}

func (p *fieldParser) fix() *layers.GPSFix {
	fix := &layers.GPSFix{
		Latitude:  p.float(colLat, 64),
		Longitude: p.float(colLon, 64),
		Altitude:  float32(p.float(colAlt, 32)),
		Speed:     float32(p.float(colSpeed, 32)),
		Heading:   float32(p.float(colHeading, 32)),
		HDOP:      float32(p.float(colHDOP, 32)),
	}
	if p.err == nil && p.row[colSatellites] != "" {
		n, err := strconv.ParseUint(p.row[colSatellites], 10, 8)
		if err != nil {
			p.err = errors.Wrapf(err, "column %s", Columns[colSatellites])
		}
		fix.Satellites = uint8(n)
	}
	return fix
}

func (p *fieldParser) satellites() []layers.Satellite {
	if p.err != nil || p.row[colSatellites] == "" {
		return nil
	}
	var sats []layers.Satellite
	for _, item := range strings.Split(p.row[colSatellites], ";") {
		var id, snr uint8
		if _, err := fmt.Sscanf(item, "%d:%d", &id, &snr); err != nil {
			p.err = errors.Wrapf(err, "satellite %q", item)
			return nil
		}
		sats = append(sats, layers.Satellite{ID: id, SNR: snr})
	}
	return sats
}

// ParseRow is the inverse of Row for the columns Row fills in
func ParseRow(row []string) (layers.Sample, error) {
	if len(row) != len(Columns) {
		return layers.Sample{}, fmt.Errorf("expected %d columns, got %d", len(Columns), len(row))
	}
	ts, err := strconv.ParseUint(row[colTimestamp], 10, 64)
	if err != nil {
		return layers.Sample{}, errors.Wrap(err, "timestamp")
	}
	t, ok := layers.ParseSampleType(row[colType])
	if !ok {
		return layers.Sample{}, fmt.Errorf("unknown sample type %q", row[colType])
	}
	s := layers.Sample{Type: t, TimestampUS: ts}
	p := &fieldParser{row: row}
	switch t {
	case layers.SampleAccel, layers.SampleGyro, layers.SampleMag:
		s.Vector = p.vector()
	case layers.SampleGPSFix:
		s.Fix = p.fix()
	case layers.SampleGPSSatellites:
		s.Satellites = p.satellites()
	case layers.SampleOBD:
		s.OBD = &layers.OBDReading{}
	case layers.SampleEvent:
		s.Event = &layers.EventMarker{}
	}
	return s, p.err
}
