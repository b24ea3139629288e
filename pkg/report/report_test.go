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

package report

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/openponylogger/go-opl/pkg/integrity"
	"github.com/openponylogger/go-opl/pkg/layers"
	"github.com/openponylogger/go-opl/pkg/reader"
	"github.com/openponylogger/go-opl/pkg/writer"
)

// 2024-01-01 00:00:00 UTC
const synced = uint64(1_704_067_200_000_000)

func dataLines(out string) []string {
	var lines []string
	for _, l := range strings.Split(strings.TrimSpace(out), "\n") {
		if !strings.HasPrefix(l, "#") {
			lines = append(lines, l)
		}
	}
	return lines
}

func TestTrackDayExport(t *testing.T) {
	dir := t.TempDir()
	opts := writer.DefaultOptions()
	opts.Clock = clock.NewMock()
	w, err := writer.Open(writer.NewFileStorage(dir), "session_00001.opl", writer.Metadata{
		SessionName: "TrackDay",
		DriverName:  "Jane",
		VehicleID:   "VIN123",
		StartUS:     synced,
		Weather:     layers.WeatherClear,
		Temperature: 21.5,
	}, nil, opts)
	require.NoError(t, err)
	require.NoError(t, w.RecordAccel(0.1, -0.2, 1.0, synced+1_000_000))
	require.NoError(t, w.RecordGPS(layers.GPSFix{Latitude: 40.0, Longitude: -74.0, Altitude: 10.0, Speed: 5.0, Heading: 90.0, HDOP: 1.2}, synced+1_010_000))
	require.NoError(t, w.Close())

	s, err := reader.ReadFile(filepath.Join(dir, "session_00001.opl"))
	require.NoError(t, err)
	require.Len(t, s.Blocks, 1)

	r := Analyze(s, DefaultOptions())
	require.Empty(t, r.Issues)
	require.True(t, r.OK())
	require.Equal(t, 1, r.Count(layers.SampleAccel))
	require.Equal(t, 1, r.Count(layers.SampleGPSFix))

	out := &bytes.Buffer{}
	n, err := ExportCSV(out, s, Filters{})
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Contains(t, out.String(), "# Session: TrackDay\n")
	require.Contains(t, out.String(), "# Driver: Jane\n")
	require.Contains(t, out.String(), "# Vehicle: VIN123\n")
	require.Contains(t, out.String(), "# Date: 2024-01-01 00:00:00 UTC\n")
	require.Contains(t, out.String(), "# Weather: Clear, 21.5°C\n")
	require.NotContains(t, out.String(), "# Filters")
	require.Equal(t, []string{
		"timestamp_us,type,gx,gy,gz,lat,lon,alt,speed,heading,hdop,satellites",
		fmt.Sprintf("%d,accel,0.100000,-0.200000,1.000000,,,,,,,", synced+1_000_000),
		fmt.Sprintf("%d,gps,,,,40.00000000,-74.00000000,10.00,5.00,90.00,1.20,0", synced+1_010_000),
	}, dataLines(out.String()))
}

func mixedSession() *reader.Session {
	accel := func(ts uint64) layers.Sample {
		return layers.Sample{Type: layers.SampleAccel, TimestampUS: ts, Vector: &layers.Vector3{Z: 1}}
	}
	gps := func(ts uint64, lat float64, speed float32) layers.Sample {
		return layers.Sample{Type: layers.SampleGPSFix, TimestampUS: ts, Fix: &layers.GPSFix{Latitude: lat, Longitude: -74, Speed: speed, FixQuality: 1}}
	}
	samples := []layers.Sample{
		accel(1_000_000),
		accel(1_020_000),
		accel(synced),
		gps(synced+10_000, 40.0, 30),
		accel(synced + 20_000),
		accel(synced + 7_020_000),
		gps(synced+7_030_000, 40.01, 40),
		accel(synced + 7_000_000),
	}
	return &reader.Session{
		Name:   "mixed.opl",
		Header: &layers.SessionHeader{SessionID: uuid.New(), SessionName: "Mixed", TimestampUS: 1_000_000},
		Blocks: []*reader.Block{
			{BlockHeader: layers.BlockHeader{Sequence: 0, SampleCount: 4}, ChecksumValid: true, Samples: samples[:4]},
			{BlockHeader: layers.BlockHeader{Sequence: 1, SampleCount: 4}, ChecksumValid: true, Samples: samples[4:]},
		},
		Ended: true,
	}
}

func TestAnalyzeMixedSession(t *testing.T) {
	r := Analyze(mixedSession(), DefaultOptions())
	require.Equal(t, 8, r.Samples)
	require.Len(t, r.Blocks, 2)
	require.Equal(t, 6, r.Count(layers.SampleAccel))
	require.Equal(t, 2, r.Count(layers.SampleGPSFix))
	require.Equal(t, 7030*time.Millisecond, r.Duration)
	require.InDelta(t, 6/7.03, r.Types[0].Rate, 1e-9)

	require.Equal(t, 2, r.Timeline.Monotonic)
	require.Equal(t, 2, r.Timeline.SyncIndex)
	require.Equal(t, 1, r.Timeline.Backward)

	require.Len(t, r.Gaps, 1)
	require.Equal(t, 6980*time.Millisecond, r.Gaps[0].Duration)
	require.Equal(t, 1, r.LargeGaps)

	require.Equal(t, 1, r.Issues.Count(integrity.KindClockSync))
	require.Equal(t, 1, r.Issues.Count(integrity.KindMixedSources))
	require.Equal(t, 1, r.Issues.Count(integrity.KindBackwardJump))
	require.Equal(t, 1, r.Issues.Count(integrity.KindLargeGap))
	require.Len(t, r.Issues.Problems(), 2)
	require.False(t, r.OK())
	for _, f := range r.Issues {
		if f.Kind == integrity.KindMixedSources {
			require.Equal(t, integrity.Info, f.Severity)
		}
	}

	require.NotNil(t, r.Intervals)
	require.Equal(t, 20.0, r.Intervals.Median)
	require.Equal(t, 6980.0, r.Intervals.Max)
	require.NotNil(t, r.Track)
	require.Equal(t, 2, r.Track.Fixes)
	require.InDelta(t, 1.112, r.Track.DistanceKm, 0.01)
	require.Equal(t, 40.0, r.Track.MaxSpeed)
}

func TestMixedSourcesWarning(t *testing.T) {
	opts := DefaultOptions()
	opts.MixedSourceRatio = 0.1
	r := Analyze(mixedSession(), opts)
	for _, f := range r.Issues {
		if f.Kind == integrity.KindMixedSources {
			require.Equal(t, integrity.Warning, f.Severity)
		}
	}
}

func TestAnalyzeMissingHeader(t *testing.T) {
	s, err := reader.ReadBytes("junk.opl", []byte("definitely not a session"))
	require.Error(t, err)
	r := Analyze(s, DefaultOptions())
	require.False(t, r.OK())
	require.Equal(t, integrity.Fatal, r.Issues.Worst())
	require.Equal(t, 1, r.Issues.Count(integrity.KindMissingHeader))

	out := &bytes.Buffer{}
	Brief(out, r)
	require.Contains(t, out.String(), "junk.opl")
	require.Contains(t, out.String(), "ERROR: Missing session header")
	require.False(t, Verify(out, r))
}

func TestAnalyzeNoBlocks(t *testing.T) {
	s := &reader.Session{Name: "empty.opl", Header: &layers.SessionHeader{SessionID: uuid.New()}, Ended: true}
	r := Analyze(s, DefaultOptions())
	require.Equal(t, 1, r.Issues.Count(integrity.KindNoBlocks))
	require.Nil(t, r.Intervals)
	require.Nil(t, r.Track)
	require.Zero(t, r.Duration)
}

func TestRender(t *testing.T) {
	r := Analyze(mixedSession(), DefaultOptions())
	out := &bytes.Buffer{}
	Render(out, r, DefaultSections())
	text := strings.ToLower(out.String())
	require.Contains(t, text, "session header")
	require.Contains(t, text, "hardware configuration")
	require.Contains(t, text, "no hardware configuration in file")
	require.Contains(t, text, "data summary")
	require.Contains(t, text, "integrity check")
	require.Contains(t, text, "clock set mid-session")
	require.NotContains(t, text, "time jumps")

	out.Reset()
	Render(out, r, Sections{Detailed: true})
	text = strings.ToLower(out.String())
	require.NotContains(t, text, "integrity check")
	require.Contains(t, text, "time jumps: 2")
	require.Contains(t, text, "clock sync")
	require.Contains(t, text, "data blocks: 2")
}

func TestBriefAndVerify(t *testing.T) {
	r := Analyze(mixedSession(), DefaultOptions())
	out := &bytes.Buffer{}
	Brief(out, r)
	require.Contains(t, out.String(), "mixed.opl")
	require.Contains(t, out.String(), "00:07")
	require.Contains(t, out.String(), "!2")

	out.Reset()
	require.False(t, Verify(out, r))
	require.Contains(t, out.String(), "Time went back")
	require.NotContains(t, out.String(), "Clock set")
}

func TestExportFilters(t *testing.T) {
	s := mixedSession()

	out := &bytes.Buffer{}
	n, err := ExportCSV(out, s, Filters{DropBeforeSync: true})
	require.NoError(t, err)
	require.Equal(t, 6, n)
	require.Contains(t, out.String(), "# Filters: dropped samples recorded before clock sync\n")
	lines := dataLines(out.String())
	require.True(t, strings.HasPrefix(lines[1], fmt.Sprintf("%d,accel", synced)))

	out.Reset()
	n, err = ExportCSV(out, s, Filters{PatchJumps: time.Minute})
	require.NoError(t, err)
	require.Equal(t, 8, n)
	lines = dataLines(out.String())
	require.True(t, strings.HasPrefix(lines[1], "1000000,accel"))
	require.True(t, strings.HasPrefix(lines[3], "1040000,accel"))
	require.Contains(t, out.String(), "patched time jumps over 1m0s")

	out.Reset()
	n, err = ExportCSV(out, s, Filters{})
	require.NoError(t, err)
	require.Equal(t, 8, n)
	lines = dataLines(out.String())
	require.True(t, strings.HasPrefix(lines[7], fmt.Sprintf("%d,accel", synced+7_020_000)))
}

func TestFormatDuration(t *testing.T) {
	require.Equal(t, "00:07", FormatDuration(7030*time.Millisecond))
	require.Equal(t, "02:05", FormatDuration(125*time.Second))
	require.Equal(t, "1:00:01", FormatDuration(time.Hour+time.Second))
}

func TestZeroOptionsUseDefaults(t *testing.T) {
	s := mixedSession()
	want := Analyze(s, DefaultOptions())
	got := Analyze(s, Options{})
	require.Equal(t, want.Issues, got.Issues)
	require.Equal(t, want.Gaps, got.Gaps)
	require.Equal(t, want.LargeGaps, got.LargeGaps)
}
