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
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/benbjohnson/clock"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"github.com/openponylogger/go-opl/pkg/config"
	"github.com/openponylogger/go-opl/pkg/layers"
	"github.com/openponylogger/go-opl/pkg/reader"
	"github.com/openponylogger/go-opl/pkg/writer"
)

// 2024-01-01 00:00:00 UTC
const synced = uint64(1_704_067_200_000_000)

func testConfig(t *testing.T) *config.Config {
	cfg := config.NewDefaultConfig()
	cfg.SetPath(filepath.Join(t.TempDir(), "config"))
	return cfg
}

func writeSession(t *testing.T, dir string) string {
	opts := writer.DefaultOptions()
	opts.Clock = clock.NewMock()
	w, err := writer.Open(writer.NewFileStorage(dir), "session_00001.opl", writer.Metadata{
		SessionName: "TrackDay", DriverName: "Jane", VehicleID: "VIN123", StartUS: synced,
	}, nil, opts)
	require.NoError(t, err)
	require.NoError(t, w.RecordAccel(0.1, -0.2, 1.0, synced+1_000_000))
	require.NoError(t, w.RecordGPS(layers.GPSFix{Latitude: 40, Longitude: -74, Speed: 5}, synced+1_010_000))
	require.NoError(t, w.Close())
	return filepath.Join(dir, "session_00001.opl")
}

func run(cmd *cobra.Command, args ...string) (string, error) {
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestInfo(t *testing.T) {
	path := writeSession(t, t.TempDir())

	out, err := run(NewInfoCommand(testConfig(t)), path)
	require.NoError(t, err)
	require.Contains(t, out, "TrackDay")
	require.Contains(t, out, "Integrity check")

	out, err = run(NewInfoCommand(testConfig(t)), "--brief", path)
	require.NoError(t, err)
	require.Contains(t, out, "session_00001.opl")
	require.Contains(t, out, "OK")

	out, err = run(NewInfoCommand(testConfig(t)), "--verify", path)
	require.NoError(t, err)
	require.Contains(t, out, "1 sessions OK")
}

func TestInfoVerifyFails(t *testing.T) {
	dir := t.TempDir()
	path := writeSession(t, dir)
	broken := filepath.Join(dir, "broken.opl")
	require.NoError(t, os.WriteFile(broken, []byte("not a session"), 0644))

	out, err := run(NewInfoCommand(testConfig(t)), "--verify", path, broken)
	require.Error(t, err)
	require.Equal(t, ErrVerify{Failed: 1, Total: 2}, err)
	require.Contains(t, out, "broken.opl:")

	_, err = run(NewInfoCommand(testConfig(t)), filepath.Join(dir, "missing.opl"))
	require.Error(t, err)
}

func TestCsv(t *testing.T) {
	dir := t.TempDir()
	path := writeSession(t, dir)

	out, err := run(NewCsvCommand(testConfig(t)), "--drop-before-sync", path)
	require.NoError(t, err)
	require.Contains(t, out, "Exported 2 samples to "+filepath.Join(dir, "session_00001.csv"))

	data, err := os.ReadFile(filepath.Join(dir, "session_00001.csv"))
	require.NoError(t, err)
	require.Contains(t, string(data), "# Filters: dropped samples recorded before clock sync\n")
	require.Contains(t, string(data), "\n1704067201000000,accel,0.100000,-0.200000,1.000000,,,,,,,\n")
}

func TestDiagnose(t *testing.T) {
	path := writeSession(t, t.TempDir())
	out, err := run(NewDiagnoseCommand(), path)
	require.NoError(t, err)
	require.Contains(t, out, "Session header")
	require.Contains(t, out, "TrackDay")
}

func TestRecordReplaysCsv(t *testing.T) {
	dir := t.TempDir()
	path := writeSession(t, dir)
	_, err := run(NewCsvCommand(testConfig(t)), path)
	require.NoError(t, err)

	out := t.TempDir()
	stdout, err := run(NewRecordCommand(testConfig(t)), "--dir", out, "--driver", "Sam", filepath.Join(dir, "session_00001.csv"))
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(stdout, "Recorded 2 samples"), stdout)

	s, err := reader.ReadFile(filepath.Join(out, "session_00001.opl"))
	require.NoError(t, err)
	require.Equal(t, "session_00001.csv", s.Header.SessionName)
	require.Equal(t, "Sam", s.Header.DriverName)
	require.Empty(t, s.Findings.Problems())
	samples := s.Samples()
	require.Len(t, samples, 2)
	require.Equal(t, synced+1_000_000, samples[0].TimestampUS)
	require.Equal(t, float32(-0.2), samples[0].Vector.Y)
	require.Equal(t, float64(40), samples[1].Fix.Latitude)
}
