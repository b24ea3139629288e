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

package catalog

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"

	"github.com/openponylogger/go-opl/pkg/layers"
	"github.com/openponylogger/go-opl/pkg/reader"
	"github.com/openponylogger/go-opl/pkg/report"
	"github.com/openponylogger/go-opl/pkg/writer"
)

func openCatalog(t *testing.T) *Catalog {
	c, err := Open(filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func writeSession(t *testing.T, dir, name string, samples int) {
	opts := writer.DefaultOptions()
	opts.Clock = clock.NewMock()
	w, err := writer.Open(writer.NewFileStorage(dir), name, writer.Metadata{
		SessionName: "Practice", DriverName: "Sam", VehicleID: "MUSTANG",
		StartUS: layers.Epoch2000US + 1,
	}, nil, opts)
	require.NoError(t, err)
	for i := 0; i < samples; i++ {
		require.NoError(t, w.RecordAccel(0, 0, 1, layers.Epoch2000US+uint64(i+1)*10_000))
	}
	require.NoError(t, w.RecordGPS(layers.GPSFix{Latitude: 42.3, Longitude: -83.0, Speed: 12}, layers.Epoch2000US+uint64(samples+1)*10_000))
	require.NoError(t, w.Close())
}

func TestPutGetList(t *testing.T) {
	c := openCatalog(t)
	require.NoError(t, c.Put(&Entry{Name: "b.opl", Digest: "d2", SessionID: "s2"}))
	require.NoError(t, c.Put(&Entry{Name: "a.opl", Digest: "d1", SessionID: "s1", Samples: 10}))

	e, err := c.Get("a.opl")
	require.NoError(t, err)
	require.Equal(t, 10, e.Samples)

	_, err = c.Get("missing.opl")
	require.IsType(t, ErrEntryNotFound{}, err)

	entries, err := c.List()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "a.opl", entries[0].Name)
	require.Equal(t, "b.opl", entries[1].Name)

	require.NoError(t, c.Delete("b.opl"))
	require.IsType(t, ErrEntryNotFound{}, c.Delete("b.opl"))
	entries, err = c.List()
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestMarkUploadedSurvivesReindex(t *testing.T) {
	c := openCatalog(t)
	require.NoError(t, c.Put(&Entry{Name: "a.opl", Digest: "d1", SessionID: "s1"}))
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, c.MarkUploaded("a.opl", 42, at))
	require.IsType(t, ErrEntryNotFound{}, c.MarkUploaded("nope.opl", 1, at))

	require.NoError(t, c.Put(&Entry{Name: "a.opl", Digest: "d1-new", SessionID: "s1"}))
	e, err := c.Get("a.opl")
	require.NoError(t, err)
	require.True(t, e.Uploaded)
	require.Equal(t, 42, e.PositionsSent)
	require.True(t, at.Equal(*e.UploadedAt))
	require.Equal(t, "d1-new", e.Digest)

	require.NoError(t, c.Put(&Entry{Name: "a.opl", Digest: "d3", SessionID: "other"}))
	e, err = c.Get("a.opl")
	require.NoError(t, err)
	require.False(t, e.Uploaded)
}

func TestIndex(t *testing.T) {
	dir := t.TempDir()
	writeSession(t, dir, "session_00001.opl", 5)
	writeSession(t, dir, "session_00002.opl", 20)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.opl"), []byte("garbage"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0644))

	c := openCatalog(t)
	stats, err := c.Index(context.Background(), dir, IndexOptions{Workers: 2})
	require.NoError(t, err)
	require.Equal(t, IndexStats{Scanned: 3, Indexed: 3}, stats)

	e, err := c.Get("session_00002.opl")
	require.NoError(t, err)
	require.Equal(t, "Practice", e.SessionName)
	require.Equal(t, "Sam", e.Driver)
	require.Equal(t, 21, e.Samples)
	require.Equal(t, 1, e.GPSFixes)
	require.Zero(t, e.Problems)
	require.NotEmpty(t, e.Digest)

	broken, err := c.Get("broken.opl")
	require.NoError(t, err)
	require.Empty(t, broken.SessionID)
	require.Equal(t, 1, broken.Problems)

	stats, err = c.Index(context.Background(), dir, IndexOptions{})
	require.NoError(t, err)
	require.Equal(t, IndexStats{Scanned: 3, Unchanged: 3}, stats)

	stats, err = c.Index(context.Background(), dir, IndexOptions{Force: true})
	require.NoError(t, err)
	require.Equal(t, 3, stats.Indexed)
}

func TestIndexCancelled(t *testing.T) {
	dir := t.TempDir()
	writeSession(t, dir, "session_00001.opl", 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c := openCatalog(t)
	_, err := c.Index(ctx, dir, IndexOptions{})
	require.ErrorIs(t, err, context.Canceled)
}

func TestRecordUpload(t *testing.T) {
	c := openCatalog(t)
	dir := t.TempDir()
	writeSession(t, dir, "session_00003.opl", 2)
	s, err := reader.ReadFile(filepath.Join(dir, "session_00003.opl"))
	require.NoError(t, err)

	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, c.RecordUpload(s, report.DefaultOptions(), 1, at))
	e, err := c.Get("session_00003.opl")
	require.NoError(t, err)
	require.True(t, e.Uploaded)
	require.Equal(t, 1, e.PositionsSent)
	require.Equal(t, "Sam", e.Driver)
	require.True(t, at.Equal(*e.UploadedAt))
}

func TestRender(t *testing.T) {
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	buf := &bytes.Buffer{}
	Render(buf, []*Entry{
		{Name: "session_00001.opl", SessionID: "s1", SessionName: "TrackDay", Driver: "Jane", StartUS: 1_704_067_200_000_000, Duration: 90 * time.Second, Samples: 10},
		{Name: "broken.opl", Problems: 1, Uploaded: true, UploadedAt: &at},
	})
	out := buf.String()
	require.Contains(t, out, "TrackDay")
	require.Contains(t, out, "2024-01-01 00:00:00 UTC")
	require.Contains(t, out, "01:30")
	require.Contains(t, out, "2024-03-01 12:00")
}

func TestIndexZeroAnalyzerOptions(t *testing.T) {
	dir := t.TempDir()
	writeSession(t, dir, "session_00001.opl", 20)
	c := openCatalog(t)
	_, err := c.Index(context.Background(), dir, IndexOptions{Analyzer: report.Options{}})
	require.NoError(t, err)
	e, err := c.Get("session_00001.opl")
	require.NoError(t, err)
	require.Zero(t, e.Problems)
}
