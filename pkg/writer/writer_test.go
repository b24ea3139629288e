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
	"bytes"
	"errors"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/gopacket"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/openponylogger/go-opl/pkg/layers"
)

type memFile struct {
	buf     []byte
	pos     int64
	syncs   int
	closed  bool
	failAt  int // fail the write after that many bytes, -1 disables
	syncErr error
}

func (f *memFile) Write(p []byte) (int, error) {
	if f.failAt >= 0 {
		n := f.failAt
		if n > len(p) {
			n = len(p)
		}
		f.buf = append(f.buf[:f.pos], p[:n]...)
		f.pos += int64(n)
		f.failAt = -1
		return n, errors.New("card removed")
	}
	f.buf = append(f.buf[:f.pos], p...)
	f.pos += int64(len(p))
	return len(p), nil
}

func (f *memFile) Sync() error {
	f.syncs++
	err := f.syncErr
	f.syncErr = nil
	return err
}

func (f *memFile) Close() error {
	f.closed = true
	return nil
}

func (f *memFile) Truncate(size int64) error {
	f.buf = f.buf[:size]
	return nil
}

func (f *memFile) Seek(offset int64, whence int) (int64, error) {
	if whence != io.SeekStart {
		return 0, errors.New("unsupported")
	}
	f.pos = offset
	return offset, nil
}

type memStorage struct {
	files map[string]*memFile
}

func newMemStorage() *memStorage {
	return &memStorage{files: map[string]*memFile{}}
}

func (s *memStorage) Create(name string) (File, error) {
	f := &memFile{failAt: -1}
	s.files[name] = f
	return f, nil
}

func (s *memStorage) Remove(name string) error {
	delete(s.files, name)
	return nil
}

type fixedTime uint64

func (t fixedTime) NowUS() uint64 {
	return uint64(t)
}

func testOptions(c clock.Clock) Options {
	return Options{
		MaxSamples:      3,
		FlushInterval:   time.Minute,
		GForceThreshold: 3.0,
		SizeThreshold:   0.9,
		Clock:           c,
		TimeSource:      fixedTime(5_000_000),
	}
}

func openTest(t *testing.T, opts Options) (*BinaryWriter, *memFile) {
	storage := newMemStorage()
	manifest := &layers.HardwareManifest{}
	manifest.Add(layers.HardwareAccelerometer, layers.ConnectionI2C, "LIS3DH")
	w, err := Open(storage, "session_00001.opl", Metadata{SessionName: "Test", StartUS: 1}, manifest, opts)
	require.NoError(t, err)
	return w, storage.files["session_00001.opl"]
}

// blocks splits committed file bytes into decoded data blocks
func blocks(t *testing.T, w *BinaryWriter, data []byte) []*layers.DataBlockLayer {
	pos := w.Header().Size()
	require.True(t, layers.HasPrefix(data[pos:], layers.BlockTypeHardwareConfig))
	m := &layers.HardwareManifest{}
	require.NoError(t, m.DecodeFromBytes(data[pos:], gopacket.NilDecodeFeedback))
	pos += len(m.Contents)

	var out []*layers.DataBlockLayer
	for pos < len(data) && layers.HasPrefix(data[pos:], layers.BlockTypeData) {
		size := layers.BlockSize(data[pos:])
		packet := layers.DecodeBlock(data[pos : pos+size])
		require.Nil(t, packet.ErrorLayer())
		block := packet.Layer(layers.DataBlockLayerType).(*layers.DataBlockLayer)
		require.True(t, block.ChecksumValid())
		out = append(out, block)
		pos += size
	}
	return out
}

func TestFlushOnSampleCap(t *testing.T) {
	w, file := openTest(t, testOptions(clock.NewMock()))
	for i := 0; i < 3; i++ {
		require.NoError(t, w.RecordAccel(0, 0, 1, uint64(1_000_000+i*10_000)))
	}
	got := blocks(t, w, file.buf)
	require.Len(t, got, 1)
	require.Equal(t, uint16(3), got[0].SampleCount)
	require.Equal(t, uint32(0), got[0].Sequence)
	require.Equal(t, layers.FlushSize, got[0].Flags)
	require.Equal(t, uint64(1_000_000), got[0].StartUS)
	require.Equal(t, uint64(1_020_000), got[0].EndUS)
	require.Equal(t, 0, w.Buffered())
}

func TestFlushOnHighG(t *testing.T) {
	opts := testOptions(clock.NewMock())
	opts.MaxSamples = 100
	w, file := openTest(t, opts)
	require.NoError(t, w.RecordAccel(0, 0, 1, 1_000_000))
	require.Empty(t, blocks(t, w, file.buf))

	require.NoError(t, w.RecordAccel(2.5, 2.5, 1, 1_010_000))
	got := blocks(t, w, file.buf)
	require.Len(t, got, 1)
	require.Equal(t, uint16(2), got[0].SampleCount)
	require.Equal(t, layers.FlushEvent, got[0].Flags)
}

func TestEventRateLimit(t *testing.T) {
	mock := clock.NewMock()
	opts := testOptions(mock)
	opts.MaxSamples = 100
	opts.EventRateLimit = time.Second
	w, file := openTest(t, opts)

	require.NoError(t, w.RecordAccel(4, 0, 0, 1_000_000))
	require.NoError(t, w.RecordAccel(4, 0, 0, 1_100_000))
	require.Len(t, blocks(t, w, file.buf), 1)
	require.Equal(t, 1, w.Buffered())

	mock.Add(2 * time.Second)
	require.NoError(t, w.RecordAccel(4, 0, 0, 1_200_000))
	require.Len(t, blocks(t, w, file.buf), 2)
}

func TestFlushOnInterval(t *testing.T) {
	mock := clock.NewMock()
	opts := testOptions(mock)
	opts.MaxSamples = 100
	w, file := openTest(t, opts)

	require.NoError(t, w.RecordAccel(0, 0, 1, 1_000_000))
	require.NoError(t, w.CheckFlush())
	require.Empty(t, blocks(t, w, file.buf))

	mock.Add(time.Minute)
	require.NoError(t, w.CheckFlush())
	got := blocks(t, w, file.buf)
	require.Len(t, got, 1)
	require.Equal(t, layers.FlushTime, got[0].Flags)

	mock.Add(time.Minute)
	require.NoError(t, w.RecordAccel(0, 0, 1, 2_000_000))
	got = blocks(t, w, file.buf)
	require.Len(t, got, 2)
	require.Equal(t, uint32(1), got[1].Sequence)
}

func TestSealOnOffsetOverflow(t *testing.T) {
	opts := testOptions(clock.NewMock())
	opts.MaxSamples = 100
	w, file := openTest(t, opts)

	require.NoError(t, w.RecordAccel(0, 0, 1, 1_000_000))
	require.NoError(t, w.RecordAccel(0, 0, 1, 1_000_000+66_000_000))
	require.NoError(t, w.RecordAccel(0, 0, 1, 500_000))
	got := blocks(t, w, file.buf)
	require.Len(t, got, 2)
	require.Equal(t, layers.FlushSize, got[0].Flags)
	require.Equal(t, uint64(67_000_000), got[1].StartUS)
	require.Equal(t, 1, w.Buffered())
}

func TestCloseWritesSessionEnd(t *testing.T) {
	w, file := openTest(t, testOptions(clock.NewMock()))
	require.NoError(t, w.RecordGPS(layers.GPSFix{Latitude: 40, Longitude: -74}, 1_000_000))
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
	require.True(t, file.closed)

	got := blocks(t, w, file.buf)
	require.Len(t, got, 1)
	require.Equal(t, layers.FlushShutdown, got[0].Flags)

	tail := file.buf[len(file.buf)-layers.SessionEndSize:]
	require.True(t, layers.HasPrefix(tail, layers.BlockTypeSessionEnd))
	require.Equal(t, w.SessionID().String(), uuid.UUID(tail[5:21]).String())

	require.ErrorIs(t, w.RecordAccel(0, 0, 1, 2_000_000), ErrClosed)
	require.ErrorIs(t, w.Flush(), ErrClosed)
}

func TestNaNStoredAsZero(t *testing.T) {
	w, file := openTest(t, testOptions(clock.NewMock()))
	nan := float32(math.NaN())
	require.NoError(t, w.RecordAccel(nan, 1, nan, 1_000_000))
	require.NoError(t, w.Flush())

	got := blocks(t, w, file.buf)
	require.Len(t, got, 1)
	sl := &layers.SamplesLayer{}
	require.NoError(t, sl.DecodeFromBytes(got[0].Payload, gopacket.NilDecodeFeedback))
	require.Equal(t, &layers.Vector3{X: 0, Y: 1, Z: 0}, sl.Samples[0].Vector)
	require.Equal(t, layers.FlushManual, got[0].Flags)
}

func TestZeroTimestampUsesTimeSource(t *testing.T) {
	w, file := openTest(t, testOptions(clock.NewMock()))
	require.NoError(t, w.RecordEvent(1, "lap", 0))
	require.NoError(t, w.Flush())
	got := blocks(t, w, file.buf)
	require.Equal(t, uint64(5_000_000), got[0].StartUS)
}

func TestWriteFailureRollsBack(t *testing.T) {
	w, file := openTest(t, testOptions(clock.NewMock()))
	committed := len(file.buf)
	require.NoError(t, w.RecordAccel(0, 0, 1, 1_000_000))

	file.failAt = 10
	err := w.Flush()
	require.Error(t, err)
	var werr ErrWrite
	require.True(t, errors.As(err, &werr))
	require.True(t, werr.RolledBack)
	require.Len(t, file.buf, committed)
	require.Equal(t, 1, w.Buffered())

	file.syncErr = errors.New("sync failed")
	require.Error(t, w.Flush())
	require.Len(t, file.buf, committed)

	require.NoError(t, w.Flush())
	got := blocks(t, w, file.buf)
	require.Len(t, got, 1)
	require.Equal(t, uint32(0), got[0].Sequence)
}

func TestStorageUnavailable(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "missing")
	storage := NewFileStorage(dir)
	_, err := Open(storage, "session_00001.opl", Metadata{}, nil, DefaultOptions())
	require.Error(t, err)
	var unavailable ErrStorageUnavailable
	require.True(t, errors.As(err, &unavailable))
	_, statErr := os.Stat(dir)
	require.True(t, os.IsNotExist(statErr))
}

func TestFileStorage(t *testing.T) {
	dir := t.TempDir()
	storage := NewFileStorage(dir)
	w, err := Open(storage, "session_00001.opl", Metadata{SessionName: "disk"}, nil, DefaultOptions())
	require.NoError(t, err)
	require.NoError(t, w.RecordAccel(0, 0, 1, 0))
	require.NoError(t, w.Close())

	data, err := os.ReadFile(filepath.Join(dir, "session_00001.opl"))
	require.NoError(t, err)
	require.True(t, layers.HasPrefix(data, layers.BlockTypeSessionHeader))
	require.Equal(t, w.Stats().Bytes, int64(len(data)))

	_, err = Open(storage, "session_00001.opl", Metadata{}, nil, DefaultOptions())
	require.Error(t, err)
}

func TestNextSessionName(t *testing.T) {
	dir := t.TempDir()
	name, err := NextSessionName(dir, "opl")
	require.NoError(t, err)
	require.Equal(t, "session_00001.opl", name)

	for _, n := range []string{"session_00007.opl", "session_00003.csv", "notes.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, n), nil, 0644))
	}
	name, err = NextSessionName(dir, "csv")
	require.NoError(t, err)
	require.Equal(t, "session_00008.csv", name)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "session_99999.opl"), nil, 0644))
	name, err = NextSessionName(dir, "opl")
	require.NoError(t, err)
	require.Equal(t, "session_00001.opl", name)
}

func TestClockSource(t *testing.T) {
	mock := clock.NewMock()
	src := NewClockSource(mock)
	mock.Add(1500 * time.Millisecond)
	require.Equal(t, uint64(1_500_000), src.NowUS())
	require.False(t, src.Synced())

	wall := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	src.SetAbsolute(wall)
	mock.Add(time.Second)
	require.True(t, src.Synced())
	require.Equal(t, uint64(wall.UnixMicro())+1_000_000, src.NowUS())
	require.GreaterOrEqual(t, src.NowUS(), layers.Epoch2000US)
}

func TestCsvRecorder(t *testing.T) {
	storage := newMemStorage()
	opts := testOptions(clock.NewMock())
	r, err := NewRecorder(FormatCSV, storage, "session_00001.csv", Metadata{SessionName: "TrackDay", DriverName: "Jane", VehicleID: "VIN123", StartUS: layers.Epoch2000US}, nil, opts)
	require.NoError(t, err)
	require.NoError(t, r.Record(layers.Sample{Type: layers.SampleAccel, TimestampUS: 10, Vector: &layers.Vector3{X: 0.1, Y: -0.2, Z: 1}}))
	require.NoError(t, r.Close())
	require.NoError(t, r.Close())

	out := string(storage.files["session_00001.csv"].buf)
	require.Contains(t, out, "# Session: TrackDay\n")
	require.Contains(t, out, "timestamp_us,type,gx,gy,gz,lat,lon,alt,speed,heading,hdop,satellites\n")
	require.True(t, strings.HasSuffix(out, "10,accel,0.100000,-0.200000,1.000000,,,,,,,\n"))
	require.ErrorIs(t, r.Record(layers.Sample{Type: layers.SampleAccel}), ErrClosed)
}

func TestNewRecorderFormats(t *testing.T) {
	storage := newMemStorage()
	r, err := NewRecorder("", storage, "a.opl", Metadata{}, nil, testOptions(clock.NewMock()))
	require.NoError(t, err)
	require.IsType(t, &BinaryWriter{}, r)

	_, err = NewRecorder("parquet", storage, "a.parquet", Metadata{}, nil, testOptions(clock.NewMock()))
	require.Error(t, err)
	require.Equal(t, "csv", Extension(FormatCSV))
	require.Equal(t, "opl", Extension(FormatBinary))
	require.True(t, bytes.HasPrefix(storage.files["a.opl"].buf, []byte(layers.Magic)))
}

func TestCsvRecorderAccelWithoutReading(t *testing.T) {
	storage := newMemStorage()
	r, err := NewRecorder(FormatCSV, storage, "session_00001.csv", Metadata{StartUS: layers.Epoch2000US}, nil, testOptions(clock.NewMock()))
	require.NoError(t, err)
	require.NoError(t, r.Record(layers.Sample{Type: layers.SampleAccel, TimestampUS: 10}))
	require.NoError(t, r.Close())
	require.True(t, strings.HasSuffix(string(storage.files["session_00001.csv"].buf), "10,accel,,,,,,,,,,\n"))
}

func TestWeatherOutOfRange(t *testing.T) {
	storage := newMemStorage()
	w, err := Open(storage, "session_00001.opl", Metadata{StartUS: 1, Weather: layers.Weather(20)}, nil, testOptions(clock.NewMock()))
	require.NoError(t, err)
	require.Equal(t, layers.WeatherUnknown, w.Header().Weather)
	require.NoError(t, w.Close())

	data := storage.files["session_00001.opl"].buf
	require.Less(t, data[w.Header().Size()-layers.SessionHeaderTailSize], uint8(layers.WeatherCodeBound))
}
