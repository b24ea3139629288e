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
	"fmt"
	"io"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/gopacket"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/openponylogger/go-opl/pkg/config"
	"github.com/openponylogger/go-opl/pkg/layers"
	"github.com/openponylogger/go-opl/pkg/log"
)

// Options control when a block is sealed
type Options struct {
	// MaxSamples seals the block once it holds that many samples
	MaxSamples int
	// FlushInterval seals the block when this much time passed since the last flush
	FlushInterval time.Duration
	// GForceThreshold seals the block right after an accelerometer sample with a larger magnitude.
	// Zero disables event flushes.
	GForceThreshold float64
	// EventRateLimit is the minimal time between two event flushes. Zero means no limit.
	EventRateLimit time.Duration
	// SizeThreshold is the share of layers.MaxPayloadSize that seals the block
	SizeThreshold float64

	Clock      clock.Clock
	TimeSource TimeSource
}

func DefaultOptions() Options {
	return OptionsFromConfig(config.NewDefaultConfig().WriterConfig)
}

// OptionsFromConfig converts the writer section of the config file
func OptionsFromConfig(cfg *config.WriterConfig) Options {
	c := clock.New()
	return Options{
		MaxSamples:      cfg.MaxSamples,
		FlushInterval:   cfg.FlushInterval.Duration,
		GForceThreshold: cfg.GForceThreshold,
		EventRateLimit:  cfg.EventRateLimit.Duration,
		SizeThreshold:   cfg.SizeThreshold,
		Clock:           c,
		TimeSource:      NewClockSource(c),
	}
}

func (o *Options) setDefaults() {
	if o.Clock == nil {
		o.Clock = clock.New()
	}
	if o.TimeSource == nil {
		o.TimeSource = NewClockSource(o.Clock)
	}
	if o.MaxSamples <= 0 || o.MaxSamples > 0xFFFF {
		o.MaxSamples = 0xFFFF
	}
	if o.SizeThreshold <= 0 || o.SizeThreshold > 1 {
		o.SizeThreshold = 1
	}
}

// Metadata describes the session. Zero SessionID and StartUS are filled in at open time.
type Metadata struct {
	SessionID   uuid.UUID
	SessionName string
	DriverName  string
	VehicleID   string
	StartUS     uint64
	Weather     layers.Weather
	Temperature float64
	ConfigCRC   uint32
}

// setDefaults fills a zero SessionID and StartUS. Weather codes the header tail
// can not carry are stored as unknown, a reader would take them for the next block.
func (m *Metadata) setDefaults(opts Options) {
	if m.SessionID == uuid.Nil {
		m.SessionID = uuid.New()
	}
	if m.StartUS == 0 {
		m.StartUS = opts.TimeSource.NowUS()
	}
	if m.Weather >= layers.WeatherCodeBound {
		log.Warning("Weather code %d out of range, recorded as %s", uint8(m.Weather), layers.WeatherUnknown)
		m.Weather = layers.WeatherUnknown
	}
}

// Stats counts what the writer committed so far
type Stats struct {
	Blocks  uint32
	Samples uint64
	Bytes   int64
}

// BinaryWriter encodes one session into an OPL file. It owns the block buffer,
// flush thresholds and the file handle. It is not safe for concurrent use.
type BinaryWriter struct {
	name    string
	file    File
	opts    Options
	header  *layers.SessionHeader
	buf     gopacket.SerializeBuffer
	samples []layers.Sample

	payloadSize  int
	blockStartUS uint64
	blockEndUS   uint64
	sequence     uint32
	lastFlush    time.Time
	lastEvent    time.Time
	committed    int64
	stats        Stats

	closed bool
	failed error
}

var _ Recorder = &BinaryWriter{}

// Open creates the session file and writes the session header followed by the
// hardware manifest when it has items
func Open(storage Storage, name string, meta Metadata, manifest *layers.HardwareManifest, opts Options) (*BinaryWriter, error) {
	opts.setDefaults()
	meta.setDefaults(opts)

	file, err := storage.Create(name)
	if err != nil {
		return nil, err
	}

	w := &BinaryWriter{
		name:    name,
		file:    file,
		opts:    opts,
		buf:     gopacket.NewSerializeBuffer(),
		samples: make([]layers.Sample, 0, 64),
	}
	w.header = &layers.SessionHeader{
		FormatVersion:   layers.Version{Major: layers.FormatVersionMajor, Minor: layers.FormatVersionMinor},
		HardwareVersion: layers.Version{Major: layers.HardwareVersionMajor, Minor: layers.HardwareVersionMinor},
		TimestampUS:     meta.StartUS,
		SessionID:       meta.SessionID,
		SessionName:     meta.SessionName,
		DriverName:      meta.DriverName,
		VehicleID:       meta.VehicleID,
		HasTail:         true,
		Weather:         meta.Weather,
		ConfigCRC:       meta.ConfigCRC,
	}
	w.header.SetTemperature(meta.Temperature)

	toWrite := []gopacket.SerializableLayer{w.header}
	if manifest != nil && len(manifest.Items) > 0 {
		toWrite = append(toWrite, manifest)
	}
	for _, l := range toWrite {
		if err := w.writeLayers(l); err != nil {
			err = multierr.Combine(err, file.Close(), storage.Remove(name))
			return nil, errors.Wrapf(err, "write %s", l.LayerType())
		}
	}
	w.lastFlush = opts.Clock.Now()
	log.Info("Session %s started: file: %s", meta.SessionID, name)
	return w, nil
}

// Header returns the header written at open time
func (w *BinaryWriter) Header() *layers.SessionHeader {
	return w.header
}

func (w *BinaryWriter) SessionID() uuid.UUID {
	return w.header.SessionID
}

func (w *BinaryWriter) Stats() Stats {
	return w.stats
}

// Buffered returns the number of samples waiting for the next flush
func (w *BinaryWriter) Buffered() int {
	return len(w.samples)
}

func (w *BinaryWriter) usable() error {
	if w.closed {
		return ErrClosed
	}
	return w.failed
}

// fits reports whether the sample can join the current block. Offsets are 16 bit
// milliseconds and can not go backwards.
func (w *BinaryWriter) fits(ts uint64, size int) bool {
	if len(w.samples) == 0 {
		return true
	}
	if w.payloadSize+size > layers.MaxPayloadSize {
		return false
	}
	return ts >= w.blockStartUS && (ts-w.blockStartUS)/1000 <= 0xFFFF
}

// Record buffers one sample and seals the block when a flush trigger fires.
// NaN and infinite readings are stored as zero. A zero timestamp is taken from the TimeSource.
// Timestamps are stored as whole milliseconds after the first sample of the block,
// so any sub-millisecond part of a later sample is dropped.
func (w *BinaryWriter) Record(s layers.Sample) error {
	if err := w.usable(); err != nil {
		return err
	}
	if !s.Type.Known() {
		return fmt.Errorf("Unable to record sample type 0x%02x", uint8(s.Type))
	}
	s.Sanitize()
	if s.TimestampUS == 0 {
		s.TimestampUS = w.opts.TimeSource.NowUS()
	}
	size := s.Size()
	if !w.fits(s.TimestampUS, size) {
		if err := w.seal(layers.FlushSize); err != nil {
			return err
		}
	}
	if len(w.samples) == 0 {
		w.blockStartUS = s.TimestampUS
		w.blockEndUS = s.TimestampUS
	}
	s.OffsetMS = uint16((s.TimestampUS - w.blockStartUS) / 1000)
	w.samples = append(w.samples, s)
	w.payloadSize += size
	if s.TimestampUS > w.blockEndUS {
		w.blockEndUS = s.TimestampUS
	}

	var flags layers.FlushFlags
	if len(w.samples) >= w.opts.MaxSamples {
		flags |= layers.FlushSize
	}
	if float64(w.payloadSize) >= w.opts.SizeThreshold*layers.MaxPayloadSize {
		flags |= layers.FlushSize
	}
	if w.isEvent(&s) {
		flags |= layers.FlushEvent
	}
	if w.intervalElapsed() {
		flags |= layers.FlushTime
	}
	if flags != 0 {
		return w.seal(flags)
	}
	return nil
}

func (w *BinaryWriter) isEvent(s *layers.Sample) bool {
	if s.Type != layers.SampleAccel || s.Vector == nil || w.opts.GForceThreshold <= 0 {
		return false
	}
	if s.Vector.Magnitude() <= w.opts.GForceThreshold {
		return false
	}
	now := w.opts.Clock.Now()
	if w.opts.EventRateLimit > 0 && !w.lastEvent.IsZero() && now.Sub(w.lastEvent) < w.opts.EventRateLimit {
		log.Debug("High-g event at %d within rate limit, not flushing", s.TimestampUS)
		return false
	}
	w.lastEvent = now
	log.Info("High-g event: %.2fg at %d", s.Vector.Magnitude(), s.TimestampUS)
	return true
}

func (w *BinaryWriter) intervalElapsed() bool {
	return w.opts.FlushInterval > 0 && w.opts.Clock.Since(w.lastFlush) >= w.opts.FlushInterval
}

// CheckFlush seals the block when the flush interval elapsed. The sampling loop
// calls it periodically so that a quiet sensor does not hold data in memory.
func (w *BinaryWriter) CheckFlush() error {
	if err := w.usable(); err != nil {
		return err
	}
	if !w.intervalElapsed() {
		return nil
	}
	if len(w.samples) == 0 {
		w.lastFlush = w.opts.Clock.Now()
		return nil
	}
	return w.seal(layers.FlushTime)
}

// Flush seals the current block on request
func (w *BinaryWriter) Flush() error {
	if err := w.usable(); err != nil {
		return err
	}
	return w.seal(layers.FlushManual)
}

func (w *BinaryWriter) seal(flags layers.FlushFlags) error {
	if len(w.samples) == 0 {
		return nil
	}
	block := &layers.DataBlockLayer{
		BlockHeader: layers.BlockHeader{
			SessionID:   w.header.SessionID,
			Sequence:    w.sequence,
			StartUS:     w.blockStartUS,
			EndUS:       w.blockEndUS,
			Flags:       flags,
			SampleCount: uint16(len(w.samples)),
		},
	}
	if err := w.writeLayers(block, &layers.SamplesLayer{Samples: w.samples}); err != nil {
		return err
	}
	log.Debug("Block %d sealed: samples: %d payload: %d flags: %s", w.sequence, len(w.samples), block.PayloadLength, flags)
	w.stats.Blocks++
	w.stats.Samples += uint64(len(w.samples))
	w.sequence++
	w.samples = w.samples[:0]
	w.payloadSize = 0
	w.lastFlush = w.opts.Clock.Now()
	return nil
}

// writeLayers serializes the layers and commits them with a single write followed by a sync.
// A failed commit truncates the file back to the previous commit when possible.
func (w *BinaryWriter) writeLayers(l ...gopacket.SerializableLayer) error {
	if err := gopacket.SerializeLayers(w.buf, gopacket.SerializeOptions{FixLengths: true}, l...); err != nil {
		return err
	}
	data := w.buf.Bytes()
	n, err := w.file.Write(data)
	if err == nil {
		err = w.file.Sync()
	}
	if err == nil {
		w.committed += int64(n)
		w.stats.Bytes = w.committed
		return nil
	}

	werr := ErrWrite{Sequence: w.sequence, Err: err}
	if n == 0 {
		werr.RolledBack = true
		log.Error("%s", werr)
		return werr
	}
	if t, ok := w.file.(truncater); ok {
		terr := t.Truncate(w.committed)
		if terr == nil {
			_, terr = t.Seek(w.committed, io.SeekStart)
		}
		if terr == nil {
			werr.RolledBack = true
			log.Error("%s", werr)
			return werr
		}
		werr.Err = multierr.Append(err, terr)
	}
	w.failed = werr
	log.Error("%s", werr)
	return werr
}

// Close flushes buffered samples, writes the session end marker and closes the file.
// Closing a closed writer does nothing.
func (w *BinaryWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	var err error
	if w.failed == nil {
		err = w.seal(layers.FlushShutdown)
		if err == nil {
			err = w.writeLayers(&layers.SessionEndLayer{SessionID: w.header.SessionID})
		}
	}
	err = multierr.Append(err, w.file.Close())
	log.Info("Session %s closed: blocks: %d samples: %d bytes: %d", w.header.SessionID, w.stats.Blocks, w.stats.Samples, w.stats.Bytes)
	return err
}

// RecordAccel records an accelerometer reading in g
func (w *BinaryWriter) RecordAccel(x, y, z float32, ts uint64) error {
	return w.Record(layers.Sample{Type: layers.SampleAccel, TimestampUS: ts, Vector: &layers.Vector3{X: x, Y: y, Z: z}})
}

func (w *BinaryWriter) RecordGyro(x, y, z float32, ts uint64) error {
	return w.Record(layers.Sample{Type: layers.SampleGyro, TimestampUS: ts, Vector: &layers.Vector3{X: x, Y: y, Z: z}})
}

func (w *BinaryWriter) RecordMag(x, y, z float32, ts uint64) error {
	return w.Record(layers.Sample{Type: layers.SampleMag, TimestampUS: ts, Vector: &layers.Vector3{X: x, Y: y, Z: z}})
}

func (w *BinaryWriter) RecordGPS(fix layers.GPSFix, ts uint64) error {
	return w.Record(layers.Sample{Type: layers.SampleGPSFix, TimestampUS: ts, Fix: &fix})
}

func (w *BinaryWriter) RecordSatellites(sats []layers.Satellite, ts uint64) error {
	return w.Record(layers.Sample{Type: layers.SampleGPSSatellites, TimestampUS: ts, Satellites: sats})
}

func (w *BinaryWriter) RecordOBD(mode, pid uint8, value float32, ts uint64) error {
	return w.Record(layers.Sample{Type: layers.SampleOBD, TimestampUS: ts, OBD: &layers.OBDReading{Mode: mode, PID: pid, Value: value}})
}

func (w *BinaryWriter) RecordEvent(kind uint8, text string, ts uint64) error {
	return w.Record(layers.Sample{Type: layers.SampleEvent, TimestampUS: ts, Event: &layers.EventMarker{Kind: kind, Text: text}})
}
