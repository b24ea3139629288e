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

package layers

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"github.com/openponylogger/go-opl/pkg/log"
)

type SampleType uint8

const (
	SampleAccel         SampleType = 0x01
	SampleGPSFix        SampleType = 0x02
	SampleGPSSatellites SampleType = 0x03
	SampleGyro          SampleType = 0x04
	SampleMag           SampleType = 0x05
	SampleOBD           SampleType = 0x10
	SampleEvent         SampleType = 0x20
)

// SampleHeaderSize is type(1) offset(2) length(1)
const SampleHeaderSize = 4

const (
	vectorSize       = 12
	gpsFixSize       = 34
	gpsFixLegacySize = 32
	satelliteSize    = 5
	obdSize          = 6
	maxSamplePayload = 0xFF
	// MaxSatellites fits the satellite list into one sample
	MaxSatellites = (maxSamplePayload - 1) / satelliteSize
	// MaxEventText leaves one byte for the event kind
	MaxEventText = maxSamplePayload - 1
)

var sampleTypeNames = map[SampleType]string{
	SampleAccel:         "accel",
	SampleGPSFix:        "gps",
	SampleGPSSatellites: "satellites",
	SampleGyro:          "gyro",
	SampleMag:           "mag",
	SampleOBD:           "obd",
	SampleEvent:         "event",
}

// String returns the type tag used in reports and CSV rows
func (t SampleType) String() string {
	if name, ok := sampleTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("unknown_0x%02x", uint8(t))
}

func (t SampleType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *SampleType) UnmarshalText(text []byte) error {
	parsed, ok := ParseSampleType(string(text))
	if !ok {
		return fmt.Errorf("Unknown sample type %q", text)
	}
	*t = parsed
	return nil
}

// ParseSampleType maps a type tag name back to its code
func ParseSampleType(name string) (SampleType, bool) {
	for t, n := range sampleTypeNames {
		if n == name {
			return t, true
		}
	}
	var code uint8
	if _, err := fmt.Sscanf(name, "unknown_0x%02x", &code); err == nil {
		return SampleType(code), true
	}
	return 0, false
}

func (t SampleType) Known() bool {
	_, ok := sampleTypeNames[t]
	return ok
}

// SampleTypes lists known types in tag order
func SampleTypes() []SampleType {
	return []SampleType{SampleAccel, SampleGPSFix, SampleGPSSatellites, SampleGyro, SampleMag, SampleOBD, SampleEvent}
}

// Vector3 holds accelerometer (g), gyroscope (deg/s) or magnetometer (uT) readings
type Vector3 struct {
	X float32 `json:"x"`
	Y float32 `json:"y"`
	Z float32 `json:"z"`
}

// Magnitude returns the vector length
func (v Vector3) Magnitude() float64 {
	x, y, z := float64(v.X), float64(v.Y), float64(v.Z)
	return math.Sqrt(x*x + y*y + z*z)
}

// GPSFix ... // speed in mph, heading in degrees
type GPSFix struct {
	Latitude   float64 `json:"lat"`
	Longitude  float64 `json:"lon"`
	Altitude   float32 `json:"alt"`
	Speed      float32 `json:"speed"`
	Heading    float32 `json:"heading"`
	HDOP       float32 `json:"hdop"`
	Satellites uint8   `json:"satellites"`
	FixQuality uint8   `json:"fix_quality"`
}

type Satellite struct {
	ID        uint8  `json:"id"`
	Azimuth   uint16 `json:"azimuth"`
	Elevation uint8  `json:"elevation"`
	SNR       uint8  `json:"snr"`
}

type OBDReading struct {
	Mode  uint8   `json:"mode"`
	PID   uint8   `json:"pid"`
	Value float32 `json:"value"`
}

type EventMarker struct {
	Kind uint8  `json:"kind"`
	Text string `json:"text"`
}

// Sample is one decoded reading. Exactly one of the typed fields is set, matching Type.
type Sample struct {
	Type        SampleType `json:"type"`
	TimestampUS uint64     `json:"timestamp_us"`
	// OffsetMS is the distance from the block start timestamp in milliseconds
	OffsetMS   uint16       `json:"-"`
	Vector     *Vector3     `json:"vector,omitempty"`
	Fix        *GPSFix      `json:"fix,omitempty"`
	Satellites []Satellite  `json:"satellite_list,omitempty"`
	OBD        *OBDReading  `json:"obd,omitempty"`
	Event      *EventMarker `json:"event,omitempty"`
}

func finite32(v float32) float32 {
	if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
		return 0
	}
	return v
}

func finite64(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

// Sanitize replaces NaN and infinite readings with zero and clips variable length fields
func (s *Sample) Sanitize() {
	if s.Vector != nil {
		v := *s.Vector
		s.Vector = &Vector3{X: finite32(v.X), Y: finite32(v.Y), Z: finite32(v.Z)}
	}
	if s.Fix != nil {
		f := *s.Fix
		f.Latitude = finite64(f.Latitude)
		f.Longitude = finite64(f.Longitude)
		f.Altitude = finite32(f.Altitude)
		f.Speed = finite32(f.Speed)
		f.Heading = finite32(f.Heading)
		f.HDOP = finite32(f.HDOP)
		s.Fix = &f
	}
	if len(s.Satellites) > MaxSatellites {
		s.Satellites = s.Satellites[:MaxSatellites]
	}
	if s.OBD != nil {
		o := *s.OBD
		o.Value = finite32(o.Value)
		s.OBD = &o
	}
	if s.Event != nil {
		e := *s.Event
		e.Text = TruncateUTF8(e.Text, MaxEventText)
		s.Event = &e
	}
}

// PayloadSize returns the encoded size of the sample payload without the sample header
func (s *Sample) PayloadSize() int {
	switch s.Type {
	case SampleAccel, SampleGyro, SampleMag:
		return vectorSize
	case SampleGPSFix:
		return gpsFixSize
	case SampleGPSSatellites:
		n := len(s.Satellites)
		if n > MaxSatellites {
			n = MaxSatellites
		}
		return 1 + n*satelliteSize
	case SampleOBD:
		return obdSize
	case SampleEvent:
		text := ""
		if s.Event != nil {
			text = TruncateUTF8(s.Event.Text, MaxEventText)
		}
		return 1 + len(text)
	}
	return 0
}

// Size returns the encoded size of the sample including its header
func (s *Sample) Size() int {
	return SampleHeaderSize + s.PayloadSize()
}

// Serialize writes the sample header and payload to buf, which must be Size() bytes long.
// Missing typed fields are written as zeros.
func (s *Sample) Serialize(buf []byte) error {
	if !s.Type.Known() {
		return fmt.Errorf("Unable to encode sample type 0x%02x", uint8(s.Type))
	}
	payloadSize := s.PayloadSize()
	buf[0] = uint8(s.Type)
	binary.LittleEndian.PutUint16(buf[1:3], s.OffsetMS)
	buf[3] = uint8(payloadSize)
	p := buf[SampleHeaderSize : SampleHeaderSize+payloadSize]
	for i := range p {
		p[i] = 0
	}
	switch s.Type {
	case SampleAccel, SampleGyro, SampleMag:
		if v := s.Vector; v != nil {
			putFloat32(p[0:4], v.X)
			putFloat32(p[4:8], v.Y)
			putFloat32(p[8:12], v.Z)
		}
	case SampleGPSFix:
		if f := s.Fix; f != nil {
			binary.LittleEndian.PutUint64(p[0:8], math.Float64bits(finite64(f.Latitude)))
			binary.LittleEndian.PutUint64(p[8:16], math.Float64bits(finite64(f.Longitude)))
			putFloat32(p[16:20], f.Altitude)
			putFloat32(p[20:24], f.Speed)
			putFloat32(p[24:28], f.Heading)
			putFloat32(p[28:32], f.HDOP)
			p[32] = f.Satellites
			p[33] = f.FixQuality
		}
	case SampleGPSSatellites:
		n := (payloadSize - 1) / satelliteSize
		p[0] = uint8(n)
		for i, sat := range s.Satellites[:n] {
			o := 1 + i*satelliteSize
			p[o] = sat.ID
			binary.LittleEndian.PutUint16(p[o+1:o+3], sat.Azimuth)
			p[o+3] = sat.Elevation
			p[o+4] = sat.SNR
		}
	case SampleOBD:
		if o := s.OBD; o != nil {
			p[0] = o.Mode
			p[1] = o.PID
			putFloat32(p[2:6], o.Value)
		}
	case SampleEvent:
		if e := s.Event; e != nil {
			p[0] = e.Kind
			copy(p[1:], TruncateUTF8(e.Text, MaxEventText))
		}
	}
	return nil
}

func putFloat32(buf []byte, v float32) {
	binary.LittleEndian.PutUint32(buf, math.Float32bits(finite32(v)))
}

func getFloat32(buf []byte) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(buf))
}

// decodeSamplePayload fills the typed field of s from the payload.
// It returns false when the payload is too short for the type.
func decodeSamplePayload(s *Sample, p []byte) bool {
	switch s.Type {
	case SampleAccel, SampleGyro, SampleMag:
		if len(p) < vectorSize {
			return false
		}
		s.Vector = &Vector3{X: getFloat32(p[0:4]), Y: getFloat32(p[4:8]), Z: getFloat32(p[8:12])}
	case SampleGPSFix:
		if len(p) < gpsFixLegacySize {
			return false
		}
		s.Fix = &GPSFix{
			Latitude:  math.Float64frombits(binary.LittleEndian.Uint64(p[0:8])),
			Longitude: math.Float64frombits(binary.LittleEndian.Uint64(p[8:16])),
			Altitude:  getFloat32(p[16:20]),
			Speed:     getFloat32(p[20:24]),
			Heading:   getFloat32(p[24:28]),
			HDOP:      getFloat32(p[28:32]),
		}
		if len(p) >= gpsFixSize {
			s.Fix.Satellites = p[32]
			s.Fix.FixQuality = p[33]
		}
	case SampleGPSSatellites:
		if len(p) < 1 {
			return false
		}
		n := int(p[0])
		if 1+n*satelliteSize > len(p) {
			return false
		}
		s.Satellites = make([]Satellite, n)
		for i := range s.Satellites {
			o := 1 + i*satelliteSize
			s.Satellites[i] = Satellite{
				ID:        p[o],
				Azimuth:   binary.LittleEndian.Uint16(p[o+1 : o+3]),
				Elevation: p[o+3],
				SNR:       p[o+4],
			}
		}
	case SampleOBD:
		if len(p) < obdSize {
			return false
		}
		s.OBD = &OBDReading{Mode: p[0], PID: p[1], Value: getFloat32(p[2:6])}
	case SampleEvent:
		if len(p) < 1 {
			return false
		}
		s.Event = &EventMarker{Kind: p[0], Text: string(p[1:])}
	}
	return true
}

// SamplesLayer is the payload of a data block
type SamplesLayer struct {
	layers.BaseLayer
	Samples []Sample
	// Skipped counts samples with unknown type tags
	Skipped int
	// Malformed counts known samples whose declared length is too short for their type
	Malformed int
	// Overrun is set when a sample header or payload runs past the end of the block payload.
	// Samples decoded before it are kept.
	Overrun bool
}

var SamplesLayerType = gopacket.RegisterLayerType(SamplesLayerNum,
	gopacket.LayerTypeMetadata{Name: "SamplesLayerType", Decoder: gopacket.DecodeFunc(decodeSamples)})

func (sl *SamplesLayer) LayerType() gopacket.LayerType {
	return SamplesLayerType
}

// Size returns the encoded size of all samples
func (sl *SamplesLayer) Size() int {
	size := 0
	for i := range sl.Samples {
		size += sl.Samples[i].Size()
	}
	return size
}

// SerializeTo appends all samples to the SerializeBuffer
func (sl *SamplesLayer) SerializeTo(b gopacket.SerializeBuffer, opts gopacket.SerializeOptions) error {
	for i := range sl.Samples {
		s := &sl.Samples[i]
		buf, err := b.AppendBytes(s.Size())
		if err != nil {
			return err
		}
		if err := s.Serialize(buf); err != nil {
			return err
		}
	}
	return nil
}

// DecodeFromBytes unpacks (type, offset, length, payload) records until data is consumed.
// Unknown types are skipped by their declared length. Timestamps are left as offsets,
// see ResolveTimestamps.
func (sl *SamplesLayer) DecodeFromBytes(data []byte, df gopacket.DecodeFeedback) error {
	sl.Samples = sl.Samples[:0]
	sl.Skipped = 0
	sl.Malformed = 0
	sl.Overrun = false
	pos := 0
	for pos < len(data) {
		if pos+SampleHeaderSize > len(data) {
			sl.Overrun = true
			break
		}
		s := Sample{
			Type:     SampleType(data[pos]),
			OffsetMS: binary.LittleEndian.Uint16(data[pos+1 : pos+3]),
		}
		length := int(data[pos+3])
		start := pos + SampleHeaderSize
		if start+length > len(data) {
			log.Debug("Sample at %d declares %d bytes, %d left:\n%s", pos, length, len(data)-start, hex.Dump(data[pos:]))
			sl.Overrun = true
			break
		}
		pos = start + length
		if !s.Type.Known() {
			sl.Skipped++
			continue
		}
		if !decodeSamplePayload(&s, data[start:start+length]) {
			sl.Malformed++
			continue
		}
		sl.Samples = append(sl.Samples, s)
	}
	if sl.Overrun {
		df.SetTruncated()
	}
	sl.BaseLayer = layers.BaseLayer{
		Contents: data[:pos],
		Payload:  data[pos:],
	}
	return nil
}

// ResolveTimestamps converts sample offsets into absolute timestamps of the block time base
func (sl *SamplesLayer) ResolveTimestamps(startUS uint64) {
	for i := range sl.Samples {
		sl.Samples[i].TimestampUS = startUS + uint64(sl.Samples[i].OffsetMS)*1000
	}
}

func (sl *SamplesLayer) CanDecode() gopacket.LayerClass {
	return SamplesLayerType
}

func (sl *SamplesLayer) NextLayerType() gopacket.LayerType {
	return gopacket.LayerTypeZero
}

func decodeSamples(data []byte, p gopacket.PacketBuilder) error {
	sl := &SamplesLayer{}
	if err := sl.DecodeFromBytes(data, p); err != nil {
		return err
	}
	p.AddLayer(sl)
	return nil
}
