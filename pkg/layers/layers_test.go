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
	"math"
	"testing"

	"github.com/google/gopacket"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func serialize(t *testing.T, l ...gopacket.SerializableLayer) []byte {
	buf := gopacket.NewSerializeBuffer()
	err := gopacket.SerializeLayers(buf, gopacket.SerializeOptions{FixLengths: true}, l...)
	require.NoError(t, err)
	return buf.Bytes()
}

func testHeader() *SessionHeader {
	h := &SessionHeader{
		FormatVersion:   Version{Major: FormatVersionMajor, Minor: FormatVersionMinor},
		HardwareVersion: Version{Major: HardwareVersionMajor, Minor: HardwareVersionMinor},
		TimestampUS:     Epoch2000US + 123,
		SessionID:       uuid.MustParse("0f8fad5b-d9cb-469f-a165-70867728950e"),
		SessionName:     "TrackDay",
		DriverName:      "Jane",
		VehicleID:       "VIN123",
		HasTail:         true,
		Weather:         WeatherRain,
		ConfigCRC:       0xDEADBEEF,
	}
	h.SetTemperature(-4.25)
	return h
}

func TestSessionHeaderRoundTrip(t *testing.T) {
	h := testHeader()
	data := serialize(t, h)
	require.Len(t, data, h.Size())

	packet := DecodeBlock(data)
	require.Nil(t, packet.ErrorLayer())
	decoded, ok := packet.Layer(SessionHeaderLayerType).(*SessionHeader)
	require.True(t, ok)
	require.Equal(t, h.SessionID, decoded.SessionID)
	require.Equal(t, "TrackDay", decoded.SessionName)
	require.Equal(t, "Jane", decoded.DriverName)
	require.Equal(t, "VIN123", decoded.VehicleID)
	require.True(t, decoded.HasTail)
	require.Equal(t, WeatherRain, decoded.Weather)
	require.Equal(t, int16(-43), decoded.TemperatureDeci)
	require.Equal(t, uint32(0xDEADBEEF), decoded.ConfigCRC)
	require.True(t, decoded.ChecksumValid())
}

func TestSessionHeaderWithoutTail(t *testing.T) {
	h := testHeader()
	h.HasTail = false
	data := serialize(t, h)

	decoded := &SessionHeader{}
	require.NoError(t, decoded.DecodeFromBytes(data, gopacket.NilDecodeFeedback))
	require.False(t, decoded.HasTail)
	require.Equal(t, WeatherUnknown, decoded.Weather)
	require.Equal(t, 0.0, decoded.Temperature())
	require.True(t, decoded.ChecksumValid())
}

func TestSessionHeaderCorruptedTail(t *testing.T) {
	data := serialize(t, testHeader())
	data[10] ^= 0x01

	decoded := &SessionHeader{}
	require.NoError(t, decoded.DecodeFromBytes(data, gopacket.NilDecodeFeedback))
	require.False(t, decoded.ChecksumValid())
}

func TestSessionHeaderWrongMagic(t *testing.T) {
	data := serialize(t, testHeader())
	copy(data, "JUNK")
	decoded := &SessionHeader{}
	require.Error(t, decoded.DecodeFromBytes(data, gopacket.NilDecodeFeedback))
}

func TestTruncateUTF8(t *testing.T) {
	require.Equal(t, "abc", TruncateUTF8("abc", 5))
	require.Equal(t, "ab", TruncateUTF8("abcdef", 2))
	// the second rune is two bytes long and must not be split
	require.Equal(t, "a", TruncateUTF8("aéb", 2))
}

func TestHardwareManifestRoundTrip(t *testing.T) {
	m := &HardwareManifest{}
	require.True(t, m.Add(HardwareAccelerometer, ConnectionI2C, "LIS3DH"))
	require.True(t, m.Add(HardwareGPS, ConnectionUART, "ATGM336H"))
	data := serialize(t, m)
	require.True(t, HasPrefix(data, BlockTypeHardwareConfig))

	packet := DecodeBlock(data)
	require.Nil(t, packet.ErrorLayer())
	decoded := packet.Layer(HardwareManifestLayerType).(*HardwareManifest)
	require.Equal(t, m.Items, decoded.Items)
	require.True(t, decoded.ChecksumValid())
	require.Equal(t, m.CRC, decoded.ComputedCRC())
	require.Equal(t, "GPS: ATGM336H (UART)", decoded.Items[1].String())
}

func TestHardwareManifestLimit(t *testing.T) {
	m := &HardwareManifest{}
	for i := 0; i < MaxHardwareItems; i++ {
		require.True(t, m.Add(HardwareLED, ConnectionGPIO, "led"))
	}
	require.False(t, m.Add(HardwareLED, ConnectionGPIO, "one too many"))
}

func testSamples() []Sample {
	return []Sample{
		{Type: SampleAccel, OffsetMS: 0, Vector: &Vector3{X: 0.1, Y: -0.2, Z: 1.0}},
		{Type: SampleGPSFix, OffsetMS: 10, Fix: &GPSFix{Latitude: 40.0, Longitude: -74.0, Altitude: 10, Speed: 5, Heading: 90, HDOP: 1.2, Satellites: 7, FixQuality: 1}},
		{Type: SampleGPSSatellites, OffsetMS: 20, Satellites: []Satellite{{ID: 3, Azimuth: 270, Elevation: 45, SNR: 38}, {ID: 17, Azimuth: 12, Elevation: 80, SNR: 41}}},
		{Type: SampleGyro, OffsetMS: 30, Vector: &Vector3{X: 1, Y: 2, Z: 3}},
		{Type: SampleMag, OffsetMS: 40, Vector: &Vector3{X: -30, Y: 12.5, Z: 40}},
		{Type: SampleOBD, OffsetMS: 50, OBD: &OBDReading{Mode: 1, PID: 0x0C, Value: 3250}},
		{Type: SampleEvent, OffsetMS: 60, Event: &EventMarker{Kind: 2, Text: "pit in"}},
	}
}

func TestDataBlockRoundTrip(t *testing.T) {
	samples := testSamples()
	bl := &DataBlockLayer{BlockHeader: BlockHeader{
		SessionID:   uuid.New(),
		Sequence:    7,
		StartUS:     1_000_000,
		EndUS:       1_060_000,
		Flags:       FlushTime | FlushEvent,
		SampleCount: uint16(len(samples)),
	}}
	sl := &SamplesLayer{Samples: samples}
	data := serialize(t, bl, sl)
	require.Len(t, data, BlockHeaderSize+sl.Size()+CRCSize)
	require.Equal(t, len(data), BlockSize(data))
	require.Equal(t, uint16(sl.Size()), bl.PayloadLength)

	packet := DecodeBlock(data)
	require.Nil(t, packet.ErrorLayer())
	block := packet.Layer(DataBlockLayerType).(*DataBlockLayer)
	require.Equal(t, bl.BlockHeader, block.BlockHeader)
	require.True(t, block.ChecksumValid())
	require.Equal(t, "time|event", block.Flags.String())

	decoded := packet.Layer(SamplesLayerType).(*SamplesLayer)
	require.False(t, decoded.Overrun)
	decoded.ResolveTimestamps(block.StartUS)
	require.Len(t, decoded.Samples, len(samples))
	for i := range samples {
		require.Equal(t, samples[i].Type, decoded.Samples[i].Type)
		require.Equal(t, 1_000_000+uint64(samples[i].OffsetMS)*1000, decoded.Samples[i].TimestampUS)
		require.Equal(t, samples[i].Vector, decoded.Samples[i].Vector)
		require.Equal(t, samples[i].Fix, decoded.Samples[i].Fix)
		require.Equal(t, samples[i].Satellites, decoded.Samples[i].Satellites)
		require.Equal(t, samples[i].OBD, decoded.Samples[i].OBD)
		require.Equal(t, samples[i].Event, decoded.Samples[i].Event)
	}
}

func TestDataBlockChecksumMismatch(t *testing.T) {
	bl := &DataBlockLayer{BlockHeader: BlockHeader{SampleCount: 1}}
	data := serialize(t, bl, &SamplesLayer{Samples: testSamples()[:1]})
	data[BlockHeaderSize+6] ^= 0x40

	packet := DecodeBlock(data)
	require.Nil(t, packet.ErrorLayer())
	require.False(t, packet.Layer(DataBlockLayerType).(*DataBlockLayer).ChecksumValid())
}

func TestDataBlockTruncated(t *testing.T) {
	data := serialize(t, &DataBlockLayer{}, &SamplesLayer{Samples: testSamples()})
	packet := DecodeBlock(data[:len(data)-10])
	require.NotNil(t, packet.ErrorLayer())
	require.True(t, packet.Metadata().Truncated)
}

func TestSamplesSkipUnknown(t *testing.T) {
	data := serialize(t, &SamplesLayer{Samples: testSamples()[:1]})
	unknown := []byte{0x7E, 0x05, 0x00, 0x03, 0xAA, 0xBB, 0xCC}
	data = append(unknown, data...)

	sl := &SamplesLayer{}
	require.NoError(t, sl.DecodeFromBytes(data, gopacket.NilDecodeFeedback))
	require.Equal(t, 1, sl.Skipped)
	require.Len(t, sl.Samples, 1)
	require.Equal(t, SampleAccel, sl.Samples[0].Type)
}

func TestSamplesOverrun(t *testing.T) {
	data := serialize(t, &SamplesLayer{Samples: testSamples()[:2]})
	sl := &SamplesLayer{}
	require.NoError(t, sl.DecodeFromBytes(data[:len(data)-3], gopacket.NilDecodeFeedback))
	require.True(t, sl.Overrun)
	require.Len(t, sl.Samples, 1)
}

func TestSamplesLegacyGPSFix(t *testing.T) {
	full := serialize(t, &SamplesLayer{Samples: testSamples()[1:2]})
	legacy := append([]byte{}, full[:SampleHeaderSize+gpsFixLegacySize]...)
	legacy[3] = gpsFixLegacySize

	sl := &SamplesLayer{}
	require.NoError(t, sl.DecodeFromBytes(legacy, gopacket.NilDecodeFeedback))
	require.Len(t, sl.Samples, 1)
	require.Equal(t, 40.0, sl.Samples[0].Fix.Latitude)
	require.Equal(t, uint8(0), sl.Samples[0].Fix.Satellites)
}

func TestSampleSanitize(t *testing.T) {
	nan := float32(math.NaN())
	s := Sample{Type: SampleAccel, Vector: &Vector3{X: nan, Y: float32(math.Inf(1)), Z: 1}}
	s.Sanitize()
	require.Equal(t, &Vector3{X: 0, Y: 0, Z: 1}, s.Vector)

	// a missing typed field is encoded as zeros
	data := serialize(t, &SamplesLayer{Samples: []Sample{{Type: SampleGPSFix}}})
	sl := &SamplesLayer{}
	require.NoError(t, sl.DecodeFromBytes(data, gopacket.NilDecodeFeedback))
	require.Equal(t, &GPSFix{}, sl.Samples[0].Fix)
}

func TestSessionEnd(t *testing.T) {
	id := uuid.New()
	data := serialize(t, &SessionEndLayer{SessionID: id})
	require.Len(t, data, SessionEndSize)
	packet := DecodeBlock(data)
	require.Nil(t, packet.ErrorLayer())
	require.Equal(t, id, packet.Layer(SessionEndLayerType).(*SessionEndLayer).SessionID)
}

func TestUnknownBlockType(t *testing.T) {
	packet := DecodeBlock([]byte("OPNY\x7f"))
	require.NotNil(t, packet.ErrorLayer())
	require.False(t, BlockType(0x7f).Known())
	require.True(t, BlockTypeData.Known())
}

func TestEnumNames(t *testing.T) {
	require.Equal(t, "Fog", WeatherFog.String())
	w, ok := ParseWeather("cloudy")
	require.True(t, ok)
	require.Equal(t, WeatherCloudy, w)
	require.Equal(t, "STEMMA_QT", ConnectionSTEMMAQT.String())
	require.Equal(t, "CAN", HardwareCAN.String())
	require.Equal(t, "none", FlushFlags(0).String())
	require.Equal(t, "unknown_0x7e", SampleType(0x7E).String())
}

func TestParseSampleType(t *testing.T) {
	for _, st := range SampleTypes() {
		parsed, ok := ParseSampleType(st.String())
		require.True(t, ok)
		require.Equal(t, st, parsed)
	}
	parsed, ok := ParseSampleType("unknown_0x7e")
	require.True(t, ok)
	require.Equal(t, SampleType(0x7E), parsed)
	_, ok = ParseSampleType("barometer")
	require.False(t, ok)

	var st SampleType
	require.NoError(t, st.UnmarshalText([]byte("satellites")))
	require.Equal(t, SampleGPSSatellites, st)
}
