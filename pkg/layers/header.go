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
	"errors"
	"fmt"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/uuid"

	"github.com/openponylogger/go-opl/pkg/checksum"
)

// SessionHeader is the first structure of every OPL file
type SessionHeader struct {
	layers.BaseLayer `json:"-"`
	FormatVersion    Version   `json:"format_version"`
	HardwareVersion  Version   `json:"hardware_version"`
	TimestampUS      uint64    `json:"timestamp_us"`
	SessionID        uuid.UUID `json:"session_id"`
	SessionName      string    `json:"session_name"`
	DriverName       string    `json:"driver_name"`
	VehicleID        string    `json:"vehicle_id"`
	// HasTail is false for older files that end the header right after the vehicle id
	HasTail         bool    `json:"has_tail"`
	Weather         Weather `json:"weather"`
	TemperatureDeci int16   `json:"temperature_deci"`
	ConfigCRC       uint32  `json:"config_crc"`
	HeaderCRC       uint32  `json:"header_crc"`
	computedCRC     uint32
}

var SessionHeaderLayerType = gopacket.RegisterLayerType(SessionHeaderLayerNum,
	gopacket.LayerTypeMetadata{Name: "SessionHeaderLayerType", Decoder: gopacket.DecodeFunc(decodeSessionHeader)})

func (h *SessionHeader) LayerType() gopacket.LayerType {
	return SessionHeaderLayerType
}

// Temperature returns ambient temperature in degrees Celsius
func (h *SessionHeader) Temperature() float64 {
	return float64(h.TemperatureDeci) / 10
}

// SetTemperature stores a Celsius value with 0.1 degree resolution
func (h *SessionHeader) SetTemperature(celsius float64) {
	if math.IsNaN(celsius) || math.IsInf(celsius, 0) {
		h.TemperatureDeci = 0
		return
	}
	deci := math.Round(celsius * 10)
	if deci > math.MaxInt16 {
		deci = math.MaxInt16
	} else if deci < math.MinInt16 {
		deci = math.MinInt16
	}
	h.TemperatureDeci = int16(deci)
}

// ChecksumValid reports whether the header CRC matches. Headers without the tail have no CRC and are valid.
func (h *SessionHeader) ChecksumValid() bool {
	return !h.HasTail || h.HeaderCRC == h.computedCRC
}

// ComputedCRC returns the CRC calculated while decoding or serializing
func (h *SessionHeader) ComputedCRC() uint32 {
	return h.computedCRC
}

// Size returns the number of bytes the header occupies once serialized
func (h *SessionHeader) Size() int {
	size := SessionHeaderFixedSize +
		3 + len(TruncateUTF8(h.SessionName, MaxSessionNameLen)) +
		len(TruncateUTF8(h.DriverName, MaxDriverNameLen)) +
		len(TruncateUTF8(h.VehicleID, MaxVehicleIDLen))
	if h.HasTail {
		size += SessionHeaderTailSize
	}
	return size
}

// SerializeTo writes the header to the SerializeBuffer and calculates the header CRC
func (h *SessionHeader) SerializeTo(b gopacket.SerializeBuffer, opts gopacket.SerializeOptions) error {
	buf, err := b.AppendBytes(h.Size())
	if err != nil {
		return err
	}
	copy(buf[0:4], Magic)
	buf[4] = uint8(BlockTypeSessionHeader)
	buf[5] = h.FormatVersion.Major
	buf[6] = h.FormatVersion.Minor
	buf[7] = h.HardwareVersion.Major
	buf[8] = h.HardwareVersion.Minor
	binary.LittleEndian.PutUint64(buf[9:17], h.TimestampUS)
	copy(buf[17:33], h.SessionID[:])
	pos := SessionHeaderFixedSize
	pos += putString(buf[pos:], h.SessionName, MaxSessionNameLen)
	pos += putString(buf[pos:], h.DriverName, MaxDriverNameLen)
	pos += putString(buf[pos:], h.VehicleID, MaxVehicleIDLen)
	if !h.HasTail {
		return nil
	}
	buf[pos] = uint8(h.Weather)
	binary.LittleEndian.PutUint16(buf[pos+1:pos+3], uint16(h.TemperatureDeci))
	binary.LittleEndian.PutUint32(buf[pos+3:pos+7], h.ConfigCRC)
	h.computedCRC = checksum.CRC32(buf[:pos+7])
	h.HeaderCRC = h.computedCRC
	binary.LittleEndian.PutUint32(buf[pos+7:pos+11], h.HeaderCRC)
	return nil
}

// DecodeFromBytes decodes a session header. The optional tail is parsed only when
// enough bytes follow the vehicle id and the first of them is a plausible weather code.
// Anything else after the vehicle id is left in Payload.
func (h *SessionHeader) DecodeFromBytes(data []byte, df gopacket.DecodeFeedback) error {
	if len(data) < SessionHeaderFixedSize {
		df.SetTruncated()
		return errors.New("Session header too short")
	}
	if !HasPrefix(data, BlockTypeSessionHeader) {
		return fmt.Errorf("Wrong session header magic or type: % x", data[:PrefixSize])
	}
	h.FormatVersion = Version{Major: data[5], Minor: data[6]}
	h.HardwareVersion = Version{Major: data[7], Minor: data[8]}
	h.TimestampUS = binary.LittleEndian.Uint64(data[9:17])
	copy(h.SessionID[:], data[17:33])

	pos := SessionHeaderFixedSize
	var err error
	for _, field := range []*string{&h.SessionName, &h.DriverName, &h.VehicleID} {
		*field, pos, err = readString(data, pos)
		if err != nil {
			df.SetTruncated()
			return err
		}
	}

	h.HasTail = false
	h.Weather = WeatherUnknown
	h.TemperatureDeci = 0
	h.ConfigCRC = 0
	h.HeaderCRC = 0
	h.computedCRC = 0
	if len(data)-pos >= SessionHeaderTailSize && data[pos] < WeatherCodeBound {
		h.HasTail = true
		h.Weather = Weather(data[pos])
		h.TemperatureDeci = int16(binary.LittleEndian.Uint16(data[pos+1 : pos+3]))
		h.ConfigCRC = binary.LittleEndian.Uint32(data[pos+3 : pos+7])
		h.HeaderCRC = binary.LittleEndian.Uint32(data[pos+7 : pos+11])
		h.computedCRC = checksum.CRC32(data[:pos+7])
		pos += SessionHeaderTailSize
	}

	h.BaseLayer = layers.BaseLayer{
		Contents: data[:pos],
		Payload:  data[pos:],
	}
	return nil
}

func (h *SessionHeader) CanDecode() gopacket.LayerClass {
	return SessionHeaderLayerType
}

func (h *SessionHeader) NextLayerType() gopacket.LayerType {
	return gopacket.LayerTypePayload
}

func decodeSessionHeader(data []byte, p gopacket.PacketBuilder) error {
	h := &SessionHeader{}
	if err := h.DecodeFromBytes(data, p); err != nil {
		return err
	}
	p.AddLayer(h)
	return nil
}

// TruncateUTF8 cuts s to at most max bytes without splitting a rune
func TruncateUTF8(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

func putString(buf []byte, s string, max int) int {
	s = TruncateUTF8(s, max)
	buf[0] = uint8(len(s))
	copy(buf[1:], s)
	return 1 + len(s)
}

func readString(data []byte, pos int) (string, int, error) {
	if pos >= len(data) {
		return "", pos, errors.New("String length is missing")
	}
	n := int(data[pos])
	pos++
	if pos+n > len(data) {
		return "", pos, fmt.Errorf("String of %d bytes overruns header", n)
	}
	return strings.ToValidUTF8(string(data[pos:pos+n]), "\uFFFD"), pos + n, nil
}
