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
	"fmt"
	"strings"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

func init() {
	initUnknownBlockTypes()
	initActualBlockTypes()
}

const (
	// SessionHeaderLayerNum identifies the layers of an OPL file
	SessionHeaderLayerNum    = 2101
	HardwareManifestLayerNum = 2102
	DataBlockLayerNum        = 2103
	SamplesLayerNum          = 2104
	SessionEndLayerNum       = 2105
)

const (
	// Magic appears in the beginning of every OPL header and block
	Magic = "OPNY"

	FormatVersionMajor   = 2
	FormatVersionMinor   = 0
	HardwareVersionMajor = 1
	HardwareVersionMinor = 0

	// MaxBlockSize is the size of the largest data block including header and CRC
	MaxBlockSize = 4096
	// MaxPayloadSize leaves room for the block header, CRC and some slack
	MaxPayloadSize = MaxBlockSize - 80

	// BlockHeaderSize is magic(4) type(1) session(16) seq(4) start(8) end(8) flags(1) count(2) len(2)
	BlockHeaderSize = 46
	// SessionEndSize is magic(4) type(1) session(16)
	SessionEndSize = 21
	// SessionHeaderFixedSize is magic(4) type(1) format(2) hardware(2) timestamp(8) session(16)
	SessionHeaderFixedSize = 33
	// SessionHeaderTailSize is weather(1) temperature(2) config crc(4) header crc(4)
	SessionHeaderTailSize = 11
	CRCSize               = 4
	// PrefixSize is magic plus block type, enough to tell what comes next in a stream
	PrefixSize = 5

	MaxSessionNameLen = 63
	MaxDriverNameLen  = 31
	MaxVehicleIDLen   = 31
	MaxHardwareIDLen  = 31
	MaxHardwareItems  = 32

	// WeatherCodeBound separates a weather code from the first byte of the next block.
	// Any byte below it after the vehicle id starts the optional header tail.
	WeatherCodeBound = 16
)

// Epoch2000US is the number of microseconds from the Unix epoch to 2000-01-01T00:00:00Z.
// Smaller timestamps count from device boot.
const Epoch2000US uint64 = 946_684_800_000_000

type BlockType uint8

const (
	BlockTypeSessionHeader  BlockType = 0x01
	BlockTypeData           BlockType = 0x02
	BlockTypeSessionEnd     BlockType = 0x03
	BlockTypeHardwareConfig BlockType = 0x04
)

type errorDecoderForBlockType int

func (e *errorDecoderForBlockType) Decode(data []byte, p gopacket.PacketBuilder) error {
	return e
}

func (e *errorDecoderForBlockType) Error() string {
	return fmt.Sprintf("Unable to decode OPL block type 0x%02x", int(*e))
}

var errorDecodersForBlockType [256]errorDecoderForBlockType
var BlockTypeMetadata [256]layers.EnumMetadata

func initUnknownBlockTypes() {
	for i := 0; i < 256; i++ {
		errorDecodersForBlockType[i] = errorDecoderForBlockType(i)
		BlockTypeMetadata[i] = layers.EnumMetadata{
			DecodeWith: &errorDecodersForBlockType[i],
			Name:       "UnknownBlockType",
		}
	}
}

func initActualBlockTypes() {
	BlockTypeMetadata[BlockTypeSessionHeader] = layers.EnumMetadata{DecodeWith: gopacket.DecodeFunc(decodeSessionHeader), Name: "SessionHeader", LayerType: SessionHeaderLayerType}
	BlockTypeMetadata[BlockTypeHardwareConfig] = layers.EnumMetadata{DecodeWith: gopacket.DecodeFunc(decodeHardwareManifest), Name: "HardwareConfig", LayerType: HardwareManifestLayerType}
	BlockTypeMetadata[BlockTypeData] = layers.EnumMetadata{DecodeWith: gopacket.DecodeFunc(decodeDataBlock), Name: "Data", LayerType: DataBlockLayerType}
	BlockTypeMetadata[BlockTypeSessionEnd] = layers.EnumMetadata{DecodeWith: gopacket.DecodeFunc(decodeSessionEnd), Name: "SessionEnd", LayerType: SessionEndLayerType}
}

// LayerType returns BlockTypeMetadata.LayerType
func (t BlockType) LayerType() gopacket.LayerType {
	return BlockTypeMetadata[t].LayerType
}

// Decode calls BlockTypeMetadata.DecodeWith's decoder
func (t BlockType) Decode(data []byte, p gopacket.PacketBuilder) error {
	return BlockTypeMetadata[t].DecodeWith.Decode(data, p)
}

// String returns BlockTypeMetadata.Name
func (t BlockType) String() string {
	return BlockTypeMetadata[t].Name
}

// Known reports whether the block type has a decoder
func (t BlockType) Known() bool {
	return BlockTypeMetadata[t].LayerType != 0
}

// HasPrefix reports whether data starts with the magic followed by the block type
func HasPrefix(data []byte, t BlockType) bool {
	return len(data) >= PrefixSize && string(data[:4]) == Magic && BlockType(data[4]) == t
}

// DecodeBlock decodes a complete OPL header or block. The block type byte selects the layer.
func DecodeBlock(data []byte) gopacket.Packet {
	if len(data) < PrefixSize {
		return gopacket.NewPacket(data, gopacket.DecodeFunc(decodeTooShort), gopacket.NoCopy)
	}
	return gopacket.NewPacket(data, BlockType(data[4]), gopacket.NoCopy)
}

func decodeTooShort(data []byte, p gopacket.PacketBuilder) error {
	p.SetTruncated()
	return fmt.Errorf("OPL block too short: %d bytes", len(data))
}

type Version struct {
	Major uint8 `json:"major"`
	Minor uint8 `json:"minor"`
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

type Weather uint8

const (
	WeatherUnknown Weather = iota
	WeatherClear
	WeatherCloudy
	WeatherRain
	WeatherSnow
	WeatherFog
)

var weatherNames = [...]string{"Unknown", "Clear", "Cloudy", "Rain", "Snow", "Fog"}

func (w Weather) String() string {
	if int(w) < len(weatherNames) {
		return weatherNames[w]
	}
	return fmt.Sprintf("Weather(%d)", uint8(w))
}

// ParseWeather maps a case-insensitive weather name to its code
func ParseWeather(name string) (Weather, bool) {
	for i, n := range weatherNames {
		if strings.EqualFold(n, name) {
			return Weather(i), true
		}
	}
	return WeatherUnknown, false
}

type HardwareType uint8

const (
	HardwareAccelerometer HardwareType = 0x01
	HardwareGPS           HardwareType = 0x02
	HardwareDisplay       HardwareType = 0x03
	HardwareStorage       HardwareType = 0x04
	HardwareRTC           HardwareType = 0x05
	HardwareLED           HardwareType = 0x06
	HardwareNeoPixel      HardwareType = 0x07
	HardwareRadio         HardwareType = 0x08
	HardwareOBD           HardwareType = 0x09
	HardwareCAN           HardwareType = 0x0A
)

var hardwareNames = map[HardwareType]string{
	HardwareAccelerometer: "Accelerometer",
	HardwareGPS:           "GPS",
	HardwareDisplay:       "Display",
	HardwareStorage:       "Storage",
	HardwareRTC:           "RTC",
	HardwareLED:           "LED",
	HardwareNeoPixel:      "NeoPixel",
	HardwareRadio:         "Radio",
	HardwareOBD:           "OBD",
	HardwareCAN:           "CAN",
}

func (t HardwareType) String() string {
	if name, ok := hardwareNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Unknown(0x%02x)", uint8(t))
}

type ConnectionType uint8

const (
	ConnectionI2C      ConnectionType = 0x01
	ConnectionSPI      ConnectionType = 0x02
	ConnectionUART     ConnectionType = 0x03
	ConnectionGPIO     ConnectionType = 0x04
	ConnectionSTEMMAQT ConnectionType = 0x05
	ConnectionBuiltin  ConnectionType = 0x06
)

var connectionNames = map[ConnectionType]string{
	ConnectionI2C:      "I2C",
	ConnectionSPI:      "SPI",
	ConnectionUART:     "UART",
	ConnectionGPIO:     "GPIO",
	ConnectionSTEMMAQT: "STEMMA_QT",
	ConnectionBuiltin:  "Built-in",
}

func (t ConnectionType) String() string {
	if name, ok := connectionNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Unknown(0x%02x)", uint8(t))
}

type FlushFlags uint8

const (
	FlushTime     FlushFlags = 0x01
	FlushSize     FlushFlags = 0x02
	FlushEvent    FlushFlags = 0x04
	FlushManual   FlushFlags = 0x08
	FlushShutdown FlushFlags = 0x10
)

func (f FlushFlags) String() string {
	names := []struct {
		flag FlushFlags
		name string
	}{
		{FlushTime, "time"},
		{FlushSize, "size"},
		{FlushEvent, "event"},
		{FlushManual, "manual"},
		{FlushShutdown, "shutdown"},
	}
	s := ""
	for _, n := range names {
		if f&n.flag != 0 {
			if s != "" {
				s += "|"
			}
			s += n.name
		}
	}
	if s == "" {
		return "none"
	}
	return s
}
