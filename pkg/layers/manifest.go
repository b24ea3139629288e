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
	"strings"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"github.com/openponylogger/go-opl/pkg/checksum"
)

// HardwareItem describes one physical device that produced session data
type HardwareItem struct {
	Type       HardwareType   `json:"type"`
	Connection ConnectionType `json:"connection"`
	Identifier string         `json:"identifier"`
}

func (i HardwareItem) String() string {
	return fmt.Sprintf("%s: %s (%s)", i.Type, i.Identifier, i.Connection)
}

// HardwareManifest is the optional block written right after the session header
type HardwareManifest struct {
	layers.BaseLayer `json:"-"`
	Items            []HardwareItem `json:"items"`
	CRC              uint32         `json:"crc"`
	computedCRC      uint32
}

var HardwareManifestLayerType = gopacket.RegisterLayerType(HardwareManifestLayerNum,
	gopacket.LayerTypeMetadata{Name: "HardwareManifestLayerType", Decoder: gopacket.DecodeFunc(decodeHardwareManifest)})

func (m *HardwareManifest) LayerType() gopacket.LayerType {
	return HardwareManifestLayerType
}

// Add appends an item. Items beyond MaxHardwareItems are ignored.
func (m *HardwareManifest) Add(t HardwareType, c ConnectionType, identifier string) bool {
	if len(m.Items) >= MaxHardwareItems {
		return false
	}
	m.Items = append(m.Items, HardwareItem{Type: t, Connection: c, Identifier: identifier})
	return true
}

func (m *HardwareManifest) ChecksumValid() bool {
	return m.CRC == m.computedCRC
}

// ComputedCRC returns the CRC calculated while decoding or serializing
func (m *HardwareManifest) ComputedCRC() uint32 {
	return m.computedCRC
}

func (m *HardwareManifest) items() []HardwareItem {
	if len(m.Items) > MaxHardwareItems {
		return m.Items[:MaxHardwareItems]
	}
	return m.Items
}

// Size returns the serialized size of the manifest
func (m *HardwareManifest) Size() int {
	size := PrefixSize + 1 + CRCSize
	for _, item := range m.items() {
		size += 3 + len(TruncateUTF8(item.Identifier, MaxHardwareIDLen))
	}
	return size
}

func (m *HardwareManifest) SerializeTo(b gopacket.SerializeBuffer, opts gopacket.SerializeOptions) error {
	buf, err := b.AppendBytes(m.Size())
	if err != nil {
		return err
	}
	items := m.items()
	copy(buf[0:4], Magic)
	buf[4] = uint8(BlockTypeHardwareConfig)
	buf[5] = uint8(len(items))
	pos := 6
	for _, item := range items {
		buf[pos] = uint8(item.Type)
		buf[pos+1] = uint8(item.Connection)
		pos += 2
		pos += putString(buf[pos:], item.Identifier, MaxHardwareIDLen)
	}
	m.computedCRC = checksum.CRC32(buf[:pos])
	m.CRC = m.computedCRC
	binary.LittleEndian.PutUint32(buf[pos:pos+4], m.CRC)
	return nil
}

// DecodeFromBytes decodes the manifest. Bytes following the CRC are left in Payload.
func (m *HardwareManifest) DecodeFromBytes(data []byte, df gopacket.DecodeFeedback) error {
	if len(data) < PrefixSize+1+CRCSize {
		df.SetTruncated()
		return errors.New("Hardware manifest too short")
	}
	if !HasPrefix(data, BlockTypeHardwareConfig) {
		return fmt.Errorf("Wrong hardware manifest magic or type: % x", data[:PrefixSize])
	}
	count := int(data[5])
	pos := 6
	m.Items = make([]HardwareItem, 0, count)
	for i := 0; i < count; i++ {
		if pos+3 > len(data) {
			df.SetTruncated()
			return fmt.Errorf("Hardware item %d overruns manifest", i)
		}
		item := HardwareItem{
			Type:       HardwareType(data[pos]),
			Connection: ConnectionType(data[pos+1]),
		}
		var err error
		item.Identifier, pos, err = readString(data, pos+2)
		if err != nil {
			df.SetTruncated()
			return err
		}
		item.Identifier = strings.TrimRight(item.Identifier, "\x00")
		m.Items = append(m.Items, item)
	}
	if pos+CRCSize > len(data) {
		df.SetTruncated()
		return errors.New("Hardware manifest CRC is missing")
	}
	m.computedCRC = checksum.CRC32(data[:pos])
	m.CRC = binary.LittleEndian.Uint32(data[pos : pos+CRCSize])
	m.BaseLayer = layers.BaseLayer{
		Contents: data[:pos+CRCSize],
		Payload:  data[pos+CRCSize:],
	}
	return nil
}

func (m *HardwareManifest) CanDecode() gopacket.LayerClass {
	return HardwareManifestLayerType
}

func (m *HardwareManifest) NextLayerType() gopacket.LayerType {
	return gopacket.LayerTypePayload
}

func decodeHardwareManifest(data []byte, p gopacket.PacketBuilder) error {
	m := &HardwareManifest{}
	if err := m.DecodeFromBytes(data, p); err != nil {
		return err
	}
	p.AddLayer(m)
	return nil
}
