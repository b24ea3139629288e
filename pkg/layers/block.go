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

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/uuid"

	"github.com/openponylogger/go-opl/pkg/checksum"
)

// BlockHeader ... // 46 bytes
type BlockHeader struct {
	SessionID     uuid.UUID  `json:"session_id"`
	Sequence      uint32     `json:"sequence"`
	StartUS       uint64     `json:"start_us"`
	EndUS         uint64     `json:"end_us"`
	Flags         FlushFlags `json:"flags"`
	SampleCount   uint16     `json:"sample_count"`
	PayloadLength uint16     `json:"payload_length"`
}

// DataBlockLayer is a sealed batch of samples. Its payload is decoded by SamplesLayer.
type DataBlockLayer struct {
	layers.BaseLayer `json:"-"`
	BlockHeader
	CRC         uint32 `json:"crc"`
	computedCRC uint32
}

var DataBlockLayerType = gopacket.RegisterLayerType(DataBlockLayerNum,
	gopacket.LayerTypeMetadata{Name: "DataBlockLayerType", Decoder: gopacket.DecodeFunc(decodeDataBlock)})

func (bl *DataBlockLayer) LayerType() gopacket.LayerType {
	return DataBlockLayerType
}

// ChecksumValid reports whether the stored CRC matches header and payload
func (bl *DataBlockLayer) ChecksumValid() bool {
	return bl.CRC == bl.computedCRC
}

func (bl *DataBlockLayer) ComputedCRC() uint32 {
	return bl.computedCRC
}

// Serialize writes the block header to buf
func (h *BlockHeader) Serialize(buf []byte) {
	copy(buf[0:4], Magic)
	buf[4] = uint8(BlockTypeData)
	copy(buf[5:21], h.SessionID[:])
	binary.LittleEndian.PutUint32(buf[21:25], h.Sequence)
	binary.LittleEndian.PutUint64(buf[25:33], h.StartUS)
	binary.LittleEndian.PutUint64(buf[33:41], h.EndUS)
	buf[41] = uint8(h.Flags)
	binary.LittleEndian.PutUint16(buf[42:44], h.SampleCount)
	binary.LittleEndian.PutUint16(buf[44:46], h.PayloadLength)
}

// SerializeTo prepends the block header to the payload already in the buffer
// and appends the CRC over header and payload
func (bl *DataBlockLayer) SerializeTo(b gopacket.SerializeBuffer, opts gopacket.SerializeOptions) error {
	payloadLength := len(b.Bytes())
	if payloadLength > 0xFFFF {
		return fmt.Errorf("Block payload of %d bytes is too large", payloadLength)
	}
	if opts.FixLengths {
		bl.PayloadLength = uint16(payloadLength)
	}
	headerBytes, err := b.PrependBytes(BlockHeaderSize)
	if err != nil {
		return err
	}
	bl.BlockHeader.Serialize(headerBytes)
	bl.computedCRC = checksum.CRC32(b.Bytes())
	bl.CRC = bl.computedCRC
	tailBytes, err := b.AppendBytes(CRCSize)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(tailBytes, bl.CRC)
	return nil
}

// BlockSize returns the full block length declared by a block header, or -1 if the header is incomplete
func BlockSize(header []byte) int {
	if len(header) < BlockHeaderSize {
		return -1
	}
	return BlockHeaderSize + int(binary.LittleEndian.Uint16(header[44:46])) + CRCSize
}

// DecodeFromBytes attempts to decode the byte slice as a data block.
// A CRC mismatch is not an error, callers check ChecksumValid.
func (bl *DataBlockLayer) DecodeFromBytes(data []byte, df gopacket.DecodeFeedback) error {
	if len(data) < BlockHeaderSize+CRCSize {
		df.SetTruncated()
		return errors.New("Data block too short")
	}
	if !HasPrefix(data, BlockTypeData) {
		return fmt.Errorf("Wrong data block magic or type: % x", data[:PrefixSize])
	}
	copy(bl.SessionID[:], data[5:21])
	bl.Sequence = binary.LittleEndian.Uint32(data[21:25])
	bl.StartUS = binary.LittleEndian.Uint64(data[25:33])
	bl.EndUS = binary.LittleEndian.Uint64(data[33:41])
	bl.Flags = FlushFlags(data[41])
	bl.SampleCount = binary.LittleEndian.Uint16(data[42:44])
	bl.PayloadLength = binary.LittleEndian.Uint16(data[44:46])

	end := BlockHeaderSize + int(bl.PayloadLength)
	if end+CRCSize > len(data) {
		df.SetTruncated()
		return fmt.Errorf("Data block payload of %d bytes overruns %d available bytes", bl.PayloadLength, len(data)-BlockHeaderSize)
	}
	bl.CRC = binary.LittleEndian.Uint32(data[end : end+CRCSize])
	bl.computedCRC = checksum.CRC32(data[:end])
	bl.BaseLayer = layers.BaseLayer{
		Contents: data[:BlockHeaderSize],
		Payload:  data[BlockHeaderSize:end],
	}
	return nil
}

func (bl *DataBlockLayer) CanDecode() gopacket.LayerClass {
	return DataBlockLayerType
}

func (bl *DataBlockLayer) NextLayerType() gopacket.LayerType {
	return SamplesLayerType
}

func decodeDataBlock(data []byte, p gopacket.PacketBuilder) error {
	bl := &DataBlockLayer{}
	if err := bl.DecodeFromBytes(data, p); err != nil {
		return err
	}
	p.AddLayer(bl)
	return p.NextDecoder(bl.NextLayerType())
}

// SessionEndLayer marks the end of a session
type SessionEndLayer struct {
	layers.BaseLayer
	SessionID uuid.UUID
}

var SessionEndLayerType = gopacket.RegisterLayerType(SessionEndLayerNum,
	gopacket.LayerTypeMetadata{Name: "SessionEndLayerType", Decoder: gopacket.DecodeFunc(decodeSessionEnd)})

func (e *SessionEndLayer) LayerType() gopacket.LayerType {
	return SessionEndLayerType
}

func (e *SessionEndLayer) SerializeTo(b gopacket.SerializeBuffer, opts gopacket.SerializeOptions) error {
	buf, err := b.AppendBytes(SessionEndSize)
	if err != nil {
		return err
	}
	copy(buf[0:4], Magic)
	buf[4] = uint8(BlockTypeSessionEnd)
	copy(buf[5:21], e.SessionID[:])
	return nil
}

// DecodeFromBytes decodes the end marker. The session id is optional since
// a writer may lose power between the type byte and the id.
func (e *SessionEndLayer) DecodeFromBytes(data []byte, df gopacket.DecodeFeedback) error {
	if !HasPrefix(data, BlockTypeSessionEnd) {
		return errors.New("Wrong session end magic or type")
	}
	end := PrefixSize
	if len(data) >= SessionEndSize {
		copy(e.SessionID[:], data[5:21])
		end = SessionEndSize
	}
	e.BaseLayer = layers.BaseLayer{
		Contents: data[:end],
		Payload:  data[end:],
	}
	return nil
}

func (e *SessionEndLayer) CanDecode() gopacket.LayerClass {
	return SessionEndLayerType
}

func (e *SessionEndLayer) NextLayerType() gopacket.LayerType {
	return gopacket.LayerTypeZero
}

func decodeSessionEnd(data []byte, p gopacket.PacketBuilder) error {
	e := &SessionEndLayer{}
	if err := e.DecodeFromBytes(data, p); err != nil {
		return err
	}
	p.AddLayer(e)
	return nil
}
