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

// Package reader decodes OPL session files block by block. Integrity problems
// are collected as findings while as much data as possible is recovered.
package reader

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/google/gopacket"
	"github.com/pkg/errors"

	"github.com/openponylogger/go-opl/pkg/integrity"
	"github.com/openponylogger/go-opl/pkg/layers"
	"github.com/openponylogger/go-opl/pkg/log"
)

// Block is a decoded data block with its samples resolved to absolute timestamps
type Block struct {
	layers.BlockHeader
	Offset        int64           `json:"offset"`
	CRC           uint32          `json:"crc"`
	ChecksumValid bool            `json:"checksum_valid"`
	Samples       []layers.Sample `json:"-"`
	Skipped       int             `json:"skipped"`
}

// Reader reads one session from a stream. Peeking never consumes input,
// which makes the rewinds of optional sections exact.
type Reader struct {
	r        *bufio.Reader
	offset   int64
	header   *layers.SessionHeader
	findings integrity.List
	index    int64
	nextSeq  uint32
	haveSeq  bool
}

func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReaderSize(r, 2*layers.MaxBlockSize)}
}

// Offset returns the number of bytes consumed so far
func (r *Reader) Offset() int64 {
	return r.offset
}

// Findings returns integrity findings collected so far
func (r *Reader) Findings() integrity.List {
	return r.findings
}

func (r *Reader) read(n int) ([]byte, error) {
	buf := make([]byte, n)
	read, err := io.ReadFull(r.r, buf)
	r.offset += int64(read)
	return buf[:read], err
}

func (r *Reader) readString(dst []byte) ([]byte, error) {
	length, err := r.read(1)
	if err != nil {
		return dst, err
	}
	dst = append(dst, length...)
	s, err := r.read(int(length[0]))
	return append(dst, s...), err
}

// ReadHeader reads and validates the session header. After the vehicle id one byte
// is peeked: a weather code starts the optional tail, anything else is left unread.
func (r *Reader) ReadHeader() (*layers.SessionHeader, error) {
	data, err := r.read(layers.SessionHeaderFixedSize)
	if len(data) >= layers.PrefixSize && !layers.HasPrefix(data, layers.BlockTypeSessionHeader) {
		return nil, ErrFormat{What: fmt.Sprintf("wrong magic or block type % x", data[:layers.PrefixSize])}
	}
	if err != nil {
		return nil, ErrFormat{What: fmt.Sprintf("header truncated at %d bytes", len(data))}
	}
	for i := 0; i < 3; i++ {
		data, err = r.readString(data)
		if err != nil {
			return nil, ErrFormat{What: fmt.Sprintf("header truncated at %d bytes", len(data))}
		}
	}

	next, err := r.r.Peek(1)
	if err == nil && next[0] < layers.WeatherCodeBound {
		tail, err := r.read(layers.SessionHeaderTailSize)
		data = append(data, tail...)
		if err != nil {
			return nil, ErrFormat{What: fmt.Sprintf("header tail truncated at %d bytes", len(data))}
		}
	} else if err != nil && err != io.EOF {
		return nil, errors.Wrap(err, "read header")
	}

	h := &layers.SessionHeader{}
	if err := h.DecodeFromBytes(data, gopacket.NilDecodeFeedback); err != nil {
		return nil, ErrFormat{What: err.Error()}
	}
	if !h.ChecksumValid() {
		r.findings.Add(integrity.KindHeaderChecksum, integrity.Warning, -1, 0,
			"Session header checksum mismatch: stored 0x%08x computed 0x%08x", h.HeaderCRC, h.ComputedCRC())
	}
	if !h.HasTail {
		log.Debug("Session header without weather tail, older format")
	}
	r.header = h
	return h, nil
}

// ReadHardwareManifest returns nil without consuming input when the next block is not a manifest
func (r *Reader) ReadHardwareManifest() (*layers.HardwareManifest, error) {
	prefix, _ := r.r.Peek(layers.PrefixSize)
	if !layers.HasPrefix(prefix, layers.BlockTypeHardwareConfig) {
		return nil, nil
	}
	start := r.offset
	data, err := r.read(layers.PrefixSize + 1)
	for i := 0; err == nil && i < int(data[layers.PrefixSize]); i++ {
		var item []byte
		item, err = r.read(2)
		data = append(data, item...)
		if err == nil {
			data, err = r.readString(data)
		}
	}
	if err == nil {
		var crc []byte
		crc, err = r.read(layers.CRCSize)
		data = append(data, crc...)
	}
	if err != nil {
		return nil, r.structural(start, "hardware manifest truncated after %d bytes", len(data))
	}

	m := &layers.HardwareManifest{}
	if err := m.DecodeFromBytes(data, gopacket.NilDecodeFeedback); err != nil {
		return nil, r.structural(start, "%s", err)
	}
	if !m.ChecksumValid() {
		r.findings.Add(integrity.KindManifestChecksum, integrity.Warning, -1, start,
			"Hardware manifest checksum mismatch: stored 0x%08x computed 0x%08x", m.CRC, m.ComputedCRC())
	}
	return m, nil
}

func (r *Reader) structural(offset int64, format string, v ...interface{}) error {
	err := ErrStructure{Offset: offset, What: fmt.Sprintf(format, v...)}
	r.findings.Add(integrity.KindStructure, integrity.Warning, r.index, offset, "%s", err.What)
	return err
}

// ReadBlock returns the next data block. It returns io.EOF at the end of the stream,
// ErrSessionEnd at the session end marker and ErrStructure when the block can not be
// delimited. Checksum and sequence problems do not stop decoding and end up in Findings.
func (r *Reader) ReadBlock() (*Block, error) {
	start := r.offset
	prefix, err := r.r.Peek(layers.PrefixSize)
	if len(prefix) == 0 && err == io.EOF {
		return nil, io.EOF
	}
	if len(prefix) < layers.PrefixSize {
		if err != io.EOF {
			return nil, errors.Wrap(err, "read block")
		}
		n, _ := r.r.Discard(len(prefix))
		r.offset += int64(n)
		r.findings.Add(integrity.KindTruncated, integrity.Warning, r.index, start, "%d trailing bytes at end of file", n)
		return nil, io.EOF
	}
	if string(prefix[:4]) != layers.Magic {
		if log.Enabled(log.DebugLevel) {
			peek, _ := r.r.Peek(64)
			log.Debug("Bad block magic at %d:\n%s", start, hex.Dump(peek))
		}
		return nil, r.structural(start, "bad block magic % x", prefix[:4])
	}

	switch layers.BlockType(prefix[4]) {
	case layers.BlockTypeSessionEnd:
		data, _ := r.read(layers.SessionEndSize)
		end := &layers.SessionEndLayer{}
		if err := end.DecodeFromBytes(data, gopacket.NilDecodeFeedback); err == nil && len(data) == layers.SessionEndSize && r.header != nil && end.SessionID != r.header.SessionID {
			r.findings.Add(integrity.KindSessionMismatch, integrity.Warning, -1, start,
				"Session end marker belongs to session %s", end.SessionID)
		}
		return nil, ErrSessionEnd
	case layers.BlockTypeData:
	default:
		return nil, r.structural(start, "unexpected block type 0x%02x", prefix[4])
	}

	data, err := r.read(layers.BlockHeaderSize)
	if err != nil {
		r.findings.Add(integrity.KindTruncated, integrity.Warning, r.index, start, "Block header truncated after %d bytes", len(data))
		return nil, ErrStructure{Offset: start, What: "block header truncated", Truncated: true}
	}
	size := layers.BlockSize(data)
	rest, err := r.read(size - layers.BlockHeaderSize)
	data = append(data, rest...)
	if err != nil {
		r.findings.Add(integrity.KindTruncated, integrity.Warning, r.index, start,
			"Block truncated: %d of %d bytes present", len(data), size)
		return nil, ErrStructure{Offset: start, What: "block truncated", Truncated: true}
	}

	packet := layers.DecodeBlock(data)
	if errLayer := packet.ErrorLayer(); errLayer != nil {
		return nil, r.structural(start, "%s", errLayer.Error())
	}
	bl, ok := packet.Layer(layers.DataBlockLayerType).(*layers.DataBlockLayer)
	if !ok {
		return nil, r.structural(start, "data block layer is missing")
	}
	block := &Block{
		BlockHeader:   bl.BlockHeader,
		Offset:        start,
		CRC:           bl.CRC,
		ChecksumValid: bl.ChecksumValid(),
	}
	r.check(block, bl)

	if sl, ok := packet.Layer(layers.SamplesLayerType).(*layers.SamplesLayer); ok {
		sl.ResolveTimestamps(bl.StartUS)
		block.Samples = sl.Samples
		block.Skipped = sl.Skipped
		r.checkSamples(block, sl)
	} else if bl.SampleCount != 0 {
		r.findings.Add(integrity.KindSampleCount, integrity.Warning, r.index, start,
			"Block %d declares %d samples but has no payload", bl.Sequence, bl.SampleCount)
	}
	r.index++
	return block, nil
}

func (r *Reader) check(block *Block, bl *layers.DataBlockLayer) {
	if !block.ChecksumValid {
		r.findings.Add(integrity.KindChecksumMismatch, integrity.Warning, r.index, block.Offset,
			"Block %d checksum mismatch: stored 0x%08x computed 0x%08x", bl.Sequence, bl.CRC, bl.ComputedCRC())
	}
	if r.header != nil && bl.SessionID != r.header.SessionID {
		r.findings.Add(integrity.KindSessionMismatch, integrity.Warning, r.index, block.Offset,
			"Block %d belongs to session %s", bl.Sequence, bl.SessionID)
	}
	if r.haveSeq && bl.Sequence != r.nextSeq {
		if bl.Sequence < r.nextSeq {
			r.findings.Add(integrity.KindSequenceRepeat, integrity.Warning, r.index, block.Offset,
				"Block sequence went back from %d to %d", r.nextSeq-1, bl.Sequence)
		} else {
			r.findings.Add(integrity.KindSequenceGap, integrity.Warning, r.index, block.Offset,
				"Block sequence gap: expected %d got %d", r.nextSeq, bl.Sequence)
		}
	} else if !r.haveSeq && bl.Sequence != 0 {
		r.findings.Add(integrity.KindSequenceGap, integrity.Warning, r.index, block.Offset,
			"First block has sequence %d instead of 0", bl.Sequence)
	}
	r.haveSeq = true
	r.nextSeq = bl.Sequence + 1
}

func (r *Reader) checkSamples(block *Block, sl *layers.SamplesLayer) {
	if sl.Skipped > 0 {
		r.findings.Add(integrity.KindSampleCount, integrity.Info, r.index, block.Offset,
			"Block %d: skipped %d samples of unknown type", block.Sequence, sl.Skipped)
	}
	if sl.Malformed > 0 {
		r.findings.Add(integrity.KindSampleCount, integrity.Warning, r.index, block.Offset,
			"Block %d: %d samples too short for their type", block.Sequence, sl.Malformed)
	}
	if sl.Overrun {
		r.findings.Add(integrity.KindSampleOverrun, integrity.Warning, r.index, block.Offset,
			"Block %d: sample record overruns payload, %d samples recovered", block.Sequence, len(sl.Samples))
		return
	}
	if n := len(sl.Samples) + sl.Skipped + sl.Malformed; n != int(block.SampleCount) {
		r.findings.Add(integrity.KindSampleCount, integrity.Warning, r.index, block.Offset,
			"Block %d declares %d samples, payload holds %d", block.Sequence, block.SampleCount, n)
	}
}
