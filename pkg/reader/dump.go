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

package reader

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/openponylogger/go-opl/pkg/checksum"
	"github.com/openponylogger/go-opl/pkg/layers"
)

// DumpLimit is the number of leading bytes shown by Dump
const DumpLimit = 256

type field struct {
	name   string
	offset int
	size   int
	value  string
}

// headerFields annotates the session header bytes without validating them
func headerFields(data []byte) []field {
	var fields []field
	add := func(name string, offset, size int, value func([]byte) string) bool {
		if offset+size > len(data) {
			fields = append(fields, field{name: name, offset: offset, size: len(data) - offset, value: "(truncated)"})
			return false
		}
		fields = append(fields, field{name: name, offset: offset, size: size, value: value(data[offset : offset+size])})
		return true
	}
	u8 := func(b []byte) string { return fmt.Sprintf("%d", b[0]) }

	ok := add("Magic", 0, 4, func(b []byte) string { return fmt.Sprintf("%q", b) }) &&
		add("Block type", 4, 1, func(b []byte) string { return layers.BlockType(b[0]).String() }) &&
		add("Format version", 5, 2, func(b []byte) string { return fmt.Sprintf("%d.%d", b[0], b[1]) }) &&
		add("Hardware version", 7, 2, func(b []byte) string { return fmt.Sprintf("%d.%d", b[0], b[1]) }) &&
		add("Timestamp us", 9, 8, func(b []byte) string { return fmt.Sprintf("%d", binary.LittleEndian.Uint64(b)) }) &&
		add("Session id", 17, 16, func(b []byte) string { return uuid.UUID(b).String() })
	if !ok {
		return fields
	}
	pos := layers.SessionHeaderFixedSize
	for _, name := range []string{"Session name", "Driver name", "Vehicle id"} {
		if !add(name+" length", pos, 1, u8) {
			return fields
		}
		n := int(data[pos])
		if !add(name, pos+1, n, func(b []byte) string { return fmt.Sprintf("%q", b) }) {
			return fields
		}
		pos += 1 + n
	}
	if pos >= len(data) || data[pos] >= layers.WeatherCodeBound {
		fields = append(fields, field{name: "Weather tail", offset: pos, value: "absent (older format)"})
		return fields
	}
	_ = add("Weather", pos, 1, func(b []byte) string { return layers.Weather(b[0]).String() }) &&
		add("Temperature", pos+1, 2, func(b []byte) string {
			return fmt.Sprintf("%.1f C", float64(int16(binary.LittleEndian.Uint16(b)))/10)
		}) &&
		add("Config CRC", pos+3, 4, func(b []byte) string { return fmt.Sprintf("0x%08x", binary.LittleEndian.Uint32(b)) }) &&
		add("Header CRC", pos+7, 4, func(b []byte) string {
			stored := binary.LittleEndian.Uint32(b)
			computed := checksum.CRC32(data[:pos+7])
			if stored == computed {
				return fmt.Sprintf("0x%08x (ok)", stored)
			}
			return fmt.Sprintf("0x%08x (computed 0x%08x)", stored, computed)
		})
	return fields
}

// Dump prints the session header field by field followed by a hex dump of the
// first DumpLimit bytes
func Dump(w io.Writer, in io.Reader) error {
	data := make([]byte, DumpLimit)
	n, err := io.ReadFull(in, data)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return err
	}
	data = data[:n]

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle("Session header")
	t.AppendHeader(table.Row{"Offset", "Size", "Field", "Hex", "Value"})
	for _, f := range headerFields(data) {
		raw := ""
		if f.size > 0 {
			raw = hex.EncodeToString(data[f.offset : f.offset+f.size])
			if len(raw) > 32 {
				raw = raw[:32] + "..."
			}
		}
		t.AppendRow(table.Row{fmt.Sprintf("0x%04x", f.offset), f.size, f.name, raw, f.value})
	}
	t.Render()

	_, err = fmt.Fprintf(w, "\nFirst %d bytes:\n%s", n, hex.Dump(data))
	return err
}
