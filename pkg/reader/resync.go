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
	"bytes"

	"github.com/openponylogger/go-opl/pkg/integrity"
	"github.com/openponylogger/go-opl/pkg/layers"
)

var dataPrefix = []byte{layers.Magic[0], layers.Magic[1], layers.Magic[2], layers.Magic[3], byte(layers.BlockTypeData)}

// Resync skips forward to the next data block whose checksum validates.
// Only such a block is an unambiguous restart point, otherwise the input is left
// where it was and false is returned.
func (r *Reader) Resync() bool {
	window, _ := r.r.Peek(r.r.Size())
	from := 1
	if len(window) <= from {
		return false
	}
	for {
		i := bytes.Index(window[from:], dataPrefix)
		if i < 0 {
			return false
		}
		at := from + i
		size := layers.BlockSize(window[at:])
		if size > 0 && at+size <= len(window) {
			packet := layers.DecodeBlock(window[at : at+size])
			if bl, ok := packet.Layer(layers.DataBlockLayerType).(*layers.DataBlockLayer); ok && bl.ChecksumValid() {
				start := r.offset
				n, _ := r.r.Discard(at)
				r.offset += int64(n)
				r.findings.Add(integrity.KindStructure, integrity.Warning, r.index, start,
					"Skipped %d unreadable bytes, resumed at block %d", n, bl.Sequence)
				return true
			}
		}
		from = at + 1
	}
}
