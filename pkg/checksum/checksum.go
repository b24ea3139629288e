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

// Package checksum holds the integrity primitives of the OPL format: CRC32 for
// headers and blocks, SHA-256 for whole-session validation.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
	"hash/crc32"
	"io"

	"github.com/pkg/errors"
)

// CRC32 returns the CRC-32/IEEE sum of data (reflected polynomial 0xEDB88320).
func CRC32(data []byte) uint32 {
	return crc32.ChecksumIEEE(data)
}

// Verify reports whether data sums to want.
func Verify(data []byte, want uint32) bool {
	return CRC32(data) == want
}

// Digest returns the hex encoded SHA-256 of everything read from r.
func Digest(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", errors.Wrap(err, "digest")
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// DigestBytes is Digest over an in-memory session.
func DigestBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
