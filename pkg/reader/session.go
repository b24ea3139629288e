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
	"io"
	"os"

	"github.com/pkg/errors"

	"github.com/openponylogger/go-opl/pkg/checksum"
	"github.com/openponylogger/go-opl/pkg/integrity"
	"github.com/openponylogger/go-opl/pkg/layers"
	"github.com/openponylogger/go-opl/pkg/log"
)

// Session is everything recovered from one file
type Session struct {
	Name     string                   `json:"name"`
	Header   *layers.SessionHeader    `json:"header"`
	Manifest *layers.HardwareManifest `json:"manifest,omitempty"`
	Blocks   []*Block                 `json:"blocks"`
	Findings integrity.List           `json:"findings"`
	// Ended is true when the session end marker was found
	Ended bool  `json:"ended"`
	Size  int64 `json:"size"`
	// Digest is the SHA-256 of the file, set by ReadFile
	Digest string `json:"digest,omitempty"`
	// Stop is the structural error that ended block iteration early, if any
	Stop error `json:"-"`
}

// Samples returns all samples in recorded order: block by block, then within the block
func (s *Session) Samples() []layers.Sample {
	n := 0
	for _, b := range s.Blocks {
		n += len(b.Samples)
	}
	samples := make([]layers.Sample, 0, n)
	for _, b := range s.Blocks {
		samples = append(samples, b.Samples...)
	}
	return samples
}

// SampleCount returns the number of decoded samples
func (s *Session) SampleCount() int {
	n := 0
	for _, b := range s.Blocks {
		n += len(b.Samples)
	}
	return n
}

// ReadSession decodes a whole session. Only a missing or invalid session header is
// returned as an error, together with a session holding the fatal finding.
// Everything else is reported through Findings.
func ReadSession(in io.Reader) (*Session, error) {
	r := NewReader(in)
	s := &Session{}
	defer func() {
		s.Findings = r.findings
		s.Size = r.offset
	}()

	header, err := r.ReadHeader()
	if err != nil {
		r.findings.Add(integrity.KindMissingHeader, integrity.Fatal, -1, 0, "Missing session header: %s", err)
		return s, err
	}
	s.Header = header

	s.Manifest, err = r.ReadHardwareManifest()
	if err != nil {
		s.Stop = err
		return s, nil
	}

	for {
		block, err := r.ReadBlock()
		if err == nil {
			s.Blocks = append(s.Blocks, block)
			continue
		}
		if err == io.EOF {
			r.findings.Add(integrity.KindMissingSessionEnd, integrity.Info, -1, r.offset,
				"No session end marker, the file was truncated or not closed")
			break
		}
		if err == ErrSessionEnd {
			s.Ended = true
			if n, _ := io.Copy(io.Discard, r.r); n > 0 {
				r.offset += n
				r.findings.Add(integrity.KindTruncated, integrity.Info, -1, r.offset-n, "%d bytes after the session end marker ignored", n)
			}
			break
		}
		var serr ErrStructure
		if errors.As(err, &serr) {
			if !serr.Truncated && r.Resync() {
				continue
			}
			s.Stop = err
			break
		}
		return s, errors.Wrap(err, "read session")
	}
	log.Debug("Session %s decoded: blocks: %d findings: %d", header.SessionID, len(s.Blocks), len(r.findings))
	return s, nil
}

// ReadFile decodes the session stored in path and records its digest
func ReadFile(path string) (*Session, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ReadBytes(path, data)
}

// ReadBytes decodes an in-memory session named name
func ReadBytes(name string, data []byte) (*Session, error) {
	s, err := ReadSession(bytes.NewReader(data))
	if s != nil {
		s.Name = name
		s.Digest = checksum.DigestBytes(data)
	}
	return s, err
}
