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

// Package integrity defines the non-fatal diagnostics produced while decoding
// and analyzing a session.
package integrity

import (
	"fmt"
)

type Severity int

const (
	Info Severity = iota
	Warning
	Fatal
)

func (s Severity) String() string {
	switch s {
	case Info:
		return "info"
	case Warning:
		return "warning"
	case Fatal:
		return "fatal"
	}
	return fmt.Sprintf("severity(%d)", int(s))
}

// MarshalText lets findings serialize with readable severities
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Severity) UnmarshalText(text []byte) error {
	for _, v := range []Severity{Info, Warning, Fatal} {
		if v.String() == string(text) {
			*s = v
			return nil
		}
	}
	return fmt.Errorf("Unknown severity %q", text)
}

type Kind string

const (
	KindMissingHeader     Kind = "missing_header"
	KindHeaderChecksum    Kind = "header_checksum"
	KindManifestChecksum  Kind = "manifest_checksum"
	KindChecksumMismatch  Kind = "checksum_mismatch"
	KindSequenceGap       Kind = "sequence_gap"
	KindSequenceRepeat    Kind = "sequence_repeat"
	KindSessionMismatch   Kind = "session_mismatch"
	KindSampleCount       Kind = "sample_count"
	KindSampleOverrun     Kind = "sample_overrun"
	KindTruncated         Kind = "truncated"
	KindStructure         Kind = "structure"
	KindMissingSessionEnd Kind = "missing_session_end"
	KindNoBlocks          Kind = "no_blocks"
	KindBackwardJump      Kind = "backward_jump"
	KindClockSync         Kind = "clock_sync"
	KindMixedSources      Kind = "mixed_sources"
	KindLargeGap          Kind = "large_gap"
)

// Finding is a single itemized problem. Block is -1 when the finding is not tied to a data block.
type Finding struct {
	Kind     Kind     `json:"kind"`
	Severity Severity `json:"severity"`
	Block    int64    `json:"block"`
	Offset   int64    `json:"offset"`
	Message  string   `json:"message"`
}

func (f Finding) String() string {
	if f.Block >= 0 {
		return fmt.Sprintf("[%s] block %d (offset %d): %s", f.Severity, f.Block, f.Offset, f.Message)
	}
	return fmt.Sprintf("[%s] %s", f.Severity, f.Message)
}

// List accumulates findings in the order they were observed
type List []Finding

func (l *List) Add(kind Kind, severity Severity, block, offset int64, format string, v ...interface{}) {
	*l = append(*l, Finding{
		Kind:     kind,
		Severity: severity,
		Block:    block,
		Offset:   offset,
		Message:  fmt.Sprintf(format, v...),
	})
}

// Count returns the number of findings of the given kind
func (l List) Count(kind Kind) int {
	n := 0
	for _, f := range l {
		if f.Kind == kind {
			n++
		}
	}
	return n
}

// Worst returns the highest severity in the list, Info for an empty list
func (l List) Worst() Severity {
	worst := Info
	for _, f := range l {
		if f.Severity > worst {
			worst = f.Severity
		}
	}
	return worst
}

// Problems returns findings that are not informational
func (l List) Problems() List {
	var out List
	for _, f := range l {
		if f.Severity > Info {
			out = append(out, f)
		}
	}
	return out
}
