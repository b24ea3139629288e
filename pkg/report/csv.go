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

package report

import (
	"fmt"
	"io"
	"time"

	"github.com/openponylogger/go-opl/pkg/export"
	"github.com/openponylogger/go-opl/pkg/reader"
	"github.com/openponylogger/go-opl/pkg/timeline"
)

// Filters are timestamp transforms applied before export
type Filters struct {
	DropBeforeSync bool
	// PatchJumps enables jump patching with this threshold when positive.
	// Patched timestamps are for display only.
	PatchJumps time.Duration
}

// Describe lists the applied filters for the export comment header
func (f Filters) Describe() []string {
	var out []string
	if f.DropBeforeSync {
		out = append(out, "dropped samples recorded before clock sync")
	}
	if f.PatchJumps > 0 {
		out = append(out, fmt.Sprintf("patched time jumps over %s (timestamps adjusted)", f.PatchJumps))
	}
	return out
}

// ExportCSV writes the session as companion CSV, one row per sample ordered by
// timestamp, and returns the number of rows
func ExportCSV(w io.Writer, s *reader.Session, filters Filters) (int, error) {
	samples := s.Samples()
	if filters.DropBeforeSync {
		samples = timeline.DropBeforeSync(samples)
	}
	if filters.PatchJumps > 0 {
		samples, _ = timeline.PatchJumps(samples, filters.PatchJumps)
	} else {
		samples = timeline.Sorted(samples)
	}

	if err := export.WriteComments(w, s.Header, s.Manifest, filters.Describe()); err != nil {
		return 0, err
	}
	cw := export.NewWriter(w)
	if err := cw.WriteHeader(); err != nil {
		return 0, err
	}
	for i := range samples {
		if err := cw.WriteSample(&samples[i]); err != nil {
			return i, err
		}
	}
	return len(samples), cw.Flush()
}
