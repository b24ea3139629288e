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

// Package timeline reconciles sample timestamps recorded before and after the
// logger clock was set. A timestamp below Epoch2000US counts microseconds since
// boot, anything at or above it counts microseconds since the Unix epoch.
package timeline

import (
	"sort"
	"time"

	"github.com/openponylogger/go-opl/pkg/config"
	"github.com/openponylogger/go-opl/pkg/layers"
)

type Regime uint8

const (
	Monotonic Regime = iota
	Absolute
)

func (r Regime) String() string {
	if r == Absolute {
		return "absolute"
	}
	return "monotonic"
}

func (r Regime) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// Classify tells the regime of a timestamp by its value alone
func Classify(us uint64) Regime {
	if us >= layers.Epoch2000US {
		return Absolute
	}
	return Monotonic
}

// Jump is a discontinuity between two samples adjacent in recorded order
type Jump struct {
	Index  int    `json:"index"`
	FromUS uint64 `json:"from_us"`
	ToUS   uint64 `json:"to_us"`
	// Sync is set when the clock went from monotonic to absolute
	Sync bool `json:"sync"`
}

// Delta returns the signed jump size
func (j Jump) Delta() time.Duration {
	if j.ToUS >= j.FromUS {
		return time.Duration(j.ToUS-j.FromUS) * time.Microsecond
	}
	return -time.Duration(j.FromUS-j.ToUS) * time.Microsecond
}

func (j Jump) Backward() bool {
	return j.ToUS < j.FromUS
}

type Options struct {
	// JumpThreshold is the smallest forward step reported as a jump
	JumpThreshold time.Duration
	// MaxUptime bounds plausible monotonic values, larger ones are ambiguous
	MaxUptime time.Duration
}

func DefaultOptions() Options {
	return Options{
		JumpThreshold: config.DefaultJumpThreshold,
		MaxUptime:     config.DefaultMaxUptime,
	}
}

// WithDefaults replaces zero thresholds, which would turn every step into a jump
func (o Options) WithDefaults() Options {
	if o.JumpThreshold <= 0 {
		o.JumpThreshold = config.DefaultJumpThreshold
	}
	if o.MaxUptime <= 0 {
		o.MaxUptime = config.DefaultMaxUptime
	}
	return o
}

func OptionsFromConfig(cfg *config.AnalyzerConfig) Options {
	opts := DefaultOptions()
	if cfg == nil {
		return opts
	}
	if cfg.JumpThreshold.Duration > 0 {
		opts.JumpThreshold = cfg.JumpThreshold.Duration
	}
	if cfg.MaxUptime.Duration > 0 {
		opts.MaxUptime = cfg.MaxUptime.Duration
	}
	return opts
}

type Stats struct {
	Total     int `json:"total"`
	Monotonic int `json:"monotonic"`
	Absolute  int `json:"absolute"`
	// Ambiguous monotonic values exceed any plausible uptime
	Ambiguous int    `json:"ambiguous"`
	Jumps     []Jump `json:"jumps,omitempty"`
	Backward  int    `json:"backward"`
	// SyncIndex is the first sample recorded after the clock was set, -1 if it never was mid-session
	SyncIndex int `json:"sync_index"`
	Syncs     int `json:"syncs"`

	FirstAbsoluteUS uint64 `json:"first_absolute_us,omitempty"`
	LastAbsoluteUS  uint64 `json:"last_absolute_us,omitempty"`
	FirstUS         uint64 `json:"first_us"`
	LastUS          uint64 `json:"last_us"`
}

// Mixed reports whether both regimes are present
func (s Stats) Mixed() bool {
	return s.Monotonic > 0 && s.Absolute > 0
}

// MonotonicShare returns the fraction of samples recorded before clock sync
func (s Stats) MonotonicShare() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Monotonic) / float64(s.Total)
}

// Duration is the reconciled session span. When both regimes are present only
// the absolute range counts, monotonic values are not comparable with it.
func (s Stats) Duration() time.Duration {
	if s.Absolute > 0 {
		return time.Duration(s.LastAbsoluteUS-s.FirstAbsoluteUS) * time.Microsecond
	}
	return time.Duration(s.LastUS-s.FirstUS) * time.Microsecond
}

// Analyze walks samples in recorded order and collects regime counts and jumps
func Analyze(samples []layers.Sample, opts Options) Stats {
	opts = opts.WithDefaults()
	stats := Stats{Total: len(samples), SyncIndex: -1}
	maxUptime := uint64(opts.MaxUptime / time.Microsecond)
	threshold := uint64(opts.JumpThreshold / time.Microsecond)

	for i := range samples {
		ts := samples[i].TimestampUS
		regime := Classify(ts)
		if regime == Absolute {
			stats.Absolute++
			if stats.FirstAbsoluteUS == 0 || ts < stats.FirstAbsoluteUS {
				stats.FirstAbsoluteUS = ts
			}
			if ts > stats.LastAbsoluteUS {
				stats.LastAbsoluteUS = ts
			}
		} else {
			stats.Monotonic++
			if maxUptime > 0 && ts > maxUptime {
				stats.Ambiguous++
			}
		}
		if i == 0 || ts < stats.FirstUS {
			stats.FirstUS = ts
		}
		if ts > stats.LastUS {
			stats.LastUS = ts
		}
		if i == 0 {
			continue
		}

		prev := samples[i-1].TimestampUS
		jump := Jump{Index: i, FromUS: prev, ToUS: ts}
		switch {
		case Classify(prev) == Monotonic && regime == Absolute:
			jump.Sync = true
			stats.Syncs++
			if stats.SyncIndex < 0 {
				stats.SyncIndex = i
			}
		case ts < prev:
			stats.Backward++
		case ts-prev > threshold:
		default:
			continue
		}
		stats.Jumps = append(stats.Jumps, jump)
	}
	return stats
}

// BackwardJumps returns jumps where time went back
func (s Stats) BackwardJumps() []Jump {
	var out []Jump
	for _, j := range s.Jumps {
		if j.Backward() {
			out = append(out, j)
		}
	}
	return out
}

// DropBeforeSync keeps absolute samples only. Pre-sync data is lost rather than
// plotted against a wall clock it does not belong to.
func DropBeforeSync(samples []layers.Sample) []layers.Sample {
	out := make([]layers.Sample, 0, len(samples))
	for _, s := range samples {
		if Classify(s.TimestampUS) == Absolute {
			out = append(out, s)
		}
	}
	return out
}

// Sorted returns a copy of samples stably ordered by timestamp
func Sorted(samples []layers.Sample) []layers.Sample {
	out := make([]layers.Sample, len(samples))
	copy(out, samples)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].TimestampUS < out[j].TimestampUS
	})
	return out
}

const fallbackSpacingUS = 1000

// PatchJumps returns a copy of samples in timestamp order where every forward step
// larger than threshold is shrunk to the step preceding it, so the timeline continues
// smoothly. A jump before any normal step takes the first normal step of the session. The result is for display and export only: patched timestamps no longer
// tell when a sample was captured. Jumps are reported with original timestamps.
func PatchJumps(samples []layers.Sample, threshold time.Duration) ([]layers.Sample, []Jump) {
	out := Sorted(samples)
	limit := uint64(threshold / time.Microsecond)
	var jumps []Jump
	var offset uint64
	spacing := firstSpacing(out, limit)
	prev := uint64(0)
	for i := range out {
		ts := out[i].TimestampUS
		if i > 0 {
			step := ts - prev
			if step > limit {
				jumps = append(jumps, Jump{
					Index:  i,
					FromUS: prev,
					ToUS:   ts,
					Sync:   Classify(prev) == Monotonic && Classify(ts) == Absolute,
				})
				offset += step - spacing
			} else {
				spacing = step
			}
		}
		prev = ts
		out[i].TimestampUS = ts - offset
	}
	return out, jumps
}

// firstSpacing is the first step not larger than limit, or one millisecond
// when every step is a jump
func firstSpacing(samples []layers.Sample, limit uint64) uint64 {
	for i := 1; i < len(samples); i++ {
		if step := samples[i].TimestampUS - samples[i-1].TimestampUS; step <= limit {
			return step
		}
	}
	return fallbackSpacingUS
}
