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

// Package report turns a decoded session into statistics and an itemized list
// of integrity issues.
package report

import (
	"math"
	"sort"
	"time"

	geo "github.com/kellydunn/golang-geo"
	"github.com/montanaflynn/stats"

	"github.com/openponylogger/go-opl/pkg/config"
	"github.com/openponylogger/go-opl/pkg/integrity"
	"github.com/openponylogger/go-opl/pkg/layers"
	"github.com/openponylogger/go-opl/pkg/reader"
	"github.com/openponylogger/go-opl/pkg/timeline"
)

type Options struct {
	GapThreshold      time.Duration
	LargeGapThreshold time.Duration
	// MixedSourceRatio is the monotonic share above which mixed time sources become a warning
	MixedSourceRatio float64
	Timeline         timeline.Options
}

func DefaultOptions() Options {
	return Options{
		GapThreshold:      config.DefaultGapThreshold,
		LargeGapThreshold: config.DefaultLargeGapThreshold,
		MixedSourceRatio:  config.DefaultMixedSourceRatio,
		Timeline:          timeline.DefaultOptions(),
	}
}

func (o *Options) setDefaults() {
	if o.GapThreshold <= 0 {
		o.GapThreshold = config.DefaultGapThreshold
	}
	if o.LargeGapThreshold <= 0 {
		o.LargeGapThreshold = config.DefaultLargeGapThreshold
	}
	if o.MixedSourceRatio <= 0 {
		o.MixedSourceRatio = config.DefaultMixedSourceRatio
	}
	o.Timeline = o.Timeline.WithDefaults()
}

func OptionsFromConfig(cfg *config.AnalyzerConfig) Options {
	opts := DefaultOptions()
	if cfg == nil {
		return opts
	}
	if cfg.GapThreshold.Duration > 0 {
		opts.GapThreshold = cfg.GapThreshold.Duration
	}
	if cfg.LargeGapThreshold.Duration > 0 {
		opts.LargeGapThreshold = cfg.LargeGapThreshold.Duration
	}
	if cfg.MixedSourceRatio > 0 {
		opts.MixedSourceRatio = cfg.MixedSourceRatio
	}
	opts.Timeline = timeline.OptionsFromConfig(cfg)
	return opts
}

type TypeStats struct {
	Type  layers.SampleType `json:"type"`
	Count int               `json:"count"`
	// Rate is samples per second over the reconciled duration
	Rate float64 `json:"rate"`
}

// Gap is a pause between two chronologically adjacent samples of the same time regime
type Gap struct {
	Index    int           `json:"index"`
	AtUS     uint64        `json:"at_us"`
	Duration time.Duration `json:"duration"`
}

// Intervals describes accelerometer sample spacing in milliseconds
type Intervals struct {
	Mean   float64 `json:"mean_ms"`
	Median float64 `json:"median_ms"`
	StdDev float64 `json:"stddev_ms"`
	Min    float64 `json:"min_ms"`
	Max    float64 `json:"max_ms"`
	P95    float64 `json:"p95_ms"`
}

type Track struct {
	Fixes      int     `json:"fixes"`
	DistanceKm float64 `json:"distance_km"`
	// speeds in mph
	MaxSpeed  float64 `json:"max_speed"`
	MeanSpeed float64 `json:"mean_speed"`
	P95Speed  float64 `json:"p95_speed"`
}

type BlockSummary struct {
	Sequence      uint32            `json:"sequence"`
	Samples       int               `json:"samples"`
	StartUS       uint64            `json:"start_us"`
	EndUS         uint64            `json:"end_us"`
	Flags         layers.FlushFlags `json:"flags"`
	ChecksumValid bool              `json:"checksum_valid"`
}

type Report struct {
	Name     string                   `json:"name"`
	Size     int64                    `json:"size"`
	Digest   string                   `json:"digest,omitempty"`
	Header   *layers.SessionHeader    `json:"header"`
	Manifest *layers.HardwareManifest `json:"manifest,omitempty"`
	Ended    bool                     `json:"ended"`

	Blocks    []BlockSummary `json:"blocks"`
	Samples   int            `json:"samples"`
	Types     []TypeStats    `json:"types"`
	Duration  time.Duration  `json:"duration"`
	Timeline  timeline.Stats `json:"timeline"`
	Gaps      []Gap          `json:"gaps,omitempty"`
	LargeGaps int            `json:"large_gaps"`
	Intervals *Intervals     `json:"intervals,omitempty"`
	Track     *Track         `json:"track,omitempty"`

	Issues integrity.List `json:"issues"`
}

// OK is true when no issue is worse than informational
func (r *Report) OK() bool {
	return r.Issues.Worst() <= integrity.Info
}

// Count returns the number of samples of type t
func (r *Report) Count(t layers.SampleType) int {
	for _, ts := range r.Types {
		if ts.Type == t {
			return ts.Count
		}
	}
	return 0
}

// Analyze computes statistics and issues for a session. Decoder findings are
// carried over unchanged and never dropped.
func Analyze(s *reader.Session, opts Options) *Report {
	opts.setDefaults()
	r := &Report{
		Name:     s.Name,
		Size:     s.Size,
		Digest:   s.Digest,
		Header:   s.Header,
		Manifest: s.Manifest,
		Ended:    s.Ended,
		Issues:   append(integrity.List{}, s.Findings...),
	}
	if s.Header == nil {
		if r.Issues.Count(integrity.KindMissingHeader) == 0 {
			r.Issues.Add(integrity.KindMissingHeader, integrity.Fatal, -1, 0, "Missing session header")
		}
		return r
	}
	for _, b := range s.Blocks {
		r.Blocks = append(r.Blocks, BlockSummary{
			Sequence:      b.Sequence,
			Samples:       len(b.Samples),
			StartUS:       b.StartUS,
			EndUS:         b.EndUS,
			Flags:         b.Flags,
			ChecksumValid: b.ChecksumValid,
		})
	}
	if len(s.Blocks) == 0 {
		r.Issues.Add(integrity.KindNoBlocks, integrity.Warning, -1, -1, "No data blocks found")
	}

	samples := s.Samples()
	r.Samples = len(samples)
	r.Timeline = timeline.Analyze(samples, opts.Timeline)
	r.Duration = r.Timeline.Duration()
	r.Types = typeStats(samples, r.Duration)

	sorted := timeline.Sorted(samples)
	r.Gaps = findGaps(sorted, opts.GapThreshold)
	r.Intervals = intervals(sorted)
	r.Track = track(sorted)

	r.timelineIssues(opts)
	for _, g := range r.Gaps {
		if g.Duration > opts.LargeGapThreshold {
			r.LargeGaps++
			r.Issues.Add(integrity.KindLargeGap, integrity.Warning, -1, -1,
				"Data gap of %.1fs at sample %d", g.Duration.Seconds(), g.Index)
		}
	}
	return r
}

func (r *Report) timelineIssues(opts Options) {
	ts := r.Timeline
	for _, j := range ts.BackwardJumps() {
		r.Issues.Add(integrity.KindBackwardJump, integrity.Warning, -1, -1,
			"Time went back by %s at sample %d (%d -> %d)", -j.Delta(), j.Index, j.FromUS, j.ToUS)
	}
	if ts.Syncs > 0 {
		r.Issues.Add(integrity.KindClockSync, integrity.Info, -1, -1,
			"Clock set mid-session at sample %d, %d sync point(s)", ts.SyncIndex, ts.Syncs)
	}
	if ts.Mixed() {
		severity := integrity.Info
		if ts.MonotonicShare() > opts.MixedSourceRatio {
			severity = integrity.Warning
		}
		r.Issues.Add(integrity.KindMixedSources, severity, -1, -1,
			"Mixed time sources: %d monotonic, %d absolute samples", ts.Monotonic, ts.Absolute)
	}
	if ts.Ambiguous > 0 {
		r.Issues.Add(integrity.KindMixedSources, integrity.Warning, -1, -1,
			"%d timestamps are neither plausible uptime nor wall clock", ts.Ambiguous)
	}
}

func typeStats(samples []layers.Sample, duration time.Duration) []TypeStats {
	counts := map[layers.SampleType]int{}
	for i := range samples {
		counts[samples[i].Type]++
	}
	out := make([]TypeStats, 0, len(counts))
	for t, n := range counts {
		ts := TypeStats{Type: t, Count: n}
		if duration > 0 {
			ts.Rate = float64(n) / duration.Seconds()
		}
		out = append(out, ts)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out
}

// findGaps expects samples in timestamp order. Steps across time regimes are
// clock changes, not gaps.
func findGaps(sorted []layers.Sample, threshold time.Duration) []Gap {
	var gaps []Gap
	limit := uint64(threshold / time.Microsecond)
	for i := 1; i < len(sorted); i++ {
		prev, cur := sorted[i-1].TimestampUS, sorted[i].TimestampUS
		if timeline.Classify(prev) != timeline.Classify(cur) {
			continue
		}
		if cur-prev > limit {
			gaps = append(gaps, Gap{Index: i, AtUS: prev, Duration: time.Duration(cur-prev) * time.Microsecond})
		}
	}
	return gaps
}

// percentile falls back to the maximum for samples too small to interpolate,
// where stats.Percentile returns NaN
func percentile(data stats.Float64Data, p float64) float64 {
	v, err := stats.Percentile(data, p)
	if err != nil || math.IsNaN(v) {
		v, _ = stats.Max(data)
	}
	return v
}

func intervals(sorted []layers.Sample) *Intervals {
	var data stats.Float64Data
	var prev uint64
	for i := range sorted {
		if sorted[i].Type != layers.SampleAccel {
			continue
		}
		ts := sorted[i].TimestampUS
		if prev != 0 && timeline.Classify(prev) == timeline.Classify(ts) {
			data = append(data, float64(ts-prev)/1000)
		}
		prev = ts
	}
	if len(data) == 0 {
		return nil
	}
	iv := &Intervals{}
	iv.Mean, _ = stats.Mean(data)
	iv.Median, _ = stats.Median(data)
	iv.StdDev, _ = stats.StandardDeviation(data)
	iv.Min, _ = stats.Min(data)
	iv.Max, _ = stats.Max(data)
	iv.P95 = percentile(data, 95)
	return iv
}

// track sums great circle distance over fixes that have a position
func track(sorted []layers.Sample) *Track {
	var speeds stats.Float64Data
	var last *geo.Point
	t := &Track{}
	for i := range sorted {
		fix := sorted[i].Fix
		if fix == nil || (fix.Latitude == 0 && fix.Longitude == 0) {
			continue
		}
		t.Fixes++
		speeds = append(speeds, float64(fix.Speed))
		p := geo.NewPoint(fix.Latitude, fix.Longitude)
		if last != nil {
			t.DistanceKm += last.GreatCircleDistance(p)
		}
		last = p
	}
	if t.Fixes == 0 {
		return nil
	}
	t.MaxSpeed, _ = stats.Max(speeds)
	t.MeanSpeed, _ = stats.Mean(speeds)
	t.P95Speed = percentile(speeds, 95)
	return t
}
