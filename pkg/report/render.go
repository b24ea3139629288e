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
	"path/filepath"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/openponylogger/go-opl/pkg/export"
	"github.com/openponylogger/go-opl/pkg/integrity"
	"github.com/openponylogger/go-opl/pkg/layers"
	"github.com/openponylogger/go-opl/pkg/timeline"
)

// Sections selects the parts printed by Render
type Sections struct {
	Session   bool
	Hardware  bool
	Summary   bool
	Integrity bool
	// Detailed adds time jumps and the block list
	Detailed bool
}

func DefaultSections() Sections {
	return Sections{Session: true, Hardware: true, Summary: true, Integrity: true}
}

const (
	maxListedGaps   = 5
	maxListedBlocks = 10
)

func newTable(w io.Writer, title string) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle(title)
	return t
}

// FormatDuration renders d as [h:]mm:ss
func FormatDuration(d time.Duration) string {
	sec := int64(d / time.Second)
	if sec >= 3600 {
		return fmt.Sprintf("%d:%02d:%02d", sec/3600, sec%3600/60, sec%60)
	}
	return fmt.Sprintf("%02d:%02d", sec/60, sec%60)
}

// Render prints the selected sections of a report
func Render(w io.Writer, r *Report, sections Sections) {
	if sections.Session {
		renderSession(w, r)
	}
	if sections.Hardware && r.Header != nil {
		renderHardware(w, r)
	}
	if sections.Summary && r.Header != nil {
		renderSummary(w, r)
	}
	if sections.Integrity {
		renderIssues(w, r.Issues)
	}
	if sections.Detailed && r.Header != nil {
		renderDetails(w, r)
	}
}

func renderSession(w io.Writer, r *Report) {
	t := newTable(w, "Session header")
	h := r.Header
	if h == nil {
		t.AppendRow(table.Row{"No session header found"})
		t.Render()
		return
	}
	t.AppendRows([]table.Row{
		{"Session name", h.SessionName},
		{"Driver", h.DriverName},
		{"Vehicle", h.VehicleID},
		{"Timestamp", export.FormatDate(h.TimestampUS)},
		{"Weather", h.Weather},
		{"Temperature", fmt.Sprintf("%.1f°C", h.Temperature())},
		{"Format version", h.FormatVersion},
		{"Hardware", h.HardwareVersion},
		{"Session ID", h.SessionID},
		{"Config CRC", fmt.Sprintf("0x%08x", h.ConfigCRC)},
	})
	t.Render()
}

func renderHardware(w io.Writer, r *Report) {
	t := newTable(w, "Hardware configuration")
	if r.Manifest == nil || len(r.Manifest.Items) == 0 {
		t.AppendRow(table.Row{"No hardware configuration in file"})
		t.Render()
		return
	}
	t.AppendHeader(table.Row{"Type", "Connection", "Identifier"})
	for _, item := range r.Manifest.Items {
		t.AppendRow(table.Row{item.Type, item.Connection, item.Identifier})
	}
	t.Render()
}

func renderSummary(w io.Writer, r *Report) {
	t := newTable(w, "Data summary")
	t.AppendHeader(table.Row{"Type", "Samples", "Rate"})
	for _, ts := range r.Types {
		t.AppendRow(table.Row{ts.Type, ts.Count, fmt.Sprintf("%.1f Hz", ts.Rate)})
	}
	t.AppendFooter(table.Row{"Total", r.Samples, ""})
	t.Render()

	tl := r.Timeline
	t = newTable(w, "Time")
	if tl.Absolute > 0 {
		t.AppendRows([]table.Row{
			{"Start", export.FormatDate(tl.FirstAbsoluteUS)},
			{"End", export.FormatDate(tl.LastAbsoluteUS)},
		})
	} else if tl.Total > 0 {
		t.AppendRows([]table.Row{
			{"Start", fmt.Sprintf("%d us (monotonic, clock not set)", tl.FirstUS)},
			{"End", fmt.Sprintf("%d us (monotonic)", tl.LastUS)},
		})
	}
	t.AppendRow(table.Row{"Duration", FormatDuration(r.Duration)})
	if tl.Mixed() {
		t.AppendRows([]table.Row{
			{"Monotonic", fmt.Sprintf("%d samples (%.1f%%)", tl.Monotonic, 100*tl.MonotonicShare())},
			{"Absolute", fmt.Sprintf("%d samples (%.1f%%)", tl.Absolute, 100*(1-tl.MonotonicShare()))},
		})
	}
	if tl.Ambiguous > 0 {
		t.AppendRow(table.Row{"Ambiguous", fmt.Sprintf("%d samples", tl.Ambiguous)})
	}
	if iv := r.Intervals; iv != nil {
		t.AppendRow(table.Row{"Accel interval", fmt.Sprintf("mean %.1f ms, median %.1f ms, p95 %.1f ms, max %.1f ms", iv.Mean, iv.Median, iv.P95, iv.Max)})
	}
	if tr := r.Track; tr != nil {
		t.AppendRow(table.Row{"GPS track", fmt.Sprintf("%d fixes, %.2f km, max %.1f mph", tr.Fixes, tr.DistanceKm, tr.MaxSpeed)})
	}
	t.AppendRow(table.Row{"Data gaps", fmt.Sprintf("%d gap(s) longer than threshold", len(r.Gaps))})
	for i, g := range r.Gaps {
		if i == maxListedGaps {
			t.AppendRow(table.Row{"", fmt.Sprintf("... and %d more", len(r.Gaps)-maxListedGaps)})
			break
		}
		t.AppendRow(table.Row{"", fmt.Sprintf("%.1fs at sample %d", g.Duration.Seconds(), g.Index)})
	}
	t.AppendRow(table.Row{"Data blocks", len(r.Blocks)})
	if len(r.Blocks) > 0 {
		t.AppendRow(table.Row{"Average size", fmt.Sprintf("%.1f samples/block", float64(r.Samples)/float64(len(r.Blocks)))})
	}
	t.Render()
}

func renderIssues(w io.Writer, issues integrity.List) {
	t := newTable(w, "Integrity check")
	if len(issues) == 0 {
		t.AppendRow(table.Row{"No issues found"})
		t.Render()
		return
	}
	t.AppendHeader(table.Row{"#", "Severity", "Kind", "Block", "Message"})
	for i, f := range issues {
		block := ""
		if f.Block >= 0 {
			block = fmt.Sprintf("%d", f.Block)
		}
		t.AppendRow(table.Row{i + 1, f.Severity, f.Kind, block, f.Message})
	}
	t.Render()
}

func renderDetails(w io.Writer, r *Report) {
	t := newTable(w, fmt.Sprintf("Time jumps: %d", len(r.Timeline.Jumps)))
	t.AppendHeader(table.Row{"Sample", "From us", "To us", "Difference", "Kind"})
	for _, j := range r.Timeline.Jumps {
		t.AppendRow(table.Row{j.Index, j.FromUS, j.ToUS, fmt.Sprintf("%.1fs", j.Delta().Seconds()), jumpKind(j)})
	}
	t.Render()

	t = newTable(w, fmt.Sprintf("Data blocks: %d", len(r.Blocks)))
	t.AppendHeader(table.Row{"Block", "Samples", "Start", "Flags", "CRC"})
	for i, b := range r.Blocks {
		if i == maxListedBlocks {
			t.AppendRow(table.Row{"...", fmt.Sprintf("%d more", len(r.Blocks)-maxListedBlocks)})
			break
		}
		crc := "ok"
		if !b.ChecksumValid {
			crc = "mismatch"
		}
		t.AppendRow(table.Row{b.Sequence, b.Samples, b.StartUS, b.Flags, crc})
	}
	t.Render()
}

func jumpKind(j timeline.Jump) string {
	switch {
	case j.Sync:
		return "clock sync"
	case j.Backward():
		return "backward"
	}
	return "forward"
}

// Brief prints a single summary line
func Brief(w io.Writer, r *Report) {
	name := filepath.Base(r.Name)
	if r.Header == nil {
		fmt.Fprintf(w, "%-30s ERROR: %s\n", name, firstMessage(r.Issues))
		return
	}
	status := "OK"
	if n := len(r.Issues.Problems()); n > 0 {
		status = fmt.Sprintf("!%d", n)
	}
	fmt.Fprintf(w, "%-30s %8d samples  %8s  A:%6d G:%5d  %s\n", name, r.Samples, FormatDuration(r.Duration),
		r.Count(layers.SampleAccel), r.Count(layers.SampleGPSFix), status)
}

// BriefHeader prints the column titles for Brief lines
func BriefHeader(w io.Writer) {
	fmt.Fprintf(w, "%-30s %8s %-9s %8s  %-16s %s\n", "File", "Samples", "", "Duration", "Types", "Status")
	fmt.Fprintln(w, strings.Repeat("-", 80))
}

// Verify prints problems only and reports whether the session passed
func Verify(w io.Writer, r *Report) bool {
	problems := r.Issues.Problems()
	if len(problems) == 0 {
		return true
	}
	fmt.Fprintf(w, "%s:\n", r.Name)
	for _, f := range problems {
		fmt.Fprintf(w, "  %s\n", f)
	}
	return false
}

func firstMessage(l integrity.List) string {
	if len(l) == 0 {
		return "could not read file"
	}
	return l[0].Message
}
