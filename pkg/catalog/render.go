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

package catalog

import (
	"io"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/openponylogger/go-opl/pkg/export"
	"github.com/openponylogger/go-opl/pkg/report"
)

// Render prints entries as a table
func Render(w io.Writer, entries []*Entry) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle("Sessions")
	t.AppendHeader(table.Row{"File", "Session", "Driver", "Date", "Duration", "Samples", "GPS", "Problems", "Uploaded"})
	for _, e := range entries {
		uploaded := "no"
		if e.Uploaded {
			uploaded = "yes"
			if e.UploadedAt != nil {
				uploaded = e.UploadedAt.Format("2006-01-02 15:04")
			}
		}
		date := ""
		if e.SessionID != "" {
			date = export.FormatDate(e.StartUS)
		}
		t.AppendRow(table.Row{e.Name, e.SessionName, e.Driver, date, report.FormatDuration(e.Duration),
			e.Samples, e.GPSFixes, e.Problems, uploaded})
	}
	t.AppendFooter(table.Row{"", "", "", "", "", "", "", "Total", len(entries)})
	t.Render()
}
