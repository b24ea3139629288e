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

package srv

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/openponylogger/go-opl/pkg/catalog"
	"github.com/openponylogger/go-opl/pkg/checksum"
	"github.com/openponylogger/go-opl/pkg/command"
	"github.com/openponylogger/go-opl/pkg/log"
	"github.com/openponylogger/go-opl/pkg/reader"
	"github.com/openponylogger/go-opl/pkg/report"
)

func (s *ApiServer) dataPath(name string) string {
	return filepath.Join(s.Config.ServerConfig.DataDir, name)
}

func (s *ApiServer) analyzerOptions() report.Options {
	return report.OptionsFromConfig(s.Config.AnalyzerConfig)
}

// readSession decodes the session named in the request. A session without a valid
// header is still returned, its report carries the fatal issue.
func (s *ApiServer) readSession(w http.ResponseWriter, r *http.Request) (*reader.Session, bool) {
	name := mux.Vars(r)["name"]
	sess, err := reader.ReadFile(s.dataPath(name))
	if sess == nil {
		if os.IsNotExist(err) {
			http.Error(w, fmt.Sprintf("Session %s not found", name), http.StatusNotFound)
		} else {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
		return nil, false
	}
	if err != nil {
		log.Warning("Session %s: %s", name, err)
	}
	sess.Name = name
	return sess, true
}

func (s *ApiServer) handleSessions() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log.Debug("Handling session list request")
		entries, err := s.catalog.List()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if entries == nil {
			entries = []*catalog.Entry{}
		}
		writeJSON(w, entries)
	}
}

func (s *ApiServer) handleScan() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log.Debug("Handling scan request: dir: %s", s.Config.ServerConfig.DataDir)
		opts := catalog.IndexOptions{Analyzer: s.analyzerOptions()}
		if s.Config.CatalogConfig != nil {
			opts.Workers = s.Config.CatalogConfig.Workers
		}
		opts.Force, _ = strconv.ParseBool(r.FormValue("force"))
		stats, err := s.catalog.Index(r.Context(), s.Config.ServerConfig.DataDir, opts)
		result := command.ScanResult{IndexStats: stats}
		if err != nil {
			result.Error = err.Error()
		}
		writeJSON(w, result)
	}
}

func (s *ApiServer) handleReport() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, ok := s.readSession(w, r)
		if !ok {
			return
		}
		log.Debug("Handling report request: session: %s", sess.Name)
		writeJSON(w, report.Analyze(sess, s.analyzerOptions()))
	}
}

// filtersFromQuery reads drop_before_sync=true and patch_jumps=<duration>
func filtersFromQuery(r *http.Request) (report.Filters, error) {
	var filters report.Filters
	q := r.URL.Query()
	if v := q.Get("drop_before_sync"); v != "" {
		drop, err := strconv.ParseBool(v)
		if err != nil {
			return filters, err
		}
		filters.DropBeforeSync = drop
	}
	if v := q.Get("patch_jumps"); v != "" {
		threshold, err := time.ParseDuration(v)
		if err != nil {
			return filters, err
		}
		filters.PatchJumps = threshold
	}
	return filters, nil
}

func (s *ApiServer) handleCSV() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filters, err := filtersFromQuery(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		sess, ok := s.readSession(w, r)
		if !ok {
			return
		}
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q",
			strings.TrimSuffix(sess.Name, filepath.Ext(sess.Name))+".csv"))
		if _, err := report.ExportCSV(w, sess, filters); err != nil {
			log.Error("CSV export of %s: %s", sess.Name, err)
		}
	}
}

func (s *ApiServer) handleDownload() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := mux.Vars(r)["name"]
		f, err := os.Open(s.dataPath(name))
		if err != nil {
			if os.IsNotExist(err) {
				http.Error(w, fmt.Sprintf("Session %s not found", name), http.StatusNotFound)
				return
			}
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		defer f.Close()
		digest, err := checksum.Digest(f)
		if err == nil {
			_, err = f.Seek(0, io.SeekStart)
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		info, err := f.Stat()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("ETag", strconv.Quote(digest))
		w.Header().Set("Content-Type", "application/octet-stream")
		http.ServeContent(w, r, name, info.ModTime(), f)
	}
}

func (s *ApiServer) handleUpload() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.traccar == nil {
			http.Error(w, "Traccar is not configured", http.StatusServiceUnavailable)
			return
		}
		sess, ok := s.readSession(w, r)
		if !ok {
			return
		}
		log.Debug("Handling upload request: session: %s server: %s", sess.Name, s.traccar.URL)
		if err := s.traccar.TestConnection(r.Context()); err != nil {
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		opts := command.UploadOptionsFromConfig(s.Config.TraccarConfig)
		opts.Realtime = false
		stats, err := s.traccar.Upload(r.Context(), sess.Samples(), opts)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		if err := s.catalog.RecordUpload(sess, s.analyzerOptions(), stats.Sent, time.Now()); err != nil {
			log.Error("Catalog %s: %s", sess.Name, err)
		}
		writeJSON(w, stats)
	}
}
