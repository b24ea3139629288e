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

package command

import (
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/imroc/req"

	"github.com/openponylogger/go-opl/pkg/catalog"
	"github.com/openponylogger/go-opl/pkg/config"
	"github.com/openponylogger/go-opl/pkg/report"
)

// ApiClient talks to a running go-opl API server
type ApiClient struct {
	*config.Config
	ApiPrefix string
}

// ScanResult is the body of a scan response. Error holds the combined failures of individual files.
type ScanResult struct {
	catalog.IndexStats
	Error string `json:"error,omitempty"`
}

func NewApiClient(cfg *config.Config) *ApiClient {
	return &ApiClient{
		Config:    cfg,
		ApiPrefix: fmt.Sprintf("http://%s:%d/api", cfg.ServerConfig.Address, cfg.ServerConfig.Port),
	}
}

func (c *ApiClient) sessionUrl(name, action string) string {
	if action == "" {
		return fmt.Sprintf("%s/sessions/%s", c.ApiPrefix, name)
	}
	return fmt.Sprintf("%s/sessions/%s/%s", c.ApiPrefix, name, action)
}

func checkStatus(r *req.Resp) error {
	if r.Response().StatusCode != http.StatusOK {
		return ErrStatus{URL: r.Request().URL.String(), Status: r.Response().Status}
	}
	return nil
}

// Sessions sends request to list cataloged sessions
func (c *ApiClient) Sessions() ([]*catalog.Entry, error) {
	r, err := req.Get(fmt.Sprintf("%s/sessions", c.ApiPrefix))
	if err != nil {
		return nil, err
	}
	if err := checkStatus(r); err != nil {
		return nil, err
	}
	var entries []*catalog.Entry
	if err := r.ToJSON(&entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// Scan sends request to index the server data directory
func (c *ApiClient) Scan(force bool) (*ScanResult, error) {
	r, err := req.Post(fmt.Sprintf("%s/sessions/scan?force=%s", c.ApiPrefix, strconv.FormatBool(force)))
	if err != nil {
		return nil, err
	}
	if err := checkStatus(r); err != nil {
		return nil, err
	}
	result := &ScanResult{}
	if err := r.ToJSON(result); err != nil {
		return nil, err
	}
	return result, nil
}

// Report sends request to analyze a session
func (c *ApiClient) Report(name string) (*report.Report, error) {
	r, err := req.Get(c.sessionUrl(name, ""))
	if err != nil {
		return nil, err
	}
	if err := checkStatus(r); err != nil {
		return nil, err
	}
	rep := &report.Report{}
	if err := r.ToJSON(rep); err != nil {
		return nil, err
	}
	return rep, nil
}

// Export sends request to export a session as CSV and copies it to w
func (c *ApiClient) Export(name string, filters report.Filters, w io.Writer) error {
	param := req.Param{}
	if filters.DropBeforeSync {
		param["drop_before_sync"] = "true"
	}
	if filters.PatchJumps > 0 {
		param["patch_jumps"] = filters.PatchJumps.String()
	}
	r, err := req.Get(c.sessionUrl(name, "csv"), param)
	if err != nil {
		return err
	}
	if err := checkStatus(r); err != nil {
		return err
	}
	_, err = w.Write(r.Bytes())
	return err
}

// Upload sends request to upload session positions to Traccar
func (c *ApiClient) Upload(name string) (*UploadStats, error) {
	r, err := req.Post(c.sessionUrl(name, "upload"))
	if err != nil {
		return nil, err
	}
	if err := checkStatus(r); err != nil {
		return nil, err
	}
	stats := &UploadStats{}
	if err := r.ToJSON(stats); err != nil {
		return nil, err
	}
	return stats, nil
}
