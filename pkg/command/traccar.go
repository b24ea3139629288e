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
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/imroc/req"

	"github.com/openponylogger/go-opl/pkg/config"
	"github.com/openponylogger/go-opl/pkg/layers"
	"github.com/openponylogger/go-opl/pkg/log"
	"github.com/openponylogger/go-opl/pkg/timeline"
)

const (
	// KnotsPerMph converts logged GPS speed to the unit OsmAnd expects
	KnotsPerMph = 0.868976
	// MaxPlaybackDelay caps the pause between two positions during realtime playback
	MaxPlaybackDelay = 10 * time.Second
)

// TraccarClient sends positions to a Traccar server over the OsmAnd protocol
type TraccarClient struct {
	URL      string
	DeviceID string
	r        *req.Req
}

func NewTraccarClient(cfg *config.TraccarConfig) *TraccarClient {
	scheme := "http"
	if cfg.HTTPS {
		scheme = "https"
	}
	r := req.New()
	timeout := cfg.Timeout.Duration
	if timeout <= 0 {
		timeout = config.DefaultTraccarTimeout
	}
	r.SetTimeout(timeout)
	return &TraccarClient{
		URL:      fmt.Sprintf("%s://%s:%d/", scheme, cfg.Server, cfg.Port),
		DeviceID: cfg.DeviceID,
		r:        r,
	}
}

// TestConnection succeeds when the server answers at all, whatever the status
func (c *TraccarClient) TestConnection(ctx context.Context) error {
	r, err := c.r.Get(c.URL, ctx)
	if err != nil {
		return err
	}
	log.Debug("Traccar server %s answered: %s", c.URL, r.Response().Status)
	return nil
}

// Params returns the OsmAnd query for one GPS fix
func (c *TraccarClient) Params(s *layers.Sample) req.Param {
	fix := s.Fix
	return req.Param{
		"id":        c.DeviceID,
		"timestamp": s.TimestampUS / 1_000_000,
		"lat":       fmt.Sprintf("%.8f", fix.Latitude),
		"lon":       fmt.Sprintf("%.8f", fix.Longitude),
		"altitude":  fmt.Sprintf("%.2f", fix.Altitude),
		"speed":     fmt.Sprintf("%.2f", float64(fix.Speed)*KnotsPerMph),
		"bearing":   fmt.Sprintf("%.2f", fix.Heading),
		"hdop":      fmt.Sprintf("%.2f", fix.HDOP),
	}
}

// Send uploads one GPS fix sample
func (c *TraccarClient) Send(ctx context.Context, s *layers.Sample) error {
	r, err := c.r.Get(c.URL, c.Params(s), ctx)
	if err != nil {
		return err
	}
	if r.Response().StatusCode != http.StatusOK {
		return ErrStatus{URL: c.URL, Status: r.Response().Status}
	}
	return nil
}

type UploadOptions struct {
	// Realtime replays positions with their recorded spacing divided by Speedup
	Realtime  bool
	Speedup   float64
	BatchSize int
	Clock     clock.Clock
}

func UploadOptionsFromConfig(cfg *config.TraccarConfig) UploadOptions {
	return UploadOptions{
		Realtime:  cfg.Realtime,
		Speedup:   cfg.Speedup,
		BatchSize: cfg.BatchSize,
	}
}

type UploadStats struct {
	Total   int           `json:"total"`
	Sent    int           `json:"sent"`
	Failed  int           `json:"failed"`
	Skipped int           `json:"skipped"`
	Elapsed time.Duration `json:"elapsed"`
}

// PlaybackDelay returns the pause between two positions during realtime playback
func PlaybackDelay(prevUS, curUS uint64, speedup float64) time.Duration {
	if curUS <= prevUS {
		return 0
	}
	if speedup <= 0 {
		speedup = 1
	}
	d := time.Duration(float64(curUS-prevUS) / speedup * float64(time.Microsecond))
	if d > MaxPlaybackDelay {
		return MaxPlaybackDelay
	}
	return d
}

// Upload sends every GPS fix among samples. Fixes recorded before the clock was
// set have no wall clock time and are skipped. A failed position is counted and
// the upload goes on. Only context cancellation stops it early.
func (c *TraccarClient) Upload(ctx context.Context, samples []layers.Sample, opts UploadOptions) (UploadStats, error) {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = config.DefaultTraccarBatchSize
	}
	var stats UploadStats
	start := opts.Clock.Now()
	var last uint64
	for i := range samples {
		s := &samples[i]
		if s.Type != layers.SampleGPSFix || s.Fix == nil {
			continue
		}
		stats.Total++
		if timeline.Classify(s.TimestampUS) == timeline.Monotonic {
			stats.Skipped++
			continue
		}
		if opts.Realtime && last != 0 {
			if d := PlaybackDelay(last, s.TimestampUS, opts.Speedup); d > 0 {
				select {
				case <-ctx.Done():
					stats.Elapsed = opts.Clock.Since(start)
					return stats, ctx.Err()
				case <-opts.Clock.After(d):
				}
			}
		}
		last = s.TimestampUS

		if err := c.Send(ctx, s); err != nil {
			if ctx.Err() != nil {
				stats.Elapsed = opts.Clock.Since(start)
				return stats, ctx.Err()
			}
			stats.Failed++
			log.Warning("Position at %d not sent: %s", s.TimestampUS, err)
		} else {
			stats.Sent++
		}
		if done := stats.Sent + stats.Failed; done%opts.BatchSize == 0 {
			elapsed := opts.Clock.Since(start).Seconds()
			rate := 0.0
			if elapsed > 0 {
				rate = float64(done) / elapsed
			}
			log.Info("Progress: %d positions sent, %d failed, %.1f pts/sec", stats.Sent, stats.Failed, rate)
		}
	}
	stats.Elapsed = opts.Clock.Since(start)
	log.Info("Upload complete: sent: %d failed: %d skipped: %d time: %s",
		stats.Sent, stats.Failed, stats.Skipped, stats.Elapsed)
	return stats, nil
}
