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
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/openponylogger/go-opl/pkg/checksum"
	"github.com/openponylogger/go-opl/pkg/config"
	"github.com/openponylogger/go-opl/pkg/log"
	"github.com/openponylogger/go-opl/pkg/reader"
	"github.com/openponylogger/go-opl/pkg/report"
)

// SessionGlob selects the files Index looks at
const SessionGlob = "*.opl"

type IndexOptions struct {
	Workers  int
	Analyzer report.Options
	// Force reanalyzes files whose digest did not change
	Force bool
}

type IndexStats struct {
	Scanned   int `json:"scanned"`
	Indexed   int `json:"indexed"`
	Unchanged int `json:"unchanged"`
	Failed    int `json:"failed"`
}

// Index decodes every session file in dir concurrently and records the result.
// Files that can not be read are reported together and do not stop the others.
func (c *Catalog) Index(ctx context.Context, dir string, opts IndexOptions) (IndexStats, error) {
	var stats IndexStats
	paths, err := filepath.Glob(filepath.Join(dir, SessionGlob))
	if err != nil {
		return stats, err
	}
	if opts.Workers <= 0 {
		opts.Workers = config.DefaultCatalogWorkers
	}

	var mu sync.Mutex
	var errs error
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Workers)
	for _, path := range paths {
		path := path
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			indexed, err := c.indexFile(path, opts)
			mu.Lock()
			defer mu.Unlock()
			stats.Scanned++
			switch {
			case err != nil:
				stats.Failed++
				errs = multierr.Append(errs, err)
			case indexed:
				stats.Indexed++
			default:
				stats.Unchanged++
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		errs = multierr.Append(errs, err)
	} else if err := ctx.Err(); err != nil {
		errs = multierr.Append(errs, err)
	}
	log.Info("Indexed %s: scanned: %d indexed: %d unchanged: %d failed: %d",
		dir, stats.Scanned, stats.Indexed, stats.Unchanged, stats.Failed)
	return stats, errs
}

func (c *Catalog) indexFile(path string, opts IndexOptions) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return false, err
	}
	name := filepath.Base(path)
	digest := checksum.DigestBytes(data)
	if old, err := c.Get(name); err == nil && old.Digest == digest && !opts.Force {
		log.Debug("Session unchanged: file: %s", name)
		return false, nil
	}

	// a file without a valid header still gets an entry carrying the fatal issue
	s, err := reader.ReadBytes(name, data)
	if err != nil {
		log.Warning("Session %s: %s", name, err)
	}
	r := report.Analyze(s, opts.Analyzer)
	if err := c.Put(NewEntry(name, r)); err != nil {
		return false, errors.Wrapf(err, "catalog %s", name)
	}
	return true, nil
}
