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

// Package catalog keeps a persistent index of decoded session files and their
// upload state in a bbolt database.
package catalog

import (
	"os"
	"path/filepath"
	"sort"
	"time"

	"go.etcd.io/bbolt"
	"sigs.k8s.io/yaml"

	"github.com/openponylogger/go-opl/pkg/log"
	"github.com/openponylogger/go-opl/pkg/reader"
	"github.com/openponylogger/go-opl/pkg/report"
)

const SessionsBucket = "sessions"

// Entry describes one session file. It is stored as YAML keyed by file name.
type Entry struct {
	Name        string        `json:"name"`
	Digest      string        `json:"digest"`
	Size        int64         `json:"size"`
	SessionID   string        `json:"session_id,omitempty"`
	SessionName string        `json:"session_name,omitempty"`
	Driver      string        `json:"driver,omitempty"`
	Vehicle     string        `json:"vehicle,omitempty"`
	StartUS     uint64        `json:"start_us"`
	Duration    time.Duration `json:"duration"`
	Blocks      int           `json:"blocks"`
	Samples     int           `json:"samples"`
	GPSFixes    int           `json:"gps_fixes"`
	Issues      int           `json:"issues"`
	Problems    int           `json:"problems"`
	IndexedAt   time.Time     `json:"indexed_at"`

	Uploaded      bool       `json:"uploaded"`
	UploadedAt    *time.Time `json:"uploaded_at,omitempty"`
	PositionsSent int        `json:"positions_sent,omitempty"`
}

// NewEntry summarizes a report
func NewEntry(name string, r *report.Report) *Entry {
	e := &Entry{
		Name:      name,
		Digest:    r.Digest,
		Size:      r.Size,
		Blocks:    len(r.Blocks),
		Samples:   r.Samples,
		Duration:  r.Duration,
		Issues:    len(r.Issues),
		Problems:  len(r.Issues.Problems()),
		IndexedAt: time.Now().UTC(),
	}
	if h := r.Header; h != nil {
		e.SessionID = h.SessionID.String()
		e.SessionName = h.SessionName
		e.Driver = h.DriverName
		e.Vehicle = h.VehicleID
		e.StartUS = h.TimestampUS
	}
	if r.Track != nil {
		e.GPSFixes = r.Track.Fixes
	}
	return e
}

type Catalog struct {
	DB *bbolt.DB
}

// Open opens or creates the catalog database at path
func Open(path string) (*Catalog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(SessionsBucket))
		return err
	}); err != nil {
		db.Close()
		return nil, err
	}
	return &Catalog{DB: db}, nil
}

func (c *Catalog) Close() error {
	return c.DB.Close()
}

func (c *Catalog) update(fn func(b *bbolt.Bucket) error) error {
	return c.DB.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(SessionsBucket))
		if b == nil {
			return ErrBucketNotFound{Bucket: SessionsBucket}
		}
		return fn(b)
	})
}

func (c *Catalog) view(fn func(b *bbolt.Bucket) error) error {
	return c.DB.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(SessionsBucket))
		if b == nil {
			return ErrBucketNotFound{Bucket: SessionsBucket}
		}
		return fn(b)
	})
}

func get(b *bbolt.Bucket, name string) (*Entry, error) {
	data := b.Get([]byte(name))
	if data == nil {
		return nil, ErrEntryNotFound{Name: name}
	}
	e := &Entry{}
	if err := yaml.Unmarshal(data, e); err != nil {
		return nil, err
	}
	return e, nil
}

func put(b *bbolt.Bucket, e *Entry) error {
	data, err := yaml.Marshal(e)
	if err != nil {
		return err
	}
	return b.Put([]byte(e.Name), data)
}

// Put stores e, keeping the upload state of an earlier entry for the same session
func (c *Catalog) Put(e *Entry) error {
	log.Debug("Cataloging session: file: %s digest: %s", e.Name, e.Digest)
	return c.update(func(b *bbolt.Bucket) error {
		if old, err := get(b, e.Name); err == nil && old.SessionID == e.SessionID && !e.Uploaded {
			e.Uploaded = old.Uploaded
			e.UploadedAt = old.UploadedAt
			e.PositionsSent = old.PositionsSent
		}
		return put(b, e)
	})
}

func (c *Catalog) Get(name string) (*Entry, error) {
	var e *Entry
	err := c.view(func(b *bbolt.Bucket) error {
		var err error
		e, err = get(b, name)
		return err
	})
	return e, err
}

// List returns all entries ordered by file name
func (c *Catalog) List() ([]*Entry, error) {
	var entries []*Entry
	err := c.view(func(b *bbolt.Bucket) error {
		return b.ForEach(func(k, v []byte) error {
			e := &Entry{}
			if err := yaml.Unmarshal(v, e); err != nil {
				log.Error("Error while unmarshalling catalog entry %s: %s", k, err)
				return err
			}
			entries = append(entries, e)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

// MarkUploaded records a finished upload of positions fixes
func (c *Catalog) MarkUploaded(name string, positions int, at time.Time) error {
	log.Debug("Marking session uploaded: file: %s positions: %d", name, positions)
	return c.update(func(b *bbolt.Bucket) error {
		e, err := get(b, name)
		if err != nil {
			return err
		}
		at = at.UTC()
		e.Uploaded = true
		e.UploadedAt = &at
		e.PositionsSent = positions
		return put(b, e)
	})
}

func (c *Catalog) Delete(name string) error {
	return c.update(func(b *bbolt.Bucket) error {
		if b.Get([]byte(name)) == nil {
			return ErrEntryNotFound{Name: name}
		}
		return b.Delete([]byte(name))
	})
}

// RecordUpload marks s uploaded under its base name. A session that was never
// indexed is analyzed and added first.
func (c *Catalog) RecordUpload(s *reader.Session, opts report.Options, positions int, at time.Time) error {
	name := filepath.Base(s.Name)
	if _, err := c.Get(name); err != nil {
		if _, ok := err.(ErrEntryNotFound); !ok {
			return err
		}
		if err := c.Put(NewEntry(name, report.Analyze(s, opts))); err != nil {
			return err
		}
	}
	return c.MarkUploaded(name, positions, at)
}
