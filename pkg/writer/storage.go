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

package writer

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"

	"github.com/pkg/errors"

	"github.com/openponylogger/go-opl/pkg/log"
)

// File is the byte stream a recorder writes to. Sync must not return before
// the written data reached the medium.
type File interface {
	io.Writer
	Sync() error
	Close() error
}

// Storage creates session files
type Storage interface {
	Create(name string) (File, error)
	Remove(name string) error
}

// truncater is implemented by files that can drop a partially written block
type truncater interface {
	Truncate(size int64) error
	Seek(offset int64, whence int) (int64, error)
}

// FileStorage keeps sessions in a directory, typically the mount point of the SD card
type FileStorage struct {
	Dir string
}

var _ Storage = &FileStorage{}

func NewFileStorage(dir string) *FileStorage {
	return &FileStorage{Dir: dir}
}

// Available checks that the directory exists and is a directory
func (s *FileStorage) Available() error {
	info, err := os.Stat(s.Dir)
	if err != nil {
		return ErrStorageUnavailable{Path: s.Dir, Err: err}
	}
	if !info.IsDir() {
		return ErrStorageUnavailable{Path: s.Dir, Err: errors.New("not a directory")}
	}
	return nil
}

// Create opens a new file. Existing sessions are never overwritten.
func (s *FileStorage) Create(name string) (File, error) {
	if err := s.Available(); err != nil {
		log.Error("%s", err)
		return nil, err
	}
	path := filepath.Join(s.Dir, name)
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		log.Error("Error while creating file: %s", path)
		return nil, errors.Wrapf(err, "create %s", path)
	}
	return file, nil
}

func (s *FileStorage) Remove(name string) error {
	return os.Remove(filepath.Join(s.Dir, name))
}

// SessionFilePattern matches names produced by NextSessionName
var SessionFilePattern = regexp.MustCompile(`^session_(\d{5})\.(opl|csv)$`)

const maxSessionNumber = 99999

// NextSessionName returns session_NNNNN.<ext> numbered after the highest session
// already present in dir. Numbers wrap after 99999.
func NextSessionName(dir, ext string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", ErrStorageUnavailable{Path: dir, Err: err}
	}
	last := 0
	for _, entry := range entries {
		m := SessionFilePattern.FindStringSubmatch(entry.Name())
		if m == nil {
			continue
		}
		n, _ := strconv.Atoi(m[1])
		if n > last {
			last = n
		}
	}
	next := last%maxSessionNumber + 1
	return fmt.Sprintf("session_%05d.%s", next, ext), nil
}
