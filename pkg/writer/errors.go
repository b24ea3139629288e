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
	"errors"
	"fmt"
)

// ErrClosed returned by every operation on a closed writer
var ErrClosed = errors.New("Writer is closed")

// ErrStorageUnavailable returned when the storage directory can not be used at open time.
// No file is created in this case.
type ErrStorageUnavailable struct {
	Path string
	Err  error
}

func (e ErrStorageUnavailable) Error() string {
	return fmt.Sprintf("Storage is unavailable: %s: %s", e.Path, e.Err)
}

func (e ErrStorageUnavailable) Unwrap() error {
	return e.Err
}

// ErrWrite returned when a block could not be committed to storage.
// RolledBack tells whether the file was restored to its last committed size,
// in which case the buffered samples are kept and the flush may be retried.
type ErrWrite struct {
	Sequence   uint32
	RolledBack bool
	Err        error
}

func (e ErrWrite) Error() string {
	state := "file left inconsistent"
	if e.RolledBack {
		state = "rolled back"
	}
	return fmt.Sprintf("Error while writing block %d (%s): %s", e.Sequence, state, e.Err)
}

func (e ErrWrite) Unwrap() error {
	return e.Err
}
