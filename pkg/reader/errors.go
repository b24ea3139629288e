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

package reader

import (
	"errors"
	"fmt"
)

// ErrSessionEnd returned by ReadBlock when the session end marker is reached
var ErrSessionEnd = errors.New("Session end marker reached")

// ErrFormat returned when the file is not an OPL session. Decoding of the file is aborted.
type ErrFormat struct {
	What string
}

func (e ErrFormat) Error() string {
	return fmt.Sprintf("Not an OPL session: %s", e.What)
}

// ErrStructure returned when a block can not be delimited, e.g. bad magic or a
// length running past the end of the file. Block iteration stops at Offset.
type ErrStructure struct {
	Offset int64
	What   string
	// Truncated is set when the file ended inside the block. The rest of the
	// input is consumed and there is nothing left to resync on.
	Truncated bool
}

func (e ErrStructure) Error() string {
	return fmt.Sprintf("Structural error at offset %d: %s", e.Offset, e.What)
}
