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
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// TimeSource supplies sample timestamps in microseconds. Before the clock is set
// from GPS it counts from boot, afterwards from the Unix epoch.
type TimeSource interface {
	NowUS() uint64
}

// ClockSource is a TimeSource that switches to absolute time once SetAbsolute is called
type ClockSource struct {
	clock clock.Clock
	boot  time.Time

	mu     sync.Mutex
	synced bool
	absAt  time.Time
	absUS  int64
}

var _ TimeSource = &ClockSource{}

func NewClockSource(c clock.Clock) *ClockSource {
	return &ClockSource{
		clock: c,
		boot:  c.Now(),
	}
}

func (s *ClockSource) NowUS() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.synced {
		return uint64(s.absUS + s.clock.Since(s.absAt).Microseconds())
	}
	return uint64(s.clock.Since(s.boot).Microseconds())
}

// SetAbsolute anchors the source to a wall clock reading, e.g. a GPS time fix
func (s *ClockSource) SetAbsolute(t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.synced = true
	s.absAt = s.clock.Now()
	s.absUS = t.UnixMicro()
}

func (s *ClockSource) Synced() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.synced
}
