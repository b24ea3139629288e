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

package config

import (
	"time"
)

const (
	ConfigDir   = ".go-opl"
	ConfigFile  = "config"
	CatalogFile = "catalog.db"

	DefaultLogLevel = "info"

	DefaultWriterDir       = "."
	DefaultWriterFormat    = "binary"
	DefaultMaxSamples      = 200
	DefaultFlushInterval   = 5 * time.Minute
	DefaultGForceThreshold = 3.0
	DefaultEventRateLimit  = 0
	DefaultSizeThreshold   = 0.9

	DefaultGapThreshold      = time.Second
	DefaultLargeGapThreshold = 5 * time.Second
	DefaultJumpThreshold     = 60 * time.Second
	DefaultMaxUptime         = 30 * 24 * time.Hour
	DefaultMixedSourceRatio  = 0.5

	DefaultTraccarServer    = "localhost"
	DefaultTraccarPort      = 5055
	DefaultTraccarDeviceID  = "openponylogger"
	DefaultTraccarTimeout   = 10 * time.Second
	DefaultTraccarBatchSize = 100
	DefaultTraccarSpeedup   = 1.0

	DefaultServerAddress = "127.0.0.1"
	DefaultServerPort    = 8085
	DefaultServerDataDir = "."

	DefaultCatalogWorkers = 4
)
