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
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v2"
)

// Duration reads and writes time.Duration as a string such as "5m" or "1.5s"
type Duration struct {
	time.Duration
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}

func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// WriterConfig controls the session recorder
type WriterConfig struct {
	Dir             string   `yaml:"dir"`
	Format          string   `yaml:"format"`
	MaxSamples      int      `yaml:"max_samples"`
	FlushInterval   Duration `yaml:"flush_interval"`
	GForceThreshold float64  `yaml:"g_force_threshold"`
	EventRateLimit  Duration `yaml:"event_rate_limit"`
	SizeThreshold   float64  `yaml:"size_threshold"`
}

// AnalyzerConfig holds the thresholds of the integrity report
type AnalyzerConfig struct {
	GapThreshold      Duration `yaml:"gap_threshold"`
	LargeGapThreshold Duration `yaml:"large_gap_threshold"`
	JumpThreshold     Duration `yaml:"jump_threshold"`
	MaxUptime         Duration `yaml:"max_uptime"`
	MixedSourceRatio  float64  `yaml:"mixed_source_ratio"`
}

type TraccarConfig struct {
	Server    string   `yaml:"server"`
	Port      int      `yaml:"port"`
	DeviceID  string   `yaml:"device_id"`
	HTTPS     bool     `yaml:"https"`
	Timeout   Duration `yaml:"timeout"`
	BatchSize int      `yaml:"batch_size"`
	Realtime  bool     `yaml:"realtime"`
	Speedup   float64  `yaml:"speedup"`
}

type ServerConfig struct {
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`
	DataDir string `yaml:"data_dir"`
}

type CatalogConfig struct {
	Path    string `yaml:"path"`
	Workers int    `yaml:"workers"`
}

type Config struct {
	LogLevel        string `yaml:"log_level"`
	*WriterConfig   `yaml:"writer,omitempty"`
	*AnalyzerConfig `yaml:"analyzer,omitempty"`
	*TraccarConfig  `yaml:"traccar,omitempty"`
	*ServerConfig   `yaml:"server,omitempty"`
	*CatalogConfig  `yaml:"catalog,omitempty"`
	filepath        string
}

func (c *Config) Persist(overwrite bool) error {
	if _, err := os.Stat(c.filepath); err == nil && !overwrite {
		return ErrConfigFileExists{Path: c.filepath}
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	dir := filepath.Dir(c.filepath)
	err = os.MkdirAll(dir, 0755)
	if err != nil {
		return err
	}

	return os.WriteFile(c.filepath, data, 0644)
}

func (c *Config) LoadConfig() error {
	data, err := os.ReadFile(c.filepath)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, c)
}

// Load reads the config file if it exists. A missing file leaves defaults in place.
func (c *Config) Load() error {
	err := c.LoadConfig()
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// Marshal returns the YAML representation of the config
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

func (c *Config) Path() string {
	return c.filepath
}

func (c *Config) SetPath(path string) {
	c.filepath = path
}

// CatalogPath returns the catalog database path, next to the config file by default
func (c *Config) CatalogPath() string {
	if c.CatalogConfig != nil && c.CatalogConfig.Path != "" {
		return c.CatalogConfig.Path
	}
	return filepath.Join(filepath.Dir(c.filepath), CatalogFile)
}

func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = ""
	}
	return filepath.Join(home, ConfigDir, ConfigFile)
}

func NewDefaultConfig() *Config {
	return &Config{
		LogLevel: DefaultLogLevel,
		WriterConfig: &WriterConfig{
			Dir:             DefaultWriterDir,
			Format:          DefaultWriterFormat,
			MaxSamples:      DefaultMaxSamples,
			FlushInterval:   Duration{DefaultFlushInterval},
			GForceThreshold: DefaultGForceThreshold,
			EventRateLimit:  Duration{DefaultEventRateLimit},
			SizeThreshold:   DefaultSizeThreshold,
		},
		AnalyzerConfig: &AnalyzerConfig{
			GapThreshold:      Duration{DefaultGapThreshold},
			LargeGapThreshold: Duration{DefaultLargeGapThreshold},
			JumpThreshold:     Duration{DefaultJumpThreshold},
			MaxUptime:         Duration{DefaultMaxUptime},
			MixedSourceRatio:  DefaultMixedSourceRatio,
		},
		TraccarConfig: &TraccarConfig{
			Server:    DefaultTraccarServer,
			Port:      DefaultTraccarPort,
			DeviceID:  DefaultTraccarDeviceID,
			Timeout:   Duration{DefaultTraccarTimeout},
			BatchSize: DefaultTraccarBatchSize,
			Speedup:   DefaultTraccarSpeedup,
		},
		ServerConfig: &ServerConfig{
			Address: DefaultServerAddress,
			Port:    DefaultServerPort,
			DataDir: DefaultServerDataDir,
		},
		CatalogConfig: &CatalogConfig{
			Workers: DefaultCatalogWorkers,
		},
		filepath: DefaultConfigPath(),
	}
}
