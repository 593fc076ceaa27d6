// Runtime configuration.

// Configuration is loaded from a YAML document with the following shape:
//
//  logger_config:
//    ...
//  scheduler_config:
//    ...
//  timer_config:
//    ...
//  io_manager_config:
//    ...

package loom_internal

import (
	"fmt"
	"io"
	"os"

	"github.com/docker/go-units"
	"github.com/huandu/go-clone"
	"gopkg.in/yaml.v3"
)

type TimerConfig struct {
	// Rollover-detection window in seconds, defaulting to RolloverThreshold.
	// It is loaded with the rest of the configuration, but TimerManager does
	// not read it: rollover detection always uses RolloverThreshold.
	RolloverThresholdSec int `yaml:"rollover_threshold_sec"`
}

func DefaultTimerConfig() *TimerConfig {
	return &TimerConfig{RolloverThresholdSec: int(RolloverThreshold.Seconds())}
}

type RuntimeConfig struct {
	LoggerConfig    *LoggerConfig    `yaml:"logger_config"`
	SchedulerConfig *SchedulerConfig `yaml:"scheduler_config"`
	TimerConfig     *TimerConfig     `yaml:"timer_config"`
	IOManagerConfig *IOManagerConfig `yaml:"io_manager_config"`
}

var defaultRuntimeConfig = &RuntimeConfig{
	LoggerConfig:    DefaultLoggerConfig(),
	SchedulerConfig: DefaultSchedulerConfig(),
	TimerConfig:     DefaultTimerConfig(),
	IOManagerConfig: DefaultIOManagerConfig(),
}

// DefaultRuntimeConfig returns a fresh copy of the default configuration;
// go-clone performs the deep copy so callers mutating the returned struct
// (e.g. to override one field before loading) can never corrupt the shared
// default held in defaultRuntimeConfig.
func DefaultRuntimeConfig() *RuntimeConfig {
	return clone.Clone(defaultRuntimeConfig).(*RuntimeConfig)
}

// ParseByteSize parses human-readable size strings ("128000", "125KB") the
// same way the teacher stack uses github.com/docker/go-units for batch-size
// config, here used for the coroutine default stack-size hint.
func ParseByteSize(s string) (int, error) {
	n, err := units.RAMInBytes(s)
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// LoadConfig loads the configuration from cfgFile, or from buf directly when
// non-nil (used by tests). A malformed document returns an error rather
// than panicking.
func LoadConfig(cfgFile string, buf []byte) (*RuntimeConfig, error) {
	if buf == nil && cfgFile != "" {
		f, err := os.Open(cfgFile)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		buf, err = io.ReadAll(f)
		if err != nil {
			return nil, fmt.Errorf("file: %q: %v", cfgFile, err)
		}
	}

	cfg := DefaultRuntimeConfig()
	if len(buf) == 0 {
		return cfg, nil
	}
	if err := yaml.Unmarshal(buf, cfg); err != nil {
		return nil, fmt.Errorf("file: %q: %v", cfgFile, err)
	}
	return cfg, nil
}
