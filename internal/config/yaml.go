// SPDX-License-Identifier: MIT
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"pdmstream/internal/filter"
	applog "pdmstream/internal/log"
	"pdmstream/pkg/bitint"
)

// Config is the application configuration, loaded from YAML.
type Config struct {
	LogLevel  string          `yaml:"log_level"` // debug, info, warn, error.
	Capture   CaptureConfig   `yaml:"capture"`
	Filter    FilterConfig    `yaml:"filter"`
	Analysis  AnalysisConfig  `yaml:"analysis"`
	Recording RecordingConfig `yaml:"recording"`
	Transport TransportConfig `yaml:"transport"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// CaptureConfig is fixed for the duration of a capture session.
type CaptureConfig struct {
	Device          int     `yaml:"device"`            // PortAudio device index (-1 for default).
	SampleRate      int     `yaml:"sample_rate"`       // Hz; selects the weighting table.
	BlockLength     int     `yaml:"block_length"`      // Samples per block, interleaved across channels.
	FramesPerBuffer int     `yaml:"frames_per_buffer"` // Host callback size.
	Channels        int     `yaml:"channels"`          // 1 (mono) or 2 (stereo).
	LeftGainDB      float64 `yaml:"left_gain_db"`
	RightGainDB     float64 `yaml:"right_gain_db"`
	LowLatency      bool    `yaml:"low_latency"`
	Dispatch        string  `yaml:"dispatch"` // inline or deferred.
}

// FilterConfig selects the weighting filter. Numerator and Denominator
// override the built-in table when both are set.
type FilterConfig struct {
	Weighting   string    `yaml:"weighting"` // Z (none) or A.
	Numerator   []float64 `yaml:"numerator,omitempty"`
	Denominator []float64 `yaml:"denominator,omitempty"`
}

// AnalysisConfig configures the spectrum and onset consumers.
type AnalysisConfig struct {
	Enabled          bool    `yaml:"enabled"`
	FFTWindow        string  `yaml:"fft_window"` // hann, hamming, blackman, nuttall, lanczos or bartletthann.
	Bands            int     `yaml:"bands"`
	OnsetSensitivity float64 `yaml:"onset_sensitivity"`
}

// RecordingConfig holds settings for WAV recording of delivered frames.
type RecordingConfig struct {
	Enabled          bool    `yaml:"enabled"`
	OutputDir        string  `yaml:"output_dir"`
	SilenceThreshold float64 `yaml:"silence_threshold"` // Ratio of full scale; 0 disables the gate.
}

// TransportConfig holds settings for publishing levels over the network.
type TransportConfig struct {
	WebSocketEnabled bool          `yaml:"websocket_enabled"`
	WebSocketAddr    string        `yaml:"websocket_addr"`
	UDPEnabled       bool          `yaml:"udp_enabled"`
	UDPTargetAddress string        `yaml:"udp_target_address"`
	UDPSendInterval  time.Duration `yaml:"udp_send_interval"`
}

// MetricsConfig controls the Prometheus /metrics endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		LogLevel: DefaultLogLevel,
		Capture: CaptureConfig{
			Device:          DefaultDeviceID,
			SampleRate:      DefaultSampleRate,
			BlockLength:     DefaultBlockLength,
			FramesPerBuffer: DefaultFramesPerBuffer,
			Channels:        DefaultChannels,
			Dispatch:        DefaultDispatch,
		},
		Filter: FilterConfig{Weighting: DefaultWeighting},
		Analysis: AnalysisConfig{
			FFTWindow:        DefaultFFTWindow,
			Bands:            DefaultBands,
			OnsetSensitivity: DefaultOnsetSensitivity,
		},
		Recording: RecordingConfig{
			OutputDir:        DefaultOutputDir,
			SilenceThreshold: DefaultSilenceThreshold,
		},
		Transport: TransportConfig{
			WebSocketAddr:    DefaultWebSocketAddr,
			UDPTargetAddress: DefaultUDPTargetAddress,
			UDPSendInterval:  DefaultUDPSendInterval,
		},
		Metrics: MetricsConfig{Addr: DefaultMetricsAddr},
	}
}

// LoadConfig loads configuration from the YAML file at path. If path is
// empty it looks for "config.yaml" and falls back to the built-in defaults.
// Environment overrides are applied after the file, then the result is
// validated.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		if _, err := os.Stat("config.yaml"); err == nil {
			path = "config.yaml"
		}
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks every section and returns all problems joined.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	_, ok := applog.ParseLevel(c.LogLevel)
	check(ok, "log_level %q is not recognized", c.LogLevel)

	cc := c.Capture
	check(cc.Device >= MinDeviceID, "capture.device %d is invalid", cc.Device)
	check(cc.SampleRate >= MinSampleRate && cc.SampleRate <= MaxSampleRate,
		"capture.sample_rate %d is outside [%d, %d]", cc.SampleRate, MinSampleRate, MaxSampleRate)
	check(cc.Channels == 1 || cc.Channels == 2, "capture.channels must be 1 or 2, got %d", cc.Channels)
	check(cc.BlockLength > 0 && cc.BlockLength <= MaxBlockLength,
		"capture.block_length %d is outside [1, %d]", cc.BlockLength, MaxBlockLength)
	check(cc.Channels <= 0 || cc.BlockLength%cc.Channels == 0,
		"capture.block_length %d is not a multiple of %d channels", cc.BlockLength, cc.Channels)
	check(cc.FramesPerBuffer > 0, "capture.frames_per_buffer must be positive")
	for name, g := range map[string]float64{"left_gain_db": cc.LeftGainDB, "right_gain_db": cc.RightGainDB} {
		check(g >= MinGainDB && g <= MaxGainDB, "capture.%s %.1f is outside [%.0f, %.0f]", name, g, MinGainDB, MaxGainDB)
	}
	switch strings.ToLower(cc.Dispatch) {
	case "", "inline", "deferred":
	default:
		check(false, "capture.dispatch %q must be inline or deferred", cc.Dispatch)
	}

	if err := c.validateFilter(); err != nil {
		errs = append(errs, err)
	}

	if a := c.Analysis; a.Enabled {
		check(bitint.IsPowerOfTwo(cc.BlockLength/max(cc.Channels, 1)),
			"analysis requires a power of two frames per block, got %d", cc.BlockLength/max(cc.Channels, 1))
		check(a.Bands > 0 && a.Bands <= MaxBands, "analysis.bands %d is outside [1, %d]", a.Bands, MaxBands)
		check(a.OnsetSensitivity > 1, "analysis.onset_sensitivity must be greater than 1")
	}

	r := c.Recording
	check(r.SilenceThreshold >= 0 && r.SilenceThreshold <= 1, "recording.silence_threshold must be in [0, 1]")
	check(!r.Enabled || r.OutputDir != "", "recording.output_dir must be set when recording is enabled")

	t := c.Transport
	if t.UDPEnabled {
		check(strings.Contains(t.UDPTargetAddress, ":"),
			"transport.udp_target_address %q appears invalid (missing port?)", t.UDPTargetAddress)
		check(t.UDPSendInterval > 0, "transport.udp_send_interval must be positive when UDP is enabled")
	}
	check(!t.WebSocketEnabled || t.WebSocketAddr != "", "transport.websocket_addr must be set when enabled")
	check(!c.Metrics.Enabled || c.Metrics.Addr != "", "metrics.addr must be set when enabled")

	return errors.Join(errs...)
}

func (c *Config) validateFilter() error {
	f := c.Filter
	if len(f.Numerator) > 0 || len(f.Denominator) > 0 {
		_, err := filter.New(f.Numerator, f.Denominator, make([]float64, 2*len(f.Numerator)))
		if err != nil {
			return fmt.Errorf("filter coefficients: %w", err)
		}
		return nil
	}
	w, err := filter.ParseWeighting(f.Weighting)
	if err != nil {
		return fmt.Errorf("filter.weighting: %w", err)
	}
	if _, err := filter.Design(w, c.Capture.SampleRate); err != nil {
		return fmt.Errorf("filter.weighting %s: %w", w, err)
	}
	return nil
}

// Coefficients resolves the configured weighting filter.
func (c *Config) Coefficients() (filter.Coefficients, error) {
	if len(c.Filter.Numerator) > 0 || len(c.Filter.Denominator) > 0 {
		return filter.Coefficients{
			Numerator:   c.Filter.Numerator,
			Denominator: c.Filter.Denominator,
		}, nil
	}
	w, err := filter.ParseWeighting(c.Filter.Weighting)
	if err != nil {
		return filter.Coefficients{}, err
	}
	return filter.Design(w, c.Capture.SampleRate)
}

// applyEnvOverrides applies ENV_* variables on top of the file values.
// Unparseable values are ignored.
func (c *Config) applyEnvOverrides() {
	if val, ok := os.LookupEnv("ENV_LOG_LEVEL"); ok {
		c.LogLevel = val
		applog.Infof("configuration: Overriding log_level from env: %s", val)
	}
	if val, ok := os.LookupEnv("ENV_DEVICE"); ok {
		if n, err := strconv.Atoi(val); err == nil {
			c.Capture.Device = n
			applog.Infof("configuration: Overriding capture.device from env: %d", n)
		}
	}
	if val, ok := os.LookupEnv("ENV_SAMPLE_RATE"); ok {
		if n, err := strconv.Atoi(val); err == nil {
			c.Capture.SampleRate = n
			applog.Infof("configuration: Overriding capture.sample_rate from env: %d", n)
		}
	}
	if val, ok := os.LookupEnv("ENV_DISPATCH"); ok {
		c.Capture.Dispatch = val
		applog.Infof("configuration: Overriding capture.dispatch from env: %s", val)
	}
	if val, ok := os.LookupEnv("ENV_WEIGHTING"); ok {
		c.Filter.Weighting = val
		applog.Infof("configuration: Overriding filter.weighting from env: %s", val)
	}

	// ENV_UDP_{...}
	if val, ok := os.LookupEnv("ENV_UDP_ENABLED"); ok {
		if b, err := strconv.ParseBool(val); err == nil {
			c.Transport.UDPEnabled = b
			applog.Infof("configuration: Overriding transport.udp_enabled from env: %v", b)
		}
	}
	if val, ok := os.LookupEnv("ENV_UDP_TARGET_ADDRESS"); ok {
		c.Transport.UDPTargetAddress = val
		applog.Infof("configuration: Overriding transport.udp_target_address from env: %s", val)
	}
	if val, ok := os.LookupEnv("ENV_UDP_SEND_INTERVAL"); ok {
		if d, err := time.ParseDuration(val); err == nil {
			c.Transport.UDPSendInterval = d
			applog.Infof("configuration: Overriding transport.udp_send_interval from env: %s", d)
		}
	}

	if val, ok := os.LookupEnv("ENV_METRICS_ENABLED"); ok {
		if b, err := strconv.ParseBool(val); err == nil {
			c.Metrics.Enabled = b
			applog.Infof("configuration: Overriding metrics.enabled from env: %v", b)
		}
	}
}
