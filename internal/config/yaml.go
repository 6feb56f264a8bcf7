// SPDX-License-Identifier: MIT
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"pulse/pkg/bitint"
)

// Load builds the runtime configuration. Defaults are applied first,
// then the YAML file at path (if path is empty, "pulse.yaml" is tried),
// then environment overrides. The result is validated before return.
func Load(path string) (*Config, error) {
	cfg := New()

	if path == "" {
		if _, err := os.Stat("pulse.yaml"); err == nil {
			path = "pulse.yaml"
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

// Validate checks the configuration for values the engine cannot run
// with. Tuning values are clamped by their consumers; only structural
// problems are rejected here.
func (c *Config) Validate() error {
	if c.Audio.SampleRate < MinSampleRate || c.Audio.SampleRate > MaxSampleRate {
		return fmt.Errorf("audio.sample_rate %g outside [%d, %d]",
			c.Audio.SampleRate, MinSampleRate, MaxSampleRate)
	}
	if !bitint.IsPowerOfTwo(c.Audio.HopSize) {
		return fmt.Errorf("audio.hop_size must be a power of 2, got %d", c.Audio.HopSize)
	}
	if c.Audio.HopSize < MinHopSize || c.Audio.HopSize > MaxHopSize {
		return fmt.Errorf("audio.hop_size %d outside [%d, %d]",
			c.Audio.HopSize, MinHopSize, MaxHopSize)
	}
	if c.Audio.Channels < 1 {
		return fmt.Errorf("audio.channels must be at least 1, got %d", c.Audio.Channels)
	}
	if c.Tempo.BPMMin <= 0 || c.Tempo.BPMMax <= c.Tempo.BPMMin {
		return fmt.Errorf("tempo range [%g, %g] is not a valid BPM interval",
			c.Tempo.BPMMin, c.Tempo.BPMMax)
	}
	if c.Tempo.HistoryLen < 64 {
		return fmt.Errorf("tempo.history_len must be at least 64, got %d", c.Tempo.HistoryLen)
	}
	if c.Render.FrameRate <= 0 {
		return fmt.Errorf("render.frame_rate must be positive, got %d", c.Render.FrameRate)
	}
	if c.Diag.WebSocketEnabled && c.Diag.WebSocketAddr == "" {
		return fmt.Errorf("diagnostics.websocket_addr must be set when the websocket is enabled")
	}
	return nil
}

// applyEnvOverrides applies PULSE_* environment variables on top of the
// loaded configuration. Only settings useful for deployment are exposed
// this way; DSP tuning stays in the file.
func (c *Config) applyEnvOverrides() {
	if val, ok := os.LookupEnv("PULSE_DEBUG"); ok {
		if b, err := strconv.ParseBool(val); err == nil {
			c.Debug = b
		}
	}
	if val, ok := os.LookupEnv("PULSE_LOG_LEVEL"); ok {
		c.LogLevel = val
	}
	if val, ok := os.LookupEnv("PULSE_DEVICE_ID"); ok {
		if n, err := strconv.Atoi(val); err == nil {
			c.Audio.DeviceID = n
		}
	}
	if val, ok := os.LookupEnv("PULSE_SAMPLE_RATE"); ok {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			c.Audio.SampleRate = f
		}
	}
	if val, ok := os.LookupEnv("PULSE_WS_ENABLED"); ok {
		if b, err := strconv.ParseBool(val); err == nil {
			c.Diag.WebSocketEnabled = b
		}
	}
	if val, ok := os.LookupEnv("PULSE_WS_ADDR"); ok {
		c.Diag.WebSocketAddr = val
	}
}
