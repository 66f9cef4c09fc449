// Package config loads the declarative list of cameras the core operates
// on. There are no cloud credentials in this system — the only external
// input is "which cameras, at which URLs, with which timing knobs" — so the
// shape is a YAML document, not the teacher's .env scanner.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Transport is the RTSP transport preference for a camera.
type Transport string

const (
	TransportTCP Transport = "tcp"
	TransportUDP Transport = "udp"
)

// CameraConfig is the immutable-per-instance configuration for one camera,
// matching spec §3 CameraConfig field-for-field.
type CameraConfig struct {
	Name      string    `yaml:"name"`
	URL       string    `yaml:"url"`
	Transport Transport `yaml:"transport"`

	ProbeTimeout  time.Duration `yaml:"probe_timeout"`
	ProbeAttempts int           `yaml:"probe_attempts"`
	ProbeDelay    time.Duration `yaml:"probe_delay"`

	TargetFPS      int           `yaml:"target_fps"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`

	MaxInFlightFrames int `yaml:"max_in_flight_frames"`
}

// Config is the top-level declarative document: a list of cameras plus the
// signaling listener address.
type Config struct {
	ListenAddr string         `yaml:"listen_addr"`
	Cameras    []CameraConfig `yaml:"cameras"`
}

// defaults mirror spec §4.1/§5: 2s per-attempt timeout, 10 attempts, 2s
// inter-attempt delay, 10s signaling reconnect is a transport concern (not
// per-camera).
const (
	defaultProbeTimeout      = 2 * time.Second
	defaultProbeAttempts     = 10
	defaultProbeDelay        = 2 * time.Second
	defaultTargetFPS         = 25
	defaultReconnectDelay    = 2 * time.Second
	defaultMaxInFlightFrames = 8
)

func (c *CameraConfig) applyDefaults() {
	if c.Transport == "" {
		c.Transport = TransportTCP
	}
	if c.ProbeTimeout == 0 {
		c.ProbeTimeout = defaultProbeTimeout
	}
	if c.ProbeAttempts == 0 {
		c.ProbeAttempts = defaultProbeAttempts
	}
	if c.ProbeDelay == 0 {
		c.ProbeDelay = defaultProbeDelay
	}
	if c.TargetFPS == 0 {
		c.TargetFPS = defaultTargetFPS
	}
	if c.ReconnectDelay == 0 {
		c.ReconnectDelay = defaultReconnectDelay
	}
	if c.MaxInFlightFrames == 0 {
		c.MaxInFlightFrames = defaultMaxInFlightFrames
	}
}

// Load reads the declarative camera list from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	for i := range cfg.Cameras {
		cfg.Cameras[i].applyDefaults()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the configuration is internally consistent:
// non-empty camera list, unique names, non-empty URLs, valid transports.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("missing listen_addr")
	}
	if len(c.Cameras) == 0 {
		return fmt.Errorf("no cameras configured")
	}

	seen := make(map[string]bool, len(c.Cameras))
	for _, cam := range c.Cameras {
		if cam.Name == "" {
			return fmt.Errorf("camera entry missing name")
		}
		if seen[cam.Name] {
			return fmt.Errorf("duplicate camera name %q", cam.Name)
		}
		seen[cam.Name] = true

		if cam.URL == "" {
			return fmt.Errorf("camera %q: missing url", cam.Name)
		}
		if cam.Transport != TransportTCP && cam.Transport != TransportUDP {
			return fmt.Errorf("camera %q: invalid transport %q", cam.Name, cam.Transport)
		}
		if cam.ProbeAttempts <= 0 {
			return fmt.Errorf("camera %q: probe_attempts must be positive", cam.Name)
		}
	}

	return nil
}
