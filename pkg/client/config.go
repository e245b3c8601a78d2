package client

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/goccy/go-yaml"
)

// Environment variables consulted by Open.
const (
	// EnvDisable makes Open fail immediately, so wrapped applications
	// fall back to their own audio path.
	EnvDisable = "SOUNDBRIDGE_DISABLE"

	// EnvLatency requests a quantum, "frames" or "frames/rate".
	EnvLatency = "SOUNDBRIDGE_LATENCY"

	// EnvNode names an existing server node to adopt instead of
	// creating a fresh one.
	EnvNode = "SOUNDBRIDGE_NODE"

	// EnvRemote overrides the server address.
	EnvRemote = "SOUNDBRIDGE_REMOTE"

	// EnvConfig points at an alternate config file.
	EnvConfig = "SOUNDBRIDGE_CONFIG"
)

// ErrDisabled is returned by Open when EnvDisable is set.
var ErrDisabled = errors.New("client: disabled by environment")

// Config holds file-level client settings. Environment variables override
// every field.
type Config struct {
	// Remote is the server control socket path, or a ws:// URL for a
	// remote server.
	Remote string `yaml:"remote"`

	// LatencyFrames requests a quantum for this client, 0 means follow
	// the graph.
	LatencyFrames uint32 `yaml:"latency-frames"`

	// LatencyRate pins the requested quantum to a sample rate.
	LatencyRate uint32 `yaml:"latency-rate"`

	// NodeName adopts an existing server node by name.
	NodeName string `yaml:"node-name"`

	// ShowMIDINames logs decoded MIDI event names on the debug level.
	ShowMIDINames bool `yaml:"show-midi-names"`
}

func defaultConfigPath() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "soundbridge", "client.yaml")
	}
	return ""
}

func defaultRemote() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, "soundbridge-0")
	}
	return "/tmp/soundbridge-0"
}

// LoadConfig reads the config file and applies environment overrides. A
// missing file is not an error; the zero config with env overrides is
// returned.
func LoadConfig() (Config, error) {
	var cfg Config

	path := os.Getenv(EnvConfig)
	if path == "" {
		path = defaultConfigPath()
	}
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("client: parse %s: %w", path, err)
			}
		case !errors.Is(err, os.ErrNotExist):
			return cfg, fmt.Errorf("client: read %s: %w", path, err)
		}
	}

	if v := os.Getenv(EnvRemote); v != "" {
		cfg.Remote = v
	}
	if cfg.Remote == "" {
		cfg.Remote = defaultRemote()
	}
	if v := os.Getenv(EnvNode); v != "" {
		cfg.NodeName = v
	}
	if v := os.Getenv(EnvLatency); v != "" {
		frames, rate, err := ParseLatency(v)
		if err != nil {
			return cfg, err
		}
		cfg.LatencyFrames, cfg.LatencyRate = frames, rate
	}
	return cfg, nil
}

// ParseLatency parses a quantum request of the form "frames" or
// "frames/rate".
func ParseLatency(s string) (frames, rate uint32, err error) {
	fs, rs, hasRate := strings.Cut(s, "/")
	f, err := strconv.ParseUint(strings.TrimSpace(fs), 10, 32)
	if err != nil || f == 0 {
		return 0, 0, fmt.Errorf("client: bad latency %q", s)
	}
	if hasRate {
		r, err := strconv.ParseUint(strings.TrimSpace(rs), 10, 32)
		if err != nil || r == 0 {
			return 0, 0, fmt.Errorf("client: bad latency %q", s)
		}
		rate = uint32(r)
	}
	return uint32(f), rate, nil
}
