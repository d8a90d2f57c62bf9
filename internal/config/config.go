// Package config loads and validates the engine/orchestrator configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// AudioMode selects which client adapter variant a consumer transport uses.
type AudioMode string

const (
	ModeDebugAudio AudioMode = "debug_audio" // raw-opus, jitter-buffered (voice relay)
	ModeWebAudio   AudioMode = "web_audio"   // opus-container, paced browser scheduling
	ModeVoiceChat  AudioMode = "voice_chat"  // raw-opus, direct pass-through to a voice sink
)

// Config is the process-wide configuration object, shared by the engine and
// orchestrator entry points. Not every field is consumed by both processes.
type Config struct {
	SocketPath  string    `yaml:"socket_path"`
	ControlPort int       `yaml:"control_port"`
	DataDir     string    `yaml:"data_dir"`
	AudioMode   AudioMode `yaml:"audio_mode"`
	AllowedIDs  []string  `yaml:"allowed_ids"`
	// AudioBitrate is the bps the engine's transcoder encodes at. The
	// orchestrator needs the same figure to pace variable-size
	// opus-container chunks by their actual byte size.
	AudioBitrate int `yaml:"audio_bitrate"`
}

// Default returns the compiled-in defaults, overridden by a config file and
// then environment variables in Load.
func Default() Config {
	return Config{
		SocketPath:   "/tmp/audiorelay-engine.sock",
		ControlPort:  8180,
		DataDir:      "./data",
		AudioMode:    ModeDebugAudio,
		AudioBitrate: 128000, // matches transcode.DefaultConfig().Bitrate
	}
}

// Load builds a Config from compiled-in defaults, an optional YAML file named
// by CONFIG_FILE, and environment variable overrides, in that order.
func Load() (Config, error) {
	cfg := Default()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: %w", err)
		}
	}

	applyEnv(&cfg)

	if err := Validate(cfg); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}

	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("SOCKET_PATH"); v != "" {
		cfg.SocketPath = v
	}
	if v := os.Getenv("CONTROL_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.ControlPort = port
		}
	}
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if os.Getenv("WEB_AUDIO") == "1" {
		cfg.AudioMode = ModeWebAudio
	}
	if os.Getenv("DEBUG_AUDIO") == "1" {
		cfg.AudioMode = ModeDebugAudio
	}
	if v := os.Getenv("AUDIO_BITRATE"); v != "" {
		if bitrate, err := strconv.Atoi(v); err == nil {
			cfg.AudioBitrate = bitrate
		}
	}
	if v := os.Getenv("ALLOWED_IDS"); v != "" {
		ids := strings.Split(v, ",")
		for i := range ids {
			ids[i] = strings.TrimSpace(ids[i])
		}
		cfg.AllowedIDs = ids
	}
}

// Validate rejects a Config that would make the process unable to start.
// A validation failure is the one configuration-stage error that is fatal.
func Validate(cfg Config) error {
	if strings.TrimSpace(cfg.SocketPath) == "" {
		return fmt.Errorf("socket_path must not be empty")
	}
	if cfg.ControlPort <= 0 || cfg.ControlPort > 65535 {
		return fmt.Errorf("control_port %d out of range", cfg.ControlPort)
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		return fmt.Errorf("data_dir must not be empty")
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("data_dir %q not creatable: %w", cfg.DataDir, err)
	}
	switch cfg.AudioMode {
	case ModeDebugAudio, ModeWebAudio, ModeVoiceChat:
	default:
		return fmt.Errorf("audio_mode %q not recognized", cfg.AudioMode)
	}
	return nil
}

// Allowed reports whether a consumer id is permitted, per ALLOWED_IDS. An
// empty whitelist allows everyone.
func (c Config) Allowed(consumerID string) bool {
	if len(c.AllowedIDs) == 0 {
		return true
	}
	for _, id := range c.AllowedIDs {
		if id == consumerID {
			return true
		}
	}
	return false
}
