package config

import (
	"os"
	"path/filepath"
	"testing"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"CONFIG_FILE", "SOCKET_PATH", "CONTROL_PORT", "DATA_DIR", "WEB_AUDIO", "DEBUG_AUDIO", "AUDIO_BITRATE", "ALLOWED_IDS"} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("DATA_DIR", t.TempDir())

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.AudioMode != ModeDebugAudio {
		t.Fatalf("expected default audio mode debug_audio, got %q", cfg.AudioMode)
	}
	if cfg.ControlPort != 8180 {
		t.Fatalf("expected default control port 8180, got %d", cfg.ControlPort)
	}
	if cfg.AudioBitrate != 128000 {
		t.Fatalf("expected default audio bitrate 128000, got %d", cfg.AudioBitrate)
	}
}

func TestApplyEnvOverridesAudioBitrate(t *testing.T) {
	clearEnv(t)
	t.Setenv("DATA_DIR", t.TempDir())
	t.Setenv("AUDIO_BITRATE", "96000")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.AudioBitrate != 96000 {
		t.Fatalf("expected audio bitrate 96000, got %d", cfg.AudioBitrate)
	}
}

func TestApplyEnvOverridesDefaults(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	t.Setenv("DATA_DIR", dir)
	t.Setenv("CONTROL_PORT", "9999")
	t.Setenv("WEB_AUDIO", "1")
	t.Setenv("ALLOWED_IDS", " alice , bob ")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ControlPort != 9999 {
		t.Fatalf("expected control port 9999, got %d", cfg.ControlPort)
	}
	if cfg.AudioMode != ModeWebAudio {
		t.Fatalf("expected web_audio mode, got %q", cfg.AudioMode)
	}
	if !cfg.Allowed("alice") || !cfg.Allowed("bob") {
		t.Fatalf("expected alice and bob allowed, got %+v", cfg.AllowedIDs)
	}
	if cfg.Allowed("mallory") {
		t.Fatal("expected mallory not allowed")
	}
}

func TestDebugAudioEnvWinsWhenBothSet(t *testing.T) {
	clearEnv(t)
	t.Setenv("DATA_DIR", t.TempDir())
	t.Setenv("WEB_AUDIO", "1")
	t.Setenv("DEBUG_AUDIO", "1")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.AudioMode != ModeDebugAudio {
		t.Fatalf("expected debug_audio to win, got %q", cfg.AudioMode)
	}
}

func TestAllowedWithEmptyWhitelistAllowsEveryone(t *testing.T) {
	cfg := Default()
	if !cfg.Allowed("anyone") {
		t.Fatal("expected empty whitelist to allow everyone")
	}
}

func TestValidateRejectsEmptySocketPath(t *testing.T) {
	cfg := Default()
	cfg.SocketPath = "   "
	cfg.DataDir = ""
	if err := Validate(cfg); err == nil {
		t.Fatal("expected validation error for empty socket path")
	}
}

func TestValidateRejectsOutOfRangePort(t *testing.T) {
	cfg := Default()
	cfg.DataDir = ""
	cfg.ControlPort = 70000
	if err := Validate(cfg); err == nil {
		t.Fatal("expected validation error for out-of-range port")
	}
}

func TestValidateRejectsUnknownAudioMode(t *testing.T) {
	cfg := Default()
	cfg.DataDir = t.TempDir()
	cfg.AudioMode = "nonsense"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected validation error for unrecognized audio mode")
	}
}

func TestValidateAcceptsVoiceChatMode(t *testing.T) {
	cfg := Default()
	cfg.DataDir = t.TempDir()
	cfg.AudioMode = ModeVoiceChat
	if err := Validate(cfg); err != nil {
		t.Fatalf("expected voice_chat to be a valid audio mode, got %v", err)
	}
}

func TestLoadFileOverridesDefaultsThenEnvWins(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	file := filepath.Join(dir, "config.yaml")
	content := "socket_path: /tmp/from-file.sock\ncontrol_port: 1234\ndata_dir: " + dir + "\naudio_mode: web_audio\n"
	if err := os.WriteFile(file, []byte(content), 0o644); err != nil {
		t.Fatalf("failed writing test config file: %v", err)
	}

	t.Setenv("CONFIG_FILE", file)
	t.Setenv("CONTROL_PORT", "4321")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.SocketPath != "/tmp/from-file.sock" {
		t.Fatalf("expected socket path from file, got %q", cfg.SocketPath)
	}
	if cfg.ControlPort != 4321 {
		t.Fatalf("expected env to win over file for control port, got %d", cfg.ControlPort)
	}
	if cfg.AudioMode != ModeWebAudio {
		t.Fatalf("expected web_audio from file, got %q", cfg.AudioMode)
	}
}
