package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"SENSOR_MQTT_HOST", "SENSOR_MQTT_PORT", "SENSOR_LOG_LEVEL", "SENSOR_LOG_FILE",
		"SENSOR_AUDIO_SOURCE", "SENSOR_METRICS_ADDR", "SENSOR_HEALTH_ADDR",
	} {
		t.Setenv(k, "")
	}
}

func TestLoadConfig_MissingFileUsesDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.env"))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if got, want := cfg.MQTT.Broker(), "tcp://0.0.0.0:1883"; got != want {
		t.Errorf("Broker() = %q, want %q", got, want)
	}
	if cfg.Audio.Source != SourcePortAudio {
		t.Errorf("Audio.Source = %q, want %q", cfg.Audio.Source, SourcePortAudio)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want info", cfg.LogLevel)
	}
	if cfg.Audio.SampleRate != 16000 || cfg.Audio.Channels != 1 || cfg.Audio.FramesPerBuffer != 1024 {
		t.Errorf("unexpected audio config %+v", cfg.Audio)
	}
}

func TestLoadConfig_ReadsDotenv(t *testing.T) {
	clearEnv(t)
	// godotenv never overrides variables that are already present.
	os.Unsetenv("SENSOR_MQTT_HOST")
	os.Unsetenv("SENSOR_MQTT_PORT")
	os.Unsetenv("SENSOR_HEALTH_ADDR")

	path := filepath.Join(t.TempDir(), ".env")
	content := "SENSOR_MQTT_HOST=broker.local\nSENSOR_MQTT_PORT=8883\nSENSOR_HEALTH_ADDR=:9090\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		os.Unsetenv("SENSOR_MQTT_HOST")
		os.Unsetenv("SENSOR_MQTT_PORT")
		os.Unsetenv("SENSOR_HEALTH_ADDR")
	})

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if got, want := cfg.MQTT.Broker(), "tcp://broker.local:8883"; got != want {
		t.Errorf("Broker() = %q, want %q", got, want)
	}
	if cfg.HealthAddr != ":9090" {
		t.Errorf("HealthAddr = %q, want :9090", cfg.HealthAddr)
	}
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name, key, value string
	}{
		{"non-numeric port", "SENSOR_MQTT_PORT", "abc"},
		{"port out of range", "SENSOR_MQTT_PORT", "70000"},
		{"unknown log level", "SENSOR_LOG_LEVEL", "verbose"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tt.key, tt.value)
			if _, err := LoadConfig(filepath.Join(t.TempDir(), "absent.env")); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestBlockDuration(t *testing.T) {
	a := AudioConfig{SampleRate: SampleRate, FramesPerBuffer: FramesPerBuffer}
	if got, want := a.BlockDuration(), 64*time.Millisecond; got != want {
		t.Errorf("BlockDuration() = %v, want %v", got, want)
	}
}
