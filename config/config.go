package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Capture parameters are fixed for every sensor.
const (
	SampleRate      = 16000
	Channels        = 1
	FramesPerBuffer = 1024
)

// MQTT session constants.
const (
	KeepAlive         = 60 * time.Second
	ConnectTimeout    = 10 * time.Second
	DisconnectQuiesce = 250 * time.Millisecond
)

// SourcePortAudio selects the live capture device.
const SourcePortAudio = "portaudio"

const (
	defaultHost     = "0.0.0.0"
	defaultPort     = 1883
	defaultLogLevel = "info"
)

type MQTTConfig struct {
	Host string
	Port int
}

// Broker returns the paho broker URL for the configured host/port pair.
func (m MQTTConfig) Broker() string {
	return fmt.Sprintf("tcp://%s:%d", m.Host, m.Port)
}

type AudioConfig struct {
	// Source is either SourcePortAudio or a path to an MP3 file to replay.
	Source          string
	SampleRate      int
	Channels        int
	FramesPerBuffer int
}

// BlockDuration is the real-time length of one capture block.
func (a AudioConfig) BlockDuration() time.Duration {
	return time.Duration(a.FramesPerBuffer) * time.Second / time.Duration(a.SampleRate)
}

type Config struct {
	MQTT        MQTTConfig
	Audio       AudioConfig
	LogLevel    string
	LogFile     string
	MetricsAddr string
	HealthAddr  string
}

// LoadConfig reads path as a dotenv file (a missing file is ignored) and
// builds the sensor configuration from the process environment.
func LoadConfig(path string) (*Config, error) {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load %s: %w", path, err)
	}

	port := defaultPort
	if v := os.Getenv("SENSOR_MQTT_PORT"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil || p <= 0 || p > 65535 {
			return nil, fmt.Errorf("invalid SENSOR_MQTT_PORT %q", v)
		}
		port = p
	}

	level := getenv("SENSOR_LOG_LEVEL", defaultLogLevel)
	switch level {
	case "none", "error", "warn", "info", "debug":
	default:
		return nil, fmt.Errorf("invalid SENSOR_LOG_LEVEL %q", level)
	}

	return &Config{
		MQTT: MQTTConfig{
			Host: getenv("SENSOR_MQTT_HOST", defaultHost),
			Port: port,
		},
		Audio: AudioConfig{
			Source:          getenv("SENSOR_AUDIO_SOURCE", SourcePortAudio),
			SampleRate:      SampleRate,
			Channels:        Channels,
			FramesPerBuffer: FramesPerBuffer,
		},
		LogLevel:    level,
		LogFile:     os.Getenv("SENSOR_LOG_FILE"),
		MetricsAddr: os.Getenv("SENSOR_METRICS_ADDR"),
		HealthAddr:  os.Getenv("SENSOR_HEALTH_ADDR"),
	}, nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
