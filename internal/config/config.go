package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config структура конфига
type Config struct {
	Postgres struct {
		DSN string `yaml:"dsn" env:"DATABASE_DSN"`
	} `yaml:"postgres"`

	Minio struct {
		Endpoint       string `yaml:"endpoint" env:"MINIO_ENDPOINT"`
		AccessKey      string `yaml:"access_key" env:"MINIO_ACCESS_KEY"`
		SecretKey      string `yaml:"secret_key" env:"MINIO_SECRET_KEY"`
		Secure         bool   `yaml:"secure" env:"MINIO_SECURE"`
		EvidenceBucket string `yaml:"evidence_bucket" env:"MINIO_EVIDENCE_BUCKET"`
		FramesBucket   string `yaml:"frames_bucket" env:"MINIO_FRAMES_BUCKET"`
	} `yaml:"minio"`

	Kafka struct {
		Brokers        []string `yaml:"brokers" env:"KAFKA_BROKERS" envSeparator:","`
		GroupID        string   `yaml:"group_id" env:"KAFKA_GROUP_ID"`
		CommandTopic   string   `yaml:"command_topic" env:"COMMAND_TOPIC"`
		HeartbeatTopic string   `yaml:"heartbeat_topic" env:"HEARTBEAT_TOPIC"`
		ReportTopic    string   `yaml:"report_topic" env:"REPORT_TOPIC"`
	} `yaml:"kafka"`

	HTTP struct {
		Addr string `yaml:"addr" env:"HTTP_ADDR"`
	} `yaml:"http"`

	Detection struct {
		Endpoint string        `yaml:"endpoint" env:"DETECTION_ENDPOINT"`
		Timeout  time.Duration `yaml:"timeout" env:"DETECTION_TIMEOUT"`
	} `yaml:"detection"`

	Engine Engine `yaml:"engine"`

	Log struct {
		Level       string `yaml:"level" env:"LOG_LEVEL"`
		Development bool   `yaml:"development" env:"LOG_DEVELOPMENT"`
	} `yaml:"log"`
}

// Engine holds the tunables of the occupancy engine.
type Engine struct {
	SampleInterval      time.Duration `yaml:"sample_interval" env:"ENGINE_SAMPLE_INTERVAL"`
	MinConfidence       float64       `yaml:"min_confidence" env:"ENGINE_MIN_CONFIDENCE"`
	Classes             []string      `yaml:"classes" env:"ENGINE_CLASSES" envSeparator:","`
	TrackAbsenceSamples int           `yaml:"track_absence_samples" env:"ENGINE_TRACK_ABSENCE_SAMPLES"`
	QueueCapacity       int           `yaml:"queue_capacity" env:"ENGINE_QUEUE_CAPACITY"`
	ConnectTimeout      time.Duration `yaml:"connect_timeout" env:"ENGINE_CONNECT_TIMEOUT"`
	ReconnectRetries    int           `yaml:"reconnect_retries" env:"ENGINE_RECONNECT_RETRIES"`
	ReconnectBackoff    time.Duration `yaml:"reconnect_backoff" env:"ENGINE_RECONNECT_BACKOFF"`
	ReconnectBackoffMax time.Duration `yaml:"reconnect_backoff_max" env:"ENGINE_RECONNECT_BACKOFF_MAX"`
	NoFrameTimeout      time.Duration `yaml:"no_frame_timeout" env:"ENGINE_NO_FRAME_TIMEOUT"`
	LuminanceMin        float64       `yaml:"luminance_min" env:"ENGINE_LUMINANCE_MIN"`
	LuminanceMax        float64       `yaml:"luminance_max" env:"ENGINE_LUMINANCE_MAX"`
	RecordingsDir       string        `yaml:"recordings_dir" env:"ENGINE_RECORDINGS_DIR"`
	UploadsDir          string        `yaml:"uploads_dir" env:"ENGINE_UPLOADS_DIR"`
	EvidenceFormat      string        `yaml:"evidence_format" env:"ENGINE_EVIDENCE_FORMAT"`
	RecordedFPS         float64       `yaml:"recorded_fps" env:"ENGINE_RECORDED_FPS"`
	Retention           time.Duration `yaml:"retention" env:"ENGINE_RETENTION"`
	HeartbeatInterval   time.Duration `yaml:"heartbeat_interval" env:"ENGINE_HEARTBEAT_INTERVAL"`
}

// Default returns a config with every tunable set to its default value.
func Default() *Config {
	cfg := &Config{}
	cfg.Minio.EvidenceBucket = "evidence"
	cfg.Minio.FramesBucket = "frames"
	cfg.Kafka.GroupID = "downtime-recorder"
	cfg.Kafka.CommandTopic = "session-commands"
	cfg.Kafka.HeartbeatTopic = "session-heartbeats"
	cfg.Kafka.ReportTopic = "session-reports"
	cfg.HTTP.Addr = ":8080"
	cfg.Detection.Timeout = 5 * time.Second
	cfg.Log.Level = "info"
	cfg.Engine = DefaultEngine()
	return cfg
}

func DefaultEngine() Engine {
	return Engine{
		SampleInterval:      500 * time.Millisecond,
		MinConfidence:       0.3,
		TrackAbsenceSamples: 1,
		QueueCapacity:       1,
		ConnectTimeout:      10 * time.Second,
		ReconnectRetries:    5,
		ReconnectBackoff:    time.Second,
		ReconnectBackoffMax: 10 * time.Second,
		NoFrameTimeout:      30 * time.Second,
		LuminanceMin:        8,
		LuminanceMax:        247,
		RecordingsDir:       "./recordings",
		UploadsDir:          "./uploads",
		EvidenceFormat:      "mjpeg",
		RecordedFPS:         25,
		Retention:           time.Hour,
		HeartbeatInterval:   5 * time.Second,
	}
}

// LoadConfig reads the YAML file at path (if any) on top of the defaults, then
// applies environment overrides.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		// Читаем YAML
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}

		// Парсим YAML в структуру
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	// Парсим переменные окружения с приоритетом
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Engine.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (e Engine) Validate() error {
	var errs []error
	if e.SampleInterval <= 0 {
		errs = append(errs, errors.New("engine.sample_interval must be positive"))
	}
	if e.NoFrameTimeout <= 0 {
		errs = append(errs, errors.New("engine.no_frame_timeout must be positive"))
	}
	if e.ConnectTimeout <= 0 {
		errs = append(errs, errors.New("engine.connect_timeout must be positive"))
	}
	if e.TrackAbsenceSamples < 1 {
		errs = append(errs, errors.New("engine.track_absence_samples must be at least 1"))
	}
	if e.QueueCapacity < 1 || e.QueueCapacity > 2 {
		errs = append(errs, fmt.Errorf("engine.queue_capacity must be 1 or 2, got %d", e.QueueCapacity))
	}
	if e.LuminanceMin >= e.LuminanceMax {
		errs = append(errs, fmt.Errorf("engine.luminance range [%v, %v] is empty", e.LuminanceMin, e.LuminanceMax))
	}
	if e.ReconnectRetries < 0 {
		errs = append(errs, errors.New("engine.reconnect_retries must not be negative"))
	}
	switch e.EvidenceFormat {
	case "mjpeg", "ffmpeg":
	default:
		errs = append(errs, fmt.Errorf("engine.evidence_format %q is not supported", e.EvidenceFormat))
	}
	return errors.Join(errs...)
}
