package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, 500*time.Millisecond, cfg.Engine.SampleInterval)
	assert.Equal(t, 1, cfg.Engine.TrackAbsenceSamples)
	assert.Equal(t, 1, cfg.Engine.QueueCapacity)
	assert.Equal(t, "mjpeg", cfg.Engine.EvidenceFormat)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, "frames", cfg.Minio.FramesBucket)
	assert.Equal(t, "./uploads", cfg.Engine.UploadsDir)
}

func TestLoadConfigYAMLThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "local.yaml")
	yml := `
kafka:
  brokers: ["a:9092"]
engine:
  sample_interval: 250ms
  queue_capacity: 2
  classes: [steel]
`
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o644))
	t.Setenv("KAFKA_BROKERS", "b:9092,c:9092")
	t.Setenv("ENGINE_NO_FRAME_TIMEOUT", "3s")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"b:9092", "c:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 250*time.Millisecond, cfg.Engine.SampleInterval)
	assert.Equal(t, 2, cfg.Engine.QueueCapacity)
	assert.Equal(t, []string{"steel"}, cfg.Engine.Classes)
	assert.Equal(t, 3*time.Second, cfg.Engine.NoFrameTimeout)
	assert.Equal(t, 0.3, cfg.Engine.MinConfidence)
}

func TestEngineValidate(t *testing.T) {
	e := DefaultEngine()
	require.NoError(t, e.Validate())

	e.QueueCapacity = 3
	e.LuminanceMin = 200
	e.LuminanceMax = 100
	e.EvidenceFormat = "avi"
	err := e.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "queue_capacity")
	assert.Contains(t, err.Error(), "luminance")
	assert.Contains(t, err.Error(), "avi")
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
