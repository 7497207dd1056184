package shared

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSessionConfigDefaults(t *testing.T) {
	cfg, err := Load[SessionConfig]("")
	require.NoError(t, err)
	require.Equal(t, "Asia/Kolkata", cfg.Timezone)
	require.Equal(t, 9*60+15, cfg.OpenMinuteOfDay())
	require.Equal(t, 15*60+30, cfg.CloseMinuteOfDay())
	require.Equal(t, 15*60+45, cfg.EODMinuteOfDay())
	require.NoError(t, cfg.Validate())

	loc, err := cfg.Location()
	require.NoError(t, err)
	require.Equal(t, "Asia/Kolkata", loc.String())
}

func TestSessionConfigValidate(t *testing.T) {
	cfg := SessionConfig{Timezone: "Not/AZone", OpenHour: 9, OpenMin: 15, EODHour: 15, EODMin: 45}
	require.Error(t, cfg.Validate())

	cfg = SessionConfig{Timezone: "UTC", OpenHour: 25, EODHour: 15, EODMin: 45}
	require.Error(t, cfg.Validate())

	// Open at or after EOD makes no session at all.
	cfg = SessionConfig{Timezone: "UTC", OpenHour: 16, CloseHour: 15, CloseMin: 30, EODHour: 15, EODMin: 45}
	require.Error(t, cfg.Validate())
}

func TestStorageConfigOverridesAndValidate(t *testing.T) {
	t.Setenv("TEMP_DATA_DIR", "/tmp/stage")
	t.Setenv("FLUSH_INTERVAL", "5s")

	cfg, err := Load[StorageConfig]("")
	require.NoError(t, err)
	require.Equal(t, "/tmp/stage", cfg.StagingDir)
	require.Equal(t, "final_kite_data", cfg.FinalDir)
	require.Equal(t, 5*time.Second, cfg.FlushInterval)
	require.NoError(t, cfg.Validate())

	cfg.FlushInterval = 0
	require.Error(t, cfg.Validate())

	cfg.FlushInterval = time.Second
	cfg.StagingDir = ""
	require.Error(t, cfg.Validate())
}

func TestS3ConfigValidate(t *testing.T) {
	cfg := S3Config{Enabled: true}
	require.Error(t, cfg.Validate())

	cfg.Bucket = "bucket"
	require.NoError(t, cfg.Validate())

	require.NoError(t, S3Config{Enabled: false}.Validate())
}

func TestKafkaBrokerList(t *testing.T) {
	cfg := KafkaConfig{Brokers: "b1:9092, b2:9092 ,,"}
	require.Equal(t, []string{"b1:9092", "b2:9092"}, cfg.BrokerList())
	require.Equal(t, []string{"localhost:9092"}, KafkaConfig{}.BrokerList())
}
