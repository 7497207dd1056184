package shared

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// SessionConfig pins the trading-day window on the exchange wall clock.
type SessionConfig struct {
	Timezone  string `envconfig:"MARKET_TIMEZONE" default:"Asia/Kolkata"`
	OpenHour  int    `envconfig:"MARKET_OPEN_HOUR" default:"9"`
	OpenMin   int    `envconfig:"MARKET_OPEN_MINUTE" default:"15"`
	CloseHour int    `envconfig:"MARKET_CLOSE_HOUR" default:"15"`
	CloseMin  int    `envconfig:"MARKET_CLOSE_MINUTE" default:"30"`
	EODHour   int    `envconfig:"EOD_PROCESSING_HOUR" default:"15"`
	EODMin    int    `envconfig:"EOD_PROCESSING_MINUTE" default:"45"`
}

// Location resolves the configured timezone.
func (s SessionConfig) Location() (*time.Location, error) {
	return time.LoadLocation(s.Timezone)
}

func (s SessionConfig) OpenMinuteOfDay() int  { return s.OpenHour*60 + s.OpenMin }
func (s SessionConfig) CloseMinuteOfDay() int { return s.CloseHour*60 + s.CloseMin }
func (s SessionConfig) EODMinuteOfDay() int   { return s.EODHour*60 + s.EODMin }

func (s SessionConfig) Validate() error {
	if _, err := s.Location(); err != nil {
		return fmt.Errorf("market timezone %q: %w", s.Timezone, err)
	}
	for _, v := range []struct {
		name string
		h, m int
	}{
		{"open", s.OpenHour, s.OpenMin},
		{"close", s.CloseHour, s.CloseMin},
		{"eod", s.EODHour, s.EODMin},
	} {
		if v.h < 0 || v.h > 23 || v.m < 0 || v.m > 59 {
			return fmt.Errorf("session %s time %02d:%02d out of range", v.name, v.h, v.m)
		}
	}
	if s.OpenMinuteOfDay() >= s.EODMinuteOfDay() {
		return errors.New("market open must precede eod processing time")
	}
	return nil
}

// StorageConfig holds the local staging and final directories.
type StorageConfig struct {
	StagingDir    string        `envconfig:"TEMP_DATA_DIR" default:"temp_kite_data"`
	FinalDir      string        `envconfig:"FINAL_DATA_DIR" default:"final_kite_data"`
	FlushInterval time.Duration `envconfig:"FLUSH_INTERVAL" default:"20s"`
}

func (s StorageConfig) Validate() error {
	if s.StagingDir == "" || s.FinalDir == "" {
		return errors.New("staging and final directories required")
	}
	if s.FlushInterval <= 0 {
		return errors.New("flush interval must be positive")
	}
	return nil
}

// S3Config controls the durable artifact hand-off.
type S3Config struct {
	Enabled bool   `envconfig:"SAVE_TO_S3" default:"true"`
	Bucket  string `envconfig:"S3_BUCKET_NAME" default:"kitebanknifty20250808"`
	Prefix  string `envconfig:"S3_PREFIX" default:"banknifty_data/"`
	Region  string `envconfig:"AWS_REGION" default:"ap-south-1"`
}

func (s S3Config) Validate() error {
	if s.Enabled && s.Bucket == "" {
		return errors.New("s3 bucket required when SAVE_TO_S3 is set")
	}
	return nil
}

// SecretsConfig locates the Kite credentials. The env overrides skip the
// Secrets Manager fetch entirely.
type SecretsConfig struct {
	SecretName  string `envconfig:"SECRETS_MANAGER_SECRET_NAME" default:"KiteConnectBankniftyData"`
	Region      string `envconfig:"AWS_REGION" default:"ap-south-1"`
	APIKey      string `envconfig:"KITE_API_KEY"`
	AccessToken string `envconfig:"KITE_ACCESS_TOKEN"`
}

// KafkaConfig holds broker details for the optional tick mirror.
type KafkaConfig struct {
	Brokers      string `envconfig:"KAFKA_BROKER" default:"localhost:9092"`
	ProducerAcks string `envconfig:"KAFKA_ACKS" default:"all"`
	LingerMS     int    `envconfig:"KAFKA_LINGER_MS" default:"5"`
	BatchBytes   int    `envconfig:"KAFKA_BATCH_BYTES" default:"1048576"` // 1MB
}

func (k KafkaConfig) BrokerList() []string {
	parts := strings.Split(k.Brokers, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return []string{"localhost:9092"}
	}
	return out
}

// MetricsConfig controls Prometheus listener.
type MetricsConfig struct {
	Port int `envconfig:"METRICS_PORT" default:"9000"`
}

// Load fills the given struct from environment.
func Load[T any](prefix string) (T, error) {
	var cfg T
	err := envconfig.Process(prefix, &cfg)
	return cfg, err
}
