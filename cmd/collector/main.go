package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/prometheus/client_golang/prometheus"

	"kite-collector/pkg/collector"
	"kite-collector/pkg/feed"
	"kite-collector/pkg/secrets"
	"kite-collector/pkg/shared"
	"kite-collector/pkg/storage"
	"kite-collector/pkg/universe"
)

// Config is the collector's full environment surface.
type Config struct {
	Session  shared.SessionConfig
	Storage  shared.StorageConfig
	S3       shared.S3Config
	Secrets  shared.SecretsConfig
	Kafka    shared.KafkaConfig
	Metrics  shared.MetricsConfig
	Universe universe.Config

	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`
	MirrorTicks    bool   `envconfig:"MIRROR_TICKS" default:"false"`
	TicksTopic     string `envconfig:"TICKS_TOPIC" default:"ticks"`
	SubscribeBatch int    `envconfig:"SUBSCRIBE_BATCH" default:"200"`
	SimTicks       bool   `envconfig:"SIM_TICKS" default:"false"`
	SimTokens      int    `envconfig:"SIM_TOKENS" default:"8"`
	SimStepMs      int    `envconfig:"SIM_STEP_MS" default:"100"`
}

func (c Config) Validate() error {
	if err := c.Session.Validate(); err != nil {
		return err
	}
	if err := c.Storage.Validate(); err != nil {
		return err
	}
	return c.S3.Validate()
}

func main() {
	_ = godotenv.Load()

	var cfg Config
	envconfig.MustProcess("", &cfg)
	logger := shared.NewLogger("collector", cfg.LogLevel)
	if err := cfg.Validate(); err != nil {
		logger.Fatalf("invalid configuration: %v", err)
	}
	loc, err := cfg.Session.Location()
	if err != nil {
		logger.Fatalf("load market timezone: %v", err)
	}

	m := collector.NewMetrics(prometheus.DefaultRegisterer)
	ms := shared.NewMetricsServer(cfg.Metrics.Port)
	ms.Start()

	ctx, stopSig := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stopSig()

	buf := collector.NewBuffer()
	store, err := collector.NewFragmentStore(cfg.Storage.StagingDir, shared.Named(logger, "fragments"))
	if err != nil {
		logger.Fatalf("staging store init: %v", err)
	}

	var mirror shared.Producer
	if cfg.MirrorTicks {
		mirror, err = shared.NewProducer(cfg.Kafka, cfg.TicksTopic)
		if err != nil {
			logger.Fatalf("kafka producer init: %v", err)
		}
		defer mirror.Close()
	}

	var src collector.Feed
	var resolver collector.Resolver
	if cfg.SimTicks {
		src = feed.NewSim(time.Duration(cfg.SimStepMs)*time.Millisecond, cfg.Universe.FallbackATM, loc, shared.Named(logger, "sim"))
		resolver = universe.Static{Tokens: simTokens(cfg.SimTokens)}
	} else {
		creds, err := secrets.Load(ctx, cfg.Secrets, shared.Named(logger, "secrets"))
		if err != nil {
			logger.Fatalf("kite credentials: %v", err)
		}
		fm := feed.NewMetrics(prometheus.DefaultRegisterer)
		src = feed.NewKite(creds.APIKey, creds.AccessToken, cfg.SubscribeBatch, loc, shared.Named(logger, "feed"), fm)
		resolver = universe.NewKiteResolver(creds.APIKey, creds.AccessToken, cfg.Universe, shared.Named(logger, "universe"))
	}

	var sink collector.Sink
	if cfg.S3.Enabled {
		s3sink, err := storage.NewS3Sink(ctx, cfg.S3, shared.Named(logger, "s3"))
		if err != nil {
			logger.Fatalf("s3 sink init: %v", err)
		}
		sink = s3sink
	}

	app := &collector.App{
		Session:  cfg.Session,
		Loc:      loc,
		Buffer:   buf,
		Feed:     src,
		Resolver: resolver,
		Flusher:  collector.NewFlusher(buf, store, cfg.Storage.FlushInterval, mirror, shared.Named(logger, "flusher"), m),
		Cons:     collector.NewConsolidator(buf, store, loc, cfg.Storage.FinalDir, sink, cfg.S3.Prefix, shared.Named(logger, "consolidate"), m),
		Log:      logger,
		M:        m,
	}

	logger.Infof("starting banknifty collector: staging=%s final=%s flush=%s sim=%v s3=%v mirror=%v",
		cfg.Storage.StagingDir, cfg.Storage.FinalDir, cfg.Storage.FlushInterval, cfg.SimTicks, cfg.S3.Enabled, cfg.MirrorTicks)

	if err := app.Run(ctx); err != nil {
		logger.Fatalf("session failed: %v", err)
	}
	logger.Infof("collector exiting")
}

// simTokens fabricates a stable token list for simulated sessions.
func simTokens(n int) []uint32 {
	if n <= 0 {
		n = 1
	}
	out := make([]uint32, n)
	for i := range out {
		out[i] = uint32(700000 + i*100)
	}
	return out
}
