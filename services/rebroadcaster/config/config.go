package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
)

// Config holds typed configuration for the rebroadcaster service.
type Config struct {
	LogLevel            string
	LogFile             string
	KafkaBrokers        string
	RedisAddr           string
	PostgresDSN         string
	MetricsAddr         string
	OTelEndpoint        string
	OTelSampleRatio     float64
	TickSchedule        string
	ScanLimit           int
	TickConcurrency     int
	BroadcastRateLimit  int
	BroadcastTopic      string
	ResponseTopic       string
	ResourceFiltering   bool
	HeartbeatStaleAfter time.Duration
}

// Load reads all values from the given viper instance.
func Load(v *viper.Viper) Config {
	return Config{
		LogLevel:            v.GetString("log_level"),
		LogFile:             v.GetString("log_file"),
		KafkaBrokers:        v.GetString("kafka_brokers"),
		RedisAddr:           v.GetString("redis_addr"),
		PostgresDSN:         v.GetString("postgres_dsn"),
		MetricsAddr:         v.GetString("metrics_addr"),
		OTelEndpoint:        v.GetString("otel_endpoint"),
		OTelSampleRatio:     v.GetFloat64("otel_sample_ratio"),
		TickSchedule:        v.GetString("tick_schedule"),
		ScanLimit:           v.GetInt("scan_limit"),
		TickConcurrency:     v.GetInt("tick_concurrency"),
		BroadcastRateLimit:  v.GetInt("broadcast_rate_limit"),
		BroadcastTopic:      v.GetString("broadcast_topic"),
		ResponseTopic:       v.GetString("response_topic"),
		ResourceFiltering:   v.GetBool("resource_filtering"),
		HeartbeatStaleAfter: v.GetDuration("heartbeat_stale_after"),
	}
}

// Brokers splits the comma-separated broker list.
func (c Config) Brokers() []string {
	var out []string
	for _, b := range strings.Split(c.KafkaBrokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

// Schedule parses TickSchedule as a standard cron spec or descriptor.
func (c Config) Schedule() (cron.Schedule, error) {
	sched, err := cron.ParseStandard(c.TickSchedule)
	if err != nil {
		return nil, fmt.Errorf("tick_schedule %q: %w", c.TickSchedule, err)
	}
	return sched, nil
}

// Validate rejects values the service cannot run with.
func (c Config) Validate() error {
	if c.PostgresDSN == "" {
		return fmt.Errorf("postgres_dsn is required")
	}
	if len(c.Brokers()) == 0 {
		return fmt.Errorf("kafka_brokers is required")
	}
	if c.ScanLimit <= 0 {
		return fmt.Errorf("scan_limit must be positive, got %d", c.ScanLimit)
	}
	if c.BroadcastRateLimit < 0 {
		return fmt.Errorf("broadcast_rate_limit must not be negative, got %d", c.BroadcastRateLimit)
	}
	if _, err := c.Schedule(); err != nil {
		return err
	}
	return nil
}
