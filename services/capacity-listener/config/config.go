package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config holds typed configuration for the capacity listener.
type Config struct {
	LogLevel        string
	LogFile         string
	KafkaBrokers    string
	CapacityTopic   string
	GroupID         string
	RedisAddr       string
	PostgresDSN     string
	MetricsAddr     string
	OTelEndpoint    string
	OTelSampleRatio float64
}

// Load reads all values from the given viper instance.
func Load(v *viper.Viper) Config {
	return Config{
		LogLevel:        v.GetString("log_level"),
		LogFile:         v.GetString("log_file"),
		KafkaBrokers:    v.GetString("kafka_brokers"),
		CapacityTopic:   v.GetString("capacity_topic"),
		GroupID:         v.GetString("group_id"),
		RedisAddr:       v.GetString("redis_addr"),
		PostgresDSN:     v.GetString("postgres_dsn"),
		MetricsAddr:     v.GetString("metrics_addr"),
		OTelEndpoint:    v.GetString("otel_endpoint"),
		OTelSampleRatio: v.GetFloat64("otel_sample_ratio"),
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

// Validate rejects values the listener cannot run with.
func (c Config) Validate() error {
	switch {
	case c.PostgresDSN == "":
		return fmt.Errorf("postgres_dsn is required")
	case len(c.Brokers()) == 0:
		return fmt.Errorf("kafka_brokers is required")
	case c.CapacityTopic == "" || c.GroupID == "":
		return fmt.Errorf("capacity_topic and group_id are required")
	}
	return nil
}
