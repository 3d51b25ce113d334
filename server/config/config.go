package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server ServerConfig
	Jobs   JobConfig
	CORS   CORSConfig
}

type ServerConfig struct {
	Address         string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	MaxBodyBytes    int64
	LogLevel        string
}

type JobConfig struct {
	MaxWorkers      int
	MaxPerDataset   int
	JobTimeout      time.Duration
	CleanupInterval time.Duration
	ResultTTL       time.Duration
	EngineWorkers   int
}

type CORSConfig struct {
	AllowedOrigins []string
}

// Load reads defaults, an optional config file and AIRPART_* environment
// variables, e.g. AIRPART_JOBS_MAX_WORKERS=8.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)
	v.SetDefault("server.max_body_bytes", int64(100<<20))
	v.SetDefault("server.log_level", "info")
	v.SetDefault("jobs.max_workers", 4)
	v.SetDefault("jobs.max_per_dataset", 3)
	v.SetDefault("jobs.timeout", 10*time.Minute)
	v.SetDefault("jobs.cleanup_interval", 5*time.Minute)
	v.SetDefault("jobs.result_ttl", time.Hour)
	v.SetDefault("jobs.engine_workers", 0)
	v.SetDefault("cors.allowed_origins", []string{"*"})

	v.SetEnvPrefix("AIRPART")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{
		Server: ServerConfig{
			Address:         v.GetString("server.address"),
			ReadTimeout:     v.GetDuration("server.read_timeout"),
			WriteTimeout:    v.GetDuration("server.write_timeout"),
			ShutdownTimeout: v.GetDuration("server.shutdown_timeout"),
			MaxBodyBytes:    v.GetInt64("server.max_body_bytes"),
			LogLevel:        v.GetString("server.log_level"),
		},
		Jobs: JobConfig{
			MaxWorkers:      v.GetInt("jobs.max_workers"),
			MaxPerDataset:   v.GetInt("jobs.max_per_dataset"),
			JobTimeout:      v.GetDuration("jobs.timeout"),
			CleanupInterval: v.GetDuration("jobs.cleanup_interval"),
			ResultTTL:       v.GetDuration("jobs.result_ttl"),
			EngineWorkers:   v.GetInt("jobs.engine_workers"),
		},
		CORS: CORSConfig{
			AllowedOrigins: v.GetStringSlice("cors.allowed_origins"),
		},
	}
	if cfg.Jobs.MaxWorkers < 1 {
		return nil, fmt.Errorf("jobs.max_workers must be at least 1, got %d", cfg.Jobs.MaxWorkers)
	}
	return cfg, nil
}
