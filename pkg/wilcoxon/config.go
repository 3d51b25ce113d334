package wilcoxon

import (
	"fmt"
	"math"
	"os"
	"runtime"
	"sort"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"github.com/bioc/airpart/pkg/linkage"
	"github.com/bioc/airpart/pkg/models"
	"github.com/bioc/airpart/pkg/ranktest"
)

// Config manages engine configuration using Viper
type Config struct {
	v *viper.Viper
}

// NewConfig creates a new configuration with defaults
func NewConfig() *Config {
	v := viper.New()

	// Empty means DefaultThresholds.
	v.SetDefault("threshold.values", []float64{})

	v.SetDefault("test.exact", "auto")
	v.SetDefault("test.correct", true)
	v.SetDefault("test.p_adjust", "none")

	v.SetDefault("cluster.linkage", "complete")

	v.SetDefault("performance.num_workers", runtime.NumCPU())

	v.SetDefault("logging.level", "info")

	return &Config{v: v}
}

// LoadFromFile loads configuration from file
func (c *Config) LoadFromFile(path string) error {
	c.v.SetConfigFile(path)
	return c.v.ReadInConfig()
}

// Set allows dynamic configuration changes
func (c *Config) Set(key string, value interface{}) {
	c.v.Set(key, value)
}

// DefaultThresholds returns 10^-2, 10^-1.8, ..., 10^-0.4.
func DefaultThresholds() []float64 {
	out := make([]float64, 9)
	for i := range out {
		out[i] = math.Pow(10, -2+0.2*float64(i))
	}
	return out
}

// Thresholds returns the candidate path sorted ascending without
// duplicates.
func (c *Config) Thresholds() ([]float64, error) {
	raw, err := models.FloatSlice(c.v.Get("threshold.values"))
	if err != nil {
		return nil, fmt.Errorf("threshold.values: %w", err)
	}
	if len(raw) == 0 {
		return DefaultThresholds(), nil
	}
	sort.Float64s(raw)
	out := make([]float64, 0, len(raw))
	for i, t := range raw {
		if math.IsNaN(t) || t <= 0 || t > 1 {
			return nil, fmt.Errorf("threshold.values: %v is not in (0, 1]", t)
		}
		if i > 0 && t == raw[i-1] {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

func (c *Config) TestOptions() (ranktest.Options, error) {
	exact, err := ranktest.ParseExactMode(c.v.GetString("test.exact"))
	if err != nil {
		return ranktest.Options{}, err
	}
	return ranktest.Options{Exact: exact, Correct: c.v.GetBool("test.correct")}, nil
}

func (c *Config) PAdjust() (ranktest.AdjustMethod, error) {
	return ranktest.ParseAdjustMethod(c.v.GetString("test.p_adjust"))
}

func (c *Config) Linkage() (linkage.Method, error) {
	return linkage.ParseMethod(c.v.GetString("cluster.linkage"))
}

func (c *Config) NumWorkers() int {
	if n := c.v.GetInt("performance.num_workers"); n > 0 {
		return n
	}
	return 1
}

func (c *Config) LogLevel() string { return c.v.GetString("logging.level") }

// CreateLogger creates a zerolog logger based on config
func (c *Config) CreateLogger() zerolog.Logger {
	level, err := zerolog.ParseLevel(c.LogLevel())
	if err != nil {
		level = zerolog.InfoLevel
	}

	return zerolog.New(zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: "15:04:05",
	}).Level(level).With().Timestamp().Str("service", "wilcoxon").Logger()
}
