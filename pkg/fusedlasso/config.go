package fusedlasso

import (
	"fmt"
	"math"
	"os"
	"runtime"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"github.com/bioc/airpart/pkg/models"
)

// Config manages engine configuration using Viper
type Config struct {
	v *viper.Viper
}

// NewConfig creates a new configuration with defaults
func NewConfig() *Config {
	v := viper.New()

	// Model
	v.SetDefault("model.family", string(Binomial))
	v.SetDefault("model.penalty", string(GraphFused))
	v.SetDefault("model.grouping", "x")
	v.SetDefault("model.extra_terms", []string{})

	// Lambda path and selection
	v.SetDefault("lambda.values", []float64{})
	v.SetDefault("lambda.selection", string(CV1SE))
	v.SetDefault("lambda.length", 25)
	v.SetDefault("lambda.min_ratio", 1e-4)
	v.SetDefault("cv.k", 5)
	v.SetDefault("cv.tolerance", 1e-5)
	v.SetDefault("se_rule.nct", 8)
	v.SetDefault("se_rule.mult", 0.5)

	// Algorithm parameters
	v.SetDefault("algorithm.niter", 1)
	v.SetDefault("algorithm.random_seed", time.Now().UnixNano())
	v.SetDefault("algorithm.max_iterations", 5000)
	v.SetDefault("algorithm.tolerance", 1e-7)
	v.SetDefault("algorithm.rho", 1.0)

	// Performance parameters
	v.SetDefault("performance.num_workers", runtime.NumCPU())

	// Logging parameters
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

// Model builds the declared model terms.
func (c *Config) Model() (Model, error) {
	penalty, err := ParsePenalty(c.v.GetString("model.penalty"))
	if err != nil {
		return Model{}, err
	}
	m := Model{Grouping: c.v.GetString("model.grouping"), Penalty: penalty}
	for _, name := range c.v.GetStringSlice("model.extra_terms") {
		m.Extra = append(m.Extra, Term{Name: name})
	}
	return m, nil
}

func (c *Config) Family() (Family, error) { return ParseFamily(c.v.GetString("model.family")) }

func (c *Config) Selection() (Policy, error) {
	return ParsePolicy(c.v.GetString("lambda.selection"))
}

// Lambdas returns the user supplied λ values, empty when the path is built
// automatically. Values must be finite and non-negative.
func (c *Config) Lambdas() ([]float64, error) {
	values, err := models.FloatSlice(c.v.Get("lambda.values"))
	if err != nil {
		return nil, models.ValidationError{Field: "lambda.values", Message: err.Error()}
	}
	for _, l := range values {
		if math.IsNaN(l) || math.IsInf(l, 0) || l < 0 {
			return nil, models.ValidationError{Field: "lambda.values", Message: "must be finite and non-negative", Value: fmt.Sprint(l)}
		}
	}
	return values, nil
}

func (c *Config) LambdaLength() int { return c.v.GetInt("lambda.length") }
func (c *Config) LambdaMinRatio() float64 { return c.v.GetFloat64("lambda.min_ratio") }
func (c *Config) Folds() int { return c.v.GetInt("cv.k") }
func (c *Config) CVTolerance() float64 { return c.v.GetFloat64("cv.tolerance") }
func (c *Config) SERuleNct() int { return c.v.GetInt("se_rule.nct") }
func (c *Config) SERuleMult() float64 { return c.v.GetFloat64("se_rule.mult") }
func (c *Config) NIter() int { return c.v.GetInt("algorithm.niter") }
func (c *Config) RandomSeed() int64 { return c.v.GetInt64("algorithm.random_seed") }
func (c *Config) MaxIterations() int { return c.v.GetInt("algorithm.max_iterations") }
func (c *Config) Tolerance() float64 { return c.v.GetFloat64("algorithm.tolerance") }
func (c *Config) Rho() float64 { return c.v.GetFloat64("algorithm.rho") }
func (c *Config) LogLevel() string { return c.v.GetString("logging.level") }

func (c *Config) NumWorkers() int {
	if n := c.v.GetInt("performance.num_workers"); n > 0 {
		return n
	}
	return 1
}

// CreateLogger creates a zerolog logger based on config
func (c *Config) CreateLogger() zerolog.Logger {
	level, err := zerolog.ParseLevel(c.LogLevel())
	if err != nil {
		level = zerolog.InfoLevel
	}

	return zerolog.New(zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: "15:04:05",
	}).Level(level).With().Timestamp().Str("service", "fusedlasso").Logger()
}
