package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sort"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/spf13/viper"

	"github.com/angeloszaimis/llm-balancer/internal/adapter"
	"github.com/angeloszaimis/llm-balancer/internal/strategy"
	"github.com/angeloszaimis/llm-balancer/internal/worker"
)

const (
	EnvDev     = "dev"
	EnvStaging = "staging"
	EnvProd    = "prod"
)

const (
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"
)

type ServerConfig struct {
	Address     string `mapstructure:"address" json:"address"`
	Environment string `mapstructure:"environment" json:"environment"`
}

type LoggingConfig struct {
	Level     string `mapstructure:"level" json:"level"`
	AddSource bool   `mapstructure:"add_source" json:"add_source"`
}

// BalancerConfig holds the runtime tunables. Durations are Go duration
// strings such as "30s"; use Durations once the config is validated.
type BalancerConfig struct {
	HealthCheckInterval string `mapstructure:"health_check_interval" json:"health_check_interval"`
	RequestTimeout      string `mapstructure:"request_timeout" json:"request_timeout"`
	MaxRetries          int    `mapstructure:"max_retries" json:"max_retries"`
	MaxConcurrentBatch  int    `mapstructure:"max_concurrent_batch" json:"max_concurrent_batch"`
	ConnectionPoolSize  int    `mapstructure:"connection_pool_size" json:"connection_pool_size"`
	DNSCacheTTL         string `mapstructure:"dns_cache_ttl" json:"dns_cache_ttl"`
	EnableMetrics       bool   `mapstructure:"enable_metrics" json:"enable_metrics"`
	WorkerWindowSize    int    `mapstructure:"worker_window_size" json:"worker_window_size"`
	MetricsWindowSize   int    `mapstructure:"metrics_window_size" json:"metrics_window_size"`
}

type Durations struct {
	HealthCheckInterval time.Duration
	RequestTimeout      time.Duration
	DNSCacheTTL         time.Duration
}

// Durations parses the duration fields. Call it only on a validated config.
func (b BalancerConfig) Durations() Durations {
	hc, _ := time.ParseDuration(b.HealthCheckInterval)
	rt, _ := time.ParseDuration(b.RequestTimeout)
	ttl, _ := time.ParseDuration(b.DNSCacheTTL)

	return Durations{
		HealthCheckInterval: hc,
		RequestTimeout:      rt,
		DNSCacheTTL:         ttl,
	}
}

type StrategyConfig struct {
	Type      string `mapstructure:"type" json:"type"`
	Admission string `mapstructure:"admission" json:"admission"`
}

// CircuitBreakerConfig is disabled while Threshold is zero.
type CircuitBreakerConfig struct {
	Threshold    int    `mapstructure:"threshold" json:"threshold"`
	ResetTimeout string `mapstructure:"reset_timeout" json:"reset_timeout"`
}

func (c CircuitBreakerConfig) ResetTimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(c.ResetTimeout)
	return d
}

type WorkerConfig struct {
	ID                    string `mapstructure:"id" json:"id"`
	Host                  string `mapstructure:"host" json:"host"`
	Port                  int    `mapstructure:"port" json:"port"`
	Type                  string `mapstructure:"type" json:"type"`
	Model                 string `mapstructure:"model" json:"model"`
	MaxConcurrentRequests int    `mapstructure:"max_concurrent_requests" json:"max_concurrent_requests"`
}

type Config struct {
	Server          ServerConfig         `mapstructure:"server" json:"server"`
	Logging         LoggingConfig        `mapstructure:"logging" json:"logging"`
	Balancer        BalancerConfig       `mapstructure:"balancer" json:"balancer"`
	Strategy        StrategyConfig       `mapstructure:"strategy" json:"strategy"`
	CircuitBreaker  CircuitBreakerConfig `mapstructure:"circuit_breaker" json:"circuit_breaker"`
	RequestDefaults adapter.Options      `mapstructure:"request_defaults" json:"request_defaults"`
	Workers         []WorkerConfig       `mapstructure:"workers" json:"workers"`
}

// ConfigurationError reports an invalid or incomplete configuration.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return "configuration error: " + e.Reason
	}
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Reason)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.environment", EnvDev)
	v.SetDefault("server.address", ":8080")
	v.SetDefault("logging.level", LogLevelInfo)
	v.SetDefault("logging.add_source", false)

	v.SetDefault("balancer.health_check_interval", "30s")
	v.SetDefault("balancer.request_timeout", "300s")
	v.SetDefault("balancer.max_retries", 3)
	v.SetDefault("balancer.max_concurrent_batch", 50)
	v.SetDefault("balancer.connection_pool_size", 100)
	v.SetDefault("balancer.dns_cache_ttl", "300s")
	v.SetDefault("balancer.enable_metrics", true)
	v.SetDefault("balancer.worker_window_size", worker.DefaultWindowSize)
	v.SetDefault("balancer.metrics_window_size", 1000)

	v.SetDefault("strategy.type", string(strategy.TypeWeighted))
	v.SetDefault("strategy.admission", string(strategy.ModeAdvisory))

	v.SetDefault("circuit_breaker.threshold", 0)
	v.SetDefault("circuit_breaker.reset_timeout", "30s")

	defaults := adapter.DefaultOptions()
	v.SetDefault("request_defaults.temperature", defaults.Temperature)
	v.SetDefault("request_defaults.max_tokens", defaults.MaxTokens)
	v.SetDefault("request_defaults.top_p", defaults.TopP)
	v.SetDefault("request_defaults.top_k", defaults.TopK)
	v.SetDefault("request_defaults.repeat_penalty", defaults.RepeatPenalty)
}

// Load reads the configuration from path, or from config.yaml in ./config
// or the working directory when path is empty. Environment variables
// override file values, with dots replaced by underscores
// (BALANCER_MAX_RETRIES for balancer.max_retries).
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, &ConfigurationError{Field: "file", Reason: err.Error()}
		}
		slog.Warn("config file not found, using defaults and environment variables")
	} else {
		slog.Info("loaded config file", slog.String("file", v.ConfigFileUsed()))
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, &ConfigurationError{Reason: err.Error()}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks the whole configuration. The first problem found is
// returned as a *ConfigurationError.
func (c *Config) Validate() error {
	err := validation.ValidateStruct(c,
		validation.Field(&c.Server, validation.By(func(value any) error {
			sc := value.(ServerConfig)
			return validation.ValidateStruct(&sc,
				validation.Field(&sc.Environment,
					validation.Required,
					validation.In(EnvDev, EnvStaging, EnvProd),
				),
				validation.Field(&sc.Address,
					validation.Required,
					validation.By(validateHostPort),
				),
			)
		})),
		validation.Field(&c.Logging, validation.By(func(value any) error {
			lc := value.(LoggingConfig)
			return validation.ValidateStruct(&lc,
				validation.Field(&lc.Level,
					validation.Required,
					validation.In(LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError),
				),
			)
		})),
		validation.Field(&c.Balancer, validation.By(func(value any) error {
			bc := value.(BalancerConfig)
			return validation.ValidateStruct(&bc,
				validation.Field(&bc.HealthCheckInterval, validation.Required, validation.By(validateDuration)),
				validation.Field(&bc.RequestTimeout, validation.Required, validation.By(validateDuration), validation.By(validatePositive)),
				validation.Field(&bc.DNSCacheTTL, validation.Required, validation.By(validateDuration)),
				validation.Field(&bc.MaxRetries, validation.Min(0)),
				validation.Field(&bc.MaxConcurrentBatch, validation.Required, validation.Min(1)),
				validation.Field(&bc.ConnectionPoolSize, validation.Required, validation.Min(1)),
				validation.Field(&bc.WorkerWindowSize, validation.Required, validation.Min(1)),
				validation.Field(&bc.MetricsWindowSize, validation.Required, validation.Min(1)),
			)
		})),
		validation.Field(&c.Strategy, validation.By(func(value any) error {
			sc := value.(StrategyConfig)
			return validation.ValidateStruct(&sc,
				validation.Field(&sc.Type,
					validation.Required,
					validation.In(string(strategy.TypeWeighted), string(strategy.TypeRandom), string(strategy.TypeLeastLoad)),
				),
				validation.Field(&sc.Admission,
					validation.Required,
					validation.In(string(strategy.ModeAdvisory), string(strategy.ModeStrict)),
				),
			)
		})),
		validation.Field(&c.CircuitBreaker, validation.By(func(value any) error {
			cb := value.(CircuitBreakerConfig)
			return validation.ValidateStruct(&cb,
				validation.Field(&cb.Threshold, validation.Min(0)),
				validation.Field(&cb.ResetTimeout, validation.Required, validation.By(validateDuration)),
			)
		})),
		validation.Field(&c.RequestDefaults, validation.By(func(value any) error {
			o := value.(adapter.Options)
			return validation.ValidateStruct(&o,
				validation.Field(&o.MaxTokens, validation.Min(1)),
				validation.Field(&o.Temperature, validation.Min(0.0)),
				validation.Field(&o.TopP, validation.Min(0.0), validation.Max(1.0)),
			)
		})),
		validation.Field(&c.Workers,
			validation.Required,
			validation.Each(validation.By(validateWorker)),
			validation.By(validateUniqueIDs),
		),
	)

	return asConfigurationError(err)
}

func validateWorker(value any) error {
	w := value.(WorkerConfig)
	return validation.ValidateStruct(&w,
		validation.Field(&w.ID, validation.Required),
		validation.Field(&w.Host, validation.Required, is.Host),
		validation.Field(&w.Port, validation.Required, validation.Min(1), validation.Max(65535)),
		validation.Field(&w.Type,
			validation.Required,
			validation.In(string(worker.KindOllama), string(worker.KindLMStudio), string(worker.KindExo)),
		),
		validation.Field(&w.Model, validation.Required),
		validation.Field(&w.MaxConcurrentRequests, validation.Min(0)),
	)
}

func validateUniqueIDs(value any) error {
	workers := value.([]WorkerConfig)
	seen := make(map[string]struct{}, len(workers))
	for _, w := range workers {
		if _, ok := seen[w.ID]; ok && w.ID != "" {
			return validation.NewError("validation_duplicate_id", fmt.Sprintf("duplicate worker id %q", w.ID))
		}
		seen[w.ID] = struct{}{}
	}
	return nil
}

func validateHostPort(value any) error {
	addr, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return validation.NewError("validation_invalid_hostport", "must be in host:port format")
	}

	if err := is.Port.Validate(port); err != nil {
		return validation.NewError("validation_invalid_port", "invalid port")
	}

	if host != "" {
		if err := is.Host.Validate(host); err != nil {
			return validation.NewError("validation_invalid_host", "invalid host")
		}
	}

	return nil
}

func validateDuration(value any) error {
	s, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}
	if s == "" {
		return nil
	}

	d, err := time.ParseDuration(s)
	if err != nil {
		return validation.NewError("validation_invalid_duration", "must be a valid duration (e.g. 30s, 5m)")
	}
	if d < 0 {
		return validation.NewError("validation_negative_duration", "must not be negative")
	}

	return nil
}

func validatePositive(value any) error {
	s, _ := value.(string)
	if d, err := time.ParseDuration(s); err == nil && d == 0 {
		return validation.NewError("validation_zero_duration", "must be greater than zero")
	}
	return nil
}

// asConfigurationError picks the first failing field, in sorted order, out
// of a possibly nested ozzo error map.
func asConfigurationError(err error) error {
	if err == nil {
		return nil
	}

	field, leaf := firstFieldError("", err)
	return &ConfigurationError{Field: field, Reason: leaf.Error()}
}

func firstFieldError(prefix string, err error) (string, error) {
	var errs validation.Errors
	if !errors.As(err, &errs) || len(errs) == 0 {
		return prefix, err
	}

	keys := make([]string, 0, len(errs))
	for k := range errs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	key := keys[0]
	if prefix != "" {
		key = prefix + "." + key
	}

	return firstFieldError(key, errs[keys[0]])
}
