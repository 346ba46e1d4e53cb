package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/spf13/viper"
)

// Viper keys shared by the CLI flags, the environment and config files.
const (
	KeyStartBlock        = "start-block"
	KeyTargetCount       = "target-count"
	KeyOutput            = "output"
	KeyBaseURL           = "base-url"
	KeyRequestTimeout    = "request-timeout"
	KeyRetryDelay        = "retry-delay"
	KeyInterRequestDelay = "inter-request-delay"
	KeyMaxRetries        = "max-retries"
	KeyNoProgress        = "no-progress"
	KeyPostgresDSN       = "postgres-dsn"

	KeyHost        = "host"
	KeyHashesFile  = "hashes-file"
	KeyUsers       = "users"
	KeySpawnRate   = "spawn-rate"
	KeyRunTime     = "run-time"
	KeyWaitMin     = "wait-min"
	KeyWaitMax     = "wait-max"
	KeyMetricsAddr = "metrics-addr"
)

const (
	DefaultStartBlock        = 3000000
	DefaultTargetCount       = 100
	DefaultHashesFile        = "tx_hashes.json"
	DefaultBaseURL           = "https://xmr.se/api/block"
	DefaultRequestTimeout    = 10 * time.Second
	DefaultRetryDelay        = 5 * time.Second
	DefaultInterRequestDelay = 100 * time.Millisecond

	DefaultHost    = "http://localhost:8081"
	DefaultWaitMin = 1 * time.Second
	DefaultWaitMax = 2 * time.Second
)

// CollectConfig configures a collection run.
type CollectConfig struct {
	StartBlock        uint64
	TargetCount       uint
	OutputPath        string
	BaseURL           string
	RequestTimeout    time.Duration
	RetryDelay        time.Duration
	InterRequestDelay time.Duration
	// MaxRetries bounds the consecutive transient failures tolerated for one block; 0 retries forever.
	MaxRetries   uint
	ShowProgress bool
	PostgresDSN  string
}

// LoadConfig configures a load run against the API under test.
type LoadConfig struct {
	Host           string
	HashesFile     string
	Users          uint
	SpawnRate      float64
	RunTime        time.Duration
	WaitMin        time.Duration
	WaitMax        time.Duration
	RequestTimeout time.Duration
	MetricsAddr    string
}

// DefaultCollectConfig returns the collect settings used when nothing is overridden.
func DefaultCollectConfig() CollectConfig {
	return CollectConfig{
		StartBlock:        DefaultStartBlock,
		TargetCount:       DefaultTargetCount,
		OutputPath:        DefaultHashesFile,
		BaseURL:           DefaultBaseURL,
		RequestTimeout:    DefaultRequestTimeout,
		RetryDelay:        DefaultRetryDelay,
		InterRequestDelay: DefaultInterRequestDelay,
		ShowProgress:      true,
	}
}

// DefaultLoadConfig returns the load settings used when nothing is overridden.
func DefaultLoadConfig() LoadConfig {
	return LoadConfig{
		Host:           DefaultHost,
		HashesFile:     DefaultHashesFile,
		Users:          1,
		SpawnRate:      1,
		WaitMin:        DefaultWaitMin,
		WaitMax:        DefaultWaitMax,
		RequestTimeout: DefaultRequestTimeout,
	}
}

// SetCollectDefaults registers the collect defaults on v.
func SetCollectDefaults(v *viper.Viper) {
	d := DefaultCollectConfig()
	v.SetDefault(KeyStartBlock, d.StartBlock)
	v.SetDefault(KeyTargetCount, d.TargetCount)
	v.SetDefault(KeyOutput, d.OutputPath)
	v.SetDefault(KeyBaseURL, d.BaseURL)
	v.SetDefault(KeyRequestTimeout, d.RequestTimeout)
	v.SetDefault(KeyRetryDelay, d.RetryDelay)
	v.SetDefault(KeyInterRequestDelay, d.InterRequestDelay)
	v.SetDefault(KeyMaxRetries, d.MaxRetries)
	v.SetDefault(KeyNoProgress, !d.ShowProgress)
}

// SetLoadDefaults registers the load defaults on v.
func SetLoadDefaults(v *viper.Viper) {
	d := DefaultLoadConfig()
	v.SetDefault(KeyHost, d.Host)
	v.SetDefault(KeyHashesFile, d.HashesFile)
	v.SetDefault(KeyUsers, d.Users)
	v.SetDefault(KeySpawnRate, d.SpawnRate)
	v.SetDefault(KeyRunTime, d.RunTime)
	v.SetDefault(KeyWaitMin, d.WaitMin)
	v.SetDefault(KeyWaitMax, d.WaitMax)
	v.SetDefault(KeyRequestTimeout, d.RequestTimeout)
}

// LoadCollectConfig reads and validates a CollectConfig from v.
func LoadCollectConfig(v *viper.Viper) (CollectConfig, error) {
	cfg := CollectConfig{
		StartBlock:        v.GetUint64(KeyStartBlock),
		TargetCount:       v.GetUint(KeyTargetCount),
		OutputPath:        v.GetString(KeyOutput),
		BaseURL:           v.GetString(KeyBaseURL),
		RequestTimeout:    v.GetDuration(KeyRequestTimeout),
		RetryDelay:        v.GetDuration(KeyRetryDelay),
		InterRequestDelay: v.GetDuration(KeyInterRequestDelay),
		MaxRetries:        v.GetUint(KeyMaxRetries),
		ShowProgress:      !v.GetBool(KeyNoProgress),
		PostgresDSN:       v.GetString(KeyPostgresDSN),
	}
	if err := cfg.Validate(); err != nil {
		return CollectConfig{}, err
	}
	return cfg, nil
}

// LoadLoadConfig reads and validates a LoadConfig from v.
func LoadLoadConfig(v *viper.Viper) (LoadConfig, error) {
	cfg := LoadConfig{
		Host:           v.GetString(KeyHost),
		HashesFile:     v.GetString(KeyHashesFile),
		Users:          v.GetUint(KeyUsers),
		SpawnRate:      v.GetFloat64(KeySpawnRate),
		RunTime:        v.GetDuration(KeyRunTime),
		WaitMin:        v.GetDuration(KeyWaitMin),
		WaitMax:        v.GetDuration(KeyWaitMax),
		RequestTimeout: v.GetDuration(KeyRequestTimeout),
		MetricsAddr:    v.GetString(KeyMetricsAddr),
	}
	if err := cfg.Validate(); err != nil {
		return LoadConfig{}, err
	}
	return cfg, nil
}

// Validate reports the first invalid collect setting.
func (c CollectConfig) Validate() error {
	if c.TargetCount == 0 {
		return fmt.Errorf("target count must be greater than zero")
	}
	if c.OutputPath == "" {
		return fmt.Errorf("output path must be set")
	}
	if err := validateAbsoluteURL("base URL", c.BaseURL); err != nil {
		return err
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request timeout must be positive, got %s", c.RequestTimeout)
	}
	if c.RetryDelay < 0 || c.InterRequestDelay < 0 {
		return fmt.Errorf("delays must not be negative")
	}
	return nil
}

// Validate reports the first invalid load setting.
func (c LoadConfig) Validate() error {
	if err := validateAbsoluteURL("host", c.Host); err != nil {
		return err
	}
	if c.HashesFile == "" {
		return fmt.Errorf("hashes file must be set")
	}
	if c.Users == 0 {
		return fmt.Errorf("at least one user is required")
	}
	if c.SpawnRate < 0 {
		return fmt.Errorf("spawn rate must not be negative")
	}
	if c.RunTime < 0 {
		return fmt.Errorf("run time must not be negative")
	}
	if c.WaitMin <= 0 || c.WaitMax < c.WaitMin {
		return fmt.Errorf("invalid wait bounds [%s, %s]", c.WaitMin, c.WaitMax)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request timeout must be positive, got %s", c.RequestTimeout)
	}
	return nil
}

func validateAbsoluteURL(name, raw string) error {
	if raw == "" {
		return fmt.Errorf("%s must be set", name)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", name, raw, err)
	}
	if !u.IsAbs() || u.Host == "" {
		return fmt.Errorf("%s %q must be an absolute URL", name, raw)
	}
	return nil
}
