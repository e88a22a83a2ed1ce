// Package config loads run configuration from an optional dotenv file, the
// process environment and command-line flags.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/Sternrassler/routing-export/pkg/client"
	"github.com/Sternrassler/routing-export/pkg/export"
	"github.com/Sternrassler/routing-export/pkg/institutions"
	"github.com/Sternrassler/routing-export/pkg/logging"
	"github.com/Sternrassler/routing-export/pkg/pagination"
	"github.com/spf13/viper"
)

// DefaultEnvFile is the dotenv file read when present.
const DefaultEnvFile = ".env.local"

// Configuration keys. Environment variables use the upper-cased key.
const (
	KeyEnvFile           = "env_file"
	KeyClientID          = "plaid_client_id"
	KeySecret            = "plaid_secret"
	KeyBaseURL           = "plaid_base_url"
	KeyCountryCodes      = "country_codes"
	KeyProxyEnabled      = "proxy_enabled"
	KeyProxyHost         = "proxy_host"
	KeyProxyPort         = "proxy_port"
	KeyProxyUser         = "proxy_user_name"
	KeyProxyPassword     = "proxy_user_password"
	KeyPageSize          = "page_size"
	KeyRequestDelay      = "request_delay"
	KeyTotalPolicy       = "total_policy"
	KeyLimit             = "limit"
	KeyMaxRetries        = "max_retries"
	KeyHTTPTimeout       = "http_timeout"
	KeyOutput            = "output"
	KeyLogLevel          = "log_level"
	KeyMetricsFile       = "metrics_file"
	keyRetryInitialDelay = "retry_initial_backoff"
	keyRetryMaxDelay     = "retry_max_backoff"
)

// Config is the resolved run configuration.
type Config struct {
	Run         institutions.Config
	Output      string
	LogLevel    logging.LogLevel
	MetricsFile string
}

// SetDefaults registers default values on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeyEnvFile, DefaultEnvFile)
	v.SetDefault(KeyBaseURL, client.SandboxBaseURL)
	v.SetDefault(KeyCountryCodes, "US")
	v.SetDefault(KeyProxyEnabled, false)
	v.SetDefault(KeyProxyPort, 8080)
	v.SetDefault(KeyPageSize, 500)
	v.SetDefault(KeyRequestDelay, 30*time.Second)
	v.SetDefault(KeyTotalPolicy, string(pagination.TotalLatest))
	v.SetDefault(KeyLimit, 0)
	v.SetDefault(KeyMaxRetries, 0)
	v.SetDefault(keyRetryInitialDelay, 5*time.Second)
	v.SetDefault(keyRetryMaxDelay, 60*time.Second)
	v.SetDefault(KeyHTTPTimeout, 30*time.Second)
	v.SetDefault(KeyOutput, export.DefaultPath)
	v.SetDefault(KeyLogLevel, string(logging.LevelInfo))
}

// Load reads the dotenv file named by env_file (if it exists), enables
// environment lookups and resolves the configuration. Flags must already be
// bound to v. Credentials are read as-is; missing ones are rejected upstream.
func Load(v *viper.Viper) (*Config, error) {
	SetDefaults(v)
	v.AutomaticEnv()

	if err := readEnvFile(v, v.GetString(KeyEnvFile)); err != nil {
		return nil, err
	}

	policy, err := pagination.ParseTotalPolicy(v.GetString(KeyTotalPolicy))
	if err != nil {
		return nil, err
	}

	pageSize := v.GetInt(KeyPageSize)
	if pageSize <= 0 {
		return nil, fmt.Errorf("%s must be > 0 (got %d)", KeyPageSize, pageSize)
	}

	delay := v.GetDuration(KeyRequestDelay)
	if delay < 0 {
		return nil, fmt.Errorf("%s must be >= 0 (got %s)", KeyRequestDelay, delay)
	}

	clientCfg := client.DefaultConfig(v.GetString(KeyClientID), v.GetString(KeySecret))
	clientCfg.BaseURL = v.GetString(KeyBaseURL)
	clientCfg.CountryCodes = SplitList(v.GetString(KeyCountryCodes))
	clientCfg.UseProxy = v.GetBool(KeyProxyEnabled)
	clientCfg.Proxy = client.ProxyConfig{
		Host:     v.GetString(KeyProxyHost),
		Port:     v.GetInt(KeyProxyPort),
		Username: v.GetString(KeyProxyUser),
		Password: v.GetString(KeyProxyPassword),
	}
	clientCfg.Timeout = v.GetDuration(KeyHTTPTimeout)
	clientCfg.Retry = client.RetryConfig{
		MaxRetries:     v.GetInt(KeyMaxRetries),
		InitialBackoff: v.GetDuration(keyRetryInitialDelay),
		MaxBackoff:     v.GetDuration(keyRetryMaxDelay),
	}

	return &Config{
		Run: institutions.Config{
			Client: clientCfg,
			Pagination: pagination.Config{
				PageSize:    pageSize,
				Delay:       delay,
				TotalPolicy: policy,
				Limit:       v.GetInt(KeyLimit),
			},
		},
		Output:      v.GetString(KeyOutput),
		LogLevel:    logging.LogLevel(v.GetString(KeyLogLevel)),
		MetricsFile: v.GetString(KeyMetricsFile),
	}, nil
}

// readEnvFile merges a dotenv file into v. A missing file is not an error.
func readEnvFile(v *viper.Viper, path string) error {
	if path == "" {
		return nil
	}

	v.SetConfigFile(path)
	v.SetConfigType("env")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.Is(err, fs.ErrNotExist) || errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}
	return nil
}

// SplitList splits a comma- or whitespace-separated list, dropping empties.
func SplitList(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n'
	})
	if len(fields) == 0 {
		return nil
	}
	return fields
}
