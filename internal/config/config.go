package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/hearthlist/wpcache/internal/cache"
	"github.com/hearthlist/wpcache/internal/origin"
)

const EnvPrefix = "WPCACHE"

// Keys shared by viper, env vars (WPCACHE_<KEY>) and cobra flag bindings.
const (
	KeyConfigFile         = "config"
	KeyListenAddr         = "listen_addr"
	KeyPrimaryOrigin      = "primary_origin"
	KeyFallbackOrigins    = "fallback_origins"
	KeyFreshWindow        = "fresh_window"
	KeyStaleWindow        = "stale_window"
	KeyRequestTimeout     = "request_timeout"
	KeyRefreshTimeout     = "refresh_timeout"
	KeyRefreshConcurrency = "refresh_concurrency"
	KeyRoutes             = "routes"
	KeyRedisAddr          = "redis_addr"
	KeyRedisDB            = "redis_db"
	KeyRedisPassword      = "redis_password"
	KeyRedisChannel       = "redis_channel"
	KeyS3Endpoint         = "s3_endpoint"
	KeyS3Region           = "s3_region"
	KeyS3AccessKey        = "s3_access_key"
	KeyS3SecretKey        = "s3_secret_key"
	KeyDownstreamPurgeURL = "downstream_purge_url"
	KeyLogLevel           = "log_level"
	KeyLogJSON            = "log_json"
)

type Config struct {
	ListenAddr         string        `yaml:"listen_addr" validate:"required"`
	PrimaryOrigin      string        `yaml:"primary_origin" validate:"omitempty,origin"`
	FallbackOrigins    []string      `yaml:"fallback_origins" validate:"dive,origin"`
	FreshWindow        time.Duration `yaml:"fresh_window" validate:"gt=0"`
	StaleWindow        time.Duration `yaml:"stale_window" validate:"gt=0"`
	RequestTimeout     time.Duration `yaml:"request_timeout" validate:"gt=0"`
	RefreshTimeout     time.Duration `yaml:"refresh_timeout" validate:"gt=0"`
	RefreshConcurrency int           `yaml:"refresh_concurrency" validate:"min=1"`
	Routes             []origin.Rule `yaml:"routes,omitempty" validate:"dive"`
	RedisAddr          string        `yaml:"redis_addr,omitempty" validate:"omitempty,hostname_port"`
	RedisDB            int           `yaml:"redis_db" validate:"min=0"`
	RedisPassword      string        `yaml:"redis_password,omitempty"`
	RedisChannel       string        `yaml:"redis_channel,omitempty"`
	S3Endpoint         string        `yaml:"s3_endpoint,omitempty" validate:"omitempty,url"`
	S3Region           string        `yaml:"s3_region,omitempty"`
	S3AccessKey        string        `yaml:"s3_access_key,omitempty"`
	S3SecretKey        string        `yaml:"s3_secret_key,omitempty"`
	DownstreamPurgeURL string        `yaml:"downstream_purge_url,omitempty" validate:"omitempty,url"`
	LogLevel           string        `yaml:"log_level" validate:"oneof=debug info warn error"`
	LogJSON            bool          `yaml:"log_json"`
}

// SetDefaults registers default values on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeyListenAddr, ":8080")
	v.SetDefault(KeyFreshWindow, cache.DefaultFreshWindow)
	v.SetDefault(KeyStaleWindow, cache.DefaultStaleWindow)
	v.SetDefault(KeyRequestTimeout, 10*time.Second)
	v.SetDefault(KeyRefreshTimeout, 30*time.Second)
	v.SetDefault(KeyRefreshConcurrency, 32)
	v.SetDefault(KeyRedisDB, 0)
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyLogJSON, false)
}

// Load reads the configuration from v: defaults, then an optional YAML file
// named by the "config" key, then WPCACHE_* env vars and any bound flags.
func Load(v *viper.Viper) (Config, error) {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if path := v.GetString(KeyConfigFile); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg := Config{
		ListenAddr:         v.GetString(KeyListenAddr),
		PrimaryOrigin:      strings.TrimSpace(v.GetString(KeyPrimaryOrigin)),
		FallbackOrigins:    stringList(v, KeyFallbackOrigins),
		FreshWindow:        v.GetDuration(KeyFreshWindow),
		StaleWindow:        v.GetDuration(KeyStaleWindow),
		RequestTimeout:     v.GetDuration(KeyRequestTimeout),
		RefreshTimeout:     v.GetDuration(KeyRefreshTimeout),
		RefreshConcurrency: v.GetInt(KeyRefreshConcurrency),
		RedisAddr:          v.GetString(KeyRedisAddr),
		RedisDB:            v.GetInt(KeyRedisDB),
		RedisPassword:      v.GetString(KeyRedisPassword),
		RedisChannel:       v.GetString(KeyRedisChannel),
		S3Endpoint:         v.GetString(KeyS3Endpoint),
		S3Region:           v.GetString(KeyS3Region),
		S3AccessKey:        v.GetString(KeyS3AccessKey),
		S3SecretKey:        v.GetString(KeyS3SecretKey),
		DownstreamPurgeURL: v.GetString(KeyDownstreamPurgeURL),
		LogLevel:           strings.ToLower(v.GetString(KeyLogLevel)),
		LogJSON:            v.GetBool(KeyLogJSON),
	}
	if err := v.UnmarshalKey(KeyRoutes, &cfg.Routes); err != nil {
		return cfg, fmt.Errorf("decode routes: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if err := newValidator().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := c.Windows().Validate(); err != nil {
		return err
	}
	if c.HasS3Origins() && c.S3Region == "" {
		return errors.New("WPCACHE_S3_REGION is required for s3:// origins")
	}
	if (c.S3AccessKey == "") != (c.S3SecretKey == "") {
		return errors.New("S3 access and secret keys must be set together")
	}
	return nil
}

func (c Config) Windows() cache.Windows {
	return cache.Windows{Fresh: c.FreshWindow, Stale: c.StaleWindow}
}

// AllOrigins lists every configured origin, route rules included.
func (c Config) AllOrigins() []string {
	var out []string
	if c.PrimaryOrigin != "" {
		out = append(out, c.PrimaryOrigin)
	}
	out = append(out, c.FallbackOrigins...)
	for _, r := range c.Routes {
		out = append(out, r.Origins...)
	}
	return out
}

func (c Config) HasS3Origins() bool {
	for _, o := range c.AllOrigins() {
		if strings.HasPrefix(strings.ToLower(o), "s3://") {
			return true
		}
	}
	return false
}

// Redacted returns a copy with secrets masked.
func (c Config) Redacted() Config {
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return "****"
	}
	c.RedisPassword = mask(c.RedisPassword)
	c.S3AccessKey = mask(c.S3AccessKey)
	c.S3SecretKey = mask(c.S3SecretKey)
	return c
}

// YAML renders the redacted configuration.
func (c Config) YAML() ([]byte, error) {
	return yaml.Marshal(c.Redacted())
}

func newValidator() *validator.Validate {
	validate := validator.New()
	_ = validate.RegisterValidation("origin", validateOrigin)
	return validate
}

// validateOrigin accepts http(s) base URLs and s3://bucket[/prefix] mirrors.
func validateOrigin(fl validator.FieldLevel) bool {
	u, err := url.Parse(fl.Field().String())
	if err != nil || u.Host == "" {
		return false
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https", "s3":
		return true
	}
	return false
}

// stringList reads a list that may come from YAML as a sequence or from an
// env var as a comma separated string.
func stringList(v *viper.Viper, key string) []string {
	var raw []string
	switch val := v.Get(key).(type) {
	case nil:
		return nil
	case string:
		raw = strings.Split(val, ",")
	default:
		raw = v.GetStringSlice(key)
	}
	var out []string
	for _, s := range raw {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
