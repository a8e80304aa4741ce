// Package config loads the CLI configuration from ~/.umeng/config.toml and
// UMENG_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bnema/umeng-cli/internal/domain"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

const (
	configName = "config"
	configType = "toml"
	configDir  = ".umeng"
	envPrefix  = "UMENG"

	StateDriverFile  = "file"
	StateDriverRedis = "redis"
)

type Config struct {
	State    StateConfig    `mapstructure:"state"`
	Throttle ThrottleConfig `mapstructure:"throttle"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Passport PassportConfig `mapstructure:"passport"`
	API      APIConfig      `mapstructure:"api"`
	Accounts AccountsConfig `mapstructure:"accounts"`
	Secrets  SecretsConfig  `mapstructure:"secrets"`
	Log      LogConfig      `mapstructure:"log"`
}

type StateConfig struct {
	Driver        string `mapstructure:"driver"`
	Dir           string `mapstructure:"dir"`
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisPrefix   string `mapstructure:"redis_prefix"`
	RedisDB       int    `mapstructure:"redis_db"`
}

type ThrottleConfig struct {
	Ceiling     int                   `mapstructure:"ceiling"`
	Window      time.Duration         `mapstructure:"window"`
	Anchor      domain.ThrottleAnchor `mapstructure:"anchor"`
	LockTimeout time.Duration         `mapstructure:"lock_timeout"`
}

func (c ThrottleConfig) Policy() domain.ThrottlePolicy {
	return domain.ThrottlePolicy{Ceiling: c.Ceiling, Window: c.Window, Anchor: c.Anchor}
}

type HTTPConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

type PassportConfig struct {
	LoginURL    string `mapstructure:"login_url"`
	RegisterURL string `mapstructure:"register_url"`
	AppName     string `mapstructure:"app_name"`
}

type APIConfig struct {
	BaseURL        string  `mapstructure:"base_url"`
	SessionBaseURL string  `mapstructure:"session_base_url"`
	PaceRPS        float64 `mapstructure:"pace_rps"`
	PaceBurst      int     `mapstructure:"pace_burst"`
}

type AccountsConfig struct {
	Path string `mapstructure:"path"`
}

type SecretsConfig struct {
	Dir     string `mapstructure:"dir"`
	PassDir string `mapstructure:"pass_dir"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

// Load reads the config file (optional), applies env overrides and defaults,
// and validates the result. The viper instance keeps the merged values so it
// can be handed to adapters that read their own keys.
func Load(v *viper.Viper) (Config, error) {
	if v == nil {
		v = viper.New()
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return Config{}, fmt.Errorf("resolve home directory: %w", err)
	}
	root := filepath.Join(homeDir, configDir)

	setDefaults(v, root)

	v.SetConfigName(configName)
	v.SetConfigType(configType)
	v.AddConfigPath(root)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	cfg.State.Dir = expandHome(cfg.State.Dir, homeDir)
	cfg.Secrets.Dir = expandHome(cfg.Secrets.Dir, homeDir)
	cfg.Secrets.PassDir = expandHome(cfg.Secrets.PassDir, homeDir)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper, root string) {
	policy := domain.DefaultThrottlePolicy()

	v.SetDefault("state.driver", StateDriverFile)
	v.SetDefault("state.dir", filepath.Join(root, "state"))
	v.SetDefault("state.redis_addr", "")
	v.SetDefault("state.redis_password", "")
	v.SetDefault("state.redis_prefix", "umeng")
	v.SetDefault("state.redis_db", 0)
	v.SetDefault("throttle.ceiling", policy.Ceiling)
	v.SetDefault("throttle.window", policy.Window.String())
	v.SetDefault("throttle.anchor", string(policy.Anchor))
	v.SetDefault("throttle.lock_timeout", "30s")
	v.SetDefault("http.timeout", "30s")
	v.SetDefault("passport.login_url", "https://passport.alibaba.com/newlogin/login.do")
	v.SetDefault("passport.register_url", "https://passport.umeng.com/login/register")
	v.SetDefault("passport.app_name", "youmeng")
	v.SetDefault("api.base_url", "https://api.umeng.com")
	v.SetDefault("api.session_base_url", "https://mobile.umeng.com/ht/api/v3")
	v.SetDefault("api.pace_rps", 0)
	v.SetDefault("api.pace_burst", 1)
	v.SetDefault("accounts.path", filepath.Join(root, "accounts.toml"))
	v.SetDefault("secrets.dir", filepath.Join(root, "secrets"))
	v.SetDefault("secrets.pass_dir", "")
	v.SetDefault("log.level", "warn")
}

func (c Config) Validate() error {
	switch c.State.Driver {
	case StateDriverFile:
		if strings.TrimSpace(c.State.Dir) == "" {
			return errors.New("state.dir is required for the file driver")
		}
	case StateDriverRedis:
		if strings.TrimSpace(c.State.RedisAddr) == "" {
			return errors.New("state.redis_addr is required for the redis driver")
		}
	default:
		return fmt.Errorf("unsupported state.driver %q", c.State.Driver)
	}

	if err := c.Throttle.Policy().Validate(); err != nil {
		return fmt.Errorf("throttle: %w", err)
	}
	if c.Throttle.LockTimeout <= 0 {
		return errors.New("throttle.lock_timeout must be positive")
	}
	if c.HTTP.Timeout <= 0 {
		return errors.New("http.timeout must be positive")
	}
	if c.API.PaceRPS < 0 {
		return errors.New("api.pace_rps must not be negative")
	}

	return nil
}

func expandHome(path string, homeDir string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		return filepath.Join(homeDir, strings.TrimPrefix(path, "~"))
	}
	return path
}
