package qsdk

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	BaseURL        string            `mapstructure:"baseUrl"`
	APIVersion     string            `mapstructure:"apiVersion"`
	Token          string            `mapstructure:"token"`
	Platform       string            `mapstructure:"platform"`
	DataDir        string            `mapstructure:"dataDir"`
	Pipelines      []string          `mapstructure:"pipelines"`
	DefaultTimeout time.Duration     `mapstructure:"defaultTimeout"`
	Namespace      string            `mapstructure:"namespace"`
	Kubeconfig     string            `mapstructure:"kubeconfig"`
	Env            map[string]string `mapstructure:"env"`

	v *viper.Viper // instance-specific viper
}

const (
	EnvPrefix  = "QCI"
	ConfigName = "qci"
	ConfigRoot = ".qci"

	BaseUrlKey    = "baseUrl"
	ApiVersionKey = "apiVersion"
	TokenKey      = "token"
	PlatformKey   = "platform"
	DataDirKey    = "dataDir"
)

// LoadConfig reads qci.yaml from the working directory, merges the
// untracked .qci/config.yaml over it and applies QCI_* environment
// overrides. cfgFile replaces both files when set.
func LoadConfig(cfgFile string) (*Config, error) {
	v := viper.New()

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	// AutomaticEnv only covers keys viper already knows about.
	for _, key := range []string{BaseUrlKey, TokenKey, PlatformKey, DataDirKey, "defaultTimeout", "namespace", "kubeconfig"} {
		_ = v.BindEnv(key, EnvPrefix+"_"+strings.ToUpper(snake(key)))
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", cfgFile, err)
		}
	} else {
		for _, name := range []string{ConfigName + ".yaml", ConfigName + ".yml", "." + ConfigName + ".yaml"} {
			if _, err := os.Stat(name); err == nil {
				v.SetConfigFile(name)
				if err := v.ReadInConfig(); err == nil {
					break
				}
			}
		}

		localConfigPath := filepath.Join(ConfigRoot, "config.yaml")
		if _, err := os.Stat(localConfigPath); err == nil {
			v.SetConfigFile(localConfigPath)
			if err := v.MergeInConfig(); err != nil {
				return nil, fmt.Errorf("merging local config: %w", err)
			}
		}
	}

	setDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.v = v
	return &cfg, nil
}

// Get returns a value from the underlying viper instance
func (c *Config) Get(key string) interface{} {
	if c.v == nil {
		return nil
	}
	return c.v.Get(key)
}

func (c *Config) GetString(key string) string {
	if c.v == nil {
		return ""
	}
	return c.v.GetString(key)
}

// Viper returns the underlying viper instance, for flag binding.
func (c *Config) Viper() *viper.Viper {
	return c.v
}

func setDefaults(v *viper.Viper) {
	if !v.IsSet(BaseUrlKey) {
		v.SetDefault(BaseUrlKey, "http://localhost:3000")
	} else {
		normalized := strings.TrimRight(v.GetString(BaseUrlKey), "/")
		v.Set(BaseUrlKey, normalized)
	}

	v.SetDefault(ApiVersionKey, "v1")
	v.SetDefault(PlatformKey, "local")
	v.SetDefault(DataDirKey, ConfigRoot)
	v.SetDefault("namespace", "default")
}

// ConfigFileUsed returns the config file that was used (if any)
func (c *Config) ConfigFileUsed() string {
	if c.v == nil {
		return ""
	}
	return c.v.ConfigFileUsed()
}

// snake converts camelCase keys to the SNAKE_CASE env form.
func snake(key string) string {
	var b strings.Builder
	for i, r := range key {
		if i > 0 && r >= 'A' && r <= 'Z' {
			b.WriteByte('_')
		}
		b.WriteRune(r)
	}
	return b.String()
}
