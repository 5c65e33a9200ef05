package model

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

const (
	ConfigDirName  = ".fabkeep"
	ConfigFileName = "config.yml"
	EnvPrefix      = "FABKEEP"
	LockFileSuffix = ".lock"
)

// Config holds the tool's own settings, as opposed to the target model it reconciles.
type Config struct {
	StateDir       string        `mapstructure:"state_dir"`
	ModelPath      string        `mapstructure:"model"`
	LogLevel       string        `mapstructure:"log_level"`
	CommandTimeout time.Duration `mapstructure:"command_timeout"`
	InspectWorkers int           `mapstructure:"inspect_workers"`
	Metrics        MetricsConfig `mapstructure:"metrics"`
	Backup         BackupConfig  `mapstructure:"backup"`
}

type MetricsConfig struct {
	TextfilePath string       `mapstructure:"textfile_path"`
	InfluxV2     InfluxConfig `mapstructure:"influx_v2"`
	InfluxV1     InfluxConfig `mapstructure:"influx_v1"`
}

type InfluxConfig struct {
	Url      string `mapstructure:"url"`
	Token    string `mapstructure:"token"`
	Org      string `mapstructure:"org"`
	Bucket   string `mapstructure:"bucket"`
	Database string `mapstructure:"database"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

func (c InfluxConfig) Enabled() bool {
	return strings.TrimSpace(c.Url) != ""
}

type BackupConfig struct {
	Dir      string `mapstructure:"dir"`
	S3Bucket string `mapstructure:"s3_bucket"`
	S3Prefix string `mapstructure:"s3_prefix"`
	S3Region string `mapstructure:"s3_region"`
}

// LockPath is the on-disk run lock for one target model.
func (c *Config) LockPath(modelId string) string {
	return filepath.Join(c.StateDir, "fabkeep-"+modelId+LockFileSuffix)
}

var envOnlyKeys = []string{
	"metrics.textfile_path",
	"metrics.influx_v2.url", "metrics.influx_v2.token", "metrics.influx_v2.org", "metrics.influx_v2.bucket",
	"metrics.influx_v1.url", "metrics.influx_v1.database", "metrics.influx_v1.username", "metrics.influx_v1.password",
	"backup.s3_bucket", "backup.s3_prefix", "backup.s3_region",
}

func DefaultConfig() *Config {
	stateDir := filepath.Join(os.TempDir(), "fabkeep")
	if dir, err := ConfigDir(); err == nil {
		stateDir = filepath.Join(dir, "state")
	}
	return &Config{
		StateDir:       stateDir,
		ModelPath:      "fabkeep.yml",
		LogLevel:       "info",
		CommandTimeout: 60 * time.Second,
		InspectWorkers: 8,
		Backup:         BackupConfig{Dir: "."},
	}
}

func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.Wrap(err, "unable to locate home directory")
	}
	return filepath.Join(home, ConfigDirName), nil
}

// LoadConfig reads settings from path (or ~/.fabkeep/config.yml when path is empty) and FABKEEP_* environment
// variables. A missing default settings file is not an error.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	defaults := DefaultConfig()
	v.SetDefault("state_dir", defaults.StateDir)
	v.SetDefault("model", defaults.ModelPath)
	v.SetDefault("log_level", defaults.LogLevel)
	v.SetDefault("command_timeout", defaults.CommandTimeout)
	v.SetDefault("inspect_workers", defaults.InspectWorkers)
	v.SetDefault("backup.dir", defaults.Backup.Dir)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// Unmarshal only sees keys viper already knows, so keys without a default are bound explicitly
	for _, key := range envOnlyKeys {
		if err := v.BindEnv(key); err != nil {
			return nil, errors.Wrapf(err, "unable to bind [%s]", key)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		dir, err := ConfigDir()
		if err == nil {
			v.AddConfigPath(dir)
		}
		v.SetConfigName(strings.TrimSuffix(ConfigFileName, filepath.Ext(ConfigFileName)))
		v.SetConfigType("yaml")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, errors.Wrapf(err, "unable to read settings")
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.Wrap(err, "unable to decode settings")
	}
	return cfg, nil
}
