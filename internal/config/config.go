// Package config resolves the slm configuration from flags, environment
// and an optional YAML file, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// DB carries the connection parameters of the job store.
type DB struct {
	Host     string `mapstructure:"host" yaml:"host"`
	Port     int    `mapstructure:"port" yaml:"port"`
	User     string `mapstructure:"user" yaml:"user"`
	Password string `mapstructure:"password" yaml:"password"`
	Name     string `mapstructure:"name" yaml:"name"`
}

// Config is the resolved slm configuration. It is immutable after
// resolution, commands overlay their flags once and never touch it again.
type Config struct {
	// Webhook receives human readable notifications. Empty disables the
	// notification sink.
	Webhook string `mapstructure:"webhook" yaml:"webhook"`
	// APIURL is the relay service used from compute nodes. Empty disables
	// the relay sink.
	APIURL string `mapstructure:"api_url" yaml:"api_url"`
	// NoDB suppresses all persistence for one invocation.
	NoDB    bool `mapstructure:"no_db" yaml:"no_db"`
	Verbose bool `mapstructure:"verbose" yaml:"verbose"`
	DB      DB   `mapstructure:"db" yaml:"db"`
}

// Default returns the built in configuration: sinks disabled until an
// endpoint is configured, store pointed at the conventional database name.
func Default() Config {
	return Config{
		DB: DB{
			Port: 5432,
			Name: "slurm_admin",
		},
	}
}

// Load resolves the configuration. With an explicit path the file must
// exist, otherwise slm.yaml is searched in the working directory and the
// user config directory and its absence is fine. Environment variables with
// the SLM_ prefix override file values (SLM_WEBHOOK, SLM_DB_HOST, ...).
// Returns the configuration and the config file actually used, if any.
func Load(explicit string) (Config, string, error) {
	v := viper.New()

	def := Default()
	v.SetDefault("webhook", def.Webhook)
	v.SetDefault("api_url", def.APIURL)
	v.SetDefault("no_db", def.NoDB)
	v.SetDefault("verbose", def.Verbose)
	v.SetDefault("db.host", def.DB.Host)
	v.SetDefault("db.port", def.DB.Port)
	v.SetDefault("db.user", def.DB.User)
	v.SetDefault("db.password", def.DB.Password)
	v.SetDefault("db.name", def.DB.Name)

	v.SetEnvPrefix("SLM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if explicit != "" {
		v.SetConfigFile(explicit)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, "", fmt.Errorf("reading config %s: %w", explicit, err)
		}
	} else {
		v.SetConfigName("slm")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if dir, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(filepath.Join(dir, "slm"))
		}
		var notFound viper.ConfigFileNotFoundError
		if err := v.ReadInConfig(); err != nil && !errors.As(err, &notFound) {
			return Config{}, "", fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, "", fmt.Errorf("parsing config: %w", err)
	}
	return cfg, v.ConfigFileUsed(), nil
}

// WriteDefault emits a commented default configuration file.
func WriteDefault(w io.Writer) error {
	_, err := fmt.Fprint(w, defaultHeader)
	if err != nil {
		return err
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(Default()); err != nil {
		return err
	}
	return enc.Close()
}

const defaultHeader = `# slm configuration.
# Every value can be overridden by an SLM_ environment variable
# (webhook -> SLM_WEBHOOK, db.host -> SLM_DB_HOST) or a command line flag.
`
