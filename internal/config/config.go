package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	Mode       string        `mapstructure:"mode"`
	Port       int           `mapstructure:"port"`
	StaticPath string        `mapstructure:"static_path"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	SendBuffer int           `mapstructure:"send_buffer"`
	Secret     string        `mapstructure:"secret"`
	LogLevel   string        `mapstructure:"log_level"`

	// RecordsPath prefixes every recorder URI.
	RecordsPath   string        `mapstructure:"records_path"`
	StatsInterval time.Duration `mapstructure:"stats_interval"`
	AutoRelease   time.Duration `mapstructure:"auto_release"`
	GatherTimeout time.Duration `mapstructure:"gather_timeout"`
	ICEServers    []string      `mapstructure:"ice_servers"`

	// RegisterLimit register attempts are allowed per connection within RegisterWindow.
	RegisterLimit  int           `mapstructure:"register_limit"`
	RegisterWindow time.Duration `mapstructure:"register_window"`
}

const envPrefix = "ONE2ONE"

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8889)
	v.SetDefault("static_path", "./web")
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("send_buffer", 32)
	v.SetDefault("secret", "one2one-secret")
	v.SetDefault("log_level", "info")
	v.SetDefault("records_path", "file:///tmp/one2one_records/")
	v.SetDefault("stats_interval", "10s")
	v.SetDefault("auto_release", "1h")
	v.SetDefault("gather_timeout", "10s")
	v.SetDefault("ice_servers", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("register_limit", 5)
	v.SetDefault("register_window", "10s")
}

// Load reads, lowest precedence first: defaults, the config file, ONE2ONE_*
// environment variables, command line flags.
func Load(args []string) (*Config, error) {
	fs := pflag.NewFlagSet("one2one", pflag.ContinueOnError)
	fs.String("config", "", "config file (default config/config.<CONFIG_ENV>.yaml)")
	fs.Int("port", 8889, "HTTP listen port")
	fs.String("records-path", "file:///tmp/one2one_records/", "prefix of every recorder URI")
	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("parse flags: %w", err)
	}

	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	if err := v.BindPFlag("port", fs.Lookup("port")); err != nil {
		return nil, err
	}
	if err := v.BindPFlag("records_path", fs.Lookup("records-path")); err != nil {
		return nil, err
	}

	fileName, _ := fs.GetString("config")
	if fileName == "" {
		env := os.Getenv("CONFIG_ENV")
		if env == "" {
			env = "dev"
		}
		fileName = fmt.Sprintf("config/config.%s.yaml", env)
	}
	v.SetConfigFile(fileName)

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if !strings.HasSuffix(cfg.RecordsPath, "/") {
		cfg.RecordsPath += "/"
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).Str("static", cfg.StaticPath).Msg("config ready")
	return &cfg, nil
}

func (c *Config) validate() error {
	var errs []error
	if c.Mode != "release" && c.Mode != "debug" {
		errs = append(errs, fmt.Errorf("mode %q: want release or debug", c.Mode))
	}
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if c.RecordsPath == "" {
		errs = append(errs, errors.New("records_path is empty"))
	}
	if c.PingPeriod <= 0 {
		errs = append(errs, errors.New("ping_period must be positive"))
	}
	return errors.Join(errs...)
}
