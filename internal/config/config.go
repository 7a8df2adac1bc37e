// Package config loads process configuration from .env files, the
// environment and command-line flags, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"dextra-ledger/internal/solana"
)

// Config is the server configuration. Keys map to upper-case environment
// variables (listen_addr -> LISTEN_ADDR) and dashed flags (--listen-addr).
type Config struct {
	ListenAddr    string `mapstructure:"listen_addr" validate:"required,hostname_port"`
	MetricsAddr   string `mapstructure:"metrics_addr" validate:"omitempty,hostname_port"`
	PostgresDSN   string `mapstructure:"postgres_dsn" validate:"required_unless=UseMemory true"`
	ClickhouseDSN string `mapstructure:"clickhouse_dsn"`
	UseMemory     bool   `mapstructure:"use_memory"`
	ProgramID     string `mapstructure:"program_id" validate:"required,pubkey"`
	Owner         string `mapstructure:"owner" validate:"omitempty,pubkey"`
	RPCEndpoint   string `mapstructure:"solana_rpc_endpoint" validate:"required_if=Clock rpc"`
	Clock         string `mapstructure:"clock" validate:"oneof=system rpc"`
	LogLevel      string `mapstructure:"log_level" validate:"oneof=trace debug info warn error"`
	LogFormat     string `mapstructure:"log_format" validate:"oneof=text json"`
	ReferralBPS   uint64 `mapstructure:"referral_bps" validate:"lte=10000"`
	StatsSchedule string `mapstructure:"stats_schedule"`

	SignatureWindow time.Duration `mapstructure:"signature_window" validate:"gt=0"`
}

var defaults = map[string]any{
	"listen_addr":         ":8080",
	"metrics_addr":        ":9090",
	"postgres_dsn":        "",
	"clickhouse_dsn":      "",
	"use_memory":          false,
	"program_id":          "",
	"owner":               "",
	"solana_rpc_endpoint": "",
	"clock":               "system",
	"log_level":           "info",
	"log_format":          "text",
	"referral_bps":        uint64(0),
	"stats_schedule":      "@every 1m",
	"signature_window":    "5m",
}

// FlagName returns the command-line flag bound to key.
func FlagName(key string) string {
	return strings.ReplaceAll(key, "_", "-")
}

// Load reads envFiles (missing files are skipped), the environment and the
// flags in fs that match a key, then validates the result.
func Load(flags *pflag.FlagSet, envFiles ...string) (*Config, error) {
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}

	v := viper.New()
	for k, def := range defaults {
		v.SetDefault(k, def)
	}
	v.AutomaticEnv()

	if flags != nil {
		for k := range defaults {
			if f := flags.Lookup(FlagName(k)); f != nil {
				if err := v.BindPFlag(k, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", f.Name, err)
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.RegisterValidation("pubkey", func(fl validator.FieldLevel) bool {
		_, err := solana.ParsePublicKey(fl.Field().String())
		return err == nil
	}); err != nil {
		return err
	}

	err := validate.Struct(c)
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Field(), fe.Tag()))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

// ProgramKey returns the parsed program id.
func (c *Config) ProgramKey() solana.PublicKey {
	return solana.MustPublicKey(c.ProgramID)
}

// OwnerKey returns the parsed owner key, or the zero key when unset.
func (c *Config) OwnerKey() solana.PublicKey {
	if c.Owner == "" {
		return solana.PublicKey{}
	}
	return solana.MustPublicKey(c.Owner)
}
