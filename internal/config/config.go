// Package config defines the top-level configuration for the bond service
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by BONDD_* environment variables.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Chain    ChainConfig    `toml:"chain"`
	Issuance IssuanceConfig `toml:"issuance"`
	Tokens   []TokenConfig  `toml:"tokens"`
	Watcher  WatcherConfig  `toml:"watcher"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
}

// PostgresConfig holds database connection settings.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr         string `toml:"addr"`
	Password     string `toml:"password"`
	DB           int    `toml:"db"`
	PoolSize     int    `toml:"pool_size"`
	MaxRetries   int    `toml:"max_retries"`
	TLSEnabled   bool   `toml:"tls_enabled"`
	StreamMaxLen int    `toml:"stream_max_len"`
}

// S3Config holds object-storage settings for journal archiving.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ChainConfig holds the on-chain token adapter settings, used in chain mode.
type ChainConfig struct {
	RPCURL           string `toml:"rpc_url"`
	ChainID          int64  `toml:"chain_id"`
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// IssuanceConfig holds the issuance gate settings.
type IssuanceConfig struct {
	Owner            string   `toml:"owner"`
	AllowList        []string `toml:"allow_list"`
	AllowListEnabled bool     `toml:"allow_list_enabled"`
}

// TokenConfig declares an in-process token book for local mode.
type TokenConfig struct {
	Address string `toml:"address"`
	Symbol  string `toml:"symbol"`
}

// WatcherConfig holds the maturity watcher settings.
type WatcherConfig struct {
	IntervalSeconds int `toml:"interval_seconds"`
}

// NotifyConfig holds notification channel credentials and event filters.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config pre-populated with sensible defaults.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 8080,
		},
		Postgres: PostgresConfig{
			Port:          5432,
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			PoolSize:     10,
			MaxRetries:   3,
			StreamMaxLen: 10000,
		},
		Watcher: WatcherConfig{
			IntervalSeconds: 30,
		},
		Mode:     "local",
		LogLevel: "info",
	}
}

// Validate checks the configuration for internal consistency. It should be
// called after Load and before wiring any dependencies.
func (c *Config) Validate() error {
	switch c.Mode {
	case "local", "chain":
	default:
		return fmt.Errorf("config: unknown mode %q (want local or chain)", c.Mode)
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config: invalid server port %d", c.Server.Port)
	}

	if c.Issuance.Owner != "" && !common.IsHexAddress(c.Issuance.Owner) {
		return fmt.Errorf("config: issuance owner %q is not a hex address", c.Issuance.Owner)
	}
	for _, a := range c.Issuance.AllowList {
		if !common.IsHexAddress(a) {
			return fmt.Errorf("config: allow list entry %q is not a hex address", a)
		}
	}

	if c.Mode == "chain" {
		if strings.TrimSpace(c.Chain.RPCURL) == "" {
			return fmt.Errorf("config: chain mode requires chain.rpc_url")
		}
		if c.Chain.ChainID == 0 {
			return fmt.Errorf("config: chain mode requires chain.chain_id")
		}
		if c.Chain.PrivateKey == "" && c.Chain.EncryptedKeyPath == "" {
			return fmt.Errorf("config: chain mode requires a private key or encrypted key path")
		}
	}

	if c.Mode == "local" {
		for _, tok := range c.Tokens {
			if !common.IsHexAddress(tok.Address) {
				return fmt.Errorf("config: token address %q is not a hex address", tok.Address)
			}
			if tok.Symbol == "" {
				return fmt.Errorf("config: token %s has no symbol", tok.Address)
			}
		}
	}

	if c.S3.Enabled && c.S3.Bucket == "" {
		return fmt.Errorf("config: s3 enabled without a bucket")
	}

	if c.Watcher.IntervalSeconds <= 0 {
		return fmt.Errorf("config: watcher interval must be positive")
	}

	return nil
}
