package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies BONDD_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known BONDD_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.Mode, "BONDD_MODE")
	setStr(&cfg.LogLevel, "BONDD_LOG_LEVEL")

	setInt(&cfg.Server.Port, "BONDD_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "BONDD_SERVER_API_KEY")

	setStr(&cfg.Postgres.DSN, "BONDD_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "BONDD_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "BONDD_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "BONDD_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "BONDD_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "BONDD_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "BONDD_POSTGRES_SSLMODE")

	setStr(&cfg.Redis.Addr, "BONDD_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "BONDD_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "BONDD_REDIS_DB")
	setBool(&cfg.Redis.TLSEnabled, "BONDD_REDIS_TLS_ENABLED")

	setBool(&cfg.S3.Enabled, "BONDD_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "BONDD_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "BONDD_S3_REGION")
	setStr(&cfg.S3.Bucket, "BONDD_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "BONDD_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "BONDD_S3_SECRET_KEY")

	setStr(&cfg.Chain.RPCURL, "BONDD_CHAIN_RPC_URL")
	setInt64(&cfg.Chain.ChainID, "BONDD_CHAIN_ID")
	setStr(&cfg.Chain.PrivateKey, "BONDD_CHAIN_PRIVATE_KEY")
	setStr(&cfg.Chain.EncryptedKeyPath, "BONDD_CHAIN_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Chain.KeyPassword, "BONDD_CHAIN_KEY_PASSWORD")

	setStr(&cfg.Issuance.Owner, "BONDD_ISSUANCE_OWNER")
	setBool(&cfg.Issuance.AllowListEnabled, "BONDD_ISSUANCE_ALLOW_LIST_ENABLED")

	setStr(&cfg.Notify.TelegramToken, "BONDD_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "BONDD_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "BONDD_NOTIFY_DISCORD_WEBHOOK_URL")
}

func setStr(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}
