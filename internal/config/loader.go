package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies ESCROWD_* environment variable overrides, and
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

// applyEnvOverrides reads well-known ESCROWD_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	// ── User ──
	setStr(&cfg.User.ID, "ESCROWD_USER_ID")

	// ── Wallet ──
	setStr(&cfg.Wallet.Kind, "ESCROWD_WALLET_KIND")
	setStr(&cfg.Wallet.PrivateKey, "ESCROWD_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.EncryptedKeyPath, "ESCROWD_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "ESCROWD_WALLET_KEY_PASSWORD")
	setStr(&cfg.Wallet.Address, "ESCROWD_WALLET_ADDRESS")
	setStr(&cfg.Wallet.DefaultChain, "ESCROWD_WALLET_DEFAULT_CHAIN")

	// ── Backend ──
	setStr(&cfg.Backend.BaseURL, "ESCROWD_BACKEND_BASE_URL")
	setStr(&cfg.Backend.AuthToken, "ESCROWD_BACKEND_AUTH_TOKEN")
	setDur(&cfg.Backend.Timeout, "ESCROWD_BACKEND_TIMEOUT")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "ESCROWD_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "ESCROWD_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "ESCROWD_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "ESCROWD_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "ESCROWD_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "ESCROWD_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "ESCROWD_POSTGRES_SSLMODE")
	setBool(&cfg.Postgres.RunMigrations, "ESCROWD_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "ESCROWD_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "ESCROWD_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "ESCROWD_REDIS_DB")
	setBool(&cfg.Redis.TLSEnabled, "ESCROWD_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "ESCROWD_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "ESCROWD_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "ESCROWD_S3_REGION")
	setStr(&cfg.S3.Bucket, "ESCROWD_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "ESCROWD_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "ESCROWD_S3_SECRET_KEY")

	// ── Poll ──
	setDur(&cfg.Poll.TradeInterval, "ESCROWD_POLL_TRADE_INTERVAL")
	setDur(&cfg.Poll.VaultInterval, "ESCROWD_POLL_VAULT_INTERVAL")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "ESCROWD_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "ESCROWD_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "ESCROWD_SERVER_API_KEY")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "ESCROWD_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "ESCROWD_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "ESCROWD_NOTIFY_DISCORD_WEBHOOK_URL")

	// ── Top level ──
	setStr(&cfg.Mode, "ESCROWD_MODE")
	setStr(&cfg.LogLevel, "ESCROWD_LOG_LEVEL")
}

func setStr(dst *string, env string) {
	if v := strings.TrimSpace(os.Getenv(env)); v != "" {
		*dst = v
	}
}

func setInt(dst *int, env string) {
	if v := strings.TrimSpace(os.Getenv(env)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, env string) {
	if v := strings.TrimSpace(os.Getenv(env)); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDur(dst *time.Duration, env string) {
	if v := strings.TrimSpace(os.Getenv(env)); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
