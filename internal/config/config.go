// Package config defines the top-level configuration for the escrowd agent
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by ESCROWD_* environment variables.
type Config struct {
	User     UserConfig     `toml:"user"`
	Wallet   WalletConfig   `toml:"wallet"`
	Backend  BackendConfig  `toml:"backend"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Poll     PollConfig     `toml:"poll"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// UserConfig identifies the local party.
type UserConfig struct {
	ID string `toml:"id"`
}

// WalletConfig selects and parameterizes the wallet implementation.
type WalletConfig struct {
	// Kind is "external" (local key) or "bot" (custodial, backend-executed).
	Kind             string `toml:"kind"`
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
	// Address is the custodial wallet address, used only when Kind is "bot".
	// External wallets derive their address from the key.
	Address string `toml:"address"`
	// DefaultChain is the chain the wallet starts bound to.
	DefaultChain string `toml:"default_chain"`
}

// BackendConfig holds the system-of-record API parameters.
type BackendConfig struct {
	BaseURL   string        `toml:"base_url"`
	AuthToken string        `toml:"auth_token"`
	Timeout   time.Duration `toml:"timeout"`
}

// PostgresConfig holds PostgreSQL connection parameters for the local
// operation journal and transition audit.
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

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for the trade
// record archiver.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// PollConfig holds the periodic refresh cadences.
type PollConfig struct {
	// TradeInterval is the backend trade/chat poll period.
	TradeInterval time.Duration `toml:"trade_interval"`
	// VaultInterval is the allowance/vault balance refresh period.
	VaultInterval time.Duration `toml:"vault_interval"`
}

// ServerConfig holds the UI-facing HTTP/WebSocket server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	// APIKey protects every non-health route when set. Empty disables auth,
	// which is only sensible when the server binds to localhost.
	APIKey string `toml:"api_key"`
}

// NotifyConfig holds notification channel parameters.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with sane defaults. Load merges the
// TOML file and environment overrides on top of this.
func Defaults() Config {
	return Config{
		Wallet: WalletConfig{
			Kind:         "bot",
			DefaultChain: "base",
		},
		Backend: BackendConfig{
			Timeout: 30 * time.Second,
		},
		Postgres: PostgresConfig{
			Port:         5432,
			SSLMode:      "disable",
			PoolMaxConns: 4,
			PoolMinConns: 1,
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
		},
		Poll: PollConfig{
			TradeInterval: 10 * time.Second,
			VaultInterval: 5 * time.Second,
		},
		Server: ServerConfig{
			Port: 8080,
		},
		Mode:     "trade",
		LogLevel: "info",
	}
}

// Validate checks the configuration for internal consistency. It must be
// called after Load and before wiring.
func (c *Config) Validate() error {
	var problems []string

	if strings.TrimSpace(c.User.ID) == "" {
		problems = append(problems, "user.id is required")
	}
	if strings.TrimSpace(c.Backend.BaseURL) == "" {
		problems = append(problems, "backend.base_url is required")
	}

	switch c.Wallet.Kind {
	case "bot":
	case "external":
		if c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" {
			problems = append(problems, "wallet.private_key or wallet.encrypted_key_path is required for external wallets")
		}
		if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
			problems = append(problems, "wallet.key_password is required with wallet.encrypted_key_path")
		}
	default:
		problems = append(problems, fmt.Sprintf("wallet.kind must be \"external\" or \"bot\", got %q", c.Wallet.Kind))
	}

	if _, ok := Chains()[c.Wallet.DefaultChain]; !ok {
		problems = append(problems, fmt.Sprintf("wallet.default_chain %q is not a supported chain", c.Wallet.DefaultChain))
	}

	switch c.Mode {
	case "trade", "monitor", "serve", "full":
	default:
		problems = append(problems, fmt.Sprintf("mode must be one of trade|monitor|serve|full, got %q", c.Mode))
	}

	if c.Poll.TradeInterval <= 0 {
		problems = append(problems, "poll.trade_interval must be positive")
	}
	if c.Poll.VaultInterval <= 0 {
		problems = append(problems, "poll.vault_interval must be positive")
	}

	if c.S3.Enabled {
		if c.S3.Bucket == "" || c.S3.Region == "" {
			problems = append(problems, "s3.bucket and s3.region are required when s3.enabled")
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
}
