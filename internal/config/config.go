// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package config

import (
	"time"

	altsrc "github.com/urfave/cli-altsrc/v3"
	"github.com/urfave/cli-altsrc/v3/toml"
	"github.com/urfave/cli/v3"
)

var configFile = altsrc.StringSourcer("config.toml")

type Config struct { //nolint:govet // fieldalignment not critical for config structs
	Server      ServerConfig
	Log         LogConfig
	Database    DatabaseConfig
	Linking     LinkingConfig
	Permissions PermissionsConfig
	Notify      NotifyConfig
	RateLimit   RateLimitConfig
}

type ServerConfig struct {
	Host        string
	Port        int
	MaxBodySize int // in MB
}

type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // text, json
}

type DatabaseConfig struct {
	DSN string
}

type LinkingConfig struct {
	CodeTTL       time.Duration // validity window of a verification code
	SweepInterval time.Duration // 0 disables the background sweep
	Permission    string        // permission name granted on a verified link
}

type PermissionsConfig struct {
	Path string // path of the externally owned permission file
}

type NotifyConfig struct {
	WebhookURL string // empty disables outbound notifications
}

type RateLimitConfig struct {
	IssuePerMinute int    // code issuance budget per chat identity
	RedisURL       string // empty keeps the limiter in process memory
}

func NewFromCLI(cmd *cli.Command) *Config {
	return &Config{
		Server: ServerConfig{
			Host:        cmd.String("host"),
			Port:        int(cmd.Int("port")),
			MaxBodySize: int(cmd.Int("max-body-size")),
		},
		Log: LogConfig{
			Level:  cmd.String("log-level"),
			Format: cmd.String("log-format"),
		},
		Database: DatabaseConfig{
			DSN: cmd.String("database-dsn"),
		},
		Linking: LinkingConfig{
			CodeTTL:       time.Duration(cmd.Int("code-ttl")) * time.Second,
			SweepInterval: time.Duration(cmd.Int("sweep-interval")) * time.Second,
			Permission:    cmd.String("permission-name"),
		},
		Permissions: PermissionsConfig{
			Path: cmd.String("permissions-path"),
		},
		Notify: NotifyConfig{
			WebhookURL: cmd.String("notify-webhook-url"),
		},
		RateLimit: RateLimitConfig{
			IssuePerMinute: int(cmd.Int("issue-rate-limit")),
			RedisURL:       cmd.String("redis-url"),
		},
	}
}

func Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "host",
			Value:   "localhost",
			Usage:   "Host to bind to",
			Sources: cli.NewValueSourceChain(cli.EnvVar("HOST"), toml.TOML("server.host", configFile)),
		},
		&cli.IntFlag{
			Name:    "port",
			Value:   8080,
			Usage:   "Port to listen on",
			Sources: cli.NewValueSourceChain(cli.EnvVar("PORT"), toml.TOML("server.port", configFile)),
		},
		&cli.IntFlag{
			Name:    "max-body-size",
			Value:   1,
			Usage:   "Maximum request body size in MB",
			Sources: cli.NewValueSourceChain(cli.EnvVar("MAX_BODY_SIZE"), toml.TOML("server.max_body_size", configFile)),
		},
		&cli.StringFlag{
			Name:    "log-level",
			Value:   "info",
			Usage:   "Log level (debug, info, warn, error)",
			Sources: cli.NewValueSourceChain(cli.EnvVar("LOG_LEVEL"), toml.TOML("log.level", configFile)),
		},
		&cli.StringFlag{
			Name:    "log-format",
			Value:   "text",
			Usage:   "Log format (text, json)",
			Sources: cli.NewValueSourceChain(cli.EnvVar("LOG_FORMAT"), toml.TOML("log.format", configFile)),
		},
		&cli.StringFlag{
			Name:    "database-dsn",
			Value:   "./data/links.db",
			Usage:   "Database DSN",
			Sources: cli.NewValueSourceChain(cli.EnvVar("DATABASE_DSN"), toml.TOML("database.dsn", configFile)),
		},
		&cli.IntFlag{
			Name:    "code-ttl",
			Value:   600,
			Usage:   "Verification code lifetime in seconds",
			Sources: cli.NewValueSourceChain(cli.EnvVar("CODE_TTL"), toml.TOML("linking.code_ttl", configFile)),
		},
		&cli.IntFlag{
			Name:    "sweep-interval",
			Value:   60,
			Usage:   "Expired code sweep interval in seconds (0 disables)",
			Sources: cli.NewValueSourceChain(cli.EnvVar("SWEEP_INTERVAL"), toml.TOML("linking.sweep_interval", configFile)),
		},
		&cli.StringFlag{
			Name:    "permission-name",
			Value:   "kits.linkdiscord",
			Usage:   "Permission name granted on a verified link",
			Sources: cli.NewValueSourceChain(cli.EnvVar("PERMISSION_NAME"), toml.TOML("linking.permission", configFile)),
		},
		&cli.StringFlag{
			Name:    "permissions-path",
			Value:   "./data/oxide/users.json",
			Usage:   "Path of the game server permission file",
			Sources: cli.NewValueSourceChain(cli.EnvVar("OXIDE_PERMISSIONS_PATH"), toml.TOML("permissions.path", configFile)),
		},
		&cli.StringFlag{
			Name:    "notify-webhook-url",
			Usage:   "Webhook URL for link notifications (empty disables)",
			Sources: cli.NewValueSourceChain(cli.EnvVar("NOTIFY_WEBHOOK_URL"), toml.TOML("notify.webhook_url", configFile)),
		},
		&cli.IntFlag{
			Name:    "issue-rate-limit",
			Value:   5,
			Usage:   "Code issuance budget per chat identity per minute",
			Sources: cli.NewValueSourceChain(cli.EnvVar("ISSUE_RATE_LIMIT"), toml.TOML("ratelimit.issue_per_minute", configFile)),
		},
		&cli.StringFlag{
			Name:    "redis-url",
			Usage:   "Redis URL for a shared rate limiter (empty keeps it in memory)",
			Sources: cli.NewValueSourceChain(cli.EnvVar("REDIS_URL"), toml.TOML("ratelimit.redis_url", configFile)),
		},
	}
}
