// Package config 配置
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	envconfig "github.com/exchange/brokerage/pkg/config"
)

// 存储与撮合锁实现
const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"

	MatchLockLocal = "local"
	MatchLockRedis = "redis"
)

// Config 服务配置
type Config struct {
	ServiceName string
	HTTPPort    int
	AppEnv      string
	LogLevel    string

	StoreDriver string

	// PostgreSQL
	DBHost            string
	DBPort            int
	DBUser            string
	DBPassword        string
	DBName            string
	DBSSLMode         string
	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxLifetime time.Duration
	DBAutoMigrate     bool

	// Redis
	RedisEnabled  bool
	RedisAddr     string
	RedisPassword string

	// Private events (pub/sub)
	OrderEventChannel string

	MatchLock    string
	MatchLockTTL time.Duration

	CashAsset  string
	AdminToken string

	// 单笔订单成交额上限，0 表示不限
	MaxOrderNotional decimal.Decimal

	TracingEnabled    bool
	TracingEndpoint   string
	TracingSampleRate float64
}

// Load 加载配置
func Load() *Config {
	return &Config{
		ServiceName: envconfig.GetEnv("SERVICE_NAME", "brokerage"),
		HTTPPort:    envconfig.GetEnvInt("HTTP_PORT", 8080),
		AppEnv:      strings.ToLower(envconfig.GetEnv("APP_ENV", "dev")),
		LogLevel:    envconfig.GetEnv("LOG_LEVEL", "info"),

		StoreDriver: strings.ToLower(envconfig.GetEnv("STORE_DRIVER", StoreDriverPostgres)),

		DBHost:            envconfig.GetEnv("DB_HOST", "localhost"),
		DBPort:            envconfig.GetEnvInt("DB_PORT", 5432),
		DBUser:            envconfig.GetEnv("DB_USER", "brokerage"),
		DBPassword:        envconfig.GetEnv("DB_PASSWORD", "brokerage123"),
		DBName:            envconfig.GetEnv("DB_NAME", "brokerage"),
		DBSSLMode:         envconfig.GetEnv("DB_SSL_MODE", "disable"),
		DBMaxOpenConns:    envconfig.GetEnvInt("DB_MAX_OPEN_CONNS", 20),
		DBMaxIdleConns:    envconfig.GetEnvInt("DB_MAX_IDLE_CONNS", 5),
		DBConnMaxLifetime: envconfig.GetEnvDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute),
		DBAutoMigrate:     envconfig.GetEnvBool("DB_AUTO_MIGRATE", false),

		RedisEnabled:  envconfig.GetEnvBool("REDIS_ENABLED", true),
		RedisAddr:     envconfig.GetEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: envconfig.GetEnv("REDIS_PASSWORD", ""),

		OrderEventChannel: envconfig.GetEnv("ORDER_EVENT_CHANNEL", "private:customer:{customerId}:events"),

		MatchLock:    strings.ToLower(envconfig.GetEnv("MATCH_LOCK", MatchLockLocal)),
		MatchLockTTL: envconfig.GetEnvDuration("MATCH_LOCK_TTL", 10*time.Second),

		CashAsset:  strings.ToUpper(envconfig.GetEnv("CASH_ASSET", "TRY")),
		AdminToken: envconfig.GetEnv("ADMIN_TOKEN", "dev-admin-token-change-me"),

		MaxOrderNotional: envconfig.GetEnvDecimal("MAX_ORDER_NOTIONAL", decimal.Zero),

		TracingEnabled:    envconfig.GetEnvBool("TRACING_ENABLED", false),
		TracingEndpoint:   envconfig.GetEnv("TRACING_ENDPOINT", "http://localhost:14268/api/traces"),
		TracingSampleRate: envconfig.GetEnvFloat64("TRACING_SAMPLE_RATE", 1.0),
	}
}

func (c *Config) Validate() error {
	switch c.StoreDriver {
	case StoreDriverPostgres, StoreDriverMemory:
	default:
		return fmt.Errorf("STORE_DRIVER must be %s or %s, got %q", StoreDriverPostgres, StoreDriverMemory, c.StoreDriver)
	}
	switch c.MatchLock {
	case MatchLockLocal:
	case MatchLockRedis:
		if !c.RedisEnabled {
			return fmt.Errorf("MATCH_LOCK=redis requires REDIS_ENABLED=true")
		}
	default:
		return fmt.Errorf("MATCH_LOCK must be %s or %s, got %q", MatchLockLocal, MatchLockRedis, c.MatchLock)
	}
	if c.CashAsset == "" {
		return fmt.Errorf("CASH_ASSET is required")
	}
	if c.AdminToken == "" {
		return fmt.Errorf("ADMIN_TOKEN is required")
	}
	if c.MaxOrderNotional.IsNegative() {
		return fmt.Errorf("MAX_ORDER_NOTIONAL must not be negative, got %s", c.MaxOrderNotional)
	}
	if c.AppEnv != "dev" {
		if len(c.AdminToken) < envconfig.MinSecretLength {
			return fmt.Errorf("ADMIN_TOKEN must be at least %d characters (APP_ENV=%s)", envconfig.MinSecretLength, c.AppEnv)
		}
		if envconfig.IsInsecureDevSecret(c.AdminToken) {
			return fmt.Errorf("ADMIN_TOKEN must not be a dev placeholder (APP_ENV=%s)", c.AppEnv)
		}
		if c.StoreDriver == StoreDriverMemory {
			return fmt.Errorf("STORE_DRIVER=memory is for local development only (APP_ENV=%s)", c.AppEnv)
		}
		if c.DBPassword == "" || c.DBPassword == "brokerage123" {
			return fmt.Errorf("DB_PASSWORD must be explicitly set (APP_ENV=%s)", c.AppEnv)
		}
	}
	return nil
}

// DSN 返回数据库连接字符串
func (c *Config) DSN() string {
	return "host=" + c.DBHost +
		" port=" + strconv.Itoa(c.DBPort) +
		" user=" + c.DBUser +
		" password=" + c.DBPassword +
		" dbname=" + c.DBName +
		" sslmode=" + c.DBSSLMode
}
