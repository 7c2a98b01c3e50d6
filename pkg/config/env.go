// Package config 提供环境变量配置工具函数
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// MinSecretLength 非 dev 环境下密钥最小长度
const MinSecretLength = 16

var insecureDevSecrets = map[string]struct{}{
	"dev-admin-token-change-me": {},
	"changeme":                  {},
	"admin":                     {},
}

// IsInsecureDevSecret 判断是否为开发环境占位密钥，防止默认凭据进入生产
func IsInsecureDevSecret(value string) bool {
	_, ok := insecureDevSecrets[value]
	return ok
}

// GetEnv 获取环境变量，如果不存在则返回默认值
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// GetEnvInt 获取整数类型的环境变量
func GetEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

// GetEnvBool 获取布尔类型的环境变量
func GetEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

// GetEnvFloat64 获取float64类型的环境变量
func GetEnvFloat64(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// GetEnvDuration 获取时间间隔类型的环境变量
func GetEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// GetEnvDecimal 获取十进制数值类型的环境变量
func GetEnvDecimal(key string, defaultValue decimal.Decimal) decimal.Decimal {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		if d, err := decimal.NewFromString(value); err == nil {
			return d
		}
	}
	return defaultValue
}
