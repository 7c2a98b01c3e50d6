package config

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestGetEnv(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		envValue     string
		defaultValue string
		want         string
	}{
		{
			name:         "returns env value when set",
			key:          "TEST_GET_ENV_SET",
			envValue:     "custom_value",
			defaultValue: "default",
			want:         "custom_value",
		},
		{
			name:         "returns default when empty string",
			key:          "TEST_GET_ENV_EMPTY",
			envValue:     "",
			defaultValue: "fallback",
			want:         "fallback",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.envValue)

			got := GetEnv(tt.key, tt.defaultValue)
			if got != tt.want {
				t.Fatalf("GetEnv(%q, %q) = %q, want %q", tt.key, tt.defaultValue, got, tt.want)
			}
		})
	}
}

func TestIsInsecureDevSecret(t *testing.T) {
	if !IsInsecureDevSecret("dev-admin-token-change-me") {
		t.Fatal("expected placeholder to be flagged")
	}
	if IsInsecureDevSecret("a-real-secret-value") {
		t.Fatal("expected real value to pass")
	}
}

func TestGetEnvInt(t *testing.T) {
	t.Setenv("TEST_INT_OK", "42")
	t.Setenv("TEST_INT_BAD", "forty-two")

	if got := GetEnvInt("TEST_INT_OK", 1); got != 42 {
		t.Fatalf("expected 42, got %d", got)
	}
	if got := GetEnvInt("TEST_INT_BAD", 7); got != 7 {
		t.Fatalf("expected default 7, got %d", got)
	}
}

func TestGetEnvBool(t *testing.T) {
	t.Setenv("TEST_BOOL", "true")
	if !GetEnvBool("TEST_BOOL", false) {
		t.Fatal("expected true")
	}
	t.Setenv("TEST_BOOL", "maybe")
	if GetEnvBool("TEST_BOOL", false) {
		t.Fatal("expected default false for invalid value")
	}
}

func TestGetEnvDuration(t *testing.T) {
	t.Setenv("TEST_DURATION", "150ms")
	if got := GetEnvDuration("TEST_DURATION", time.Second); got != 150*time.Millisecond {
		t.Fatalf("expected 150ms, got %s", got)
	}
	t.Setenv("TEST_DURATION", "soon")
	if got := GetEnvDuration("TEST_DURATION", time.Second); got != time.Second {
		t.Fatalf("expected default, got %s", got)
	}
}

func TestGetEnvDecimal(t *testing.T) {
	def := decimal.NewFromInt(5)

	t.Setenv("TEST_DECIMAL", " 0.01 ")
	if got := GetEnvDecimal("TEST_DECIMAL", def); !got.Equal(decimal.RequireFromString("0.01")) {
		t.Fatalf("expected 0.01, got %s", got)
	}
	t.Setenv("TEST_DECIMAL", "abc")
	if got := GetEnvDecimal("TEST_DECIMAL", def); !got.Equal(def) {
		t.Fatalf("expected default, got %s", got)
	}
}
