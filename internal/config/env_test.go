// SPDX-License-Identifier: MIT

package config

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestParseString(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		defaultValue string
		envValue     string
		envSet       bool
		want         string
	}{
		{
			name:         "environment variable set",
			key:          "YTMPD_TEST_STRING",
			defaultValue: "localhost:6600",
			envValue:     "mpd.home:6600",
			envSet:       true,
			want:         "mpd.home:6600",
		},
		{
			name:         "environment variable not set",
			key:          "YTMPD_TEST_STRING_UNSET",
			defaultValue: "localhost:6600",
			envSet:       false,
			want:         "localhost:6600",
		},
		{
			name:         "environment variable empty string",
			key:          "YTMPD_TEST_STRING_EMPTY",
			defaultValue: "localhost:6600",
			envValue:     "",
			envSet:       true,
			want:         "localhost:6600",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envSet {
				t.Setenv(tt.key, tt.envValue)
			}
			if got := ParseString(tt.key, tt.defaultValue); got != tt.want {
				t.Errorf("ParseString() = %v, want %v", got, tt.want)
			}
		})
	}
}

// Sensitive keys must never have their value logged, only the fact that one
// was provided.
func TestParseStringSensitiveRedaction(t *testing.T) {
	t.Setenv("YTMPD_TEST_CATALOG_TOKEN", "super-secret-value")

	prev := zerolog.GlobalLevel()
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
	t.Cleanup(func() { zerolog.SetGlobalLevel(prev) })

	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	got := parseStringWithLogger(logger, "YTMPD_TEST_CATALOG_TOKEN", "")
	if got != "super-secret-value" {
		t.Fatalf("parseStringWithLogger() = %q, want the env value", got)
	}

	out := buf.String()
	if strings.Contains(out, "super-secret-value") {
		t.Errorf("log output leaked the secret: %s", out)
	}
	if !strings.Contains(out, `"sensitive":true`) {
		t.Errorf("log output missing sensitive marker: %s", out)
	}
}

func TestParseInt(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		defaultValue int
		envValue     string
		envSet       bool
		want         int
	}{
		{
			name:         "valid integer",
			key:          "YTMPD_TEST_INT",
			defaultValue: 4,
			envValue:     "16",
			envSet:       true,
			want:         16,
		},
		{
			name:         "invalid integer",
			key:          "YTMPD_TEST_INT_INVALID",
			defaultValue: 4,
			envValue:     "not-a-number",
			envSet:       true,
			want:         4,
		},
		{
			name:         "empty string",
			key:          "YTMPD_TEST_INT_EMPTY",
			defaultValue: 4,
			envValue:     "",
			envSet:       true,
			want:         4,
		},
		{
			name:         "not set",
			key:          "YTMPD_TEST_INT_UNSET",
			defaultValue: 4,
			envSet:       false,
			want:         4,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envSet {
				t.Setenv(tt.key, tt.envValue)
			}
			if got := ParseInt(tt.key, tt.defaultValue); got != tt.want {
				t.Errorf("ParseInt() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseBool(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		defaultValue bool
		envValue     string
		envSet       bool
		want         bool
	}{
		{name: "true string", key: "YTMPD_TEST_BOOL_TRUE", envValue: "true", envSet: true, want: true},
		{name: "TRUE uppercase", key: "YTMPD_TEST_BOOL_UPPER", envValue: "TRUE", envSet: true, want: true},
		{name: "1 as true", key: "YTMPD_TEST_BOOL_1", envValue: "1", envSet: true, want: true},
		{name: "yes as true", key: "YTMPD_TEST_BOOL_YES", envValue: "yes", envSet: true, want: true},
		{name: "false string", key: "YTMPD_TEST_BOOL_FALSE", defaultValue: true, envValue: "false", envSet: true, want: false},
		{name: "0 as false", key: "YTMPD_TEST_BOOL_0", defaultValue: true, envValue: "0", envSet: true, want: false},
		{name: "no as false", key: "YTMPD_TEST_BOOL_NO", defaultValue: true, envValue: "no", envSet: true, want: false},
		{name: "invalid value keeps default", key: "YTMPD_TEST_BOOL_BAD", defaultValue: true, envValue: "maybe", envSet: true, want: true},
		{name: "empty keeps default", key: "YTMPD_TEST_BOOL_EMPTY", defaultValue: true, envValue: "", envSet: true, want: true},
		{name: "not set keeps default", key: "YTMPD_TEST_BOOL_UNSET", defaultValue: true, envSet: false, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envSet {
				t.Setenv(tt.key, tt.envValue)
			}
			if got := ParseBool(tt.key, tt.defaultValue); got != tt.want {
				t.Errorf("ParseBool() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseFloat(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		defaultValue float64
		envValue     string
		envSet       bool
		want         float64
	}{
		{name: "valid float", key: "YTMPD_TEST_FLOAT", defaultValue: 0.5, envValue: "2.5", envSet: true, want: 2.5},
		{name: "invalid float", key: "YTMPD_TEST_FLOAT_INVALID", defaultValue: 0.5, envValue: "fast", envSet: true, want: 0.5},
		{name: "not set", key: "YTMPD_TEST_FLOAT_UNSET", defaultValue: 0.5, envSet: false, want: 0.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envSet {
				t.Setenv(tt.key, tt.envValue)
			}
			if got := ParseFloat(tt.key, tt.defaultValue); got != tt.want {
				t.Errorf("ParseFloat() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		defaultValue time.Duration
		envValue     string
		envSet       bool
		want         time.Duration
	}{
		{
			name:         "valid duration",
			key:          "YTMPD_TEST_DURATION",
			defaultValue: 15 * time.Minute,
			envValue:     "30m",
			envSet:       true,
			want:         30 * time.Minute,
		},
		{
			name:         "compound duration",
			key:          "YTMPD_TEST_DURATION_COMPOUND",
			defaultValue: 15 * time.Minute,
			envValue:     "1h30m",
			envSet:       true,
			want:         90 * time.Minute,
		},
		{
			name:         "invalid duration",
			key:          "YTMPD_TEST_DURATION_INVALID",
			defaultValue: 15 * time.Minute,
			envValue:     "soon",
			envSet:       true,
			want:         15 * time.Minute,
		},
		{
			name:         "bare number is invalid",
			key:          "YTMPD_TEST_DURATION_BARE",
			defaultValue: 15 * time.Minute,
			envValue:     "900",
			envSet:       true,
			want:         15 * time.Minute,
		},
		{
			name:         "not set",
			key:          "YTMPD_TEST_DURATION_UNSET",
			defaultValue: 15 * time.Minute,
			envSet:       false,
			want:         15 * time.Minute,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envSet {
				t.Setenv(tt.key, tt.envValue)
			}
			if got := ParseDuration(tt.key, tt.defaultValue); got != tt.want {
				t.Errorf("ParseDuration() = %v, want %v", got, tt.want)
			}
		})
	}
}
