// Package cmdutil provides shared utilities for CLI command implementations.
package cmdutil

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// GetStringConfig returns flagValue when set, otherwise the config value
// for key. Flag values take precedence over config file values.
func GetStringConfig(key, flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return viper.GetString(key)
}

// GetStringSliceConfig returns flagValue when non-empty, otherwise the
// config value for key.
func GetStringSliceConfig(key string, flagValue []string) []string {
	if len(flagValue) > 0 {
		return flagValue
	}
	return viper.GetStringSlice(key)
}

// GetSizeConfig reads key as a size string (see ParseSizeString). Plain
// integers in the config file are bytes.
func GetSizeConfig(key string) (int64, error) {
	raw := strings.TrimSpace(viper.GetString(key))
	if raw == "" {
		return 0, nil
	}
	n, err := ParseSizeString(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

// ParseSizeString parses a size string (e.g., "100M", "1G", "500K") and returns bytes.
// Supported suffixes: K/k (KiB), M/m (MiB), G/g (GiB), T/t (TiB).
func ParseSizeString(s string) (int64, error) {
	if s == "" {
		return 0, fmt.Errorf("empty size string")
	}

	lastChar := s[len(s)-1]
	var multiplier int64 = 1

	switch lastChar {
	case 'K', 'k':
		multiplier = 1024
		s = s[:len(s)-1]
	case 'M', 'm':
		multiplier = 1024 * 1024
		s = s[:len(s)-1]
	case 'G', 'g':
		multiplier = 1024 * 1024 * 1024
		s = s[:len(s)-1]
	case 'T', 't':
		multiplier = 1024 * 1024 * 1024 * 1024
		s = s[:len(s)-1]
	}

	var value int64
	var rest string
	n, err := fmt.Sscanf(s, "%d%s", &value, &rest)
	if n == 0 {
		return 0, fmt.Errorf("invalid size value: %w", err)
	}
	if rest != "" {
		return 0, fmt.Errorf("invalid size value %q", s)
	}
	if value < 0 {
		return 0, fmt.Errorf("negative size %d", value)
	}

	return value * multiplier, nil
}

// FormatSize renders n bytes with the largest binary unit that keeps the
// value at or above one.
func FormatSize(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
