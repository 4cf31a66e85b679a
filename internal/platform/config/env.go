package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

func readDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	values, err := godotenv.Read(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", path, err)
	}
	return values, nil
}

// envReader reads typed values and remembers keys whose values could not be parsed, so that a typo in a
// rate or a duration fails validation instead of silently falling back to the default.
type envReader struct {
	lookup  func(string) (string, bool)
	invalid []string
}

func newEnvReader(lookup func(string) (string, bool)) *envReader {
	return &envReader{lookup: lookup}
}

func (r *envReader) raw(key string) (string, bool) {
	value, ok := r.lookup(key)
	value = strings.TrimSpace(value)
	return value, ok && value != ""
}

func (r *envReader) String(key, fallback string) string {
	if value, ok := r.raw(key); ok {
		return value
	}
	return fallback
}

func (r *envReader) Duration(key string, fallback time.Duration) time.Duration {
	value, ok := r.raw(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		r.invalid = append(r.invalid, key)
		return fallback
	}
	return d
}

func (r *envReader) Int(key string, fallback int) int {
	value, ok := r.raw(key)
	if !ok {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		r.invalid = append(r.invalid, key)
		return fallback
	}
	return parsed
}

func (r *envReader) Bool(key string, fallback bool) bool {
	value, ok := r.raw(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(value) {
	case "true", "1", "yes", "on":
		return true
	case "false", "0", "no", "off":
		return false
	}
	r.invalid = append(r.invalid, key)
	return fallback
}

func (r *envReader) Decimal(key, fallback string) decimal.Decimal {
	value, ok := r.raw(key)
	if !ok {
		value = fallback
	}
	d, err := decimal.NewFromString(value)
	if err != nil {
		r.invalid = append(r.invalid, key)
		return decimal.RequireFromString(fallback)
	}
	return d
}

func (r *envReader) CSV(key string) []string {
	value, ok := r.raw(key)
	if !ok {
		return []string{}
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// Map parses "a=1,b=2" lists. Keys are lower-cased.
func (r *envReader) Map(key string) map[string]string {
	values := make(map[string]string)
	for _, entry := range r.CSV(key) {
		name, value, ok := strings.Cut(entry, "=")
		name = strings.ToLower(strings.TrimSpace(name))
		value = strings.TrimSpace(value)
		if !ok || name == "" || value == "" {
			r.invalid = append(r.invalid, key)
			continue
		}
		values[name] = value
	}
	return values
}

// DecimalMap parses "USD=1.41,EUR=1.30" with upper-cased currency keys.
func (r *envReader) DecimalMap(key string) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal)
	for name, value := range r.Map(key) {
		d, err := decimal.NewFromString(value)
		if err != nil {
			r.invalid = append(r.invalid, key)
			continue
		}
		out[strings.ToUpper(name)] = d
	}
	return out
}

// Precision parses "JOD=3,USD=2" and merges it over fallback.
func (r *envReader) Precision(key string, fallback map[string]int32) map[string]int32 {
	out := make(map[string]int32, len(fallback))
	for code, places := range fallback {
		out[code] = places
	}
	for name, value := range r.Map(key) {
		places, err := strconv.ParseInt(value, 10, 32)
		if err != nil || places < 0 || places > 4 {
			r.invalid = append(r.invalid, key)
			continue
		}
		out[strings.ToUpper(name)] = int32(places)
	}
	return out
}
