package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
)

func String(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func RequiredString(key string) (string, error) {
	v := os.Getenv(key)
	if v == "" {
		return "", fmt.Errorf("%s is required", key)
	}
	return v, nil
}

func Port(key, fallback string) (string, error) {
	v := String(key, fallback)
	return v, ValidatePort(key, v)
}

func ValidatePort(key, v string) error {
	p, err := strconv.Atoi(v)
	if err != nil || p < 1 || p > 65535 {
		return fmt.Errorf("%s must be a valid TCP port (got %q)", key, v)
	}
	return nil
}

// Load reads an optional .env file (ENV_FILE, default ".env") and parses the
// environment into cfg using `env` / `envDefault` struct tags.
func Load(cfg any) error {
	path := String("ENV_FILE", ".env")
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return env.Parse(cfg)
}

// Minutes parses a comma separated list of positive minute counts.
// Invalid entries are returned separately so callers can log them.
func Minutes(raw string) ([]time.Duration, []string) {
	var out []time.Duration
	var invalid []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		mins, err := strconv.Atoi(part)
		if err != nil || mins <= 0 {
			invalid = append(invalid, part)
			continue
		}
		out = append(out, time.Duration(mins)*time.Minute)
	}
	return out, invalid
}
