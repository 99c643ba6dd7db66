// Package config parses and validates the bridge's startup credentials
// from an environment-like key/value source.
package config

import (
	"net/url"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"github.com/xray-tool-bridge/core/internal/xrayerrors"
)

const (
	envClientID     = "XRAY_CLIENT_ID"
	envClientSecret = "XRAY_CLIENT_SECRET"
	envBaseURL      = "XRAY_BASE_URL"

	defaultBaseURL = "https://xray.cloud.getxray.app"
)

// Source looks up a single environment-like key. Production code wires
// os.LookupEnv (optionally pre-seeded by a .env file); tests inject a
// map-backed Source.
type Source interface {
	Lookup(key string) (string, bool)
}

// EnvSource reads from the process environment.
type EnvSource struct{}

func (EnvSource) Lookup(key string) (string, bool) { return os.LookupEnv(key) }

// MapSource is a fixed key/value source, mainly for tests.
type MapSource map[string]string

func (m MapSource) Lookup(key string) (string, bool) { v, ok := m[key]; return v, ok }

// LoadDotEnvIntoEnvironment reads a .env file at path (if it exists) and
// sets any keys it defines into the process environment without
// overwriting variables already present, mirroring the common
// godotenv.Load composition-root pattern: explicit environment always
// wins over the file.
func LoadDotEnvIntoEnvironment(path string) error {
	vars, err := godotenv.Read(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for k, v := range vars {
		if _, present := os.LookupEnv(k); !present {
			_ = os.Setenv(k, v)
		}
	}
	return nil
}

// Credentials is the immutable triple required to talk to Xray. It is
// created once at process start and never mutated or logged.
type Credentials struct {
	ClientID     string
	ClientSecret string
	BaseURL      string
}

// Load validates and constructs Credentials from src.
func Load(src Source) (Credentials, error) {
	clientID, ok := src.Lookup(envClientID)
	if !ok || strings.TrimSpace(clientID) == "" {
		return Credentials{}, &xrayerrors.ConfigError{Field: envClientID, Reason: "required and must be non-empty"}
	}

	clientSecret, ok := src.Lookup(envClientSecret)
	if !ok || strings.TrimSpace(clientSecret) == "" {
		return Credentials{}, &xrayerrors.ConfigError{Field: envClientSecret, Reason: "required and must be non-empty"}
	}

	baseURL, ok := src.Lookup(envBaseURL)
	if !ok || strings.TrimSpace(baseURL) == "" {
		baseURL = defaultBaseURL
	}
	if err := validateHTTPSURL(baseURL); err != nil {
		return Credentials{}, &xrayerrors.ConfigError{Field: envBaseURL, Reason: err.Error()}
	}

	return Credentials{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		BaseURL:      strings.TrimRight(baseURL, "/"),
	}, nil
}

func validateHTTPSURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if !u.IsAbs() {
		return &invalidURLError{raw: raw, reason: "must be an absolute URL"}
	}
	if u.Scheme != "https" {
		return &invalidURLError{raw: raw, reason: "must use the https scheme"}
	}
	if u.Host == "" {
		return &invalidURLError{raw: raw, reason: "must include a host"}
	}
	return nil
}

type invalidURLError struct {
	raw    string
	reason string
}

func (e *invalidURLError) Error() string {
	return e.reason + ": " + e.raw
}
