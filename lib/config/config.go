// Pica
// Copyright (C) 2025 Pica, Inc.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package config reads process configuration from the environment. Both
// binaries call Load* once at startup; everything downstream receives
// explicit config structs.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/gravitational/trace"

	"github.com/picahq/pica/lib/defaults"
)

// KMSProvider selects the secrets cipher backend.
type KMSProvider string

const (
	KMSGoogle KMSProvider = "GoogleKms"
	KMSIos    KMSProvider = "IosKms"
)

// K8sMode selects the driver for connection teardown: the real cluster
// client or a logging stub.
type K8sMode string

const (
	K8sReal   K8sMode = "Real"
	K8sLogger K8sMode = "Logger"
)

// CacheConfig sizes the catalog caches.
type CacheConfig struct {
	Size                int
	AccessTTL           time.Duration
	ConnectionTTL       time.Duration
	DefinitionTTL       time.Duration
	OAuthDefinitionTTL  time.Duration
	ModelDefinitionTTL  time.Duration
}

// APIConfig configures the gateway server.
type APIConfig struct {
	Address        string
	ConnectionsURL string
	EmitURL        string
	OAuthURL       string

	DatabaseURL  string
	DatabaseName string
	RedisURL     string

	KMSProvider       KMSProvider
	GoogleKMSProject  string
	GoogleKMSLocation string
	GoogleKMSKeyRing  string
	GoogleKMSKey      string
	IosCryptoSecret   string

	EventAccessPassword string

	HeaderAuth       string
	HeaderConnection string

	Cache CacheConfig

	EventSaveBufferSize   int
	EventSaveTimeout      time.Duration
	MetricSaveChannelSize int
	MetricSystemID        string

	HTTPClientTimeout time.Duration

	PosthogWriteKey string
	PosthogEndpoint string

	EngineeringAccountID string
	K8sMode              K8sMode
}

// LoadAPIConfig reads the gateway configuration from the environment.
func LoadAPIConfig() (*APIConfig, error) {
	cfg := &APIConfig{
		Address:        envString("SERVER_ADDRESS", "0.0.0.0:3005"),
		ConnectionsURL: envString("CONNECTIONS_URL", "http://localhost:3005"),
		EmitURL:        envString("EMIT_URL", "http://localhost:3001"),
		OAuthURL:       envString("OAUTH_URL", "http://localhost:3003"),

		DatabaseURL:  envString("DATABASE_URL", "mongodb://localhost:27017"),
		DatabaseName: envString("DATABASE_NAME", "events-service"),
		RedisURL:     envString("REDIS_URL", "redis://localhost:6379"),

		KMSProvider:       KMSProvider(envString("SECRETS_SERVICE_PROVIDER", string(KMSIos))),
		GoogleKMSProject:  os.Getenv("GOOGLE_KMS_PROJECT_ID"),
		GoogleKMSLocation: os.Getenv("GOOGLE_KMS_LOCATION_ID"),
		GoogleKMSKeyRing:  os.Getenv("GOOGLE_KMS_KEY_RING_ID"),
		GoogleKMSKey:      os.Getenv("GOOGLE_KMS_KEY_ID"),
		IosCryptoSecret:   os.Getenv("IOS_CRYPTO_SECRET"),

		EventAccessPassword: os.Getenv("EVENT_ACCESS_PASSWORD"),

		HeaderAuth:       envString("HEADER_AUTH", defaults.HeaderAuth),
		HeaderConnection: envString("HEADER_CONNECTION", defaults.HeaderConnection),

		MetricSystemID:       envString("METRIC_SYSTEM_ID", "pica-system"),
		EngineeringAccountID: envString("ENGINEERING_ACCOUNT_ID", ""),
		K8sMode:              K8sMode(envString("K8S_MODE", string(K8sLogger))),

		PosthogWriteKey: os.Getenv("POSTHOG_WRITE_KEY"),
		PosthogEndpoint: os.Getenv("POSTHOG_ENDPOINT"),
	}

	var err error
	if cfg.Cache, err = loadCacheConfig(); err != nil {
		return nil, trace.Wrap(err)
	}
	if cfg.EventSaveBufferSize, err = envInt("EVENT_SAVE_BUFFER_SIZE", 2048); err != nil {
		return nil, trace.Wrap(err)
	}
	if cfg.EventSaveTimeout, err = envSeconds("EVENT_SAVE_TIMEOUT_SECS", 30*time.Second); err != nil {
		return nil, trace.Wrap(err)
	}
	if cfg.MetricSaveChannelSize, err = envInt("METRIC_SAVE_CHANNEL_SIZE", 2048); err != nil {
		return nil, trace.Wrap(err)
	}
	if cfg.HTTPClientTimeout, err = envSeconds("HTTP_CLIENT_TIMEOUT_SECS", defaults.HTTPClientTimeout); err != nil {
		return nil, trace.Wrap(err)
	}
	return cfg, trace.Wrap(cfg.CheckAndSetDefaults())
}

// CheckAndSetDefaults validates the loaded configuration.
func (c *APIConfig) CheckAndSetDefaults() error {
	if len(c.EventAccessPassword) != 32 {
		return trace.BadParameter("EVENT_ACCESS_PASSWORD must be exactly 32 bytes")
	}
	switch c.KMSProvider {
	case KMSGoogle:
		if c.GoogleKMSProject == "" || c.GoogleKMSKeyRing == "" || c.GoogleKMSKey == "" {
			return trace.BadParameter("GoogleKms requires GOOGLE_KMS_PROJECT_ID, GOOGLE_KMS_KEY_RING_ID and GOOGLE_KMS_KEY_ID")
		}
	case KMSIos:
		if len(c.IosCryptoSecret) != 32 {
			return trace.BadParameter("IosKms requires a 32-byte IOS_CRYPTO_SECRET")
		}
	default:
		return trace.BadParameter("unknown SECRETS_SERVICE_PROVIDER %q", c.KMSProvider)
	}
	switch c.K8sMode {
	case K8sReal, K8sLogger:
	default:
		return trace.BadParameter("unknown K8S_MODE %q", c.K8sMode)
	}
	// Posthog is all or nothing; a half-configured tracker falls back to
	// the logger silently otherwise.
	if (c.PosthogWriteKey == "") != (c.PosthogEndpoint == "") {
		return trace.BadParameter("POSTHOG_WRITE_KEY and POSTHOG_ENDPOINT must be set together")
	}
	return nil
}

// WatchdogConfig configures the watchdog process.
type WatchdogConfig struct {
	DatabaseURL  string
	DatabaseName string
	RedisURL     string

	// RefreshInterval is the pause between watchdog ticks and the width of
	// the rate-limit window.
	RefreshInterval time.Duration
	// MaxTasks bounds how many tasks one tick leases.
	MaxTasks int64
	// HTTPClientTimeout applies to task endpoints unless the task awaits.
	HTTPClientTimeout time.Duration
}

// LoadWatchdogConfig reads the watchdog configuration from the environment.
func LoadWatchdogConfig() (*WatchdogConfig, error) {
	cfg := &WatchdogConfig{
		DatabaseURL:  envString("DATABASE_URL", "mongodb://localhost:27017"),
		DatabaseName: envString("DATABASE_NAME", "events-service"),
		RedisURL:     envString("REDIS_URL", "redis://localhost:6379"),
	}

	var err error
	if cfg.RefreshInterval, err = envSeconds("RATE_LIMITER_REFRESH_INTERVAL", 60*time.Second); err != nil {
		return nil, trace.Wrap(err)
	}
	maxTasks, err := envInt("MAX_AMOUNT_OF_TASKS_TO_PROCESS", 100)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	cfg.MaxTasks = int64(maxTasks)
	if cfg.HTTPClientTimeout, err = envSeconds("HTTP_CLIENT_TIMEOUT_SECS", defaults.HTTPClientTimeout); err != nil {
		return nil, trace.Wrap(err)
	}
	return cfg, nil
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, trace.BadParameter("%v must be an integer, got %q", key, v)
	}
	return n, nil
}

func envSeconds(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, trace.BadParameter("%v must be a non-negative number of seconds, got %q", key, v)
	}
	return time.Duration(n) * time.Second, nil
}

func loadCacheConfig() (CacheConfig, error) {
	cfg := CacheConfig{}
	var err error
	if cfg.Size, err = envInt("CACHE_SIZE", 10000); err != nil {
		return cfg, trace.Wrap(err)
	}
	if cfg.AccessTTL, err = envSeconds("ACCESS_KEY_CACHE_TTL_SECS", 30*time.Minute); err != nil {
		return cfg, trace.Wrap(err)
	}
	if cfg.ConnectionTTL, err = envSeconds("CONNECTION_CACHE_TTL_SECS", 2*time.Minute); err != nil {
		return cfg, trace.Wrap(err)
	}
	if cfg.DefinitionTTL, err = envSeconds("CONNECTION_DEFINITION_CACHE_TTL_SECS", time.Hour); err != nil {
		return cfg, trace.Wrap(err)
	}
	if cfg.OAuthDefinitionTTL, err = envSeconds("CONNECTION_OAUTH_DEFINITION_CACHE_TTL_SECS", time.Hour); err != nil {
		return cfg, trace.Wrap(err)
	}
	if cfg.ModelDefinitionTTL, err = envSeconds("CONNECTION_MODEL_DEFINITION_CACHE_TTL_SECS", time.Hour); err != nil {
		return cfg, trace.Wrap(err)
	}
	return cfg, nil
}
