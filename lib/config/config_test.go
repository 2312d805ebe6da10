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

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func validEnv(t *testing.T) {
	t.Helper()
	t.Setenv("EVENT_ACCESS_PASSWORD", "0123456789abcdef0123456789abcdef")
	t.Setenv("IOS_CRYPTO_SECRET", "fedcba9876543210fedcba9876543210")
}

func TestLoadAPIConfigDefaults(t *testing.T) {
	validEnv(t)

	cfg, err := LoadAPIConfig()
	require.NoError(t, err)
	require.Equal(t, "0.0.0.0:3005", cfg.Address)
	require.Equal(t, KMSIos, cfg.KMSProvider)
	require.Equal(t, K8sLogger, cfg.K8sMode)
	require.Equal(t, 2048, cfg.EventSaveBufferSize)
	require.Equal(t, 30*time.Second, cfg.EventSaveTimeout)
	require.Equal(t, "x-pica-secret", cfg.HeaderAuth)
	require.Equal(t, "x-pica-connection-key", cfg.HeaderConnection)
	require.Equal(t, 10000, cfg.Cache.Size)
}

func TestLoadAPIConfigOverrides(t *testing.T) {
	validEnv(t)
	t.Setenv("EVENT_SAVE_BUFFER_SIZE", "64")
	t.Setenv("EVENT_SAVE_TIMEOUT_SECS", "5")
	t.Setenv("HEADER_AUTH", "x-custom-secret")
	t.Setenv("K8S_MODE", "Real")

	cfg, err := LoadAPIConfig()
	require.NoError(t, err)
	require.Equal(t, 64, cfg.EventSaveBufferSize)
	require.Equal(t, 5*time.Second, cfg.EventSaveTimeout)
	require.Equal(t, "x-custom-secret", cfg.HeaderAuth)
	require.Equal(t, K8sReal, cfg.K8sMode)
}

func TestLoadAPIConfigValidation(t *testing.T) {
	t.Run("password length", func(t *testing.T) {
		t.Setenv("EVENT_ACCESS_PASSWORD", "short")
		_, err := LoadAPIConfig()
		require.Error(t, err)
	})

	t.Run("google kms needs keys", func(t *testing.T) {
		validEnv(t)
		t.Setenv("SECRETS_SERVICE_PROVIDER", "GoogleKms")
		_, err := LoadAPIConfig()
		require.Error(t, err)

		t.Setenv("GOOGLE_KMS_PROJECT_ID", "proj")
		t.Setenv("GOOGLE_KMS_KEY_RING_ID", "ring")
		t.Setenv("GOOGLE_KMS_KEY_ID", "key")
		cfg, err := LoadAPIConfig()
		require.NoError(t, err)
		require.Equal(t, KMSGoogle, cfg.KMSProvider)
	})

	t.Run("posthog all or nothing", func(t *testing.T) {
		validEnv(t)
		t.Setenv("POSTHOG_WRITE_KEY", "phc_x")
		_, err := LoadAPIConfig()
		require.Error(t, err)

		t.Setenv("POSTHOG_ENDPOINT", "https://app.posthog.com")
		_, err = LoadAPIConfig()
		require.NoError(t, err)
	})

	t.Run("bad integer", func(t *testing.T) {
		validEnv(t)
		t.Setenv("METRIC_SAVE_CHANNEL_SIZE", "lots")
		_, err := LoadAPIConfig()
		require.Error(t, err)
	})
}

func TestLoadWatchdogConfig(t *testing.T) {
	t.Setenv("RATE_LIMITER_REFRESH_INTERVAL", "2")
	t.Setenv("MAX_AMOUNT_OF_TASKS_TO_PROCESS", "25")

	cfg, err := LoadWatchdogConfig()
	require.NoError(t, err)
	require.Equal(t, 2*time.Second, cfg.RefreshInterval)
	require.Equal(t, int64(25), cfg.MaxTasks)
	require.Equal(t, 10*time.Second, cfg.HTTPClientTimeout)
}
