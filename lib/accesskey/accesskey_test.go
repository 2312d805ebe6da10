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

package accesskey

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/picahq/pica/lib/types"
)

var testPassword = []byte("0123456789abcdef0123456789abcdef")

func TestCodecRoundTrip(t *testing.T) {
	codec, err := NewCodec(testPassword)
	require.NoError(t, err)

	claims := Claims{
		OwnershipID: "build-42",
		Environment: types.EnvironmentLive,
		Namespace:   "default",
		Platform:    "stripe",
	}

	key, err := codec.Encode(claims)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(key, "sk_live_"))

	decoded, err := codec.Decode(key)
	require.NoError(t, err)
	require.Equal(t, &claims, decoded)
}

func TestCodecRejectsTampering(t *testing.T) {
	codec, err := NewCodec(testPassword)
	require.NoError(t, err)

	key, err := codec.Encode(Claims{OwnershipID: "build-1", Environment: types.EnvironmentTest})
	require.NoError(t, err)

	// Flip the declared environment without resealing.
	tampered := strings.Replace(key, "sk_test_", "sk_live_", 1)
	_, err = codec.Decode(tampered)
	require.Error(t, err)

	// Corrupt the ciphertext.
	_, err = codec.Decode(key[:len(key)-2] + "zz")
	require.Error(t, err)

	_, err = codec.Decode("not-a-key")
	require.Error(t, err)
}

func TestCodecPasswordLength(t *testing.T) {
	_, err := NewCodec([]byte("short"))
	require.Error(t, err)
}
