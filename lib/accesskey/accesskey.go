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

// Package accesskey encodes and decodes the bearer keys handed to API
// clients. A key is an AES-256-GCM sealed JSON claim set, keyed by the
// fixed 32-byte event access password, carried as
// sk_{environment}_{base64url(nonce||ciphertext)}.
package accesskey

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"strings"

	"github.com/gravitational/trace"

	"github.com/picahq/pica/lib/types"
)

// PasswordLength is the required length of the event access password.
const PasswordLength = 32

const keyPrefix = "sk"

// Claims is the plaintext embedded in an access key. The ownership id must
// match the EventAccess record the key authenticates.
type Claims struct {
	OwnershipID string            `json:"ownershipId"`
	Environment types.Environment `json:"environment"`
	Namespace   string            `json:"namespace,omitempty"`
	Group       string            `json:"group,omitempty"`
	Platform    string            `json:"platform,omitempty"`
}

// Codec seals and opens access keys with a fixed password.
type Codec struct {
	aead cipher.AEAD
}

// NewCodec builds a codec from the 32-byte event access password.
func NewCodec(password []byte) (*Codec, error) {
	if len(password) != PasswordLength {
		return nil, trace.BadParameter("event access password must be %d bytes, got %d", PasswordLength, len(password))
	}
	block, err := aes.NewCipher(password)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return &Codec{aead: aead}, nil
}

// Encode seals the claims into a bearer key.
func (c *Codec) Encode(claims Claims) (string, error) {
	plaintext, err := json.Marshal(claims)
	if err != nil {
		return "", trace.Wrap(err)
	}

	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", trace.Wrap(err)
	}

	sealed := c.aead.Seal(nonce, nonce, plaintext, nil)
	encoded := base64.RawURLEncoding.EncodeToString(sealed)
	return keyPrefix + "_" + string(claims.Environment) + "_" + encoded, nil
}

// Decode opens a bearer key and returns its claims. Tampered or malformed
// keys fail with a bad parameter error; callers translate that into an
// authentication failure.
func (c *Codec) Decode(key string) (*Claims, error) {
	parts := strings.SplitN(key, "_", 3)
	if len(parts) != 3 || parts[0] != keyPrefix {
		return nil, trace.BadParameter("malformed access key")
	}
	env, err := types.ParseEnvironment(parts[1])
	if err != nil {
		return nil, trace.BadParameter("malformed access key")
	}

	sealed, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil || len(sealed) < c.aead.NonceSize() {
		return nil, trace.BadParameter("malformed access key")
	}

	nonce, ciphertext := sealed[:c.aead.NonceSize()], sealed[c.aead.NonceSize():]
	plaintext, err := c.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, trace.BadParameter("malformed access key")
	}

	var claims Claims
	if err := json.Unmarshal(plaintext, &claims); err != nil {
		return nil, trace.BadParameter("malformed access key")
	}
	if claims.Environment != env {
		return nil, trace.BadParameter("malformed access key")
	}
	return &claims, nil
}
