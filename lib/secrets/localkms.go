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

package secrets

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"

	"github.com/gravitational/trace"
)

// LocalKMS seals secrets with AES-256-GCM under a process-local key. Used
// for self-hosted deployments that have no cloud KMS.
type LocalKMS struct {
	aead cipher.AEAD
}

// NewLocalKMS builds the cipher from a 32-byte key.
func NewLocalKMS(key []byte) (*LocalKMS, error) {
	if len(key) != 32 {
		return nil, trace.BadParameter("local kms key must be 32 bytes, got %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return &LocalKMS{aead: aead}, nil
}

func (l *LocalKMS) Encrypt(_ context.Context, plaintext []byte) (string, error) {
	nonce := make([]byte, l.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", trace.Wrap(err)
	}
	sealed := l.aead.Seal(nonce, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func (l *LocalKMS) Decrypt(_ context.Context, ciphertext string) ([]byte, error) {
	sealed, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil || len(sealed) < l.aead.NonceSize() {
		return nil, trace.BadParameter("malformed ciphertext")
	}
	nonce, payload := sealed[:l.aead.NonceSize()], sealed[l.aead.NonceSize():]
	plaintext, err := l.aead.Open(nil, nonce, payload, nil)
	if err != nil {
		return nil, trace.BadParameter("ciphertext does not open with the configured key")
	}
	return plaintext, nil
}
