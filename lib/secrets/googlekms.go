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
	"encoding/base64"
	"fmt"

	kms "cloud.google.com/go/kms/apiv1"
	"cloud.google.com/go/kms/apiv1/kmspb"
	"github.com/gravitational/trace"
)

// GoogleKMSConfig locates the crypto key used to seal secrets.
type GoogleKMSConfig struct {
	ProjectID string
	Location  string
	KeyRing   string
	KeyName   string
}

// CheckAndSetDefaults validates the config.
func (c *GoogleKMSConfig) CheckAndSetDefaults() error {
	if c.ProjectID == "" {
		return trace.BadParameter("missing ProjectID")
	}
	if c.Location == "" {
		c.Location = "global"
	}
	if c.KeyRing == "" {
		return trace.BadParameter("missing KeyRing")
	}
	if c.KeyName == "" {
		return trace.BadParameter("missing KeyName")
	}
	return nil
}

// GoogleKMS encrypts secrets with a Google Cloud KMS crypto key.
type GoogleKMS struct {
	client  *kms.KeyManagementClient
	keyPath string
}

// NewGoogleKMS dials the KMS API using ambient credentials.
func NewGoogleKMS(ctx context.Context, cfg GoogleKMSConfig) (*GoogleKMS, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	client, err := kms.NewKeyManagementClient(ctx)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return &GoogleKMS{
		client: client,
		keyPath: fmt.Sprintf("projects/%s/locations/%s/keyRings/%s/cryptoKeys/%s",
			cfg.ProjectID, cfg.Location, cfg.KeyRing, cfg.KeyName),
	}, nil
}

func (g *GoogleKMS) Encrypt(ctx context.Context, plaintext []byte) (string, error) {
	resp, err := g.client.Encrypt(ctx, &kmspb.EncryptRequest{
		Name:      g.keyPath,
		Plaintext: plaintext,
	})
	if err != nil {
		return "", trace.ConnectionProblem(err, "kms encrypt failed")
	}
	return base64.StdEncoding.EncodeToString(resp.Ciphertext), nil
}

func (g *GoogleKMS) Decrypt(ctx context.Context, ciphertext string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return nil, trace.BadParameter("malformed ciphertext")
	}
	resp, err := g.client.Decrypt(ctx, &kmspb.DecryptRequest{
		Name:       g.keyPath,
		Ciphertext: raw,
	})
	if err != nil {
		return nil, trace.ConnectionProblem(err, "kms decrypt failed")
	}
	return resp.Plaintext, nil
}

// Close releases the underlying gRPC connection.
func (g *GoogleKMS) Close() error {
	return trace.Wrap(g.client.Close())
}
