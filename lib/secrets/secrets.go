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

// Package secrets stores encrypted JSON payloads in the secrets collection.
// The ciphertext backend is pluggable: Google Cloud KMS in production, a
// local AES-256-GCM cipher for self-hosted deployments and tests. Secrets
// are append-only; rotation writes a new record.
package secrets

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gravitational/trace"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/picahq/pica/lib/mongostore"
	"github.com/picahq/pica/lib/types"
)

// Encryptor seals and opens raw payload bytes. Implementations must be safe
// for concurrent use.
type Encryptor interface {
	// Encrypt seals plaintext and returns an opaque ciphertext string.
	Encrypt(ctx context.Context, plaintext []byte) (string, error)
	// Decrypt opens a ciphertext produced by Encrypt.
	Decrypt(ctx context.Context, ciphertext string) ([]byte, error)
}

// Record is one stored secret. The payload is encrypted at rest; ownership
// scopes reads to the tenant that created it.
type Record struct {
	ID          types.ID `bson:"_id" json:"_id"`
	OwnershipID string   `bson:"buildableId" json:"buildableId"`
	Encrypted   string   `bson:"encryptedSecret" json:"-"`
	CreatedAt   int64    `bson:"createdAt" json:"createdAt"`
}

// Service encrypts payloads into the secrets collection and decrypts them
// back out.
type Service struct {
	store *mongostore.Store[Record]
	enc   Encryptor
}

// NewService builds a secrets service over the given store and cipher.
func NewService(store *mongostore.Store[Record], enc Encryptor) (*Service, error) {
	if store == nil {
		return nil, trace.BadParameter("missing store")
	}
	if enc == nil {
		return nil, trace.BadParameter("missing encryptor")
	}
	return &Service{store: store, enc: enc}, nil
}

// Create encrypts payload and persists it under a fresh secret id.
func (s *Service) Create(ctx context.Context, ownershipID string, payload any, now time.Time) (*Record, error) {
	plaintext, err := json.Marshal(payload)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	ciphertext, err := s.enc.Encrypt(ctx, plaintext)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	record := &Record{
		ID:          types.NewID(types.IDPrefixSecret, now),
		OwnershipID: ownershipID,
		Encrypted:   ciphertext,
		CreatedAt:   now.UnixMilli(),
	}
	if err := s.store.CreateOne(ctx, record); err != nil {
		return nil, trace.Wrap(err)
	}
	return record, nil
}

// List pages the tenant's secret records. Payloads stay encrypted; the
// envelope never serializes the ciphertext.
func (s *Service) List(ctx context.Context, ownershipID string, opts mongostore.FindOpts) ([]Record, int64, error) {
	filter := bson.M{"buildableId": ownershipID}
	records, err := s.store.List(ctx, filter, opts)
	if err != nil {
		return nil, 0, trace.Wrap(err)
	}
	total, err := s.store.Count(ctx, filter)
	if err != nil {
		return nil, 0, trace.Wrap(err)
	}
	return records, total, nil
}

// Get loads the secret with the given id, scoped to ownershipID, and
// decrypts its payload into out.
func (s *Service) Get(ctx context.Context, id, ownershipID string, out any) error {
	record, err := s.store.GetOne(ctx, bson.M{"_id": id, "buildableId": ownershipID})
	if err != nil {
		return trace.Wrap(err)
	}
	plaintext, err := s.enc.Decrypt(ctx, record.Encrypted)
	if err != nil {
		return trace.Wrap(err)
	}
	if err := json.Unmarshal(plaintext, out); err != nil {
		return trace.BadParameter("secret %q does not decode into %T: %v", id, out, err)
	}
	return nil
}
