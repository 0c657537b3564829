// Package keys is the public-key directory for end-to-end encrypted messaging.
// Only public keys are stored; private keys never leave the client.
package keys

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/memechat/server/internal/apperr"
	"github.com/memechat/server/internal/metrics"
	"github.com/memechat/server/internal/model"
	"github.com/memechat/server/internal/repo"
)

// PublicKeySize is the length of an X25519 public key
const PublicKeySize = 32

// Directory publishes and looks up users' encryption keys
type Directory struct {
	repo repo.KeyRepo
	log  *slog.Logger
}

// NewDirectory creates a key Directory
func NewDirectory(r repo.KeyRepo, log *slog.Logger) *Directory {
	if log == nil {
		log = slog.Default()
	}
	return &Directory{repo: r, log: log}
}

// Publish makes publicKey the user's current key. Re-publishing the same key is a no-op.
func (d *Directory) Publish(ctx context.Context, userID uuid.UUID, publicKey []byte) (model.EncryptionKeyRecord, error) {
	if len(publicKey) != PublicKeySize {
		return model.EncryptionKeyRecord{}, apperr.ErrInvalidArgument.Withf("public key must be %d bytes", PublicKeySize)
	}
	rec, changed, err := d.repo.Upsert(ctx, userID, publicKey)
	if err != nil {
		return model.EncryptionKeyRecord{}, err
	}
	if changed {
		metrics.KeysPublished.Inc()
		d.log.Info("encryption key published", "user_id", userID, "key_version", rec.KeyVersion)
	}
	return rec, nil
}

// Lookup returns the user's current key or ErrNotFound
func (d *Directory) Lookup(ctx context.Context, userID uuid.UUID) (model.EncryptionKeyRecord, error) {
	return d.repo.GetCurrent(ctx, userID)
}

// LookupVersion returns a specific, possibly superseded, key version
func (d *Directory) LookupVersion(ctx context.Context, userID uuid.UUID, version int) (model.EncryptionKeyRecord, error) {
	if version < 1 {
		return model.EncryptionKeyRecord{}, apperr.ErrInvalidArgument.Withf("key version must be positive")
	}
	return d.repo.GetVersion(ctx, userID, version)
}
