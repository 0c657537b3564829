package repo

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/memechat/server/internal/apperr"
	"github.com/memechat/server/internal/model"
)

// KeyRepo defines the interface for published encryption keys
type KeyRepo interface {
	// Upsert makes publicKey the user's current key. When it equals the current
	// key the record is returned unchanged; otherwise the version increments and
	// the new key is appended to history.
	Upsert(ctx context.Context, userID uuid.UUID, publicKey []byte) (model.EncryptionKeyRecord, bool, error)
	GetCurrent(ctx context.Context, userID uuid.UUID) (model.EncryptionKeyRecord, error)
	GetVersion(ctx context.Context, userID uuid.UUID, version int) (model.EncryptionKeyRecord, error)
}

type keyRepo struct {
	db *sql.DB
}

// NewKeyRepo creates a new KeyRepo instance
func NewKeyRepo(db *sql.DB) KeyRepo {
	return &keyRepo{db: db}
}

// Upsert runs under a per-user advisory lock so concurrent publishes serialize;
// the last one to commit wins.
func (r *keyRepo) Upsert(ctx context.Context, userID uuid.UUID, publicKey []byte) (model.EncryptionKeyRecord, bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return model.EncryptionKeyRecord{}, false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(2, hashtext($1))`, userID.String())
	if err != nil {
		return model.EncryptionKeyRecord{}, false, fmt.Errorf("advisory lock: %w", err)
	}

	cur := model.EncryptionKeyRecord{UserID: userID}
	err = tx.QueryRowContext(ctx, `
		SELECT public_key, key_version, updated_at FROM encryption_keys WHERE user_id = $1
	`, userID).Scan(&cur.PublicKey, &cur.KeyVersion, &cur.UpdatedAt)
	switch {
	case err == nil:
		if bytes.Equal(cur.PublicKey, publicKey) {
			return cur, false, nil
		}
	case errors.Is(err, sql.ErrNoRows):
		cur.KeyVersion = 0
	default:
		return model.EncryptionKeyRecord{}, false, fmt.Errorf("query current key: %w", err)
	}

	next := model.EncryptionKeyRecord{UserID: userID, PublicKey: publicKey, KeyVersion: cur.KeyVersion + 1}
	err = tx.QueryRowContext(ctx, `
		INSERT INTO encryption_keys (user_id, public_key, key_version, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (user_id) DO UPDATE
		SET public_key = EXCLUDED.public_key,
		    key_version = EXCLUDED.key_version,
		    updated_at = EXCLUDED.updated_at
		RETURNING updated_at
	`, userID, publicKey, next.KeyVersion).Scan(&next.UpdatedAt)
	if err != nil {
		return model.EncryptionKeyRecord{}, false, fmt.Errorf("upsert key: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO encryption_key_history (user_id, key_version, public_key, created_at)
		VALUES ($1, $2, $3, $4)
	`, userID, next.KeyVersion, publicKey, next.UpdatedAt)
	if err != nil {
		return model.EncryptionKeyRecord{}, false, fmt.Errorf("insert key history: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return model.EncryptionKeyRecord{}, false, fmt.Errorf("commit: %w", err)
	}
	return next, true, nil
}

// GetCurrent returns the user's current key
func (r *keyRepo) GetCurrent(ctx context.Context, userID uuid.UUID) (model.EncryptionKeyRecord, error) {
	rec := model.EncryptionKeyRecord{UserID: userID}
	err := r.db.QueryRowContext(ctx, `
		SELECT public_key, key_version, updated_at FROM encryption_keys WHERE user_id = $1
	`, userID).Scan(&rec.PublicKey, &rec.KeyVersion, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.EncryptionKeyRecord{}, apperr.ErrNotFound.Withf("encryption key not found")
		}
		return model.EncryptionKeyRecord{}, fmt.Errorf("query key: %w", err)
	}
	return rec, nil
}

// GetVersion returns a historical key by version
func (r *keyRepo) GetVersion(ctx context.Context, userID uuid.UUID, version int) (model.EncryptionKeyRecord, error) {
	rec := model.EncryptionKeyRecord{UserID: userID, KeyVersion: version}
	err := r.db.QueryRowContext(ctx, `
		SELECT public_key, created_at FROM encryption_key_history WHERE user_id = $1 AND key_version = $2
	`, userID, version).Scan(&rec.PublicKey, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.EncryptionKeyRecord{}, apperr.ErrNotFound.Withf("encryption key version not found")
		}
		return model.EncryptionKeyRecord{}, fmt.Errorf("query key version: %w", err)
	}
	return rec, nil
}
