package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/memechat/server/internal/apperr"
	"github.com/memechat/server/internal/model"
)

// UserRepo defines the interface for user repository operations
type UserRepo interface {
	GetByID(ctx context.Context, id uuid.UUID) (model.User, error)
	GetByWallet(ctx context.Context, walletAddress string) (model.User, error)
	GetByEmail(ctx context.Context, email string) (model.User, error)
	// GetOrCreateByWallet never touches an existing email-only account.
	GetOrCreateByWallet(ctx context.Context, walletAddress string) (model.User, bool, error)
	CreateWithPassword(ctx context.Context, email, passwordHash string) (model.User, error)
	// SetWallet binds walletAddress to userID. Fails with ErrWalletAlreadyLinked or
	// ErrAccountAlreadyHasWallet; a no-op when the same wallet is already bound.
	SetWallet(ctx context.Context, userID uuid.UUID, walletAddress string) error
	// ClearWallet removes the wallet only when the account keeps email+password login.
	ClearWallet(ctx context.Context, userID uuid.UUID) error
}

type userRepo struct {
	db *sql.DB
}

// NewUserRepo creates a new UserRepo instance
func NewUserRepo(db *sql.DB) UserRepo {
	return &userRepo{db: db}
}

const userColumns = `id, wallet_address, email, password_hash, role, created_at`

func scanUser(row interface{ Scan(...any) error }) (model.User, error) {
	var u model.User
	var wallet, email, hash sql.NullString
	if err := row.Scan(&u.ID, &wallet, &email, &hash, &u.Role, &u.CreatedAt); err != nil {
		return model.User{}, err
	}
	u.WalletAddress = nullableString(wallet)
	u.Email = nullableString(email)
	u.PasswordHash = nullableString(hash)
	return u, nil
}

func nullableString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func (r *userRepo) getOne(ctx context.Context, where string, arg any) (model.User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE `+where, arg)
	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.User{}, apperr.ErrNotFound.Withf("user not found")
		}
		return model.User{}, fmt.Errorf("query user: %w", err)
	}
	return u, nil
}

// GetByID retrieves a user by ID
func (r *userRepo) GetByID(ctx context.Context, id uuid.UUID) (model.User, error) {
	return r.getOne(ctx, `id = $1`, id)
}

// GetByWallet retrieves a user by bound wallet address
func (r *userRepo) GetByWallet(ctx context.Context, walletAddress string) (model.User, error) {
	return r.getOne(ctx, `wallet_address = $1`, walletAddress)
}

// GetByEmail retrieves a user by normalized email
func (r *userRepo) GetByEmail(ctx context.Context, email string) (model.User, error) {
	return r.getOne(ctx, `email = $1`, email)
}

// GetOrCreateByWallet returns the user owning walletAddress, creating one on first login.
// The bool reports whether a new account was created.
func (r *userRepo) GetOrCreateByWallet(ctx context.Context, walletAddress string) (model.User, bool, error) {
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO users (wallet_address)
		VALUES ($1)
		ON CONFLICT (wallet_address) DO NOTHING
		RETURNING `+userColumns, walletAddress)
	u, err := scanUser(row)
	if err == nil {
		return u, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return model.User{}, false, fmt.Errorf("insert user: %w", err)
	}

	u, err = r.GetByWallet(ctx, walletAddress)
	if err != nil {
		return model.User{}, false, err
	}
	return u, false, nil
}

// CreateWithPassword creates an email/password account
func (r *userRepo) CreateWithPassword(ctx context.Context, email, passwordHash string) (model.User, error) {
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO users (email, password_hash)
		VALUES ($1, $2)
		RETURNING `+userColumns, email, passwordHash)
	u, err := scanUser(row)
	if err != nil {
		if isUniqueViolation(err) {
			return model.User{}, apperr.ErrEmailTaken
		}
		return model.User{}, fmt.Errorf("insert user: %w", err)
	}
	return u, nil
}

// SetWallet binds a wallet in a single conditional UPDATE; the unique index on
// wallet_address rejects a wallet already owned by someone else.
func (r *userRepo) SetWallet(ctx context.Context, userID uuid.UUID, walletAddress string) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE users
		SET wallet_address = $2
		WHERE id = $1 AND (wallet_address IS NULL OR wallet_address = $2)
	`, userID, walletAddress)
	if err != nil {
		if isUniqueViolation(err) {
			return apperr.ErrWalletAlreadyLinked
		}
		return fmt.Errorf("set wallet: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 1 {
		return nil
	}

	// Nothing updated: either the user is gone or already holds another wallet.
	if _, err := r.GetByID(ctx, userID); err != nil {
		return err
	}
	return apperr.ErrAccountAlreadyHasWallet
}

// ClearWallet unbinds the wallet if the account can still sign in with a password.
// Idempotent when no wallet is bound.
func (r *userRepo) ClearWallet(ctx context.Context, userID uuid.UUID) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE users
		SET wallet_address = NULL
		WHERE id = $1
		  AND wallet_address IS NOT NULL
		  AND email IS NOT NULL
		  AND password_hash IS NOT NULL
	`, userID)
	if err != nil {
		return fmt.Errorf("clear wallet: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 1 {
		return nil
	}

	u, err := r.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	if !u.HasWallet() {
		return nil
	}
	return apperr.ErrCannotRemoveOnlyAuthMethod
}
