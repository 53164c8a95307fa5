package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/jensholdgaard/auctiond/internal/auctionerrors"
	"github.com/jensholdgaard/auctiond/internal/clock"
	"github.com/jensholdgaard/auctiond/internal/ledger"
)

// UserRepo implements ledger.UserRepository with sqlx.
type UserRepo struct {
	q     sqlx.ExtContext
	clock clock.Clock
}

func (r *UserRepo) Create(ctx context.Context, u *ledger.User) error {
	u.CreatedAt = r.clock.Now().UTC()
	err := r.q.QueryRowxContext(ctx,
		`INSERT INTO users (name, email, premium, created_at) VALUES ($1, $2, $3, $4) RETURNING id`,
		u.Name, u.Email, u.Premium, u.CreatedAt,
	).Scan(&u.ID)
	if err != nil {
		return fmt.Errorf("creating user: %w", err)
	}
	return nil
}

func (r *UserRepo) GetByID(ctx context.Context, id int64) (*ledger.User, error) {
	var u ledger.User
	err := sqlx.GetContext(ctx, r.q, &u,
		`SELECT id, name, email, premium, created_at FROM users WHERE id = $1`, id)
	if err != nil {
		return nil, noRows(err, auctionerrors.ErrUserNotFound, "getting user")
	}
	return &u, nil
}

func (r *UserRepo) SetPremium(ctx context.Context, id int64, premium bool) error {
	result, err := r.q.ExecContext(ctx, `UPDATE users SET premium = $1 WHERE id = $2`, premium, id)
	if err != nil {
		return fmt.Errorf("updating premium flag: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return auctionerrors.ErrUserNotFound
	}
	return nil
}

// AccountRepo implements ledger.AccountRepository with sqlx.
type AccountRepo struct {
	q     sqlx.ExtContext
	clock clock.Clock
}

const accountColumns = `user_id, funds, updated_at`

func (r *AccountRepo) Create(ctx context.Context, a *ledger.Account) error {
	a.UpdatedAt = r.clock.Now().UTC()
	_, err := r.q.ExecContext(ctx,
		`INSERT INTO accounts (user_id, funds, updated_at) VALUES ($1, $2, $3)`,
		a.UserID, a.Funds, a.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return ledger.ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("creating account: %w", err)
	}
	return nil
}

func (r *AccountRepo) Get(ctx context.Context, userID int64) (*ledger.Account, error) {
	var a ledger.Account
	err := sqlx.GetContext(ctx, r.q, &a,
		`SELECT `+accountColumns+` FROM accounts WHERE user_id = $1`, userID)
	if err != nil {
		return nil, noRows(err, auctionerrors.ErrAccountNotFound, "getting account")
	}
	return &a, nil
}

func (r *AccountRepo) Lock(ctx context.Context, userID int64) (*ledger.Account, error) {
	var a ledger.Account
	err := sqlx.GetContext(ctx, r.q, &a,
		`SELECT `+accountColumns+` FROM accounts WHERE user_id = $1 FOR UPDATE`, userID)
	if err != nil {
		return nil, noRows(err, auctionerrors.ErrAccountNotFound, "locking account")
	}
	return &a, nil
}

func (r *AccountRepo) Credit(ctx context.Context, userID int64, amount decimal.Decimal) (*ledger.Account, error) {
	var a ledger.Account
	err := sqlx.GetContext(ctx, r.q, &a,
		`UPDATE accounts SET funds = funds + $1, updated_at = $2 WHERE user_id = $3
		 RETURNING `+accountColumns,
		amount, r.clock.Now().UTC(), userID,
	)
	if err != nil {
		return nil, noRows(err, auctionerrors.ErrAccountNotFound, "crediting account")
	}
	return &a, nil
}

func (r *AccountRepo) Debit(ctx context.Context, userID int64, amount decimal.Decimal) (*ledger.Account, error) {
	var a ledger.Account
	err := sqlx.GetContext(ctx, r.q, &a,
		`UPDATE accounts SET funds = funds - $1, updated_at = $2 WHERE user_id = $3 AND funds >= $1
		 RETURNING `+accountColumns,
		amount, r.clock.Now().UTC(), userID,
	)
	if err == nil {
		return &a, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("debiting account: %w", err)
	}
	// No row matched: either the account is missing or funds are short.
	ok, err := exists(ctx, r.q, "accounts", "user_id", userID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, auctionerrors.ErrAccountNotFound
	}
	return nil, auctionerrors.ErrInsufficientFunds
}
