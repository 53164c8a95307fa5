package postgres_test

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/jensholdgaard/auctiond/internal/auctionerrors"
	"github.com/jensholdgaard/auctiond/internal/clock"
	"github.com/jensholdgaard/auctiond/internal/ledger"
	"github.com/jensholdgaard/auctiond/internal/ledger/postgres"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newMockStore(t *testing.T) (*postgres.Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return postgres.New(sqlx.NewDb(db, "postgres"), clock.Mock{T: t0}), mock
}

func q(s string) string { return regexp.QuoteMeta(s) }

func TestAtomic_CommitsOnSuccess(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(q(`INSERT INTO categories (name) VALUES ($1) RETURNING id`)).
		WithArgs("books").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(7))
	mock.ExpectCommit()

	var c ledger.Category
	err := s.Atomic(context.Background(), func(ctx context.Context, tx ledger.Tx) error {
		c.Name = "books"
		return tx.Categories().Create(ctx, &c)
	})
	if err != nil {
		t.Fatalf("Atomic: %v", err)
	}
	if c.ID != 7 {
		t.Errorf("ID = %d, want 7", c.ID)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("expectations: %v", err)
	}
}

func TestAtomic_RollsBackOnError(t *testing.T) {
	s, mock := newMockStore(t)
	boom := errors.New("boom")

	mock.ExpectBegin()
	mock.ExpectRollback()

	err := s.Atomic(context.Background(), func(context.Context, ledger.Tx) error { return boom })
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("expectations: %v", err)
	}
}

func TestCategoryRepo_CreateDuplicate(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(q(`INSERT INTO categories`)).
		WithArgs("books").
		WillReturnError(&pq.Error{Code: "23505"})
	mock.ExpectRollback()

	err := s.Atomic(context.Background(), func(ctx context.Context, tx ledger.Tx) error {
		return tx.Categories().Create(ctx, &ledger.Category{Name: "books"})
	})
	if !errors.Is(err, ledger.ErrDuplicate) {
		t.Fatalf("err = %v, want ErrDuplicate", err)
	}
}

func TestAccountRepo_Debit(t *testing.T) {
	accountCols := []string{"user_id", "funds", "updated_at"}

	tests := []struct {
		name    string
		expect  func(mock sqlmock.Sqlmock)
		wantErr error
	}{
		{
			name: "sufficient funds",
			expect: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(q(`UPDATE accounts SET funds = funds - $1`)).
					WithArgs(sqlmock.AnyArg(), t0, int64(1)).
					WillReturnRows(sqlmock.NewRows(accountCols).AddRow(1, "60", t0))
			},
		},
		{
			name: "insufficient funds",
			expect: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(q(`UPDATE accounts SET funds = funds - $1`)).
					WillReturnRows(sqlmock.NewRows(accountCols))
				mock.ExpectQuery(q(`SELECT EXISTS (SELECT 1 FROM accounts WHERE user_id = $1)`)).
					WithArgs(int64(1)).
					WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
			},
			wantErr: auctionerrors.ErrInsufficientFunds,
		},
		{
			name: "missing account",
			expect: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(q(`UPDATE accounts SET funds = funds - $1`)).
					WillReturnRows(sqlmock.NewRows(accountCols))
				mock.ExpectQuery(q(`SELECT EXISTS (SELECT 1 FROM accounts WHERE user_id = $1)`)).
					WithArgs(int64(1)).
					WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
			},
			wantErr: auctionerrors.ErrAccountNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, mock := newMockStore(t)
			mock.ExpectBegin()
			tt.expect(mock)
			if tt.wantErr == nil {
				mock.ExpectCommit()
			} else {
				mock.ExpectRollback()
			}

			var got *ledger.Account
			err := s.Atomic(context.Background(), func(ctx context.Context, tx ledger.Tx) error {
				var err error
				got, err = tx.Accounts().Debit(ctx, 1, decimal.NewFromInt(40))
				return err
			})
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr == nil && !got.Funds.Equal(decimal.NewFromInt(60)) {
				t.Errorf("Funds = %s, want 60", got.Funds)
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("expectations: %v", err)
			}
		})
	}
}

func TestConditionalUpdates(t *testing.T) {
	tests := []struct {
		name    string
		update  string
		table   string
		exists  bool
		run     func(ctx context.Context, tx ledger.Tx) error
		wantErr error
	}{
		{
			name:   "mark sold twice",
			update: `UPDATE items SET buyer_id = $1, selling_amount = $2 WHERE id = $3 AND buyer_id IS NULL`,
			table:  "items",
			exists: true,
			run: func(ctx context.Context, tx ledger.Tx) error {
				return tx.Items().MarkSold(ctx, 5, 2, decimal.NewFromInt(30))
			},
			wantErr: auctionerrors.ErrAlreadySettled,
		},
		{
			name:   "mark sold missing item",
			update: `UPDATE items SET buyer_id`,
			table:  "items",
			run: func(ctx context.Context, tx ledger.Tx) error {
				return tx.Items().MarkSold(ctx, 5, 2, decimal.NewFromInt(30))
			},
			wantErr: auctionerrors.ErrItemNotFound,
		},
		{
			name:   "close closed auction",
			update: `UPDATE auctions SET is_open = FALSE WHERE id = $1 AND is_open`,
			table:  "auctions",
			exists: true,
			run: func(ctx context.Context, tx ledger.Tx) error {
				return tx.Auctions().Close(ctx, 5)
			},
			wantErr: auctionerrors.ErrAlreadySettled,
		},
		{
			name:   "mark won twice",
			update: `UPDATE bids SET is_won = TRUE WHERE id = $1 AND NOT is_won`,
			table:  "bids",
			exists: true,
			run: func(ctx context.Context, tx ledger.Tx) error {
				return tx.Bids().MarkWon(ctx, 5)
			},
			wantErr: auctionerrors.ErrAlreadySettled,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, mock := newMockStore(t)
			mock.ExpectBegin()
			mock.ExpectExec(q(tt.update)).WillReturnResult(sqlmock.NewResult(0, 0))
			mock.ExpectQuery(q(`SELECT EXISTS (SELECT 1 FROM `+tt.table+` WHERE id = $1)`)).
				WithArgs(int64(5)).
				WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(tt.exists))
			mock.ExpectRollback()

			err := s.Atomic(context.Background(), tt.run)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("expectations: %v", err)
			}
		})
	}
}

func TestBidRepo_HighestNoBids(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(q(`ORDER BY amount DESC, id ASC LIMIT 1`)).
		WithArgs(int64(42)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "auction_id", "item_id", "bidder_id", "amount", "bid_time", "is_won"}))
	mock.ExpectRollback()

	err := s.Atomic(context.Background(), func(ctx context.Context, tx ledger.Tx) error {
		_, err := tx.Bids().Highest(ctx, 42)
		return err
	})
	if !errors.Is(err, auctionerrors.ErrNoBidsRecorded) {
		t.Fatalf("err = %v, want ErrNoBidsRecorded", err)
	}
}

func TestItemRepo_GetByIDScansNullables(t *testing.T) {
	s, mock := newMockStore(t)
	cols := []string{"id", "category_id", "seller_id", "buyer_id", "name", "maker", "description", "condition",
		"min_bid_amount", "selling_amount", "price_paid", "currency", "created_at"}

	mock.ExpectBegin()
	mock.ExpectQuery(q(`FROM items WHERE id = $1`)).
		WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow(3, 1, 9, nil, "atlas", "", "", "used", "10", nil, nil, "CAD", t0))
	mock.ExpectCommit()

	var it *ledger.Item
	err := s.Atomic(context.Background(), func(ctx context.Context, tx ledger.Tx) error {
		var err error
		it, err = tx.Items().GetByID(ctx, 3)
		return err
	})
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if it.BuyerID != nil {
		t.Errorf("BuyerID = %v, want nil", *it.BuyerID)
	}
	if it.SellingAmount.Valid {
		t.Errorf("SellingAmount should be null")
	}
	if !it.MinBidAmount.Equal(decimal.NewFromInt(10)) {
		t.Errorf("MinBidAmount = %s, want 10", it.MinBidAmount)
	}
	if it.Condition != ledger.ConditionUsed {
		t.Errorf("Condition = %q, want %q", it.Condition, ledger.ConditionUsed)
	}
}
