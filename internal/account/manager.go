// Package account manages users, their funds and premium membership.
package account

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jensholdgaard/auctiond/internal/auctionerrors"
	"github.com/jensholdgaard/auctiond/internal/clock"
	"github.com/jensholdgaard/auctiond/internal/event"
	"github.com/jensholdgaard/auctiond/internal/ledger"
)

// Manager handles account operations. Every balance change holds the
// account lock for the duration of its transaction.
type Manager struct {
	store  ledger.Store
	bonus  decimal.Decimal
	logger *slog.Logger
	tracer trace.Tracer
	clock  clock.Clock
}

// NewManager returns a new account Manager. bonus is credited when a user
// upgrades to premium.
func NewManager(store ledger.Store, bonus decimal.Decimal, logger *slog.Logger, tp trace.TracerProvider, clk clock.Clock) *Manager {
	return &Manager{
		store:  store,
		bonus:  bonus,
		logger: logger,
		tracer: tp.Tracer("github.com/jensholdgaard/auctiond/internal/account"),
		clock:  clk,
	}
}

// RegisterUser creates a user together with an empty account.
func (m *Manager) RegisterUser(ctx context.Context, name, email string) (*ledger.User, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.RegisterUser",
		trace.WithAttributes(attribute.String("name", name)),
	)
	defer span.End()

	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", auctionerrors.ErrInvalidUser)
	}

	u := &ledger.User{Name: name, Email: strings.TrimSpace(email)}
	err := m.store.Atomic(ctx, func(ctx context.Context, tx ledger.Tx) error {
		if err := tx.Users().Create(ctx, u); err != nil {
			return err
		}
		if err := tx.Accounts().Create(ctx, &ledger.Account{UserID: u.ID, Funds: decimal.Zero}); err != nil {
			return err
		}
		ev, err := event.New(event.UserAggregate(u.ID), event.UserRegistered,
			event.UserRegisteredData{UserID: u.ID, Name: u.Name}, m.clock.Now())
		if err != nil {
			return err
		}
		return tx.Events().Append(ctx, ev)
	})
	if err != nil {
		return nil, fmt.Errorf("registering user: %w", err)
	}

	m.logger.InfoContext(ctx, "user registered",
		slog.Int64("user_id", u.ID),
		slog.String("name", u.Name),
	)
	return u, nil
}

// User returns a user by id.
func (m *Manager) User(ctx context.Context, userID int64) (*ledger.User, error) {
	var u *ledger.User
	err := m.store.View(ctx, func(ctx context.Context, tx ledger.Tx) error {
		var err error
		u, err = tx.Users().GetByID(ctx, userID)
		return err
	})
	return u, err
}

// Balance returns the user's account.
func (m *Manager) Balance(ctx context.Context, userID int64) (*ledger.Account, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.Balance",
		trace.WithAttributes(attribute.Int64("user_id", userID)),
	)
	defer span.End()

	var a *ledger.Account
	err := m.store.View(ctx, func(ctx context.Context, tx ledger.Tx) error {
		var err error
		a, err = tx.Accounts().Get(ctx, userID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("getting balance of user %d: %w", userID, err)
	}
	return a, nil
}

// TopUp adds amount to the user's funds.
func (m *Manager) TopUp(ctx context.Context, userID int64, amount decimal.Decimal) (*ledger.Account, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.TopUp",
		trace.WithAttributes(
			attribute.Int64("user_id", userID),
			attribute.String("amount", amount.String()),
		),
	)
	defer span.End()

	if !amount.IsPositive() {
		return nil, auctionerrors.ErrInvalidAmount
	}

	var a *ledger.Account
	err := m.store.Atomic(ctx, func(ctx context.Context, tx ledger.Tx) error {
		if _, err := tx.Accounts().Lock(ctx, userID); err != nil {
			return err
		}
		var err error
		if a, err = tx.Accounts().Credit(ctx, userID, amount); err != nil {
			return err
		}
		ev, err := event.New(event.UserAggregate(userID), event.FundsToppedUp,
			event.FundsData{UserID: userID, Amount: amount, Balance: a.Funds}, m.clock.Now())
		if err != nil {
			return err
		}
		return tx.Events().Append(ctx, ev)
	})
	if err != nil {
		return nil, fmt.Errorf("topping up user %d: %w", userID, err)
	}

	m.logger.InfoContext(ctx, "funds topped up",
		slog.Int64("user_id", userID),
		slog.String("amount", amount.String()),
		slog.String("balance", a.Funds.String()),
	)
	return a, nil
}

// UpgradeToPremium marks the user premium and credits the membership bonus.
func (m *Manager) UpgradeToPremium(ctx context.Context, userID int64) (*ledger.Account, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.UpgradeToPremium",
		trace.WithAttributes(attribute.Int64("user_id", userID)),
	)
	defer span.End()

	var a *ledger.Account
	err := m.store.Atomic(ctx, func(ctx context.Context, tx ledger.Tx) error {
		// The account lock also serializes membership changes of the user.
		if err := lockMember(ctx, tx, userID); err != nil {
			return err
		}
		u, err := tx.Users().GetByID(ctx, userID)
		if err != nil {
			return err
		}
		if u.Premium {
			return auctionerrors.ErrAlreadyPremium
		}
		if err := tx.Users().SetPremium(ctx, userID, true); err != nil {
			return err
		}
		if a, err = tx.Accounts().Credit(ctx, userID, m.bonus); err != nil {
			return err
		}
		ev, err := event.New(event.UserAggregate(userID), event.MembershipUpgraded,
			event.MembershipData{UserID: userID, Bonus: m.bonus}, m.clock.Now())
		if err != nil {
			return err
		}
		return tx.Events().Append(ctx, ev)
	})
	if err != nil {
		return nil, fmt.Errorf("upgrading user %d: %w", userID, err)
	}

	m.logger.InfoContext(ctx, "membership upgraded",
		slog.Int64("user_id", userID),
		slog.String("bonus", m.bonus.String()),
	)
	return a, nil
}

// CancelPremium clears the user's premium flag. The bonus is not reclaimed.
func (m *Manager) CancelPremium(ctx context.Context, userID int64) error {
	ctx, span := m.tracer.Start(ctx, "Manager.CancelPremium",
		trace.WithAttributes(attribute.Int64("user_id", userID)),
	)
	defer span.End()

	err := m.store.Atomic(ctx, func(ctx context.Context, tx ledger.Tx) error {
		if err := lockMember(ctx, tx, userID); err != nil {
			return err
		}
		u, err := tx.Users().GetByID(ctx, userID)
		if err != nil {
			return err
		}
		if !u.Premium {
			return auctionerrors.ErrNotPremium
		}
		if err := tx.Users().SetPremium(ctx, userID, false); err != nil {
			return err
		}
		ev, err := event.New(event.UserAggregate(userID), event.MembershipCancelled,
			event.MembershipData{UserID: userID}, m.clock.Now())
		if err != nil {
			return err
		}
		return tx.Events().Append(ctx, ev)
	})
	if err != nil {
		return fmt.Errorf("cancelling membership of user %d: %w", userID, err)
	}

	m.logger.InfoContext(ctx, "membership cancelled", slog.Int64("user_id", userID))
	return nil
}

// lockMember takes the user's account lock. Every user owns an account, so a
// missing account means the user does not exist.
func lockMember(ctx context.Context, tx ledger.Tx, userID int64) error {
	_, err := tx.Accounts().Lock(ctx, userID)
	if errors.Is(err, auctionerrors.ErrAccountNotFound) {
		return auctionerrors.ErrUserNotFound
	}
	return err
}

// IsPremium reports whether the user holds a premium membership.
func (m *Manager) IsPremium(ctx context.Context, userID int64) (bool, error) {
	u, err := m.User(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("checking membership of user %d: %w", userID, err)
	}
	return u.Premium, nil
}
