// Package settlement closes ended auctions. A settlement marks the winning
// bid, records the sale on the item, moves funds from the winner to the
// seller and closes the auction, all in one ledger transaction.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jensholdgaard/auctiond/internal/auctionerrors"
	"github.com/jensholdgaard/auctiond/internal/clock"
	"github.com/jensholdgaard/auctiond/internal/event"
	"github.com/jensholdgaard/auctiond/internal/ledger"
	"github.com/jensholdgaard/auctiond/internal/metrics"
)

// Result describes a completed settlement.
type Result struct {
	ItemID    int64           `json:"item_id"`
	AuctionID int64           `json:"auction_id"`
	BidID     int64           `json:"bid_id"`
	WinnerID  int64           `json:"winner_id"`
	SellerID  int64           `json:"seller_id"`
	Amount    decimal.Decimal `json:"amount"`
	SettledAt time.Time       `json:"settled_at"`
}

// Engine settles auctions.
type Engine struct {
	store   ledger.Store
	metrics *metrics.Metrics
	logger  *slog.Logger
	tracer  trace.Tracer
	clock   clock.Clock
}

// NewEngine returns a new settlement Engine.
func NewEngine(store ledger.Store, m *metrics.Metrics, logger *slog.Logger, tp trace.TracerProvider, clk clock.Clock) *Engine {
	return &Engine{
		store:   store,
		metrics: m,
		logger:  logger,
		tracer:  tp.Tracer("github.com/jensholdgaard/auctiond/internal/settlement"),
		clock:   clk,
	}
}

// Settle settles the auction of itemID in favour of its highest bid. Either
// every step commits or none does. Concurrent calls for the same item
// serialize on the item lock; all but the first return ErrAlreadySettled.
func (e *Engine) Settle(ctx context.Context, itemID int64) (*Result, error) {
	ctx, span := e.tracer.Start(ctx, "Engine.Settle",
		trace.WithAttributes(attribute.Int64("item_id", itemID)),
	)
	defer span.End()

	start := e.clock.Now()
	res, err := e.settle(ctx, itemID)
	outcome := "settled"
	if err != nil {
		outcome = auctionerrors.Reason(err)
	}
	e.metrics.ObserveSettlement(outcome, e.clock.Now().Sub(start))

	if err != nil {
		return nil, fmt.Errorf("settling item %d: %w", itemID, err)
	}

	span.SetAttributes(
		attribute.Int64("winner_id", res.WinnerID),
		attribute.String("amount", res.Amount.String()),
	)
	e.logger.InfoContext(ctx, "auction settled",
		slog.Int64("item_id", itemID),
		slog.Int64("auction_id", res.AuctionID),
		slog.Int64("bid_id", res.BidID),
		slog.Int64("winner_id", res.WinnerID),
		slog.Int64("seller_id", res.SellerID),
		slog.String("amount", res.Amount.String()),
	)
	return res, nil
}

func (e *Engine) settle(ctx context.Context, itemID int64) (*Result, error) {
	var res *Result
	err := e.store.Atomic(ctx, func(ctx context.Context, tx ledger.Tx) error {
		item, err := tx.Items().Lock(ctx, itemID)
		if err != nil {
			return err
		}
		a, err := tx.Auctions().GetByItemID(ctx, itemID)
		if err != nil {
			return err
		}
		win, err := tx.Bids().Highest(ctx, itemID)
		if err != nil {
			return err
		}
		if win.IsWon {
			return auctionerrors.ErrAlreadySettled
		}
		now := e.clock.Now()
		if a.EndTime.After(now) {
			return auctionerrors.ErrAuctionNotEnded
		}

		if err := lockAccounts(ctx, tx, win.BidderID, item.SellerID); err != nil {
			return err
		}

		if err := tx.Bids().MarkWon(ctx, win.ID); err != nil {
			return err
		}
		if err := tx.Items().MarkSold(ctx, itemID, win.BidderID, win.Amount); err != nil {
			return err
		}
		if _, err := tx.Accounts().Debit(ctx, win.BidderID, win.Amount); err != nil {
			return fmt.Errorf("debiting winner %d: %w", win.BidderID, err)
		}
		if _, err := tx.Accounts().Credit(ctx, item.SellerID, win.Amount); err != nil {
			return fmt.Errorf("crediting seller %d: %w", item.SellerID, err)
		}
		if err := tx.Auctions().Close(ctx, a.ID); err != nil {
			return err
		}

		res = &Result{
			ItemID:    itemID,
			AuctionID: a.ID,
			BidID:     win.ID,
			WinnerID:  win.BidderID,
			SellerID:  item.SellerID,
			Amount:    win.Amount,
			SettledAt: now,
		}
		ev, err := event.New(event.ItemAggregate(itemID), event.AuctionSettled, event.AuctionSettledData{
			BidID:    win.ID,
			WinnerID: win.BidderID,
			SellerID: item.SellerID,
			Amount:   win.Amount,
		}, now)
		if err != nil {
			return err
		}
		return tx.Events().Append(ctx, ev)
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// lockAccounts locks the given accounts in ascending user id order, once
// each. The caller already holds the item lock.
func lockAccounts(ctx context.Context, tx ledger.Tx, a, b int64) error {
	if a > b {
		a, b = b, a
	}
	if _, err := tx.Accounts().Lock(ctx, a); err != nil {
		return err
	}
	if a == b {
		return nil
	}
	_, err := tx.Accounts().Lock(ctx, b)
	return err
}

// CloseUnsold closes an ended auction that received no bids. No funds move.
func (e *Engine) CloseUnsold(ctx context.Context, itemID int64) error {
	ctx, span := e.tracer.Start(ctx, "Engine.CloseUnsold",
		trace.WithAttributes(attribute.Int64("item_id", itemID)),
	)
	defer span.End()

	err := e.store.Atomic(ctx, func(ctx context.Context, tx ledger.Tx) error {
		if _, err := tx.Items().Lock(ctx, itemID); err != nil {
			return err
		}
		a, err := tx.Auctions().GetByItemID(ctx, itemID)
		if err != nil {
			return err
		}
		if !a.IsOpen {
			return auctionerrors.ErrAlreadySettled
		}
		if _, err := tx.Bids().Highest(ctx, itemID); err == nil {
			return auctionerrors.ErrBidsPresent
		} else if !errors.Is(err, auctionerrors.ErrNoBidsRecorded) {
			return err
		}
		now := e.clock.Now()
		if a.EndTime.After(now) {
			return auctionerrors.ErrAuctionNotEnded
		}
		if err := tx.Auctions().Close(ctx, a.ID); err != nil {
			return err
		}

		ev, err := event.New(event.ItemAggregate(itemID), event.AuctionClosedUnsold,
			event.AuctionClosedUnsoldData{AuctionID: a.ID}, now)
		if err != nil {
			return err
		}
		return tx.Events().Append(ctx, ev)
	})
	if err != nil {
		return fmt.Errorf("closing unsold item %d: %w", itemID, err)
	}

	e.logger.InfoContext(ctx, "auction closed unsold", slog.Int64("item_id", itemID))
	return nil
}
