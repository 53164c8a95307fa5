// Package suggestion recommends items to a user based on the categories they
// have bid in.
package suggestion

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jensholdgaard/auctiond/internal/clock"
	"github.com/jensholdgaard/auctiond/internal/ledger"
)

// SuggestedItem is an item the user may want to bid on.
type SuggestedItem struct {
	AuctionID int64     `json:"auction_id"`
	ItemID    int64     `json:"item_id"`
	ItemName  string    `json:"item_name"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
}

// Engine derives suggestions from bid history. It only reads.
type Engine struct {
	store  ledger.Store
	logger *slog.Logger
	tracer trace.Tracer
	clock  clock.Clock
}

// NewEngine returns a new suggestion Engine.
func NewEngine(store ledger.Store, logger *slog.Logger, tp trace.TracerProvider, clk clock.Clock) *Engine {
	return &Engine{
		store:  store,
		logger: logger,
		tracer: tp.Tracer("github.com/jensholdgaard/auctiond/internal/suggestion"),
		clock:  clk,
	}
}

// Suggest returns items in categories userID has bid in, excluding items the
// user sells or already bid on and items whose auction has ended. A user
// without bid history gets an empty list.
func (e *Engine) Suggest(ctx context.Context, userID int64) ([]SuggestedItem, error) {
	ctx, span := e.tracer.Start(ctx, "Engine.Suggest",
		trace.WithAttributes(attribute.Int64("user_id", userID)),
	)
	defer span.End()

	now := e.clock.Now()
	out := []SuggestedItem{}
	err := e.store.View(ctx, func(ctx context.Context, tx ledger.Tx) error {
		categories, err := tx.Bids().CategoryIDsByBidder(ctx, userID)
		if err != nil {
			return err
		}
		if len(categories) == 0 {
			return nil
		}

		items, err := tx.Items().ListSuggestable(ctx, categories, userID)
		if err != nil {
			return err
		}
		if len(items) == 0 {
			return nil
		}

		ids := make([]int64, len(items))
		for i, it := range items {
			ids[i] = it.ID
		}
		auctions, err := tx.Auctions().ListByItemIDs(ctx, ids)
		if err != nil {
			return err
		}
		byItem := make(map[int64]ledger.Auction, len(auctions))
		for _, a := range auctions {
			byItem[a.ItemID] = a
		}

		for _, it := range items {
			a, ok := byItem[it.ID]
			if !ok || a.EndTime.Before(now) {
				continue
			}
			out = append(out, SuggestedItem{
				AuctionID: a.ID,
				ItemID:    it.ID,
				ItemName:  it.Name,
				StartTime: a.StartTime,
				EndTime:   a.EndTime,
			})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("suggesting items for user %d: %w", userID, err)
	}

	span.SetAttributes(attribute.Int("suggestions", len(out)))
	e.logger.DebugContext(ctx, "suggestions computed",
		slog.Int64("user_id", userID),
		slog.Int("count", len(out)),
	)
	return out, nil
}
