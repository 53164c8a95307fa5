package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/jensholdgaard/auctiond/internal/auctionerrors"
	"github.com/jensholdgaard/auctiond/internal/ledger"
)

// BidRepo implements ledger.BidRepository with sqlx.
type BidRepo struct {
	q sqlx.ExtContext
}

const bidColumns = `id, auction_id, item_id, bidder_id, amount, bid_time, is_won`

func (r *BidRepo) Create(ctx context.Context, b *ledger.Bid) error {
	err := r.q.QueryRowxContext(ctx,
		`INSERT INTO bids (auction_id, item_id, bidder_id, amount, bid_time, is_won)
		 VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		b.AuctionID, b.ItemID, b.BidderID, b.Amount, b.BidTime, b.IsWon,
	).Scan(&b.ID)
	if err != nil {
		return fmt.Errorf("creating bid: %w", err)
	}
	return nil
}

func (r *BidRepo) Highest(ctx context.Context, itemID int64) (*ledger.Bid, error) {
	var b ledger.Bid
	err := sqlx.GetContext(ctx, r.q, &b,
		`SELECT `+bidColumns+` FROM bids WHERE item_id = $1 ORDER BY amount DESC, id ASC LIMIT 1`, itemID)
	if err != nil {
		return nil, noRows(err, auctionerrors.ErrNoBidsRecorded, "getting highest bid")
	}
	return &b, nil
}

func (r *BidRepo) ListByItem(ctx context.Context, itemID int64) ([]ledger.Bid, error) {
	var bids []ledger.Bid
	err := sqlx.SelectContext(ctx, r.q, &bids,
		`SELECT `+bidColumns+` FROM bids WHERE item_id = $1 ORDER BY amount DESC, id ASC`, itemID)
	if err != nil {
		return nil, fmt.Errorf("listing bids: %w", err)
	}
	return bids, nil
}

func (r *BidRepo) MarkWon(ctx context.Context, bidID int64) error {
	result, err := r.q.ExecContext(ctx, `UPDATE bids SET is_won = TRUE WHERE id = $1 AND NOT is_won`, bidID)
	if err != nil {
		return fmt.Errorf("marking bid won: %w", err)
	}
	return settledOrMissing(ctx, r.q, result, "bids", auctionerrors.ErrNoBidsRecorded, bidID)
}

func (r *BidRepo) CategoryIDsByBidder(ctx context.Context, bidderID int64) ([]int64, error) {
	var ids []int64
	err := sqlx.SelectContext(ctx, r.q, &ids,
		`SELECT DISTINCT i.category_id FROM bids b JOIN items i ON i.id = b.item_id
		 WHERE b.bidder_id = $1 ORDER BY i.category_id`, bidderID)
	if err != nil {
		return nil, fmt.Errorf("listing bidder categories: %w", err)
	}
	return ids, nil
}
