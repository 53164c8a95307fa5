package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/jensholdgaard/auctiond/internal/auctionerrors"
	"github.com/jensholdgaard/auctiond/internal/clock"
	"github.com/jensholdgaard/auctiond/internal/ledger"
)

// CategoryRepo implements ledger.CategoryRepository with sqlx.
type CategoryRepo struct {
	q sqlx.ExtContext
}

func (r *CategoryRepo) Create(ctx context.Context, c *ledger.Category) error {
	err := r.q.QueryRowxContext(ctx,
		`INSERT INTO categories (name) VALUES ($1) RETURNING id`, c.Name,
	).Scan(&c.ID)
	if isUniqueViolation(err) {
		return ledger.ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("creating category: %w", err)
	}
	return nil
}

func (r *CategoryRepo) GetByID(ctx context.Context, id int64) (*ledger.Category, error) {
	var c ledger.Category
	if err := sqlx.GetContext(ctx, r.q, &c, `SELECT id, name FROM categories WHERE id = $1`, id); err != nil {
		return nil, noRows(err, auctionerrors.ErrCategoryNotFound, "getting category")
	}
	return &c, nil
}

func (r *CategoryRepo) GetByName(ctx context.Context, name string) (*ledger.Category, error) {
	var c ledger.Category
	if err := sqlx.GetContext(ctx, r.q, &c, `SELECT id, name FROM categories WHERE name = $1`, name); err != nil {
		return nil, noRows(err, auctionerrors.ErrCategoryNotFound, "getting category by name")
	}
	return &c, nil
}

func (r *CategoryRepo) List(ctx context.Context) ([]ledger.Category, error) {
	var cats []ledger.Category
	if err := sqlx.SelectContext(ctx, r.q, &cats, `SELECT id, name FROM categories ORDER BY name`); err != nil {
		return nil, fmt.Errorf("listing categories: %w", err)
	}
	return cats, nil
}

// ItemRepo implements ledger.ItemRepository with sqlx.
type ItemRepo struct {
	q     sqlx.ExtContext
	clock clock.Clock
}

const itemColumns = `id, category_id, seller_id, buyer_id, name, maker, description, condition,
	min_bid_amount, selling_amount, price_paid, currency, created_at`

func (r *ItemRepo) Create(ctx context.Context, it *ledger.Item) error {
	it.CreatedAt = r.clock.Now().UTC()
	err := r.q.QueryRowxContext(ctx,
		`INSERT INTO items (category_id, seller_id, name, maker, description, condition,
			min_bid_amount, price_paid, currency, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10) RETURNING id`,
		it.CategoryID, it.SellerID, it.Name, it.Maker, it.Description, it.Condition,
		it.MinBidAmount, it.PricePaid, it.Currency, it.CreatedAt,
	).Scan(&it.ID)
	if err != nil {
		return fmt.Errorf("creating item: %w", err)
	}
	return nil
}

func (r *ItemRepo) GetByID(ctx context.Context, id int64) (*ledger.Item, error) {
	var it ledger.Item
	if err := sqlx.GetContext(ctx, r.q, &it, `SELECT `+itemColumns+` FROM items WHERE id = $1`, id); err != nil {
		return nil, noRows(err, auctionerrors.ErrItemNotFound, "getting item")
	}
	return &it, nil
}

func (r *ItemRepo) Lock(ctx context.Context, id int64) (*ledger.Item, error) {
	var it ledger.Item
	if err := sqlx.GetContext(ctx, r.q, &it, `SELECT `+itemColumns+` FROM items WHERE id = $1 FOR UPDATE`, id); err != nil {
		return nil, noRows(err, auctionerrors.ErrItemNotFound, "locking item")
	}
	return &it, nil
}

func (r *ItemRepo) MarkSold(ctx context.Context, id, buyerID int64, amount decimal.Decimal) error {
	result, err := r.q.ExecContext(ctx,
		`UPDATE items SET buyer_id = $1, selling_amount = $2 WHERE id = $3 AND buyer_id IS NULL`,
		buyerID, amount, id,
	)
	if err != nil {
		return fmt.Errorf("marking item sold: %w", err)
	}
	return settledOrMissing(ctx, r.q, result, "items", auctionerrors.ErrItemNotFound, id)
}

func (r *ItemRepo) ListBySeller(ctx context.Context, sellerID int64) ([]ledger.Item, error) {
	var items []ledger.Item
	err := sqlx.SelectContext(ctx, r.q, &items,
		`SELECT `+itemColumns+` FROM items WHERE seller_id = $1 ORDER BY id`, sellerID)
	if err != nil {
		return nil, fmt.Errorf("listing items by seller: %w", err)
	}
	return items, nil
}

func (r *ItemRepo) ListSuggestable(ctx context.Context, categoryIDs []int64, userID int64) ([]ledger.Item, error) {
	var items []ledger.Item
	err := sqlx.SelectContext(ctx, r.q, &items,
		`SELECT `+itemColumns+` FROM items i
		 WHERE i.category_id = ANY($1) AND i.seller_id <> $2
		   AND NOT EXISTS (SELECT 1 FROM bids b WHERE b.item_id = i.id AND b.bidder_id = $2)
		 ORDER BY i.id`,
		pq.Array(categoryIDs), userID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing suggestable items: %w", err)
	}
	return items, nil
}

// AuctionRepo implements ledger.AuctionRepository with sqlx.
type AuctionRepo struct {
	q sqlx.ExtContext
}

const auctionColumns = `id, item_id, seller_id, start_time, end_time, is_open`

func (r *AuctionRepo) Create(ctx context.Context, a *ledger.Auction) error {
	err := r.q.QueryRowxContext(ctx,
		`INSERT INTO auctions (item_id, seller_id, start_time, end_time, is_open)
		 VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		a.ItemID, a.SellerID, a.StartTime, a.EndTime, a.IsOpen,
	).Scan(&a.ID)
	if isUniqueViolation(err) {
		return ledger.ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("creating auction: %w", err)
	}
	return nil
}

func (r *AuctionRepo) GetByItemID(ctx context.Context, itemID int64) (*ledger.Auction, error) {
	var a ledger.Auction
	err := sqlx.GetContext(ctx, r.q, &a, `SELECT `+auctionColumns+` FROM auctions WHERE item_id = $1`, itemID)
	if err != nil {
		return nil, noRows(err, auctionerrors.ErrAuctionNotFound, "getting auction")
	}
	return &a, nil
}

func (r *AuctionRepo) Close(ctx context.Context, id int64) error {
	result, err := r.q.ExecContext(ctx, `UPDATE auctions SET is_open = FALSE WHERE id = $1 AND is_open`, id)
	if err != nil {
		return fmt.Errorf("closing auction: %w", err)
	}
	return settledOrMissing(ctx, r.q, result, "auctions", auctionerrors.ErrAuctionNotFound, id)
}

func (r *AuctionRepo) ListUpcomingOrOpen(ctx context.Context, now time.Time) ([]ledger.Auction, error) {
	return r.list(ctx, "listing upcoming auctions",
		`SELECT `+auctionColumns+` FROM auctions
		 WHERE start_time > $1 OR (is_open AND end_time > $1)
		 ORDER BY start_time, id`, now)
}

func (r *AuctionRepo) ListDue(ctx context.Context, now time.Time) ([]ledger.Auction, error) {
	return r.list(ctx, "listing due auctions",
		`SELECT `+auctionColumns+` FROM auctions
		 WHERE is_open AND end_time <= $1
		 ORDER BY end_time, id`, now)
}

func (r *AuctionRepo) ListByItemIDs(ctx context.Context, itemIDs []int64) ([]ledger.Auction, error) {
	return r.list(ctx, "listing auctions by item",
		`SELECT `+auctionColumns+` FROM auctions WHERE item_id = ANY($1) ORDER BY id`,
		pq.Array(itemIDs))
}

func (r *AuctionRepo) list(ctx context.Context, msg, query string, args ...any) ([]ledger.Auction, error) {
	var auctions []ledger.Auction
	if err := sqlx.SelectContext(ctx, r.q, &auctions, query, args...); err != nil {
		return nil, fmt.Errorf("%s: %w", msg, err)
	}
	return auctions, nil
}
