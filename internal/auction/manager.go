package auction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
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

// Manager admits bids and manages listings on top of a ledger.Store.
type Manager struct {
	store   ledger.Store
	metrics *metrics.Metrics
	logger  *slog.Logger
	tracer  trace.Tracer
	clock   clock.Clock

	listeners []BidListener
}

// BidListener is called with every accepted bid after it has committed.
type BidListener func(ctx context.Context, bid ledger.Bid)

// NewManager creates a new auction Manager. clk should report times in the
// reference zone; bid timestamps are taken from it.
func NewManager(store ledger.Store, m *metrics.Metrics, logger *slog.Logger, tp trace.TracerProvider, clk clock.Clock) *Manager {
	return &Manager{
		store:   store,
		metrics: m,
		logger:  logger,
		tracer:  tp.Tracer("github.com/jensholdgaard/auctiond/internal/auction"),
		clock:   clk,
	}
}

// OnBidAccepted registers l to be called after each accepted bid. It must be
// called before the Manager is shared between goroutines.
func (m *Manager) OnBidAccepted(l BidListener) {
	m.listeners = append(m.listeners, l)
}

// SubmitBid admits a bid of amount by bidderID on itemID. Admissions for the
// same item are serialized on the item lock, so an accepted bid is always
// strictly higher than every bid accepted before it. A rejected bid writes
// nothing.
func (m *Manager) SubmitBid(ctx context.Context, itemID, bidderID int64, amount decimal.Decimal) (*ledger.Bid, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.SubmitBid",
		trace.WithAttributes(
			attribute.Int64("item_id", itemID),
			attribute.Int64("bidder_id", bidderID),
			attribute.String("amount", amount.String()),
		),
	)
	defer span.End()

	bid, err := m.submitBid(ctx, itemID, bidderID, amount)
	m.metrics.ObserveBid(auctionerrors.Reason(err))
	if err != nil {
		m.logger.DebugContext(ctx, "bid rejected",
			slog.Int64("item_id", itemID),
			slog.Int64("bidder_id", bidderID),
			slog.String("amount", amount.String()),
			slog.String("reason", auctionerrors.Reason(err)),
		)
		return nil, err
	}

	span.SetAttributes(attribute.Int64("bid_id", bid.ID))
	m.logger.InfoContext(ctx, "bid accepted",
		slog.Int64("bid_id", bid.ID),
		slog.Int64("item_id", itemID),
		slog.Int64("bidder_id", bidderID),
		slog.String("amount", amount.String()),
	)
	for _, l := range m.listeners {
		l(ctx, *bid)
	}
	return bid, nil
}

func (m *Manager) submitBid(ctx context.Context, itemID, bidderID int64, amount decimal.Decimal) (*ledger.Bid, error) {
	if !amount.IsPositive() {
		return nil, auctionerrors.ErrInvalidAmount
	}

	var bid *ledger.Bid
	err := m.store.Atomic(ctx, func(ctx context.Context, tx ledger.Tx) error {
		item, err := tx.Items().Lock(ctx, itemID)
		if err != nil {
			return err
		}
		a, err := tx.Auctions().GetByItemID(ctx, itemID)
		if err != nil {
			return err
		}
		if _, err := tx.Users().GetByID(ctx, bidderID); err != nil {
			if errors.Is(err, auctionerrors.ErrUserNotFound) {
				return auctionerrors.ErrBidderNotFound
			}
			return err
		}

		now := m.clock.Now()
		if PhaseAt(*a, now) != PhaseOpen {
			return auctionerrors.ErrAuctionNotOpen
		}

		highest, err := tx.Bids().Highest(ctx, itemID)
		switch {
		case errors.Is(err, auctionerrors.ErrNoBidsRecorded):
			if amount.LessThan(item.MinBidAmount) {
				return fmt.Errorf("%w: opening bid must be at least %s", auctionerrors.ErrBidTooLow, item.MinBidAmount)
			}
		case err != nil:
			return err
		case !amount.GreaterThan(highest.Amount):
			return fmt.Errorf("%w: must exceed %s", auctionerrors.ErrBidTooLow, highest.Amount)
		}

		bid = &ledger.Bid{
			AuctionID: a.ID,
			ItemID:    itemID,
			BidderID:  bidderID,
			Amount:    amount,
			BidTime:   now,
		}
		if err := tx.Bids().Create(ctx, bid); err != nil {
			return err
		}

		ev, err := event.New(event.ItemAggregate(itemID), event.BidAccepted, event.BidAcceptedData{
			BidID:    bid.ID,
			BidderID: bidderID,
			Amount:   amount,
			BidTime:  now,
		}, now)
		if err != nil {
			return err
		}
		return tx.Events().Append(ctx, ev)
	})
	if err != nil {
		return nil, fmt.Errorf("submitting bid on item %d: %w", itemID, err)
	}
	return bid, nil
}

// Listing describes an item put up for auction.
type Listing struct {
	CategoryID   int64               `json:"category_id"`
	Name         string              `json:"name"`
	Maker        string              `json:"maker"`
	Description  string              `json:"description"`
	Condition    ledger.Condition    `json:"condition"`
	MinBidAmount decimal.Decimal     `json:"min_bid_amount"`
	PricePaid    decimal.NullDecimal `json:"price_paid"`
	Currency     string              `json:"currency"`
	StartTime    time.Time           `json:"start_time"`
	EndTime      time.Time           `json:"end_time"`
}

func (l Listing) validate() error {
	switch {
	case strings.TrimSpace(l.Name) == "":
		return fmt.Errorf("%w: name is required", auctionerrors.ErrInvalidListing)
	case l.MinBidAmount.IsNegative():
		return fmt.Errorf("%w: minimum bid must not be negative", auctionerrors.ErrInvalidListing)
	case l.Condition != "" && !l.Condition.Valid():
		return fmt.Errorf("%w: unknown condition %q", auctionerrors.ErrInvalidListing, l.Condition)
	case l.StartTime.IsZero() || l.EndTime.IsZero():
		return fmt.Errorf("%w: start and end time are required", auctionerrors.ErrInvalidListing)
	case !l.EndTime.After(l.StartTime):
		return fmt.Errorf("%w: end time must be after start time", auctionerrors.ErrInvalidListing)
	}
	return nil
}

// ListItem creates an item and its open auction for sellerID.
func (m *Manager) ListItem(ctx context.Context, sellerID int64, l Listing) (*ledger.Item, *ledger.Auction, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.ListItem",
		trace.WithAttributes(
			attribute.Int64("seller_id", sellerID),
			attribute.Int64("category_id", l.CategoryID),
		),
	)
	defer span.End()

	if err := l.validate(); err != nil {
		return nil, nil, err
	}
	if l.Condition == "" {
		l.Condition = ledger.ConditionUsed
	}

	item := &ledger.Item{
		CategoryID:   l.CategoryID,
		SellerID:     sellerID,
		Name:         l.Name,
		Maker:        l.Maker,
		Description:  l.Description,
		Condition:    l.Condition,
		MinBidAmount: l.MinBidAmount,
		PricePaid:    l.PricePaid,
		Currency:     l.Currency,
	}
	a := &ledger.Auction{
		SellerID:  sellerID,
		StartTime: l.StartTime,
		EndTime:   l.EndTime,
		IsOpen:    true,
	}

	err := m.store.Atomic(ctx, func(ctx context.Context, tx ledger.Tx) error {
		if _, err := tx.Users().GetByID(ctx, sellerID); err != nil {
			return err
		}
		if _, err := tx.Categories().GetByID(ctx, l.CategoryID); err != nil {
			return err
		}
		if err := tx.Items().Create(ctx, item); err != nil {
			return err
		}
		a.ItemID = item.ID
		if err := tx.Auctions().Create(ctx, a); err != nil {
			return err
		}

		ev, err := event.New(event.ItemAggregate(item.ID), event.ItemListed, event.ItemListedData{
			ItemID:    item.ID,
			AuctionID: a.ID,
			SellerID:  sellerID,
			Name:      item.Name,
			MinBid:    item.MinBidAmount,
			StartTime: a.StartTime,
			EndTime:   a.EndTime,
		}, m.clock.Now())
		if err != nil {
			return err
		}
		return tx.Events().Append(ctx, ev)
	})
	if err != nil {
		return nil, nil, fmt.Errorf("listing item: %w", err)
	}

	m.logger.InfoContext(ctx, "item listed",
		slog.Int64("item_id", item.ID),
		slog.Int64("auction_id", a.ID),
		slog.Int64("seller_id", sellerID),
		slog.Time("end_time", a.EndTime),
	)
	return item, a, nil
}

// AddCategory creates a category. Names are unique.
func (m *Manager) AddCategory(ctx context.Context, name string) (*ledger.Category, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.AddCategory",
		trace.WithAttributes(attribute.String("name", name)),
	)
	defer span.End()

	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: category name is required", auctionerrors.ErrInvalidListing)
	}

	c := &ledger.Category{Name: name}
	err := m.store.Atomic(ctx, func(ctx context.Context, tx ledger.Tx) error {
		if _, err := tx.Categories().GetByName(ctx, name); err == nil {
			return ledger.ErrDuplicate
		} else if !errors.Is(err, auctionerrors.ErrCategoryNotFound) {
			return err
		}
		return tx.Categories().Create(ctx, c)
	})
	if errors.Is(err, ledger.ErrDuplicate) {
		return nil, fmt.Errorf("%w: category %q already exists", auctionerrors.ErrInvalidListing, name)
	}
	if err != nil {
		return nil, fmt.Errorf("adding category: %w", err)
	}
	return c, nil
}

// Categories returns all categories ordered by name.
func (m *Manager) Categories(ctx context.Context) ([]ledger.Category, error) {
	var cats []ledger.Category
	err := m.store.View(ctx, func(ctx context.Context, tx ledger.Tx) error {
		var err error
		cats, err = tx.Categories().List(ctx)
		return err
	})
	return cats, err
}

// Details is an auction together with its item and current standing.
type Details struct {
	Item    ledger.Item    `json:"item"`
	Auction ledger.Auction `json:"auction"`
	Highest *ledger.Bid    `json:"highest_bid,omitempty"`
	Phase   Phase          `json:"phase"`
}

// AuctionDetails returns the item, its auction, the current highest bid (if
// any) and the auction phase.
func (m *Manager) AuctionDetails(ctx context.Context, itemID int64) (*Details, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.AuctionDetails",
		trace.WithAttributes(attribute.Int64("item_id", itemID)),
	)
	defer span.End()

	var d Details
	err := m.store.View(ctx, func(ctx context.Context, tx ledger.Tx) error {
		item, err := tx.Items().GetByID(ctx, itemID)
		if err != nil {
			return err
		}
		a, err := tx.Auctions().GetByItemID(ctx, itemID)
		if err != nil {
			return err
		}
		highest, err := tx.Bids().Highest(ctx, itemID)
		if err != nil && !errors.Is(err, auctionerrors.ErrNoBidsRecorded) {
			return err
		}
		d = Details{Item: *item, Auction: *a, Highest: highest, Phase: PhaseAt(*a, m.clock.Now())}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("loading auction for item %d: %w", itemID, err)
	}
	return &d, nil
}

// Bids returns the item's bids, highest first.
func (m *Manager) Bids(ctx context.Context, itemID int64) ([]ledger.Bid, error) {
	var bids []ledger.Bid
	err := m.store.View(ctx, func(ctx context.Context, tx ledger.Tx) error {
		if _, err := tx.Items().GetByID(ctx, itemID); err != nil {
			return err
		}
		var err error
		bids, err = tx.Bids().ListByItem(ctx, itemID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("listing bids for item %d: %w", itemID, err)
	}
	return bids, nil
}

// HighestBid returns the item's current highest bid or ErrNoBidsRecorded.
func (m *Manager) HighestBid(ctx context.Context, itemID int64) (*ledger.Bid, error) {
	var bid *ledger.Bid
	err := m.store.View(ctx, func(ctx context.Context, tx ledger.Tx) error {
		if _, err := tx.Items().GetByID(ctx, itemID); err != nil {
			return err
		}
		var err error
		bid, err = tx.Bids().Highest(ctx, itemID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("getting highest bid for item %d: %w", itemID, err)
	}
	return bid, nil
}

// UpcomingAuctions returns auctions that have not started yet or are still
// running, earliest start first.
func (m *Manager) UpcomingAuctions(ctx context.Context) ([]ledger.Auction, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.UpcomingAuctions")
	defer span.End()

	now := m.clock.Now()
	var auctions []ledger.Auction
	err := m.store.View(ctx, func(ctx context.Context, tx ledger.Tx) error {
		var err error
		auctions, err = tx.Auctions().ListUpcomingOrOpen(ctx, now)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("listing upcoming auctions: %w", err)
	}
	return auctions, nil
}

// ItemsBySeller returns the items listed by sellerID.
func (m *Manager) ItemsBySeller(ctx context.Context, sellerID int64) ([]ledger.Item, error) {
	var items []ledger.Item
	err := m.store.View(ctx, func(ctx context.Context, tx ledger.Tx) error {
		if _, err := tx.Users().GetByID(ctx, sellerID); err != nil {
			return err
		}
		var err error
		items, err = tx.Items().ListBySeller(ctx, sellerID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("listing items of seller %d: %w", sellerID, err)
	}
	return items, nil
}

// History returns the journal of an item: listing, accepted bids and the
// settlement outcome, in the order they happened.
func (m *Manager) History(ctx context.Context, itemID int64) ([]event.Event, error) {
	var events []event.Event
	err := m.store.View(ctx, func(ctx context.Context, tx ledger.Tx) error {
		if _, err := tx.Items().GetByID(ctx, itemID); err != nil {
			return err
		}
		var err error
		events, err = tx.Events().Load(ctx, event.ItemAggregate(itemID))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("loading history of item %d: %w", itemID, err)
	}
	return events, nil
}
