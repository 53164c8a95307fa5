package event

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Type identifies an event kind.
type Type string

const (
	UserRegistered      Type = "user.registered"
	FundsToppedUp       Type = "funds.topped_up"
	MembershipUpgraded  Type = "membership.upgraded"
	MembershipCancelled Type = "membership.cancelled"

	ItemListed          Type = "item.listed"
	BidAccepted         Type = "bid.accepted"
	AuctionSettled      Type = "auction.settled"
	AuctionClosedUnsold Type = "auction.closed_unsold"
)

// Event represents a single domain event.
type Event struct {
	ID          string          `json:"id" db:"id"`
	AggregateID string          `json:"aggregate_id" db:"aggregate_id"`
	Type        Type            `json:"type" db:"type"`
	Data        json.RawMessage `json:"data" db:"data"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
}

// New builds an event with a fresh id and the JSON encoding of payload.
func New(aggregateID string, typ Type, payload any, at time.Time) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("encoding %s payload: %w", typ, err)
	}
	return Event{
		ID:          uuid.NewString(),
		AggregateID: aggregateID,
		Type:        typ,
		Data:        data,
		CreatedAt:   at,
	}, nil
}

// ItemAggregate is the aggregate id for events about an item and its auction.
func ItemAggregate(itemID int64) string { return "item:" + strconv.FormatInt(itemID, 10) }

// UserAggregate is the aggregate id for events about a user and their account.
func UserAggregate(userID int64) string { return "user:" + strconv.FormatInt(userID, 10) }

// UserRegisteredData is the payload for UserRegistered events.
type UserRegisteredData struct {
	UserID int64  `json:"user_id"`
	Name   string `json:"name"`
}

// FundsData is the payload for FundsToppedUp events.
type FundsData struct {
	UserID  int64           `json:"user_id"`
	Amount  decimal.Decimal `json:"amount"`
	Balance decimal.Decimal `json:"balance"`
}

// MembershipData is the payload for membership events.
type MembershipData struct {
	UserID int64           `json:"user_id"`
	Bonus  decimal.Decimal `json:"bonus"`
}

// ItemListedData is the payload for ItemListed events.
type ItemListedData struct {
	ItemID    int64           `json:"item_id"`
	AuctionID int64           `json:"auction_id"`
	SellerID  int64           `json:"seller_id"`
	Name      string          `json:"name"`
	MinBid    decimal.Decimal `json:"min_bid"`
	StartTime time.Time       `json:"start_time"`
	EndTime   time.Time       `json:"end_time"`
}

// BidAcceptedData is the payload for BidAccepted events.
type BidAcceptedData struct {
	BidID    int64           `json:"bid_id"`
	BidderID int64           `json:"bidder_id"`
	Amount   decimal.Decimal `json:"amount"`
	BidTime  time.Time       `json:"bid_time"`
}

// AuctionSettledData is the payload for AuctionSettled events.
type AuctionSettledData struct {
	BidID    int64           `json:"bid_id"`
	WinnerID int64           `json:"winner_id"`
	SellerID int64           `json:"seller_id"`
	Amount   decimal.Decimal `json:"amount"`
}

// AuctionClosedUnsoldData is the payload for AuctionClosedUnsold events.
type AuctionClosedUnsoldData struct {
	AuctionID int64 `json:"auction_id"`
}
