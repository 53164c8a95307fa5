// Package auctionerrors defines the error kinds shared by bidding,
// settlement and account operations. Callers match them with errors.Is.
package auctionerrors

import "errors"

// Lookup errors.
var (
	ErrItemNotFound     = errors.New("item not found")
	ErrAuctionNotFound  = errors.New("auction not found")
	ErrBidderNotFound   = errors.New("bidder not found")
	ErrUserNotFound     = errors.New("user not found")
	ErrAccountNotFound  = errors.New("account not found")
	ErrCategoryNotFound = errors.New("category not found")
)

// Bidding errors.
var (
	ErrInvalidAmount  = errors.New("amount must be positive")
	ErrBidTooLow      = errors.New("bid amount too low")
	ErrAuctionNotOpen = errors.New("auction is not open for bidding")
)

// Settlement errors.
var (
	ErrNoBidsRecorded    = errors.New("no bids recorded for item")
	ErrAlreadySettled    = errors.New("auction already settled")
	ErrAuctionNotEnded   = errors.New("auction has not ended")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrBidsPresent       = errors.New("auction has bids")
)

// Listing and membership errors.
var (
	ErrInvalidListing = errors.New("invalid listing")
	ErrInvalidUser    = errors.New("invalid user")
	ErrAlreadyPremium = errors.New("user is already premium")
	ErrNotPremium     = errors.New("user is not premium")
)

var reasons = []struct {
	err    error
	reason string
}{
	{ErrItemNotFound, "item_not_found"},
	{ErrAuctionNotFound, "auction_not_found"},
	{ErrBidderNotFound, "bidder_not_found"},
	{ErrUserNotFound, "user_not_found"},
	{ErrAccountNotFound, "account_not_found"},
	{ErrCategoryNotFound, "category_not_found"},
	{ErrInvalidAmount, "invalid_amount"},
	{ErrBidTooLow, "bid_too_low"},
	{ErrAuctionNotOpen, "auction_not_open"},
	{ErrNoBidsRecorded, "no_bids_recorded"},
	{ErrAlreadySettled, "already_settled"},
	{ErrAuctionNotEnded, "auction_not_ended"},
	{ErrInsufficientFunds, "insufficient_funds"},
	{ErrBidsPresent, "bids_present"},
	{ErrInvalidListing, "invalid_listing"},
	{ErrInvalidUser, "invalid_user"},
	{ErrAlreadyPremium, "already_premium"},
	{ErrNotPremium, "not_premium"},
}

// Reason returns a stable snake_case code for err, suitable for wire
// responses and metric labels. Unknown errors map to "internal" and a nil
// error maps to "".
func Reason(err error) string {
	if err == nil {
		return ""
	}
	for _, r := range reasons {
		if errors.Is(err, r.err) {
			return r.reason
		}
	}
	return "internal"
}
