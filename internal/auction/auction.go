// Package auction implements bid admission, item listing and the auction
// lifecycle rules that decide when an auction accepts bids and when it is
// due for settlement.
package auction

import (
	"time"

	"github.com/jensholdgaard/auctiond/internal/auctionerrors"
	"github.com/jensholdgaard/auctiond/internal/ledger"
)

// Phase is the bidding state of an auction at a given instant.
type Phase string

const (
	PhasePending Phase = "pending"
	PhaseOpen    Phase = "open"
	PhaseClosed  Phase = "closed"
)

// PhaseAt reports the auction's phase at now. An auction accepts bids only in
// PhaseOpen: the open flag is set and StartTime <= now < EndTime.
func PhaseAt(a ledger.Auction, now time.Time) Phase {
	switch {
	case !a.IsOpen:
		return PhaseClosed
	case a.StartTime.After(now):
		return PhasePending
	case a.EndTime.After(now):
		return PhaseOpen
	default:
		return PhaseClosed
	}
}

// IsUpcomingOrOpen reports whether the auction starts after now, or is open
// and ends after now.
func IsUpcomingOrOpen(a ledger.Auction, now time.Time) bool {
	return a.UpcomingOrOpen(now)
}

// IsDue reports whether the auction is still open although its end time is
// not after now.
func IsDue(a ledger.Auction, now time.Time) bool {
	return a.Due(now)
}

// Receipt is the transport-neutral outcome of a bid submission.
type Receipt struct {
	BidID    int64  `json:"bid_id,omitempty"`
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
}

// NewReceipt summarizes the result of SubmitBid.
func NewReceipt(bid *ledger.Bid, err error) Receipt {
	if err != nil {
		return Receipt{Reason: auctionerrors.Reason(err)}
	}
	return Receipt{BidID: bid.ID, Accepted: true}
}
