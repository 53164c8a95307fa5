package memory

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jensholdgaard/auctiond/internal/auctionerrors"
	"github.com/jensholdgaard/auctiond/internal/event"
	"github.com/jensholdgaard/auctiond/internal/ledger"
)

type userRepo struct{ t *tx }

func (r userRepo) Create(_ context.Context, u *ledger.User) error {
	if err := r.t.writable(); err != nil {
		return err
	}
	u.ID = r.t.s.userSeq.Add(1)
	u.CreatedAt = r.t.s.clock.Now().UTC()
	r.t.users[u.ID] = clone(u)
	return nil
}

func (r userRepo) GetByID(_ context.Context, id int64) (*ledger.User, error) {
	u, ok := get(&r.t.s.mu, r.t.users, r.t.s.users, id)
	if !ok {
		return nil, auctionerrors.ErrUserNotFound
	}
	return u, nil
}

func (r userRepo) SetPremium(ctx context.Context, id int64, premium bool) error {
	if err := r.t.lock(ctx, userKey(id)); err != nil {
		return err
	}
	u, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	u.Premium = premium
	r.t.users[id] = u
	return nil
}

type accountRepo struct{ t *tx }

func (r accountRepo) Create(_ context.Context, a *ledger.Account) error {
	if err := r.t.writable(); err != nil {
		return err
	}
	if _, ok := get(&r.t.s.mu, r.t.accounts, r.t.s.accounts, a.UserID); ok {
		return ledger.ErrDuplicate
	}
	a.UpdatedAt = r.t.s.clock.Now().UTC()
	r.t.accounts[a.UserID] = clone(a)
	return nil
}

func (r accountRepo) Get(_ context.Context, userID int64) (*ledger.Account, error) {
	a, ok := get(&r.t.s.mu, r.t.accounts, r.t.s.accounts, userID)
	if !ok {
		return nil, auctionerrors.ErrAccountNotFound
	}
	return a, nil
}

func (r accountRepo) Lock(ctx context.Context, userID int64) (*ledger.Account, error) {
	if err := r.t.lock(ctx, accountKey(userID)); err != nil {
		return nil, err
	}
	return r.Get(ctx, userID)
}

func (r accountRepo) Credit(ctx context.Context, userID int64, amount decimal.Decimal) (*ledger.Account, error) {
	a, err := r.Lock(ctx, userID)
	if err != nil {
		return nil, err
	}
	a.Funds = a.Funds.Add(amount)
	a.UpdatedAt = r.t.s.clock.Now().UTC()
	r.t.accounts[userID] = clone(a)
	return a, nil
}

func (r accountRepo) Debit(ctx context.Context, userID int64, amount decimal.Decimal) (*ledger.Account, error) {
	a, err := r.Lock(ctx, userID)
	if err != nil {
		return nil, err
	}
	if a.Funds.LessThan(amount) {
		return nil, auctionerrors.ErrInsufficientFunds
	}
	a.Funds = a.Funds.Sub(amount)
	a.UpdatedAt = r.t.s.clock.Now().UTC()
	r.t.accounts[userID] = clone(a)
	return a, nil
}

type categoryRepo struct{ t *tx }

func (r categoryRepo) Create(ctx context.Context, c *ledger.Category) error {
	if err := r.t.lock(ctx, categoryKey(c.Name)); err != nil {
		return err
	}
	if _, err := r.GetByName(ctx, c.Name); err == nil {
		return ledger.ErrDuplicate
	}
	c.ID = r.t.s.categorySeq.Add(1)
	r.t.categories[c.ID] = clone(c)
	return nil
}

func (r categoryRepo) GetByID(_ context.Context, id int64) (*ledger.Category, error) {
	c, ok := get(&r.t.s.mu, r.t.categories, r.t.s.categories, id)
	if !ok {
		return nil, auctionerrors.ErrCategoryNotFound
	}
	return c, nil
}

func (r categoryRepo) GetByName(_ context.Context, name string) (*ledger.Category, error) {
	for _, c := range merged(&r.t.s.mu, r.t.categories, r.t.s.categories) {
		if c.Name == name {
			return &c, nil
		}
	}
	return nil, auctionerrors.ErrCategoryNotFound
}

func (r categoryRepo) List(_ context.Context) ([]ledger.Category, error) {
	cats := merged(&r.t.s.mu, r.t.categories, r.t.s.categories)
	sort.Slice(cats, func(i, j int) bool { return cats[i].Name < cats[j].Name })
	return cats, nil
}

type itemRepo struct{ t *tx }

func (r itemRepo) Create(_ context.Context, it *ledger.Item) error {
	if err := r.t.writable(); err != nil {
		return err
	}
	it.ID = r.t.s.itemSeq.Add(1)
	it.CreatedAt = r.t.s.clock.Now().UTC()
	r.t.items[it.ID] = clone(it)
	return nil
}

func (r itemRepo) GetByID(_ context.Context, id int64) (*ledger.Item, error) {
	it, ok := get(&r.t.s.mu, r.t.items, r.t.s.items, id)
	if !ok {
		return nil, auctionerrors.ErrItemNotFound
	}
	return it, nil
}

func (r itemRepo) Lock(ctx context.Context, id int64) (*ledger.Item, error) {
	if err := r.t.lock(ctx, itemKey(id)); err != nil {
		return nil, err
	}
	return r.GetByID(ctx, id)
}

func (r itemRepo) MarkSold(ctx context.Context, id, buyerID int64, amount decimal.Decimal) error {
	it, err := r.Lock(ctx, id)
	if err != nil {
		return err
	}
	if it.BuyerID != nil {
		return auctionerrors.ErrAlreadySettled
	}
	buyer := buyerID
	it.BuyerID = &buyer
	it.SellingAmount = decimal.NewNullDecimal(amount)
	r.t.items[id] = it
	return nil
}

func (r itemRepo) ListBySeller(_ context.Context, sellerID int64) ([]ledger.Item, error) {
	var out []ledger.Item
	for _, it := range merged(&r.t.s.mu, r.t.items, r.t.s.items) {
		if it.SellerID == sellerID {
			out = append(out, it)
		}
	}
	return out, nil
}

func (r itemRepo) ListSuggestable(_ context.Context, categoryIDs []int64, userID int64) ([]ledger.Item, error) {
	wanted := make(map[int64]bool, len(categoryIDs))
	for _, id := range categoryIDs {
		wanted[id] = true
	}
	bidOn := make(map[int64]bool)
	for _, b := range merged(&r.t.s.mu, r.t.bids, r.t.s.bids) {
		if b.BidderID == userID {
			bidOn[b.ItemID] = true
		}
	}

	var out []ledger.Item
	for _, it := range merged(&r.t.s.mu, r.t.items, r.t.s.items) {
		if wanted[it.CategoryID] && it.SellerID != userID && !bidOn[it.ID] {
			out = append(out, it)
		}
	}
	return out, nil
}

type auctionRepo struct{ t *tx }

func (r auctionRepo) Create(ctx context.Context, a *ledger.Auction) error {
	if err := r.t.lock(ctx, itemKey(a.ItemID)); err != nil {
		return err
	}
	if _, err := r.GetByItemID(ctx, a.ItemID); err == nil {
		return ledger.ErrDuplicate
	}
	a.ID = r.t.s.auctionSeq.Add(1)
	r.t.auctions[a.ID] = clone(a)
	return nil
}

func (r auctionRepo) GetByItemID(_ context.Context, itemID int64) (*ledger.Auction, error) {
	for _, a := range r.t.auctions {
		if a.ItemID == itemID {
			return clone(a), nil
		}
	}
	r.t.s.mu.RLock()
	defer r.t.s.mu.RUnlock()
	if id, ok := r.t.s.auctionByItem[itemID]; ok {
		return clone(r.t.s.auctions[id]), nil
	}
	return nil, auctionerrors.ErrAuctionNotFound
}

func (r auctionRepo) Close(ctx context.Context, id int64) error {
	a, ok := get(&r.t.s.mu, r.t.auctions, r.t.s.auctions, id)
	if !ok {
		return auctionerrors.ErrAuctionNotFound
	}
	if err := r.t.lock(ctx, itemKey(a.ItemID)); err != nil {
		return err
	}
	// Re-read under the lock.
	a, _ = get(&r.t.s.mu, r.t.auctions, r.t.s.auctions, id)
	if !a.IsOpen {
		return auctionerrors.ErrAlreadySettled
	}
	a.IsOpen = false
	r.t.auctions[id] = a
	return nil
}

func (r auctionRepo) ListUpcomingOrOpen(_ context.Context, now time.Time) ([]ledger.Auction, error) {
	return r.filter(func(a ledger.Auction) bool { return a.UpcomingOrOpen(now) }, byStartTime), nil
}

func (r auctionRepo) ListDue(_ context.Context, now time.Time) ([]ledger.Auction, error) {
	return r.filter(func(a ledger.Auction) bool { return a.Due(now) }, byEndTime), nil
}

func (r auctionRepo) ListByItemIDs(_ context.Context, itemIDs []int64) ([]ledger.Auction, error) {
	wanted := make(map[int64]bool, len(itemIDs))
	for _, id := range itemIDs {
		wanted[id] = true
	}
	return r.filter(func(a ledger.Auction) bool { return wanted[a.ItemID] }, nil), nil
}

func (r auctionRepo) filter(keep func(ledger.Auction) bool, less func(a, b ledger.Auction) bool) []ledger.Auction {
	var out []ledger.Auction
	for _, a := range merged(&r.t.s.mu, r.t.auctions, r.t.s.auctions) {
		if keep(a) {
			out = append(out, a)
		}
	}
	if less != nil {
		sort.SliceStable(out, func(i, j int) bool { return less(out[i], out[j]) })
	}
	return out
}

func byStartTime(a, b ledger.Auction) bool { return a.StartTime.Before(b.StartTime) }
func byEndTime(a, b ledger.Auction) bool { return a.EndTime.Before(b.EndTime) }

type bidRepo struct{ t *tx }

func (r bidRepo) Create(ctx context.Context, b *ledger.Bid) error {
	if err := r.t.lock(ctx, itemKey(b.ItemID)); err != nil {
		return err
	}
	b.ID = r.t.s.bidSeq.Add(1)
	r.t.bids[b.ID] = clone(b)
	return nil
}

// forItem returns the item's bids as the transaction sees them, highest first.
func (r bidRepo) forItem(itemID int64) []ledger.Bid {
	view := make(map[int64]ledger.Bid)
	r.t.s.mu.RLock()
	for _, id := range r.t.s.bidsByItem[itemID] {
		view[id] = *r.t.s.bids[id]
	}
	r.t.s.mu.RUnlock()
	for id, b := range r.t.bids {
		if b.ItemID == itemID {
			view[id] = *b
		}
	}

	out := make([]ledger.Bid, 0, len(view))
	for _, b := range view {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Outranks(out[j]) })
	return out
}

func (r bidRepo) Highest(_ context.Context, itemID int64) (*ledger.Bid, error) {
	bids := r.forItem(itemID)
	if len(bids) == 0 {
		return nil, auctionerrors.ErrNoBidsRecorded
	}
	return &bids[0], nil
}

func (r bidRepo) ListByItem(_ context.Context, itemID int64) ([]ledger.Bid, error) {
	return r.forItem(itemID), nil
}

func (r bidRepo) MarkWon(ctx context.Context, bidID int64) error {
	b, ok := get(&r.t.s.mu, r.t.bids, r.t.s.bids, bidID)
	if !ok {
		return auctionerrors.ErrNoBidsRecorded
	}
	if err := r.t.lock(ctx, itemKey(b.ItemID)); err != nil {
		return err
	}
	b, _ = get(&r.t.s.mu, r.t.bids, r.t.s.bids, bidID)
	if b.IsWon {
		return auctionerrors.ErrAlreadySettled
	}
	b.IsWon = true
	r.t.bids[bidID] = b
	return nil
}

func (r bidRepo) CategoryIDsByBidder(_ context.Context, bidderID int64) ([]int64, error) {
	itemIDs := make(map[int64]bool)
	for _, b := range merged(&r.t.s.mu, r.t.bids, r.t.s.bids) {
		if b.BidderID == bidderID {
			itemIDs[b.ItemID] = true
		}
	}

	seen := make(map[int64]bool)
	var out []int64
	for id := range itemIDs {
		it, ok := get(&r.t.s.mu, r.t.items, r.t.s.items, id)
		if !ok || seen[it.CategoryID] {
			continue
		}
		seen[it.CategoryID] = true
		out = append(out, it.CategoryID)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

type eventRepo struct{ t *tx }

func (r eventRepo) Append(_ context.Context, events ...event.Event) error {
	if err := r.t.writable(); err != nil {
		return err
	}
	r.t.events = append(r.t.events, events...)
	return nil
}

func (r eventRepo) Load(_ context.Context, aggregateID string) ([]event.Event, error) {
	return r.filter(func(e event.Event) bool { return e.AggregateID == aggregateID }), nil
}

func (r eventRepo) LoadByType(_ context.Context, eventType event.Type) ([]event.Event, error) {
	return r.filter(func(e event.Event) bool { return e.Type == eventType }), nil
}

func (r eventRepo) filter(keep func(event.Event) bool) []event.Event {
	var out []event.Event
	r.t.s.mu.RLock()
	for _, e := range r.t.s.events {
		if keep(e) {
			out = append(out, e)
		}
	}
	r.t.s.mu.RUnlock()
	for _, e := range r.t.events {
		if keep(e) {
			out = append(out, e)
		}
	}
	return out
}
