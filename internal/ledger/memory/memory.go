// Package memory is an in-process ledger driver. Records live in id keyed
// maps; each transaction stages its writes and applies them on commit.
// Exclusive per-key locks stand in for row locks.
package memory

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/jensholdgaard/auctiond/internal/clock"
	"github.com/jensholdgaard/auctiond/internal/config"
	"github.com/jensholdgaard/auctiond/internal/event"
	"github.com/jensholdgaard/auctiond/internal/ledger"
)

func init() {
	ledger.Register("memory", func(_ context.Context, _ config.DatabaseConfig, clk clock.Clock) (ledger.Store, error) {
		return New(clk), nil
	})
}

// Store implements ledger.Store in memory.
type Store struct {
	mu            sync.RWMutex
	users         map[int64]*ledger.User
	accounts      map[int64]*ledger.Account
	categories    map[int64]*ledger.Category
	items         map[int64]*ledger.Item
	auctions      map[int64]*ledger.Auction
	bids          map[int64]*ledger.Bid
	bidsByItem    map[int64][]int64
	auctionByItem map[int64]int64
	events        []event.Event

	userSeq, categorySeq, itemSeq, auctionSeq, bidSeq atomic.Int64

	locks *keyLocks
	clock clock.Clock
}

// New returns an empty Store.
func New(clk clock.Clock) *Store {
	return &Store{
		users:         make(map[int64]*ledger.User),
		accounts:      make(map[int64]*ledger.Account),
		categories:    make(map[int64]*ledger.Category),
		items:         make(map[int64]*ledger.Item),
		auctions:      make(map[int64]*ledger.Auction),
		bids:          make(map[int64]*ledger.Bid),
		bidsByItem:    make(map[int64][]int64),
		auctionByItem: make(map[int64]int64),
		locks:         newKeyLocks(),
		clock:         clk,
	}
}

// Atomic runs fn in a read-write transaction.
func (s *Store) Atomic(ctx context.Context, fn func(ctx context.Context, tx ledger.Tx) error) error {
	return s.run(ctx, false, fn)
}

// View runs fn in a read-only transaction.
func (s *Store) View(ctx context.Context, fn func(ctx context.Context, tx ledger.Tx) error) error {
	return s.run(ctx, true, fn)
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

// Close is a no-op.
func (s *Store) Close() error { return nil }

func (s *Store) run(ctx context.Context, readOnly bool, fn func(ctx context.Context, tx ledger.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t := newTx(s, readOnly)
	defer t.releaseLocks()

	if err := fn(ctx, t); err != nil {
		return err
	}
	if readOnly {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.commit(t)
	return nil
}

func (s *Store) commit(t *tx) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, u := range t.users {
		s.users[id] = u
	}
	for id, a := range t.accounts {
		s.accounts[id] = a
	}
	for id, c := range t.categories {
		s.categories[id] = c
	}
	for id, it := range t.items {
		s.items[id] = it
	}
	for id, a := range t.auctions {
		s.auctions[id] = a
		s.auctionByItem[a.ItemID] = id
	}
	// Index new bids in id order so bidsByItem stays insertion ordered.
	ids := sortedKeys(t.bids)
	for _, id := range ids {
		b := t.bids[id]
		if _, ok := s.bids[id]; !ok {
			s.bidsByItem[b.ItemID] = append(s.bidsByItem[b.ItemID], id)
		}
		s.bids[id] = b
	}
	s.events = append(s.events, t.events...)
}

// tx stages writes for one unit of work. Every write to an existing record
// first takes that record's key lock, so staged copies cannot overwrite a
// concurrent commit.
type tx struct {
	s        *Store
	readOnly bool
	held     map[string]struct{}
	order    []string

	users      map[int64]*ledger.User
	accounts   map[int64]*ledger.Account
	categories map[int64]*ledger.Category
	items      map[int64]*ledger.Item
	auctions   map[int64]*ledger.Auction
	bids       map[int64]*ledger.Bid
	events     []event.Event
}

func newTx(s *Store, readOnly bool) *tx {
	return &tx{
		s:          s,
		readOnly:   readOnly,
		held:       make(map[string]struct{}),
		users:      make(map[int64]*ledger.User),
		accounts:   make(map[int64]*ledger.Account),
		categories: make(map[int64]*ledger.Category),
		items:      make(map[int64]*ledger.Item),
		auctions:   make(map[int64]*ledger.Auction),
		bids:       make(map[int64]*ledger.Bid),
	}
}

func (t *tx) Users() ledger.UserRepository { return userRepo{t} }
func (t *tx) Accounts() ledger.AccountRepository { return accountRepo{t} }
func (t *tx) Categories() ledger.CategoryRepository { return categoryRepo{t} }
func (t *tx) Items() ledger.ItemRepository { return itemRepo{t} }
func (t *tx) Auctions() ledger.AuctionRepository { return auctionRepo{t} }
func (t *tx) Bids() ledger.BidRepository { return bidRepo{t} }
func (t *tx) Events() event.Store { return eventRepo{t} }

// lock takes the named key for the rest of the transaction. Re-locking a
// key the transaction already holds is a no-op.
func (t *tx) lock(ctx context.Context, key string) error {
	if t.readOnly {
		return ledger.ErrReadOnly
	}
	if _, ok := t.held[key]; ok {
		return nil
	}
	if err := t.s.locks.acquire(ctx, key); err != nil {
		return err
	}
	t.held[key] = struct{}{}
	t.order = append(t.order, key)
	return nil
}

func (t *tx) releaseLocks() {
	for i := len(t.order) - 1; i >= 0; i-- {
		t.s.locks.release(t.order[i])
	}
	t.order = nil
	t.held = nil
}

func (t *tx) writable() error {
	if t.readOnly {
		return ledger.ErrReadOnly
	}
	return nil
}

func itemKey(id int64) string { return "item:" + strconv.FormatInt(id, 10) }
func accountKey(id int64) string { return "account:" + strconv.FormatInt(id, 10) }
func userKey(id int64) string { return "user:" + strconv.FormatInt(id, 10) }
func categoryKey(name string) string { return "category:" + name }

func clone[T any](v *T) *T {
	c := *v
	return &c
}

// get returns a copy of the staged record for id, or of the committed one.
func get[T any](mu *sync.RWMutex, staged, base map[int64]*T, id int64) (*T, bool) {
	if v, ok := staged[id]; ok {
		return clone(v), true
	}
	mu.RLock()
	defer mu.RUnlock()
	if v, ok := base[id]; ok {
		return clone(v), true
	}
	return nil, false
}

// merged returns copies of all records as the transaction sees them,
// ordered by id.
func merged[T any](mu *sync.RWMutex, staged, base map[int64]*T) []T {
	view := make(map[int64]*T, len(base)+len(staged))
	mu.RLock()
	for id, v := range base {
		view[id] = v
	}
	mu.RUnlock()
	for id, v := range staged {
		view[id] = v
	}
	out := make([]T, 0, len(view))
	for _, id := range sortedKeys(view) {
		out = append(out, *view[id])
	}
	return out
}

func sortedKeys[T any](m map[int64]*T) []int64 {
	keys := make([]int64, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
