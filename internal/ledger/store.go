package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/jensholdgaard/auctiond/internal/clock"
	"github.com/jensholdgaard/auctiond/internal/config"
	"github.com/jensholdgaard/auctiond/internal/event"
)

var (
	// ErrReadOnly is returned by writes attempted inside a View scope.
	ErrReadOnly = errors.New("write attempted in read-only transaction")
	// ErrDuplicate is returned when a create violates a uniqueness rule.
	ErrDuplicate = errors.New("record already exists")
)

// Tx exposes the repositories bound to one unit of work.
type Tx interface {
	Users() UserRepository
	Accounts() AccountRepository
	Categories() CategoryRepository
	Items() ItemRepository
	Auctions() AuctionRepository
	Bids() BidRepository
	Events() event.Store
}

// Store opens units of work against a storage backend.
type Store interface {
	// Atomic runs fn in a read-write transaction. The transaction commits
	// only if fn returns nil; otherwise every write made through the Tx is
	// discarded and fn's error is returned.
	Atomic(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	// View runs fn in a read-only transaction.
	View(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	// Ping checks the underlying connection health.
	Ping(ctx context.Context) error
	// Close releases underlying resources.
	Close() error
}

// Driver opens a Store from configuration.
type Driver func(ctx context.Context, cfg config.DatabaseConfig, clk clock.Clock) (Store, error)

// registry maps driver names to their factory functions.
var registry = map[string]Driver{}

// Register adds a named driver to the global registry.
// It is intended to be called from init() in each driver package.
func Register(name string, d Driver) {
	registry[name] = d
}

// Open selects the driver specified in cfg.Driver and opens a Store.
func Open(ctx context.Context, cfg config.DatabaseConfig, clk clock.Clock) (Store, error) {
	d, ok := registry[cfg.Driver]
	if !ok {
		return nil, fmt.Errorf("unknown store driver %q (registered: %v)", cfg.Driver, registeredNames())
	}
	return d(ctx, cfg, clk)
}

func registeredNames() []string {
	names := make([]string, 0, len(registry))
	for k := range registry {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
