// Package httpapi exposes the auction services as a JSON HTTP API.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/trace"

	"github.com/jensholdgaard/auctiond/internal/auction"
	"github.com/jensholdgaard/auctiond/internal/event"
	"github.com/jensholdgaard/auctiond/internal/health"
	"github.com/jensholdgaard/auctiond/internal/ledger"
	"github.com/jensholdgaard/auctiond/internal/metrics"
	"github.com/jensholdgaard/auctiond/internal/scheduler"
	"github.com/jensholdgaard/auctiond/internal/settlement"
	"github.com/jensholdgaard/auctiond/internal/suggestion"
)

// Auctions is the listing and bidding service.
type Auctions interface {
	SubmitBid(ctx context.Context, itemID, bidderID int64, amount decimal.Decimal) (*ledger.Bid, error)
	ListItem(ctx context.Context, sellerID int64, l auction.Listing) (*ledger.Item, *ledger.Auction, error)
	AddCategory(ctx context.Context, name string) (*ledger.Category, error)
	Categories(ctx context.Context) ([]ledger.Category, error)
	AuctionDetails(ctx context.Context, itemID int64) (*auction.Details, error)
	Bids(ctx context.Context, itemID int64) ([]ledger.Bid, error)
	HighestBid(ctx context.Context, itemID int64) (*ledger.Bid, error)
	UpcomingAuctions(ctx context.Context) ([]ledger.Auction, error)
	ItemsBySeller(ctx context.Context, sellerID int64) ([]ledger.Item, error)
	History(ctx context.Context, itemID int64) ([]event.Event, error)
}

// Accounts is the user and funds service.
type Accounts interface {
	RegisterUser(ctx context.Context, name, email string) (*ledger.User, error)
	User(ctx context.Context, userID int64) (*ledger.User, error)
	Balance(ctx context.Context, userID int64) (*ledger.Account, error)
	TopUp(ctx context.Context, userID int64, amount decimal.Decimal) (*ledger.Account, error)
	UpgradeToPremium(ctx context.Context, userID int64) (*ledger.Account, error)
	CancelPremium(ctx context.Context, userID int64) error
}

// Settlements settles ended auctions.
type Settlements interface {
	Settle(ctx context.Context, itemID int64) (*settlement.Result, error)
	CloseUnsold(ctx context.Context, itemID int64) error
}

// Suggestions recommends items to users.
type Suggestions interface {
	Suggest(ctx context.Context, userID int64) ([]suggestion.SuggestedItem, error)
}

// Sweeps triggers a settlement sweep on demand.
type Sweeps interface {
	SweepOnce(ctx context.Context) (scheduler.Summary, error)
}

// Live serves WebSocket bidding for one item.
type Live interface {
	ServeItem(w http.ResponseWriter, r *http.Request, itemID int64)
}

// Services are the backends the API routes to. Sweeps and Live are optional.
type Services struct {
	Auctions    Auctions
	Accounts    Accounts
	Settlements Settlements
	Suggestions Suggestions
	Sweeps      Sweeps
	Live        Live
}

// Options configure the router's ambient behaviour.
type Options struct {
	Logger         *slog.Logger
	TracerProvider trace.TracerProvider
	Metrics        *metrics.Metrics
	// Gatherer, when set, is served at /metrics.
	Gatherer prometheus.Gatherer
	// Health, when set, is served at /healthz and /readyz.
	Health *health.Handler
}

type api struct {
	svc Services
}

// NewRouter builds the gin engine serving the API.
func NewRouter(svc Services, opts Options) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(tracing(opts.TracerProvider))
	router.Use(requestLogger(opts.Logger, opts.Metrics))

	if opts.Health != nil {
		router.GET("/healthz", gin.WrapF(opts.Health.LivenessHandler()))
		router.GET("/readyz", gin.WrapF(opts.Health.ReadinessHandler()))
	}
	if opts.Gatherer != nil {
		router.GET("/metrics", gin.WrapH(metrics.Handler(opts.Gatherer)))
	}

	a := &api{svc: svc}

	users := router.Group("/users")
	{
		users.POST("", a.registerUser)
		users.GET("/:id", a.getUser)
		users.POST("/:id/membership", a.upgradeMembership)
		users.DELETE("/:id/membership", a.cancelMembership)
		users.GET("/:id/items", a.itemsBySeller)
		users.GET("/:id/suggestions", a.suggestions)
	}

	accounts := router.Group("/accounts")
	{
		accounts.GET("/:id", a.getAccount)
		accounts.POST("/:id/funds", a.topUp)
	}

	categories := router.Group("/categories")
	{
		categories.GET("", a.listCategories)
		categories.POST("", a.addCategory)
	}

	items := router.Group("/items")
	{
		items.POST("", a.listItem)
		items.GET("/:id/auction", a.auctionDetails)
		items.GET("/:id/bids", a.listBids)
		items.GET("/:id/bids/highest", a.highestBid)
		items.POST("/:id/bids", a.submitBid)
		items.POST("/:id/settle", a.settle)
		items.POST("/:id/close", a.closeUnsold)
		items.GET("/:id/history", a.history)
	}

	router.GET("/auctions/upcoming", a.upcoming)

	if svc.Sweeps != nil {
		router.POST("/sweeps", a.sweep)
	}
	if svc.Live != nil {
		router.GET("/ws/items/:id", a.live)
	}

	return router
}
