package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/jensholdgaard/auctiond/internal/auction"
	"github.com/jensholdgaard/auctiond/internal/event"
	"github.com/jensholdgaard/auctiond/internal/ledger"
	"github.com/jensholdgaard/auctiond/internal/suggestion"
)

type registerUserRequest struct {
	Name  string `json:"name" binding:"required"`
	Email string `json:"email"`
}

type amountRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

type categoryRequest struct {
	Name string `json:"name" binding:"required"`
}

type listItemRequest struct {
	SellerID int64 `json:"seller_id" binding:"required"`
	auction.Listing
}

type bidRequest struct {
	BidderID int64           `json:"bidder_id" binding:"required"`
	Amount   decimal.Decimal `json:"amount"`
}

type listing struct {
	Item    *ledger.Item    `json:"item"`
	Auction *ledger.Auction `json:"auction"`
}

var errInvalidID = errors.New("id must be a positive integer")

// pathID parses the :id path parameter. It writes the error response itself
// and reports false when the parameter is unusable.
func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		fail(c, http.StatusBadRequest, ReasonInvalidRequest,
			fmt.Errorf("%w: %q", errInvalidID, c.Param("id")), "invalid id")
		return 0, false
	}
	return id, true
}

// POST /users
func (a *api) registerUser(c *gin.Context) {
	var req registerUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		failBind(c, err)
		return
	}
	u, err := a.svc.Accounts.RegisterUser(c.Request.Context(), req.Name, req.Email)
	if err != nil {
		failService(c, err)
		return
	}
	respond(c, http.StatusCreated, u, "user registered")
}

// GET /users/:id
func (a *api) getUser(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	u, err := a.svc.Accounts.User(c.Request.Context(), id)
	if err != nil {
		failService(c, err)
		return
	}
	respond(c, http.StatusOK, u, "user retrieved")
}

// POST /users/:id/membership
func (a *api) upgradeMembership(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	acct, err := a.svc.Accounts.UpgradeToPremium(c.Request.Context(), id)
	if err != nil {
		failService(c, err)
		return
	}
	respond(c, http.StatusOK, acct, "membership upgraded")
}

// DELETE /users/:id/membership
func (a *api) cancelMembership(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := a.svc.Accounts.CancelPremium(c.Request.Context(), id); err != nil {
		failService(c, err)
		return
	}
	respond(c, http.StatusOK, nil, "membership cancelled")
}

// GET /users/:id/items
func (a *api) itemsBySeller(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	items, err := a.svc.Auctions.ItemsBySeller(c.Request.Context(), id)
	if err != nil {
		failService(c, err)
		return
	}
	if items == nil {
		items = []ledger.Item{}
	}
	respond(c, http.StatusOK, items, "items retrieved")
}

// GET /users/:id/suggestions
func (a *api) suggestions(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	items, err := a.svc.Suggestions.Suggest(c.Request.Context(), id)
	if err != nil {
		failService(c, err)
		return
	}
	if items == nil {
		items = []suggestion.SuggestedItem{}
	}
	respond(c, http.StatusOK, items, "suggestions retrieved")
}

// GET /accounts/:id
func (a *api) getAccount(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	acct, err := a.svc.Accounts.Balance(c.Request.Context(), id)
	if err != nil {
		failService(c, err)
		return
	}
	respond(c, http.StatusOK, acct, "account retrieved")
}

// POST /accounts/:id/funds
func (a *api) topUp(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req amountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		failBind(c, err)
		return
	}
	acct, err := a.svc.Accounts.TopUp(c.Request.Context(), id, req.Amount)
	if err != nil {
		failService(c, err)
		return
	}
	respond(c, http.StatusOK, acct, "funds added")
}

// GET /categories
func (a *api) listCategories(c *gin.Context) {
	cats, err := a.svc.Auctions.Categories(c.Request.Context())
	if err != nil {
		failService(c, err)
		return
	}
	if cats == nil {
		cats = []ledger.Category{}
	}
	respond(c, http.StatusOK, cats, "categories retrieved")
}

// POST /categories
func (a *api) addCategory(c *gin.Context) {
	var req categoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		failBind(c, err)
		return
	}
	cat, err := a.svc.Auctions.AddCategory(c.Request.Context(), req.Name)
	if err != nil {
		failService(c, err)
		return
	}
	respond(c, http.StatusCreated, cat, "category created")
}

// POST /items
func (a *api) listItem(c *gin.Context) {
	var req listItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		failBind(c, err)
		return
	}
	it, auc, err := a.svc.Auctions.ListItem(c.Request.Context(), req.SellerID, req.Listing)
	if err != nil {
		failService(c, err)
		return
	}
	respond(c, http.StatusCreated, listing{Item: it, Auction: auc}, "item listed")
}

// GET /items/:id/auction
func (a *api) auctionDetails(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	d, err := a.svc.Auctions.AuctionDetails(c.Request.Context(), id)
	if err != nil {
		failService(c, err)
		return
	}
	respond(c, http.StatusOK, d, "auction retrieved")
}

// GET /items/:id/bids
func (a *api) listBids(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	bids, err := a.svc.Auctions.Bids(c.Request.Context(), id)
	if err != nil {
		failService(c, err)
		return
	}
	if bids == nil {
		bids = []ledger.Bid{}
	}
	respond(c, http.StatusOK, bids, "bids retrieved")
}

// GET /items/:id/bids/highest
func (a *api) highestBid(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	bid, err := a.svc.Auctions.HighestBid(c.Request.Context(), id)
	if err != nil {
		failService(c, err)
		return
	}
	respond(c, http.StatusOK, bid, "highest bid retrieved")
}

// POST /items/:id/bids
func (a *api) submitBid(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req bidRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		failBind(c, err)
		return
	}
	bid, err := a.svc.Auctions.SubmitBid(c.Request.Context(), id, req.BidderID, req.Amount)
	if err != nil {
		failService(c, err)
		return
	}
	respond(c, http.StatusCreated, bid, "bid accepted")
}

// POST /items/:id/settle
func (a *api) settle(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	res, err := a.svc.Settlements.Settle(c.Request.Context(), id)
	if err != nil {
		failService(c, err)
		return
	}
	respond(c, http.StatusOK, res, "auction settled")
}

// POST /items/:id/close
func (a *api) closeUnsold(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := a.svc.Settlements.CloseUnsold(c.Request.Context(), id); err != nil {
		failService(c, err)
		return
	}
	respond(c, http.StatusOK, nil, "auction closed")
}

// GET /items/:id/history
func (a *api) history(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	evs, err := a.svc.Auctions.History(c.Request.Context(), id)
	if err != nil {
		failService(c, err)
		return
	}
	if evs == nil {
		evs = []event.Event{}
	}
	respond(c, http.StatusOK, evs, "history retrieved")
}

// GET /auctions/upcoming
func (a *api) upcoming(c *gin.Context) {
	auctions, err := a.svc.Auctions.UpcomingAuctions(c.Request.Context())
	if err != nil {
		failService(c, err)
		return
	}
	if auctions == nil {
		auctions = []ledger.Auction{}
	}
	respond(c, http.StatusOK, auctions, "auctions retrieved")
}

// POST /sweeps
func (a *api) sweep(c *gin.Context) {
	sum, err := a.svc.Sweeps.SweepOnce(c.Request.Context())
	if err != nil {
		failService(c, err)
		return
	}
	respond(c, http.StatusOK, sum, "sweep finished")
}

// GET /ws/items/:id
func (a *api) live(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	a.svc.Live.ServeItem(c.Writer, c.Request, id)
}
