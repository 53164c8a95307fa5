package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jensholdgaard/auctiond/internal/auctionerrors"
	"github.com/jensholdgaard/auctiond/internal/ledger"
)

// ReasonInvalidRequest marks requests rejected before reaching a service.
const ReasonInvalidRequest = "invalid_request"

// Envelope is the body of every API response.
type Envelope struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

func respond(c *gin.Context, status int, data any, message string) {
	c.JSON(status, Envelope{Status: status, Message: message, Data: data})
}

// fail aborts with an error envelope. Server errors are recorded on the
// context for the request logger but not echoed to the client.
func fail(c *gin.Context, status int, reason string, err error, message string) {
	_ = c.Error(err)
	detail := err.Error()
	if status >= http.StatusInternalServerError {
		detail = message
	}
	c.AbortWithStatusJSON(status, Envelope{
		Status:  status,
		Message: message,
		Error:   detail,
		Reason:  reason,
	})
}

// failService reports an error returned by a service call.
func failService(c *gin.Context, err error) {
	status, message := statusFor(err)
	reason := auctionerrors.Reason(err)
	if errors.Is(err, ledger.ErrDuplicate) {
		reason = "duplicate"
	}
	fail(c, status, reason, err, message)
}

func failBind(c *gin.Context, err error) {
	fail(c, http.StatusBadRequest, ReasonInvalidRequest, err, "invalid request payload")
}

// statusFor maps service errors to an HTTP status and message.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, auctionerrors.ErrItemNotFound):
		return http.StatusNotFound, "item not found"
	case errors.Is(err, auctionerrors.ErrAuctionNotFound):
		return http.StatusNotFound, "auction not found"
	case errors.Is(err, auctionerrors.ErrBidderNotFound):
		return http.StatusNotFound, "bidder not found"
	case errors.Is(err, auctionerrors.ErrUserNotFound):
		return http.StatusNotFound, "user not found"
	case errors.Is(err, auctionerrors.ErrAccountNotFound):
		return http.StatusNotFound, "account not found"
	case errors.Is(err, auctionerrors.ErrCategoryNotFound):
		return http.StatusNotFound, "category not found"
	case errors.Is(err, auctionerrors.ErrInvalidAmount),
		errors.Is(err, auctionerrors.ErrInvalidListing),
		errors.Is(err, auctionerrors.ErrInvalidUser):
		return http.StatusBadRequest, "invalid request"
	case errors.Is(err, auctionerrors.ErrBidTooLow):
		return http.StatusConflict, "bid amount too low"
	case errors.Is(err, auctionerrors.ErrAuctionNotOpen):
		return http.StatusConflict, "auction is not open"
	case errors.Is(err, auctionerrors.ErrNoBidsRecorded):
		return http.StatusConflict, "no bids recorded"
	case errors.Is(err, auctionerrors.ErrAlreadySettled):
		return http.StatusConflict, "auction already settled"
	case errors.Is(err, auctionerrors.ErrAuctionNotEnded):
		return http.StatusConflict, "auction has not ended"
	case errors.Is(err, auctionerrors.ErrBidsPresent):
		return http.StatusConflict, "auction has bids"
	case errors.Is(err, auctionerrors.ErrAlreadyPremium),
		errors.Is(err, auctionerrors.ErrNotPremium):
		return http.StatusConflict, "membership unchanged"
	case errors.Is(err, ledger.ErrDuplicate):
		return http.StatusConflict, "already exists"
	case errors.Is(err, auctionerrors.ErrInsufficientFunds):
		return http.StatusUnprocessableEntity, "insufficient funds"
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}
