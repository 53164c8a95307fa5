// Package ws serves live bidding over WebSocket. Clients subscribe to one
// item, submit bids as JSON frames and receive every accepted bid on that
// item as it happens.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/jensholdgaard/auctiond/internal/auction"
	"github.com/jensholdgaard/auctiond/internal/config"
	"github.com/jensholdgaard/auctiond/internal/ledger"
	"github.com/jensholdgaard/auctiond/internal/metrics"
)

// Bidder admits bids.
type Bidder interface {
	SubmitBid(ctx context.Context, itemID, bidderID int64, amount decimal.Decimal) (*ledger.Bid, error)
}

// BidRequest is a bid submitted by a client.
type BidRequest struct {
	BidderID int64           `json:"bidder_id"`
	Amount   decimal.Decimal `json:"amount"`
}

// Frame types sent to clients.
const (
	FrameReceipt = "receipt"
	FrameBid     = "bid"
)

// Frame is a message sent to a client. Receipts answer the client's own
// submissions; bid frames announce accepted bids from anyone.
type Frame struct {
	Type    string           `json:"type"`
	ItemID  int64            `json:"item_id"`
	Receipt *auction.Receipt `json:"receipt,omitempty"`
	Bid     *ledger.Bid      `json:"bid,omitempty"`
}

// ReasonRateLimited is the receipt reason for frames dropped by the limiter.
const ReasonRateLimited = "rate_limited"

// ReasonMalformed is the receipt reason for frames that do not decode.
const ReasonMalformed = "malformed_request"

const sendBuffer = 32

type client struct {
	id      string
	itemID  int64
	conn    *websocket.Conn
	send    chan Frame
	limiter *rate.Limiter
}

// Hub tracks subscribed clients per item.
type Hub struct {
	bidder       Bidder
	metrics      *metrics.Metrics
	logger       *slog.Logger
	upgrader     websocket.Upgrader
	limit        rate.Limit
	burst        int
	writeTimeout time.Duration

	mu    sync.RWMutex
	rooms map[int64]map[*client]struct{}
}

// NewHub returns a Hub submitting bids through b.
func NewHub(b Bidder, cfg config.WebSocketConfig, m *metrics.Metrics, logger *slog.Logger) *Hub {
	return &Hub{
		bidder:  b,
		metrics: m,
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  cfg.ReadBufferSize,
			WriteBufferSize: cfg.WriteBufferSize,
		},
		limit:        rate.Limit(cfg.MessagesPerSecond),
		burst:        cfg.Burst,
		writeTimeout: cfg.WriteTimeout,
		rooms:        make(map[int64]map[*client]struct{}),
	}
}

// ServeItem upgrades the request and subscribes the connection to itemID.
// It returns once the connection closes.
func (h *Hub) ServeItem(w http.ResponseWriter, r *http.Request, itemID int64) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WarnContext(r.Context(), "websocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		id:      uuid.NewString(),
		itemID:  itemID,
		conn:    conn,
		send:    make(chan Frame, sendBuffer),
		limiter: rate.NewLimiter(h.limit, h.burst),
	}
	h.register(c)
	h.logger.InfoContext(r.Context(), "websocket client connected",
		slog.String("client_id", c.id),
		slog.Int64("item_id", itemID),
	)

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.writeLoop(c)
	}()

	h.readLoop(r.Context(), c)
	h.unregister(c)
	<-done
	_ = conn.Close()

	h.logger.InfoContext(r.Context(), "websocket client disconnected",
		slog.String("client_id", c.id),
		slog.Int64("item_id", itemID),
	)
}

// Broadcast sends bid to every client subscribed to its item. Clients whose
// buffers are full miss the frame.
func (h *Hub) Broadcast(_ context.Context, bid ledger.Bid) {
	f := Frame{Type: FrameBid, ItemID: bid.ItemID, Bid: &bid}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.rooms[bid.ItemID] {
		select {
		case c.send <- f:
		default:
			h.logger.Warn("dropping frame for slow websocket client",
				slog.String("client_id", c.id),
				slog.Int64("item_id", bid.ItemID),
			)
		}
	}
}

// Subscribers returns the number of clients subscribed to itemID.
func (h *Hub) Subscribers(itemID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[itemID])
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	room, ok := h.rooms[c.itemID]
	if !ok {
		room = make(map[*client]struct{})
		h.rooms[c.itemID] = room
	}
	room[c] = struct{}{}
	h.mu.Unlock()
	h.metrics.WSConnected()
}

// unregister removes c and closes its send channel, which ends writeLoop.
func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if room, ok := h.rooms[c.itemID]; ok {
		delete(room, c)
		if len(room) == 0 {
			delete(h.rooms, c.itemID)
		}
	}
	close(c.send)
	h.mu.Unlock()
	h.metrics.WSDisconnected()
}

func (h *Hub) readLoop(ctx context.Context, c *client) {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.DebugContext(ctx, "websocket read failed",
					slog.String("client_id", c.id),
					slog.String("error", err.Error()),
				)
			}
			return
		}

		var receipt auction.Receipt
		var req BidRequest
		switch {
		case !c.limiter.Allow():
			receipt = auction.Receipt{Reason: ReasonRateLimited}
		case json.Unmarshal(data, &req) != nil:
			receipt = auction.Receipt{Reason: ReasonMalformed}
		default:
			bid, err := h.bidder.SubmitBid(ctx, c.itemID, req.BidderID, req.Amount)
			if errors.Is(err, context.Canceled) {
				return
			}
			receipt = auction.NewReceipt(bid, err)
		}
		h.reply(c, Frame{Type: FrameReceipt, ItemID: c.itemID, Receipt: &receipt})
	}
}

// reply queues f for c. c is still registered, so its channel is open.
func (h *Hub) reply(c *client, f Frame) {
	select {
	case c.send <- f:
	default:
		h.logger.Warn("dropping receipt for slow websocket client", slog.String("client_id", c.id))
	}
}

func (h *Hub) writeLoop(c *client) {
	for f := range c.send {
		if h.writeTimeout > 0 {
			_ = c.conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
		}
		if err := c.conn.WriteJSON(f); err != nil {
			h.logger.Debug("websocket write failed",
				slog.String("client_id", c.id),
				slog.String("error", err.Error()),
			)
			// Closing the connection ends readLoop; drain until it unregisters.
			_ = c.conn.Close()
			for range c.send {
			}
			return
		}
	}
	_ = c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}
