// Package scheduler runs the settlement sweeper, which settles auctions once
// their end time has passed.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jensholdgaard/auctiond/internal/auctionerrors"
	"github.com/jensholdgaard/auctiond/internal/clock"
	"github.com/jensholdgaard/auctiond/internal/ledger"
	"github.com/jensholdgaard/auctiond/internal/metrics"
	"github.com/jensholdgaard/auctiond/internal/settlement"
)

// Settler settles or closes a single item's auction.
type Settler interface {
	Settle(ctx context.Context, itemID int64) (*settlement.Result, error)
	CloseUnsold(ctx context.Context, itemID int64) error
}

// Summary counts the outcomes of one sweep.
type Summary struct {
	Due          int `json:"due"`
	Settled      int `json:"settled"`
	ClosedUnsold int `json:"closed_unsold"`
	Skipped      int `json:"skipped"`
	Failed       int `json:"failed"`
}

// Sweeper periodically settles due auctions.
type Sweeper struct {
	store   ledger.Store
	settler Settler
	metrics *metrics.Metrics
	logger  *slog.Logger
	tracer  trace.Tracer
	clock   clock.Clock
}

// NewSweeper returns a new Sweeper.
func NewSweeper(store ledger.Store, settler Settler, m *metrics.Metrics, logger *slog.Logger, tp trace.TracerProvider, clk clock.Clock) *Sweeper {
	return &Sweeper{
		store:   store,
		settler: settler,
		metrics: m,
		logger:  logger,
		tracer:  tp.Tracer("github.com/jensholdgaard/auctiond/internal/scheduler"),
		clock:   clk,
	}
}

// SweepOnce settles every open auction whose end time has passed. Auctions
// without bids are closed unsold. A failure on one auction does not stop the
// sweep; only failing to list due auctions returns an error.
func (s *Sweeper) SweepOnce(ctx context.Context) (Summary, error) {
	ctx, span := s.tracer.Start(ctx, "Sweeper.SweepOnce")
	defer span.End()

	var due []ledger.Auction
	err := s.store.View(ctx, func(ctx context.Context, tx ledger.Tx) error {
		var err error
		due, err = tx.Auctions().ListDue(ctx, s.clock.Now())
		return err
	})
	if err != nil {
		return Summary{}, fmt.Errorf("listing due auctions: %w", err)
	}

	sum := Summary{Due: len(due)}
	for _, a := range due {
		if ctx.Err() != nil {
			return sum, ctx.Err()
		}
		result := s.sweep(ctx, a)
		s.metrics.ObserveSweep(result)
		switch result {
		case "settled":
			sum.Settled++
		case "closed_unsold":
			sum.ClosedUnsold++
		case "already_settled":
			sum.Skipped++
		default:
			sum.Failed++
		}
	}

	span.SetAttributes(
		attribute.Int("due", sum.Due),
		attribute.Int("settled", sum.Settled),
		attribute.Int("failed", sum.Failed),
	)
	if sum.Due > 0 {
		s.logger.InfoContext(ctx, "sweep finished",
			slog.Int("due", sum.Due),
			slog.Int("settled", sum.Settled),
			slog.Int("closed_unsold", sum.ClosedUnsold),
			slog.Int("skipped", sum.Skipped),
			slog.Int("failed", sum.Failed),
		)
	}
	return sum, nil
}

// sweep settles one auction and returns the outcome label.
func (s *Sweeper) sweep(ctx context.Context, a ledger.Auction) string {
	_, err := s.settler.Settle(ctx, a.ItemID)
	if errors.Is(err, auctionerrors.ErrNoBidsRecorded) {
		err = s.settler.CloseUnsold(ctx, a.ItemID)
		if err == nil {
			return "closed_unsold"
		}
	}
	switch {
	case err == nil:
		return "settled"
	case errors.Is(err, auctionerrors.ErrAlreadySettled):
		return "already_settled"
	case errors.Is(err, auctionerrors.ErrInsufficientFunds):
		s.logger.WarnContext(ctx, "winner cannot pay, auction left open for manual resolution",
			slog.Int64("item_id", a.ItemID),
			slog.Int64("auction_id", a.ID),
		)
	default:
		s.logger.ErrorContext(ctx, "sweeping auction",
			slog.Int64("item_id", a.ItemID),
			slog.Int64("auction_id", a.ID),
			slog.String("error", err.Error()),
		)
	}
	return auctionerrors.Reason(err)
}

// Run schedules SweepOnce on spec and blocks until ctx is done. Overlapping
// runs are skipped.
func (s *Sweeper) Run(ctx context.Context, spec string) error {
	logger := cronLogger{s.logger}
	c := cron.New(cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)))
	if _, err := c.AddFunc(spec, func() {
		if _, err := s.SweepOnce(ctx); err != nil && ctx.Err() == nil {
			s.logger.ErrorContext(ctx, "sweep failed", slog.String("error", err.Error()))
		}
	}); err != nil {
		return fmt.Errorf("scheduling sweeper %q: %w", spec, err)
	}

	s.logger.InfoContext(ctx, "sweeper started", slog.String("spec", spec))
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	s.logger.Info("sweeper stopped")
	return nil
}

// cronLogger adapts slog to the cron.Logger interface.
type cronLogger struct{ l *slog.Logger }

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error("cron: "+msg, append([]any{slog.String("error", err.Error())}, keysAndValues...)...)
}
