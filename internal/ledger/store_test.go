package ledger_test

import (
	"context"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/jensholdgaard/auctiond/internal/clock"
	"github.com/jensholdgaard/auctiond/internal/config"
	"github.com/jensholdgaard/auctiond/internal/ledger"

	// Import drivers so their init() functions register them.
	_ "github.com/jensholdgaard/auctiond/internal/ledger/memory"
	_ "github.com/jensholdgaard/auctiond/internal/ledger/postgres"
)

// fakeDriver is a ledger.Driver that always succeeds without connecting to a DB.
func fakeDriver(_ context.Context, _ config.DatabaseConfig, _ clock.Clock) (ledger.Store, error) {
	return nil, nil
}

func TestOpen(t *testing.T) {
	ledger.Register("test-driver", fakeDriver)

	tests := []struct {
		name    string
		driver  string
		wantErr bool
	}{
		{name: "registered driver succeeds", driver: "test-driver"},
		{name: "memory driver succeeds", driver: "memory"},
		{name: "unknown driver fails", driver: "nonexistent", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.DatabaseConfig{Driver: tt.driver}
			_, err := ledger.Open(context.Background(), cfg, clock.Real{})
			if (err != nil) != tt.wantErr {
				t.Errorf("Open(driver=%q) error = %v, wantErr %v", tt.driver, err, tt.wantErr)
			}
		})
	}
}

func TestOpen_PostgresRegistered(t *testing.T) {
	// Nothing listens on port 1, so the driver must fail to connect rather
	// than be reported as unknown.
	cfg := config.DatabaseConfig{Driver: "postgres", Host: "127.0.0.1", Port: 1, SSLMode: "disable"}
	_, err := ledger.Open(context.Background(), cfg, clock.Real{})
	if err == nil {
		t.Fatal("expected error (no DB running), got nil")
	}
	if strings.Contains(err.Error(), "unknown store driver") {
		t.Errorf("expected connection error, got unknown driver error: %v", err)
	}
}

func TestBid_Outranks(t *testing.T) {
	d := decimal.RequireFromString
	tests := []struct {
		name string
		a, b ledger.Bid
		want bool
	}{
		{
			name: "higher amount wins",
			a:    ledger.Bid{ID: 5, Amount: d("120")},
			b:    ledger.Bid{ID: 1, Amount: d("100")},
			want: true,
		},
		{
			name: "lower amount loses",
			a:    ledger.Bid{ID: 1, Amount: d("99.99")},
			b:    ledger.Bid{ID: 2, Amount: d("100")},
			want: false,
		},
		{
			name: "tie goes to earlier insertion",
			a:    ledger.Bid{ID: 1, Amount: d("100.0")},
			b:    ledger.Bid{ID: 2, Amount: d("100")},
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.Outranks(tt.b); got != tt.want {
				t.Errorf("Outranks() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCondition_Valid(t *testing.T) {
	for _, c := range []ledger.Condition{ledger.ConditionNew, ledger.ConditionLikeNew, ledger.ConditionUsed, ledger.ConditionRefurbished} {
		if !c.Valid() {
			t.Errorf("%q.Valid() = false, want true", c)
		}
	}
	if ledger.Condition("broken").Valid() {
		t.Error(`"broken".Valid() = true, want false`)
	}
}
