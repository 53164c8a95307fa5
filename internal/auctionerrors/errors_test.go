package auctionerrors_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jensholdgaard/auctiond/internal/auctionerrors"
)

func TestReason(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "nil", err: nil, want: ""},
		{name: "bare sentinel", err: auctionerrors.ErrBidTooLow, want: "bid_too_low"},
		{
			name: "wrapped sentinel",
			err:  fmt.Errorf("settling item 42: %w", auctionerrors.ErrAlreadySettled),
			want: "already_settled",
		},
		{
			name: "double wrapped",
			err:  fmt.Errorf("outer: %w", fmt.Errorf("inner: %w", auctionerrors.ErrInsufficientFunds)),
			want: "insufficient_funds",
		},
		{name: "unknown error", err: errors.New("disk on fire"), want: "internal"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := auctionerrors.Reason(tt.err); got != tt.want {
				t.Errorf("Reason() = %q, want %q", got, tt.want)
			}
		})
	}
}
