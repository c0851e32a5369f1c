package risklimit

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/BakaOtaku/robet-ai/internal/apperr"
	"github.com/BakaOtaku/robet-ai/internal/model"
)

func TestCheckLimit(t *testing.T) {
	limiter := NewLimiter(decimal.NewFromInt(1000))

	cases := []struct {
		name           string
		position       *model.Position
		newlyLockedUSD decimal.Decimal
		wantErr        bool
	}{
		{
			name:           "under cap",
			position:       model.ZeroPosition("u1", "c1", "m1"),
			newlyLockedUSD: decimal.NewFromInt(500),
			wantErr:        false,
		},
		{
			name:           "exactly at cap",
			position:       model.ZeroPosition("u1", "c1", "m1"),
			newlyLockedUSD: decimal.NewFromInt(1000),
			wantErr:        false,
		},
		{
			name:           "over cap from new lock alone",
			position:       model.ZeroPosition("u1", "c1", "m1"),
			newlyLockedUSD: decimal.NewFromInt(1001),
			wantErr:        true,
		},
		{
			name: "existing collateral pushes over cap",
			position: func() *model.Position {
				p := model.ZeroPosition("u1", "c1", "m1")
				p.LockedCollateralYes = decimal.NewFromInt(600)
				p.LockedCollateralNo = decimal.NewFromInt(300)
				return p
			}(),
			newlyLockedUSD: decimal.NewFromInt(200),
			wantErr:        true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := limiter.CheckLimit("u1", "m1", tc.position, tc.newlyLockedUSD)
			if tc.wantErr && !apperr.Is(err, apperr.LimitExceeded) {
				t.Fatalf("expected LimitExceeded, got %v", err)
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
		})
	}
}
