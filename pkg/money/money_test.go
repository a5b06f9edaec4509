package money

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func TestSplitFee(t *testing.T) {
	tests := []struct {
		name  string
		gross int64
		bps   int64
		fee   int64
		net   int64
	}{
		{name: "fifty at five percent", gross: 5000, bps: 500, fee: 250, net: 4750},
		{name: "minimum withdrawal", gross: 1000, bps: 500, fee: 50, net: 950},
		{name: "rounds net half up", gross: 1001, bps: 500, fee: 50, net: 951},
		{name: "odd cents", gross: 1234, bps: 500, fee: 62, net: 1172},
		{name: "zero fee", gross: 9999, bps: 0, fee: 0, net: 9999},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			split := SplitFee(tt.gross, tt.bps)
			if split.NetCents != tt.net {
				t.Fatalf("expected net %d got %d", tt.net, split.NetCents)
			}
			if split.FeeCents != tt.fee {
				t.Fatalf("expected fee %d got %d", tt.fee, split.FeeCents)
			}
			if split.FeeCents+split.NetCents != split.GrossCents {
				t.Fatalf("fee + net must equal gross: %+v", split)
			}
		})
	}
}

func TestSplitFeeMatchesNinetyFivePercentLaw(t *testing.T) {
	for gross := int64(1000); gross <= 20000; gross += 7 {
		split := SplitFee(gross, 500)
		want := FromCents(gross).Mul(decimal.RequireFromString("0.95")).Round(2)
		if !FromCents(split.NetCents).Equal(want) {
			t.Fatalf("gross %d: expected net %s got %s", gross, want, Format(split.NetCents))
		}
	}
}

func TestPriceForQuantity(t *testing.T) {
	if got := PriceForQuantity(2000, 500); got != 1000 {
		t.Fatalf("2000 units at 5.00/1k should cost 10.00, got %s", Format(got))
	}
	if got := PriceForQuantity(1500, 333); got != 500 {
		t.Fatalf("1500 units at 3.33/1k should cost 5.00 after rounding, got %s", Format(got))
	}
	if got := PriceForQuantity(1, 1); got != 0 {
		t.Fatalf("expected sub-cent totals to round to zero, got %d", got)
	}
}

func TestParseCents(t *testing.T) {
	cents, err := ParseCents(decimal.RequireFromString("20.5"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cents != 2050 {
		t.Fatalf("expected 2050 got %d", cents)
	}

	if _, err := ParseCents(decimal.RequireFromString("10.001")); !errors.Is(err, ErrTooPrecise) {
		t.Fatalf("expected ErrTooPrecise, got %v", err)
	}
	if _, err := ParseCents(decimal.Zero); !errors.Is(err, ErrNotPositive) {
		t.Fatalf("expected ErrNotPositive, got %v", err)
	}
	if _, err := ParseCents(decimal.RequireFromString("-3")); !errors.Is(err, ErrNotPositive) {
		t.Fatalf("expected ErrNotPositive for negative, got %v", err)
	}
}

func TestFormat(t *testing.T) {
	if got := Format(4750); got != "47.50" {
		t.Fatalf("unexpected format %q", got)
	}
	if got := Format(5); got != "0.05" {
		t.Fatalf("unexpected format %q", got)
	}
}
