package outcome

import (
	"testing"

	"github.com/shopspring/decimal"

	"updown/internal/models"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func TestNatural(t *testing.T) {
	cases := []struct {
		name      string
		entry     string
		exit      string
		direction string
		want      Result
	}{
		{"up wins on rise", "100", "110", models.DirectionUp, Win},
		{"up loses on fall", "100", "90", models.DirectionUp, Lose},
		{"down wins on fall", "100", "90", models.DirectionDown, Win},
		{"down loses on rise", "100", "110", models.DirectionDown, Lose},
		{"push is void up", "100", "100", models.DirectionUp, Void},
		{"push is void down", "100", "100.000", models.DirectionDown, Void},
	}
	for _, tc := range cases {
		got := Natural(d(tc.entry), d(tc.exit), tc.direction)
		if got != tc.want {
			t.Fatalf("%s: got %q want %q", tc.name, got, tc.want)
		}
	}
}

func TestDecideOverridePrecedence(t *testing.T) {
	for _, natural := range []Result{Win, Lose, Void} {
		if got := Decide(natural, models.OverrideModeForcedWin); got != Win {
			t.Fatalf("forced_win over %q: got %q", natural, got)
		}
		if got := Decide(natural, models.OverrideModeForcedLose); got != Lose {
			t.Fatalf("forced_lose over %q: got %q", natural, got)
		}
		if got := Decide(natural, models.OverrideModeNormal); got != natural {
			t.Fatalf("normal changed %q to %q", natural, got)
		}
	}
}

func TestDecideUnknownModeFallsThrough(t *testing.T) {
	if got := Decide(Lose, ""); got != Lose {
		t.Fatalf("empty mode: got %q want lose", got)
	}
}

func TestPayout(t *testing.T) {
	stake := d("100")
	ratio := d("0.8")

	if got := Payout(stake, Win, ratio); !got.Equal(d("180")) {
		t.Fatalf("win payout = %s, want 180", got)
	}
	if got := Payout(stake, Lose, ratio); !got.IsZero() {
		t.Fatalf("lose payout = %s, want 0", got)
	}
	if got := Payout(stake, Void, ratio); !got.Equal(stake) {
		t.Fatalf("void payout = %s, want stake", got)
	}
}

func TestStatusFor(t *testing.T) {
	if StatusFor(Win) != models.TradeStatusResolvedWin {
		t.Fatalf("win status mismatch")
	}
	if StatusFor(Lose) != models.TradeStatusResolvedLose {
		t.Fatalf("lose status mismatch")
	}
	if StatusFor(Void) != models.TradeStatusResolvedVoid {
		t.Fatalf("void status mismatch")
	}
}
