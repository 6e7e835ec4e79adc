package fixedpoint

import (
	"errors"
	"testing"

	"github.com/holiman/uint256"

	"github.com/convertfi/bondd/internal/domain"
)

func u(v uint64) *uint256.Int { return uint256.NewInt(v) }

func TestMulDivDown_Truncates(t *testing.T) {
	cases := []struct {
		name          string
		a, b, denom   uint64
		want          uint64
	}{
		{"exact", 10, 5, 2, 25},
		{"truncated", 10, 5, 3, 16},
		{"zero amount", 0, 5, 3, 0},
		{"denom larger than product", 3, 2, 7, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := MulDivDown(u(tc.a), u(tc.b), u(tc.denom))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !got.Eq(u(tc.want)) {
				t.Errorf("MulDivDown(%d,%d,%d) = %s, want %d", tc.a, tc.b, tc.denom, got, tc.want)
			}
		})
	}
}

func TestMulDivUp_RoundsAwayFromZero(t *testing.T) {
	cases := []struct {
		name        string
		a, b, denom uint64
		want        uint64
	}{
		{"exact stays exact", 10, 5, 2, 25},
		{"remainder rounds up", 10, 5, 3, 17},
		{"zero stays zero", 0, 5, 3, 0},
		{"sub-unit rounds to one", 1, 1, 7, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := MulDivUp(u(tc.a), u(tc.b), u(tc.denom))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !got.Eq(u(tc.want)) {
				t.Errorf("MulDivUp(%d,%d,%d) = %s, want %d", tc.a, tc.b, tc.denom, got, tc.want)
			}
		})
	}
}

func TestMulDiv_WideIntermediate(t *testing.T) {
	// a*b overflows 256 bits but the quotient fits: the widened multiply
	// must not truncate before the divide.
	max := new(uint256.Int).SetAllOne()
	got, err := MulDivDown(max, u(1000), u(1000))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.Eq(max) {
		t.Errorf("got %s, want max uint256", got)
	}
}

func TestMulDiv_Overflow(t *testing.T) {
	max := new(uint256.Int).SetAllOne()
	if _, err := MulDivDown(max, u(2), u(1)); !errors.Is(err, domain.ErrOverflow) {
		t.Errorf("expected ErrOverflow, got %v", err)
	}
	if _, err := MulDivUp(max, u(2), u(1)); !errors.Is(err, domain.ErrOverflow) {
		t.Errorf("expected ErrOverflow, got %v", err)
	}
}

func TestMulDiv_ZeroDenominator(t *testing.T) {
	if _, err := MulDivDown(u(1), u(1), u(0)); !errors.Is(err, domain.ErrOverflow) {
		t.Errorf("expected error on zero denominator, got %v", err)
	}
}

func TestScale_RoundingDirections(t *testing.T) {
	// ratio = 0.5 with One scaling; an odd amount splits between the two
	// directions.
	half := new(uint256.Int).Div(One, u(2))

	down, err := ScaleDown(u(3), half)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	up, err := ScaleUp(u(3), half)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !down.Eq(u(1)) {
		t.Errorf("ScaleDown(3, 0.5) = %s, want 1", down)
	}
	if !up.Eq(u(2)) {
		t.Errorf("ScaleUp(3, 0.5) = %s, want 2", up)
	}
}

func TestScale_UpNeverBelowDown(t *testing.T) {
	ratios := []*uint256.Int{
		u(1), u(999_999_999_999_999_999), One.Clone(),
		new(uint256.Int).Mul(One, u(3)),
	}
	amounts := []*uint256.Int{u(1), u(7), u(1_000_000), u(123_456_789)}
	for _, r := range ratios {
		for _, a := range amounts {
			down, err := ScaleDown(a, r)
			if err != nil {
				t.Fatalf("ScaleDown(%s,%s): %v", a, r, err)
			}
			up, err := ScaleUp(a, r)
			if err != nil {
				t.Fatalf("ScaleUp(%s,%s): %v", a, r, err)
			}
			if up.Lt(down) {
				t.Errorf("ScaleUp(%s,%s)=%s < ScaleDown=%s", a, r, up, down)
			}
		}
	}
}
