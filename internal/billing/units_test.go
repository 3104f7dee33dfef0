package billing

import "testing"

func TestCallUnits(t *testing.T) {
	cases := []struct {
		seconds int
		units   int64
	}{
		{0, 1},
		{1, 1},
		{59, 1},
		{60, 2},
		{61, 2},
		{119, 2},
		{120, 3},
		{-5, 1},
	}
	for _, tc := range cases {
		if got := CallUnits(tc.seconds); got != tc.units {
			t.Fatalf("CallUnits(%d) = %d, want %d", tc.seconds, got, tc.units)
		}
	}
}

func TestMessageUnits(t *testing.T) {
	if MessageUnits() != 1 {
		t.Fatalf("message cost must be one unit")
	}
}
