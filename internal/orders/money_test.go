package orders

import "testing"

func TestFormatCents(t *testing.T) {
	t.Parallel()

	cases := []struct {
		cents int
		want  string
	}{
		{0, "0.00"},
		{5, "0.05"},
		{100, "1.00"},
		{2500, "25.00"},
		{2505, "25.05"},
		{199999, "1999.99"},
		{-150, "-1.50"},
	}
	for _, tc := range cases {
		if got := FormatCents(tc.cents); got != tc.want {
			t.Errorf("FormatCents(%d) = %q, want %q", tc.cents, got, tc.want)
		}
	}
}

func TestParseAmount(t *testing.T) {
	t.Parallel()

	t.Run("valid", func(t *testing.T) {
		cases := []struct {
			in   string
			want int
		}{
			{"25.00", 2500},
			{"25", 2500},
			{"25.5", 2550},
			{"0.05", 5},
			{".99", 99},
			{" 19.99 ", 1999},
			{"-1.50", -150},
		}
		for _, tc := range cases {
			got, err := ParseAmount(tc.in)
			if err != nil {
				t.Errorf("ParseAmount(%q): %v", tc.in, err)
				continue
			}
			if got != tc.want {
				t.Errorf("ParseAmount(%q) = %d, want %d", tc.in, got, tc.want)
			}
		}
	})

	t.Run("invalid", func(t *testing.T) {
		for _, in := range []string{"", "  ", "25.001", "abc", "25.x", "1.2.3"} {
			if _, err := ParseAmount(in); err == nil {
				t.Errorf("ParseAmount(%q): expected error", in)
			}
		}
	})

	t.Run("round trips", func(t *testing.T) {
		for _, cents := range []int{0, 1, 99, 100, 2500, 123456} {
			got, err := ParseAmount(FormatCents(cents))
			if err != nil {
				t.Fatalf("round trip %d: %v", cents, err)
			}
			if got != cents {
				t.Fatalf("round trip %d: got %d", cents, got)
			}
		}
	})
}
