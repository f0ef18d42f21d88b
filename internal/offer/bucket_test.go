package offer

import "testing"

func TestResolveBucketTotal(t *testing.T) {
	t.Parallel()
	for rate := 0; rate <= 100; rate++ {
		b, err := ResolveBucket(rate)
		if err != nil {
			t.Fatalf("rate %d: unexpected error: %v", rate, err)
		}
		if !b.Contains(rate) {
			t.Fatalf("rate %d resolved to %q but Contains is false", rate, b)
		}
		// Exactly one bucket may claim each rate.
		for _, other := range Buckets() {
			if other != b && other.Contains(rate) {
				t.Fatalf("rate %d claimed by both %q and %q", rate, b, other)
			}
		}
	}
}

func TestResolveBucket(t *testing.T) {
	t.Parallel()
	cases := []struct {
		rate int
		want RateBucket
	}{
		{0, Bucket0to30},
		{29, Bucket0to30},
		{30, Bucket30to70},
		{69, Bucket30to70},
		{70, Bucket70to80},
		{79, Bucket70to80},
		{80, Bucket80to100},
		{99, Bucket80to100},
		{100, BucketFull},
	}
	for _, tc := range cases {
		got, err := ResolveBucket(tc.rate)
		if err != nil {
			t.Fatalf("rate %d: %v", tc.rate, err)
		}
		if got != tc.want {
			t.Errorf("rate %d: got %q, want %q", tc.rate, got, tc.want)
		}
	}
}

func TestResolveBucketOutOfRange(t *testing.T) {
	t.Parallel()
	for _, rate := range []int{-1, -50, 101, 1000} {
		if _, err := ResolveBucket(rate); err == nil {
			t.Errorf("rate %d: expected error", rate)
		}
	}
}

func TestParseBucket(t *testing.T) {
	t.Parallel()
	for _, b := range Buckets() {
		got, ok := ParseBucket(string(b))
		if !ok || got != b {
			t.Errorf("ParseBucket(%q) = %q, %v", b, got, ok)
		}
	}
	for _, bad := range []string{"", "20-30", "100-", "0-100", "full"} {
		if _, ok := ParseBucket(bad); ok {
			t.Errorf("ParseBucket(%q) accepted", bad)
		}
	}
}
