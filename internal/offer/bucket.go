package offer

import "fmt"

// RateBucket names a discount-rate range used to group offers for threshold
// evaluation. The set is fixed and ordered; every ratePercent in [0,100] maps
// to exactly one bucket.
type RateBucket string

const (
	Bucket0to30   RateBucket = "0-30"
	Bucket30to70  RateBucket = "30-70"
	Bucket70to80  RateBucket = "70-80"
	Bucket80to100 RateBucket = "80-100"
	// BucketFull is the singleton "exactly 100" bucket. It wins over the
	// 80-100 range.
	BucketFull RateBucket = "100"
)

type bucketRange struct {
	bucket RateBucket
	low    int // inclusive
	high   int // exclusive
}

// Ordered range table. Evaluated first-match; BucketFull is checked before
// the table so 100 never falls into 80-100.
var bucketTable = []bucketRange{
	{Bucket0to30, 0, 30},
	{Bucket30to70, 30, 70},
	{Bucket70to80, 70, 80},
	{Bucket80to100, 80, 100},
}

// Buckets returns all buckets in display order (ranges ascending, then the
// exact-100 singleton).
func Buckets() []RateBucket {
	out := make([]RateBucket, 0, len(bucketTable)+1)
	for _, r := range bucketTable {
		out = append(out, r.bucket)
	}
	return append(out, BucketFull)
}

// ResolveBucket maps a rate percentage to its bucket.
// The mapping is total on [0,100]; anything outside that range is a caller bug.
func ResolveBucket(ratePercent int) (RateBucket, error) {
	if ratePercent < 0 || ratePercent > 100 {
		return "", fmt.Errorf("rate percent out of range: %d", ratePercent)
	}
	if ratePercent == 100 {
		return BucketFull, nil
	}
	for _, r := range bucketTable {
		if ratePercent >= r.low && ratePercent < r.high {
			return r.bucket, nil
		}
	}
	// Unreachable: the table covers [0,100).
	return "", fmt.Errorf("no bucket for rate percent %d", ratePercent)
}

// ParseBucket validates a bucket label received from untrusted input
// (callback data, stored subscriptions).
func ParseBucket(label string) (RateBucket, bool) {
	b := RateBucket(label)
	if b == BucketFull {
		return b, true
	}
	for _, r := range bucketTable {
		if r.bucket == b {
			return b, true
		}
	}
	return "", false
}

// Range returns the bucket's rate bounds. For range buckets the interval is
// [low, high); for BucketFull exact is true and low == high == 100.
func (b RateBucket) Range() (low, high int, exact bool) {
	if b == BucketFull {
		return 100, 100, true
	}
	for _, r := range bucketTable {
		if r.bucket == b {
			return r.low, r.high, false
		}
	}
	return 0, 0, false
}

// Contains reports whether ratePercent belongs to this bucket.
func (b RateBucket) Contains(ratePercent int) bool {
	low, high, exact := b.Range()
	if exact {
		return ratePercent == 100
	}
	return ratePercent >= low && ratePercent < high
}
