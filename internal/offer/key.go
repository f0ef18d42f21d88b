package offer

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// BatchKey identifies one snapshotted batch of offers. BatchID is unique per
// trigger, so a key is never reused.
type BatchKey struct {
	Category string     `json:"c"`
	Bucket   RateBucket `json:"b"`
	BatchID  string     `json:"id"`
}

// CacheKey serializes the composite key for the snapshot cache.
// Category is free text (may contain any delimiter), so it is base64url
// encoded; bucket labels and batch IDs use a controlled charset.
func (k BatchKey) CacheKey() string {
	cat := base64.RawURLEncoding.EncodeToString([]byte(k.Category))
	return "offers:" + cat + ":" + string(k.Bucket) + ":" + k.BatchID
}

// ParseCacheKey inverts CacheKey.
func ParseCacheKey(s string) (BatchKey, error) {
	rest, ok := strings.CutPrefix(s, "offers:")
	if !ok {
		return BatchKey{}, fmt.Errorf("not a snapshot key: %q", s)
	}
	parts := strings.SplitN(rest, ":", 3)
	if len(parts) != 3 {
		return BatchKey{}, fmt.Errorf("malformed snapshot key: %q", s)
	}
	cat, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return BatchKey{}, fmt.Errorf("malformed snapshot key category: %w", err)
	}
	bucket, ok := ParseBucket(parts[1])
	if !ok {
		return BatchKey{}, fmt.Errorf("unknown bucket in snapshot key: %q", parts[1])
	}
	return BatchKey{Category: string(cat), Bucket: bucket, BatchID: parts[2]}, nil
}
