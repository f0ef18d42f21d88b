package telegram

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/denis567denis/tg-bot-cache/internal/offer"
)

// Inline callback data is "ofr:<action>:<payload>". The prefix rejects
// callbacks from older message layouts after an upgrade.
const callbackPrefix = "ofr"

const (
	actAddBucket    = "ab"  // add flow: bucket chosen, show categories
	actSubscribe    = "sub" // add flow: category chosen, create subscription
	actUnsubscribe  = "del" // remove one subscription
	actBrowseBucket = "bb"  // browse flow: bucket chosen, show categories
	actBrowse       = "brw" // browse flow: category chosen, open carousel
	actNavigate     = "nav" // carousel prev/next
	actNoop         = "x"   // decorative button, answer and do nothing
)

func callbackData(action, payload string) string {
	if payload == "" {
		return callbackPrefix + ":" + action
	}
	return callbackPrefix + ":" + action + ":" + payload
}

func splitCallback(data string) (action, payload string, ok bool) {
	data = strings.TrimSpace(data)
	rest, found := strings.CutPrefix(data, callbackPrefix+":")
	if !found {
		return "", "", false
	}
	action, payload, _ = strings.Cut(rest, ":")
	return action, payload, action != ""
}

// packKey serializes a (category, bucket) pair for callback payloads.
// Category is free text, so it rides base64url; the dot never appears in
// that alphabet or in bucket labels.
func packKey(category string, bucket offer.RateBucket) string {
	return base64.RawURLEncoding.EncodeToString([]byte(category)) + "." + string(bucket)
}

func unpackKey(s string) (string, offer.RateBucket, error) {
	cat64, label, found := strings.Cut(s, ".")
	if !found {
		return "", "", fmt.Errorf("malformed key payload: %q", s)
	}
	cat, err := base64.RawURLEncoding.DecodeString(cat64)
	if err != nil {
		return "", "", fmt.Errorf("key payload category: %w", err)
	}
	bucket, ok := offer.ParseBucket(label)
	if !ok {
		return "", "", fmt.Errorf("key payload has unknown bucket: %q", label)
	}
	return string(cat), bucket, nil
}
