package offer

import "time"

// Offer is a classified promotional post. Immutable once stored.
type Offer struct {
	ID          int64     `json:"id"`
	Provider    string    `json:"provider"`
	RatePercent int       `json:"rate_percent"`
	Categories  []string  `json:"categories"`
	MediaRef    string    `json:"media_ref,omitempty"`
	Text        string    `json:"text"`
	CreatedAt   time.Time `json:"created_at"`
}
