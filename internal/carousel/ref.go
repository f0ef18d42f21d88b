package carousel

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/denis567denis/tg-bot-cache/internal/offer"
)

// Ref is the navigation state packed into an inline button. It fully
// identifies a position, so any button press can be served statelessly.
type Ref struct {
	Category string
	Bucket   offer.RateBucket
	BatchID  string
	Index    int
}

func (r Ref) Key() offer.BatchKey {
	return offer.BatchKey{Category: r.Category, Bucket: r.Bucket, BatchID: r.BatchID}
}

// EncodeRef packs a Ref for callback data as "index.bucket.batch.category".
// Telegram caps callback data at 64 bytes, so the encoding is kept tight:
// UUID batch IDs collapse to 22 base64url chars of their 16 raw bytes, and
// the free-text category is base64url encoded (its alphabet has no dots).
func EncodeRef(r Ref) (string, error) {
	if r.BatchID == "" {
		return "", fmt.Errorf("carousel ref missing batch id")
	}
	id, err := encodeBatchID(r.BatchID)
	if err != nil {
		return "", err
	}
	cat := base64.RawURLEncoding.EncodeToString([]byte(r.Category))
	return strconv.Itoa(r.Index) + "." + string(r.Bucket) + "." + id + "." + cat, nil
}

// DecodeRef inverts EncodeRef. Errors mean a corrupted or foreign callback.
func DecodeRef(s string) (Ref, error) {
	parts := strings.SplitN(s, ".", 4)
	if len(parts) != 4 {
		return Ref{}, fmt.Errorf("malformed carousel ref: %q", s)
	}
	idx, err := strconv.Atoi(parts[0])
	if err != nil {
		return Ref{}, fmt.Errorf("carousel ref index: %w", err)
	}
	bucket, ok := offer.ParseBucket(parts[1])
	if !ok {
		return Ref{}, fmt.Errorf("carousel ref has unknown bucket: %q", parts[1])
	}
	batchID, err := decodeBatchID(parts[2])
	if err != nil {
		return Ref{}, err
	}
	cat, err := base64.RawURLEncoding.DecodeString(parts[3])
	if err != nil {
		return Ref{}, fmt.Errorf("carousel ref category: %w", err)
	}
	return Ref{Category: string(cat), Bucket: bucket, BatchID: batchID, Index: idx}, nil
}

func encodeBatchID(id string) (string, error) {
	if u, err := uuid.Parse(id); err == nil {
		return "u" + base64.RawURLEncoding.EncodeToString(u[:]), nil
	}
	return "s" + base64.RawURLEncoding.EncodeToString([]byte(id)), nil
}

func decodeBatchID(s string) (string, error) {
	if len(s) < 2 {
		return "", fmt.Errorf("carousel ref batch id too short: %q", s)
	}
	raw, err := base64.RawURLEncoding.DecodeString(s[1:])
	if err != nil {
		return "", fmt.Errorf("carousel ref batch id: %w", err)
	}
	switch s[0] {
	case 'u':
		u, err := uuid.FromBytes(raw)
		if err != nil {
			return "", fmt.Errorf("carousel ref batch id: %w", err)
		}
		return u.String(), nil
	case 's':
		return string(raw), nil
	default:
		return "", fmt.Errorf("carousel ref batch id marker: %q", s[0])
	}
}
