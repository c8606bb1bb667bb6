package cache

import (
	"context"
	"encoding/json"
	"sort"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/opensource-finance/harrier/internal/domain"
)

// HistoryHash fingerprints a card history independent of record order.
func HistoryHash(cards []domain.UserCard) uint64 {
	sorted := append([]domain.UserCard(nil), cards...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	d := xxhash.New()
	for _, c := range sorted {
		writeField(d, c.ID)
		writeField(d, c.ProductID)
		writeField(d, c.Issuer)
		writeField(d, timeField(&c.OpenDate))
		writeField(d, timeField(c.ClosedDate))
		writeField(d, timeField(c.BonusReceivedDate))
		writeField(d, strconv.FormatBool(c.IsBusiness))
		writeField(d, c.ProductFamily)
		writeField(d, c.ProductChangedFromID)
		_, _ = d.Write([]byte{'\n'})
	}
	return d.Sum64()
}

func writeField(d *xxhash.Digest, s string) {
	_, _ = d.WriteString(s)
	_, _ = d.Write([]byte{0})
}

func timeField(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// VerdictKey builds the memoisation key for an eligibility verdict. Any
// change to the product, the history, the catalog or the as-of date yields a
// different key, so entries never need explicit invalidation.
func VerdictKey(productID string, cards []domain.UserCard, catalogVersion string, asOf time.Time) string {
	return "verdict:" + productID +
		":" + strconv.FormatUint(HistoryHash(cards), 16) +
		":" + catalogVersion +
		":" + asOf.UTC().Format(time.RFC3339)
}

// GetVerdict retrieves a memoised verdict. Returns nil, nil on a miss.
func GetVerdict(ctx context.Context, c domain.Cache, userID, key string) (*domain.EligibilityVerdict, error) {
	data, err := c.Get(ctx, userID, key)
	if err != nil || data == nil {
		return nil, err
	}

	var v domain.EligibilityVerdict
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// SetVerdict memoises a verdict.
func SetVerdict(ctx context.Context, c domain.Cache, userID, key string, v *domain.EligibilityVerdict, ttl time.Duration) error {
	bytes, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.Set(ctx, userID, key, bytes, ttl)
}
