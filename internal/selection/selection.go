// Package selection resolves which dataset images take part in an evaluation.
package selection

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/google/uuid"

	"github.com/kiranshivaraju/visionbench/pkg/models"
)

// ErrEmptySelection is returned when no image survives resolution.
var ErrEmptySelection = errors.New("selection resolves to zero images")

// Result is a resolved selection.
type Result struct {
	IDs []uuid.UUID
	// Dropped counts manual ids that are not in the dataset.
	Dropped  int
	Warnings []string
}

// NewSeed draws a fresh sampling seed.
func NewSeed() int64 {
	return rand.Int64()
}

// Resolve applies cfg to the eligible dataset ids. The same ids, cfg and seed
// always produce the same ordered result. The seed is ignored by all and manual.
func Resolve(ids []uuid.UUID, cfg models.SelectionConfig, seed int64) (Result, error) {
	if err := cfg.Validate(); err != nil {
		return Result{}, err
	}

	var res Result
	switch cfg.Mode {
	case models.SelectionAll:
		res.IDs = append([]uuid.UUID(nil), ids...)
	case models.SelectionRandomCount:
		res.IDs = sample(ids, *cfg.Count, seed)
	case models.SelectionRandomPercent:
		res.IDs = sample(ids, PercentCount(len(ids), *cfg.Percent), seed)
	case models.SelectionManual:
		res = intersect(ids, cfg.ImageIDs)
	}

	if len(res.IDs) == 0 {
		return res, ErrEmptySelection
	}
	return res, nil
}

// PercentCount returns ceil(n*p/100) clamped to [1, n]. It is zero only when n is zero.
func PercentCount(n int, p float64) int {
	if n == 0 {
		return 0
	}
	k := int(math.Ceil(float64(n) * p / 100))
	return min(max(k, 1), n)
}

// Count returns how many images cfg selects from n eligible ones, without
// resolving manual ids.
func Count(n int, cfg models.SelectionConfig) int {
	switch cfg.Mode {
	case models.SelectionRandomCount:
		return min(*cfg.Count, n)
	case models.SelectionRandomPercent:
		return PercentCount(n, *cfg.Percent)
	case models.SelectionManual:
		return len(cfg.ImageIDs)
	default:
		return n
	}
}

// sample draws k ids uniformly without replacement with a partial Fisher-Yates shuffle.
func sample(ids []uuid.UUID, k int, seed int64) []uuid.UUID {
	pool := append([]uuid.UUID(nil), ids...)
	if k > len(pool) {
		k = len(pool)
	}
	r := rand.New(rand.NewPCG(uint64(seed), uint64(seed)^0x9e3779b97f4a7c15))
	for i := 0; i < k; i++ {
		j := i + r.IntN(len(pool)-i)
		pool[i], pool[j] = pool[j], pool[i]
	}
	return pool[:k]
}

func intersect(ids, wanted []uuid.UUID) Result {
	known := make(map[uuid.UUID]struct{}, len(ids))
	for _, id := range ids {
		known[id] = struct{}{}
	}

	var res Result
	seen := make(map[uuid.UUID]struct{}, len(wanted))
	for _, id := range wanted {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if _, ok := known[id]; !ok {
			res.Dropped++
			continue
		}
		res.IDs = append(res.IDs, id)
	}
	if res.Dropped > 0 {
		res.Warnings = append(res.Warnings,
			fmt.Sprintf("%d selected image(s) not found in dataset and were skipped", res.Dropped))
	}
	return res
}
