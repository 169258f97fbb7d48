package cache

import (
	"fmt"

	"github.com/google/uuid"
)

func ProgressKey(evaluationID uuid.UUID) string {
	return fmt.Sprintf("eval:progress:%s", evaluationID)
}

// EstimateKey is versioned by a fingerprint of the estimate's inputs so any
// change to them misses the cache.
func EstimateKey(evaluationID uuid.UUID, fingerprint string) string {
	return fmt.Sprintf("eval:estimate:%s:%s", evaluationID, fingerprint)
}

// RateLimitKey names the counter for one fixed window, identified by the
// unix second the window opened at.
func RateLimitKey(keyPrefix string, windowStart int64) string {
	return fmt.Sprintf("ratelimit:%s:%d", keyPrefix, windowStart)
}
