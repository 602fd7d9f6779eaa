package config

import (
	"os"
	"strconv"
	"strings"
)

// Governance thresholds. The defaults mirror the product decisions that shipped;
// env overrides exist for tuning, not for per-tenant behavior.

// CannibalizationThreshold is the cosine similarity at or above which two pages
// on the same site are considered to be competing for the same intent.
//
// Set via env:
// - CANNIBALIZATION_THRESHOLD=0.85
func CannibalizationThreshold() float64 {
	if v := strings.TrimSpace(os.Getenv("CANNIBALIZATION_THRESHOLD")); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 && f <= 1 {
			return f
		}
	}
	return 0.85
}

// DecayThresholdDays is the age after which stale proposals and orphaned drafts
// are reclaimed by the decay sweeper.
//
// Set via env:
// - DECAY_THRESHOLD_DAYS=90
func DecayThresholdDays() int {
	if v := strings.TrimSpace(os.Getenv("DECAY_THRESHOLD_DAYS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return 90
}

// JobMaxRetries is the default generation retry budget per job.
//
// Set via env:
// - GENERATION_MAX_RETRIES=3
func JobMaxRetries() int {
	if v := strings.TrimSpace(os.Getenv("GENERATION_MAX_RETRIES")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return 3
}

// JobCostLimitUSD is the per-job spend ceiling across all model calls
// (generation + embeddings). Exceeding it forces the job to failed,
// independent of remaining retries.
//
// Set via env:
// - GENERATION_COST_LIMIT_USD=2.50
func JobCostLimitUSD() float64 {
	if v := strings.TrimSpace(os.Getenv("GENERATION_COST_LIMIT_USD")); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			return f
		}
	}
	return 2.50
}

// GenerationConcurrency bounds simultaneous generation jobs per deployment.
//
// Set via env:
// - GENERATION_CONCURRENCY=5
func GenerationConcurrency() int {
	if v := strings.TrimSpace(os.Getenv("GENERATION_CONCURRENCY")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return 5
}

// ReservationTTLMinutes is how long a content reservation blocks competing
// proposals for the same (site, intent, location) before expiring.
//
// Set via env:
// - RESERVATION_TTL_MINUTES=30
func ReservationTTLMinutes() int {
	if v := strings.TrimSpace(os.Getenv("RESERVATION_TTL_MINUTES")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return 30
}
