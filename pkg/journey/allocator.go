package journey

import (
	"fmt"
	"hash/fnv"

	"github.com/dukex/itinera/pkg/models"
)

// AllocateVariant picks an A/B variant deterministically: the same
// (enrollmentID, nodeID) pair always lands on the same variant, so a
// resumed walk never re-randomizes an in-flight journey. The hash bucket
// maps onto cumulative weight ranges; weights are normalized to sum to
// 100 at save time and trusted here.
func AllocateVariant(enrollmentID, nodeID string, config *models.ABTestConfig) (string, error) {
	if config == nil || len(config.Variants) < 2 {
		return "", fmt.Errorf("node %s: %w", nodeID, models.ErrVariantConfig)
	}

	total := config.TotalWeight()
	if total <= 0 {
		return "", fmt.Errorf("node %s: total weight %d: %w", nodeID, total, models.ErrVariantConfig)
	}

	hasher := fnv.New64a()
	_, _ = hasher.Write([]byte(enrollmentID + ":" + nodeID))
	bucket := hasher.Sum64() % uint64(total)

	cumulative := 0
	for _, variant := range config.Variants {
		cumulative += variant.Weight
		if bucket < uint64(cumulative) {
			return variant.ID, nil
		}
	}

	return config.Variants[len(config.Variants)-1].ID, nil
}
