package changes

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"CatalogHarvester/internal/domain"
)

// ContentHash digests the canonical JSON form of a normalized record. The
// content_hash field itself is excluded.
func ContentHash(ds domain.CanonicalDataset) (string, error) {
	ds.ContentHash = ""
	ds.Extras = ds.Extras.Remove(domain.ExtraContentHash)

	raw, err := json.Marshal(ds)
	if err != nil {
		return "", fmt.Errorf("marshal record %s: %w", ds.ID, err)
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}

// EnsureHash fills ds.ContentHash unless the normalizer already set one.
func EnsureHash(ds *domain.CanonicalDataset) error {
	if ds.ContentHash != "" {
		return nil
	}
	hash, err := ContentHash(*ds)
	if err != nil {
		return err
	}
	ds.ContentHash = hash
	return nil
}
