package verification

import (
	"context"
	"log/slog"
)

// HashRegistry looks up prior use of a screenshot fingerprint
type HashRegistry interface {
	// PaymentHashExists reports whether any registration already carries hash
	PaymentHashExists(ctx context.Context, hash string) (bool, error)
}

// RegistryClient queries the shared registry during verification.
// Lookup errors are logged and treated as "not a duplicate" so a store outage
// does not block registration; submission re-checks fail-closed.
type RegistryClient struct {
	registry HashRegistry
}

// NewRegistryClient wraps a HashRegistry
func NewRegistryClient(registry HashRegistry) *RegistryClient {
	return &RegistryClient{registry: registry}
}

// IsDuplicate reports whether hash was already used by another registrant
func (c *RegistryClient) IsDuplicate(ctx context.Context, hash string) bool {
	if c == nil || c.registry == nil {
		return false
	}
	found, err := c.registry.PaymentHashExists(ctx, hash)
	if err != nil {
		slog.Error("Duplicate registry lookup failed, treating as not found",
			"image_hash", hash,
			"error", err,
		)
		return false
	}
	return found
}
