// Package util provides shared utility functions.
package util

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Entity ID prefixes.
const (
	TaskPrefix      = "task-"
	ComponentPrefix = "comp-"
	BaselinePrefix  = "base-"
	ProjectPrefix   = "proj-"
)

const (
	// idSuffixLength is the number of hex chars after the prefix (e.g. "task-0a1b2c3d4e5f").
	idSuffixLength = 12
	// MaxAmbiguousCandidates is the max number of candidates to show in ambiguous error.
	MaxAmbiguousCandidates = 5
)

// Errors returned by ID resolution functions.
var (
	ErrAmbiguousID = errors.New("ambiguous ID prefix")
	ErrNotFound    = errors.New("not found")
)

// NewID returns a fresh identifier with the given prefix. IDs are random and
// never reused, including after soft deletion.
func NewID(prefix string) string {
	hex := strings.ReplaceAll(uuid.New().String(), "-", "")
	return prefix + hex[:idSuffixLength]
}

// IDPrefixResolver finds IDs of one entity kind by prefix.
// This is implemented by the memory store.
type IDPrefixResolver interface {
	FindIDsByPrefix(ctx context.Context, prefix string) ([]string, error)
}

// ResolveID resolves an ID or prefix to a full ID of the kind named by
// entityPrefix ("task-", "comp-", ...).
//
// Resolution rules:
//  1. A bare prefix without the entity prefix gets it prepended.
//  2. If exactly one ID matches, return it.
//  3. If multiple match, return ErrAmbiguousID with candidates.
//  4. If none match, return ErrNotFound.
func ResolveID(ctx context.Context, resolver IDPrefixResolver, entityPrefix, idOrPrefix string) (string, error) {
	entityType := strings.TrimSuffix(entityPrefix, "-")
	if idOrPrefix == "" {
		return "", fmt.Errorf("%s ID: %w", entityType, ErrNotFound)
	}

	normalized := idOrPrefix
	if !strings.HasPrefix(normalized, entityPrefix) {
		normalized = entityPrefix + normalized
	}

	candidates, err := resolver.FindIDsByPrefix(ctx, normalized)
	if err != nil {
		return "", fmt.Errorf("find %s IDs: %w", entityType, err)
	}

	return resolveFromCandidates(normalized, candidates, entityType)
}

// resolveFromCandidates handles the common resolution logic.
func resolveFromCandidates(prefix string, candidates []string, entityType string) (string, error) {
	switch len(candidates) {
	case 0:
		return "", fmt.Errorf("%s with prefix %q: %w", entityType, prefix, ErrNotFound)
	case 1:
		return candidates[0], nil
	default:
		shown := candidates
		if len(shown) > MaxAmbiguousCandidates {
			shown = shown[:MaxAmbiguousCandidates]
		}
		return "", fmt.Errorf("%w: prefix %q matches %d %ss: %v",
			ErrAmbiguousID, prefix, len(candidates), entityType, shown)
	}
}
