// Package universe provides config-defined universes and a supplier chain
// that consults several universe sources in order.
package universe

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"analytics-enginev1/internal/model"
)

// Static serves universes defined in configuration.
type Static struct {
	sets map[string][]string
}

// NewStatic copies sets. Ids are matched case-insensitively; member order is kept.
func NewStatic(sets map[string][]string) *Static {
	s := &Static{sets: make(map[string][]string, len(sets))}
	for id, members := range sets {
		cp := make([]string, len(members))
		copy(cp, members)
		s.sets[strings.ToLower(id)] = cp
	}
	return s
}

// ListUniverse implements model.UniverseSupplier.
func (s *Static) ListUniverse(_ context.Context, id string) ([]string, error) {
	members, ok := s.sets[strings.ToLower(strings.TrimSpace(id))]
	if !ok || len(members) == 0 {
		return nil, fmt.Errorf("%w: unknown universe %q", model.ErrInvalidParameter, id)
	}
	out := make([]string, len(members))
	copy(out, members)
	return out, nil
}

// IDs returns the configured universe ids, sorted.
func (s *Static) IDs() []string {
	out := make([]string, 0, len(s.sets))
	for id := range s.sets {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Chain asks each supplier in turn. A supplier that does not know the
// universe (ErrInvalidParameter) passes to the next; the first answer wins.
// When none knows it, an upstream failure seen on the way is returned in
// preference to "unknown universe".
type Chain []model.UniverseSupplier

// ListUniverse implements model.UniverseSupplier.
func (c Chain) ListUniverse(ctx context.Context, id string) ([]string, error) {
	var upstream error
	for _, s := range c {
		if s == nil {
			continue
		}
		out, err := s.ListUniverse(ctx, id)
		if err == nil {
			return out, nil
		}
		if ctx.Err() != nil {
			return nil, err
		}
		if !errors.Is(err, model.ErrInvalidParameter) && upstream == nil {
			upstream = err
		}
	}
	if upstream != nil {
		return nil, upstream
	}
	return nil, fmt.Errorf("%w: unknown universe %q", model.ErrInvalidParameter, id)
}
