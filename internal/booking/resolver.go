package booking

import (
	"context"
	"strings"
)

// Candidate is a selectable option such as a service or a specialist.
type Candidate struct {
	ID   int64
	Name string
}

// FallbackResolver picks a candidate name when literal matching fails.
type FallbackResolver interface {
	ResolveName(ctx context.Context, input string, candidates []string) (string, error)
}

// Resolver matches user input to candidates. Literal matching runs first and the
// fallback is consulted only when it finds nothing.
type Resolver struct {
	fallback FallbackResolver
}

func NewResolver(fallback FallbackResolver) *Resolver {
	return &Resolver{fallback: fallback}
}

// Match is the deterministic stage: case-insensitive exact match, then substring.
// Among several substring hits the first candidate wins.
func Match(input string, candidates []Candidate) (Candidate, bool) {
	in := strings.ToLower(strings.TrimSpace(input))
	if in == "" {
		return Candidate{}, false
	}
	for _, c := range candidates {
		if strings.ToLower(c.Name) == in {
			return c, true
		}
	}
	for _, c := range candidates {
		if strings.Contains(strings.ToLower(c.Name), in) {
			return c, true
		}
	}
	for _, c := range candidates {
		if name := strings.ToLower(c.Name); name != "" && strings.Contains(in, name) {
			return c, true
		}
	}
	return Candidate{}, false
}

// Resolve runs Match and then the fallback. A fallback answer outside the
// candidate list counts as no match.
func (r *Resolver) Resolve(ctx context.Context, input string, candidates []Candidate) (Candidate, bool, error) {
	if c, ok := Match(input, candidates); ok {
		return c, true, nil
	}
	if r == nil || r.fallback == nil || len(candidates) == 0 || strings.TrimSpace(input) == "" {
		return Candidate{}, false, nil
	}

	names := make([]string, len(candidates))
	for i, c := range candidates {
		names[i] = c.Name
	}
	name, err := r.fallback.ResolveName(ctx, input, names)
	if err != nil {
		return Candidate{}, false, err
	}
	for _, c := range candidates {
		if name != "" && strings.EqualFold(c.Name, name) {
			return c, true, nil
		}
	}
	return Candidate{}, false, nil
}
