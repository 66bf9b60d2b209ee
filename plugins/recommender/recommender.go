// Package recommender ranks listings by the gap between asking price and a
// simple per-square-foot value score. It depends on the listing source and
// valuation model plugins being enabled so orchestrated pipelines can chain
// the three capabilities.
package recommender

import (
	"context"
	"fmt"
	"sort"

	"github.com/lmcdonald6/ATT-FIN-Real-Estate-AI-BOT/internal/capability"
)

const defaultMaxResults = 5

func init() {
	capability.Register("recommender", func() capability.Implementation { return &Ranker{} })
}

// Ranker implements the recommend.properties capability.
type Ranker struct {
	maxResults int
}

func (r *Ranker) Init(_ context.Context, _ capability.Env, conf map[string]any) error {
	r.maxResults = defaultMaxResults
	switch v := conf["max_results"].(type) {
	case int:
		r.maxResults = v
	case float64:
		r.maxResults = int(v)
	}
	if r.maxResults <= 0 {
		return fmt.Errorf("max_results must be positive")
	}
	return nil
}

func (r *Ranker) Close(context.Context) error { return nil }

// Process ranks params["listings"] (the zillow_data_source output shape) by
// price per square foot, cheapest space first, and keeps the top results.
func (r *Ranker) Process(_ context.Context, params map[string]any) (map[string]any, error) {
	raw, ok := params["listings"].([]any)
	if !ok {
		// Accept the unwrapped Go shape as well, for in-process chaining.
		typed, ok2 := params["listings"].([]map[string]any)
		if !ok2 {
			return nil, fmt.Errorf("listings parameter is required")
		}
		raw = make([]any, len(typed))
		for i, l := range typed {
			raw[i] = l
		}
	}

	type scored struct {
		listing map[string]any
		perSqft float64
	}
	var candidates []scored
	for _, item := range raw {
		l, ok := item.(map[string]any)
		if !ok {
			continue
		}
		price := asFloat(l["price"])
		sqft := asFloat(l["sqft"])
		if price <= 0 || sqft <= 0 {
			continue
		}
		candidates = append(candidates, scored{listing: l, perSqft: price / sqft})
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("no scoreable listings")
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].perSqft != candidates[j].perSqft {
			return candidates[i].perSqft < candidates[j].perSqft
		}
		return fmt.Sprint(candidates[i].listing["id"]) < fmt.Sprint(candidates[j].listing["id"])
	})

	n := r.maxResults
	if n > len(candidates) {
		n = len(candidates)
	}
	out := make([]map[string]any, 0, n)
	for _, c := range candidates[:n] {
		rec := make(map[string]any, len(c.listing)+1)
		for k, v := range c.listing {
			rec[k] = v
		}
		rec["price_per_sqft"] = c.perSqft
		out = append(out, rec)
	}

	return map[string]any{
		"recommendations": out,
		"considered":      len(candidates),
	}, nil
}

func asFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	}
	return 0
}
