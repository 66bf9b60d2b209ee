// Package valuation is the built-in pricing model: a deterministic hedonic
// formula over square footage, rooms and ZIP, stand-in for a trained model.
package valuation

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"

	"github.com/lmcdonald6/ATT-FIN-Real-Estate-AI-BOT/internal/capability"
)

const defaultRatePerSqft = 140.0

func init() {
	capability.Register("valuation", func() capability.Implementation { return &Model{} })
}

// Model implements the valuation.estimate capability.
type Model struct {
	ratePerSqft float64
}

func (m *Model) Init(_ context.Context, _ capability.Env, conf map[string]any) error {
	m.ratePerSqft = defaultRatePerSqft
	switch v := conf["base_rate_per_sqft"].(type) {
	case float64:
		m.ratePerSqft = v
	case int:
		m.ratePerSqft = float64(v)
	}
	if m.ratePerSqft <= 0 {
		return fmt.Errorf("base_rate_per_sqft must be positive")
	}
	return nil
}

func (m *Model) Close(context.Context) error { return nil }

// Predict estimates a price for one property. Required params: sqft;
// beds, baths and zip refine the estimate.
func (m *Model) Predict(_ context.Context, params map[string]any) (map[string]any, error) {
	sqft := asFloat(params["sqft"])
	if sqft <= 0 {
		return nil, fmt.Errorf("sqft parameter is required")
	}

	beds := asFloat(params["beds"])
	baths := asFloat(params["baths"])
	zip, _ := params["zip"].(string)

	estimate := sqft * m.ratePerSqft
	estimate *= 1 + 0.04*beds + 0.03*baths
	estimate *= zipFactor(zip)

	return map[string]any{
		"estimate":   math.Round(estimate),
		"rate":       m.ratePerSqft,
		"zip_factor": zipFactor(zip),
	}, nil
}

// zipFactor maps a ZIP to a stable market multiplier in [0.85, 1.35].
func zipFactor(zip string) float64 {
	if zip == "" {
		return 1.0
	}
	h := fnv.New32a()
	h.Write([]byte(zip))
	return 0.85 + float64(h.Sum32()%51)/100
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
