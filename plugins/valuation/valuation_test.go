package valuation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lmcdonald6/ATT-FIN-Real-Estate-AI-BOT/internal/capability"
)

func TestPredictDeterministic(t *testing.T) {
	m := &Model{}
	require.NoError(t, m.Init(context.Background(), capability.Env{}, nil))

	params := map[string]any{"sqft": 1500.0, "beds": 3.0, "baths": 2.0, "zip": "30301"}
	out1, err := m.Predict(context.Background(), params)
	require.NoError(t, err)
	out2, err := m.Predict(context.Background(), params)
	require.NoError(t, err)
	assert.Equal(t, out1["estimate"], out2["estimate"])
	assert.Greater(t, out1["estimate"].(float64), 0.0)
}

func TestPredictRequiresSqft(t *testing.T) {
	m := &Model{}
	require.NoError(t, m.Init(context.Background(), capability.Env{}, nil))

	_, err := m.Predict(context.Background(), map[string]any{"beds": 3})
	assert.Error(t, err)
}

func TestInitCustomRate(t *testing.T) {
	m := &Model{}
	require.NoError(t, m.Init(context.Background(), capability.Env{}, map[string]any{"base_rate_per_sqft": 200}))
	assert.Equal(t, 200.0, m.ratePerSqft)

	bad := &Model{}
	assert.Error(t, bad.Init(context.Background(), capability.Env{}, map[string]any{"base_rate_per_sqft": -1}))
}

func TestBiggerHouseCostsMore(t *testing.T) {
	m := &Model{}
	require.NoError(t, m.Init(context.Background(), capability.Env{}, nil))

	small, err := m.Predict(context.Background(), map[string]any{"sqft": 900.0, "zip": "30301"})
	require.NoError(t, err)
	big, err := m.Predict(context.Background(), map[string]any{"sqft": 2800.0, "zip": "30301"})
	require.NoError(t, err)
	assert.Greater(t, big["estimate"].(float64), small["estimate"].(float64))
}
