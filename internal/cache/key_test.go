package cache

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeriveKeyDeterministic(t *testing.T) {
	a := DeriveKey("market", map[string]any{"zip": "30301", "beds": 3})
	b := DeriveKey("market", map[string]any{"beds": 3, "zip": "30301"})
	assert.Equal(t, a, b, "key must not depend on map iteration order")
	assert.True(t, strings.HasPrefix(a, "market:"))
}

func TestDeriveKeyDistinguishesParams(t *testing.T) {
	a := DeriveKey("market", map[string]any{"zip": "30301"})
	b := DeriveKey("market", map[string]any{"zip": "30302"})
	c := DeriveKey("listing", map[string]any{"zip": "30301"})
	assert.NotEqual(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestDeriveKeyEmptyParams(t *testing.T) {
	assert.Equal(t, "market", DeriveKey("market", nil))
	assert.Equal(t, "market", DeriveKey("market", map[string]any{}))
}
