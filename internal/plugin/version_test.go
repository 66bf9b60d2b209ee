package plugin

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseVersion(t *testing.T) {
	v, err := ParseVersion("1.2.3")
	require.NoError(t, err)
	assert.Equal(t, Version{1, 2, 3}, v)

	for _, bad := range []string{"", "1.2", "1.2.3.4", "1.2.x", "-1.0.0", "v1.2.3"} {
		_, err := ParseVersion(bad)
		assert.Error(t, err, "input %q", bad)
	}
}

func TestConstraintMatches(t *testing.T) {
	tests := []struct {
		constraint string
		version    string
		want       bool
	}{
		{"1.0.0", "1.0.0", true},
		{"1.0.0", "1.0.1", false},
		{"=1.2.0", "1.2.0", true},
		{">=1.2.0", "1.2.0", true},
		{">=1.2.0", "1.1.9", false},
		{">1.2.0", "1.2.0", false},
		{">1.2.0", "1.2.1", true},
		{"<2.0.0", "1.9.9", true},
		{"<=2.0.0", "2.0.0", true},
		{"^1.4.0", "1.9.0", true},
		{"^1.4.0", "2.0.0", false},
		{"^1.4.0", "1.3.9", false},
		{"^0.3.0", "0.3.7", true},
		{"^0.3.0", "0.4.0", false},
		{"~2.1.0", "2.1.5", true},
		{"~2.1.0", "2.2.0", false},
		{">=1.2.0 <2.0.0", "1.5.0", true},
		{">=1.2.0 <2.0.0", "2.0.0", false},
		{">=1.2.0 <2.0.0", "1.1.0", false},
	}
	for _, tt := range tests {
		c, err := ParseConstraint(tt.constraint)
		require.NoError(t, err, "constraint %q", tt.constraint)
		v, err := ParseVersion(tt.version)
		require.NoError(t, err)
		assert.Equal(t, tt.want, c.Matches(v), "%q vs %s", tt.constraint, tt.version)
	}
}

func TestParseConstraintRejectsGarbage(t *testing.T) {
	for _, bad := range []string{"", ">=abc", "** 1.0.0", ">= 1.0.0 !!"} {
		_, err := ParseConstraint(bad)
		assert.Error(t, err, "input %q", bad)
	}
}
