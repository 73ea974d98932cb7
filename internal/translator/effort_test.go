package translator

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEffortFromBudget(t *testing.T) {
	cases := []struct {
		budget int64
		want   string
	}{
		{0, EffortLow},
		{1999, EffortLow},
		{2000, EffortMedium},
		{7999, EffortMedium},
		{8000, EffortHigh},
		{19999, EffortHigh},
		{20000, EffortXHigh},
		{100000, EffortXHigh},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, EffortFromBudget(tc.budget), "budget %d", tc.budget)
	}
}

func TestValidEffort(t *testing.T) {
	for _, e := range []string{EffortLow, EffortMedium, EffortHigh, EffortXHigh} {
		assert.True(t, ValidEffort(e), e)
	}
	assert.False(t, ValidEffort(""))
	assert.False(t, ValidEffort("maximum"))
	assert.False(t, ValidEffort("Low"))
}

func TestResolveEffort(t *testing.T) {
	assert.Equal(t, "high", ResolveEffort("high", "medium"))
	assert.Equal(t, "medium", ResolveEffort("", "medium"))
	assert.Equal(t, "medium", ResolveEffort("bogus", "medium"))
	assert.Equal(t, "", ResolveEffort("", ""))
}
