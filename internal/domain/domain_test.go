package domain_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/victornm/discernment/internal/domain"
)

func TestTask_IsCorrect(t *testing.T) {
	task := domain.Task{
		Options: []string{"Cause", "Effect", "  Correlation "},
		Answer:  "correlation",
	}

	tests := map[string]struct {
		choice int
		want   bool
	}{
		"matching option is compared normalized": {choice: 2, want: true},
		"other option is incorrect":              {choice: 0, want: false},
		"negative index is incorrect":            {choice: -1, want: false},
		"index past the end is incorrect":        {choice: 3, want: false},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tt.want, task.IsCorrect(tt.choice))
		})
	}
}

func TestTask_Resolve(t *testing.T) {
	task := domain.Task{Options: []string{"Hypothesis", "Fact", "Cause"}}

	i, ok := task.Resolve("  FACT ")
	assert.True(t, ok)
	assert.Equal(t, 1, i)

	_, ok = task.Resolve("opinion")
	assert.False(t, ok)

	_, ok = task.Resolve("   ")
	assert.False(t, ok)
}

func TestAccuracy(t *testing.T) {
	assert.Equal(t, "66.67", domain.Accuracy(2, 3).StringFixed(2))
	assert.Equal(t, "100.00", domain.Accuracy(3, 3).StringFixed(2))
	assert.True(t, domain.Accuracy(0, 0).IsZero())
}
