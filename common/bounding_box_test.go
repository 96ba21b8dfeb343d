package common

import (
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBoxClamped(t *testing.T) {
	tests := []struct {
		name     string
		box      Box
		expected Box
	}{
		{"regular box unchanged", Box{10, 20, 110, 220}, Box{10, 20, 110, 220}},
		{"inverted x collapses", Box{50, 10, 20, 40}, Box{50, 10, 50, 40}},
		{"inverted y collapses", Box{5, 40, 25, 10}, Box{5, 40, 25, 40}},
		{"fully inverted", Box{9, 9, 1, 1}, Box{9, 9, 9, 9}},
		{"zero box", Box{}, Box{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.box.Clamped()
			assert.Equal(t, tt.expected, got)
			assert.GreaterOrEqual(t, got.Width(), 0.0)
			assert.GreaterOrEqual(t, got.Height(), 0.0)
		})
	}
}

func TestBoxToRect(t *testing.T) {
	assert.Equal(t, image.Rect(100, 101, 201, 301), Box{100.4, 100.6, 200.5, 300.5}.ToRect())
	assert.Equal(t, image.Rect(20, 10, 50, 40), Box{50, 10, 20, 40}.ToRect())
}
