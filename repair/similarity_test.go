package repair

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSimilarity(t *testing.T) {
	tests := []struct {
		a, b string
		want float64
	}{
		{"latte", "latte", 1},
		{"Latte ", "LATTE", 1},
		{"", "", 1},
		{"", "latte", 0},
		{"mocha", "  ", 0},
		{" ", "", 0},
		{"", "\t", 0},
		{"kitten", "sitting", 1 - 3.0/7.0},
		{"café", "cafe", 0.75},
		{"抹茶ラテ", "抹茶", 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.a+"|"+tt.b, func(t *testing.T) {
			assert.InDelta(t, tt.want, Similarity(tt.a, tt.b), 1e-9)
			assert.InDelta(t, Similarity(tt.a, tt.b), Similarity(tt.b, tt.a), 1e-9)
		})
	}
}

func TestSimilarityBounds(t *testing.T) {
	pairs := [][2]string{{"a", "b"}, {"abc", "xyz"}, {"short", "a much longer string"}, {"ñandú", "nandu"}}
	for _, p := range pairs {
		s := Similarity(p[0], p[1])
		assert.GreaterOrEqual(t, s, 0.0)
		assert.LessOrEqual(t, s, 1.0)
	}
}
