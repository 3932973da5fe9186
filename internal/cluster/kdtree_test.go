package cluster

import (
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
)

func bruteRange(xs, ys []float64, minX, minY, maxX, maxY float64) []int {
	var out []int
	for i := range xs {
		if xs[i] >= minX && xs[i] <= maxX && ys[i] >= minY && ys[i] <= maxY {
			out = append(out, i)
		}
	}
	return out
}

func TestKDTreeMatchesBruteForce(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	n := 1000
	xs := make([]float64, n)
	ys := make([]float64, n)
	for i := 0; i < n; i++ {
		xs[i] = rng.Float64()
		ys[i] = rng.Float64()
	}

	tree := NewKDTree(xs, ys, 8)
	assert.Equal(t, n, tree.Len())

	got := tree.Range(0.2, 0.3, 0.5, 0.6)
	sort.Ints(got)
	assert.Equal(t, bruteRange(xs, ys, 0.2, 0.3, 0.5, 0.6), got)

	within := tree.Within(0.5, 0.5, 0.1)
	for _, id := range within {
		assert.LessOrEqual(t, sqDist(xs[id], ys[id], 0.5, 0.5), 0.01)
	}
	expected := 0
	for i := range xs {
		if sqDist(xs[i], ys[i], 0.5, 0.5) <= 0.01 {
			expected++
		}
	}
	assert.Len(t, within, expected)
}

func TestKDTreeEmpty(t *testing.T) {
	tree := NewKDTree(nil, nil, 0)
	assert.Empty(t, tree.Range(0, 0, 1, 1))
	assert.Empty(t, tree.Within(0.5, 0.5, 1))
}
