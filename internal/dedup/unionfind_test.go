package dedup

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnionFind_Components(t *testing.T) {
	uf := NewUnionFind()
	uf.Union(3, 2)
	uf.Union(1, 2)
	uf.Union(5, 4)
	uf.Add(9)

	assert.Equal(t, [][]int64{{1, 2, 3}, {4, 5}}, uf.Components(2))
	assert.Len(t, uf.Components(1), 3)
	assert.Equal(t, uf.Find(1), uf.Find(3))
	assert.NotEqual(t, uf.Find(1), uf.Find(4))
}

func TestBuildComponents(t *testing.T) {
	comps := BuildComponents([]Pair{
		{A: 1, B: 2, Score: 0.95},
		{A: 2, B: 3, Score: 0.97},
		{A: 7, B: 8, Score: 0.94},
	})
	require.Len(t, comps, 2)
	assert.Equal(t, []int64{1, 2, 3}, comps[0].Members)
	assert.Equal(t, int64(1), comps[0].DefaultPrimary())
	assert.InDelta(t, 0.97, comps[0].Scores[2], 1e-9)
	assert.True(t, comps[1].Contains(8))
	assert.False(t, comps[1].Contains(1))
}
