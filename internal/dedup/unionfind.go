package dedup

import "sort"

// UnionFind is a disjoint-set forest over document ids with union by rank and path
// compression. Add, Find and Union are its only mutation paths.
type UnionFind struct {
	parent map[int64]int64
	rank   map[int64]int
}

// NewUnionFind returns an empty forest.
func NewUnionFind() *UnionFind {
	return &UnionFind{parent: make(map[int64]int64), rank: make(map[int64]int)}
}

// Add inserts x as a singleton if it is not present.
func (u *UnionFind) Add(x int64) {
	if _, ok := u.parent[x]; !ok {
		u.parent[x] = x
	}
}

// Find returns the root of x, adding x if needed.
func (u *UnionFind) Find(x int64) int64 {
	u.Add(x)
	root := x
	for u.parent[root] != root {
		root = u.parent[root]
	}
	for u.parent[x] != root {
		next := u.parent[x]
		u.parent[x] = root
		x = next
	}
	return root
}

// Union merges the sets containing a and b.
func (u *UnionFind) Union(a, b int64) {
	ra, rb := u.Find(a), u.Find(b)
	if ra == rb {
		return
	}
	switch {
	case u.rank[ra] < u.rank[rb]:
		u.parent[ra] = rb
	case u.rank[ra] > u.rank[rb]:
		u.parent[rb] = ra
	default:
		u.parent[rb] = ra
		u.rank[ra]++
	}
}

// Components returns every set with at least minSize members. Members are sorted
// ascending and components are ordered by their smallest member.
func (u *UnionFind) Components(minSize int) [][]int64 {
	groups := make(map[int64][]int64)
	for x := range u.parent {
		r := u.Find(x)
		groups[r] = append(groups[r], x)
	}
	var out [][]int64
	for _, g := range groups {
		if len(g) < minSize {
			continue
		}
		sort.Slice(g, func(i, j int) bool { return g[i] < g[j] })
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i][0] < out[j][0] })
	return out
}

// Component is a duplicate group with the best similarity seen per member.
type Component struct {
	Members []int64
	Scores  map[int64]float64
}

// DefaultPrimary is the lowest member id.
func (c Component) DefaultPrimary() int64 {
	return c.Members[0]
}

// Contains reports whether id is a member.
func (c Component) Contains(id int64) bool {
	for _, m := range c.Members {
		if m == id {
			return true
		}
	}
	return false
}

// BuildComponents clusters accepted pairs into components of two or more documents.
func BuildComponents(pairs []Pair) []Component {
	uf := NewUnionFind()
	scores := make(map[int64]float64)
	for _, p := range pairs {
		uf.Union(p.A, p.B)
		scores[p.A] = max(scores[p.A], p.Score)
		scores[p.B] = max(scores[p.B], p.Score)
	}
	groups := uf.Components(2)
	out := make([]Component, 0, len(groups))
	for _, g := range groups {
		c := Component{Members: g, Scores: make(map[int64]float64, len(g))}
		for _, id := range g {
			c.Scores[id] = scores[id]
		}
		out = append(out, c)
	}
	return out
}
