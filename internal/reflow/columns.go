package reflow

import "math"

const kmeansMaxIter = 20

// splitColumns decides between one column, two columns and a main column with a sidebar.
// Columns are returned in reading order.
func (r *Reflower) splitColumns(blocks []LayoutBlock, pageWidth float64) (ColumnLayout, [][]LayoutBlock) {
	single := [][]LayoutBlock{blocks}
	if len(blocks) < r.cfg.MinBlocksForColumns {
		return LayoutSingle, single
	}
	left, right, ok := kmeans2(blocks)
	if !ok {
		return LayoutSingle, single
	}

	leftEdge := math.Inf(-1)
	for _, b := range left {
		leftEdge = max(leftEdge, b.X1)
	}
	rightEdge := math.Inf(1)
	for _, b := range right {
		rightEdge = min(rightEdge, b.X0)
	}
	if rightEdge-leftEdge <= r.cfg.GutterRatio*pageWidth {
		return LayoutSingle, single
	}

	leftArea, rightArea := totalArea(left), totalArea(right)
	large, small := left, right
	largeArea, smallArea := leftArea, rightArea
	if rightArea > leftArea {
		large, small = right, left
		largeArea, smallArea = rightArea, leftArea
	}
	if largeArea <= 0 {
		return LayoutSingle, single
	}
	if smallArea/largeArea >= r.cfg.SidebarAreaRatio && len(small) >= r.cfg.SidebarMinBlocks {
		return LayoutTwoColumn, [][]LayoutBlock{left, right}
	}
	return LayoutSidebar, [][]LayoutBlock{large, small}
}

// kmeans2 clusters blocks by x-center into a left and a right group.
func kmeans2(blocks []LayoutBlock) (left, right []LayoutBlock, ok bool) {
	xs := make([]float64, len(blocks))
	lo, hi := math.Inf(1), math.Inf(-1)
	for i, b := range blocks {
		xs[i] = b.CenterX()
		lo = min(lo, xs[i])
		hi = max(hi, xs[i])
	}
	if hi-lo < 1e-6 {
		return nil, nil, false
	}

	assign := make([]int, len(xs))
	for iter := 0; iter < kmeansMaxIter; iter++ {
		changed := iter == 0
		var sum [2]float64
		var count [2]int
		for i, x := range xs {
			c := 0
			if math.Abs(x-hi) < math.Abs(x-lo) {
				c = 1
			}
			if assign[i] != c {
				changed = true
			}
			assign[i] = c
			sum[c] += x
			count[c]++
		}
		if count[0] == 0 || count[1] == 0 {
			return nil, nil, false
		}
		lo, hi = sum[0]/float64(count[0]), sum[1]/float64(count[1])
		if !changed {
			break
		}
	}

	for i, b := range blocks {
		if assign[i] == 0 {
			left = append(left, b)
		} else {
			right = append(right, b)
		}
	}
	return left, right, true
}

func totalArea(blocks []LayoutBlock) float64 {
	var a float64
	for _, b := range blocks {
		a += b.Area()
	}
	return a
}
