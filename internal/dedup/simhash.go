package dedup

// SimHash returns a 64-bit fingerprint: bit i is set when the token hashes with bit i
// set outweigh those without.
func SimHash(tokens []string, hash func(string) uint64) uint64 {
	var weights [64]int
	for _, tok := range tokens {
		h := hash(tok)
		for i := 0; i < 64; i++ {
			if h&(1<<uint(i)) != 0 {
				weights[i]++
			} else {
				weights[i]--
			}
		}
	}
	var fp uint64
	for i, w := range weights {
		if w > 0 {
			fp |= 1 << uint(i)
		}
	}
	return fp
}

// SimHashBands splits a fingerprint into band keys tagged with the band index.
func SimHashBands(fp uint64, bands int) []uint64 {
	if bands <= 0 || 64%bands != 0 {
		bands = 1
	}
	width := 64 / bands
	mask := uint64(1)<<uint(width) - 1
	if width == 64 {
		mask = ^uint64(0)
	}
	keys := make([]uint64, bands)
	for b := 0; b < bands; b++ {
		v := (fp >> uint(b*width)) & mask
		keys[b] = uint64(b)<<56 ^ v
	}
	return keys
}

// Cosine returns the dot product of two unit vectors.
func Cosine(a, b []float32) float64 {
	var s float64
	for i := range a {
		if i >= len(b) {
			break
		}
		s += float64(a[i]) * float64(b[i])
	}
	return s
}
