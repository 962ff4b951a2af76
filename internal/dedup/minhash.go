package dedup

import (
	"encoding/binary"
	"hash/fnv"
	"math"
	"math/bits"
	"strings"

	"github.com/hyperjump/shiryo/internal/embedding"
)

const mersenne61 = (1 << 61) - 1

// Shingles returns the hashed set of contiguous k-token sequences. Texts shorter than
// k tokens yield a single shingle of all tokens.
func Shingles(tokens []string, k int) map[uint64]struct{} {
	set := make(map[uint64]struct{})
	if len(tokens) == 0 {
		return set
	}
	if k <= 0 || len(tokens) < k {
		set[embedding.HashToken(strings.Join(tokens, " "))] = struct{}{}
		return set
	}
	for i := 0; i+k <= len(tokens); i++ {
		set[embedding.HashToken(strings.Join(tokens[i:i+k], " "))] = struct{}{}
	}
	return set
}

// Jaccard returns |a∩b| / |a∪b|.
func Jaccard(a, b map[uint64]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	if len(a) > len(b) {
		a, b = b, a
	}
	inter := 0
	for x := range a {
		if _, ok := b[x]; ok {
			inter++
		}
	}
	return float64(inter) / float64(len(a)+len(b)-inter)
}

// MinHasher computes MinHash signatures with universal hashes (a·x + b) mod (2^61 − 1).
type MinHasher struct {
	a, b  []uint64
	bands int
	rows  int
}

// NewMinHasher returns a hasher with perms permutations split into bands. The
// permutation coefficients are fixed so signatures are stable across runs.
func NewMinHasher(perms, bands int) *MinHasher {
	if bands <= 0 || perms%bands != 0 {
		bands = 1
	}
	m := &MinHasher{a: make([]uint64, perms), b: make([]uint64, perms), bands: bands, rows: perms / bands}
	seed := uint64(0x5348_4952_594f_3031)
	for i := 0; i < perms; i++ {
		seed, m.a[i] = splitmix64(seed)
		seed, m.b[i] = splitmix64(seed)
		m.a[i] = m.a[i]%(mersenne61-1) + 1
		m.b[i] %= mersenne61
	}
	return m
}

// Signature returns the per-permutation minimum over the shingle set.
func (m *MinHasher) Signature(shingles map[uint64]struct{}) []uint64 {
	sig := make([]uint64, len(m.a))
	for i := range sig {
		sig[i] = math.MaxUint64
	}
	for x := range shingles {
		x = reduce61(x)
		for i := range sig {
			if h := m.permute(i, x); h < sig[i] {
				sig[i] = h
			}
		}
	}
	return sig
}

// BandKeys hashes each band of the signature; two signatures sharing any key are candidates.
func (m *MinHasher) BandKeys(sig []uint64) []uint64 {
	keys := make([]uint64, m.bands)
	buf := make([]byte, 8)
	for band := 0; band < m.bands; band++ {
		h := fnv.New64a()
		binary.LittleEndian.PutUint64(buf, uint64(band))
		_, _ = h.Write(buf)
		for _, v := range sig[band*m.rows : (band+1)*m.rows] {
			binary.LittleEndian.PutUint64(buf, v)
			_, _ = h.Write(buf)
		}
		keys[band] = h.Sum64()
	}
	return keys
}

func (m *MinHasher) permute(i int, x uint64) uint64 {
	hi, lo := bits.Mul64(m.a[i], x)
	r := mulmod61(hi, lo) + m.b[i]
	if r >= mersenne61 {
		r -= mersenne61
	}
	return r
}

// mulmod61 reduces the 128-bit product hi·2^64 + lo modulo 2^61 − 1. Inputs below 2^61
// keep hi below 2^58.
func mulmod61(hi, lo uint64) uint64 {
	r := (lo & mersenne61) + (lo >> 61) + (hi << 3)
	return reduce61(r)
}

func reduce61(x uint64) uint64 {
	x = (x & mersenne61) + (x >> 61)
	if x >= mersenne61 {
		x -= mersenne61
	}
	return x
}

func splitmix64(state uint64) (uint64, uint64) {
	state += 0x9e3779b97f4a7c15
	z := state
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return state, z ^ (z >> 31)
}
