package puzzle

// mulberry32 is a small 32-bit mix/avalanche PRNG. It is not cryptographically
// secure; the puzzle only needs a reproducible stream per seed.
// Algorithm: https://gist.github.com/tommyettinger/46a874533244883189143505d203312c
type mulberry32 struct {
	state uint32
}

// newMulberry32 seeds the generator with the two's-complement bits of seed.
func newMulberry32(seed int32) *mulberry32 {
	return &mulberry32{state: uint32(seed)}
}

// Next returns the next random uint32
func (m *mulberry32) Next() uint32 {
	m.state += 0x6D2B79F5
	t := m.state
	t = (t ^ (t >> 15)) * (t | 1)
	t ^= t + (t^(t>>7))*(t|61)
	return t ^ (t >> 14)
}

// Float64 returns a random float64 in [0, 1)
func (m *mulberry32) Float64() float64 {
	return float64(m.Next()) / 4294967296.0
}

// Intn maps the next float onto [0, n).
func (m *mulberry32) Intn(n int) int {
	idx := int(m.Float64() * float64(n))
	if idx >= n {
		idx = n - 1
	}
	return idx
}

// Floats returns the first count floats of the stream for seed. Useful for
// checking a port of the generator against recorded vectors.
func Floats(seed int32, count int) []float64 {
	rng := newMulberry32(seed)
	out := make([]float64, count)
	for i := range out {
		out[i] = rng.Float64()
	}
	return out
}

// FloatSource returns the seed's stream as a function, for consumers that
// want the same reproducible draws outside puzzle generation.
func FloatSource(seed int32) func() float64 {
	return newMulberry32(seed).Float64
}
