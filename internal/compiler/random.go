package compiler

import (
	"math"
	"math/rand/v2"
	"sync"
)

// Randomizer draws values for controls flagged randomize.
type Randomizer interface {
	// Float draws uniformly from [lo, hi].
	Float(lo, hi float64) float64
	// Int draws uniformly from the integers in [lo, hi].
	Int(lo, hi int64) int64
}

// PCGRandomizer draws from a PCG source. Safe for concurrent use.
type PCGRandomizer struct {
	mu sync.Mutex
	r  *rand.Rand
}

// NewPCGRandomizer seeds a randomizer. Equal seeds give equal sequences.
func NewPCGRandomizer(seed1, seed2 uint64) *PCGRandomizer {
	return &PCGRandomizer{r: rand.New(rand.NewPCG(seed1, seed2))}
}

// NewSystemRandomizer seeds from the runtime's random source.
func NewSystemRandomizer() *PCGRandomizer {
	return NewPCGRandomizer(rand.Uint64(), rand.Uint64())
}

// Float draws from [lo, hi]. hi <= lo yields lo.
func (p *PCGRandomizer) Float(lo, hi float64) float64 {
	if !(hi > lo) {
		return lo
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return lo + p.r.Float64()*(hi-lo)
}

// Int draws from [lo, hi] inclusive. hi <= lo yields lo.
func (p *PCGRandomizer) Int(lo, hi int64) int64 {
	if hi <= lo {
		return lo
	}
	span := uint64(hi - lo)
	p.mu.Lock()
	defer p.mu.Unlock()
	if span == math.MaxUint64 {
		return lo + int64(p.r.Uint64())
	}
	return lo + int64(p.r.Uint64N(span+1))
}
