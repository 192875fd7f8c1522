// Package rng provides the uniform random source consumed by the raid
// engine. Any implementation of Source is substitutable; the seeded
// linear-congruential generator here keeps resolution reproducible for a
// given seed.
package rng

import "time"

// Source yields uniform floats in [0, 1).
type Source interface {
	Float64() float64
}

const (
	lcgMultiplier = 9301
	lcgIncrement  = 49297
	lcgModulus    = 233280
)

// LCG is a small seeded linear-congruential generator.
type LCG struct {
	state int64
}

// NewSeeded returns an LCG with an explicit seed, for deterministic runs.
func NewSeeded(seed int64) *LCG {
	if seed == 0 {
		seed = 1
	}
	return &LCG{state: seed}
}

// New returns an LCG seeded from the wall clock.
func New() *LCG {
	return NewSeeded(time.Now().UnixNano())
}

// Float64 returns the next value in [0, 1).
func (l *LCG) Float64() float64 {
	l.state = (l.state*lcgMultiplier + lcgIncrement) % lcgModulus
	if l.state < 0 {
		l.state += lcgModulus
	}
	return float64(l.state) / lcgModulus
}
