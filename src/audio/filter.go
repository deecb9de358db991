package audio

import (
	"math"

	"github.com/synthi-emu/engine/src/matrix"
)

// ----- Pin RC Filter ----- //

// onePole is the first-order lowpass every patch pin forms against the bus
// capacitance. One instance per live connection; coefficient derives from the
// connection's effective corner frequency.
type onePole struct {
	cutoff float64
	a      float64
	y      float64
}

func newOnePole(cutoff float64) *onePole {
	f := &onePole{}
	f.setCutoff(cutoff)
	return f
}

func (f *onePole) setCutoff(cutoff float64) {
	f.cutoff = cutoff
	if cutoff <= 0 || cutoff >= sampleRate/2 {
		f.a = 1
		return
	}
	// Impulse-invariant one-pole: a = 1 - e^(-2π·fc/fs).
	f.a = 1 - math.Exp(-2*math.Pi*cutoff/sampleRate)
}

func (f *onePole) process(x float64) float64 {
	f.y += f.a * (x - f.y)
	return f.y
}

// ----- Filter Bank ----- //

// filterBank holds the per-connection filter states. It reconciles against a
// new routing snapshot instead of rebuilding, so filter memory survives
// unrelated patch edits.
type filterBank struct {
	filters map[matrix.Coord]*onePole
}

func newFilterBank() *filterBank {
	return &filterBank{filters: map[matrix.Coord]*onePole{}}
}

func (b *filterBank) reconcile(r *matrix.Routing) {
	for coord := range b.filters {
		if _, ok := r.Conns[coord]; !ok {
			delete(b.filters, coord)
		}
	}
	for coord, cg := range r.Conns {
		if cg.Excluded || cg.Bypass {
			delete(b.filters, coord)
			continue
		}
		if f, ok := b.filters[coord]; ok {
			if f.cutoff != cg.CutoffHz {
				f.setCutoff(cg.CutoffHz)
			}
			continue
		}
		b.filters[coord] = newOnePole(cg.CutoffHz)
	}
}

// apply filters one contribution, bypassing when no filter node exists.
func (b *filterBank) apply(coord matrix.Coord, v float64) float64 {
	if f, ok := b.filters[coord]; ok {
		return f.process(v)
	}
	return v
}
