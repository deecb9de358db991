package matrix

import "math"

// ----- VCA ----- //

// VCAParams models the level-control amplifier of one output channel: a
// logarithmic (dB-per-volt) gain law with a hard mechanical cutoff at the
// bottom of the dial and a saturating positive-CV region near the rails.
type VCAParams struct {
	VoltageAtMax    float64 // dial 10
	VoltageAtMin    float64 // dial 0
	DBPerVolt       float64
	CutoffVoltage   float64 // at or below: total cutoff
	LinearThreshold float64 // above: soft rail saturation
	HardLimit       float64 // V, edge of the saturation zone
	Softness        float64
}

// DefaultVCAParams are the measured constants of the emulated amplifier.
func DefaultVCAParams() VCAParams {
	return VCAParams{
		VoltageAtMax:    0,
		VoltageAtMin:    -12,
		DBPerVolt:       10,
		CutoffVoltage:   -12,
		LinearThreshold: 0,
		HardLimit:       3.0,
		Softness:        2.0,
	}
}

const dialEpsilon = 1e-9

// DialVoltage maps a dial position in [0,10] to the control voltage the fader
// taps. Out-of-range positions clamp to the ends of the track.
func (p VCAParams) DialVoltage(dial float64) float64 {
	if math.IsNaN(dial) {
		dial = 0
	}
	t := (10 - dial) / 10
	v := p.VoltageAtMax*(1-t) + p.VoltageAtMin*t
	lo, hi := p.VoltageAtMin, p.VoltageAtMax
	if lo > hi {
		lo, hi = hi, lo
	}
	return math.Max(lo, math.Min(hi, v))
}

// Gain computes the output gain for a dial position and an externally summed
// control voltage.
//
// The mechanical cutoff comes first: with the fader at the bottom the wiper
// disconnects the circuit, so CV has no path and the gain is exactly zero.
func (p VCAParams) Gain(dial, cv float64) float64 {
	if dial <= dialEpsilon {
		return 0
	}
	if math.IsNaN(cv) {
		cv = 0
	}
	return p.VoltageToGain(p.DialVoltage(dial) + cv)
}

// VoltageToGain converts a total control voltage to a linear gain. Below the
// cutoff voltage the amplifier is fully closed; up to the linear threshold it
// follows the dB-per-volt law; positive excess is compressed so the gain
// approaches but never reaches the rail-saturation ceiling.
func (p VCAParams) VoltageToGain(voltage float64) float64 {
	if math.IsNaN(voltage) || voltage <= p.CutoffVoltage {
		return 0
	}
	if voltage <= p.LinearThreshold {
		return math.Pow(10, voltage*p.DBPerVolt/20)
	}
	zone := p.HardLimit - p.LinearThreshold
	if zone <= 0 {
		return math.Pow(10, p.LinearThreshold*p.DBPerVolt/20)
	}
	excess := voltage - p.LinearThreshold
	ratio := excess / zone
	compressed := zone * ratio / (1 + ratio*p.Softness)
	saturated := p.LinearThreshold + compressed
	g := math.Pow(10, saturated*p.DBPerVolt/20)
	if math.IsNaN(g) || math.IsInf(g, 0) {
		return p.GainCeiling()
	}
	return g
}

// GainCeiling is the asymptotic bound of the positive-CV region.
func (p VCAParams) GainCeiling() float64 {
	if p.Softness <= 0 {
		return math.Pow(10, p.HardLimit*p.DBPerVolt/20)
	}
	zone := p.HardLimit - p.LinearThreshold
	return math.Pow(10, (p.LinearThreshold+zone/p.Softness)*p.DBPerVolt/20)
}
