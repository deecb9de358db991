package matrix

import (
	"hash/fnv"
	"math"
)

// ----- Voltage Domain ----- //

// DigitalToVoltageScale maps full digital scale (±1) to the instrument's ±4V
// signal rails.
const DigitalToVoltageScale = 4.0

// DigitalToVoltage converts a [-1,+1] digital sample to volts.
func DigitalToVoltage(d float64) float64 {
	return d * DigitalToVoltageScale
}

// VoltageToDigital converts volts back to digital scale. Exact inverse of
// DigitalToVoltage.
func VoltageToDigital(v float64) float64 {
	return v / DigitalToVoltageScale
}

// ----- Pin Gain ----- //

// PinGain is the virtual-earth gain of one source resistor against the
// feedback resistor: Rf / Rpin. A zero pin resistance yields +Inf; callers
// must guard it, the orange short pin never enters the digital signal path.
func PinGain(rf, rpin float64) float64 {
	if rpin == 0 {
		return math.Inf(1)
	}
	return rf / rpin
}

// ----- Resistor Tolerance ----- //

// ToleranceSeed derives the tolerance-jitter seed from the stable identity of
// a connection, so recalling a patch always reproduces the same resistances
// no matter how connection ids happen to be numbered.
func ToleranceSeed(row, col int, color PinColor) uint32 {
	h := fnv.New32a()
	buf := [12]byte{}
	putInt32(buf[0:4], int32(row))
	putInt32(buf[4:8], int32(col))
	putInt32(buf[8:12], int32(color))
	h.Write(buf[:])
	return h.Sum32()
}

func putInt32(b []byte, v int32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

// ResistanceWithTolerance applies a deterministic pseudo-random multiplier in
// [1-tolerance, 1+tolerance] to the nominal value. A small LCG is enough
// here: it only has to be stable and roughly uniform, not strong.
func ResistanceWithTolerance(nominal, tolerance float64, seed uint32) float64 {
	if tolerance <= 0 || math.IsNaN(nominal) || math.IsInf(nominal, 0) {
		return nominal
	}
	s := seed
	for i := 0; i < 3; i++ { // decorrelate neighbouring seeds
		s = s*1664525 + 1013904223
	}
	u := float64(s>>8) / float64(1<<24) // [0,1)
	return nominal * (1 + tolerance*(2*u-1))
}

// ----- Virtual-Earth Summation ----- //

// SourceContribution is one resistor-weighted input to a summing node.
type SourceContribution struct {
	Voltage    float64
	Resistance float64 // Ω
}

// VirtualEarthSum computes the voltage of a summing node fed by several
// sources: Rf × Σ(Vi/Ri). Zero-resistance or non-finite sources are skipped
// rather than summed as infinite current. If inputLimit > 0 and the unclamped
// magnitude exceeds half of it, the result is soft clipped.
func VirtualEarthSum(sources []SourceContribution, rf, inputLimit float64) float64 {
	sum := 0.0
	for _, s := range sources {
		if s.Resistance <= 0 || math.IsInf(s.Resistance, 0) || math.IsNaN(s.Resistance) {
			continue
		}
		if math.IsNaN(s.Voltage) || math.IsInf(s.Voltage, 0) {
			continue
		}
		sum += s.Voltage / s.Resistance
	}
	v := rf * sum
	if inputLimit > 0 && math.Abs(v) > inputLimit/2 {
		v = SoftClip(v, inputLimit, 1)
	}
	if math.IsNaN(v) {
		return 0
	}
	return v
}

// SoftClip squashes v through a tanh curve bounded by ±maxV/2. Symmetric,
// monotonic, finite for any finite input.
func SoftClip(v, maxV, softness float64) float64 {
	half := maxV / 2
	return math.Tanh(v/half*softness) * half
}

// ----- Transfer Curves ----- //

// hybridClipThreshold is where the shaper leaves the linear region, as a
// fraction of full scale.
const hybridClipThreshold = 0.95

// HybridClipCurve generates the wave-shaper lookup table: n samples over
// [-1,+1], identity below the threshold, tanh saturation above it. The curve
// is antisymmetric, monotonically non-decreasing and bounded to [-1,+1]; it
// is regenerated only when calibration changes, never per audio sample.
func HybridClipCurve(n int) []float64 {
	if n < 2 {
		n = 2
	}
	curve := make([]float64, n)
	for i := 0; i < n; i++ {
		x := -1.0 + 2.0*float64(i)/float64(n-1)
		curve[i] = hybridClip(x)
	}
	return curve
}

func hybridClip(x float64) float64 {
	ax := math.Abs(x)
	if ax <= hybridClipThreshold {
		return x
	}
	head := 1 - hybridClipThreshold
	y := hybridClipThreshold + head*math.Tanh((ax-hybridClipThreshold)/head)
	if math.IsNaN(y) || y > 1 {
		y = 1
	}
	return math.Copysign(y, x)
}

// ShapeSample evaluates a generated curve at digital sample x with linear
// interpolation between table entries.
func ShapeSample(curve []float64, x float64) float64 {
	n := len(curve)
	if n == 0 {
		return x
	}
	if x <= -1 {
		return curve[0]
	}
	if x >= 1 {
		return curve[n-1]
	}
	pos := (x + 1) / 2 * float64(n-1)
	i := int(pos)
	if i >= n-1 {
		return curve[n-1]
	}
	frac := pos - float64(i)
	return curve[i]*(1-frac) + curve[i+1]*frac
}

// ----- Thermal Drift ----- //

// ThermalDrift returns the slow resistance drift multiplier at time t
// (seconds). Magnitude is a fraction, period in seconds; a zero period or
// magnitude disables drift.
func ThermalDrift(t, period, magnitude float64) float64 {
	if period <= 0 || magnitude <= 0 {
		return 1
	}
	return 1 + magnitude*math.Sin(2*math.Pi*t/period)
}
