package matrix

import (
	"math"
	"testing"
)

func TestVoltageRoundTrip(t *testing.T) {
	for _, x := range []float64{-1, -0.5, -0.123456, 0, 1e-9, 0.3, 0.999, 1} {
		expectEqual(t, VoltageToDigital(DigitalToVoltage(x)), x)
	}
	expectEqual(t, DigitalToVoltage(1), 4.0)
	expectEqual(t, DigitalToVoltage(-1), -4.0)
}

func TestPinGain(t *testing.T) {
	expectEqual(t, PinGain(100000, 100000), 1.0)
	expectNear(t, PinGain(100000, 2700), 37.037, 0.001)
	if !math.IsInf(PinGain(100000, 0), 1) {
		t.Errorf("zero pin resistance must yield +Inf")
	}
}

func TestVirtualEarthSumTwoSources(t *testing.T) {
	sources := []SourceContribution{
		{Voltage: 4, Resistance: 100e3},
		{Voltage: 4, Resistance: 100e3},
	}
	expectNear(t, VirtualEarthSum(sources, 100e3, 0), 8.0, 1e-12)
}

func TestVirtualEarthSumClamped(t *testing.T) {
	sources := []SourceContribution{
		{Voltage: 4, Resistance: 100e3},
		{Voltage: 4, Resistance: 100e3},
		{Voltage: 4, Resistance: 100e3},
	}
	v := VirtualEarthSum(sources, 100e3, 8)
	if v <= 0 || v >= 12 {
		t.Errorf("clamped three-source sum should be in (0, 12), got %v", v)
	}
}

func TestVirtualEarthSumSkipsShorts(t *testing.T) {
	sources := []SourceContribution{
		{Voltage: 4, Resistance: 0},
		{Voltage: 4, Resistance: math.Inf(1)},
		{Voltage: math.NaN(), Resistance: 100e3},
		{Voltage: 4, Resistance: 100e3},
	}
	v := VirtualEarthSum(sources, 100e3, 0)
	expectNear(t, v, 4.0, 1e-12)
	if math.IsNaN(v) || math.IsInf(v, 0) {
		t.Errorf("sum must stay finite, got %v", v)
	}
}

func TestSoftClipBounded(t *testing.T) {
	for _, v := range []float64{-1e9, -100, -8, -4, 0, 4, 8, 100, 1e9} {
		out := SoftClip(v, 8, 1)
		if math.Abs(out) > 4 {
			t.Errorf("softClip(%v) = %v exceeds ±maxV/2", v, out)
		}
		if math.IsNaN(out) {
			t.Errorf("softClip(%v) is NaN", v)
		}
	}
	// Monotonic and symmetric.
	prev := math.Inf(-1)
	for v := -20.0; v <= 20.0; v += 0.25 {
		out := SoftClip(v, 8, 1)
		if out < prev {
			t.Fatalf("softClip not monotonic at %v", v)
		}
		prev = out
		expectNear(t, SoftClip(-v, 8, 1), -out, 1e-12)
	}
}

func TestHybridClipCurve(t *testing.T) {
	const n = 2048
	curve := HybridClipCurve(n)
	expectEqual(t, len(curve), n)
	prev := math.Inf(-1)
	for i, y := range curve {
		if math.IsNaN(y) || math.IsInf(y, 0) {
			t.Fatalf("curve[%d] = %v is not finite", i, y)
		}
		if y < -1 || y > 1 {
			t.Fatalf("curve[%d] = %v escapes [-1, 1]", i, y)
		}
		if y < prev {
			t.Fatalf("curve not monotonically non-decreasing at %d", i)
		}
		prev = y
		// Antisymmetric about the midpoint.
		expectNear(t, curve[n-1-i], -y, 1e-12)
	}
	// Linear (ratio ≈ 1) below the threshold.
	for i := 0; i < n; i++ {
		x := -1.0 + 2.0*float64(i)/float64(n-1)
		if math.Abs(x) < hybridClipThreshold {
			expectNear(t, curve[i], x, 1e-12)
		}
	}
}

func TestShapeSample(t *testing.T) {
	curve := HybridClipCurve(2048)
	expectNear(t, ShapeSample(curve, 0), 0, 1e-9)
	expectNear(t, ShapeSample(curve, 0.5), 0.5, 1e-3)
	if ShapeSample(curve, 2) > 1 || ShapeSample(curve, -2) < -1 {
		t.Errorf("shaper output escapes [-1, 1] at the rails")
	}
}

func TestResistanceWithToleranceDeterministic(t *testing.T) {
	seed := ToleranceSeed(12, 34, PinWhite)
	a := ResistanceWithTolerance(100e3, 0.05, seed)
	b := ResistanceWithTolerance(100e3, 0.05, seed)
	expectEqual(t, a, b)
	if a < 95e3 || a > 105e3 {
		t.Errorf("jittered resistance %v outside ±5%% of nominal", a)
	}
	// Seed depends on the full connection identity.
	other := ResistanceWithTolerance(100e3, 0.05, ToleranceSeed(12, 35, PinWhite))
	if a == other {
		t.Errorf("neighbouring connections should not share jitter")
	}
	expectEqual(t, ToleranceSeed(12, 34, PinWhite), ToleranceSeed(12, 34, PinWhite))
}

func TestResistanceToleranceSpread(t *testing.T) {
	// The LCG only has to be roughly uniform: over many seeds both halves of
	// the tolerance window must be hit.
	low, high := 0, 0
	for i := 0; i < 500; i++ {
		r := ResistanceWithTolerance(100e3, 0.05, ToleranceSeed(i, i*7, PinWhite))
		if r < 100e3 {
			low++
		} else {
			high++
		}
	}
	if low < 100 || high < 100 {
		t.Errorf("jitter badly skewed: %d low / %d high", low, high)
	}
}

func TestPinCutoff(t *testing.T) {
	fc := PinCutoff(100e3, busCapacitance)
	expectNear(t, fc, 1.0/(2*math.Pi*100e3*busCapacitance), 1e-6)
	if !math.IsInf(PinCutoff(0, busCapacitance), 1) {
		t.Errorf("zero resistance has no corner")
	}
	expectEqual(t, EffectiveCutoff(60e3, 20e3), 20e3)
	expectEqual(t, EffectiveCutoff(5e3, 20e3), 5e3)
}

func TestThermalDrift(t *testing.T) {
	expectEqual(t, ThermalDrift(10, 0, 0.01), 1.0)
	expectEqual(t, ThermalDrift(10, 60, 0), 1.0)
	for tm := 0.0; tm < 120; tm += 1.3 {
		d := ThermalDrift(tm, 60, 0.01)
		if d < 0.99 || d > 1.01 {
			t.Errorf("drift %v outside magnitude bounds at t=%v", d, tm)
		}
	}
}
