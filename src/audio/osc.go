package audio

import (
	"math"
	"math/rand"

	"github.com/synthi-emu/engine/src/matrix"
)

// ----- Wave Kind ----- //

type waveKind int

const (
	waveSine waveKind = iota
	waveTriangle
	waveSquare
	waveSaw
	waveSawRev
)

func waveKindFromString(s string) waveKind {
	switch s {
	case "sine":
		return waveSine
	case "triangle":
		return waveTriangle
	case "square":
		return waveSquare
	case "saw":
		return waveSaw
	case "saw-rev":
		return waveSawRev
	}
	return waveSine
}

// ----- Oscillator ----- //

// oscillator is one free-running voltage-controlled oscillator of the bank.
// Both output channels share a phase; channel 0 carries the shaped wave,
// channel 1 the sine output, like the hardware's paired jacks.
type oscillator struct {
	kind      waveKind
	baseFreq  float64 // Hz, front-panel dial
	phase01   float64
	pulseWide float64 // 0~1, duty cycle before PWM CV
	lastSync  float64 // previous sync-input voltage, for edge detection

	freqCV float64 // V, summed by the matrix
	pwmCV  float64 // V
	syncV  float64 // V
}

func newOscillator() *oscillator {
	return &oscillator{
		kind:      waveSine,
		baseFreq:  220,
		phase01:   rand.Float64(),
		pulseWide: 0.5,
	}
}

// step advances one sample and returns both channel outputs. keyCV is the
// global keyboard CV line; it reaches every oscillator without a matrix pin.
func (o *oscillator) step(voltsPerOctave, keyCV float64) (ch0, ch1 float64) {
	// A rising sync edge resets the phase, hard-syncing to the master.
	if o.lastSync <= 0 && o.syncV > 0 {
		o.phase01 = 0
	}
	o.lastSync = o.syncV

	freq := o.baseFreq
	if cv := o.freqCV + keyCV; cv != 0 && voltsPerOctave > 0 {
		freq *= math.Pow(2, cv/voltsPerOctave)
	}
	if freq > sampleRate/2 {
		freq = sampleRate / 2
	}

	p := o.phase01
	switch o.kind {
	case waveSine:
		ch0 = math.Sin(2 * math.Pi * p)
	case waveTriangle:
		if p < 0.5 {
			ch0 = p*4 - 1
		} else {
			ch0 = p*(-4) + 3
		}
	case waveSquare:
		width := o.pulseWide + matrix.VoltageToDigital(o.pwmCV)/2
		width = math.Max(0.05, math.Min(0.95, width))
		if p < width {
			ch0 = 1
		} else {
			ch0 = -1
		}
	case waveSaw:
		ch0 = p*2 - 1
	case waveSawRev:
		ch0 = p*(-2) + 1
	}
	ch1 = math.Sin(2 * math.Pi * p)

	o.phase01 += freq / float64(sampleRate)
	_, o.phase01 = math.Modf(o.phase01)
	return ch0, ch1
}

// ----- Noise ----- //

// noiseGen is a white-noise source with its own deterministic stream.
type noiseGen struct {
	rng *rand.Rand
}

func newNoiseGen(seed int64) *noiseGen {
	return &noiseGen{rng: rand.New(rand.NewSource(seed))}
}

func (n *noiseGen) step() float64 {
	return n.rng.Float64()*2 - 1
}

// ----- Joystick ----- //

// joystick holds the two control-stick axes as static digital values in
// [-1, 1], updated from the UI. Light smoothing keeps stick moves from
// stepping audibly when routed into audio paths.
type joystick struct {
	target [2]float64
	value  [2]float64
}

func (j *joystick) set(axis int, v float64) {
	if axis < 0 || axis > 1 {
		return
	}
	j.target[axis] = math.Max(-1, math.Min(1, v))
}

func (j *joystick) step() {
	for i := range j.value {
		j.value[i] += (j.target[i] - j.value[i]) * 0.002
	}
}
