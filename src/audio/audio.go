package audio

import (
	"context"
	"fmt"
	"io"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/hajimehoshi/oto"
	"github.com/synthi-emu/engine/src/matrix"
)

const (
	sampleRate      = 48000
	channelNum      = 2
	bitDepthInBytes = 2
	samplesPerCycle = 1024
	fftSize         = 2048 // multiple of samplesPerCycle
)
const bytesPerSample = bitDepthInBytes * channelNum
const bufferSizeInBytes = samplesPerCycle * bytesPerSample // should be >= 4096
const secPerSample = 1.0 / sampleRate
const busMixGain = 0.5 // headroom when several output channels land on one side

var fft = NewFFT(fftSize)

// ----- Utility ----- //

func now() float64 {
	return float64(time.Now().UnixNano()) / 1000 / 1000 / 1000
}

// ----- Changes ----- //

// Changes collects report keys whose UI-facing payload is stale.
type Changes struct {
	sync.Mutex
	dict map[string]struct{}
}

// Add ...
func (c *Changes) Add(key string) {
	c.Lock()
	c.dict[key] = struct{}{}
	c.Unlock()
}

// Has ...
func (c *Changes) Has(key string) bool {
	c.Lock()
	_, ok := c.dict[key]
	c.Unlock()
	return ok
}

// Delete ...
func (c *Changes) Delete(key string) {
	c.Lock()
	delete(c.dict, key)
	c.Unlock()
}

// ----- Dormancy Events ----- //

// DormancyEvent is a module state flip queued for the UI report stream.
type DormancyEvent struct {
	Module  matrix.ModuleID
	Dormant bool
}

// ----- State ----- //

type state struct {
	sync.Mutex
	oscs    []*oscillator
	noise   []*noiseGen
	joy     joystick
	inputs  []float64 // input-amp test levels injected by the UI
	keyCV   float64   // keyboard CV from MIDI, volts
	filters *filterBank

	lastRouting *matrix.Routing
	oscDormant  []bool
	busDormant  []bool

	busV     []float64 // per-bus summing-node voltage, last sample
	busCV    []float64 // per-bus level CV, last sample
	busOut   []float64 // per-bus digital output, last sample (feedback taps)
	scope    [][]float64
	scopePos int

	scratch []matrix.SourceContribution
	pos     int64
	out     []float64 // interleaved stereo accumulation per cycle
}

func newState() *state {
	s := &state{
		oscs:       make([]*oscillator, matrix.NumOscillators),
		noise:      make([]*noiseGen, matrix.NumNoiseGens),
		inputs:     make([]float64, matrix.NumInputAmps),
		filters:    newFilterBank(),
		oscDormant: make([]bool, matrix.NumOscillators),
		busDormant: make([]bool, matrix.NumOutputBuses),
		busV:       make([]float64, matrix.NumOutputBuses),
		busCV:      make([]float64, matrix.NumOutputBuses),
		busOut:     make([]float64, matrix.NumOutputBuses),
		scope:      make([][]float64, matrix.NumScopeChannels),
		scratch:    make([]matrix.SourceContribution, 0, 64),
		out:        make([]float64, samplesPerCycle*2),
	}
	for i := range s.oscs {
		s.oscs[i] = newOscillator()
	}
	for i := range s.noise {
		s.noise[i] = newNoiseGen(int64(i) + 1)
	}
	for i := range s.scope {
		s.scope[i] = make([]float64, fftSize)
	}
	return s
}

// ----- Audio ----- //

// Audio drives the matrix engine's routing through a real signal path and
// renders the patched panel to the audio device.
type Audio struct {
	ctx        context.Context
	otoContext *oto.Context
	CommandCh  chan []string
	Matrix     *matrix.Matrix
	state      *state
	Changes    *Changes
	dormancyCh chan DormancyEvent
	fftResult  []float64
}

var _ io.Reader = (*Audio)(nil)

// NewAudio opens the audio device and wires the engine callbacks.
func NewAudio(m *matrix.Matrix) (*Audio, error) {
	otoContext, err := oto.NewContext(sampleRate, channelNum, bitDepthInBytes, bufferSizeInBytes)
	if err != nil {
		return nil, err
	}
	a := newAudioWithoutDevice(m)
	a.otoContext = otoContext
	return a, nil
}

func newAudioWithoutDevice(m *matrix.Matrix) *Audio {
	commandCh := make(chan []string, 256)
	a := &Audio{
		ctx:        context.Background(),
		CommandCh:  commandCh,
		Matrix:     m,
		state:      newState(),
		Changes:    &Changes{dict: make(map[string]struct{})},
		dormancyCh: make(chan DormancyEvent, 256),
		fftResult:  make([]float64, fftSize),
	}
	m.OnDormancyChanged(func(id matrix.ModuleID, dormant bool) {
		select {
		case a.dormancyCh <- DormancyEvent{Module: id, Dormant: dormant}:
		default:
			log.Println("[WARN] dormancy event queue full, dropping")
		}
		a.Changes.Add("dormancy")
	})
	go processCommands(a, commandCh)
	return a
}

func processCommands(audio *Audio, commandCh <-chan []string) {
	for command := range commandCh {
		if err := audio.update(command); err != nil {
			log.Printf("command %v failed: %v\n", command, err)
		}
	}
	log.Println("processCommands() ended.")
}

// DrainDormancyEvents moves pending dormancy flips to the caller.
func (a *Audio) DrainDormancyEvents() []DormancyEvent {
	var events []DormancyEvent
	for {
		select {
		case e := <-a.dormancyCh:
			events = append(events, e)
		default:
			return events
		}
	}
}

// ----- Commands ----- //

func (a *Audio) update(command []string) error {
	switch command[0] {
	case "set":
		if len(command) < 2 {
			return fmt.Errorf("incomplete set command")
		}
		if err := a.updateSet(command[1:]); err != nil {
			return err
		}
		a.Changes.Add("data")
		return nil
	case "clear":
		if len(command) != 4 || command[1] != "pin" {
			return fmt.Errorf("invalid clear command %v", command)
		}
		row, err := strconv.Atoi(command[2])
		if err != nil {
			return err
		}
		col, err := strconv.Atoi(command[3])
		if err != nil {
			return err
		}
		a.Matrix.ClearConnection(row, col)
		a.Changes.Add("data")
		return nil
	case "blueprint":
		if len(command) != 2 {
			return fmt.Errorf("invalid blueprint command")
		}
		b, err := matrix.ParseBlueprint([]byte(command[1]))
		if err != nil {
			return err
		}
		a.Matrix.LoadBlueprint(b)
		a.Changes.Add("data")
		return nil
	case "load_calibration":
		if len(command) != 2 {
			return fmt.Errorf("invalid load_calibration command")
		}
		return a.Matrix.LoadCalibrationFile(command[1])
	default:
		return fmt.Errorf("unknown command %v", command[0])
	}
}

func (a *Audio) updateSet(command []string) error {
	switch command[0] {
	case "pin":
		if len(command) != 4 {
			return fmt.Errorf("invalid pin command %v", command)
		}
		row, err := strconv.Atoi(command[1])
		if err != nil {
			return err
		}
		col, err := strconv.Atoi(command[2])
		if err != nil {
			return err
		}
		return a.Matrix.SetConnection(row, col, matrix.ParsePinColor(command[3]))
	case "dial":
		if len(command) != 3 {
			return fmt.Errorf("invalid dial command %v", command)
		}
		bus, err := strconv.Atoi(command[1])
		if err != nil {
			return err
		}
		value, err := strconv.ParseFloat(command[2], 64)
		if err != nil {
			return err
		}
		return a.Matrix.SetDial(bus, value)
	case "osc":
		if len(command) != 4 {
			return fmt.Errorf("invalid osc command %v", command)
		}
		index, err := strconv.Atoi(command[1])
		if err != nil {
			return err
		}
		if index < 0 || index >= matrix.NumOscillators {
			return fmt.Errorf("oscillator %d out of range", index)
		}
		a.state.Lock()
		defer a.state.Unlock()
		o := a.state.oscs[index]
		switch command[2] {
		case "freq":
			value, err := strconv.ParseFloat(command[3], 64)
			if err != nil {
				return err
			}
			if value < 0.01 {
				value = 0.01
			}
			o.baseFreq = value
		case "kind":
			o.kind = waveKindFromString(command[3])
		case "pulse_width":
			value, err := strconv.ParseFloat(command[3], 64)
			if err != nil {
				return err
			}
			o.pulseWide = value
		default:
			return fmt.Errorf("unknown osc key %q", command[2])
		}
		return nil
	case "joystick":
		if len(command) != 3 {
			return fmt.Errorf("invalid joystick command %v", command)
		}
		axis := 0
		if command[1] == "y" {
			axis = 1
		}
		value, err := strconv.ParseFloat(command[2], 64)
		if err != nil {
			return err
		}
		a.state.Lock()
		a.state.joy.set(axis, value)
		a.state.Unlock()
		return nil
	case "input":
		if len(command) != 3 {
			return fmt.Errorf("invalid input command %v", command)
		}
		ch, err := strconv.Atoi(command[1])
		if err != nil {
			return err
		}
		if ch < 0 || ch >= matrix.NumInputAmps {
			return fmt.Errorf("input amp %d out of range", ch)
		}
		value, err := strconv.ParseFloat(command[2], 64)
		if err != nil {
			return err
		}
		a.state.Lock()
		a.state.inputs[ch] = value
		a.state.Unlock()
		return nil
	case "calibration":
		if len(command) != 3 {
			return fmt.Errorf("invalid calibration command %v", command)
		}
		value, err := strconv.ParseFloat(command[2], 64)
		if err != nil {
			return err
		}
		a.Matrix.ApplyCalibration(map[string]float64{command[1]: value})
		return nil
	default:
		return fmt.Errorf("unknown set target %q", command[0])
	}
}

// ----- Render ----- //

func (a *Audio) Read(buf []byte) (int, error) {
	select {
	case <-a.ctx.Done():
		log.Println("Read() interrupted.")
		return 0, io.EOF
	default:
		a.state.Lock()
		defer a.state.Unlock()
		// Drain pending edits exactly once per render-loop iteration.
		a.Matrix.Flush()
		r := a.Matrix.Routing()
		if r != a.state.lastRouting {
			a.state.filters.reconcile(r)
			a.refreshRouting(r)
			a.state.lastRouting = r
		}
		bufSamples := len(buf) / bytesPerSample
		if bufSamples > samplesPerCycle {
			bufSamples = samplesPerCycle
			buf = buf[:bufSamples*bytesPerSample]
		}
		a.render(r, bufSamples)
		for i := 0; i < bufSamples; i++ {
			writeSample(buf, i, 0, a.state.out[i*2])
			writeSample(buf, i, 1, a.state.out[i*2+1])
		}
		a.state.pos += int64(bufSamples)
		return len(buf), nil
	}
}

func (a *Audio) refreshRouting(r *matrix.Routing) {
	s := a.state
	for i := range s.oscDormant {
		s.oscDormant[i] = r.Dormant[matrix.ModuleID{Kind: matrix.ModOscillator, Index: i}]
	}
	for i := range s.busDormant {
		s.busDormant[i] = r.Dormant[matrix.ModuleID{Kind: matrix.ModOutputBus, Index: i}]
	}
	// Destination inputs only change through routeDest. A column that lost all
	// contributions would otherwise hold its last value as a frozen DC level.
	live := make(map[matrix.DestDescriptor]struct{}, len(r.ByDest))
	for _, contribs := range r.ByDest {
		live[contribs[0].Dest] = struct{}{}
	}
	for bus := 0; bus < matrix.NumOutputBuses; bus++ {
		if _, ok := live[matrix.DestDescriptor{Kind: matrix.DestOutputBus, Bus: bus}]; !ok {
			s.busV[bus] = 0
		}
		if _, ok := live[matrix.DestDescriptor{Kind: matrix.DestOutputLevelCV, Bus: bus}]; !ok {
			s.busCV[bus] = 0
		}
	}
	for osc := 0; osc < matrix.NumOscillators; osc++ {
		o := s.oscs[osc]
		if _, ok := live[matrix.DestDescriptor{Kind: matrix.DestOscFreqCV, Osc: osc}]; !ok {
			o.freqCV = 0
		}
		if _, ok := live[matrix.DestDescriptor{Kind: matrix.DestOscPWM, Osc: osc}]; !ok {
			o.pwmCV = 0
		}
		if _, ok := live[matrix.DestDescriptor{Kind: matrix.DestOscSync, Osc: osc}]; !ok {
			o.syncV = 0
		}
	}
}

func (a *Audio) render(r *matrix.Routing, n int) {
	s := a.state
	var oscOut [matrix.NumOscillators][2]float64
	var noiseOut [matrix.NumNoiseGens]float64
	for i := 0; i < n; i++ {
		t := float64(s.pos+int64(i)) * secPerSample
		drift := matrix.ThermalDrift(t, r.DriftPeriod, r.DriftMagnitude)
		s.joy.step()
		for ch := range s.scope {
			s.scope[ch][s.scopePos] = 0
		}
		for j, o := range s.oscs {
			if s.oscDormant[j] {
				oscOut[j][0], oscOut[j][1] = 0, 0
				continue // dormant oscillators are excluded from processing
			}
			oscOut[j][0], oscOut[j][1] = o.step(r.VoltsPerOctave, s.keyCV)
		}
		for j, ng := range s.noise {
			noiseOut[j] = ng.step()
		}

		// Virtual-earth summation per destination column.
		for _, contribs := range r.ByDest {
			dst := contribs[0].Dest
			s.scratch = s.scratch[:0]
			for _, cg := range contribs {
				sample := s.sourceSample(&oscOut, &noiseOut, cg.Source)
				v := a.state.filters.apply(cg.Coord, matrix.DigitalToVoltage(sample))
				s.scratch = append(s.scratch, matrix.SourceContribution{
					Voltage:    v,
					Resistance: cg.Resistance * drift,
				})
			}
			v := matrix.VirtualEarthSum(s.scratch, r.FeedbackResistance, r.InputLimit)
			s.routeDest(dst, v)
		}

		// Output channels: VCA, shaper, stereo mix.
		left, right := 0.0, 0.0
		for bus := 0; bus < matrix.NumOutputBuses; bus++ {
			if s.busDormant[bus] {
				s.busOut[bus] = 0
				continue
			}
			gain := r.VCA.Gain(r.BusDial[bus], s.busCV[bus])
			d := matrix.VoltageToDigital(s.busV[bus]) * gain
			d = matrix.ShapeSample(r.ShaperCurve, d)
			s.busOut[bus] = d
			if bus%2 == 0 {
				left += d * busMixGain
			} else {
				right += d * busMixGain
			}
		}
		s.out[i*2] = left
		s.out[i*2+1] = right
		s.scopePos = (s.scopePos + 1) % fftSize
	}
}

func (s *state) sourceSample(oscOut *[matrix.NumOscillators][2]float64, noiseOut *[matrix.NumNoiseGens]float64, src matrix.SourceDescriptor) float64 {
	switch src.Kind {
	case matrix.SourceOscillatorChannel:
		if src.Osc < 0 || src.Osc >= matrix.NumOscillators {
			return 0
		}
		ch := src.Channel
		if ch != 0 && ch != 1 {
			return 0
		}
		return oscOut[src.Osc][ch]
	case matrix.SourceNoiseGen:
		if src.Channel < 0 || src.Channel >= matrix.NumNoiseGens {
			return 0
		}
		return noiseOut[src.Channel]
	case matrix.SourceInputAmp:
		if src.Channel < 0 || src.Channel >= matrix.NumInputAmps {
			return 0
		}
		return s.inputs[src.Channel]
	case matrix.SourceJoystickAxis:
		if src.Axis < 0 || src.Axis > 1 {
			return 0
		}
		return s.joy.value[src.Axis]
	case matrix.SourceOutputBus:
		if src.Bus < 0 || src.Bus >= matrix.NumOutputBuses {
			return 0
		}
		return s.busOut[src.Bus] // previous sample, the feedback path has one sample of latency
	}
	return 0
}

func (s *state) routeDest(dst matrix.DestDescriptor, v float64) {
	switch dst.Kind {
	case matrix.DestOutputBus:
		if dst.Bus >= 0 && dst.Bus < matrix.NumOutputBuses {
			s.busV[dst.Bus] = v
		}
	case matrix.DestOutputLevelCV:
		if dst.Bus >= 0 && dst.Bus < matrix.NumOutputBuses {
			s.busCV[dst.Bus] = v
		}
	case matrix.DestOscFreqCV:
		if dst.Osc >= 0 && dst.Osc < matrix.NumOscillators {
			s.oscs[dst.Osc].freqCV = v
		}
	case matrix.DestOscPWM:
		if dst.Osc >= 0 && dst.Osc < matrix.NumOscillators {
			s.oscs[dst.Osc].pwmCV = v
		}
	case matrix.DestOscSync:
		if dst.Osc >= 0 && dst.Osc < matrix.NumOscillators {
			s.oscs[dst.Osc].syncV = v
		}
	case matrix.DestOscilloscopeChannel:
		if dst.Channel >= 0 && dst.Channel < matrix.NumScopeChannels {
			s.scope[dst.Channel][s.scopePos] = matrix.VoltageToDigital(v)
		}
	}
}

func writeSample(buf []byte, i, ch int, value float64) {
	if value > 1 {
		value = 1
	}
	if value < -1 {
		value = -1
	}
	const max = 32767
	b := int16(value * max)
	buf[bytesPerSample*i+2*ch] = byte(b)
	buf[bytesPerSample*i+2*ch+1] = byte(b >> 8)
}

// ----- Lifecycle ----- //

// Close ...
func (a *Audio) Close() error {
	log.Println("Closing Audio...")
	close(a.CommandCh)
	if a.otoContext == nil {
		return nil
	}
	return a.otoContext.Close()
}

// Start blocks rendering to the device until ctx is canceled.
func (a *Audio) Start(ctx context.Context) error {
	p := a.otoContext.NewPlayer()
	defer func() {
		if err := p.Close(); err != nil {
			log.Printf("error: %v", err)
		}
	}()
	a.ctx = ctx

	// block until cancel() called
	if _, err := io.CopyBuffer(p, a, make([]byte, bufferSizeInBytes)); err != nil {
		return err
	}
	log.Println("Start() ended.")
	return nil
}

// ----- Scope ----- //

// GetScopeSpectrum returns the magnitude spectrum of a scope channel for the
// UI display.
func (a *Audio) GetScopeSpectrum(ch int) []float64 {
	if ch < 0 || ch >= matrix.NumScopeChannels {
		return nil
	}
	a.state.Lock()
	offset := a.state.scopePos
	copy(a.fftResult, a.state.scope[ch][offset:])
	copy(a.fftResult[fftSize-offset:], a.state.scope[ch][:offset])
	a.state.Unlock()
	applyHan(a.fftResult)
	fft.CalcAbs(a.fftResult)
	for i, value := range a.fftResult {
		a.fftResult[i] = value * 2 / fftSize
	}
	return a.fftResult[:fftSize/2]
}

// GetBusGains returns the resting VCA gain of each output channel, for the
// UI level meters.
func (a *Audio) GetBusGains() []float64 {
	r := a.Matrix.Routing()
	if r == nil {
		return nil
	}
	gains := make([]float64, matrix.NumOutputBuses)
	for i := range gains {
		gains[i] = r.VCA.Gain(r.BusDial[i], 0)
	}
	return gains
}

// AddMidiEvent maps incoming note events to the keyboard CV line feeding the
// oscillator frequency inputs.
func (a *Audio) AddMidiEvent(data []byte) {
	if len(data) < 3 {
		return
	}
	a.state.Lock()
	defer a.state.Unlock()
	kind := data[0] >> 4
	if kind == 8 || (kind == 9 && data[2] == 0) {
		a.state.keyCV = 0
	} else if kind == 9 {
		// 1 V/octave around A3 = note 57.
		a.state.keyCV = float64(int(data[1])-57) / 12.0
	}
}
