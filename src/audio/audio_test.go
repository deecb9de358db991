package audio

import (
	"fmt"
	"math"
	"strconv"
	"testing"

	"github.com/synthi-emu/engine/src/matrix"
)

func expectNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Errorf("expected no error, but got: %v", err)
	}
}

func expectError(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Errorf("expected an error, but got none")
	}
}

func newTestAudio(t *testing.T) *Audio {
	t.Helper()
	m := matrix.NewMatrix(matrix.DefaultBlueprint(), sampleRate)
	m.OnDiagnostic(func(string) {})
	a := newAudioWithoutDevice(m)
	t.Cleanup(func() { expectNoError(t, a.Close()) })
	return a
}

func findSourceRow(t *testing.T, a *Audio, want matrix.SourceDescriptor) int {
	t.Helper()
	for row, src := range a.Matrix.Mapping().SourceMap {
		if src == want {
			return row
		}
	}
	t.Fatalf("no row for source %+v", want)
	return -1
}

func findDestCol(t *testing.T, a *Audio, want matrix.DestDescriptor) int {
	t.Helper()
	for col, dst := range a.Matrix.Mapping().DestMap {
		if dst == want {
			return col
		}
	}
	t.Fatalf("no col for dest %+v", want)
	return -1
}

func pinCommand(row, col int, color string) []string {
	return []string{"set", "pin", strconv.Itoa(row), strconv.Itoa(col), color}
}

func TestRenderSilenceWhenUnpatched(t *testing.T) {
	a := newTestAudio(t)
	out := make([]byte, bufferSizeInBytes)
	_, err := a.Read(out)
	expectNoError(t, err)
	for i, b := range out {
		if b != 0 {
			t.Fatalf("expected silence, got byte %d at %d", b, i)
		}
	}
}

func TestRenderOscillatorToOutput(t *testing.T) {
	a := newTestAudio(t)
	row := findSourceRow(t, a, matrix.SourceDescriptor{Kind: matrix.SourceOscillatorChannel, Osc: 0, Channel: 0})
	col := findDestCol(t, a, matrix.DestDescriptor{Kind: matrix.DestOutputBus, Bus: 0})
	expectNoError(t, a.update(pinCommand(row, col, "grey")))
	expectNoError(t, a.update([]string{"set", "osc", "0", "freq", "440"}))

	out := make([]byte, bufferSizeInBytes)
	_, err := a.Read(out)
	expectNoError(t, err)
	silent := true
	for _, v := range a.state.out {
		if v != 0 {
			silent = false
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			t.Fatalf("non-finite output sample %v", v)
		}
	}
	if silent {
		t.Errorf("expected audible output with an oscillator patched to channel 0")
	}
}

func TestDialSilencesOutput(t *testing.T) {
	a := newTestAudio(t)
	row := findSourceRow(t, a, matrix.SourceDescriptor{Kind: matrix.SourceOscillatorChannel, Osc: 0, Channel: 0})
	col := findDestCol(t, a, matrix.DestDescriptor{Kind: matrix.DestOutputBus, Bus: 0})
	expectNoError(t, a.update(pinCommand(row, col, "grey")))
	expectNoError(t, a.update([]string{"set", "dial", "0", "0"}))

	out := make([]byte, bufferSizeInBytes)
	_, err := a.Read(out)
	expectNoError(t, err)
	for _, v := range a.state.out {
		if v != 0 {
			t.Fatalf("dial at zero must cut the channel, got sample %v", v)
		}
	}
}

func TestFeedbackLoopStaysBounded(t *testing.T) {
	a := newTestAudio(t)
	oscRow := findSourceRow(t, a, matrix.SourceDescriptor{Kind: matrix.SourceOscillatorChannel, Osc: 0, Channel: 0})
	fbRow := findSourceRow(t, a, matrix.SourceDescriptor{Kind: matrix.SourceOutputBus, Bus: 0})
	col := findDestCol(t, a, matrix.DestDescriptor{Kind: matrix.DestOutputBus, Bus: 0})
	expectNoError(t, a.update(pinCommand(oscRow, col, "red")))
	expectNoError(t, a.update(pinCommand(fbRow, col, "red")))

	out := make([]byte, bufferSizeInBytes)
	for cycle := 0; cycle < 20; cycle++ {
		_, err := a.Read(out)
		expectNoError(t, err)
	}
	for bus, v := range a.state.busOut {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			t.Fatalf("feedback drove channel %d to %v", bus, v)
		}
		if math.Abs(v) > 1.0 {
			t.Fatalf("shaper must bound channel %d below full scale, got %v", bus, v)
		}
	}
}

func TestClearedColumnDropsBusVoltage(t *testing.T) {
	a := newTestAudio(t)
	oscRow := findSourceRow(t, a, matrix.SourceDescriptor{Kind: matrix.SourceOscillatorChannel, Osc: 0, Channel: 0})
	joyRow := findSourceRow(t, a, matrix.SourceDescriptor{Kind: matrix.SourceJoystickAxis, Axis: 0})
	busCol := findDestCol(t, a, matrix.DestDescriptor{Kind: matrix.DestOutputBus, Bus: 0})
	cvCol := findDestCol(t, a, matrix.DestDescriptor{Kind: matrix.DestOutputLevelCV, Bus: 0})
	expectNoError(t, a.update(pinCommand(oscRow, busCol, "grey")))
	// The level-CV pin keeps the channel awake on its own.
	expectNoError(t, a.update(pinCommand(joyRow, cvCol, "grey")))

	out := make([]byte, bufferSizeInBytes)
	_, err := a.Read(out)
	expectNoError(t, err)
	if a.state.busV[0] == 0 {
		t.Fatal("expected a summing-node voltage while the signal pin is in")
	}

	expectNoError(t, a.update([]string{"clear", "pin", strconv.Itoa(oscRow), strconv.Itoa(busCol)}))
	_, err = a.Read(out)
	expectNoError(t, err)
	if a.state.busDormant[0] {
		t.Error("level-CV pin should keep the channel awake")
	}
	if a.state.busV[0] != 0 {
		t.Errorf("summing node must drop to 0 V once its column is empty, got %v", a.state.busV[0])
	}
}

func TestScopeSpectrumPeak(t *testing.T) {
	a := newTestAudio(t)
	row := findSourceRow(t, a, matrix.SourceDescriptor{Kind: matrix.SourceOscillatorChannel, Osc: 0, Channel: 1})
	col := findDestCol(t, a, matrix.DestDescriptor{Kind: matrix.DestOscilloscopeChannel, Channel: 0})
	expectNoError(t, a.update(pinCommand(row, col, "grey")))
	// 750 Hz lands on bin 32 of a 2048-point FFT at 48 kHz.
	expectNoError(t, a.update([]string{"set", "osc", "0", "freq", "750"}))

	out := make([]byte, bufferSizeInBytes)
	for cycle := 0; cycle < 8; cycle++ {
		_, err := a.Read(out)
		expectNoError(t, err)
	}
	spectrum := a.GetScopeSpectrum(0)
	if spectrum == nil {
		t.Fatal("expected a spectrum for scope channel 0")
	}
	peak := 0
	for i, v := range spectrum {
		if v > spectrum[peak] {
			peak = i
		}
	}
	want := int(750.0 / sampleRate * fftSize)
	if peak < want-2 || peak > want+2 {
		t.Errorf("expected spectral peak near bin %d, got %d", want, peak)
	}
}

func TestDormancyEventsReachReportQueue(t *testing.T) {
	a := newTestAudio(t)
	row := findSourceRow(t, a, matrix.SourceDescriptor{Kind: matrix.SourceOscillatorChannel, Osc: 0, Channel: 0})
	col := findDestCol(t, a, matrix.DestDescriptor{Kind: matrix.DestOutputBus, Bus: 0})
	expectNoError(t, a.update(pinCommand(row, col, "grey")))

	out := make([]byte, bufferSizeInBytes)
	_, err := a.Read(out)
	expectNoError(t, err)
	events := a.DrainDormancyEvents()
	woke := map[string]bool{}
	for _, e := range events {
		if !e.Dormant {
			woke[e.Module.String()] = true
		}
	}
	if !woke["osc-0"] {
		t.Errorf("expected osc-0 to wake, events: %v", events)
	}
	if !woke["output-channel-0"] {
		t.Errorf("expected output-channel-0 to wake, events: %v", events)
	}
}

func TestCommandValidation(t *testing.T) {
	a := newTestAudio(t)
	expectError(t, a.update([]string{"explode"}))
	expectError(t, a.update([]string{"set", "pin", "x", "0", "grey"}))
	expectError(t, a.update([]string{"set", "pin", "-1", "0", "grey"}))
	expectError(t, a.update([]string{"set", "osc", "99", "freq", "440"}))
	expectError(t, a.update([]string{"set", "dial", "8", "5"}))
	expectNoError(t, a.update([]string{"set", "joystick", "x", "0.5"}))
	expectNoError(t, a.update([]string{"set", "calibration", "summing.inputLimit", "6"}))
}

func TestBenchmark(t *testing.T) {
	times := 200
	a := newTestAudio(t)
	col := findDestCol(t, a, matrix.DestDescriptor{Kind: matrix.DestOutputBus, Bus: 0})
	for osc := 0; osc < matrix.NumOscillators; osc++ {
		row := findSourceRow(t, a, matrix.SourceDescriptor{Kind: matrix.SourceOscillatorChannel, Osc: osc, Channel: 0})
		expectNoError(t, a.update(pinCommand(row, col, "grey")))
	}
	out := make([]byte, bufferSizeInBytes)
	_, err := a.Read(out)
	expectNoError(t, err)
	start := now()
	for n := 0; n < times; n++ {
		_, err = a.Read(out)
		expectNoError(t, err)
	}
	end := now()
	averageProcessTime := (end - start) / float64(times) * 1000
	fmt.Printf("average process time: %.2fms\n", averageProcessTime)
}
