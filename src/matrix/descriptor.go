package matrix

import "fmt"

// ----- Source Kind ----- //

// SourceKind discriminates what a matrix row carries into the bus.
type SourceKind int

const (
	SourceNone SourceKind = iota
	SourceInputAmp
	SourceNoiseGen
	SourceOscillatorChannel
	SourceJoystickAxis
	SourceOutputBus // feedback tap from an output channel
)

func sourceKindFromString(s string) SourceKind {
	switch s {
	case "inputAmp":
		return SourceInputAmp
	case "noiseGen":
		return SourceNoiseGen
	case "oscillatorChannel":
		return SourceOscillatorChannel
	case "joystickAxis":
		return SourceJoystickAxis
	case "outputBus":
		return SourceOutputBus
	}
	return SourceNone
}

// ----- Dest Kind ----- //

// DestKind discriminates what a matrix column feeds.
type DestKind int

const (
	DestNone DestKind = iota
	DestOutputBus
	DestOscilloscopeChannel
	DestOscSync
	DestOscPWM
	DestOscFreqCV
	DestOutputLevelCV
)

func destKindFromString(s string) DestKind {
	switch s {
	case "outputBus":
		return DestOutputBus
	case "oscilloscopeChannel":
		return DestOscilloscopeChannel
	case "oscSync":
		return DestOscSync
	case "oscPWM":
		return DestOscPWM
	case "oscFreqCV":
		return DestOscFreqCV
	case "outputLevelCV":
		return DestOutputLevelCV
	}
	return DestNone
}

// ----- Descriptors ----- //

// SourceDescriptor is the tagged variant stored per matrix row. Which fields
// are meaningful depends on Kind: Osc/Channel for oscillator channels, Channel
// for input amps and noise, Axis for the joystick, Bus for feedback taps.
type SourceDescriptor struct {
	Kind    SourceKind
	Channel int
	Osc     int
	Axis    int
	Bus     int
}

// DestDescriptor is the tagged variant stored per matrix column. Bus for
// output buses and level CV, Channel for scope channels, Osc for the
// oscillator CV inputs.
type DestDescriptor struct {
	Kind    DestKind
	Bus     int
	Channel int
	Osc     int
}

// valid reports whether the descriptor addresses a module instance that
// exists on the fixed banks. Blueprints are external input; their indices are
// range-checked once when a mapping is installed, never at lookup time.
func (s SourceDescriptor) valid() bool {
	switch s.Kind {
	case SourceInputAmp:
		return s.Channel >= 0 && s.Channel < NumInputAmps
	case SourceNoiseGen:
		return s.Channel >= 0 && s.Channel < NumNoiseGens
	case SourceOscillatorChannel:
		return s.Osc >= 0 && s.Osc < NumOscillators &&
			s.Channel >= 0 && s.Channel < NumOscChannels
	case SourceJoystickAxis:
		return s.Axis == 0 || s.Axis == 1
	case SourceOutputBus:
		return s.Bus >= 0 && s.Bus < NumOutputBuses
	}
	return false
}

func (d DestDescriptor) valid() bool {
	switch d.Kind {
	case DestOutputBus, DestOutputLevelCV:
		return d.Bus >= 0 && d.Bus < NumOutputBuses
	case DestOscilloscopeChannel:
		return d.Channel >= 0 && d.Channel < NumScopeChannels
	case DestOscSync, DestOscPWM, DestOscFreqCV:
		return d.Osc >= 0 && d.Osc < NumOscillators
	}
	return false
}

// ----- Module Handles ----- //

// ModuleKind discriminates the logical processing modules the dormancy
// manager tracks. Resolved once at compile time, never re-parsed from strings.
type ModuleKind int

const (
	ModOscillator ModuleKind = iota
	ModNoise
	ModInputAmp
	ModJoystick
	ModOutputBus
	ModScope
)

// ModuleID is a typed module handle: a kind plus a per-kind instance index.
type ModuleID struct {
	Kind  ModuleKind
	Index int
}

func (m ModuleID) String() string {
	switch m.Kind {
	case ModOscillator:
		return fmt.Sprintf("osc-%d", m.Index)
	case ModNoise:
		return fmt.Sprintf("noise-%d", m.Index)
	case ModInputAmp:
		return fmt.Sprintf("input-%d", m.Index)
	case ModJoystick:
		return "joystick"
	case ModOutputBus:
		return fmt.Sprintf("output-channel-%d", m.Index)
	case ModScope:
		return fmt.Sprintf("scope-%d", m.Index)
	}
	return fmt.Sprintf("module-%d-%d", m.Kind, m.Index)
}

// Module returns the module a source descriptor belongs to, and whether the
// descriptor is a meaningful variant at all.
func (s SourceDescriptor) Module() (ModuleID, bool) {
	switch s.Kind {
	case SourceInputAmp:
		return ModuleID{ModInputAmp, s.Channel}, true
	case SourceNoiseGen:
		return ModuleID{ModNoise, s.Channel}, true
	case SourceOscillatorChannel:
		return ModuleID{ModOscillator, s.Osc}, true
	case SourceJoystickAxis:
		return ModuleID{ModJoystick, 0}, true
	case SourceOutputBus:
		return ModuleID{ModOutputBus, s.Bus}, true
	}
	return ModuleID{}, false
}

// Module returns the module a destination descriptor belongs to.
func (d DestDescriptor) Module() (ModuleID, bool) {
	switch d.Kind {
	case DestOutputBus, DestOutputLevelCV:
		return ModuleID{ModOutputBus, d.Bus}, true
	case DestOscilloscopeChannel:
		return ModuleID{ModScope, d.Channel}, true
	case DestOscSync, DestOscPWM, DestOscFreqCV:
		return ModuleID{ModOscillator, d.Osc}, true
	}
	return ModuleID{}, false
}
