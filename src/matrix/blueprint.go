package matrix

import (
	"encoding/json"
	"fmt"
)

// ----- Blueprint ----- //

// Blueprint is the declarative panel description: grid geometry, the hidden
// (non-existent) positions, and which screen-numbered row/column carries which
// source/destination. Immutable once loaded.
type Blueprint struct {
	Rows        int
	Cols        int
	RowBase     int
	ColBase     int
	HiddenRows0 map[int]struct{}
	HiddenCols0 map[int]struct{}
	Sources     []SourceEntry
	Destinations []DestEntry
}

// SourceEntry declares a source at a screen-numbered row. Screen numbers skip
// hidden positions, they are not plain offsets of the physical index.
type SourceEntry struct {
	RowSynth float64
	Source   SourceDescriptor
}

// DestEntry declares a destination at a screen-numbered column.
type DestEntry struct {
	ColSynth float64
	Dest     DestDescriptor
}

// ----- JSON Schema ----- //

type blueprintJSON struct {
	SchemaVersion int `json:"schemaVersion"`
	Grid          struct {
		Rows        int `json:"rows"`
		Cols        int `json:"cols"`
		CoordSystem struct {
			RowBase int `json:"rowBase"`
			ColBase int `json:"colBase"`
		} `json:"coordSystem"`
	} `json:"grid"`
	UI struct {
		HiddenRows0 []int `json:"hiddenRows0"`
		HiddenCols0 []int `json:"hiddenCols0"`
	} `json:"ui"`
	Sources []struct {
		RowSynth float64        `json:"rowSynth"`
		Source   descriptorJSON `json:"source"`
	} `json:"sources"`
	Destinations []struct {
		ColSynth float64        `json:"colSynth"`
		Dest     descriptorJSON `json:"dest"`
	} `json:"destinations"`
}

type descriptorJSON struct {
	Kind    string `json:"kind"`
	Channel int    `json:"channel"`
	Osc     int    `json:"osc"`
	Axis    int    `json:"axis"`
	Bus     int    `json:"bus"`
}

// ParseBlueprint decodes the blueprint schema described in the panel files.
// Entries with unknown kinds are kept as none-kind and dropped at compile
// time; only a malformed document is an error.
func ParseBlueprint(data []byte) (*Blueprint, error) {
	var j blueprintJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("malformed blueprint: %w", err)
	}
	if j.Grid.Rows <= 0 || j.Grid.Cols <= 0 {
		return nil, fmt.Errorf("blueprint grid %dx%d is not usable", j.Grid.Rows, j.Grid.Cols)
	}
	b := &Blueprint{
		Rows:        j.Grid.Rows,
		Cols:        j.Grid.Cols,
		RowBase:     j.Grid.CoordSystem.RowBase,
		ColBase:     j.Grid.CoordSystem.ColBase,
		HiddenRows0: make(map[int]struct{}, len(j.UI.HiddenRows0)),
		HiddenCols0: make(map[int]struct{}, len(j.UI.HiddenCols0)),
	}
	for _, r := range j.UI.HiddenRows0 {
		b.HiddenRows0[r] = struct{}{}
	}
	for _, c := range j.UI.HiddenCols0 {
		b.HiddenCols0[c] = struct{}{}
	}
	for _, s := range j.Sources {
		b.Sources = append(b.Sources, SourceEntry{
			RowSynth: s.RowSynth,
			Source: SourceDescriptor{
				Kind:    sourceKindFromString(s.Source.Kind),
				Channel: s.Source.Channel,
				Osc:     s.Source.Osc,
				Axis:    s.Source.Axis,
				Bus:     s.Source.Bus,
			},
		})
	}
	for _, d := range j.Destinations {
		b.Destinations = append(b.Destinations, DestEntry{
			ColSynth: d.ColSynth,
			Dest: DestDescriptor{
				Kind:    destKindFromString(d.Dest.Kind),
				Bus:     d.Dest.Bus,
				Channel: d.Dest.Channel,
				Osc:     d.Dest.Osc,
			},
		})
	}
	return b, nil
}

// ----- Default Panel ----- //

// Panel capacities of the emulated instrument.
const (
	NumOscillators   = 12
	NumOscChannels   = 2 // each oscillator exposes two shaped outputs
	NumNoiseGens     = 2
	NumInputAmps     = 8
	NumOutputBuses   = 8
	NumScopeChannels = 2
)

// DefaultBlueprint builds the stock panel: oscillator channels, noise, input
// amps and joystick as rows; buses, scope and oscillator CV inputs as columns.
// Screen numbering starts at 1 on both axes and physical column 33 is the
// screen-printed gap in the hardware panel.
func DefaultBlueprint() *Blueprint {
	b := &Blueprint{
		Rows:        66,
		Cols:        66,
		RowBase:     1,
		ColBase:     1,
		HiddenRows0: map[int]struct{}{},
		HiddenCols0: map[int]struct{}{33: {}},
	}
	row := 1
	for osc := 0; osc < NumOscillators; osc++ {
		for ch := 0; ch < NumOscChannels; ch++ {
			b.Sources = append(b.Sources, SourceEntry{
				RowSynth: float64(row),
				Source:   SourceDescriptor{Kind: SourceOscillatorChannel, Osc: osc, Channel: ch},
			})
			row++
		}
	}
	for n := 0; n < NumNoiseGens; n++ {
		b.Sources = append(b.Sources, SourceEntry{
			RowSynth: float64(row),
			Source:   SourceDescriptor{Kind: SourceNoiseGen, Channel: n},
		})
		row++
	}
	for ch := 0; ch < NumInputAmps; ch++ {
		b.Sources = append(b.Sources, SourceEntry{
			RowSynth: float64(row),
			Source:   SourceDescriptor{Kind: SourceInputAmp, Channel: ch},
		})
		row++
	}
	for axis := 0; axis < 2; axis++ {
		b.Sources = append(b.Sources, SourceEntry{
			RowSynth: float64(row),
			Source:   SourceDescriptor{Kind: SourceJoystickAxis, Axis: axis},
		})
		row++
	}
	for bus := 0; bus < NumOutputBuses; bus++ {
		b.Sources = append(b.Sources, SourceEntry{
			RowSynth: float64(row),
			Source:   SourceDescriptor{Kind: SourceOutputBus, Bus: bus},
		})
		row++
	}

	col := 1
	for bus := 0; bus < NumOutputBuses; bus++ {
		b.Destinations = append(b.Destinations, DestEntry{
			ColSynth: float64(col),
			Dest:     DestDescriptor{Kind: DestOutputBus, Bus: bus},
		})
		col++
	}
	for ch := 0; ch < NumScopeChannels; ch++ {
		b.Destinations = append(b.Destinations, DestEntry{
			ColSynth: float64(col),
			Dest:     DestDescriptor{Kind: DestOscilloscopeChannel, Channel: ch},
		})
		col++
	}
	for osc := 0; osc < NumOscillators; osc++ {
		b.Destinations = append(b.Destinations,
			DestEntry{ColSynth: float64(col), Dest: DestDescriptor{Kind: DestOscFreqCV, Osc: osc}},
			DestEntry{ColSynth: float64(col + 1), Dest: DestDescriptor{Kind: DestOscPWM, Osc: osc}},
			DestEntry{ColSynth: float64(col + 2), Dest: DestDescriptor{Kind: DestOscSync, Osc: osc}},
		)
		col += 3
	}
	for bus := 0; bus < NumOutputBuses; bus++ {
		b.Destinations = append(b.Destinations, DestEntry{
			ColSynth: float64(col),
			Dest:     DestDescriptor{Kind: DestOutputLevelCV, Bus: bus},
		})
		col++
	}
	return b
}
