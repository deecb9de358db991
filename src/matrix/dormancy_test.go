package matrix

import (
	"testing"
)

func wireOscToBus(t *testing.T, m *Matrix, osc, bus int) (row, col int) {
	t.Helper()
	mapping := m.Mapping()
	row, col = -1, -1
	for r, src := range mapping.SourceMap {
		if src.Kind == SourceOscillatorChannel && src.Osc == osc && src.Channel == 0 {
			row = r
		}
	}
	for c, dst := range mapping.DestMap {
		if dst.Kind == DestOutputBus && dst.Bus == bus {
			col = c
		}
	}
	if row < 0 || col < 0 {
		t.Fatalf("panel has no osc %d / bus %d", osc, bus)
	}
	expectNoError(t, m.SetConnection(row, col, PinWhite))
	return row, col
}

func TestDormancySingleConnection(t *testing.T) {
	m := NewMatrix(DefaultBlueprint(), 48000)
	events := map[ModuleID]int{}
	m.OnDormancyChanged(func(id ModuleID, dormant bool) {
		events[id]++
	})

	row, col := wireOscToBus(t, m, 3, 1)
	m.Flush()

	oscID := ModuleID{ModOscillator, 3}
	busID := ModuleID{ModOutputBus, 1}
	expectEqual(t, m.IsDormant(oscID), false)
	expectEqual(t, m.IsDormant(busID), false)
	// Everything else stays dormant.
	for osc := 0; osc < NumOscillators; osc++ {
		if osc != 3 {
			expectEqual(t, m.IsDormant(ModuleID{ModOscillator, osc}), true)
		}
	}
	for bus := 0; bus < NumOutputBuses; bus++ {
		if bus != 1 {
			expectEqual(t, m.IsDormant(ModuleID{ModOutputBus, bus}), true)
		}
	}
	expectEqual(t, m.IsDormant(ModuleID{ModNoise, 0}), true)
	expectEqual(t, events[oscID], 1)
	expectEqual(t, events[busID], 1)

	// Removing the connection flips both back, one event each.
	m.ClearConnection(row, col)
	m.Flush()
	expectEqual(t, m.IsDormant(oscID), true)
	expectEqual(t, m.IsDormant(busID), true)
	expectEqual(t, events[oscID], 2)
	expectEqual(t, events[busID], 2)
	expectEqual(t, len(events), 2)
}

// A CV-only connection keeps a generator dormant: oscillators wake on
// source-role connections, not on their own CV inputs.
func TestDormancyCVInputDoesNotWakeOscillator(t *testing.T) {
	m := NewMatrix(DefaultBlueprint(), 48000)
	mapping := m.Mapping()
	var noiseRow, cvCol int = -1, -1
	for r, src := range mapping.SourceMap {
		if src.Kind == SourceNoiseGen && src.Channel == 0 {
			noiseRow = r
		}
	}
	for c, dst := range mapping.DestMap {
		if dst.Kind == DestOscFreqCV && dst.Osc == 5 {
			cvCol = c
		}
	}
	expectNoError(t, m.SetConnection(noiseRow, cvCol, PinWhite))
	m.Flush()
	expectEqual(t, m.IsDormant(ModuleID{ModOscillator, 5}), true)
	expectEqual(t, m.IsDormant(ModuleID{ModNoise, 0}), false)
}

func TestDormancyPerBusInstance(t *testing.T) {
	m := NewMatrix(DefaultBlueprint(), 48000)
	wireOscToBus(t, m, 0, 0)
	wireOscToBus(t, m, 1, 4)
	m.Flush()
	expectEqual(t, m.IsDormant(ModuleID{ModOutputBus, 0}), false)
	expectEqual(t, m.IsDormant(ModuleID{ModOutputBus, 4}), false)
	expectEqual(t, m.IsDormant(ModuleID{ModOutputBus, 2}), true)
}

func TestDormancyRecomputeIsBatch(t *testing.T) {
	m := NewMatrix(DefaultBlueprint(), 48000)
	fired := 0
	m.OnDormancyChanged(func(ModuleID, bool) { fired++ })
	// Several edits inside one tick coalesce into a single pass.
	row, col := wireOscToBus(t, m, 2, 3)
	m.ClearConnection(row, col)
	wireOscToBus(t, m, 2, 3)
	m.Flush()
	expectEqual(t, fired, 2) // osc-2 and output-channel-3, once each
}

func TestDormancyUnknownModule(t *testing.T) {
	d := NewDormancyManager()
	expectEqual(t, d.IsDormant(ModuleID{ModOscillator, 99}), true)
}
