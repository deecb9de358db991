package matrix

import (
	"math"
	"sync"
)

// ----- Compiled Mapping ----- //

// CompiledMapping is the O(1) routing view of a blueprint: physical row index
// to source descriptor, physical column index to destination descriptor, plus
// the legacy sub-maps some call sites still want for the oscillator/bus cases.
// It is a pure, order-independent function of the blueprint.
type CompiledMapping struct {
	SourceMap map[int]SourceDescriptor
	DestMap   map[int]DestDescriptor

	// RowMap/ChannelMap are populated for oscillator-channel sources only:
	// physical row → oscillator index and physical row → channel index.
	RowMap     map[int]int
	ChannelMap map[int]int
	// ColMap is populated for output-bus destinations only: physical col → bus.
	ColMap map[int]int

	visibleRows []int
	visibleCols []int
	rowOrdinal  map[int]int // physical row → ordinal among visible rows
	colOrdinal  map[int]int
	rowBase     int
	colBase     int
}

// ScreenToRow resolves a screen row number to its physical index.
func (m *CompiledMapping) ScreenToRow(n int) (int, bool) {
	ord := n - m.rowBase
	if ord < 0 || ord >= len(m.visibleRows) {
		return 0, false
	}
	return m.visibleRows[ord], true
}

// RowToScreen is the inverse of ScreenToRow over the visible set.
func (m *CompiledMapping) RowToScreen(physical int) (int, bool) {
	ord, ok := m.rowOrdinal[physical]
	if !ok {
		return 0, false
	}
	return ord + m.rowBase, true
}

// ScreenToCol resolves a screen column number to its physical index.
func (m *CompiledMapping) ScreenToCol(n int) (int, bool) {
	ord := n - m.colBase
	if ord < 0 || ord >= len(m.visibleCols) {
		return 0, false
	}
	return m.visibleCols[ord], true
}

// ColToScreen is the inverse of ScreenToCol over the visible set.
func (m *CompiledMapping) ColToScreen(physical int) (int, bool) {
	ord, ok := m.colOrdinal[physical]
	if !ok {
		return 0, false
	}
	return ord + m.colBase, true
}

// ----- Compiler ----- //

var compileCache = struct {
	sync.Mutex
	m map[*Blueprint]*CompiledMapping
}{m: map[*Blueprint]*CompiledMapping{}}

// Compile turns a blueprint into its routing tables. The result is memoized
// per blueprint reference; blueprints are immutable so the cache never stales.
func Compile(b *Blueprint) *CompiledMapping {
	compileCache.Lock()
	defer compileCache.Unlock()
	if m, ok := compileCache.m[b]; ok {
		return m
	}
	m := compile(b)
	compileCache.m[b] = m
	return m
}

func compile(b *Blueprint) *CompiledMapping {
	m := &CompiledMapping{
		SourceMap:  make(map[int]SourceDescriptor, len(b.Sources)),
		DestMap:    make(map[int]DestDescriptor, len(b.Destinations)),
		RowMap:     map[int]int{},
		ChannelMap: map[int]int{},
		ColMap:     map[int]int{},
		rowOrdinal: map[int]int{},
		colOrdinal: map[int]int{},
		rowBase:    b.RowBase,
		colBase:    b.ColBase,
	}
	// Screen numbers count visible positions only, so gaps are skipped when
	// counting ordinals, not offset by a constant.
	for r := 0; r < b.Rows; r++ {
		if _, hidden := b.HiddenRows0[r]; hidden {
			continue
		}
		m.rowOrdinal[r] = len(m.visibleRows)
		m.visibleRows = append(m.visibleRows, r)
	}
	for c := 0; c < b.Cols; c++ {
		if _, hidden := b.HiddenCols0[c]; hidden {
			continue
		}
		m.colOrdinal[c] = len(m.visibleCols)
		m.visibleCols = append(m.visibleCols, c)
	}
	for _, e := range b.Sources {
		if e.Source.Kind == SourceNone {
			continue
		}
		row, ok := resolveScreen(e.RowSynth, b.RowBase, m.visibleRows)
		if !ok {
			continue // out of range or non-finite: no mapping, not an error
		}
		// Duplicate rows overwrite; collisions should be validated upstream.
		m.SourceMap[row] = e.Source
		if e.Source.Kind == SourceOscillatorChannel {
			m.RowMap[row] = e.Source.Osc
			m.ChannelMap[row] = e.Source.Channel
		}
	}
	for _, e := range b.Destinations {
		if e.Dest.Kind == DestNone {
			continue
		}
		col, ok := resolveScreen(e.ColSynth, b.ColBase, m.visibleCols)
		if !ok {
			continue
		}
		m.DestMap[col] = e.Dest
		if e.Dest.Kind == DestOutputBus {
			m.ColMap[col] = e.Dest.Bus
		}
	}
	return m
}

func resolveScreen(n float64, base int, visible []int) (int, bool) {
	if math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, false
	}
	ord := int(n) - base
	if ord < 0 || ord >= len(visible) {
		return 0, false
	}
	return visible[ord], true
}
