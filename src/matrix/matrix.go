package matrix

import (
	"fmt"
	"log"
	"math"
	"sync"
	"sync/atomic"
)

// ----- Connections ----- //

// Coord addresses one hole of the patch panel by dense physical indices.
type Coord struct {
	Row int
	Col int
}

// ConnectionGain is the recomputed contribution of one pin: its jittered
// resistance, its virtual-earth gain against the feedback resistor and the
// effective corner frequency of the path.
type ConnectionGain struct {
	Coord      Coord
	Pin        PinColor
	Source     SourceDescriptor
	Dest       DestDescriptor
	Resistance float64 // Ω, after tolerance jitter
	Gain       float64 // Rf / R, zero when the pin is excluded
	CutoffHz   float64
	Bypass     bool // filter node may be skipped (corner above Nyquist)
	Excluded   bool // short pin or dead coordinate, never summed
}

// Routing is the immutable result of one recomputation pass. The render path
// picks it up through an atomic pointer and never sees partial state.
type Routing struct {
	Conns   map[Coord]ConnectionGain
	ByDest  map[int][]ConnectionGain // physical col → contributions
	Dormant map[ModuleID]bool

	BusDial [NumOutputBuses]float64
	VCA     VCAParams

	FeedbackResistance float64
	InputLimit         float64
	VoltsPerOctave     float64
	ShaperCurve        []float64
	DriftPeriod        float64
	DriftMagnitude     float64
}

// ----- Matrix ----- //

// Matrix is the control-plane engine: it owns the blueprint, the live
// connection set, calibration and the VCA dials, and recomputes routing and
// dormancy in coalesced passes.
type Matrix struct {
	mu sync.Mutex

	blueprint *Blueprint
	mapping   *CompiledMapping
	cal       *Calibration
	conns     map[Coord]PinColor
	dials     [NumOutputBuses]float64
	dormancy  *DormancyManager
	shaper    []float64 // regenerated when calibration changes

	dirty      bool
	sampleRate float64
	// Pins whose corner exceeds Nyquist may skip their filter node. This is
	// an optimization knob, correctness never depends on it.
	NyquistBypass bool

	routing atomic.Value // *Routing
	diag    DiagnosticFunc
}

// NewMatrix compiles the blueprint and publishes an initial empty routing.
func NewMatrix(b *Blueprint, sampleRate float64) *Matrix {
	m := &Matrix{
		blueprint:     b,
		mapping:       Compile(b),
		cal:           DefaultCalibration(),
		conns:         map[Coord]PinColor{},
		dormancy:      NewDormancyManager(),
		sampleRate:    sampleRate,
		NyquistBypass: true,
		diag: func(msg string) {
			log.Println(msg)
		},
	}
	for i := range m.dials {
		m.dials[i] = 10
	}
	m.validateMapping()
	m.dormancy.RegisterPanel(m.mapping)
	m.dirty = true
	m.Flush()
	return m
}

// OnDiagnostic replaces the diagnostic sink (default: log.Println).
func (m *Matrix) OnDiagnostic(fn DiagnosticFunc) {
	m.mu.Lock()
	m.diag = fn
	m.mu.Unlock()
}

// OnDormancyChanged registers a dormancy listener. Listeners run on the
// control-plane goroutine during Flush.
func (m *Matrix) OnDormancyChanged(fn func(ModuleID, bool)) {
	m.mu.Lock()
	m.dormancy.OnChange(fn)
	m.mu.Unlock()
}

// Drops mapping entries this engine cannot serve: hidden indices (would mean
// the compiler is broken) and descriptors addressing module instances beyond
// the fixed banks (blueprints are external input). Compiled mappings are
// memoized per blueprint and shared, so dropping works on a private copy.
func (m *Matrix) validateMapping() {
	var badRows, badCols []int
	for row, src := range m.mapping.SourceMap {
		if _, hidden := m.blueprint.HiddenRows0[row]; hidden {
			m.report(fmt.Sprintf("mapping invariant violated: source at hidden row %d dropped", row))
			badRows = append(badRows, row)
		} else if !src.valid() {
			m.report(fmt.Sprintf("blueprint source at row %d addresses a missing module, dropped", row))
			badRows = append(badRows, row)
		}
	}
	for col, dst := range m.mapping.DestMap {
		if _, hidden := m.blueprint.HiddenCols0[col]; hidden {
			m.report(fmt.Sprintf("mapping invariant violated: dest at hidden col %d dropped", col))
			badCols = append(badCols, col)
		} else if !dst.valid() {
			m.report(fmt.Sprintf("blueprint dest at col %d addresses a missing module, dropped", col))
			badCols = append(badCols, col)
		}
	}
	if len(badRows) == 0 && len(badCols) == 0 {
		return
	}
	clone := *m.mapping
	clone.SourceMap = make(map[int]SourceDescriptor, len(m.mapping.SourceMap))
	for k, v := range m.mapping.SourceMap {
		clone.SourceMap[k] = v
	}
	clone.DestMap = make(map[int]DestDescriptor, len(m.mapping.DestMap))
	for k, v := range m.mapping.DestMap {
		clone.DestMap[k] = v
	}
	for _, row := range badRows {
		delete(clone.SourceMap, row)
	}
	for _, col := range badCols {
		delete(clone.DestMap, col)
	}
	m.mapping = &clone
}

func (m *Matrix) report(msg string) {
	if m.diag != nil {
		m.diag(msg)
	}
}

// ----- Connection Edits ----- //

// SetConnection inserts or replaces the pin at (row, col). Edits only mark
// the matrix dirty; recomputation happens once per Flush tick no matter how
// many edits arrive in between.
func (m *Matrix) SetConnection(row, col int, color PinColor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if row < 0 || row >= m.blueprint.Rows || col < 0 || col >= m.blueprint.Cols {
		return fmt.Errorf("connection (%d, %d) outside the %dx%d panel",
			row, col, m.blueprint.Rows, m.blueprint.Cols)
	}
	if _, hidden := m.blueprint.HiddenRows0[row]; hidden {
		return fmt.Errorf("row %d does not exist on the panel", row)
	}
	if _, hidden := m.blueprint.HiddenCols0[col]; hidden {
		return fmt.Errorf("column %d does not exist on the panel", col)
	}
	spec, known := LookupPin(color)
	if !known {
		m.report(fmt.Sprintf("unknown pin color %d at (%d, %d), using %s",
			color, row, col, pinColorToString(defaultPin)))
		color = defaultPin
		spec = pinSpecs[defaultPin]
	}
	if spec.Dangerous {
		m.report(fmt.Sprintf("hazard: %s pin (0 Ω short) at (%d, %d) excluded from summation",
			pinColorToString(color), row, col))
	}
	m.conns[Coord{row, col}] = color
	m.dirty = true
	return nil
}

// ClearConnection removes the pin at (row, col), if any.
func (m *Matrix) ClearConnection(row, col int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.conns[Coord{row, col}]; !ok {
		return
	}
	delete(m.conns, Coord{row, col})
	m.dirty = true
}

// SetDial moves the level dial of an output channel, [0,10].
func (m *Matrix) SetDial(bus int, dial float64) error {
	if bus < 0 || bus >= NumOutputBuses {
		return fmt.Errorf("output channel %d out of range", bus)
	}
	m.mu.Lock()
	m.dials[bus] = math.Max(0, math.Min(10, dial))
	m.dirty = true
	m.mu.Unlock()
	return nil
}

// ApplyCalibration merges overrides and schedules a full recompute, including
// regeneration of the shaper curve.
func (m *Matrix) ApplyCalibration(overrides map[string]float64) {
	m.mu.Lock()
	m.cal.Apply(overrides, m.diag)
	m.shaper = nil
	m.dirty = true
	m.mu.Unlock()
}

// LoadCalibrationFile applies a calibration file on top of current values.
func (m *Matrix) LoadCalibrationFile(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.cal.LoadCalibrationFile(path, m.diag); err != nil {
		return err
	}
	m.shaper = nil
	m.dirty = true
	return nil
}

// LoadBlueprint swaps the panel. Connections cannot survive a panel change;
// the set is cleared and every module re-registered.
func (m *Matrix) LoadBlueprint(b *Blueprint) {
	m.mu.Lock()
	m.blueprint = b
	m.mapping = Compile(b)
	m.conns = map[Coord]PinColor{}
	m.validateMapping()
	m.dormancy.RegisterPanel(m.mapping)
	m.dirty = true
	m.mu.Unlock()
}

// ----- Recompute ----- //

// Flush runs at most one recomputation pass and publishes the new routing
// snapshot. It reports whether a pass actually ran. Callers drive it once per
// scheduling tick; edits between ticks coalesce ("last write wins").
func (m *Matrix) Flush() bool {
	m.mu.Lock()
	if !m.dirty {
		m.mu.Unlock()
		return false
	}
	m.dirty = false
	r := m.recompute()
	changed := m.dormancy.recomputeStates(m.conns, m.mapping)
	r.Dormant = m.dormancy.Snapshot()
	m.routing.Store(r)
	listeners := m.dormancy.onChange
	states := make([]bool, len(changed))
	for i, id := range changed {
		states[i] = m.dormancy.dormant[id]
	}
	m.mu.Unlock()
	// Listeners fire on the control-plane goroutine, after the snapshot is
	// already visible to the render path.
	for i, id := range changed {
		for _, fn := range listeners {
			fn(id, states[i])
		}
	}
	return true
}

func (m *Matrix) recompute() *Routing {
	if m.shaper == nil {
		m.shaper = HybridClipCurve(m.cal.ShaperSize)
	}
	r := &Routing{
		Conns:              make(map[Coord]ConnectionGain, len(m.conns)),
		ByDest:             map[int][]ConnectionGain{},
		BusDial:            m.dials,
		VCA:                m.cal.VCA,
		FeedbackResistance: m.cal.FeedbackResistance,
		InputLimit:         m.cal.InputLimit,
		VoltsPerOctave:     m.cal.VoltsPerOctave,
		ShaperCurve:        m.shaper,
		DriftPeriod:        m.cal.DriftPeriod,
		DriftMagnitude:     m.cal.DriftMagnitude,
	}
	for coord, color := range m.conns {
		cg := m.connectionGain(coord, color)
		r.Conns[coord] = cg
		if !cg.Excluded {
			r.ByDest[coord.Col] = append(r.ByDest[coord.Col], cg)
		}
	}
	return r
}

func (m *Matrix) connectionGain(coord Coord, color PinColor) ConnectionGain {
	cg := ConnectionGain{Coord: coord, Pin: color}
	src, haveSrc := m.mapping.SourceMap[coord.Row]
	dst, haveDst := m.mapping.DestMap[coord.Col]
	cg.Source = src
	cg.Dest = dst
	if !haveSrc || !haveDst {
		// A pin in an unlabeled hole connects nothing.
		cg.Excluded = true
		return cg
	}
	spec := m.cal.Pin(color)
	if spec.Dangerous || spec.Resistance <= 0 ||
		math.IsNaN(spec.Resistance) || math.IsInf(spec.Resistance, 0) {
		cg.Excluded = true
		return cg
	}
	seed := ToleranceSeed(coord.Row, coord.Col, color)
	cg.Resistance = ResistanceWithTolerance(spec.Resistance, spec.Tolerance, seed)
	cg.Gain = PinGain(m.cal.FeedbackResistance, cg.Resistance)
	pinFc := PinCutoff(cg.Resistance, m.cal.BusCapacitance)
	cg.CutoffHz = EffectiveCutoff(pinFc, destBandwidth(dst.Kind))
	cg.Bypass = m.NyquistBypass && cg.CutoffHz >= m.sampleRate/2
	return cg
}

// Inherent bandwidth of each destination's input stage, Hz.
func destBandwidth(kind DestKind) float64 {
	switch kind {
	case DestOutputBus, DestOscilloscopeChannel, DestOscSync:
		return 40e3
	case DestOscFreqCV, DestOscPWM:
		return 5e3
	case DestOutputLevelCV:
		return 2e3
	}
	return 40e3
}

// ----- Registry API (read side) ----- //

// Routing returns the last published snapshot. Safe from any goroutine; the
// render path must use only this, never the mutable state above.
func (m *Matrix) Routing() *Routing {
	r, _ := m.routing.Load().(*Routing)
	return r
}

// GetGain returns the level gain of a destination column: the VCA gain at the
// current dial (CV at rest) for output channels, unity for everything else.
func (m *Matrix) GetGain(col int) float64 {
	r := m.Routing()
	if r == nil {
		return 0
	}
	m.mu.Lock()
	dst, ok := m.mapping.DestMap[col]
	m.mu.Unlock()
	if !ok {
		return 0
	}
	if dst.Kind == DestOutputBus {
		return r.VCA.Gain(r.BusDial[dst.Bus], 0)
	}
	return 1
}

// GetFilterCutoff returns the effective corner frequency of a live
// connection, or 0 when there is no such connection.
func (m *Matrix) GetFilterCutoff(row, col int) float64 {
	r := m.Routing()
	if r == nil {
		return 0
	}
	cg, ok := r.Conns[Coord{row, col}]
	if !ok || cg.Excluded {
		return 0
	}
	return cg.CutoffHz
}

// IsDormant reports the recorded dormancy state of a module.
func (m *Matrix) IsDormant(id ModuleID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dormancy.IsDormant(id)
}

// Mapping exposes the compiled routing tables (read-only by convention).
func (m *Matrix) Mapping() *CompiledMapping {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mapping
}
