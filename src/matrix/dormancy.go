package matrix

// ----- Dormancy ----- //

// DormancyManager tracks which logical modules have live connections and
// flags the rest as dormant so the audio-graph layer can stop processing
// them. State is recomputed as a batch over the full connection set; it is
// never patched incrementally, which keeps it consistent over ad-hoc patching.
type DormancyManager struct {
	dormant  map[ModuleID]bool
	onChange []func(ModuleID, bool)
}

// NewDormancyManager returns a manager with an empty registry.
func NewDormancyManager() *DormancyManager {
	return &DormancyManager{dormant: map[ModuleID]bool{}}
}

// OnChange registers a listener fired once per module whose state actually
// flipped during a recompute pass.
func (d *DormancyManager) OnChange(fn func(ModuleID, bool)) {
	d.onChange = append(d.onChange, fn)
}

// Register adds a module to the registry, initially dormant. Registering an
// already-known module keeps its current state.
func (d *DormancyManager) Register(id ModuleID) {
	if _, ok := d.dormant[id]; !ok {
		d.dormant[id] = true
	}
}

// RegisterPanel registers every module the compiled mapping names, so modules
// exist (as dormant) even before their first connection.
func (d *DormancyManager) RegisterPanel(m *CompiledMapping) {
	for _, src := range m.SourceMap {
		if id, ok := src.Module(); ok {
			d.Register(id)
		}
	}
	for _, dst := range m.DestMap {
		if id, ok := dst.Module(); ok {
			d.Register(id)
		}
	}
}

// IsDormant reports the recorded state. Unknown modules are dormant.
func (d *DormancyManager) IsDormant(id ModuleID) bool {
	dormant, ok := d.dormant[id]
	return !ok || dormant
}

// Snapshot copies the full state table for lock-free publication.
func (d *DormancyManager) Snapshot() map[ModuleID]bool {
	out := make(map[ModuleID]bool, len(d.dormant))
	for id, dormant := range d.dormant {
		out[id] = dormant
	}
	return out
}

// Recompute evaluates the whole registry against the connection set. A module
// is dormant iff it has zero relevant connections: signal generators look for
// any source-role connection, sinks for any destination-role connection,
// evaluated per instance. Listeners fire only for modules that changed; the
// changed ids are also returned.
func (d *DormancyManager) Recompute(conns map[Coord]PinColor, m *CompiledMapping) []ModuleID {
	changed := d.recomputeStates(conns, m)
	for _, id := range changed {
		for _, fn := range d.onChange {
			fn(id, d.dormant[id])
		}
	}
	return changed
}

// recomputeStates updates the state table without notifying listeners, so
// callers can publish a consistent snapshot before events go out.
func (d *DormancyManager) recomputeStates(conns map[Coord]PinColor, m *CompiledMapping) []ModuleID {
	active := map[ModuleID]bool{}
	for coord := range conns {
		if src, ok := m.SourceMap[coord.Row]; ok {
			if id, ok := src.Module(); ok && isGenerator(id.Kind) {
				active[id] = true
			}
		}
		if dst, ok := m.DestMap[coord.Col]; ok {
			if id, ok := dst.Module(); ok && isSink(id.Kind) {
				active[id] = true
			}
		}
	}
	var changed []ModuleID
	for id, wasDormant := range d.dormant {
		nowDormant := !active[id]
		if nowDormant == wasDormant {
			continue
		}
		d.dormant[id] = nowDormant
		changed = append(changed, id)
	}
	return changed
}

func isGenerator(k ModuleKind) bool {
	switch k {
	case ModOscillator, ModNoise, ModInputAmp, ModJoystick:
		return true
	}
	return false
}

func isSink(k ModuleKind) bool {
	switch k {
	case ModOutputBus, ModScope:
		return true
	}
	return false
}
