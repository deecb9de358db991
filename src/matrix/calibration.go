package matrix

import (
	"encoding/json"
	"fmt"
	"os"
)

// ----- Diagnostics ----- //

// DiagnosticFunc receives recoverable-condition reports (bad config keys,
// hazardous pins on live paths). The host application decides how to log them.
type DiagnosticFunc func(msg string)

// ----- Calibration ----- //

// Calibration carries the per-installation numeric overrides. Zero value is
// not usable; start from DefaultCalibration.
type Calibration struct {
	PinResistance map[PinColor]float64
	PinTolerance  map[PinColor]float64

	BusCapacitance     float64
	FeedbackResistance float64 // Ω, summing-node feedback
	InputLimit         float64 // V, summing-node clamp window
	VoltsPerOctave     float64

	VCA VCAParams

	DriftPeriod    float64 // s
	DriftMagnitude float64 // fraction

	ShaperSize int
}

// DefaultCalibration returns the stock values measured from the hardware.
func DefaultCalibration() *Calibration {
	c := &Calibration{
		PinResistance:      map[PinColor]float64{},
		PinTolerance:       map[PinColor]float64{},
		BusCapacitance:     busCapacitance,
		FeedbackResistance: 100e3,
		InputLimit:         8,
		VoltsPerOctave:     1,
		VCA:                DefaultVCAParams(),
		DriftPeriod:        0,
		DriftMagnitude:     0,
		ShaperSize:         2048,
	}
	for color, spec := range pinSpecs {
		c.PinResistance[color] = spec.Resistance
		c.PinTolerance[color] = spec.Tolerance
	}
	return c
}

// Pin returns the calibrated spec for a color, falling back to the standard
// precision pin for unknown colors.
func (c *Calibration) Pin(color PinColor) PinSpec {
	spec, ok := pinSpecs[color]
	if !ok {
		spec = pinSpecs[defaultPin]
	}
	if r, ok := c.PinResistance[spec.Color]; ok {
		spec.Resistance = r
	}
	if t, ok := c.PinTolerance[spec.Color]; ok {
		spec.Tolerance = t
	}
	return spec
}

// ----- Key/Value Overrides ----- //

type calEntry struct {
	min, max float64
	assign   func(*Calibration, float64)
}

var calEntries = buildCalEntries()

func buildCalEntries() map[string]calEntry {
	m := map[string]calEntry{
		"bus.capacitance":           {1e-13, 1e-6, func(c *Calibration, v float64) { c.BusCapacitance = v }},
		"summing.feedbackResistance": {1e2, 1e7, func(c *Calibration, v float64) { c.FeedbackResistance = v }},
		"summing.inputLimit":        {0.5, 24, func(c *Calibration, v float64) { c.InputLimit = v }},
		"osc.voltsPerOctave":        {0.1, 4, func(c *Calibration, v float64) { c.VoltsPerOctave = v }},
		"vca.dbPerVolt":             {1, 40, func(c *Calibration, v float64) { c.VCA.DBPerVolt = v }},
		"vca.cutoffVoltage":         {-24, -1, func(c *Calibration, v float64) { c.VCA.CutoffVoltage = v }},
		"vca.voltageAtMin":          {-24, 0, func(c *Calibration, v float64) { c.VCA.VoltageAtMin = v }},
		"vca.voltageAtMax":          {-6, 6, func(c *Calibration, v float64) { c.VCA.VoltageAtMax = v }},
		"vca.hardLimit":             {0.5, 12, func(c *Calibration, v float64) { c.VCA.HardLimit = v }},
		"vca.softness":              {0.1, 10, func(c *Calibration, v float64) { c.VCA.Softness = v }},
		"drift.period":              {0, 86400, func(c *Calibration, v float64) { c.DriftPeriod = v }},
		"drift.magnitude":           {0, 0.2, func(c *Calibration, v float64) { c.DriftMagnitude = v }},
		"shaper.size":               {64, 65536, func(c *Calibration, v float64) { c.ShaperSize = int(v) }},
	}
	for color, spec := range pinSpecs {
		color := color
		if spec.Dangerous {
			continue // the short pin has no meaningful resistance to tune
		}
		m["pin."+pinColorToString(color)+".resistance"] = calEntry{
			min: 1, max: 1e7,
			assign: func(c *Calibration, v float64) { c.PinResistance[color] = v },
		}
		m["pin."+pinColorToString(color)+".tolerance"] = calEntry{
			min: 0, max: 0.5,
			assign: func(c *Calibration, v float64) { c.PinTolerance[color] = v },
		}
	}
	return m
}

// Apply merges a flat key/value override table. Unknown keys are ignored and
// out-of-range values clamped, both reported through diag; missing keys keep
// their defaults.
func (c *Calibration) Apply(overrides map[string]float64, diag DiagnosticFunc) {
	for key, value := range overrides {
		entry, ok := calEntries[key]
		if !ok {
			if diag != nil {
				diag(fmt.Sprintf("calibration: unknown key %q ignored", key))
			}
			continue
		}
		if value < entry.min || value > entry.max {
			clamped := value
			if clamped < entry.min {
				clamped = entry.min
			}
			if clamped > entry.max {
				clamped = entry.max
			}
			if diag != nil {
				diag(fmt.Sprintf("calibration: %s=%v out of range [%v, %v], clamped to %v",
					key, value, entry.min, entry.max, clamped))
			}
			value = clamped
		}
		entry.assign(c, value)
	}
}

// LoadCalibrationFile reads a flat JSON object of key/value overrides and
// applies it.
func (c *Calibration) LoadCalibrationFile(path string, diag DiagnosticFunc) error {
	bytes, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var overrides map[string]float64
	if err := json.Unmarshal(bytes, &overrides); err != nil {
		return err
	}
	c.Apply(overrides, diag)
	return nil
}
