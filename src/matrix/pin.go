package matrix

import (
	"math"
)

// ----- Pin Colors ----- //

// PinColor identifies a patch-pin category. Each color encodes a nominal
// resistance and tolerance, matching the pins shipped with the instrument.
type PinColor int

const (
	PinNone PinColor = iota
	PinWhite
	PinGrey
	PinRed
	PinGreen
	PinYellow
	PinOrange
)

// ParsePinColor maps a color name from the wire protocol to a PinColor.
// Unrecognized names yield PinNone.
func ParsePinColor(s string) PinColor {
	return pinColorFromString(s)
}

func pinColorFromString(s string) PinColor {
	switch s {
	case "white":
		return PinWhite
	case "grey", "gray":
		return PinGrey
	case "red":
		return PinRed
	case "green":
		return PinGreen
	case "yellow":
		return PinYellow
	case "orange":
		return PinOrange
	}
	return PinNone
}
func pinColorToString(c PinColor) string {
	switch c {
	case PinWhite:
		return "white"
	case PinGrey:
		return "grey"
	case PinRed:
		return "red"
	case PinGreen:
		return "green"
	case PinYellow:
		return "yellow"
	case PinOrange:
		return "orange"
	}
	return "none"
}

// ----- Pin Specs ----- //

// PinSpec describes the electrical properties of one pin color.
type PinSpec struct {
	Color      PinColor
	Resistance float64 // Ω, nominal
	Tolerance  float64 // fraction, e.g. 0.05 for 5%
	Dangerous  bool    // short-circuit pin, must never be summed
}

// busCapacitance is the parasitic capacitance seen by every matrix bus, in F.
// It sets the RC corner of each pin; overridable through calibration.
const busCapacitance = 25e-12

var pinSpecs = map[PinColor]PinSpec{
	PinWhite:  {Color: PinWhite, Resistance: 100e3, Tolerance: 0.05},
	PinGrey:   {Color: PinGrey, Resistance: 100e3, Tolerance: 0.01},
	PinRed:    {Color: PinRed, Resistance: 2.7e3, Tolerance: 0.05},
	PinGreen:  {Color: PinGreen, Resistance: 1e6, Tolerance: 0.05},
	PinYellow: {Color: PinYellow, Resistance: 47e3, Tolerance: 0.05},
	PinOrange: {Color: PinOrange, Resistance: 0, Tolerance: 0, Dangerous: true},
}

// defaultPin is the fallback spec for unknown colors: the standard
// precision pin, so a bad config yields unity-ish behavior instead of a crash.
const defaultPin = PinGrey

// LookupPin returns the spec for a color. Unknown colors fall back to the
// standard precision pin; ok reports whether the color was known.
func LookupPin(c PinColor) (PinSpec, bool) {
	spec, ok := pinSpecs[c]
	if !ok {
		return pinSpecs[defaultPin], false
	}
	return spec, true
}

// PinCutoff returns the RC corner frequency of a pin resistance against the
// bus capacitance: fc = 1 / (2π·R·C). Zero or negative resistance has no
// corner (returns +Inf, i.e. no filtering).
func PinCutoff(resistance, capacitance float64) float64 {
	if resistance <= 0 || capacitance <= 0 {
		return math.Inf(1)
	}
	return 1.0 / (2.0 * math.Pi * resistance * capacitance)
}

// EffectiveCutoff combines the pin corner with the destination module's own
// bandwidth. Two cascaded first-order poles are dominated by the lower one.
func EffectiveCutoff(pinCutoff, destBandwidth float64) float64 {
	return math.Min(pinCutoff, destBandwidth)
}
