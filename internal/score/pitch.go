package score

import (
	"math"
	"strings"
)

var stepClass = map[string]int{
	"C": 0, "D": 2, "E": 4, "F": 5, "G": 7, "A": 9, "B": 11,
}

var (
	sharpSteps  = [12]string{"C", "C", "D", "D", "E", "F", "F", "G", "G", "A", "A", "B"}
	sharpAlters = [12]int{0, 1, 0, 1, 0, 0, 1, 0, 1, 0, 1, 0}
)

// MinPitch and MaxPitch bound valid MIDI note numbers.
const (
	MinPitch = 0
	MaxPitch = 127
)

// StepToMIDI converts a spelled pitch to a MIDI note number (C4 = 60).
func StepToMIDI(step string, alter float64, octave int) (int, bool) {
	pc, ok := stepClass[strings.ToUpper(strings.TrimSpace(step))]
	if !ok {
		return 0, false
	}
	return (octave+1)*12 + pc + int(math.Round(alter)), true
}

// MIDIToStep spells a MIDI note number using sharps.
func MIDIToStep(n int) (step string, alter int, octave int) {
	n = ClampPitch(n)
	pc := n % 12
	return sharpSteps[pc], sharpAlters[pc], n/12 - 1
}

// ClampPitch limits n to the MIDI range.
func ClampPitch(n int) int {
	if n < MinPitch {
		return MinPitch
	}
	if n > MaxPitch {
		return MaxPitch
	}
	return n
}

// NearestPitch rounds a model output value to the closest valid MIDI note.
// NaN maps to MinPitch.
func NearestPitch(v float64) int {
	if math.IsNaN(v) {
		return MinPitch
	}
	if v <= MinPitch {
		return MinPitch
	}
	if v >= MaxPitch {
		return MaxPitch
	}
	return int(math.Round(v))
}

// rootName spells a harmony root such as "F#" or "Bb".
func rootName(step string, alter float64) string {
	name := strings.ToUpper(strings.TrimSpace(step))
	switch a := int(math.Round(alter)); {
	case a > 0:
		name += strings.Repeat("#", a)
	case a < 0:
		name += strings.Repeat("b", -a)
	}
	return name
}
