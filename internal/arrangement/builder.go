// Package arrangement expands one inferred pitch sequence into a
// multi-voice score.
package arrangement

import (
	"fmt"

	"github.com/acapellify/api/internal/model"
	"github.com/acapellify/api/internal/score"
)

// NoteDuration is the length of every generated note, in quarter notes.
const NoteDuration = 1.0

// BuildError reports an arrangement that cannot be built.
type BuildError struct {
	Voices int
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("arrangement needs at least one voice, got %d", e.Voices)
}

// VoiceTransform maps the base pitch of a note for voice index i of n.
type VoiceTransform func(voice, voices, pitch int) int

// Identity leaves every voice on the base sequence.
func Identity(_, _, pitch int) int { return pitch }

// OctaveSpread alternates voices above and below the base line: voice 0
// stays, then +12, -12, +24, -24 and so on. Results are clamped to the
// MIDI range.
func OctaveSpread(voice, _, pitch int) int {
	if voice == 0 {
		return pitch
	}
	shift := 12 * ((voice + 1) / 2)
	if voice%2 == 0 {
		shift = -shift
	}
	return score.ClampPitch(pitch + shift)
}

// ForVoicing returns the transform selected by a request's voicing.
func ForVoicing(v model.Voicing) VoiceTransform {
	if v == model.VoicingOctaves {
		return OctaveSpread
	}
	return Identity
}

type options struct {
	transform VoiceTransform
	title     string
	tempo     float64
}

// Option configures Build.
type Option func(*options)

// WithVoiceTransform sets the per-voice pitch transform.
func WithVoiceTransform(fn VoiceTransform) Option {
	return func(o *options) {
		if fn != nil {
			o.transform = fn
		}
	}
}

// WithTitle names the resulting score.
func WithTitle(title string) Option {
	return func(o *options) { o.title = title }
}

// WithTempo sets the score tempo in quarter notes per minute.
func WithTempo(bpm float64) Option {
	return func(o *options) { o.tempo = bpm }
}

// Build creates a score with exactly voices parts. Each part has one
// quarter note per output value, in order, at the nearest valid pitch.
func Build(output []float64, voices int, opts ...Option) (*score.Score, error) {
	if voices < 1 {
		return nil, &BuildError{Voices: voices}
	}

	o := options{transform: Identity}
	for _, opt := range opts {
		opt(&o)
	}

	base := make([]int, len(output))
	for i, v := range output {
		base[i] = score.NearestPitch(v)
	}

	s := &score.Score{Title: o.title, Tempo: o.tempo, Parts: make([]score.Part, voices)}
	for v := 0; v < voices; v++ {
		events := make([]score.Event, len(base))
		for i, p := range base {
			events[i] = score.Event{
				Kind:     score.KindNote,
				Pitches:  []int{score.ClampPitch(o.transform(v, voices, p))},
				Offset:   float64(i) * NoteDuration,
				Duration: NoteDuration,
			}
		}
		s.Parts[v] = score.Part{
			ID:     fmt.Sprintf("P%d", v+1),
			Name:   fmt.Sprintf("Voice %d", v+1),
			Events: events,
		}
	}
	return s, nil
}
