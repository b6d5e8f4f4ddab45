// Package score holds the structured score representation and the
// notation codecs that read and write it.
//
// Supported inputs are MusicXML (plain or compressed), standard MIDI files
// and MuseScore files (.mscz, or a bare .mscx document). Outputs are
// standard MIDI files and partwise MusicXML. Offsets and durations are in
// quarter notes.
package score

import (
	"errors"
	"math"
	"sort"
)

var (
	// ErrUnsupportedFormat is returned when the input bytes are not a known notation format.
	ErrUnsupportedFormat = errors.New("unsupported score format")
	// ErrNoNotes is returned when a score has no single pitched notes.
	ErrNoNotes = errors.New("no notes found in the score")
)

// EventKind classifies a timed score event.
type EventKind int

const (
	KindNote EventKind = iota
	KindChord
	KindRest
	KindUnpitched
)

// Event is a note, chord, rest or unpitched hit inside a part.
type Event struct {
	Kind     EventKind
	Pitches  []int // MIDI numbers, one for a note, several for a chord
	Offset   float64
	Duration float64
}

// Pitch returns the single pitch of a note event.
func (e Event) Pitch() (int, bool) {
	if e.Kind != KindNote || len(e.Pitches) != 1 {
		return 0, false
	}
	return e.Pitches[0], true
}

// Part is one instrument or voice of a score.
type Part struct {
	ID     string
	Name   string
	Events []Event
}

// Harmony is a chord symbol placed at an offset. Duration is filled in by
// RealizeChordDurations.
type Harmony struct {
	Offset   float64
	Root     string
	Kind     string
	Duration float64
}

// Score is an in-memory composition.
type Score struct {
	Title     string
	Tempo     float64 // quarter notes per minute, 0 when unknown
	Parts     []Part
	Harmonies []Harmony
}

// Length returns the end offset of the last sounding or resting event.
func (s *Score) Length() float64 {
	var end float64
	for _, p := range s.Parts {
		for _, e := range p.Events {
			end = math.Max(end, e.Offset+e.Duration)
		}
	}
	return end
}

// NoteCount returns the number of single-note events across all parts.
func (s *Score) NoteCount() int {
	n := 0
	for _, p := range s.Parts {
		for _, e := range p.Events {
			if _, ok := e.Pitch(); ok {
				n++
			}
		}
	}
	return n
}

// ExtractPitches returns the MIDI pitch of every single note with all
// parts merged in offset order. Notes sharing an offset keep part order,
// then the order they were read. Rests, chords and unpitched events are
// skipped. It fails with ErrNoNotes when nothing remains.
func ExtractPitches(s *Score) ([]int, error) {
	if s == nil {
		return nil, ErrNoNotes
	}
	type timedPitch struct {
		offset float64
		pitch  int
	}
	var notes []timedPitch
	for _, p := range s.Parts {
		for _, e := range p.Events {
			if pitch, ok := e.Pitch(); ok {
				notes = append(notes, timedPitch{offset: e.Offset, pitch: pitch})
			}
		}
	}
	if len(notes) == 0 {
		return nil, ErrNoNotes
	}
	sort.SliceStable(notes, func(i, j int) bool { return notes[i].offset < notes[j].offset })

	pitches := make([]int, len(notes))
	for i, n := range notes {
		pitches[i] = n.pitch
	}
	return pitches, nil
}
