package score

import (
	"errors"
	"sort"
)

// RealizeChordDurations returns the score's chord symbols ordered by
// offset, each lasting until the next symbol or the end of the score.
// The score itself is not modified.
func RealizeChordDurations(s *Score) ([]Harmony, error) {
	if s == nil {
		return nil, errors.New("harmonic analysis: nil score")
	}

	chords := make([]Harmony, len(s.Harmonies))
	copy(chords, s.Harmonies)
	sort.SliceStable(chords, func(i, j int) bool {
		return chords[i].Offset < chords[j].Offset
	})

	end := s.Length()
	for i := range chords {
		next := end
		if i+1 < len(chords) {
			next = chords[i+1].Offset
		}
		chords[i].Duration = next - chords[i].Offset
		if chords[i].Duration < 0 {
			chords[i].Duration = 0
		}
	}
	return chords, nil
}
