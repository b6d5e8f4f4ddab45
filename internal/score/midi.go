package score

import (
	"bytes"
	"fmt"
	"math"
	"sort"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/smf"
)

const (
	outTicksPerQuarter = 480
	outVelocity        = 80
	defaultTempo       = 120.0
)

// ParseMIDI reads a standard MIDI file. Every track with notes becomes a
// part; notes that start on the same tick are grouped into a chord.
func ParseMIDI(data []byte) (*Score, error) {
	file, err := smf.ReadFrom(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("read midi: %w", err)
	}
	mt, ok := file.TimeFormat.(smf.MetricTicks)
	if !ok || mt.Resolution() == 0 {
		return nil, fmt.Errorf("%w: midi without metric time format", ErrUnsupportedFormat)
	}
	tpq := float64(mt.Resolution())

	s := &Score{}
	for ti, track := range file.Tracks {
		var (
			tick   uint64
			name   string
			notes  []timedNote
			active = map[[2]uint8][]int{}
		)

		for _, ev := range track {
			tick += uint64(ev.Delta)
			msg := ev.Message

			var bpm float64
			if msg.GetMetaTempo(&bpm) && s.Tempo == 0 {
				s.Tempo = math.Round(bpm*100) / 100
				continue
			}
			var text string
			if msg.GetMetaTrackName(&text) {
				name = text
				continue
			}

			var ch, key, vel uint8
			switch {
			case midi.Message(msg).GetNoteStart(&ch, &key, &vel):
				notes = append(notes, timedNote{key: int(key), start: tick, end: tick})
				k := [2]uint8{ch, key}
				active[k] = append(active[k], len(notes)-1)
			case midi.Message(msg).GetNoteEnd(&ch, &key):
				k := [2]uint8{ch, key}
				if open := active[k]; len(open) > 0 {
					notes[open[0]].end = tick
					notes[open[0]].closed = true
					active[k] = open[1:]
				}
			}
		}

		for i := range notes {
			if !notes[i].closed {
				notes[i].end = tick
			}
		}
		if len(notes) == 0 {
			if ti == 0 && name != "" && s.Title == "" {
				s.Title = name
			}
			continue
		}

		part := Part{ID: fmt.Sprintf("P%d", len(s.Parts)+1), Name: name}
		part.Events = groupNotes(notes, tpq)
		s.Parts = append(s.Parts, part)
	}

	return s, nil
}

type timedNote struct {
	key        int
	start, end uint64
	closed     bool
}

func groupNotes(notes []timedNote, tpq float64) []Event {
	sort.SliceStable(notes, func(i, j int) bool { return notes[i].start < notes[j].start })

	var events []Event
	for i := 0; i < len(notes); {
		j := i
		var end uint64
		pitches := make([]int, 0, 1)
		for ; j < len(notes) && notes[j].start == notes[i].start; j++ {
			pitches = append(pitches, notes[j].key)
			if notes[j].end > end {
				end = notes[j].end
			}
		}
		ev := Event{
			Kind:     KindNote,
			Pitches:  pitches,
			Offset:   float64(notes[i].start) / tpq,
			Duration: float64(end-notes[i].start) / tpq,
		}
		if len(pitches) > 1 {
			ev.Kind = KindChord
		}
		events = append(events, ev)
		i = j
	}
	return events
}

// WriteMIDI renders a score as a format 1 standard MIDI file. The first
// track carries the title and tempo; part i plays on channel i mod 16.
func WriteMIDI(s *Score) ([]byte, error) {
	if s == nil {
		return nil, fmt.Errorf("write midi: nil score")
	}

	file := smf.New()
	file.TimeFormat = smf.MetricTicks(outTicksPerQuarter)

	tempo := s.Tempo
	if tempo <= 0 {
		tempo = defaultTempo
	}
	var meta smf.Track
	if s.Title != "" {
		meta.Add(0, smf.MetaTrackSequenceName(s.Title))
	}
	meta.Add(0, smf.MetaMeter(4, 4))
	meta.Add(0, smf.MetaTempo(tempo))
	meta.Close(0)
	if err := file.Add(meta); err != nil {
		return nil, fmt.Errorf("write midi: %w", err)
	}

	for i, p := range s.Parts {
		track, err := partTrack(p, uint8(i%16))
		if err != nil {
			return nil, err
		}
		if err := file.Add(track); err != nil {
			return nil, fmt.Errorf("write midi: %w", err)
		}
	}

	var buf bytes.Buffer
	if _, err := file.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("write midi: %w", err)
	}
	return buf.Bytes(), nil
}

type noteMsg struct {
	tick uint64
	on   bool
	key  uint8
}

func partTrack(p Part, channel uint8) (smf.Track, error) {
	var msgs []noteMsg
	for _, e := range p.Events {
		if e.Kind != KindNote && e.Kind != KindChord {
			continue
		}
		if e.Offset < 0 || e.Duration <= 0 {
			return nil, fmt.Errorf("write midi: part %q: invalid event timing at %.3f", p.ID, e.Offset)
		}
		start := uint64(math.Round(e.Offset * outTicksPerQuarter))
		end := uint64(math.Round((e.Offset + e.Duration) * outTicksPerQuarter))
		for _, pitch := range e.Pitches {
			key := uint8(ClampPitch(pitch))
			msgs = append(msgs, noteMsg{tick: start, on: true, key: key}, noteMsg{tick: end, key: key})
		}
	}
	// Note-offs go first on a shared tick so repeated pitches retrigger.
	sort.SliceStable(msgs, func(i, j int) bool {
		if msgs[i].tick != msgs[j].tick {
			return msgs[i].tick < msgs[j].tick
		}
		return !msgs[i].on && msgs[j].on
	})

	var track smf.Track
	if p.Name != "" {
		track.Add(0, smf.MetaTrackSequenceName(p.Name))
	}
	var last uint64
	for _, m := range msgs {
		delta := uint32(m.tick - last)
		last = m.tick
		if m.on {
			track.Add(delta, midi.NoteOn(channel, m.key, outVelocity))
		} else {
			track.Add(delta, midi.NoteOff(channel, m.key))
		}
	}
	track.Close(0)
	return track, nil
}
