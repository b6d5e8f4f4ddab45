package score

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"math"
	"sort"
	"strconv"
)

const musicXMLDoctype = `<!DOCTYPE score-partwise PUBLIC "-//Recordare//DTD MusicXML 4.0 Partwise//EN" "http://www.musicxml.org/dtds/partwise.dtd">` + "\n"

// Output layout: 4 divisions per quarter, 4/4 measures.
const (
	outDivisions      = 4
	outMeasureQuarter = 4.0
)

type xmlScorePartwise struct {
	XMLName       xml.Name    `xml:"score-partwise"`
	Version       string      `xml:"version,attr,omitempty"`
	Work          *xmlWork    `xml:"work,omitempty"`
	MovementTitle string      `xml:"movement-title,omitempty"`
	PartList      xmlPartList `xml:"part-list"`
	Parts         []xmlPart   `xml:"part"`
}

type xmlWork struct {
	Title string `xml:"work-title"`
}

type xmlPartList struct {
	ScoreParts []xmlScorePart `xml:"score-part"`
}

type xmlScorePart struct {
	ID   string `xml:"id,attr"`
	Name string `xml:"part-name"`
}

type xmlPart struct {
	ID       string       `xml:"id,attr"`
	Measures []xmlMeasure `xml:"measure"`
}

// xmlMeasure keeps the children that affect timing in document order.
type xmlMeasure struct {
	Number     string         `xml:"number,attr"`
	Attributes *xmlAttributes `xml:"attributes,omitempty"`
	Direction  *xmlDirection  `xml:"direction,omitempty"`
	Notes      []xmlNote      `xml:"note"`
	items      []xmlMeasureItem
}

type xmlMeasureItem struct {
	note       *xmlNote
	backup     *xmlDuration
	forward    *xmlDuration
	harmony    *xmlHarmony
	attributes *xmlAttributes
	direction  *xmlDirection
	sound      *xmlSound
}

type xmlAttributes struct {
	Divisions int      `xml:"divisions,omitempty"`
	Key       *xmlKey  `xml:"key,omitempty"`
	Time      *xmlTime `xml:"time,omitempty"`
	Clef      *xmlClef `xml:"clef,omitempty"`
}

type xmlKey struct {
	Fifths int `xml:"fifths"`
}

type xmlTime struct {
	Beats    int `xml:"beats"`
	BeatType int `xml:"beat-type"`
}

type xmlClef struct {
	Sign string `xml:"sign"`
	Line int    `xml:"line"`
}

type xmlDirection struct {
	Placement string      `xml:"placement,attr,omitempty"`
	Type      *xmlDirType `xml:"direction-type,omitempty"`
	Sound     *xmlSound   `xml:"sound,omitempty"`
}

type xmlDirType struct {
	Words string `xml:"words,omitempty"`
}

type xmlSound struct {
	Tempo float64 `xml:"tempo,attr,omitempty"`
}

type xmlDuration struct {
	Duration int `xml:"duration"`
}

type xmlHarmony struct {
	Root   xmlRoot `xml:"root"`
	Kind   string  `xml:"kind"`
	Offset int     `xml:"offset,omitempty"`
}

type xmlRoot struct {
	Step  string  `xml:"root-step"`
	Alter float64 `xml:"root-alter,omitempty"`
}

type xmlNote struct {
	Grace     *struct{}  `xml:"grace,omitempty"`
	Chord     *struct{}  `xml:"chord,omitempty"`
	Pitch     *xmlPitch  `xml:"pitch,omitempty"`
	Rest      *struct{}  `xml:"rest,omitempty"`
	Unpitched *struct{}  `xml:"unpitched,omitempty"`
	Duration  int        `xml:"duration"`
	Voice     string     `xml:"voice,omitempty"`
	Type      string     `xml:"type,omitempty"`
	Dots      []struct{} `xml:"dot,omitempty"`
}

type xmlPitch struct {
	Step   string  `xml:"step"`
	Alter  float64 `xml:"alter,omitempty"`
	Octave int     `xml:"octave"`
}

// UnmarshalXML walks the measure children in order so that backup, forward
// and chord notes are applied where they occur.
func (m *xmlMeasure) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	for _, a := range start.Attr {
		if a.Name.Local == "number" {
			m.Number = a.Value
		}
	}
	for {
		tok, err := d.Token()
		if err != nil {
			return err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			var item xmlMeasureItem
			switch t.Name.Local {
			case "note":
				item.note = &xmlNote{}
				err = d.DecodeElement(item.note, &t)
			case "backup":
				item.backup = &xmlDuration{}
				err = d.DecodeElement(item.backup, &t)
			case "forward":
				item.forward = &xmlDuration{}
				err = d.DecodeElement(item.forward, &t)
			case "harmony":
				item.harmony = &xmlHarmony{}
				err = d.DecodeElement(item.harmony, &t)
			case "attributes":
				item.attributes = &xmlAttributes{}
				err = d.DecodeElement(item.attributes, &t)
			case "direction":
				item.direction = &xmlDirection{}
				err = d.DecodeElement(item.direction, &t)
			case "sound":
				item.sound = &xmlSound{}
				err = d.DecodeElement(item.sound, &t)
			default:
				err = d.Skip()
			}
			if err != nil {
				return err
			}
			if item != (xmlMeasureItem{}) {
				m.items = append(m.items, item)
			}
		case xml.EndElement:
			return nil
		}
	}
}

// ParseMusicXML reads an uncompressed partwise MusicXML document.
func ParseMusicXML(data []byte) (*Score, error) {
	root, err := rootElement(data)
	if err != nil {
		return nil, fmt.Errorf("read musicxml: %w", err)
	}
	if root != "score-partwise" {
		return nil, fmt.Errorf("%w: musicxml root <%s>", ErrUnsupportedFormat, root)
	}

	var doc xmlScorePartwise
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode musicxml: %w", err)
	}

	s := &Score{Title: docTitle(doc)}
	names := make(map[string]string, len(doc.PartList.ScoreParts))
	for _, sp := range doc.PartList.ScoreParts {
		names[sp.ID] = sp.Name
	}

	for _, xp := range doc.Parts {
		part := Part{ID: xp.ID, Name: names[xp.ID]}
		divisions := 1
		var pos, lastStart float64

		for _, m := range xp.Measures {
			for _, item := range m.items {
				switch {
				case item.attributes != nil:
					if item.attributes.Divisions > 0 {
						divisions = item.attributes.Divisions
					}
				case item.direction != nil:
					if item.direction.Sound != nil && s.Tempo == 0 {
						s.Tempo = item.direction.Sound.Tempo
					}
				case item.sound != nil:
					if s.Tempo == 0 {
						s.Tempo = item.sound.Tempo
					}
				case item.backup != nil:
					pos = math.Max(0, pos-quarters(item.backup.Duration, divisions))
				case item.forward != nil:
					pos += quarters(item.forward.Duration, divisions)
				case item.harmony != nil:
					h := item.harmony
					s.Harmonies = append(s.Harmonies, Harmony{
						Offset: pos + quarters(h.Offset, divisions),
						Root:   rootName(h.Root.Step, h.Root.Alter),
						Kind:   h.Kind,
					})
				case item.note != nil:
					n := item.note
					if n.Grace != nil {
						continue
					}
					dur := quarters(n.Duration, divisions)

					if n.Chord != nil && len(part.Events) > 0 {
						last := &part.Events[len(part.Events)-1]
						if last.Offset == lastStart && (last.Kind == KindNote || last.Kind == KindChord) {
							if pitch, ok := n.midi(); ok {
								last.Kind = KindChord
								last.Pitches = append(last.Pitches, pitch)
								last.Duration = math.Max(last.Duration, dur)
							}
							continue
						}
					}

					ev := Event{Offset: pos, Duration: dur}
					switch pitch, ok := n.midi(); {
					case n.Rest != nil:
						ev.Kind = KindRest
					case ok:
						ev.Kind = KindNote
						ev.Pitches = []int{pitch}
					default:
						ev.Kind = KindUnpitched
					}
					part.Events = append(part.Events, ev)
					lastStart = pos
					pos += dur
				}
			}
		}
		s.Parts = append(s.Parts, part)
	}

	return s, nil
}

// docTitle prefers the work title over the movement title.
func docTitle(doc xmlScorePartwise) string {
	if doc.Work != nil && doc.Work.Title != "" {
		return doc.Work.Title
	}
	return doc.MovementTitle
}

func (n *xmlNote) midi() (int, bool) {
	if n.Pitch == nil {
		return 0, false
	}
	return StepToMIDI(n.Pitch.Step, n.Pitch.Alter, n.Pitch.Octave)
}

func quarters(duration, divisions int) float64 {
	if divisions <= 0 {
		divisions = 1
	}
	return float64(duration) / float64(divisions)
}

// WriteMusicXML renders a score as a partwise MusicXML document in 4/4.
// Gaps between events are filled with rests.
func WriteMusicXML(s *Score) ([]byte, error) {
	if s == nil {
		return nil, fmt.Errorf("write musicxml: nil score")
	}

	doc := xmlScorePartwise{Version: "4.0"}
	if s.Title != "" {
		doc.Work = &xmlWork{Title: s.Title}
	}

	for i, p := range s.Parts {
		id := p.ID
		if id == "" {
			id = "P" + strconv.Itoa(i+1)
		}
		name := p.Name
		if name == "" {
			name = fmt.Sprintf("Voice %d", i+1)
		}
		doc.PartList.ScoreParts = append(doc.PartList.ScoreParts, xmlScorePart{ID: id, Name: name})
		doc.Parts = append(doc.Parts, xmlPart{ID: id, Measures: layoutMeasures(s, p, i == 0)})
	}

	out, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode musicxml: %w", err)
	}

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	buf.WriteString(musicXMLDoctype)
	buf.Write(out)
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

func layoutMeasures(s *Score, p Part, first bool) []xmlMeasure {
	events := make([]Event, len(p.Events))
	copy(events, p.Events)
	sort.SliceStable(events, func(i, j int) bool { return events[i].Offset < events[j].Offset })

	var measures []xmlMeasure
	measureAt := func(idx int) *xmlMeasure {
		for len(measures) <= idx {
			measures = append(measures, xmlMeasure{Number: strconv.Itoa(len(measures) + 1)})
		}
		return &measures[idx]
	}

	head := measureAt(0)
	head.Attributes = &xmlAttributes{
		Divisions: outDivisions,
		Key:       &xmlKey{Fifths: 0},
		Time:      &xmlTime{Beats: 4, BeatType: 4},
		Clef:      &xmlClef{Sign: "G", Line: 2},
	}
	if first && s.Tempo > 0 {
		head.Direction = &xmlDirection{Placement: "above", Sound: &xmlSound{Tempo: s.Tempo}}
	}

	var pos float64
	for _, e := range events {
		if e.Offset > pos {
			appendRest(measureAt, pos, e.Offset-pos)
			pos = e.Offset
		}
		m := measureAt(int(e.Offset / outMeasureQuarter))
		dur := divisionsOf(e.Duration)
		switch e.Kind {
		case KindNote, KindChord:
			for i, pitch := range e.Pitches {
				n := xmlNote{Pitch: outPitch(pitch), Duration: dur, Voice: "1", Type: noteType(e.Duration)}
				if i > 0 {
					n.Chord = &struct{}{}
				}
				m.Notes = append(m.Notes, n)
			}
		default:
			m.Notes = append(m.Notes, xmlNote{Rest: &struct{}{}, Duration: dur, Voice: "1", Type: noteType(e.Duration)})
		}
		if end := e.Offset + e.Duration; end > pos {
			pos = end
		}
	}
	return measures
}

func appendRest(measureAt func(int) *xmlMeasure, from, length float64) {
	for length > 0 {
		idx := int(from / outMeasureQuarter)
		room := float64(idx+1)*outMeasureQuarter - from
		d := math.Min(room, length)
		m := measureAt(idx)
		m.Notes = append(m.Notes, xmlNote{Rest: &struct{}{}, Duration: divisionsOf(d), Voice: "1", Type: noteType(d)})
		from += d
		length -= d
	}
}

func outPitch(n int) *xmlPitch {
	step, alter, octave := MIDIToStep(n)
	return &xmlPitch{Step: step, Alter: float64(alter), Octave: octave}
}

func divisionsOf(q float64) int {
	d := int(math.Round(q * outDivisions))
	if d < 1 {
		d = 1
	}
	return d
}

var noteTypes = []struct {
	quarters float64
	name     string
}{
	{4, "whole"},
	{2, "half"},
	{1, "quarter"},
	{0.5, "eighth"},
	{0.25, "16th"},
}

func noteType(q float64) string {
	for _, nt := range noteTypes {
		if math.Abs(nt.quarters-q) < 1e-9 {
			return nt.name
		}
	}
	return ""
}
