package score

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"math"
	"path"
	"sort"
	"strconv"
	"strings"
)

const maxArchiveEntry = 64 << 20

// ParseMSCZ reads a compressed MuseScore file.
func ParseMSCZ(data []byte) (*Score, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("read mscz: %w", err)
	}
	for _, f := range zr.File {
		if strings.EqualFold(path.Ext(f.Name), ".mscx") {
			doc, err := readZipEntry(f)
			if err != nil {
				return nil, fmt.Errorf("read mscz: %w", err)
			}
			return ParseMSCX(doc)
		}
	}
	return nil, fmt.Errorf("%w: mscz archive has no .mscx document", ErrUnsupportedFormat)
}

func readZipEntry(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	data, err := io.ReadAll(io.LimitReader(rc, maxArchiveEntry+1))
	if err != nil {
		return nil, err
	}
	if len(data) > maxArchiveEntry {
		return nil, fmt.Errorf("entry %s exceeds %d bytes", f.Name, maxArchiveEntry)
	}
	return data, nil
}

type mscxDocument struct {
	XMLName xml.Name  `xml:"museScore"`
	Score   mscxScore `xml:"Score"`
}

type mscxScore struct {
	MetaTags []mscxMetaTag `xml:"metaTag"`
	Parts    []mscxPart    `xml:"Part"`
	Staves   []mscxStaff   `xml:"Staff"`
}

type mscxMetaTag struct {
	Name  string `xml:"name,attr"`
	Value string `xml:",chardata"`
}

type mscxPart struct {
	Staves    []mscxStaffRef `xml:"Staff"`
	TrackName string         `xml:"trackName"`
}

type mscxStaffRef struct {
	ID string `xml:"id,attr"`
}

type mscxStaff struct {
	ID       string        `xml:"id,attr"`
	Measures []mscxMeasure `xml:"Measure"`
}

// mscxMeasure holds one sequence per voice. Older files put chords and
// rests directly under the measure; those land in the first voice.
type mscxMeasure struct {
	Voices [][]mscxItem
}

type mscxItem struct {
	chord    *mscxChord
	rest     *mscxRest
	harmony  *mscxHarmony
	tempo    *mscxTempo
	tuplet   *mscxTuplet
	endTuple bool
}

type mscxChord struct {
	DurationType string     `xml:"durationType"`
	Dots         int        `xml:"dots"`
	Notes        []mscxNote `xml:"Note"`
	Grace        []struct{} `xml:"acciaccatura"`
	Appoggiatura []struct{} `xml:"appoggiatura"`
}

type mscxNote struct {
	Pitch int `xml:"pitch"`
}

type mscxRest struct {
	DurationType string `xml:"durationType"`
	Dots         int    `xml:"dots"`
	Duration     string `xml:"duration"`
}

type mscxHarmony struct {
	Root int    `xml:"root"`
	Name string `xml:"name"`
}

type mscxTempo struct {
	Tempo float64 `xml:"tempo"`
}

type mscxTuplet struct {
	NormalNotes int `xml:"normalNotes"`
	ActualNotes int `xml:"actualNotes"`
}

func (m *mscxMeasure) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	var direct []mscxItem
	for {
		tok, err := d.Token()
		if err != nil {
			return err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local == "voice" {
				items, err := decodeMSCXSequence(d)
				if err != nil {
					return err
				}
				m.Voices = append(m.Voices, items)
				continue
			}
			item, err := decodeMSCXItem(d, t)
			if err != nil {
				return err
			}
			if item != nil {
				direct = append(direct, *item)
			}
		case xml.EndElement:
			if len(direct) > 0 {
				m.Voices = append([][]mscxItem{direct}, m.Voices...)
			}
			return nil
		}
	}
}

func decodeMSCXSequence(d *xml.Decoder) ([]mscxItem, error) {
	var items []mscxItem
	for {
		tok, err := d.Token()
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			item, err := decodeMSCXItem(d, t)
			if err != nil {
				return nil, err
			}
			if item != nil {
				items = append(items, *item)
			}
		case xml.EndElement:
			return items, nil
		}
	}
}

func decodeMSCXItem(d *xml.Decoder, t xml.StartElement) (*mscxItem, error) {
	var (
		item mscxItem
		err  error
	)
	switch t.Name.Local {
	case "Chord":
		item.chord = &mscxChord{}
		err = d.DecodeElement(item.chord, &t)
	case "Rest":
		item.rest = &mscxRest{}
		err = d.DecodeElement(item.rest, &t)
	case "Harmony":
		item.harmony = &mscxHarmony{}
		err = d.DecodeElement(item.harmony, &t)
	case "Tempo":
		item.tempo = &mscxTempo{}
		err = d.DecodeElement(item.tempo, &t)
	case "Tuplet":
		item.tuplet = &mscxTuplet{}
		err = d.DecodeElement(item.tuplet, &t)
	case "endTuplet":
		item.endTuple = true
		err = d.Skip()
	default:
		return nil, d.Skip()
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// ParseMSCX reads an uncompressed MuseScore document. Each staff becomes
// a part.
func ParseMSCX(data []byte) (*Score, error) {
	var doc mscxDocument
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode mscx: %w", err)
	}

	s := &Score{}
	for _, tag := range doc.Score.MetaTags {
		if tag.Name == "workTitle" {
			s.Title = strings.TrimSpace(tag.Value)
		}
	}

	names := map[string]string{}
	for _, p := range doc.Score.Parts {
		for _, ref := range p.Staves {
			names[ref.ID] = p.TrackName
		}
	}

	for _, staff := range doc.Score.Staves {
		part := Part{ID: "P" + staff.ID, Name: names[staff.ID]}
		var measureStart float64
		for _, m := range staff.Measures {
			measureEnd := measureStart
			for vi, voice := range m.Voices {
				end := s.readVoice(&part, voice, measureStart, vi == 0)
				measureEnd = math.Max(measureEnd, end)
			}
			measureStart = measureEnd
		}
		s.Parts = append(s.Parts, part)
	}
	sortEvents(s)
	return s, nil
}

func (s *Score) readVoice(part *Part, items []mscxItem, pos float64, primary bool) float64 {
	ratio := 1.0
	for _, item := range items {
		switch {
		case item.tempo != nil:
			if s.Tempo == 0 && item.tempo.Tempo > 0 {
				s.Tempo = math.Round(item.tempo.Tempo*60*100) / 100
			}
		case item.tuplet != nil:
			if item.tuplet.ActualNotes > 0 && item.tuplet.NormalNotes > 0 {
				ratio = float64(item.tuplet.NormalNotes) / float64(item.tuplet.ActualNotes)
			}
		case item.endTuple:
			ratio = 1
		case item.harmony != nil:
			if primary {
				s.Harmonies = append(s.Harmonies, Harmony{
					Offset: pos,
					Root:   tpcName(item.harmony.Root),
					Kind:   item.harmony.Name,
				})
			}
		case item.chord != nil:
			c := item.chord
			if len(c.Grace) > 0 || len(c.Appoggiatura) > 0 {
				continue
			}
			dur := durationQuarters(c.DurationType, c.Dots) * ratio
			ev := Event{Offset: pos, Duration: dur}
			for _, n := range c.Notes {
				ev.Pitches = append(ev.Pitches, ClampPitch(n.Pitch))
			}
			switch len(ev.Pitches) {
			case 0:
				ev.Kind = KindUnpitched
			case 1:
				ev.Kind = KindNote
			default:
				ev.Kind = KindChord
			}
			part.Events = append(part.Events, ev)
			pos += dur
		case item.rest != nil:
			r := item.rest
			var dur float64
			if r.DurationType == "measure" {
				dur = fractionQuarters(r.Duration)
			} else {
				dur = durationQuarters(r.DurationType, r.Dots) * ratio
			}
			part.Events = append(part.Events, Event{Kind: KindRest, Offset: pos, Duration: dur})
			pos += dur
		}
	}
	return pos
}

// sortEvents orders each part's events by offset so that secondary voices
// interleave with the first.
func sortEvents(s *Score) {
	for i := range s.Parts {
		events := s.Parts[i].Events
		sort.SliceStable(events, func(a, b int) bool { return events[a].Offset < events[b].Offset })
	}
}

var durationTypes = map[string]float64{
	"long":    16,
	"breve":   8,
	"whole":   4,
	"half":    2,
	"quarter": 1,
	"eighth":  0.5,
	"16th":    0.25,
	"32nd":    0.125,
	"64th":    0.0625,
	"128th":   0.03125,
}

func durationQuarters(kind string, dots int) float64 {
	base, ok := durationTypes[kind]
	if !ok {
		base = 1
	}
	return base * (2 - math.Pow(0.5, float64(dots)))
}

// fractionQuarters converts a "4/4" style measure duration to quarters.
func fractionQuarters(f string) float64 {
	num, den, ok := strings.Cut(strings.TrimSpace(f), "/")
	if !ok {
		return 4
	}
	n, err1 := strconv.Atoi(num)
	d, err2 := strconv.Atoi(den)
	if err1 != nil || err2 != nil || d == 0 {
		return 4
	}
	return float64(n) * 4 / float64(d)
}

// tpcName spells a MuseScore tonal pitch class, where 14 is C.
func tpcName(tpc int) string {
	const letters = "FCGDAEB"
	idx := tpc + 1
	if idx < 0 {
		return ""
	}
	return rootName(string(letters[idx%7]), float64(idx/7-2))
}
