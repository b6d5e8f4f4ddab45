package score

import (
	"archive/zip"
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const partwiseFixture = `<?xml version="1.0" encoding="UTF-8"?>
<score-partwise version="4.0">
  <work><work-title>Scale</work-title></work>
  <part-list>
    <score-part id="P1"><part-name>Soprano</part-name></score-part>
  </part-list>
  <part id="P1">
    <measure number="1">
      <attributes><divisions>2</divisions></attributes>
      <direction><sound tempo="90"/></direction>
      <harmony><root><root-step>C</root-step></root><kind>major</kind></harmony>
      <note><pitch><step>C</step><octave>4</octave></pitch><duration>2</duration></note>
      <note><pitch><step>E</step><octave>4</octave></pitch><duration>2</duration></note>
      <note><chord/><pitch><step>G</step><octave>4</octave></pitch><duration>2</duration></note>
      <harmony><root><root-step>F</root-step><root-alter>1</root-alter></root><kind>minor</kind></harmony>
      <note><rest/><duration>2</duration></note>
      <note><grace/><pitch><step>D</step><octave>4</octave></pitch><duration>0</duration></note>
      <note><pitch><step>F</step><alter>1</alter><octave>4</octave></pitch><duration>2</duration></note>
      <backup><duration>8</duration></backup>
      <note><unpitched><display-step>E</display-step><display-octave>4</display-octave></unpitched><duration>8</duration></note>
    </measure>
  </part>
</score-partwise>`

func TestParseMusicXML(t *testing.T) {
	s, err := ParseMusicXML([]byte(partwiseFixture))
	require.NoError(t, err)

	assert.Equal(t, "Scale", s.Title)
	assert.Equal(t, 90.0, s.Tempo)
	require.Len(t, s.Parts, 1)
	assert.Equal(t, "Soprano", s.Parts[0].Name)

	events := s.Parts[0].Events
	require.Len(t, events, 5)
	assert.Equal(t, Event{Kind: KindNote, Pitches: []int{60}, Offset: 0, Duration: 1}, events[0])
	assert.Equal(t, KindChord, events[1].Kind)
	assert.Equal(t, []int{64, 67}, events[1].Pitches)
	assert.Equal(t, KindRest, events[2].Kind)
	assert.Equal(t, Event{Kind: KindNote, Pitches: []int{66}, Offset: 3, Duration: 1}, events[3])
	assert.Equal(t, KindUnpitched, events[4].Kind)
	assert.Equal(t, 0.0, events[4].Offset)

	require.Len(t, s.Harmonies, 2)
	assert.Equal(t, "C", s.Harmonies[0].Root)
	assert.Equal(t, "F#", s.Harmonies[1].Root)
	assert.Equal(t, 2.0, s.Harmonies[1].Offset)

	pitches, err := ExtractPitches(s)
	require.NoError(t, err)
	assert.Equal(t, []int{60, 66}, pitches)
}

func TestParseMusicXML_Timewise(t *testing.T) {
	_, err := ParseMusicXML([]byte(`<score-timewise version="4.0"></score-timewise>`))
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestWriteMusicXML_RoundTrip(t *testing.T) {
	in := &Score{
		Title: "Arrangement",
		Tempo: 100,
		Parts: []Part{
			{Name: "Voice 1", Events: []Event{
				{Kind: KindNote, Pitches: []int{60}, Offset: 0, Duration: 1},
				{Kind: KindNote, Pitches: []int{62}, Offset: 2, Duration: 1},
				{Kind: KindChord, Pitches: []int{64, 67}, Offset: 5, Duration: 1},
			}},
			{Name: "Voice 2", Events: []Event{
				{Kind: KindNote, Pitches: []int{48}, Offset: 0, Duration: 4},
			}},
		},
	}

	data, err := WriteMusicXML(in)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("<?xml")))
	assert.Contains(t, string(data), "<!DOCTYPE score-partwise")

	out, err := ParseMusicXML(data)
	require.NoError(t, err)
	assert.Equal(t, "Arrangement", out.Title)
	assert.Equal(t, 100.0, out.Tempo)
	require.Len(t, out.Parts, 2)
	assert.Equal(t, "Voice 1", out.Parts[0].Name)

	pitches, err := ExtractPitches(out)
	require.NoError(t, err)
	assert.Equal(t, []int{60, 48, 62}, pitches)

	var chord Event
	for _, e := range out.Parts[0].Events {
		if e.Kind == KindChord {
			chord = e
		}
	}
	assert.Equal(t, []int{64, 67}, chord.Pitches)
	assert.Equal(t, 5.0, chord.Offset)
}

func TestMIDI_RoundTrip(t *testing.T) {
	in := &Score{
		Title: "Round",
		Tempo: 96,
		Parts: []Part{
			{Name: "Lead", Events: []Event{
				{Kind: KindNote, Pitches: []int{60}, Offset: 0, Duration: 1},
				{Kind: KindNote, Pitches: []int{60}, Offset: 1, Duration: 0.5},
				{Kind: KindRest, Offset: 1.5, Duration: 0.5},
				{Kind: KindChord, Pitches: []int{64, 67}, Offset: 2, Duration: 2},
			}},
			{Name: "Bass", Events: []Event{
				{Kind: KindNote, Pitches: []int{36}, Offset: 0, Duration: 4},
			}},
		},
	}

	data, err := WriteMIDI(in)
	require.NoError(t, err)
	assert.Equal(t, FormatMIDI, Sniff(data))

	out, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, "Round", out.Title)
	assert.InDelta(t, 96.0, out.Tempo, 0.01)
	require.Len(t, out.Parts, 2)
	assert.Equal(t, "Lead", out.Parts[0].Name)

	lead := out.Parts[0].Events
	require.Len(t, lead, 3)
	assert.Equal(t, Event{Kind: KindNote, Pitches: []int{60}, Offset: 0, Duration: 1}, lead[0])
	assert.Equal(t, Event{Kind: KindNote, Pitches: []int{60}, Offset: 1, Duration: 0.5}, lead[1])
	assert.Equal(t, KindChord, lead[2].Kind)
	assert.ElementsMatch(t, []int{64, 67}, lead[2].Pitches)
	assert.Equal(t, 2.0, lead[2].Duration)

	pitches, err := ExtractPitches(out)
	require.NoError(t, err)
	assert.Equal(t, []int{60, 36, 60}, pitches)
}

func TestWriteMIDI_InvalidTiming(t *testing.T) {
	_, err := WriteMIDI(&Score{Parts: []Part{{ID: "P1", Events: []Event{
		{Kind: KindNote, Pitches: []int{60}, Offset: 0, Duration: 0},
	}}}})
	assert.Error(t, err)
}

const mscxFixture = `<?xml version="1.0" encoding="UTF-8"?>
<museScore version="3.02">
  <Score>
    <metaTag name="workTitle">Hymn</metaTag>
    <Part>
      <Staff id="1"><StaffType group="pitched"/></Staff>
      <trackName>Tenor</trackName>
    </Part>
    <Staff id="1">
      <Measure>
        <voice>
          <Tempo><tempo>1.5</tempo></Tempo>
          <Harmony><root>17</root><name>m</name></Harmony>
          <Chord><durationType>quarter</durationType><Note><pitch>57</pitch></Note></Chord>
          <Chord><durationType>half</durationType><dots>1</dots><Note><pitch>60</pitch></Note><Note><pitch>64</pitch></Note></Chord>
        </voice>
      </Measure>
      <Measure>
        <voice>
          <Rest><durationType>measure</durationType><duration>4/4</duration></Rest>
        </voice>
      </Measure>
      <Measure>
        <voice>
          <Tuplet><normalNotes>2</normalNotes><actualNotes>3</actualNotes></Tuplet>
          <Chord><durationType>eighth</durationType><Note><pitch>62</pitch></Note></Chord>
          <endTuplet/>
        </voice>
      </Measure>
    </Staff>
  </Score>
</museScore>`

func TestParseMSCZ(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("hymn.mscx")
	require.NoError(t, err)
	_, err = w.Write([]byte(mscxFixture))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	assert.Equal(t, FormatMSCZ, Sniff(buf.Bytes()))

	s, err := Parse(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, "Hymn", s.Title)
	assert.Equal(t, 90.0, s.Tempo)
	require.Len(t, s.Parts, 1)
	assert.Equal(t, "Tenor", s.Parts[0].Name)

	events := s.Parts[0].Events
	require.Len(t, events, 4)
	assert.Equal(t, Event{Kind: KindNote, Pitches: []int{57}, Offset: 0, Duration: 1}, events[0])
	assert.Equal(t, KindChord, events[1].Kind)
	assert.Equal(t, 3.0, events[1].Duration)
	assert.Equal(t, Event{Kind: KindRest, Offset: 4, Duration: 4}, events[2])
	assert.InDelta(t, 1.0/3, events[3].Duration, 1e-9)
	assert.Equal(t, 8.0, events[3].Offset)

	require.Len(t, s.Harmonies, 1)
	assert.Equal(t, "A", s.Harmonies[0].Root)
}

func TestParseMXL(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	c, err := zw.Create("META-INF/container.xml")
	require.NoError(t, err)
	_, err = c.Write([]byte(`<container><rootfiles><rootfile full-path="score.musicxml"/></rootfiles></container>`))
	require.NoError(t, err)
	w, err := zw.Create("score.musicxml")
	require.NoError(t, err)
	_, err = w.Write([]byte(partwiseFixture))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	assert.Equal(t, FormatMXL, Sniff(buf.Bytes()))
	s, err := Parse(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, "Scale", s.Title)
}

func TestParse_Unsupported(t *testing.T) {
	_, err := Parse([]byte("just some text"))
	assert.ErrorIs(t, err, ErrUnsupportedFormat)

	_, err = Parse([]byte(`<html><body/></html>`))
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestExtractPitches_NoNotes(t *testing.T) {
	s := &Score{Parts: []Part{{Events: []Event{
		{Kind: KindRest, Duration: 4},
		{Kind: KindChord, Pitches: []int{60, 64}, Offset: 4, Duration: 1},
	}}}}
	_, err := ExtractPitches(s)
	assert.ErrorIs(t, err, ErrNoNotes)
}

const twoPartFixture = `<?xml version="1.0" encoding="UTF-8"?>
<score-partwise version="4.0">
  <part-list>
    <score-part id="S"><part-name>Soprano</part-name></score-part>
    <score-part id="B"><part-name>Bass</part-name></score-part>
  </part-list>
  <part id="S">
    <measure number="1">
      <attributes><divisions>1</divisions></attributes>
      <note><pitch><step>C</step><octave>5</octave></pitch><duration>1</duration></note>
      <note><pitch><step>D</step><octave>5</octave></pitch><duration>1</duration></note>
    </measure>
  </part>
  <part id="B">
    <measure number="1">
      <attributes><divisions>1</divisions></attributes>
      <note><pitch><step>C</step><octave>3</octave></pitch><duration>1</duration></note>
      <note><pitch><step>D</step><octave>3</octave></pitch><duration>1</duration></note>
    </measure>
  </part>
</score-partwise>`

func TestExtractPitches_MergesPartsByOffset(t *testing.T) {
	s, err := ParseMusicXML([]byte(twoPartFixture))
	require.NoError(t, err)
	require.Len(t, s.Parts, 2)

	pitches, err := ExtractPitches(s)
	require.NoError(t, err)
	assert.Equal(t, []int{72, 48, 74, 50}, pitches)
}

func TestExtractPitches_UnsortedPart(t *testing.T) {
	s := &Score{Parts: []Part{
		{Events: []Event{
			{Kind: KindNote, Pitches: []int{67}, Offset: 2, Duration: 1},
			{Kind: KindNote, Pitches: []int{64}, Offset: 0, Duration: 1},
			{Kind: KindNote, Pitches: []int{65}, Offset: 0, Duration: 1},
		}},
		{Events: []Event{
			{Kind: KindNote, Pitches: []int{43}, Offset: 1, Duration: 1},
			{Kind: KindNote, Pitches: []int{41}, Offset: 0, Duration: 1},
		}},
	}}

	pitches, err := ExtractPitches(s)
	require.NoError(t, err)
	assert.Equal(t, []int{64, 65, 41, 43, 67}, pitches)
}

func TestRealizeChordDurations(t *testing.T) {
	s := &Score{
		Parts: []Part{{Events: []Event{{Kind: KindRest, Duration: 8}}}},
		Harmonies: []Harmony{
			{Offset: 4, Root: "G", Kind: "major"},
			{Offset: 0, Root: "C", Kind: "major"},
		},
	}

	chords, err := RealizeChordDurations(s)
	require.NoError(t, err)
	require.Len(t, chords, 2)
	assert.Equal(t, "C", chords[0].Root)
	assert.Equal(t, 4.0, chords[0].Duration)
	assert.Equal(t, 4.0, chords[1].Duration)
	assert.Zero(t, s.Harmonies[0].Duration)

	_, err = RealizeChordDurations(nil)
	assert.Error(t, err)
}

func TestNearestPitch(t *testing.T) {
	assert.Equal(t, 60, NearestPitch(59.6))
	assert.Equal(t, 0, NearestPitch(-12))
	assert.Equal(t, 127, NearestPitch(300))
	assert.Equal(t, 0, NearestPitch(nanValue()))
}

func nanValue() float64 {
	zero := 0.0
	return zero / zero
}
