package score

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
)

// Format identifies a notation file format recognized by Sniff.
type Format string

const (
	FormatUnknown  Format = ""
	FormatMIDI     Format = "midi"
	FormatMusicXML Format = "musicxml"
	FormatMXL      Format = "mxl"
	FormatMSCZ     Format = "mscz"
	FormatMSCX     Format = "mscx"
)

var zipMagic = []byte("PK\x03\x04")

// Sniff detects the notation format from the content alone.
func Sniff(data []byte) Format {
	switch {
	case bytes.HasPrefix(data, []byte("MThd")):
		return FormatMIDI
	case bytes.HasPrefix(data, zipMagic):
		zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
		if err != nil {
			return FormatUnknown
		}
		for _, f := range zr.File {
			if strings.EqualFold(path.Ext(f.Name), ".mscx") {
				return FormatMSCZ
			}
		}
		return FormatMXL
	}

	root, err := rootElement(data)
	if err != nil {
		return FormatUnknown
	}
	switch root {
	case "score-partwise", "score-timewise":
		return FormatMusicXML
	case "museScore":
		return FormatMSCX
	}
	return FormatUnknown
}

// Parse reads any supported notation format into a Score. It fails with
// ErrUnsupportedFormat when the content is not recognized.
func Parse(data []byte) (*Score, error) {
	switch f := Sniff(data); f {
	case FormatMIDI:
		return ParseMIDI(data)
	case FormatMusicXML:
		return ParseMusicXML(data)
	case FormatMXL:
		return ParseMXL(data)
	case FormatMSCZ:
		return ParseMSCZ(data)
	case FormatMSCX:
		return ParseMSCX(data)
	default:
		return nil, ErrUnsupportedFormat
	}
}

type mxlContainer struct {
	Rootfiles []struct {
		FullPath string `xml:"full-path,attr"`
	} `xml:"rootfiles>rootfile"`
}

// ParseMXL reads compressed MusicXML. The document named by
// META-INF/container.xml is used, falling back to the first .xml or
// .musicxml entry.
func ParseMXL(data []byte) (*Score, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("read mxl: %w", err)
	}

	entries := make(map[string]*zip.File, len(zr.File))
	for _, f := range zr.File {
		entries[f.Name] = f
	}

	var target *zip.File
	if c, ok := entries["META-INF/container.xml"]; ok {
		raw, err := readZipEntry(c)
		if err != nil {
			return nil, fmt.Errorf("read mxl container: %w", err)
		}
		var container mxlContainer
		if err := xml.Unmarshal(raw, &container); err == nil && len(container.Rootfiles) > 0 {
			target = entries[container.Rootfiles[0].FullPath]
		}
	}
	if target == nil {
		for _, f := range zr.File {
			if strings.HasPrefix(f.Name, "META-INF/") {
				continue
			}
			ext := strings.ToLower(path.Ext(f.Name))
			if ext == ".xml" || ext == ".musicxml" {
				target = f
				break
			}
		}
	}
	if target == nil {
		return nil, fmt.Errorf("%w: mxl archive has no score document", ErrUnsupportedFormat)
	}

	doc, err := readZipEntry(target)
	if err != nil {
		return nil, fmt.Errorf("read mxl: %w", err)
	}
	return ParseMusicXML(doc)
}

// rootElement returns the local name of the first element in an XML document.
func rootElement(data []byte) (string, error) {
	d := xml.NewDecoder(bytes.NewReader(data))
	d.Strict = false
	for {
		tok, err := d.Token()
		if errors.Is(err, io.EOF) {
			return "", errors.New("no root element")
		}
		if err != nil {
			return "", err
		}
		if se, ok := tok.(xml.StartElement); ok {
			return se.Name.Local, nil
		}
	}
}

// Codec bundles the package's readers and writers behind one value so
// callers can depend on an interface.
type Codec struct{}

func (Codec) Parse(data []byte) (*Score, error)         { return Parse(data) }
func (Codec) WriteMIDI(s *Score) ([]byte, error)        { return WriteMIDI(s) }
func (Codec) WriteMusicXML(s *Score) ([]byte, error)    { return WriteMusicXML(s) }
func (Codec) ExtractPitches(s *Score) ([]int, error)    { return ExtractPitches(s) }
func (Codec) RealizeChords(s *Score) ([]Harmony, error) { return RealizeChordDurations(s) }
