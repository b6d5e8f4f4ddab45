package model

// Job status
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
)

// IsDone reports whether the status is terminal.
func (s JobStatus) IsDone() bool {
	return s == JobStatusSucceeded || s == JobStatusFailed
}

// ArtifactFormat is the byte format of a stored artifact.
type ArtifactFormat string

const (
	FormatMIDI     ArtifactFormat = "midi"
	FormatMusicXML ArtifactFormat = "musicxml"
	// FormatUpload marks an uploaded score kept for a queued job.
	FormatUpload ArtifactFormat = "upload"
)

// Extension returns the file extension used when storing the format.
func (f ArtifactFormat) Extension() string {
	switch f {
	case FormatMIDI:
		return ".mid"
	case FormatMusicXML:
		return ".xml"
	default:
		return ".bin"
	}
}

// ArtifactRole names an artifact inside a successful conversion result.
type ArtifactRole string

const (
	RoleInputMIDI  ArtifactRole = "input_midi"
	RoleOutputMIDI ArtifactRole = "output_midi"
	RoleOutputXML  ArtifactRole = "output_xml"
)

// Voicing selects the per-voice transform applied by the arrangement builder.
type Voicing string

const (
	VoicingUnison  Voicing = "unison"
	VoicingOctaves Voicing = "octaves"
)

// Conversion defaults
const (
	DefaultVoices = 4
	DefaultStyle  = "classical"
)

// AllowedExtensions lists the upload extensions accepted for conversion.
var AllowedExtensions = []string{"mscz", "musicxml", "xml", "mid", "midi"}
