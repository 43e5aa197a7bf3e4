package entities

// MediaKind identifies an outbound frame kind
type MediaKind string

const (
	MediaKindAudio MediaKind = "audio"
	MediaKindImage MediaKind = "image"
	MediaKindText  MediaKind = "text"
)

// Frame is an immutable unit of outbound data
type Frame interface {
	Kind() MediaKind
}

// AudioChunk is raw little-endian PCM16 mono audio
type AudioChunk struct {
	PCM        []byte
	SampleRate int
}

func (AudioChunk) Kind() MediaKind { return MediaKindAudio }

// ImageChunk is one JPEG frame, already base64 encoded for the wire
type ImageChunk struct {
	JPEGBase64 string
	Width      int
	Height     int
}

func (ImageChunk) Kind() MediaKind { return MediaKindImage }

// TextTurn is typed user input
type TextTurn struct {
	Text      string
	EndOfTurn bool
}

func (TextTurn) Kind() MediaKind { return MediaKindText }
