package repositories

import "context"

// TextToSpeech streams synthesized PCM16 audio for the given text
type TextToSpeech interface {
	ConvertTextToSpeech(ctx context.Context, text string) (<-chan []byte, error)
}
