package stt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"go.uber.org/zap"

	"github.com/satriahrh/parley/domain/repositories"
)

// ErrNoSpeech is returned by End when the utterance held no recognizable words
var ErrNoSpeech = errors.New("no speech detected in audio")

// GoogleSpeechToText implements SpeechToText for Google Cloud.
// One client is shared by every utterance stream.
type GoogleSpeechToText struct {
	client *speech.Client
	logger *zap.Logger
}

// NewGoogleSpeechToText dials Google Cloud Speech using application default credentials
func NewGoogleSpeechToText(ctx context.Context, logger *zap.Logger) (*GoogleSpeechToText, error) {
	client, err := speech.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create speech client: %w", err)
	}
	return &GoogleSpeechToText{client: client, logger: logger}, nil
}

// Close releases the shared client
func (g *GoogleSpeechToText) Close() error {
	return g.client.Close()
}

func (g *GoogleSpeechToText) InitTranscribeStreaming(ctx context.Context, config repositories.AudioConfig) (repositories.SpeechToTextStreaming, error) {
	encoding, err := getAudioEncoding(config.Encoding)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	stream, err := g.client.StreamingRecognize(ctx)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create streaming recognize: %w", err)
	}

	if err := stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: &speechpb.StreamingRecognitionConfig{
				Config: &speechpb.RecognitionConfig{
					Encoding:                   encoding,
					SampleRateHertz:            int32(config.SampleRate),
					LanguageCode:               config.Language,
					EnableAutomaticPunctuation: true,
				},
				InterimResults: false,
			},
		},
	}); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to send streaming config: %w", err)
	}

	g.logger.Debug("Recognition stream opened",
		zap.Int("sampleRate", config.SampleRate),
		zap.String("language", config.Language))

	return &GoogleSpeechToTextStream{
		stream:     stream,
		ctx:        ctx,
		cancel:     cancel,
		resultChan: make(chan string, 1),
		errorChan:  make(chan error, 1),
	}, nil
}

type GoogleSpeechToTextStream struct {
	stream        speechpb.Speech_StreamingRecognizeClient
	ctx           context.Context
	cancel        context.CancelFunc
	audioReceived bool
	resultChan    chan string
	errorChan     chan error
	receiverOnce  sync.Once
}

func (g *GoogleSpeechToTextStream) Stream(data []byte) error {
	g.receiverOnce.Do(func() {
		go g.receiveResults()
	})

	if len(data) == 0 {
		return nil
	}
	g.audioReceived = true

	if err := g.stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{
			AudioContent: data,
		},
	}); err != nil {
		return fmt.Errorf("failed to send audio data: %w", err)
	}
	return nil
}

func (g *GoogleSpeechToTextStream) End() (string, error) {
	defer g.cancel()

	if !g.audioReceived {
		return "", errors.New("no audio data received")
	}

	if err := g.stream.CloseSend(); err != nil {
		return "", fmt.Errorf("failed to close send stream: %w", err)
	}

	select {
	case <-g.ctx.Done():
		return "", fmt.Errorf("context cancelled while waiting for result: %w", g.ctx.Err())
	case err := <-g.errorChan:
		return "", err
	case result := <-g.resultChan:
		if result == "" {
			return "", ErrNoSpeech
		}
		return result, nil
	}
}

func (g *GoogleSpeechToTextStream) receiveResults() {
	var transcript string
	for {
		resp, err := g.stream.Recv()
		if err == io.EOF {
			g.resultChan <- transcript
			return
		}
		if err != nil {
			g.errorChan <- fmt.Errorf("failed to receive response: %w", err)
			return
		}

		for _, result := range resp.GetResults() {
			if result.GetIsFinal() && len(result.GetAlternatives()) > 0 {
				if transcript != "" {
					transcript += " "
				}
				transcript += result.GetAlternatives()[0].GetTranscript()
			}
		}
	}
}

// TranscribeAudio converts a complete utterance through a single stream
func (g *GoogleSpeechToText) TranscribeAudio(ctx context.Context, audioData []byte, config repositories.AudioConfig) (string, error) {
	stream, err := g.InitTranscribeStreaming(ctx, config)
	if err != nil {
		return "", fmt.Errorf("failed to initialize streaming: %w", err)
	}
	if err := stream.Stream(audioData); err != nil {
		return "", fmt.Errorf("failed to stream audio data: %w", err)
	}
	return stream.End()
}

// getAudioEncoding converts string encoding to Google Speech API enum
func getAudioEncoding(encoding string) (speechpb.RecognitionConfig_AudioEncoding, error) {
	switch encoding {
	case "WAV", "LINEAR16":
		return speechpb.RecognitionConfig_LINEAR16, nil
	case "FLAC":
		return speechpb.RecognitionConfig_FLAC, nil
	case "MULAW":
		return speechpb.RecognitionConfig_MULAW, nil
	case "OGG_OPUS":
		return speechpb.RecognitionConfig_OGG_OPUS, nil
	case "WEBM_OPUS":
		return speechpb.RecognitionConfig_WEBM_OPUS, nil
	default:
		return speechpb.RecognitionConfig_ENCODING_UNSPECIFIED, fmt.Errorf("unsupported audio encoding: %s", encoding)
	}
}
