package usecase

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/satriahrh/parley/domain/entities"
	"github.com/satriahrh/parley/domain/repositories"
	"github.com/satriahrh/parley/internal/codec"
	"github.com/satriahrh/parley/internal/metrics"
)

const (
	defaultVoiceThreshold = 0.02
	defaultEndOfUtterance = 800 * time.Millisecond
	pipelineEventBuffer   = 256
	pipelineTurnBuffer    = 8
)

// PipelineOptions tunes local recognition in pipeline mode
type PipelineOptions struct {
	Language string
	// VoiceThreshold is the RMS level above which a chunk counts as speech
	VoiceThreshold float64
	// EndOfUtterance is the silence that closes a user utterance
	EndOfUtterance time.Duration
}

// PipelineTransport stands in for the live agent when it is unavailable. It
// recognizes user speech locally, asks a text chat model for the reply and
// synthesizes it, emitting the same events as the live connection.
type PipelineTransport struct {
	speechToText repositories.SpeechToText
	textToSpeech repositories.TextToSpeech
	llm          repositories.LargeLanguageModel
	opts         PipelineOptions
	clock        clock.Clock
	metrics      *metrics.Metrics
	logger       *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	state     entities.ConnectionState
	err       error
	chat      repositories.ChatSession
	utterance repositories.SpeechToTextStreaming
	timer     *clock.Timer
	gen       uint64

	turns     chan string
	events    chan entities.InboundEvent
	closing   chan struct{}
	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
	imageOnce sync.Once
}

var _ repositories.Transport = (*PipelineTransport)(nil)

// NewPipelineTransport creates an idle pipeline transport
func NewPipelineTransport(
	stt repositories.SpeechToText,
	tts repositories.TextToSpeech,
	llm repositories.LargeLanguageModel,
	opts PipelineOptions,
	clk clock.Clock,
	logger *zap.Logger,
	m *metrics.Metrics,
) *PipelineTransport {
	if opts.VoiceThreshold <= 0 {
		opts.VoiceThreshold = defaultVoiceThreshold
	}
	if opts.EndOfUtterance <= 0 {
		opts.EndOfUtterance = defaultEndOfUtterance
	}
	if clk == nil {
		clk = clock.New()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &PipelineTransport{
		speechToText: stt,
		textToSpeech: tts,
		llm:          llm,
		opts:         opts,
		clock:        clk,
		metrics:      m,
		logger:       logger.With(zap.String("transport", "pipeline")),
		ctx:          ctx,
		cancel:       cancel,
		state:        entities.ConnectionIdle,
		turns:        make(chan string, pipelineTurnBuffer),
		events:       make(chan entities.InboundEvent, pipelineEventBuffer),
		closing:      make(chan struct{}),
		done:         make(chan struct{}),
	}
}

// PipelineFactory builds a fresh pipeline transport per connection
func PipelineFactory(
	stt repositories.SpeechToText,
	tts repositories.TextToSpeech,
	llm repositories.LargeLanguageModel,
	opts PipelineOptions,
	clk clock.Clock,
	logger *zap.Logger,
	m *metrics.Metrics,
) repositories.TransportFactory {
	return func() repositories.Transport {
		return NewPipelineTransport(stt, tts, llm, opts, clk, logger, m)
	}
}

// Connect opens a chat seeded with the system instruction
func (p *PipelineTransport) Connect(ctx context.Context, setup repositories.SetupConfig) error {
	p.mu.Lock()
	if p.state != entities.ConnectionIdle {
		p.mu.Unlock()
		return entities.NewStateError("transport already used; construct a new one")
	}
	p.state = entities.ConnectionConnecting
	p.mu.Unlock()

	chat, err := p.llm.GenerateChat(ctx, setup.SystemInstruction, nil)
	if err != nil {
		connErr := entities.NewConnectionError(entities.CodeUnknown, "failed to start the interviewer chat", err)
		p.mu.Lock()
		p.state = entities.ConnectionError
		p.err = connErr
		p.mu.Unlock()
		p.closeAll()
		p.metrics.Error(string(entities.CategoryConnection), string(entities.CodeUnknown))
		return connErr
	}

	p.mu.Lock()
	if p.state != entities.ConnectionConnecting {
		p.mu.Unlock()
		return entities.NewNotConnectedError("disconnected while connecting")
	}
	p.chat = chat
	p.state = entities.ConnectionOpen
	p.wg.Add(1)
	go p.respondLoop()
	p.mu.Unlock()

	p.logger.Info("Pipeline transport open", zap.String("language", p.opts.Language))
	return nil
}

func (p *PipelineTransport) checkOpen() error {
	if p.state != entities.ConnectionOpen {
		return entities.NewNotConnectedError("pipeline transport is not open")
	}
	return nil
}

// SendAudio feeds microphone audio to local recognition. Voiced chunks open
// an utterance; EndOfUtterance of silence closes it.
func (p *PipelineTransport) SendAudio(ctx context.Context, chunk entities.AudioChunk) error {
	level, err := codec.RMS(chunk.PCM)
	if err != nil {
		return err
	}
	voiced := level >= p.opts.VoiceThreshold

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.checkOpen(); err != nil {
		return err
	}

	if p.utterance == nil {
		if !voiced {
			return nil
		}
		stream, err := p.speechToText.InitTranscribeStreaming(p.ctx, repositories.AudioConfig{
			SampleRate: chunk.SampleRate,
			Encoding:   "LINEAR16",
			Language:   p.opts.Language,
		})
		if err != nil {
			p.logger.Warn("Failed to start recognition", zap.Error(err))
			p.metrics.FrameDropped("recognition_unavailable")
			return nil
		}
		p.utterance = stream
		p.logger.Debug("Utterance started")
	}

	if err := p.utterance.Stream(chunk.PCM); err != nil {
		p.logger.Warn("Failed to stream audio to recognition", zap.Error(err))
	}
	p.metrics.FrameSent(string(entities.MediaKindAudio), len(chunk.PCM))

	if voiced {
		if p.timer != nil {
			p.timer.Stop()
		}
		p.gen++
		gen := p.gen
		p.timer = p.clock.AfterFunc(p.opts.EndOfUtterance, func() { p.finishUtterance(gen) })
	}
	return nil
}

func (p *PipelineTransport) finishUtterance(gen uint64) {
	p.mu.Lock()
	if gen != p.gen || p.utterance == nil || p.state != entities.ConnectionOpen {
		p.mu.Unlock()
		return
	}
	stream := p.utterance
	p.utterance = nil
	p.timer = nil
	p.wg.Add(1)
	p.mu.Unlock()

	go func() {
		defer p.wg.Done()
		text, err := stream.End()
		if err != nil {
			p.logger.Info("Utterance produced no transcript", zap.Error(err))
			return
		}
		p.logger.Info("Utterance recognized", zap.String("text", text))
		if !p.emit(entities.Transcription{Speaker: entities.SpeakerUser, Text: text}) {
			return
		}
		p.enqueue(text)
	}()
}

// SendImage is accepted and discarded; the text model cannot see
func (p *PipelineTransport) SendImage(ctx context.Context, chunk entities.ImageChunk) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.checkOpen(); err != nil {
		return err
	}
	p.imageOnce.Do(func() {
		p.logger.Info("Pipeline mode ignores video frames")
	})
	p.metrics.FrameDropped("unsupported")
	return nil
}

func (p *PipelineTransport) SendText(ctx context.Context, turn entities.TextTurn) error {
	p.mu.Lock()
	err := p.checkOpen()
	p.mu.Unlock()
	if err != nil {
		return err
	}
	p.metrics.FrameSent(string(entities.MediaKindText), len(turn.Text))
	select {
	case p.turns <- turn.Text:
		return nil
	case <-p.closing:
		return entities.NewNotConnectedError("pipeline transport closed")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SendToolResponse is a no-op; no tools are declared to the chat model
func (p *PipelineTransport) SendToolResponse(ctx context.Context, response repositories.ToolResponse) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.checkOpen()
}

func (p *PipelineTransport) enqueue(text string) {
	select {
	case p.turns <- text:
	case <-p.closing:
	}
}

func (p *PipelineTransport) respondLoop() {
	defer p.wg.Done()
	for {
		select {
		case <-p.closing:
			return
		case text := <-p.turns:
			p.respond(text)
		}
	}
}

// respond runs one agent turn: chat reply, transcription, audio, turn end
func (p *PipelineTransport) respond(text string) {
	p.mu.Lock()
	chat := p.chat
	p.mu.Unlock()

	reply, err := chat.SendMessage(p.ctx, repositories.ChatMessage{Role: repositories.UserRole, Content: text})
	if err != nil {
		p.logger.Error("Chat reply failed", zap.Error(err))
		p.metrics.Error(string(entities.CategoryConnection), string(entities.CodeUnknown))
		p.emit(entities.TurnComplete{})
		return
	}

	if !p.emit(entities.Transcription{Speaker: entities.SpeakerAgent, Text: reply.Content}) {
		return
	}

	audio, err := p.textToSpeech.ConvertTextToSpeech(p.ctx, reply.Content)
	if err != nil {
		p.logger.Error("Speech synthesis failed", zap.Error(err))
	} else {
		for chunk := range audio {
			p.metrics.InboundEvent(string(entities.EventAudioData), len(chunk))
			if !p.emit(entities.AudioData{Data: chunk}) {
				return
			}
		}
	}
	p.emit(entities.TurnComplete{})
}

// emit reports false once the transport is closing
func (p *PipelineTransport) emit(ev entities.InboundEvent) bool {
	select {
	case p.events <- ev:
		return true
	case <-p.closing:
		return false
	}
}

func (p *PipelineTransport) Events() <-chan entities.InboundEvent {
	return p.events
}

func (p *PipelineTransport) State() entities.ConnectionState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *PipelineTransport) Done() <-chan struct{} {
	return p.done
}

func (p *PipelineTransport) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Disconnect stops recognition and synthesis and closes Events
func (p *PipelineTransport) Disconnect(ctx context.Context) error {
	p.mu.Lock()
	switch p.state {
	case entities.ConnectionIdle, entities.ConnectionConnecting:
		p.state = entities.ConnectionClosed
		p.mu.Unlock()
		p.cancel()
		p.closeAll()
		return nil
	case entities.ConnectionOpen:
		p.state = entities.ConnectionClosed
	default:
		p.mu.Unlock()
		return nil
	}
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	stream := p.utterance
	p.utterance = nil
	p.mu.Unlock()

	close(p.closing)
	p.cancel()
	if stream != nil {
		go stream.End()
	}
	go func() {
		p.wg.Wait()
		close(p.events)
		close(p.done)
	}()

	select {
	case <-p.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	p.logger.Info("Pipeline transport closed")
	return nil
}

// closeAll releases the channels when no worker ever started
func (p *PipelineTransport) closeAll() {
	p.closeOnce.Do(func() {
		close(p.closing)
		close(p.events)
		close(p.done)
	})
}
