package transport

import (
	"encoding/json"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/satriahrh/parley/domain/entities"
	"github.com/satriahrh/parley/domain/repositories"
	"github.com/satriahrh/parley/internal/codec"
)

const (
	defaultModel           = "models/gemini-2.0-flash-exp"
	defaultSafetyThreshold = genai.HarmBlockThresholdBlockOnlyHigh

	audioMimeType = "audio/pcm"
	imageMimeType = "image/jpeg"
)

// Outbound envelopes. Each frame carries exactly one top-level key.

type setupMessage struct {
	Setup setupPayload `json:"setup"`
}

type setupPayload struct {
	Model                    string                 `json:"model"`
	GenerationConfig         generationConfig       `json:"generationConfig"`
	SystemInstruction        *genai.Content         `json:"systemInstruction,omitempty"`
	SafetySettings           []*genai.SafetySetting `json:"safetySettings,omitempty"`
	Tools                    []*genai.Tool          `json:"tools,omitempty"`
	InputAudioTranscription  *transcriptionConfig   `json:"inputAudioTranscription,omitempty"`
	OutputAudioTranscription *transcriptionConfig   `json:"outputAudioTranscription,omitempty"`
}

type generationConfig struct {
	Temperature        float32             `json:"temperature"`
	TopP               float32             `json:"top_p"`
	TopK               int                 `json:"top_k"`
	ResponseModalities []genai.Modality    `json:"responseModalities"`
	SpeechConfig       *genai.SpeechConfig `json:"speechConfig,omitempty"`
}

type transcriptionConfig struct{}

type realtimeInputMessage struct {
	RealtimeInput realtimeInput `json:"realtimeInput"`
}

type realtimeInput struct {
	MediaChunks []mediaChunk `json:"mediaChunks"`
}

type mediaChunk struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type clientContentMessage struct {
	ClientContent clientContent `json:"clientContent"`
}

type clientContent struct {
	Turns        []*genai.Content `json:"turns"`
	TurnComplete bool             `json:"turnComplete"`
}

type toolResponseMessage struct {
	ToolResponse toolResponse `json:"toolResponse"`
}

type toolResponse struct {
	FunctionResponses []*genai.FunctionResponse `json:"functionResponses"`
}

// Inbound envelope. Unknown keys are ignored.

type serverMessage struct {
	SetupComplete        *json.RawMessage      `json:"setupComplete,omitempty"`
	ServerContent        *serverContent        `json:"serverContent,omitempty"`
	ToolCall             *toolCall             `json:"toolCall,omitempty"`
	ToolCallCancellation *toolCallCancellation `json:"toolCallCancellation,omitempty"`
	GoAway               *goAway               `json:"goAway,omitempty"`
	Error                *serverError          `json:"error,omitempty"`
}

type serverContent struct {
	ModelTurn           *modelTurn     `json:"modelTurn,omitempty"`
	TurnComplete        bool           `json:"turnComplete,omitempty"`
	Interrupted         bool           `json:"interrupted,omitempty"`
	InputTranscription  *transcription `json:"inputTranscription,omitempty"`
	OutputTranscription *transcription `json:"outputTranscription,omitempty"`
}

type modelTurn struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type inlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type transcription struct {
	Text string `json:"text"`
}

type toolCall struct {
	FunctionCalls []*genai.FunctionCall `json:"functionCalls"`
}

type toolCallCancellation struct {
	IDs []string `json:"ids"`
}

type goAway struct {
	TimeLeft string `json:"timeLeft,omitempty"`
}

type serverError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

func encodeSetup(cfg repositories.SetupConfig) ([]byte, error) {
	model := cfg.Model
	if model == "" {
		model = defaultModel
	}
	if !strings.HasPrefix(model, "models/") {
		model = "models/" + model
	}

	modalities := make([]genai.Modality, 0, len(cfg.ResponseModalities))
	for _, m := range cfg.ResponseModalities {
		modalities = append(modalities, genai.Modality(strings.ToUpper(m)))
	}
	if len(modalities) == 0 {
		modalities = []genai.Modality{genai.ModalityAudio}
	}

	payload := setupPayload{
		Model: model,
		GenerationConfig: generationConfig{
			Temperature:        cfg.Temperature,
			TopP:               cfg.TopP,
			TopK:               cfg.TopK,
			ResponseModalities: modalities,
		},
		SafetySettings: safetySettings(cfg.SafetyThreshold),
	}

	if cfg.Voice != "" {
		payload.GenerationConfig.SpeechConfig = &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: cfg.Voice},
			},
		}
	}
	if cfg.SystemInstruction != "" {
		payload.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{genai.NewPartFromText(cfg.SystemInstruction)},
		}
	}
	if len(cfg.Tools) > 0 {
		payload.Tools = []*genai.Tool{{FunctionDeclarations: functionDeclarations(cfg.Tools)}}
	}
	if cfg.EnableTranscription {
		payload.InputAudioTranscription = &transcriptionConfig{}
		payload.OutputAudioTranscription = &transcriptionConfig{}
	}

	return json.Marshal(setupMessage{Setup: payload})
}

func safetySettings(threshold string) []*genai.SafetySetting {
	t := defaultSafetyThreshold
	if threshold != "" {
		t = genai.HarmBlockThreshold(strings.ToUpper(threshold))
	}
	categories := []genai.HarmCategory{
		genai.HarmCategoryHarassment,
		genai.HarmCategoryHateSpeech,
		genai.HarmCategorySexuallyExplicit,
		genai.HarmCategoryDangerousContent,
	}
	settings := make([]*genai.SafetySetting, 0, len(categories))
	for _, c := range categories {
		settings = append(settings, &genai.SafetySetting{Category: c, Threshold: t})
	}
	return settings
}

func functionDeclarations(tools []repositories.ToolDeclaration) []*genai.FunctionDeclaration {
	decls := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, tool := range tools {
		schema := &genai.Schema{
			Type:       genai.TypeObject,
			Properties: make(map[string]*genai.Schema, len(tool.Params)),
		}
		for _, p := range tool.Params {
			schema.Properties[p.Name] = &genai.Schema{
				Type:        genai.Type(strings.ToUpper(p.Type)),
				Description: p.Description,
			}
			if p.Required {
				schema.Required = append(schema.Required, p.Name)
			}
		}
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        tool.Name,
			Description: tool.Description,
			Parameters:  schema,
		})
	}
	return decls
}

func encodeAudio(chunk entities.AudioChunk) ([]byte, error) {
	mime := audioMimeType
	if chunk.SampleRate > 0 && chunk.SampleRate != 16000 {
		mime = fmt.Sprintf("%s;rate=%d", audioMimeType, chunk.SampleRate)
	}
	return json.Marshal(realtimeInputMessage{RealtimeInput: realtimeInput{
		MediaChunks: []mediaChunk{{MimeType: mime, Data: codec.EncodeBase64(chunk.PCM)}},
	}})
}

func encodeImage(chunk entities.ImageChunk) ([]byte, error) {
	return json.Marshal(realtimeInputMessage{RealtimeInput: realtimeInput{
		MediaChunks: []mediaChunk{{MimeType: imageMimeType, Data: chunk.JPEGBase64}},
	}})
}

func encodeText(turn entities.TextTurn) ([]byte, error) {
	return json.Marshal(clientContentMessage{ClientContent: clientContent{
		Turns:        []*genai.Content{genai.NewContentFromText(turn.Text, genai.RoleUser)},
		TurnComplete: turn.EndOfTurn,
	}})
}

func encodeToolResponse(resp repositories.ToolResponse) ([]byte, error) {
	return json.Marshal(toolResponseMessage{ToolResponse: toolResponse{
		FunctionResponses: []*genai.FunctionResponse{{
			ID:       resp.ID,
			Name:     resp.Name,
			Response: resp.Response,
		}},
	}})
}

// decodeServerMessage parses one inbound frame. Text and binary frames both carry JSON.
func decodeServerMessage(data []byte) (*serverMessage, error) {
	var msg serverMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, entities.NewProtocolError("unparseable server message", err)
	}
	return &msg, nil
}

// demux turns one server message into events. toolCall wins over
// toolCallCancellation, which wins over serverContent. Within serverContent an
// interruption suppresses everything else, and turnComplete is emitted after
// the parts that arrived with it. Non-audio inline data rides in the Content
// event. Inline parts that fail to decode are dropped and reported through
// dropped.
func demux(msg *serverMessage) (events []entities.InboundEvent, dropped []error) {
	switch {
	case msg.ToolCall != nil:
		for _, fc := range msg.ToolCall.FunctionCalls {
			if fc == nil {
				continue
			}
			events = append(events, entities.ToolCall{ID: fc.ID, Name: fc.Name, Args: fc.Args})
		}
		return events, nil

	case msg.ToolCallCancellation != nil:
		return []entities.InboundEvent{entities.ToolCallCancellation{IDs: msg.ToolCallCancellation.IDs}}, nil

	case msg.ServerContent != nil:
		sc := msg.ServerContent
		if sc.Interrupted {
			return []entities.InboundEvent{entities.Interrupted{}}, nil
		}

		if sc.InputTranscription != nil && sc.InputTranscription.Text != "" {
			events = append(events, entities.Transcription{Speaker: entities.SpeakerUser, Text: sc.InputTranscription.Text})
		}
		if sc.OutputTranscription != nil && sc.OutputTranscription.Text != "" {
			events = append(events, entities.Transcription{Speaker: entities.SpeakerAgent, Text: sc.OutputTranscription.Text})
		}

		if sc.ModelTurn != nil {
			var content entities.Content
			for _, p := range sc.ModelTurn.Parts {
				if p.InlineData != nil {
					data, err := codec.DecodeBase64(p.InlineData.Data)
					if err != nil {
						dropped = append(dropped, err)
						continue
					}
					if strings.HasPrefix(p.InlineData.MimeType, "audio/") {
						events = append(events, entities.AudioData{Data: data})
					} else {
						content.Media = append(content.Media, entities.InlineMedia{MimeType: p.InlineData.MimeType, Data: data})
					}
				}
				if p.Text != "" {
					content.Parts = append(content.Parts, p.Text)
				}
			}
			if len(content.Parts) > 0 || len(content.Media) > 0 {
				events = append(events, content)
			}
		}

		if sc.TurnComplete {
			events = append(events, entities.TurnComplete{})
		}
	}
	return events, dropped
}
