package usecase

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap/zaptest"

	"github.com/satriahrh/parley/domain/entities"
	"github.com/satriahrh/parley/domain/repositories"
	"github.com/satriahrh/parley/internal/arbiter"
	"github.com/satriahrh/parley/internal/config"
)

type harness struct {
	o         *Orchestrator
	mic       *fakeMic
	camera    *fakeVisual
	transport *fakeTransport
	player    *fakePlayer
	reports   *fakeReports
	mock      *clock.Mock
}

func testSessionConfig() config.SessionConfig {
	return config.SessionConfig{
		Mode:                config.ModeLive,
		Model:               "models/test",
		Voice:               "Puck",
		EnableTranscription: true,
		SilenceWindow:       arbiter.SilenceWindow,
		EndTurnWait:         5 * time.Second,
		StartWithMic:        true,
	}
}

func newHarness(t *testing.T, cfg config.SessionConfig) *harness {
	t.Helper()
	h := &harness{
		mic:       &fakeMic{},
		camera:    &fakeVisual{},
		transport: newFakeTransport(),
		player:    &fakePlayer{},
		reports:   &fakeReports{},
		mock:      clock.NewMock(),
	}
	h.o = NewOrchestrator(cfg, Dependencies{
		Microphone: h.mic,
		Camera:     h.camera,
		Player:     h.player,
		Transport:  func() repositories.Transport { return h.transport },
		Reports:    h.reports,
		Clock:      h.mock,
	}, zaptest.NewLogger(t))
	t.Cleanup(func() { h.o.Close(context.Background()) })
	return h
}

func (h *harness) connect(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	if _, err := h.o.StartSession(ctx, entities.SessionParams{Role: "Backend Engineer", Level: "Senior"}); err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}
	if err := h.o.Connect(ctx); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
}

// finishAgentTurn ends the agent's turn and lets the silence window elapse
func (h *harness) finishAgentTurn(t *testing.T) {
	t.Helper()
	h.transport.emit(entities.TurnComplete{})
	eventually(t, func() bool { return h.o.Status().Speaking == entities.SpeakingPendingSilence },
		"expected pending silence after turn complete")
	h.mock.Add(arbiter.SilenceWindow)
	eventually(t, func() bool { return h.o.Status().Speaking == entities.SpeakingIdle },
		"expected idle after the silence window")
}

func TestSessionHappyPath(t *testing.T) {
	h := newHarness(t, testSessionConfig())
	h.connect(t)

	status := h.o.Status()
	if status.State != entities.SessionStateActive {
		t.Fatalf("Expected active session, got %s", status.State)
	}
	if status.Connection != entities.ConnectionOpen || !status.MicActive {
		t.Errorf("Expected open connection with mic on, got %+v", status)
	}

	setup := h.transport.Setup()
	if !strings.Contains(setup.SystemInstruction, "Backend Engineer") || !strings.Contains(setup.SystemInstruction, "Senior") {
		t.Errorf("Expected role and level in system instruction, got %q", setup.SystemInstruction)
	}
	if len(setup.Tools) != 1 || setup.Tools[0].Name != FeedbackToolName {
		t.Errorf("Expected feedback tool declared, got %+v", setup.Tools)
	}
	if texts := h.transport.Texts(); len(texts) != 1 || texts[0].Text != kickoffText {
		t.Errorf("Expected opening turn, got %+v", texts)
	}

	// agent asks a question
	h.transport.emit(entities.AudioData{Data: make([]byte, 480)})
	h.transport.emit(entities.Transcription{Speaker: entities.SpeakerAgent, Text: "Tell me about"})
	h.transport.emit(entities.Transcription{Speaker: entities.SpeakerAgent, Text: "yourself."})
	eventually(t, func() bool { return h.o.Status().Speaking == entities.SpeakingAgent }, "expected agent speaking")
	if h.mic.Producing() {
		t.Error("Expected mic muted while the agent speaks")
	}
	h.finishAgentTurn(t)
	if !h.mic.Producing() {
		t.Error("Expected mic producing once the agent is done")
	}
	if h.player.Streamed() != 480 {
		t.Errorf("Expected agent audio played, got %d bytes", h.player.Streamed())
	}

	// user answers
	h.mic.speak(entities.AudioChunk{PCM: make([]byte, 640), SampleRate: 16000})
	if h.transport.AudioSent() != 1 {
		t.Errorf("Expected mic frame forwarded, got %d", h.transport.AudioSent())
	}
	h.transport.emit(entities.Transcription{Speaker: entities.SpeakerUser, Text: "I build distributed systems."})
	h.transport.emit(entities.ToolCall{
		ID:   "call-1",
		Name: FeedbackToolName,
		Args: map[string]any{"feedback": "Clear and concise answer", "score": float64(8)},
	})
	eventually(t, func() bool { return len(h.transport.ToolResponses()) == 1 }, "expected tool response")
	if resp := h.transport.ToolResponses()[0]; resp.ID != "call-1" || resp.Response["result"] != "recorded" {
		t.Errorf("Unexpected tool response %+v", resp)
	}

	h.transport.setOnText(func(turn entities.TextTurn) {
		if turn.Text == closingText {
			h.transport.emit(entities.Transcription{Speaker: entities.SpeakerAgent, Text: "Thanks, goodbye."})
			h.transport.emit(entities.TurnComplete{})
		}
	})

	report, err := h.o.EndSession(context.Background())
	if err != nil {
		t.Fatalf("EndSession failed: %v", err)
	}
	if len(report.Turns) != 1 {
		t.Fatalf("Expected one turn, got %+v", report.Turns)
	}
	turn := report.Turns[0]
	if turn.Question != "Tell me about yourself." || turn.Answer != "I build distributed systems." {
		t.Errorf("Unexpected pairing %+v", turn)
	}
	if turn.Score != 8 || report.OverallScore != 8 {
		t.Errorf("Expected score 8, got turn %v overall %v", turn.Score, report.OverallScore)
	}

	records := h.reports.Records()
	if len(records) != 1 {
		t.Fatalf("Expected one saved record, got %d", len(records))
	}
	if records[0].Role != "Backend Engineer" || records[0].OverallScore != 8 {
		t.Errorf("Unexpected record %+v", records[0])
	}
	if h.o.LastRecordID() != records[0].ID {
		t.Errorf("Expected last record id %s, got %s", records[0].ID, h.o.LastRecordID())
	}

	status = h.o.Status()
	if status.State != entities.SessionStateEnded {
		t.Errorf("Expected ended, got %s", status.State)
	}
	if status.Connection != entities.ConnectionClosed || h.mic.Active() {
		t.Errorf("Expected connection closed and mic released, got %s mic=%v", status.Connection, h.mic.Active())
	}
}

func TestConnectWithMicPermissionDenied(t *testing.T) {
	h := newHarness(t, testSessionConfig())
	h.mic.startErr = entities.NewPermissionError("microphone permission denied", nil)
	h.connect(t)

	status := h.o.Status()
	if status.State != entities.SessionStateActive {
		t.Fatalf("Expected session to stay active, got %s", status.State)
	}
	if status.ErrorCategory != entities.CategoryPermission || status.Error != "microphone permission denied" {
		t.Errorf("Expected permission error surfaced, got %q (%s)", status.Error, status.ErrorCategory)
	}
	if status.MicActive {
		t.Error("Expected mic off")
	}

	if err := h.o.SendText(context.Background(), "I prefer typing"); err != nil {
		t.Fatalf("SendText failed: %v", err)
	}
	transcript := h.o.Status().Transcript
	if len(transcript) != 1 || transcript[0].Speaker != entities.SpeakerUser {
		t.Errorf("Expected typed answer in transcript, got %+v", transcript)
	}
}

func TestAbnormalDisconnectMovesToError(t *testing.T) {
	h := newHarness(t, testSessionConfig())
	h.connect(t)

	h.transport.terminate(entities.NewConnectionError(entities.CodeAbnormalClosure, "connection lost", nil))
	eventually(t, func() bool { return h.o.Status().State == entities.SessionStateError }, "expected error state")

	status := h.o.Status()
	if status.ErrorCategory != entities.CategoryConnection || status.Error != "connection lost" {
		t.Errorf("Unexpected error surfaced: %q (%s)", status.Error, status.ErrorCategory)
	}
	if h.mic.Active() {
		t.Error("Expected mic released")
	}

	err := h.o.SendText(context.Background(), "hello?")
	if !entities.IsCategory(err, entities.CategoryNotConnected) {
		t.Errorf("Expected not_connected, got %v", err)
	}
	if _, err := h.o.EndSession(context.Background()); !errors.Is(err, entities.ErrState) {
		t.Errorf("Expected state error ending a failed session, got %v", err)
	}
}

func TestConnectFailureCompensates(t *testing.T) {
	h := newHarness(t, testSessionConfig())
	h.transport.connectErr = entities.NewConnectionError(entities.CodeAuthInvalid, "invalid API key", nil)

	ctx := context.Background()
	if _, err := h.o.StartSession(ctx, entities.SessionParams{Role: "Designer", Level: "Junior"}); err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}
	err := h.o.Connect(ctx)
	if !errors.Is(err, &entities.Error{Category: entities.CategoryConnection, Code: entities.CodeAuthInvalid}) {
		t.Fatalf("Expected auth_invalid connection error, got %v", err)
	}

	status := h.o.Status()
	if status.State != entities.SessionStateError || status.Error != "invalid API key" {
		t.Errorf("Expected error state with message, got %s %q", status.State, status.Error)
	}
	if h.mic.Active() {
		t.Error("Expected mic released by compensation")
	}

	// a fresh session may follow a failed one
	if _, err := h.o.StartSession(ctx, entities.SessionParams{Role: "Designer", Level: "Junior"}); err != nil {
		t.Errorf("Expected new session after failure, got %v", err)
	}
}

func TestToggleMicWhileAgentSpeaking(t *testing.T) {
	h := newHarness(t, testSessionConfig())
	h.connect(t)

	h.transport.emit(entities.AudioData{Data: make([]byte, 100)})
	eventually(t, func() bool { return h.o.Status().Speaking == entities.SpeakingAgent }, "expected agent speaking")

	err := h.o.ToggleMic(context.Background())
	if !entities.IsCategory(err, entities.CategoryState) || !strings.Contains(err.Error(), "wait until the AI finishes speaking") {
		t.Fatalf("Expected rejection while agent speaks, got %v", err)
	}

	h.finishAgentTurn(t)
	if err := h.o.ToggleMic(context.Background()); err != nil {
		t.Fatalf("ToggleMic failed: %v", err)
	}
	if h.o.Status().MicActive || h.mic.Producing() {
		t.Error("Expected mic off after toggle")
	}

	// an agent turn must not reopen a mic the user turned off
	h.transport.emit(entities.AudioData{Data: make([]byte, 100)})
	eventually(t, func() bool { return h.o.Status().Speaking == entities.SpeakingAgent }, "expected agent speaking")
	h.finishAgentTurn(t)
	if h.mic.Producing() {
		t.Error("Expected mic to stay off after the agent finished")
	}

	if err := h.o.ToggleMic(context.Background()); err != nil {
		t.Fatalf("ToggleMic failed: %v", err)
	}
	if !h.o.Status().MicActive || !h.mic.Producing() {
		t.Error("Expected mic back on")
	}
}

func TestToggleCameraAndExternalStop(t *testing.T) {
	h := newHarness(t, testSessionConfig())

	if err := h.o.ToggleCamera(context.Background()); !errors.Is(err, entities.ErrState) {
		t.Errorf("Expected state error before connect, got %v", err)
	}
	h.connect(t)

	updates, cancel := h.o.Subscribe()
	defer cancel()
	<-updates

	if err := h.o.ToggleCamera(context.Background()); err != nil {
		t.Fatalf("ToggleCamera failed: %v", err)
	}
	if !h.o.Status().CameraActive {
		t.Fatal("Expected camera on")
	}

	h.camera.endExternally()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case snap := <-updates:
			if !snap.CameraActive {
				return
			}
		case <-deadline:
			t.Fatal("Expected a snapshot with the camera off")
		}
	}
}

func TestScreenShareNotConfigured(t *testing.T) {
	h := newHarness(t, testSessionConfig())
	h.connect(t)

	err := h.o.ToggleScreenShare(context.Background())
	if !errors.Is(err, &entities.Error{Category: entities.CategoryDevice, Code: entities.CodeDeviceNotFound}) {
		t.Errorf("Expected device_not_found, got %v", err)
	}
	if h.o.Status().State != entities.SessionStateActive {
		t.Error("Expected session to continue")
	}
}

func TestEndSessionWaitIsBounded(t *testing.T) {
	h := newHarness(t, testSessionConfig())
	h.connect(t)

	type result struct {
		report entities.StructuredReport
		err    error
	}
	done := make(chan result, 1)
	go func() {
		report, err := h.o.EndSession(context.Background())
		done <- result{report, err}
	}()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case res := <-done:
			if res.err != nil {
				t.Fatalf("EndSession failed: %v", res.err)
			}
			if res.report.OverallScore != 7 || len(res.report.Turns) != 0 {
				t.Errorf("Expected neutral empty report, got %+v", res.report)
			}
			if len(h.reports.Records()) != 1 {
				t.Error("Expected record saved")
			}
			return
		case <-deadline:
			t.Fatal("EndSession did not return after the wait elapsed")
		default:
			h.mock.Add(time.Second)
			time.Sleep(2 * time.Millisecond)
		}
	}
}

func TestEndSessionReportsSaveFailure(t *testing.T) {
	h := newHarness(t, testSessionConfig())
	h.reports.saveErr = errors.New("disk full")
	h.connect(t)
	h.transport.setOnText(func(turn entities.TextTurn) {
		if turn.Text == closingText {
			h.transport.emit(entities.TurnComplete{})
		}
	})

	report, err := h.o.EndSession(context.Background())
	if err == nil || !strings.Contains(err.Error(), "disk full") {
		t.Errorf("Expected save error, got %v", err)
	}
	if report.OverallScore != 7 {
		t.Errorf("Expected report despite save failure, got %+v", report)
	}
	if h.o.Status().State != entities.SessionStateEnded {
		t.Errorf("Expected ended, got %s", h.o.Status().State)
	}
}

func TestStartSessionRules(t *testing.T) {
	h := newHarness(t, testSessionConfig())
	ctx := context.Background()

	if _, err := h.o.StartSession(ctx, entities.SessionParams{Level: "Senior"}); err == nil {
		t.Error("Expected missing role to be rejected")
	}

	h.connect(t)
	if _, err := h.o.StartSession(ctx, entities.SessionParams{Role: "PM", Level: "Mid"}); !errors.Is(err, entities.ErrState) {
		t.Errorf("Expected state error while a session runs, got %v", err)
	}

	if err := h.o.Disconnect(ctx); err != nil {
		t.Fatalf("Disconnect failed: %v", err)
	}
	if h.o.Status().State != entities.SessionStateEnded {
		t.Errorf("Expected ended after disconnect, got %s", h.o.Status().State)
	}
	if err := h.o.SendText(ctx, "anyone?"); !entities.IsCategory(err, entities.CategoryNotConnected) {
		t.Errorf("Expected not_connected after disconnect, got %v", err)
	}
}

func TestInterruptStopsPlayback(t *testing.T) {
	h := newHarness(t, testSessionConfig())
	h.connect(t)

	h.transport.emit(entities.AudioData{Data: make([]byte, 100)})
	h.transport.emit(entities.Interrupted{})
	eventually(t, func() bool { return h.o.Status().Speaking == entities.SpeakingPendingSilence }, "expected pending silence")

	h.player.mu.Lock()
	stops := h.player.stops
	h.player.mu.Unlock()
	if stops == 0 {
		t.Error("Expected playback stopped on interruption")
	}
}
