package usecase

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/satriahrh/parley/domain/entities"
	"github.com/satriahrh/parley/domain/repositories"
	"github.com/satriahrh/parley/internal/arbiter"
	"github.com/satriahrh/parley/internal/config"
	"github.com/satriahrh/parley/internal/metrics"
	"github.com/satriahrh/parley/internal/saga"
	"github.com/satriahrh/parley/internal/transcript"
)

// sendTimeout bounds sends issued from background goroutines
const sendTimeout = 5 * time.Second

// Dependencies are the collaborators an Orchestrator drives. Devices and the
// player outlive individual sessions; a transport is built per connection.
type Dependencies struct {
	Microphone repositories.Microphone
	Camera     repositories.VisualDevice
	Screen     repositories.VisualDevice
	Player     repositories.AudioPlayer
	Transport  repositories.TransportFactory
	Reports    repositories.ReportRepository
	Clock      clock.Clock
	Metrics    *metrics.Metrics
}

// sessionRun holds everything scoped to one session
type sessionRun struct {
	session    *entities.Session
	transport  repositories.Transport
	arbiter    *arbiter.Arbiter
	gate       *arbiter.MicGate
	transcript *transcript.Aggregator
	watchdog   *SessionWatchdog
	loopDone   chan struct{}
	recordID   string

	// turns counts completed agent turns. turnSignal is closed and
	// replaced on each completion. Guarded by Orchestrator.mu.
	turns      int
	turnOpen   bool
	turnSignal chan struct{}
}

// Orchestrator drives one interview session at a time through
// setup -> connecting -> active -> ending -> ended, or error.
type Orchestrator struct {
	cfg          config.SessionConfig
	mic          repositories.Microphone
	camera       repositories.VisualDevice
	screen       repositories.VisualDevice
	player       repositories.AudioPlayer
	newTransport repositories.TransportFactory
	reports      repositories.ReportRepository
	clock        clock.Clock
	metrics      *metrics.Metrics
	runner       *saga.Runner
	logger       *zap.Logger

	// lifecycle serializes start, connect, disconnect and end
	lifecycle sync.Mutex
	micMu     sync.Mutex
	cameraMu  sync.Mutex
	screenMu  sync.Mutex

	mu      sync.RWMutex
	cur     *sessionRun
	lastErr error

	subsMu  sync.Mutex
	subs    map[int]chan entities.SessionSnapshot
	nextSub int
}

// NewOrchestrator creates an orchestrator with no session
func NewOrchestrator(cfg config.SessionConfig, deps Dependencies, logger *zap.Logger) *Orchestrator {
	clk := deps.Clock
	if clk == nil {
		clk = clock.New()
	}
	player := deps.Player
	if player == nil {
		player = nopPlayer{}
	}
	o := &Orchestrator{
		cfg:          cfg,
		mic:          deps.Microphone,
		camera:       deps.Camera,
		screen:       deps.Screen,
		player:       player,
		newTransport: deps.Transport,
		reports:      deps.Reports,
		clock:        clk,
		metrics:      deps.Metrics,
		runner:       saga.NewRunner(logger, clk, nil),
		logger:       logger,
		subs:         make(map[int]chan entities.SessionSnapshot),
	}
	// captures ended by the OS (e.g. the user stops sharing) only need a status refresh
	if o.camera != nil {
		o.camera.OnStop(o.publish)
	}
	if o.screen != nil {
		o.screen.OnStop(o.publish)
	}
	return o
}

// StartSession creates a new session in the setup state. A previous session
// must be terminal or still in setup.
func (o *Orchestrator) StartSession(ctx context.Context, params entities.SessionParams) (entities.Session, error) {
	o.lifecycle.Lock()
	defer o.lifecycle.Unlock()

	if err := params.Validate(); err != nil {
		return entities.Session{}, fmt.Errorf("invalid session parameters: %w", err)
	}

	o.mu.Lock()
	prev := o.cur
	if prev != nil && !prev.session.IsTerminal() && prev.session.State != entities.SessionStateSetup {
		o.mu.Unlock()
		return entities.Session{}, entities.NewStateError("a session is already in progress")
	}

	run := &sessionRun{
		session:    entities.NewSession(params, o.clock.Now()),
		arbiter:    arbiter.New(o.clock, o.cfg.SilenceWindow, o.logger, o.metrics),
		transcript: transcript.NewAggregator(o.clock),
	}
	if o.mic != nil {
		run.gate = arbiter.NewMicGate(o.mic)
		run.arbiter.AddTarget(run.gate)
	}
	o.cur = run
	o.lastErr = nil
	session := *run.session
	o.mu.Unlock()

	if prev != nil {
		prev.arbiter.Close()
	}

	changes, _ := run.arbiter.Subscribe()
	go func() {
		for range changes {
			o.publish()
		}
	}()

	o.logger.Info("Session created",
		zap.String("sessionID", session.ID),
		zap.String("role", params.Role),
		zap.String("level", params.Level))
	o.publish()
	return session, nil
}

// Connect starts the pre-session devices and opens the agent connection.
// Device failures are surfaced in the status and the session continues
// without that device; a connection failure moves the session to error.
func (o *Orchestrator) Connect(ctx context.Context) error {
	o.lifecycle.Lock()
	defer o.lifecycle.Unlock()

	o.mu.Lock()
	run := o.cur
	if run == nil {
		o.mu.Unlock()
		return entities.NewStateError("no session; start one first")
	}
	if run.session.State == entities.SessionStateActive {
		o.mu.Unlock()
		return nil
	}
	if err := run.session.Transition(entities.SessionStateConnecting, o.clock.Now()); err != nil {
		o.mu.Unlock()
		return err
	}
	params := run.session.Params
	o.mu.Unlock()
	o.publish()

	data := saga.Data{"session_id": run.session.ID}
	def := saga.Definition{
		Name: "connect_session",
		Steps: []saga.Step{
			saga.StepFunc{
				Name: "start_devices",
				Do: func(ctx context.Context, _ saga.Data) error {
					return o.startPreSessionDevices(ctx)
				},
				Undo: func(context.Context, saga.Data) error {
					o.releaseDevices()
					return nil
				},
			},
			saga.StepFunc{
				Name: "start_playback",
				Do: func(ctx context.Context, _ saga.Data) error {
					if err := o.player.Initialize(ctx); err != nil {
						return entities.NewDeviceError(entities.CodeUnsupported, "audio output is unavailable", err)
					}
					return nil
				},
				// the engine outlives sessions, so undo only silences it
				Undo: func(context.Context, saga.Data) error {
					o.player.Stop()
					return nil
				},
			},
			saga.StepFunc{
				Name: "connect_transport",
				Do: func(ctx context.Context, data saga.Data) error {
					t := o.newTransport()
					data["transport"] = t
					return t.Connect(ctx, o.setupConfig(params))
				},
				Undo: func(ctx context.Context, data saga.Data) error {
					if t, ok := data["transport"].(repositories.Transport); ok {
						return t.Disconnect(ctx)
					}
					return nil
				},
			},
		},
	}

	if _, err := o.runner.Run(ctx, def, data); err != nil {
		if t, ok := data["transport"].(repositories.Transport); ok {
			o.mu.Lock()
			run.transport = t
			o.mu.Unlock()
		}
		o.fail(run, err)
		return err
	}

	t := data["transport"].(repositories.Transport)
	o.mu.Lock()
	run.transport = t
	run.turnSignal = make(chan struct{})
	run.loopDone = make(chan struct{})
	_ = run.session.Transition(entities.SessionStateActive, o.clock.Now())
	run.watchdog = NewSessionWatchdog(o.clock, o.cfg.MaxSessionDuration, func() { o.expire(run) }, o.logger)
	o.mu.Unlock()

	go o.consume(run)
	run.watchdog.Start()
	o.metrics.SessionStarted()
	o.logger.Info("Session active", zap.String("sessionID", run.session.ID))
	o.publish()

	// the agent waits for the candidate before greeting
	if err := t.SendText(ctx, entities.TextTurn{Text: kickoffText, EndOfTurn: true}); err != nil {
		o.logger.Warn("Failed to send opening turn", zap.Error(err))
	}
	return nil
}

func (o *Orchestrator) setupConfig(params entities.SessionParams) repositories.SetupConfig {
	return repositories.SetupConfig{
		Model:               o.cfg.Model,
		Temperature:         o.cfg.Temperature,
		TopP:                o.cfg.TopP,
		TopK:                o.cfg.TopK,
		ResponseModalities:  []string{"AUDIO"},
		Voice:               o.cfg.Voice,
		SystemInstruction:   interviewInstruction(params),
		SafetyThreshold:     o.cfg.SafetyThreshold,
		EnableTranscription: o.cfg.EnableTranscription,
		Tools:               []repositories.ToolDeclaration{feedbackTool()},
	}
}

func (o *Orchestrator) startPreSessionDevices(ctx context.Context) error {
	if o.cfg.StartWithMic && o.mic != nil {
		o.micMu.Lock()
		err := o.startMicLocked(ctx)
		o.micMu.Unlock()
		if err != nil && !o.surface(err) {
			return err
		}
	}
	if o.cfg.StartWithCamera && o.camera != nil {
		o.cameraMu.Lock()
		err := o.camera.Start(ctx, o.forward)
		o.cameraMu.Unlock()
		if err != nil && !o.surface(err) {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) startMicLocked(ctx context.Context) error {
	if o.mic.Active() {
		return nil
	}
	o.mu.RLock()
	run := o.cur
	o.mu.RUnlock()
	if run != nil && run.gate != nil {
		run.gate.Reapply()
	}
	return o.mic.Start(ctx, o.forward)
}

// surface records a device problem that should not end the session
func (o *Orchestrator) surface(err error) bool {
	switch entities.CategoryOf(err) {
	case entities.CategoryPermission, entities.CategoryDevice:
	default:
		return false
	}
	o.logger.Warn("Continuing without device", zap.Error(err))
	o.metrics.Error(errorLabels(err))
	o.mu.Lock()
	o.lastErr = err
	o.mu.Unlock()
	o.publish()
	return true
}

// forward sends captured frames to the agent while the session is active
func (o *Orchestrator) forward(frame entities.Frame) {
	o.mu.RLock()
	run := o.cur
	var t repositories.Transport
	if run != nil && run.session.State == entities.SessionStateActive {
		t = run.transport
	}
	o.mu.RUnlock()
	if t == nil {
		o.metrics.FrameDropped("inactive")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()

	var err error
	switch f := frame.(type) {
	case entities.AudioChunk:
		err = t.SendAudio(ctx, f)
	case entities.ImageChunk:
		err = t.SendImage(ctx, f)
	default:
		return
	}
	if err != nil {
		o.metrics.FrameDropped("send_failed")
		o.logger.Debug("Dropped outbound frame", zap.String("kind", string(frame.Kind())), zap.Error(err))
	}
}

// consume fans inbound events out in wire order until the transport ends
func (o *Orchestrator) consume(run *sessionRun) {
	defer close(run.loopDone)
	for ev := range run.transport.Events() {
		o.handle(run, ev)
	}

	o.mu.RLock()
	active := run.session.State == entities.SessionStateActive
	o.mu.RUnlock()
	if !active {
		return
	}
	err := run.transport.Err()
	if err == nil {
		err = entities.NewConnectionError(entities.CodeUnknown, "the interviewer closed the connection", nil)
	}
	o.fail(run, err)
}

func (o *Orchestrator) handle(run *sessionRun, ev entities.InboundEvent) {
	switch e := ev.(type) {
	case entities.AudioData:
		o.markTurnOpen(run)
		run.arbiter.Observe(e)
		o.player.StreamAudio(e.Data)
	case entities.TurnComplete:
		run.arbiter.Observe(e)
		o.player.Complete()
		run.transcript.CloseTurn()
		o.completeTurn(run)
	case entities.Interrupted:
		run.arbiter.Observe(e)
		o.player.Stop()
		run.transcript.CloseTurn()
		o.mu.Lock()
		run.turnOpen = false
		o.mu.Unlock()
	case entities.Content:
		o.markTurnOpen(run)
		for _, m := range e.Media {
			o.logger.Debug("Agent sent inline media", zap.String("mimeType", m.MimeType), zap.Int("bytes", len(m.Data)))
		}
		run.transcript.AppendAgent(strings.Join(e.Parts, " "))
		o.publish()
	case entities.Transcription:
		if e.Speaker == entities.SpeakerAgent {
			o.markTurnOpen(run)
		}
		run.transcript.AppendFragment(e.Speaker, e.Text)
		o.publish()
	case entities.ToolCall:
		o.handleToolCall(run, e)
		o.publish()
	case entities.ToolCallCancellation:
		o.logger.Info("Agent cancelled tool calls", zap.Strings("ids", e.IDs))
	}
}

func (o *Orchestrator) markTurnOpen(run *sessionRun) {
	o.mu.Lock()
	run.turnOpen = true
	o.mu.Unlock()
}

func (o *Orchestrator) completeTurn(run *sessionRun) {
	o.mu.Lock()
	run.turns++
	run.turnOpen = false
	close(run.turnSignal)
	run.turnSignal = make(chan struct{})
	o.mu.Unlock()
}

func (o *Orchestrator) handleToolCall(run *sessionRun, call entities.ToolCall) {
	response := map[string]any{"result": "recorded"}
	switch call.Name {
	case FeedbackToolName:
		feedback, _ := call.Args["feedback"].(string)
		feedback = strings.TrimSpace(feedback)
		if feedback == "" {
			response = map[string]any{"error": "feedback is required"}
			break
		}
		if score, ok := numberArg(call.Args["score"]); ok {
			feedback = fmt.Sprintf("%s (score: %d/10)", feedback, int(math.Round(score)))
		}
		run.transcript.AppendFeedback(feedback)
	default:
		o.logger.Warn("Agent called unknown function", zap.String("name", call.Name))
		response = map[string]any{"error": fmt.Sprintf("unknown function %q", call.Name)}
	}

	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()
	err := run.transport.SendToolResponse(ctx, repositories.ToolResponse{
		ID:       call.ID,
		Name:     call.Name,
		Response: response,
	})
	if err != nil {
		o.logger.Warn("Failed to answer tool call", zap.String("name", call.Name), zap.Error(err))
	}
}

func numberArg(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}

func (o *Orchestrator) activeRun() (*sessionRun, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.cur == nil || o.cur.session.State != entities.SessionStateActive {
		return nil, entities.NewStateError("session is not active")
	}
	return o.cur, nil
}

// ToggleMic flips the user's mic intent, opening the device on first use.
// It is refused while the agent is speaking.
func (o *Orchestrator) ToggleMic(ctx context.Context) error {
	o.micMu.Lock()
	defer o.micMu.Unlock()

	run, err := o.activeRun()
	if err != nil {
		return err
	}
	if run.arbiter.State() == entities.SpeakingAgent {
		return entities.NewStateError("please wait until the AI finishes speaking")
	}
	if o.mic == nil || run.gate == nil {
		return entities.NewDeviceError(entities.CodeDeviceNotFound, "no microphone configured", nil)
	}

	if !o.mic.Active() {
		run.gate.SetUser(true)
		if err := o.startMicLocked(ctx); err != nil {
			o.surface(err)
			return err
		}
	} else {
		run.gate.SetUser(!run.gate.UserOn())
	}

	o.logger.Info("Microphone toggled", zap.Bool("on", run.gate.UserOn()))
	o.publish()
	return nil
}

func (o *Orchestrator) ToggleCamera(ctx context.Context) error {
	return o.toggleVisual(ctx, &o.cameraMu, o.camera, "camera")
}

func (o *Orchestrator) ToggleScreenShare(ctx context.Context) error {
	return o.toggleVisual(ctx, &o.screenMu, o.screen, "screen capture")
}

func (o *Orchestrator) toggleVisual(ctx context.Context, mu *sync.Mutex, dev repositories.VisualDevice, name string) error {
	mu.Lock()
	defer mu.Unlock()

	if _, err := o.activeRun(); err != nil {
		return err
	}
	if dev == nil {
		return entities.NewDeviceError(entities.CodeDeviceNotFound, name+" is not configured", nil)
	}

	if dev.Active() {
		dev.Stop()
	} else if err := dev.Start(ctx, o.forward); err != nil {
		o.surface(err)
		return err
	}

	o.logger.Info("Visual capture toggled", zap.String("device", name), zap.Bool("on", dev.Active()))
	o.publish()
	return nil
}

// SendText sends a typed user turn and records it in the transcript
func (o *Orchestrator) SendText(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return errors.New("text is required")
	}

	o.mu.RLock()
	run := o.cur
	var t repositories.Transport
	if run != nil && run.session.State == entities.SessionStateActive {
		t = run.transport
	}
	o.mu.RUnlock()
	if t == nil {
		return entities.NewNotConnectedError("not connected to the interviewer")
	}

	if err := t.SendText(ctx, entities.TextTurn{Text: text, EndOfTurn: true}); err != nil {
		return err
	}
	run.transcript.AppendUser(text)
	o.publish()
	return nil
}

// SetVolume changes the playback gain
func (o *Orchestrator) SetVolume(gain float64) {
	o.player.SetGain(gain)
}

// EndSession asks the agent for closing feedback, builds the report and saves
// the session record. The report is returned even when saving fails.
func (o *Orchestrator) EndSession(ctx context.Context) (entities.StructuredReport, error) {
	o.lifecycle.Lock()
	defer o.lifecycle.Unlock()

	o.mu.Lock()
	run := o.cur
	if run == nil || run.session.State != entities.SessionStateActive {
		o.mu.Unlock()
		return entities.StructuredReport{}, entities.NewStateError("session is not active")
	}
	_ = run.session.Transition(entities.SessionStateEnding, o.clock.Now())
	o.mu.Unlock()
	run.watchdog.Stop()
	o.publish()

	o.awaitClosingTurn(ctx, run)

	report := run.transcript.BuildReport()
	endedAt := o.clock.Now()
	o.mu.RLock()
	record := entities.NewSessionRecord(run.session, run.transcript.Transcript(), report, endedAt)
	o.mu.RUnlock()
	saveErr := o.saveRecord(ctx, run, record)

	o.stopTransport(ctx, run)
	o.releaseRun(run)

	o.mu.Lock()
	_ = run.session.Transition(entities.SessionStateEnded, endedAt)
	duration := run.session.Duration()
	o.mu.Unlock()

	o.metrics.SessionFinished("ended", duration)
	o.logger.Info("Session ended",
		zap.String("sessionID", run.session.ID),
		zap.Duration("duration", duration),
		zap.Float64("overallScore", report.OverallScore))
	o.publish()
	return report, saveErr
}

// awaitClosingTurn asks for closing feedback and waits for the turn that
// answers it. A turn still in flight when the request is sent completes
// first and does not count.
func (o *Orchestrator) awaitClosingTurn(ctx context.Context, run *sessionRun) {
	o.mu.RLock()
	target := run.turns + 1
	if run.turnOpen {
		target++
	}
	o.mu.RUnlock()

	if err := run.transport.SendText(ctx, entities.TextTurn{Text: closingText, EndOfTurn: true}); err != nil {
		o.logger.Warn("Failed to request closing feedback", zap.Error(err))
		return
	}

	timer := o.clock.Timer(o.cfg.EndTurnWait)
	defer timer.Stop()
	for {
		o.mu.RLock()
		reached := run.turns >= target
		signal := run.turnSignal
		o.mu.RUnlock()
		if reached {
			return
		}
		select {
		case <-signal:
		case <-timer.C:
			o.logger.Warn("Timed out waiting for closing feedback", zap.Duration("wait", o.cfg.EndTurnWait))
			return
		case <-run.transport.Done():
			return
		case <-ctx.Done():
			return
		}
	}
}

func (o *Orchestrator) saveRecord(ctx context.Context, run *sessionRun, record *entities.SessionRecord) error {
	if o.reports == nil {
		return nil
	}
	if err := record.Validate(); err != nil {
		return fmt.Errorf("invalid session record: %w", err)
	}
	id, err := o.reports.Save(ctx, record)
	if err != nil {
		o.logger.Error("Failed to save session record", zap.String("sessionID", record.SessionID), zap.Error(err))
		return fmt.Errorf("failed to save session record: %w", err)
	}
	o.mu.Lock()
	run.recordID = id
	o.mu.Unlock()
	o.logger.Info("Session record saved", zap.String("recordID", id))
	return nil
}

// LastRecordID returns the id of the most recently saved record
func (o *Orchestrator) LastRecordID() string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.cur == nil {
		return ""
	}
	return o.cur.recordID
}

// Disconnect tears the session down without a report
func (o *Orchestrator) Disconnect(ctx context.Context) error {
	o.lifecycle.Lock()
	defer o.lifecycle.Unlock()

	o.mu.Lock()
	run := o.cur
	if run == nil || run.session.IsTerminal() {
		o.mu.Unlock()
		return nil
	}
	wasActive := run.session.State == entities.SessionStateActive
	if err := run.session.Transition(entities.SessionStateEnded, o.clock.Now()); err != nil {
		o.mu.Unlock()
		return err
	}
	duration := run.session.Duration()
	o.mu.Unlock()

	if wasActive {
		o.stopTransport(ctx, run)
		o.metrics.SessionFinished("disconnected", duration)
	}
	o.releaseRun(run)
	o.logger.Info("Session disconnected", zap.String("sessionID", run.session.ID))
	o.publish()
	return nil
}

func (o *Orchestrator) expire(run *sessionRun) {
	o.mu.RLock()
	current := o.cur == run
	o.mu.RUnlock()
	if !current {
		return
	}
	if _, err := o.EndSession(context.Background()); err != nil {
		o.logger.Warn("Ending expired session", zap.Error(err))
	}
}

// fail moves the session to error and releases what it holds. It never waits
// for the event loop, which may be the caller.
func (o *Orchestrator) fail(run *sessionRun, err error) {
	o.mu.Lock()
	if run.session.IsTerminal() {
		o.mu.Unlock()
		return
	}
	run.session.Fail(err, o.clock.Now())
	duration := run.session.Duration()
	o.mu.Unlock()

	o.logger.Error("Session failed", zap.String("sessionID", run.session.ID), zap.Error(err))
	o.metrics.Error(errorLabels(err))
	o.metrics.SessionFinished("error", duration)
	o.releaseRun(run)
	o.publish()
}

func (o *Orchestrator) stopTransport(ctx context.Context, run *sessionRun) {
	if run.transport == nil {
		return
	}
	if err := run.transport.Disconnect(ctx); err != nil {
		o.logger.Warn("Failed to disconnect transport", zap.Error(err))
	}
	if run.loopDone == nil {
		return
	}
	select {
	case <-run.loopDone:
	case <-ctx.Done():
	}
}

func (o *Orchestrator) releaseRun(run *sessionRun) {
	if run.watchdog != nil {
		run.watchdog.Stop()
	}
	o.player.Stop()
	o.releaseDevices()
	run.arbiter.Close()
}

func (o *Orchestrator) releaseDevices() {
	if o.mic != nil {
		o.micMu.Lock()
		o.mic.Stop()
		o.micMu.Unlock()
	}
	if o.camera != nil {
		o.cameraMu.Lock()
		o.camera.Stop()
		o.cameraMu.Unlock()
	}
	if o.screen != nil {
		o.screenMu.Lock()
		o.screen.Stop()
		o.screenMu.Unlock()
	}
}

// Close disconnects any session and disposes the devices
func (o *Orchestrator) Close(ctx context.Context) error {
	err := o.Disconnect(ctx)
	for _, dev := range []repositories.CaptureDevice{o.mic, o.camera, o.screen} {
		if dev != nil {
			dev.Dispose()
		}
	}
	o.subsMu.Lock()
	for id, ch := range o.subs {
		delete(o.subs, id)
		close(ch)
	}
	o.subsMu.Unlock()
	return err
}

// Status returns the observable state of the current session
func (o *Orchestrator) Status() entities.SessionSnapshot {
	o.mu.RLock()
	run := o.cur
	snap := entities.SessionSnapshot{
		Connection: entities.ConnectionIdle,
		Speaking:   entities.SpeakingIdle,
		Transcript: []entities.TranscriptEntry{},
	}
	var t repositories.Transport
	if run != nil {
		snap.SessionID = run.session.ID
		snap.State = run.session.State
		t = run.transport
		if run.session.State == entities.SessionStateError {
			snap.Error = run.session.ErrorMessage()
			snap.ErrorCategory = entities.CategoryOf(run.session.Err)
		}
	}
	if snap.Error == "" && o.lastErr != nil {
		snap.Error = messageOf(o.lastErr)
		snap.ErrorCategory = entities.CategoryOf(o.lastErr)
	}
	o.mu.RUnlock()

	// collaborators take their own locks; query them outside ours
	if t != nil {
		snap.Connection = t.State()
	}
	if run != nil {
		snap.Speaking = run.arbiter.State()
		snap.Transcript = run.transcript.Transcript()
		snap.MicActive = run.gate != nil && o.mic.Active() && run.gate.UserOn()
	}
	snap.CameraActive = o.camera != nil && o.camera.Active()
	snap.ScreenActive = o.screen != nil && o.screen.Active()
	return snap
}

// Subscribe delivers status snapshots, starting with the current one.
// Slow subscribers miss intermediate snapshots.
func (o *Orchestrator) Subscribe() (<-chan entities.SessionSnapshot, func()) {
	ch := make(chan entities.SessionSnapshot, 16)
	ch <- o.Status()

	o.subsMu.Lock()
	id := o.nextSub
	o.nextSub++
	o.subs[id] = ch
	o.subsMu.Unlock()

	return ch, func() {
		o.subsMu.Lock()
		defer o.subsMu.Unlock()
		if sub, ok := o.subs[id]; ok {
			delete(o.subs, id)
			close(sub)
		}
	}
}

func (o *Orchestrator) publish() {
	snap := o.Status()
	o.subsMu.Lock()
	defer o.subsMu.Unlock()
	for _, ch := range o.subs {
		select {
		case ch <- snap:
		default:
		}
	}
}

func messageOf(err error) string {
	var domainErr *entities.Error
	if errors.As(err, &domainErr) {
		return domainErr.Message
	}
	return err.Error()
}

func errorLabels(err error) (string, string) {
	var domainErr *entities.Error
	if errors.As(err, &domainErr) {
		return string(domainErr.Category), string(domainErr.Code)
	}
	return "internal", ""
}

type nopPlayer struct{}

func (nopPlayer) Initialize(context.Context) error { return nil }
func (nopPlayer) StreamAudio([]byte)               {}
func (nopPlayer) Complete()                        {}
func (nopPlayer) Stop()                            {}
func (nopPlayer) SetGain(float64)                  {}
func (nopPlayer) Gain() float64                    { return 1 }
