package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/satriahrh/parley/domain/entities"
	"github.com/satriahrh/parley/domain/repositories"
)

type fakeTransport struct {
	mu            sync.Mutex
	state         entities.ConnectionState
	connectErr    error
	setup         repositories.SetupConfig
	texts         []entities.TextTurn
	audio         int
	images        int
	toolResponses []repositories.ToolResponse
	onText        func(entities.TextTurn)
	err           error

	events    chan entities.InboundEvent
	done      chan struct{}
	closeOnce sync.Once
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		state:  entities.ConnectionIdle,
		events: make(chan entities.InboundEvent, 64),
		done:   make(chan struct{}),
	}
}

func (f *fakeTransport) Connect(ctx context.Context, setup repositories.SetupConfig) error {
	f.mu.Lock()
	f.setup = setup
	err := f.connectErr
	if err == nil {
		f.state = entities.ConnectionOpen
	}
	f.mu.Unlock()
	if err != nil {
		f.terminate(err)
	}
	return err
}

func (f *fakeTransport) SendAudio(ctx context.Context, chunk entities.AudioChunk) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != entities.ConnectionOpen {
		return entities.NewNotConnectedError("not open")
	}
	f.audio++
	return nil
}

func (f *fakeTransport) SendImage(ctx context.Context, chunk entities.ImageChunk) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != entities.ConnectionOpen {
		return entities.NewNotConnectedError("not open")
	}
	f.images++
	return nil
}

func (f *fakeTransport) SendText(ctx context.Context, turn entities.TextTurn) error {
	f.mu.Lock()
	if f.state != entities.ConnectionOpen {
		f.mu.Unlock()
		return entities.NewNotConnectedError("not open")
	}
	f.texts = append(f.texts, turn)
	onText := f.onText
	f.mu.Unlock()
	if onText != nil {
		onText(turn)
	}
	return nil
}

func (f *fakeTransport) SendToolResponse(ctx context.Context, response repositories.ToolResponse) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != entities.ConnectionOpen {
		return entities.NewNotConnectedError("not open")
	}
	f.toolResponses = append(f.toolResponses, response)
	return nil
}

func (f *fakeTransport) Events() <-chan entities.InboundEvent { return f.events }
func (f *fakeTransport) Done() <-chan struct{}                { return f.done }

func (f *fakeTransport) State() entities.ConnectionState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeTransport) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

func (f *fakeTransport) Disconnect(ctx context.Context) error {
	f.mu.Lock()
	if f.state == entities.ConnectionOpen || f.state == entities.ConnectionIdle {
		f.state = entities.ConnectionClosed
	}
	f.mu.Unlock()
	f.closeOnce.Do(func() {
		close(f.events)
		close(f.done)
	})
	return nil
}

func (f *fakeTransport) terminate(err error) {
	f.mu.Lock()
	f.state = entities.ConnectionError
	f.err = err
	f.mu.Unlock()
	f.closeOnce.Do(func() {
		close(f.events)
		close(f.done)
	})
}

func (f *fakeTransport) emit(ev entities.InboundEvent) {
	f.events <- ev
}

func (f *fakeTransport) setOnText(fn func(entities.TextTurn)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onText = fn
}

func (f *fakeTransport) Setup() repositories.SetupConfig {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.setup
}

func (f *fakeTransport) Texts() []entities.TextTurn {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]entities.TextTurn(nil), f.texts...)
}

func (f *fakeTransport) AudioSent() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.audio
}

func (f *fakeTransport) ToolResponses() []repositories.ToolResponse {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]repositories.ToolResponse(nil), f.toolResponses...)
}

type fakeMic struct {
	mu        sync.Mutex
	startErr  error
	active    bool
	suspended bool
	onFrame   repositories.FrameHandler
	disposed  bool
}

func (m *fakeMic) Start(ctx context.Context, onFrame repositories.FrameHandler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.startErr != nil {
		return m.startErr
	}
	m.active = true
	m.onFrame = onFrame
	return nil
}

func (m *fakeMic) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active = false
	m.onFrame = nil
}

func (m *fakeMic) Dispose() {
	m.Stop()
	m.mu.Lock()
	m.disposed = true
	m.mu.Unlock()
}

func (m *fakeMic) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

func (m *fakeMic) Suspend() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.suspended = true
}

func (m *fakeMic) Resume() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.suspended = false
}

func (m *fakeMic) Producing() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active && !m.suspended
}

// speak emits one frame the way a real capture callback would
func (m *fakeMic) speak(frame entities.AudioChunk) {
	m.mu.Lock()
	onFrame := m.onFrame
	producing := m.active && !m.suspended
	m.mu.Unlock()
	if producing && onFrame != nil {
		onFrame(frame)
	}
}

type fakeVisual struct {
	mu     sync.Mutex
	active bool
	onStop func()
}

func (v *fakeVisual) Start(ctx context.Context, onFrame repositories.FrameHandler) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.active = true
	return nil
}

func (v *fakeVisual) Stop() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.active = false
}

func (v *fakeVisual) Dispose() { v.Stop() }

func (v *fakeVisual) Active() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.active
}

func (v *fakeVisual) OnStop(fn func()) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.onStop = fn
}

// endExternally simulates the OS ending the capture
func (v *fakeVisual) endExternally() {
	v.mu.Lock()
	v.active = false
	onStop := v.onStop
	v.mu.Unlock()
	if onStop != nil {
		onStop()
	}
}

type fakePlayer struct {
	mu          sync.Mutex
	initErr     error
	initialized int
	streamed    int
	completes   int
	stops       int
	gain        float64
}

func (p *fakePlayer) Initialize(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.initErr != nil {
		return p.initErr
	}
	p.initialized++
	return nil
}

func (p *fakePlayer) StreamAudio(pcm []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.streamed += len(pcm)
}

func (p *fakePlayer) Complete() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.completes++
}

func (p *fakePlayer) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stops++
}

func (p *fakePlayer) SetGain(gain float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.gain = gain
}

func (p *fakePlayer) Gain() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.gain
}

func (p *fakePlayer) Streamed() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.streamed
}

type fakeReports struct {
	mu      sync.Mutex
	saveErr error
	records []*entities.SessionRecord
}

func (r *fakeReports) Save(ctx context.Context, record *entities.SessionRecord) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.saveErr != nil {
		return "", r.saveErr
	}
	r.records = append(r.records, record)
	return record.ID, nil
}

func (r *fakeReports) GetByID(ctx context.Context, id string) (*entities.SessionRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range r.records {
		if rec.ID == id {
			return rec, nil
		}
	}
	return nil, repositories.ErrRecordNotFound
}

func (r *fakeReports) ListRecent(ctx context.Context, limit int) ([]*entities.SessionRecord, error) {
	return nil, errors.New("not implemented")
}

func (r *fakeReports) Records() []*entities.SessionRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*entities.SessionRecord(nil), r.records...)
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal(msg)
}
