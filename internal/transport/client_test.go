package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap/zaptest"

	"github.com/satriahrh/parley/domain/entities"
	"github.com/satriahrh/parley/domain/repositories"
	"github.com/satriahrh/parley/internal/codec"
)

// fakeAgent is a websocket server standing in for the live agent
type fakeAgent struct {
	server   *httptest.Server
	upgrades int32

	mu       sync.Mutex
	received []map[string]json.RawMessage

	// script runs after the upgrade; when nil the agent just reads
	script func(conn *websocket.Conn)
}

func newFakeAgent(t *testing.T, script func(conn *websocket.Conn)) *fakeAgent {
	t.Helper()
	agent := &fakeAgent{script: script}
	upgrader := websocket.Upgrader{}
	agent.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&agent.upgrades, 1)
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		if agent.script != nil {
			agent.script(conn)
			return
		}
		agent.readAll(conn)
	}))
	t.Cleanup(agent.server.Close)
	return agent
}

func (a *fakeAgent) readAll(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		a.record(data)
	}
}

func (a *fakeAgent) record(data []byte) {
	var msg map[string]json.RawMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}
	a.mu.Lock()
	a.received = append(a.received, msg)
	a.mu.Unlock()
}

func (a *fakeAgent) messages() []map[string]json.RawMessage {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]map[string]json.RawMessage(nil), a.received...)
}

func (a *fakeAgent) url() string {
	return "ws" + strings.TrimPrefix(a.server.URL, "http")
}

func newTestClient(t *testing.T, url string) *Client {
	t.Helper()
	client := NewClient(Config{URL: url, APIKey: "test-key", HandshakeTimeout: 2 * time.Second}, zaptest.NewLogger(t), nil)
	t.Cleanup(func() { client.Disconnect(context.Background()) })
	return client
}

func testSetup() repositories.SetupConfig {
	return repositories.SetupConfig{
		Model:              "gemini-2.0-flash-exp",
		Temperature:        0.7,
		TopP:               0.95,
		TopK:               40,
		ResponseModalities: []string{"audio"},
		Voice:              "Puck",
		SystemInstruction:  "You are an interviewer.",
	}
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func nextEvent(t *testing.T, events <-chan entities.InboundEvent) entities.InboundEvent {
	t.Helper()
	select {
	case ev, ok := <-events:
		if !ok {
			t.Fatal("events channel closed")
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return nil
}

func TestSendBeforeConnect(t *testing.T) {
	client := NewClient(Config{URL: "ws://127.0.0.1:1"}, zaptest.NewLogger(t), nil)

	err := client.SendAudio(context.Background(), entities.AudioChunk{PCM: []byte{0, 0}, SampleRate: 16000})
	if !errors.Is(err, entities.ErrNotConnected) {
		t.Errorf("Expected not connected error, got %v", err)
	}
	if client.State() != entities.ConnectionIdle {
		t.Errorf("Expected idle state, got %s", client.State())
	}
}

func TestSetupFrameIsFirst(t *testing.T) {
	agent := newFakeAgent(t, nil)
	client := newTestClient(t, agent.url())

	if err := client.Connect(context.Background(), testSetup()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	ctx := context.Background()
	if err := client.SendAudio(ctx, entities.AudioChunk{PCM: make([]byte, 64), SampleRate: 16000}); err != nil {
		t.Fatalf("SendAudio failed: %v", err)
	}
	if err := client.SendImage(ctx, entities.ImageChunk{JPEGBase64: "aGVsbG8="}); err != nil {
		t.Fatalf("SendImage failed: %v", err)
	}
	if err := client.SendText(ctx, entities.TextTurn{Text: "hello", EndOfTurn: true}); err != nil {
		t.Fatalf("SendText failed: %v", err)
	}

	waitFor(t, func() bool { return len(agent.messages()) == 4 }, "expected four frames at the agent")

	msgs := agent.messages()
	if _, ok := msgs[0]["setup"]; !ok {
		t.Fatalf("Expected setup first, got keys %v", msgs[0])
	}
	for i, key := range []string{"setup", "realtimeInput", "realtimeInput", "clientContent"} {
		if _, ok := msgs[i][key]; !ok {
			t.Errorf("frame %d: expected %s", i, key)
		}
	}

	var setup setupPayload
	if err := json.Unmarshal(msgs[0]["setup"], &setup); err != nil {
		t.Fatalf("setup payload: %v", err)
	}
	if setup.Model != "models/gemini-2.0-flash-exp" {
		t.Errorf("Expected prefixed model, got %s", setup.Model)
	}
	if setup.GenerationConfig.TopK != 40 {
		t.Errorf("Expected top_k 40, got %d", setup.GenerationConfig.TopK)
	}
	if len(setup.SafetySettings) != 4 {
		t.Errorf("Expected 4 safety settings, got %d", len(setup.SafetySettings))
	}
}

func TestConcurrentConnectSharesOneSocket(t *testing.T) {
	agent := newFakeAgent(t, nil)
	client := newTestClient(t, agent.url())

	var wg sync.WaitGroup
	errs := make([]error, 5)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = client.Connect(context.Background(), testSetup())
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("caller %d: unexpected error %v", i, err)
		}
	}
	if n := atomic.LoadInt32(&agent.upgrades); n != 1 {
		t.Errorf("Expected exactly one socket, got %d", n)
	}
	if client.State() != entities.ConnectionOpen {
		t.Errorf("Expected open state, got %s", client.State())
	}
}

func TestConnectRejectedCredentials(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "API key not valid", http.StatusUnauthorized)
	}))
	defer server.Close()

	client := newTestClient(t, "ws"+strings.TrimPrefix(server.URL, "http"))
	err := client.Connect(context.Background(), testSetup())

	want := &entities.Error{Category: entities.CategoryConnection, Code: entities.CodeAuthInvalid}
	if !errors.Is(err, want) {
		t.Fatalf("Expected auth error, got %v", err)
	}
	if client.State() != entities.ConnectionError {
		t.Errorf("Expected error state, got %s", client.State())
	}
	select {
	case <-client.Done():
	default:
		t.Error("Expected Done to be closed after a failed connect")
	}
}

func TestConnectAfterDisconnectIsStateError(t *testing.T) {
	agent := newFakeAgent(t, nil)
	client := newTestClient(t, agent.url())

	if err := client.Connect(context.Background(), testSetup()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if err := client.Disconnect(context.Background()); err != nil {
		t.Fatalf("Disconnect failed: %v", err)
	}
	if client.State() != entities.ConnectionClosed {
		t.Errorf("Expected closed, got %s", client.State())
	}
	if client.Err() != nil {
		t.Errorf("Expected nil error after normal close, got %v", client.Err())
	}

	err := client.Connect(context.Background(), testSetup())
	if !errors.Is(err, entities.ErrState) {
		t.Errorf("Expected state error on reuse, got %v", err)
	}
	err = client.SendText(context.Background(), entities.TextTurn{Text: "late"})
	if !errors.Is(err, entities.ErrNotConnected) {
		t.Errorf("Expected not connected after disconnect, got %v", err)
	}
}

func TestInboundEventsInWireOrder(t *testing.T) {
	audio := codec.EncodeBase64([]byte{1, 0, 2, 0})
	frames := []string{
		`{"setupComplete":{}}`,
		`{"serverContent":{"modelTurn":{"parts":[{"inlineData":{"mimeType":"audio/pcm;rate=24000","data":"` + audio + `"}},{"text":"Tell me"},{"text":"about yourself"}]},"turnComplete":true}}`,
		`{"serverContent":{"interrupted":true,"turnComplete":true}}`,
		`{"toolCall":{"functionCalls":[{"id":"c1","name":"record_feedback","args":{"score":8}}]},"serverContent":{"turnComplete":true}}`,
	}

	agent := newFakeAgent(t, func(conn *websocket.Conn) {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		for i, f := range frames {
			kind := websocket.TextMessage
			if i == 1 {
				kind = websocket.BinaryMessage
			}
			if err := conn.WriteMessage(kind, []byte(f)); err != nil {
				return
			}
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	client := newTestClient(t, agent.url())
	if err := client.Connect(context.Background(), testSetup()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	events := client.Events()
	if ev, ok := nextEvent(t, events).(entities.AudioData); !ok || len(ev.Data) != 4 {
		t.Fatalf("Expected 4 bytes of audio first, got %#v", ev)
	}
	content, ok := nextEvent(t, events).(entities.Content)
	if !ok || len(content.Parts) != 2 {
		t.Fatalf("Expected grouped content, got %#v", content)
	}
	if _, ok := nextEvent(t, events).(entities.TurnComplete); !ok {
		t.Fatal("Expected turn complete after the parts")
	}
	if _, ok := nextEvent(t, events).(entities.Interrupted); !ok {
		t.Fatal("Expected interruption to suppress turn complete")
	}
	call, ok := nextEvent(t, events).(entities.ToolCall)
	if !ok || call.Name != "record_feedback" || call.ID != "c1" {
		t.Fatalf("Expected tool call, got %#v", call)
	}

	select {
	case ev := <-events:
		t.Fatalf("Expected tool call to shadow server content, got %#v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestAbnormalCloseClassification(t *testing.T) {
	tests := []struct {
		name   string
		code   int
		reason string
		want   entities.ErrorCode
	}{
		{"quota", websocket.CloseInternalServerErr, "Quota exceeded for this model", entities.CodeQuotaExceeded},
		{"api key", websocket.ClosePolicyViolation, "API key not valid", entities.CodeAuthInvalid},
		{"unknown", websocket.CloseInternalServerErr, "internal", entities.CodeUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			agent := newFakeAgent(t, func(conn *websocket.Conn) {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
				conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(tt.code, tt.reason))
				time.Sleep(50 * time.Millisecond)
			})
			client := newTestClient(t, agent.url())
			if err := client.Connect(context.Background(), testSetup()); err != nil {
				t.Fatalf("Connect failed: %v", err)
			}

			select {
			case <-client.Done():
			case <-time.After(2 * time.Second):
				t.Fatal("Expected connection to terminate")
			}

			if client.State() != entities.ConnectionError {
				t.Errorf("Expected error state, got %s", client.State())
			}
			want := &entities.Error{Category: entities.CategoryConnection, Code: tt.want}
			if !errors.Is(client.Err(), want) {
				t.Errorf("Expected %s, got %v", tt.want, client.Err())
			}
			if _, ok := <-client.Events(); ok {
				t.Error("Expected events channel to be closed")
			}
		})
	}
}

func TestDroppedSocketIsAbnormal(t *testing.T) {
	agent := newFakeAgent(t, func(conn *websocket.Conn) {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		conn.UnderlyingConn().Close()
	})
	client := newTestClient(t, agent.url())
	if err := client.Connect(context.Background(), testSetup()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	select {
	case <-client.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("Expected connection to terminate")
	}
	if !errors.Is(client.Err(), entities.ErrConnection) {
		t.Errorf("Expected connection error, got %v", client.Err())
	}
}

func TestNormalRemoteCloseHasNoError(t *testing.T) {
	agent := newFakeAgent(t, func(conn *websocket.Conn) {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
		time.Sleep(50 * time.Millisecond)
	})
	client := newTestClient(t, agent.url())
	if err := client.Connect(context.Background(), testSetup()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	<-client.Done()
	if client.State() != entities.ConnectionClosed {
		t.Errorf("Expected closed, got %s", client.State())
	}
	if client.Err() != nil {
		t.Errorf("Expected nil error, got %v", client.Err())
	}
}

func TestHandshakeTimeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer server.Close()
	defer close(release)

	client := NewClient(Config{
		URL:              "ws" + strings.TrimPrefix(server.URL, "http"),
		HandshakeTimeout: 100 * time.Millisecond,
	}, zaptest.NewLogger(t), nil)

	err := client.Connect(context.Background(), testSetup())
	want := &entities.Error{Category: entities.CategoryConnection, Code: entities.CodeNetworkTimeout}
	if !errors.Is(err, want) {
		t.Errorf("Expected network timeout, got %v", err)
	}
}
