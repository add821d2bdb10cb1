package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keshucs12345/voicechat/internal/engine"
	"github.com/keshucs12345/voicechat/internal/mailbox"
	"github.com/keshucs12345/voicechat/internal/tts"
)

type fakeEngine struct {
	mu       sync.Mutex
	sent     []mailbox.Command
	running  bool
	emotion  string
	loudness int
}

func (f *fakeEngine) Send(cmd mailbox.Command) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, cmd)
}

func (f *fakeEngine) commands() []mailbox.Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]mailbox.Command(nil), f.sent...)
}

func (f *fakeEngine) State() engine.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.running {
		return engine.StateRunning
	}
	return engine.StateNotRunning
}

func (f *fakeEngine) Emotion() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.emotion
}

func (f *fakeEngine) Loudness() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loudness
}

func (f *fakeEngine) Display() engine.Display {
	return engine.Display{SystemPrompt: "X", Transcript: "user: hi\n"}
}

func newTestServer(eng *fakeEngine, outbox *mailbox.Mailbox, voices VoiceLister) *Server {
	return New(Options{Log: zerolog.Nop(), Engine: eng, Outbox: outbox, Voices: voices, SignalInterval: 5 * time.Millisecond})
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	r := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		r.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, r)
	return w
}

func TestServer_Healthz(t *testing.T) {
	s := newTestServer(&fakeEngine{}, mailbox.New(), nil)
	w := do(t, s, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", w.Body.String())
}

func TestServer_State(t *testing.T) {
	s := newTestServer(&fakeEngine{running: true, emotion: "[happy]", loudness: 42}, mailbox.New(), nil)
	w := do(t, s, http.MethodGet, "/state", "")
	require.Equal(t, http.StatusOK, w.Code)

	var got stateResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, stateResponse{
		State:        "running",
		Running:      true,
		Emotion:      "[happy]",
		Loudness:     42,
		SystemPrompt: "X",
		Transcript:   "user: hi\n",
	}, got)
}

func TestServer_Commands(t *testing.T) {
	eng := &fakeEngine{}
	s := newTestServer(eng, mailbox.New(), nil)

	w := do(t, s, http.MethodPost, "/commands", `{"kind":"chat","payload":"hello"}`)
	assert.Equal(t, http.StatusAccepted, w.Code)
	w = do(t, s, http.MethodPost, "/commands", `{"kind":"reload_config"}`)
	assert.Equal(t, http.StatusAccepted, w.Code)

	for _, body := range []string{`{"kind":"stop"}`, `{"kind":"error","payload":"x"}`, `{"kind":"dance"}`, `{nope`} {
		w = do(t, s, http.MethodPost, "/commands", body)
		assert.Equal(t, http.StatusBadRequest, w.Code, body)
	}

	assert.Equal(t, []mailbox.Command{
		{Kind: mailbox.Chat, Payload: "hello"},
		{Kind: mailbox.ReloadConfig},
	}, eng.commands())
}

func TestServer_Voices(t *testing.T) {
	s := newTestServer(&fakeEngine{}, mailbox.New(), func(context.Context) ([]tts.Voice, error) {
		return []tts.Voice{{ID: "market:b", Name: "Bob"}}, nil
	})
	w := do(t, s, http.MethodGet, "/voices", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[{"id":"market:b","name":"Bob","label":"Bob (market:b)"}]`, w.Body.String())

	s = newTestServer(&fakeEngine{}, mailbox.New(), func(context.Context) ([]tts.Voice, error) {
		return nil, errors.New("reecho down")
	})
	w = do(t, s, http.MethodGet, "/voices", "")
	assert.Equal(t, http.StatusBadGateway, w.Code)

	s = newTestServer(&fakeEngine{}, mailbox.New(), nil)
	w = do(t, s, http.MethodGet, "/voices", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestServer_Metrics(t *testing.T) {
	s := newTestServer(&fakeEngine{}, mailbox.New(), nil)
	w := do(t, s, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}

func readEvent(t *testing.T, conn *websocket.Conn) Event {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	var ev Event
	require.NoError(t, json.Unmarshal(msg, &ev))
	return ev
}

func TestServer_WebSocket(t *testing.T) {
	eng := &fakeEngine{emotion: "[calm]"}
	outbox := mailbox.New()
	s := newTestServer(eng, outbox, nil)

	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = s.hub.Run(ctx, s.interval) }()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	// the first event is always the current signal
	ev := readEvent(t, conn)
	require.Equal(t, "signal", ev.Type)
	assert.Equal(t, "[calm]", ev.Signal.Emotion)

	outbox.Send(mailbox.Command{Kind: mailbox.Error, Payload: "Failed to send chat to LLM."})
	for {
		ev = readEvent(t, conn)
		if ev.Type == "error" {
			break
		}
	}
	assert.Equal(t, "Failed to send chat to LLM.", ev.Message)

	eng.mu.Lock()
	eng.loudness = 1234
	eng.mu.Unlock()
	for {
		ev = readEvent(t, conn)
		if ev.Type == "signal" && ev.Signal.Loudness == 1234 {
			break
		}
	}

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"kind":"set_system_prompt","payload":"be brief"}`)))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"kind":"stop"}`)))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"kind":"chat","payload":"hi"}`)))
	require.Eventually(t, func() bool { return len(eng.commands()) == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []mailbox.Command{
		{Kind: mailbox.SetSystemPrompt, Payload: "be brief"},
		{Kind: mailbox.Chat, Payload: "hi"},
	}, eng.commands())
}
