package tts

import (
	"context"
	"encoding/json"
	"math/rand/v2"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, h http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(Config{BaseURL: srv.URL + "/api/", APIKey: "rk-test"})
}

func TestClient_Voice(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/tts/voice/v-123", r.URL.Path)
		assert.Equal(t, "Bearer rk-test", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"status":200,"data":{"id":"v-123","metadata":{"prompts":[{"id":"p1","name":"happy"},{"id":"p2","name":"sad"}]}}}`))
	}))

	profile, err := c.Voice(context.Background(), "v-123")
	require.NoError(t, err)
	assert.Equal(t, []Prompt{{ID: "p1", Name: "happy"}, {ID: "p2", Name: "sad"}}, profile.Prompts)
}

func TestClient_VoiceMarket(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/market/voice/m-9", r.URL.Path)
		_, _ = w.Write([]byte(`{"data":{"metadata":{"voice":{"metadata":{"prompts":[{"id":"p7","name":"angry"}]}}}}}`))
	}))

	profile, err := c.Voice(context.Background(), "market:m-9")
	require.NoError(t, err)
	assert.Equal(t, "market:m-9", profile.ID)
	assert.Equal(t, []Prompt{{ID: "p7", Name: "angry"}}, profile.Prompts)
}

func TestClient_VoiceErrors(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/tts/voice/missing":
			http.Error(w, "not found", http.StatusNotFound)
		case "/api/tts/voice/garbled":
			_, _ = w.Write([]byte(`{"data":`))
		default:
			_, _ = w.Write([]byte(`{"status":200}`))
		}
	}))

	_, err := c.Voice(context.Background(), "missing")
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusNotFound, statusErr.Status)

	_, err = c.Voice(context.Background(), "garbled")
	require.ErrorIs(t, err, ErrMalformedResponse)

	_, err = c.Voice(context.Background(), "empty")
	require.ErrorIs(t, err, ErrMalformedResponse)
}

func TestClient_Voices(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/tts/voice", r.URL.Path)
		assert.Equal(t, "true", r.URL.Query().Get("showMarket"))
		_, _ = w.Write([]byte(`{"data":[{"id":"a","name":"Alice"},{"id":"b","name":"Bob","type":"market"}]}`))
	}))

	voices, err := c.Voices(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []Voice{{ID: "a", Name: "Alice"}, {ID: "market:b", Name: "Bob"}}, voices)
	assert.Equal(t, "Bob (market:b)", voices[1].Label())
}

func TestClient_Synthesize(t *testing.T) {
	var body map[string]any
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/tts/simple-generate", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		_, _ = w.Write([]byte(`{"status":200,"data":{"streamUrl":"https://cdn.example/stream/1"}}`))
	}))

	streamURL, err := c.Synthesize(context.Background(), Request{VoiceID: "v", PromptID: "p1", Text: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example/stream/1", streamURL)

	assert.Equal(t, "v", body["voiceId"])
	assert.Equal(t, "p1", body["promptId"])
	assert.Equal(t, "hello", body["text"])
	assert.Equal(t, "reecho-neural-voice-001", body["model"])
	assert.Equal(t, float64(97), body["randomness"])
	assert.Equal(t, float64(100), body["stability_boost"])
	assert.Equal(t, float64(99), body["probability_optimization"])
	assert.Equal(t, false, body["break_clone"])
	assert.Equal(t, true, body["flash"])
	assert.Equal(t, true, body["stream"])
}

func TestClient_SynthesizeBodyStatus(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":402,"message":"insufficient credits"}`))
	}))

	_, err := c.Synthesize(context.Background(), Request{VoiceID: "v", PromptID: "p", Text: "x"})
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, 402, statusErr.Status)
	assert.Contains(t, err.Error(), "insufficient credits")
}

func TestClient_SynthesizeMissingURL(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":{}}`))
	}))

	_, err := c.Synthesize(context.Background(), Request{VoiceID: "v", PromptID: "p", Text: "x"})
	require.ErrorIs(t, err, ErrMalformedResponse)
}

func drain(t *testing.T, data <-chan []byte, errc <-chan error) ([]byte, error) {
	t.Helper()
	var got []byte
	for chunk := range data {
		got = append(got, chunk...)
	}
	return got, <-errc
}

func TestClient_Stream(t *testing.T) {
	payload := strings.Repeat("mp3-bytes-", 5000)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		half := len(payload) / 2
		_, _ = w.Write([]byte(payload[:half]))
		w.(http.Flusher).Flush()
		_, _ = w.Write([]byte(payload[half:]))
	}))
	defer srv.Close()

	c := New(Config{APIKey: "rk-test"})
	got, err := drain(t, c.Stream(context.Background(), srv.URL))
	require.NoError(t, err)
	assert.Equal(t, payload, string(got))
}

func TestClient_StreamStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusGone)
	}))
	defer srv.Close()

	c := New(Config{})
	got, err := drain(t, c.Stream(context.Background(), srv.URL))
	assert.Empty(t, got)
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusGone, statusErr.Status)
}

func TestClient_StreamCancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("first"))
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	c := New(Config{})
	data, errc := c.Stream(ctx, srv.URL)

	select {
	case chunk := <-data:
		assert.Equal(t, "first", string(chunk))
	case <-time.After(2 * time.Second):
		t.Fatal("no data")
	}
	cancel()

	_, err := drain(t, data, errc)
	require.Error(t, err)
}

func TestVoiceProfile_PromptFor(t *testing.T) {
	v := VoiceProfile{Prompts: []Prompt{{ID: "p1", Name: "happy"}, {ID: "p2", Name: "sad"}}}
	rng := rand.New(rand.NewPCG(1, 2))

	p, matched, ok := v.PromptFor("[sad]", rng)
	require.True(t, ok)
	assert.True(t, matched)
	assert.Equal(t, "p2", p.ID)

	p, matched, ok = v.PromptFor("[confused]", rng)
	require.True(t, ok)
	assert.False(t, matched)
	assert.Contains(t, []string{"p1", "p2"}, p.ID)

	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		p, _, _ := v.PromptFor("", rng)
		seen[p.ID] = true
	}
	assert.Len(t, seen, 2)

	_, _, ok = VoiceProfile{}.PromptFor("[happy]", rng)
	assert.False(t, ok)
}
