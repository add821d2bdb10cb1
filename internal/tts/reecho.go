// Package tts talks to the Reecho voice API: voice metadata, synthesis
// requests and the streaming audio fetch.
package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	DefaultBaseURL = "https://v1.reecho.cn/api"
	DefaultTimeout = 10 * time.Second

	synthesisModel = "reecho-neural-voice-001"
	streamChunk    = 16 * 1024
)

// ErrMalformedResponse reports a response body that lacks the expected fields.
var ErrMalformedResponse = errors.New("malformed reecho response")

// StatusError is returned for non-200 responses.
type StatusError struct {
	Op     string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("reecho %s: status %d: %s", e.Op, e.Status, e.Body)
}

type Config struct {
	BaseURL string
	APIKey  string
	// Timeout bounds metadata and synthesis requests.
	Timeout time.Duration
	// StreamTimeout bounds the streaming fetch; zero means no limit.
	StreamTimeout time.Duration
}

type Client struct {
	baseURL       string
	apiKey        string
	timeout       time.Duration
	streamTimeout time.Duration
	client        *http.Client
}

func New(cfg Config) *Client {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL:       base,
		apiKey:        cfg.APIKey,
		timeout:       timeout,
		streamTimeout: cfg.StreamTimeout,
		client:        &http.Client{},
	}
}

type voiceMetadata struct {
	Prompts []Prompt `json:"prompts"`
	Voice   struct {
		Metadata struct {
			Prompts []Prompt `json:"prompts"`
		} `json:"metadata"`
	} `json:"voice"`
}

type voiceResponse struct {
	Status int `json:"status"`
	Data   *struct {
		ID       string        `json:"id"`
		Metadata voiceMetadata `json:"metadata"`
	} `json:"data"`
}

// Voice fetches the prompts of a voice. Ids carrying MarketPrefix are looked
// up in the voice market, which nests prompts one level deeper.
func (c *Client) Voice(ctx context.Context, id string) (VoiceProfile, error) {
	path := "/tts/voice/" + url.PathEscape(id)
	market := strings.HasPrefix(id, MarketPrefix)
	if market {
		path = "/market/voice/" + url.PathEscape(strings.TrimPrefix(id, MarketPrefix))
	}

	var resp voiceResponse
	if err := c.getJSON(ctx, "voice", path, nil, &resp); err != nil {
		return VoiceProfile{}, err
	}
	if resp.Data == nil {
		return VoiceProfile{}, fmt.Errorf("%w: voice %q has no data", ErrMalformedResponse, id)
	}

	prompts := resp.Data.Metadata.Prompts
	if market {
		prompts = resp.Data.Metadata.Voice.Metadata.Prompts
	}
	return VoiceProfile{ID: id, Prompts: prompts}, nil
}

type catalogueResponse struct {
	Data []struct {
		ID   string `json:"id"`
		Name string `json:"name"`
		Type string `json:"type"`
	} `json:"data"`
}

// Voices lists the account's voices together with market voices it has added.
// Market entries get MarketPrefix on their id so Voice can resolve them.
func (c *Client) Voices(ctx context.Context) ([]Voice, error) {
	var resp catalogueResponse
	if err := c.getJSON(ctx, "voices", "/tts/voice", url.Values{"showMarket": {"true"}}, &resp); err != nil {
		return nil, err
	}

	voices := make([]Voice, 0, len(resp.Data))
	for _, v := range resp.Data {
		id := v.ID
		if v.Type != "" {
			id = MarketPrefix + id
		}
		voices = append(voices, Voice{ID: id, Name: v.Name})
	}
	return voices, nil
}

// Request is one synthesis call.
type Request struct {
	VoiceID  string
	PromptID string
	Text     string
}

type synthesisPayload struct {
	VoiceID                 string `json:"voiceId"`
	PromptID                string `json:"promptId"`
	Text                    string `json:"text"`
	Model                   string `json:"model"`
	Randomness              int    `json:"randomness"`
	StabilityBoost          int    `json:"stability_boost"`
	ProbabilityOptimization int    `json:"probability_optimization"`
	BreakClone              bool   `json:"break_clone"`
	Flash                   bool   `json:"flash"`
	Stream                  bool   `json:"stream"`
}

type synthesisResponse struct {
	Status  *int   `json:"status"`
	Message string `json:"message"`
	Data    struct {
		StreamURL string `json:"streamUrl"`
	} `json:"data"`
}

// Synthesize asks for speech and returns the URL the audio will stream from.
func (c *Client) Synthesize(ctx context.Context, req Request) (string, error) {
	payload := synthesisPayload{
		VoiceID:                 req.VoiceID,
		PromptID:                req.PromptID,
		Text:                    req.Text,
		Model:                   synthesisModel,
		Randomness:              97,
		StabilityBoost:          100,
		ProbabilityOptimization: 99,
		Flash:                   true,
		Stream:                  true,
	}
	bodyBytes, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/tts/simple-generate", bytes.NewReader(bodyBytes))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	var resp synthesisResponse
	if err := c.doJSON(httpReq, "synthesize", &resp); err != nil {
		return "", err
	}
	if resp.Status != nil && *resp.Status != http.StatusOK {
		return "", &StatusError{Op: "synthesize", Status: *resp.Status, Body: resp.Message}
	}
	if resp.Data.StreamURL == "" {
		return "", fmt.Errorf("%w: no streamUrl", ErrMalformedResponse)
	}
	return resp.Data.StreamURL, nil
}

// Stream fetches streamURL and delivers the body in chunks. The data channel is
// closed when the body ends or the fetch fails; at most one error is sent and
// the error channel is closed afterwards. Cancel ctx to abandon the fetch.
func (c *Client) Stream(ctx context.Context, streamURL string) (<-chan []byte, <-chan error) {
	out := make(chan []byte, 8)
	errc := make(chan error, 1)

	go func() {
		defer close(errc)
		defer close(out)

		if c.streamTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, c.streamTimeout)
			defer cancel()
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, streamURL, nil)
		if err != nil {
			errc <- err
			return
		}
		resp, err := c.client.Do(req)
		if err != nil {
			errc <- fmt.Errorf("reecho stream: %w", err)
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			errc <- &StatusError{Op: "stream", Status: resp.StatusCode, Body: string(b)}
			return
		}

		for {
			buf := make([]byte, streamChunk)
			n, err := resp.Body.Read(buf)
			if n > 0 {
				select {
				case out <- buf[:n]:
				case <-ctx.Done():
					errc <- ctx.Err()
					return
				}
			}
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				errc <- fmt.Errorf("reecho stream: %w", err)
				return
			}
		}
	}()

	return out, errc
}

func (c *Client) getJSON(ctx context.Context, op, path string, query url.Values, v any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	return c.doJSON(req, op, v)
}

func (c *Client) doJSON(req *http.Request, op string, v any) error {
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("reecho %s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{Op: op, Status: resp.StatusCode, Body: string(b)}
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformedResponse, op, err)
	}
	return nil
}
