package engine

import (
	"context"

	"github.com/keshucs12345/voicechat/internal/config"
	"github.com/keshucs12345/voicechat/internal/history"
	"github.com/keshucs12345/voicechat/internal/llm"
	"github.com/keshucs12345/voicechat/internal/tts"
)

// Completer produces the next conversation message.
type Completer interface {
	Complete(ctx context.Context, msgs []history.Message) (history.Message, error)
}

// Synthesizer turns text into a stream of compressed audio.
type Synthesizer interface {
	Voice(ctx context.Context, id string) (tts.VoiceProfile, error)
	Synthesize(ctx context.Context, req tts.Request) (string, error)
	Stream(ctx context.Context, streamURL string) (<-chan []byte, <-chan error)
}

type Clients struct {
	Completer   Completer
	Synthesizer Synthesizer
}

// ClientFactory builds remote clients from a validated chat configuration.
type ClientFactory func(config.Chat) (Clients, error)

// DefaultClients talks to an OpenAI-compatible endpoint and Reecho.
func DefaultClients(c config.Chat) (Clients, error) {
	completer, err := llm.New(llm.Config{
		Endpoint: c.LLMURL,
		APIKey:   c.LLMKey,
		Model:    c.Model,
		Proxy:    c.Proxy,
		Timeout:  c.CompletionTimeout,
	})
	if err != nil {
		return Clients{}, err
	}
	synth := tts.New(tts.Config{
		BaseURL:       c.ReechoURL,
		APIKey:        c.ReechoKey,
		Timeout:       c.SynthesisTimeout,
		StreamTimeout: c.StreamTimeout,
	})
	return Clients{Completer: completer, Synthesizer: synth}, nil
}

// HistoryStore persists the conversation.
type HistoryStore interface {
	Load() (*history.History, error)
	Save(*history.History) error
	Remove() error
}
