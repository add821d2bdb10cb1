// Package llm sends the conversation to an OpenAI-compatible chat completion endpoint.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/keshucs12345/voicechat/internal/history"
)

const DefaultTimeout = 10 * time.Second

// ErrMalformedResponse reports a completion that could not be turned into a message.
var ErrMalformedResponse = errors.New("malformed completion response")

type Config struct {
	// Endpoint is the full chat completions URL, e.g. https://api.openai.com/v1/chat/completions.
	Endpoint string
	APIKey   string
	Model    string
	// Proxy is an optional HTTP proxy URL used for completion calls only.
	Proxy   string
	Timeout time.Duration
}

type Client struct {
	client  *openai.Client
	model   string
	timeout time.Duration
}

func New(cfg Config) (*Client, error) {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.Endpoint != "" {
		oc.BaseURL = strings.TrimRight(strings.TrimSuffix(strings.TrimRight(cfg.Endpoint, "/"), "/chat/completions"), "/")
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.Proxy != "" {
		proxyURL, err := url.Parse(cfg.Proxy)
		if err != nil {
			return nil, fmt.Errorf("parse proxy url: %w", err)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}
	oc.HTTPClient = &http.Client{Transport: transport}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{client: openai.NewClientWithConfig(oc), model: cfg.Model, timeout: timeout}, nil
}

// Complete sends the whole conversation and returns the first choice's message.
func (c *Client) Complete(ctx context.Context, msgs []history.Message) (history.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req := openai.ChatCompletionRequest{
		Model:    c.model,
		Messages: make([]openai.ChatCompletionMessage, 0, len(msgs)),
	}
	for _, m := range msgs {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{Role: string(m.Role), Content: m.Content})
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		if undecodable(err) {
			return history.Message{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
		}
		return history.Message{}, fmt.Errorf("create chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return history.Message{}, fmt.Errorf("%w: no choices", ErrMalformedResponse)
	}

	choice := resp.Choices[0].Message
	role := history.Role(choice.Role)
	if role == "" {
		role = history.RoleAssistant
	}
	if role != history.RoleAssistant && role != history.RoleUser {
		return history.Message{}, fmt.Errorf("%w: unexpected role %q", ErrMalformedResponse, choice.Role)
	}
	return history.Message{Role: role, Content: choice.Content}, nil
}

// undecodable reports a 200 response whose body is not a completion. go-openai
// returns the json decoder's error unwrapped in that case.
func undecodable(err error) bool {
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return true
	}
	// transport failures arrive wrapped in *url.Error, so only a bare EOF is the body
	return err == io.EOF || err == io.ErrUnexpectedEOF
}
