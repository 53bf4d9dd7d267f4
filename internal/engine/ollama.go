package engine

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"toolcall/internal/logger"
)

const (
	ollamaDefaultBase  = "http://localhost:11434"
	ollamaDefaultModel = "llama3.1:8b"
)

var _ Engine = (*Ollama)(nil)

type OllamaOption func(*Ollama)

func WithBaseURL(baseURL string) OllamaOption {
	return func(o *Ollama) {
		if baseURL != "" {
			o.baseURL = baseURL
		}
	}
}

// Ollama streams generations from a local Ollama server over /api/chat with
// NDJSON chunks.
type Ollama struct {
	logger  logger.Logger
	baseURL string
	model   string
	client  *http.Client
}

func NewOllama(logger logger.Logger, model string, opts ...OllamaOption) *Ollama {
	if model == "" {
		model = ollamaDefaultModel
	}
	o := &Ollama{
		logger:  logger,
		baseURL: ollamaDefaultBase,
		model:   model,
		// generation can legitimately take minutes on slow local hardware
		client: &http.Client{Timeout: 300 * time.Second},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *Ollama) Model() string { return o.model }

// Healthy probes the server so startup can fail with a clear message instead
// of a mid-conversation transport error.
func (o *Ollama) Healthy(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.baseURL+"/api/tags", nil)
	if err != nil {
		return err
	}
	resp, err := o.client.Do(req)
	if err != nil {
		return fmt.Errorf("ollama not reachable at %s: %w", o.baseURL, err)
	}
	defer resp.Body.Close() //nolint:errcheck
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ollama returned status %d", resp.StatusCode)
	}
	return nil
}

func (o *Ollama) Stream(ctx context.Context, messages []Message, opts ...StreamOption) <-chan Event {
	config := streamConfig{temperature: 1.0}
	for _, opt := range opts {
		if opt != nil {
			opt(&config)
		}
	}
	ch := make(chan Event)
	go func() {
		defer close(ch)
		resp, err := o.request(ctx, messages, config)
		if err != nil {
			ch <- &ErrorEvent{Err: err}
			return
		}
		defer resp.Body.Close() //nolint:errcheck
		if resp.StatusCode != http.StatusOK {
			body, err := io.ReadAll(resp.Body)
			if err != nil {
				ch <- &ErrorEvent{Err: fmt.Errorf("error reading response body: %w", err)}
			} else {
				ch <- &ErrorEvent{Err: fmt.Errorf("non-ok status (%d) from ollama: %s", resp.StatusCode, string(body))}
			}
			return
		}
		reader := bufio.NewReader(resp.Body)
		for {
			line, err := reader.ReadString('\n')
			select {
			case <-ctx.Done():
				ch <- &ErrorEvent{Err: ctx.Err()}
				return
			default:
			}
			if errors.Is(err, io.EOF) {
				return
			} else if err != nil {
				ch <- &ErrorEvent{Err: fmt.Errorf("error reading stream: %w", err)}
				return
			}
			var chunk ollamaChunk
			if err := json.Unmarshal([]byte(line), &chunk); err != nil {
				o.logger.Error("failed to parse ollama chunk: %v", err)
				continue
			}
			if chunk.Message.Content != "" {
				ch <- &ContentDeltaEvent{Content: chunk.Message.Content}
			}
			if chunk.Done {
				ch <- &UsageEvent{Usage: Usage{
					PromptTokens:     chunk.PromptEvalCount,
					CompletionTokens: chunk.EvalCount,
				}}
				return
			}
		}
	}()
	return ch
}

func (o *Ollama) request(ctx context.Context, messages []Message, config streamConfig) (*http.Response, error) {
	payload := ollamaRequest{
		Model:    o.model,
		Messages: make([]ollamaMsg, 0, len(messages)),
		Stream:   true,
		Options:  map[string]any{"temperature": config.temperature},
	}
	if config.maxTokens > 0 {
		payload.Options["num_predict"] = config.maxTokens
	}
	for _, msg := range messages {
		payload.Messages = append(payload.Messages, ollamaMsg{
			Role:    string(msg.Role),
			Content: msg.Content,
		})
	}
	var data bytes.Buffer
	encoder := json.NewEncoder(&data)
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode(payload); err != nil {
		return nil, fmt.Errorf("error marshalling request: %w", err)
	}
	o.logger.Debug("ollama request payload: %s", data.String())
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/chat", &data)
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("content-type", "application/json")
	return o.client.Do(req)
}

// helper types ------------------------------------------------------------------------------------

type ollamaRequest struct {
	Model    string         `json:"model"`
	Messages []ollamaMsg    `json:"messages"`
	Stream   bool           `json:"stream"`
	Options  map[string]any `json:"options,omitempty"`
}

type ollamaMsg struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChunk struct {
	Message         ollamaMsg `json:"message"`
	Done            bool      `json:"done"`
	DoneReason      string    `json:"done_reason"`
	PromptEvalCount int       `json:"prompt_eval_count"`
	EvalCount       int       `json:"eval_count"`
}
