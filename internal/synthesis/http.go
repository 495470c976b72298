package synthesis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rendis/taskweave/internal/steps"
	"github.com/rendis/taskweave/pkg/schema"
)

const (
	defaultModel       = "gpt-4o-mini"
	defaultHTTPTimeout = 60 * time.Second
	maxResponseBody    = 4 * 1024 * 1024
)

// HTTPConfig configures an HTTPSynthesizer against an OpenAI-compatible
// chat completions endpoint.
type HTTPConfig struct {
	BaseURL string // e.g. https://api.openai.com/v1
	APIKey  string
	Model   string
	Timeout time.Duration
	Client  *http.Client

	// OnUsage is called with the token usage of every completion.
	OnUsage func(promptTokens, completionTokens int)
	Logger  *slog.Logger
}

// HTTPSynthesizer asks a chat completion model for executor sources.
type HTTPSynthesizer struct {
	cfg        HTTPConfig
	client     *http.Client
	history    []Example
	prompt     atomic.Int64
	completion atomic.Int64
}

// NewHTTPSynthesizer creates a synthesizer. History() is sent as few-shot
// context with every request.
func NewHTTPSynthesizer(cfg HTTPConfig) (*HTTPSynthesizer, error) {
	if cfg.BaseURL == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "synthesizer base URL is empty")
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultHTTPTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &HTTPSynthesizer{cfg: cfg, client: client, history: History()}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// messages builds the conversation sent for req.
func (s *HTTPSynthesizer) messages(req Request) []chatMessage {
	msgs := []chatMessage{{Role: "system", Content: SystemPrompt}}
	for _, ex := range s.history {
		answer, _ := json.Marshal(ex.Candidate)
		msgs = append(msgs,
			chatMessage{Role: "user", Content: FormatPrompt(ex.Kind, ex.Sample, steps.Describe(ex.Kind, ex.Sample))},
			chatMessage{Role: "assistant", Content: string(answer)},
		)
	}
	prompt := FormatPrompt(req.Kind, req.Sample, req.TypeDefinition)
	if req.PreviousError != "" {
		prompt += "\n\nThe previous answer was rejected: " + req.PreviousError
	}
	return append(msgs, chatMessage{Role: "user", Content: prompt})
}

// Synthesize sends one completion request and parses the answer.
func (s *HTTPSynthesizer) Synthesize(ctx context.Context, req Request) (Candidate, error) {
	body, err := json.Marshal(chatRequest{Model: s.cfg.Model, Messages: s.messages(req)})
	if err != nil {
		return Candidate{}, schema.NewError(schema.ErrCodeSynthesis, "encode completion request").WithCause(err)
	}

	url := strings.TrimRight(s.cfg.BaseURL, "/") + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Candidate{}, schema.NewError(schema.ErrCodeSynthesis, "build completion request").WithCause(err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if s.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)
	}

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return Candidate{}, schema.NewError(schema.ErrCodeSynthesis, "completion request failed").WithCause(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return Candidate{}, schema.NewError(schema.ErrCodeSynthesis, "read completion response").WithCause(err)
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return Candidate{}, schema.NewErrorf(schema.ErrCodeValidation, "completion endpoint rejected credentials (%d)", resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Candidate{}, schema.NewErrorf(schema.ErrCodeSynthesis, "completion endpoint returned %d", resp.StatusCode).
			WithDetails(map[string]any{"body": truncate(string(raw), 512)})
	}

	var out chatResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return Candidate{}, schema.NewError(schema.ErrCodeSynthesis, "malformed completion response").WithCause(err)
	}
	s.audit(ctx, out)
	if len(out.Choices) == 0 {
		return Candidate{}, schema.NewError(schema.ErrCodeSynthesis, "completion has no choices")
	}
	return ParseCandidate(out.Choices[0].Message.Content)
}

func (s *HTTPSynthesizer) audit(ctx context.Context, out chatResponse) {
	p, c := out.Usage.PromptTokens, out.Usage.CompletionTokens
	totalP := s.prompt.Add(int64(p))
	totalC := s.completion.Add(int64(c))
	s.cfg.Logger.DebugContext(ctx, "completion audited",
		"model", out.Model, "prompt_tokens", p, "completion_tokens", c,
		"total_prompt_tokens", totalP, "total_completion_tokens", totalC)
	if s.cfg.OnUsage != nil {
		s.cfg.OnUsage(p, c)
	}
}

// Usage returns the total prompt and completion tokens consumed so far.
func (s *HTTPSynthesizer) Usage() (prompt, completion int64) {
	return s.prompt.Load(), s.completion.Load()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return fmt.Sprintf("%s... (%d bytes)", s[:n], len(s))
}

var _ Synthesizer = (*HTTPSynthesizer)(nil)
