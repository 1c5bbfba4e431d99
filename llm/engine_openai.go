package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// OpenAIConfig configures OpenAIEngine. APIKey, Model, and BaseURL are
// read from SITEBOOKIFY_OPENAI_API_KEY / OPENAI_API_KEY,
// SITEBOOKIFY_OPENAI_MODEL, and SITEBOOKIFY_OPENAI_BASE_URL by the
// caller (job.Runner when it builds a job's engine), not by this file.
type OpenAIConfig struct {
	APIKey          string
	Model           string
	ReasoningEffort string
	BaseURL         string
	HTTPClient      *http.Client
}

// OpenAIEngine calls the OpenAI Responses API directly over net/http:
// no client library for this API is present anywhere in the retrieval
// pack, so the request/response shapes are constructed by hand.
type OpenAIEngine struct {
	cfg OpenAIConfig
}

// NewOpenAIEngine validates cfg and returns an engine, or
// ErrMissingCredentials if cfg.APIKey is empty.
func NewOpenAIEngine(cfg OpenAIConfig) (*OpenAIEngine, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("llm: openai engine: %w", ErrMissingCredentials)
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &OpenAIEngine{cfg: cfg}, nil
}

type responsesRequest struct {
	Model           string `json:"model"`
	Input           string `json:"input"`
	Instructions    string `json:"instructions"`
	ReasoningEffort string `json:"reasoning_effort,omitempty"`
}

type responsesOutputContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type responsesOutputItem struct {
	Type    string                   `json:"type"`
	Content []responsesOutputContent `json:"content"`
}

type responsesResponse struct {
	Output []responsesOutputItem `json:"output"`
}

// Complete implements Engine by issuing one Responses API request per
// chunk, carrying the hard rules spec.md requires ("do not introduce
// facts", "preserve placeholders exactly", "headings minimal,
// body paragraph-first") as system instructions.
func (e *OpenAIEngine) Complete(ctx context.Context, req Request) (string, error) {
	instructions := fmt.Sprintf(
		"%s\nLanguage: %s. Tone: %s.\nHard rules: do not introduce facts; preserve every {{SBY_TOKEN_...}} placeholder exactly, unchanged; headings minimal, body paragraph-first.",
		req.Prompt, orDefault(req.Language, "unchanged"), orDefault(req.Tone, "unchanged"),
	)

	body := responsesRequest{
		Model:           e.cfg.Model,
		Input:           req.Text,
		Instructions:    instructions,
		ReasoningEffort: e.cfg.ReasoningEffort,
	}
	data, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("llm: openai: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.BaseURL+"/responses", bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("llm: openai: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+e.cfg.APIKey)

	resp, err := e.cfg.HTTPClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("llm: openai: request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return "", fmt.Errorf("llm: openai: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("llm: openai: status %d: %s", resp.StatusCode, string(respBody))
	}

	var parsed responsesResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("llm: openai: parse response: %w", err)
	}

	var out string
	for _, item := range parsed.Output {
		for _, c := range item.Content {
			out += c.Text
		}
	}
	return out, nil
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
