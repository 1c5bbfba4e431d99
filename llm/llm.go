// Package llm implements the chunked rewrite gateway (C9): placeholder
// protection for code and URLs, heading/paragraph-aware chunking,
// bounded-concurrency fan-out across chunks, and a validate-then-retry-
// then-fallback-to-original policy per chunk.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/sitebookify/sitebookify/chunk"
)

// Request is one chunk dispatched to an Engine.
type Request struct {
	Text     string // placeholder-protected Markdown
	Prompt   string // user rewrite instruction
	Language string
	Tone     string
}

// Engine is a pluggable backend for one LLM call. Implementations:
// noop (identity), openai (Responses API over HTTPS), command (a
// stdin/stdout filter subprocess).
type Engine interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// ErrMissingCredentials is returned by an Engine's constructor when a
// required credential is absent, so the gateway can fail before
// consuming any input (spec.md §4.9).
var ErrMissingCredentials = errors.New("llm: missing credentials")

// Gateway drives one Engine through the full rewrite contract.
type Gateway struct {
	engine      Engine
	maxChars    int
	concurrency int
	retries     int
	logger      *slog.Logger
}

// Option customises Gateway behaviour.
type Option func(*Gateway)

// WithMaxChars sets the chunk size ceiling in characters. Default 4000.
func WithMaxChars(n int) Option { return func(g *Gateway) { g.maxChars = n } }

// WithConcurrency sets the bounded fan-out width. Default 4.
func WithConcurrency(n int) Option { return func(g *Gateway) { g.concurrency = n } }

// WithRetries sets the per-chunk retry budget after placeholder
// validation failure. Default 2.
func WithRetries(n int) Option { return func(g *Gateway) { g.retries = n } }

// WithLogger sets the structured logger used for chunk-level warnings.
func WithLogger(l *slog.Logger) Option { return func(g *Gateway) { g.logger = l } }

// NewGateway builds a Gateway around engine.
func NewGateway(engine Engine, opts ...Option) *Gateway {
	g := &Gateway{
		engine:      engine,
		maxChars:    4000,
		concurrency: 4,
		retries:     2,
		logger:      slog.Default(),
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Rewrite runs the full chunked-rewrite contract over body and returns
// the reassembled Markdown. Every code fence, inline code span, and bare
// URL in the input appears unchanged in the output.
func (g *Gateway) Rewrite(ctx context.Context, body, prompt, language, tone string) (string, error) {
	protected, tbl := protect(body)

	// chunk.Split counts tokens as whitespace-delimited words; approximate
	// a character budget as ~5 characters per word, matching typical
	// English prose density.
	maxTokens := g.maxChars / 5
	if maxTokens < 1 {
		maxTokens = 1
	}
	chunks := chunk.Split(protected, chunk.Options{MaxTokens: maxTokens})
	if len(chunks) == 0 {
		return body, nil
	}

	rewritten := make([]string, len(chunks))
	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(g.concurrency)

	for i, c := range chunks {
		i, c := i, c
		group.Go(func() error {
			rewritten[i] = g.rewriteChunk(gctx, c.Text, prompt, language, tone)
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return "", fmt.Errorf("llm: rewrite: %w", err)
	}

	out := rewritten[0]
	for i := 1; i < len(rewritten); i++ {
		out += " " + rewritten[i]
	}
	return restore(out, tbl), nil
}

// rewriteChunk dispatches one chunk, validates the response, retries up
// to g.retries times, and falls back to the original chunk text
// (unreversed placeholders included) if validation never succeeds. It
// never returns an error: an LLM failure (error kind 6) is absorbed with
// a warning, not propagated to the surrounding job.
func (g *Gateway) rewriteChunk(ctx context.Context, text, prompt, language, tone string) string {
	req := Request{Text: text, Prompt: prompt, Language: language, Tone: tone}
	expected := tokensIn(text)

	for attempt := 0; attempt <= g.retries; attempt++ {
		resp, err := g.engine.Complete(ctx, req)
		if err != nil {
			g.logger.Warn("llm: engine call failed", "attempt", attempt, "error", err)
			continue
		}
		if validate(resp, expected) {
			return resp
		}
		g.logger.Warn("llm: placeholder validation failed, retrying", "attempt", attempt)
	}

	g.logger.Warn("llm: falling back to original chunk after exhausting retries")
	return text
}
