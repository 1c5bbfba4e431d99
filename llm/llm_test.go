package llm

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

type echoEngine struct{ calls int }

func (e *echoEngine) Complete(_ context.Context, req Request) (string, error) {
	e.calls++
	return req.Text, nil
}

type upperEngine struct{}

func (upperEngine) Complete(_ context.Context, req Request) (string, error) {
	return strings.ToUpper(req.Text), nil
}

type stripTokenEngine struct{}

func (stripTokenEngine) Complete(_ context.Context, req Request) (string, error) {
	return strings.Replace(req.Text, "{{SBY_TOKEN_000000}}", "", 1), nil
}

func TestRewrite_PreservesCodeFenceAndURL(t *testing.T) {
	body := "See ```go\nfmt.Println(1)\n``` and visit https://example.com/docs for more."
	gw := NewGateway(&echoEngine{}, WithMaxChars(1000))

	out, err := gw.Rewrite(context.Background(), body, "rewrite", "en", "neutral")
	require.NoError(t, err)
	require.Contains(t, out, "```go\nfmt.Println(1)\n```")
	require.Contains(t, out, "https://example.com/docs")
}

func TestRewrite_NoopEngineIsIdentity(t *testing.T) {
	body := "Plain paragraph with no special spans."
	gw := NewGateway(NoopEngine{}, WithMaxChars(1000))

	out, err := gw.Rewrite(context.Background(), body, "", "", "")
	require.NoError(t, err)
	require.Equal(t, body, strings.TrimSpace(out))
}

func TestRewrite_FallsBackToOriginalOnPersistentValidationFailure(t *testing.T) {
	body := "Keep this inline `code()` span intact."
	gw := NewGateway(stripTokenEngine{}, WithMaxChars(1000), WithRetries(1))

	out, err := gw.Rewrite(context.Background(), body, "", "", "")
	require.NoError(t, err)
	require.Contains(t, out, "`code()`")
}

func TestRewrite_EmptyBodyReturnsEmpty(t *testing.T) {
	gw := NewGateway(NoopEngine{})
	out, err := gw.Rewrite(context.Background(), "", "", "", "")
	require.NoError(t, err)
	require.Equal(t, "", out)
}

func TestRewrite_ChunksLongTextAcrossMultipleCalls(t *testing.T) {
	var longBody strings.Builder
	for i := 0; i < 400; i++ {
		longBody.WriteString("word ")
	}
	engine := &echoEngine{}
	gw := NewGateway(engine, WithMaxChars(100))

	_, err := gw.Rewrite(context.Background(), longBody.String(), "", "", "")
	require.NoError(t, err)
	require.Greater(t, engine.calls, 1)
}

func TestNewOpenAIEngine_RequiresAPIKey(t *testing.T) {
	_, err := NewOpenAIEngine(OpenAIConfig{})
	require.ErrorIs(t, err, ErrMissingCredentials)
}

func TestNewCommandEngine_RequiresBin(t *testing.T) {
	_, err := NewCommandEngine("", "", "")
	require.ErrorIs(t, err, ErrMissingCredentials)
}

func TestProtectRestore_RoundTrip(t *testing.T) {
	text := "Run `go test ./...` then see https://go.dev/doc and\n```\nfenced block\n```\ndone."
	protected, tbl := protect(text)
	require.NotContains(t, protected, "go test")
	require.NotContains(t, protected, "https://go.dev/doc")

	restored := restore(protected, tbl)
	require.Equal(t, text, restored)
}
