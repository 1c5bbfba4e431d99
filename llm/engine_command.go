package llm

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
)

// CommandEngine drives an external read-only coding-agent CLI as a
// rewrite filter: the chunk prompt is piped to the subprocess's stdin
// and the rewritten text is read back from a temp file the subprocess
// is told to write its last message to, mirroring the codex-exec
// invocation shape (--sandbox read-only --output-last-message <path>).
type CommandEngine struct {
	Bin             string
	Model           string
	ReasoningEffort string
}

// NewCommandEngine validates that bin is non-empty.
func NewCommandEngine(bin, model, reasoningEffort string) (*CommandEngine, error) {
	if bin == "" {
		return nil, fmt.Errorf("llm: command engine: %w", ErrMissingCredentials)
	}
	return &CommandEngine{Bin: bin, Model: model, ReasoningEffort: reasoningEffort}, nil
}

// Complete implements Engine by running the configured CLI in
// read-only sandbox mode with req.Text plus instructions as its
// prompt, and returning the contents it wrote to --output-last-message.
func (e *CommandEngine) Complete(ctx context.Context, req Request) (string, error) {
	out, err := os.CreateTemp("", "sitebookify-llm-*.txt")
	if err != nil {
		return "", fmt.Errorf("llm: command engine: create output temp file: %w", err)
	}
	outPath := out.Name()
	out.Close()
	defer os.Remove(outPath)

	var args []string
	if e.Model != "" {
		args = append(args, "--model", e.Model)
	}
	if e.ReasoningEffort != "" {
		args = append(args, "--config", fmt.Sprintf("model_reasoning_effort=%q", e.ReasoningEffort))
	}
	args = append(args, "exec", "-",
		"--skip-git-repo-check",
		"--sandbox", "read-only",
		"--color", "never",
		"--output-last-message", outPath,
	)

	prompt := fmt.Sprintf(
		"%s\nLanguage: %s. Tone: %s.\nHard rules: do not introduce facts; preserve every {{SBY_TOKEN_...}} placeholder exactly, unchanged; headings minimal, body paragraph-first.\n\n%s",
		orDefault(req.Prompt, "Rewrite the following Markdown for clarity."),
		orDefault(req.Language, "unchanged"), orDefault(req.Tone, "unchanged"),
		req.Text,
	)

	cmd := exec.CommandContext(ctx, e.Bin, args...)
	cmd.Stdin = bytes.NewReader([]byte(prompt))

	var stderr bytes.Buffer
	cmd.Stdout = nil
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("llm: command engine: %s: %w: %s", e.Bin, err, stderr.String())
	}

	data, err := os.ReadFile(outPath)
	if err != nil {
		return "", fmt.Errorf("llm: command engine: read output: %w", err)
	}
	return string(data), nil
}
