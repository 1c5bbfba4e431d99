package llm

import "context"

// NoopEngine returns its input unchanged. It is the identity engine used
// by tests and by callers that only want placeholder/chunk plumbing
// exercised without a real model.
type NoopEngine struct{}

// Complete implements Engine.
func (NoopEngine) Complete(_ context.Context, req Request) (string, error) {
	return req.Text, nil
}
