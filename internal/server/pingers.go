package server

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/aqzhen/Revu/internal/store"
)

// StorePinger reports the reachability of the SQLite store.
type StorePinger struct {
	// Store is the database handle to probe.
	Store *store.Store
}

// Ping checks that the database answers a round-trip within the context.
func (p *StorePinger) Ping(ctx context.Context) error {
	if err := p.Store.Ping(ctx); err != nil {
		return fmt.Errorf("store ping: %w", err)
	}
	return nil
}

// Name returns the dependency label for readiness responses.
func (p *StorePinger) Name() string { return "sqlite" }

// LLMPinger reports the reachability of the chat model backend by issuing a
// minimal generation request. Probes are bounded by the readiness timeout so
// a slow backend shows up as not-ready rather than hanging the check.
type LLMPinger struct {
	// Model is the chat model to probe.
	Model model.BaseChatModel
	// Backend is the dependency label (e.g. "ollama", "openai").
	Backend string
}

// Ping sends a one-word prompt and discards the response.
func (p *LLMPinger) Ping(ctx context.Context) error {
	_, err := p.Model.Generate(ctx, []*schema.Message{schema.UserMessage("ping")})
	if err != nil {
		return fmt.Errorf("model ping: %w", err)
	}
	return nil
}

// Name returns the dependency label for readiness responses.
func (p *LLMPinger) Name() string { return p.Backend }
