package rag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/poiesic/policyrag/ai"
	"github.com/poiesic/policyrag/core"
	"github.com/poiesic/policyrag/search"
)

const (
	// DefaultThreshold is the similarity floor for retrieved context.
	DefaultThreshold float32 = 0.3

	// DefaultTopK is the number of policies placed in the prompt.
	DefaultTopK = 5

	// DefaultHistoryTurns is the number of earlier messages forwarded to the model.
	DefaultHistoryTurns = 5
)

var (
	// ErrSearcherRequired is returned when a searcher is not provided.
	ErrSearcherRequired = errors.New("searcher required")

	// ErrChatModelRequired is returned when a chat model is not provided.
	ErrChatModelRequired = errors.New("chat model required")
)

// Searcher retrieves policies for a question.
type Searcher interface {
	Search(ctx context.Context, req search.Request) ([]*core.SearchResult, error)
}

// Question is one user turn plus optional conversation history and filters.
type Question struct {
	Text    string         `json:"question"`
	History []ai.Message   `json:"history,omitempty"`
	Filters search.Filters `json:"filters"`
}

// Answer is the model reply and the policies it was given.
type Answer struct {
	Text    string
	Sources []*core.SearchResult
}

// Assistant answers questions grounded on retrieved policies.
// Safe for concurrent use.
type Assistant struct {
	searcher     Searcher
	chat         ai.ChatModel
	threshold    float32
	topK         int
	historyTurns int
	systemPrompt string
	logger       *slog.Logger
}

// Option configures an Assistant.
type Option func(*Assistant) error

// WithThreshold sets the similarity floor for retrieved policies.
func WithThreshold(threshold float32) Option {
	return func(a *Assistant) error {
		if threshold < 0 || threshold > 1 {
			return fmt.Errorf("%w: threshold must be within [0,1]", core.ErrInvalidArgument)
		}
		a.threshold = threshold
		return nil
	}
}

// WithTopK sets how many policies are retrieved.
func WithTopK(k int) Option {
	return func(a *Assistant) error {
		if k <= 0 {
			return fmt.Errorf("%w: top k must be positive", core.ErrInvalidArgument)
		}
		a.topK = k
		return nil
	}
}

// WithHistoryTurns sets how many earlier messages are forwarded.
func WithHistoryTurns(n int) Option {
	return func(a *Assistant) error {
		a.historyTurns = max(n, 0)
		return nil
	}
}

// WithSystemPrompt replaces the system prompt. It must contain one %s verb for the context.
func WithSystemPrompt(prompt string) Option {
	return func(a *Assistant) error {
		if strings.Count(prompt, "%s") != 1 {
			return fmt.Errorf("%w: system prompt needs exactly one %%s", core.ErrInvalidArgument)
		}
		a.systemPrompt = prompt
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(a *Assistant) error {
		if logger == nil {
			logger = slog.Default()
		}
		a.logger = logger
		return nil
	}
}

// NewAssistant creates an assistant retrieving through searcher and answering with chat.
func NewAssistant(searcher Searcher, chat ai.ChatModel, opts ...Option) (*Assistant, error) {
	if searcher == nil {
		return nil, ErrSearcherRequired
	}
	if chat == nil {
		return nil, ErrChatModelRequired
	}

	a := &Assistant{
		searcher:     searcher,
		chat:         chat,
		threshold:    DefaultThreshold,
		topK:         DefaultTopK,
		historyTurns: DefaultHistoryTurns,
		systemPrompt: DefaultSystemPrompt,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(a); err != nil {
			return nil, err
		}
	}
	a.logger = a.logger.With("component", "assistant")
	return a, nil
}

// Ask retrieves context for q and returns the model's answer.
func (a *Assistant) Ask(ctx context.Context, q Question) (*Answer, error) {
	text := strings.TrimSpace(q.Text)
	if text == "" {
		return nil, fmt.Errorf("%w: question is empty", core.ErrInvalidArgument)
	}

	threshold := a.threshold
	sources, err := a.searcher.Search(ctx, search.Request{
		Text:      text,
		Limit:     a.topK,
		Threshold: &threshold,
		Filters:   q.Filters,
		Mode:      search.ModeAuto,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve policies: %w", err)
	}
	a.logger.Debug("retrieved context", "policies", len(sources))

	history := q.History
	if len(history) > a.historyTurns {
		history = history[len(history)-a.historyTurns:]
	}
	messages := make([]ai.Message, 0, len(history)+1)
	messages = append(messages, history...)
	messages = append(messages, ai.Message{Role: ai.RoleUser, Content: text})

	system := fmt.Sprintf(a.systemPrompt, BuildContext(sources))
	reply, err := a.chat.Complete(ctx, system, messages)
	if err != nil {
		return nil, fmt.Errorf("failed to generate answer: %w", err)
	}

	return &Answer{Text: reply, Sources: sources}, nil
}
