package mock

import (
	"context"
	"slices"
	"sync"

	"github.com/poiesic/policyrag/ai"
)

// ChatCall records one Complete invocation.
type ChatCall struct {
	System   string
	Messages []ai.Message
}

// MockChatModel is a test double for ai.ChatModel.
type MockChatModel struct {
	// CompleteFunc is called by Complete if set.
	// If nil, Reply is returned.
	CompleteFunc func(ctx context.Context, system string, messages []ai.Message) (string, error)

	// Reply is the canned answer.
	Reply string

	mu    sync.Mutex
	calls []ChatCall
}

// NewMockChatModel creates a chat model that always answers reply.
func NewMockChatModel(reply string) *MockChatModel {
	return &MockChatModel{Reply: reply}
}

// Complete records the call and returns the canned reply.
func (m *MockChatModel) Complete(ctx context.Context, system string, messages []ai.Message) (string, error) {
	m.mu.Lock()
	m.calls = append(m.calls, ChatCall{System: system, Messages: slices.Clone(messages)})
	m.mu.Unlock()

	if m.CompleteFunc != nil {
		return m.CompleteFunc(ctx, system, messages)
	}
	return m.Reply, nil
}

// Calls returns every recorded invocation.
func (m *MockChatModel) Calls() []ChatCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.calls)
}
