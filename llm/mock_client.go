package llm

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MockClient is a scriptable Client for tests. Responses are returned in
// order; when the script is exhausted the last response repeats. Set Err to
// simulate an unreachable model.
type MockClient struct {
	mu        sync.Mutex
	Responses []string
	Err       error
	next      int

	// Requests records every request seen, for assertions on prompts.
	Requests []*ChatCompletionRequest
}

// NewMockClient creates a mock client with a fixed response script.
func NewMockClient(responses ...string) *MockClient {
	return &MockClient{Responses: responses}
}

// Ensure MockClient implements Client.
var _ Client = (*MockClient)(nil)

// CreateChatCompletion returns the next scripted response.
func (m *MockClient) CreateChatCompletion(ctx context.Context, req *ChatCompletionRequest) (*ChatCompletionResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Requests = append(m.Requests, req)
	if m.Err != nil {
		return nil, m.Err
	}

	content := "{}"
	if len(m.Responses) > 0 {
		idx := m.next
		if idx >= len(m.Responses) {
			idx = len(m.Responses) - 1
		}
		content = m.Responses[idx]
		m.next++
	}

	return &ChatCompletionResponse{
		ID:      fmt.Sprintf("mock-chatcmpl-%d", time.Now().UnixNano()),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   req.Model,
		Choices: []Choice{
			{
				Index:        0,
				Message:      &ChatMessage{Role: "assistant", Content: content},
				FinishReason: "stop",
			},
		},
		Usage: &Usage{PromptTokens: 10, CompletionTokens: 10, TotalTokens: 20},
	}, nil
}
