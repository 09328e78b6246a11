package providers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/wpierozak/pipiline-agent/internal/chat"
	"github.com/wpierozak/pipiline-agent/internal/tool"
)

// MockClient is a scripted chat.Model: each Invoke call returns the next
// response from a fixed script, in order. It exists for deterministic tests
// and for the "mock" resource type, mirroring LLMFactory's MagicMock branch
// with a scripted side_effect in the system this package is grounded on.
type MockClient struct {
	name     string
	script   []chat.Response
	calls    int
	tools    []tool.Tool
	induce   bool
	Requests [][]chat.Message
}

// NewMockClient returns a client that replays script in order, one response
// per Invoke call.
func NewMockClient(name string, script ...chat.Response) *MockClient {
	return &MockClient{name: name, script: script}
}

func (m *MockClient) Name() string { return m.name }

func (m *MockClient) BindTools(tools []tool.Tool, induce bool) {
	m.tools = tools
	m.induce = induce
}

func (m *MockClient) Tools() []tool.Tool { return m.tools }

func (m *MockClient) Invoke(_ context.Context, messages []chat.Message, _ json.RawMessage) (chat.Response, error) {
	m.Requests = append(m.Requests, messages)
	if m.calls >= len(m.script) {
		return chat.Response{}, fmt.Errorf("providers: mock script exhausted after %d calls", m.calls)
	}
	resp := m.script[m.calls]
	m.calls++
	return resp, nil
}
