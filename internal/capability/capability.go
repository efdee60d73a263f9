// Package capability declares the narrow contracts toward external
// collaborators: the agent loop, tool execution, message channels and the
// memory engine. The orchestration core only triggers these; their
// implementations live elsewhere.
package capability

import "context"

// AgentRequest asks the agent to handle a prompt under a session key.
type AgentRequest struct {
	SessionKey  string
	Query       string
	CronContext map[string]any
}

type AgentResponse struct {
	Response string
}

type AgentRunner interface {
	Execute(ctx context.Context, req AgentRequest) (AgentResponse, error)
}

// ToolResult is the structured outcome of a tool invocation. OK=false is
// a tool-level failure even when the call itself succeeded.
type ToolResult struct {
	OK    bool
	Data  any
	Error string
}

type ToolRunner interface {
	Execute(ctx context.Context, tool string, args map[string]any) (ToolResult, error)
}

type Message struct {
	Channel   string
	Recipient string
	Content   string
}

type MessageSender interface {
	Send(ctx context.Context, msg Message) error
}

type MemoryUpdate struct {
	Key     string
	Content string
	Tags    []string
}

type MemoryUpdater interface {
	Update(ctx context.Context, up MemoryUpdate) error
}
