// File: internal/bus/mailbox.go
package bus

import (
	"context"
	"sync"

	"github.com/xkilldash9x/webtrace-cli/api/schemas"
)

// AgentCommandType discriminates coordinator-to-agent control messages.
type AgentCommandType string

const (
	AgentPing              AgentCommandType = "ping"
	AgentStartRecording    AgentCommandType = "startRecording"
	AgentStopRecording     AgentCommandType = "stopRecording"
	AgentExportData        AgentCommandType = "exportData"
	AgentGetRecordingState AgentCommandType = "getRecordingState"
)

// AgentCommand is the tagged variant delivered to a capture agent's mailbox.
type AgentCommand struct {
	Type AgentCommandType
	// GlobalState accompanies startRecording so the agent can decide whether
	// it is joining an existing session or starting fresh.
	GlobalState *schemas.RecordingState
}

// AgentResponse is the agent's answer to one command.
type AgentResponse struct {
	Status    string
	Err       error
	Recording bool
	Export    *schemas.LocalExport
}

// AgentRequest pairs an agent command with its reply channel.
type AgentRequest struct {
	Cmd   AgentCommand
	reply chan AgentResponse
}

// Reply delivers the agent's response; never blocks.
func (r *AgentRequest) Reply(resp AgentResponse) {
	select {
	case r.reply <- resp:
	default:
	}
}

// Mailbox is a capture agent's inbound control channel. It dies with the
// page context: Close makes every later Deliver fail fast, which models a
// message sent to a torn-down tab.
type Mailbox struct {
	requests chan AgentRequest

	mu     sync.Mutex
	closed bool
}

// NewMailbox creates an agent mailbox.
func NewMailbox(buffer int) *Mailbox {
	if buffer <= 0 {
		buffer = 8
	}
	return &Mailbox{requests: make(chan AgentRequest, buffer)}
}

// Requests exposes the inbound channel to the owning agent.
func (m *Mailbox) Requests() <-chan AgentRequest {
	return m.requests
}

// Deliver performs a request/response round trip with the agent. Returns
// ErrClosed once the mailbox owner is gone.
func (m *Mailbox) Deliver(ctx context.Context, cmd AgentCommand) (AgentResponse, error) {
	req := AgentRequest{Cmd: cmd, reply: make(chan AgentResponse, 1)}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return AgentResponse{}, ErrClosed
	}
	m.mu.Unlock()

	select {
	case m.requests <- req:
	case <-ctx.Done():
		return AgentResponse{}, ctx.Err()
	}

	select {
	case resp := <-req.reply:
		return resp, nil
	case <-ctx.Done():
		return AgentResponse{}, ctx.Err()
	}
}

// Close marks the mailbox closed.
func (m *Mailbox) Close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
}
