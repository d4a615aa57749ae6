// File: internal/bus/bus.go

// Package bus carries the asynchronous request/response traffic between page
// contexts and the session coordinator. Delivery is best-effort: a message to
// a torn-down context fails with an error the caller is expected to log and
// swallow, never retry.
package bus

import (
	"context"
	"errors"
	"sync"

	"github.com/xkilldash9x/webtrace-cli/api/schemas"
)

// ErrClosed is returned when a message is posted to a closed endpoint.
var ErrClosed = errors.New("bus: endpoint closed")

// CommandType discriminates the coordinator-bound command variants.
type CommandType string

const (
	// Control-surface commands.
	CmdStartGlobalRecording    CommandType = "startGlobalRecording"
	CmdStopGlobalRecording     CommandType = "stopGlobalRecording"
	CmdGetGlobalRecordingState CommandType = "getGlobalRecordingState"
	CmdAddRecordedAction       CommandType = "addRecordedAction"
	CmdExportGlobalData        CommandType = "exportGlobalData"

	// Page-context lifecycle events.
	CmdPageReady     CommandType = "pageReady"
	CmdPageActivated CommandType = "pageActivated"
	CmdPageClosed    CommandType = "pageClosed"
)

// Command is a tagged variant: Type selects which payload field is meaningful.
type Command struct {
	Type   CommandType
	Action *schemas.RecordedAction
	Page   *schemas.PageInfo
}

// Response carries the coordinator's answer for one command.
type Response struct {
	Success bool
	Err     error
	State   *schemas.RecordingState
	Export  *schemas.ExportedSession
}

// Request pairs a command with its reply channel.
type Request struct {
	Cmd   Command
	reply chan Response
}

// Reply delivers the response without ever blocking the coordinator loop.
// The reply channel is buffered for exactly one response; a second reply to
// the same request is dropped.
func (r *Request) Reply(resp Response) {
	select {
	case r.reply <- resp:
	default:
	}
}

// Bus is the coordinator's inbound channel. Exactly one consumer (the
// coordinator loop) drains Requests; any number of producers send.
type Bus struct {
	requests chan Request

	mu     sync.Mutex
	closed bool
}

// New creates a bus with the given request buffer.
func New(buffer int) *Bus {
	if buffer <= 0 {
		buffer = 1
	}
	return &Bus{requests: make(chan Request, buffer)}
}

// Requests exposes the inbound channel to the coordinator loop.
func (b *Bus) Requests() <-chan Request {
	return b.requests
}

// Send performs a request/response round trip. It suspends the caller until
// the coordinator replies or the context is done.
func (b *Bus) Send(ctx context.Context, cmd Command) (Response, error) {
	req := Request{Cmd: cmd, reply: make(chan Response, 1)}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return Response{}, ErrClosed
	}
	b.mu.Unlock()

	select {
	case b.requests <- req:
	case <-ctx.Done():
		return Response{}, ctx.Err()
	}

	select {
	case resp := <-req.reply:
		return resp, nil
	case <-ctx.Done():
		return Response{}, ctx.Err()
	}
}

// Post sends a command without waiting for the response beyond delivery.
// Used for fire-and-forget transmissions where the sender does not care
// about the outcome.
func (b *Bus) Post(ctx context.Context, cmd Command) error {
	req := Request{Cmd: cmd, reply: make(chan Response, 1)}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	b.mu.Unlock()

	select {
	case b.requests <- req:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close marks the bus closed. The request channel is intentionally left open
// so an in-flight Send that already passed the closed check cannot panic;
// the coordinator drains what remains.
func (b *Bus) Close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
}
