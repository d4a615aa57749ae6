// File: internal/recorder/client.go
package recorder

import (
	"context"
	"fmt"

	"github.com/xkilldash9x/webtrace-cli/api/schemas"
	"github.com/xkilldash9x/webtrace-cli/internal/bus"
)

// Client is the control-surface view of the coordinator: every call is a
// request/response round trip over the bus, never direct state access.
type Client struct {
	bus *bus.Bus
}

// NewClient wraps a bus endpoint.
func NewClient(b *bus.Bus) *Client {
	return &Client{bus: b}
}

// Start begins a new global recording session. Starting while already
// recording restarts the session and clears the log.
func (c *Client) Start(ctx context.Context) error {
	resp, err := c.bus.Send(ctx, bus.Command{Type: bus.CmdStartGlobalRecording})
	if err != nil {
		return err
	}
	if !resp.Success {
		return fmt.Errorf("coordinator rejected start: %w", resp.Err)
	}
	return nil
}

// Stop halts the global session. Idempotent.
func (c *Client) Stop(ctx context.Context) error {
	resp, err := c.bus.Send(ctx, bus.Command{Type: bus.CmdStopGlobalRecording})
	if err != nil {
		return err
	}
	if !resp.Success {
		return fmt.Errorf("coordinator rejected stop: %w", resp.Err)
	}
	return nil
}

// State returns a read-only snapshot of the global recording state.
func (c *Client) State(ctx context.Context) (*schemas.RecordingState, error) {
	resp, err := c.bus.Send(ctx, bus.Command{Type: bus.CmdGetGlobalRecordingState})
	if err != nil {
		return nil, err
	}
	if resp.State == nil {
		return nil, fmt.Errorf("coordinator returned no state")
	}
	return resp.State, nil
}

// Export returns the assembled session artifact.
func (c *Client) Export(ctx context.Context) (*schemas.ExportedSession, error) {
	resp, err := c.bus.Send(ctx, bus.Command{Type: bus.CmdExportGlobalData})
	if err != nil {
		return nil, err
	}
	if resp.Export == nil {
		return nil, fmt.Errorf("coordinator returned no export")
	}
	return resp.Export, nil
}
