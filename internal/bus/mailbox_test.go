package bus_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/webtrace-cli/api/schemas"
	"github.com/xkilldash9x/webtrace-cli/internal/bus"
)

func TestMailbox_DeliverRoundTrip(t *testing.T) {
	m := bus.NewMailbox(2)

	go func() {
		req := <-m.Requests()
		assert.Equal(t, bus.AgentStartRecording, req.Cmd.Type)
		require.NotNil(t, req.Cmd.GlobalState)
		req.Reply(bus.AgentResponse{Status: "recording", Recording: true})
	}()

	hint := schemas.RecordingState{IsRecording: true}
	resp, err := m.Deliver(context.Background(), bus.AgentCommand{
		Type:        bus.AgentStartRecording,
		GlobalState: &hint,
	})
	require.NoError(t, err)
	assert.True(t, resp.Recording)
	assert.Equal(t, "recording", resp.Status)
}

func TestMailbox_DeliverToClosedMailbox(t *testing.T) {
	// Models a message sent to a torn-down tab: it must fail fast, not hang.
	m := bus.NewMailbox(2)
	m.Close()

	_, err := m.Deliver(context.Background(), bus.AgentCommand{Type: bus.AgentPing})
	assert.ErrorIs(t, err, bus.ErrClosed)
}

func TestMailbox_DeliverHonorsDeadline(t *testing.T) {
	// Open mailbox with nobody reading and a full buffer.
	m := bus.NewMailbox(1)
	fillCtx, fillCancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	_, _ = m.Deliver(fillCtx, bus.AgentCommand{Type: bus.AgentPing})
	fillCancel()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := m.Deliver(ctx, bus.AgentCommand{Type: bus.AgentPing})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}
