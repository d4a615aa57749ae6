// File: internal/recorder/agent/page.go
package agent

import (
	"context"
	"time"

	"golang.org/x/net/html"

	"github.com/xkilldash9x/webtrace-cli/api/schemas"
	"github.com/xkilldash9x/webtrace-cli/internal/recorder/action"
	"github.com/xkilldash9x/webtrace-cli/internal/recorder/snapshot"
)

// Page is the agent's view of one page context. The live implementation
// talks CDP (internal/browser); tests substitute a fake.
type Page interface {
	// ID returns the stable page-context identifier.
	ID() string

	// Info returns the page identity for lifecycle decisions and logs.
	Info(ctx context.Context) (schemas.PageInfo, error)

	// Meta returns the non-DOM page facts (address, scroll, viewport).
	Meta(ctx context.Context) (snapshot.PageMeta, error)

	// DOM returns a parsed snapshot of the current document.
	DOM(ctx context.Context) (*html.Node, error)

	// LoadDuration reports how long the last navigation took, best-effort.
	LoadDuration(ctx context.Context) (time.Duration, error)

	// InstallCapture injects the capture-phase interaction listeners and,
	// when asked, the visible recording indicator. Idempotent.
	InstallCapture(ctx context.Context, showIndicator bool) error

	// RemoveCapture deregisters the listeners and removes the indicator.
	// Idempotent.
	RemoveCapture(ctx context.Context) error

	// Events streams raw interaction events emitted by the capture script.
	// The channel closes when the page context is torn down.
	Events() <-chan action.RawEvent

	// Closed is signalled when the page context is torn down.
	Closed() <-chan struct{}
}
