// Package transport declares the AgentTransport contract (spec.md C1): a
// line-delimited request/notification protocol with a spawned agent child,
// implemented by two variants, internal/transport/appserver and
// internal/transport/mcpclient.
package transport

import (
	"context"
	"errors"
	"time"

	"github.com/agenthub/hub/internal/model"
)

// Timeouts fixed by spec.md §4.1.
const (
	InitTimeout      = 30 * time.Second
	InterruptTimeout = 30 * time.Second
	LongCallTimeout  = 14 * 24 * time.Hour
)

// Error kinds classified in spec.md §7. Transports return these (wrapped
// with %w and additional context) rather than ad hoc strings.
var (
	ErrAborted      = errors.New("transport: aborted")
	ErrDisconnected = errors.New("transport: disconnected")
	ErrProtocol     = errors.New("transport: protocol error")
	ErrSpawnFailed  = errors.New("transport: spawn failed")
	ErrTimeout      = errors.New("transport: timeout")
)

// ClientInfo identifies the hub to the agent during initialize.
type ClientInfo struct {
	Name    string
	Version string
}

// ServerInfo is returned by a successful initialize.
type ServerInfo struct {
	Name    string
	Version string
}

// ThreadStartParams configures a new thread/session.
type ThreadStartParams struct {
	WorkspacePath  string
	Model          string
	ApprovalPolicy string
	Sandbox        string
}

// ThreadResumeParams resumes a prior thread/session by resume token.
type ThreadResumeParams struct {
	ResumeToken string
	Model       string
}

// TurnStartParams starts one turn within an established thread.
type TurnStartParams struct {
	ThreadID string
	Text     string
}

// RequestHandler answers an inbound request from the agent (e.g. an
// approval request). Per spec.md §9, this is a one-method interface rather
// than a captured closure, so registration ownership stays explicit.
type RequestHandler interface {
	Handle(ctx context.Context, method string, params map[string]any) (any, error)
}

// RequestHandlerFunc adapts a function to RequestHandler.
type RequestHandlerFunc func(ctx context.Context, method string, params map[string]any) (any, error)

func (f RequestHandlerFunc) Handle(ctx context.Context, method string, params map[string]any) (any, error) {
	return f(ctx, method, params)
}

// NotificationHandler receives every notification line from the agent,
// already parsed to the raw shape; EventConverter turns these into
// model.AgentEvent.
type NotificationHandler interface {
	Notify(method string, params map[string]any)
}

type NotificationHandlerFunc func(method string, params map[string]any)

func (f NotificationHandlerFunc) Notify(method string, params map[string]any) { f(method, params) }

// AgentTransport is the contract both the AppServer and MCP variants
// satisfy. The RemoteLauncher programs against this interface only.
type AgentTransport interface {
	Connect(ctx context.Context) error
	Disconnect() error

	Initialize(ctx context.Context, info ClientInfo) (ServerInfo, error)
	StartThread(ctx context.Context, params ThreadStartParams) (model.ThreadIdentity, error)
	ResumeThread(ctx context.Context, params ThreadResumeParams) (model.ThreadIdentity, error)
	StartTurn(ctx context.Context, params TurnStartParams) (string, error) // returns turnId, if any
	InterruptTurn(ctx context.Context, ident model.ThreadIdentity) error

	RegisterRequestHandler(method string, h RequestHandler)
	SetNotificationHandler(h NotificationHandler)

	Updates() <-chan model.AgentEvent
}

// IdentityTracker is an optional capability: transports that have no
// dedicated thread/start call (the MCP variant) recover the session's
// identity by sniffing it out of tool-call results and notifications as the
// connection progresses, rather than returning it synchronously from
// StartThread/StartTurn. RemoteLauncher type-asserts for this after a turn
// to pick up ids that only became known mid-connection.
type IdentityTracker interface {
	Identity() model.ThreadIdentity
}
