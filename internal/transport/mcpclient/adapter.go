// Package mcpclient implements the MCP variant of AgentTransport (spec.md
// §4.2): the same contract surface as the AppServer variant, but frames are
// MCP messages over stdio, using github.com/mark3labs/mcp-go's client.
package mcpclient

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
	mcpclientlib "github.com/mark3labs/mcp-go/client"

	"github.com/agenthub/hub/internal/eventconv"
	"github.com/agenthub/hub/internal/logging"
	"github.com/agenthub/hub/internal/model"
	"github.com/agenthub/hub/internal/transport"
)

// Adapter is the MCP stdio variant of transport.AgentTransport.
type Adapter struct {
	binary string
	log    *logging.Logger

	mu      sync.Mutex
	client  *mcpclientlib.Client
	ids     idTracker

	updatesCh chan model.AgentEvent

	handlersMu      sync.RWMutex
	requestHandlers map[string]transport.RequestHandler
	notifyHandler   transport.NotificationHandler
}

// New constructs an Adapter for the given agent binary.
func New(binary string, log *logging.Logger) *Adapter {
	return &Adapter{
		binary:          binary,
		log:             log,
		updatesCh:       make(chan model.AgentEvent, 256),
		requestHandlers: make(map[string]transport.RequestHandler),
	}
}

// subcommand detects the agent's MCP entrypoint by probing --version, per
// spec.md §4.2: newer releases expose "mcp-server", older ones "mcp".
func (a *Adapter) subcommand(ctx context.Context) string {
	out, err := exec.CommandContext(ctx, a.binary, "--version").CombinedOutput()
	if err != nil {
		return "mcp-server"
	}
	version := strings.TrimSpace(string(out))
	if strings.HasPrefix(version, "codex-cli 0.") {
		return "mcp"
	}
	return "mcp-server"
}

// ElicitationMethod is the fixed key RegisterRequestHandler callers use to
// receive MCP elicitation requests (spec.md §4.2's "Registers an
// elicitation request handler to receive approval prompts").
const ElicitationMethod = "elicitation/create"

func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.client != nil {
		return nil
	}

	sub := a.subcommand(ctx)
	c, err := mcpclientlib.NewStdioMCPClient(a.binary, nil, sub)
	if err != nil {
		return fmt.Errorf("%w: %s: is it installed and on PATH? %v", transport.ErrSpawnFailed, a.binary, err)
	}

	c.OnNotification(a.handleServerNotification)
	c.OnElicitation(a.handleElicitation)
	a.client = c
	return nil
}

// handleElicitation routes an MCP elicitation (approval prompt) to whatever
// handler was registered under ElicitationMethod. The handler returns the
// {action, content?} shape built by permission.BuildMCPElicitationReply as a
// plain map, which is translated into the library's ElicitationResult here
// rather than leaking the mcp-go type into the permission package.
func (a *Adapter) handleElicitation(ctx context.Context, req mcpgo.ElicitationRequest) (mcpgo.ElicitationResult, error) {
	a.handlersMu.RLock()
	h, ok := a.requestHandlers[ElicitationMethod]
	a.handlersMu.RUnlock()
	if !ok {
		return mcpgo.ElicitationResult{Action: "decline"}, nil
	}

	params := map[string]any{
		"message": req.Params.Message,
		"schema":  req.Params.RequestedSchema,
	}
	result, err := h.Handle(ctx, ElicitationMethod, params)
	if err != nil {
		return mcpgo.ElicitationResult{}, err
	}
	reply, ok := result.(map[string]any)
	if !ok {
		return mcpgo.ElicitationResult{Action: "decline"}, nil
	}

	mcpResult := mcpgo.ElicitationResult{}
	if action, ok := reply["action"].(string); ok {
		mcpResult.Action = action
	} else {
		mcpResult.Action = "decline"
	}
	if content, ok := reply["content"].(map[string]any); ok {
		mcpResult.Content = content
	} else {
		delete(reply, "action")
		if len(reply) > 0 {
			mcpResult.Content = reply
		}
	}
	return mcpResult, nil
}

func (a *Adapter) Disconnect() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.client != nil {
		_ = a.client.Close()
		a.client = nil
	}
	a.ids.reset()
	return nil
}

func (a *Adapter) Initialize(ctx context.Context, info transport.ClientInfo) (transport.ServerInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, transport.InitTimeout)
	defer cancel()

	req := mcpgo.InitializeRequest{}
	req.Params.ProtocolVersion = mcpgo.LATEST_PROTOCOL_VERSION
	req.Params.ClientInfo = mcpgo.Implementation{Name: info.Name, Version: info.Version}

	result, err := a.client.Initialize(ctx, req)
	if err != nil {
		if isDisconnected(err) {
			return transport.ServerInfo{}, fmt.Errorf("%w: %v", transport.ErrDisconnected, err)
		}
		return transport.ServerInfo{}, err
	}
	return transport.ServerInfo{Name: result.ServerInfo.Name, Version: result.ServerInfo.Version}, nil
}

// StartThread has no first-class equivalent over MCP: the first tool call
// implicitly establishes a conversation, whose id is recovered from
// response meta via idTracker. StartThread therefore returns a zero-value
// identity immediately. ResumeThread returns an identity whose SessionID is
// the resume token; the token is not sent to the agent, since StartTurn's
// tool call carries only the prompt.
func (a *Adapter) StartThread(ctx context.Context, params transport.ThreadStartParams) (model.ThreadIdentity, error) {
	return model.ThreadIdentity{}, nil
}

func (a *Adapter) ResumeThread(ctx context.Context, params transport.ThreadResumeParams) (model.ThreadIdentity, error) {
	return model.ThreadIdentity{SessionID: params.ResumeToken}, nil
}

func (a *Adapter) StartTurn(ctx context.Context, params transport.TurnStartParams) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, transport.LongCallTimeout)
	defer cancel()

	req := mcpgo.CallToolRequest{}
	req.Params.Name = "codex"
	req.Params.Arguments = map[string]any{"prompt": params.Text}

	result, err := a.client.CallTool(ctx, req)
	if err != nil {
		if isDisconnected(err) {
			return "", fmt.Errorf("%w: %v", transport.ErrDisconnected, err)
		}
		return "", err
	}

	a.mu.Lock()
	a.extractMeta(result.Meta)
	a.mu.Unlock()
	return "", nil
}

func (a *Adapter) InterruptTurn(ctx context.Context, ident model.ThreadIdentity) error {
	// The MCP variant has no dedicated interrupt call; cancellation is
	// handled by the caller cancelling ctx passed to StartTurn/CallTool.
	return nil
}

func (a *Adapter) RegisterRequestHandler(method string, h transport.RequestHandler) {
	a.handlersMu.Lock()
	defer a.handlersMu.Unlock()
	a.requestHandlers[method] = h
}

func (a *Adapter) SetNotificationHandler(h transport.NotificationHandler) {
	a.handlersMu.Lock()
	defer a.handlersMu.Unlock()
	a.notifyHandler = h
}

func (a *Adapter) Updates() <-chan model.AgentEvent {
	return a.updatesCh
}

// Identity implements transport.IdentityTracker: it surfaces the ids
// recovered so far by idTracker, since StartThread/StartTurn can't return
// them synchronously over MCP (spec.md §4.2).
func (a *Adapter) Identity() model.ThreadIdentity {
	a.mu.Lock()
	defer a.mu.Unlock()
	sessionID, conversationID, threadID := a.ids.identity()
	return model.ThreadIdentity{SessionID: sessionID, ConversationID: conversationID, ThreadID: threadID}
}

// handleServerNotification receives MCP server->client notifications
// carrying journal-style event envelopes. Elicitation requests (approval
// prompts) do not pass through here; they arrive via handleElicitation.
func (a *Adapter) handleServerNotification(n mcpgo.JSONRPCNotification) {
	params, _ := n.Params.AdditionalFields["payload"].(map[string]any)
	envelopeType, _ := n.Params.AdditionalFields["type"].(string)

	a.mu.Lock()
	a.ids.followIDs(params)
	a.mu.Unlock()

	evt, meta, ok := eventconv.ConvertMCPEnvelope(eventconv.MCPEnvelope{Type: envelopeType, Payload: params})
	if meta != nil {
		a.mu.Lock()
		a.ids.follow("session", meta.SessionID)
		a.mu.Unlock()
	}
	if !ok {
		return
	}
	a.sendUpdate(evt)

	a.handlersMu.RLock()
	h := a.notifyHandler
	a.handlersMu.RUnlock()
	if h != nil {
		h.Notify(n.Method, params)
	}
}

func (a *Adapter) extractMeta(meta map[string]any) {
	a.ids.extractIDs(meta)
	if content, ok := meta["content"].([]any); ok {
		for _, c := range content {
			if m, ok := c.(map[string]any); ok {
				a.ids.extractIDs(m)
			}
		}
	}
}

func (a *Adapter) sendUpdate(evt model.AgentEvent) {
	select {
	case a.updatesCh <- evt:
	default:
		a.log.Warn("mcpclient: updates channel full, dropping event")
	}
}

// isDisconnected recognizes "disconnected transport" errors per spec.md
// §4.2, so the caller may retry after a client + transport state reset.
func isDisconnected(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(strings.ToLower(err.Error()), "disconnected transport") ||
		strings.Contains(strings.ToLower(err.Error()), "broken pipe")
}
