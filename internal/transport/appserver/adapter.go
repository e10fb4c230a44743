package appserver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/agenthub/hub/internal/eventconv"
	"github.com/agenthub/hub/internal/logging"
	"github.com/agenthub/hub/internal/model"
	"github.com/agenthub/hub/internal/transport"
)

// Adapter is the AppServer variant of transport.AgentTransport. It spawns
// `<agentBinary> app-server`, speaks the line protocol through Client, and
// converts notifications to model.AgentEvent via eventconv.
type Adapter struct {
	binary string
	log    *logging.Logger

	mu        sync.Mutex
	cmd       *exec.Cmd
	stdin     io.WriteCloser
	client    *Client
	state     eventconv.DecoderState
	stderrBuf stderrBuffer

	updatesCh chan model.AgentEvent

	handlersMu      sync.RWMutex
	requestHandlers map[string]transport.RequestHandler
	notifyHandler   transport.NotificationHandler
}

// New constructs an Adapter for the given agent binary (e.g. "codex").
func New(binary string, log *logging.Logger) *Adapter {
	return &Adapter{
		binary:          binary,
		log:             log,
		updatesCh:       make(chan model.AgentEvent, 256),
		requestHandlers: make(map[string]transport.RequestHandler),
	}
}

func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cmd != nil {
		return nil // idempotent per spec.md §4.1
	}

	cmd := exec.CommandContext(ctx, a.binary, "app-server")
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("%w: %v", transport.ErrSpawnFailed, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("%w: %v", transport.ErrSpawnFailed, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("%w: %v", transport.ErrSpawnFailed, err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%w: %s: is it installed and on PATH? %v", transport.ErrSpawnFailed, a.binary, err)
	}

	client := NewClient(stdin, stdout, a.log)
	client.SetNotificationHandler(a.handleNotification)
	client.SetRequestHandler(a.handleRequest)
	client.Start()

	a.cmd = cmd
	a.stdin = stdin
	a.client = client
	a.stderrBuf.reset()

	go a.stderrBuf.drain(stderr)
	go a.watchExit(cmd)
	return nil
}

// RecentStderr implements StderrReporter: it returns the most recently
// captured bytes of the child's stderr, for classifying an otherwise-opaque
// spawn/protocol error via ParseStderrLines.
func (a *Adapter) RecentStderr() string {
	return a.stderrBuf.String()
}

func (a *Adapter) watchExit(cmd *exec.Cmd) {
	err := cmd.Wait()
	a.mu.Lock()
	client := a.client
	a.mu.Unlock()
	if client != nil {
		client.rejectAllPending(fmt.Errorf("%w: child exited: %v", transport.ErrDisconnected, err))
		client.Stop()
	}
}

func (a *Adapter) Disconnect() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.client != nil {
		a.client.Stop()
	}
	if a.stdin != nil {
		_ = a.stdin.Close()
	}
	if a.cmd != nil && a.cmd.Process != nil {
		_ = a.cmd.Process.Kill()
	}
	a.cmd, a.stdin, a.client = nil, nil, nil
	a.state = eventconv.DecoderState{}
	a.stderrBuf.reset()
	return nil
}

func (a *Adapter) Initialize(ctx context.Context, info transport.ClientInfo) (transport.ServerInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, transport.InitTimeout)
	defer cancel()

	raw, err := a.client.Call(ctx, MethodInitialize, initializeParams{
		ClientInfo: clientInfoWire{Name: info.Name, Version: info.Version},
	})
	if err != nil {
		return transport.ServerInfo{}, err
	}
	var result initializeResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return transport.ServerInfo{}, fmt.Errorf("%w: initialize result: %v", transport.ErrProtocol, err)
	}
	_ = a.client.Notify(MethodInitialized, struct{}{})
	return transport.ServerInfo{Name: result.ServerInfo.Name, Version: result.ServerInfo.Version}, nil
}

func (a *Adapter) StartThread(ctx context.Context, params transport.ThreadStartParams) (model.ThreadIdentity, error) {
	ctx, cancel := context.WithTimeout(ctx, transport.LongCallTimeout)
	defer cancel()

	raw, err := a.client.Call(ctx, MethodThreadStart, threadStartParams{
		Cwd: params.WorkspacePath, Model: params.Model,
		ApprovalPolicy: params.ApprovalPolicy, SandboxPolicy: params.Sandbox,
	})
	if err != nil {
		return model.ThreadIdentity{}, err
	}
	var result threadIDResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return model.ThreadIdentity{}, fmt.Errorf("%w: thread/start result: %v", transport.ErrProtocol, err)
	}
	a.mu.Lock()
	a.state.ThreadID = result.ThreadID
	a.mu.Unlock()
	return model.ThreadIdentity{ThreadID: result.ThreadID}, nil
}

func (a *Adapter) ResumeThread(ctx context.Context, params transport.ThreadResumeParams) (model.ThreadIdentity, error) {
	ctx, cancel := context.WithTimeout(ctx, transport.LongCallTimeout)
	defer cancel()

	raw, err := a.client.Call(ctx, MethodThreadResume, threadResumeParams{
		ResumePath: params.ResumeToken, Model: params.Model,
	})
	if err != nil {
		return model.ThreadIdentity{}, err
	}
	var result threadIDResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return model.ThreadIdentity{}, fmt.Errorf("%w: thread/resume result: %v", transport.ErrProtocol, err)
	}
	a.mu.Lock()
	a.state.ThreadID = result.ThreadID
	a.mu.Unlock()
	return model.ThreadIdentity{ThreadID: result.ThreadID}, nil
}

func (a *Adapter) StartTurn(ctx context.Context, params transport.TurnStartParams) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, transport.LongCallTimeout)
	defer cancel()

	raw, err := a.client.Call(ctx, MethodTurnStart, turnStartParams{
		ThreadID: params.ThreadID,
		Input:    []userInput{{Type: "text", Text: params.Text}},
	})
	if err != nil {
		return "", err
	}
	var result turnStartResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return "", fmt.Errorf("%w: turn/start result: %v", transport.ErrProtocol, err)
	}
	a.mu.Lock()
	a.state.TurnID = result.TurnID
	a.mu.Unlock()
	return result.TurnID, nil
}

func (a *Adapter) InterruptTurn(ctx context.Context, ident model.ThreadIdentity) error {
	ctx, cancel := context.WithTimeout(ctx, transport.InterruptTimeout)
	defer cancel()
	_, err := a.client.Call(ctx, MethodTurnInterrupt, turnInterruptParams{ThreadID: ident.ThreadID, TurnID: ident.TurnID})
	return err
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

func (a *Adapter) handleNotification(method string, rawParams json.RawMessage) {
	var params map[string]any
	if len(rawParams) > 0 {
		if err := json.Unmarshal(rawParams, &params); err != nil {
			a.log.WithError(err).Debug("appserver: dropping notification with unparseable params")
			return
		}
	}

	a.mu.Lock()
	evt, ok := eventconv.ConvertAppServer(&a.state, method, params)
	a.mu.Unlock()
	if !ok {
		return
	}
	a.sendUpdate(evt)

	a.handlersMu.RLock()
	h := a.notifyHandler
	a.handlersMu.RUnlock()
	if h != nil {
		h.Notify(method, params)
	}
}

func (a *Adapter) handleRequest(method string, rawParams json.RawMessage) (any, error) {
	var params map[string]any
	if len(rawParams) > 0 {
		_ = json.Unmarshal(rawParams, &params)
	}

	a.handlersMu.RLock()
	h, ok := a.requestHandlers[method]
	a.handlersMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown method %q", method)
	}
	return h.Handle(context.Background(), method, params)
}

// sendUpdate is a non-blocking send: a full channel drops the event rather
// than stalling the reader goroutine.
func (a *Adapter) sendUpdate(evt model.AgentEvent) {
	select {
	case a.updatesCh <- evt:
	default:
		a.log.Warn("appserver: updates channel full, dropping event", zap.String("type", string(evt.Type)))
	}
}

// IsDisconnectedError reports whether err represents a disconnected
// transport condition, used by RemoteLauncher's one-shot retry rule.
func IsDisconnectedError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "disconnected")
}
