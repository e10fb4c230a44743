package launcher

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/agenthub/hub/internal/config"
	"github.com/agenthub/hub/internal/logging"
	"github.com/agenthub/hub/internal/model"
	"github.com/agenthub/hub/internal/permission"
	"github.com/agenthub/hub/internal/queue"
	"github.com/agenthub/hub/internal/store"
	"github.com/agenthub/hub/internal/streamproc"
	"github.com/agenthub/hub/internal/thinking"
	"github.com/agenthub/hub/internal/transport"
	"github.com/agenthub/hub/internal/transport/appserver"
	"github.com/agenthub/hub/internal/transport/mcpclient"
)

// TransportFactory builds a fresh AgentTransport, used whenever Remote needs
// to drop and re-establish the connection (reset, forced-fresh-thread retry,
// disconnected-transport retry).
type TransportFactory func() (transport.AgentTransport, error)

// Remote implements RemoteLauncher (spec.md C7 / §4.8): owns the dual
// transport, the permission pipeline, and the stream processors for one
// session's remote turns.
type Remote struct {
	sessionID   string
	appServer   TransportFactory
	mcp         TransportFactory
	preferMCP   bool
	clientInfo  transport.ClientInfo
	log         *logging.Logger
	status      StatusEmitter
	queue       *queue.Queue
	fsm         *thinking.FSM
	perm        *permission.Pipeline
	workspace   string
	store       store.Store

	mu                    sync.Mutex
	tr                    transport.AgentTransport
	usingMCP              bool
	ident                 model.ThreadIdentity
	currentModeHash       string
	forceFreshThread      bool
	prevThreadID          string
	persistedResumeToken  string
	metaVersion           int64
	disconnectRetried     map[string]bool

	reasoning *streamproc.ReasoningProcessor
	diff      *streamproc.DiffProcessor

	switchCh chan struct{}
	abortCh  chan struct{}
	wakeCh   chan struct{}
}

// NewRemote constructs a Remote launcher. appServer/mcp build fresh transport
// instances on demand; preferMCP mirrors the env hint of spec.md §4.8 step 1.
// st, resumeToken, and metaVersion seed resumability across mode switches and
// process restarts (spec.md §1/§3): resumeToken is the session's persisted
// Metadata.ResumeToken and metaVersion its MetadataVersion at the time this
// Remote was constructed.
func NewRemote(sessionID string, appServer, mcp TransportFactory, preferMCP bool, clientInfo transport.ClientInfo, workspace string, q *queue.Queue, fsm *thinking.FSM, perm *permission.Pipeline, status StatusEmitter, log *logging.Logger, st store.Store, resumeToken string, metaVersion int64) *Remote {
	return &Remote{
		sessionID:            sessionID,
		appServer:            appServer,
		mcp:                  mcp,
		preferMCP:            preferMCP,
		clientInfo:           clientInfo,
		workspace:            workspace,
		queue:                q,
		fsm:                  fsm,
		perm:                 perm,
		status:               status,
		log:                  log,
		store:                st,
		prevThreadID:         resumeToken,
		persistedResumeToken: resumeToken,
		metaVersion:          metaVersion,
		reasoning:            streamproc.NewReasoningProcessor(),
		diff:                 streamproc.NewDiffProcessor(),
		disconnectRetried:    make(map[string]bool),
		switchCh:             make(chan struct{}, 1),
		abortCh:              make(chan struct{}, 1),
		wakeCh:               make(chan struct{}, 1),
	}
}

// ResumeState returns the most recently persisted resume token and its
// metadata version, so SessionLoop can carry them forward across a mode
// switch back to Remote later (spec.md §1's cross-restart resumability).
func (r *Remote) ResumeState() (string, int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.persistedResumeToken, r.metaVersion
}

// persistResumeToken writes threadID to the store as this session's resume
// token, retrying a few times on an optimistic-concurrency conflict with the
// refreshed version the store reports before giving up.
func (r *Remote) persistResumeToken(ctx context.Context, threadID string) {
	if r.store == nil || threadID == "" {
		return
	}
	const maxAttempts = 3
	for attempt := 0; attempt < maxAttempts; attempt++ {
		r.mu.Lock()
		version := r.metaVersion
		r.mu.Unlock()

		res := r.store.UpdateSessionMetadata(ctx, r.sessionID, version, store.UpdateMetadataOptions{ResumeToken: &threadID})
		if res.Success {
			r.mu.Lock()
			r.metaVersion = res.Version
			r.persistedResumeToken = threadID
			r.mu.Unlock()
			return
		}
		if res.Conflict {
			r.mu.Lock()
			r.metaVersion = res.Version
			r.mu.Unlock()
			continue
		}
		if res.Err != nil {
			r.log.WithError(res.Err).Warn("remote: persist resume token failed")
		}
		return
	}
	r.log.Warn("remote: persist resume token: gave up after repeated version conflicts")
}

func (r *Remote) wake(model.QueuedMessage) {
	select {
	case r.wakeCh <- struct{}{}:
	default:
	}
}

// RequestSwitch implements the UI double-space / RPC "switch" callback.
func (r *Remote) RequestSwitch() {
	select {
	case r.switchCh <- struct{}{}:
	default:
	}
}

// RequestAbort implements the RPC "abort" callback.
func (r *Remote) RequestAbort() {
	select {
	case r.abortCh <- struct{}{}:
	default:
	}
}

// Run drives the remote loop until it exits or switches (spec.md §4.8).
func (r *Remote) Run(ctx context.Context) (ExitReason, error) {
	if err := r.connect(ctx); err != nil {
		return ExitExit, err
	}
	defer r.disconnect()

	r.queue.SetOnMessage(r.wake)
	defer r.queue.SetOnMessage(nil)

	if !r.queue.Empty() {
		r.wake(model.QueuedMessage{})
	}

	for {
		msg, ok := r.queue.Peek()
		if !ok {
			select {
			case <-ctx.Done():
				return ExitExit, nil
			case <-r.switchCh:
				r.disconnect()
				return ExitSwitch, nil
			case <-r.abortCh:
				r.handleAbort(ctx)
			case <-r.wakeCh:
			}
			continue
		}

		select {
		case <-ctx.Done():
			return ExitExit, nil
		case <-r.switchCh:
			r.disconnect()
			return ExitSwitch, nil
		case <-r.abortCh:
			r.handleAbort(ctx)
			continue
		default:
		}

		if model.IsolateCommand(msg.Text) != "" {
			r.queue.Pop()
			r.handleReset(ctx, msg)
			continue
		}

		if !r.ident.IsZero() && r.currentModeHash != "" && msg.Hash != r.currentModeHash {
			r.queue.Pop()
			r.forceModeRestart(ctx, msg.Hash)
			r.queue.PushFront(msg.Text, msg.Mode) // re-queue at the front, keep the rest of the queue intact
			continue
		}

		r.queue.Pop()
		r.runTurn(ctx, msg)

		ready := r.fsm.Finalize(thinking.FinalizeParams{QueueEmpty: r.queue.Empty()})
		if ready {
			r.status.EmitReady(r.sessionID)
		}
	}
}

func (r *Remote) connect(ctx context.Context) error {
	factory := r.appServer
	usingMCP := false
	if r.preferMCP {
		factory = r.mcp
		usingMCP = true
	}

	tr, err := factory()
	if err != nil {
		return err
	}

	if err := tr.Connect(ctx); err == nil {
		if !usingMCP {
			if _, err := tr.Initialize(ctx, r.clientInfo); err != nil {
				r.log.WithError(err).Warn("remote: app-server initialize failed, falling back to MCP")
				_ = tr.Disconnect()
				tr, err = r.mcp()
				if err != nil {
					return err
				}
				usingMCP = true
				if err := tr.Connect(ctx); err != nil {
					return err
				}
			}
		}
	} else {
		if usingMCP {
			return err
		}
		r.log.WithError(err).Warn("remote: app-server connect failed, falling back to MCP")
		tr, err = r.mcp()
		if err != nil {
			return err
		}
		usingMCP = true
		if err := tr.Connect(ctx); err != nil {
			return err
		}
	}

	r.attach(tr)
	r.mu.Lock()
	r.tr = tr
	r.usingMCP = usingMCP
	r.mu.Unlock()
	return nil
}

// attach wires the permission pipeline and event plumbing to tr (spec.md
// §4.8 step 2).
func (r *Remote) attach(tr transport.AgentTransport) {
	tr.SetNotificationHandler(transport.NotificationHandlerFunc(func(method string, params map[string]any) {
		// The transport adapter already converts to model.AgentEvent and
		// pushes it on Updates(); nothing extra is needed here beyond what
		// the adapters themselves do.
	}))
	tr.RegisterRequestHandler(appserver.NotifyItemCmdExecRequestApproval, transport.RequestHandlerFunc(r.handleApprovalRequest))
	tr.RegisterRequestHandler(appserver.NotifyItemFileChangeRequestApproval, transport.RequestHandlerFunc(r.handleApprovalRequest))
	tr.RegisterRequestHandler(mcpclient.ElicitationMethod, transport.RequestHandlerFunc(r.handleApprovalRequest))

	go func() {
		for evt := range tr.Updates() {
			r.onEvent(evt)
		}
	}()
}

func (r *Remote) handleApprovalRequest(ctx context.Context, method string, params map[string]any) (any, error) {
	toolName, _ := params["toolName"].(string)
	input, _ := params["input"].(map[string]any)
	id, _ := params["id"].(string)

	kind := model.PermissionExec
	if method == appserver.NotifyItemFileChangeRequestApproval {
		kind = model.PermissionFileChange
	}

	decision, err := r.perm.Elicit(ctx, id, toolName, input, kind)
	if err != nil && method != mcpclient.ElicitationMethod {
		return permission.AppServerDecisionString(decision), err
	}

	if method == mcpclient.ElicitationMethod {
		schema, _ := params["schema"].(map[string]any)
		properties, _ := schema["properties"].(map[string]any)
		return permission.BuildMCPElicitationReply(decision, properties), err
	}
	return permission.AppServerDecisionString(decision), err
}

func (r *Remote) onEvent(evt model.AgentEvent) {
	switch evt.Type {
	case model.EventReasoningDelta:
		for _, e := range r.reasoning.Delta(evt.Text) {
			r.status.EmitEvent(r.sessionID, e)
		}
		return
	case model.EventTurnDiff:
		for _, e := range r.diff.TurnDiff(evt.UnifiedDiff) {
			r.status.EmitEvent(r.sessionID, e)
		}
		return
	case model.EventTaskStarted:
		r.fsm.TurnStarted()
	case model.EventTaskComplete, model.EventTurnAborted, model.EventTaskFailed:
		for _, e := range r.reasoning.SectionBreak() {
			r.status.EmitEvent(r.sessionID, e)
		}
		r.diff.Reset()
		r.fsm.TurnTerminal()
	}
	r.status.EmitEvent(r.sessionID, evt)
}

func (r *Remote) disconnect() {
	r.mu.Lock()
	tr := r.tr
	r.tr = nil
	r.mu.Unlock()
	if tr != nil {
		_ = tr.Disconnect()
	}
}

// handleReset implements spec.md §4.8 step 1.
func (r *Remote) handleReset(ctx context.Context, msg model.QueuedMessage) {
	r.mu.Lock()
	r.prevThreadID = resumeTokenOf(r.ident)
	r.mu.Unlock()

	if msg.Text == "/new" {
		r.disconnect()
		if err := r.connect(ctx); err != nil {
			r.log.WithError(err).Warn("remote: reconnect after /new failed")
		}
	}

	r.mu.Lock()
	r.ident = model.ThreadIdentity{}
	r.forceFreshThread = true
	r.mu.Unlock()

	r.reasoning.Reset()
	r.diff.Reset()
	r.perm.ResetAll()
	r.fsm.IsolatedCommand()

	r.status.EmitStatus(r.sessionID, "Started a new conversation")
}

// forceModeRestart implements spec.md §4.8 step 2.
func (r *Remote) forceModeRestart(ctx context.Context, newHash string) {
	r.mu.Lock()
	usingMCP := r.usingMCP
	r.mu.Unlock()

	if usingMCP {
		r.mu.Lock()
		r.ident = model.ThreadIdentity{}
		r.mu.Unlock()
	}
	// App-server: no action needed, the mismatch resolves naturally on the
	// next startTurn once forceFreshThread is considered.
	r.mu.Lock()
	r.currentModeHash = newHash
	r.mu.Unlock()
}

// runTurn implements spec.md §4.8 steps 3-5.
func (r *Remote) runTurn(ctx context.Context, msg model.QueuedMessage) {
	r.fsm.UserMessageAccepted()

	r.mu.Lock()
	tr := r.tr
	ident := r.ident
	forceFresh := r.forceFreshThread
	prevID := r.prevThreadID
	r.currentModeHash = msg.Hash
	r.mu.Unlock()

	if tr == nil {
		r.status.EmitStatus(r.sessionID, "Codex transport disconnected. Please resend your message.")
		return
	}

	cfg := config.Derive(msg.Mode, nil)

	if ident.IsZero() {
		var err error
		if !forceFresh && prevID != "" {
			ident, err = tr.ResumeThread(ctx, transport.ThreadResumeParams{ResumeToken: prevID, Model: cfg.Model})
		} else {
			ident, err = tr.StartThread(ctx, transport.ThreadStartParams{
				WorkspacePath:  r.workspace,
				Model:          cfg.Model,
				ApprovalPolicy: string(cfg.ApprovalPolicy),
				Sandbox:        string(cfg.Sandbox),
			})
		}

		if err == nil && forceFresh && ident.ThreadID != "" && ident.ThreadID == prevID {
			r.disconnect()
			if cerr := r.connect(ctx); cerr != nil {
				r.classifyAndReport(cerr, msg)
				return
			}
			r.mu.Lock()
			tr = r.tr
			r.mu.Unlock()
			ident, err = tr.StartThread(ctx, transport.ThreadStartParams{
				WorkspacePath:  r.workspace,
				Model:          cfg.Model,
				ApprovalPolicy: string(cfg.ApprovalPolicy),
				Sandbox:        string(cfg.Sandbox),
			})
		}

		if err != nil {
			r.classifyAndReport(err, msg)
			return
		}

		r.mu.Lock()
		r.ident = ident
		r.forceFreshThread = false
		r.mu.Unlock()
		r.persistResumeToken(ctx, resumeTokenOf(ident))
	}

	_, err := tr.StartTurn(ctx, transport.TurnStartParams{ThreadID: ident.ThreadID, Text: msg.Text})
	if err != nil {
		r.classifyAndReport(err, msg)
		return
	}

	// The MCP variant has no dedicated thread/start call, so its identity is
	// only recoverable after a turn completes (idTracker sniffs it out of
	// tool-call results and notifications); pick it up here so later turns
	// and a future resume see it.
	if it, ok := tr.(transport.IdentityTracker); ok {
		if tracked := it.Identity(); !tracked.IsZero() {
			r.mu.Lock()
			r.ident = tracked
			r.mu.Unlock()
			r.persistResumeToken(ctx, resumeTokenOf(tracked))
		}
	}

	delete(r.disconnectRetried, msg.Hash+msg.Text)
}

// resumeTokenOf picks the field RemoteLauncher should persist as the
// session's resume token: app-server transports populate ThreadID, MCP ones
// populate SessionID (ConversationID as a last resort).
func resumeTokenOf(ident model.ThreadIdentity) string {
	if ident.ThreadID != "" {
		return ident.ThreadID
	}
	if ident.SessionID != "" {
		return ident.SessionID
	}
	return ident.ConversationID
}

// classifyAndReport implements spec.md §4.8 step 4 / §7's disconnected-
// transport one-shot retry.
func (r *Remote) classifyAndReport(err error, msg model.QueuedMessage) {
	switch {
	case errors.Is(err, transport.ErrAborted):
		r.status.EmitStatus(r.sessionID, "Turn aborted")
		r.fsm.Abort()

	case errors.Is(err, transport.ErrDisconnected) || strings.Contains(err.Error(), "disconnected transport"):
		key := msg.Hash + msg.Text
		if r.disconnectRetried[key] {
			r.status.EmitStatus(r.sessionID, "Codex transport disconnected. Please resend your message.")
			r.mu.Lock()
			r.ident = model.ThreadIdentity{}
			r.mu.Unlock()
			delete(r.disconnectRetried, key)
			r.fsm.TurnTerminal()
			return
		}
		r.disconnectRetried[key] = true
		r.disconnect()
		ctx := context.Background()
		if cerr := r.connect(ctx); cerr != nil {
			r.log.WithError(cerr).Warn("remote: reconnect after disconnected transport failed")
		}
		r.mu.Lock()
		r.ident = model.ThreadIdentity{}
		r.mu.Unlock()
		r.queue.PushFront(msg.Text, msg.Mode) // retry without dropping anything else queued

	default:
		r.log.WithError(err).Warn("remote: turn failed")
		message := err.Error()
		r.mu.Lock()
		tr := r.tr
		r.mu.Unlock()
		if sr, ok := tr.(appserver.StderrReporter); ok {
			if friendly := appserver.ParseStderrLines(sr.RecentStderr()); friendly != "" {
				message = friendly
			}
		}
		r.status.EmitStatus(r.sessionID, "Codex encountered an error: "+message)
		r.mu.Lock()
		r.ident = model.ThreadIdentity{}
		r.mu.Unlock()
		r.fsm.TurnTerminal()
	}
}

// handleAbort implements spec.md §4.8 "Abort handling".
func (r *Remote) handleAbort(ctx context.Context) {
	r.mu.Lock()
	tr := r.tr
	ident := r.ident
	r.mu.Unlock()

	if tr != nil && ident.ThreadID != "" {
		_ = tr.InterruptTurn(ctx, ident) // best-effort
	}

	r.reasoning.Reset()
	r.diff.Reset()
	r.fsm.Abort()

	select {
	case <-r.abortCh:
	default:
	}
}
