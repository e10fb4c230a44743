// Package sessionloop implements SessionLoop (spec.md C8 / §2): the
// top-level coordinator that owns one session's message queue and
// alternates between LocalLauncher and RemoteLauncher based on the exit
// reason each returns, forwarding lifecycle events to the store, the event
// sink, and the RPC registry.
package sessionloop

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/agenthub/hub/internal/eventbus"
	"github.com/agenthub/hub/internal/launcher"
	"github.com/agenthub/hub/internal/logging"
	"github.com/agenthub/hub/internal/model"
	"github.com/agenthub/hub/internal/permission"
	"github.com/agenthub/hub/internal/queue"
	"github.com/agenthub/hub/internal/rpc"
	"github.com/agenthub/hub/internal/scanner"
	"github.com/agenthub/hub/internal/store"
	"github.com/agenthub/hub/internal/thinking"
	"github.com/agenthub/hub/internal/transport"
)

// Mode is the local/remote selector a session starts or switches into.
type Mode int

const (
	ModeLocal Mode = iota
	ModeRemote
)

// Deps bundles every collaborator a SessionLoop needs, all of them the
// "out of scope" external interfaces of spec.md §6.
type Deps struct {
	Store    store.Store
	Bus      eventbus.EventBus
	Registry rpc.Registry
	Log      *logging.Logger

	AgentHome   string
	AppServerTr launcher.TransportFactory
	MCPTr       launcher.TransportFactory
	ClientInfo  transport.ClientInfo
	Bridge      launcher.MCPBridge
}

// Loop owns one session's queue, launchers, and collaborator plumbing.
type Loop struct {
	sessionID string
	namespace string
	deps      Deps

	queue *queue.Queue
	fsm   *thinking.FSM
	perm  *permission.Pipeline
	sink  *eventSink

	mode    Mode
	session model.Session

	remote *launcher.Remote
}

// New constructs a Loop for sessionID, registering its RPC handlers.
func New(sessionID, namespace string, deps Deps, startMode Mode) *Loop {
	l := &Loop{
		sessionID: sessionID,
		namespace: namespace,
		deps:      deps,
		queue:     queue.New(),
		fsm:       thinking.New(),
		mode:      startMode,
	}
	l.sink = &eventSink{sessionID: sessionID, bus: deps.Bus, store: deps.Store}
	l.perm = permission.New(sessionID, l.sink, l.sink, model.PermissionModeDefault)
	l.registerRPC()
	return l
}

// Run drives the loop: construct and run the active launcher, switch on its
// ExitReason, repeat until it returns exit or ctx is canceled.
func (l *Loop) Run(ctx context.Context) error {
	sess, err := l.deps.Store.GetOrCreateSession(ctx, l.sessionID, l.namespace)
	if err != nil {
		return fmt.Errorf("sessionloop: get-or-create session: %w", err)
	}
	l.session = sess

	for {
		if ctx.Err() != nil {
			return nil
		}

		iterCtx, cancelIter := context.WithCancel(ctx)
		g, gctx := errgroup.WithContext(iterCtx)
		var exit launcher.ExitReason
		var runErr error

		switch l.mode {
		case ModeLocal:
			exit, runErr = l.runLocal(gctx, g)
		case ModeRemote:
			exit, runErr = l.runRemote(gctx, g)
		}

		// The launcher itself has returned; release its background
		// goroutines (the scanner, for local mode) before the next iteration.
		cancelIter()
		if waitErr := g.Wait(); waitErr != nil && runErr == nil && waitErr != context.Canceled {
			runErr = waitErr
		}
		if runErr != nil {
			l.deps.Log.WithSession(l.sessionID).WithError(runErr).Warn("sessionloop: launcher returned an error")
		}

		switch exit {
		case launcher.ExitSwitch:
			l.mode = otherMode(l.mode)
			continue
		default: // ExitExit
			l.teardown()
			return runErr
		}
	}
}

func otherMode(m Mode) Mode {
	if m == ModeLocal {
		return ModeRemote
	}
	return ModeLocal
}

func (l *Loop) runLocal(ctx context.Context, g *errgroup.Group) (launcher.ExitReason, error) {
	scan := scanner.New(l.deps.AgentHome, l.deps.Log, scanner.Callbacks{
		OnEvent: func(evt model.AgentEvent) { l.sink.Emit(l.sessionID, evt) },
	}, scanner.Filter{})

	g.Go(func() error { return scan.Run(ctx) })

	local := launcher.New(l.deps.AgentHome, l.sessionID, l.queue, l.sink, l.fsm, l.deps.Bridge, scan, l.deps.Log)
	return local.Run(ctx)
}

func (l *Loop) runRemote(ctx context.Context, g *errgroup.Group) (launcher.ExitReason, error) {
	l.remote = launcher.NewRemote(
		l.sessionID, l.deps.AppServerTr, l.deps.MCPTr, false, l.deps.ClientInfo, l.deps.AgentHome,
		l.queue, l.fsm, l.perm, l.sink, l.deps.Log,
		l.deps.Store, l.session.Metadata.ResumeToken, l.session.MetadataVersion,
	)
	exit, err := l.remote.Run(ctx)
	// Carry the resume token and its version forward so a later switch back
	// to Remote (or a process restart that re-reads the session) resumes the
	// same thread instead of starting fresh (spec.md §1).
	token, version := l.remote.ResumeState()
	l.session.Metadata.ResumeToken = token
	l.session.MetadataVersion = version
	l.remote = nil
	return exit, err
}

// teardown replaces this session's RPC handlers with no-ops (spec.md §5:
// "replaced with no-ops on shutdown, not unregistered") and cancels any
// pending permission requests.
func (l *Loop) teardown() {
	l.perm.ResetAll()
	for _, m := range []string{rpc.MethodAbort, rpc.MethodSwitch, rpc.MethodPermission, rpc.MethodSetSessionConfig, rpc.MethodKillSession, rpc.MethodResumeSession} {
		l.deps.Registry.Replace(rpc.SessionKey(l.sessionID, m), rpc.NoOpHandler)
	}
}

func (l *Loop) registerRPC() {
	reg := l.deps.Registry
	reg.Register(rpc.SessionKey(l.sessionID, rpc.MethodAbort), func(ctx context.Context, params any) (any, error) {
		if l.remote != nil {
			l.remote.RequestAbort()
		}
		return nil, nil
	})
	reg.Register(rpc.SessionKey(l.sessionID, rpc.MethodSwitch), func(ctx context.Context, params any) (any, error) {
		if l.remote != nil {
			l.remote.RequestSwitch()
		}
		return nil, nil
	})
	reg.Register(rpc.SessionKey(l.sessionID, rpc.MethodPermission), func(ctx context.Context, params any) (any, error) {
		p, ok := params.(rpc.PermissionReplyParams)
		if !ok {
			return nil, fmt.Errorf("sessionloop: bad permission params")
		}
		decision := model.PermissionDecision{Decision: model.DecisionDenied}
		if p.Decision != "" {
			decision.Decision = model.DecisionKind(p.Decision)
		} else if p.Approved {
			decision.Decision = model.DecisionApproved
		}
		return nil, l.perm.Resolve(p.ID, decision)
	})
	reg.Register(rpc.SessionKey(l.sessionID, rpc.MethodSetSessionConfig), func(ctx context.Context, params any) (any, error) {
		if mode, ok := params.(model.PermissionMode); ok {
			l.perm.SetMode(mode)
		}
		return nil, nil
	})
}
