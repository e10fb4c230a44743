package launcher

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"

	"github.com/creack/pty"

	"github.com/agenthub/hub/internal/logging"
	"github.com/agenthub/hub/internal/model"
	"github.com/agenthub/hub/internal/queue"
	"github.com/agenthub/hub/internal/scanner"
	"github.com/agenthub/hub/internal/thinking"
)

// Local owns the child process in local mode: the agent runs as an
// interactive TUI attached to a real pty, and SessionScanner reconstructs
// the event stream from the journals the child writes to disk (spec.md
// §4.7). Local intercepts queue-level reset commands and restarts the
// child without handing control to RemoteLauncher.
type Local struct {
	binary    string
	sessionID string
	log       *logging.Logger
	queue     *queue.Queue
	status    StatusEmitter
	fsm       *thinking.FSM
	bridge    MCPBridge
	scan      *scanner.Scanner

	mu           sync.Mutex
	resetCommand bool
	childCancel  context.CancelFunc
}

// New constructs a Local launcher.
func New(binary, sessionID string, q *queue.Queue, status StatusEmitter, fsm *thinking.FSM, bridge MCPBridge, scan *scanner.Scanner, log *logging.Logger) *Local {
	return &Local{binary: binary, sessionID: sessionID, queue: q, status: status, fsm: fsm, bridge: bridge, scan: scan, log: log}
}

// Run drives the child process until a reset loops it, or a non-reset
// queued message / child exit hands off control.
func (l *Local) Run(ctx context.Context) (ExitReason, error) {
	if l.bridge != nil {
		if err := l.bridge.Start(); err != nil {
			l.log.WithError(err).Warn("local: mcp bridge failed to start")
		}
		defer l.bridge.Stop()
	}

	l.queue.SetOnMessage(l.onMessage)
	defer l.queue.SetOnMessage(nil)

	for {
		if msg, ok := l.queue.Peek(); ok {
			// A non-reset message, or /model specifically, hands off to
			// RemoteLauncher: mode-hash-based model switching only lives
			// there, and onMessage below never consumes /model.
			if !msg.Isolate || model.IsolateCommand(msg.Text) == "/model" {
				return ExitSwitch, nil
			}
		}

		exit, err := l.runOnce(ctx)

		l.mu.Lock()
		reset := l.resetCommand
		l.resetCommand = false
		l.mu.Unlock()

		if reset {
			l.status.EmitStatus(l.sessionID, "Started a new conversation")
			l.fsm.IsolatedCommand()
			if l.scan != nil {
				l.scan.SetActiveSession("")
			}
			l.status.EmitReady(l.sessionID)
			continue // restart the child fresh
		}
		return exit, err
	}
}

func (l *Local) runOnce(ctx context.Context) (ExitReason, error) {
	childCtx, cancel := context.WithCancel(ctx)
	l.mu.Lock()
	l.childCancel = cancel
	l.mu.Unlock()
	defer cancel()

	cmd := exec.CommandContext(childCtx, l.binary)
	f, err := pty.Start(cmd)
	if err != nil {
		return ExitExit, fmt.Errorf("local: spawn %s: is it installed and on PATH? %w", l.binary, err)
	}
	defer f.Close()

	// Bridge the hub's own controlling terminal through to the child so the
	// TUI behaves as if run directly, mirroring teacher practice for
	// interactive child processes.
	copyDone := make(chan struct{})
	go func() {
		_, _ = io.Copy(os.Stdout, f)
		close(copyDone)
	}()
	go func() { _, _ = io.Copy(f, os.Stdin) }()

	waitErr := cmd.Wait()
	<-copyDone

	if childCtx.Err() != nil {
		return ExitExit, nil // canceled by a reset, handled by caller
	}
	if waitErr != nil {
		return ExitExit, fmt.Errorf("local: child exited: %w", waitErr)
	}
	return ExitExit, nil
}

// onMessage is the queue interceptor from spec.md §4.7: on seeing /new or
// /clear, consume it from the queue, record resetCommand, and abort the
// current child.
func (l *Local) onMessage(msg model.QueuedMessage) {
	cmd := model.IsolateCommand(msg.Text)
	if cmd != "/new" && cmd != "/clear" {
		return
	}
	if !l.queue.Remove(msg) {
		return
	}

	l.mu.Lock()
	l.resetCommand = true
	cancel := l.childCancel
	l.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}
