package launcher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenthub/hub/internal/logging"
	"github.com/agenthub/hub/internal/model"
	"github.com/agenthub/hub/internal/permission"
	"github.com/agenthub/hub/internal/queue"
	"github.com/agenthub/hub/internal/store"
	"github.com/agenthub/hub/internal/thinking"
	"github.com/agenthub/hub/internal/transport"
)

// fakeTransport is a minimal in-memory transport.AgentTransport.
type fakeTransport struct {
	mu sync.Mutex

	connectErr    error
	initErr       error
	startErr      error
	resumeErr     error
	startTurnErr  error
	connectCalls  int
	disconnects   int
	startedThread transport.ThreadStartParams
	startedTurns  []transport.TurnStartParams
	interrupted   []model.ThreadIdentity
	identToReturn model.ThreadIdentity

	updates chan model.AgentEvent
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{updates: make(chan model.AgentEvent, 8)}
}

func (f *fakeTransport) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connectCalls++
	return f.connectErr
}

func (f *fakeTransport) Disconnect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects++
	return nil
}

func (f *fakeTransport) Initialize(ctx context.Context, info transport.ClientInfo) (transport.ServerInfo, error) {
	return transport.ServerInfo{}, f.initErr
}

func (f *fakeTransport) StartThread(ctx context.Context, params transport.ThreadStartParams) (model.ThreadIdentity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.startedThread = params
	if f.startErr != nil {
		return model.ThreadIdentity{}, f.startErr
	}
	if f.identToReturn.ThreadID == "" {
		return model.ThreadIdentity{ThreadID: "thread-1"}, nil
	}
	return f.identToReturn, nil
}

func (f *fakeTransport) ResumeThread(ctx context.Context, params transport.ThreadResumeParams) (model.ThreadIdentity, error) {
	if f.resumeErr != nil {
		return model.ThreadIdentity{}, f.resumeErr
	}
	return model.ThreadIdentity{ThreadID: params.ResumeToken}, nil
}

func (f *fakeTransport) StartTurn(ctx context.Context, params transport.TurnStartParams) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.startedTurns = append(f.startedTurns, params)
	return "", f.startTurnErr
}

func (f *fakeTransport) InterruptTurn(ctx context.Context, ident model.ThreadIdentity) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.interrupted = append(f.interrupted, ident)
	return nil
}

func (f *fakeTransport) RegisterRequestHandler(method string, h transport.RequestHandler) {}
func (f *fakeTransport) SetNotificationHandler(h transport.NotificationHandler)           {}
func (f *fakeTransport) Updates() <-chan model.AgentEvent                                { return f.updates }

// fakeIdentityTransport adds transport.IdentityTracker to fakeTransport, for
// exercising the MCP-style post-turn identity pickup in Remote.runTurn.
type fakeIdentityTransport struct {
	*fakeTransport
	identity model.ThreadIdentity
}

func (f *fakeIdentityTransport) Identity() model.ThreadIdentity { return f.identity }

// fakeStderrTransport adds a RecentStderr method to fakeTransport, enough to
// satisfy appserver.StderrReporter structurally without importing that
// package (Go interfaces are satisfied by shape, not declaration site).
type fakeStderrTransport struct {
	*fakeTransport
	stderr string
}

func (f *fakeStderrTransport) RecentStderr() string { return f.stderr }

// fakeRequestStore is a minimal permission.RequestStore.
type fakeRequestStore struct{}

func (fakeRequestStore) PublishRequest(sessionID string, req model.PermissionRequest)          {}
func (fakeRequestStore) CompleteRequest(sessionID, id string, completed model.CompletedRequest) {}

func newTestRemote(t *testing.T, appServer, mcp TransportFactory) (*Remote, *fakeStatus) {
	t.Helper()
	status := &fakeStatus{}
	perm := permission.New("sess-1", fakeRequestStore{}, &fakeEventSink{status: status}, model.PermissionModeYolo)
	return NewRemote("sess-1", appServer, mcp, false, transport.ClientInfo{Name: "hub"}, "/ws", queue.New(), thinking.New(), perm, status, logging.Default(), nil, "", 0), status
}

// fakeMetadataStore is a minimal in-memory store.Store used to verify
// resume-token persistence without a real sqlite handle.
type fakeMetadataStore struct {
	mu       sync.Mutex
	version  int64
	metadata model.SessionMetadata
	updates  int
}

func (s *fakeMetadataStore) GetOrCreateSession(ctx context.Context, sessionID, namespace string) (model.Session, error) {
	return model.Session{ID: sessionID, Namespace: namespace}, nil
}

func (s *fakeMetadataStore) UpdateSessionMetadata(ctx context.Context, sessionID string, expectedVersion int64, opts store.UpdateMetadataOptions) model.VersionResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	if expectedVersion != s.version {
		return model.VersionResult{Conflict: true, Version: s.version, Value: s.metadata}
	}
	if opts.ResumeToken != nil {
		s.metadata.ResumeToken = *opts.ResumeToken
	}
	s.version++
	s.updates++
	return model.VersionResult{Success: true, Version: s.version, Value: s.metadata}
}

func (s *fakeMetadataStore) UpdateSessionAgentState(ctx context.Context, sessionID string, expectedVersion int64, state model.AgentState) model.VersionResult {
	return model.VersionResult{Success: true, Version: expectedVersion + 1}
}

func (s *fakeMetadataStore) SetSessionTodos(ctx context.Context, sessionID string, todos []model.Todo) error {
	return nil
}

func (s *fakeMetadataStore) AddMessage(ctx context.Context, sessionID string, content any, localID string) (model.Message, error) {
	return model.Message{}, nil
}

func (s *fakeMetadataStore) GetMessages(ctx context.Context, sessionID string, limit int64, beforeSeq *int64) ([]model.Message, error) {
	return nil, nil
}

func (s *fakeMetadataStore) MergeSessionMessages(ctx context.Context, fromSessionID, toSessionID string) error {
	return nil
}

// fakeEventSink adapts fakeStatus to permission.EventSink.
type fakeEventSink struct{ status *fakeStatus }

func (s *fakeEventSink) Emit(sessionID string, evt model.AgentEvent) { s.status.EmitEvent(sessionID, evt) }

func TestRemoteConnectUsesAppServerWhenItInitializesCleanly(t *testing.T) {
	as := newFakeTransport()
	mcp := newFakeTransport()
	r, _ := newTestRemote(t, func() (transport.AgentTransport, error) { return as, nil }, func() (transport.AgentTransport, error) { return mcp, nil })

	err := r.connect(context.Background())
	require.NoError(t, err)

	r.mu.Lock()
	defer r.mu.Unlock()
	assert.Same(t, as, r.tr)
	assert.False(t, r.usingMCP)
}

func TestRemoteConnectFallsBackToMCPWhenAppServerConnectFails(t *testing.T) {
	as := newFakeTransport()
	as.connectErr = errors.New("boom")
	mcp := newFakeTransport()
	r, _ := newTestRemote(t, func() (transport.AgentTransport, error) { return as, nil }, func() (transport.AgentTransport, error) { return mcp, nil })

	err := r.connect(context.Background())
	require.NoError(t, err)

	r.mu.Lock()
	defer r.mu.Unlock()
	assert.Same(t, mcp, r.tr)
	assert.True(t, r.usingMCP)
}

func TestRemoteConnectFallsBackToMCPWhenInitializeFails(t *testing.T) {
	as := newFakeTransport()
	as.initErr = errors.New("init rejected")
	mcp := newFakeTransport()
	r, _ := newTestRemote(t, func() (transport.AgentTransport, error) { return as, nil }, func() (transport.AgentTransport, error) { return mcp, nil })

	err := r.connect(context.Background())
	require.NoError(t, err)

	r.mu.Lock()
	defer r.mu.Unlock()
	assert.Same(t, mcp, r.tr)
	assert.True(t, r.usingMCP)
	assert.Equal(t, 1, as.disconnects, "the rejected app-server transport must be disconnected before falling back")
}

func TestRemoteConnectPropagatesMCPFailureWhenBothFail(t *testing.T) {
	as := newFakeTransport()
	as.connectErr = errors.New("boom")
	mcp := newFakeTransport()
	mcp.connectErr = errors.New("mcp also down")
	r, _ := newTestRemote(t, func() (transport.AgentTransport, error) { return as, nil }, func() (transport.AgentTransport, error) { return mcp, nil })

	err := r.connect(context.Background())
	assert.Error(t, err)
}

func TestRemoteRunExitsOnContextCancelWithEmptyQueue(t *testing.T) {
	as := newFakeTransport()
	r, _ := newTestRemote(t, func() (transport.AgentTransport, error) { return as, nil }, func() (transport.AgentTransport, error) { return as, nil })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	exit, err := r.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, ExitExit, exit)
}

func TestRemoteRunSwitchesOnRequestSwitch(t *testing.T) {
	as := newFakeTransport()
	r, _ := newTestRemote(t, func() (transport.AgentTransport, error) { return as, nil }, func() (transport.AgentTransport, error) { return as, nil })

	done := make(chan struct{})
	var exit ExitReason
	var runErr error
	go func() {
		exit, runErr = r.Run(context.Background())
		close(done)
	}()

	r.RequestSwitch()

	select {
	case <-done:
		require.NoError(t, runErr)
		assert.Equal(t, ExitSwitch, exit)
	case <-time.After(time.Second):
		t.Fatal("Run did not exit after RequestSwitch")
	}
}

func TestRemoteRunStartsThreadAndTurnForQueuedMessage(t *testing.T) {
	as := newFakeTransport()
	r, _ := newTestRemote(t, func() (transport.AgentTransport, error) { return as, nil }, func() (transport.AgentTransport, error) { return as, nil })

	r.queue.Push("", "hello there", model.Mode{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		as.mu.Lock()
		defer as.mu.Unlock()
		return len(as.startedTurns) == 1
	}, time.Second, time.Millisecond)

	as.mu.Lock()
	assert.Equal(t, "hello there", as.startedTurns[0].Text)
	as.mu.Unlock()

	cancel()
	<-done
}

func TestRemoteRunPersistsResumeTokenAfterStartThread(t *testing.T) {
	as := newFakeTransport()
	as.identToReturn = model.ThreadIdentity{ThreadID: "thread-xyz"}
	status := &fakeStatus{}
	perm := permission.New("sess-1", fakeRequestStore{}, &fakeEventSink{status: status}, model.PermissionModeYolo)
	mstore := &fakeMetadataStore{}
	r := NewRemote("sess-1", func() (transport.AgentTransport, error) { return as, nil }, func() (transport.AgentTransport, error) { return as, nil },
		false, transport.ClientInfo{Name: "hub"}, "/ws", queue.New(), thinking.New(), perm, status, logging.Default(), mstore, "", 0)

	r.queue.Push("", "hello there", model.Mode{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		token, _ := r.ResumeState()
		return token == "thread-xyz"
	}, time.Second, time.Millisecond, "a successful StartThread must persist its thread id as the resume token")

	mstore.mu.Lock()
	assert.Equal(t, "thread-xyz", mstore.metadata.ResumeToken)
	mstore.mu.Unlock()

	cancel()
	<-done
}

func TestRemoteSeedsResumeThreadFromConstructorToken(t *testing.T) {
	as := newFakeTransport()
	status := &fakeStatus{}
	perm := permission.New("sess-1", fakeRequestStore{}, &fakeEventSink{status: status}, model.PermissionModeYolo)
	mstore := &fakeMetadataStore{version: 3, metadata: model.SessionMetadata{ResumeToken: "prior-thread"}}
	r := NewRemote("sess-1", func() (transport.AgentTransport, error) { return as, nil }, func() (transport.AgentTransport, error) { return as, nil },
		false, transport.ClientInfo{Name: "hub"}, "/ws", queue.New(), thinking.New(), perm, status, logging.Default(), mstore, "prior-thread", 3)

	r.queue.Push("", "continue please", model.Mode{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		as.mu.Lock()
		defer as.mu.Unlock()
		return len(as.startedTurns) == 1
	}, time.Second, time.Millisecond)

	as.mu.Lock()
	assert.Equal(t, "prior-thread", as.startedTurns[0].ThreadID, "a queued turn with a seeded resume token must resume rather than start a fresh thread")
	assert.Empty(t, as.startedThread.WorkspacePath, "StartThread must not be called when a resume token is available")
	as.mu.Unlock()
	cancel()
	<-done
}

func TestRemoteRunPicksUpIdentityTrackerAfterTurnAndPersistsIt(t *testing.T) {
	as := &fakeIdentityTransport{fakeTransport: newFakeTransport(), identity: model.ThreadIdentity{SessionID: "mcp-session-1"}}
	status := &fakeStatus{}
	perm := permission.New("sess-1", fakeRequestStore{}, &fakeEventSink{status: status}, model.PermissionModeYolo)
	mstore := &fakeMetadataStore{}
	r := NewRemote("sess-1", func() (transport.AgentTransport, error) { return as, nil }, func() (transport.AgentTransport, error) { return as, nil },
		false, transport.ClientInfo{Name: "hub"}, "/ws", queue.New(), thinking.New(), perm, status, logging.Default(), mstore, "", 0)

	r.queue.Push("", "hello there", model.Mode{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		r.mu.Lock()
		defer r.mu.Unlock()
		return r.ident.SessionID == "mcp-session-1"
	}, time.Second, time.Millisecond, "Remote must pick up the tracked identity once the transport reports it")

	mstore.mu.Lock()
	assert.Equal(t, "mcp-session-1", mstore.metadata.ResumeToken, "the MCP-tracked session id must be persisted since ThreadID is never populated over MCP")
	mstore.mu.Unlock()

	cancel()
	<-done
}

func TestRemoteHandleAbortInterruptsAndResetsFSM(t *testing.T) {
	as := newFakeTransport()
	r, _ := newTestRemote(t, func() (transport.AgentTransport, error) { return as, nil }, func() (transport.AgentTransport, error) { return as, nil })

	require.NoError(t, r.connect(context.Background()))
	r.mu.Lock()
	r.ident = model.ThreadIdentity{ThreadID: "thread-1"}
	r.mu.Unlock()
	r.fsm.TurnStarted()

	r.handleAbort(context.Background())

	assert.Equal(t, thinking.Idle, r.fsm.State())
	as.mu.Lock()
	require.Len(t, as.interrupted, 1)
	assert.Equal(t, "thread-1", as.interrupted[0].ThreadID)
	as.mu.Unlock()
}

func TestRemoteClassifyAndReportAbortedSetsStatusAndIdlesFSM(t *testing.T) {
	r, status := newTestRemote(t, func() (transport.AgentTransport, error) { return newFakeTransport(), nil }, func() (transport.AgentTransport, error) { return newFakeTransport(), nil })
	r.fsm.TurnStarted()

	r.classifyAndReport(transport.ErrAborted, model.QueuedMessage{Text: "hi"})

	assert.Equal(t, thinking.Idle, r.fsm.State())
	status.mu.Lock()
	defer status.mu.Unlock()
	assert.Contains(t, status.statuses, "Turn aborted")
}

func TestRemoteClassifyAndReportDisconnectedRetriesOnceThenGivesUp(t *testing.T) {
	as := newFakeTransport()
	r, status := newTestRemote(t, func() (transport.AgentTransport, error) { return as, nil }, func() (transport.AgentTransport, error) { return as, nil })
	require.NoError(t, r.connect(context.Background()))

	msg := model.QueuedMessage{Text: "retry me", Hash: "h1"}

	r.classifyAndReport(transport.ErrDisconnected, msg)
	r.mu.Lock()
	assert.True(t, r.disconnectRetried["h1retry me"])
	r.mu.Unlock()

	r.classifyAndReport(transport.ErrDisconnected, msg)
	status.mu.Lock()
	defer status.mu.Unlock()
	assert.Contains(t, status.statuses, "Codex transport disconnected. Please resend your message.")
}

func TestRemoteClassifyAndReportUsesStderrReporterForFriendlierMessage(t *testing.T) {
	as := &fakeStderrTransport{fakeTransport: newFakeTransport(), stderr: "bash: codex: command not found"}
	r, status := newTestRemote(t, func() (transport.AgentTransport, error) { return as, nil }, func() (transport.AgentTransport, error) { return as, nil })
	require.NoError(t, r.connect(context.Background()))
	r.fsm.TurnStarted()

	r.classifyAndReport(errors.New("exit status 1"), model.QueuedMessage{Text: "x"})

	assert.Equal(t, thinking.Idle, r.fsm.State())
	status.mu.Lock()
	defer status.mu.Unlock()
	assert.Contains(t, status.statuses, "Codex encountered an error: agent binary not found on PATH")
}

func TestRemoteClassifyAndReportGenericErrorEmitsStatusAndIdlesFSM(t *testing.T) {
	r, status := newTestRemote(t, func() (transport.AgentTransport, error) { return newFakeTransport(), nil }, func() (transport.AgentTransport, error) { return newFakeTransport(), nil })
	r.fsm.TurnStarted()

	r.classifyAndReport(errors.New("weird failure"), model.QueuedMessage{Text: "x"})

	assert.Equal(t, thinking.Idle, r.fsm.State())
	status.mu.Lock()
	defer status.mu.Unlock()
	assert.Contains(t, status.statuses, "Codex encountered an error: weird failure")
}
