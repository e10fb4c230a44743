package appserver

// Method names on the app-server wire protocol (spec.md §4.1).
const (
	MethodInitialize    = "initialize"
	MethodInitialized   = "initialized"
	MethodThreadStart   = "thread/start"
	MethodThreadResume  = "thread/resume"
	MethodTurnStart     = "turn/start"
	MethodTurnInterrupt = "turn/interrupt"
)

// Notification methods the agent pushes.
const (
	NotifyItemAgentMessageDelta    = "item/agentMessageDelta"
	NotifyItemReasoningTextDelta   = "item/reasoningTextDelta"
	NotifyItemReasoningSummaryDelta = "item/reasoningSummaryDelta"
	NotifyTurnCompleted            = "turn/completed"
	NotifyTurnDiffUpdated          = "turn/diffUpdated"
	NotifyTurnPlanUpdated          = "turn/planUpdated"
	NotifyError                    = "error"
	NotifyItemStarted              = "item/started"
	NotifyItemCompleted            = "item/completed"
	NotifyItemCmdExecOutputDelta   = "item/cmdExecOutputDelta"
	NotifyThreadTokenUsageUpdated  = "thread/tokenUsageUpdated"
	NotifyTokenCount               = "token_count" // legacy, ignored once the newer one fires
	NotifyContextCompacted         = "context/compacted"
)

// Request methods the agent sends that the hub must answer.
const (
	NotifyItemCmdExecRequestApproval    = "item/cmdExecRequestApproval"
	NotifyItemFileChangeRequestApproval = "item/fileChangeRequestApproval"
)

// Decision strings in the app-server's own dialect (spec.md §4.4 "Reply").
const (
	DecisionAccept        = "accept"
	DecisionAcceptSession = "acceptForSession"
	DecisionDecline       = "decline"
	DecisionCancel        = "cancel"
)

type initializeParams struct {
	ClientInfo clientInfoWire `json:"clientInfo"`
}

type clientInfoWire struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type initializeResult struct {
	ServerInfo clientInfoWire `json:"serverInfo"`
}

type threadStartParams struct {
	Cwd            string `json:"cwd,omitempty"`
	Model          string `json:"model,omitempty"`
	ApprovalPolicy string `json:"approvalPolicy,omitempty"`
	SandboxPolicy  string `json:"sandboxPolicy,omitempty"`
}

type threadResumeParams struct {
	ResumePath     string `json:"resumePath,omitempty"`
	Model          string `json:"model,omitempty"`
}

type threadIDResult struct {
	ThreadID string `json:"threadId"`
}

type turnStartParams struct {
	ThreadID string     `json:"threadId"`
	Input    []userInput `json:"input"`
}

type userInput struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type turnStartResult struct {
	TurnID string `json:"turnId,omitempty"`
}

type turnInterruptParams struct {
	ThreadID string `json:"threadId"`
	TurnID   string `json:"turnId,omitempty"`
}
