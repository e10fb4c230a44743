package permission

import "github.com/agenthub/hub/internal/model"

// AppServerDecisionString translates a PermissionDecision into the
// app-server's own dialect (spec.md §4.4 "Reply").
func AppServerDecisionString(d model.PermissionDecision) string {
	switch d.Decision {
	case model.DecisionApproved:
		return "accept"
	case model.DecisionApprovedForSession:
		return "acceptForSession"
	case model.DecisionDenied:
		return "decline"
	default:
		return "cancel"
	}
}

// BuildMCPElicitationReply synthesizes the {action, content?} shape spec.md
// §4.4 requires for the MCP dialect, by inspecting the requested schema's
// declared properties (decision, approved, allow, reason). If the schema
// declares no properties, only "action" is returned. content is nested only
// when action is "accept"; for decline/cancel the matched fields are
// returned at the top level alongside action (spec.md §8 scenario 6:
// `{action:'decline', decision:'denied', reason:'no'}`, no nested content).
func BuildMCPElicitationReply(d model.PermissionDecision, schemaProperties map[string]any) map[string]any {
	action := mcpAction(d.Decision)
	reply := map[string]any{"action": action}

	if len(schemaProperties) == 0 {
		return reply
	}

	matched := map[string]any{}
	if _, ok := schemaProperties["decision"]; ok {
		matched["decision"] = string(d.Decision)
	}
	if _, ok := schemaProperties["approved"]; ok {
		matched["approved"] = d.Decision == model.DecisionApproved || d.Decision == model.DecisionApprovedForSession
	}
	if _, ok := schemaProperties["allow"]; ok {
		matched["allow"] = d.Decision == model.DecisionApproved || d.Decision == model.DecisionApprovedForSession
	}
	if _, ok := schemaProperties["reason"]; ok && d.Reason != "" {
		matched["reason"] = d.Reason
	}

	if action == "accept" {
		reply["content"] = matched
		return reply
	}
	for k, v := range matched {
		reply[k] = v
	}
	return reply
}

func mcpAction(d model.DecisionKind) string {
	switch d {
	case model.DecisionApproved, model.DecisionApprovedForSession:
		return "accept"
	case model.DecisionDenied:
		return "decline"
	default:
		return "cancel"
	}
}
