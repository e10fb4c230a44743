package mcpclient

// idTracker implements the id-drift rule from spec.md §4.2: "First-set-wins
// per id kind, last-seen-wins across updates." The first non-empty value
// observed for a kind is kept as canonical unless a later update explicitly
// supersedes it — the observe*ID methods (via extractIDs) set a kind only if
// it hasn't been set yet, while follow (via followIDs) always overwrites
// (used to follow id drift across thread restarts within the same
// connection).
type idTracker struct {
	sessionID      string
	conversationID string
	threadID       string
}

func (t *idTracker) observeSessionID(v string) {
	if v == "" {
		return
	}
	if t.sessionID == "" {
		t.sessionID = v
	}
}

func (t *idTracker) observeConversationID(v string) {
	if v == "" {
		return
	}
	if t.conversationID == "" {
		t.conversationID = v
	}
}

func (t *idTracker) observeThreadID(v string) {
	if v == "" {
		return
	}
	if t.threadID == "" {
		t.threadID = v
	}
}

// follow updates an id to a newly observed value unconditionally, used when
// the transport detects the server rotated ids mid-connection.
func (t *idTracker) follow(kind, v string) {
	if v == "" {
		return
	}
	switch kind {
	case "session":
		t.sessionID = v
	case "conversation":
		t.conversationID = v
	case "thread":
		t.threadID = v
	}
}

func (t *idTracker) reset() {
	*t = idTracker{}
}

// extractIDs scans a raw event/meta map for session_id|conversation_id|
// thread_id (and their camelCase forms), observing each with first-set-wins.
// Callers use this on tool-call results (StartTurn's response meta), which
// establish the canonical ids for the connection.
func (t *idTracker) extractIDs(m map[string]any) {
	if m == nil {
		return
	}
	t.observeSessionID(stringField(m, "session_id", "sessionId"))
	t.observeConversationID(stringField(m, "conversation_id", "conversationId"))
	t.observeThreadID(stringField(m, "thread_id", "threadId"))
}

// followIDs scans a raw notification payload for the same id fields as
// extractIDs but with last-seen-wins semantics, per spec.md §4.2: server
// notifications arrive throughout the connection and may carry a rotated id
// after the canonical one was already established.
func (t *idTracker) followIDs(m map[string]any) {
	if m == nil {
		return
	}
	t.follow("session", stringField(m, "session_id", "sessionId"))
	t.follow("conversation", stringField(m, "conversation_id", "conversationId"))
	t.follow("thread", stringField(m, "thread_id", "threadId"))
}

// identity snapshots the ids tracked so far.
func (t *idTracker) identity() (sessionID, conversationID, threadID string) {
	return t.sessionID, t.conversationID, t.threadID
}

func stringField(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			if s, ok := v.(string); ok {
				return s
			}
		}
	}
	return ""
}
