package appserver

import (
	"io"
	"strings"
	"sync"
)

// knownStderrPatterns maps substrings the child's stderr is known to emit
// to a friendlier message, tried before falling back to the raw error
// (SPEC_FULL.md "Stderr-derived error classification").
var knownStderrPatterns = []struct {
	substr  string
	message string
}{
	{"command not found", "agent binary not found on PATH"},
	{"ENOENT", "agent binary not found on PATH"},
	{"rate limit", "agent rejected the request due to rate limiting"},
	{"context_length_exceeded", "the turn exceeded the model's context window"},
	{"authentication", "agent rejected the request: authentication failed"},
}

// ParseStderrLines scans raw child stderr output for a known pattern and
// returns the friendlier message, or "" if nothing matched.
func ParseStderrLines(stderr string) string {
	lower := strings.ToLower(stderr)
	for _, p := range knownStderrPatterns {
		if strings.Contains(lower, strings.ToLower(p.substr)) {
			return p.message
		}
	}
	return ""
}

// maxStderrBytes bounds how much child stderr stderrBuffer retains; the app
// server's error output is a few lines at most, not a log stream.
const maxStderrBytes = 4096

// stderrBuffer retains the most recent bytes of a child's stderr so a failed
// call can be classified after the fact via ParseStderrLines.
type stderrBuffer struct {
	mu   sync.Mutex
	data []byte
}

func (b *stderrBuffer) write(p []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data = append(b.data, p...)
	if len(b.data) > maxStderrBytes {
		b.data = b.data[len(b.data)-maxStderrBytes:]
	}
}

func (b *stderrBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.data)
}

func (b *stderrBuffer) reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data = nil
}

// drain copies from r into b until EOF or a read error, meant to run in its
// own goroutine for the lifetime of a spawned child's stderr pipe.
func (b *stderrBuffer) drain(r io.Reader) {
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			b.write(buf[:n])
		}
		if err != nil {
			return
		}
	}
}

// StderrReporter is an optional capability: transports that spawn a child
// process directly can surface its recent stderr output for classification
// via ParseStderrLines when a call fails with an otherwise-opaque error.
type StderrReporter interface {
	RecentStderr() string
}
