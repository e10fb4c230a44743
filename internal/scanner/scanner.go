// Package scanner implements the SessionScanner (spec.md C5 / §4.6): tails
// newline-delimited JSON journals under the agent's session home to recover
// events the child writes to disk asynchronously.
package scanner

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/agenthub/hub/internal/eventconv"
	"github.com/agenthub/hub/internal/logging"
	"github.com/agenthub/hub/internal/model"
)

// PollInterval is the idle-timer fallback alongside OS file-watch callbacks.
const PollInterval = 2 * time.Second

// Callbacks the scanner invokes as it discovers/tails journals.
type Callbacks struct {
	OnEvent            func(model.AgentEvent)
	OnSessionFound     func(sessionID string)
	OnNewSession       func(sessionID string)
	OnSessionMatchFailed func()
}

// Filter restricts which journals are considered (spec.md §4.6 "Filters").
type Filter struct {
	ActiveSessionID string // if set, only files bound to this id are emitted
	Cwd             string
	StartWindow     time.Duration // window around StartedAt; 0 = no window
	StartedAt       time.Time
}

// Scanner tails *.jsonl files under root.
type Scanner struct {
	root string
	log  *logging.Logger
	cb   Callbacks
	filt Filter

	mu            sync.Mutex
	processedLine map[string]int // file path -> processed line count
	fileSession   map[string]string // file path -> bound sessionId
	activeBinding string

	watcher *fsnotify.Watcher
}

// New constructs a Scanner rooted at root (default $AGENT_HOME/sessions).
func New(root string, log *logging.Logger, cb Callbacks, filt Filter) *Scanner {
	return &Scanner{
		root:          root,
		log:           log,
		cb:            cb,
		filt:          filt,
		processedLine: make(map[string]int),
		fileSession:   make(map[string]string),
		activeBinding: filt.ActiveSessionID,
	}
}

// Run starts the scan loop; it returns when ctx is canceled.
func (s *Scanner) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	s.watcher = watcher
	defer watcher.Close()

	if err := s.initializeBaseline(); err != nil {
		s.log.WithError(err).Warn("scanner: baseline scan failed")
	}
	if err := watcher.Add(s.root); err != nil {
		s.log.WithError(err).Debug("scanner: watch root failed, falling back to polling only")
	}

	ticker := time.NewTicker(PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.scanOnce()
		case evt, ok := <-watcher.Events:
			if !ok {
				continue
			}
			if evt.Op&fsnotify.Chmod != 0 {
				continue
			}
			s.scanOnce()
		case err, ok := <-watcher.Errors:
			if !ok {
				continue
			}
			s.log.WithError(err).Debug("scanner: watch error")
		}
	}
}

// initializeBaseline records every pre-existing file's size as already
// processed: all pre-existing lines are historical (spec.md §4.6).
func (s *Scanner) initializeBaseline() error {
	files, err := s.listJournals()
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range files {
		lines, err := countLines(f)
		if err != nil {
			continue
		}
		s.processedLine[f] = lines
	}
	return nil
}

func (s *Scanner) listJournals() ([]string, error) {
	var files []string
	err := filepath.WalkDir(s.root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil // best-effort; skip unreadable entries
		}
		if d.IsDir() {
			return nil
		}
		if strings.HasSuffix(path, ".jsonl") {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(files, func(i, j int) bool {
		ii, _ := os.Stat(files[i])
		jj, _ := os.Stat(files[j])
		if ii == nil || jj == nil {
			return false
		}
		return ii.ModTime().After(jj.ModTime())
	})
	return files, nil
}

func (s *Scanner) scanOnce() {
	files, err := s.listJournals()
	if err != nil {
		s.log.WithError(err).Debug("scanner: list journals failed")
		return
	}
	for _, f := range files {
		s.tailFile(f)
	}
}

func (s *Scanner) tailFile(path string) {
	s.mu.Lock()
	startLine := s.processedLine[path]
	s.mu.Unlock()

	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var lineNo int
	var newLines int
	for scanner.Scan() {
		lineNo++
		if lineNo <= startLine {
			continue
		}
		newLines++
		s.processLine(path, scanner.Bytes())
	}

	if newLines > 0 {
		s.mu.Lock()
		s.processedLine[path] = lineNo
		s.mu.Unlock()
	}
}

func (s *Scanner) processLine(path string, raw []byte) {
	var env eventconv.MCPEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return // unparseable lines are ignored, per spec.md §4.6
	}

	if env.Type == "session_meta" {
		sid, _ := env.Payload["sessionId"].(string)
		if sid == "" {
			sid, _ = env.Payload["session_id"].(string)
		}
		if sid != "" {
			s.mu.Lock()
			_, known := s.fileSession[path]
			s.fileSession[path] = sid
			s.mu.Unlock()
			if !known {
				s.announce(sid)
			}
		}
	}

	if !s.fileMatchesFilter(path) {
		return
	}

	evt, _, ok := eventconv.ConvertMCPEnvelope(env)
	if !ok {
		return
	}
	if s.cb.OnEvent != nil {
		s.cb.OnEvent(evt)
	}
}

func (s *Scanner) announce(sessionID string) {
	s.mu.Lock()
	first := s.activeBinding == ""
	s.mu.Unlock()

	if first && s.cb.OnSessionFound != nil {
		s.cb.OnSessionFound(sessionID)
	}
}

// fileMatchesFilter implements spec.md §4.6's filter rules: with an active
// session id, only files bound to it (or matching the -${id}.jsonl naming
// convention); without one, Filter.Cwd must be non-empty and, when
// StartWindow is non-zero, the file's mtime must fall within the start
// window. The journal's own cwd is not compared against Filter.Cwd.
func (s *Scanner) fileMatchesFilter(path string) bool {
	s.mu.Lock()
	boundID := s.fileSession[path]
	activeID := s.activeBinding
	s.mu.Unlock()

	if activeID != "" {
		if boundID == activeID {
			return true
		}
		if strings.HasSuffix(path, "-"+activeID+".jsonl") {
			return true
		}
		return false
	}

	if s.filt.Cwd == "" {
		if s.cb.OnSessionMatchFailed != nil {
			s.cb.OnSessionMatchFailed()
		}
		return false
	}

	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	if s.filt.StartWindow > 0 {
		delta := info.ModTime().Sub(s.filt.StartedAt)
		if delta < -s.filt.StartWindow || delta > s.filt.StartWindow {
			return false
		}
	}
	return true
}

// SetActiveSession switches the active binding, per onNewSession in
// spec.md §4.6.
func (s *Scanner) SetActiveSession(sessionID string) {
	s.mu.Lock()
	s.activeBinding = sessionID
	s.mu.Unlock()
	if s.cb.OnNewSession != nil {
		s.cb.OnNewSession(sessionID)
	}
}

func countLines(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	n := 0
	for scanner.Scan() {
		n++
	}
	return n, scanner.Err()
}
