// Package appserver implements the AppServer variant of AgentTransport
// (spec.md §4.1): a JSON-RPC-style line protocol with a spawned
// `<agent> app-server` child.
package appserver

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/agenthub/hub/internal/logging"
)

// wireMessage is the shape used to discriminate incoming lines: requests
// carry method+id, notifications carry method with no id, responses carry
// id with no method. The app-server's own JSON-RPC variant omits
// "jsonrpc":"2.0" entirely.
type wireMessage struct {
	ID     json.RawMessage `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *wireError      `json:"error,omitempty"`
}

type wireError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

const (
	codeMethodNotFound = -32601
	codeInternalError  = -32603
)

// pendingCall tracks one outstanding request awaiting a response.
type pendingCall struct {
	resp chan *wireMessage
}

// RequestHandlerFunc answers an inbound request (method + raw params) and
// returns a JSON-marshalable result, or an error translated to a wire
// error per spec.md §7 (unknown method -> -32601, handler panic/error -> -32603).
type RequestHandlerFunc func(method string, params json.RawMessage) (any, error)

// NotificationFunc receives every notification line, already split into
// method + raw params.
type NotificationFunc func(method string, params json.RawMessage)

// Client is the low-level wire-protocol client: newline-delimited JSON over
// stdin/stdout, with request/response correlation and handler dispatch.
type Client struct {
	stdin  io.Writer
	stdout io.Reader
	log    *logging.Logger

	writeMu sync.Mutex
	nextID  int64

	pendingMu sync.Mutex
	pending   map[int64]*pendingCall

	notifyHandler  NotificationFunc
	requestHandler RequestHandlerFunc
	handlerMu      sync.RWMutex

	done chan struct{}
}

// NewClient wraps an already-spawned child's stdin/stdout pipes.
func NewClient(stdin io.Writer, stdout io.Reader, log *logging.Logger) *Client {
	return &Client{
		stdin:   stdin,
		stdout:  stdout,
		log:     log,
		pending: make(map[int64]*pendingCall),
		done:    make(chan struct{}),
	}
}

// SetNotificationHandler installs the callback fired for every notification line.
func (c *Client) SetNotificationHandler(h NotificationFunc) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	c.notifyHandler = h
}

// SetRequestHandler installs the callback fired for every inbound request.
func (c *Client) SetRequestHandler(h RequestHandlerFunc) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	c.requestHandler = h
}

// Start begins the read loop in a background goroutine.
func (c *Client) Start() {
	go c.readLoop()
}

// Stop terminates the read loop and rejects any pending calls.
func (c *Client) Stop() {
	select {
	case <-c.done:
	default:
		close(c.done)
	}
	c.rejectAllPending(fmt.Errorf("appserver: client stopped"))
}

// Call sends a request and blocks for its response or ctx cancellation.
func (c *Client) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	id := atomic.AddInt64(&c.nextID, 1)
	respCh := make(chan *wireMessage, 1)

	c.pendingMu.Lock()
	c.pending[id] = &pendingCall{resp: respCh}
	c.pendingMu.Unlock()

	cleanup := func() {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
	}

	paramsJSON, err := json.Marshal(params)
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("appserver: marshal params for %s: %w", method, err)
	}
	idJSON, _ := json.Marshal(id)

	if err := c.send(wireMessage{ID: idJSON, Method: method, Params: paramsJSON}); err != nil {
		cleanup()
		return nil, fmt.Errorf("appserver: send %s: %w", method, err)
	}

	select {
	case msg := <-respCh:
		cleanup()
		if msg.Error != nil {
			return nil, fmt.Errorf("appserver: %s: %s (code %d)", method, msg.Error.Message, msg.Error.Code)
		}
		return msg.Result, nil
	case <-ctx.Done():
		cleanup()
		return nil, ctx.Err()
	case <-c.done:
		cleanup()
		return nil, fmt.Errorf("appserver: client stopped waiting for %s", method)
	}
}

// Notify sends a one-way notification (no response expected).
func (c *Client) Notify(method string, params any) error {
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("appserver: marshal notify params for %s: %w", method, err)
	}
	return c.send(wireMessage{Method: method, Params: paramsJSON})
}

// SendResponse answers an inbound request by id.
func (c *Client) SendResponse(id json.RawMessage, result any, callErr error) error {
	msg := wireMessage{ID: id}
	if callErr != nil {
		msg.Error = &wireError{Code: codeInternalError, Message: callErr.Error()}
	} else {
		data, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("appserver: marshal response: %w", err)
		}
		msg.Result = data
	}
	return c.send(msg)
}

func (c *Client) send(msg wireMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err = c.stdin.Write(append(data, '\n'))
	return err
}

func (c *Client) readLoop() {
	scanner := bufio.NewScanner(c.stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var msg wireMessage
		if err := json.Unmarshal(line, &msg); err != nil {
			c.log.WithError(err).Error("appserver: unparseable line, closing transport")
			c.rejectAllPending(fmt.Errorf("appserver: protocol error: %w", err))
			c.Stop()
			return
		}

		switch {
		case len(msg.ID) > 0 && msg.Method == "":
			c.handleResponse(&msg)
		case msg.Method != "" && len(msg.ID) > 0:
			c.handleRequest(&msg)
		case msg.Method != "":
			c.handleNotification(&msg)
		default:
			c.log.Warn("appserver: dropping line with neither method nor id")
		}
	}
}

func (c *Client) handleResponse(msg *wireMessage) {
	var id int64
	if err := json.Unmarshal(msg.ID, &id); err != nil {
		c.log.Warn("appserver: dropping response with non-numeric id")
		return
	}

	c.pendingMu.Lock()
	call, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.pendingMu.Unlock()

	if !ok {
		c.log.Warn("appserver: dropping response for unknown id")
		return
	}
	call.resp <- msg
}

func (c *Client) handleRequest(msg *wireMessage) {
	c.handlerMu.RLock()
	h := c.requestHandler
	c.handlerMu.RUnlock()

	if h == nil {
		_ = c.SendResponse(msg.ID, nil, fmt.Errorf("no handler registered"))
		return
	}

	defer func() {
		if rec := recover(); rec != nil {
			_ = c.SendResponse(msg.ID, nil, fmt.Errorf("handler panic: %v", rec))
		}
	}()
	result, err := h(msg.Method, msg.Params)
	_ = c.SendResponse(msg.ID, result, err)
}

func (c *Client) handleNotification(msg *wireMessage) {
	c.handlerMu.RLock()
	h := c.notifyHandler
	c.handlerMu.RUnlock()
	if h != nil {
		h(msg.Method, msg.Params)
	}
}

func (c *Client) rejectAllPending(err error) {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	for id, call := range c.pending {
		call.resp <- &wireMessage{Error: &wireError{Code: codeInternalError, Message: err.Error()}}
		delete(c.pending, id)
	}
}
