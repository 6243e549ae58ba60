// ABOUTME: Represents a single spawned MCP server process and its stdio session.
// ABOUTME: Handles the handshake, tool discovery, and request/response correlation by ID.

package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// ProviderConfig describes one MCP server to spawn.
type ProviderConfig struct {
	Name    string
	Command string
	Args    []string
	Env     map[string]string
}

// callResult carries a correlated response to the waiting requester.
type callResult struct {
	result json.RawMessage
	err    error
}

// Connection is a live session with one MCP server process. It owns the
// process handles, a read loop over stdout, and the pending-request table
// that matches responses back to callers by request ID.
type Connection struct {
	Name string

	cfg         ProviderConfig
	gate        *SecurityGate
	logger      *slog.Logger
	callTimeout time.Duration

	cmd    *exec.Cmd
	exited chan struct{}

	// writeMu serializes stdin writes; interleaved lines would corrupt the stream.
	writeMu sync.Mutex
	stdin   io.WriteCloser

	mu      sync.Mutex
	nextID  int64
	pending map[int64]chan callResult
	tools   []MCPToolInfo
	ready   bool
	closed  bool

	// onToolsChanged fires after discovery replaces the tool set.
	onToolsChanged func(*Connection)
}

func newConnection(cfg ProviderConfig, gate *SecurityGate, logger *slog.Logger, callTimeout time.Duration) *Connection {
	return &Connection{
		Name:        cfg.Name,
		cfg:         cfg,
		gate:        gate,
		logger:      logger.With("server", cfg.Name),
		callTimeout: callTimeout,
		exited:      make(chan struct{}),
		pending:     make(map[int64]chan callResult),
	}
}

// Start spawns the server process and runs the MCP handshake: initialize,
// notifications/initialized, then tools/list. The connection is not ready
// until all three complete.
func (c *Connection) Start(ctx context.Context) error {
	if err := c.gate.Approve(c.cfg.Command); err != nil {
		return err
	}

	cmd := exec.Command(c.cfg.Command, c.cfg.Args...)
	cmd.Env = c.gate.Environment(c.cfg.Env)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("creating stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("creating stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("creating stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting %q: %w", c.cfg.Command, err)
	}

	c.cmd = cmd
	c.attach(stdin, stdout, stderr)
	go c.waitForExit()

	if err := c.handshake(ctx); err != nil {
		c.Stop()
		return err
	}
	return nil
}

// attach wires the stream handles and starts the read loops.
func (c *Connection) attach(stdin io.WriteCloser, stdout, stderr io.Reader) {
	c.stdin = stdin
	go c.readLoop(stdout)
	if stderr != nil {
		go c.drainStderr(stderr)
	}
}

// handshake performs the initialize exchange and the first tool discovery.
func (c *Connection) handshake(ctx context.Context) error {
	params := initializeParams{
		ProtocolVersion: protocolVersion,
		Capabilities:    map[string]any{},
		ClientInfo:      clientInfo{Name: clientName, Version: clientVersion},
	}

	raw, err := c.sendRequest(ctx, "initialize", params)
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}

	var res initializeResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return fmt.Errorf("parsing initialize result: %w", err)
	}
	c.logger.Info("server initialized",
		"server_name", res.ServerInfo.Name,
		"server_version", res.ServerInfo.Version,
		"protocol_version", res.ProtocolVersion,
	)

	if err := c.notify("notifications/initialized", nil); err != nil {
		return fmt.Errorf("sending initialized notification: %w", err)
	}

	if err := c.discoverTools(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	c.ready = true
	c.mu.Unlock()
	return nil
}

// discoverTools runs tools/list and replaces the connection's tool set with
// the result. A server with no tools is valid and yields an empty set.
func (c *Connection) discoverTools(ctx context.Context) error {
	raw, err := c.sendRequest(ctx, "tools/list", nil)
	if err != nil {
		return fmt.Errorf("listing tools: %w", err)
	}

	var res listToolsResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return fmt.Errorf("parsing tools/list result: %w", err)
	}

	tools := make([]MCPToolInfo, 0, len(res.Tools))
	for _, t := range res.Tools {
		if t.Name == "" {
			c.logger.Warn("skipping tool with empty name")
			continue
		}
		tools = append(tools, t)
	}

	c.mu.Lock()
	c.tools = tools
	cb := c.onToolsChanged
	c.mu.Unlock()

	c.logger.Info("discovered tools", "count", len(tools))
	if cb != nil {
		cb(c)
	}
	return nil
}

// CallTool invokes a tool on the server and flattens the result content into
// a single text string. A result with isError set is still a successful call
// at the transport level; it comes back as text prefixed with "Error: ".
func (c *Connection) CallTool(ctx context.Context, name string, arguments json.RawMessage) (string, error) {
	if len(arguments) == 0 {
		arguments = json.RawMessage(`{}`)
	}

	raw, err := c.sendRequest(ctx, "tools/call", callToolParams{Name: name, Arguments: arguments})
	if err != nil {
		return "", err
	}

	var res callToolResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return "", fmt.Errorf("parsing tools/call result: %w", err)
	}

	var parts []string
	for _, block := range res.Content {
		if block.Type == "text" {
			parts = append(parts, block.Text)
		}
	}
	text := strings.Join(parts, "\n")

	if res.IsError {
		return "Error: " + text, nil
	}
	return text, nil
}

// Tools returns a copy of the current tool set.
func (c *Connection) Tools() []MCPToolInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]MCPToolInfo, len(c.tools))
	copy(out, c.tools)
	return out
}

// Ready reports whether the handshake completed and the process is still up.
func (c *Connection) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ready
}

// sendRequest writes a request and blocks until the matching response
// arrives, the call timeout fires, the context is cancelled, or the
// connection closes. Every pending request is resolved exactly once.
func (c *Connection) sendRequest(ctx context.Context, method string, params any) (json.RawMessage, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrConnectionClosed
	}
	c.nextID++
	id := c.nextID
	ch := make(chan callResult, 1)
	c.pending[id] = ch
	c.mu.Unlock()

	req := JSONRPCRequest{JSONRPC: "2.0", ID: &id, Method: method, Params: params}
	if err := c.writeMessage(req); err != nil {
		c.takePending(id)
		return nil, fmt.Errorf("writing %s request: %w", method, err)
	}

	timer := time.NewTimer(c.callTimeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		return res.result, res.err

	case <-timer.C:
		// The read loop may have already taken the entry to deliver a
		// response; in that race the response wins and we consume it.
		if c.takePending(id) == nil {
			res := <-ch
			return res.result, res.err
		}
		return nil, fmt.Errorf("%w: %s after %s", ErrRequestTimeout, method, c.callTimeout)

	case <-ctx.Done():
		if c.takePending(id) == nil {
			res := <-ch
			return res.result, res.err
		}
		return nil, ctx.Err()
	}
}

// takePending removes and returns the channel for a request ID. Exactly one
// caller wins ownership of an entry; everyone else gets nil.
func (c *Connection) takePending(id int64) chan callResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := c.pending[id]
	delete(c.pending, id)
	return ch
}

// failPending resolves every outstanding request with the given error.
func (c *Connection) failPending(err error) {
	c.mu.Lock()
	pending := c.pending
	c.pending = make(map[int64]chan callResult)
	c.mu.Unlock()

	for _, ch := range pending {
		ch <- callResult{err: err}
	}
}

// writeMessage marshals a message and writes it as one newline-terminated line.
func (c *Connection) writeMessage(msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshaling message: %w", err)
	}
	data = append(data, '\n')

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.stdin == nil {
		return ErrConnectionClosed
	}
	if _, err := c.stdin.Write(data); err != nil {
		return err
	}
	return nil
}

// notify sends a notification (no ID, no response expected).
func (c *Connection) notify(method string, params any) error {
	return c.writeMessage(JSONRPCRequest{JSONRPC: "2.0", Method: method, Params: params})
}

// readLoop reads stdout until EOF, reassembling frames and dispatching each
// complete line. When the stream ends, all pending requests fail immediately
// rather than waiting out their timeouts.
func (c *Connection) readLoop(stdout io.Reader) {
	var frames lineBuffer
	buf := make([]byte, 32*1024)

	for {
		n, err := stdout.Read(buf)
		if n > 0 {
			for _, line := range frames.Append(buf[:n]) {
				c.dispatch(line)
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrClosedPipe) {
				c.logger.Warn("stdout read failed", "error", err)
			}
			c.mu.Lock()
			c.ready = false
			c.mu.Unlock()
			c.failPending(ErrConnectionClosed)
			return
		}
	}
}

// dispatch routes one complete line: responses go to their pending request,
// notifications go to the handler, and anything else is dropped. Servers
// sometimes print stray diagnostics on stdout, so unparseable lines are not
// an error.
func (c *Connection) dispatch(line []byte) {
	var msg jsonrpcMessage
	if err := json.Unmarshal(line, &msg); err != nil {
		c.logger.Debug("dropping non-protocol stdout line", "bytes", len(line))
		return
	}

	switch {
	case msg.ID != nil:
		ch := c.takePending(*msg.ID)
		if ch == nil {
			c.logger.Warn("received response for unknown request", "id", *msg.ID)
			return
		}
		if msg.Error != nil {
			ch <- callResult{err: msg.Error}
			return
		}
		result := msg.Result
		if result == nil {
			result = json.RawMessage(`{}`)
		}
		ch <- callResult{result: result}

	case msg.Method != "":
		c.handleNotification(msg)
	}
}

// handleNotification reacts to server-initiated notifications. Tool list
// changes trigger rediscovery off the read loop so dispatch never blocks.
func (c *Connection) handleNotification(msg jsonrpcMessage) {
	switch msg.Method {
	case "notifications/tools/list_changed":
		c.logger.Info("tool list changed, rediscovering")
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), c.callTimeout)
			defer cancel()
			if err := c.discoverTools(ctx); err != nil {
				c.logger.Warn("tool rediscovery failed", "error", err)
			}
		}()
	default:
		c.logger.Debug("ignoring notification", "method", msg.Method)
	}
}

// drainStderr forwards the server's stderr to debug logs so diagnostics
// surface without polluting the protocol stream.
func (c *Connection) drainStderr(stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		c.logger.Debug("server stderr", "line", scanner.Text())
	}
}

// waitForExit reaps the child process and tears down connection state when
// it dies, whether or not Stop was called.
func (c *Connection) waitForExit() {
	err := c.cmd.Wait()
	close(c.exited)

	c.mu.Lock()
	expected := c.closed
	c.closed = true
	c.ready = false
	c.mu.Unlock()

	c.failPending(ErrConnectionClosed)

	if !expected {
		c.logger.Warn("server process exited unexpectedly", "error", err)
	}
}

// Stop shuts the connection down: pending requests fail, stdin closes so the
// server can exit on its own, and the process is killed if it lingers. Stop
// is idempotent and safe to call concurrently with in-flight requests.
func (c *Connection) Stop() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.ready = false
	c.mu.Unlock()

	c.failPending(ErrConnectionClosed)

	c.writeMu.Lock()
	if c.stdin != nil {
		_ = c.stdin.Close()
		c.stdin = nil
	}
	c.writeMu.Unlock()

	if c.cmd == nil || c.cmd.Process == nil {
		return
	}

	// Most servers exit once stdin closes; give them a moment before killing.
	select {
	case <-c.exited:
	case <-time.After(3 * time.Second):
		_ = c.cmd.Process.Kill()
		<-c.exited
	}
}
