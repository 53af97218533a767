package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"
)

// ErrTransportClosed is returned by a stdio transport after Close.
var ErrTransportClosed = errors.New("mcp: transport closed")

// ErrServerExited is returned for requests still in flight when the
// subprocess exits.
var ErrServerExited = errors.New("mcp: server process exited")

// StdioConfig describes an MCP server run as a subprocess speaking
// newline-delimited JSON-RPC on stdin and stdout.
type StdioConfig struct {
	Command string
	Args    []string

	// Env entries ("KEY=VALUE") are appended to the parent environment.
	Env []string

	Logger *slog.Logger
}

// StdioTransport multiplexes concurrent requests over one subprocess.
// A single reader goroutine routes responses to waiting callers by ID,
// so a caller that gives up (context cancelled) leaves the process and
// every other in-flight request untouched.
type StdioTransport struct {
	config StdioConfig
	logger *slog.Logger

	writeMu sync.Mutex

	mu      sync.Mutex
	proc    *stdioProc
	pending map[int64]chan *Response
	closed  bool
}

type stdioProc struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser
	done  chan struct{}
}

// NewStdioTransport returns a transport whose subprocess starts on the
// first Send or Notify, and again after it exits.
func NewStdioTransport(cfg StdioConfig) *StdioTransport {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &StdioTransport{
		config:  cfg,
		logger:  logger,
		pending: make(map[int64]chan *Response),
	}
}

// running returns the live process, starting one if needed. Caller must
// hold t.mu.
func (t *StdioTransport) running() (*stdioProc, error) {
	if t.closed {
		return nil, ErrTransportClosed
	}
	if t.proc != nil {
		return t.proc, nil
	}

	t.logger.Info("starting MCP subprocess", "command", t.config.Command, "args", t.config.Args)

	// The process outlives any one request, so it is not bound to a
	// request context.
	cmd := exec.Command(t.config.Command, t.config.Args...)
	cmd.Env = append(os.Environ(), t.config.Env...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return nil, fmt.Errorf("create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		stdin.Close()
		stdout.Close()
		return nil, fmt.Errorf("create stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		stdin.Close()
		stdout.Close()
		stderr.Close()
		return nil, fmt.Errorf("start subprocess %s: %w", t.config.Command, err)
	}

	p := &stdioProc{cmd: cmd, stdin: stdin, done: make(chan struct{})}
	t.proc = p

	stderrDone := make(chan struct{})
	go func() {
		defer close(stderrDone)
		t.drainStderr(stderr)
	}()
	go t.readLoop(p, stdout, stderrDone)

	t.logger.Info("MCP subprocess started", "pid", cmd.Process.Pid)
	return p, nil
}

func (t *StdioTransport) drainStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 256*1024)
	for scanner.Scan() {
		t.logger.Debug("MCP subprocess stderr", "line", scanner.Text())
	}
}

// readLoop routes every response line to its waiting caller until
// stdout closes, then reaps the process and fails whatever is still
// pending.
func (t *StdioTransport) readLoop(p *stdioProc, stdout io.Reader, stderrDone <-chan struct{}) {
	reader := bufio.NewReaderSize(stdout, 1<<20)
	for {
		line, err := reader.ReadBytes('\n')
		if len(line) > 0 {
			t.dispatch(line)
		}
		if err != nil {
			break
		}
	}

	<-stderrDone
	waitErr := p.cmd.Wait()
	t.logger.Info("MCP subprocess exited", "pid", p.cmd.Process.Pid, "error", waitErr)

	t.mu.Lock()
	close(p.done)
	if t.proc == p {
		t.proc = nil
	}
	for id, ch := range t.pending {
		close(ch)
		delete(t.pending, id)
	}
	t.mu.Unlock()
}

func (t *StdioTransport) dispatch(line []byte) {
	var msg incoming
	if err := json.Unmarshal(line, &msg); err != nil {
		t.logger.Debug("skipping non-JSON line from MCP subprocess", "line", string(line))
		return
	}
	if msg.Method != "" {
		t.logger.Debug("ignoring server-initiated MCP message", "method", msg.Method)
		return
	}
	if msg.ID == nil {
		return
	}

	t.mu.Lock()
	ch, ok := t.pending[*msg.ID]
	delete(t.pending, *msg.ID)
	t.mu.Unlock()

	if !ok {
		t.logger.Debug("skipping unmatched MCP response", "id", *msg.ID)
		return
	}
	ch <- &Response{JSONRPC: jsonrpcVersion, ID: *msg.ID, Result: msg.Result, Error: msg.Error}
}

func (t *StdioTransport) write(p *stdioProc, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if _, err := p.stdin.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write to subprocess stdin: %w", err)
	}
	return nil
}

// Send writes the request and waits for its response. If ctx ends
// first the server is sent notifications/cancelled and Send returns
// ctx.Err().
func (t *StdioTransport) Send(ctx context.Context, req *Request) (*Response, error) {
	ch := make(chan *Response, 1)

	t.mu.Lock()
	p, err := t.running()
	if err == nil {
		t.pending[req.ID] = ch
	}
	t.mu.Unlock()
	if err != nil {
		return nil, err
	}

	if err := t.write(p, req); err != nil {
		t.forget(req.ID)
		return nil, err
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, ErrServerExited
		}
		return resp, nil
	case <-ctx.Done():
		t.forget(req.ID)
		if err := t.write(p, cancelledNotification(req.ID, ctx.Err().Error())); err != nil {
			t.logger.Debug("failed to send cancellation", "id", req.ID, "error", err)
		}
		return nil, ctx.Err()
	}
}

func (t *StdioTransport) forget(id int64) {
	t.mu.Lock()
	delete(t.pending, id)
	t.mu.Unlock()
}

// Notify writes a notification.
func (t *StdioTransport) Notify(_ context.Context, notif *Notification) error {
	t.mu.Lock()
	p, err := t.running()
	t.mu.Unlock()
	if err != nil {
		return err
	}
	return t.write(p, notif)
}

// Close ends the subprocess: stdin is closed, and after five seconds
// the process is killed. Pending requests fail with ErrServerExited.
func (t *StdioTransport) Close() error {
	t.mu.Lock()
	p := t.proc
	t.closed = true
	t.mu.Unlock()

	if p == nil {
		return nil
	}

	t.logger.Info("stopping MCP subprocess", "pid", p.cmd.Process.Pid)
	p.stdin.Close()

	select {
	case <-p.done:
	case <-time.After(5 * time.Second):
		t.logger.Warn("MCP subprocess did not exit gracefully, killing", "pid", p.cmd.Process.Pid)
		_ = p.cmd.Process.Kill()
		<-p.done
	}
	return nil
}
