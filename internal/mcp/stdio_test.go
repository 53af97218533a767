package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"
)

// TestHelperProcess is not a real test. It is the MCP server the stdio
// tests start as a subprocess.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("VERCADE_MCP_HELPER") != "1" {
		return
	}
	defer os.Exit(0)

	out := bufio.NewWriter(os.Stdout)
	reply := func(id int64, result any) {
		data, _ := json.Marshal(map[string]any{"jsonrpc": "2.0", "id": id, "result": result})
		out.Write(append(data, '\n'))
		out.Flush()
	}

	fmt.Fprintln(out, "helper starting")
	fmt.Fprintln(out, `{"jsonrpc":"2.0","method":"notifications/message","params":{}}`)
	out.Flush()

	var held []int64
	var cancelled []int64
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		var msg struct {
			ID     int64          `json:"id"`
			Method string         `json:"method"`
			Params map[string]any `json:"params"`
		}
		if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
			continue
		}
		switch msg.Method {
		case "hold":
			held = append(held, msg.ID)
			if len(held) == 2 {
				reply(held[1], map[string]any{"id": held[1]})
				reply(held[0], map[string]any{"id": held[0]})
				held = nil
			}
		case "hang":
		case "notifications/cancelled":
			cancelled = append(cancelled, int64(msg.Params["requestId"].(float64)))
		case "cancelled":
			reply(msg.ID, map[string]any{"ids": cancelled, "pid": os.Getpid()})
		case "pid":
			reply(msg.ID, map[string]any{"pid": os.Getpid()})
		case "exit":
			return
		default:
			reply(msg.ID, map[string]any{"method": msg.Method})
		}
	}
}

func helperTransport(t *testing.T) *StdioTransport {
	t.Helper()
	tr := NewStdioTransport(StdioConfig{
		Command: os.Args[0],
		Args:    []string{"-test.run=TestHelperProcess", "--"},
		Env:     []string{"VERCADE_MCP_HELPER=1"},
	})
	t.Cleanup(func() { _ = tr.Close() })
	return tr
}

func decodeResult(t *testing.T, resp *Response) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(resp.Result, &out); err != nil {
		t.Fatalf("decode result %s: %v", resp.Result, err)
	}
	return out
}

func TestStdioTransport_SendSkipsNoise(t *testing.T) {
	tr := helperTransport(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	resp, err := tr.Send(ctx, NewRequest(1, "ping", nil))
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if resp.ID != 1 || decodeResult(t, resp)["method"] != "ping" {
		t.Errorf("resp = %+v", resp)
	}
	if err := tr.Notify(ctx, NewNotification("notifications/initialized", nil)); err != nil {
		t.Errorf("Notify: %v", err)
	}
}

func TestStdioTransport_RoutesOutOfOrderResponses(t *testing.T) {
	tr := helperTransport(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := int64(i + 10)
			resp, err := tr.Send(ctx, NewRequest(id, "hold", nil))
			if err != nil {
				errs[i] = err
				return
			}
			var got struct{ ID int64 }
			if err := json.Unmarshal(resp.Result, &got); err != nil {
				errs[i] = err
				return
			}
			if resp.ID != id || got.ID != id {
				errs[i] = fmt.Errorf("request %d got response for %d/%d", id, resp.ID, got.ID)
			}
		}()
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			t.Error(err)
		}
	}
}

func TestStdioTransport_CancelKeepsProcess(t *testing.T) {
	tr := helperTransport(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	before, err := tr.Send(ctx, NewRequest(1, "pid", nil))
	if err != nil {
		t.Fatalf("Send pid: %v", err)
	}

	hangCtx, hangCancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer hangCancel()
	if _, err := tr.Send(hangCtx, NewRequest(2, "hang", nil)); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Send hang = %v, want DeadlineExceeded", err)
	}

	after, err := tr.Send(ctx, NewRequest(3, "cancelled", nil))
	if err != nil {
		t.Fatalf("Send after cancel: %v", err)
	}
	res := decodeResult(t, after)
	if res["pid"] != decodeResult(t, before)["pid"] {
		t.Error("subprocess was restarted by a cancelled request")
	}
	ids, _ := res["ids"].([]any)
	if len(ids) != 1 || ids[0] != float64(2) {
		t.Errorf("server saw cancellations %v, want [2]", res["ids"])
	}
}

func TestStdioTransport_ExitFailsPendingAndRestarts(t *testing.T) {
	tr := helperTransport(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := tr.Send(ctx, NewRequest(1, "exit", nil)); !errors.Is(err, ErrServerExited) {
		t.Fatalf("Send exit = %v, want ErrServerExited", err)
	}

	// The exit is observed asynchronously; retry until the fresh process
	// answers.
	deadline := time.Now().Add(5 * time.Second)
	for id := int64(2); ; id++ {
		resp, err := tr.Send(ctx, NewRequest(id, "ping", nil))
		if err == nil && resp.ID == id {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("no response after restart: %v", err)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestStdioTransport_SendAfterClose(t *testing.T) {
	tr := helperTransport(t)
	ctx := context.Background()

	if _, err := tr.Send(ctx, NewRequest(1, "ping", nil)); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := tr.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := tr.Send(ctx, NewRequest(2, "ping", nil)); !errors.Is(err, ErrTransportClosed) {
		t.Errorf("Send after Close = %v, want ErrTransportClosed", err)
	}
}

func TestStdioTransport_StartFailure(t *testing.T) {
	tr := NewStdioTransport(StdioConfig{Command: "/nonexistent/mcp-server"})
	if _, err := tr.Send(context.Background(), NewRequest(1, "ping", nil)); err == nil {
		t.Fatal("Send with missing command succeeded")
	}
}
