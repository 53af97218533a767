package tools

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
)

func testRegistry() *Registry {
	return NewRegistry(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func echoTool(name string) *Tool {
	return &Tool{
		Name:        name,
		Description: "echo " + name,
		Handler: func(_ context.Context, args map[string]any) (string, error) {
			return stringArg(args, "content"), nil
		},
	}
}

func TestRegister_Duplicate(t *testing.T) {
	r := testRegistry()
	if err := r.Register(echoTool("send_message")); err != nil {
		t.Fatal(err)
	}
	dup := echoTool("send_message")
	dup.Source = "mcp:discord"
	err := r.Register(dup)
	if !errors.Is(err, ErrDuplicateTool) {
		t.Fatalf("err = %v, want ErrDuplicateTool", err)
	}
	if !strings.Contains(err.Error(), "mcp:discord") || !strings.Contains(err.Error(), "builtin") {
		t.Errorf("error %q should name both sources", err)
	}
}

func TestRegister_Invalid(t *testing.T) {
	r := testRegistry()
	if err := r.Register(&Tool{Name: "no_handler"}); err == nil {
		t.Error("tool without handler should be rejected")
	}
	if err := r.Register(&Tool{Handler: echoTool("x").Handler}); err == nil {
		t.Error("tool without name should be rejected")
	}
}

func TestSchemas_SortedAndStable(t *testing.T) {
	r := testRegistry()
	for _, n := range []string{"react", "current_time", "list_servers"} {
		if err := r.Register(echoTool(n)); err != nil {
			t.Fatal(err)
		}
	}
	s := r.Schemas()
	if len(s) != 3 {
		t.Fatalf("len = %d", len(s))
	}
	want := []string{"current_time", "list_servers", "react"}
	for i, n := range want {
		if s[i].Name != n {
			t.Errorf("Schemas()[%d] = %q, want %q", i, s[i].Name, n)
		}
		if s[i].Parameters["type"] != "object" {
			t.Errorf("%s parameters = %v, want default object schema", n, s[i].Parameters)
		}
	}
}

func TestParseArguments(t *testing.T) {
	tests := []struct {
		raw  string
		want map[string]any
	}{
		{"", map[string]any{}},
		{"   ", map[string]any{}},
		{`{"server":"A","limit":5}`, map[string]any{"server": "A", "limit": float64(5)}},
		{"hello there", map[string]any{"content": "hello there"}},
		{`"quoted"`, map[string]any{"content": "quoted"}},
		{`[1,2]`, map[string]any{"content": "[1,2]"}},
		{`42`, map[string]any{"content": "42"}},
		{`{"broken":`, map[string]any{"content": `{"broken":`}},
	}
	for _, tt := range tests {
		got := ParseArguments(tt.raw)
		if len(got) != len(tt.want) {
			t.Errorf("ParseArguments(%q) = %v, want %v", tt.raw, got, tt.want)
			continue
		}
		for k, v := range tt.want {
			if got[k] != v {
				t.Errorf("ParseArguments(%q)[%q] = %v, want %v", tt.raw, k, got[k], v)
			}
		}
	}
}

func TestExecute(t *testing.T) {
	r := testRegistry()
	_ = r.Register(echoTool("echo"))
	_ = r.Register(&Tool{
		Name: "fails",
		Handler: func(context.Context, map[string]any) (string, error) {
			return "", errors.New("backend unavailable")
		},
	})
	_ = r.Register(&Tool{
		Name: "panics",
		Handler: func(context.Context, map[string]any) (string, error) {
			panic("boom")
		},
	})
	ctx := context.Background()

	tests := []struct {
		name, tool, args string
		want             string
	}{
		{name: "object args", tool: "echo", args: `{"content":"hi"}`, want: "hi"},
		{name: "bare string args", tool: "echo", args: "just text", want: "just text"},
		{name: "handler error", tool: "fails", want: "Error calling tool fails: backend unavailable"},
		{name: "handler panic", tool: "panics", want: "Error calling tool panics: panic: boom"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.Execute(ctx, tt.tool, tt.args)
			if err != nil {
				t.Fatalf("Execute error: %v", err)
			}
			if got != tt.want {
				t.Errorf("Execute = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExecute_UnknownTool(t *testing.T) {
	r := testRegistry()
	_, err := r.Execute(context.Background(), "nope", "{}")
	var unavailable *ErrToolUnavailable
	if !errors.As(err, &unavailable) {
		t.Fatalf("err = %v, want *ErrToolUnavailable", err)
	}
	if unavailable.ToolName != "nope" {
		t.Errorf("ToolName = %q", unavailable.ToolName)
	}
}

func TestIntArg(t *testing.T) {
	args := map[string]any{"f": float64(7), "s": " 12 ", "bad": "x"}
	if intArg(args, "f", 1) != 7 || intArg(args, "s", 1) != 12 || intArg(args, "bad", 3) != 3 || intArg(args, "missing", 4) != 4 {
		t.Errorf("intArg results wrong for %v", args)
	}
}
