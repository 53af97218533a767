package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHTTPTransport_JSONResponse(t *testing.T) {
	var gotAuth, gotSession []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = append(gotAuth, r.Header.Get("Authorization"))
		gotSession = append(gotSession, r.Header.Get(sessionHeader))

		var req Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set(sessionHeader, "sess-1")
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%d,"result":{"method":%q}}`, req.ID, req.Method)
	}))
	defer srv.Close()

	tr := NewHTTPTransport(HTTPConfig{URL: srv.URL, Headers: map[string]string{"Authorization": "Bearer tok"}})
	for i := int64(1); i <= 2; i++ {
		resp, err := tr.Send(context.Background(), NewRequest(i, "ping", nil))
		if err != nil {
			t.Fatalf("Send: %v", err)
		}
		if resp.ID != i || string(resp.Result) != `{"method":"ping"}` {
			t.Errorf("resp = %+v", resp)
		}
	}

	if gotAuth[0] != "Bearer tok" {
		t.Errorf("Authorization = %q", gotAuth[0])
	}
	if gotSession[0] != "" || gotSession[1] != "sess-1" {
		t.Errorf("session headers = %q, want [\"\" sess-1]", gotSession)
	}
}

func TestHTTPTransport_EventStreamResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, "event: message\n")
		io.WriteString(w, "data: {\"jsonrpc\":\"2.0\",\"method\":\"notifications/progress\"}\n\n")
		io.WriteString(w, "data: {\"jsonrpc\":\"2.0\",\"id\":9,\n")
		io.WriteString(w, "data: \"result\":{\"ok\":true}}\n\n")
	}))
	defer srv.Close()

	resp, err := NewHTTPTransport(HTTPConfig{URL: srv.URL}).Send(context.Background(), NewRequest(9, "tools/call", nil))
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if resp.ID != 9 || string(resp.Result) != `{"ok":true}` {
		t.Errorf("resp = %+v", resp)
	}
}

func TestHTTPTransport_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusUnauthorized)
	}))
	defer srv.Close()

	tr := NewHTTPTransport(HTTPConfig{URL: srv.URL})
	_, err := tr.Send(context.Background(), NewRequest(1, "ping", nil))
	if err == nil || !strings.Contains(err.Error(), "401") {
		t.Errorf("Send() = %v, want 401 error", err)
	}
	if err := tr.Notify(context.Background(), NewNotification("notifications/initialized", nil)); err == nil {
		t.Error("Notify() succeeded on 401")
	}
}

func TestHTTPTransport_NotifyAccepted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	if err := NewHTTPTransport(HTTPConfig{URL: srv.URL}).Notify(context.Background(), NewNotification("notifications/initialized", nil)); err != nil {
		t.Errorf("Notify: %v", err)
	}
}

func TestReadEventStream_NoMatch(t *testing.T) {
	_, err := readEventStream(strings.NewReader("data: {\"jsonrpc\":\"2.0\",\"id\":2,\"result\":{}}\n\n"), 1)
	if err == nil {
		t.Fatal("readEventStream matched the wrong ID")
	}
}
