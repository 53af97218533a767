package httpkit

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"syscall"
	"testing"
	"time"
)

func TestNewClient_Timeout(t *testing.T) {
	tests := []struct {
		name string
		opts []Option
		want time.Duration
	}{
		{name: "default", want: DefaultTimeout},
		{name: "custom", opts: []Option{WithTimeout(5 * time.Second)}, want: 5 * time.Second},
		{name: "disabled", opts: []Option{WithTimeout(0)}, want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NewClient(tt.opts...).Timeout; got != tt.want {
				t.Errorf("Timeout = %v, want %v", got, tt.want)
			}
		})
	}
}

func echoUA(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(r.Header.Get("User-Agent")))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestNewClient_UserAgent(t *testing.T) {
	srv := echoUA(t)

	resp, err := NewClient().Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.HasPrefix(string(body), "vercade/") {
		t.Errorf("default User-Agent = %q, want vercade/ prefix", body)
	}
}

func TestNewClient_KeepsCallerUserAgent(t *testing.T) {
	srv := echoUA(t)

	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	req.Header.Set("User-Agent", "caller/2.0")
	resp, err := NewClient().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "caller/2.0" {
		t.Errorf("User-Agent = %q, want caller/2.0", body)
	}
}

type scriptedRT struct {
	calls atomic.Int32
	errs  []error
}

func (s *scriptedRT) RoundTrip(*http.Request) (*http.Response, error) {
	n := int(s.calls.Add(1)) - 1
	if n < len(s.errs) && s.errs[n] != nil {
		return nil, s.errs[n]
	}
	return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(strings.NewReader("ok"))}, nil
}

func refused() error {
	return &net.OpError{Op: "dial", Net: "tcp", Err: syscall.ECONNREFUSED}
}

func TestRetryTransport(t *testing.T) {
	tests := []struct {
		name      string
		errs      []error
		count     int
		wantErr   bool
		wantCalls int32
	}{
		{name: "success first try", count: 2, wantCalls: 1},
		{name: "recovers", errs: []error{refused(), refused()}, count: 2, wantCalls: 3},
		{name: "exhausted", errs: []error{refused(), refused(), refused()}, count: 2, wantErr: true, wantCalls: 3},
		{name: "not retryable", errs: []error{errors.New("tls: bad certificate")}, count: 2, wantErr: true, wantCalls: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			base := &scriptedRT{errs: tt.errs}
			rt := &retryTransport{base: base, count: tt.count, delay: time.Millisecond}
			req, _ := http.NewRequest(http.MethodGet, "http://example.invalid/", nil)
			resp, err := rt.RoundTrip(req)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if resp != nil {
				resp.Body.Close()
			}
			if got := base.calls.Load(); got != tt.wantCalls {
				t.Errorf("calls = %d, want %d", got, tt.wantCalls)
			}
		})
	}
}

func TestRetryTransport_ContextCancelled(t *testing.T) {
	base := &scriptedRT{errs: []error{refused(), refused()}}
	rt := &retryTransport{base: base, count: 3, delay: time.Hour}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, "http://example.invalid/", nil)
	if _, err := rt.RoundTrip(req); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{refused(), true},
		{fmt.Errorf("wrapped: %w", syscall.EHOSTUNREACH), true},
		{syscall.ECONNRESET, false},
		{errors.New("plain"), false},
	}
	for _, tt := range tests {
		if got := Retryable(tt.err); got != tt.want {
			t.Errorf("Retryable(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestReadErrorBody(t *testing.T) {
	if got := ReadErrorBody(io.NopCloser(strings.NewReader("rate limited")), 512); got != "rate limited" {
		t.Errorf("ReadErrorBody = %q", got)
	}
	if got := ReadErrorBody(io.NopCloser(strings.NewReader("abcdefgh")), 4); got != "abcd" {
		t.Errorf("truncated ReadErrorBody = %q, want abcd", got)
	}
	if got := ReadErrorBody(nil, 10); got != "" {
		t.Errorf("nil ReadErrorBody = %q, want empty", got)
	}
}
