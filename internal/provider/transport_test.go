package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"syscall"
	"testing"

	"shotforge/internal/domain"
)

func TestClassifyTransport(t *testing.T) {
	refused := &net.OpError{Op: "dial", Net: "tcp", Err: os.NewSyscallError("connect", syscall.ECONNREFUSED)}
	tests := []struct {
		name string
		err  error
		want domain.ErrorKind
	}{
		{"connection refused", fmt.Errorf("http request: %w", refused), domain.KindTransportFatal},
		{"dns not found", &net.DNSError{Err: "no such host", Name: "mj.invalid", IsNotFound: true}, domain.KindTransportFatal},
		{"refused by message", errors.New("dial tcp 127.0.0.1:1: connect: connection refused"), domain.KindTransportFatal},
		{"reset", errors.New("read: connection reset by peer"), domain.KindTransportTransient},
		{"deadline", context.DeadlineExceeded, domain.KindTransportTransient},
		{"canceled", context.Canceled, domain.KindCanceled},
		{"5xx", &StatusError{StatusCode: 502, Endpoint: "/x"}, domain.KindTransportTransient},
		{"429", &StatusError{StatusCode: 429, Endpoint: "/x"}, domain.KindTransportTransient},
		{"4xx", &StatusError{StatusCode: 400, Endpoint: "/x"}, domain.KindProvider},
		{"already classified", domain.Errorf(domain.KindValidation, "op", "bad"), domain.KindValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := domain.KindOf(ClassifyTransport("poll", tt.err))
			if got != tt.want {
				t.Fatalf("kind = %s, want %s", got, tt.want)
			}
		})
	}
	if ClassifyTransport("poll", nil) != nil {
		t.Fatalf("nil error should stay nil")
	}
}

func TestJSONCallerStatusAndDecode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Key") != "secret" {
			t.Errorf("X-Key header = %q", r.Header.Get("X-Key"))
		}
		switch r.URL.Path {
		case "/ok":
			w.Write([]byte(`{"id":"t-1"}`))
		default:
			http.Error(w, "upstream busy", http.StatusServiceUnavailable)
		}
	}))
	defer srv.Close()

	c := NewJSONCaller(HTTPOptions{BaseURL: srv.URL + "/", Headers: map[string]string{"X-Key": "secret"}, RequestsPerSecond: 100})

	var out struct {
		ID string `json:"id"`
	}
	if err := c.Do(context.Background(), http.MethodPost, "/ok", map[string]string{"a": "b"}, &out); err != nil {
		t.Fatalf("do: %v", err)
	}
	if out.ID != "t-1" {
		t.Fatalf("id = %q, want t-1", out.ID)
	}

	err := c.Do(context.Background(), http.MethodGet, "/busy", nil, &out)
	var se *StatusError
	if !errors.As(err, &se) || se.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("err = %v, want 503 StatusError", err)
	}
	if domain.KindOf(ClassifyTransport("poll", err)) != domain.KindTransportTransient {
		t.Fatalf("503 should be transient")
	}
}

func TestGenerationRequestValidate(t *testing.T) {
	spec := domain.JobSpec{ID: "s", Model: "nano-banana-pro", Prompt: "p", ReferenceImages: []string{"https://cdn.example.com/r.png"}}
	req := RequestFromSpec(spec, 1, "req-1")
	if err := req.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if req.ReferenceImage != "https://cdn.example.com/r.png" {
		t.Fatalf("reference = %q", req.ReferenceImage)
	}
	req.Prompt = ""
	if err := req.Validate(); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("err = %v, want validation", err)
	}
}
