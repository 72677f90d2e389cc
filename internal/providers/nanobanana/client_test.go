package nanobanana

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"shotforge/internal/domain"
	"shotforge/internal/provider"
)

func TestNewClientRequiresKey(t *testing.T) {
	if _, err := NewClient(Options{}); !errors.Is(err, ErrMissingAPIKey) {
		t.Fatalf("err = %v, want ErrMissingAPIKey", err)
	}
}

func TestSubmitRoutesImageToImage(t *testing.T) {
	var paths []string
	var bodies []drawRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer k" {
			t.Errorf("authorization = %q", r.Header.Get("Authorization"))
		}
		var body drawRequest
		json.NewDecoder(r.Body).Decode(&body)
		paths = append(paths, r.URL.Path)
		bodies = append(bodies, body)
		w.Write([]byte(`{"code":0,"data":{"task_id":"t-1"}}`))
	}))
	defer srv.Close()

	c, err := NewClient(Options{APIKey: "k", BaseURL: srv.URL, RequestsPerSecond: 100})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	req := provider.GenerationRequest{Model: "nano-banana-pro", Prompt: "p", Quantity: 1, Resolution: "2K", AspectRatio: "16:9"}
	sub, err := c.Submit(context.Background(), req)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if sub.TaskID != "t-1" {
		t.Fatalf("task id = %q", sub.TaskID)
	}
	req.ReferenceImage = "https://cdn.example.com/ref.png"
	if _, err := c.Submit(context.Background(), req); err != nil {
		t.Fatalf("submit with reference: %v", err)
	}

	if paths[0] != "/v1/draw/nano-banana" || paths[1] != "/v1/draw/nano-banana-image-to-image" {
		t.Fatalf("paths = %v", paths)
	}
	if bodies[1].ImageURL != req.ReferenceImage || bodies[1].Image != "" {
		t.Fatalf("reference body = %+v", bodies[1])
	}
	if bodies[0].Size != "2K" {
		t.Fatalf("size = %q, want 2K", bodies[0].Size)
	}
}

func TestSubmitMissingTaskID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":0}`))
	}))
	defer srv.Close()
	c, _ := NewClient(Options{APIKey: "k", BaseURL: srv.URL})
	_, err := c.Submit(context.Background(), provider.GenerationRequest{Model: "m", Prompt: "p", Quantity: 1})
	if !errors.Is(err, domain.ErrProvider) {
		t.Fatalf("err = %v, want provider error", err)
	}
}

func TestPollMapsStatusesAndEstimatesProgress(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := now
	var next string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/draw/result" {
			w.Write([]byte(next))
			return
		}
		w.Write([]byte(`{"task_id":"t-1"}`))
	}))
	defer srv.Close()
	c, _ := NewClient(Options{APIKey: "k", BaseURL: srv.URL, RequestsPerSecond: 100, Now: func() time.Time { return clock }})
	if _, err := c.Submit(context.Background(), provider.GenerationRequest{Model: "m", Prompt: "p", Quantity: 1}); err != nil {
		t.Fatalf("submit: %v", err)
	}

	next = `{"status":"pending"}`
	st, err := c.Poll(context.Background(), "t-1")
	if err != nil || st.Status != provider.StatusPending || st.Progress != 10 {
		t.Fatalf("pending = %+v, %v", st, err)
	}

	clock = now.Add(30 * time.Second)
	next = `{"status":"running"}`
	st, _ = c.Poll(context.Background(), "t-1")
	if st.Status != provider.StatusProcessing || st.Progress != 50 {
		t.Fatalf("running = %+v, want processing at 50", st)
	}

	next = `{"status":"processing","progress":63}`
	st, _ = c.Poll(context.Background(), "t-1")
	if st.Progress != 63 {
		t.Fatalf("reported progress = %d, want 63", st.Progress)
	}

	next = `{"status":"succeeded","image_url":"https://cdn/a.png"}`
	st, _ = c.Poll(context.Background(), "t-1")
	if st.Status != provider.StatusCompleted || st.ResultRef != "https://cdn/a.png" || st.IsGridPreview {
		t.Fatalf("completed = %+v", st)
	}

	next = `{"status":"failed","failure_reason":"content policy"}`
	st, _ = c.Poll(context.Background(), "t-2")
	if st.Status != provider.StatusFailed || st.Message != "content policy" {
		t.Fatalf("failed = %+v", st)
	}
}

func TestPollUnreachableIsFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	c, _ := NewClient(Options{APIKey: "k", BaseURL: url})
	_, err := c.Poll(context.Background(), "t-1")
	if !errors.Is(err, domain.ErrTransportFatal) {
		t.Fatalf("err = %v, want fatal transport error", err)
	}
}
