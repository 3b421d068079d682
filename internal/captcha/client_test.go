package captcha

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"sequence_engine/internal/config"
)

func testClient(baseURL string) *Client {
	return New(config.CaptchaConfig{
		BaseURL:        baseURL,
		TimeoutMs:      2000,
		PollIntervalMs: 1,
		PollAttempts:   5,
	}, nil)
}

func TestSolveImageDirectResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/process" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req map[string]any
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req["apikey"] != "key-1" || req["type"] != "imagetotext" {
			t.Errorf("bad request body: %v", req)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"success": true, "captcha": "AB12"})
	}))
	defer srv.Close()

	got, err := testClient(srv.URL).SolveImage(context.Background(), "key-1", "aW1n")
	if err != nil {
		t.Fatalf("solve: %v", err)
	}
	if got != "AB12" {
		t.Fatalf("got %q, want AB12", got)
	}
}

func TestSolveImagePollsTask(t *testing.T) {
	var polls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/process":
			_ = json.NewEncoder(w).Encode(map[string]any{"success": true, "taskId": 42})
		case "/result":
			var req map[string]any
			_ = json.NewDecoder(r.Body).Decode(&req)
			if int64(req["taskId"].(float64)) != 42 {
				t.Errorf("taskId = %v", req["taskId"])
			}
			if polls.Add(1) < 3 {
				_ = json.NewEncoder(w).Encode(map[string]any{"success": false, "status": "processing"})
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"success": true, "captcha": "ZX99"})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	got, err := testClient(srv.URL).SolveImage(context.Background(), "key-1", "aW1n")
	if err != nil {
		t.Fatalf("solve: %v", err)
	}
	if got != "ZX99" {
		t.Fatalf("got %q, want ZX99", got)
	}
	if polls.Load() != 3 {
		t.Fatalf("polls = %d, want 3", polls.Load())
	}
}

func TestSolveImageRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"success": false, "message": "invalid key"})
	}))
	defer srv.Close()

	if _, err := testClient(srv.URL).SolveImage(context.Background(), "bad", "aW1n"); err == nil {
		t.Fatal("expected rejection error")
	}
}

func TestSolveImagePollExhausted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/process" {
			_ = json.NewEncoder(w).Encode(map[string]any{"success": true, "taskId": 7})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"success": false, "status": "processing"})
	}))
	defer srv.Close()

	if _, err := testClient(srv.URL).SolveImage(context.Background(), "key-1", "aW1n"); err == nil {
		t.Fatal("expected timeout error")
	}
}

func TestSolveImageRequiresKey(t *testing.T) {
	if _, err := testClient("http://127.0.0.1:0").SolveImage(context.Background(), " ", "aW1n"); err == nil {
		t.Fatal("expected error for empty key")
	}
}
