package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

// --- helpers ---

func apiServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	return ts
}

func writeData(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"data": data})
}

func writeErr(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]string{"code": code, "message": msg}})
}

// --- Submit tests ---

func TestSubmit_Accepted(t *testing.T) {
	ts := apiServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/analysis" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decoding body: %v", err)
		}
		if body["text"] != "hello" || body["model"] != "gpt-4" {
			t.Errorf("unexpected body: %v", body)
		}
		writeData(w, http.StatusAccepted, map[string]any{
			"id": "job-1", "estimated_wait": "1.2 sec", "estimated_wait_seconds": 1.2,
		})
	})

	sub, err := New(ts.URL).Submit(context.Background(), "hello", "gpt-4")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sub.ID != "job-1" || sub.EstimatedWait != "1.2 sec" || sub.EstimatedWaitSeconds != 1.2 {
		t.Errorf("unexpected submission: %+v", sub)
	}
}

func TestSubmit_ValidationError(t *testing.T) {
	ts := apiServer(t, func(w http.ResponseWriter, _ *http.Request) {
		writeErr(w, http.StatusBadRequest, "VALIDATION_ERROR", "Text must be between 50 and 1000 characters.")
	})

	_, err := New(ts.URL).Submit(context.Background(), "x", "gpt-4")
	if !errors.Is(err, ErrRejected) {
		t.Fatalf("expected ErrRejected, got %v", err)
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %T", err)
	}
	if apiErr.Code != "VALIDATION_ERROR" || apiErr.Message != "Text must be between 50 and 1000 characters." {
		t.Errorf("unexpected api error: %+v", apiErr)
	}
}

func TestSubmit_RateLimited(t *testing.T) {
	ts := apiServer(t, func(w http.ResponseWriter, _ *http.Request) {
		writeErr(w, http.StatusTooManyRequests, "RATE_LIMIT_EXCEEDED", "Too many requests")
	})

	_, err := New(ts.URL).Submit(context.Background(), "x", "gpt-4")
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
}

func TestSubmit_Unreachable(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	url := ts.URL
	ts.Close()

	_, err := New(url).Submit(context.Background(), "x", "gpt-4")
	if !errors.Is(err, ErrUnreachable) {
		t.Fatalf("expected ErrUnreachable, got %v", err)
	}
}

// --- Status / Cancel tests ---

func TestStatus_NotFound(t *testing.T) {
	ts := apiServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/analysis/missing" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		writeErr(w, http.StatusNotFound, "NOT_FOUND", "Job not found")
	})

	_, err := New(ts.URL).Status(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCancel(t *testing.T) {
	ts := apiServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			t.Errorf("unexpected method: %s", r.Method)
		}
		writeData(w, http.StatusOK, map[string]string{"status": "completed", "message": "Job already completed"})
	})

	st, err := New(ts.URL).Cancel(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if st.Status != "completed" || st.Message != "Job already completed" {
		t.Errorf("unexpected status: %+v", st)
	}
}

func TestServerError(t *testing.T) {
	ts := apiServer(t, func(w http.ResponseWriter, _ *http.Request) {
		writeErr(w, http.StatusServiceUnavailable, "INFRASTRUCTURE_ERROR", "unavailable")
	})

	_, err := New(ts.URL).Status(context.Background(), "job-1")
	if !errors.Is(err, ErrServer) {
		t.Fatalf("expected ErrServer, got %v", err)
	}
}

// --- Wait tests ---

func TestWait_StopsAtTerminal(t *testing.T) {
	var polls atomic.Int32
	ts := apiServer(t, func(w http.ResponseWriter, _ *http.Request) {
		if polls.Add(1) < 3 {
			writeData(w, http.StatusOK, map[string]string{"status": "pending"})
			return
		}
		writeData(w, http.StatusOK, map[string]string{"status": "completed", "analysis": "See: ..."})
	})

	var seen []string
	c := New(ts.URL, WithPollInterval(5*time.Millisecond))
	st, err := c.Wait(context.Background(), "job-1", func(s Status) { seen = append(seen, s.Status) })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if st.Status != "completed" || st.Analysis != "See: ..." {
		t.Errorf("unexpected final status: %+v", st)
	}
	if len(seen) != 3 || seen[0] != "pending" || seen[2] != "completed" {
		t.Errorf("unexpected poll sequence: %v", seen)
	}
	if polls.Load() != 3 {
		t.Errorf("expected polling to stop after terminal status, got %d polls", polls.Load())
	}
}

func TestWait_StopsOnPollFailure(t *testing.T) {
	ts := apiServer(t, func(w http.ResponseWriter, _ *http.Request) {
		writeErr(w, http.StatusNotFound, "NOT_FOUND", "Job not found")
	})

	_, err := New(ts.URL, WithPollInterval(5*time.Millisecond)).Wait(context.Background(), "gone", nil)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestWait_ContextDeadline(t *testing.T) {
	ts := apiServer(t, func(w http.ResponseWriter, _ *http.Request) {
		writeData(w, http.StatusOK, map[string]string{"status": "pending"})
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := New(ts.URL, WithPollInterval(5*time.Millisecond)).Wait(ctx, "job-1", nil)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

func TestStatus_Terminal(t *testing.T) {
	for status, want := range map[string]bool{
		"pending": false, "completed": true, "cancelled": true, "error": true,
	} {
		if got := (Status{Status: status}).Terminal(); got != want {
			t.Errorf("Terminal(%q) = %v, want %v", status, got, want)
		}
	}
}
