package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hazyhaar/adsweep/adblock/dom"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestStdout_JSONLines(t *testing.T) {
	var buf bytes.Buffer
	s := NewStdout(&buf)

	for i := 0; i < 2; i++ {
		rep := dom.Report{ID: "rpt_x", PageID: "pg_home", Trigger: dom.TriggerFallback, Suppressed: i}
		if err := s.Send(context.Background(), rep); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	if len(lines) != 2 {
		t.Fatalf("lines: got %d, want 2", len(lines))
	}
	var env envelope
	if err := json.Unmarshal(lines[1], &env); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if env.Kind != Kind || env.PageID != "pg_home" || env.Trigger != dom.TriggerFallback {
		t.Errorf("envelope: got %+v", env)
	}
	if env.Report.Suppressed != 1 {
		t.Errorf("report: got %+v", env.Report)
	}
}

func TestRouter_FanOutContinuesOnError(t *testing.T) {
	var got atomic.Int32
	boom := errors.New("boom")
	r := NewRouter(quiet,
		NewCallback(func(context.Context, dom.Report) error { return boom }),
		NewCallback(func(context.Context, dom.Report) error { got.Add(1); return nil }),
		NewCallback(nil),
	)

	err := r.Send(context.Background(), dom.Report{})
	if !errors.Is(err, boom) {
		t.Errorf("Send: got %v, want boom", err)
	}
	if got.Load() != 1 {
		t.Errorf("second sink calls: got %d, want 1", got.Load())
	}
	if err := r.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}

func TestWebhook_RetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("Content-Type: got %q", r.Header.Get("Content-Type"))
		}
		if r.Header.Get(HeaderReportID) != "rpt_1" || r.Header.Get(HeaderPageID) != "pg_watch" {
			t.Errorf("headers: report %q page %q", r.Header.Get(HeaderReportID), r.Header.Get(HeaderPageID))
		}
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	w := NewWebhook(srv.URL, WithWebhookBackoff(time.Millisecond), WithWebhookLogger(quiet))
	if err := w.Send(context.Background(), dom.Report{ID: "rpt_1", PageID: "pg_watch"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("calls: got %d, want 3", calls.Load())
	}
}

func TestWebhook_StatusHandling(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		wantCalls int32
		rejected  bool
	}{
		{"server error retried", http.StatusInternalServerError, 2, false},
		{"too many requests retried", http.StatusTooManyRequests, 2, false},
		{"request timeout retried", http.StatusRequestTimeout, 2, false},
		{"bad request not retried", http.StatusBadRequest, 1, true},
		{"gone not retried", http.StatusGone, 1, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				calls.Add(1)
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			w := NewWebhook(srv.URL,
				WithWebhookRetries(1),
				WithWebhookBackoff(time.Millisecond),
				WithWebhookLogger(quiet))
			err := w.Send(context.Background(), dom.Report{ID: "rpt_1"})
			if err == nil {
				t.Fatal("Send: expected error")
			}
			if errors.Is(err, ErrRejected) != tt.rejected {
				t.Errorf("Send: got %v, rejected want %v", err, tt.rejected)
			}
			if calls.Load() != tt.wantCalls {
				t.Errorf("calls: got %d, want %d", calls.Load(), tt.wantCalls)
			}
		})
	}
}
