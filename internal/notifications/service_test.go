package notifications_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"podindex/internal/config"
	"podindex/internal/notifications"
)

type captured struct {
	title    string
	tags     string
	priority string
	body     string
}

func newCaptureServer(t *testing.T, status int) (*httptest.Server, *[]captured) {
	t.Helper()
	var got []captured
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		got = append(got, captured{
			title:    r.Header.Get("Title"),
			tags:     r.Header.Get("Tags"),
			priority: r.Header.Get("Priority"),
			body:     string(body),
		})
		w.WriteHeader(status)
		_, _ = w.Write([]byte("topic rejected"))
	}))
	t.Cleanup(srv.Close)
	return srv, &got
}

func TestNewServiceReturnsNoopWhenTopicMissing(t *testing.T) {
	svc := notifications.NewService(config.Notifications{})
	if err := svc.NotifyPermanentFailure(context.Background(), "Episode", "download", "boom"); err != nil {
		t.Fatalf("expected noop notifier to return nil, got %v", err)
	}
}

func TestNtfyServiceFormatsPayloads(t *testing.T) {
	srv, got := newCaptureServer(t, http.StatusOK)
	svc := notifications.NewService(config.Notifications{NtfyTopic: srv.URL})
	ctx := context.Background()

	tests := []struct {
		name           string
		send           func() error
		expectTitle    string
		expectMessage  string
		expectTags     string
		expectPriority string
	}{
		{
			name:           "permanent failure",
			send:           func() error { return svc.NotifyPermanentFailure(ctx, "Ep 12", "transcript", "model crashed") },
			expectTitle:    "podindex - Stage Failed",
			expectMessage:  "Ep 12 failed permanently at transcript\nmodel crashed",
			expectTags:     "podindex,transcript,failed",
			expectPriority: "high",
		},
		{
			name:          "clean pass",
			send:          func() error { return svc.NotifyPassCompleted(ctx, 7, 0, 2500*time.Millisecond) },
			expectTitle:   "podindex - Pass Complete",
			expectMessage: "Pipeline pass complete: 7 stage(s) completed in 3s",
			expectTags:    "podindex,pass,completed",
		},
		{
			name:          "pass with failures",
			send:          func() error { return svc.NotifyPassCompleted(ctx, 4, 2, time.Minute) },
			expectTitle:   "podindex - Pass Complete (with failures)",
			expectMessage: "Pipeline pass complete: 4 completed, 2 permanently failed in 1m0s",
			expectTags:    "podindex,pass,completed",
		},
		{
			name:           "error",
			send:           func() error { return svc.NotifyError(ctx, errors.New("disk full"), "cleanup") },
			expectTitle:    "podindex - Error",
			expectMessage:  "Error during cleanup: disk full",
			expectTags:     "podindex,error",
			expectPriority: "high",
		},
		{
			name:           "test",
			send:           func() error { return svc.TestNotification(ctx) },
			expectTitle:    "podindex - Test",
			expectMessage:  "Notification system test",
			expectTags:     "podindex,test",
			expectPriority: "low",
		},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.send(); err != nil {
				t.Fatalf("send: %v", err)
			}
			if len(*got) != i+1 {
				t.Fatalf("expected %d requests, got %d", i+1, len(*got))
			}
			req := (*got)[i]
			if req.title != tt.expectTitle {
				t.Fatalf("title = %q, want %q", req.title, tt.expectTitle)
			}
			if req.body != tt.expectMessage {
				t.Fatalf("body = %q, want %q", req.body, tt.expectMessage)
			}
			if req.tags != tt.expectTags {
				t.Fatalf("tags = %q, want %q", req.tags, tt.expectTags)
			}
			if req.priority != tt.expectPriority {
				t.Fatalf("priority = %q, want %q", req.priority, tt.expectPriority)
			}
		})
	}
}

func TestNtfyServiceReportsHTTPErrors(t *testing.T) {
	srv, _ := newCaptureServer(t, http.StatusForbidden)
	svc := notifications.NewService(config.Notifications{NtfyTopic: srv.URL})
	err := svc.TestNotification(context.Background())
	if err == nil {
		t.Fatal("expected error for 403 response")
	}
	if want := "ntfy returned 403: topic rejected"; err.Error() != want {
		t.Fatalf("error = %q, want %q", err.Error(), want)
	}
}
