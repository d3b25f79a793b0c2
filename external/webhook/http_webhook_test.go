package webhook

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/foxseedlab/kikitori/internal/webhook"
)

func testTranscript() webhook.Transcript {
	return webhook.Transcript{
		SessionID:    "session-1",
		Transcriber:  "deepgram",
		Language:     "en-US",
		StartedAt:    time.Date(2026, 2, 28, 12, 0, 0, 0, time.UTC),
		EndedAt:      time.Date(2026, 2, 28, 12, 5, 0, 0, time.UTC),
		SegmentCount: 2,
		Filename:     "kikitori-session-1.txt",
		Body:         []byte("hello world"),
	}
}

func TestSendTranscript_EmptyWebhookURL(t *testing.T) {
	sender := NewHTTPSender("")
	if err := sender.SendTranscript(context.Background(), testTranscript()); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
}

func TestSendTranscript_Success(t *testing.T) {
	fields := make(map[string]string)
	var gotFilename string
	var gotBody string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method: %s", r.Method)
		}
		mediaType := r.Header.Get("Content-Type")
		if !strings.HasPrefix(mediaType, "multipart/form-data") {
			t.Errorf("unexpected content type: %s", mediaType)
		}

		reader, err := r.MultipartReader()
		if err != nil {
			t.Errorf("failed to create multipart reader: %v", err)
			return
		}
		for {
			part, err := reader.NextPart()
			if err == io.EOF {
				break
			}
			if err != nil {
				t.Errorf("failed to read multipart part: %v", err)
				return
			}
			content, err := io.ReadAll(part)
			if err != nil {
				t.Errorf("failed to read part %s: %v", part.FormName(), err)
				return
			}
			if part.FormName() == "file" {
				gotFilename = part.FileName()
				gotBody = string(content)
				continue
			}
			fields[part.FormName()] = string(content)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	sender := NewHTTPSender(server.URL)
	if err := sender.SendTranscript(context.Background(), testTranscript()); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if gotFilename != "kikitori-session-1.txt" {
		t.Fatalf("unexpected filename: %s", gotFilename)
	}
	if gotBody != "hello world" {
		t.Fatalf("unexpected body: %s", gotBody)
	}
	want := map[string]string{
		"session_id":  "session-1",
		"transcriber": "deepgram",
		"language":    "en-US",
		"started_at":  "2026-02-28T12:00:00Z",
		"ended_at":    "2026-02-28T12:05:00Z",
		"segments":    "2",
	}
	for k, v := range want {
		if fields[k] != v {
			t.Errorf("field %s = %q, want %q", k, fields[k], v)
		}
	}
}

func TestSendTranscript_Non2xx(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	sender := NewHTTPSender(server.URL)
	err := sender.SendTranscript(context.Background(), testTranscript())
	if err == nil {
		t.Fatal("expected error for non-2xx response")
	}
	if !strings.Contains(err.Error(), "session-1") {
		t.Fatalf("expected session id in error, got %v", err)
	}
}

func TestSendTranscript_CanceledContext(t *testing.T) {
	called := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sender := NewHTTPSender(server.URL)
	if err := sender.SendTranscript(ctx, testTranscript()); err == nil {
		t.Fatal("expected error for canceled context")
	}
	if called {
		t.Fatal("expected no request after cancellation")
	}
}
