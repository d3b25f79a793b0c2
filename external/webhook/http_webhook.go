package webhook

import (
	"bytes"
	"context"
	"fmt"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/foxseedlab/kikitori/internal/webhook"
)

const webhookTimeout = 30 * time.Second

type HTTPSender struct {
	webhookURL string
	client     *http.Client
}

func NewHTTPSender(webhookURL string) webhook.Sender {
	return &HTTPSender{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: webhookTimeout},
	}
}

// SendTranscript posts the session metadata as form fields followed by the
// transcript as the "file" part. An empty webhook URL disables delivery.
func (s *HTTPSender) SendTranscript(ctx context.Context, t webhook.Transcript) error {
	if s.webhookURL == "" {
		return nil
	}

	body, contentType, err := encodeTranscriptForm(t)
	if err != nil {
		return fmt.Errorf("failed to encode transcript form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", contentType)
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if !isHTTPSuccessStatus(resp.StatusCode) {
		return fmt.Errorf("webhook returned status %d for session %s", resp.StatusCode, t.SessionID)
	}
	return nil
}

func encodeTranscriptForm(t webhook.Transcript) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fields := []struct{ name, value string }{
		{"session_id", t.SessionID},
		{"transcriber", t.Transcriber},
		{"language", t.Language},
		{"started_at", t.StartedAt.UTC().Format(time.RFC3339)},
		{"ended_at", t.EndedAt.UTC().Format(time.RFC3339)},
		{"segments", strconv.Itoa(t.SegmentCount)},
	}
	for _, f := range fields {
		if err := mw.WriteField(f.name, f.value); err != nil {
			return nil, "", err
		}
	}
	part, err := mw.CreateFormFile("file", t.Filename)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(t.Body); err != nil {
		return nil, "", err
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return &buf, mw.FormDataContentType(), nil
}

func isHTTPSuccessStatus(statusCode int) bool {
	return statusCode >= 200 && statusCode < 300
}
