package outbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPAnchorer posts the job payload to an external anchoring service.
type HTTPAnchorer struct {
	url    string
	client *http.Client
}

type anchorRequest struct {
	JobID      string  `json:"jobId"`
	TrackingID string  `json:"trackingId"`
	Payload    Payload `json:"payload"`
}

type anchorResponse struct {
	Receipt string `json:"receipt"`
	Error   string `json:"error"`
}

// NewHTTPAnchorer targets url with a bounded per-call timeout.
func NewHTTPAnchorer(url string, timeout time.Duration) (*HTTPAnchorer, error) {
	if strings.TrimSpace(url) == "" {
		return nil, errors.New("anchor url is required")
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPAnchorer{url: url, client: &http.Client{Timeout: timeout}}, nil
}

func (a *HTTPAnchorer) Anchor(ctx context.Context, job Job) (string, error) {
	body, err := json.Marshal(anchorRequest{JobID: job.ID, TrackingID: job.Payload.TrackingID, Payload: job.Payload})
	if err != nil {
		return "", fmt.Errorf("encoding anchor request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("building anchor request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("anchor request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("reading anchor response: %w", err)
	}
	var out anchorResponse
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &out); err != nil {
			return "", fmt.Errorf("decoding anchor response (status %d): %w", resp.StatusCode, err)
		}
	}
	if resp.StatusCode >= http.StatusBadRequest {
		if out.Error != "" {
			return "", errors.New(out.Error)
		}
		return "", fmt.Errorf("anchor service returned status %d", resp.StatusCode)
	}
	if strings.TrimSpace(out.Receipt) == "" {
		return "", errors.New("anchor service returned no receipt")
	}
	return out.Receipt, nil
}
