package dispatcher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/motionlab-io/motiond/internal/models"
)

const maxResponseBytes = 1 << 20

// HTTPTransport posts events to the collector's /sensor-data endpoint. A 2xx
// reply with a record ID counts as the acknowledgment; 4xx replies are
// permanent, everything else is retryable.
type HTTPTransport struct {
	client  *http.Client
	baseURL string
}

// NewHTTPTransport creates a transport for the collector at baseURL.
func NewHTTPTransport(baseURL string, timeout time.Duration) *HTTPTransport {
	return &HTTPTransport{
		client:  &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// Deliver implements Transport.
func (t *HTTPTransport) Deliver(ctx context.Context, event models.MotionEvent) (string, error) {
	body, err := json.Marshal(models.PayloadFromEvent(event))
	if err != nil {
		return "", Permanent(fmt.Errorf("failed to encode event: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/sensor-data", bytes.NewReader(body))
	if err != nil {
		return "", Permanent(fmt.Errorf("failed to build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to reach collector: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", fmt.Errorf("failed to read collector response: %w", err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		var ack models.IngestResponse
		if err := json.Unmarshal(raw, &ack); err != nil {
			return "", fmt.Errorf("failed to decode collector response: %w", err)
		}
		return ack.RecordID, nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return "", Permanent(fmt.Errorf("collector rejected event with status %d: %s",
			resp.StatusCode, strings.TrimSpace(string(raw))))
	default:
		return "", fmt.Errorf("collector returned status %d", resp.StatusCode)
	}
}
