// Package meetings provisions session links for confirmed appointments.
package meetings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type Provisioner interface {
	CreateMeeting(ctx context.Context, title string, startAt time.Time, durationMinutes int) (string, error)
}

// HTTPProvisioner calls an external meeting API:
// POST {baseURL}/meetings {"title","start_at","duration_minutes"} -> {"join_url"}.
type HTTPProvisioner struct {
	baseURL string
	token   string
	client  *http.Client
}

func NewHTTPProvisioner(baseURL, token string, timeout time.Duration) *HTTPProvisioner {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPProvisioner{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

type createMeetingRequest struct {
	Title           string `json:"title"`
	StartAt         string `json:"start_at"`
	DurationMinutes int    `json:"duration_minutes"`
}

type createMeetingResponse struct {
	JoinURL string `json:"join_url"`
}

func (p *HTTPProvisioner) CreateMeeting(ctx context.Context, title string, startAt time.Time, durationMinutes int) (string, error) {
	body, err := json.Marshal(createMeetingRequest{
		Title:           title,
		StartAt:         startAt.UTC().Format(time.RFC3339),
		DurationMinutes: durationMinutes,
	})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/meetings", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if p.token != "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("meeting api status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out createMeetingResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode meeting response: %w", err)
	}
	if out.JoinURL == "" {
		return "", fmt.Errorf("meeting api returned empty join_url")
	}
	return out.JoinURL, nil
}

// Placeholder builds a locally generated session link used when provisioning fails.
func Placeholder(baseURL string) string {
	if baseURL == "" {
		baseURL = "https://meet.invalid/session"
	}
	return strings.TrimRight(baseURL, "/") + "/" + uuid.NewString()
}
