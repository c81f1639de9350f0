package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Provider delivers one SMS and returns the provider-side message ID for
// the audit trail.
type Provider interface {
	Send(ctx context.Context, message, to string) (string, error)
}

func newProvider(kind string) Provider {
	switch kind {
	case "", "stub", "log":
		return logProvider{}
	case "noop":
		return noopProvider{}
	case "fail":
		return failProvider{}
	case "webhook":
		url := os.Getenv("SMS_WEBHOOK_URL")
		token := os.Getenv("SMS_WEBHOOK_TOKEN")
		if url == "" {
			return logProvider{}
		}
		return webhookProvider{url: url, token: token}
	default:
		if strings.HasPrefix(kind, "http://") || strings.HasPrefix(kind, "https://") {
			return webhookProvider{url: kind}
		}
		return logProvider{}
	}
}

type logProvider struct{}

func (logProvider) Send(ctx context.Context, message, to string) (string, error) {
	log.Printf("send sms to %s: %s", to, message)
	return "log-" + uuid.NewString(), nil
}

type noopProvider struct{}

func (noopProvider) Send(ctx context.Context, message, to string) (string, error) {
	return "", nil
}

type failProvider struct{}

func (failProvider) Send(ctx context.Context, message, to string) (string, error) {
	return "", errors.New("provider failure")
}

type webhookProvider struct {
	url   string
	token string
}

func (p webhookProvider) Send(ctx context.Context, message, to string) (string, error) {
	payload := map[string]string{
		"to":      to,
		"message": message,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if p.token != "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return "", errors.New("provider rejected request")
	}

	var result struct {
		MessageID string `json:"message_id"`
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return "", nil
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return "", nil
	}
	return result.MessageID, nil
}
