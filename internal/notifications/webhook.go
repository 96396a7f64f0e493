package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/TheEverestLab/coesg-data/internal/httputil"
	"github.com/TheEverestLab/coesg-data/internal/logger"
)

const DefaultBotName = "COE-SG"

// Sender posts short status messages to a Slack or Discord webhook. Without a
// webhook URL messages are only logged.
type Sender struct {
	webhookURL string
	botName    string
	httpClient *http.Client
	retry      httputil.RetryConfig
	log        *logger.Logger
}

func NewSender(log *logger.Logger, webhookURL, botName string) *Sender {
	if botName == "" {
		botName = DefaultBotName
	}
	return &Sender{
		webhookURL: webhookURL,
		botName:    botName,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		retry: httputil.RetryConfig{
			MaxAttempts: 3,
			BaseDelay:   1 * time.Second,
			MaxDelay:    5 * time.Second,
		},
		log: log.With("component", "notify"),
	}
}

// Send delivers msg best-effort; failures are logged and never returned so a
// broken webhook cannot fail a run.
func (s *Sender) Send(ctx context.Context, msg string) {
	formatted := fmt.Sprintf("[%s] %s", s.botName, msg)
	s.log.Info("Notification", "message", formatted)

	if s.webhookURL == "" {
		return
	}

	body, err := json.Marshal(s.formatPayload(formatted))
	if err != nil {
		s.log.Error("Marshal notification", "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	resp, err := httputil.Do(ctx, s.httpClient, s.retry, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
	if err != nil {
		s.log.Error("Failed to send notification after retries", "error", err)
		return
	}
	resp.Body.Close()
}

func (s *Sender) formatPayload(msg string) map[string]string {
	if strings.Contains(s.webhookURL, "discord") {
		return map[string]string{
			"content":  msg,
			"username": s.botName,
		}
	}
	return map[string]string{
		"text":     fmt.Sprintf("`%s`", msg),
		"username": s.botName,
	}
}

func (s *Sender) Enabled() bool {
	return s.webhookURL != ""
}
