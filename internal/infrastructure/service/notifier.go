// Package service holds adapters that connect application ports to the
// outside world.
package service

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/studyhub/league-core/internal/application/eventhandler"
	"github.com/studyhub/league-core/pkg/circuitbreaker"
	"github.com/studyhub/league-core/pkg/logger"
	"github.com/studyhub/league-core/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// LOG NOTIFIER
// ══════════════════════════════════════════════════════════════════════════════

// LogNotifier writes notices to the log. Used when no webhook is configured.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a LogNotifier.
func NewLogNotifier(log *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.OrDefault(log).With(logger.Component("notifier"))}
}

func (n *LogNotifier) NotifyRestriction(ctx context.Context, notice eventhandler.RestrictionNotice) error {
	n.logger.Info("restriction notice",
		logger.UserID(notice.UserID),
		"restriction_id", notice.RestrictionID,
		"reason", notice.Reason,
		"expires_at", notice.ExpiresAt,
	)
	return nil
}

func (n *LogNotifier) NotifyReward(ctx context.Context, notice eventhandler.RewardNotice) error {
	n.logger.Info("reward notice",
		logger.UserID(notice.UserID),
		logger.CompetitionID(notice.CompetitionID),
		"tier", notice.Tier,
		"points", notice.Points,
	)
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// WEBHOOK NOTIFIER
// ══════════════════════════════════════════════════════════════════════════════

// SignatureHeader carries the hex HMAC-SHA256 of the body when a secret is set.
const SignatureHeader = "X-League-Signature"

// WebhookConfig configures WebhookNotifier.
type WebhookConfig struct {
	URL            string
	Secret         string
	RequestTimeout time.Duration
}

// webhookMessage is the body POSTed to the webhook.
type webhookMessage struct {
	Type   string      `json:"type"`
	SentAt time.Time   `json:"sent_at"`
	Data   interface{} `json:"data"`
}

// WebhookNotifier POSTs notices to an HTTP endpoint. Transient failures are
// retried with backoff; repeated failures open the circuit so a dead
// endpoint does not stall the event bus workers.
type WebhookNotifier struct {
	config  WebhookConfig
	client  *http.Client
	breaker *circuitbreaker.CircuitBreaker
	retrier *retry.Retrier
	logger  *slog.Logger
}

// NewWebhookNotifier creates a WebhookNotifier.
func NewWebhookNotifier(config WebhookConfig, client *http.Client, log *slog.Logger) *WebhookNotifier {
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = 5 * time.Second
	}
	if client == nil {
		client = &http.Client{Timeout: config.RequestTimeout}
	}
	l := logger.OrDefault(log).With(logger.Component("webhook_notifier"))

	return &WebhookNotifier{
		config: config,
		client: client,
		breaker: circuitbreaker.WebhookBreaker(func(name string, from, to circuitbreaker.State) {
			l.Warn("circuit state changed", "breaker", name, "from", from.String(), "to", to.String())
		}),
		retrier: retry.Webhook(),
		logger:  l,
	}
}

func (n *WebhookNotifier) NotifyRestriction(ctx context.Context, notice eventhandler.RestrictionNotice) error {
	return n.deliver(ctx, "restriction_imposed", notice)
}

func (n *WebhookNotifier) NotifyReward(ctx context.Context, notice eventhandler.RewardNotice) error {
	return n.deliver(ctx, "reward_issued", notice)
}

func (n *WebhookNotifier) deliver(ctx context.Context, kind string, data interface{}) error {
	body, err := json.Marshal(webhookMessage{Type: kind, SentAt: time.Now().UTC(), Data: data})
	if err != nil {
		return fmt.Errorf("marshal %s notice: %w", kind, err)
	}

	return n.breaker.Execute(ctx, func(ctx context.Context) error {
		return n.retrier.Do(ctx, func(ctx context.Context) error {
			return n.post(ctx, body)
		})
	})
}

func (n *WebhookNotifier) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.config.URL, bytes.NewReader(body))
	if err != nil {
		return retry.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if n.config.Secret != "" {
		req.Header.Set(SignatureHeader, Sign(n.config.Secret, body))
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return retry.Retryable(err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return retry.Retryable(fmt.Errorf("webhook returned %d", resp.StatusCode))
	default:
		return retry.Permanent(fmt.Errorf("webhook returned %d", resp.StatusCode))
	}
}

// Sign returns the hex HMAC-SHA256 of body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
