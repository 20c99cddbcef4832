package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Notifier delivers one alert to a destination.
type Notifier interface {
	Notify(ctx context.Context, alert Alert) error
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(ctx context.Context, alert Alert) error

func (f NotifierFunc) Notify(ctx context.Context, alert Alert) error {
	return f(ctx, alert)
}

// LogNotifier writes alerts to a zap logger at a level matching the
// alert severity.
type LogNotifier struct {
	log *zap.Logger
}

// NewLogNotifier returns a notifier writing to log.
func NewLogNotifier(log *zap.Logger) *LogNotifier {
	if log == nil {
		log = zap.NewNop()
	}
	return &LogNotifier{log: log}
}

func (n *LogNotifier) Notify(_ context.Context, alert Alert) error {
	fields := []zap.Field{
		zap.String("alert_id", alert.ID),
		zap.String("rule_id", alert.RuleID),
		zap.String("status", string(alert.Status)),
		zap.String("severity", string(alert.Severity)),
		zap.Time("triggered_at", alert.TriggeredAt),
	}
	switch alert.Severity {
	case SeverityCritical, SeverityError:
		n.log.Error(alert.Message, fields...)
	case SeverityWarning:
		n.log.Warn(alert.Message, fields...)
	default:
		n.log.Info(alert.Message, fields...)
	}
	return nil
}

// WebhookNotifier posts alerts as JSON to an HTTP endpoint.
type WebhookNotifier struct {
	url    string
	client *http.Client
}

// NewWebhookNotifier returns a notifier posting to url. A zero timeout
// defaults to ten seconds.
func NewWebhookNotifier(url string, timeout time.Duration) *WebhookNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookNotifier{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

func (n *WebhookNotifier) Notify(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("encoding alert %s: %w", alert.ID, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("building webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("posting alert %s: %w", alert.ID, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook rejected alert %s: %s", alert.ID, resp.Status)
	}
	return nil
}

// Channel wraps a notifier with an identity, an enable switch and a
// delivery rate limit. Notifications arriving faster than the limit are
// dropped, not queued.
type Channel struct {
	id       string
	name     string
	notifier Notifier
	limiter  *rate.Limiter
	disabled atomic.Bool
}

// NewChannel wraps notifier. minInterval is the minimum spacing between
// deliveries; zero or negative disables rate limiting.
func NewChannel(name string, notifier Notifier, minInterval time.Duration) *Channel {
	limit := rate.Inf
	if minInterval > 0 {
		limit = rate.Every(minInterval)
	}
	return &Channel{
		name:     name,
		notifier: notifier,
		limiter:  rate.NewLimiter(limit, 1),
	}
}

// ID returns the identifier assigned when the channel was registered.
func (c *Channel) ID() string { return c.id }

// Name returns the channel name.
func (c *Channel) Name() string { return c.name }

// SetEnabled switches delivery on or off.
func (c *Channel) SetEnabled(enabled bool) { c.disabled.Store(!enabled) }

// Enabled reports whether the channel delivers notifications.
func (c *Channel) Enabled() bool { return !c.disabled.Load() }

// deliver runs the rate limit gate and hands the alert to the notifier.
func (c *Channel) deliver(ctx context.Context, alert Alert) (sent bool, err error) {
	if c.disabled.Load() {
		return false, nil
	}
	if !c.limiter.Allow() {
		return false, nil
	}
	return true, c.notifier.Notify(ctx, alert)
}
