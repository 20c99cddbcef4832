package alerting

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hotpath-io/hotpath/pkg/metrics"
)

// EngineConfig holds configuration for the rules engine.
type EngineConfig struct {
	// Interval is the evaluation cadence. Defaults to one minute.
	Interval time.Duration

	// Logger receives engine events. Defaults to a no-op logger.
	Logger *zap.Logger
}

// EngineOption is a functional option for engine configuration.
type EngineOption func(*EngineConfig)

// WithInterval sets the evaluation cadence.
func WithInterval(d time.Duration) EngineOption {
	return func(c *EngineConfig) {
		c.Interval = d
	}
}

// WithLogger sets the engine logger.
func WithLogger(log *zap.Logger) EngineOption {
	return func(c *EngineConfig) {
		c.Logger = log
	}
}

// ruleState tracks breach progress between evaluations.
type ruleState struct {
	// breachedSince is when the current uninterrupted breach began;
	// zero while the condition holds.
	breachedSince time.Time
	triggered     bool
	lastEvaluated time.Time
	lastValue     float64
}

// Engine samples a Collector on a fixed cadence and raises an alert
// when a rule's condition stays breached for its hold duration. Alerts
// resolve on the first recovered evaluation. Triggers and recoveries
// fan out to the registered channels.
type Engine struct {
	collector *metrics.Collector
	log       *zap.Logger
	interval  time.Duration

	mu         sync.Mutex
	rules      map[string]Rule
	states     map[string]*ruleState
	alerts     map[string]*Alert
	channels   map[string]*Channel
	suppressed map[string]time.Time

	now func() time.Time

	started  atomic.Bool
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewEngine returns an engine over collector. The engine does not
// evaluate until Start is called; Evaluate runs a single pass by hand.
func NewEngine(collector *metrics.Collector, opts ...EngineOption) *Engine {
	cfg := &EngineConfig{
		Interval: time.Minute,
		Logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Engine{
		collector:  collector,
		log:        cfg.Logger,
		interval:   cfg.Interval,
		rules:      make(map[string]Rule),
		states:     make(map[string]*ruleState),
		alerts:     make(map[string]*Alert),
		channels:   make(map[string]*Channel),
		suppressed: make(map[string]time.Time),
		now:        time.Now,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Start launches the evaluation loop. Calling it again is a no-op.
func (e *Engine) Start() {
	if !e.started.CompareAndSwap(false, true) {
		return
	}
	go e.loop()
}

// Stop halts the evaluation loop and waits for it to exit. Safe to call
// multiple times and without a prior Start.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		close(e.stop)
	})
	if e.started.Load() {
		<-e.done
	}
}

func (e *Engine) loop() {
	defer close(e.done)
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()
	for {
		select {
		case <-e.stop:
			return
		case <-ticker.C:
			e.Evaluate()
		}
	}
}

// AddRule registers a rule and returns its ID, assigning one when the
// rule carries none.
func (e *Engine) AddRule(rule Rule) (string, error) {
	if err := rule.validate(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidRule, err)
	}
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	if rule.Source == "" {
		rule.Source = SourceGauge
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules[rule.ID] = rule
	if _, ok := e.states[rule.ID]; !ok {
		e.states[rule.ID] = &ruleState{}
	}
	e.log.Info("alert rule added",
		zap.String("rule_id", rule.ID),
		zap.String("rule", rule.Name),
		zap.String("metric", rule.Metric))
	return rule.ID, nil
}

// UpdateRule replaces a registered rule, keeping its breach state. It
// reports whether the rule existed.
func (e *Engine) UpdateRule(rule Rule) (bool, error) {
	if err := rule.validate(); err != nil {
		return false, fmt.Errorf("%w: %v", ErrInvalidRule, err)
	}
	if rule.Source == "" {
		rule.Source = SourceGauge
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.rules[rule.ID]; !ok {
		return false, nil
	}
	e.rules[rule.ID] = rule
	e.log.Info("alert rule updated", zap.String("rule_id", rule.ID), zap.String("rule", rule.Name))
	return true, nil
}

// DeleteRule removes a rule, resolving any alert it has raised. It
// reports whether the rule existed.
func (e *Engine) DeleteRule(id string) bool {
	now := e.now()

	e.mu.Lock()
	if _, ok := e.rules[id]; !ok {
		e.mu.Unlock()
		return false
	}
	pending := e.resolveRuleLocked(id, now)
	delete(e.rules, id)
	delete(e.states, id)
	channels := e.channelsLocked()
	e.mu.Unlock()

	e.log.Info("alert rule deleted", zap.String("rule_id", id))
	e.send(channels, pending)
	return true
}

// Rules returns the registered rules sorted by ID.
func (e *Engine) Rules() []Rule {
	e.mu.Lock()
	defer e.mu.Unlock()
	rules := make([]Rule, 0, len(e.rules))
	for _, rule := range e.rules {
		rules = append(rules, rule)
	}
	sort.Slice(rules, func(i, j int) bool { return rules[i].ID < rules[j].ID })
	return rules
}

// AddChannel registers a notification channel and returns its ID.
func (e *Engine) AddChannel(ch *Channel) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	ch.id = uuid.NewString()
	e.channels[ch.id] = ch
	e.log.Info("notification channel added", zap.String("channel_id", ch.id), zap.String("channel", ch.name))
	return ch.id
}

// RemoveChannel unregisters a channel. It reports whether the channel
// existed.
func (e *Engine) RemoveChannel(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.channels[id]; !ok {
		return false
	}
	delete(e.channels, id)
	return true
}

// Evaluate runs one evaluation pass over every enabled rule. The loop
// calls this on each tick; tests and callers may invoke it directly.
func (e *Engine) Evaluate() {
	now := e.now()
	var pending []Alert

	e.mu.Lock()
	e.unsuppressLocked(now)
	for id, rule := range e.rules {
		if rule.Disabled {
			continue
		}
		pending = append(pending, e.evaluateRuleLocked(rule, e.states[id], now)...)
	}
	channels := e.channelsLocked()
	e.mu.Unlock()

	e.send(channels, pending)
}

// evaluateRuleLocked advances one rule's breach state and returns any
// notifications it produced. Series with no data are skipped without
// touching breach state.
func (e *Engine) evaluateRuleLocked(rule Rule, state *ruleState, now time.Time) []Alert {
	value, ok := e.sample(rule)
	if !ok {
		return nil
	}
	state.lastEvaluated = now
	state.lastValue = value

	if rule.Operator.Compare(value, rule.Threshold) {
		if state.breachedSince.IsZero() {
			state.breachedSince = now
		}
		if !state.triggered && now.Sub(state.breachedSince) >= rule.Hold {
			state.triggered = true
			return e.triggerLocked(rule, value, now)
		}
		return nil
	}

	state.breachedSince = time.Time{}
	if state.triggered {
		state.triggered = false
		return e.resolveRuleLocked(rule.ID, now)
	}
	return nil
}

// sample reads the rule's series from the collector. Collector errors
// and absent series both count as no data.
func (e *Engine) sample(rule Rule) (float64, bool) {
	switch rule.Source {
	case SourceCounter:
		value, ok, err := e.collector.GetCounter(rule.Metric)
		if err != nil || !ok {
			return 0, false
		}
		return float64(value), true
	case SourceHistogramMean:
		snap, ok, err := e.collector.Histogram(rule.Metric)
		if err != nil || !ok {
			return 0, false
		}
		return snap.Mean, true
	case SourceHistogramP95:
		snap, ok, err := e.collector.Histogram(rule.Metric)
		if err != nil || !ok {
			return 0, false
		}
		return float64(snap.P95), true
	default:
		value, ok, err := e.collector.GetGauge(rule.Metric)
		if err != nil || !ok {
			return 0, false
		}
		return float64(value), true
	}
}

func (e *Engine) triggerLocked(rule Rule, value float64, now time.Time) []Alert {
	// One active alert per rule at a time.
	for _, alert := range e.alerts {
		if alert.RuleID == rule.ID && alert.Status == StatusActive {
			return nil
		}
	}

	alert := &Alert{
		ID:       uuid.NewString(),
		RuleID:   rule.ID,
		Status:   StatusActive,
		Severity: rule.Severity,
		Message:  fmt.Sprintf("%s: current value %g %s %g", rule.Name, value, rule.Operator, rule.Threshold),
		Details: map[string]interface{}{
			"rule_name":     rule.Name,
			"metric_name":   rule.Metric,
			"current_value": value,
			"threshold":     rule.Threshold,
			"operator":      string(rule.Operator),
		},
		TriggeredAt: now,
		Tags:        copyTags(rule.Tags),
	}
	e.alerts[alert.ID] = alert

	e.log.Warn("alert triggered",
		zap.String("alert_id", alert.ID),
		zap.String("rule_id", rule.ID),
		zap.String("severity", string(rule.Severity)),
		zap.Float64("value", value))
	return []Alert{copyAlert(alert)}
}

// resolveRuleLocked resolves every active alert of a rule and returns
// the recovery notifications to deliver.
func (e *Engine) resolveRuleLocked(ruleID string, now time.Time) []Alert {
	var pending []Alert
	for _, alert := range e.alerts {
		if alert.RuleID != ruleID || alert.Status != StatusActive {
			continue
		}
		resolvedAt := now
		alert.Status = StatusResolved
		alert.ResolvedAt = &resolvedAt

		recovery := copyAlert(alert)
		recovery.ID = alert.ID + "_recovery"
		recovery.Severity = SeverityInfo
		recovery.Message = "recovered: " + alert.Message
		pending = append(pending, recovery)

		e.log.Info("alert resolved", zap.String("alert_id", alert.ID), zap.String("rule_id", ruleID))
	}
	return pending
}

// Acknowledge marks an active alert as acknowledged by user. It reports
// whether the alert existed and was active.
func (e *Engine) Acknowledge(alertID, user string) bool {
	now := e.now()

	e.mu.Lock()
	defer e.mu.Unlock()
	alert, ok := e.alerts[alertID]
	if !ok || alert.Status != StatusActive {
		return false
	}
	ackedAt := now
	alert.Status = StatusAcknowledged
	alert.AcknowledgedAt = &ackedAt
	alert.AcknowledgedBy = user

	e.log.Info("alert acknowledged", zap.String("alert_id", alertID), zap.String("user", user))
	return true
}

// Suppress silences an alert for d, after which it returns to active if
// nothing resolved it meanwhile. Zero or negative d suppresses for one
// hour. Resolved alerts cannot be suppressed.
func (e *Engine) Suppress(alertID string, d time.Duration) bool {
	if d <= 0 {
		d = time.Hour
	}
	now := e.now()

	e.mu.Lock()
	defer e.mu.Unlock()
	alert, ok := e.alerts[alertID]
	if !ok || (alert.Status != StatusActive && alert.Status != StatusAcknowledged) {
		return false
	}
	alert.Status = StatusSuppressed
	e.suppressed[alertID] = now.Add(d)

	e.log.Info("alert suppressed", zap.String("alert_id", alertID), zap.Duration("for", d))
	return true
}

// unsuppressLocked reactivates suppressed alerts whose window elapsed.
func (e *Engine) unsuppressLocked(now time.Time) {
	for id, deadline := range e.suppressed {
		if now.Before(deadline) {
			continue
		}
		delete(e.suppressed, id)
		if alert, ok := e.alerts[id]; ok && alert.Status == StatusSuppressed {
			alert.Status = StatusActive
		}
	}
}

// ActiveAlerts returns alerts requiring attention, active and
// acknowledged, ordered by trigger time.
func (e *Engine) ActiveAlerts() []Alert {
	e.mu.Lock()
	defer e.mu.Unlock()
	var active []Alert
	for _, alert := range e.alerts {
		if alert.Status == StatusActive || alert.Status == StatusAcknowledged {
			active = append(active, copyAlert(alert))
		}
	}
	sort.Slice(active, func(i, j int) bool { return active[i].TriggeredAt.Before(active[j].TriggeredAt) })
	return active
}

// Statistics summarizes every alert raised so far.
func (e *Engine) Statistics() Statistics {
	e.mu.Lock()
	defer e.mu.Unlock()
	stats := Statistics{
		Total:      len(e.alerts),
		BySeverity: make(map[Severity]int),
		ByStatus:   make(map[Status]int),
	}
	for _, alert := range e.alerts {
		stats.BySeverity[alert.Severity]++
		stats.ByStatus[alert.Status]++
		switch alert.Status {
		case StatusActive, StatusAcknowledged:
			stats.Active++
		case StatusResolved:
			stats.Resolved++
		}
	}
	return stats
}

// channelsLocked snapshots the channel set for use outside the lock.
func (e *Engine) channelsLocked() []*Channel {
	channels := make([]*Channel, 0, len(e.channels))
	for _, ch := range e.channels {
		channels = append(channels, ch)
	}
	return channels
}

// send fans notifications out to every channel, respecting each
// channel's rate limit.
func (e *Engine) send(channels []*Channel, alerts []Alert) {
	if len(alerts) == 0 || len(channels) == 0 {
		return
	}
	ctx := context.Background()
	for _, alert := range alerts {
		for _, ch := range channels {
			sent, err := ch.deliver(ctx, alert)
			if err != nil {
				e.log.Error("notification delivery failed",
					zap.String("channel", ch.name),
					zap.String("alert_id", alert.ID),
					zap.Error(err))
				continue
			}
			if !sent {
				e.log.Debug("notification skipped",
					zap.String("channel", ch.name),
					zap.String("alert_id", alert.ID))
			}
		}
	}
}

func copyAlert(alert *Alert) Alert {
	out := *alert
	out.Details = copyDetails(alert.Details)
	out.Tags = copyTags(alert.Tags)
	return out
}

func copyDetails(details map[string]interface{}) map[string]interface{} {
	if details == nil {
		return nil
	}
	out := make(map[string]interface{}, len(details))
	for k, v := range details {
		out[k] = v
	}
	return out
}

func copyTags(tags map[string]string) map[string]string {
	if tags == nil {
		return nil
	}
	out := make(map[string]string, len(tags))
	for k, v := range tags {
		out[k] = v
	}
	return out
}
