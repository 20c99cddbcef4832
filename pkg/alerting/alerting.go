// Package alerting evaluates threshold rules against a metrics
// Collector and drives alerts through an active/resolved lifecycle with
// rate-limited notification channels.
package alerting

import (
	"errors"
	"time"
)

// Severity orders alerts by operational urgency.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

func (s Severity) valid() bool {
	switch s {
	case SeverityInfo, SeverityWarning, SeverityError, SeverityCritical:
		return true
	}
	return false
}

// Status is the lifecycle state of an alert.
type Status string

const (
	StatusActive       Status = "active"
	StatusResolved     Status = "resolved"
	StatusSuppressed   Status = "suppressed"
	StatusAcknowledged Status = "acknowledged"
)

// Operator compares a sampled value against a rule threshold.
type Operator string

const (
	OpGreater      Operator = ">"
	OpGreaterEqual Operator = ">="
	OpLess         Operator = "<"
	OpLessEqual    Operator = "<="
	OpEqual        Operator = "=="
	OpNotEqual     Operator = "!="
)

// Compare reports whether value satisfies the operator against threshold.
func (o Operator) Compare(value, threshold float64) bool {
	switch o {
	case OpGreater:
		return value > threshold
	case OpGreaterEqual:
		return value >= threshold
	case OpLess:
		return value < threshold
	case OpLessEqual:
		return value <= threshold
	case OpEqual:
		return value == threshold
	case OpNotEqual:
		return value != threshold
	}
	return false
}

func (o Operator) valid() bool {
	switch o {
	case OpGreater, OpGreaterEqual, OpLess, OpLessEqual, OpEqual, OpNotEqual:
		return true
	}
	return false
}

// Source selects which collector series a rule samples.
type Source string

const (
	// SourceGauge samples the current gauge value. This is the default.
	SourceGauge Source = "gauge"

	// SourceCounter samples the accumulated counter value.
	SourceCounter Source = "counter"

	// SourceHistogramMean samples the mean of a histogram. Histogram
	// sources only produce data while the collector runs on the
	// in-process store; while an accelerated backend is bound they
	// evaluate as missing.
	SourceHistogramMean Source = "histogram_mean"

	// SourceHistogramP95 samples the 95th percentile of a histogram.
	SourceHistogramP95 Source = "histogram_p95"
)

func (s Source) valid() bool {
	switch s {
	case SourceGauge, SourceCounter, SourceHistogramMean, SourceHistogramP95:
		return true
	}
	return false
}

// ErrInvalidRule reports a rule that cannot be evaluated.
var ErrInvalidRule = errors.New("alerting: invalid rule")

// Rule is a threshold condition over one collector series. A breach must
// hold continuously for Hold before an alert fires; zero fires on the
// first breached evaluation.
type Rule struct {
	// ID identifies the rule. Assigned when empty.
	ID string

	Name        string
	Description string

	// Metric names the collector series to sample.
	Metric string

	// Source selects the series kind. Defaults to SourceGauge.
	Source Source

	Operator  Operator
	Threshold float64
	Severity  Severity

	// Hold is how long a breach must persist before triggering.
	Hold time.Duration

	// Tags are copied onto alerts raised by this rule.
	Tags map[string]string

	// Disabled rules are skipped by evaluation.
	Disabled bool
}

func (r *Rule) validate() error {
	if r.Metric == "" {
		return errors.New("alerting: rule metric must not be empty")
	}
	if r.Name == "" {
		return errors.New("alerting: rule name must not be empty")
	}
	if !r.Operator.valid() {
		return errors.New("alerting: unknown operator " + string(r.Operator))
	}
	if !r.Severity.valid() {
		return errors.New("alerting: unknown severity " + string(r.Severity))
	}
	if r.Source != "" && !r.Source.valid() {
		return errors.New("alerting: unknown source " + string(r.Source))
	}
	if r.Hold < 0 {
		return errors.New("alerting: hold must not be negative")
	}
	return nil
}

// Alert is one firing of a rule.
type Alert struct {
	ID       string   `json:"id"`
	RuleID   string   `json:"rule_id"`
	Status   Status   `json:"status"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`

	// Details carries the evaluation context at trigger time: rule name,
	// metric name, sampled value, threshold and operator.
	Details map[string]interface{} `json:"details,omitempty"`

	TriggeredAt    time.Time  `json:"triggered_at"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty"`
	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty"`
	AcknowledgedBy string     `json:"acknowledged_by,omitempty"`

	Tags map[string]string `json:"tags,omitempty"`
}

// Statistics summarizes every alert the engine has raised.
type Statistics struct {
	Total      int              `json:"total_alerts"`
	Active     int              `json:"active_alerts"`
	Resolved   int              `json:"resolved_alerts"`
	BySeverity map[Severity]int `json:"by_severity"`
	ByStatus   map[Status]int   `json:"by_status"`
}
