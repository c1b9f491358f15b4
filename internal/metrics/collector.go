// Package metrics exports run progress as Prometheus metrics.
package metrics

import (
	"context"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/rendis/waypoint/internal/engine"
	"github.com/rendis/waypoint/pkg/schema"
)

// Namespace prefixes every metric name.
const Namespace = "waypoint"

// Collector is a RunObserver that records run, step, attempt, rule and tool
// counters. Attempts and backoff are counted from completed steps so retried
// attempts are not counted twice.
type Collector struct {
	engine.NopObserver

	stepsTotal           *prometheus.CounterVec
	stepDuration         *prometheus.HistogramVec
	attemptsTotal        *prometheus.CounterVec
	backoffMsTotal       *prometheus.CounterVec
	ruleEvaluationsTotal *prometheus.CounterVec
	toolCallsTotal       *prometheus.CounterVec
	runsTotal            *prometheus.CounterVec
	runsActive           prometheus.Gauge
}

// NewCollector registers the waypoint metrics on reg. A nil reg uses the
// default registerer.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Collector{
		stepsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "steps_total",
				Help:      "Total number of executed agent steps",
			},
			[]string{"agent", "status"},
		),
		stepDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Name:      "step_duration_seconds",
				Help:      "Agent step duration in seconds, retries and tools included",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"agent"},
		),
		attemptsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "attempts_total",
				Help:      "Total number of agent call attempts",
			},
			[]string{"agent", "status", "class"},
		),
		backoffMsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "backoff_ms_total",
				Help:      "Total backoff in milliseconds scheduled between attempts",
			},
			[]string{"agent"},
		),
		ruleEvaluationsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "rule_evaluations_total",
				Help:      "Total number of transition rule evaluations",
			},
			[]string{"rule", "result"},
		),
		toolCallsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "tool_calls_total",
				Help:      "Total number of tool directives handled",
			},
			[]string{"tool", "ok"},
		),
		runsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "runs_total",
				Help:      "Total number of finished runs",
			},
			[]string{"status", "halt_reason"},
		),
		runsActive: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Name:      "runs_active",
				Help:      "Number of runs in progress",
			},
		),
	}
}

func (c *Collector) RunStarted(_ context.Context, _ *schema.RunResult) {
	c.runsActive.Inc()
}

func (c *Collector) ToolCalled(_ context.Context, _ string, _ int, _ string, res schema.ToolCallResult) {
	ok := strconv.FormatBool(res.OK)
	if res.Skipped {
		ok = "skipped"
	}
	c.toolCallsTotal.WithLabelValues(res.ToolName, ok).Inc()
}

func (c *Collector) RuleEvaluated(_ context.Context, _ string, _ int, eval schema.RuleEvaluation) {
	c.ruleEvaluationsTotal.WithLabelValues(eval.RuleID, strconv.FormatBool(eval.Result)).Inc()
}

func (c *Collector) StepCompleted(_ context.Context, _ string, step *schema.TraceStep) {
	c.stepsTotal.WithLabelValues(step.AgentID, string(step.Status)).Inc()
	c.stepDuration.WithLabelValues(step.AgentID).Observe(float64(step.DurationMs) / 1000)

	var backoff int64
	for _, a := range step.Attempts {
		c.attemptsTotal.WithLabelValues(step.AgentID, string(a.Status), a.ErrorClass).Inc()
		backoff += a.BackoffMs
	}
	if backoff > 0 {
		c.backoffMsTotal.WithLabelValues(step.AgentID).Add(float64(backoff))
	}
}

func (c *Collector) RunFinished(_ context.Context, run *schema.RunResult) {
	c.runsActive.Dec()
	c.runsTotal.WithLabelValues(string(run.Status), string(run.HaltReason)).Inc()
}
