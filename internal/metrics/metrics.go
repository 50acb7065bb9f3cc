// Package metrics exposes prometheus collectors fed by bot events.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ziadkadry99/chatpilot/internal/bot"
	"github.com/ziadkadry99/chatpilot/internal/llm"
)

const namespace = "chatpilot"

// Collector records bot events into prometheus metrics. It owns its
// registry so tests and multiple instances do not collide.
type Collector struct {
	registry *prometheus.Registry

	events      *prometheus.CounterVec
	replies     *prometheus.CounterVec
	toolCalls   *prometheus.CounterVec
	escalations *prometheus.CounterVec
	sendErrors  prometheus.Counter
	rounds      prometheus.Histogram
	tokens      *prometheus.CounterVec
	cost        *prometheus.CounterVec
}

// New creates a Collector with Go runtime and process collectors registered.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Total number of engine decisions by kind.",
		}, []string{"kind"}),
		replies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "replies_total",
			Help:      "Total number of replies sent by kind.",
		}, []string{"kind"}),
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Total number of tool invocations by tool and result.",
		}, []string{"tool", "result"}),
		escalations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "escalations_total",
			Help:      "Total number of assignment attempts by result.",
		}, []string{"result"}),
		sendErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "send_failures_total",
			Help:      "Total number of replies that could not be delivered.",
		}),
		rounds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "llm_tool_rounds",
			Help:      "Tool rounds used per generated reply.",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 10},
		}),
		tokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_tokens_total",
			Help:      "Total number of model tokens by direction.",
		}, []string{"direction"}),
		cost: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_cost_usd_total",
			Help:      "Estimated model spend in USD. Models without known pricing count as zero.",
		}, []string{"model"}),
	}
	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.events, c.replies, c.toolCalls, c.escalations, c.sendErrors, c.rounds, c.tokens, c.cost,
	)
	return c
}

// Observe implements bot.Observer.
func (c *Collector) Observe(_ context.Context, e bot.Event) {
	c.events.WithLabelValues(string(e.Kind)).Inc()

	switch e.Kind {
	case bot.EventWelcomeSent, bot.EventReplySent, bot.EventVoiceSent, bot.EventUnsupportedMedia:
		c.replies.WithLabelValues(string(e.Kind)).Inc()
		if rounds, ok := number(e.Detail["rounds"]); ok {
			c.rounds.Observe(rounds)
		}
		in, hasIn := number(e.Detail["input_tokens"])
		out, hasOut := number(e.Detail["output_tokens"])
		if hasIn {
			c.tokens.WithLabelValues("input").Add(in)
		}
		if hasOut {
			c.tokens.WithLabelValues("output").Add(out)
		}
		if model, _ := e.Detail["model"].(string); model != "" && (hasIn || hasOut) {
			c.cost.WithLabelValues(model).Add(llm.EstimateCost(model, int(in), int(out)))
		}
	case bot.EventToolCalled:
		result := "ok"
		if ok, _ := e.Detail["ok"].(bool); !ok {
			result = "error"
		}
		c.toolCalls.WithLabelValues(e.Summary, result).Inc()
	case bot.EventEscalated:
		c.escalations.WithLabelValues("assigned").Inc()
	case bot.EventEscalationFailed:
		c.escalations.WithLabelValues("failed").Inc()
	case bot.EventSendFailed:
		c.sendErrors.Inc()
	}
}

// Handler serves the registry in the prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
