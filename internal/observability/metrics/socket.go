package metrics

import (
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

type messageKey struct {
	direction string
	kind      string
}

type histogram struct {
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

type collector struct {
	mu       sync.Mutex
	messages map[messageKey]uint64
	errors   map[string]uint64
	rounds   *histogram
}

var socketCollector = &collector{
	messages: make(map[messageKey]uint64),
	errors:   make(map[string]uint64),
	rounds:   newHistogram(),
}

// ObserveMessage records one socket message by direction ("inbound" or
// "outbound") and message kind.
func ObserveMessage(direction, kind string) {
	socketCollector.mu.Lock()
	defer socketCollector.mu.Unlock()
	socketCollector.messages[messageKey{direction: direction, kind: kind}]++
}

// ObserveError records a handler error by stage (protocol, agent, sequencer).
func ObserveError(stage string) {
	socketCollector.mu.Lock()
	defer socketCollector.mu.Unlock()
	socketCollector.errors[stage]++
}

// ObserveAgentRound records the latency of one agent round.
func ObserveAgentRound(duration time.Duration) {
	socketCollector.mu.Lock()
	defer socketCollector.mu.Unlock()
	socketCollector.rounds.observe(duration.Seconds())
}

func newHistogram() *histogram {
	buckets := []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60}
	return &histogram{
		buckets: buckets,
		counts:  make([]uint64, len(buckets)),
	}
}

func (h *histogram) observe(value float64) {
	h.count++
	h.sum += value
	for idx, bound := range h.buckets {
		if value <= bound {
			for i := idx; i < len(h.counts); i++ {
				h.counts[i]++
			}
			break
		}
	}
	// Values greater than the last bucket are accounted for in the +Inf bucket via h.count.
}

// Handler exposes the metrics in Prometheus text exposition format.
func Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		_, _ = fmt.Fprint(w, socketCollector.render())
	})
}

func (c *collector) render() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	type messageMetric struct {
		messageKey
		value uint64
	}
	type errorMetric struct {
		stage string
		value uint64
	}

	msgs := make([]messageMetric, 0, len(c.messages))
	for key, value := range c.messages {
		msgs = append(msgs, messageMetric{messageKey: key, value: value})
	}
	errs := make([]errorMetric, 0, len(c.errors))
	for stage, value := range c.errors {
		errs = append(errs, errorMetric{stage: stage, value: value})
	}

	sort.Slice(msgs, func(i, j int) bool {
		if msgs[i].direction == msgs[j].direction {
			return msgs[i].kind < msgs[j].kind
		}
		return msgs[i].direction < msgs[j].direction
	})
	sort.Slice(errs, func(i, j int) bool {
		return errs[i].stage < errs[j].stage
	})

	var builder strings.Builder
	builder.Grow(1024)

	builder.WriteString("# HELP chainflow_socket_messages_total Total number of socket messages processed.\n")
	builder.WriteString("# TYPE chainflow_socket_messages_total counter\n")
	for _, metric := range msgs {
		builder.WriteString(fmt.Sprintf("chainflow_socket_messages_total{direction=\"%s\",type=\"%s\"} %d\n",
			escape(metric.direction), escape(metric.kind), metric.value))
	}

	builder.WriteString("# HELP chainflow_handler_errors_total Total number of handler errors by stage.\n")
	builder.WriteString("# TYPE chainflow_handler_errors_total counter\n")
	for _, metric := range errs {
		builder.WriteString(fmt.Sprintf("chainflow_handler_errors_total{stage=\"%s\"} %d\n",
			escape(metric.stage), metric.value))
	}

	builder.WriteString("# HELP chainflow_agent_round_duration_seconds Agent round duration in seconds.\n")
	builder.WriteString("# TYPE chainflow_agent_round_duration_seconds histogram\n")
	for idx, bound := range c.rounds.buckets {
		builder.WriteString(fmt.Sprintf("chainflow_agent_round_duration_seconds_bucket{le=\"%s\"} %d\n",
			formatFloat(bound), c.rounds.counts[idx]))
	}
	builder.WriteString(fmt.Sprintf("chainflow_agent_round_duration_seconds_bucket{le=\"+Inf\"} %d\n", c.rounds.count))
	builder.WriteString(fmt.Sprintf("chainflow_agent_round_duration_seconds_sum %s\n", formatFloat(c.rounds.sum)))
	builder.WriteString(fmt.Sprintf("chainflow_agent_round_duration_seconds_count %d\n", c.rounds.count))

	return builder.String()
}

func escape(value string) string {
	value = strings.ReplaceAll(value, "\\", "\\\\")
	value = strings.ReplaceAll(value, "\"", "\\\"")
	value = strings.ReplaceAll(value, "\n", "")
	return value
}

func formatFloat(value float64) string {
	return strconv.FormatFloat(value, 'f', -1, 64)
}
