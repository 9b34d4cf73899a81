package metrics

import (
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// rateLimitStats holds counters for rate limit drops (HTTP 429).
// Kept simple/thread-safe for use from middlewares and exposition.
type rateLimitStats struct {
	total    uint64
	mu       sync.Mutex
	byPrefix map[string]uint64
}

var rl rateLimitStats

// Collectors exposed on /metrics.
var (
	rateLimitDrops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kazi_rate_limit_drops_total",
			Help: "Requests rejected by the rate limiter.",
		},
		[]string{"prefix"},
	)

	triggerRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kazi_trigger_runs_total",
			Help: "Trigger executions by outcome.",
		},
		[]string{"outcome"}, // executed | skipped | not_found | inactive | error
	)

	triggerRunDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kazi_trigger_run_duration_seconds",
			Help:    "Wall time of one trigger execution, persistence included.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)

	actionResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kazi_trigger_actions_total",
			Help: "Dispatched actions by type and success.",
		},
		[]string{"action_type", "success"},
	)

	scheduleFires = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kazi_schedule_fires_total",
			Help: "Cron schedule firings by result.",
		},
		[]string{"result"}, // fired | out_of_window | error
	)
)

var registerOnce sync.Once

// Register adds the collectors to reg (prometheus.DefaultRegisterer when nil).
// Only the first call has an effect.
func Register(reg prometheus.Registerer) {
	registerOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		reg.MustRegister(rateLimitDrops, triggerRuns, triggerRunDuration, actionResults, scheduleFires)
	})
}

// IncRateLimitDrop increments drop counters for the given prefix.
// Use prefix "global" for global limiter rejections.
func IncRateLimitDrop(prefix string) {
	if prefix == "" {
		prefix = "global"
	}
	atomic.AddUint64(&rl.total, 1)
	rl.mu.Lock()
	if rl.byPrefix == nil {
		rl.byPrefix = make(map[string]uint64)
	}
	rl.byPrefix[prefix]++
	rl.mu.Unlock()
	rateLimitDrops.WithLabelValues(prefix).Inc()
}

// RateLimitSnapshot returns a copy of the current counters.
func RateLimitSnapshot() (total uint64, by map[string]uint64) {
	total = atomic.LoadUint64(&rl.total)
	rl.mu.Lock()
	defer rl.mu.Unlock()
	by = make(map[string]uint64, len(rl.byPrefix))
	for k, v := range rl.byPrefix {
		by[k] = v
	}
	return total, by
}

// ObserveTriggerRun records one Execute call.
func ObserveTriggerRun(outcome string, d time.Duration) {
	triggerRuns.WithLabelValues(outcome).Inc()
	triggerRunDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

// IncActionResult records one dispatched action.
func IncActionResult(actionType string, success bool) {
	actionResults.WithLabelValues(actionType, strconv.FormatBool(success)).Inc()
}

// IncScheduleFire records one cron firing.
func IncScheduleFire(result string) {
	scheduleFires.WithLabelValues(result).Inc()
}
